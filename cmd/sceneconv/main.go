// sceneconv converts legacy CSV exports (WKT geometry columns) to the
// noisemap scene YAML format.
//
// Usage:
//
//	go run ./cmd/sceneconv <command> [-srcdir path] [-out path] [-encoding name] [-sep ;]
//
// Commands: scene, stats
package main

import (
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// YAML output structs
// ---------------------------------------------------------------------------

type sceneYAML struct {
	Bands     []float64      `yaml:"bands,flow"`
	Obstacles []obstacleYAML `yaml:"obstacles,omitempty"`
	Sources   []sourceYAML   `yaml:"sources,omitempty"`
	Receivers []receiverYAML `yaml:"receivers,omitempty"`
}

type obstacleYAML struct {
	ID     int           `yaml:"id"`
	Name   string        `yaml:"name,omitempty"`
	Weight float64       `yaml:"weight,omitempty"`
	Ring   [][]float64   `yaml:"ring,flow"`
	Holes  [][][]float64 `yaml:"holes,omitempty,flow"`
}

type emissionYAML struct {
	Script string             `yaml:"script"`
	Params map[string]float64 `yaml:"params,flow"`
}

type sourceYAML struct {
	ID       int           `yaml:"id"`
	Name     string        `yaml:"name,omitempty"`
	Point    []float64     `yaml:"point,omitempty,flow"`
	Line     [][]float64   `yaml:"line,omitempty,flow"`
	PowerDB  []float64     `yaml:"power_db,omitempty,flow"`
	Emission *emissionYAML `yaml:"emission,omitempty"`
}

type receiverYAML struct {
	ID int     `yaml:"id"`
	X  float64 `yaml:"x"`
	Y  float64 `yaml:"y"`
}

// ---------------------------------------------------------------------------
// CSV reading
// ---------------------------------------------------------------------------

var encodings = map[string]encoding.Encoding{
	"utf-8":        encoding.Nop,
	"windows-1252": charmap.Windows1252,
	"iso-8859-1":   charmap.ISO8859_1,
	"iso-8859-15":  charmap.ISO8859_15,
	"big5":         traditionalchinese.Big5,
}

// table is a decoded CSV file: lower-cased header names and rows.
type table struct {
	header map[string]int
	rows   [][]string
}

func (t *table) get(row []string, col string) string {
	i, ok := t.header[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func readTable(r io.Reader, enc encoding.Encoding, sep rune) (*table, error) {
	cr := csv.NewReader(transform.NewReader(r, enc.NewDecoder()))
	cr.Comma = sep
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.New("empty file")
	}
	t := &table{header: make(map[string]int, len(records[0]))}
	for i, h := range records[0] {
		t.header[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	t.rows = records[1:]
	return t, nil
}

func readTableFile(path string, enc encoding.Encoding, sep rune) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := readTable(f, enc, sep)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

func parseInt(s string) int {
	if s == "" {
		return 0
	}
	v, _ := strconv.Atoi(s)
	return v
}

func parseFloat64(s string) float64 {
	if s == "" {
		return 0
	}
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// ---------------------------------------------------------------------------
// Converters
// ---------------------------------------------------------------------------

// convertBuildings reads id, name, height and a POLYGON column.
func convertBuildings(t *table, geomCol string) ([]obstacleYAML, error) {
	var out []obstacleYAML
	for i, row := range t.rows {
		g, err := parseWKT(t.get(row, geomCol))
		if err != nil {
			return nil, fmt.Errorf("building row %d: %w", i+2, err)
		}
		if g.Kind != "POLYGON" {
			return nil, fmt.Errorf("building row %d: %s, want POLYGON", i+2, g.Kind)
		}
		o := obstacleYAML{
			ID:     parseInt(t.get(row, "id")),
			Name:   t.get(row, "name"),
			Weight: parseFloat64(t.get(row, "height")),
			Ring:   g.Rings[0],
		}
		if len(g.Rings) > 1 {
			o.Holes = g.Rings[1:]
		}
		out = append(out, o)
	}
	return out, nil
}

// bandColumns returns the lw<freq> columns of t, sorted by frequency.
func bandColumns(t *table) ([]float64, []string) {
	var bands []float64
	for h := range t.header {
		if f, err := strconv.ParseFloat(strings.TrimPrefix(h, "lw"), 64); err == nil && strings.HasPrefix(h, "lw") {
			bands = append(bands, f)
		}
	}
	sort.Float64s(bands)
	cols := make([]string, len(bands))
	for i, b := range bands {
		cols[i] = "lw" + strconv.FormatFloat(b, 'f', -1, 64)
	}
	return bands, cols
}

// convertSources reads id, name, a POINT or LINESTRING column and either
// lw<freq> power columns or the road traffic columns flow, speed, heavy.
func convertSources(t *table, geomCol string) ([]sourceYAML, []float64, error) {
	bands, cols := bandColumns(t)
	var out []sourceYAML
	for i, row := range t.rows {
		g, err := parseWKT(t.get(row, geomCol))
		if err != nil {
			return nil, nil, fmt.Errorf("source row %d: %w", i+2, err)
		}
		s := sourceYAML{ID: parseInt(t.get(row, "id")), Name: t.get(row, "name")}
		switch g.Kind {
		case "POINT":
			s.Point = g.Coords[0]
		case "LINESTRING":
			s.Line = g.Coords
		default:
			return nil, nil, fmt.Errorf("source row %d: %s, want POINT or LINESTRING", i+2, g.Kind)
		}
		if len(cols) > 0 {
			for _, c := range cols {
				s.PowerDB = append(s.PowerDB, parseFloat64(t.get(row, c)))
			}
		} else {
			s.Emission = &emissionYAML{
				Script: "road_emission",
				Params: map[string]float64{
					"flow":  parseFloat64(t.get(row, "flow")),
					"speed": parseFloat64(t.get(row, "speed")),
					"heavy": parseFloat64(t.get(row, "heavy")),
				},
			}
		}
		out = append(out, s)
	}
	return out, bands, nil
}

func convertReceivers(t *table, geomCol string) ([]receiverYAML, error) {
	var out []receiverYAML
	for i, row := range t.rows {
		g, err := parseWKT(t.get(row, geomCol))
		if err != nil {
			return nil, fmt.Errorf("receiver row %d: %w", i+2, err)
		}
		if g.Kind != "POINT" {
			return nil, fmt.Errorf("receiver row %d: %s, want POINT", i+2, g.Kind)
		}
		out = append(out, receiverYAML{ID: parseInt(t.get(row, "id")), X: g.Coords[0][0], Y: g.Coords[0][1]})
	}
	return out, nil
}

type options struct {
	srcDir  string
	geomCol string
	enc     encoding.Encoding
	sep     rune
	bands   []float64
}

// buildScene converts buildings.csv, sources.csv and receivers.csv of
// srcDir. Missing files are skipped.
func buildScene(o options) (*sceneYAML, error) {
	scene := &sceneYAML{Bands: o.bands}
	load := func(name string) (*table, error) {
		t, err := readTableFile(filepath.Join(o.srcDir, name), o.enc, o.sep)
		if errors.Is(err, os.ErrNotExist) {
			fmt.Printf("  %s not found, skipped\n", name)
			return nil, nil
		}
		return t, err
	}

	if t, err := load("buildings.csv"); err != nil {
		return nil, err
	} else if t != nil {
		if scene.Obstacles, err = convertBuildings(t, o.geomCol); err != nil {
			return nil, err
		}
	}
	if t, err := load("sources.csv"); err != nil {
		return nil, err
	} else if t != nil {
		sources, bands, err := convertSources(t, o.geomCol)
		if err != nil {
			return nil, err
		}
		scene.Sources = sources
		if len(bands) > 0 {
			scene.Bands = bands
		}
	}
	if t, err := load("receivers.csv"); err != nil {
		return nil, err
	} else if t != nil {
		if scene.Receivers, err = convertReceivers(t, o.geomCol); err != nil {
			return nil, err
		}
	}
	return scene, nil
}

// ---------------------------------------------------------------------------
// YAML writer
// ---------------------------------------------------------------------------

func writeYAML(path string, data interface{}, comment string) error {
	out, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if comment != "" {
		fmt.Fprintln(f, comment)
		fmt.Fprintln(f)
	}
	_, err = f.Write(out)
	return err
}

// ---------------------------------------------------------------------------
// main
// ---------------------------------------------------------------------------

func printUsage() {
	fmt.Println("Usage: sceneconv <command> [-srcdir path] [-out path] [-encoding name] [-sep ;]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  scene     Convert buildings.csv + sources.csv + receivers.csv -> scene.yaml")
	fmt.Println("  stats     Parse the CSV files and print what would be converted")
	fmt.Println()
	fmt.Println("Encodings: utf-8, windows-1252, iso-8859-1, iso-8859-15, big5")
}

func parseBands(s string) ([]float64, error) {
	var out []float64
	for _, f := range strings.Split(s, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("band %q: %w", f, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		printUsage()
		return
	}

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	srcDir := fs.String("srcdir", filepath.Join("data", "legacy"), "CSV source directory")
	out := fs.String("out", filepath.Join("data", "scene.yaml"), "scene YAML output")
	encName := fs.String("encoding", "windows-1252", "text encoding of the CSV files")
	sep := fs.String("sep", ";", "field separator")
	geomCol := fs.String("geom", "the_geom", "WKT geometry column")
	bandList := fs.String("bands", "63,125,250,500,1000,2000,4000,8000", "bands used when sources carry no lw<freq> columns")
	_ = fs.Parse(os.Args[2:])

	enc, ok := encodings[strings.ToLower(*encName)]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown encoding: %s\n\n", *encName)
		printUsage()
		os.Exit(1)
	}
	bands, err := parseBands(*bandList)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
	sepRune := []rune(*sep)
	if len(sepRune) != 1 {
		fmt.Fprintf(os.Stderr, "separator must be a single character\n")
		os.Exit(1)
	}

	o := options{srcDir: *srcDir, geomCol: strings.ToLower(*geomCol), enc: enc, sep: sepRune[0], bands: bands}
	switch cmd {
	case "scene", "stats":
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	scene, err := buildScene(o)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("  %d obstacles, %d sources, %d receivers, %d bands\n",
		len(scene.Obstacles), len(scene.Sources), len(scene.Receivers), len(scene.Bands))
	if cmd == "stats" {
		return
	}
	if err := writeYAML(*out, scene, "# converted by sceneconv from "+*srcDir); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Done!")
}
