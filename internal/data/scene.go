package data

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/noisemap/noisemap/internal/geo"
	"github.com/noisemap/noisemap/internal/grid"
	"github.com/noisemap/noisemap/internal/mesh"
	"github.com/noisemap/noisemap/internal/propagation"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownBand = errors.New("unknown frequency band")
	ErrPowerLength = errors.New("power vector does not match the bands")
)

// nominalBands are the third-octave centre frequencies a scene may use.
var nominalBands = []float64{
	50, 63, 80, 100, 125, 160, 200, 250, 315, 400, 500, 630, 800,
	1000, 1250, 1600, 2000, 2500, 3150, 4000, 5000, 6300, 8000, 10000,
}

// Emitter evaluates a named emission formula into one dB value per band.
type Emitter interface {
	Emission(name string, params map[string]float64, bands []float64) ([]float64, error)
}

type envelopeEntry struct {
	MinX float64 `yaml:"min_x"`
	MinY float64 `yaml:"min_y"`
	MaxX float64 `yaml:"max_x"`
	MaxY float64 `yaml:"max_y"`
}

type obstacleEntry struct {
	ID     int           `yaml:"id"`
	Name   string        `yaml:"name"`
	Weight float64       `yaml:"weight"` // height, 0 = untagged
	Ring   [][]float64   `yaml:"ring"`
	Holes  [][][]float64 `yaml:"holes"`
}

type emissionEntry struct {
	Script string             `yaml:"script"`
	Params map[string]float64 `yaml:"params"`
}

type sourceEntry struct {
	ID       int            `yaml:"id"`
	Name     string         `yaml:"name"`
	Point    []float64      `yaml:"point"`
	Line     [][]float64    `yaml:"line"`
	PowerDB  []float64      `yaml:"power_db"` // per band; per metre for lines
	Emission *emissionEntry `yaml:"emission"`
}

type receiverEntry struct {
	ID int     `yaml:"id"`
	X  float64 `yaml:"x"`
	Y  float64 `yaml:"y"`
}

type sceneFile struct {
	Envelope   *envelopeEntry  `yaml:"envelope"`
	Bands      []float64       `yaml:"bands"`
	Obstacles  []obstacleEntry `yaml:"obstacles"`
	Sources    []sourceEntry   `yaml:"sources"`
	Receivers  []receiverEntry `yaml:"receivers"`
	Topography [][]float64     `yaml:"topography"`
}

// Scene is a loaded study area. Source powers are linear watts.
type Scene struct {
	Envelope   geo.Envelope
	Bands      []float64
	Obstacles  []mesh.Obstacle
	Sources    []propagation.Source
	Receivers  []propagation.Receiver
	Topography []geo.Coord
	// Digest is the BLAKE2b-256 of the scene file, used to tag runs.
	Digest [blake2b.Size256]byte
}

// LoadScene loads a scene YAML file. em evaluates emission formulas and
// may be nil when no source uses one.
func LoadScene(path string, em Emitter, log *zap.Logger) (*Scene, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scene: %w", err)
	}
	s, err := ParseScene(raw, em, log)
	if err != nil {
		return nil, fmt.Errorf("scene %s: %w", path, err)
	}
	return s, nil
}

// ParseScene decodes a scene document.
func ParseScene(raw []byte, em Emitter, log *zap.Logger) (*Scene, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var f sceneFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse scene: %w", err)
	}
	s := &Scene{Digest: blake2b.Sum256(raw)}

	if len(f.Bands) == 0 {
		return nil, errors.New("scene has no bands")
	}
	for i, b := range f.Bands {
		if !slices.Contains(nominalBands, b) {
			return nil, fmt.Errorf("%w: %g Hz", ErrUnknownBand, b)
		}
		if i > 0 && b <= f.Bands[i-1] {
			return nil, fmt.Errorf("bands not strictly increasing at %g Hz", b)
		}
	}
	s.Bands = f.Bands

	for _, o := range f.Obstacles {
		ring, err := coords(o.Ring)
		if err != nil {
			return nil, fmt.Errorf("obstacle %d: %w", o.ID, err)
		}
		if len(ring) < 3 {
			log.Warn("degenerate obstacle dropped", zap.Int("id", o.ID), zap.String("name", o.Name), zap.Int("points", len(ring)))
			continue
		}
		ob := mesh.Obstacle{ID: o.ID, Weight: o.Weight, Rings: [][]geo.Coord{ring}}
		for _, h := range o.Holes {
			hole, err := coords(h)
			if err != nil {
				return nil, fmt.Errorf("obstacle %d hole: %w", o.ID, err)
			}
			if len(hole) < 3 {
				log.Warn("degenerate hole dropped", zap.Int("id", o.ID))
				continue
			}
			ob.Rings = append(ob.Rings, hole)
		}
		s.Obstacles = append(s.Obstacles, ob)
	}

	for _, src := range f.Sources {
		ps, err := s.source(src, em)
		if err != nil {
			return nil, fmt.Errorf("source %d: %w", src.ID, err)
		}
		s.Sources = append(s.Sources, ps)
	}

	seen := make(map[int]bool, len(f.Receivers))
	for _, r := range f.Receivers {
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate receiver id %d", r.ID)
		}
		seen[r.ID] = true
		s.Receivers = append(s.Receivers, propagation.Receiver{ID: r.ID, Position: geo.C(r.X, r.Y)})
	}

	for i, p := range f.Topography {
		if len(p) != 3 {
			return nil, fmt.Errorf("topography point %d: want [x, y, z], got %d values", i, len(p))
		}
		s.Topography = append(s.Topography, geo.Coord{X: p[0], Y: p[1], Z: p[2]})
	}

	if f.Envelope != nil {
		s.Envelope = geo.NewEnvelope(geo.C(f.Envelope.MinX, f.Envelope.MinY), geo.C(f.Envelope.MaxX, f.Envelope.MaxY))
	} else {
		s.Envelope = s.extent()
	}
	if s.Envelope.IsEmpty() || s.Envelope.Width() <= 0 || s.Envelope.Height() <= 0 {
		return nil, errors.New("scene envelope has no area")
	}
	return s, nil
}

func (s *Scene) source(src sourceEntry, em Emitter) (propagation.Source, error) {
	ps := propagation.Source{ID: src.ID}
	switch {
	case src.Point != nil && src.Line != nil:
		return ps, errors.New("both point and line given")
	case src.Point != nil:
		c, err := coord(src.Point)
		if err != nil {
			return ps, err
		}
		ps.Geometry = []geo.Coord{c}
	case len(src.Line) >= 2:
		line, err := coords(src.Line)
		if err != nil {
			return ps, err
		}
		ps.Geometry = line
	default:
		return ps, errors.New("no point or line geometry")
	}

	levels := src.PowerDB
	switch {
	case src.Emission != nil && levels != nil:
		return ps, errors.New("both power_db and emission given")
	case src.Emission != nil:
		if em == nil {
			return ps, fmt.Errorf("emission %s needs the scripting engine", src.Emission.Script)
		}
		var err error
		levels, err = em.Emission(src.Emission.Script, src.Emission.Params, s.Bands)
		if err != nil {
			return ps, err
		}
	}
	if len(levels) != len(s.Bands) {
		return ps, fmt.Errorf("%w: %d values for %d bands", ErrPowerLength, len(levels), len(s.Bands))
	}
	ps.Power = make([]float64, len(levels))
	for i, db := range levels {
		ps.Power[i] = propagation.DBToW(db)
	}
	return ps, nil
}

// extent is the bounding box of every feature of the scene.
func (s *Scene) extent() geo.Envelope {
	env := geo.EmptyEnvelope()
	for _, o := range s.Obstacles {
		for _, ring := range o.Rings {
			env = env.Union(geo.EnvelopeOf(ring...))
		}
	}
	for _, src := range s.Sources {
		env = env.Union(src.Envelope())
	}
	for _, r := range s.Receivers {
		env = env.ExpandToInclude(r.Position)
	}
	for _, p := range s.Topography {
		env = env.ExpandToInclude(p)
	}
	return env
}

// Input returns the grid input of the scene.
func (s *Scene) Input() grid.Input {
	return grid.Input{
		Envelope:   s.Envelope,
		Obstacles:  s.Obstacles,
		Sources:    s.Sources,
		Receivers:  s.Receivers,
		Topography: s.Topography,
		Bands:      s.Bands,
	}
}

// DigestHex is the scene digest as lowercase hex.
func (s *Scene) DigestHex() string {
	return hex.EncodeToString(s.Digest[:])
}

// Count returns the number of features in the scene.
func (s *Scene) Count() int {
	return len(s.Obstacles) + len(s.Sources) + len(s.Receivers) + len(s.Topography)
}

func coord(v []float64) (geo.Coord, error) {
	if len(v) != 2 {
		return geo.Coord{}, fmt.Errorf("want [x, y], got %d values", len(v))
	}
	return geo.C(v[0], v[1]), nil
}

func coords(vs [][]float64) ([]geo.Coord, error) {
	out := make([]geo.Coord, 0, len(vs))
	for _, v := range vs {
		c, err := coord(v)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
