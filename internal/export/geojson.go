// Package export writes cell results to files: a GeoJSON feature
// collection and a rendered PNG map.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/noisemap/noisemap/internal/propagation"
	geojson "github.com/paulmach/go.geojson"
	"go.uber.org/zap"
)

// GeoJSONSink collects every result as a feature and writes the
// collection to path on Close. Triangles become polygons carrying their
// three vertex levels, receivers become points.
type GeoJSONSink struct {
	path string
	fc   *geojson.FeatureCollection
	log  *zap.Logger
}

func NewGeoJSONSink(path string, log *zap.Logger) *GeoJSONSink {
	return &GeoJSONSink{path: path, fc: geojson.NewFeatureCollection(), log: log}
}

func (s *GeoJSONSink) Write(_ context.Context, r propagation.CellResult) error {
	for _, t := range r.Triangles {
		ring := make([][]float64, 0, 4)
		for _, c := range t.Triangle {
			ring = append(ring, []float64{c.X, c.Y})
		}
		ring = append(ring, ring[0])
		f := geojson.NewPolygonFeature([][][]float64{ring})
		f.SetProperty("cell_id", t.CellID)
		f.SetProperty("triangle_id", t.TriangleID)
		f.SetProperty("levels", t.Levels[:])
		f.SetProperty("level", meanLevel(t.Levels))
		s.fc.AddFeature(f)
	}
	for _, p := range r.Points {
		f := geojson.NewPointFeature([]float64{p.Position.X, p.Position.Y})
		f.SetProperty("cell_id", p.CellID)
		f.SetProperty("receiver_id", p.ReceiverID)
		f.SetProperty("level", p.Level)
		s.fc.AddFeature(f)
	}
	return nil
}

// Close writes the collection.
func (s *GeoJSONSink) Close() error {
	raw, err := s.fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode geojson: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		return fmt.Errorf("write geojson: %w", err)
	}
	s.log.Info("geojson written", zap.String("path", s.path), zap.Int("features", len(s.fc.Features)))
	return nil
}

// meanLevel averages three dB values on the energy scale.
func meanLevel(levels [3]float64) float64 {
	var e float64
	for _, l := range levels {
		e += propagation.DBToW(l)
	}
	return propagation.WToDB(e / 3)
}
