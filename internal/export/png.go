package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gogpu/gg"
	"github.com/noisemap/noisemap/internal/geo"
	"github.com/noisemap/noisemap/internal/propagation"
	"go.uber.org/zap"
)

// PNGSink renders the results over the study envelope on Close: triangles
// filled with the class of their mean level, receivers as dots.
type PNGSink struct {
	path          string
	env           geo.Envelope
	width, height int
	step          float64
	triangles     []propagation.TriangleResult
	points        []propagation.PointResult
	log           *zap.Logger
}

// NewPNGSink renders env into a width x height image. step is the width
// of one level class in dB.
func NewPNGSink(path string, env geo.Envelope, width, height int, step float64, log *zap.Logger) *PNGSink {
	return &PNGSink{path: path, env: env, width: width, height: height, step: step, log: log}
}

func (s *PNGSink) Write(_ context.Context, r propagation.CellResult) error {
	s.triangles = append(s.triangles, r.Triangles...)
	s.points = append(s.points, r.Points...)
	return nil
}

// pixel maps a scene coordinate to image space, y pointing down.
func (s *PNGSink) pixel(c geo.Coord) (float64, float64) {
	x := (c.X - s.env.MinX) / s.env.Width() * float64(s.width)
	y := (s.env.MaxY - c.Y) / s.env.Height() * float64(s.height)
	return x, y
}

func (s *PNGSink) Close() error {
	dc := gg.NewContext(s.width, s.height)
	defer dc.Close()
	dc.ClearWithColor(gg.RGB(1, 1, 1))

	for _, t := range s.triangles {
		dc.SetHexColor(palette[levelClass(meanLevel(t.Levels), s.step)])
		x, y := s.pixel(t.Triangle[0])
		dc.MoveTo(x, y)
		for _, c := range t.Triangle[1:] {
			x, y = s.pixel(c)
			dc.LineTo(x, y)
		}
		dc.ClosePath()
		if err := dc.Fill(); err != nil {
			return fmt.Errorf("fill triangle %d of cell %d: %w", t.TriangleID, t.CellID, err)
		}
	}

	radius := max(2, float64(min(s.width, s.height))/150)
	for _, p := range s.points {
		x, y := s.pixel(p.Position)
		dc.DrawCircle(x, y, radius)
		dc.SetHexColor(palette[levelClass(p.Level, s.step)])
		if err := dc.FillPreserve(); err != nil {
			return fmt.Errorf("fill receiver %d: %w", p.ReceiverID, err)
		}
		dc.SetRGB(0, 0, 0)
		dc.SetLineWidth(1)
		if err := dc.Stroke(); err != nil {
			return fmt.Errorf("outline receiver %d: %w", p.ReceiverID, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := dc.SavePNG(s.path); err != nil {
		return fmt.Errorf("write png: %w", err)
	}
	s.log.Info("map rendered",
		zap.String("path", s.path),
		zap.Int("triangles", len(s.triangles)),
		zap.Int("receivers", len(s.points)),
	)
	return nil
}
