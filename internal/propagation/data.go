package propagation

import (
	"math"

	"github.com/noisemap/noisemap/internal/geo"
	"github.com/noisemap/noisemap/internal/mesh"
	"github.com/noisemap/noisemap/internal/spatial"
)

// Params are the propagation settings shared by every cell of a run.
type Params struct {
	ReflectionOrder           int
	DiffractionOrder          int
	MaxSourceDistance         float64
	MaxReflectionDistance     float64
	MinReceiverSourceDistance float64
	WallAlpha                 float64
	// LineSourceStep is the maximum length of one point sub-source of a
	// line source.
	LineSourceStep float64
}

// Source is a point (one coordinate) or a polyline source. Power holds one
// linear value per band; for a polyline it is the power per metre.
type Source struct {
	ID       int
	Geometry []geo.Coord
	Power    []float64
}

// Envelope of the source geometry.
func (s Source) Envelope() geo.Envelope {
	return geo.EnvelopeOf(s.Geometry...)
}

type pointSource struct {
	pos   geo.Coord
	power []float64
}

// points splits the source into point sub-sources no longer than step.
// Each sub-source sits at the middle of its piece and carries the power of
// that length.
func (s Source) points(step float64) []pointSource {
	if len(s.Geometry) == 1 {
		return []pointSource{{pos: s.Geometry[0], power: s.Power}}
	}
	if step <= 0 {
		step = 1
	}
	var out []pointSource
	for i := 0; i+1 < len(s.Geometry); i++ {
		seg := geo.Segment{P0: s.Geometry[i], P1: s.Geometry[i+1]}
		l := seg.Length()
		if l == 0 {
			continue
		}
		n := int(math.Ceil(l / step))
		piece := l / float64(n)
		for k := 0; k < n; k++ {
			pw := make([]float64, len(s.Power))
			for b, p := range s.Power {
				pw[b] = p * piece
			}
			out = append(out, pointSource{
				pos:   seg.PointAt((float64(k) + 0.5) / float64(n)),
				power: pw,
			})
		}
	}
	return out
}

// Receiver is a point receiver with the row id it reports under.
type Receiver struct {
	ID       int
	Position geo.Coord
}

// CellData is the input of one cell. It is built by the scheduler, handed
// to exactly one worker and never modified afterwards.
type CellData struct {
	CellID int
	// Obstruction is the obstacle mesh of the cell including its halo.
	Obstruction *mesh.Mesh
	// ReceiverMesh is set in area mode: levels are computed at its free
	// vertices and reported per free triangle.
	ReceiverMesh *mesh.Mesh
	// Receivers is used in point mode.
	Receivers   []Receiver
	Sources     []Source
	SourceIndex spatial.Index
	// Bands are the center frequencies, in the order of Source.Power.
	Bands  []float64
	Params Params
}

// ReceiverCount is the number of receivers the cell will evaluate.
func (d *CellData) ReceiverCount() int {
	if d.ReceiverMesh != nil {
		return len(receiverVertices(d.ReceiverMesh))
	}
	return len(d.Receivers)
}

// receiverVertices lists, in ascending order, the vertices used by a free
// triangle of m.
func receiverVertices(m *mesh.Mesh) []int {
	used := make([]bool, len(m.Vertices))
	for _, t := range m.Triangles {
		if !t.Free() {
			continue
		}
		for _, v := range t.V {
			used[v] = true
		}
	}
	var out []int
	for v, u := range used {
		if u {
			out = append(out, v)
		}
	}
	return out
}
