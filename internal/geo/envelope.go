package geo

import (
	"math"

	"github.com/ctessum/geom"
)

// Envelope is an axis-aligned bounding box. The zero value is a degenerate
// box at the origin; use EmptyEnvelope for an accumulator.
type Envelope struct {
	MinX, MinY, MaxX, MaxY float64
}

func EmptyEnvelope() Envelope {
	return Envelope{
		MinX: math.Inf(1), MinY: math.Inf(1),
		MaxX: math.Inf(-1), MaxY: math.Inf(-1),
	}
}

func NewEnvelope(a, b Coord) Envelope {
	return Envelope{
		MinX: math.Min(a.X, b.X), MinY: math.Min(a.Y, b.Y),
		MaxX: math.Max(a.X, b.X), MaxY: math.Max(a.Y, b.Y),
	}
}

// EnvelopeOf returns the bounding box of pts.
func EnvelopeOf(pts ...Coord) Envelope {
	e := EmptyEnvelope()
	for _, p := range pts {
		e = e.ExpandToInclude(p)
	}
	return e
}

func (e Envelope) IsEmpty() bool {
	return e.MaxX < e.MinX || e.MaxY < e.MinY
}

func (e Envelope) Width() float64  { return e.MaxX - e.MinX }
func (e Envelope) Height() float64 { return e.MaxY - e.MinY }

func (e Envelope) Center() Coord {
	return Coord{X: (e.MinX + e.MaxX) / 2, Y: (e.MinY + e.MaxY) / 2}
}

func (e Envelope) ExpandToInclude(p Coord) Envelope {
	return Envelope{
		MinX: math.Min(e.MinX, p.X), MinY: math.Min(e.MinY, p.Y),
		MaxX: math.Max(e.MaxX, p.X), MaxY: math.Max(e.MaxY, p.Y),
	}
}

func (e Envelope) Union(o Envelope) Envelope {
	if e.IsEmpty() {
		return o
	}
	if o.IsEmpty() {
		return e
	}
	return Envelope{
		MinX: math.Min(e.MinX, o.MinX), MinY: math.Min(e.MinY, o.MinY),
		MaxX: math.Max(e.MaxX, o.MaxX), MaxY: math.Max(e.MaxY, o.MaxY),
	}
}

// ExpandBy grows the box by d on every side.
func (e Envelope) ExpandBy(d float64) Envelope {
	return Envelope{MinX: e.MinX - d, MinY: e.MinY - d, MaxX: e.MaxX + d, MaxY: e.MaxY + d}
}

// Intersects is inclusive: touching boxes intersect.
func (e Envelope) Intersects(o Envelope) bool {
	return e.MinX <= o.MaxX && o.MinX <= e.MaxX && e.MinY <= o.MaxY && o.MinY <= e.MaxY
}

func (e Envelope) Contains(p Coord) bool {
	return p.X >= e.MinX && p.X <= e.MaxX && p.Y >= e.MinY && p.Y <= e.MaxY
}

// ContainsHalfOpen excludes the max edges so that a tiling of envelopes
// assigns every point to exactly one tile.
func (e Envelope) ContainsHalfOpen(p Coord) bool {
	return p.X >= e.MinX && p.X < e.MaxX && p.Y >= e.MinY && p.Y < e.MaxY
}

// Corners in counter-clockwise order starting at (MinX, MinY).
func (e Envelope) Corners() [4]Coord {
	return [4]Coord{
		{X: e.MinX, Y: e.MinY},
		{X: e.MaxX, Y: e.MinY},
		{X: e.MaxX, Y: e.MaxY},
		{X: e.MinX, Y: e.MaxY},
	}
}

// Distance from p to the box, zero when p is inside.
func (e Envelope) Distance(p Coord) float64 {
	dx := math.Max(0, math.Max(e.MinX-p.X, p.X-e.MaxX))
	dy := math.Max(0, math.Max(e.MinY-p.Y, p.Y-e.MaxY))
	return math.Hypot(dx, dy)
}

// Bounds converts e to ctessum/geom bounds.
func (e Envelope) Bounds() *geom.Bounds {
	return &geom.Bounds{
		Min: geom.Point{X: e.MinX, Y: e.MinY},
		Max: geom.Point{X: e.MaxX, Y: e.MaxY},
	}
}

// Polygon returns the box as a closed counter-clockwise ring.
func (e Envelope) Polygon() geom.Polygon {
	c := e.Corners()
	return geom.Polygon{{c[0].Point(), c[1].Point(), c[2].Point(), c[3].Point()}}
}

func FromBounds(b *geom.Bounds) Envelope {
	return Envelope{MinX: b.Min.X, MinY: b.Min.Y, MaxX: b.Max.X, MaxY: b.Max.Y}
}
