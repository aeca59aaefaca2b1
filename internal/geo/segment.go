package geo

import "math"

// Segment is a directed line segment P0->P1.
type Segment struct {
	P0, P1 Coord
}

func (s Segment) Length() float64 {
	return s.P0.Distance(s.P1)
}

func (s Segment) Envelope() Envelope {
	return NewEnvelope(s.P0, s.P1)
}

func (s Segment) Midpoint() Coord {
	return Coord{X: (s.P0.X + s.P1.X) / 2, Y: (s.P0.Y + s.P1.Y) / 2}
}

// ProjectionFactor is the parameter of the orthogonal projection of p on the
// infinite line through s (0 at P0, 1 at P1).
func (s Segment) ProjectionFactor(p Coord) float64 {
	d := s.P1.Sub(s.P0)
	l2 := d.Dot(d)
	if l2 == 0 {
		return 0
	}
	return p.Sub(s.P0).Dot(d) / l2
}

// ClosestPoint on the segment to p.
func (s Segment) ClosestPoint(p Coord) Coord {
	t := s.ProjectionFactor(p)
	switch {
	case t <= 0:
		return s.P0
	case t >= 1:
		return s.P1
	}
	return s.PointAt(t)
}

func (s Segment) PointAt(t float64) Coord {
	return Coord{
		X: s.P0.X + t*(s.P1.X-s.P0.X),
		Y: s.P0.Y + t*(s.P1.Y-s.P0.Y),
		Z: s.P0.Z + t*(s.P1.Z-s.P0.Z),
	}
}

// Distance from p to the closest point of the segment.
func (s Segment) Distance(p Coord) float64 {
	return s.ClosestPoint(p).Distance(p)
}

// LeftNormal is the unit normal pointing to the left of P0->P1.
func (s Segment) LeftNormal() Coord {
	d := s.P1.Sub(s.P0)
	l := d.Length()
	if l == 0 {
		return Coord{}
	}
	return Coord{X: -d.Y / l, Y: d.X / l}
}

// Mirror reflects p across the infinite line through s.
func (s Segment) Mirror(p Coord) Coord {
	foot := s.PointAt(s.ProjectionFactor(p))
	return Coord{X: 2*foot.X - p.X, Y: 2*foot.Y - p.Y, Z: p.Z}
}

// Intersection returns the crossing point of s and o together with the
// parameters along each segment. ok is false for parallel segments or when
// the crossing lies outside either segment (with eps slack on the parameters).
func (s Segment) Intersection(o Segment, eps float64) (p Coord, ts, to float64, ok bool) {
	d1 := s.P1.Sub(s.P0)
	d2 := o.P1.Sub(o.P0)
	den := d1.X*d2.Y - d1.Y*d2.X
	if den == 0 {
		return Coord{}, 0, 0, false
	}
	w := o.P0.Sub(s.P0)
	ts = (w.X*d2.Y - w.Y*d2.X) / den
	to = (w.X*d1.Y - w.Y*d1.X) / den
	if ts < -eps || ts > 1+eps || to < -eps || to > 1+eps {
		return Coord{}, ts, to, false
	}
	return s.PointAt(ts), ts, to, true
}

// ClipTo clips the segment to env (Liang–Barsky). Endpoints created by the
// clip are snapped exactly onto the envelope edge they were clipped against
// so that two tiles clipping the same segment against a shared edge agree
// bit for bit.
func (s Segment) ClipTo(env Envelope) (Segment, bool) {
	t0, t1 := 0.0, 1.0
	dx := s.P1.X - s.P0.X
	dy := s.P1.Y - s.P0.Y
	edge0, edge1 := -1, -1
	clips := [4]struct{ p, q float64 }{
		{-dx, s.P0.X - env.MinX},
		{dx, env.MaxX - s.P0.X},
		{-dy, s.P0.Y - env.MinY},
		{dy, env.MaxY - s.P0.Y},
	}
	for i, c := range clips {
		if c.p == 0 {
			if c.q < 0 {
				return Segment{}, false
			}
			continue
		}
		r := c.q / c.p
		if c.p < 0 {
			if r > t1 {
				return Segment{}, false
			}
			if r > t0 {
				t0 = r
				edge0 = i
			}
		} else {
			if r < t0 {
				return Segment{}, false
			}
			if r < t1 {
				t1 = r
				edge1 = i
			}
		}
	}
	out := Segment{P0: s.P0, P1: s.P1}
	if edge0 >= 0 {
		out.P0 = snapToEdge(s.PointAt(t0), env, edge0)
	}
	if edge1 >= 0 {
		out.P1 = snapToEdge(s.PointAt(t1), env, edge1)
	}
	return out, true
}

func snapToEdge(p Coord, env Envelope, edge int) Coord {
	switch edge {
	case 0:
		p.X = env.MinX
	case 1:
		p.X = env.MaxX
	case 2:
		p.Y = env.MinY
	case 3:
		p.Y = env.MaxY
	}
	p.X = math.Min(math.Max(p.X, env.MinX), env.MaxX)
	p.Y = math.Min(math.Max(p.Y, env.MinY), env.MaxY)
	return p
}
