// Package geo holds the planar primitives shared by the mesh, visibility and
// propagation code. All coordinates are projected metres; Z is carried along
// for topographic points but ignored by every 2D predicate.
package geo

import (
	"math"

	"github.com/ctessum/geom"
)

// Epsilon is the default tolerance for on-line and on-edge predicates.
const Epsilon = 1e-7

// Coord is a point in the plane, optionally tagged with an elevation.
type Coord struct {
	X, Y, Z float64
}

func C(x, y float64) Coord {
	return Coord{X: x, Y: y}
}

func (c Coord) Add(o Coord) Coord {
	return Coord{X: c.X + o.X, Y: c.Y + o.Y, Z: c.Z}
}

func (c Coord) Sub(o Coord) Coord {
	return Coord{X: c.X - o.X, Y: c.Y - o.Y, Z: c.Z}
}

func (c Coord) Scale(f float64) Coord {
	return Coord{X: c.X * f, Y: c.Y * f, Z: c.Z}
}

func (c Coord) Dot(o Coord) float64 {
	return c.X*o.X + c.Y*o.Y
}

func (c Coord) Length() float64 {
	return math.Hypot(c.X, c.Y)
}

// Distance is the planar distance between c and o.
func (c Coord) Distance(o Coord) float64 {
	return math.Hypot(c.X-o.X, c.Y-o.Y)
}

// Equals2D reports whether both planar components are within tol.
func (c Coord) Equals2D(o Coord, tol float64) bool {
	return math.Abs(c.X-o.X) <= tol && math.Abs(c.Y-o.Y) <= tol
}

// Point converts c to a ctessum/geom point.
func (c Coord) Point() geom.Point {
	return geom.Point{X: c.X, Y: c.Y}
}

func FromPoint(p geom.Point) Coord {
	return Coord{X: p.X, Y: p.Y}
}

// Orient returns twice the signed area of (a, b, c): positive when c lies to
// the left of the directed line a->b.
func Orient(a, b, c Coord) float64 {
	return (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
}

// SignedDistance is the signed distance of p to the infinite line a->b,
// positive on the left.
func SignedDistance(a, b, p Coord) float64 {
	l := a.Distance(b)
	if l == 0 {
		return a.Distance(p)
	}
	return Orient(a, b, p) / l
}

// InCircle is positive when d lies strictly inside the circumcircle of the
// counter-clockwise triangle (a, b, c).
func InCircle(a, b, c, d Coord) float64 {
	adx, ady := a.X-d.X, a.Y-d.Y
	bdx, bdy := b.X-d.X, b.Y-d.Y
	cdx, cdy := c.X-d.X, c.Y-d.Y
	ad := adx*adx + ady*ady
	bd := bdx*bdx + bdy*bdy
	cd := cdx*cdx + cdy*cdy
	return adx*(bdy*cd-bd*cdy) - ady*(bdx*cd-bd*cdx) + ad*(bdx*cdy-bdy*cdx)
}

// TriangleArea is the unsigned area of (a, b, c).
func TriangleArea(a, b, c Coord) float64 {
	return math.Abs(Orient(a, b, c)) / 2
}

// Centroid of the triangle (a, b, c).
func Centroid(a, b, c Coord) Coord {
	return Coord{
		X: (a.X + b.X + c.X) / 3,
		Y: (a.Y + b.Y + c.Y) / 3,
		Z: (a.Z + b.Z + c.Z) / 3,
	}
}

// Barycentric returns the barycentric coordinates of p relative to (a, b, c).
// ok is false for a degenerate triangle.
func Barycentric(a, b, c, p Coord) (l1, l2, l3 float64, ok bool) {
	det := (b.Y-c.Y)*(a.X-c.X) + (c.X-b.X)*(a.Y-c.Y)
	if det == 0 {
		return 0, 0, 0, false
	}
	l1 = ((b.Y-c.Y)*(p.X-c.X) + (c.X-b.X)*(p.Y-c.Y)) / det
	l2 = ((c.Y-a.Y)*(p.X-c.X) + (a.X-c.X)*(p.Y-c.Y)) / det
	l3 = 1 - l1 - l2
	return l1, l2, l3, true
}

// InTriangle tests p against (a, b, c) with barycentric tolerance eps.
func InTriangle(a, b, c, p Coord, eps float64) bool {
	l1, l2, l3, ok := Barycentric(a, b, c, p)
	if !ok {
		return false
	}
	return l1 >= -eps && l2 >= -eps && l3 >= -eps
}

// Angle is the unsigned angle at vertex o between rays o->a and o->b.
func Angle(a, o, b Coord) float64 {
	v1 := a.Sub(o)
	v2 := b.Sub(o)
	return math.Abs(math.Atan2(v1.X*v2.Y-v1.Y*v2.X, v1.Dot(v2)))
}

// Azimuth of the vector o->p in [0, 2π).
func Azimuth(o, p Coord) float64 {
	a := math.Atan2(p.Y-o.Y, p.X-o.X)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a
}
