// Package obstruction answers line-of-sight questions over an obstacle
// mesh by walking triangle adjacency, and extracts the building corners
// that sound can diffract around.
package obstruction

import (
	"math"

	"github.com/noisemap/noisemap/internal/geo"
	"github.com/noisemap/noisemap/internal/mesh"
	"github.com/noisemap/noisemap/internal/spatial"
)

// Default wedge range of a diffraction corner: open angle strictly wider
// than a half plane and narrower than a full turn.
const (
	DefaultMinCornerAngle = math.Pi + 0.1
	DefaultMaxCornerAngle = 2*math.Pi - 0.1
)

// Options tune the obstruction test.
type Options struct {
	// Epsilon is the distance tolerance of the walk.
	Epsilon float64
	// CornerOffset is how far a corner offset point is pushed into the open wedge.
	CornerOffset float64
	// MinCornerAngle and MaxCornerAngle bound the open wedge of the corners
	// returned by CornersInRange.
	MinCornerAngle float64
	MaxCornerAngle float64
}

func (o Options) withDefaults() Options {
	if o.Epsilon <= 0 {
		o.Epsilon = geo.Epsilon
	}
	if o.CornerOffset <= 0 {
		o.CornerOffset = 1e-3
	}
	if o.MinCornerAngle <= 0 {
		o.MinCornerAngle = DefaultMinCornerAngle
	}
	if o.MaxCornerAngle <= 0 {
		o.MaxCornerAngle = DefaultMaxCornerAngle
	}
	return o
}

// Test runs free-field queries against one mesh. It keeps a location cache
// and lazily built corner tables, so a Test must not be shared between
// goroutines; build one per worker.
type Test struct {
	mesh  *mesh.Mesh
	opts  Options
	index *spatial.GridIndex
	last  int

	corners     map[[2]float64][]Corner
	cornerIndex *spatial.GridIndex

	// Counters read by the propagation process.
	Queries int64
}

// New indexes the triangles of m.
func New(m *mesh.Mesh, opts Options) *Test {
	opts = opts.withDefaults()
	idx := spatial.NewGridIndexFor(m.Envelope, len(m.Triangles), 4)
	for i := range m.Triangles {
		idx.Insert(m.TriangleEnvelope(i), i)
	}
	return &Test{
		mesh:    m,
		opts:    opts,
		index:   idx,
		last:    -1,
		corners: make(map[[2]float64][]Corner),
	}
}

// Mesh returns the mesh under test.
func (t *Test) Mesh() *mesh.Mesh {
	return t.mesh
}

const baryEps = 1e-9

func (t *Test) contains(tri int, p geo.Coord) bool {
	a, b, c := t.mesh.Coords(tri)
	return geo.InTriangle(a, b, c, p, baryEps)
}

// Locate returns the triangle containing p, preferring free-field
// triangles when p lies on a shared edge. It returns -1 when p is outside
// the mesh.
func (t *Test) Locate(p geo.Coord) int {
	if t.last >= 0 && t.mesh.Triangles[t.last].Free() && t.contains(t.last, p) {
		return t.last
	}
	found := -1
	for _, i := range t.index.Query(geo.EnvelopeOf(p).ExpandBy(t.opts.Epsilon)) {
		if !t.contains(i, p) {
			continue
		}
		if t.mesh.Triangles[i].Free() {
			t.last = i
			return i
		}
		if found < 0 {
			found = i
		}
	}
	return found
}

// IsFreeField reports whether the straight segment p1-p2 crosses no
// obstacle boundary. A point outside the mesh or inside an obstacle is
// never in free field.
func (t *Test) IsFreeField(p1, p2 geo.Coord) bool {
	t.Queries++
	cur := t.Locate(p1)
	if cur < 0 || !t.mesh.Triangles[cur].Free() {
		return false
	}
	visited := make(map[int]struct{}, 16)
	for steps := 0; steps <= len(t.mesh.Triangles); steps++ {
		if t.contains(cur, p2) {
			return true
		}
		visited[cur] = struct{}{}
		next, blocked, ok := t.exit(cur, p1, p2, visited)
		if !ok || blocked {
			return false
		}
		cur = next
	}
	return false
}

// exit picks the edge of tri through which the segment p1-p2 leaves it:
// among the edges that p2 lies beyond and that the line crosses within
// epsilon, the one crossed furthest along the segment. Edges leading to a
// visited triangle are skipped. On equal crossings an open edge wins over
// a boundary edge so that grazing a corner does not count as a hit.
func (t *Test) exit(tri int, p1, p2 geo.Coord, visited map[int]struct{}) (next int, blocked, ok bool) {
	tr := t.mesh.Triangles[tri]
	d := p2.Sub(p1)
	bestT := math.Inf(-1)
	best := -1
	for e := 0; e < 3; e++ {
		seg := t.mesh.EdgeSegment(tri, e)
		if geo.SignedDistance(seg.P0, seg.P1, p2) >= 0 {
			continue
		}
		n := tr.N[e]
		if n != mesh.NoNeighbor {
			if _, seen := visited[n]; seen {
				continue
			}
		}
		ev := seg.P1.Sub(seg.P0)
		den := d.X*ev.Y - d.Y*ev.X
		if den == 0 {
			continue
		}
		w := seg.P0.Sub(p1)
		tt := (w.X*ev.Y - w.Y*ev.X) / den
		// The crossing must fall on the edge itself, within epsilon.
		cross := p1.Add(d.Scale(tt))
		if seg.Distance(cross) > t.opts.Epsilon {
			continue
		}
		switch {
		case best < 0 || tt > bestT+t.opts.Epsilon:
		case math.Abs(tt-bestT) <= t.opts.Epsilon && tr.N[best] == mesh.NoNeighbor && n != mesh.NoNeighbor:
		default:
			continue
		}
		best, bestT = e, tt
	}
	if best < 0 {
		return -1, false, false
	}
	if tr.N[best] == mesh.NoNeighbor {
		return -1, true, true
	}
	return tr.N[best], false, true
}
