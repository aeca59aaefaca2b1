package mesh

import (
	"math"
	"testing"

	"github.com/noisemap/noisemap/internal/geo"
	"go.uber.org/zap/zaptest"
)

func square(id int, x, y, size float64) Obstacle {
	return Obstacle{ID: id, Rings: [][]geo.Coord{{
		geo.C(x, y), geo.C(x+size, y), geo.C(x+size, y+size), geo.C(x, y+size),
	}}}
}

func checkTopology(t *testing.T, m *Mesh) {
	t.Helper()
	for i, tri := range m.Triangles {
		a, b, c := m.Coords(i)
		if geo.Orient(a, b, c) <= 0 {
			t.Fatalf("triangle %d is not counter-clockwise: %v", i, tri.V)
		}
		for e, n := range tri.N {
			if n == NoNeighbor {
				continue
			}
			u, v := tri.Edge(e)
			other := m.Triangles[n]
			k := other.NeighborIndex(i)
			if k < 0 {
				t.Fatalf("triangle %d lists %d as neighbor but not the reverse", i, n)
			}
			ou, ov := other.Edge(k)
			if ou != v || ov != u {
				t.Fatalf("triangles %d and %d disagree on shared edge: (%d,%d) vs (%d,%d)", i, n, u, v, ou, ov)
			}
			if other.Tag != tri.Tag {
				t.Fatalf("link across tags %d/%d between %d and %d", tri.Tag, other.Tag, i, n)
			}
		}
	}
}

func areas(m *Mesh) (free, blocked float64) {
	for i, tri := range m.Triangles {
		a, b, c := m.Coords(i)
		if tri.Free() {
			free += geo.TriangleArea(a, b, c)
		} else {
			blocked += geo.TriangleArea(a, b, c)
		}
	}
	return free, blocked
}

func hasVertex(m *Mesh, c geo.Coord) bool {
	for _, v := range m.Vertices {
		if v.Equals2D(c, 1e-9) {
			return true
		}
	}
	return false
}

func TestBuildEmptyEnvelope(t *testing.T) {
	env := geo.Envelope{MinX: 0, MinY: 0, MaxX: 100, MaxY: 50}
	m, err := NewBuilder(env, Options{}, zaptest.NewLogger(t)).Build()
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Triangles) != 2 {
		t.Fatalf("got %d triangles, want 2", len(m.Triangles))
	}
	checkTopology(t, m)
	free, _ := areas(m)
	if math.Abs(free-5000) > 1e-6 {
		t.Fatalf("free area %f, want 5000", free)
	}
}

func TestBuildWithObstacle(t *testing.T) {
	env := geo.Envelope{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}
	b := NewBuilder(env, Options{}, zaptest.NewLogger(t))
	b.AddObstacle(square(7, 40, 40, 20))
	m, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	checkTopology(t, m)
	for _, c := range []geo.Coord{geo.C(40, 40), geo.C(60, 40), geo.C(60, 60), geo.C(40, 60)} {
		if !hasVertex(m, c) {
			t.Fatalf("obstacle corner %v missing from mesh", c)
		}
	}
	free, blocked := areas(m)
	if math.Abs(blocked-400) > 1e-6 {
		t.Fatalf("blocked area %f, want 400", blocked)
	}
	if math.Abs(free-9600) > 1e-6 {
		t.Fatalf("free area %f, want 9600", free)
	}
	walls := 0
	for _, tri := range m.Triangles {
		if !tri.Free() {
			if o, ok := m.Obstacle(tri.Tag); !ok || o.ID != 7 {
				t.Fatalf("unexpected tag %d", tri.Tag)
			}
			continue
		}
		for e, w := range tri.Wall {
			if w == 0 {
				continue
			}
			if w != 1 || tri.N[e] != NoNeighbor {
				t.Fatalf("bad wall %d with neighbor %d", w, tri.N[e])
			}
			walls++
		}
	}
	if walls < 4 {
		t.Fatalf("found %d wall edges, want at least 4", walls)
	}
}

func TestBuildClipsObstacleOnBorder(t *testing.T) {
	env := geo.Envelope{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}
	b := NewBuilder(env, Options{}, zaptest.NewLogger(t))
	b.AddObstacle(square(3, 90, 40, 20))
	m, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	checkTopology(t, m)
	if !hasVertex(m, geo.C(100, 40)) || !hasVertex(m, geo.C(100, 60)) {
		t.Fatal("clipped obstacle border vertices missing")
	}
	_, blocked := areas(m)
	if math.Abs(blocked-200) > 1e-6 {
		t.Fatalf("blocked area %f, want 200", blocked)
	}
}

func TestMergeObstacles(t *testing.T) {
	log := zaptest.NewLogger(t)
	a := square(5, 0, 0, 10)
	a.Weight = 12
	b := square(2, 5, 5, 10)
	b.Weight = 8
	c := square(9, 50, 50, 10)
	out := MergeObstacles([]Obstacle{a, b, c}, log)
	if len(out) != 2 {
		t.Fatalf("got %d obstacles, want 2", len(out))
	}
	if out[0].ID != 2 || out[0].Weight != 8 {
		t.Fatalf("merged obstacle = id %d weight %f, want id 2 weight 8", out[0].ID, out[0].Weight)
	}
	if out[1].ID != 9 {
		t.Fatalf("second obstacle id %d, want 9", out[1].ID)
	}
	if got := out[0].polygon().Area(); math.Abs(got-175) > 1e-6 {
		t.Fatalf("merged area %f, want 175", got)
	}
}

func TestDegenerateObstacleDropped(t *testing.T) {
	flat := Obstacle{ID: 1, Rings: [][]geo.Coord{{geo.C(0, 0), geo.C(5, 0), geo.C(10, 0)}}}
	out := MergeObstacles([]Obstacle{flat, square(2, 20, 20, 5)}, zaptest.NewLogger(t))
	if len(out) != 1 || out[0].ID != 2 {
		t.Fatalf("got %+v", out)
	}
}

func TestRefinementBoundsFreeTriangles(t *testing.T) {
	env := geo.Envelope{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}
	b := NewBuilder(env, Options{MaxTriangleArea: 200}, zaptest.NewLogger(t))
	b.AddObstacle(square(1, 30, 30, 20))
	m, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	checkTopology(t, m)
	for i, tri := range m.Triangles {
		if !tri.Free() {
			continue
		}
		a, bb, c := m.Coords(i)
		if area := geo.TriangleArea(a, bb, c); area > 200+1e-9 {
			t.Fatalf("free triangle %d has area %f", i, area)
		}
	}
	free, blocked := areas(m)
	if math.Abs(free+blocked-10000) > 1e-6 {
		t.Fatalf("total area %f, want 10000", free+blocked)
	}
}

func TestSeedsAreKept(t *testing.T) {
	env := geo.Envelope{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10}
	b := NewBuilder(env, Options{}, zaptest.NewLogger(t))
	seeds := []geo.Coord{geo.C(10, 2.5), geo.C(10, 5), geo.C(10, 7.5)}
	for _, s := range seeds {
		b.AddSeed(s)
	}
	// A topo point within the merge tolerance of a seed collapses onto it.
	b.AddTopoPoint(geo.C(10, 5.0000001))
	m, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	checkTopology(t, m)
	for _, s := range seeds {
		if !hasVertex(m, s) {
			t.Fatalf("seed %v missing", s)
		}
	}
	if len(m.Vertices) != 7 {
		t.Fatalf("got %d vertices, want 7", len(m.Vertices))
	}
}

func TestObstacleIDsAreLabels(t *testing.T) {
	env := geo.Envelope{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}
	obstacles := []Obstacle{square(0, 10, 40, 10), square(5, 45, 40, 10), square(5, 80, 40, 10)}
	if out := MergeObstacles(obstacles, zaptest.NewLogger(t)); len(out) != 3 {
		t.Fatalf("got %d obstacles after merge, want 3", len(out))
	}
	b := NewBuilder(env, Options{}, zaptest.NewLogger(t))
	for _, o := range obstacles {
		b.AddObstacle(o)
	}
	m, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	checkTopology(t, m)
	if _, blocked := areas(m); math.Abs(blocked-300) > 1e-6 {
		t.Fatalf("blocked area %f, want 300", blocked)
	}
	seen := make(map[int]bool)
	for _, tri := range m.Triangles {
		if !tri.Free() {
			seen[tri.Tag] = true
		}
	}
	if len(seen) != 3 {
		t.Fatalf("got %d distinct tags, want 3", len(seen))
	}
}

func TestWallsSurviveRefinement(t *testing.T) {
	env := geo.Envelope{MinX: 0, MinY: 0, MaxX: 60, MaxY: 60}
	b := NewBuilder(env, Options{MaxTriangleArea: 20}, zaptest.NewLogger(t))
	b.AddObstacle(square(1, 20, 20, 10))
	b.AddObstacle(square(2, 35, 20, 10))
	m, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	checkTopology(t, m)
	// every building edge must stay a mesh edge, split or not
	length := map[int]float64{}
	for i, tri := range m.Triangles {
		if !tri.Free() {
			continue
		}
		for e, w := range tri.Wall {
			if w != 0 {
				length[w] += m.EdgeSegment(i, e).Length()
			}
		}
	}
	if len(length) != 2 {
		t.Fatalf("walls of %d obstacles, want 2", len(length))
	}
	for tag, l := range length {
		if math.Abs(l-40) > 1e-6 {
			t.Fatalf("obstacle tag %d has %f m of wall, want 40", tag, l)
		}
	}
}
