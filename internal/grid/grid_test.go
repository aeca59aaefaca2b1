package grid

import (
	"math"
	"reflect"
	"sort"
	"testing"

	"github.com/noisemap/noisemap/internal/geo"
	"github.com/noisemap/noisemap/internal/mesh"
	"github.com/noisemap/noisemap/internal/propagation"
	"go.uber.org/zap/zaptest"
)

func rect(id int, x0, y0, x1, y1 float64) mesh.Obstacle {
	return mesh.Obstacle{ID: id, Rings: [][]geo.Coord{{
		geo.C(x0, y0), geo.C(x1, y0), geo.C(x1, y1), geo.C(x0, y1),
	}}}
}

func testInput() Input {
	return Input{
		Envelope: geo.Envelope{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100},
		Obstacles: []mesh.Obstacle{
			rect(1, 45, 20, 55, 30),
			rect(2, 45, 45, 58, 61),
			rect(3, 10, 47, 20, 70),
		},
		Sources: []propagation.Source{
			{ID: 1, Geometry: []geo.Coord{geo.C(-5, 50)}, Power: []float64{1}},
			{ID: 2, Geometry: []geo.Coord{geo.C(75, 75)}, Power: []float64{1}},
		},
		Topography: []geo.Coord{geo.C(30, 30), geo.C(70, 20)},
		Bands:      []float64{500},
	}
}

func testOptions(level int) Options {
	return Options{
		SubdivisionLevel: level,
		Mesh:             mesh.Options{MaxTriangleArea: 40},
		Params:           propagation.Params{MaxSourceDistance: 10},
	}
}

func stitchedJobs(t *testing.T, in Input, opts Options) (*Scheduler, []*propagation.CellData) {
	t.Helper()
	s, err := NewScheduler(in, opts, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Stitch(); err != nil {
		t.Fatal(err)
	}
	var jobs []*propagation.CellData
	for _, c := range s.Cells() {
		d, err := s.Job(c)
		if err != nil {
			t.Fatal(err)
		}
		jobs = append(jobs, d)
	}
	return s, jobs
}

func TestCellLayout(t *testing.T) {
	s, err := NewScheduler(testInput(), testOptions(2), zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	cells := s.Cells()
	if len(cells) != 16 {
		t.Fatalf("got %d cells, want 16", len(cells))
	}
	var area float64
	for i, c := range cells {
		if c.ID != i {
			t.Fatalf("cell %d has id %d", i, c.ID)
		}
		area += c.Envelope.Width() * c.Envelope.Height()
		if c.Halo.MinX != c.Envelope.MinX-10 {
			t.Fatalf("halo %v of cell %v", c.Halo, c.Envelope)
		}
	}
	if math.Abs(area-10000) > 1e-9 {
		t.Fatalf("cells cover %f, want 10000", area)
	}
	if last := cells[15].Envelope; last.MaxX != 100 || last.MaxY != 100 {
		t.Fatalf("last cell %v does not reach the envelope edge", last)
	}
}

func TestInvalidSubdivisionLevel(t *testing.T) {
	if _, err := NewScheduler(testInput(), testOptions(MaxSubdivisionLevel+1), zaptest.NewLogger(t)); err == nil {
		t.Fatal("expected an error")
	}
}

func TestJobRequiresStitch(t *testing.T) {
	s, err := NewScheduler(testInput(), testOptions(1), zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Job(s.Cells()[0]); err == nil {
		t.Fatal("expected an error before Stitch")
	}
}

func borderVertices(m *mesh.Mesh, onBorder func(geo.Coord) bool) []geo.Coord {
	var out []geo.Coord
	for _, v := range m.Vertices {
		if onBorder(v) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].X != out[j].X {
			return out[i].X < out[j].X
		}
		return out[i].Y < out[j].Y
	})
	return out
}

func TestNeighbourBordersMatch(t *testing.T) {
	_, jobs := stitchedJobs(t, testInput(), testOptions(1))
	// Cells: 0 (bottom left), 1 (bottom right), 2 (top left), 3 (top right).
	vertical := func(lo, hi float64) func(geo.Coord) bool {
		return func(c geo.Coord) bool { return c.X == 50 && c.Y >= lo && c.Y <= hi }
	}
	horizontal := func(lo, hi float64) func(geo.Coord) bool {
		return func(c geo.Coord) bool { return c.Y == 50 && c.X >= lo && c.X <= hi }
	}
	pairs := []struct {
		a, b int
		on   func(geo.Coord) bool
	}{
		{0, 1, vertical(0, 50)},
		{2, 3, vertical(50, 100)},
		{0, 2, horizontal(0, 50)},
		{1, 3, horizontal(50, 100)},
	}
	for _, p := range pairs {
		va := borderVertices(jobs[p.a].ReceiverMesh, p.on)
		vb := borderVertices(jobs[p.b].ReceiverMesh, p.on)
		if len(va) < 3 {
			t.Fatalf("cells %d/%d: only %d border vertices", p.a, p.b, len(va))
		}
		if !reflect.DeepEqual(va, vb) {
			t.Fatalf("cells %d/%d disagree on their border:\n%v\n%v", p.a, p.b, va, vb)
		}
	}
}

func TestStitchingIsDeterministic(t *testing.T) {
	_, first := stitchedJobs(t, testInput(), testOptions(1))
	_, second := stitchedJobs(t, testInput(), testOptions(1))
	for i := range first {
		if !reflect.DeepEqual(first[i].ReceiverMesh.Vertices, second[i].ReceiverMesh.Vertices) {
			t.Fatalf("cell %d vertices differ between runs", i)
		}
	}
}

func TestSinglePassAtLevelZero(t *testing.T) {
	s, jobs := stitchedJobs(t, testInput(), testOptions(0))
	if len(jobs) != 1 || s.registry.Len() != 0 {
		t.Fatalf("got %d jobs and %d registered vertices", len(jobs), s.registry.Len())
	}
	if jobs[0].ReceiverMesh == nil || len(jobs[0].Sources) != 2 {
		t.Fatalf("unexpected job %+v", jobs[0])
	}
}

func TestPointModeAssignment(t *testing.T) {
	in := testInput()
	in.Receivers = []propagation.Receiver{
		{ID: 1, Position: geo.C(50, 50)},
		{ID: 2, Position: geo.C(100, 100)},
		{ID: 3, Position: geo.C(0, 0)},
		{ID: 4, Position: geo.C(25, 75)},
		{ID: 5, Position: geo.C(100, 10)},
	}
	_, jobs := stitchedJobs(t, in, testOptions(1))
	want := map[int]int{1: 3, 2: 3, 3: 0, 4: 2, 5: 1}
	seen := make(map[int]int)
	for _, d := range jobs {
		if d.ReceiverMesh != nil {
			t.Fatal("point mode built a receiver mesh")
		}
		for _, r := range d.Receivers {
			seen[r.ID]++
			if want[r.ID] != d.CellID {
				t.Fatalf("receiver %d in cell %d, want %d", r.ID, d.CellID, want[r.ID])
			}
		}
	}
	for id := range want {
		if seen[id] != 1 {
			t.Fatalf("receiver %d assigned %d times", id, seen[id])
		}
	}
}

func TestHaloSources(t *testing.T) {
	_, jobs := stitchedJobs(t, testInput(), testOptions(1))
	// The source at (-5, 50) is outside the study area but within the halo
	// of both left cells.
	for _, i := range []int{0, 2} {
		found := false
		for _, s := range jobs[i].Sources {
			if s.ID == 1 {
				found = true
			}
		}
		if !found {
			t.Fatalf("cell %d misses the halo source", i)
		}
		if ids := jobs[i].SourceIndex.Query(geo.EnvelopeOf(geo.C(-5, 50))); len(ids) != 1 {
			t.Fatalf("cell %d source index returned %v", i, ids)
		}
	}
	for _, s := range jobs[1].Sources {
		if s.ID == 1 {
			t.Fatal("right cell sees a source 55 m away with a 10 m halo")
		}
	}
	if jobs[0].Obstruction.Envelope != (geo.Envelope{MinX: -10, MinY: -10, MaxX: 60, MaxY: 60}) {
		t.Fatalf("obstruction envelope %v", jobs[0].Obstruction.Envelope)
	}
}
