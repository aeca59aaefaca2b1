package obstruction

import (
	"math"
	"testing"

	"github.com/noisemap/noisemap/internal/geo"
	"github.com/noisemap/noisemap/internal/mesh"
	"go.uber.org/zap/zaptest"
)

// buildingMesh is a 100 m square with a 20 m building in the middle.
func buildingMesh(t *testing.T) *mesh.Mesh {
	t.Helper()
	b := mesh.NewBuilder(geo.Envelope{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}, mesh.Options{}, zaptest.NewLogger(t))
	b.AddObstacle(mesh.Obstacle{ID: 7, Rings: [][]geo.Coord{{
		geo.C(40, 40), geo.C(60, 40), geo.C(60, 60), geo.C(40, 60),
	}}})
	m, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func insideBuilding(c geo.Coord) bool {
	return c.X > 40 && c.X < 60 && c.Y > 40 && c.Y < 60
}

func TestIsFreeField(t *testing.T) {
	ot := New(buildingMesh(t), Options{})
	cases := []struct {
		name      string
		a, b      geo.Coord
		want      bool
		symmetric bool
	}{
		{"open south side", geo.C(10, 10), geo.C(90, 10), true, true},
		{"diagonal past corner", geo.C(5, 20), geo.C(30, 95), true, true},
		{"through building", geo.C(10, 50), geo.C(90, 50), false, true},
		{"diagonal through building", geo.C(20, 20), geo.C(80, 80), false, true},
		{"into building", geo.C(10, 10), geo.C(50, 50), false, false},
		{"outside mesh", geo.C(10, 10), geo.C(150, 10), false, false},
		{"same triangle", geo.C(1, 1), geo.C(1.5, 1.2), true, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ot.IsFreeField(tc.a, tc.b); got != tc.want {
				t.Fatalf("IsFreeField(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
			if !tc.symmetric {
				return
			}
			if got := ot.IsFreeField(tc.b, tc.a); got != tc.want {
				t.Fatalf("IsFreeField(%v, %v) = %v, not symmetric", tc.b, tc.a, got)
			}
		})
	}
}

func TestLimitsInRange(t *testing.T) {
	ot := New(buildingMesh(t), Options{})
	walls := ot.LimitsInRange(200, geo.C(10, 50))
	var total float64
	for _, w := range walls {
		if w.ObstacleID != 7 {
			t.Fatalf("wall of obstacle %d", w.ObstacleID)
		}
		out := w.Segment.Midpoint().Add(w.Segment.LeftNormal())
		if insideBuilding(out) {
			t.Fatalf("wall %v has the building on its left", w.Segment)
		}
		total += w.Segment.Length()
	}
	if math.Abs(total-80) > 1e-9 {
		t.Fatalf("wall length %f, want 80", total)
	}
	if near := ot.LimitsInRange(5, geo.C(10, 50)); len(near) != 0 {
		t.Fatalf("expected no wall within 5 m, got %d", len(near))
	}
}

func TestWideAngleCorners(t *testing.T) {
	ot := New(buildingMesh(t), Options{})
	corners := ot.WideAngleCorners(DefaultMinCornerAngle, DefaultMaxCornerAngle)
	if len(corners) != 4 {
		t.Fatalf("got %d corners, want 4", len(corners))
	}
	for _, c := range corners {
		if math.Abs(c.AngleSum-1.5*math.Pi) > 1e-9 {
			t.Fatalf("corner %v open angle %f, want 3π/2", c.Position, c.AngleSum)
		}
		if insideBuilding(c.Offset) {
			t.Fatalf("offset point %v of corner %v inside building", c.Offset, c.Position)
		}
		if d := c.Offset.Distance(c.Position); math.Abs(d-1e-3) > 1e-9 {
			t.Fatalf("offset distance %g", d)
		}
		if !ot.IsFreeField(c.Offset, geo.C(c.Position.X*2-50, c.Position.Y*2-50)) {
			t.Fatalf("corner %v cannot see outwards", c.Position)
		}
	}
	got := ot.CornersInRange(geo.Envelope{MinX: 35, MinY: 35, MaxX: 45, MaxY: 45})
	if len(got) != 1 || !got[0].Position.Equals2D(geo.C(40, 40), 0) {
		t.Fatalf("CornersInRange = %+v", got)
	}
}

func TestEmptyMeshHasNoCorners(t *testing.T) {
	m, err := mesh.NewBuilder(geo.Envelope{MaxX: 10, MaxY: 10}, mesh.Options{}, zaptest.NewLogger(t)).Build()
	if err != nil {
		t.Fatal(err)
	}
	ot := New(m, Options{})
	if c := ot.WideAngleCorners(DefaultMinCornerAngle, DefaultMaxCornerAngle); len(c) != 0 {
		t.Fatalf("got %d corners", len(c))
	}
	if w := ot.LimitsInRange(100, geo.C(5, 5)); len(w) != 0 {
		t.Fatalf("got %d walls", len(w))
	}
}

func TestObstaclesWithoutDistinctIDsBlock(t *testing.T) {
	b := mesh.NewBuilder(geo.Envelope{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}, mesh.Options{}, zaptest.NewLogger(t))
	for _, x := range []float64{10, 45, 80} {
		id := 5
		if x == 10 {
			id = 0
		}
		b.AddObstacle(mesh.Obstacle{ID: id, Rings: [][]geo.Coord{{
			geo.C(x, 40), geo.C(x+10, 40), geo.C(x+10, 50), geo.C(x, 50),
		}}})
	}
	m, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	ot := New(m, Options{})
	for _, x := range []float64{15, 50, 85} {
		if ot.IsFreeField(geo.C(x, 20), geo.C(x, 70)) {
			t.Fatalf("path through the building at x=%g is free", x)
		}
	}
	for _, w := range ot.LimitsInRange(200, geo.C(30, 20)) {
		if w.Tag == 0 {
			t.Fatalf("wall %v without tag", w.Segment)
		}
	}
}
