package spatial

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/noisemap/noisemap/internal/geo"
)

func randomEnvelopes(n int, seed int64) []geo.Envelope {
	rng := rand.New(rand.NewSource(seed))
	out := make([]geo.Envelope, n)
	for i := range out {
		x := rng.Float64() * 1000
		y := rng.Float64() * 1000
		// Skewed sizes: most entries small, a few large.
		w := 1 + rng.Float64()*20
		if i%17 == 0 {
			w = 150 + rng.Float64()*100
		}
		h := 1 + rng.Float64()*20
		out[i] = geo.Envelope{MinX: x, MinY: y, MaxX: x + w, MaxY: y + h}
	}
	return out
}

func bruteForce(envs []geo.Envelope, q geo.Envelope) []int {
	var ids []int
	for i, e := range envs {
		if e.Intersects(q) {
			ids = append(ids, i)
		}
	}
	return ids
}

func TestGridAndTreeIndexEquivalence(t *testing.T) {
	envs := randomEnvelopes(500, 1)
	grid := NewGridIndex(geo.Envelope{MinX: 0, MinY: 0, MaxX: 1000, MaxY: 1000}, 16, 16)
	tree := NewTreeIndex()
	for i, e := range envs {
		grid.Insert(e, i)
		tree.Insert(e, i)
	}
	queries := randomEnvelopes(60, 2)
	// A query partly outside the grid envelope.
	queries = append(queries, geo.Envelope{MinX: -50, MinY: 900, MaxX: 80, MaxY: 1300})
	for _, q := range queries {
		want := bruteForce(envs, q)
		g := grid.Query(q)
		tr := tree.Query(q)
		if len(want) == 0 {
			if len(g) != 0 || len(tr) != 0 {
				t.Fatalf("query %v: expected no hits, grid=%v tree=%v", q, g, tr)
			}
			continue
		}
		if !reflect.DeepEqual(g, want) {
			t.Fatalf("grid query %v = %v, want %v", q, g, want)
		}
		if !reflect.DeepEqual(tr, want) {
			t.Fatalf("tree query %v = %v, want %v", q, tr, want)
		}
	}
}

func TestTreeIndexRemove(t *testing.T) {
	tree := NewTreeIndex()
	a := geo.Envelope{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10}
	b := geo.Envelope{MinX: 5, MinY: 5, MaxX: 15, MaxY: 15}
	tree.Insert(a, 1)
	tree.Insert(b, 2)
	if !tree.Remove(1) {
		t.Fatal("remove of existing id failed")
	}
	if tree.Remove(1) {
		t.Fatal("second remove reported success")
	}
	got := tree.Query(geo.Envelope{MinX: 6, MinY: 6, MaxX: 7, MaxY: 7})
	if !reflect.DeepEqual(got, []int{2}) {
		t.Fatalf("after remove got %v", got)
	}
	if tree.Len() != 1 {
		t.Fatalf("Len = %d, want 1", tree.Len())
	}
}

func TestGridIndexPointEntries(t *testing.T) {
	g := NewGridIndexFor(geo.Envelope{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}, 100, 4)
	for i := 0; i < 10; i++ {
		p := geo.C(float64(i*10)+0.5, 50)
		g.Insert(geo.EnvelopeOf(p), i)
	}
	got := g.Query(geo.Envelope{MinX: 15, MinY: 40, MaxX: 45, MaxY: 60})
	if !reflect.DeepEqual(got, []int{2, 3, 4}) {
		t.Fatalf("got %v", got)
	}
}
