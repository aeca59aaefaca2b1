package spatial

import (
	"sort"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"github.com/noisemap/noisemap/internal/geo"
)

// minExtent inflates zero-area envelopes (points, axis-aligned segments) so
// the R-tree always stores a proper box.
const minExtent = 1e-9

// treeEntry is what the R-tree stores: the envelope plus the caller's id.
// The embedded geom.Geom is the entry's box and gives it Bounds().
type treeEntry struct {
	geom.Geom
	env geo.Envelope
	id  int
}

// TreeIndex is an adaptive R-tree index. Unlike GridIndex it needs no
// envelope up front and supports removal, which the obstacle merge relies on.
type TreeIndex struct {
	tree    *rtree.Rtree
	entries map[int]*treeEntry
}

func NewTreeIndex() *TreeIndex {
	return &TreeIndex{
		tree:    rtree.NewTree(25, 50),
		entries: make(map[int]*treeEntry),
	}
}

func toBounds(env geo.Envelope) *geom.Bounds {
	if env.Width() < minExtent {
		env.MinX -= minExtent
		env.MaxX += minExtent
	}
	if env.Height() < minExtent {
		env.MinY -= minExtent
		env.MaxY += minExtent
	}
	return env.Bounds()
}

// Insert stores id. Inserting an id that is already present replaces it.
func (t *TreeIndex) Insert(env geo.Envelope, id int) {
	if old, ok := t.entries[id]; ok {
		t.tree.Delete(old)
	}
	e := &treeEntry{Geom: toBounds(env), env: env, id: id}
	t.entries[id] = e
	t.tree.Insert(e)
}

// Remove deletes the entry stored under id. It reports whether it existed.
func (t *TreeIndex) Remove(id int) bool {
	e, ok := t.entries[id]
	if !ok {
		return false
	}
	delete(t.entries, id)
	t.tree.Delete(e)
	return true
}

func (t *TreeIndex) Query(env geo.Envelope) []int {
	// The tree's own overlap test may treat touching boxes as disjoint;
	// search a slightly larger box and filter exactly.
	q := env.ExpandBy(minExtent).Bounds()
	hits := t.tree.SearchIntersect(q)
	result := make([]int, 0, len(hits))
	for _, h := range hits {
		e, ok := h.(*treeEntry)
		if !ok {
			continue
		}
		if live, ok := t.entries[e.id]; !ok || live != e {
			continue
		}
		if !e.env.Intersects(env) {
			continue
		}
		result = append(result, e.id)
	}
	sort.Ints(result)
	return result
}

func (t *TreeIndex) Len() int {
	return len(t.entries)
}
