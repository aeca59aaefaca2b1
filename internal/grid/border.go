package grid

import (
	"sort"

	"github.com/noisemap/noisemap/internal/geo"
)

// borderKey names the line between two neighbouring cells. For a vertical
// border Index is the column on its right; for a horizontal border it is
// the row above it. Span is the row (vertical) or column (horizontal) the
// border piece belongs to.
type borderKey struct {
	Vertical bool
	Index    int
	Span     int
}

// BorderRegistry collects the vertices each cell snapped onto a shared
// border during the first pass. It is filled by the first pass only and
// read by the second pass once the first pass has completed; it is not
// synchronised.
type BorderRegistry struct {
	verts map[borderKey][]geo.Coord
}

func NewBorderRegistry() *BorderRegistry {
	return &BorderRegistry{verts: make(map[borderKey][]geo.Coord)}
}

func (b *BorderRegistry) register(k borderKey, c geo.Coord) {
	b.verts[k] = append(b.verts[k], c)
}

// Len is the number of registered vertices, duplicates included.
func (b *BorderRegistry) Len() int {
	n := 0
	for _, v := range b.verts {
		n += len(v)
	}
	return n
}

// seeds returns the sorted, deduplicated union of the vertices registered
// on the given borders. Two cells sharing a border get the same vertices
// for it in the same order.
func (b *BorderRegistry) seeds(keys []borderKey) []geo.Coord {
	var out []geo.Coord
	for _, k := range keys {
		out = append(out, b.verts[k]...)
	}
	sortCoords(out)
	uniq := out[:0]
	for _, c := range out {
		if n := len(uniq); n > 0 && c.X == uniq[n-1].X && c.Y == uniq[n-1].Y {
			continue
		}
		uniq = append(uniq, c)
	}
	return uniq
}

func sortCoords(cs []geo.Coord) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].X != cs[j].X {
			return cs[i].X < cs[j].X
		}
		return cs[i].Y < cs[j].Y
	})
}
