package spatial

import (
	"math"
	"sort"

	"github.com/noisemap/noisemap/internal/geo"
)

// GridIndex is a fixed rows×cols bucket grid over a known envelope. Entries
// extending past the envelope are clamped into the border buckets, so no
// intersecting entry is ever missed.
// Not safe for concurrent writes; concurrent Query calls are fine once
// loading is done.
type GridIndex struct {
	env        geo.Envelope
	rows, cols int
	cellW      float64
	cellH      float64
	cells      [][]int // row-major bucket → ids
	envs       map[int]geo.Envelope
}

// NewGridIndex creates a grid over env. rows and cols are clamped to ≥ 1.
func NewGridIndex(env geo.Envelope, rows, cols int) *GridIndex {
	if rows < 1 {
		rows = 1
	}
	if cols < 1 {
		cols = 1
	}
	w := env.Width() / float64(cols)
	h := env.Height() / float64(rows)
	if w <= 0 {
		w = 1
	}
	if h <= 0 {
		h = 1
	}
	return &GridIndex{
		env:   env,
		rows:  rows,
		cols:  cols,
		cellW: w,
		cellH: h,
		cells: make([][]int, rows*cols),
		envs:  make(map[int]geo.Envelope),
	}
}

// NewGridIndexFor sizes the grid so that each bucket holds roughly
// perCell entries when n entries are spread evenly.
func NewGridIndexFor(env geo.Envelope, n, perCell int) *GridIndex {
	if perCell < 1 {
		perCell = 1
	}
	side := int(math.Ceil(math.Sqrt(float64(n) / float64(perCell))))
	return NewGridIndex(env, side, side)
}

func (g *GridIndex) toCol(x float64) int {
	c := int(math.Floor((x - g.env.MinX) / g.cellW))
	return min(max(c, 0), g.cols-1)
}

func (g *GridIndex) toRow(y float64) int {
	r := int(math.Floor((y - g.env.MinY) / g.cellH))
	return min(max(r, 0), g.rows-1)
}

// Insert adds id to every bucket overlapped by env.
func (g *GridIndex) Insert(env geo.Envelope, id int) {
	g.envs[id] = env
	c0, c1 := g.toCol(env.MinX), g.toCol(env.MaxX)
	r0, r1 := g.toRow(env.MinY), g.toRow(env.MaxY)
	for r := r0; r <= r1; r++ {
		for c := c0; c <= c1; c++ {
			k := r*g.cols + c
			g.cells[k] = append(g.cells[k], id)
		}
	}
}

// Query returns the ids whose envelope intersects env.
func (g *GridIndex) Query(env geo.Envelope) []int {
	// Queries outside the grid envelope still scan the clamped border
	// buckets, which hold any entries that lie outside it too.
	c0, c1 := g.toCol(env.MinX), g.toCol(env.MaxX)
	r0, r1 := g.toRow(env.MinY), g.toRow(env.MaxY)
	seen := make(map[int]struct{})
	var result []int
	for r := r0; r <= r1; r++ {
		for c := c0; c <= c1; c++ {
			for _, id := range g.cells[r*g.cols+c] {
				if _, ok := seen[id]; ok {
					continue
				}
				seen[id] = struct{}{}
				if g.envs[id].Intersects(env) {
					result = append(result, id)
				}
			}
		}
	}
	sort.Ints(result)
	return result
}

func (g *GridIndex) Len() int {
	return len(g.envs)
}
