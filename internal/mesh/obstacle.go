package mesh

import (
	"math"
	"sort"

	"github.com/ctessum/geom"
	"github.com/noisemap/noisemap/internal/geo"
	"github.com/noisemap/noisemap/internal/spatial"
	"go.uber.org/zap"
)

// minRingArea is the area below which a ring is considered degenerate.
const minRingArea = 1e-6

// Obstacle is a building footprint. The first ring is the outer boundary,
// any further rings are holes (courtyards). Weight is an optional positive
// scalar such as the building height, carried through merges as a minimum.
type Obstacle struct {
	ID     int
	Weight float64
	Rings  [][]geo.Coord
}

func (o Obstacle) polygon() geom.Polygon {
	poly := make(geom.Polygon, 0, len(o.Rings))
	for _, ring := range o.Rings {
		path := make([]geom.Point, 0, len(ring))
		for _, c := range ring {
			path = append(path, c.Point())
		}
		poly = append(poly, path)
	}
	return poly
}

func fromPolygon(id int, weight float64, poly geom.Polygon) Obstacle {
	o := Obstacle{ID: id, Weight: weight}
	for _, path := range poly {
		ring := make([]geo.Coord, 0, len(path))
		for _, p := range path {
			ring = append(ring, geo.FromPoint(p))
		}
		o.Rings = append(o.Rings, ring)
	}
	return o
}

// Envelope of all rings.
func (o Obstacle) Envelope() geo.Envelope {
	e := geo.EmptyEnvelope()
	for _, ring := range o.Rings {
		for _, c := range ring {
			e = e.ExpandToInclude(c)
		}
	}
	return e
}

// Segments returns every ring edge, closing open rings.
func (o Obstacle) Segments() []geo.Segment {
	var out []geo.Segment
	for _, ring := range o.Rings {
		n := len(ring)
		if n < 2 {
			continue
		}
		for i := 0; i < n; i++ {
			a, b := ring[i], ring[(i+1)%n]
			if i == n-1 && a.Equals2D(ring[0], 0) {
				break
			}
			if a.Equals2D(b, 0) {
				continue
			}
			out = append(out, geo.Segment{P0: a, P1: b})
		}
	}
	return out
}

func ringArea(ring []geo.Coord) float64 {
	var s float64
	n := len(ring)
	for i := 0; i < n; i++ {
		a, b := ring[i], ring[(i+1)%n]
		s += a.X*b.Y - b.X*a.Y
	}
	return math.Abs(s) / 2
}

func distinctCount(ring []geo.Coord) int {
	seen := make(map[[2]float64]struct{}, len(ring))
	for _, c := range ring {
		seen[[2]float64{c.X, c.Y}] = struct{}{}
	}
	return len(seen)
}

// clean drops degenerate rings. It reports false when the outer ring itself
// is unusable and the whole obstacle must be skipped.
func clean(o Obstacle, log *zap.Logger) (Obstacle, bool) {
	if len(o.Rings) == 0 {
		log.Warn("obstacle without rings dropped", zap.Int("obstacle", o.ID))
		return o, false
	}
	out := Obstacle{ID: o.ID, Weight: o.Weight}
	for i, ring := range o.Rings {
		if distinctCount(ring) < 3 || ringArea(ring) < minRingArea {
			if i == 0 {
				log.Warn("degenerate obstacle dropped", zap.Int("obstacle", o.ID))
				return o, false
			}
			log.Warn("degenerate hole dropped", zap.Int("obstacle", o.ID), zap.Int("ring", i))
			continue
		}
		out.Rings = append(out.Rings, ring)
	}
	return out, true
}

// MergeObstacles unions overlapping obstacles into non-overlapping compound
// obstacles. A merged obstacle keeps the smallest id and the smallest weight
// of its parts. Ids are labels only: obstacles sharing an id, or without
// one, are kept apart. Output is sorted by id, then input order.
func MergeObstacles(obstacles []Obstacle, log *zap.Logger) []Obstacle {
	sorted := make([]Obstacle, 0, len(obstacles))
	for _, o := range obstacles {
		if c, ok := clean(o, log); ok {
			sorted = append(sorted, c)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	// Keys follow the sorted order, so the smallest key of a merge also
	// carries the smallest id.
	index := spatial.NewTreeIndex()
	live := make(map[int]*mergeItem, len(sorted))
	for key, o := range sorted {
		cur := &mergeItem{key: key, id: o.ID, weight: o.Weight, poly: o.polygon()}
		for {
			merged := false
			for _, cand := range index.Query(cur.envelope()) {
				other := live[cand]
				if !overlaps(cur.poly, other.poly) {
					continue
				}
				u, ok := cur.poly.Union(other.poly).(geom.Polygon)
				if !ok || u.Area() <= 0 {
					continue
				}
				index.Remove(cand)
				delete(live, cand)
				cur = &mergeItem{
					key:    min(cur.key, other.key),
					id:     min(cur.id, other.id),
					weight: minWeight(cur.weight, other.weight),
					poly:   u,
				}
				merged = true
				log.Debug("obstacles merged", zap.Int("into", cur.id), zap.Int("from", other.id))
				break
			}
			if !merged {
				break
			}
		}
		live[cur.key] = cur
		index.Insert(cur.envelope(), cur.key)
	}

	keys := make([]int, 0, len(live))
	for k := range live {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make([]Obstacle, 0, len(keys))
	for _, k := range keys {
		it := live[k]
		out = append(out, fromPolygon(it.id, it.weight, it.poly))
	}
	return out
}

type mergeItem struct {
	key    int
	id     int
	weight float64
	poly   geom.Polygon
}

func (m *mergeItem) envelope() geo.Envelope {
	return geo.FromBounds(m.poly.Bounds())
}

func overlaps(a, b geom.Polygon) bool {
	if !a.Bounds().Overlaps(b.Bounds()) {
		return false
	}
	return a.Intersection(b).Area() > minRingArea
}

// minWeight ignores unset (zero) weights.
func minWeight(a, b float64) float64 {
	switch {
	case a <= 0:
		return b
	case b <= 0:
		return a
	}
	return math.Min(a, b)
}

// obstacleSet answers containment queries against merged obstacles.
type obstacleSet struct {
	polys []geom.Polygon
	index *spatial.TreeIndex
}

func newObstacleSet(obstacles []Obstacle) *obstacleSet {
	s := &obstacleSet{
		polys: make([]geom.Polygon, len(obstacles)),
		index: spatial.NewTreeIndex(),
	}
	for i, o := range obstacles {
		s.polys[i] = o.polygon()
		s.index.Insert(o.Envelope(), i)
	}
	return s
}

// inside reports whether c lies strictly inside any obstacle.
func (s *obstacleSet) inside(c geo.Coord) bool {
	for _, i := range s.index.Query(geo.EnvelopeOf(c)) {
		if c.Point().Within(s.polys[i]) == geom.Inside {
			return true
		}
	}
	return false
}

// containing returns the tag of the obstacle holding the triangle (a, b, c):
// all three vertices inside or on its boundary and the centroid strictly
// inside. Tags are 1 + the obstacle's position in the set; 0 means no
// obstacle qualifies.
func (s *obstacleSet) containing(a, b, c geo.Coord) int {
	env := geo.EnvelopeOf(a, b, c)
	ct := geo.Centroid(a, b, c)
	for _, i := range s.index.Query(env) {
		poly := s.polys[i]
		if a.Point().Within(poly) == geom.Outside ||
			b.Point().Within(poly) == geom.Outside ||
			c.Point().Within(poly) == geom.Outside {
			continue
		}
		if ct.Point().Within(poly) != geom.Inside {
			continue
		}
		return i + 1
	}
	return 0
}
