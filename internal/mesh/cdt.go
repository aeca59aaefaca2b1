package mesh

import (
	"fmt"
	"math"
	"sort"

	"github.com/noisemap/noisemap/internal/geo"
)

// superCount is the number of bounding super-triangle vertices occupying the
// first slots of the vertex list during construction.
const superCount = 3

type edgeKey struct{ a, b int }

func keyOf(a, b int) edgeKey {
	if a > b {
		a, b = b, a
	}
	return edgeKey{a, b}
}

type cdtTri struct {
	v [3]int
	n [3]int
}

func (t *cdtTri) indexOf(v int) int {
	for i, x := range t.v {
		if x == v {
			return i
		}
	}
	return -1
}

func (t *cdtTri) neighborIndex(n int) int {
	for i, x := range t.n {
		if x == n {
			return i
		}
	}
	return -1
}

// triangulation is an incremental constrained Delaunay triangulation.
// Points are inserted by locating their triangle, splitting it (or the edge
// they fall on) and restoring the Delaunay property with Lawson flips that
// never cross a constrained edge. Constraint segments are then recovered by
// flipping the edges they cross.
type triangulation struct {
	env         geo.Envelope
	pts         []geo.Coord
	tris        []cdtTri
	vertTri     []int
	constrained map[edgeKey]struct{}
	hash        *vertexHash
	tol         float64
	last        int
}

func newTriangulation(env geo.Envelope, tol float64) *triangulation {
	if tol <= 0 {
		tol = 1e-6
	}
	size := math.Max(env.Width(), env.Height())
	if size <= 0 {
		size = 1
	}
	c := env.Center()
	m := size * 10
	t := &triangulation{
		env: env,
		pts: []geo.Coord{
			{X: c.X - 20*m, Y: c.Y - m},
			{X: c.X + 20*m, Y: c.Y - m},
			{X: c.X, Y: c.Y + 20*m},
		},
		tris:        []cdtTri{{v: [3]int{0, 1, 2}, n: [3]int{NoNeighbor, NoNeighbor, NoNeighbor}}},
		vertTri:     []int{0, 0, 0},
		constrained: make(map[edgeKey]struct{}),
		hash:        newVertexHash(tol),
		tol:         tol,
	}
	return t
}

func (t *triangulation) isConstrained(a, b int) bool {
	_, ok := t.constrained[keyOf(a, b)]
	return ok
}

func (t *triangulation) addTri(v [3]int, n [3]int) int {
	t.tris = append(t.tris, cdtTri{v: v, n: n})
	return len(t.tris) - 1
}

func (t *triangulation) replaceNeighbor(ti, old, repl int) {
	if ti < 0 {
		return
	}
	if k := t.tris[ti].neighborIndex(old); k >= 0 {
		t.tris[ti].n[k] = repl
	}
}

// locate walks from the last inserted triangle towards p and returns the
// triangle containing it.
func (t *triangulation) locate(p geo.Coord) (int, error) {
	cur := t.last
	if cur < 0 || cur >= len(t.tris) {
		cur = 0
	}
	limit := len(t.tris) + 16
	for step := 0; step < limit; step++ {
		tri := &t.tris[cur]
		moved := false
		// Rotate the starting edge with the step counter so the walk
		// cannot cycle between two orientation choices.
		for k := 0; k < 3; k++ {
			i := (k + step) % 3
			a := t.pts[tri.v[(i+1)%3]]
			b := t.pts[tri.v[(i+2)%3]]
			if geo.Orient(a, b, p) < 0 {
				if tri.n[i] == NoNeighbor {
					return -1, fmt.Errorf("%w: point (%g, %g) outside the triangulation", ErrTriangulation, p.X, p.Y)
				}
				cur = tri.n[i]
				moved = true
				break
			}
		}
		if !moved {
			return cur, nil
		}
	}
	for i := range t.tris {
		tri := &t.tris[i]
		if geo.InTriangle(t.pts[tri.v[0]], t.pts[tri.v[1]], t.pts[tri.v[2]], p, 1e-12) {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: cannot locate point (%g, %g)", ErrTriangulation, p.X, p.Y)
}

// insert adds p and returns its vertex index. A point within the merge
// tolerance of an existing vertex returns that vertex instead.
func (t *triangulation) insert(p geo.Coord) (int, error) {
	if idx, ok := t.hash.find(t.pts, p); ok {
		return idx, nil
	}
	ti, err := t.locate(p)
	if err != nil {
		return -1, err
	}
	tri := t.tris[ti]
	for _, v := range tri.v {
		if v >= superCount && t.pts[v].Distance(p) <= t.tol {
			return v, nil
		}
	}
	idx := len(t.pts)
	t.pts = append(t.pts, p)
	t.vertTri = append(t.vertTri, ti)
	t.hash.add(p, idx)

	onEdge := -1
	for i := 0; i < 3; i++ {
		a := t.pts[tri.v[(i+1)%3]]
		b := t.pts[tri.v[(i+2)%3]]
		if math.Abs(geo.SignedDistance(a, b, p)) <= t.tol*1e-3 {
			onEdge = i
			break
		}
	}
	if onEdge >= 0 {
		t.splitEdge(ti, onEdge, idx)
	} else {
		t.splitTriangle(ti, idx)
	}
	t.last = ti
	return idx, nil
}

func (t *triangulation) splitTriangle(ti, p int) {
	tri := t.tris[ti]
	a, b, c := tri.v[0], tri.v[1], tri.v[2]
	na, nb, nc := tri.n[0], tri.n[1], tri.n[2]
	t1 := len(t.tris)
	t2 := t1 + 1
	t.tris[ti] = cdtTri{v: [3]int{p, b, c}, n: [3]int{na, t1, t2}}
	t.addTri([3]int{p, c, a}, [3]int{nb, t2, ti})
	t.addTri([3]int{p, a, b}, [3]int{nc, ti, t1})
	t.replaceNeighbor(nb, ti, t1)
	t.replaceNeighbor(nc, ti, t2)
	t.vertTri[p], t.vertTri[b], t.vertTri[c] = ti, ti, ti
	t.vertTri[a] = t1
	t.legalize(p, []int{ti, t1, t2})
}

// splitEdge inserts p on the edge opposite local vertex i of triangle ti.
func (t *triangulation) splitEdge(ti, i, p int) {
	tri := t.tris[ti]
	a := tri.v[i]
	b := tri.v[(i+1)%3]
	c := tri.v[(i+2)%3]
	na := tri.n[i]
	xca := tri.n[(i+1)%3]
	xab := tri.n[(i+2)%3]

	wasConstrained := t.isConstrained(b, c)
	if wasConstrained {
		delete(t.constrained, keyOf(b, c))
		t.constrained[keyOf(b, p)] = struct{}{}
		t.constrained[keyOf(p, c)] = struct{}{}
	}

	t1 := len(t.tris)
	if na == NoNeighbor {
		t.tris[ti] = cdtTri{v: [3]int{p, a, b}, n: [3]int{xab, NoNeighbor, t1}}
		t.addTri([3]int{p, c, a}, [3]int{xca, ti, NoNeighbor})
		t.replaceNeighbor(xca, ti, t1)
		t.vertTri[p], t.vertTri[a], t.vertTri[b] = ti, ti, ti
		t.vertTri[c] = t1
		t.legalize(p, []int{ti, t1})
		return
	}

	nt := t.tris[na]
	j := nt.neighborIndex(ti)
	d := nt.v[j]
	ybd := nt.n[(j+1)%3]
	ydc := nt.n[(j+2)%3]
	n1 := t1 + 1

	t.tris[ti] = cdtTri{v: [3]int{p, a, b}, n: [3]int{xab, na, t1}}
	t.addTri([3]int{p, c, a}, [3]int{xca, ti, n1})
	t.tris[na] = cdtTri{v: [3]int{p, b, d}, n: [3]int{ybd, n1, ti}}
	t.addTri([3]int{p, d, c}, [3]int{ydc, t1, na})
	t.replaceNeighbor(xca, ti, t1)
	t.replaceNeighbor(ydc, na, n1)
	t.vertTri[p], t.vertTri[a], t.vertTri[b] = ti, ti, ti
	t.vertTri[c] = t1
	t.vertTri[d] = na
	t.legalize(p, []int{ti, t1, na, n1})
}

// flip swaps the diagonal shared by triangle ti (across the edge opposite
// its local vertex i) and its neighbor. Afterwards ti = (p, a, q) and the
// neighbor = (p, q, b), where p = old v[i] and q the neighbor's apex.
func (t *triangulation) flip(ti, i int) int {
	tri := t.tris[ti]
	p := tri.v[i]
	a := tri.v[(i+1)%3]
	b := tri.v[(i+2)%3]
	ni := tri.n[i]
	nt := t.tris[ni]
	j := nt.neighborIndex(ti)
	q := nt.v[j]
	xbp := tri.n[(i+1)%3]
	xpa := tri.n[(i+2)%3]
	yaq := nt.n[(j+1)%3]
	yqb := nt.n[(j+2)%3]

	t.tris[ti] = cdtTri{v: [3]int{p, a, q}, n: [3]int{yaq, ni, xpa}}
	t.tris[ni] = cdtTri{v: [3]int{p, q, b}, n: [3]int{yqb, xbp, ti}}
	t.replaceNeighbor(yaq, ni, ti)
	t.replaceNeighbor(xbp, ti, ni)
	t.vertTri[p], t.vertTri[a], t.vertTri[q] = ti, ti, ti
	t.vertTri[b] = ni
	return ni
}

// legalize restores the Delaunay property around the freshly inserted
// vertex p, starting from the triangles in seeds.
func (t *triangulation) legalize(p int, seeds []int) {
	stack := append([]int(nil), seeds...)
	guard := 0
	for len(stack) > 0 && guard < 1<<22 {
		guard++
		ti := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		tri := t.tris[ti]
		i := tri.indexOf(p)
		if i < 0 {
			continue
		}
		ni := tri.n[i]
		if ni == NoNeighbor {
			continue
		}
		a, b := tri.v[(i+1)%3], tri.v[(i+2)%3]
		if t.isConstrained(a, b) {
			continue
		}
		nt := t.tris[ni]
		q := nt.v[nt.neighborIndex(ti)]
		if !t.illegal(tri.v, q) {
			continue
		}
		pp, pq := t.pts[p], t.pts[q]
		if geo.Orient(pp, pq, t.pts[a])*geo.Orient(pp, pq, t.pts[b]) >= 0 {
			continue
		}
		t.flip(ti, i)
		stack = append(stack, ti, ni)
	}
}

// illegal reports whether q lies inside the circumcircle of v. Quads
// involving super-triangle vertices keep the edge unless the real vertices
// demand otherwise, which keeps the far-away super vertices from skewing
// the predicate.
func (t *triangulation) illegal(v [3]int, q int) bool {
	if q < superCount {
		return false
	}
	return geo.InCircle(t.pts[v[0]], t.pts[v[1]], t.pts[v[2]], t.pts[q]) > 0
}

// around calls fn for each triangle incident to vertex u, rotating through
// neighbor links. It stops early when fn returns false.
func (t *triangulation) around(u int, fn func(ti, k int) bool) {
	start := t.vertTri[u]
	if t.tris[start].indexOf(u) < 0 {
		start = t.findIncident(u)
		if start < 0 {
			return
		}
		t.vertTri[u] = start
	}
	ti := start
	for guard := 0; guard <= len(t.tris); guard++ {
		k := t.tris[ti].indexOf(u)
		if !fn(ti, k) {
			return
		}
		next := t.tris[ti].n[(k+1)%3]
		if next == NoNeighbor || next == start {
			return
		}
		ti = next
	}
}

func (t *triangulation) findIncident(u int) int {
	for i := range t.tris {
		if t.tris[i].indexOf(u) >= 0 {
			return i
		}
	}
	return -1
}

// findEdge returns the triangle holding edge (u, v) and the local index of
// the vertex opposite that edge.
func (t *triangulation) findEdge(u, v int) (int, int, bool) {
	rt, ri, found := -1, -1, false
	t.around(u, func(ti, k int) bool {
		tri := t.tris[ti]
		switch {
		case tri.v[(k+1)%3] == v:
			rt, ri, found = ti, (k+2)%3, true
		case tri.v[(k+2)%3] == v:
			rt, ri, found = ti, (k+1)%3, true
		}
		return !found
	})
	return rt, ri, found
}

// onSegment reports whether vertex x lies strictly between a and b on the
// segment a-b, within the merge tolerance.
func (t *triangulation) onSegment(a, b, x int) bool {
	if x == a || x == b || x < superCount {
		return false
	}
	pa, pb, px := t.pts[a], t.pts[b], t.pts[x]
	if math.Abs(geo.SignedDistance(pa, pb, px)) > t.tol {
		return false
	}
	f := geo.Segment{P0: pa, P1: pb}.ProjectionFactor(px)
	return f > 0 && f < 1
}

// insertConstraint forces the segment a-b into the triangulation.
func (t *triangulation) insertConstraint(a, b int) error {
	return t.insertConstraintDepth(a, b, 0)
}

func (t *triangulation) insertConstraintDepth(a, b, depth int) error {
	if a == b {
		return nil
	}
	if depth > 4096 {
		return fmt.Errorf("%w: constraint split recursion", ErrTriangulation)
	}
	if _, _, ok := t.findEdge(a, b); ok {
		t.constrained[keyOf(a, b)] = struct{}{}
		return nil
	}
	pa, pb := t.pts[a], t.pts[b]

	split := -1
	cur, l, r := -1, -1, -1
	t.around(a, func(ti, k int) bool {
		tri := t.tris[ti]
		u := tri.v[(k+1)%3]
		w := tri.v[(k+2)%3]
		if t.onSegment(a, b, u) {
			split = u
			return false
		}
		if t.onSegment(a, b, w) {
			split = w
			return false
		}
		if geo.Orient(pa, pb, t.pts[u]) < 0 && geo.Orient(pa, pb, t.pts[w]) > 0 {
			cur, l, r = ti, w, u
			return false
		}
		return true
	})
	if split >= 0 {
		if err := t.insertConstraintDepth(a, split, depth+1); err != nil {
			return err
		}
		return t.insertConstraintDepth(split, b, depth+1)
	}
	if cur < 0 {
		return fmt.Errorf("%w: no triangle around vertex %d faces constraint", ErrTriangulation, a)
	}

	var crossing []edgeKey
	crossing = append(crossing, edgeKey{l, r})
	for guard := 0; ; guard++ {
		if guard > len(t.tris) {
			return fmt.Errorf("%w: constraint walk did not terminate", ErrTriangulation)
		}
		tri := t.tris[cur]
		opp := -1
		for i, v := range tri.v {
			if v != l && v != r {
				opp = i
			}
		}
		next := tri.n[opp]
		if next == NoNeighbor {
			return fmt.Errorf("%w: constraint leaves the triangulation", ErrTriangulation)
		}
		nt := t.tris[next]
		x := nt.v[nt.neighborIndex(cur)]
		if x == b {
			break
		}
		if t.onSegment(a, b, x) {
			split = x
			break
		}
		if geo.Orient(pa, pb, t.pts[x]) > 0 {
			l = x
		} else {
			r = x
		}
		crossing = append(crossing, edgeKey{l, r})
		cur = next
	}
	if split >= 0 {
		if err := t.insertConstraintDepth(a, split, depth+1); err != nil {
			return err
		}
		return t.insertConstraintDepth(split, b, depth+1)
	}

	var created []edgeKey
	queue := crossing
	limit := 64*len(crossing) + 1024
	for n := 0; len(queue) > 0; n++ {
		if n > limit {
			return fmt.Errorf("%w: constraint recovery did not converge", ErrTriangulation)
		}
		e := queue[0]
		queue = queue[1:]
		ti, i, ok := t.findEdge(e.a, e.b)
		if !ok {
			continue
		}
		tri := t.tris[ti]
		p := tri.v[i]
		nt := t.tris[tri.n[i]]
		q := nt.v[nt.neighborIndex(ti)]
		pp, pq := t.pts[p], t.pts[q]
		if geo.Orient(pp, pq, t.pts[e.a])*geo.Orient(pp, pq, t.pts[e.b]) >= 0 {
			// Quad not strictly convex: try again once others are flipped.
			queue = append(queue, e)
			continue
		}
		t.flip(ti, i)
		if p != a && p != b && q != a && q != b &&
			geo.Orient(pa, pb, pp)*geo.Orient(pa, pb, pq) < 0 {
			queue = append(queue, edgeKey{p, q})
		} else {
			created = append(created, edgeKey{p, q})
		}
	}
	t.constrained[keyOf(a, b)] = struct{}{}

	// Restore the Delaunay property on the edges created by recovery.
	for pass := 0; pass < 64; pass++ {
		changed := false
		for idx, e := range created {
			if t.isConstrained(e.a, e.b) {
				continue
			}
			ti, i, ok := t.findEdge(e.a, e.b)
			if !ok {
				continue
			}
			tri := t.tris[ti]
			ni := tri.n[i]
			if ni == NoNeighbor {
				continue
			}
			nt := t.tris[ni]
			q := nt.v[nt.neighborIndex(ti)]
			if !t.illegal(tri.v, q) {
				continue
			}
			p := tri.v[i]
			pp, pq := t.pts[p], t.pts[q]
			if geo.Orient(pp, pq, t.pts[e.a])*geo.Orient(pp, pq, t.pts[e.b]) >= 0 {
				continue
			}
			t.flip(ti, i)
			created[idx] = edgeKey{p, q}
			changed = true
		}
		if !changed {
			break
		}
	}
	return nil
}

// result drops the super-triangle and every triangle outside the envelope,
// then compacts vertex and triangle indices.
func (t *triangulation) result() ([]geo.Coord, []Triangle) {
	keep := make([]bool, len(t.tris))
	for i, tri := range t.tris {
		if tri.v[0] < superCount || tri.v[1] < superCount || tri.v[2] < superCount {
			continue
		}
		c := geo.Centroid(t.pts[tri.v[0]], t.pts[tri.v[1]], t.pts[tri.v[2]])
		if !t.env.Contains(c) {
			continue
		}
		keep[i] = true
	}
	triMap := make([]int, len(t.tris))
	count := 0
	for i := range t.tris {
		if keep[i] {
			triMap[i] = count
			count++
		} else {
			triMap[i] = NoNeighbor
		}
	}
	vertMap := make([]int, len(t.pts))
	for i := range vertMap {
		vertMap[i] = NoNeighbor
	}
	// Renumber vertices in insertion order to keep the output stable.
	used := make([]bool, len(t.pts))
	for i, tri := range t.tris {
		if keep[i] {
			for _, v := range tri.v {
				used[v] = true
			}
		}
	}
	verts := make([]geo.Coord, 0, len(t.pts)-superCount)
	for v := superCount; v < len(t.pts); v++ {
		if used[v] {
			vertMap[v] = len(verts)
			verts = append(verts, t.pts[v])
		}
	}
	out := make([]Triangle, 0, count)
	for i, tri := range t.tris {
		if !keep[i] {
			continue
		}
		var nt Triangle
		for k := 0; k < 3; k++ {
			nt.V[k] = vertMap[tri.v[k]]
			if tri.n[k] == NoNeighbor {
				nt.N[k] = NoNeighbor
			} else {
				nt.N[k] = triMap[tri.n[k]]
			}
		}
		out = append(out, nt)
	}
	return verts, out
}

// largeTriangles returns the live, in-envelope triangles whose area exceeds
// maxArea and whose centroid passes inDomain, largest first.
func (t *triangulation) largeTriangles(maxArea float64, inDomain func(geo.Coord) bool) []geo.Coord {
	type cand struct {
		c    geo.Coord
		area float64
	}
	var cands []cand
	for _, tri := range t.tris {
		if tri.v[0] < superCount || tri.v[1] < superCount || tri.v[2] < superCount {
			continue
		}
		a, b, c := t.pts[tri.v[0]], t.pts[tri.v[1]], t.pts[tri.v[2]]
		area := geo.TriangleArea(a, b, c)
		if area <= maxArea {
			continue
		}
		ct := geo.Centroid(a, b, c)
		if !t.env.Contains(ct) || (inDomain != nil && !inDomain(ct)) {
			continue
		}
		cands = append(cands, cand{c: ct, area: area})
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].area > cands[j].area })
	out := make([]geo.Coord, len(cands))
	for i, c := range cands {
		out[i] = c.c
	}
	return out
}

// vertexHash buckets vertices by tolerance-sized cells so that duplicate
// detection only inspects the 3x3 neighbourhood of a point.
type vertexHash struct {
	tol   float64
	cells map[[2]int64][]int
}

func newVertexHash(tol float64) *vertexHash {
	return &vertexHash{tol: tol, cells: make(map[[2]int64][]int)}
}

func (h *vertexHash) key(p geo.Coord) [2]int64 {
	return [2]int64{int64(math.Floor(p.X / h.tol)), int64(math.Floor(p.Y / h.tol))}
}

func (h *vertexHash) add(p geo.Coord, idx int) {
	k := h.key(p)
	h.cells[k] = append(h.cells[k], idx)
}

func (h *vertexHash) find(pts []geo.Coord, p geo.Coord) (int, bool) {
	k := h.key(p)
	best, bestD := -1, math.Inf(1)
	for dx := int64(-1); dx <= 1; dx++ {
		for dy := int64(-1); dy <= 1; dy++ {
			for _, idx := range h.cells[[2]int64{k[0] + dx, k[1] + dy}] {
				if d := pts[idx].Distance(p); d <= h.tol && d < bestD {
					best, bestD = idx, d
				}
			}
		}
	}
	return best, best >= 0
}
