package obstruction

import (
	"math"
	"sort"

	"github.com/noisemap/noisemap/internal/geo"
	"github.com/noisemap/noisemap/internal/spatial"
)

// Corner is a vertex on an obstacle boundary whose open wedge is wide
// enough for sound to bend around it.
type Corner struct {
	// ID is the position of the corner in the list returned by
	// WideAngleCorners for the configured range.
	ID       int
	Vertex   int
	Position geo.Coord
	// AngleSum is the angle of the open wedge, the sum of the free
	// triangle angles around the vertex between two walls.
	AngleSum float64
	// Offset sits slightly inside the open wedge. Visibility tests start
	// from here instead of from the vertex on the wall.
	Offset geo.Coord
}

type wedgePart struct {
	tri      int
	from, to int // neighbour vertices, counter-clockwise around the corner
	angle    float64
}

// WideAngleCorners returns every corner whose open wedge lies in
// [minAngle, maxAngle]. A vertex where several obstacles meet can yield
// several corners, one per open wedge. Results are cached per range.
func (t *Test) WideAngleCorners(minAngle, maxAngle float64) []Corner {
	key := [2]float64{minAngle, maxAngle}
	if c, ok := t.corners[key]; ok {
		return c
	}
	m := t.mesh
	parts := make(map[int][]wedgePart)
	for i, tri := range m.Triangles {
		if !tri.Free() {
			continue
		}
		for k := 0; k < 3; k++ {
			v := tri.V[k]
			from, to := tri.V[(k+1)%3], tri.V[(k+2)%3]
			parts[v] = append(parts[v], wedgePart{
				tri:   i,
				from:  from,
				to:    to,
				angle: geo.Angle(m.Vertices[from], m.Vertices[v], m.Vertices[to]),
			})
		}
	}
	verts := make([]int, 0, len(parts))
	for v := range parts {
		verts = append(verts, v)
	}
	sort.Ints(verts)

	var out []Corner
	for _, v := range verts {
		for _, w := range t.openWedges(v, parts[v]) {
			if w.angle < minAngle || w.angle > maxAngle || !w.walled {
				continue
			}
			origin := m.Vertices[v]
			dir := w.start + w.angle/2
			out = append(out, Corner{
				ID:       len(out),
				Vertex:   v,
				Position: origin,
				AngleSum: w.angle,
				Offset: geo.Coord{
					X: origin.X + t.opts.CornerOffset*math.Cos(dir),
					Y: origin.Y + t.opts.CornerOffset*math.Sin(dir),
					Z: origin.Z,
				},
			})
		}
	}
	t.corners[key] = out
	return out
}

type wedge struct {
	start  float64 // azimuth of the first bounding edge
	angle  float64
	walled bool
}

// openWedges merges the contiguous free triangle fans around v. A fan that
// closes on itself surrounds v entirely and is not a wedge.
func (t *Test) openWedges(v int, parts []wedgePart) []wedge {
	byFrom := make(map[int]int, len(parts))
	isTo := make(map[int]bool, len(parts))
	for i, p := range parts {
		byFrom[p.from] = i
		isTo[p.to] = true
	}
	m := t.mesh
	var out []wedge
	for _, p := range parts {
		if isTo[p.from] {
			continue
		}
		// p opens a fan: follow it counter-clockwise.
		w := wedge{start: geo.Azimuth(m.Vertices[v], m.Vertices[p.from])}
		first := m.Triangles[p.tri]
		w.walled = first.Wall[first.VertexIndex(p.to)] != 0
		cur := p
		for steps := 0; steps <= len(parts); steps++ {
			w.angle += cur.angle
			nxt, ok := byFrom[cur.to]
			if !ok {
				break
			}
			cur = parts[nxt]
		}
		last := m.Triangles[cur.tri]
		if last.Wall[last.VertexIndex(cur.from)] != 0 {
			w.walled = true
		}
		out = append(out, w)
	}
	return out
}

// CornersInRange returns the corners within env using the configured wedge
// range.
func (t *Test) CornersInRange(env geo.Envelope) []Corner {
	all := t.WideAngleCorners(t.opts.MinCornerAngle, t.opts.MaxCornerAngle)
	if t.cornerIndex == nil {
		t.cornerIndex = spatial.NewGridIndexFor(t.mesh.Envelope, len(all), 4)
		for i, c := range all {
			t.cornerIndex.Insert(geo.EnvelopeOf(c.Position), i)
		}
	}
	ids := t.cornerIndex.Query(env)
	out := make([]Corner, 0, len(ids))
	for _, i := range ids {
		if env.Contains(all[i].Position) {
			out = append(out, all[i])
		}
	}
	return out
}
