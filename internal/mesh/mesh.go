// Package mesh builds the planar triangulations used by the visibility
// engine and by the receiver grid: obstacles are merged, their boundaries
// become constraints of a constrained Delaunay triangulation, and every
// triangle is tagged with the obstacle containing it.
package mesh

import (
	"errors"

	"github.com/noisemap/noisemap/internal/geo"
)

// NoNeighbor marks a triangle edge without an adjacent triangle.
const NoNeighbor = -1

// ErrTriangulation is returned when the triangulation cannot be completed.
// It is fatal for the cell being built.
var ErrTriangulation = errors.New("triangulation failed")

// Triangle references three vertices in counter-clockwise order. N[i] is the
// triangle across the edge opposite V[i], Wall[i] is the tag of the obstacle
// bounding that edge (0 when the edge is not a wall) and Tag is the tag of
// the obstacle containing the triangle (0 for free field). A tag t names
// Mesh.Obstacles[t-1].
type Triangle struct {
	V    [3]int
	N    [3]int
	Wall [3]int
	Tag  int
}

// Edge returns the vertex indices of the edge opposite V[i], ordered so that
// the triangle lies on the left of the edge.
func (t Triangle) Edge(i int) (int, int) {
	return t.V[(i+1)%3], t.V[(i+2)%3]
}

// NeighborIndex returns the local edge index whose neighbor is n, or -1.
func (t Triangle) NeighborIndex(n int) int {
	for i, v := range t.N {
		if v == n {
			return i
		}
	}
	return -1
}

// VertexIndex returns the local index of vertex v, or -1.
func (t Triangle) VertexIndex(v int) int {
	for i, x := range t.V {
		if x == v {
			return i
		}
	}
	return -1
}

// Free reports whether the triangle lies outside every obstacle.
func (t Triangle) Free() bool {
	return t.Tag == 0
}

// Mesh is an immutable triangulation: a flat vertex list and a flat triangle
// arena addressed by index.
type Mesh struct {
	Envelope  geo.Envelope
	Vertices  []geo.Coord
	Triangles []Triangle
	// Obstacles are the merged obstacles the tags refer to.
	Obstacles []Obstacle
}

// Obstacle returns the obstacle named by a triangle or wall tag.
func (m *Mesh) Obstacle(tag int) (Obstacle, bool) {
	if tag < 1 || tag > len(m.Obstacles) {
		return Obstacle{}, false
	}
	return m.Obstacles[tag-1], true
}

// Coords returns the three corner coordinates of triangle i.
func (m *Mesh) Coords(i int) (geo.Coord, geo.Coord, geo.Coord) {
	t := m.Triangles[i]
	return m.Vertices[t.V[0]], m.Vertices[t.V[1]], m.Vertices[t.V[2]]
}

// TriangleEnvelope is the bounding box of triangle i.
func (m *Mesh) TriangleEnvelope(i int) geo.Envelope {
	a, b, c := m.Coords(i)
	return geo.EnvelopeOf(a, b, c)
}

// EdgeSegment returns the edge opposite V[e] of triangle i as a segment with
// the triangle on its left.
func (m *Mesh) EdgeSegment(i, e int) geo.Segment {
	a, b := m.Triangles[i].Edge(e)
	return geo.Segment{P0: m.Vertices[a], P1: m.Vertices[b]}
}

// FreeTriangles returns the indices of the triangles with Tag 0.
func (m *Mesh) FreeTriangles() []int {
	out := make([]int, 0, len(m.Triangles))
	for i, t := range m.Triangles {
		if t.Free() {
			out = append(out, i)
		}
	}
	return out
}
