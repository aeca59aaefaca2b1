package obstruction

import (
	"github.com/noisemap/noisemap/internal/geo"
	"github.com/noisemap/noisemap/internal/mesh"
)

// Wall is an obstacle edge seen from free field. The free side lies on
// the left of Segment. Tag is the mesh tag of the obstacle, ObstacleID its
// scene id.
type Wall struct {
	Segment    geo.Segment
	Tag        int
	ObstacleID int
}

// LimitsInRange collects every obstacle edge within maxDist of origin that
// can be reached through free field, exploring triangle adjacency depth
// first. Envelope edges are not walls.
func (t *Test) LimitsInRange(maxDist float64, origin geo.Coord) []Wall {
	start := t.Locate(origin)
	if start < 0 || !t.mesh.Triangles[start].Free() {
		return nil
	}
	var walls []Wall
	visited := map[int]struct{}{start: {}}
	stack := []int{start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		tri := t.mesh.Triangles[cur]
		for e := 0; e < 3; e++ {
			seg := t.mesh.EdgeSegment(cur, e)
			if seg.Distance(origin) > maxDist {
				continue
			}
			n := tri.N[e]
			if n == mesh.NoNeighbor {
				if tag := tri.Wall[e]; tag != 0 {
					o, _ := t.mesh.Obstacle(tag)
					walls = append(walls, Wall{Segment: seg, Tag: tag, ObstacleID: o.ID})
				}
				continue
			}
			if _, seen := visited[n]; seen {
				continue
			}
			visited[n] = struct{}{}
			stack = append(stack, n)
		}
	}
	return walls
}
