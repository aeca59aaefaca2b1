package propagation

import (
	"github.com/noisemap/noisemap/internal/geo"
	"github.com/noisemap/noisemap/internal/obstruction"
)

// MirrorReceiver is one image of the receiver. Records form a forest
// through ParentIndex (-1 for an image of the receiver itself); the depth
// of a record is its reflection order. WallID indexes the wall list the
// records were built from.
type MirrorReceiver struct {
	Position    geo.Coord
	ParentIndex int
	WallID      int
}

// MirroredReceivers enumerates the images of receiver across walls, up to
// maxOrder reflections. A point is mirrored only across walls closer than
// maxDist that face it, and never straight back across the wall that
// produced it.
func MirroredReceivers(receiver geo.Coord, walls []obstruction.Wall, maxOrder int, maxDist float64) []MirrorReceiver {
	if maxOrder <= 0 || len(walls) == 0 {
		return nil
	}
	var out []MirrorReceiver
	var walk func(pos geo.Coord, parent, parentWall, depth int)
	walk = func(pos geo.Coord, parent, parentWall, depth int) {
		for w, wall := range walls {
			if w == parentWall {
				continue
			}
			s := wall.Segment
			if s.Distance(pos) >= maxDist {
				continue
			}
			if geo.SignedDistance(s.P0, s.P1, pos) <= 0 {
				continue
			}
			out = append(out, MirrorReceiver{Position: s.Mirror(pos), ParentIndex: parent, WallID: w})
			if depth+1 < maxOrder {
				walk(out[len(out)-1].Position, len(out)-1, w, depth+1)
			}
		}
	}
	walk(receiver, -1, -1, 0)
	return out
}

// order returns the reflection order of record i.
func order(records []MirrorReceiver, i int) int {
	n := 0
	for ; i >= 0; i = records[i].ParentIndex {
		n++
	}
	return n
}
