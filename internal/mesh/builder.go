package mesh

import (
	"fmt"
	"sort"

	"github.com/noisemap/noisemap/internal/geo"
	"github.com/noisemap/noisemap/internal/spatial"
	"go.uber.org/zap"
)

// Options control triangulation quality.
type Options struct {
	// MergeTolerance is the distance under which two inserted vertices are
	// considered the same vertex.
	MergeTolerance float64
	// MaxTriangleArea enables refinement of free-field triangles larger
	// than this area. Zero disables refinement.
	MaxTriangleArea float64
	// MaxSteinerPoints caps the number of refinement vertices.
	MaxSteinerPoints int
	// PreMerged skips the obstacle union when the caller already merged
	// the obstacle set.
	PreMerged bool
}

// DefaultOptions are used by NewBuilder when zero values are given.
var DefaultOptions = Options{
	MergeTolerance:   1e-3,
	MaxSteinerPoints: 100000,
}

// Builder collects obstacles and extra vertices for one envelope and
// produces a Mesh.
type Builder struct {
	env       geo.Envelope
	opts      Options
	obstacles []Obstacle
	topo      []geo.Coord
	seeds     []geo.Coord
	log       *zap.Logger
}

func NewBuilder(env geo.Envelope, opts Options, log *zap.Logger) *Builder {
	if opts.MergeTolerance <= 0 {
		opts.MergeTolerance = DefaultOptions.MergeTolerance
	}
	if opts.MaxSteinerPoints <= 0 {
		opts.MaxSteinerPoints = DefaultOptions.MaxSteinerPoints
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Builder{env: env, opts: opts, log: log}
}

// AddObstacle registers a polygon obstacle.
func (b *Builder) AddObstacle(o Obstacle) {
	b.obstacles = append(b.obstacles, o)
}

// AddTopoPoint adds a free vertex, ignored when outside the envelope.
func (b *Builder) AddTopoPoint(c geo.Coord) {
	b.topo = append(b.topo, c)
}

// AddSeed adds a vertex inserted before any other, used to share border
// vertices between neighbouring cells. Seeds win every merge with later
// vertices.
func (b *Builder) AddSeed(c geo.Coord) {
	b.seeds = append(b.seeds, c)
}

type constraint struct {
	seg  geo.Segment
	wall int
}

// Build triangulates the envelope with every obstacle boundary as a
// constraint, then tags triangles and cuts adjacency across walls.
func (b *Builder) Build() (*Mesh, error) {
	obstacles := b.obstacles
	if !b.opts.PreMerged {
		obstacles = MergeObstacles(obstacles, b.log)
	}
	set := newObstacleSet(obstacles)

	var cons []constraint
	corners := b.env.Corners()
	for i := 0; i < 4; i++ {
		cons = append(cons, constraint{seg: geo.Segment{P0: corners[i], P1: corners[(i+1)%4]}})
	}
	for k, o := range obstacles {
		for _, s := range o.Segments() {
			clipped, ok := s.ClipTo(b.env)
			if !ok || clipped.Length() <= b.opts.MergeTolerance {
				continue
			}
			cons = append(cons, constraint{seg: clipped, wall: k + 1})
		}
	}
	cons = splitCrossings(cons, b.env)

	tr := newTriangulation(b.env, b.opts.MergeTolerance)
	for _, c := range corners {
		if _, err := tr.insert(c); err != nil {
			return nil, err
		}
	}
	seeds := append([]geo.Coord(nil), b.seeds...)
	sort.Slice(seeds, func(i, j int) bool {
		if seeds[i].X != seeds[j].X {
			return seeds[i].X < seeds[j].X
		}
		return seeds[i].Y < seeds[j].Y
	})
	for _, s := range seeds {
		if !b.env.Contains(s) {
			continue
		}
		if _, err := tr.insert(s); err != nil {
			return nil, err
		}
	}
	ends := make([][2]int, len(cons))
	for i, c := range cons {
		a, err := tr.insert(c.seg.P0)
		if err != nil {
			return nil, err
		}
		z, err := tr.insert(c.seg.P1)
		if err != nil {
			return nil, err
		}
		ends[i] = [2]int{a, z}
	}
	for _, p := range b.topo {
		if !b.env.Contains(p) {
			continue
		}
		if _, err := tr.insert(p); err != nil {
			return nil, err
		}
	}
	for i, e := range ends {
		if err := tr.insertConstraint(e[0], e[1]); err != nil {
			return nil, fmt.Errorf("constraint %d (%v): %w", i, cons[i].seg, err)
		}
	}

	if b.opts.MaxTriangleArea > 0 {
		if err := b.refine(tr, set); err != nil {
			return nil, err
		}
	}

	verts, tris := tr.result()
	m := &Mesh{Envelope: b.env, Vertices: verts, Triangles: tris, Obstacles: obstacles}
	tagAndCut(m, set)
	b.log.Debug("mesh built",
		zap.Int("vertices", len(m.Vertices)),
		zap.Int("triangles", len(m.Triangles)),
		zap.Int("obstacles", len(obstacles)),
	)
	return m, nil
}

func (b *Builder) refine(tr *triangulation, set *obstacleSet) error {
	inserted := 0
	free := func(c geo.Coord) bool { return !set.inside(c) }
	for inserted < b.opts.MaxSteinerPoints {
		cands := tr.largeTriangles(b.opts.MaxTriangleArea, free)
		if len(cands) == 0 {
			return nil
		}
		before := len(tr.pts)
		for _, c := range cands {
			if inserted >= b.opts.MaxSteinerPoints {
				break
			}
			if _, err := tr.insert(c); err != nil {
				return err
			}
			inserted++
		}
		if len(tr.pts) == before {
			// Every candidate merged into an existing vertex.
			return nil
		}
	}
	b.log.Warn("steiner point cap reached, refinement stopped",
		zap.Int("cap", b.opts.MaxSteinerPoints),
		zap.Float64("max_triangle_area", b.opts.MaxTriangleArea),
	)
	return nil
}

// splitCrossings splits every pair of properly crossing constraints at
// their intersection point.
func splitCrossings(cons []constraint, env geo.Envelope) []constraint {
	idx := spatial.NewGridIndexFor(env, len(cons), 8)
	for i, c := range cons {
		idx.Insert(c.seg.Envelope(), i)
	}
	cuts := make([][]float64, len(cons))
	for i, c := range cons {
		for _, j := range idx.Query(c.seg.Envelope()) {
			if j <= i {
				continue
			}
			_, ti, tj, ok := c.seg.Intersection(cons[j].seg, 0)
			if !ok {
				continue
			}
			const e = 1e-9
			if ti > e && ti < 1-e {
				cuts[i] = append(cuts[i], ti)
			}
			if tj > e && tj < 1-e {
				cuts[j] = append(cuts[j], tj)
			}
		}
	}
	var out []constraint
	for i, c := range cons {
		if len(cuts[i]) == 0 {
			out = append(out, c)
			continue
		}
		ts := cuts[i]
		sort.Float64s(ts)
		prev := c.seg.P0
		for _, t := range ts {
			p := c.seg.PointAt(t)
			out = append(out, constraint{seg: geo.Segment{P0: prev, P1: p}, wall: c.wall})
			prev = p
		}
		out = append(out, constraint{seg: geo.Segment{P0: prev, P1: c.seg.P1}, wall: c.wall})
	}
	return out
}

// tagAndCut assigns the containing obstacle to every triangle and removes
// adjacency across edges separating different tags. Free triangles record
// the bounding obstacle in Wall.
func tagAndCut(m *Mesh, set *obstacleSet) {
	for i := range m.Triangles {
		a, b, c := m.Coords(i)
		m.Triangles[i].Tag = set.containing(a, b, c)
	}
	type cut struct{ tri, edge, wall int }
	var cuts []cut
	for i, t := range m.Triangles {
		for e, n := range t.N {
			if n == NoNeighbor {
				continue
			}
			other := m.Triangles[n].Tag
			if other == t.Tag {
				continue
			}
			wall := other
			if t.Tag != 0 {
				wall = t.Tag
			}
			cuts = append(cuts, cut{tri: i, edge: e, wall: wall})
		}
	}
	for _, c := range cuts {
		m.Triangles[c.tri].N[c.edge] = NoNeighbor
		m.Triangles[c.tri].Wall[c.edge] = c.wall
	}
}
