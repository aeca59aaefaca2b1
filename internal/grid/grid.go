// Package grid splits the study area into cells, stitches the receiver
// triangulations of neighbouring cells along their shared borders and
// prepares the input of each cell's propagation job.
package grid

import (
	"fmt"
	"math"

	"github.com/noisemap/noisemap/internal/geo"
	"github.com/noisemap/noisemap/internal/mesh"
	"github.com/noisemap/noisemap/internal/propagation"
	"github.com/noisemap/noisemap/internal/spatial"
	"go.uber.org/zap"
)

// MaxSubdivisionLevel bounds the grid to 4^8 cells.
const MaxSubdivisionLevel = 8

// Input is the whole scene of a run.
type Input struct {
	Envelope  geo.Envelope
	Obstacles []mesh.Obstacle
	Sources   []propagation.Source
	// Receivers switches the run to point mode when not empty.
	Receivers  []propagation.Receiver
	Topography []geo.Coord
	Bands      []float64
}

// Options configure the decomposition.
type Options struct {
	SubdivisionLevel int
	// SnapTolerance is the distance under which a first-pass vertex is
	// moved onto the border it is close to.
	SnapTolerance float64
	// Mesh configures receiver triangulation; Obstruction the obstacle
	// mesh. Refinement only applies to receiver meshes.
	Mesh        mesh.Options
	Obstruction mesh.Options
	Params      propagation.Params
}

// Cell is one tile of the study area. Halo is the envelope extended by the
// maximum source distance; everything inside it can reach the cell.
type Cell struct {
	ID       int
	Row, Col int
	Envelope geo.Envelope
	Halo     geo.Envelope
}

// Scheduler owns the scene for the run and hands out one CellData per cell.
type Scheduler struct {
	in        Input
	opts      Options
	side      int
	cells     []Cell
	obstacles []mesh.Obstacle
	obstIdx   *spatial.TreeIndex
	srcIdx    *spatial.TreeIndex
	registry  *BorderRegistry
	stitched  bool
	log       *zap.Logger
}

// NewScheduler merges the obstacles once for the whole run, indexes
// obstacles and sources and lays out the cells.
func NewScheduler(in Input, opts Options, log *zap.Logger) (*Scheduler, error) {
	if opts.SubdivisionLevel < 0 || opts.SubdivisionLevel > MaxSubdivisionLevel {
		return nil, fmt.Errorf("subdivision level %d out of range [0, %d]", opts.SubdivisionLevel, MaxSubdivisionLevel)
	}
	if in.Envelope.IsEmpty() || in.Envelope.Width() <= 0 || in.Envelope.Height() <= 0 {
		return nil, fmt.Errorf("empty study envelope")
	}
	if opts.SnapTolerance <= 0 {
		opts.SnapTolerance = 1e-3
	}
	opts.Mesh.PreMerged = true
	opts.Obstruction.PreMerged = true
	opts.Obstruction.MaxTriangleArea = 0

	s := &Scheduler{
		in:       in,
		opts:     opts,
		side:     1 << opts.SubdivisionLevel,
		obstIdx:  spatial.NewTreeIndex(),
		srcIdx:   spatial.NewTreeIndex(),
		registry: NewBorderRegistry(),
		log:      log,
	}
	s.obstacles = mesh.MergeObstacles(in.Obstacles, log)
	for i, o := range s.obstacles {
		s.obstIdx.Insert(o.Envelope(), i)
	}
	for i, src := range in.Sources {
		s.srcIdx.Insert(src.Envelope(), i)
	}

	w := in.Envelope.Width() / float64(s.side)
	h := in.Envelope.Height() / float64(s.side)
	for r := 0; r < s.side; r++ {
		for c := 0; c < s.side; c++ {
			env := geo.Envelope{
				MinX: s.coordX(c, w),
				MinY: s.coordY(r, h),
				MaxX: s.coordX(c+1, w),
				MaxY: s.coordY(r+1, h),
			}
			s.cells = append(s.cells, Cell{
				ID:       r*s.side + c,
				Row:      r,
				Col:      c,
				Envelope: env,
				Halo:     env.ExpandBy(opts.Params.MaxSourceDistance),
			})
		}
	}
	log.Info("grid laid out",
		zap.Int("cells", len(s.cells)),
		zap.Int("obstacles", len(s.obstacles)),
		zap.Int("sources", len(in.Sources)),
		zap.Bool("point_mode", s.PointMode()),
	)
	return s, nil
}

// coordX returns the x of grid line c. The last line is the envelope edge
// itself so that rounding never leaves a sliver outside the grid.
func (s *Scheduler) coordX(c int, w float64) float64 {
	if c == s.side {
		return s.in.Envelope.MaxX
	}
	return s.in.Envelope.MinX + float64(c)*w
}

func (s *Scheduler) coordY(r int, h float64) float64 {
	if r == s.side {
		return s.in.Envelope.MaxY
	}
	return s.in.Envelope.MinY + float64(r)*h
}

// Cells returns the cells in row-major order.
func (s *Scheduler) Cells() []Cell {
	return s.cells
}

// PointMode reports whether receivers are explicit points.
func (s *Scheduler) PointMode() bool {
	return len(s.in.Receivers) > 0
}

// Obstacles are the merged obstacles of the run.
func (s *Scheduler) Obstacles() []mesh.Obstacle {
	return s.obstacles
}

// twoPass reports whether border stitching is needed.
func (s *Scheduler) twoPass() bool {
	return !s.PointMode() && s.side > 1
}

// Stitch runs the first pass: each cell is triangulated on its own, its
// vertices close to a shared border are snapped onto it and registered for
// both cells. It must complete before any Job call.
func (s *Scheduler) Stitch() error {
	if !s.twoPass() || s.stitched {
		s.stitched = true
		return nil
	}
	for _, c := range s.cells {
		m, err := s.receiverMesh(c, nil)
		if err != nil {
			return fmt.Errorf("first pass of cell %d: %w", c.ID, err)
		}
		for _, v := range m.Vertices {
			s.snap(c, v)
		}
	}
	s.stitched = true
	s.log.Info("border stitching first pass done", zap.Int("border_vertices", s.registry.Len()))
	return nil
}

// snap registers v on every shared border of c it lies within tolerance of.
func (s *Scheduler) snap(c Cell, v geo.Coord) {
	tol := s.opts.SnapTolerance
	env := c.Envelope
	if c.Col > 0 && math.Abs(v.X-env.MinX) <= tol {
		s.registry.register(borderKey{Vertical: true, Index: c.Col, Span: c.Row}, geo.Coord{X: env.MinX, Y: v.Y, Z: v.Z})
	}
	if c.Col < s.side-1 && math.Abs(v.X-env.MaxX) <= tol {
		s.registry.register(borderKey{Vertical: true, Index: c.Col + 1, Span: c.Row}, geo.Coord{X: env.MaxX, Y: v.Y, Z: v.Z})
	}
	if c.Row > 0 && math.Abs(v.Y-env.MinY) <= tol {
		s.registry.register(borderKey{Index: c.Row, Span: c.Col}, geo.Coord{X: v.X, Y: env.MinY, Z: v.Z})
	}
	if c.Row < s.side-1 && math.Abs(v.Y-env.MaxY) <= tol {
		s.registry.register(borderKey{Index: c.Row + 1, Span: c.Col}, geo.Coord{X: v.X, Y: env.MaxY, Z: v.Z})
	}
}

func (s *Scheduler) borders(c Cell) []borderKey {
	var keys []borderKey
	if c.Col > 0 {
		keys = append(keys, borderKey{Vertical: true, Index: c.Col, Span: c.Row})
	}
	if c.Col < s.side-1 {
		keys = append(keys, borderKey{Vertical: true, Index: c.Col + 1, Span: c.Row})
	}
	if c.Row > 0 {
		keys = append(keys, borderKey{Index: c.Row, Span: c.Col})
	}
	if c.Row < s.side-1 {
		keys = append(keys, borderKey{Index: c.Row + 1, Span: c.Col})
	}
	return keys
}

func (s *Scheduler) obstaclesIn(env geo.Envelope) []mesh.Obstacle {
	ids := s.obstIdx.Query(env)
	out := make([]mesh.Obstacle, 0, len(ids))
	for _, i := range ids {
		out = append(out, s.obstacles[i])
	}
	return out
}

func (s *Scheduler) receiverMesh(c Cell, seeds []geo.Coord) (*mesh.Mesh, error) {
	b := mesh.NewBuilder(c.Envelope, s.opts.Mesh, s.log)
	for _, o := range s.obstaclesIn(c.Envelope) {
		b.AddObstacle(o)
	}
	for _, p := range s.in.Topography {
		if c.Envelope.Contains(p) {
			b.AddTopoPoint(p)
		}
	}
	for _, p := range seeds {
		b.AddSeed(p)
	}
	return b.Build()
}

// contains assigns p to exactly one cell: envelopes are half open except
// on the outer edges of the study area.
func (s *Scheduler) contains(c Cell, p geo.Coord) bool {
	e := c.Envelope
	if p.X < e.MinX || p.Y < e.MinY {
		return false
	}
	if p.X > e.MaxX || (p.X == e.MaxX && c.Col < s.side-1) {
		return false
	}
	if p.Y > e.MaxY || (p.Y == e.MaxY && c.Row < s.side-1) {
		return false
	}
	return true
}

// Job builds the input of cell c: the second-pass receiver mesh seeded with
// the registered border vertices (area mode) or the receivers falling in
// the cell (point mode), the obstruction mesh over the halo and the
// sources within reach. Jobs of different cells may be built concurrently
// once Stitch has returned.
func (s *Scheduler) Job(c Cell) (*propagation.CellData, error) {
	if !s.stitched {
		return nil, fmt.Errorf("cell %d requested before border stitching", c.ID)
	}
	data := &propagation.CellData{
		CellID: c.ID,
		Bands:  s.in.Bands,
		Params: s.opts.Params,
	}
	if s.PointMode() {
		for _, r := range s.in.Receivers {
			if s.contains(c, r.Position) {
				data.Receivers = append(data.Receivers, r)
			}
		}
	} else {
		var seeds []geo.Coord
		if s.twoPass() {
			seeds = s.registry.seeds(s.borders(c))
		}
		rm, err := s.receiverMesh(c, seeds)
		if err != nil {
			return nil, fmt.Errorf("receiver mesh of cell %d: %w", c.ID, err)
		}
		data.ReceiverMesh = rm
	}

	ob := mesh.NewBuilder(c.Halo, s.opts.Obstruction, s.log)
	for _, o := range s.obstaclesIn(c.Halo) {
		ob.AddObstacle(o)
	}
	om, err := ob.Build()
	if err != nil {
		return nil, fmt.Errorf("obstruction mesh of cell %d: %w", c.ID, err)
	}
	data.Obstruction = om

	idx := spatial.NewTreeIndex()
	for _, i := range s.srcIdx.Query(c.Halo) {
		data.Sources = append(data.Sources, s.in.Sources[i])
		idx.Insert(s.in.Sources[i].Envelope(), len(data.Sources)-1)
	}
	data.SourceIndex = idx
	return data, nil
}
