package propagation

import (
	"context"
	"math"
	"time"

	"github.com/noisemap/noisemap/internal/geo"
	"github.com/noisemap/noisemap/internal/obstruction"
	"go.uber.org/zap"
)

const (
	speedOfSound = 340.0
	// wallPush moves reflection points off the wall into free field.
	wallPush = 1e-3

	maxSingleDiffraction = 20.0
	maxMultiDiffraction  = 25.0
)

// Stepper receives one step per evaluated receiver.
type Stepper interface {
	Step()
}

// Process computes the levels of one cell. It owns its obstruction test
// and caches, so it runs on a single goroutine.
type Process struct {
	data  *CellData
	test  *obstruction.Test
	alpha []float64
	subs  map[int][]pointSource
	log   *zap.Logger

	cornerVis map[[2]int]bool

	direct, reflected, diffracted int64
}

// NewProcess prepares the obstruction test of the cell.
func NewProcess(data *CellData, log *zap.Logger) *Process {
	alpha := make([]float64, len(data.Bands))
	for i, f := range data.Bands {
		alpha[i] = AbsorptionCoefficient(f)
	}
	return &Process{
		data:      data,
		test:      obstruction.New(data.Obstruction, obstruction.Options{}),
		alpha:     alpha,
		subs:      make(map[int][]pointSource),
		log:       log.With(zap.Int("cell", data.CellID)),
		cornerVis: make(map[[2]int]bool),
	}
}

// Run evaluates every receiver of the cell and pushes the cell result to
// out. Cancellation is checked before each receiver; a cancelled cell is
// dropped without pushing anything. Run reports whether the result was
// delivered.
func (p *Process) Run(ctx context.Context, out *Out, step Stepper) bool {
	start := time.Now()
	res := CellResult{CellID: p.data.CellID}
	receivers := 0

	if rm := p.data.ReceiverMesh; rm != nil {
		levels := make([]float64, len(rm.Vertices))
		for _, v := range receiverVertices(rm) {
			if ctx.Err() != nil {
				p.log.Debug("cell cancelled", zap.Int("receivers_done", receivers))
				return false
			}
			levels[v] = Level(p.ReceiverEnergy(rm.Vertices[v]))
			receivers++
			if step != nil {
				step.Step()
			}
		}
		for i, t := range rm.Triangles {
			if !t.Free() {
				continue
			}
			a, b, c := rm.Coords(i)
			res.Triangles = append(res.Triangles, TriangleResult{
				CellID:     p.data.CellID,
				TriangleID: i,
				Triangle:   [3]geo.Coord{a, b, c},
				Levels:     [3]float64{levels[t.V[0]], levels[t.V[1]], levels[t.V[2]]},
			})
		}
	} else {
		for _, r := range p.data.Receivers {
			if ctx.Err() != nil {
				p.log.Debug("cell cancelled", zap.Int("receivers_done", receivers))
				return false
			}
			res.Points = append(res.Points, PointResult{
				CellID:     p.data.CellID,
				ReceiverID: r.ID,
				Position:   r.Position,
				Level:      Level(p.ReceiverEnergy(r.Position)),
			})
			receivers++
			if step != nil {
				step.Step()
			}
		}
	}

	elapsed := time.Since(start)
	out.ObstructionTests.Add(p.test.Queries)
	out.DirectPaths.Add(p.direct)
	out.ReflectionPaths.Add(p.reflected)
	out.DiffractionPaths.Add(p.diffracted)
	out.Receivers.Add(int64(receivers))
	out.ComputeNanos.Add(int64(elapsed))
	p.log.Debug("cell computed",
		zap.Int("receivers", receivers),
		zap.Int("records", res.Len()),
		zap.Duration("elapsed", elapsed),
	)
	if !out.Push(ctx, res) {
		return false
	}
	out.Cells.Add(1)
	return true
}

func (p *Process) sourcePoints(i int) []pointSource {
	if s, ok := p.subs[i]; ok {
		return s
	}
	s := p.data.Sources[i].points(p.data.Params.LineSourceStep)
	p.subs[i] = s
	return s
}

// clamp bounds a spreading distance below by 1 m and by the configured
// minimum receiver-source distance.
func (p *Process) clamp(dist float64) float64 {
	return max(dist, p.data.Params.MinReceiverSourceDistance, 1)
}

func (p *Process) spread(power []float64, dist, pathLen, factor float64, energy []float64) {
	dist = p.clamp(dist)
	g := factor / (4 * math.Pi * dist * dist)
	for b := range energy {
		energy[b] += power[b] * g * attenuation(p.alpha[b], pathLen)
	}
}

// ReceiverEnergy returns the linear energy per band reaching r from every
// source in range, through direct, reflected and diffracted paths.
func (p *Process) ReceiverEnergy(r geo.Coord) []float64 {
	prm := p.data.Params
	energy := make([]float64, len(p.data.Bands))
	ids := p.data.SourceIndex.Query(geo.EnvelopeOf(r).ExpandBy(prm.MaxSourceDistance))
	if len(ids) == 0 {
		return energy
	}

	var walls []obstruction.Wall
	var mirrors []MirrorReceiver
	if prm.ReflectionOrder > 0 {
		walls = p.test.LimitsInRange(prm.MaxReflectionDistance, r)
		mirrors = MirroredReceivers(r, walls, prm.ReflectionOrder, prm.MaxReflectionDistance)
	}
	var corners []obstruction.Corner
	var visible []int
	cornersReady := false

	for _, id := range ids {
		for _, s := range p.sourcePoints(id) {
			d := r.Distance(s.pos)
			if d > prm.MaxSourceDistance {
				continue
			}
			if p.test.IsFreeField(r, s.pos) {
				p.spread(s.power, d, d, 1, energy)
				p.direct++
			} else if prm.DiffractionOrder > 0 {
				if !cornersReady {
					corners, visible = p.visibleCorners(r)
					cornersReady = true
				}
				p.diffract(r, s, d, corners, visible, energy)
			}
			for k, m := range mirrors {
				dImg := m.Position.Distance(s.pos)
				if dImg > prm.MaxSourceDistance || !p.validChain(mirrors, walls, k, s.pos, r) {
					continue
				}
				f := math.Pow(1-prm.WallAlpha, float64(order(mirrors, k)))
				p.spread(s.power, dImg, dImg, f, energy)
				p.reflected++
			}
		}
	}
	return energy
}

// validChain follows image k back to the receiver: from the source towards
// the image, through its wall, then towards the parent image, until the
// receiver. Every hop must be in free field.
func (p *Process) validChain(mirrors []MirrorReceiver, walls []obstruction.Wall, k int, src, r geo.Coord) bool {
	from := src
	for rec := k; rec >= 0; rec = mirrors[rec].ParentIndex {
		m := mirrors[rec]
		wall := walls[m.WallID].Segment
		hit, _, _, ok := geo.Segment{P0: from, P1: m.Position}.Intersection(wall, 0)
		if !ok {
			return false
		}
		pushed := hit.Add(wall.LeftNormal().Scale(wallPush))
		if !p.test.IsFreeField(from, pushed) {
			return false
		}
		from = pushed
	}
	return p.test.IsFreeField(from, r)
}

// visibleCorners returns the corners within range of r and the indices of
// those r can see.
func (p *Process) visibleCorners(r geo.Coord) ([]obstruction.Corner, []int) {
	maxD := p.data.Params.MaxSourceDistance
	corners := p.test.CornersInRange(geo.EnvelopeOf(r).ExpandBy(maxD))
	var visible []int
	for i, c := range corners {
		if c.Position.Distance(r) <= maxD && p.test.IsFreeField(r, c.Offset) {
			visible = append(visible, i)
		}
	}
	return corners, visible
}

func (p *Process) cornersSee(a, b obstruction.Corner) bool {
	key := [2]int{min(a.ID, b.ID), max(a.ID, b.ID)}
	if v, ok := p.cornerVis[key]; ok {
		return v
	}
	v := p.test.IsFreeField(a.Offset, b.Offset)
	p.cornerVis[key] = v
	return v
}

// diffract adds, for each side of the blocked line r-s, the shortest
// corner chain from r to s going around that side. A chain belongs to the
// side of its first corner. direct is the straight receiver-source
// distance.
func (p *Process) diffract(r geo.Coord, s pointSource, direct float64, corners []obstruction.Corner, visible []int, energy []float64) {
	maxOrder := p.data.Params.DiffractionOrder
	var best [2]float64
	var bestChain [2][]int
	best[0], best[1] = math.Inf(1), math.Inf(1)
	chain := make([]int, 0, maxOrder)
	used := make(map[int]bool, maxOrder)
	side := 0

	var walk func(length float64)
	walk = func(length float64) {
		last := corners[chain[len(chain)-1]]
		total := length + last.Position.Distance(s.pos)
		if total >= best[side] {
			return
		}
		if p.test.IsFreeField(last.Offset, s.pos) {
			best[side] = total
			bestChain[side] = append(bestChain[side][:0], chain...)
			return
		}
		if len(chain) >= maxOrder {
			return
		}
		for j, c := range corners {
			if used[j] {
				continue
			}
			step := last.Position.Distance(c.Position)
			if length+step+c.Position.Distance(s.pos) >= best[side] {
				continue
			}
			if !p.cornersSee(last, c) {
				continue
			}
			chain = append(chain, j)
			used[j] = true
			walk(length + step)
			used[j] = false
			chain = chain[:len(chain)-1]
		}
	}
	for _, i := range visible {
		side = 0
		if geo.Orient(r, s.pos, corners[i].Position) < 0 {
			side = 1
		}
		chain = append(chain[:0], i)
		used[i] = true
		walk(r.Distance(corners[i].Position))
		used[i] = false
	}

	for k := range bestChain {
		if bestChain[k] == nil {
			continue
		}
		c := bestChain[k]
		delta := best[k] - direct
		e := corners[c[0]].Position.Distance(corners[c[len(c)-1]].Position)
		dist := p.clamp(best[k])
		g := 1 / (4 * math.Pi * dist * dist)
		for b, f := range p.data.Bands {
			factor := DiffractionFactor(speedOfSound/f, delta, e, len(c))
			energy[b] += s.power[b] * g * factor * attenuation(p.alpha[b], best[k])
		}
		p.diffracted++
	}
}

// DiffractionFactor is the linear energy factor of a diffracted path with
// path-length difference delta at wavelength lambda. e is the distance
// between the first and the last corner of a chain of n corners.
func DiffractionFactor(lambda, delta, e float64, n int) float64 {
	cp := 1.0
	limit := maxSingleDiffraction
	if n > 1 {
		limit = maxMultiDiffraction
		if e > 0 {
			x := 5 * lambda / e
			cp = (1 + x*x) / (1.0/3 + x*x)
		}
	}
	arg := 3 + 40/lambda*cp*delta
	dz := 0.0
	if arg > 1 {
		dz = 10 * math.Log10(arg)
	}
	dz = math.Min(math.Max(dz, 0), limit)
	return math.Pow(10, -dz/10)
}
