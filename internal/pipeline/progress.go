package pipeline

import (
	"math/bits"
	"sync/atomic"
)

// rootUnits is the resolution of the whole run.
const rootUnits int64 = 1 << 40

// Progress is a node of the hierarchical progress counter: the run is
// divided into cells, each cell into receivers. Every node owns a share of
// the root's units; completing a step credits the node's share of that
// step to the node and all its ancestors. Safe for concurrent use.
type Progress struct {
	parent *Progress
	units  int64
	total  int64
	done   atomic.Int64
	given  atomic.Int64
}

// NewProgress creates a root with the given number of steps.
func NewProgress(steps int) *Progress {
	return &Progress{units: rootUnits, total: int64(max(steps, 0))}
}

// Sub creates a child worth one step of p, itself divided in steps.
func (p *Progress) Sub(steps int) *Progress {
	per := int64(0)
	if p.total > 0 {
		per = p.units / p.total
	}
	return &Progress{parent: p, units: per, total: int64(max(steps, 0))}
}

// Step marks one step of p complete.
func (p *Progress) Step() {
	if p.total == 0 {
		return
	}
	n := min(p.done.Add(1), p.total)
	p.credit(share(p.units, n, p.total))
}

// share is units*n/total without intermediate overflow. n <= total keeps
// the quotient within units.
func share(units, n, total int64) int64 {
	hi, lo := bits.Mul64(uint64(units), uint64(n))
	q, _ := bits.Div64(hi, lo, uint64(total))
	return int64(q)
}

func (p *Progress) credit(target int64) {
	for {
		g := p.given.Load()
		if target <= g {
			return
		}
		if p.given.CompareAndSwap(g, target) {
			for a := p.parent; a != nil; a = a.parent {
				a.given.Add(target - g)
			}
			return
		}
	}
}

// Steps returns the completed and total step counts of p.
func (p *Progress) Steps() (done, total int64) {
	return min(p.done.Load(), p.total), p.total
}

// Fraction is the completed share of p in [0, 1].
func (p *Progress) Fraction() float64 {
	if p.units == 0 {
		return 1
	}
	return min(float64(p.given.Load())/float64(p.units), 1)
}
