package propagation

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/noisemap/noisemap/internal/geo"
)

// TriangleResult is one receiver triangle in area mode with the level at
// each of its vertices, in dB(A).
type TriangleResult struct {
	CellID     int
	TriangleID int
	Triangle   [3]geo.Coord
	Levels     [3]float64
}

// PointResult is one point receiver level in dB(A).
type PointResult struct {
	CellID     int
	ReceiverID int
	Position   geo.Coord
	Level      float64
}

// CellResult carries every record of one completed cell. Records carry
// their own identifiers so sinks can index them in any arrival order.
type CellResult struct {
	CellID    int
	Triangles []TriangleResult
	Points    []PointResult
}

// Len is the number of records in the result.
func (r CellResult) Len() int {
	return len(r.Triangles) + len(r.Points)
}

// Out is shared by all workers of a run: the result queue and the run
// counters. Each counter is updated on its own.
type Out struct {
	results chan CellResult

	ObstructionTests atomic.Int64
	DirectPaths      atomic.Int64
	ReflectionPaths  atomic.Int64
	DiffractionPaths atomic.Int64
	Receivers        atomic.Int64
	Cells            atomic.Int64
	ComputeNanos     atomic.Int64
}

// NewOut creates an output with a result queue of the given capacity.
func NewOut(buffer int) *Out {
	if buffer < 1 {
		buffer = 1
	}
	return &Out{results: make(chan CellResult, buffer)}
}

// Results is the queue drained by the consumer.
func (o *Out) Results() <-chan CellResult {
	return o.results
}

// Push enqueues r. It gives up and reports false once ctx is done.
func (o *Out) Push(ctx context.Context, r CellResult) bool {
	select {
	case o.results <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close ends the queue. Call it once every producer has returned.
func (o *Out) Close() {
	close(o.results)
}

// Stats is a snapshot of the counters.
type Stats struct {
	ObstructionTests int64
	DirectPaths      int64
	ReflectionPaths  int64
	DiffractionPaths int64
	Receivers        int64
	Cells            int64
	Compute          time.Duration
}

// Stats reads every counter.
func (o *Out) Stats() Stats {
	return Stats{
		ObstructionTests: o.ObstructionTests.Load(),
		DirectPaths:      o.DirectPaths.Load(),
		ReflectionPaths:  o.ReflectionPaths.Load(),
		DiffractionPaths: o.DiffractionPaths.Load(),
		Receivers:        o.Receivers.Load(),
		Cells:            o.Cells.Load(),
		Compute:          time.Duration(o.ComputeNanos.Load()),
	}
}
