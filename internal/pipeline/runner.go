// Package pipeline drives the cell jobs of a run: a bounded worker pool
// computes cells in parallel, a single consumer forwards results to the
// sinks and a reporter publishes progress.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/noisemap/noisemap/internal/grid"
	"github.com/noisemap/noisemap/internal/propagation"
	"go.uber.org/zap"
)

// Job computes one cell, pushing its result to out and stepping root once
// the result is delivered. A cancelled job returns nil.
type Job func(ctx context.Context, out *propagation.Out, root *Progress) error

// Options of a run.
type Options struct {
	Workers          int
	QueueSize        int
	ProgressInterval time.Duration
	ProgressWindow   int
}

// Summary describes a finished run.
type Summary struct {
	CellsTotal int64
	CellsDone  int64
	Cancelled  bool
	Elapsed    time.Duration
	Stats      propagation.Stats
}

// Runner wires the pool, the consumer and the reporter.
type Runner struct {
	opts     Options
	sink     Sink
	listener ProgressListener
	log      *zap.Logger
}

func NewRunner(opts Options, sink Sink, listener ProgressListener, log *zap.Logger) *Runner {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 2 * opts.Workers
	}
	return &Runner{opts: opts, sink: sink, listener: listener, log: log}
}

// Run executes jobs and returns once every submitted job has finished and
// the result queue is drained. Cancelling ctx stops submission; it is not
// an error. A job or sink failure aborts the run and is returned.
func (r *Runner) Run(ctx context.Context, jobs []Job) (Summary, error) {
	start := time.Now()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := propagation.NewOut(r.opts.QueueSize)
	root := NewProgress(len(jobs))

	repCtx, stopReporter := context.WithCancel(context.Background())
	repDone := make(chan struct{})
	reporter := NewReporter(root, r.opts.ProgressInterval, r.opts.ProgressWindow, r.listener, r.log)
	go func() {
		defer close(repDone)
		reporter.Run(repCtx)
	}()

	consumed := make(chan error, 1)
	go func() {
		// Results already queued are written even after cancellation.
		consumed <- Consume(context.WithoutCancel(ctx), out.Results(), r.sink, cancel, r.log)
	}()

	pool, _ := NewPool(runCtx, r.opts.Workers)
	submitted := 0
	for _, job := range jobs {
		if !pool.Submit(func(ctx context.Context) error { return job(ctx, out, root) }) {
			break
		}
		submitted++
	}
	jobErr := pool.Wait()
	out.Close()
	sinkErr := <-consumed
	stopReporter()
	<-repDone

	st := out.Stats()
	sum := Summary{
		CellsTotal: int64(len(jobs)),
		CellsDone:  st.Cells,
		Elapsed:    time.Since(start),
		Stats:      st,
	}
	sum.Cancelled = ctx.Err() != nil && sum.CellsDone < sum.CellsTotal
	r.log.Info("run finished",
		zap.Int64("cells_done", sum.CellsDone),
		zap.Int64("cells_total", sum.CellsTotal),
		zap.Int("cells_submitted", submitted),
		zap.Bool("cancelled", sum.Cancelled),
		zap.Int64("receivers", st.Receivers),
		zap.Int64("obstruction_tests", st.ObstructionTests),
		zap.Int64("reflection_paths", st.ReflectionPaths),
		zap.Int64("diffraction_paths", st.DiffractionPaths),
		zap.Duration("elapsed", sum.Elapsed.Round(time.Millisecond)),
	)
	if jobErr != nil {
		return sum, jobErr
	}
	if sinkErr != nil {
		return sum, fmt.Errorf("write results: %w", sinkErr)
	}
	return sum, nil
}

// CellJobs turns every cell of the scheduler into a job. Stitch must have
// completed.
func CellJobs(s *grid.Scheduler, log *zap.Logger) []Job {
	cells := s.Cells()
	jobs := make([]Job, 0, len(cells))
	for _, c := range cells {
		jobs = append(jobs, func(ctx context.Context, out *propagation.Out, root *Progress) error {
			data, err := s.Job(c)
			if err != nil {
				return err
			}
			sub := root.Sub(data.ReceiverCount())
			if propagation.NewProcess(data, log).Run(ctx, out, sub) {
				root.Step()
			}
			return nil
		})
	}
	return jobs
}
