package pipeline

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/noisemap/noisemap/internal/geo"
	"github.com/noisemap/noisemap/internal/grid"
	"github.com/noisemap/noisemap/internal/mesh"
	"github.com/noisemap/noisemap/internal/propagation"
	"go.uber.org/zap/zaptest"
)

func TestProgressHierarchy(t *testing.T) {
	root := NewProgress(2)
	cell := root.Sub(4)
	cell.Step()
	cell.Step()
	if got := root.Fraction(); got != 0.25 {
		t.Fatalf("fraction %v, want 0.25", got)
	}
	cell.Step()
	cell.Step()
	cell.Step() // beyond total, ignored
	root.Step()
	if got := root.Fraction(); got != 0.5 {
		t.Fatalf("fraction %v, want 0.5", got)
	}
	empty := root.Sub(0)
	empty.Step()
	root.Step()
	if got := root.Fraction(); got != 1 {
		t.Fatalf("fraction %v, want 1", got)
	}
	if done, total := root.Steps(); done != 2 || total != 2 {
		t.Fatalf("steps %d/%d", done, total)
	}
}

func TestProgressConcurrent(t *testing.T) {
	root := NewProgress(8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := root.Sub(100)
			for k := 0; k < 100; k++ {
				sub.Step()
			}
			root.Step()
		}()
	}
	wg.Wait()
	if got := root.Fraction(); got != 1 {
		t.Fatalf("fraction %v, want 1", got)
	}
}

func TestEstimateRemaining(t *testing.T) {
	got := estimateRemaining([]float64{0.1, 0.2, 0.3}, []float64{1, 2, 3}, 3)
	if math.Abs(got.Seconds()-7) > 1e-6 {
		t.Fatalf("remaining %v, want 7s", got)
	}
	if estimateRemaining([]float64{0.5}, []float64{1}, 1) != 0 {
		t.Fatal("estimate from a single sample")
	}
	if estimateRemaining([]float64{0.5, 0.5}, []float64{1, 2}, 2) != 0 {
		t.Fatal("estimate without progress")
	}
}

type memorySink struct {
	mu      sync.Mutex
	results []propagation.CellResult
	fail    error
	closed  bool
}

func (m *memorySink) Write(_ context.Context, r propagation.CellResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.results = append(m.results, r)
	return nil
}

func (m *memorySink) Close() error {
	m.closed = true
	return nil
}

type recordingListener struct {
	mu      sync.Mutex
	updates []Update
}

func (l *recordingListener) OnProgress(u Update) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates = append(l.updates, u)
}

func fakeJob(id int) Job {
	return func(ctx context.Context, out *propagation.Out, root *Progress) error {
		r := propagation.CellResult{CellID: id, Points: []propagation.PointResult{{CellID: id, ReceiverID: id, Level: 40}}}
		if out.Push(ctx, r) {
			out.Cells.Add(1)
			root.Step()
		}
		return nil
	}
}

func TestRunnerDeliversEveryCell(t *testing.T) {
	sink := &memorySink{}
	listener := &recordingListener{}
	r := NewRunner(Options{Workers: 3, QueueSize: 1, ProgressInterval: time.Millisecond}, MultiSink{sink}, listener, zaptest.NewLogger(t))
	var jobs []Job
	for i := 0; i < 20; i++ {
		jobs = append(jobs, fakeJob(i))
	}
	sum, err := r.Run(context.Background(), jobs)
	if err != nil {
		t.Fatal(err)
	}
	if sum.CellsDone != 20 || sum.Cancelled {
		t.Fatalf("summary %+v", sum)
	}
	seen := make(map[int]bool)
	for _, res := range sink.results {
		seen[res.CellID] = true
	}
	if len(seen) != 20 {
		t.Fatalf("sink got %d distinct cells", len(seen))
	}
	last := listener.updates[len(listener.updates)-1]
	if !last.Done || last.Fraction != 1 || last.CellsDone != 20 {
		t.Fatalf("final update %+v", last)
	}
}

func TestRunnerCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink := &memorySink{}
	sum, err := NewRunner(Options{Workers: 2}, sink, nil, zaptest.NewLogger(t)).Run(ctx, []Job{fakeJob(1), fakeJob(2)})
	if err != nil {
		t.Fatalf("cancellation reported as error: %v", err)
	}
	if !sum.Cancelled || sum.CellsDone != 0 || len(sink.results) != 0 {
		t.Fatalf("summary %+v, %d results", sum, len(sink.results))
	}
}

func TestRunnerJobError(t *testing.T) {
	boom := errors.New("boom")
	jobs := []Job{fakeJob(1), func(context.Context, *propagation.Out, *Progress) error { return boom }, fakeJob(3)}
	_, err := NewRunner(Options{Workers: 1}, &memorySink{}, nil, zaptest.NewLogger(t)).Run(context.Background(), jobs)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}

func TestRunnerSinkError(t *testing.T) {
	broken := errors.New("disk full")
	sink := &memorySink{fail: broken}
	var jobs []Job
	for i := 0; i < 10; i++ {
		jobs = append(jobs, fakeJob(i))
	}
	_, err := NewRunner(Options{Workers: 2, QueueSize: 1}, sink, nil, zaptest.NewLogger(t)).Run(context.Background(), jobs)
	if !errors.Is(err, broken) {
		t.Fatalf("err = %v, want sink error", err)
	}
}

func TestMultiSinkClose(t *testing.T) {
	a, b := &memorySink{}, &memorySink{}
	if err := (MultiSink{a, b}).Close(); err != nil {
		t.Fatal(err)
	}
	if !a.closed || !b.closed {
		t.Fatal("not every sink closed")
	}
}

func TestCellJobsEndToEnd(t *testing.T) {
	in := grid.Input{
		Envelope:  geo.Envelope{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100},
		Obstacles: []mesh.Obstacle{{ID: 1, Rings: [][]geo.Coord{{geo.C(40, 40), geo.C(60, 40), geo.C(60, 60), geo.C(40, 60)}}}},
		Sources:   []propagation.Source{{ID: 1, Geometry: []geo.Coord{geo.C(20, 50)}, Power: []float64{1e6, 1e6}}},
		Receivers: []propagation.Receiver{
			{ID: 1, Position: geo.C(25, 50)},
			{ID: 2, Position: geo.C(80, 50)},
			{ID: 3, Position: geo.C(75, 90)},
			{ID: 4, Position: geo.C(10, 10)},
		},
		Bands: []float64{500, 1000},
	}
	opts := grid.Options{
		SubdivisionLevel: 1,
		Params: propagation.Params{
			MaxSourceDistance:         150,
			MaxReflectionDistance:     50,
			MinReceiverSourceDistance: 1,
			ReflectionOrder:           1,
			DiffractionOrder:          1,
		},
	}
	log := zaptest.NewLogger(t)
	s, err := grid.NewScheduler(in, opts, log)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Stitch(); err != nil {
		t.Fatal(err)
	}
	sink := &memorySink{}
	sum, err := NewRunner(Options{Workers: 4}, sink, nil, log).Run(context.Background(), CellJobs(s, log))
	if err != nil {
		t.Fatal(err)
	}
	if sum.CellsDone != 4 {
		t.Fatalf("cells done %d, want 4", sum.CellsDone)
	}
	levels := make(map[int]float64)
	for _, r := range sink.results {
		for _, p := range r.Points {
			levels[p.ReceiverID] = p.Level
		}
	}
	if len(levels) != 4 {
		t.Fatalf("got levels for %d receivers", len(levels))
	}
	if levels[1] <= levels[2] {
		t.Fatalf("receiver next to the source (%g dB) not louder than the shadowed one (%g dB)", levels[1], levels[2])
	}
}

func TestProgressLargeSubdivision(t *testing.T) {
	root := NewProgress(1)
	cell := root.Sub(10_000_000)
	cell.done.Store(5_000_000 - 1)
	cell.Step()
	if got := root.Fraction(); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("fraction %v, want 0.5", got)
	}
	cell.done.Store(10_000_000 - 1)
	cell.Step()
	if got := root.Fraction(); got != 1 {
		t.Fatalf("fraction %v, want 1", got)
	}
}

func TestPoolCapsConcurrency(t *testing.T) {
	const workers = 3
	pool, _ := NewPool(context.Background(), workers)
	gate := make(chan struct{})
	started := make(chan struct{}, 10)
	var mu sync.Mutex
	active, peak := 0, 0

	submitted := make(chan int, 1)
	go func() {
		n := 0
		for i := 0; i < 10; i++ {
			pool.Submit(func(context.Context) error {
				mu.Lock()
				active++
				peak = max(peak, active)
				mu.Unlock()
				started <- struct{}{}
				<-gate
				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
			n++
		}
		submitted <- n
	}()

	for i := 0; i < workers; i++ {
		<-started
	}
	select {
	case <-submitted:
		t.Fatal("every task submitted while the workers were busy")
	case <-started:
		t.Fatal("a task started beyond the worker cap")
	case <-time.After(50 * time.Millisecond):
	}
	close(gate)
	if n := <-submitted; n != 10 {
		t.Fatalf("submitted %d tasks", n)
	}
	if err := pool.Wait(); err != nil {
		t.Fatal(err)
	}
	if peak != workers {
		t.Fatalf("peak concurrency %d, want %d", peak, workers)
	}
}

func TestRunnerCancelledMidRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	const total, stopAfter = 20, 3
	var mu sync.Mutex
	ran := 0
	var jobs []Job
	for i := 0; i < total; i++ {
		job := fakeJob(i)
		jobs = append(jobs, func(ctx context.Context, out *propagation.Out, root *Progress) error {
			err := job(ctx, out, root)
			mu.Lock()
			ran++
			if ran == stopAfter {
				cancel()
			}
			mu.Unlock()
			return err
		})
	}
	sink := &memorySink{}
	sum, err := NewRunner(Options{Workers: 1, QueueSize: 1}, sink, nil, zaptest.NewLogger(t)).Run(ctx, jobs)
	if err != nil {
		t.Fatalf("cancellation reported as error: %v", err)
	}
	if !sum.Cancelled {
		t.Fatal("run not marked cancelled")
	}
	if sum.CellsDone < stopAfter || sum.CellsDone >= total {
		t.Fatalf("cells done %d, want between %d and %d", sum.CellsDone, stopAfter, total-1)
	}
	if int64(len(sink.results)) != sum.CellsDone {
		t.Fatalf("sink got %d results for %d delivered cells", len(sink.results), sum.CellsDone)
	}
	if ran >= total {
		t.Fatalf("all %d jobs ran after cancellation", ran)
	}
}
