package pipeline

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// Update is one progress sample as seen by listeners.
type Update struct {
	Fraction   float64       `json:"fraction"`
	CellsDone  int64         `json:"cells_done"`
	CellsTotal int64         `json:"cells_total"`
	Elapsed    time.Duration `json:"elapsed"`
	// Remaining is the estimated time left, zero until an estimate exists.
	Remaining time.Duration `json:"remaining"`
	Done      bool          `json:"done"`
}

// ProgressListener receives progress updates. Implementations must not
// block for long; they are called from the reporter goroutine.
type ProgressListener interface {
	OnProgress(Update)
}

// Reporter samples a progress tree at a fixed interval, logs it and
// estimates the remaining time from a linear fit of recent samples.
type Reporter struct {
	progress *Progress
	interval time.Duration
	window   int
	listener ProgressListener
	log      *zap.Logger

	start   time.Time
	times   []float64
	samples []float64
}

// NewReporter creates a reporter. window is the number of recent samples
// used for the estimate. listener may be nil.
func NewReporter(p *Progress, interval time.Duration, window int, listener ProgressListener, log *zap.Logger) *Reporter {
	if interval <= 0 {
		interval = time.Second
	}
	if window < 2 {
		window = 2
	}
	return &Reporter{progress: p, interval: interval, window: window, listener: listener, log: log}
}

// Run reports until ctx is done, then sends a final update.
func (r *Reporter) Run(ctx context.Context) {
	r.start = time.Now()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.report(time.Now(), true)
			return
		case now := <-ticker.C:
			r.report(now, false)
		}
	}
}

func (r *Reporter) report(now time.Time, final bool) {
	u := r.sample(now)
	u.Done = final
	if final {
		r.log.Info("progress final",
			zap.Float64("percent", math.Round(u.Fraction*1000)/10),
			zap.Int64("cells_done", u.CellsDone),
			zap.Int64("cells_total", u.CellsTotal),
			zap.Duration("elapsed", u.Elapsed.Round(time.Millisecond)),
		)
	} else {
		r.log.Info("progress",
			zap.Float64("percent", math.Round(u.Fraction*1000)/10),
			zap.Int64("cells_done", u.CellsDone),
			zap.Int64("cells_total", u.CellsTotal),
			zap.Duration("remaining", u.Remaining.Round(time.Second)),
		)
	}
	if r.listener != nil {
		r.listener.OnProgress(u)
	}
}

// sample records the current fraction and returns the update for it.
func (r *Reporter) sample(now time.Time) Update {
	f := r.progress.Fraction()
	done, total := r.progress.Steps()
	elapsed := now.Sub(r.start)
	r.times = append(r.times, elapsed.Seconds())
	r.samples = append(r.samples, f)
	if len(r.times) > r.window {
		r.times = r.times[len(r.times)-r.window:]
		r.samples = r.samples[len(r.samples)-r.window:]
	}
	return Update{
		Fraction:   f,
		CellsDone:  done,
		CellsTotal: total,
		Elapsed:    elapsed,
		Remaining:  estimateRemaining(r.samples, r.times, elapsed.Seconds()),
	}
}

// estimateRemaining fits time = alpha + beta*fraction over the samples
// and extrapolates to fraction 1.
func estimateRemaining(fractions, times []float64, now float64) time.Duration {
	if len(fractions) < 2 || fractions[len(fractions)-1] <= fractions[0] {
		return 0
	}
	alpha, beta := stat.LinearRegression(fractions, times, nil, false)
	left := alpha + beta - now
	if math.IsNaN(left) || left <= 0 {
		return 0
	}
	return time.Duration(left * float64(time.Second))
}
