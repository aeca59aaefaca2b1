package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/noisemap/noisemap/internal/propagation"
	"go.uber.org/zap"
)

var (
	triangleColumns = []string{"run_id", "cell_id", "triangle_id", "x0", "y0", "x1", "y1", "x2", "y2", "level0", "level1", "level2"}
	receiverColumns = []string{"run_id", "cell_id", "receiver_id", "x", "y", "level"}
)

// LevelSink buffers cell results and copies them into triangle_levels and
// receiver_levels, batch by batch, tagged with the run id.
type LevelSink struct {
	db        *DB
	runID     int64
	batch     int
	triangles [][]any
	receivers [][]any
	written   int64
	log       *zap.Logger
}

func NewLevelSink(db *DB, runID int64, batch int, log *zap.Logger) *LevelSink {
	if batch < 1 {
		batch = 5000
	}
	return &LevelSink{db: db, runID: runID, batch: batch, log: log}
}

func (s *LevelSink) Write(ctx context.Context, r propagation.CellResult) error {
	s.triangles = append(s.triangles, triangleRows(s.runID, r)...)
	s.receivers = append(s.receivers, receiverRows(s.runID, r)...)
	if len(s.triangles)+len(s.receivers) < s.batch {
		return nil
	}
	return s.flush(ctx)
}

// flush copies both buffers in a single transaction.
func (s *LevelSink) flush(ctx context.Context) error {
	if len(s.triangles) == 0 && len(s.receivers) == 0 {
		return nil
	}
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("levels begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var n int64
	if len(s.triangles) > 0 {
		c, err := tx.CopyFrom(ctx, pgx.Identifier{"triangle_levels"}, triangleColumns, pgx.CopyFromRows(s.triangles))
		if err != nil {
			return fmt.Errorf("copy triangle levels: %w", err)
		}
		n += c
	}
	if len(s.receivers) > 0 {
		c, err := tx.CopyFrom(ctx, pgx.Identifier{"receiver_levels"}, receiverColumns, pgx.CopyFromRows(s.receivers))
		if err != nil {
			return fmt.Errorf("copy receiver levels: %w", err)
		}
		n += c
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("levels commit: %w", err)
	}
	s.written += n
	s.triangles = s.triangles[:0]
	s.receivers = s.receivers[:0]
	return nil
}

// Close flushes what is left.
func (s *LevelSink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.flush(ctx); err != nil {
		return err
	}
	s.log.Info("levels stored", zap.Int64("run_id", s.runID), zap.Int64("rows", s.written))
	return nil
}

func triangleRows(runID int64, r propagation.CellResult) [][]any {
	rows := make([][]any, 0, len(r.Triangles))
	for _, t := range r.Triangles {
		rows = append(rows, []any{
			runID, int32(t.CellID), int32(t.TriangleID),
			t.Triangle[0].X, t.Triangle[0].Y,
			t.Triangle[1].X, t.Triangle[1].Y,
			t.Triangle[2].X, t.Triangle[2].Y,
			t.Levels[0], t.Levels[1], t.Levels[2],
		})
	}
	return rows
}

func receiverRows(runID int64, r propagation.CellResult) [][]any {
	rows := make([][]any, 0, len(r.Points))
	for _, p := range r.Points {
		rows = append(rows, []any{runID, int32(p.CellID), int32(p.ReceiverID), p.Position.X, p.Position.Y, p.Level})
	}
	return rows
}
