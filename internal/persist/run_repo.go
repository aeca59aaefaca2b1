package persist

import (
	"context"
	"fmt"
)

// RunRow is one computation run. Result rows carry its RunID.
type RunRow struct {
	RunID       int64
	SceneDigest string
	CellCount   int
	CellsDone   int
	Cancelled   bool
}

type RunRepo struct {
	db *DB
}

func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

// Start registers a new run and returns its id.
func (r *RunRepo) Start(ctx context.Context, sceneDigest string, cellCount int) (int64, error) {
	var id int64
	err := r.db.Pool.QueryRow(ctx,
		`INSERT INTO runs (scene_digest, cell_count) VALUES ($1, $2) RETURNING run_id`,
		sceneDigest, cellCount,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

// Finish stamps the run with its outcome.
func (r *RunRepo) Finish(ctx context.Context, runID int64, cellsDone int, cancelled bool) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE runs SET finished_at = now(), cells_done = $2, cancelled = $3 WHERE run_id = $1`,
		runID, cellsDone, cancelled,
	)
	if err != nil {
		return fmt.Errorf("finish run %d: %w", runID, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("finish run %d: no such run", runID)
	}
	return nil
}

// Get loads one run.
func (r *RunRepo) Get(ctx context.Context, runID int64) (*RunRow, error) {
	row := &RunRow{}
	err := r.db.Pool.QueryRow(ctx,
		`SELECT run_id, scene_digest, cell_count, cells_done, cancelled FROM runs WHERE run_id = $1`,
		runID,
	).Scan(&row.RunID, &row.SceneDigest, &row.CellCount, &row.CellsDone, &row.Cancelled)
	if err != nil {
		return nil, fmt.Errorf("load run %d: %w", runID, err)
	}
	return row, nil
}
