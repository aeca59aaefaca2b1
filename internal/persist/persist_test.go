package persist

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/noisemap/noisemap/internal/config"
	"github.com/noisemap/noisemap/internal/geo"
	"github.com/noisemap/noisemap/internal/propagation"
	"go.uber.org/zap/zaptest"
)

func sampleResult() propagation.CellResult {
	return propagation.CellResult{
		CellID: 3,
		Triangles: []propagation.TriangleResult{{
			CellID: 3, TriangleID: 11,
			Triangle: [3]geo.Coord{geo.C(0, 0), geo.C(10, 0), geo.C(0, 10)},
			Levels:   [3]float64{55, 60, 65},
		}},
		Points: []propagation.PointResult{
			{CellID: 3, ReceiverID: 1, Position: geo.C(5, 5), Level: 48.5},
			{CellID: 3, ReceiverID: 2, Position: geo.C(7, 1), Level: 51},
		},
	}
}

func TestRows(t *testing.T) {
	r := sampleResult()
	tri := triangleRows(42, r)
	if len(tri) != 1 || len(tri[0]) != len(triangleColumns) {
		t.Fatalf("triangle rows %v", tri)
	}
	if tri[0][0] != int64(42) || tri[0][2] != int32(11) || tri[0][5] != 10.0 || tri[0][11] != 65.0 {
		t.Fatalf("triangle row %v", tri[0])
	}
	rec := receiverRows(42, r)
	if len(rec) != 2 || len(rec[1]) != len(receiverColumns) {
		t.Fatalf("receiver rows %v", rec)
	}
	if rec[1][2] != int32(2) || rec[1][5] != 51.0 {
		t.Fatalf("receiver row %v", rec[1])
	}
}

// TestLevelSinkRoundTrip needs a scratch PostgreSQL database in
// NOISEMAP_TEST_DSN.
func TestLevelSinkRoundTrip(t *testing.T) {
	dsn := os.Getenv("NOISEMAP_TEST_DSN")
	if dsn == "" {
		t.Skip("NOISEMAP_TEST_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	log := zaptest.NewLogger(t)

	db, err := NewDB(ctx, config.DatabaseConfig{DSN: dsn, MaxOpenConns: 2}, log)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if err := RunMigrations(ctx, db.Pool, log); err != nil {
		t.Fatal(err)
	}

	runs := NewRunRepo(db)
	id, err := runs.Start(ctx, "digest", 1)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		db.Pool.Exec(context.Background(), `DELETE FROM runs WHERE run_id = $1`, id)
	})

	sink := NewLevelSink(db, id, 2, log)
	if err := sink.Write(ctx, sampleResult()); err != nil {
		t.Fatal(err)
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}
	if err := runs.Finish(ctx, id, 1, false); err != nil {
		t.Fatal(err)
	}

	var triangles, receivers int
	if err := db.Pool.QueryRow(ctx, `SELECT count(*) FROM triangle_levels WHERE run_id = $1`, id).Scan(&triangles); err != nil {
		t.Fatal(err)
	}
	if err := db.Pool.QueryRow(ctx, `SELECT count(*) FROM receiver_levels WHERE run_id = $1`, id).Scan(&receivers); err != nil {
		t.Fatal(err)
	}
	if triangles != 1 || receivers != 2 {
		t.Fatalf("stored %d triangles, %d receivers", triangles, receivers)
	}
	row, err := runs.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if row.CellsDone != 1 || row.Cancelled || row.SceneDigest != "digest" {
		t.Fatalf("run %+v", row)
	}
}
