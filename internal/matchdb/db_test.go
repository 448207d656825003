package matchdb

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/matchmove/camsolve/internal/solver"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func record(image string, frame int, success bool, meanErr float64) solver.SolveRecord {
	return solver.SolveRecord{
		Image:     image,
		Frame:     frame,
		Mode:      "single",
		Success:   success,
		MeanError: meanErr,
		Message:   "test",
		Timestamp: time.Now().UTC(),
	}
}

func TestRecordAndListSolves(t *testing.T) {
	db := testDB(t)

	for i := 1; i <= 3; i++ {
		if err := db.RecordSolve(record("front", i, true, float64(i))); err != nil {
			t.Fatalf("RecordSolve: %v", err)
		}
	}
	if err := db.RecordSolve(record("back", 1, false, 0)); err != nil {
		t.Fatalf("RecordSolve: %v", err)
	}

	rows, err := db.ListSolves("", 10)
	if err != nil {
		t.Fatalf("ListSolves: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows = %d, want 4", len(rows))
	}
	// Newest first.
	if rows[0].Image != "back" {
		t.Errorf("first row = %s, want the most recent insert", rows[0].Image)
	}

	rows, err = db.ListSolves("front", 10)
	if err != nil {
		t.Fatalf("ListSolves(front): %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("filtered rows = %d, want 3", len(rows))
	}
	for _, r := range rows {
		if r.Image != "front" {
			t.Errorf("filter leaked row for %q", r.Image)
		}
	}
}

func TestListSolvesLimit(t *testing.T) {
	db := testDB(t)
	for i := 0; i < 5; i++ {
		if err := db.RecordSolve(record("front", i, true, 1)); err != nil {
			t.Fatalf("RecordSolve: %v", err)
		}
	}
	rows, err := db.ListSolves("", 2)
	if err != nil {
		t.Fatalf("ListSolves: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("rows = %d, want limit 2", len(rows))
	}
}

func TestFrameErrorsLatestSuccessfulPerFrame(t *testing.T) {
	db := testDB(t)

	// Frame 1: an old error then a better re-solve. Frame 2: a failure only.
	require.NoError(t, db.RecordSolve(record("front", 1, true, 5.0)))
	require.NoError(t, db.RecordSolve(record("front", 1, true, 0.8)))
	require.NoError(t, db.RecordSolve(record("front", 2, false, 0)))
	require.NoError(t, db.RecordSolve(record("front", 3, true, 1.2)))

	frames, errorsPx, err := db.FrameErrors("front")
	require.NoError(t, err)
	if len(frames) != 2 {
		t.Fatalf("frames = %v, want [1 3]", frames)
	}
	if frames[0] != 1 || errorsPx[0] != 0.8 {
		t.Errorf("frame 1 error = %g, want the latest successful 0.8", errorsPx[0])
	}
	if frames[1] != 3 || errorsPx[1] != 1.2 {
		t.Errorf("frame 3 error = %g, want 1.2", errorsPx[1])
	}
}

func TestRecordSolveResiduals(t *testing.T) {
	db := testDB(t)

	rec := record("front", 3, true, 0.6)
	rec.Residuals = []float64{0.2, 0.9, 0.4}
	require.NoError(t, db.RecordSolve(rec))
	require.NoError(t, db.RecordSolve(record("front", 4, false, 0)))

	got, frame, err := db.LatestResiduals("front", -1)
	require.NoError(t, err)
	if frame != 3 {
		t.Errorf("frame = %d, want the residual-bearing solve at 3", frame)
	}
	if len(got) != 3 || got[0] != 0.2 || got[1] != 0.9 || got[2] != 0.4 {
		t.Errorf("residuals = %v, want the recorded per-pair errors in order", got)
	}

	// A re-solve of the same frame wins.
	rec2 := record("front", 3, true, 0.3)
	rec2.Residuals = []float64{0.1, 0.1, 0.1, 0.1}
	require.NoError(t, db.RecordSolve(rec2))
	got, _, err = db.LatestResiduals("front", 3)
	require.NoError(t, err)
	if len(got) != 4 {
		t.Errorf("residuals = %v, want the latest solve's four pairs", got)
	}

	got, _, err = db.LatestResiduals("front", 99)
	require.NoError(t, err)
	if len(got) != 0 {
		t.Errorf("residuals = %v for an unsolved frame, want none", got)
	}
}

func TestSessionLifecycle(t *testing.T) {
	db := testDB(t)

	if err := db.RecordSessionStart("sess-1", 5, true); err != nil {
		t.Fatalf("RecordSessionStart: %v", err)
	}
	if err := db.RecordSessionStop("sess-1"); err != nil {
		t.Fatalf("RecordSessionStop: %v", err)
	}

	var stopped *time.Time
	var rate int
	err := db.QueryRow(`SELECT stopped_at, update_rate FROM live_sessions WHERE session_id = ?`, "sess-1").
		Scan(&stopped, &rate)
	if err != nil {
		t.Fatalf("query session: %v", err)
	}
	if stopped == nil {
		t.Error("stopped_at not stamped")
	}
	if rate != 5 {
		t.Errorf("update_rate = %d, want 5", rate)
	}
}

func TestMigrateUpAndDown(t *testing.T) {
	db := testDB(t)

	if err := db.MigrateUp("../../migrations"); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}
	version, dirty, err := db.MigrateVersion("../../migrations")
	if err != nil {
		t.Fatalf("MigrateVersion: %v", err)
	}
	if dirty || version == 0 {
		t.Errorf("version = %d dirty = %v after up", version, dirty)
	}

	// The migrated table must exist.
	if _, err := db.Exec(`INSERT INTO solve_residuals (solve_id, pair_index, error_px) VALUES (1, 0, 0.5)`); err != nil {
		t.Errorf("solve_residuals insert failed: %v", err)
	}

	if err := db.MigrateDown("../../migrations"); err != nil {
		t.Fatalf("MigrateDown: %v", err)
	}
}
