// Package matchdb persists solve history: one row per solve attempt with
// its mode, quality metric and outcome, plus the live-solve session log.
package matchdb

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/matchmove/camsolve/internal/solver"
)

// DB wraps the sqlite handle for the solve-history store.
type DB struct {
	*sql.DB
	path string
}

// NewDB opens (creating if needed) the history database at path and
// ensures the base schema exists. Schema evolution beyond the base tables
// goes through MigrateUp.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS solves (
			solve_id          INTEGER PRIMARY KEY AUTOINCREMENT,
			image             TEXT,
			frame             BIGINT,
			mode              TEXT,
			success           BOOLEAN,
			mean_error        DOUBLE,
			message           TEXT,
			timestamp         TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS live_sessions (
			session_id        TEXT PRIMARY KEY,
			started_at        TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			stopped_at        TIMESTAMP,
			update_rate       BIGINT,
			auto_keyframe     BOOLEAN
		);
		CREATE TABLE IF NOT EXISTS solve_residuals (
			solve_id          INTEGER NOT NULL,
			pair_index        BIGINT NOT NULL,
			error_px          DOUBLE NOT NULL,
			PRIMARY KEY (solve_id, pair_index)
		);
	`)
	if err != nil {
		return nil, err
	}

	return &DB{DB: db, path: path}, nil
}

// RecordSolve implements solver.HistoryRecorder. Per-pair residuals, when
// present, are stored alongside the solve row for the scatter report.
func (db *DB) RecordSolve(rec solver.SolveRecord) error {
	res, err := db.Exec(
		`INSERT INTO solves (image, frame, mode, success, mean_error, message, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Image, rec.Frame, rec.Mode, rec.Success, rec.MeanError, rec.Message, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to record solve: %w", err)
	}
	if len(rec.Residuals) == 0 {
		return nil
	}
	solveID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to record solve: %w", err)
	}
	for i, r := range rec.Residuals {
		if _, err := db.Exec(
			`INSERT INTO solve_residuals (solve_id, pair_index, error_px) VALUES (?, ?, ?)`,
			solveID, i, r,
		); err != nil {
			return fmt.Errorf("failed to record residuals: %w", err)
		}
	}
	return nil
}

// RecordSessionStart logs the beginning of a live-solve session.
func (db *DB) RecordSessionStart(sessionID string, updateRate int, autoKeyframe bool) error {
	_, err := db.Exec(
		`INSERT INTO live_sessions (session_id, update_rate, auto_keyframe) VALUES (?, ?, ?)`,
		sessionID, updateRate, autoKeyframe,
	)
	if err != nil {
		return fmt.Errorf("failed to record session start: %w", err)
	}
	return nil
}

// RecordSessionStop stamps the end of a live-solve session.
func (db *DB) RecordSessionStop(sessionID string) error {
	_, err := db.Exec(
		`UPDATE live_sessions SET stopped_at = ? WHERE session_id = ?`,
		time.Now().UTC(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to record session stop: %w", err)
	}
	return nil
}

// SolveRow is one solve-history entry as read back from the store.
type SolveRow struct {
	SolveID   int64     `json:"solve_id"`
	Image     string    `json:"image"`
	Frame     int       `json:"frame"`
	Mode      string    `json:"mode"`
	Success   bool      `json:"success"`
	MeanError float64   `json:"mean_error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ListSolves returns up to limit most recent solves, newest first. A
// non-empty image filters to that image match.
func (db *DB) ListSolves(image string, limit int) ([]SolveRow, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT solve_id, image, frame, mode, success, mean_error, message, timestamp
		FROM solves`
	args := []any{}
	if image != "" {
		query += ` WHERE image = ?`
		args = append(args, image)
	}
	query += ` ORDER BY solve_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SolveRow
	for rows.Next() {
		var r SolveRow
		if err := rows.Scan(&r.SolveID, &r.Image, &r.Frame, &r.Mode, &r.Success, &r.MeanError, &r.Message, &r.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// FrameErrors returns the latest successful mean error per frame for an
// image, ordered by frame. Used by the error-report chart.
func (db *DB) FrameErrors(image string) (frames []int, errorsPx []float64, err error) {
	rows, err := db.Query(`
		SELECT frame, mean_error FROM solves
		WHERE success = 1 AND (? = '' OR image = ?)
		  AND solve_id IN (
			SELECT MAX(solve_id) FROM solves WHERE success = 1 GROUP BY image, frame
		  )
		ORDER BY frame ASC`, image, image)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var frame int
		var meanErr float64
		if err := rows.Scan(&frame, &meanErr); err != nil {
			return nil, nil, err
		}
		frames = append(frames, frame)
		errorsPx = append(errorsPx, meanErr)
	}
	return frames, errorsPx, rows.Err()
}

// LatestResiduals returns the per-pair residuals of the most recent
// successful solve, with the frame it solved. A non-empty image filters to
// that image match; frame < 0 means any frame. No matching solve returns an
// empty slice without error.
func (db *DB) LatestResiduals(image string, frame int) ([]float64, int, error) {
	var solveID int64
	var solvedFrame int
	err := db.QueryRow(`
		SELECT solve_id, frame FROM solves
		WHERE success = 1 AND (? = '' OR image = ?) AND (? < 0 OR frame = ?)
		ORDER BY solve_id DESC LIMIT 1`,
		image, image, frame, frame).Scan(&solveID, &solvedFrame)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}

	rows, err := db.Query(
		`SELECT error_px FROM solve_residuals WHERE solve_id = ? ORDER BY pair_index ASC`,
		solveID,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var r float64
		if err := rows.Scan(&r); err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	return out, solvedFrame, rows.Err()
}

// AttachAdminRoutes mounts the debug surface: a tailSQL console over the
// history database for live inspection.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "Solve history",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
}
