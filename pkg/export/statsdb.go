// This file implements the run-statistics exporter: per-stage and
// per-iteration numbers of a place-and-route run written to a SQLite
// database so runs can be compared offline.
package export

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vanderheijden86/gridloom/pkg/metrics"
)

// IterationStat is one sampled point of a placer or router loop.
type IterationStat struct {
	Stage     string  // "analytical", "SA", "route", ...
	Iteration int
	HPWL      float64
	Cost      float64 // stage-specific: bb cost, blended cost, ...
	MaxDelay  float64 // picoseconds, 0 when timing is off
	Overused  int     // congested RRG nodes, routing only
}

// RunStats accumulates the statistics of one run.
type RunStats struct {
	Circuit    string
	DeviceSize int
	Seed       int64
	StartedAt  time.Time

	iterations []IterationStat
}

// NewRunStats starts a statistics record for one circuit.
func NewRunStats(circuitName string, deviceSize int, seed int64) *RunStats {
	return &RunStats{
		Circuit:    circuitName,
		DeviceSize: deviceSize,
		Seed:       seed,
		StartedAt:  time.Now(),
	}
}

// Record appends one iteration sample.
func (rs *RunStats) Record(stat IterationStat) {
	rs.iterations = append(rs.iterations, stat)
}

// Iterations returns the samples recorded so far.
func (rs *RunStats) Iterations() []IterationStat {
	return rs.iterations
}

// Save writes the run and its iterations into the SQLite database at
// path, creating the schema when missing.
func (rs *RunStats) Save(path string) error {
	defer metrics.Timer(metrics.StatsExport)()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("export: open stats db %s: %w", path, err)
	}
	defer db.Close()

	if err := createStatsSchema(db); err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("export: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO runs (circuit, device_size, seed, started_at) VALUES (?, ?, ?, ?)`,
		rs.Circuit, rs.DeviceSize, rs.Seed, rs.StartedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("export: insert run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("export: run id: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO iterations (run_id, stage, iteration, hpwl, cost, max_delay, overused)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("export: prepare: %w", err)
	}
	defer stmt.Close()

	for _, it := range rs.iterations {
		if _, err := stmt.Exec(runID, it.Stage, it.Iteration, it.HPWL, it.Cost, it.MaxDelay, it.Overused); err != nil {
			return fmt.Errorf("export: insert iteration: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("export: commit: %w", err)
	}
	return nil
}

// createStatsSchema creates the runs and iterations tables.
func createStatsSchema(db *sql.DB) error {
	runsSQL := `
		CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			circuit TEXT NOT NULL,
			device_size INTEGER NOT NULL,
			seed INTEGER NOT NULL,
			started_at TEXT NOT NULL
		)
	`
	if _, err := db.Exec(runsSQL); err != nil {
		return fmt.Errorf("export: create runs table: %w", err)
	}

	iterSQL := `
		CREATE TABLE IF NOT EXISTS iterations (
			run_id INTEGER NOT NULL REFERENCES runs(id),
			stage TEXT NOT NULL,
			iteration INTEGER NOT NULL,
			hpwl REAL NOT NULL,
			cost REAL NOT NULL,
			max_delay REAL NOT NULL,
			overused INTEGER NOT NULL
		)
	`
	if _, err := db.Exec(iterSQL); err != nil {
		return fmt.Errorf("export: create iterations table: %w", err)
	}

	idxSQL := `CREATE INDEX IF NOT EXISTS idx_iterations_run ON iterations(run_id, stage)`
	if _, err := db.Exec(idxSQL); err != nil {
		return fmt.Errorf("export: create index: %w", err)
	}
	return nil
}
