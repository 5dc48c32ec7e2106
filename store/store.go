// Package store persists run and epoch history in SQLite so results survive
// across processes and can be queried after the fact.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/retinalab/drgrade/training"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  TIMESTAMP NOT NULL,
	description TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS epochs (
	run_id        TEXT NOT NULL REFERENCES runs(id),
	epoch         INTEGER NOT NULL,
	train_loss    REAL NOT NULL,
	train_acc     REAL NOT NULL,
	val_loss      REAL NOT NULL,
	val_acc       REAL NOT NULL,
	learning_rate REAL NOT NULL,
	recorded_at   TIMESTAMP NOT NULL,
	PRIMARY KEY (run_id, epoch)
);
`

// RunStore records training runs in a SQLite database. It satisfies
// training.EpochRecorder.
type RunStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the run database at path. The caller must
// import a sqlite driver registered under the name "sqlite".
func Open(path string) (*RunStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize run database: %w", err)
	}
	return &RunStore{db: db}, nil
}

// Close closes the database.
func (s *RunStore) Close() error { return s.db.Close() }

// CreateRun registers a run before its first epoch.
func (s *RunStore) CreateRun(runID, description string) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO runs (id, started_at, description) VALUES (?, ?, ?)`,
		runID, time.Now().UTC(), description,
	)
	if err != nil {
		return fmt.Errorf("failed to create run %s: %w", runID, err)
	}
	return nil
}

// RecordEpoch stores one epoch row. Re-recording an epoch (a resumed run
// replaying its last epoch) overwrites the previous row.
func (s *RunStore) RecordEpoch(runID string, m training.EpochMetrics) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO epochs
		 (run_id, epoch, train_loss, train_acc, val_loss, val_acc, learning_rate, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, m.Epoch, m.TrainLoss, m.TrainAcc, m.ValLoss, m.ValAcc, m.LearningRate,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record epoch %d for run %s: %w", m.Epoch, runID, err)
	}
	return nil
}

// History returns a run's epochs in order.
func (s *RunStore) History(runID string) ([]training.EpochMetrics, error) {
	rows, err := s.db.Query(
		`SELECT epoch, train_loss, train_acc, val_loss, val_acc, learning_rate
		 FROM epochs WHERE run_id = ? ORDER BY epoch`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history for run %s: %w", runID, err)
	}
	defer rows.Close()

	var history []training.EpochMetrics
	for rows.Next() {
		var m training.EpochMetrics
		if err := rows.Scan(&m.Epoch, &m.TrainLoss, &m.TrainAcc, &m.ValLoss, &m.ValAcc, &m.LearningRate); err != nil {
			return nil, fmt.Errorf("failed to scan epoch row: %w", err)
		}
		history = append(history, m)
	}
	return history, rows.Err()
}

// LatestRunHistory returns the history of the most recently started run, or
// nil when the store holds no runs yet.
func (s *RunStore) LatestRunHistory() ([]training.EpochMetrics, error) {
	var id string
	err := s.db.QueryRow(`SELECT id FROM runs ORDER BY started_at DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find latest run: %w", err)
	}
	return s.History(id)
}

// Runs lists all recorded run IDs, newest first.
func (s *RunStore) Runs() ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
