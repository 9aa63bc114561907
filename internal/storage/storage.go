// Package storage provides the default persistence backend for decoded
// Samples and per-port statistics snapshots: a SQLite-backed implementation
// of the Persistence contract the Write-Buffer and Engine Supervisor depend
// on. One readings row per decoded register inside a Sample, plus a
// port_stats table for periodic Statistics Recorder snapshots.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fieldwire/modbus-gateway/internal/model"
	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed Persistence implementation.
type Store struct {
	db *sql.DB
}

// Open connects to (and migrates) a SQLite database at path.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS readings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    port_name TEXT NOT NULL,
    device_name TEXT NOT NULL,
    reg_key TEXT NOT NULL,
    unit TEXT,
    quality TEXT NOT NULL,
    data_type TEXT NOT NULL,
    value TEXT NOT NULL,
    captured_at DATETIME NOT NULL,
    poll_duration_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_readings_device ON readings(device_name, captured_at);
CREATE INDEX IF NOT EXISTS idx_readings_port ON readings(port_name, captured_at);

CREATE TABLE IF NOT EXISTS port_stats (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    port_name TEXT NOT NULL,
    snapshot_at DATETIME NOT NULL,
    total_polls INTEGER NOT NULL,
    successful_polls INTEGER NOT NULL,
    failed_polls INTEGER NOT NULL,
    error_count INTEGER NOT NULL,
    success_rate REAL NOT NULL,
    avg_response_time_ms REAL NOT NULL,
    connected_devices INTEGER NOT NULL,
    state TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_port_stats_port ON port_stats(port_name, snapshot_at);
`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// SaveReading persists every decoded register of sample as one row each.
// At-most-once: a failure here is logged by the Write-Buffer and not
// retried.
func (s *Store) SaveReading(sample model.Sample) error {
	return s.SaveBatch([]model.Sample{sample})
}

// SaveBatch writes a whole flushed Write-Buffer snapshot in one transaction.
func (s *Store) SaveBatch(samples []model.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO readings (port_name, device_name, reg_key, unit, quality, data_type, value, captured_at, poll_duration_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, sample := range samples {
		for key, dv := range sample.Registers {
			if _, err := stmt.ExecContext(ctx, sample.PortName, sample.DeviceName, key, dv.Unit,
				dv.Quality.String(), dv.DataType.String(), fmt.Sprintf("%v", dv.Value),
				sample.CapturedAt, sample.PollDurationMs); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// SavePortStats persists one Statistics Recorder snapshot, timestamped at
// the moment the Engine Supervisor took it.
func (s *Store) SavePortStats(portName string, at time.Time, snapshot model.PortStatusView) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO port_stats (port_name, snapshot_at, total_polls, successful_polls, failed_polls, error_count, success_rate, avg_response_time_ms, connected_devices, state)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		portName, at, snapshot.TotalPolls, snapshot.SuccessfulPolls, snapshot.FailedPolls,
		snapshot.ErrorCount, snapshot.SuccessRate, snapshot.AvgResponseTimeMs,
		len(snapshot.ConnectedDevices), snapshot.State.String())
	return err
}

// Cleanup deletes readings and stats snapshots captured before the given
// timestamp. Called by an external janitor task, not the polling engine
// itself.
func (s *Store) Cleanup(before time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM readings WHERE captured_at < ?`, before); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM port_stats WHERE snapshot_at < ?`, before)
	return err
}
