package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// ReadingRow mirrors one readings row for query/export output.
type ReadingRow struct {
	PortName       string    `json:"port_name"`
	DeviceName     string    `json:"device_name"`
	RegKey         string    `json:"reg_key"`
	Unit           string    `json:"unit,omitempty"`
	Quality        string    `json:"quality"`
	DataType       string    `json:"data_type"`
	Value          string    `json:"value"`
	CapturedAt     time.Time `json:"captured_at"`
	PollDurationMs int64     `json:"poll_duration_ms"`
}

// PortStatsRow mirrors one port_stats snapshot row.
type PortStatsRow struct {
	PortName          string    `json:"port_name"`
	SnapshotAt        time.Time `json:"snapshot_at"`
	TotalPolls        uint64    `json:"total_polls"`
	SuccessfulPolls   uint64    `json:"successful_polls"`
	FailedPolls       uint64    `json:"failed_polls"`
	ErrorCount        uint64    `json:"error_count"`
	SuccessRate       float64   `json:"success_rate"`
	AvgResponseTimeMs float64   `json:"avg_response_time_ms"`
	ConnectedDevices  int       `json:"connected_devices"`
	State             string    `json:"state"`
}

const readingColumns = `port_name, device_name, reg_key, COALESCE(unit, ''), quality, data_type, value, captured_at, poll_duration_ms`

func scanReadings(rows *sql.Rows) ([]ReadingRow, error) {
	var out []ReadingRow
	for rows.Next() {
		var r ReadingRow
		if err := rows.Scan(&r.PortName, &r.DeviceName, &r.RegKey, &r.Unit, &r.Quality,
			&r.DataType, &r.Value, &r.CapturedAt, &r.PollDurationMs); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeviceNames returns every device that has at least one persisted reading.
func (s *Store) DeviceNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT device_name FROM readings ORDER BY device_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// LatestReadings returns, for each (device, register) pair, the most recent
// persisted reading.
func (s *Store) LatestReadings(ctx context.Context) ([]ReadingRow, error) {
	q := `
WITH latest AS (
  SELECT device_name, reg_key, MAX(captured_at) AS ts
  FROM readings
  GROUP BY device_name, reg_key
)
SELECT r.port_name, r.device_name, r.reg_key, COALESCE(r.unit, ''), r.quality, r.data_type, r.value, r.captured_at, r.poll_duration_ms
FROM readings r
JOIN latest l ON l.device_name = r.device_name AND l.reg_key = r.reg_key AND l.ts = r.captured_at
ORDER BY r.device_name, r.reg_key;
`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReadings(rows)
}

// DeviceReadings returns a device's reading history, newest first. When
// limit > 0, at most limit rows are returned.
func (s *Store) DeviceReadings(ctx context.Context, deviceName string, limit int) ([]ReadingRow, error) {
	q := `SELECT ` + readingColumns + ` FROM readings WHERE device_name = ? ORDER BY captured_at DESC, reg_key`
	args := []any{deviceName}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReadings(rows)
}

// PortStatsHistory returns a port's persisted statistics snapshots, newest
// first. When limit > 0, at most limit rows are returned.
func (s *Store) PortStatsHistory(ctx context.Context, portName string, limit int) ([]PortStatsRow, error) {
	q := `
SELECT port_name, snapshot_at, total_polls, successful_polls, failed_polls, error_count, success_rate, avg_response_time_ms, connected_devices, state
FROM port_stats WHERE port_name = ? ORDER BY snapshot_at DESC`
	args := []any{portName}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PortStatsRow
	for rows.Next() {
		var r PortStatsRow
		if err := rows.Scan(&r.PortName, &r.SnapshotAt, &r.TotalPolls, &r.SuccessfulPolls, &r.FailedPolls,
			&r.ErrorCount, &r.SuccessRate, &r.AvgResponseTimeMs, &r.ConnectedDevices, &r.State); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Summary aggregates device and latest-reading views for status-style output.
type Summary struct {
	DeviceCount    int          `json:"device_count"`
	Devices        []string     `json:"devices"`
	LatestReadings []ReadingRow `json:"latest_readings"`
}

// SummaryJSON returns the aggregated latest state of every device as JSON.
func (s *Store) SummaryJSON(ctx context.Context) ([]byte, error) {
	devices, err := s.DeviceNames(ctx)
	if err != nil {
		return nil, err
	}
	latest, err := s.LatestReadings(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Summary{
		DeviceCount:    len(devices),
		Devices:        devices,
		LatestReadings: latest,
	})
}
