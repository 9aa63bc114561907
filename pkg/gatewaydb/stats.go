package gatewaydb

import (
	"context"
	"time"

	"github.com/fieldwire/modbus-gateway/internal/storage"
)

// PortStatsSnapshot is one persisted per-port statistics row.
type PortStatsSnapshot struct {
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

func fromStorageStats(r storage.PortStatsRow) PortStatsSnapshot {
	return PortStatsSnapshot{
		PortName:          r.PortName,
		SnapshotAt:        r.SnapshotAt,
		TotalPolls:        r.TotalPolls,
		SuccessfulPolls:   r.SuccessfulPolls,
		FailedPolls:       r.FailedPolls,
		ErrorCount:        r.ErrorCount,
		SuccessRate:       r.SuccessRate,
		AvgResponseTimeMs: r.AvgResponseTimeMs,
		ConnectedDevices:  r.ConnectedDevices,
		State:             r.State,
	}
}

// PortStatsHistory returns a port's persisted statistics snapshots, newest
// first. When limit > 0, at most limit rows are returned.
func (c *Client) PortStatsHistory(ctx context.Context, portName string, limit int) ([]PortStatsSnapshot, error) {
	rows, err := c.store.PortStatsHistory(ctx, portName, limit)
	if err != nil {
		return nil, err
	}
	out := make([]PortStatsSnapshot, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromStorageStats(r))
	}
	return out, nil
}
