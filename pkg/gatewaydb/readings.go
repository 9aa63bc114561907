package gatewaydb

import (
	"context"
	"time"

	"github.com/fieldwire/modbus-gateway/internal/storage"
)

// Reading is one persisted decoded register value.
type Reading struct {
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

func fromStorageReading(r storage.ReadingRow) Reading {
	return Reading{
		PortName:       r.PortName,
		DeviceName:     r.DeviceName,
		RegKey:         r.RegKey,
		Unit:           r.Unit,
		Quality:        r.Quality,
		DataType:       r.DataType,
		Value:          r.Value,
		CapturedAt:     r.CapturedAt,
		PollDurationMs: r.PollDurationMs,
	}
}

// LatestReadings returns the most recent reading per (device, register).
func (c *Client) LatestReadings(ctx context.Context) ([]Reading, error) {
	rows, err := c.store.LatestReadings(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Reading, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromStorageReading(r))
	}
	return out, nil
}

// DeviceHistory returns a device's readings, newest first. When limit > 0,
// at most limit rows are returned.
func (c *Client) DeviceHistory(ctx context.Context, deviceName string, limit int) ([]Reading, error) {
	rows, err := c.store.DeviceReadings(ctx, deviceName, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Reading, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromStorageReading(r))
	}
	return out, nil
}

// SummaryJSON returns the aggregated latest state of every device as JSON.
func (c *Client) SummaryJSON(ctx context.Context) ([]byte, error) {
	return c.store.SummaryJSON(ctx)
}
