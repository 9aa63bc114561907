// Package gatewaydb exposes a stable read API over the gateway's SQLite
// database for external tools: latest values per device/register, reading
// history, and persisted port statistics snapshots.
package gatewaydb

import (
	"context"
	"time"

	"github.com/fieldwire/modbus-gateway/internal/storage"
)

// Client wraps an open gateway database.
type Client struct{ store *storage.Store }

// Open opens the SQLite database (running migrations if needed) and returns
// a client.
func Open(path string) (*Client, error) {
	s, err := storage.Open(path)
	if err != nil {
		return nil, err
	}
	return &Client{store: s}, nil
}

// Close closes the underlying database.
func (c *Client) Close() error { return c.store.Close() }

// Devices returns every device name with at least one persisted reading.
func (c *Client) Devices(ctx context.Context) ([]string, error) {
	return c.store.DeviceNames(ctx)
}

// Cleanup deletes readings and stats snapshots captured before the given
// timestamp; intended for an external retention janitor.
func (c *Client) Cleanup(before time.Time) error {
	return c.store.Cleanup(before)
}
