package gatewaydb

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/fieldwire/modbus-gateway/internal/model"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "gateway_test.sqlite")
	client, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func sampleAt(device string, at time.Time, value float64) model.Sample {
	return model.Sample{
		DeviceName: device,
		PortName:   "port1",
		CapturedAt: at,
		Registers: map[string]model.DecodedValue{
			model.RegKey(model.Holding, 10): {
				Value:    value,
				Raw:      uint16(0),
				Unit:     "C",
				Quality:  model.Good,
				DataType: model.Float32,
			},
		},
		DeviceStatus:   model.Online,
		PollDurationMs: 12,
	}
}

func TestReadingQueries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client := newTestClient(t)

	now := time.Now().UTC().Truncate(time.Second)
	samples := []model.Sample{
		sampleAt("meter-a", now, 21.5),
		sampleAt("meter-a", now.Add(1*time.Minute), 22.1),
		sampleAt("meter-b", now.Add(2*time.Minute), 1.5),
	}
	if err := client.store.SaveBatch(samples); err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}

	devices, err := client.Devices(ctx)
	if err != nil {
		t.Fatalf("Devices failed: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d (%v)", len(devices), devices)
	}

	latest, err := client.LatestReadings(ctx)
	if err != nil {
		t.Fatalf("LatestReadings failed: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("expected 2 latest readings (one per device/register), got %d", len(latest))
	}
	for _, r := range latest {
		if r.DeviceName == "meter-a" && r.Value != "22.1" {
			t.Fatalf("expected meter-a latest value 22.1, got %q", r.Value)
		}
	}

	history, err := client.DeviceHistory(ctx, "meter-a", 0)
	if err != nil {
		t.Fatalf("DeviceHistory failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history rows for meter-a, got %d", len(history))
	}
	if history[0].CapturedAt.Before(history[1].CapturedAt) {
		t.Fatalf("expected history newest first")
	}

	limited, err := client.DeviceHistory(ctx, "meter-a", 1)
	if err != nil {
		t.Fatalf("DeviceHistory with limit failed: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit=1 to return 1 row, got %d", len(limited))
	}

	jsonBytes, err := client.SummaryJSON(ctx)
	if err != nil {
		t.Fatalf("SummaryJSON failed: %v", err)
	}
	var summary map[string]any
	if err := json.Unmarshal(jsonBytes, &summary); err != nil {
		t.Fatalf("SummaryJSON produced invalid JSON: %v", err)
	}
	if _, ok := summary["device_count"]; !ok {
		t.Fatalf("expected summary JSON to contain device_count")
	}
	if _, ok := summary["latest_readings"]; !ok {
		t.Fatalf("expected summary JSON to contain latest_readings")
	}
}

func TestPortStatsHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client := newTestClient(t)

	now := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		view := model.PortStatusView{
			PortName:          "port1",
			State:             model.Running,
			TotalPolls:        uint64(10 * (i + 1)),
			SuccessfulPolls:   uint64(9 * (i + 1)),
			FailedPolls:       uint64(i + 1),
			SuccessRate:       90,
			AvgResponseTimeMs: 12.5,
			ConnectedDevices:  []string{"meter-a"},
		}
		if err := client.store.SavePortStats("port1", now.Add(time.Duration(i)*time.Minute), view); err != nil {
			t.Fatalf("SavePortStats failed: %v", err)
		}
	}

	history, err := client.PortStatsHistory(ctx, "port1", 0)
	if err != nil {
		t.Fatalf("PortStatsHistory failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(history))
	}
	if history[0].TotalPolls != 30 {
		t.Fatalf("expected newest snapshot first (total=30), got %d", history[0].TotalPolls)
	}

	limited, err := client.PortStatsHistory(ctx, "port1", 1)
	if err != nil {
		t.Fatalf("PortStatsHistory with limit failed: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit=1 to return 1 row, got %d", len(limited))
	}
}

func TestCleanup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client := newTestClient(t)

	now := time.Now().UTC().Truncate(time.Second)
	old := sampleAt("meter-a", now.Add(-48*time.Hour), 20.0)
	fresh := sampleAt("meter-a", now, 21.0)
	if err := client.store.SaveBatch([]model.Sample{old, fresh}); err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}

	if err := client.Cleanup(now.Add(-24 * time.Hour)); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}

	history, err := client.DeviceHistory(ctx, "meter-a", 0)
	if err != nil {
		t.Fatalf("DeviceHistory failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected only the fresh reading to survive cleanup, got %d rows", len(history))
	}
}
