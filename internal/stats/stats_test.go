package stats

import (
	"errors"
	"testing"
	"time"

	"github.com/fieldwire/modbus-gateway/internal/model"
)

func TestRecorderSuccessRate(t *testing.T) {
	r := New("port1")
	now := time.Unix(1700000000, 0)

	r.RecordSuccess("dev1", 12, now)
	r.RecordSuccess("dev1", 8, now)
	r.RecordFailure("dev1", errors.New("timeout"), now)

	view := r.Status(model.Running)
	if view.TotalPolls != 3 {
		t.Fatalf("TotalPolls = %d, want 3", view.TotalPolls)
	}
	if view.SuccessfulPolls != 2 || view.FailedPolls != 1 {
		t.Fatalf("successful=%d failed=%d, want 2/1", view.SuccessfulPolls, view.FailedPolls)
	}
	wantRate := 100 * 2.0 / 3.0
	if view.SuccessRate != wantRate {
		t.Fatalf("SuccessRate = %v, want %v", view.SuccessRate, wantRate)
	}
	if view.AvgResponseTimeMs != 10 {
		t.Fatalf("AvgResponseTimeMs = %v, want 10", view.AvgResponseTimeMs)
	}
}

func TestRecorderCountersBalance(t *testing.T) {
	r := New("port1")
	now := time.Now()
	r.RecordSuccess("dev1", 5, now)
	r.RecordFailure("dev2", errors.New("x"), now)
	r.RecordSuccess("dev2", 7, now)
	r.RecordFailure("dev1", errors.New("y"), now)

	view := r.Status(model.Running)
	if view.SuccessfulPolls+view.FailedPolls != view.TotalPolls {
		t.Fatalf("successful+failed = %d, total = %d",
			view.SuccessfulPolls+view.FailedPolls, view.TotalPolls)
	}

	var perDeviceTotal uint64
	for _, dc := range view.PerDevice {
		perDeviceTotal += dc.TotalPolls
	}
	if perDeviceTotal != view.TotalPolls {
		t.Fatalf("sum(perDevice.total) = %d, port total = %d", perDeviceTotal, view.TotalPolls)
	}
}

func TestRecorderLatencyWindowBounded(t *testing.T) {
	r := New("port1")
	now := time.Now()
	for i := 0; i < maxLatencySamples+10; i++ {
		r.RecordSuccess("dev1", 100, now)
	}
	if len(r.latenciesMs) != maxLatencySamples {
		t.Fatalf("latency window len = %d, want %d", len(r.latenciesMs), maxLatencySamples)
	}
}

func TestRecorderFailureKeepsConnectedDevice(t *testing.T) {
	r := New("port1")
	now := time.Now()
	r.RecordSuccess("dev1", 5, now)
	r.RecordFailure("dev1", errors.New("boom"), now)

	view := r.Status(model.Running)
	if len(view.ConnectedDevices) != 1 || view.ConnectedDevices[0] != "dev1" {
		t.Fatalf("ConnectedDevices = %v, want [dev1]: one success this session keeps it connected", view.ConnectedDevices)
	}
}

func TestDeriveStateDisconnectedWhenNoDevices(t *testing.T) {
	r := New("port1")
	if got := r.DeriveState(); got != model.Disconnected {
		t.Fatalf("DeriveState() = %v, want Disconnected", got)
	}
}

func TestDeriveStateRunningWithConnectedDevice(t *testing.T) {
	r := New("port1")
	r.RecordSuccess("dev1", 5, time.Now())
	if got := r.DeriveState(); got != model.Running {
		t.Fatalf("DeriveState() = %v, want Running", got)
	}
}

func TestDeriveStateErrorOnHighFailureRate(t *testing.T) {
	r := New("port1")
	now := time.Now()
	r.RecordSuccess("dev1", 5, now)
	for i := 0; i < 5; i++ {
		r.RecordFailure("dev1", errors.New("x"), now)
	}
	if got := r.DeriveState(); got != model.RunnerError {
		t.Fatalf("DeriveState() = %v, want RunnerError", got)
	}
}

func TestMarkDisconnected(t *testing.T) {
	r := New("port1")
	r.RecordSuccess("dev1", 5, time.Now())
	r.MarkDisconnected()
	if got := r.DeriveState(); got != model.Disconnected {
		t.Fatalf("DeriveState() after MarkDisconnected = %v, want Disconnected", got)
	}
}
