// Package stats implements the per-port statistics recorder: rolling
// counters and a bounded latency window a Port Runner updates after every
// poll cycle, and from which the runner's health state is derived.
package stats

import (
	"sort"
	"sync"
	"time"

	"github.com/fieldwire/modbus-gateway/internal/model"
)

// maxLatencySamples bounds the FIFO window used for AvgResponseTimeMs so
// memory use for a port's stats never grows with uptime.
const maxLatencySamples = 100

// Recorder accumulates counters and recent latencies for one port. Safe for
// concurrent use; the Port Runner is normally its only writer, but Status()
// may be called concurrently from the Engine Supervisor's snapshot ticker or
// a status query.
type Recorder struct {
	mu sync.Mutex

	portName string

	totalPolls      uint64
	successfulPolls uint64
	failedPolls     uint64
	errorCount      uint64

	latenciesMs []float64 // FIFO, oldest evicted first
	latencyPos  int

	// connectedDevices holds every device with >=1 successful poll in the
	// current connection session; cleared only on MarkDisconnected.
	connectedDevices map[string]bool
	perDevice        map[string]*model.DeviceStats

	lastSuccessAt time.Time
	lastErrorAt   time.Time
	lastError     string
}

func New(portName string) *Recorder {
	return &Recorder{
		portName:         portName,
		connectedDevices: make(map[string]bool),
		perDevice:        make(map[string]*model.DeviceStats),
	}
}

// RecordSuccess records one successful device poll and its duration.
func (r *Recorder) RecordSuccess(deviceName string, durationMs int64, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.totalPolls++
	r.successfulPolls++
	r.lastSuccessAt = at
	r.connectedDevices[deviceName] = true
	dc := r.device(deviceName)
	dc.TotalPolls++
	dc.SuccessfulPolls++
	dc.LastLatencyMs = float64(durationMs)
	r.pushLatency(float64(durationMs))
}

// RecordFailure records one failed device poll. The device stays in the
// connected set if it ever succeeded this session; only a lost transport
// connection (MarkDisconnected) empties the set.
func (r *Recorder) RecordFailure(deviceName string, err error, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.totalPolls++
	r.failedPolls++
	r.errorCount++
	r.lastErrorAt = at
	if err != nil {
		r.lastError = err.Error()
	}
	dc := r.device(deviceName)
	dc.TotalPolls++
	dc.FailedPolls++
}

// MarkDisconnected clears the connected-device set, used when the Port
// Runner loses its transport connection entirely.
func (r *Recorder) MarkDisconnected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.connectedDevices {
		delete(r.connectedDevices, k)
	}
}

func (r *Recorder) device(name string) *model.DeviceStats {
	dc, ok := r.perDevice[name]
	if !ok {
		dc = &model.DeviceStats{}
		r.perDevice[name] = dc
	}
	return dc
}

func (r *Recorder) pushLatency(ms float64) {
	if len(r.latenciesMs) < maxLatencySamples {
		r.latenciesMs = append(r.latenciesMs, ms)
		return
	}
	r.latenciesMs[r.latencyPos] = ms
	r.latencyPos = (r.latencyPos + 1) % maxLatencySamples
}

// Status produces a consistent snapshot of this port's current health.
// state is supplied by the caller (the Port Runner owns the state machine;
// Recorder only owns the counters feeding its transitions).
func (r *Recorder) Status(state model.RunnerState) model.PortStatusView {
	r.mu.Lock()
	defer r.mu.Unlock()

	view := model.PortStatusView{
		PortName:        r.portName,
		State:           state,
		TotalPolls:      r.totalPolls,
		SuccessfulPolls: r.successfulPolls,
		FailedPolls:     r.failedPolls,
		ErrorCount:      r.errorCount,
		LastSuccessAt:   r.lastSuccessAt,
		LastErrorAt:     r.lastErrorAt,
		LastError:       r.lastError,
	}
	if r.totalPolls > 0 {
		view.SuccessRate = 100 * float64(r.successfulPolls) / float64(r.totalPolls)
	}
	if n := len(r.latenciesMs); n > 0 {
		var sum float64
		for _, v := range r.latenciesMs {
			sum += v
		}
		view.AvgResponseTimeMs = sum / float64(n)
	}
	for name := range r.connectedDevices {
		view.ConnectedDevices = append(view.ConnectedDevices, name)
	}
	sort.Strings(view.ConnectedDevices)
	if len(r.perDevice) > 0 {
		view.PerDevice = make(map[string]model.DeviceStats, len(r.perDevice))
		for name, dc := range r.perDevice {
			view.PerDevice[name] = *dc
		}
	}
	return view
}

// DeriveState applies the health rule: an elevated, non-recovering error
// rate moves a port to RunnerError; having no connected devices (but
// otherwise healthy) means Disconnected; anything else is Running.
func (r *Recorder) DeriveState() model.RunnerState {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.errorCount > 10 && r.successfulPolls == 0 {
		return model.RunnerError
	}
	if r.errorCount > r.successfulPolls/2 && r.errorCount > 0 {
		return model.RunnerError
	}
	if len(r.connectedDevices) == 0 {
		return model.Disconnected
	}
	return model.Running
}
