package model

import "time"

// RunnerState is the Port Runner's state machine position.
type RunnerState int

const (
	Stopped RunnerState = iota
	Connecting
	Running
	Backoff
	Disconnected
	RunnerError
)

func (s RunnerState) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Connecting:
		return "connecting"
	case Running:
		return "running"
	case Backoff:
		return "backoff"
	case Disconnected:
		return "disconnected"
	case RunnerError:
		return "error"
	default:
		return "unknown"
	}
}

// DeviceStats is one device's slice of a port's counters.
type DeviceStats struct {
	TotalPolls      uint64
	SuccessfulPolls uint64
	FailedPolls     uint64
	LastLatencyMs   float64
}

// PortStatusView is the read-only snapshot handed out by the Engine
// Supervisor's Status/StatusAll calls. SuccessRate is a percentage in
// [0,100].
type PortStatusView struct {
	PortName          string
	State             RunnerState
	TotalPolls        uint64
	SuccessfulPolls   uint64
	FailedPolls       uint64
	ErrorCount        uint64
	SuccessRate       float64
	AvgResponseTimeMs float64
	ConnectedDevices  []string
	PerDevice         map[string]DeviceStats
	LastSuccessAt     time.Time
	LastErrorAt       time.Time
	LastError         string
}
