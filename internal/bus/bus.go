// Package bus provides the default real-time fan-out implementation: a
// WebSocket hub broadcasting every published Sample to all subscribed
// clients. Publish is non-blocking; a slow consumer's send queue simply
// drops messages.
package bus

import (
	"time"

	"github.com/fieldwire/modbus-gateway/internal/model"
)

// Bus is the fan-out contract the Port Runner publishes to.
type Bus interface {
	Publish(deviceName string, sample model.Sample)
}

// Message is the wire shape sent to WebSocket subscribers.
type Message struct {
	Type       string                   `json:"type"`
	Timestamp  time.Time                `json:"timestamp"`
	Device     string                   `json:"device"`
	Port       string                   `json:"port"`
	Status     string                   `json:"status"`
	DurationMs int64                    `json:"duration_ms"`
	Registers  map[string]RegisterValue `json:"registers"`
}

// RegisterValue is one decoded register inside a Message.
type RegisterValue struct {
	Value   any    `json:"value"`
	Unit    string `json:"unit,omitempty"`
	Quality string `json:"quality"`
	Type    string `json:"data_type"`
}

const messageTypeSample = "sample"

func toMessage(deviceName string, sample model.Sample) Message {
	msg := Message{
		Type:       messageTypeSample,
		Timestamp:  sample.CapturedAt,
		Device:     deviceName,
		Port:       sample.PortName,
		Status:     sample.DeviceStatus.String(),
		DurationMs: sample.PollDurationMs,
		Registers:  make(map[string]RegisterValue, len(sample.Registers)),
	}
	for key, dv := range sample.Registers {
		msg.Registers[key] = RegisterValue{
			Value:   dv.Value,
			Unit:    dv.Unit,
			Quality: dv.Quality.String(),
			Type:    dv.DataType.String(),
		}
	}
	return msg
}
