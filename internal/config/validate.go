package config

import (
	"fmt"
	"time"

	"github.com/fieldwire/modbus-gateway/internal/gwerrors"
	"github.com/fieldwire/modbus-gateway/internal/model"
)

// validBaudRates enumerates the serial speeds a port may request.
var validBaudRates = map[int]bool{
	300: true, 600: true, 1200: true, 2400: true, 4800: true,
	9600: true, 19200: true, 38400: true, 57600: true, 115200: true,
}

// Validate checks the runtime invariants of a loaded config, returning a
// ConfigInvalid error describing the first violation. LoadYAML calls this
// automatically; it is exported so callers building an AppConfig
// programmatically (e.g. tests) can reuse the same checks.
func Validate(cfg AppConfig) error {
	seenPorts := make(map[string]bool, len(cfg.Ports))
	for _, p := range cfg.Ports {
		if p.Name == "" {
			return gwerrors.New(gwerrors.ConfigInvalid, "port name must not be empty")
		}
		if seenPorts[p.Name] {
			return gwerrors.New(gwerrors.ConfigInvalid, fmt.Sprintf("duplicate port name %q", p.Name))
		}
		seenPorts[p.Name] = true

		if err := validateTransport(p); err != nil {
			return err
		}

		seenDevices := make(map[string]bool, len(p.Devices))
		for _, d := range p.Devices {
			if d.Name == "" {
				return gwerrors.New(gwerrors.ConfigInvalid, fmt.Sprintf("port %q: device name must not be empty", p.Name))
			}
			if seenDevices[d.Name] {
				return gwerrors.New(gwerrors.ConfigInvalid, fmt.Sprintf("port %q: duplicate device name %q", p.Name, d.Name))
			}
			seenDevices[d.Name] = true

			if d.UnitAddress < 1 || d.UnitAddress > 247 {
				return gwerrors.New(gwerrors.ConfigInvalid, fmt.Sprintf("device %q: unit address %d outside 1..247", d.Name, d.UnitAddress))
			}
			if d.PollInterval < 10_000_000 { // 10ms in nanoseconds
				return gwerrors.New(gwerrors.ConfigInvalid, fmt.Sprintf("device %q: poll interval must be >= 10ms", d.Name))
			}

			if err := validateRegisters(p.Name, d); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateTransport(p PortConfig) error {
	if p.Timeout > 0 && p.Timeout < 100*time.Millisecond {
		return gwerrors.New(gwerrors.ConfigInvalid, fmt.Sprintf("port %q: timeout must be >= 0.1s", p.Name))
	}
	switch p.Transport {
	case TCP, RtuOverTCP:
		if p.Host == "" || p.Port <= 0 || p.Port > 65535 {
			return gwerrors.New(gwerrors.ConfigInvalid, fmt.Sprintf("port %q: host/port required for tcp transports", p.Name))
		}
	case RtuSerial:
		if p.Device == "" {
			return gwerrors.New(gwerrors.ConfigInvalid, fmt.Sprintf("port %q: port_name required for rtu_serial", p.Name))
		}
		if p.BaudRate != 0 && !validBaudRates[p.BaudRate] {
			return gwerrors.New(gwerrors.ConfigInvalid, fmt.Sprintf("port %q: unsupported baudrate %d", p.Name, p.BaudRate))
		}
		if p.ByteSize < 5 || p.ByteSize > 8 {
			return gwerrors.New(gwerrors.ConfigInvalid, fmt.Sprintf("port %q: bytesize %d outside 5..8", p.Name, p.ByteSize))
		}
		if p.StopBits != 1 && p.StopBits != 2 {
			return gwerrors.New(gwerrors.ConfigInvalid, fmt.Sprintf("port %q: stopbits must be 1 or 2", p.Name))
		}
	default:
		return gwerrors.New(gwerrors.ConfigInvalid, fmt.Sprintf("port %q: unknown transport kind", p.Name))
	}
	return nil
}

func validateRegisters(portName string, d DeviceConfig) error {
	type key struct {
		kind model.RegisterKind
		addr uint16
	}
	seen := make(map[key]bool, len(d.Registers))
	for _, r := range d.Registers {
		k := key{r.Kind, r.Address}
		if seen[k] {
			return gwerrors.New(gwerrors.ConfigInvalid,
				fmt.Sprintf("port %q device %q: duplicate register (%s,%d)", portName, d.Name, r.Kind, r.Address))
		}
		seen[k] = true

		if (r.Kind == model.Coil || r.Kind == model.Discrete) && r.DataType != model.Bool {
			return gwerrors.New(gwerrors.ConfigInvalid,
				fmt.Sprintf("port %q device %q register %q: coil/discrete must decode to bool", portName, d.Name, r.Name))
		}
		if r.DataType.WordCount() == 2 && r.Address > 65534 {
			return gwerrors.New(gwerrors.ConfigInvalid,
				fmt.Sprintf("port %q device %q register %q: 32-bit register at %d has no room for its second word", portName, d.Name, r.Name, r.Address))
		}
		if r.Precision < 0 {
			return gwerrors.New(gwerrors.ConfigInvalid,
				fmt.Sprintf("port %q device %q register %q: precision must be >= 0", portName, d.Name, r.Name))
		}
	}
	return nil
}
