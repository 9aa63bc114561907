package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fieldwire/modbus-gateway/internal/model"
	"gopkg.in/yaml.v3"
)

// rootYAML mirrors the on-disk YAML shape before conversion to the resolved
// AppConfig tree. Pointer fields distinguish "absent" from zero values so
// defaults apply only where the file is silent.
type rootYAML struct {
	Ports []portYAML `yaml:"ports"`
}

type portYAML struct {
	Name       string      `yaml:"name"`
	Enabled    *bool       `yaml:"enabled"`
	Type       string      `yaml:"type"`
	Host       string      `yaml:"host"`
	Port       int         `yaml:"port"`
	PortName   string      `yaml:"port_name"`
	BaudRate   int         `yaml:"baudrate"`
	Parity     string      `yaml:"parity"`
	StopBits   int         `yaml:"stopbits"`
	ByteSize   int         `yaml:"bytesize"`
	Timeout    float64     `yaml:"timeout"`
	MaxRetries *int        `yaml:"max_retries"`
	RetryDelay float64     `yaml:"retry_delay"`
	ByteOrder  string      `yaml:"byteorder"`
	WordOrder  string      `yaml:"wordorder"`
	Devices    []deviceYAML `yaml:"devices"`
}

type deviceYAML struct {
	Name         string       `yaml:"name"`
	UnitAddress  int          `yaml:"unit_address"`
	PollInterval string       `yaml:"poll_interval"`
	Timeout      float64      `yaml:"timeout"`
	Enabled      *bool        `yaml:"enabled"`
	Registers    []registerYAML `yaml:"registers"`
}

type registerYAML struct {
	Kind      string  `yaml:"kind"`
	Address   int     `yaml:"address"`
	Name      string  `yaml:"name"`
	Unit      string  `yaml:"unit"`
	DataType  string  `yaml:"data_type"`
	Scale     *float64 `yaml:"scale"`
	Offset    *float64 `yaml:"offset"`
	Precision int     `yaml:"precision"`
	ByteOrder string  `yaml:"byteorder"`
	WordOrder string  `yaml:"wordorder"`
	ReadOnly  bool    `yaml:"read_only"`
}

// LoadYAML reads and validates a gateway configuration file, returning a
// fully resolved AppConfig or a ConfigInvalid error.
func LoadYAML(path string) (AppConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var root rootYAML
	if err := yaml.Unmarshal(b, &root); err != nil {
		return AppConfig{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg := AppConfig{}
	for _, p := range root.Ports {
		pc, err := convertPort(p)
		if err != nil {
			return AppConfig{}, fmt.Errorf("port %q: %w", p.Name, err)
		}
		cfg.Ports = append(cfg.Ports, pc)
	}

	if err := Validate(cfg); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func boolDefault(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func parseByteOrder(s string, def model.ByteOrder) (model.ByteOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return def, nil
	case "big":
		return model.BigEndian, nil
	case "little":
		return model.LittleEndian, nil
	default:
		return def, fmt.Errorf("unknown byteorder %q", s)
	}
}

func parseWordOrder(s string, def model.WordOrder) (model.WordOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return def, nil
	case "big":
		return model.WordBigEndian, nil
	case "little":
		return model.WordLittleEndian, nil
	default:
		return def, fmt.Errorf("unknown wordorder %q", s)
	}
}

func convertPort(p portYAML) (PortConfig, error) {
	pc := PortConfig{
		Name:       p.Name,
		Host:       p.Host,
		Port:       p.Port,
		Device:     p.PortName,
		BaudRate:   p.BaudRate,
		StopBits:   p.StopBits,
		ByteSize:   p.ByteSize,
		Enabled:    boolDefault(p.Enabled, true),
		MaxRetries: 0,
	}

	switch strings.ToLower(strings.TrimSpace(p.Type)) {
	case "tcp":
		pc.Transport = TCP
	case "rtu_tcp":
		pc.Transport = RtuOverTCP
	case "rtu_serial":
		pc.Transport = RtuSerial
	default:
		return PortConfig{}, fmt.Errorf("unsupported type %q", p.Type)
	}

	switch strings.ToUpper(strings.TrimSpace(p.Parity)) {
	case "", "N":
		pc.Parity = ParityNone
	case "E":
		pc.Parity = ParityEven
	case "O":
		pc.Parity = ParityOdd
	default:
		return PortConfig{}, fmt.Errorf("unsupported parity %q", p.Parity)
	}
	if pc.StopBits == 0 {
		pc.StopBits = 1
	}
	if pc.ByteSize == 0 {
		pc.ByteSize = 8
	}

	if p.Timeout <= 0 {
		pc.Timeout = 1 * time.Second
	} else {
		pc.Timeout = time.Duration(p.Timeout * float64(time.Second))
	}
	if p.MaxRetries != nil {
		pc.MaxRetries = *p.MaxRetries
	}
	if p.RetryDelay > 0 {
		pc.RetryDelay = time.Duration(p.RetryDelay * float64(time.Second))
	}

	bo, err := parseByteOrder(p.ByteOrder, model.BigEndian)
	if err != nil {
		return PortConfig{}, err
	}
	wo, err := parseWordOrder(p.WordOrder, model.WordBigEndian)
	if err != nil {
		return PortConfig{}, err
	}
	pc.DefaultByteOrder = bo
	pc.DefaultWordOrder = wo

	for _, d := range p.Devices {
		dc, err := convertDevice(d)
		if err != nil {
			return PortConfig{}, fmt.Errorf("device %q: %w", d.Name, err)
		}
		pc.Devices = append(pc.Devices, dc)
	}
	return pc, nil
}

func convertDevice(d deviceYAML) (DeviceConfig, error) {
	dc := DeviceConfig{
		Name:        d.Name,
		UnitAddress: uint8(d.UnitAddress),
		Enabled:     boolDefault(d.Enabled, true),
	}
	if d.PollInterval != "" {
		dur, err := time.ParseDuration(d.PollInterval)
		if err != nil {
			return DeviceConfig{}, fmt.Errorf("invalid poll_interval: %w", err)
		}
		dc.PollInterval = dur
	}
	if dc.PollInterval <= 0 {
		dc.PollInterval = 10 * time.Second
	}
	if d.Timeout > 0 {
		dc.Timeout = time.Duration(d.Timeout * float64(time.Second))
	}

	for _, r := range d.Registers {
		rc, err := convertRegister(r)
		if err != nil {
			return DeviceConfig{}, fmt.Errorf("register %q: %w", r.Name, err)
		}
		dc.Registers = append(dc.Registers, rc)
	}
	return dc, nil
}

func convertRegister(r registerYAML) (RegisterConfig, error) {
	rc := RegisterConfig{
		Name:      r.Name,
		Address:   uint16(r.Address),
		Unit:      r.Unit,
		Precision: r.Precision,
		ReadOnly:  r.ReadOnly,
		Scale:     1.0,
	}

	switch strings.ToLower(strings.TrimSpace(r.Kind)) {
	case "holding":
		rc.Kind = model.Holding
	case "input":
		rc.Kind = model.Input
	case "coil":
		rc.Kind = model.Coil
	case "discrete":
		rc.Kind = model.Discrete
	default:
		return RegisterConfig{}, fmt.Errorf("unsupported kind %q", r.Kind)
	}

	switch strings.ToLower(strings.TrimSpace(r.DataType)) {
	case "int16":
		rc.DataType = model.Int16
	case "uint16":
		rc.DataType = model.UInt16
	case "int32":
		rc.DataType = model.Int32
	case "uint32":
		rc.DataType = model.UInt32
	case "float32":
		rc.DataType = model.Float32
	case "bool", "":
		rc.DataType = model.Bool
	default:
		return RegisterConfig{}, fmt.Errorf("unsupported data_type %q", r.DataType)
	}

	if r.Scale != nil {
		rc.Scale = *r.Scale
	}
	if r.Offset != nil {
		rc.Offset = *r.Offset
	}

	if strings.TrimSpace(r.ByteOrder) != "" {
		bo, err := parseByteOrder(r.ByteOrder, model.BigEndian)
		if err != nil {
			return RegisterConfig{}, err
		}
		rc.ByteOrder = bo
		rc.hasByteOrd = true
	}
	if strings.TrimSpace(r.WordOrder) != "" {
		wo, err := parseWordOrder(r.WordOrder, model.WordBigEndian)
		if err != nil {
			return RegisterConfig{}, err
		}
		rc.WordOrder = wo
		rc.hasWordOrd = true
	}
	return rc, nil
}
