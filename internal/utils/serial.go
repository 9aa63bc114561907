// Package utils holds small helpers for serial-line tooling: opening a
// goburrow/serial port from plain parameters and building the socat command
// that fabricates a virtual pty pair for serial testing.
package utils

import (
	"context"
	"io"
	"os/exec"
	"time"

	"github.com/goburrow/serial"
)

// SerialParams describes one serial line in the gateway's vocabulary.
type SerialParams struct {
	Address  string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string // N, E, O
	Timeout  time.Duration
}

// EnsureSerialDefaults fills zero-valued fields with the common 9600-8N1
// defaults.
func EnsureSerialDefaults(sp *SerialParams) {
	if sp.BaudRate == 0 {
		sp.BaudRate = 9600
	}
	if sp.DataBits == 0 {
		sp.DataBits = 8
	}
	if sp.StopBits == 0 {
		sp.StopBits = 1
	}
	if sp.Parity == "" {
		sp.Parity = "N"
	}
	if sp.Timeout <= 0 {
		sp.Timeout = 10 * time.Second
	}
}

// OpenSerial opens the serial port described by sp.
func OpenSerial(sp SerialParams) (io.ReadWriteCloser, error) {
	EnsureSerialDefaults(&sp)
	return serial.Open(&serial.Config{
		Address:  sp.Address,
		BaudRate: sp.BaudRate,
		DataBits: sp.DataBits,
		StopBits: sp.StopBits,
		Parity:   sp.Parity,
		Timeout:  sp.Timeout,
	})
}

// SocatPair names the two linked pty paths a socat process creates.
type SocatPair struct {
	Link string
	Peer string
}

// BuildSocatPairCmd builds (without starting) the socat invocation that
// creates a raw, echo-free virtual pty pair at the two given paths.
func BuildSocatPairCmd(ctx context.Context, pair SocatPair) *exec.Cmd {
	return exec.CommandContext(ctx, "socat",
		"-d", "-d",
		"pty,raw,echo=0,link="+pair.Link,
		"pty,raw,echo=0,link="+pair.Peer,
	)
}
