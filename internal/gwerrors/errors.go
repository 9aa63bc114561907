// Package gwerrors defines the typed error taxonomy shared by every component
// of the polling engine. Components never hand a bare error up the stack for
// anything a caller might need to branch on; they wrap it in a
// *GatewayError carrying one of the Kind values below.
package gwerrors

import (
	"errors"
	"fmt"
)

// Kind enumerates the error taxonomy from the gateway's error handling design.
type Kind int

const (
	// ConnectionLost means the transport reports disconnection or connect failed.
	ConnectionLost Kind = iota
	// Timeout means a read/write exceeded its configured timeout.
	Timeout
	// ProtocolException means the slave returned a Modbus exception response.
	ProtocolException
	// DecodeError means insufficient words, an unknown data type, or a malformed payload.
	DecodeError
	// ReadOnlyRegister means a write was attempted on an Input/Discrete register.
	ReadOnlyRegister
	// UnknownDevice means a supervisor request named a device the port doesn't have.
	UnknownDevice
	// UnknownPort means a supervisor request named a port the engine doesn't have.
	UnknownPort
	// ConfigInvalid means a runtime-detected configuration violation was found at load time.
	ConfigInvalid
	// NoData means a device poll cycle produced zero decoded registers.
	NoData
)

func (k Kind) String() string {
	switch k {
	case ConnectionLost:
		return "ConnectionLost"
	case Timeout:
		return "Timeout"
	case ProtocolException:
		return "ProtocolException"
	case DecodeError:
		return "DecodeError"
	case ReadOnlyRegister:
		return "ReadOnlyRegister"
	case UnknownDevice:
		return "UnknownDevice"
	case UnknownPort:
		return "UnknownPort"
	case ConfigInvalid:
		return "ConfigInvalid"
	case NoData:
		return "NoData"
	default:
		return "Unknown"
	}
}

// GatewayError is the concrete error type carried through the engine. It wraps
// an optional underlying cause (e.g. a transport I/O error) without losing it
// to errors.Is/errors.As callers.
type GatewayError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Cause }

// New builds a GatewayError with no underlying cause.
func New(kind Kind, message string) *GatewayError {
	return &GatewayError{Kind: kind, Message: message}
}

// Wrap builds a GatewayError around an underlying cause.
func Wrap(kind Kind, message string, cause error) *GatewayError {
	return &GatewayError{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is a *GatewayError of the given kind.
func Is(err error, kind Kind) bool {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, if it is (or wraps) a *GatewayError.
func KindOf(err error) (Kind, bool) {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Kind, true
	}
	return 0, false
}
