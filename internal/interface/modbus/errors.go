package modbus

import (
	"errors"
	"fmt"
)

// ErrorKind separates "device says no" from "link is down".
type ErrorKind int

const (
	KindConnection ErrorKind = iota + 1
	KindDevice
	KindTransport
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindDevice:
		return "device"
	case KindTransport:
		return "transport"
	}
	return "unknown"
}

var (
	ErrNotConnected = errors.New("modbus: not connected")
	ErrClosed       = errors.New("modbus: transport closed")
)

type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("modbus %s %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf reports the taxonomy class of err, or 0 when err is not a transport error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func IsDeviceError(err error) bool    { return KindOf(err) == KindDevice }
func IsTransportError(err error) bool { return KindOf(err) == KindTransport }
func IsConnectionError(err error) bool {
	return KindOf(err) == KindConnection
}
