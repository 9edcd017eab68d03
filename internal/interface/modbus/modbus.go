package modbus

//go:generate mockgen -destination=mock/mock_modbus.go -package=mock_modbus . API,Handler,Transport

import (
	"context"
	"time"
)

// RegisterKind selects the Modbus function class used to read a point.
type RegisterKind int

const (
	Holding RegisterKind = iota // FC 0x03
	Input                       // FC 0x04
)

func (k RegisterKind) String() string {
	switch k {
	case Holding:
		return "holding"
	case Input:
		return "input"
	}
	return "unknown"
}

type Config struct {
	Host           string
	Port           int
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// Transport owns the single connection to the device. At most one request is in
// flight at any time; callers are served in arrival order.
type Transport interface {
	Connect(ctx context.Context) error
	ReadRegisters(ctx context.Context, slave uint8, address, count uint16, kind RegisterKind) ([]uint16, error)
	WriteRegister(ctx context.Context, slave uint8, address, value uint16) error
	Connected() bool
	Close() error
}

// API is the subset of the goburrow client the transport drives.
type API interface {
	ReadHoldingRegisters(address, quantity uint16) (results []byte, err error)
	ReadInputRegisters(address, quantity uint16) (results []byte, err error)
	WriteSingleRegister(address, value uint16) (results []byte, err error)
}

// Handler is the connection side of a goburrow TCP client handler.
type Handler interface {
	Connect() error
	Close() error
	SetSlave(id byte)
	SetTimeout(d time.Duration)
}
