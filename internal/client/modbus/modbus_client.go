package modbus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/goburrow/modbus"
	"github.com/rs/zerolog"
	modbusIface "github.com/tetragramaton/smh-modbus/internal/interface/modbus"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultRequestTimeout = 3 * time.Second
)

// tcpHandler adapts the goburrow handler fields to the Handler interface.
type tcpHandler struct {
	*modbus.TCPClientHandler
}

func (h tcpHandler) SetSlave(id byte)           { h.SlaveId = id }
func (h tcpHandler) SetTimeout(d time.Duration) { h.Timeout = d }

type transport struct {
	cfg     modbusIface.Config
	address string
	handler modbusIface.Handler
	api     modbusIface.API
	logger  zerolog.Logger

	// sem is the single serialization point for the connection. Blocked
	// senders on a channel are woken in arrival order.
	sem chan struct{}

	connected   atomic.Bool
	closed      bool
	everUp      bool
	lastConnErr string
}

// NewTransport builds a Modbus TCP transport. The connection itself is opened
// lazily by Connect or by the first request.
func NewTransport(cfg modbusIface.Config, logger zerolog.Logger) (modbusIface.Transport, error) {
	if cfg.Host == "" {
		return nil, errors.New("modbus transport: host required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("modbus transport: invalid port %d", cfg.Port)
	}
	address := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	h := modbus.NewTCPClientHandler(address)
	h.IdleTimeout = 0
	return newTransport(cfg, tcpHandler{h}, modbus.NewClient(h), logger), nil
}

func newTransport(cfg modbusIface.Config, handler modbusIface.Handler, api modbusIface.API, logger zerolog.Logger) *transport {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	address := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	return &transport{
		cfg:     cfg,
		address: address,
		handler: handler,
		api:     api,
		logger:  logger.With().Str("component", "transport").Str("address", address).Logger(),
		sem:     make(chan struct{}, 1),
	}
}

func (t *transport) acquire(ctx context.Context) error {
	select {
	case t.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *transport) release() { <-t.sem }

func (t *transport) Connected() bool { return t.connected.Load() }

// Connect opens the session. Calling it while connected is a no-op.
func (t *transport) Connect(ctx context.Context) error {
	if err := t.acquire(ctx); err != nil {
		return err
	}
	defer t.release()
	return t.connectLocked()
}

func (t *transport) connectLocked() error {
	if t.closed {
		return &modbusIface.Error{Kind: modbusIface.KindConnection, Op: "connect", Err: modbusIface.ErrClosed}
	}
	if t.connected.Load() {
		return nil
	}

	t.handler.SetTimeout(t.cfg.ConnectTimeout)
	err := t.handler.Connect()
	t.handler.SetTimeout(t.cfg.RequestTimeout)
	if err != nil {
		t.logConnectFailure(err)
		return &modbusIface.Error{Kind: modbusIface.KindConnection, Op: "connect", Err: err}
	}

	switch {
	case t.lastConnErr != "":
		t.logger.Info().Msg("modbus connection restored")
	case !t.everUp:
		t.logger.Info().Msg("modbus connected")
	default:
		t.logger.Debug().Msg("modbus reconnected")
	}
	t.lastConnErr = ""
	t.everUp = true
	t.connected.Store(true)
	return nil
}

// logConnectFailure logs a given failure once; identical repeats go to debug
// until the next successful connect.
func (t *transport) logConnectFailure(err error) {
	msg := err.Error()
	if msg == t.lastConnErr {
		t.logger.Debug().Err(err).Msg("modbus connect still failing")
		return
	}
	t.lastConnErr = msg
	t.logger.Error().Err(err).Msg("modbus connect failed")
}

func (t *transport) ReadRegisters(ctx context.Context, slave uint8, address, count uint16, kind modbusIface.RegisterKind) ([]uint16, error) {
	if count == 0 {
		return nil, errors.New("modbus read: count must be > 0")
	}
	if err := t.acquire(ctx); err != nil {
		return nil, err
	}
	defer t.release()

	if err := t.connectLocked(); err != nil {
		return nil, err
	}
	t.handler.SetSlave(slave)

	var (
		res []byte
		err error
	)
	switch kind {
	case modbusIface.Holding:
		res, err = t.api.ReadHoldingRegisters(address, count)
	case modbusIface.Input:
		res, err = t.api.ReadInputRegisters(address, count)
	default:
		return nil, fmt.Errorf("modbus read: unsupported register kind %d", kind)
	}
	if err != nil {
		return nil, t.fail("read", err)
	}
	if len(res) != int(count)*2 {
		return nil, t.fail("read", fmt.Errorf("short response: got %d bytes, want %d", len(res), int(count)*2))
	}
	return unpackRegisters(res), nil
}

func (t *transport) WriteRegister(ctx context.Context, slave uint8, address, value uint16) error {
	if err := t.acquire(ctx); err != nil {
		return err
	}
	defer t.release()

	if err := t.connectLocked(); err != nil {
		return err
	}
	t.handler.SetSlave(slave)

	if _, err := t.api.WriteSingleRegister(address, value); err != nil {
		return t.fail("write", err)
	}
	return nil
}

// fail classifies err. Exception responses leave the session up; anything else
// drops it so the next call reconnects first.
func (t *transport) fail(op string, err error) error {
	var mbErr *modbus.ModbusError
	if errors.As(err, &mbErr) {
		return &modbusIface.Error{Kind: modbusIface.KindDevice, Op: op, Err: err}
	}
	t.dropLocked()
	return &modbusIface.Error{Kind: modbusIface.KindTransport, Op: op, Err: err}
}

func (t *transport) dropLocked() {
	if !t.connected.Load() {
		return
	}
	t.connected.Store(false)
	if err := t.handler.Close(); err != nil {
		t.logger.Debug().Err(err).Msg("modbus close after failure")
	}
	t.logger.Warn().Msg("modbus session dropped, reconnecting on next request")
}

// Close releases the connection. Further calls fail with ErrClosed.
func (t *transport) Close() error {
	t.sem <- struct{}{}
	defer t.release()

	if t.closed {
		return nil
	}
	t.closed = true
	if !t.connected.Load() {
		return nil
	}
	t.connected.Store(false)
	return t.handler.Close()
}

func unpackRegisters(data []byte) []uint16 {
	n := len(data) / 2
	out := make([]uint16, n)
	for i := 0; i < n; i++ {
		out[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return out
}
