// Package dispatch turns write requests for named points into register writes.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	modbusIface "github.com/tetragramaton/smh-modbus/internal/interface/modbus"
	"github.com/tetragramaton/smh-modbus/internal/metrics"
	"github.com/tetragramaton/smh-modbus/internal/point"
)

var (
	ErrUnknownPoint  = errors.New("unknown point")
	ErrNotWritable   = errors.New("point is not writable")
	ErrInvalidValue  = point.ErrInvalidValue
	ErrDeviceFailure = errors.New("device write failed")
)

type Dispatcher struct {
	order     []*point.RegisterPoint
	byName    map[string]*point.RegisterPoint
	transport modbusIface.Transport
	publisher point.Publisher
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time
}

func New(
	points []*point.RegisterPoint,
	transport modbusIface.Transport,
	publisher point.Publisher,
	m *metrics.Metrics,
	logger zerolog.Logger,
) (*Dispatcher, error) {
	byName := make(map[string]*point.RegisterPoint, len(points))
	for _, p := range points {
		if _, dup := byName[p.Name]; dup {
			return nil, fmt.Errorf("dispatch: duplicate point %q", p.Name)
		}
		byName[p.Name] = p
	}
	if m == nil {
		m = metrics.New()
	}
	return &Dispatcher{
		order:     points,
		byName:    byName,
		transport: transport,
		publisher: publisher,
		metrics:   m,
		logger:    logger.With().Str("component", "dispatch").Logger(),
		now:       time.Now,
	}, nil
}

func (d *Dispatcher) Point(name string) (*point.RegisterPoint, bool) {
	p, ok := d.byName[name]
	return p, ok
}

// Points returns the points in configuration order.
func (d *Dispatcher) Points() []*point.RegisterPoint { return d.order }

// RequestWrite writes desired (a value map label or a plain integer) to the
// named point. On success the point state is updated without a re-read.
func (d *Dispatcher) RequestWrite(ctx context.Context, name, desired string) error {
	p, ok := d.byName[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPoint, name)
	}
	if !p.Writable {
		return fmt.Errorf("%w: %q", ErrNotWritable, name)
	}
	raw, err := point.ReverseResolve(desired, p.ValueMap)
	if err != nil {
		return fmt.Errorf("write %q: %w", name, err)
	}

	log := d.logger.With().Str("point", name).Uint16("address", p.Address).Uint16("raw", raw).Logger()
	err = d.transport.WriteRegister(ctx, p.Slave, p.Address, raw)
	d.metrics.ObserveWrite(name, raw, err)
	if err != nil {
		log.Error().Err(err).Str("kind", modbusIface.KindOf(err).String()).Msg("register write failed")
		return fmt.Errorf("%w: %q: %w", ErrDeviceFailure, name, err)
	}

	v := point.Number(float64(raw))
	if _, isLabel := p.ValueMap.Key(desired); isLabel {
		v = point.Label(desired)
	}
	p.CommitWrite(v, d.now())
	log.Info().Str("state", v.String()).Msg("register written")

	if d.publisher != nil {
		d.publisher.PublishState(p)
	}
	return nil
}
