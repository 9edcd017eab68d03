// Package poller refreshes every register point on a fixed interval.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	modbusIface "github.com/tetragramaton/smh-modbus/internal/interface/modbus"
	"github.com/tetragramaton/smh-modbus/internal/metrics"
	"github.com/tetragramaton/smh-modbus/internal/point"
)

type nopPublisher struct{}

func (nopPublisher) PublishState(*point.RegisterPoint) {}

type Scheduler struct {
	points    []*point.RegisterPoint
	transport modbusIface.Transport
	publisher point.Publisher
	metrics   *metrics.Metrics
	interval  time.Duration
	logger    zerolog.Logger
	now       func() time.Time

	// cycleMu is held for the whole cycle. A tick that cannot take it is dropped.
	cycleMu sync.Mutex
	wg      sync.WaitGroup
}

func New(
	points []*point.RegisterPoint,
	transport modbusIface.Transport,
	publisher point.Publisher,
	m *metrics.Metrics,
	interval time.Duration,
	logger zerolog.Logger,
) *Scheduler {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if m == nil {
		m = metrics.New()
	}
	return &Scheduler{
		points:    points,
		transport: transport,
		publisher: publisher,
		metrics:   m,
		interval:  interval,
		logger:    logger.With().Str("component", "poller").Logger(),
		now:       time.Now,
	}
}

// Run polls once right away and then on every tick until ctx is done. Ticks
// that fire while a cycle is still running are skipped, not queued.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info().
		Dur("interval", s.interval).
		Int("points", len(s.points)).
		Msg("poll scheduler started")

	s.PollOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer s.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("poll scheduler stopping")
			return
		case <-ticker.C:
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.PollOnce(ctx)
			}()
		}
	}
}

// PollOnce runs one cycle over all points in order. It returns false when
// another cycle was already in progress.
func (s *Scheduler) PollOnce(ctx context.Context) bool {
	if !s.cycleMu.TryLock() {
		s.metrics.SkippedCycles.Inc()
		s.logger.Warn().Msg("previous poll cycle still running, tick skipped")
		return false
	}
	defer s.cycleMu.Unlock()

	start := s.now()
	failed := 0
	for _, p := range s.points {
		if ctx.Err() != nil {
			return true
		}
		// Every point gets its own attempt; the transport reconnects as needed.
		if err := s.poll(ctx, p); err != nil {
			failed++
		}
	}
	d := s.now().Sub(start)
	s.metrics.ObserveCycle(d)
	s.logger.Debug().
		Dur("took", d).
		Int("points", len(s.points)).
		Int("failed", failed).
		Msg("poll cycle done")
	return true
}

// poll reads and decodes one point. Failures are recorded on the point and
// never escape the cycle.
func (s *Scheduler) poll(ctx context.Context, p *point.RegisterPoint) error {
	gen := p.BeginRead()
	raw, err := s.read(ctx, p)
	s.metrics.ObserveRead(p.Name, raw, err)
	if err != nil {
		p.FailRead(err)
		ev := s.logger.Warn()
		if modbusIface.IsConnectionError(err) {
			// the transport already logged it
			ev = s.logger.Debug()
		}
		ev.Err(err).
			Str("point", p.Name).
			Uint16("address", p.Address).
			Str("kind", modbusIface.KindOf(err).String()).
			Msg("point read failed, keeping last state")
		return err
	}

	if !p.CompleteRead(gen, point.ResolveState(raw, p.ValueMap, p.Scale), s.now()) {
		s.logger.Debug().
			Str("point", p.Name).
			Msg("point written during read, dropping stale value")
		return nil
	}
	s.publisher.PublishState(p)
	return nil
}

func (s *Scheduler) read(ctx context.Context, p *point.RegisterPoint) (float64, error) {
	words, err := s.transport.ReadRegisters(ctx, p.Slave, p.Address, p.Count, p.Kind)
	if err != nil {
		return 0, err
	}
	return point.Decode(words, p.DataType)
}
