package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	modbusIface "github.com/tetragramaton/smh-modbus/internal/interface/modbus"
	mock_modbus "github.com/tetragramaton/smh-modbus/internal/interface/modbus/mock"
	"github.com/tetragramaton/smh-modbus/internal/metrics"
	"github.com/tetragramaton/smh-modbus/internal/point"
	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"
)

type recordingPublisher struct {
	mu    sync.Mutex
	names []string
}

func (r *recordingPublisher) PublishState(p *point.RegisterPoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, p.Name)
}

func (r *recordingPublisher) published() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func testPoints() []*point.RegisterPoint {
	return []*point.RegisterPoint{
		{Name: "flow", Slave: 1, Address: 10, Count: 1, Kind: modbusIface.Holding, DataType: point.UInt16},
		{
			Name:     "valve",
			Slave:    1,
			Address:  20,
			Count:    1,
			Kind:     modbusIface.Input,
			DataType: point.UInt16,
			ValueMap: point.NewValueMap(map[int64]string{0: "closed", 2: "open"}),
		},
	}
}

func deviceErr() error {
	return &modbusIface.Error{Kind: modbusIface.KindDevice, Op: "read", Err: errors.New("illegal data address")}
}

func TestPollOnce_FailureKeepsStateAndContinues(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mock_modbus.NewMockTransport(ctrl)
	pub := &recordingPublisher{}
	m := metrics.New()
	points := testPoints()
	flow, valve := points[0], points[1]
	flow.CompleteRead(flow.BeginRead(), point.Number(5), time.Now())

	gomock.InOrder(
		tr.EXPECT().ReadRegisters(gomock.Any(), uint8(1), uint16(10), uint16(1), modbusIface.Holding).Return(nil, deviceErr()),
		tr.EXPECT().ReadRegisters(gomock.Any(), uint8(1), uint16(20), uint16(1), modbusIface.Input).Return([]uint16{2}, nil),
	)

	s := New(points, tr, pub, m, time.Minute, zerolog.Nop())
	assert.Assert(t, s.PollOnce(context.Background()))

	assert.Assert(t, flow.State().Equal(point.Number(5)))
	assert.Equal(t, flow.Status().Phase, point.Failed)
	assert.Check(t, cmp.Contains(flow.Status().LastError, "illegal data address"))

	assert.Assert(t, valve.State().Equal(point.Label("open")))
	assert.Equal(t, valve.Status().Phase, point.Decoded)
	assert.DeepEqual(t, pub.published(), []string{"valve"})

	assert.Equal(t, testutil.ToFloat64(m.Reads.WithLabelValues("flow", "device_error")), 1.0)
	assert.Equal(t, testutil.ToFloat64(m.Reads.WithLabelValues("valve", "ok")), 1.0)
	assert.Equal(t, testutil.ToFloat64(m.PollCycles), 1.0)
}

func TestPollOnce_TransportErrorDoesNotStopCycle(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mock_modbus.NewMockTransport(ctrl)
	points := testPoints()

	tr.EXPECT().ReadRegisters(gomock.Any(), gomock.Any(), uint16(10), gomock.Any(), gomock.Any()).
		Return(nil, &modbusIface.Error{Kind: modbusIface.KindTransport, Op: "read", Err: errors.New("i/o timeout")})
	tr.EXPECT().ReadRegisters(gomock.Any(), gomock.Any(), uint16(20), gomock.Any(), gomock.Any()).
		Return([]uint16{0}, nil)

	s := New(points, tr, nil, nil, time.Minute, zerolog.Nop())
	s.PollOnce(context.Background())

	assert.Equal(t, points[0].State().String(), point.UnknownState)
	assert.Assert(t, points[1].State().Equal(point.Label("closed")))
}

func connErr() error {
	return &modbusIface.Error{Kind: modbusIface.KindConnection, Op: "connect", Err: errors.New("i/o timeout")}
}

func TestPollOnce_ConnectionErrorRetriedForNextPoint(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mock_modbus.NewMockTransport(ctrl)
	pub := &recordingPublisher{}
	m := metrics.New()
	points := testPoints()
	points[0].CompleteRead(points[0].BeginRead(), point.Number(5), time.Now())

	gomock.InOrder(
		tr.EXPECT().ReadRegisters(gomock.Any(), gomock.Any(), uint16(10), gomock.Any(), gomock.Any()).Return(nil, connErr()),
		tr.EXPECT().ReadRegisters(gomock.Any(), gomock.Any(), uint16(20), gomock.Any(), gomock.Any()).Return([]uint16{2}, nil),
	)

	s := New(points, tr, pub, m, time.Minute, zerolog.Nop())
	s.PollOnce(context.Background())

	assert.Equal(t, points[0].Status().Phase, point.Failed)
	assert.Assert(t, points[0].State().Equal(point.Number(5)))
	assert.Equal(t, points[1].Status().Phase, point.Decoded)
	assert.Assert(t, points[1].State().Equal(point.Label("open")))
	assert.DeepEqual(t, pub.published(), []string{"valve"})
	assert.Equal(t, testutil.ToFloat64(m.Reads.WithLabelValues("flow", "connection_error")), 1.0)
}

func TestPollOnce_DeviceDownFailsEveryPoint(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mock_modbus.NewMockTransport(ctrl)
	points := testPoints()
	points[1].CompleteRead(points[1].BeginRead(), point.Label("open"), time.Now())

	tr.EXPECT().ReadRegisters(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, connErr()).
		Times(len(points))

	s := New(points, tr, nil, nil, time.Minute, zerolog.Nop())
	s.PollOnce(context.Background())

	for _, p := range points {
		assert.Equal(t, p.Status().Phase, point.Failed, p.Name)
	}
	assert.Assert(t, points[1].State().Equal(point.Label("open")))
}

func TestPollOnce_WriteDuringReadWins(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mock_modbus.NewMockTransport(ctrl)
	pub := &recordingPublisher{}
	p := &point.RegisterPoint{
		Name:     "fan_mode",
		Slave:    1,
		Address:  10,
		Count:    1,
		Kind:     modbusIface.Holding,
		DataType: point.UInt16,
		ValueMap: point.NewValueMap(map[int64]string{1: "low", 3: "high"}),
		Writable: true,
	}

	// The write lands after the device answered the read with the old value.
	tr.EXPECT().ReadRegisters(gomock.Any(), gomock.Any(), uint16(10), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, uint8, uint16, uint16, modbusIface.RegisterKind) ([]uint16, error) {
			p.CommitWrite(point.Label("high"), time.Now())
			return []uint16{1}, nil
		})

	s := New([]*point.RegisterPoint{p}, tr, pub, nil, time.Minute, zerolog.Nop())
	s.PollOnce(context.Background())

	assert.Assert(t, p.State().Equal(point.Label("high")))
	assert.Equal(t, p.Status().Phase, point.Decoded)
	assert.Equal(t, len(pub.published()), 0)

	tr.EXPECT().ReadRegisters(gomock.Any(), gomock.Any(), uint16(10), gomock.Any(), gomock.Any()).Return([]uint16{3}, nil)
	s.PollOnce(context.Background())
	assert.Assert(t, p.State().Equal(point.Label("high")))
	assert.DeepEqual(t, pub.published(), []string{"fan_mode"})
}

func TestPollOnce_DecodeAndScale(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mock_modbus.NewMockTransport(ctrl)
	scale := 0.1
	p := &point.RegisterPoint{Name: "energy", Slave: 3, Address: 100, Count: 2, Kind: modbusIface.Holding, DataType: point.UInt32, Scale: &scale}

	tr.EXPECT().ReadRegisters(gomock.Any(), uint8(3), uint16(100), uint16(2), modbusIface.Holding).Return([]uint16{0x0001, 0x0000}, nil)

	s := New([]*point.RegisterPoint{p}, tr, nil, nil, time.Minute, zerolog.Nop())
	s.PollOnce(context.Background())

	f, ok := p.State().Float()
	assert.Assert(t, ok)
	assert.Assert(t, f > 6553.59 && f < 6553.61, "got %v", f)
}

func TestPollOnce_SkipsOverlappingCycle(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mock_modbus.NewMockTransport(ctrl)
	m := metrics.New()
	p := testPoints()[0]

	started := make(chan struct{})
	release := make(chan struct{})
	tr.EXPECT().ReadRegisters(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, uint8, uint16, uint16, modbusIface.RegisterKind) ([]uint16, error) {
			close(started)
			<-release
			return []uint16{1}, nil
		}).Times(1)

	s := New([]*point.RegisterPoint{p}, tr, nil, m, time.Minute, zerolog.Nop())

	done := make(chan bool)
	go func() { done <- s.PollOnce(context.Background()) }()
	<-started

	assert.Assert(t, !s.PollOnce(context.Background()))
	close(release)
	assert.Assert(t, <-done)

	assert.Equal(t, testutil.ToFloat64(m.SkippedCycles), 1.0)
	assert.Equal(t, testutil.ToFloat64(m.PollCycles), 1.0)
}

func TestRun_RefreshesAtStartAndStopsOnCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mock_modbus.NewMockTransport(ctrl)
	p := testPoints()[0]
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr.EXPECT().ReadRegisters(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, uint8, uint16, uint16, modbusIface.RegisterKind) ([]uint16, error) {
			cancel()
			return []uint16{42}, nil
		}).Times(1)

	s := New([]*point.RegisterPoint{p}, tr, nil, nil, time.Hour, zerolog.Nop())

	finished := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
	assert.Assert(t, p.State().Equal(point.Number(42)))
}

func TestRun_PollsOnEveryTick(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mock_modbus.NewMockTransport(ctrl)
	p := testPoints()[0]
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	calls := 0
	tr.EXPECT().ReadRegisters(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, uint8, uint16, uint16, modbusIface.RegisterKind) ([]uint16, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls == 3 {
				cancel()
			}
			return []uint16{uint16(calls)}, nil
		}).MinTimes(3)

	s := New([]*point.RegisterPoint{p}, tr, nil, nil, 10*time.Millisecond, zerolog.Nop())
	s.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	assert.Assert(t, calls >= 3)
}
