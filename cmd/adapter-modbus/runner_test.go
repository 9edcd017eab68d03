package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/rs/zerolog"
	"github.com/tetragramaton/smh-modbus/internal/config"
	"github.com/tetragramaton/smh-modbus/internal/dispatch"
	"github.com/tetragramaton/smh-modbus/internal/ha"
	modbusIface "github.com/tetragramaton/smh-modbus/internal/interface/modbus"
	mock_modbus "github.com/tetragramaton/smh-modbus/internal/interface/modbus/mock"
	mqttIface "github.com/tetragramaton/smh-modbus/internal/interface/mqtt"
	"github.com/tetragramaton/smh-modbus/internal/metrics"
	"github.com/tetragramaton/smh-modbus/internal/point"
	"github.com/tetragramaton/smh-modbus/internal/poller"
	"gotest.tools/v3/assert"
)

type recordingMQTT struct {
	mqttIface.API

	mu     sync.Mutex
	topics []string
	subs   []string
	closed bool
}

func (r *recordingMQTT) PublishEvent(m mqttIface.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, m.Topic)
	return nil
}

func (r *recordingMQTT) SubscribeToTopic(s mqttIface.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, s.Topic)
	return nil
}

func (r *recordingMQTT) Close(uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func TestRun_PollsPublishesAndShutsDown(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mock_modbus.NewMockTransport(ctrl)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr.EXPECT().ReadRegisters(gomock.Any(), uint8(1), uint16(0x2000), uint16(1), modbusIface.Holding).
		DoAndReturn(func(context.Context, uint8, uint16, uint16, modbusIface.RegisterKind) ([]uint16, error) {
			cancel()
			return []uint16{5000}, nil
		})

	scale := 0.01
	points := []*point.RegisterPoint{
		{Name: "frequency", Slave: 1, Address: 0x2000, Count: 1, Kind: modbusIface.Holding, DataType: point.UInt16, Scale: &scale, Unit: "Hz"},
	}
	cfg := &config.Config{
		Device: config.DeviceConfig{ID: "cw100.inverter"},
		Poll:   config.PollConfig{Interval: time.Hour},
		MQTT:   config.MQTTConfig{TopicPrefix: "smh"},
	}
	logger := zerolog.Nop()
	m := metrics.New()
	client := &recordingMQTT{}
	bridge := ha.NewBridge(client, "smh", ha.DeviceInfo{ID: cfg.Device.ID}, points, logger)
	d, err := dispatch.New(points, tr, bridge, m, logger)
	assert.NilError(t, err)
	s := poller.New(points, tr, bridge, m, cfg.Poll.Interval, logger)

	h := NewMainHandler(cfg, logger, tr, s, d, bridge, nil)
	assert.NilError(t, h.Run(ctx))

	f, ok := points[0].State().Float()
	assert.Assert(t, ok)
	assert.Equal(t, f, 50.0)

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.DeepEqual(t, client.topics, []string{
		"smh/cw100.inverter/meta",
		"smh/cw100.inverter/availability",
		"smh/cw100.inverter/frequency/state",
		"smh/cw100.inverter/availability",
	})
	assert.DeepEqual(t, client.subs, []string{"smh/cw100.inverter/+/set"})
	assert.Assert(t, client.closed)
}
