package ha

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mq "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	mqttIface "github.com/tetragramaton/smh-modbus/internal/interface/mqtt"
	"github.com/tetragramaton/smh-modbus/internal/point"
)

const (
	payloadOnline  = "online"
	payloadOffline = "offline"

	defaultWriteTimeout = 15 * time.Second
)

// Writer executes a command received on a point's set topic.
type Writer interface {
	RequestWrite(ctx context.Context, name, desired string) error
}

type DeviceInfo struct {
	ID    string
	Name  string
	Model string
	Area  string
}

// Bridge publishes point state to MQTT and feeds set commands back to a
// Writer.
type Bridge struct {
	client mqttIface.Client
	topics Topics
	device DeviceInfo
	points []*point.RegisterPoint
	logger zerolog.Logger
	now    func() time.Time

	WriteTimeout time.Duration
}

func NewBridge(client mqttIface.Client, prefix string, device DeviceInfo, points []*point.RegisterPoint, logger zerolog.Logger) *Bridge {
	return &Bridge{
		client:       client,
		topics:       Topics{Prefix: prefix, DeviceID: device.ID},
		device:       device,
		points:       points,
		logger:       logger.With().Str("component", "ha-bridge").Str("device", device.ID).Logger(),
		now:          time.Now,
		WriteTimeout: defaultWriteTimeout,
	}
}

// Will is the last-will message that flips the device to offline. It has to
// be known before the client connects.
func Will(t Topics) *mqttIface.Message {
	return &mqttIface.Message{Topic: t.Availability(), Payload: []byte(payloadOffline), QoS: 1, Retain: true}
}

func (b *Bridge) Meta() Meta {
	m := Meta{
		DeviceID:          b.device.ID,
		Name:              b.device.Name,
		Model:             b.device.Model,
		Area:              b.device.Area,
		AvailabilityTopic: b.topics.Availability(),
		Points:            make([]MetaPoint, 0, len(b.points)),
	}
	for _, p := range b.points {
		mp := MetaPoint{
			Name:       p.Name,
			Unit:       p.Unit,
			Icon:       p.Icon,
			Writable:   p.Writable,
			StateTopic: b.topics.State(p.Name),
		}
		if p.ValueMap.Len() > 0 {
			mp.Options = p.ValueMap.Labels()
		}
		if p.Writable {
			mp.CommandTopic = b.topics.Command(p.Name)
		}
		m.Points = append(m.Points, mp)
	}
	return m
}

// Announce publishes the retained meta document and marks the device online.
func (b *Bridge) Announce() error {
	data, err := json.Marshal(b.Meta())
	if err != nil {
		return fmt.Errorf("failed to marshal meta: %w", err)
	}
	if err := b.client.PublishEvent(mqttIface.Message{Topic: b.topics.Meta(), Payload: data, QoS: 1, Retain: true}); err != nil {
		return fmt.Errorf("meta publish: %w", err)
	}
	return b.publishAvailability(payloadOnline)
}

func (b *Bridge) publishAvailability(state string) error {
	return b.client.PublishEvent(mqttIface.Message{
		Topic:   b.topics.Availability(),
		Payload: []byte(state),
		QoS:     1,
		Retain:  true,
	})
}

// PublishState sends the point's current state. Errors are logged only; the
// next cycle publishes again.
func (b *Bridge) PublishState(p *point.RegisterPoint) {
	data, err := json.Marshal(StatePayload{
		Ts:    b.now().Unix(),
		Name:  p.Name,
		State: p.State(),
		Unit:  p.Unit,
	})
	if err != nil {
		b.logger.Error().Err(err).Str("point", p.Name).Msg("failed to marshal state")
		return
	}
	if err := b.client.PublishEvent(mqttIface.Message{
		Topic:   b.topics.State(p.Name),
		Payload: data,
		QoS:     1,
		Retain:  true,
	}); err != nil {
		b.logger.Warn().Err(err).Str("point", p.Name).Msg("state publish failed")
	}
}

// Subscribe routes messages on the device's set topics to w. Commands are
// bounded by WriteTimeout and abandoned when ctx ends.
func (b *Bridge) Subscribe(ctx context.Context, w Writer) error {
	return b.client.SubscribeToTopic(mqttIface.Subscription{
		Topic: b.topics.CommandFilter(),
		QoS:   1,
		Callback: func(_ mq.Client, m mq.Message) {
			b.handleCommand(ctx, w, m.Topic(), m.Payload())
		},
	})
}

func (b *Bridge) handleCommand(ctx context.Context, w Writer, topic string, payload []byte) {
	name, ok := b.topics.PointFromCommand(topic)
	if !ok {
		b.logger.Debug().Str("topic", topic).Msg("ignoring message on unexpected topic")
		return
	}
	desired := strings.TrimSpace(string(payload))
	log := b.logger.With().Str("point", name).Str("value", desired).Logger()

	wctx, cancel := context.WithTimeout(ctx, b.WriteTimeout)
	defer cancel()
	if err := w.RequestWrite(wctx, name, desired); err != nil {
		log.Error().Err(err).Msg("command rejected")
		return
	}
	log.Debug().Msg("command applied")
}

// Close marks the device offline and disconnects.
func (b *Bridge) Close() error {
	if err := b.publishAvailability(payloadOffline); err != nil {
		b.logger.Debug().Err(err).Msg("offline publish failed")
	}
	return b.client.Close(250)
}
