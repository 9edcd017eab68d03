package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	mq "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
	"github.com/tetragramaton/smh-modbus/internal/ha"
	mqttIface "github.com/tetragramaton/smh-modbus/internal/interface/mqtt"
)

func main() {
	configFile := flag.String("config", "", "path to config file")
	flag.Parse()

	handler, err := InitMainHandler(ConfigPath(*configFile))
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := handler.Handle(ctx); err != nil {
		handler.Logger.Fatal().Err(err).Msg("smh-core stopped")
	}
}

// Handle turns every device meta announcement into Home Assistant discovery
// configs until ctx is done.
func (h *MainHandler) Handle(ctx context.Context) error {
	defer func() {
		if err := h.MQTTClient.Close(250); err != nil {
			h.Logger.Warn().Err(err).Msg("mqtt close")
		}
	}()

	subscription := mqttIface.Subscription{
		Topic: ha.MetaSubscription(h.Prefix),
		QoS:   1,
		Callback: func(_ mq.Client, m mq.Message) {
			h.onMeta(m.Topic(), m.Payload())
		},
	}
	if err := h.MQTTClient.SubscribeToTopic(subscription); err != nil {
		return err
	}
	h.Logger.Info().Str("topic", subscription.Topic).Msg("smh-core up; waiting for meta...")
	<-ctx.Done()
	return nil
}

func (h *MainHandler) onMeta(topic string, payload []byte) {
	if len(payload) == 0 {
		// retained meta was cleared
		return
	}
	meta, err := ha.ParseMeta(payload)
	if err != nil {
		h.Logger.Warn().Err(err).Str("topic", topic).Msg("bad meta")
		return
	}
	h.publishDiscovery(meta)
}

func (h *MainHandler) publishDiscovery(meta ha.Meta) {
	published := 0
	for _, d := range ha.DiscoveryConfigs(meta) {
		if h.pubCfg(d) {
			published++
		}
	}
	h.Logger.Info().
		Str("device", meta.DeviceID).
		Int("entities", published).
		Msg("HA discovery published")
}

func (h *MainHandler) pubCfg(d ha.Discovery) bool {
	b, err := d.Config.Marshal()
	if err != nil {
		h.Logger.Error().Err(err).Str("topic", d.Topic).Msg("marshal cfg")
		return false
	}
	if err := h.MQTTClient.PublishEvent(mqttIface.Message{
		Topic:   d.Topic,
		Payload: b,
		QoS:     1,
		Retain:  true,
	}); err != nil {
		h.Logger.Error().Err(err).Str("topic", d.Topic).Msg("publish cfg")
		return false
	}
	return true
}
