package mqtt

import (
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	mqttIface "github.com/tetragramaton/smh-modbus/internal/interface/mqtt"
)

const (
	connectWait = 10 * time.Second
	publishWait = 5 * time.Second
)

type mqttClient struct {
	mqttIface.API
	logger zerolog.Logger

	mu   sync.Mutex
	subs []mqttIface.Subscription
}

func NewClient(cfg mqttIface.Config, logger zerolog.Logger) (mqttIface.Client, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("missing MQTT broker url")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("missing MQTT client id")
	}

	c := &mqttClient{
		logger: logger.With().Str("component", "mqtt").Str("broker", cfg.BrokerURL).Logger(),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetKeepAlive(30 * time.Second).
		SetConnectTimeout(5 * time.Second).
		SetPingTimeout(3 * time.Second).
		SetOrderMatters(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.logger.Warn().Err(err).Msg("mqtt connection lost")
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.TLS {
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: true})
	}
	if cfg.Will != nil {
		opts.SetBinaryWill(cfg.Will.Topic, cfg.Will.Payload, cfg.Will.QoS, cfg.Will.Retain)
	}

	client := mqtt.NewClient(opts)
	c.API = client
	t := client.Connect()
	if ok := t.WaitTimeout(connectWait); !ok {
		// paho keeps retrying in the background; the broker is not required
		// for polling to start.
		c.logger.Warn().Dur("waited", connectWait).Msg("mqtt broker not reachable yet, retrying")
		return c, nil
	}
	if err := t.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.BrokerURL, err)
	}
	return c, nil
}

// onConnect restores subscriptions; paho does not keep them across a clean
// session reconnect.
func (c *mqttClient) onConnect(client mqtt.Client) {
	c.mu.Lock()
	subs := append([]mqttIface.Subscription(nil), c.subs...)
	c.mu.Unlock()

	c.logger.Info().Int("subscriptions", len(subs)).Msg("mqtt connected")
	for _, s := range subs {
		t := client.Subscribe(s.Topic, s.QoS, s.Callback)
		go func(topic string) {
			t.Wait()
			if err := t.Error(); err != nil {
				c.logger.Error().Err(err).Str("topic", topic).Msg("mqtt resubscribe failed")
			}
		}(s.Topic)
	}
}

func (c *mqttClient) PublishEvent(message mqttIface.Message) error {
	t := c.API.Publish(message.Topic, message.QoS, message.Retain, message.Payload)
	if !t.WaitTimeout(publishWait) {
		return fmt.Errorf("mqtt publish %s: timed out", message.Topic)
	}
	return t.Error()
}

func (c *mqttClient) SubscribeToTopic(sub mqttIface.Subscription) error {
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	if !c.IsConnectionOpen() {
		// onConnect subscribes once the broker is reachable.
		return nil
	}
	t := c.API.Subscribe(sub.Topic, sub.QoS, sub.Callback)
	t.Wait()
	return t.Error()
}

func (c *mqttClient) Close(quiesce uint) error {
	if c.IsConnectionOpen() {
		c.Disconnect(quiesce)
	}
	return nil
}
