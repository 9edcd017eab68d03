package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/tetragramaton/smh-modbus/internal/client/mqtt"
	"github.com/tetragramaton/smh-modbus/internal/config"
	mqttIface "github.com/tetragramaton/smh-modbus/internal/interface/mqtt"
	"github.com/tetragramaton/smh-modbus/internal/logging"
)

type ConfigPath string

type MainHandler struct {
	MQTTClient mqttIface.Client
	Logger     zerolog.Logger
	Prefix     string
}

func NewMainHandler(
	cfg *config.CoreConfig,
	mqttClient mqttIface.Client,
	logger zerolog.Logger,
) *MainHandler {
	return &MainHandler{
		MQTTClient: mqttClient,
		Logger:     logger.With().Str("component", "smh-core").Logger(),
		Prefix:     cfg.MQTT.TopicPrefix,
	}
}

func ProvideConfig(path ConfigPath) (*config.CoreConfig, error) {
	return config.LoadCore(string(path))
}

func ProvideLogger(cfg *config.CoreConfig) (zerolog.Logger, error) {
	return logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}, os.Stderr)
}

func ProvideMqttClient(cfg *config.CoreConfig, logger zerolog.Logger) (mqttIface.Client, error) {
	return mqtt.NewClient(mqttIface.Config{
		BrokerURL: cfg.MQTT.URL,
		ClientID:  cfg.MQTT.ClientID,
		Username:  cfg.MQTT.Username,
		Password:  cfg.MQTT.Password,
		TLS:       cfg.MQTT.TLS,
	}, logger)
}
