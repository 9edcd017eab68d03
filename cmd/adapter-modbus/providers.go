package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/tetragramaton/smh-modbus/internal/api"
	modbusClient "github.com/tetragramaton/smh-modbus/internal/client/modbus"
	"github.com/tetragramaton/smh-modbus/internal/client/mqtt"
	"github.com/tetragramaton/smh-modbus/internal/config"
	"github.com/tetragramaton/smh-modbus/internal/dispatch"
	"github.com/tetragramaton/smh-modbus/internal/ha"
	modbusIface "github.com/tetragramaton/smh-modbus/internal/interface/modbus"
	mqttIface "github.com/tetragramaton/smh-modbus/internal/interface/mqtt"
	"github.com/tetragramaton/smh-modbus/internal/logging"
	"github.com/tetragramaton/smh-modbus/internal/metrics"
	"github.com/tetragramaton/smh-modbus/internal/point"
	"github.com/tetragramaton/smh-modbus/internal/poller"
)

// ConfigPath is the --config flag; empty searches the default locations.
type ConfigPath string

type MainHandler struct {
	Config     *config.Config
	Logger     zerolog.Logger
	Transport  modbusIface.Transport
	Scheduler  *poller.Scheduler
	Dispatcher *dispatch.Dispatcher
	Bridge     *ha.Bridge
	API        *api.Server
}

func NewMainHandler(
	cfg *config.Config,
	logger zerolog.Logger,
	transport modbusIface.Transport,
	scheduler *poller.Scheduler,
	dispatcher *dispatch.Dispatcher,
	bridge *ha.Bridge,
	server *api.Server,
) *MainHandler {
	return &MainHandler{
		Config:     cfg,
		Logger:     logger,
		Transport:  transport,
		Scheduler:  scheduler,
		Dispatcher: dispatcher,
		Bridge:     bridge,
		API:        server,
	}
}

func ProvideConfig(path ConfigPath) (*config.Config, error) {
	return config.Load(string(path))
}

func ProvideLogger(cfg *config.Config) (zerolog.Logger, error) {
	return logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}, os.Stderr)
}

func ProvidePoints(cfg *config.Config) ([]*point.RegisterPoint, error) {
	return config.LoadPoints(cfg.PointsFile)
}

// ProvideTransport builds the shared connection; cleanup closes it on exit.
func ProvideTransport(cfg *config.Config, logger zerolog.Logger) (modbusIface.Transport, func(), error) {
	t, err := modbusClient.NewTransport(cfg.Modbus(), logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := t.Close(); err != nil {
			logger.Warn().Err(err).Msg("modbus close")
		}
	}
	return t, cleanup, nil
}

func ProvideMetrics(transport modbusIface.Transport) *metrics.Metrics {
	m := metrics.New()
	m.WatchConnection(transport)
	return m
}

// ProvideMqttClient returns a nil client when MQTT is disabled.
func ProvideMqttClient(cfg *config.Config, logger zerolog.Logger) (mqttIface.Client, error) {
	if !cfg.MQTT.Enabled {
		return nil, nil
	}
	topics := ha.Topics{Prefix: cfg.MQTT.TopicPrefix, DeviceID: cfg.Device.ID}
	return mqtt.NewClient(mqttIface.Config{
		BrokerURL: cfg.MQTT.URL,
		ClientID:  cfg.MQTT.ClientID,
		Username:  cfg.MQTT.Username,
		Password:  cfg.MQTT.Password,
		TLS:       cfg.MQTT.TLS,
		Will:      ha.Will(topics),
	}, logger)
}

func ProvideBridge(client mqttIface.Client, cfg *config.Config, points []*point.RegisterPoint, logger zerolog.Logger) *ha.Bridge {
	if client == nil {
		return nil
	}
	return ha.NewBridge(client, cfg.MQTT.TopicPrefix, ha.DeviceInfo{
		ID:    cfg.Device.ID,
		Name:  cfg.Device.Name,
		Model: cfg.Device.Model,
		Area:  cfg.Device.Area,
	}, points, logger)
}

// ProvidePublisher keeps a nil bridge from turning into a non-nil interface.
func ProvidePublisher(bridge *ha.Bridge) point.Publisher {
	if bridge == nil {
		return nil
	}
	return bridge
}

func ProvideDispatcher(
	points []*point.RegisterPoint,
	transport modbusIface.Transport,
	publisher point.Publisher,
	m *metrics.Metrics,
	logger zerolog.Logger,
) (*dispatch.Dispatcher, error) {
	return dispatch.New(points, transport, publisher, m, logger)
}

func ProvideScheduler(
	points []*point.RegisterPoint,
	transport modbusIface.Transport,
	publisher point.Publisher,
	m *metrics.Metrics,
	cfg *config.Config,
	logger zerolog.Logger,
) *poller.Scheduler {
	return poller.New(points, transport, publisher, m, cfg.Poll.Interval, logger)
}

func ProvideAPI(cfg *config.Config, dispatcher *dispatch.Dispatcher, m *metrics.Metrics, logger zerolog.Logger) *api.Server {
	if !cfg.HTTP.Enabled {
		return nil
	}
	return api.New(dispatcher, m.Handler(), logger)
}
