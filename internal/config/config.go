package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	modbusIface "github.com/tetragramaton/smh-modbus/internal/interface/modbus"
)

const EnvPrefix = "SMH"

type Config struct {
	Device     DeviceConfig `mapstructure:"device"`
	Poll       PollConfig   `mapstructure:"poll"`
	PointsFile string       `mapstructure:"points_file"`
	MQTT       MQTTConfig   `mapstructure:"mqtt"`
	HTTP       HTTPConfig   `mapstructure:"http"`
	Log        LogConfig    `mapstructure:"log"`
}

// DeviceConfig describes the Modbus TCP endpoint shared by all points.
type DeviceConfig struct {
	ID             string        `mapstructure:"id"`
	Name           string        `mapstructure:"name"`
	Model          string        `mapstructure:"model"`
	Area           string        `mapstructure:"area"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type PollConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	URL         string `mapstructure:"url"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TLS         bool   `mapstructure:"tls"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // console, json
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("device.id", "modbus.device")
	v.SetDefault("device.name", "")
	v.SetDefault("device.model", "")
	v.SetDefault("device.area", "")
	v.SetDefault("device.host", "")
	v.SetDefault("device.port", 502)
	v.SetDefault("device.connect_timeout", 10*time.Second)
	v.SetDefault("device.request_timeout", 3*time.Second)
	v.SetDefault("poll.interval", 30*time.Second)
	v.SetDefault("points_file", "")
	v.SetDefault("mqtt.enabled", true)
	v.SetDefault("mqtt.url", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.tls", false)
	v.SetDefault("mqtt.topic_prefix", "smh")
	v.SetDefault("http.enabled", true)
	v.SetDefault("http.addr", ":9090")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads the service configuration. An empty configFile searches the
// default locations; environment variables (SMH_DEVICE_HOST, ...) override
// file values.
func Load(configFile string) (*Config, error) {
	v, err := read(configFile)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.MQTT.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// CoreConfig is the subset smh-core needs: it only talks to the broker.
type CoreConfig struct {
	MQTT MQTTConfig `mapstructure:"mqtt"`
	Log  LogConfig  `mapstructure:"log"`
}

func LoadCore(configFile string) (*CoreConfig, error) {
	v, err := read(configFile)
	if err != nil {
		return nil, err
	}

	var cfg CoreConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.MQTT.URL == "" {
		return nil, errors.New("invalid config: mqtt.url is required")
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "smh-core-" + uuid.NewString()
	}
	return &cfg, nil
}

func read(configFile string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/smh-modbus/")
		v.AddConfigPath("$HOME/.smh-modbus")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// Without an explicit file, env and defaults may be enough.
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return v, nil
}

func (m *MQTTConfig) fillDefaults() {
	if m.ClientID == "" {
		m.ClientID = "smh-modbus-" + uuid.NewString()
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Device.Host == "" {
		errs = append(errs, errors.New("device.host is required"))
	}
	if c.Device.Port <= 0 || c.Device.Port > 65535 {
		errs = append(errs, fmt.Errorf("device.port %d out of range", c.Device.Port))
	}
	if c.Device.ID == "" {
		errs = append(errs, errors.New("device.id is required"))
	}
	if c.Poll.Interval <= 0 {
		errs = append(errs, fmt.Errorf("poll.interval must be positive, got %s", c.Poll.Interval))
	}
	if c.PointsFile == "" {
		errs = append(errs, errors.New("points_file is required"))
	}
	if c.MQTT.Enabled && c.MQTT.URL == "" {
		errs = append(errs, errors.New("mqtt.url is required when mqtt is enabled"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) Modbus() modbusIface.Config {
	return modbusIface.Config{
		Host:           c.Device.Host,
		Port:           c.Device.Port,
		ConnectTimeout: c.Device.ConnectTimeout,
		RequestTimeout: c.Device.RequestTimeout,
	}
}
