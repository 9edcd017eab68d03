package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	assert.NilError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_DefaultsAndFile(t *testing.T) {
	path := writeFile(t, "config.yaml", `
device:
  id: boiler.room
  host: 192.168.1.50
poll:
  interval: 5s
points_file: /etc/smh-modbus/points.yaml
`)

	cfg, err := Load(path)
	assert.NilError(t, err)

	assert.Equal(t, cfg.Device.ID, "boiler.room")
	assert.Equal(t, cfg.Device.Host, "192.168.1.50")
	assert.Equal(t, cfg.Device.Port, 502)
	assert.Equal(t, cfg.Device.ConnectTimeout, 10*time.Second)
	assert.Equal(t, cfg.Device.RequestTimeout, 3*time.Second)
	assert.Equal(t, cfg.Poll.Interval, 5*time.Second)
	assert.Equal(t, cfg.MQTT.TopicPrefix, "smh")
	assert.Assert(t, cfg.MQTT.Enabled)
	assert.Assert(t, strings.HasPrefix(cfg.MQTT.ClientID, "smh-modbus-"))
	assert.Equal(t, cfg.HTTP.Addr, ":9090")
	assert.Equal(t, cfg.Log.Level, "info")

	mb := cfg.Modbus()
	assert.Equal(t, mb.Host, "192.168.1.50")
	assert.Equal(t, mb.Port, 502)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "config.yaml", `
device:
  host: 10.0.0.1
points_file: points.yaml
mqtt:
  client_id: fixed
`)
	t.Setenv("SMH_DEVICE_HOST", "10.0.0.2")
	t.Setenv("SMH_POLL_INTERVAL", "1m")

	cfg, err := Load(path)
	assert.NilError(t, err)
	assert.Equal(t, cfg.Device.Host, "10.0.0.2")
	assert.Equal(t, cfg.Poll.Interval, time.Minute)
	assert.Equal(t, cfg.MQTT.ClientID, "fixed")
}

func TestLoad_ValidationErrors(t *testing.T) {
	path := writeFile(t, "config.yaml", `
device:
  port: 70000
poll:
  interval: 0s
`)

	_, err := Load(path)
	assert.Check(t, cmp.ErrorContains(err, "device.host is required"))
	assert.Check(t, cmp.ErrorContains(err, "device.port 70000 out of range"))
	assert.Check(t, cmp.ErrorContains(err, "poll.interval must be positive"))
	assert.Check(t, cmp.ErrorContains(err, "points_file is required"))
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestLoadCore(t *testing.T) {
	path := writeFile(t, "config.yaml", `
mqtt:
  url: tcp://broker:1883
  topic_prefix: home
`)

	cfg, err := LoadCore(path)
	assert.NilError(t, err)
	assert.Equal(t, cfg.MQTT.URL, "tcp://broker:1883")
	assert.Equal(t, cfg.MQTT.TopicPrefix, "home")
	assert.Assert(t, strings.HasPrefix(cfg.MQTT.ClientID, "smh-core-"))
}
