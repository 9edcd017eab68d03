package ha

import (
	"encoding/json"
	"strings"

	"github.com/tetragramaton/smh-modbus/internal/point"
)

// Meta is the retained announcement a device publishes on start.
type Meta struct {
	DeviceID          string      `json:"device_id"`
	Name              string      `json:"name,omitempty"`
	Model             string      `json:"model,omitempty"`
	Area              string      `json:"area,omitempty"`
	AvailabilityTopic string      `json:"availability_topic,omitempty"`
	Points            []MetaPoint `json:"points"`
}

type MetaPoint struct {
	Name         string   `json:"name"`
	Unit         string   `json:"unit,omitempty"`
	Icon         string   `json:"icon,omitempty"`
	Writable     bool     `json:"writable"`
	Options      []string `json:"options,omitempty"`
	StateTopic   string   `json:"state_topic"`
	CommandTopic string   `json:"command_topic,omitempty"`
}

// StatePayload is published on a point's state topic.
type StatePayload struct {
	Ts    int64       `json:"ts"`
	Name  string      `json:"name"`
	State point.Value `json:"state"`
	Unit  string      `json:"unit,omitempty"`
}

// Topics lays out the per-device topic tree under a prefix.
type Topics struct {
	Prefix   string
	DeviceID string
}

func (t Topics) base() string {
	return strings.TrimSuffix(t.Prefix, "/") + "/" + t.DeviceID
}

func (t Topics) Meta() string               { return t.base() + "/meta" }
func (t Topics) Availability() string       { return t.base() + "/availability" }
func (t Topics) State(name string) string   { return t.base() + "/" + name + "/state" }
func (t Topics) Command(name string) string { return t.base() + "/" + name + "/set" }
func (t Topics) CommandFilter() string      { return t.base() + "/+/set" }

// PointFromCommand extracts the point name from a command topic.
func (t Topics) PointFromCommand(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.base()+"/")
	if !ok {
		return "", false
	}
	name, ok := strings.CutSuffix(rest, "/set")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

// MetaSubscription matches the meta topic of every device under prefix.
func MetaSubscription(prefix string) string {
	return strings.TrimSuffix(prefix, "/") + "/+/meta"
}

func ParseMeta(b []byte) (Meta, error) {
	var m Meta
	err := json.Unmarshal(b, &m)
	return m, err
}
