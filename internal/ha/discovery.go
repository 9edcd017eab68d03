package ha

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const DiscoveryPrefix = "homeassistant"

type Device struct {
	Identifiers   []string `json:"identifiers,omitempty"`
	Manufacturer  string   `json:"manufacturer,omitempty"`
	Model         string   `json:"model,omitempty"`
	Name          string   `json:"name,omitempty"`
	SuggestedArea string   `json:"suggested_area,omitempty"`
}

// EntityConfig is the discovery payload for a sensor, select or number.
type EntityConfig struct {
	Name              string                 `json:"name"`
	UniqueID          string                 `json:"unique_id"`
	StateTopic        string                 `json:"state_topic"`
	ValueTpl          string                 `json:"value_template,omitempty"`
	CommandTopic      string                 `json:"command_topic,omitempty"`
	Options           []string               `json:"options,omitempty"`
	Min               *float64               `json:"min,omitempty"`
	Max               *float64               `json:"max,omitempty"`
	Step              *float64               `json:"step,omitempty"`
	UnitOfMeas        string                 `json:"unit_of_measurement,omitempty"`
	Icon              string                 `json:"icon,omitempty"`
	Device            *Device                `json:"device,omitempty"`
	QoS               int                    `json:"qos,omitempty"`
	AvailabilityTopic string                 `json:"availability_topic,omitempty"`
	Extra             map[string]interface{} `json:"-"`
}

func (c *EntityConfig) Marshal() ([]byte, error) {
	type alias EntityConfig
	a := alias(*c)
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	if c.Extra != nil {
		var base map[string]interface{}
		if err := json.Unmarshal(b, &base); err != nil {
			return nil, err
		}
		for k, v := range c.Extra {
			base[k] = v
		}
		return json.Marshal(base)
	}
	return b, nil
}

// Component is the Home Assistant platform a point is announced as.
type Component string

const (
	Sensor Component = "sensor"
	Select Component = "select"
	Number Component = "number"
)

// ComponentFor picks the platform: read-only points are sensors, writable
// points with labels are selects, other writable points are numbers.
func ComponentFor(p MetaPoint) Component {
	switch {
	case !p.Writable:
		return Sensor
	case len(p.Options) > 0:
		return Select
	}
	return Number
}

func TopicConfig(component Component, unique, object string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", DiscoveryPrefix, component, unique, object)
}

// Discovery is one retained config message.
type Discovery struct {
	Topic  string
	Config *EntityConfig
}

// DiscoveryConfigs builds the discovery configs for every point of meta.
func DiscoveryConfigs(meta Meta) []Discovery {
	unique := Sanitize(meta.DeviceID)
	name := meta.Name
	if name == "" {
		name = meta.DeviceID
	}
	device := &Device{
		Identifiers:   []string{meta.DeviceID},
		Manufacturer:  "SMH",
		Model:         meta.Model,
		Name:          name,
		SuggestedArea: meta.Area,
	}

	out := make([]Discovery, 0, len(meta.Points))
	for _, p := range meta.Points {
		object := Sanitize(p.Name)
		component := ComponentFor(p)
		cfg := &EntityConfig{
			Name:              p.Name,
			UniqueID:          unique + "_" + object,
			StateTopic:        p.StateTopic,
			ValueTpl:          "{{ value_json.state }}",
			UnitOfMeas:        p.Unit,
			Icon:              p.Icon,
			Device:            device,
			QoS:               1,
			AvailabilityTopic: meta.AvailabilityTopic,
		}
		switch component {
		case Select:
			cfg.CommandTopic = p.CommandTopic
			cfg.Options = p.Options
		case Number:
			lo, hi, step := 0.0, 65535.0, 1.0
			cfg.CommandTopic = p.CommandTopic
			cfg.Min, cfg.Max, cfg.Step = &lo, &hi, &step
			cfg.Extra = map[string]interface{}{"mode": "box"}
		}
		out = append(out, Discovery{Topic: TopicConfig(component, unique, object), Config: cfg})
	}
	return out
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

func Sanitize(s string) string {
	return strings.ToLower(unsafeChars.ReplaceAllString(s, "_"))
}
