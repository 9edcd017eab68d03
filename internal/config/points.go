package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tetragramaton/smh-modbus/internal/ha"
	"github.com/tetragramaton/smh-modbus/internal/point"
	"gopkg.in/yaml.v3"
)

const maxSlaveID = 247

// Point names end up as MQTT topic levels and URL path segments.
const reservedNameChars = "/+#"

// pointRecord is one entry of the points file. Pointers mark fields that are
// required but may legitimately be zero.
type pointRecord struct {
	Name      string           `yaml:"name"`
	Slave     *int             `yaml:"slave"`
	Address   *int             `yaml:"address"`
	InputType string           `yaml:"input_type"`
	DataType  string           `yaml:"data_type"`
	Count     *int             `yaml:"count"`
	Unit      string           `yaml:"unit_of_measurement"`
	Scale     *float64         `yaml:"scale"`
	ValueMap  map[int64]string `yaml:"value_map"`
	Writable  bool             `yaml:"writable"`
	Icon      string           `yaml:"icon"`
}

func LoadPoints(path string) ([]*point.RegisterPoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read points file: %w", err)
	}
	points, err := ParsePoints(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return points, nil
}

// ParsePoints decodes and validates a YAML list of points. Unknown keys are
// rejected so typos fail at startup.
func ParsePoints(data []byte) ([]*point.RegisterPoint, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var records []pointRecord
	if err := dec.Decode(&records); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("no points defined")
		}
		return nil, fmt.Errorf("failed to parse points: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("no points defined")
	}

	seen := make(map[string]int, len(records))
	objects := make(map[string]int, len(records))
	points := make([]*point.RegisterPoint, 0, len(records))
	for i, r := range records {
		p, err := r.build()
		if err != nil {
			return nil, fmt.Errorf("point #%d: %w", i+1, err)
		}
		if prev, dup := seen[p.Name]; dup {
			return nil, fmt.Errorf("point #%d: name %q already used by point #%d", i+1, p.Name, prev)
		}
		// discovery object ids must stay distinct
		object := ha.Sanitize(p.Name)
		if prev, dup := objects[object]; dup {
			return nil, fmt.Errorf("point #%d: name %q clashes with point #%d (both become %q)", i+1, p.Name, prev, object)
		}
		seen[p.Name] = i + 1
		objects[object] = i + 1
		points = append(points, p)
	}
	return points, nil
}

func (r pointRecord) build() (*point.RegisterPoint, error) {
	if r.Name == "" {
		return nil, errors.New("name is required")
	}
	if strings.ContainsAny(r.Name, reservedNameChars) {
		return nil, fmt.Errorf("point %q: name must not contain any of %q", r.Name, reservedNameChars)
	}
	var missing []string
	if r.Slave == nil {
		missing = append(missing, "slave")
	}
	if r.Address == nil {
		missing = append(missing, "address")
	}
	if r.InputType == "" {
		missing = append(missing, "input_type")
	}
	if r.DataType == "" {
		missing = append(missing, "data_type")
	}
	if r.Count == nil {
		missing = append(missing, "count")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("point %q: missing required fields %v", r.Name, missing)
	}

	if *r.Slave < 0 || *r.Slave > maxSlaveID {
		return nil, fmt.Errorf("point %q: slave %d out of range 0..%d", r.Name, *r.Slave, maxSlaveID)
	}
	if *r.Address < 0 || *r.Address > 0xFFFF {
		return nil, fmt.Errorf("point %q: address %d out of range", r.Name, *r.Address)
	}
	if *r.Count <= 0 || *r.Count > 0xFFFF {
		return nil, fmt.Errorf("point %q: count %d out of range", r.Name, *r.Count)
	}
	kind, err := point.ParseInputType(r.InputType)
	if err != nil {
		return nil, fmt.Errorf("point %q: %w", r.Name, err)
	}
	dt, err := point.ParseDataType(r.DataType)
	if err != nil {
		return nil, fmt.Errorf("point %q: %w", r.Name, err)
	}

	p := &point.RegisterPoint{
		Name:     r.Name,
		Slave:    uint8(*r.Slave),
		Address:  uint16(*r.Address),
		Count:    uint16(*r.Count),
		Kind:     kind,
		DataType: dt,
		Scale:    r.Scale,
		ValueMap: point.NewValueMap(r.ValueMap),
		Writable: r.Writable,
		Unit:     r.Unit,
		Icon:     r.Icon,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
