// Package point describes addressable device values and turns raw register
// words into the values shown to users.
package point

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	modbusIface "github.com/tetragramaton/smh-modbus/internal/interface/modbus"
)

type DataType int

const (
	UInt16 DataType = iota + 1
	UInt32
	// Float is the legacy 4-word packing: each word is shifted as if it were
	// a byte. Kept for compatibility with existing register maps.
	Float
	// Float32 is a big-endian IEEE-754 value spread over two words.
	Float32
)

var dataTypeNames = map[string]DataType{
	"uint16":  UInt16,
	"uint32":  UInt32,
	"float":   Float,
	"float32": Float32,
}

func ParseDataType(s string) (DataType, error) {
	if dt, ok := dataTypeNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return dt, nil
	}
	return 0, fmt.Errorf("unknown data_type %q", s)
}

func (d DataType) String() string {
	for name, dt := range dataTypeNames {
		if dt == d {
			return name
		}
	}
	return "unknown"
}

// Words is the number of 16-bit registers a value of this type occupies.
func (d DataType) Words() uint16 {
	switch d {
	case UInt16:
		return 1
	case UInt32, Float32:
		return 2
	case Float:
		return 4
	}
	return 0
}

func ParseInputType(s string) (modbusIface.RegisterKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "holding":
		return modbusIface.Holding, nil
	case "input":
		return modbusIface.Input, nil
	}
	return 0, fmt.Errorf("unknown input_type %q", s)
}

// Phase is the outcome of the latest poll of a point.
type Phase int

const (
	Idle Phase = iota
	Reading
	Decoded
	Failed
)

func (p Phase) String() string {
	switch p {
	case Reading:
		return "reading"
	case Decoded:
		return "decoded"
	case Failed:
		return "failed"
	}
	return "idle"
}

// ValueMap translates raw numbers to labels. Reverse lookups walk keys in
// ascending order so the result is stable.
type ValueMap struct {
	labels map[int64]string
	keys   []int64
}

func NewValueMap(m map[int64]string) ValueMap {
	vm := ValueMap{labels: make(map[int64]string, len(m))}
	for k, v := range m {
		vm.labels[k] = v
		vm.keys = append(vm.keys, k)
	}
	sort.Slice(vm.keys, func(i, j int) bool { return vm.keys[i] < vm.keys[j] })
	return vm
}

func (vm ValueMap) Len() int { return len(vm.keys) }

func (vm ValueMap) Label(n float64) (string, bool) {
	if vm.labels == nil || n != float64(int64(n)) {
		return "", false
	}
	l, ok := vm.labels[int64(n)]
	return l, ok
}

func (vm ValueMap) Key(label string) (int64, bool) {
	for _, k := range vm.keys {
		if vm.labels[k] == label {
			return k, true
		}
	}
	return 0, false
}

// Labels returns the labels ordered by their raw value.
func (vm ValueMap) Labels() []string {
	out := make([]string, 0, len(vm.keys))
	for _, k := range vm.keys {
		out = append(out, vm.labels[k])
	}
	return out
}

// RegisterPoint is one named register value on the device. Descriptor fields
// are fixed after construction; the state is only changed by a poll or by a
// confirmed write.
type RegisterPoint struct {
	Name     string
	Slave    uint8
	Address  uint16
	Count    uint16
	Kind     modbusIface.RegisterKind
	DataType DataType
	Scale    *float64
	ValueMap ValueMap
	Writable bool
	Unit     string
	Icon     string

	mu      sync.RWMutex
	state   Value
	phase   Phase
	lastErr string
	updated time.Time
	// writes counts confirmed writes. A read started before the latest write
	// must not replace the written state.
	writes uint64
}

// Publisher receives a point after its state changed.
type Publisher interface {
	PublishState(p *RegisterPoint)
}

// Status is a copy of a point's mutable state.
type Status struct {
	State     Value
	Phase     Phase
	LastError string
	Updated   time.Time
}

func (p *RegisterPoint) Validate() error {
	if p.Name == "" {
		return errors.New("name required")
	}
	if p.DataType.Words() == 0 {
		return fmt.Errorf("point %q: data type required", p.Name)
	}
	if p.Count != p.DataType.Words() {
		return fmt.Errorf("point %q: count %d does not match %s (needs %d)", p.Name, p.Count, p.DataType, p.DataType.Words())
	}
	if int(p.Address)+int(p.Count) > 0x10000 {
		return fmt.Errorf("point %q: address %d + count %d exceeds register space", p.Name, p.Address, p.Count)
	}
	if p.Writable && p.Kind == modbusIface.Input {
		return fmt.Errorf("point %q: input registers are read-only", p.Name)
	}
	if p.Writable && p.DataType.Words() != 1 {
		return fmt.Errorf("point %q: only single-register points can be written", p.Name)
	}
	return nil
}

func (p *RegisterPoint) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Status{State: p.state, Phase: p.phase, LastError: p.lastErr, Updated: p.updated}
}

func (p *RegisterPoint) State() Value {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// BeginRead marks the point as being read and returns the write generation
// the read must be completed with.
func (p *RegisterPoint) BeginRead() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phase = Reading
	return p.writes
}

// CompleteRead stores v unless a write was confirmed after the matching
// BeginRead, in which case v is stale and dropped. It reports whether the
// state was replaced.
func (p *RegisterPoint) CompleteRead(gen uint64, v Value, at time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phase = Decoded
	p.lastErr = ""
	if gen != p.writes {
		return false
	}
	p.state = v
	p.updated = at
	return true
}

// FailRead records the failure and keeps the previous state.
func (p *RegisterPoint) FailRead(err error) {
	p.mu.Lock()
	p.phase = Failed
	p.lastErr = err.Error()
	p.mu.Unlock()
}

func (p *RegisterPoint) CommitWrite(v Value, at time.Time) {
	p.mu.Lock()
	p.state = v
	p.updated = at
	p.writes++
	p.mu.Unlock()
}
