package point

import (
	"encoding/json"
	"math"
	"strconv"
)

const UnknownState = "unknown"

type valueKind uint8

const (
	unknownValue valueKind = iota
	numberValue
	labelValue
)

// Value is a display value: a number, a mapped label, or unknown.
type Value struct {
	kind   valueKind
	number float64
	label  string
}

func Unknown() Value          { return Value{} }
func Number(f float64) Value  { return Value{kind: numberValue, number: f} }
func Label(s string) Value    { return Value{kind: labelValue, label: s} }
func (v Value) IsKnown() bool { return v.kind != unknownValue }
func (v Value) IsLabel() bool { return v.kind == labelValue }
func (v Value) Equal(o Value) bool {
	return v.kind == o.kind && v.label == o.label && (v.number == o.number || (math.IsNaN(v.number) && math.IsNaN(o.number)))
}

func (v Value) Float() (float64, bool) {
	return v.number, v.kind == numberValue
}

func (v Value) String() string {
	switch v.kind {
	case numberValue:
		return strconv.FormatFloat(v.number, 'f', -1, 64)
	case labelValue:
		return v.label
	}
	return UnknownState
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == numberValue && !math.IsNaN(v.number) && !math.IsInf(v.number, 0) {
		return []byte(v.String()), nil
	}
	return json.Marshal(v.String())
}
