package point

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrInvalidValue = errors.New("invalid value")

// Decode aggregates raw words into a number. Only the words the data type
// needs are consumed.
func Decode(words []uint16, dt DataType) (float64, error) {
	need := int(dt.Words())
	if need == 0 {
		return 0, fmt.Errorf("decode: unknown data type %d", dt)
	}
	if len(words) < need {
		return 0, fmt.Errorf("decode %s: got %d words, need %d", dt, len(words), need)
	}

	switch dt {
	case UInt16:
		return float64(words[0]), nil
	case UInt32:
		return float64(uint32(words[0])<<16 | uint32(words[1])), nil
	case Float:
		// Not IEEE-754. Words are packed as if they were bytes, overlapping
		// when a word is >= 256.
		v := uint64(words[0])<<24 | uint64(words[1])<<16 | uint64(words[2])<<8 | uint64(words[3])
		return float64(v), nil
	case Float32:
		return float64(math.Float32frombits(uint32(words[0])<<16 | uint32(words[1]))), nil
	}
	return 0, fmt.Errorf("decode: unknown data type %d", dt)
}

// ResolveState maps a number to its display value. A value map entry wins
// over scale.
func ResolveState(n float64, vm ValueMap, scale *float64) Value {
	if l, ok := vm.Label(n); ok {
		return Label(l)
	}
	if scale != nil {
		return Number(n * *scale)
	}
	return Number(n)
}

// ReverseResolve turns a requested display value into the raw register value.
// Labels are looked up first; anything else must be an integer in 0..65535.
func ReverseResolve(desired string, vm ValueMap) (uint16, error) {
	if k, ok := vm.Key(desired); ok {
		if k < 0 || k > math.MaxUint16 {
			return 0, fmt.Errorf("%w: %q maps to %d, outside register range", ErrInvalidValue, desired, k)
		}
		return uint16(k), nil
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(desired), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is neither a known label nor a number", ErrInvalidValue, desired)
	}
	if f != math.Trunc(f) || f < 0 || f > math.MaxUint16 {
		return 0, fmt.Errorf("%w: %v outside register range 0..65535", ErrInvalidValue, f)
	}
	return uint16(f), nil
}
