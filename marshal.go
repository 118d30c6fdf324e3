package probez

import (
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

// undefinedText is what string and json slots record for a Nil value.
const undefinedText = "undefined"

// marshalArgs coerces values into dst according to sig.
// dst must have len(sig) capacity. On error dst is left in an unspecified
// state and must not be submitted.
func marshalArgs(probe string, sig Signature, values []Value, dst []Slot) ([]Slot, error) {
	if len(values) > len(sig) {
		return nil, &ArgError{
			Probe: probe,
			Index: -1,
			Err:   fmt.Errorf("%w: got %d, declared %d", ErrArityMismatch, len(values), len(sig)),
		}
	}

	dst = dst[:len(sig)]
	for i, td := range sig {
		if i >= len(values) {
			// Short producers leave trailing slots at their zero value.
			dst[i] = Slot{Type: td}
			continue
		}
		slot, err := coerce(td, values[i])
		if err != nil {
			return nil, &ArgError{Probe: probe, Index: i, Err: err}
		}
		dst[i] = slot
	}
	return dst, nil
}

// coerce converts one value to the slot described by td.
func coerce(td TypeDescriptor, v Value) (Slot, error) {
	switch td.Kind {
	case KindSigned, KindUnsigned:
		return coerceInteger(td, v)
	case KindString, KindWideString:
		return coerceText(td, v)
	case KindStructured:
		return coerceStructured(td, v)
	default:
		return Slot{}, fmt.Errorf("%w: slot kind %s", ErrCoercion, td.Kind)
	}
}

func coerceInteger(td TypeDescriptor, v Value) (Slot, error) {
	switch v.kind {
	case ValueNil:
		return Slot{Type: td}, nil
	case ValueInt:
		if td.Kind == KindUnsigned && v.Int64() < 0 {
			return Slot{}, fmt.Errorf("%w: negative value %d for %s", ErrCoercion, v.Int64(), td.Name)
		}
		return Slot{Type: td, Bits: v.bits & widthMask(td.Width)}, nil
	case ValueUint:
		return Slot{Type: td, Bits: v.bits & widthMask(td.Width)}, nil
	default:
		return Slot{}, fmt.Errorf("%w: %s value for %s", ErrCoercion, v.kind, td.Name)
	}
}

func coerceText(td TypeDescriptor, v Value) (Slot, error) {
	switch v.kind {
	case ValueText:
		return Slot{Type: td, Text: v.text}, nil
	case ValueNil:
		return Slot{Type: td, Text: undefinedText}, nil
	case ValueInt:
		return Slot{Type: td, Text: strconv.FormatInt(v.Int64(), 10)}, nil
	case ValueUint:
		return Slot{Type: td, Text: strconv.FormatUint(v.bits, 10)}, nil
	default:
		return Slot{}, fmt.Errorf("%w: %s value for %s", ErrCoercion, v.kind, td.Name)
	}
}

func coerceStructured(td TypeDescriptor, v Value) (Slot, error) {
	var payload any
	switch v.kind {
	case ValueNil:
		return Slot{Type: td, Text: undefinedText}, nil
	case ValueInt:
		return Slot{Type: td, Text: strconv.FormatInt(v.Int64(), 10)}, nil
	case ValueUint:
		return Slot{Type: td, Text: strconv.FormatUint(v.bits, 10)}, nil
	case ValueText:
		payload = v.text
	default:
		payload = v.obj
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Slot{}, fmt.Errorf("%w: %v", ErrCoercion, err)
	}
	return Slot{Type: td, Text: string(raw)}, nil
}

func widthMask(width uint8) uint64 {
	if width >= 8 {
		return ^uint64(0)
	}
	return (uint64(1) << (uint(width) * 8)) - 1
}

func (k ValueKind) String() string {
	switch k {
	case ValueNil:
		return "nil"
	case ValueInt:
		return "int"
	case ValueUint:
		return "uint"
	case ValueText:
		return "text"
	case ValueStructured:
		return "structured"
	default:
		return "unknown"
	}
}
