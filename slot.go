package probez

import (
	"encoding/binary"

	"golang.org/x/text/encoding/unicode"
)

// Slot is one marshaled argument ready for the backend.
// Integer slots carry their value in Bits, already truncated to the
// descriptor width. Text-like slots carry their value in Text.
type Slot struct {
	Text string
	Bits uint64
	Type TypeDescriptor
}

// Int returns the slot as a sign-extended integer.
func (s Slot) Int() int64 {
	switch s.Type.Width {
	case 1:
		return int64(int8(s.Bits))
	case 2:
		return int64(int16(s.Bits))
	case 4:
		return int64(int32(s.Bits))
	default:
		return int64(s.Bits)
	}
}

// Uint returns the slot as an unsigned integer.
func (s Slot) Uint() uint64 {
	return s.Bits
}

// String returns the textual value of string-like slots.
func (s Slot) String() string {
	return s.Text
}

// Value converts the slot back to a Value.
func (s Slot) Value() Value {
	switch s.Type.Kind {
	case KindSigned:
		return Int(s.Int())
	case KindUnsigned:
		return Uint(s.Bits)
	default:
		return Str(s.Text)
	}
}

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// AppendWire appends the slot's wire bytes to dst: little-endian integers
// at their declared width, NUL-terminated narrow strings, and
// NUL-terminated UTF-16LE wide strings.
func (s Slot) AppendWire(dst []byte) []byte {
	switch s.Type.Kind {
	case KindSigned, KindUnsigned:
		return appendInt(dst, s.Bits, s.Type.Width)
	case KindWideString:
		wide, err := utf16le.NewEncoder().String(s.Text)
		if err == nil {
			dst = append(dst, wide...)
		}
		return append(dst, 0, 0)
	default:
		dst = append(dst, s.Text...)
		return append(dst, 0)
	}
}

func appendInt(dst []byte, bits uint64, width uint8) []byte {
	switch width {
	case 1:
		return append(dst, byte(bits))
	case 2:
		return binary.LittleEndian.AppendUint16(dst, uint16(bits))
	case 4:
		return binary.LittleEndian.AppendUint32(dst, uint32(bits))
	default:
		return binary.LittleEndian.AppendUint64(dst, bits)
	}
}

// WireSize is the number of bytes AppendWire produces.
func (s Slot) WireSize() int {
	switch s.Type.Kind {
	case KindSigned, KindUnsigned:
		return int(s.Type.Width)
	case KindWideString:
		units := 1
		for _, r := range s.Text {
			units++
			if r >= 0x10000 {
				units++
			}
		}
		return units * 2
	default:
		return len(s.Text) + 1
	}
}
