package probez

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/zeebo/xxh3"
)

// Kind is the wire category of an argument slot.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindSigned
	KindUnsigned
	KindString
	KindWideString
	KindStructured
)

func (k Kind) String() string {
	switch k {
	case KindSigned:
		return "signed"
	case KindUnsigned:
		return "unsigned"
	case KindString:
		return "string"
	case KindWideString:
		return "wstring"
	case KindStructured:
		return "structured"
	default:
		return "invalid"
	}
}

// TypeDescriptor is the resolved form of an argument type name.
// Width is the byte width of integer slots and the pointer width for
// string-like slots.
type TypeDescriptor struct {
	Name  string
	Width uint8
	Kind  Kind
}

// IsInteger reports whether the slot carries a fixed-width integer.
func (t TypeDescriptor) IsInteger() bool {
	return t.Kind == KindSigned || t.Kind == KindUnsigned
}

// IsText reports whether the slot is submitted as a string.
func (t TypeDescriptor) IsText() bool {
	return t.Kind == KindString || t.Kind == KindWideString || t.Kind == KindStructured
}

// WireType returns the ETW manifest in-type for the slot.
func (t TypeDescriptor) WireType() string {
	switch t.Kind {
	case KindSigned:
		return fmt.Sprintf("win:Int%d", int(t.Width)*8)
	case KindUnsigned:
		return fmt.Sprintf("win:UInt%d", int(t.Width)*8)
	case KindWideString:
		return "win:UnicodeString"
	default:
		return "win:AnsiString"
	}
}

// CType returns the user_events field type for the slot.
func (t TypeDescriptor) CType() string {
	switch t.Kind {
	case KindSigned:
		return fmt.Sprintf("s%d", int(t.Width)*8)
	case KindUnsigned:
		return fmt.Sprintf("u%d", int(t.Width)*8)
	default:
		return "char[]"
	}
}

func (t TypeDescriptor) String() string {
	return t.Name
}

// pointerWidth is the width recorded for string slots. It matches the
// 32-bit wire layout the descriptors were historically published with.
const pointerWidth = 4

var typeTable = map[string]TypeDescriptor{
	"int":       {Name: "int32", Width: 4, Kind: KindSigned},
	"int8":      {Name: "int8", Width: 1, Kind: KindSigned},
	"int16":     {Name: "int16", Width: 2, Kind: KindSigned},
	"int32":     {Name: "int32", Width: 4, Kind: KindSigned},
	"int64":     {Name: "int64", Width: 8, Kind: KindSigned},
	"uint":      {Name: "uint32", Width: 4, Kind: KindUnsigned},
	"uint8":     {Name: "uint8", Width: 1, Kind: KindUnsigned},
	"uint16":    {Name: "uint16", Width: 2, Kind: KindUnsigned},
	"uint32":    {Name: "uint32", Width: 4, Kind: KindUnsigned},
	"uint64":    {Name: "uint64", Width: 8, Kind: KindUnsigned},
	"char *":    {Name: "char *", Width: pointerWidth, Kind: KindString},
	"string":    {Name: "char *", Width: pointerWidth, Kind: KindString},
	"wchar_t *": {Name: "wchar_t *", Width: pointerWidth, Kind: KindWideString},
	"wstring":   {Name: "wchar_t *", Width: pointerWidth, Kind: KindWideString},
	"json":      {Name: "json", Width: pointerWidth, Kind: KindStructured},
}

// Resolve maps an argument type name to its descriptor.
func Resolve(name string) (TypeDescriptor, error) {
	td, ok := typeTable[strings.TrimSpace(name)]
	if !ok {
		return TypeDescriptor{}, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	return td, nil
}

// Signature is the ordered argument list of a probe.
type Signature []TypeDescriptor

// ResolveSignature resolves every name, failing on the first unknown one.
func ResolveSignature(names ...string) (Signature, error) {
	sig := make(Signature, 0, len(names))
	for _, name := range names {
		td, err := Resolve(name)
		if err != nil {
			return nil, err
		}
		sig = append(sig, td)
	}
	return sig, nil
}

// Equal reports whether two signatures describe the same slots.
func (s Signature) Equal(other Signature) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Fingerprint is a stable hash of the signature's slot layout.
func (s Signature) Fingerprint() uint64 {
	buf := make([]byte, 0, len(s)*8)
	for _, td := range s {
		buf = append(buf, byte(td.Kind), td.Width)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(td.Name)))
		buf = append(buf, td.Name...)
	}
	return xxh3.Hash(buf)
}

// Names returns the canonical type names.
func (s Signature) Names() []string {
	names := make([]string, len(s))
	for i, td := range s {
		names[i] = td.Name
	}
	return names
}

func (s Signature) String() string {
	return "(" + strings.Join(s.Names(), ", ") + ")"
}
