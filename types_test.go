package probez

import (
	"errors"
	"testing"
)

func TestResolveKnownTypes(t *testing.T) {
	tests := []struct {
		name  string
		canon string
		width uint8
		kind  Kind
	}{
		{"int", "int32", 4, KindSigned},
		{"int8", "int8", 1, KindSigned},
		{"int16", "int16", 2, KindSigned},
		{"int32", "int32", 4, KindSigned},
		{"int64", "int64", 8, KindSigned},
		{"uint", "uint32", 4, KindUnsigned},
		{"uint8", "uint8", 1, KindUnsigned},
		{"uint16", "uint16", 2, KindUnsigned},
		{"uint32", "uint32", 4, KindUnsigned},
		{"uint64", "uint64", 8, KindUnsigned},
		{"char *", "char *", pointerWidth, KindString},
		{"string", "char *", pointerWidth, KindString},
		{"wchar_t *", "wchar_t *", pointerWidth, KindWideString},
		{"wstring", "wchar_t *", pointerWidth, KindWideString},
		{"json", "json", pointerWidth, KindStructured},
		{"  uint16 ", "uint16", 2, KindUnsigned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			td, err := Resolve(tt.name)
			if err != nil {
				t.Fatalf("Resolve(%q) failed: %v", tt.name, err)
			}
			if td.Name != tt.canon {
				t.Errorf("Expected name %q, got %q", tt.canon, td.Name)
			}
			if td.Width != tt.width {
				t.Errorf("Expected width %d, got %d", tt.width, td.Width)
			}
			if td.Kind != tt.kind {
				t.Errorf("Expected kind %s, got %s", tt.kind, td.Kind)
			}
		})
	}
}

func TestResolveUnknownType(t *testing.T) {
	for _, name := range []string{"float", "", "Int32", "char*", "bool"} {
		_, err := Resolve(name)
		if !errors.Is(err, ErrUnknownType) {
			t.Errorf("Resolve(%q): expected ErrUnknownType, got %v", name, err)
		}
	}
}

func TestResolveSignatureFailsOnFirstUnknown(t *testing.T) {
	sig, err := ResolveSignature("int", "nope", "char *")
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("Expected ErrUnknownType, got %v", err)
	}
	if sig != nil {
		t.Errorf("Expected nil signature on error, got %v", sig)
	}
}

func TestWireAndCTypes(t *testing.T) {
	tests := []struct {
		name  string
		wire  string
		ctype string
	}{
		{"int8", "win:Int8", "s8"},
		{"int", "win:Int32", "s32"},
		{"uint64", "win:UInt64", "u64"},
		{"char *", "win:AnsiString", "char[]"},
		{"wchar_t *", "win:UnicodeString", "char[]"},
		{"json", "win:AnsiString", "char[]"},
	}
	for _, tt := range tests {
		td, err := Resolve(tt.name)
		if err != nil {
			t.Fatalf("Resolve(%q) failed: %v", tt.name, err)
		}
		if td.WireType() != tt.wire {
			t.Errorf("%s: expected wire type %s, got %s", tt.name, tt.wire, td.WireType())
		}
		if td.CType() != tt.ctype {
			t.Errorf("%s: expected C type %s, got %s", tt.name, tt.ctype, td.CType())
		}
	}
}

func TestSignatureEquality(t *testing.T) {
	a, _ := ResolveSignature("int", "string")
	b, _ := ResolveSignature("int32", "char *")
	c, _ := ResolveSignature("int32", "wchar_t *")
	d, _ := ResolveSignature("int32")

	if !a.Equal(b) {
		t.Error("Aliases should resolve to equal signatures")
	}
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("Equal signatures should share a fingerprint")
	}
	if a.Equal(c) {
		t.Error("Narrow and wide strings should differ")
	}
	if a.Fingerprint() == c.Fingerprint() {
		t.Error("Different signatures should not share a fingerprint")
	}
	if a.Equal(d) {
		t.Error("Signatures of different length should differ")
	}
	if a.String() != "(int32, char *)" {
		t.Errorf("Unexpected signature string %q", a.String())
	}
}
