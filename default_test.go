package probez

import (
	"errors"
	"io"
	"testing"
)

func TestOpenBackendNoop(t *testing.T) {
	b, err := OpenBackend("noop")
	if err != nil {
		t.Fatalf("OpenBackend failed: %v", err)
	}
	if b.Name() != "noop" {
		t.Errorf("Expected noop backend, got %s", b.Name())
	}
}

func TestOpenBackendAuto(t *testing.T) {
	b, err := OpenBackend(BackendAuto)
	if err != nil {
		t.Fatalf("auto selection must degrade instead of failing: %v", err)
	}
	if b == nil {
		t.Fatal("Expected a backend")
	}
	if c, ok := b.(io.Closer); ok {
		_ = c.Close()
	}
}

func TestOpenBackendUnknown(t *testing.T) {
	if _, err := OpenBackend("dtrace"); err == nil {
		t.Error("Expected an error for an unknown kind")
	}
}

func TestOpenBackendWrongPlatform(t *testing.T) {
	// At most one of the platform kinds can be served on a system.
	opened := 0
	for _, kind := range []string{BackendUserEvents, BackendETW} {
		b, err := OpenBackend(kind)
		if err != nil {
			if !errors.Is(err, ErrPlatformUnsupported) {
				t.Logf("%s backend unavailable: %v", kind, err)
			}
			continue
		}
		opened++
		if b.Name() != kind {
			t.Errorf("Expected %s backend, got %s", kind, b.Name())
		}
		if c, ok := b.(io.Closer); ok {
			_ = c.Close()
		}
	}
	if opened > 1 {
		t.Error("Both platform backends opened on one system")
	}
}

func TestDefaultBackendIsStable(t *testing.T) {
	first := DefaultBackend()
	if first == nil {
		t.Fatal("Expected a default backend")
	}
	if DefaultBackend() != first {
		t.Error("DefaultBackend should return the same backend every time")
	}
	if err := SetDefaultBackend(NewNoopBackend()); err == nil {
		t.Error("SetDefaultBackend should fail after selection")
	}
	if err := SetDefaultBackend(nil); err == nil {
		t.Error("SetDefaultBackend should reject nil")
	}
}
