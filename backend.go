package probez

import (
	"github.com/google/uuid"
)

// ProviderHandle identifies a provider registration inside a Backend.
type ProviderHandle uint64

// ProbeHandle identifies a probe registration inside a Backend.
type ProbeHandle uint64

// EventDescriptor is the explicit event identity some backends require.
// Its fields mirror the ETW EVENT_DESCRIPTOR.
type EventDescriptor struct {
	Keyword uint64 `yaml:"keyword" json:"keyword"`
	ID      uint16 `yaml:"id" json:"id"`
	Task    uint16 `yaml:"task" json:"task"`
	Version uint8  `yaml:"version" json:"version"`
	Channel uint8  `yaml:"channel" json:"channel"`
	Level   uint8  `yaml:"level" json:"level"`
	Opcode  uint8  `yaml:"opcode" json:"opcode"`
}

// ProviderSpec describes a provider to a Backend.
type ProviderSpec struct {
	Name     string
	Module   string
	Identity uuid.UUID
}

// ProbeSpec describes a probe to a Backend.
type ProbeSpec struct {
	Provider   string
	Name       string
	Signature  Signature
	Descriptor EventDescriptor
}

// Backend is the adapter to a tracing facility. Everything above it is
// backend-agnostic.
//
// Record receives slots that are only valid for the duration of the call;
// implementations that keep them must copy. Record never reports errors:
// tracing is best-effort and dropped records are not application errors.
//
// IsEnabled must be safe to call concurrently with external attach and
// detach, and with Record.
type Backend interface {
	Name() string
	RegisterProvider(spec ProviderSpec) (ProviderHandle, error)
	RegisterProbe(provider ProviderHandle, spec ProbeSpec) (ProbeHandle, error)
	Activate(provider ProviderHandle) error
	Deactivate(provider ProviderHandle) error
	IsEnabled(probe ProbeHandle) bool
	Record(probe ProbeHandle, slots []Slot)
	UnregisterProbe(probe ProbeHandle)
	UnregisterProvider(provider ProviderHandle)
}

// EnableFunc receives attachment changes for a probe.
type EnableFunc func(probe ProbeHandle, attached bool)

// Notifier is implemented by backends that push attachment changes instead
// of being polled. Watch must be called before Activate. Callbacks must not
// be delivered from inside RegisterProbe and must not hold backend locks.
type Notifier interface {
	Watch(provider ProviderHandle, fn EnableFunc)
}

// EnableWorder is implemented by polled backends whose enablement is a
// memory word written by the tracing facility. Probes read the word with
// a single atomic load, so the disabled path never takes a backend lock.
// The returned word must stay readable until the probe is unregistered.
type EnableWorder interface {
	EnableWord(probe ProbeHandle) (word *uint32, mask uint32)
}
