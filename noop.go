package probez

import (
	"sync/atomic"
)

// NoopBackend stands in on platforms without a tracing facility.
// Registration always succeeds and no probe is ever enabled.
type NoopBackend struct {
	next atomic.Uint64
}

// NewNoopBackend returns a backend that records nothing.
func NewNoopBackend() *NoopBackend {
	return &NoopBackend{}
}

func (*NoopBackend) Name() string { return "noop" }

func (n *NoopBackend) RegisterProvider(ProviderSpec) (ProviderHandle, error) {
	return ProviderHandle(n.next.Add(1)), nil
}

func (n *NoopBackend) RegisterProbe(ProviderHandle, ProbeSpec) (ProbeHandle, error) {
	return ProbeHandle(n.next.Add(1)), nil
}

func (*NoopBackend) Activate(ProviderHandle) error { return nil }
func (*NoopBackend) Deactivate(ProviderHandle) error { return nil }
func (*NoopBackend) IsEnabled(ProbeHandle) bool { return false }
func (*NoopBackend) Record(ProbeHandle, []Slot) {}
func (*NoopBackend) UnregisterProbe(ProbeHandle) {}
func (*NoopBackend) UnregisterProvider(ProviderHandle) {}
