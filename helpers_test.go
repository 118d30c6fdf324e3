package probez

import (
	"sync"
)

// fakeBackend is a poll backend that counts calls and keeps copies of
// recorded slots.
//
//nolint:govet // Field order optimized for readability
type fakeBackend struct {
	mu             sync.Mutex
	next           uint64
	providers      map[ProviderHandle]ProviderSpec
	probes         map[ProbeHandle]ProbeSpec
	attached       map[ProbeHandle]bool
	attachAll      bool
	records        []fakeRecord
	providerErr    error
	activations    int
	probeRegs      int
	probeUnregs    int
	providerUnregs int
}

type fakeRecord struct {
	probe ProbeHandle
	name  string
	slots []Slot
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		providers: make(map[ProviderHandle]ProviderSpec),
		probes:    make(map[ProbeHandle]ProbeSpec),
		attached:  make(map[ProbeHandle]bool),
		attachAll: true,
	}
}

func (*fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) RegisterProvider(spec ProviderSpec) (ProviderHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.providerErr != nil {
		return 0, f.providerErr
	}
	f.next++
	h := ProviderHandle(f.next)
	f.providers[h] = spec
	return h, nil
}

func (f *fakeBackend) RegisterProbe(_ ProviderHandle, spec ProbeSpec) (ProbeHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.probeRegs++
	h := ProbeHandle(f.next)
	f.probes[h] = spec
	return h, nil
}

func (f *fakeBackend) Activate(ProviderHandle) error {
	f.mu.Lock()
	f.activations++
	f.mu.Unlock()
	return nil
}

func (*fakeBackend) Deactivate(ProviderHandle) error { return nil }

func (f *fakeBackend) IsEnabled(h ProbeHandle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.probes[h]; !ok {
		return false
	}
	return f.attachAll || f.attached[h]
}

func (f *fakeBackend) Record(h ProbeHandle, slots []Slot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]Slot, len(slots))
	copy(cp, slots)
	f.records = append(f.records, fakeRecord{probe: h, name: f.probes[h].Name, slots: cp})
}

func (f *fakeBackend) UnregisterProbe(h ProbeHandle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.probes, h)
	f.probeUnregs++
}

func (f *fakeBackend) UnregisterProvider(h ProviderHandle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.providers, h)
	f.providerUnregs++
}

func (f *fakeBackend) setAttachAll(v bool) {
	f.mu.Lock()
	f.attachAll = v
	f.mu.Unlock()
}

func (f *fakeBackend) recorded() []fakeRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fakeRecord, len(f.records))
	copy(out, f.records)
	return out
}

func (f *fakeBackend) stats() (probeRegs, probeUnregs, providerUnregs, live int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probeRegs, f.probeUnregs, f.providerUnregs, len(f.probes)
}

// wordBackend exposes a kernel-style enable word per probe.
type wordBackend struct {
	*fakeBackend
	word uint32
}

func (w *wordBackend) EnableWord(ProbeHandle) (*uint32, uint32) {
	return &w.word, 1
}
