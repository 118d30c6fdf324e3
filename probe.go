package probez

import (
	"sync"
	"sync/atomic"
)

// Probe is a named trace point with a fixed argument signature.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for the fire fast path
type Probe struct {
	// active is written by the owning provider on enable, disable and removal.
	active atomic.Bool
	// attached is written from backend notifications on push backends.
	attached atomic.Bool
	removed  atomic.Bool
	poll     bool
	// word is the backend's enable word when it exposes one.
	word *uint32
	mask uint32

	backend    Backend
	handle     ProbeHandle
	provider   *Provider
	pool       *slotPool
	name       string
	sig        Signature
	descriptor EventDescriptor
	attachMu   sync.Mutex
}

// Name returns the probe name.
func (p *Probe) Name() string {
	return p.name
}

// Provider returns the owning provider.
func (p *Probe) Provider() *Provider {
	return p.provider
}

// Signature returns the declared argument types.
func (p *Probe) Signature() Signature {
	return p.sig
}

// Descriptor returns the event descriptor the probe was registered with.
func (p *Probe) Descriptor() EventDescriptor {
	return p.descriptor
}

// Enabled reports whether firing would currently reach a tracer.
func (p *Probe) Enabled() bool {
	if !p.active.Load() {
		return false
	}
	if p.word != nil {
		return atomic.LoadUint32(p.word)&p.mask != 0
	}
	if p.poll {
		return p.backend.IsEnabled(p.handle)
	}
	return p.attached.Load()
}

// Fire records one event. When the probe is not enabled it returns
// immediately without calling producer. Otherwise the produced values are
// coerced into the probe's slots and submitted; if any value cannot be
// coerced an *ArgError is returned and nothing is submitted.
func (p *Probe) Fire(producer Producer) error {
	if !p.Enabled() {
		if p.removed.Load() {
			return ErrProbeRemoved
		}
		return nil
	}

	var values []Value
	if producer != nil {
		values = producer()
	}

	buf := p.pool.get()
	slots, err := marshalArgs(p.name, p.sig, values, buf)
	if err != nil {
		p.pool.put(buf)
		return err
	}
	p.backend.Record(p.handle, slots)
	p.pool.put(buf)
	return nil
}

// syncAttached refreshes the attachment flag from the backend.
// Serialized per probe so the last refresh always wins with current state.
func (p *Probe) syncAttached() {
	if p.poll {
		return
	}
	p.attachMu.Lock()
	p.attached.Store(p.backend.IsEnabled(p.handle))
	p.attachMu.Unlock()
}
