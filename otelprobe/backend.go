// Package otelprobe bridges probez probes into OpenTelemetry. Every fire
// on an enabled probe becomes a zero-length span carrying the probe
// arguments as attributes, so probes show up in whatever trace pipeline
// the application already exports to.
package otelprobe

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/zoobzio/probez"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys set on every probe span.
const (
	KeyProvider = "probez.provider"
	KeyModule   = "probez.module"
	KeyIdentity = "probez.identity"
	KeyProbe    = "probez.probe"
	KeyEventID  = "probez.event_id"
	ArgPrefix   = "probez.arg"
)

// Backend records probe fires as spans. A probe is enabled while its
// provider is activated.
//
//nolint:govet // Field order optimized for readability
type Backend struct {
	tracer    trace.Tracer
	providers map[probez.ProviderHandle]*provider
	probes    map[probez.ProbeHandle]*probe
	mu        sync.RWMutex
	next      atomic.Uint64
}

type provider struct {
	spec   probez.ProviderSpec
	active atomic.Bool
}

type probe struct {
	provider       *provider
	spec           probez.ProbeSpec
	providerHandle probez.ProviderHandle
	attrs          []attribute.KeyValue
}

// New creates a backend that starts spans on tracer.
func New(tracer trace.Tracer) *Backend {
	return &Backend{
		tracer:    tracer,
		providers: make(map[probez.ProviderHandle]*provider),
		probes:    make(map[probez.ProbeHandle]*probe),
	}
}

// Name implements probez.Backend.
func (*Backend) Name() string { return "otel" }

// RegisterProvider implements probez.Backend.
func (b *Backend) RegisterProvider(spec probez.ProviderSpec) (probez.ProviderHandle, error) {
	h := probez.ProviderHandle(b.next.Add(1))
	b.mu.Lock()
	b.providers[h] = &provider{spec: spec}
	b.mu.Unlock()
	return h, nil
}

// RegisterProbe implements probez.Backend.
func (b *Backend) RegisterProbe(h probez.ProviderHandle, spec probez.ProbeSpec) (probez.ProbeHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.providers[h]
	if !ok {
		return 0, fmt.Errorf("%w: unknown provider handle %d", probez.ErrRegistrationFailed, h)
	}

	attrs := []attribute.KeyValue{
		attribute.String(KeyProvider, p.spec.Name),
		attribute.String(KeyIdentity, p.spec.Identity.String()),
		attribute.String(KeyProbe, spec.Name),
		attribute.Int(KeyEventID, int(spec.Descriptor.ID)),
	}
	if p.spec.Module != "" {
		attrs = append(attrs, attribute.String(KeyModule, p.spec.Module))
	}

	ph := probez.ProbeHandle(b.next.Add(1))
	b.probes[ph] = &probe{provider: p, spec: spec, providerHandle: h, attrs: attrs}
	return ph, nil
}

// Activate implements probez.Backend.
func (b *Backend) Activate(h probez.ProviderHandle) error {
	return b.setActive(h, true)
}

// Deactivate implements probez.Backend.
func (b *Backend) Deactivate(h probez.ProviderHandle) error {
	return b.setActive(h, false)
}

func (b *Backend) setActive(h probez.ProviderHandle, active bool) error {
	b.mu.RLock()
	p, ok := b.providers[h]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: unknown provider handle %d", probez.ErrRegistrationFailed, h)
	}
	p.active.Store(active)
	return nil
}

// IsEnabled implements probez.Backend.
func (b *Backend) IsEnabled(h probez.ProbeHandle) bool {
	b.mu.RLock()
	p, ok := b.probes[h]
	b.mu.RUnlock()
	return ok && p.provider.active.Load()
}

// Record implements probez.Backend.
func (b *Backend) Record(h probez.ProbeHandle, slots []probez.Slot) {
	b.mu.RLock()
	p, ok := b.probes[h]
	b.mu.RUnlock()
	if !ok {
		return
	}

	attrs := make([]attribute.KeyValue, 0, len(p.attrs)+len(slots))
	attrs = append(attrs, p.attrs...)
	for i, s := range slots {
		attrs = append(attrs, slotAttribute(ArgPrefix+strconv.Itoa(i), s))
	}

	_, span := b.tracer.Start(context.Background(), p.provider.spec.Name+"."+p.spec.Name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	span.End()
}

func slotAttribute(key string, s probez.Slot) attribute.KeyValue {
	switch s.Type.Kind {
	case probez.KindSigned:
		return attribute.Int64(key, s.Int())
	case probez.KindUnsigned:
		if s.Uint() > math.MaxInt64 {
			return attribute.String(key, strconv.FormatUint(s.Uint(), 10))
		}
		return attribute.Int64(key, int64(s.Uint()))
	default:
		return attribute.String(key, s.String())
	}
}

// UnregisterProbe implements probez.Backend.
func (b *Backend) UnregisterProbe(h probez.ProbeHandle) {
	b.mu.Lock()
	delete(b.probes, h)
	b.mu.Unlock()
}

// UnregisterProvider implements probez.Backend.
func (b *Backend) UnregisterProvider(h probez.ProviderHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ph, p := range b.probes {
		if p.providerHandle == h {
			delete(b.probes, ph)
		}
	}
	delete(b.providers, h)
}
