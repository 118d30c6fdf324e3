package probez

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// State is a provider lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateEnabled
	StateDisabled
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateEnabled:
		return "enabled"
	case StateDisabled:
		return "disabled"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Provider owns a named set of probes and their backend registration.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for readability
type Provider struct {
	backend  Backend
	logger   zerolog.Logger
	probes   map[string]*Probe
	byHandle map[ProbeHandle]*Probe
	name     string
	module   string
	identity uuid.UUID
	handle   ProviderHandle
	maxArgs  int
	nextID   uint16
	push     bool
	state    atomic.Int32
	// lifeMu serializes registration and state transitions.
	lifeMu sync.Mutex
	// mu guards the probe maps. Backend callbacks only take mu.
	mu sync.RWMutex
}

// NewProvider registers a provider with its backend. If the backend reports
// the tracing facility is unavailable the provider silently binds to a
// NoopBackend instead.
func NewProvider(name string, opts ...Option) (*Provider, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: provider name is required", ErrInvalidName)
	}

	cfg := defaultProviderConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	identity, err := resolveIdentity(name, cfg)
	if err != nil {
		return nil, err
	}

	backend := cfg.backend
	if backend == nil {
		backend = DefaultBackend()
	}

	p := &Provider{
		backend:  backend,
		logger:   cfg.logger.With().Str("provider", name).Str("identity", identity.String()).Logger(),
		probes:   make(map[string]*Probe),
		byHandle: make(map[ProbeHandle]*Probe),
		name:     name,
		module:   cfg.module,
		identity: identity,
		maxArgs:  cfg.maxArgs,
		nextID:   1,
	}

	spec := ProviderSpec{Name: name, Module: cfg.module, Identity: identity}
	p.handle, err = backend.RegisterProvider(spec)
	if errors.Is(err, ErrPlatformUnsupported) {
		p.logger.Debug().Err(err).Str("backend", backend.Name()).Msg("falling back to noop backend")
		p.backend = NewNoopBackend()
		p.handle, err = p.backend.RegisterProvider(spec)
	}
	if err != nil {
		return nil, fmt.Errorf("register provider %q: %w", name, err)
	}

	if n, ok := p.backend.(Notifier); ok {
		p.push = true
		n.Watch(p.handle, p.onEnableChanged)
	}

	p.logger.Debug().Str("backend", p.backend.Name()).Msg("provider created")
	return p, nil
}

func resolveIdentity(name string, cfg providerConfig) (uuid.UUID, error) {
	if cfg.explicit != uuid.Nil {
		return cfg.explicit, nil
	}
	if cfg.identity != "" {
		return ParseIdentity(cfg.identity)
	}
	return DeriveIdentity(name, cfg.module, cfg.scope)
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return p.name
}

// Module returns the optional module name.
func (p *Provider) Module() string {
	return p.module
}

// Identity returns the provider's externally visible identity.
func (p *Provider) Identity() uuid.UUID {
	return p.identity
}

// Backend returns the backend the provider is bound to.
func (p *Provider) Backend() Backend {
	return p.backend
}

// State returns the current lifecycle state.
func (p *Provider) State() State {
	return State(p.state.Load())
}

// CreateProbe declares a probe with the given argument type names.
// Re-declaring a name with an identical signature returns the existing
// probe; a different signature fails with ErrDuplicateName.
func (p *Provider) CreateProbe(name string, types ...string) (*Probe, error) {
	return p.createProbe(name, nil, types)
}

// CreateProbeWithDescriptor declares a probe with an explicit event
// descriptor, for backends that identify events by number.
func (p *Provider) CreateProbeWithDescriptor(name string, desc EventDescriptor, types ...string) (*Probe, error) {
	return p.createProbe(name, &desc, types)
}

func (p *Provider) createProbe(name string, desc *EventDescriptor, types []string) (*Probe, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: probe name is required", ErrInvalidName)
	}

	sig, err := ResolveSignature(types...)
	if err != nil {
		return nil, fmt.Errorf("probe %q: %w", name, err)
	}
	if len(sig) > p.maxArgs {
		return nil, fmt.Errorf("probe %q: %w: %d declared, limit %d", name, ErrTooManyArgs, len(sig), p.maxArgs)
	}

	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()

	if p.State() == StateDestroyed {
		return nil, ErrDestroyed
	}

	p.mu.RLock()
	existing, ok := p.probes[name]
	p.mu.RUnlock()
	if ok {
		if !existing.sig.Equal(sig) || (desc != nil && *desc != existing.descriptor) {
			return nil, fmt.Errorf("probe %q %s: %w (registered as %s)", name, sig, ErrDuplicateName, existing.sig)
		}
		return existing, nil
	}

	descriptor, err := p.assignDescriptor(desc)
	if err != nil {
		return nil, fmt.Errorf("probe %q: %w", name, err)
	}
	handle, err := p.backend.RegisterProbe(p.handle, ProbeSpec{
		Provider:   p.name,
		Name:       name,
		Signature:  sig,
		Descriptor: descriptor,
	})
	if err != nil {
		return nil, fmt.Errorf("register probe %q: %w", name, err)
	}

	probe := &Probe{
		backend:    p.backend,
		handle:     handle,
		provider:   p,
		pool:       newSlotPool(len(sig)),
		name:       name,
		sig:        sig,
		descriptor: descriptor,
		poll:       !p.push,
	}
	if w, ok := p.backend.(EnableWorder); ok && !p.push {
		probe.word, probe.mask = w.EnableWord(handle)
	}

	p.mu.Lock()
	p.probes[name] = probe
	p.byHandle[handle] = probe
	p.mu.Unlock()

	probe.syncAttached()
	if p.State() == StateEnabled {
		// Backends fix their probe set at activation; re-activate so the
		// new probe becomes visible.
		if err := p.backend.Activate(p.handle); err != nil {
			p.logger.Warn().Err(err).Str("probe", name).Msg("re-activation after probe registration failed")
		}
		probe.active.Store(true)
		probe.syncAttached()
	}

	p.logger.Debug().
		Str("probe", name).
		Stringer("signature", sig).
		Str("fingerprint", fmt.Sprintf("%016x", sig.Fingerprint())).
		Uint16("event_id", descriptor.ID).
		Msg("probe created")
	return probe, nil
}

// assignDescriptor hands out the next unused event id, or honors an
// explicit descriptor and moves the counter past it. An explicit id already
// carried by another probe fails with ErrDuplicateName.
func (p *Provider) assignDescriptor(desc *EventDescriptor) (EventDescriptor, error) {
	p.mu.RLock()
	used := make(map[uint16]string, len(p.probes))
	for name, probe := range p.probes {
		used[probe.descriptor.ID] = name
	}
	p.mu.RUnlock()

	if desc != nil {
		if other, ok := used[desc.ID]; ok {
			return EventDescriptor{}, fmt.Errorf("%w: event id %d already used by %q", ErrDuplicateName, desc.ID, other)
		}
		if desc.ID >= p.nextID {
			p.nextID = desc.ID + 1
		}
		return *desc, nil
	}

	for range len(used) + 2 {
		id := p.nextID
		p.nextID++
		if _, ok := used[id]; !ok && id != 0 {
			return EventDescriptor{ID: id}, nil
		}
	}
	return EventDescriptor{}, fmt.Errorf("%w: no free event id", ErrRegistrationFailed)
}

// RemoveProbe unregisters a probe. Later fires on it return ErrProbeRemoved.
func (p *Provider) RemoveProbe(name string) error {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()

	if p.State() == StateDestroyed {
		return ErrDestroyed
	}

	p.mu.Lock()
	probe, ok := p.probes[name]
	if ok {
		delete(p.probes, name)
		delete(p.byHandle, probe.handle)
	}
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoSuchProbe, name)
	}

	probe.removed.Store(true)
	probe.active.Store(false)
	p.backend.UnregisterProbe(probe.handle)
	p.logger.Debug().Str("probe", name).Msg("probe removed")
	return nil
}

// Probe looks up a probe by name.
func (p *Provider) Probe(name string) (*Probe, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	probe, ok := p.probes[name]
	return probe, ok
}

// Probes returns the declared probe names in sorted order.
func (p *Provider) Probes() []string {
	p.mu.RLock()
	names := make([]string, 0, len(p.probes))
	for name := range p.probes {
		names = append(names, name)
	}
	p.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Fire fires the named probe.
func (p *Provider) Fire(name string, producer Producer) error {
	probe, ok := p.Probe(name)
	if !ok {
		if p.State() == StateDestroyed {
			return ErrDestroyed
		}
		return fmt.Errorf("%w: %q", ErrNoSuchProbe, name)
	}
	return probe.Fire(producer)
}

// Enable activates the provider and all of its probes. Calling it again
// while enabled is a no-op.
func (p *Provider) Enable() error {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()

	switch p.State() {
	case StateDestroyed:
		return ErrDestroyed
	case StateEnabled:
		return nil
	}

	if err := p.backend.Activate(p.handle); err != nil {
		return fmt.Errorf("activate provider %q: %w", p.name, err)
	}
	p.state.Store(int32(StateEnabled))

	for _, probe := range p.snapshot() {
		probe.active.Store(true)
		probe.syncAttached()
	}

	p.logger.Debug().Msg("provider enabled")
	return nil
}

// Disable suspends firing for all probes. Probes are retained. Disabling a
// provider that is not enabled is a no-op.
func (p *Provider) Disable() error {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()

	switch p.State() {
	case StateDestroyed:
		return ErrDestroyed
	case StateCreated, StateDisabled:
		return nil
	}

	p.state.Store(int32(StateDisabled))
	for _, probe := range p.snapshot() {
		probe.active.Store(false)
	}

	if err := p.backend.Deactivate(p.handle); err != nil {
		return fmt.Errorf("deactivate provider %q: %w", p.name, err)
	}

	p.logger.Debug().Msg("provider disabled")
	return nil
}

// Close releases every backend registration the provider holds.
// Safe to call multiple times - subsequent calls are no-ops.
func (p *Provider) Close() error {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()

	if p.State() == StateDestroyed {
		return nil
	}
	p.state.Store(int32(StateDestroyed))

	p.mu.Lock()
	probes := p.probes
	p.probes = make(map[string]*Probe)
	p.byHandle = make(map[ProbeHandle]*Probe)
	p.mu.Unlock()

	for _, probe := range probes {
		probe.active.Store(false)
		probe.removed.Store(true)
		p.backend.UnregisterProbe(probe.handle)
	}
	if err := p.backend.Deactivate(p.handle); err != nil {
		p.logger.Warn().Err(err).Msg("deactivate on close failed")
	}
	p.backend.UnregisterProvider(p.handle)

	p.logger.Debug().Int("probes", len(probes)).Msg("provider closed")
	return nil
}

// onEnableChanged is the Notifier callback. It may run on any goroutine,
// including one owned by the tracing facility.
func (p *Provider) onEnableChanged(handle ProbeHandle, _ bool) {
	p.mu.RLock()
	probe, ok := p.byHandle[handle]
	p.mu.RUnlock()
	if !ok {
		return
	}
	probe.syncAttached()
}

func (p *Provider) snapshot() []*Probe {
	p.mu.RLock()
	defer p.mu.RUnlock()
	probes := make([]*Probe, 0, len(p.probes))
	for _, probe := range p.probes {
		probes = append(probes, probe)
	}
	return probes
}
