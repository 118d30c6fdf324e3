package probez

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zoobzio/clockz"
)

// RecordHandler is called for every record a Session observes.
type RecordHandler func(rec Record)

type handlerEntry struct {
	handler RecordHandler
	id      uint64
	async   bool
}

// Wildcard matches any provider or probe name in Attach and Detach.
const Wildcard = "*"

// Session is an in-process tracing consumer. It implements Backend and
// Notifier so providers can bind to it directly, and it plays the role of
// the external tracer: Attach and Detach flip probe enablement the way a
// tracing session attaching to a process would.
//
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for functionality over memory
type Session struct {
	collector    *Collector
	clock        clockz.Clock
	handlers     []handlerEntry
	panicHook    func(handlerID uint64, r interface{})
	workers      *workerPool
	providers    map[ProviderHandle]*sessionProvider
	probes       map[ProbeHandle]*sessionProbe
	patterns     []attachPattern
	handlersLock sync.RWMutex
	mu           sync.RWMutex
	nextHandle   atomic.Uint64
	nextID       atomic.Uint64
	seq          atomic.Uint64
	dropped      atomic.Uint64
}

type sessionProvider struct {
	watch  EnableFunc
	probes map[ProbeHandle]*sessionProbe
	spec   ProviderSpec
	active bool
}

type sessionProbe struct {
	provider *sessionProvider
	spec     ProbeSpec
	handle   ProbeHandle
	attached bool
	enabled  atomic.Bool
}

type attachPattern struct {
	provider string
	probe    string
}

func (a attachPattern) matches(provider ProviderSpec, probe string) bool {
	providerOK := a.provider == Wildcard || a.provider == provider.Name || a.provider == provider.Identity.String()
	probeOK := a.probe == Wildcard || a.probe == probe
	return providerOK && probeOK
}

type notification struct {
	fn      EnableFunc
	handle  ProbeHandle
	enabled bool
}

// DefaultSessionBuffer is the intake channel size of a Session's collector.
const DefaultSessionBuffer = 1024

// NewSession creates a session with an unbounded record buffer.
// Uses the real clock for record timestamps.
func NewSession() *Session {
	return &Session{
		collector: NewCollector(DefaultSessionBuffer, 0),
		clock:     clockz.RealClock,
		handlers:  make([]handlerEntry, 0),
		providers: make(map[ProviderHandle]*sessionProvider),
		probes:    make(map[ProbeHandle]*sessionProbe),
	}
}

// WithClock sets the clock used for record timestamps.
// Enables clock injection for deterministic testing.
func (s *Session) WithClock(clock clockz.Clock) *Session {
	s.clock = clock
	return s
}

// Name implements Backend.
func (*Session) Name() string { return "session" }

// Collector returns the buffer records are collected into.
func (s *Session) Collector() *Collector {
	return s.collector
}

// SetSyncMode makes record collection synchronous for deterministic tests.
func (s *Session) SetSyncMode(sync bool) {
	s.collector.SetSyncMode(sync)
}

// Export returns all collected records and clears the buffer.
func (s *Session) Export() []Record {
	return s.collector.Export()
}

// Attach starts consuming probes matching the given provider and probe
// names. The provider may be named by name or by identity string, and
// either may be Wildcard. Probes registered later that match are attached
// on registration.
func (s *Session) Attach(provider, probe string) {
	pattern := attachPattern{provider: provider, probe: probe}

	s.mu.Lock()
	exists := false
	for _, p := range s.patterns {
		if p == pattern {
			exists = true
			break
		}
	}
	if !exists {
		s.patterns = append(s.patterns, pattern)
	}
	notes := s.recomputeAllLocked()
	s.mu.Unlock()

	deliver(notes)
}

// AttachAll consumes every probe of every provider.
func (s *Session) AttachAll() {
	s.Attach(Wildcard, Wildcard)
}

// Detach removes an attachment previously made with the same arguments.
func (s *Session) Detach(provider, probe string) {
	pattern := attachPattern{provider: provider, probe: probe}

	s.mu.Lock()
	kept := s.patterns[:0]
	for _, p := range s.patterns {
		if p != pattern {
			kept = append(kept, p)
		}
	}
	s.patterns = kept
	notes := s.recomputeAllLocked()
	s.mu.Unlock()

	deliver(notes)
}

// DetachAll removes every attachment.
func (s *Session) DetachAll() {
	s.mu.Lock()
	s.patterns = nil
	notes := s.recomputeAllLocked()
	s.mu.Unlock()

	deliver(notes)
}

// RegisterProvider implements Backend.
func (s *Session) RegisterProvider(spec ProviderSpec) (ProviderHandle, error) {
	h := ProviderHandle(s.nextHandle.Add(1))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[h] = &sessionProvider{
		spec:   spec,
		probes: make(map[ProbeHandle]*sessionProbe),
	}
	return h, nil
}

// Watch implements Notifier.
func (s *Session) Watch(provider ProviderHandle, fn EnableFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sp, ok := s.providers[provider]; ok {
		sp.watch = fn
	}
}

// RegisterProbe implements Backend.
func (s *Session) RegisterProbe(provider ProviderHandle, spec ProbeSpec) (ProbeHandle, error) {
	if len(spec.Signature) > MaxArgs {
		return 0, fmt.Errorf("%w: %d", ErrTooManyArgs, len(spec.Signature))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.providers[provider]
	if !ok {
		return 0, fmt.Errorf("%w: unknown provider handle %d", ErrRegistrationFailed, provider)
	}
	for _, existing := range sp.probes {
		if existing.spec.Name == spec.Name {
			return 0, fmt.Errorf("%w: %q", ErrDuplicateName, spec.Name)
		}
	}

	h := ProbeHandle(s.nextHandle.Add(1))
	probe := &sessionProbe{
		provider: sp,
		spec:     spec,
		handle:   h,
		attached: s.matchesLocked(sp.spec, spec.Name),
	}
	probe.enabled.Store(sp.active && probe.attached)
	sp.probes[h] = probe
	s.probes[h] = probe
	return h, nil
}

// Activate implements Backend.
func (s *Session) Activate(provider ProviderHandle) error {
	return s.setActive(provider, true)
}

// Deactivate implements Backend.
func (s *Session) Deactivate(provider ProviderHandle) error {
	return s.setActive(provider, false)
}

func (s *Session) setActive(provider ProviderHandle, active bool) error {
	s.mu.Lock()
	sp, ok := s.providers[provider]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: unknown provider handle %d", ErrRegistrationFailed, provider)
	}
	sp.active = active
	var notes []notification
	for _, probe := range sp.probes {
		if n, changed := probe.recompute(); changed {
			notes = append(notes, n)
		}
	}
	s.mu.Unlock()

	deliver(notes)
	return nil
}

// IsEnabled implements Backend.
func (s *Session) IsEnabled(probe ProbeHandle) bool {
	s.mu.RLock()
	sp, ok := s.probes[probe]
	s.mu.RUnlock()
	return ok && sp.enabled.Load()
}

// Record implements Backend.
func (s *Session) Record(probe ProbeHandle, slots []Slot) {
	s.mu.RLock()
	sp, ok := s.probes[probe]
	s.mu.RUnlock()
	if !ok || !sp.enabled.Load() {
		s.dropped.Add(1)
		return
	}

	rec := Record{
		Time:       s.clock.Now(),
		Slots:      slots,
		Provider:   sp.provider.spec.Name,
		Module:     sp.provider.spec.Module,
		Probe:      sp.spec.Name,
		Identity:   sp.provider.spec.Identity,
		Seq:        s.seq.Add(1),
		Descriptor: sp.spec.Descriptor,
	}

	s.collector.Collect(rec)
	s.executeHandlers(rec)
}

// UnregisterProbe implements Backend.
func (s *Session) UnregisterProbe(probe ProbeHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sp, ok := s.probes[probe]; ok {
		delete(sp.provider.probes, probe)
		delete(s.probes, probe)
	}
}

// UnregisterProvider implements Backend.
func (s *Session) UnregisterProvider(provider ProviderHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp, ok := s.providers[provider]
	if !ok {
		return
	}
	for h := range sp.probes {
		delete(s.probes, h)
	}
	delete(s.providers, provider)
}

// Registered reports how many providers and probes are currently registered.
func (s *Session) Registered() (providers, probes int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.providers), len(s.probes)
}

func (s *Session) matchesLocked(provider ProviderSpec, probe string) bool {
	for _, p := range s.patterns {
		if p.matches(provider, probe) {
			return true
		}
	}
	return false
}

func (s *Session) recomputeAllLocked() []notification {
	var notes []notification
	for _, probe := range s.probes {
		probe.attached = s.matchesLocked(probe.provider.spec, probe.spec.Name)
		if n, changed := probe.recompute(); changed {
			notes = append(notes, n)
		}
	}
	return notes
}

// recompute updates the effective state; the caller holds the session lock.
func (p *sessionProbe) recompute() (notification, bool) {
	enabled := p.provider.active && p.attached
	if p.enabled.Swap(enabled) == enabled {
		return notification{}, false
	}
	return notification{fn: p.provider.watch, handle: p.handle, enabled: enabled}, true
}

// deliver runs watch callbacks outside the session lock.
func deliver(notes []notification) {
	for _, n := range notes {
		if n.fn != nil {
			n.fn(n.handle, n.enabled)
		}
	}
}

// OnRecord registers a synchronous handler called for every record.
func (s *Session) OnRecord(handler RecordHandler) uint64 {
	return s.registerHandler(handler, false)
}

// OnRecordAsync registers an asynchronous handler called for every record.
func (s *Session) OnRecordAsync(handler RecordHandler) uint64 {
	return s.registerHandler(handler, true)
}

func (s *Session) registerHandler(handler RecordHandler, async bool) uint64 {
	if handler == nil {
		return 0
	}

	id := s.nextID.Add(1)

	s.handlersLock.Lock()
	defer s.handlersLock.Unlock()

	s.handlers = append(s.handlers, handlerEntry{
		id:      id,
		handler: handler,
		async:   async,
	})

	return id
}

// RemoveHandler removes a handler by ID.
func (s *Session) RemoveHandler(id uint64) {
	s.handlersLock.Lock()
	defer s.handlersLock.Unlock()

	for i, h := range s.handlers {
		if h.id == id {
			copy(s.handlers[i:], s.handlers[i+1:])
			s.handlers = s.handlers[:len(s.handlers)-1]
			return
		}
	}
}

// SetPanicHook sets a function to be called when a handler panics.
func (s *Session) SetPanicHook(hook func(handlerID uint64, r interface{})) {
	s.handlersLock.Lock()
	defer s.handlersLock.Unlock()
	s.panicHook = hook
}

// executeHandlers calls all registered handlers with the record.
func (s *Session) executeHandlers(rec Record) {
	s.handlersLock.RLock()
	if len(s.handlers) == 0 {
		s.handlersLock.RUnlock()
		return
	}

	handlers := make([]handlerEntry, len(s.handlers))
	copy(handlers, s.handlers)
	workers := s.workers
	s.handlersLock.RUnlock()

	// Slots belong to the firing probe; handlers get their own copy.
	rec = rec.clone()

	for _, h := range handlers {
		if h.async {
			entry := h
			if workers != nil {
				workers.submit(func() {
					s.safeCall(entry, rec)
				})
			} else {
				go s.safeCall(entry, rec)
			}
		} else {
			s.safeCall(h, rec)
		}
	}
}

func (s *Session) safeCall(entry handlerEntry, rec Record) {
	defer func() {
		if r := recover(); r != nil {
			s.handlersLock.RLock()
			hook := s.panicHook
			s.handlersLock.RUnlock()
			if hook != nil {
				hook(entry.id, r)
			}
		}
	}()
	entry.handler(rec)
}

// EnableWorkerPool creates a bounded worker pool for async handlers.
func (s *Session) EnableWorkerPool(workers, queueSize int) error {
	if workers <= 0 {
		return errors.New("workers must be > 0")
	}
	if queueSize <= 0 {
		return errors.New("queueSize must be > 0")
	}

	s.handlersLock.Lock()
	defer s.handlersLock.Unlock()

	if s.workers != nil {
		return errors.New("worker pool already enabled")
	}

	s.workers = &workerPool{
		tasks:   make(chan func(), queueSize),
		stop:    make(chan struct{}),
		dropped: &s.dropped,
	}

	s.workers.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go s.workers.run()
	}

	return nil
}

// DroppedRecords returns the number of records dropped because the probe
// was not enabled at record time or the async handler queue was full.
func (s *Session) DroppedRecords() uint64 {
	return s.dropped.Load()
}

// Close shuts down the session gracefully and cleans up resources.
func (s *Session) Close() {
	s.handlersLock.Lock()
	s.handlers = nil
	workers := s.workers
	s.workers = nil
	s.handlersLock.Unlock()

	if workers != nil {
		workers.shutdown()
	}
	s.collector.Close()
}

// workerPool manages a fixed number of workers for processing async handlers.
//
//nolint:govet // Field order optimized for functionality over memory
type workerPool struct {
	tasks   chan func()
	stop    chan struct{}
	dropped *atomic.Uint64
	wg      sync.WaitGroup
}

func (w *workerPool) run() {
	defer w.wg.Done()
	for {
		select {
		case task := <-w.tasks:
			task()
		case <-w.stop:
			return
		}
	}
}

func (w *workerPool) submit(task func()) {
	select {
	case w.tasks <- task:
	default:
		w.dropped.Add(1)
	}
}

func (w *workerPool) shutdown() {
	close(w.stop)
	w.wg.Wait()
}
