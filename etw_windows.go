//go:build windows && (amd64 || arm64)

package probez

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	advapi32            = windows.NewLazySystemDLL("advapi32.dll")
	procEventRegister   = advapi32.NewProc("EventRegister")
	procEventUnregister = advapi32.NewProc("EventUnregister")
	procEventWrite      = advapi32.NewProc("EventWrite")
)

// ETW enable callback control codes.
const (
	etwControlDisable = 0
	etwControlEnable  = 1
)

// eventDescriptor mirrors EVENT_DESCRIPTOR.
type eventDescriptor struct {
	id      uint16
	version uint8
	channel uint8
	level   uint8
	opcode  uint8
	task    uint16
	keyword uint64
}

// eventDataDescriptor mirrors EVENT_DATA_DESCRIPTOR.
type eventDataDescriptor struct {
	ptr      uint64
	size     uint32
	reserved uint32
}

// ETWBackend registers providers with Event Tracing for Windows. ETW pushes
// session changes through the provider enable callback, so the backend
// implements Notifier.
//
//nolint:govet // Field order optimized for readability
type ETWBackend struct {
	providers map[ProviderHandle]*etwProvider
	probes    map[ProbeHandle]*etwProbe
	mu        sync.RWMutex
}

type etwProvider struct {
	watch     EnableFunc
	spec      ProviderSpec
	guid      windows.GUID
	regHandle uint64
	enabled   bool
	level     uint8
	anyMask   uint64
	allMask   uint64
	probes    map[ProbeHandle]*etwProbe
}

type etwProbe struct {
	provider *etwProvider
	desc     eventDescriptor
	handle   ProbeHandle
	enabled  atomic.Bool
}

var (
	etwCallbackOnce sync.Once
	etwCallback     uintptr
	etwRegistry     sync.Map // ProviderHandle -> *ETWBackend
	// etwHandles numbers providers and probes across every ETWBackend so
	// the callback context resolves to exactly one backend.
	etwHandles atomic.Uint64
)

func platformBackend() (Backend, error) {
	return OpenETW()
}

// OpenETW returns an ETW backend, or ErrPlatformUnsupported when advapi32
// does not export the manifest-based event API.
func OpenETW() (*ETWBackend, error) {
	if err := procEventRegister.Find(); err != nil {
		return nil, fmt.Errorf("%w: etw: %v", ErrPlatformUnsupported, err)
	}
	etwCallbackOnce.Do(func() {
		etwCallback = windows.NewCallback(etwEnableCallback)
	})
	return &ETWBackend{
		providers: make(map[ProviderHandle]*etwProvider),
		probes:    make(map[ProbeHandle]*etwProbe),
	}, nil
}

// Name implements Backend.
func (*ETWBackend) Name() string { return BackendETW }

// RegisterProvider implements Backend.
func (e *ETWBackend) RegisterProvider(spec ProviderSpec) (ProviderHandle, error) {
	guid, err := windows.GUIDFromString("{" + spec.Identity.String() + "}")
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}

	h := ProviderHandle(etwHandles.Add(1))
	p := &etwProvider{
		spec:   spec,
		guid:   guid,
		probes: make(map[ProbeHandle]*etwProbe),
	}

	e.mu.Lock()
	e.providers[h] = p
	e.mu.Unlock()
	etwRegistry.Store(h, e)

	// EventRegister may invoke the callback before it returns.
	r, _, _ := procEventRegister.Call(
		uintptr(unsafe.Pointer(&p.guid)),
		etwCallback,
		uintptr(h),
		uintptr(unsafe.Pointer(&p.regHandle)),
	)
	if r != 0 {
		etwRegistry.Delete(h)
		e.mu.Lock()
		delete(e.providers, h)
		e.mu.Unlock()
		return 0, fmt.Errorf("%w: EventRegister: %v", ErrRegistrationFailed, windows.Errno(r))
	}
	return h, nil
}

// Watch implements Notifier.
func (e *ETWBackend) Watch(provider ProviderHandle, fn EnableFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.providers[provider]; ok {
		p.watch = fn
	}
}

// RegisterProbe implements Backend. ETW events need no registration beyond
// their descriptor.
func (e *ETWBackend) RegisterProbe(provider ProviderHandle, spec ProbeSpec) (ProbeHandle, error) {
	if len(spec.Signature) > MaxArgs {
		return 0, fmt.Errorf("%w: %d", ErrTooManyArgs, len(spec.Signature))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.providers[provider]
	if !ok {
		return 0, fmt.Errorf("%w: unknown provider handle %d", ErrRegistrationFailed, provider)
	}
	for _, existing := range p.probes {
		if existing.desc.id == spec.Descriptor.ID {
			return 0, fmt.Errorf("%w: event id %d", ErrDuplicateName, spec.Descriptor.ID)
		}
	}

	d := spec.Descriptor
	h := ProbeHandle(etwHandles.Add(1))
	probe := &etwProbe{
		provider: p,
		handle:   h,
		desc: eventDescriptor{
			id:      d.ID,
			version: d.Version,
			channel: d.Channel,
			level:   d.Level,
			opcode:  d.Opcode,
			task:    d.Task,
			keyword: d.Keyword,
		},
	}
	probe.enabled.Store(p.admits(probe.desc))
	p.probes[h] = probe
	e.probes[h] = probe
	return h, nil
}

// admits applies the session's level and keyword filters.
func (p *etwProvider) admits(d eventDescriptor) bool {
	if !p.enabled {
		return false
	}
	if p.level != 0 && d.level > p.level {
		return false
	}
	if d.keyword == 0 {
		return true
	}
	if p.anyMask != 0 && d.keyword&p.anyMask == 0 {
		return false
	}
	return d.keyword&p.allMask == p.allMask
}

// Activate implements Backend. Providers are live from EventRegister.
func (*ETWBackend) Activate(ProviderHandle) error { return nil }

// Deactivate implements Backend.
func (*ETWBackend) Deactivate(ProviderHandle) error { return nil }

// IsEnabled implements Backend.
func (e *ETWBackend) IsEnabled(probe ProbeHandle) bool {
	e.mu.RLock()
	p, ok := e.probes[probe]
	e.mu.RUnlock()
	return ok && p.enabled.Load()
}

// Record implements Backend.
func (e *ETWBackend) Record(probe ProbeHandle, slots []Slot) {
	e.mu.RLock()
	p, ok := e.probes[probe]
	e.mu.RUnlock()
	if !ok {
		return
	}

	size := 0
	for _, s := range slots {
		size += s.WireSize()
	}
	buf := make([]byte, 0, size)
	data := make([]eventDataDescriptor, len(slots))
	for i, s := range slots {
		off := len(buf)
		buf = s.AppendWire(buf)
		data[i].size = uint32(len(buf) - off)
	}
	off := 0
	for i := range data {
		if data[i].size > 0 {
			data[i].ptr = uint64(uintptr(unsafe.Pointer(&buf[off])))
		}
		off += int(data[i].size)
	}

	var dataPtr uintptr
	if len(data) > 0 {
		dataPtr = uintptr(unsafe.Pointer(&data[0]))
	}
	// Best-effort: ETW drops events on full session buffers.
	_, _, _ = procEventWrite.Call(
		uintptr(p.provider.regHandle),
		uintptr(unsafe.Pointer(&p.desc)),
		uintptr(len(data)),
		dataPtr,
	)
	runtime.KeepAlive(buf)
	runtime.KeepAlive(data)
}

// UnregisterProbe implements Backend.
func (e *ETWBackend) UnregisterProbe(probe ProbeHandle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.probes[probe]; ok {
		delete(p.provider.probes, probe)
		delete(e.probes, probe)
	}
}

// UnregisterProvider implements Backend.
func (e *ETWBackend) UnregisterProvider(provider ProviderHandle) {
	e.mu.Lock()
	p, ok := e.providers[provider]
	if ok {
		for h := range p.probes {
			delete(e.probes, h)
		}
		delete(e.providers, provider)
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	_, _, _ = procEventUnregister.Call(uintptr(p.regHandle))
	etwRegistry.Delete(provider)
}

// etwEnableCallback receives ETW session changes for every provider this
// process registers. The callback context carries the ProviderHandle.
func etwEnableCallback(_ uintptr, control uintptr, level uintptr, anyKeyword uintptr, allKeyword uintptr, _ uintptr, ctx uintptr) uintptr {
	v, ok := etwRegistry.Load(ProviderHandle(ctx))
	if !ok {
		return 0
	}
	v.(*ETWBackend).onControl(ProviderHandle(ctx), uint32(control), uint8(level), uint64(anyKeyword), uint64(allKeyword))
	return 0
}

func (e *ETWBackend) onControl(h ProviderHandle, control uint32, level uint8, anyKeyword, allKeyword uint64) {
	e.mu.Lock()
	p, ok := e.providers[h]
	if !ok {
		e.mu.Unlock()
		return
	}
	switch control {
	case etwControlEnable:
		p.enabled = true
		p.level = level
		p.anyMask = anyKeyword
		p.allMask = allKeyword
	case etwControlDisable:
		p.enabled = false
	default:
		// Capture-state requests need no enablement change.
		e.mu.Unlock()
		return
	}

	var notes []notification
	for _, probe := range p.probes {
		enabled := p.admits(probe.desc)
		if probe.enabled.Swap(enabled) != enabled {
			notes = append(notes, notification{fn: p.watch, handle: probe.handle, enabled: enabled})
		}
	}
	e.mu.Unlock()

	deliver(notes)
}
