//go:build linux

package probez

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// user_events ioctls from linux/user_events.h.
const (
	diagIOCSREG   = 0xC0082A00
	diagIOCSDEL   = 0x40082A01
	diagIOCSUNREG = 0x40082A02

	userRegSize   = 28
	userUnregSize = 16
	enableBit     = 0
	wordsPerPage  = 1024

	// relLocMax bounds both halves of a __rel_loc field.
	relLocMax = 0xffff
)

var errUserEventTooLarge = errors.New("user_events payload exceeds __rel_loc range")

var userEventsPaths = []string{
	"/sys/kernel/tracing/user_events_data",
	"/sys/kernel/debug/tracing/user_events_data",
}

// userReg mirrors the packed struct user_reg. Go pads the tail but the
// first userRegSize bytes line up with the kernel layout.
type userReg struct {
	size       uint32
	enableBit  uint8
	enableSize uint8
	flags      uint16
	enableAddr uint64
	nameArgs   uint64
	writeIndex uint32
}

type userUnreg struct {
	size        uint32
	disableBit  uint8
	reserved    uint8
	reserved2   uint16
	disableAddr uint64
}

// UserEventsBackend writes probes to the Linux user_events facility. The
// kernel flips a per-event enable word when a perf or ftrace session
// attaches, so the backend is polled rather than pushing notifications.
//
//nolint:govet // Field order optimized for readability
type UserEventsBackend struct {
	file      *os.File
	pages     [][]byte
	free      []*uint32
	providers map[ProviderHandle]ProviderSpec
	probes    map[ProbeHandle]*userEvent
	mu        sync.RWMutex
	next      atomic.Uint64
	bufs      sync.Pool
}

type userEvent struct {
	enable     *uint32
	name       string
	sig        Signature
	writeIndex uint32
	provider   ProviderHandle
}

func platformBackend() (Backend, error) {
	return OpenUserEvents()
}

// OpenUserEvents opens the tracefs user_events_data file. It fails with
// ErrPlatformUnsupported when the kernel lacks user_events or tracefs is
// not accessible.
func OpenUserEvents() (*UserEventsBackend, error) {
	var lastErr error
	for _, path := range userEventsPaths {
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if err == nil {
			return &UserEventsBackend{
				file:      f,
				providers: make(map[ProviderHandle]ProviderSpec),
				probes:    make(map[ProbeHandle]*userEvent),
				bufs: sync.Pool{New: func() any {
					b := make([]byte, 0, 256)
					return &b
				}},
			}, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: user_events: %v", ErrPlatformUnsupported, lastErr)
}

// Name implements Backend.
func (*UserEventsBackend) Name() string { return BackendUserEvents }

// RegisterProvider implements Backend.
func (u *UserEventsBackend) RegisterProvider(spec ProviderSpec) (ProviderHandle, error) {
	h := ProviderHandle(u.next.Add(1))
	u.mu.Lock()
	u.providers[h] = spec
	u.mu.Unlock()
	return h, nil
}

// RegisterProbe implements Backend. The kernel event is named
// <provider>_<probe> with fields arg0..argN.
func (u *UserEventsBackend) RegisterProbe(provider ProviderHandle, spec ProbeSpec) (ProbeHandle, error) {
	if len(spec.Signature) > MaxArgs {
		return 0, fmt.Errorf("%w: %d", ErrTooManyArgs, len(spec.Signature))
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	pspec, ok := u.providers[provider]
	if !ok {
		return 0, fmt.Errorf("%w: unknown provider handle %d", ErrRegistrationFailed, provider)
	}

	enable, err := u.allocWord()
	if err != nil {
		return 0, err
	}

	name := userEventName(pspec.Name, spec.Name)
	def := append([]byte(userEventFormat(name, spec.Signature)), 0)
	reg := userReg{
		size:       userRegSize,
		enableBit:  enableBit,
		enableSize: 4,
		enableAddr: uint64(uintptr(unsafe.Pointer(enable))),
		nameArgs:   uint64(uintptr(unsafe.Pointer(&def[0]))),
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, u.file.Fd(), diagIOCSREG, uintptr(unsafe.Pointer(&reg)))
	runtime.KeepAlive(def)
	if errno != 0 {
		u.free = append(u.free, enable)
		if errno == unix.EADDRINUSE {
			return 0, fmt.Errorf("%w: %s registered with other fields", ErrDuplicateName, name)
		}
		return 0, fmt.Errorf("%w: %s: %v", ErrRegistrationFailed, name, errno)
	}

	h := ProbeHandle(u.next.Add(1))
	u.probes[h] = &userEvent{
		enable:     enable,
		name:       name,
		sig:        spec.Signature,
		writeIndex: reg.writeIndex,
		provider:   provider,
	}
	return h, nil
}

// allocWord hands out an enable word from anonymous mapped memory, which
// the garbage collector never moves.
func (u *UserEventsBackend) allocWord() (*uint32, error) {
	if n := len(u.free); n > 0 {
		w := u.free[n-1]
		u.free = u.free[:n-1]
		return w, nil
	}
	page, err := unix.Mmap(-1, 0, wordsPerPage*4, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap enable page: %v", ErrRegistrationFailed, err)
	}
	u.pages = append(u.pages, page)
	base := unsafe.Pointer(&page[0])
	for i := wordsPerPage - 1; i > 0; i-- {
		u.free = append(u.free, (*uint32)(unsafe.Add(base, i*4)))
	}
	return (*uint32)(base), nil
}

// Activate implements Backend. Events are live from registration.
func (*UserEventsBackend) Activate(ProviderHandle) error { return nil }

// Deactivate implements Backend.
func (*UserEventsBackend) Deactivate(ProviderHandle) error { return nil }

// IsEnabled implements Backend by reading the kernel-written enable word.
func (u *UserEventsBackend) IsEnabled(probe ProbeHandle) bool {
	word, mask := u.EnableWord(probe)
	return word != nil && atomic.LoadUint32(word)&mask != 0
}

// EnableWord implements EnableWorder. The word stays valid until the probe
// is unregistered.
func (u *UserEventsBackend) EnableWord(probe ProbeHandle) (*uint32, uint32) {
	u.mu.RLock()
	ev, ok := u.probes[probe]
	u.mu.RUnlock()
	if !ok {
		return nil, 0
	}
	return ev.enable, 1 << enableBit
}

// Record implements Backend. Events whose string fields cannot be addressed
// by a __rel_loc are dropped.
func (u *UserEventsBackend) Record(probe ProbeHandle, slots []Slot) {
	u.mu.RLock()
	ev, ok := u.probes[probe]
	u.mu.RUnlock()
	if !ok {
		return
	}

	bp := u.bufs.Get().(*[]byte)
	buf := binary.LittleEndian.AppendUint32((*bp)[:0], ev.writeIndex)
	buf, err := encodeUserEvent(buf, slots)
	if err == nil {
		// Best-effort: a session detaching mid-write yields EBADF or EINVAL.
		_, _ = unix.Write(int(u.file.Fd()), buf)
	}
	*bp = buf
	u.bufs.Put(bp)
}

// UnregisterProbe implements Backend.
func (u *UserEventsBackend) UnregisterProbe(probe ProbeHandle) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if ev, ok := u.probes[probe]; ok {
		u.unregisterLocked(ev)
		delete(u.probes, probe)
	}
}

// UnregisterProvider implements Backend.
func (u *UserEventsBackend) UnregisterProvider(provider ProviderHandle) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for h, ev := range u.probes {
		if ev.provider == provider {
			u.unregisterLocked(ev)
			delete(u.probes, h)
		}
	}
	delete(u.providers, provider)
}

func (u *UserEventsBackend) unregisterLocked(ev *userEvent) {
	unreg := userUnreg{
		size:        userUnregSize,
		disableBit:  enableBit,
		disableAddr: uint64(uintptr(unsafe.Pointer(ev.enable))),
	}
	_, _, _ = unix.Syscall(unix.SYS_IOCTL, u.file.Fd(), diagIOCSUNREG, uintptr(unsafe.Pointer(&unreg)))

	// Deleting fails with EBUSY while another process or session still
	// references the event; the kernel then keeps it.
	name := append([]byte(ev.name), 0)
	_, _, _ = unix.Syscall(unix.SYS_IOCTL, u.file.Fd(), diagIOCSDEL, uintptr(unsafe.Pointer(&name[0])))
	runtime.KeepAlive(name)

	atomic.StoreUint32(ev.enable, 0)
	u.free = append(u.free, ev.enable)
}

// Close releases the tracefs file and enable pages. Providers bound to the
// backend must be closed first.
func (u *UserEventsBackend) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	for h, ev := range u.probes {
		u.unregisterLocked(ev)
		delete(u.probes, h)
	}
	var errs []error
	for _, page := range u.pages {
		if err := unix.Munmap(page); err != nil {
			errs = append(errs, err)
		}
	}
	u.pages = nil
	u.free = nil
	errs = append(errs, u.file.Close())
	return errors.Join(errs...)
}

// userEventName builds a kernel-safe event name.
func userEventName(provider, probe string) string {
	return symbolName(provider) + "_" + symbolName(probe)
}

// userEventFormat renders the user_events definition string, for example
// "app_req u32 arg0;__rel_loc char[] arg1".
func userEventFormat(name string, sig Signature) string {
	var b strings.Builder
	b.WriteString(name)
	for i, td := range sig {
		if i == 0 {
			b.WriteByte(' ')
		} else {
			b.WriteByte(';')
		}
		if td.IsText() {
			b.WriteString("__rel_loc ")
		}
		fmt.Fprintf(&b, "%s arg%d", td.CType(), i)
	}
	return b.String()
}

// encodeUserEvent appends the event payload: fixed-width fields in order,
// then the string bodies each __rel_loc field points at. Wide strings are
// written as UTF-8 since the field type is char[]. A __rel_loc carries a
// 16-bit size and a 16-bit offset, so a body of 64 KiB or more, or one
// starting past that range, fails with errUserEventTooLarge and leaves dst
// at its original length.
func encodeUserEvent(dst []byte, slots []Slot) ([]byte, error) {
	start := len(dst)
	fixed := 0
	for _, s := range slots {
		if s.Type.IsText() {
			fixed += 4
		} else {
			fixed += int(s.Type.Width)
		}
	}

	dynamic := fixed
	pos := 0
	for _, s := range slots {
		if !s.Type.IsText() {
			dst = appendInt(dst, s.Bits, s.Type.Width)
			pos += int(s.Type.Width)
			continue
		}
		size := len(s.Text) + 1
		// rel_loc offsets count from the end of the field itself.
		offset := dynamic - (pos + 4)
		if size > relLocMax || offset > relLocMax {
			return dst[:start], fmt.Errorf("%w: %d byte string at offset %d", errUserEventTooLarge, size, offset)
		}
		dst = binary.LittleEndian.AppendUint32(dst, uint32(size)<<16|uint32(offset))
		pos += 4
		dynamic += size
	}
	for _, s := range slots {
		if s.Type.IsText() {
			dst = append(dst, s.Text...)
			dst = append(dst, 0)
		}
	}
	return dst, nil
}
