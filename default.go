package probez

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Backend kinds accepted by OpenBackend and the PROBEZ_BACKEND variable.
const (
	BackendAuto       = "auto"
	BackendNoop       = "noop"
	BackendUserEvents = "userevents"
	BackendETW        = "etw"
)

// EnvBackend overrides the configured backend kind.
const EnvBackend = "PROBEZ_BACKEND"

var (
	defaultOnce    sync.Once
	defaultMu      sync.RWMutex
	defaultBackend Backend
	defaultKind    = BackendAuto
	defaultLogger  = zerolog.Nop()
)

// DefaultBackend returns the process-wide backend, selecting it on first
// use. Selection happens once; later calls return the same backend.
func DefaultBackend() Backend {
	defaultOnce.Do(func() {
		defaultMu.Lock()
		defer defaultMu.Unlock()
		if defaultBackend != nil {
			return
		}

		kind := defaultKind
		if env := os.Getenv(EnvBackend); env != "" {
			kind = env
		}
		b, err := OpenBackend(kind)
		if err != nil {
			defaultLogger.Debug().Err(err).Str("kind", kind).Msg("using noop backend")
			b = NewNoopBackend()
		}
		defaultLogger.Debug().Str("backend", b.Name()).Msg("default backend selected")
		defaultBackend = b
	})

	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultBackend
}

// SetDefaultBackend installs b as the process-wide backend. It must be
// called before the first provider is created; afterwards it returns an
// error and leaves the existing backend in place.
func SetDefaultBackend(b Backend) error {
	if b == nil {
		return errors.New("backend is required")
	}
	installed := false
	defaultOnce.Do(func() {
		defaultMu.Lock()
		defaultBackend = b
		defaultMu.Unlock()
		installed = true
	})
	if !installed {
		return errors.New("default backend already selected")
	}
	return nil
}

// OpenBackend constructs a backend by kind. "auto" tries the platform
// facility and degrades to NoopBackend when it is missing.
func OpenBackend(kind string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", BackendAuto:
		b, err := platformBackend()
		if err != nil {
			if errors.Is(err, ErrPlatformUnsupported) {
				defaultLogger.Debug().Err(err).Msg("platform tracing unavailable")
				return NewNoopBackend(), nil
			}
			return nil, err
		}
		return b, nil
	case BackendNoop:
		return NewNoopBackend(), nil
	case BackendUserEvents, BackendETW:
		b, err := platformBackend()
		if err != nil {
			return nil, err
		}
		if b.Name() != strings.ToLower(strings.TrimSpace(kind)) {
			return nil, fmt.Errorf("%w: %s backend on this platform", ErrPlatformUnsupported, kind)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", kind)
	}
}

// Init applies process-wide settings from cfg: the logger used for backend
// selection and the backend kind. It has no effect on the backend once it
// has been selected.
func Init(cfg Config) zerolog.Logger {
	logger := NewLogger(cfg.Log)

	defaultMu.Lock()
	defaultLogger = logger
	if cfg.Backend != "" {
		defaultKind = cfg.Backend
	}
	defaultMu.Unlock()

	return logger
}
