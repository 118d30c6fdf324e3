package probez

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/process"
)

// IdentityScope controls what a derived provider identity is computed from.
type IdentityScope int

const (
	// ScopeNames derives identity from provider and module name only.
	// Same-named providers in different processes share an identity.
	ScopeNames IdentityScope = iota
	// ScopeProgram also mixes in the executable name. The identity is
	// stable across runs of the same program.
	ScopeProgram
	// ScopeInstance also mixes in the pid and process start time, giving
	// every running instance its own identity.
	ScopeInstance
)

func (s IdentityScope) String() string {
	switch s {
	case ScopeProgram:
		return "program"
	case ScopeInstance:
		return "instance"
	default:
		return "names"
	}
}

// ParseIdentityScope parses "names", "program" or "instance".
func ParseIdentityScope(s string) (IdentityScope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "names":
		return ScopeNames, nil
	case "program":
		return ScopeProgram, nil
	case "instance":
		return ScopeInstance, nil
	default:
		return ScopeNames, fmt.Errorf("unknown identity scope %q", s)
	}
}

// identityNamespace roots every derived provider identity.
var identityNamespace = uuid.MustParse("5c1d3f0e-8a7b-5e42-9f61-7b0c2d4e6a18")

// DeriveIdentity computes a deterministic provider identity.
func DeriveIdentity(name, module string, scope IdentityScope) (uuid.UUID, error) {
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte(0)
	b.WriteString(module)

	if scope >= ScopeProgram {
		proc, err := currentProcess()
		if err != nil {
			return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
		}
		b.WriteByte(0)
		b.WriteString(proc.program)
		if scope == ScopeInstance {
			b.WriteByte(0)
			b.WriteString(strconv.Itoa(proc.pid))
			b.WriteByte(0)
			b.WriteString(strconv.FormatInt(proc.started, 10))
		}
	}
	return uuid.NewSHA1(identityNamespace, []byte(b.String())), nil
}

// ParseIdentity parses an explicit identity in any of the usual GUID forms,
// including the braced form ETW tooling prints.
func ParseIdentity(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	return id, nil
}

type processInfo struct {
	program string
	pid     int
	started int64
}

// currentProcess reads the facts identity scopes mix in.
func currentProcess() (processInfo, error) {
	pid := os.Getpid()
	info := processInfo{pid: pid}

	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return info, err
	}
	if name, err := p.Name(); err == nil && name != "" {
		info.program = name
	} else {
		info.program = filepath.Base(os.Args[0])
	}
	if started, err := p.CreateTime(); err == nil {
		info.started = started
	}
	return info, nil
}
