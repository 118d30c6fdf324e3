// Package probez provides statically-typed tracing probes that cost nothing
// when no tracer is listening.
//
// probez lets a process declare named trace points with typed argument
// signatures and fire them into the host's tracing facility (Linux
// user_events, Windows ETW) or into an in-process Session. The fire path
// checks enablement first and only then asks for the argument values.
//
// Core Components:
//   - Provider: Owns a named set of probes and their backend registration.
//   - Probe: A named trace point with a fixed, typed signature.
//   - Backend: The narrow adapter to the platform tracing mechanism.
//   - Session: An in-process consumer that records fired probes.
//
// Basic Usage:
//
//	provider, err := probez.NewProvider("app")
//	if err != nil {
//		return err
//	}
//	defer provider.Close()
//
//	req, err := provider.CreateProbe("req", "uint32", "char *")
//	if err != nil {
//		return err
//	}
//	provider.Enable()
//
//	// The producer only runs when a tracer is attached.
//	req.Fire(func() []probez.Value {
//		return probez.Args(probez.Uint(200), probez.Str("ok"))
//	})
//
// Thread Safety:
//
// Probe.Fire is safe for concurrent use. On the platform backends a
// disabled fire is two atomic loads and takes no locks. Provider
// registration, enable and disable may run concurrently with firing.
//
// Platform Support:
//
// On platforms without a supported tracing facility the default backend is a
// no-op: registration succeeds, probes never report enabled and producers are
// never invoked.
package probez

// MaxArgs is the largest argument count any probe may declare.
const MaxArgs = 32

// Producer computes the argument values for one firing.
// It is only called when the probe is enabled.
type Producer func() []Value

// Args is a convenience for building a Producer's return value.
func Args(values ...Value) []Value {
	return values
}
