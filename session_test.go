package probez

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

func newSessionProvider(t *testing.T, session *Session, name string, opts ...Option) *Provider {
	t.Helper()
	p, err := NewProvider(name, append([]Option{WithBackend(session)}, opts...)...)
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestSessionAttachDetach(t *testing.T) {
	session := NewSession()
	session.SetSyncMode(true)
	defer session.Close()

	p := newSessionProvider(t, session, "app")
	probe, err := p.CreateProbe("req", "uint32", "char *")
	if err != nil {
		t.Fatalf("CreateProbe failed: %v", err)
	}
	if err := p.Enable(); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}

	if probe.Enabled() {
		t.Error("Probe should not be enabled before the session attaches")
	}

	session.Attach("app", "req")
	if !probe.Enabled() {
		t.Fatal("Probe should be enabled after Attach")
	}

	if err := probe.Fire(func() []Value { return Args(Uint(200), Str("ok")) }); err != nil {
		t.Fatalf("Fire failed: %v", err)
	}

	session.Detach("app", "req")
	if probe.Enabled() {
		t.Error("Probe should be disabled after Detach")
	}

	called := false
	_ = probe.Fire(func() []Value { called = true; return nil })
	if called {
		t.Error("Producer ran after Detach")
	}

	records := session.Export()
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec.Provider != "app" || rec.Probe != "req" {
		t.Errorf("Unexpected record origin %s.%s", rec.Provider, rec.Probe)
	}
	if rec.Uint(0) != 200 || rec.Text(1) != "ok" {
		t.Errorf("Expected (200, ok), got (%d, %s)", rec.Uint(0), rec.Text(1))
	}
	if rec.Identity != p.Identity() {
		t.Errorf("Expected identity %s, got %s", p.Identity(), rec.Identity)
	}
}

func TestSessionAttachBeforeRegistration(t *testing.T) {
	session := NewSession()
	defer session.Close()
	session.AttachAll()

	p := newSessionProvider(t, session, "app")
	probe, _ := p.CreateProbe("req", "int")
	if probe.Enabled() {
		t.Error("Attachment alone must not enable a probe of a disabled provider")
	}

	_ = p.Enable()
	if !probe.Enabled() {
		t.Error("Probe should be enabled once the provider is enabled")
	}

	late, _ := p.CreateProbe("late", "int")
	if !late.Enabled() {
		t.Error("Wildcard attachment should cover probes registered later")
	}

	_ = p.Disable()
	if probe.Enabled() || late.Enabled() {
		t.Error("Disable should turn off every probe")
	}
}

func TestSessionProviderDisableStopsRecords(t *testing.T) {
	session := NewSession()
	session.SetSyncMode(true)
	defer session.Close()
	session.AttachAll()

	p := newSessionProvider(t, session, "app")
	probe, _ := p.CreateProbe("req", "uint32", "char *")
	_ = p.Enable()

	_ = probe.Fire(func() []Value { return Args(Uint(200), Str("ok")) })
	_ = p.Disable()
	_ = probe.Fire(func() []Value { return Args(Uint(201), Str("late")) })

	if n := len(session.Export()); n != 1 {
		t.Errorf("Expected 1 record, got %d", n)
	}
}

func TestSessionMultiProvider(t *testing.T) {
	session := NewSession()
	session.SetSyncMode(true)
	defer session.Close()

	a := newSessionProvider(t, session, "alpha")
	b := newSessionProvider(t, session, "beta")
	pa, _ := a.CreateProbe("probe1", "int")
	pb, _ := b.CreateProbe("probe1", "char *")
	_ = a.Enable()
	_ = b.Enable()

	session.Attach("alpha", "probe1")
	if !pa.Enabled() || pb.Enabled() {
		t.Fatalf("Attach should only reach alpha: a=%v b=%v", pa.Enabled(), pb.Enabled())
	}

	session.Attach(b.Identity().String(), Wildcard)
	if !pb.Enabled() {
		t.Fatal("Attach by identity should reach beta")
	}

	_ = pa.Fire(func() []Value { return Args(Int(1)) })
	_ = pb.Fire(func() []Value { return Args(Str("b")) })
	_ = b.Disable()
	_ = pa.Fire(func() []Value { return Args(Int(2)) })

	records := session.Export()
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}
	counts := map[string]int{}
	for _, rec := range records {
		counts[rec.Provider]++
		if rec.Provider == "alpha" && rec.Slots[0].Type.Kind != KindSigned {
			t.Errorf("alpha record carries beta's signature: %+v", rec.Slots)
		}
		if rec.Provider == "beta" && rec.Text(0) != "b" {
			t.Errorf("beta record carries alpha's data: %+v", rec.Slots)
		}
	}
	if counts["alpha"] != 2 || counts["beta"] != 1 {
		t.Errorf("Unexpected per-provider counts %v", counts)
	}
}

func TestSessionTimestampsAndSequence(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := clockz.NewFakeClockAt(start)
	session := NewSession().WithClock(clock)
	session.SetSyncMode(true)
	defer session.Close()
	session.AttachAll()

	p := newSessionProvider(t, session, "app")
	probe, _ := p.CreateProbe("tick", "int")
	_ = p.Enable()

	_ = probe.Fire(func() []Value { return Args(Int(1)) })
	clock.Advance(250 * time.Millisecond)
	_ = probe.Fire(func() []Value { return Args(Int(2)) })

	records := session.Export()
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if !records[0].Time.Equal(start) {
		t.Errorf("Expected first timestamp %v, got %v", start, records[0].Time)
	}
	if got := records[1].Time.Sub(records[0].Time); got != 250*time.Millisecond {
		t.Errorf("Expected 250ms between records, got %v", got)
	}
	if records[0].Seq >= records[1].Seq {
		t.Errorf("Sequence should increase: %d then %d", records[0].Seq, records[1].Seq)
	}
}

func TestSessionHandlers(t *testing.T) {
	session := NewSession()
	defer session.Close()
	session.AttachAll()

	p := newSessionProvider(t, session, "app")
	probe, _ := p.CreateProbe("req", "char *")
	_ = p.Enable()

	var got []string
	id := session.OnRecord(func(rec Record) {
		got = append(got, rec.Text(0))
	})

	_ = probe.Fire(func() []Value { return Args(Str("one")) })
	session.RemoveHandler(id)
	_ = probe.Fire(func() []Value { return Args(Str("two")) })

	if len(got) != 1 || got[0] != "one" {
		t.Errorf("Expected handler to see only \"one\", got %v", got)
	}
}

func TestSessionHandlerOwnsSlots(t *testing.T) {
	session := NewSession()
	defer session.Close()
	session.AttachAll()

	p := newSessionProvider(t, session, "app")
	probe, _ := p.CreateProbe("req", "char *")
	_ = p.Enable()

	var kept []Record
	session.OnRecord(func(rec Record) { kept = append(kept, rec) })

	for _, s := range []string{"a", "b", "c"} {
		v := s
		_ = probe.Fire(func() []Value { return Args(Str(v)) })
	}

	for i, want := range []string{"a", "b", "c"} {
		if kept[i].Text(0) != want {
			t.Errorf("Record %d: expected %q, got %q", i, want, kept[i].Text(0))
		}
	}
}

func TestSessionAsyncHandlersWithWorkerPool(t *testing.T) {
	session := NewSession()
	defer session.Close()
	session.AttachAll()

	if err := session.EnableWorkerPool(2, 64); err != nil {
		t.Fatalf("EnableWorkerPool failed: %v", err)
	}
	if err := session.EnableWorkerPool(2, 64); err == nil {
		t.Error("Enabling the worker pool twice should fail")
	}

	p := newSessionProvider(t, session, "app")
	probe, _ := p.CreateProbe("req", "int")
	_ = p.Enable()

	var wg sync.WaitGroup
	var sum atomic.Int64
	wg.Add(10)
	session.OnRecordAsync(func(rec Record) {
		sum.Add(rec.Int(0))
		wg.Done()
	})

	for i := 1; i <= 10; i++ {
		n := int64(i)
		_ = probe.Fire(func() []Value { return Args(Int(n)) })
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Async handlers did not complete")
	}

	if sum.Load() != 55 {
		t.Errorf("Expected sum 55, got %d", sum.Load())
	}
}

func TestSessionPanicHook(t *testing.T) {
	session := NewSession()
	defer session.Close()
	session.AttachAll()

	var panicked atomic.Uint64
	session.SetPanicHook(func(handlerID uint64, _ interface{}) {
		panicked.Store(handlerID)
	})

	p := newSessionProvider(t, session, "app")
	probe, _ := p.CreateProbe("req")
	_ = p.Enable()

	id := session.OnRecord(func(Record) { panic("boom") })
	reached := false
	session.OnRecord(func(Record) { reached = true })

	if err := probe.Fire(nil); err != nil {
		t.Fatalf("Fire failed: %v", err)
	}
	if panicked.Load() != id {
		t.Errorf("Expected panic hook for handler %d, got %d", id, panicked.Load())
	}
	if !reached {
		t.Error("A panicking handler must not stop later handlers")
	}
}

func TestSessionUnregister(t *testing.T) {
	session := NewSession()
	defer session.Close()

	p, err := NewProvider("app", WithBackend(session))
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	_, _ = p.CreateProbe("a", "int")
	_, _ = p.CreateProbe("b", "int")

	if providers, probes := session.Registered(); providers != 1 || probes != 2 {
		t.Fatalf("Expected 1 provider and 2 probes, got %d and %d", providers, probes)
	}

	_ = p.RemoveProbe("a")
	if _, probes := session.Registered(); probes != 1 {
		t.Errorf("Expected 1 probe after removal, got %d", probes)
	}

	_ = p.Close()
	if providers, probes := session.Registered(); providers != 0 || probes != 0 {
		t.Errorf("Expected everything released, got %d providers and %d probes", providers, probes)
	}
}

func TestSessionConcurrentAttachAndFire(t *testing.T) {
	session := NewSession()
	defer session.Close()

	p := newSessionProvider(t, session, "app")
	probe, _ := p.CreateProbe("req", "int", "char *")
	_ = p.Enable()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = probe.Fire(func() []Value { return Args(Int(1), Str("x")) })
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		session.Attach("app", "req")
		session.Detach("app", "req")
	}
	session.Attach("app", "req")
	close(stop)
	wg.Wait()

	if !probe.Enabled() {
		t.Error("Final enablement should reflect the last Attach")
	}
}
