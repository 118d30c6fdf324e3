package integration

import (
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/probez"
)

// TestSession wraps a Session with test utilities.
// Collection is synchronous and every exported record is retained.
//
//nolint:govet // Field alignment optimized for test helper readability
type TestSession struct {
	exported []probez.Record
	*probez.Session
	t  *testing.T
	mu sync.Mutex
}

// NewTestSession creates a session in sync mode that is closed with the test.
func NewTestSession(t *testing.T) *TestSession {
	t.Helper()
	session := probez.NewSession()
	session.SetSyncMode(true) // Enable synchronous collection for testing.
	t.Cleanup(session.Close)
	return &TestSession{
		Session:  session,
		t:        t,
		exported: make([]probez.Record, 0),
	}
}

// Export returns collected records and clears the buffer.
func (s *TestSession) Export() []probez.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.Session.Export()
	s.exported = append(s.exported, records...)
	return records
}

// GetAll returns every record exported so far without clearing.
func (s *TestSession) GetAll() []probez.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current := s.Session.Export(); len(current) > 0 {
		s.exported = append(s.exported, current...)
	}
	all := make([]probez.Record, len(s.exported))
	copy(all, s.exported)
	return all
}

// WaitForRecords waits for the expected number of records with timeout.
func (s *TestSession) WaitForRecords(expected int, timeout time.Duration) []probez.Record {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	var records []probez.Record
	for time.Now().Before(deadline) {
		records = append(records, s.Export()...)
		if len(records) >= expected {
			return records
		}
		<-ticker.C
	}

	s.t.Errorf("Timeout waiting for records: expected %d, got %d", expected, len(records))
	return records
}

// AssertRecordCount verifies the exact number of pending records.
func (s *TestSession) AssertRecordCount(expected int) {
	s.t.Helper()
	if records := s.Export(); len(records) != expected {
		s.t.Errorf("Expected %d records, got %d", expected, len(records))
	}
}

// FindRecord returns the first exported record of provider.probe.
func (s *TestSession) FindRecord(provider, probe string) *probez.Record {
	s.t.Helper()
	records := s.GetAll()
	for i := range records {
		if records[i].Provider == provider && records[i].Probe == probe {
			return &records[i]
		}
	}
	s.t.Errorf("Record %s.%s not found", provider, probe)
	return nil
}

// NewProvider creates a provider bound to the session and closes it with
// the test.
func (s *TestSession) NewProvider(name string, opts ...probez.Option) *probez.Provider {
	s.t.Helper()
	p, err := probez.NewProvider(name, append([]probez.Option{probez.WithBackend(s.Session)}, opts...)...)
	if err != nil {
		s.t.Fatalf("NewProvider(%q) failed: %v", name, err)
	}
	s.t.Cleanup(func() { _ = p.Close() })
	return p
}

// MustProbe creates a probe or fails the test.
func MustProbe(t *testing.T, p *probez.Provider, name string, types ...string) *probez.Probe {
	t.Helper()
	probe, err := p.CreateProbe(name, types...)
	if err != nil {
		t.Fatalf("CreateProbe(%q) failed: %v", name, err)
	}
	return probe
}

// CountByProvider groups records by provider name.
func CountByProvider(records []probez.Record) map[string]int {
	counts := make(map[string]int)
	for _, rec := range records {
		counts[rec.Provider]++
	}
	return counts
}
