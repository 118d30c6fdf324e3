package benchmarks

import (
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/probez"
)

// BenchmarkSessionThroughput measures parallel fires into one session and
// reports the achieved rate.
func BenchmarkSessionThroughput(b *testing.B) {
	session := probez.NewSession()
	defer session.Close()
	session.AttachAll()
	provider, probe := newBenchProvider(b, session, "uint32", "char *")
	_ = provider.Enable()

	var counter atomic.Int64
	b.ReportAllocs()
	b.ResetTimer()
	start := time.Now()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = probe.Fire(func() []probez.Value {
				return probez.Args(probez.Uint(200), probez.Str("ok"))
			})
			counter.Add(1)
		}
	})

	elapsed := time.Since(start)
	b.ReportMetric(float64(counter.Load())/elapsed.Seconds(), "fires/sec")
	b.ReportMetric(float64(session.Collector().DroppedCount()), "dropped")
}

// BenchmarkSessionHandlers measures synchronous handler dispatch.
func BenchmarkSessionHandlers(b *testing.B) {
	for _, n := range []int{1, 4, 16} {
		b.Run(strconv.Itoa(n)+"_handlers", func(b *testing.B) {
			session := probez.NewSession()
			defer session.Close()
			session.AttachAll()
			provider, probe := newBenchProvider(b, session, "int64")
			_ = provider.Enable()

			var seen atomic.Int64
			for i := 0; i < n; i++ {
				session.OnRecord(func(probez.Record) { seen.Add(1) })
			}

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_ = probe.Fire(func() []probez.Value { return probez.Args(probez.Int(1)) })
				if i%1000 == 999 {
					session.Export()
				}
			}
		})
	}
}

// BenchmarkAttachToggle measures re-evaluating enablement as a session
// attaches and detaches.
func BenchmarkAttachToggle(b *testing.B) {
	session := probez.NewSession()
	defer session.Close()
	provider, _ := newBenchProvider(b, session, "int")
	for _, name := range []string{"a", "b", "c", "d"} {
		_, _ = provider.CreateProbe(name, "int")
	}
	_ = provider.Enable()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		session.AttachAll()
		session.DetachAll()
	}
}
