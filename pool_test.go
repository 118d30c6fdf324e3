package probez

import (
	"sync"
	"testing"
)

func TestSlotPoolReuse(t *testing.T) {
	pool := newSlotPool(3)

	buf := pool.get()
	if len(buf) != 3 {
		t.Fatalf("Expected buffer of 3 slots, got %d", len(buf))
	}
	buf[0].Text = "held"
	pool.put(buf)

	again := pool.get()
	if &again[0] != &buf[0] {
		t.Error("Expected the returned buffer to be reused")
	}
	if again[0].Text != "" {
		t.Errorf("Reused buffer should be cleared, got %q", again[0].Text)
	}
}

func TestSlotPoolRejectsShortBuffers(t *testing.T) {
	pool := newSlotPool(4)
	pool.put(make([]Slot, 2))

	buf := pool.get()
	if len(buf) != 4 {
		t.Errorf("Expected a fresh 4-slot buffer, got %d", len(buf))
	}
}

func TestSlotPoolBounded(t *testing.T) {
	pool := newSlotPool(1)
	capacity := cap(pool.bufs)

	for i := 0; i < capacity*2; i++ {
		pool.put(make([]Slot, 1))
	}
	if len(pool.bufs) != capacity {
		t.Errorf("Expected pool to hold at most %d buffers, got %d", capacity, len(pool.bufs))
	}
}

func TestSlotPoolConcurrent(t *testing.T) {
	pool := newSlotPool(2)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				buf := pool.get()
				buf[0].Bits = uint64(j)
				pool.put(buf)
			}
		}()
	}
	wg.Wait()
}
