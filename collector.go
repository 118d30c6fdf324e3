package probez

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
)

// Collector buffers records for batch export.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field alignment optimized for readability over memory efficiency
type Collector struct {
	buffered     *queue.Queue
	recordsCh    chan Record
	stopCh       chan struct{}
	done         chan struct{}
	droppedCount atomic.Int64
	limit        int
	mu           sync.Mutex
	closed       atomic.Bool
	syncMode     atomic.Bool // Bypass channel for synchronous collection.
	closeOnce    sync.Once
}

// NewCollector creates a collector whose intake channel holds bufferSize
// records. The export buffer keeps at most limit records; when it is full
// the oldest record is discarded. A limit of 0 means unbounded.
func NewCollector(bufferSize, limit int) *Collector {
	c := &Collector{
		buffered:  queue.New(),
		recordsCh: make(chan Record, bufferSize),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		limit:     limit,
	}
	go c.start()
	return c
}

// start runs the collector's main loop, receiving records from the channel.
func (c *Collector) start() {
	defer close(c.done)

	for {
		select {
		case <-c.stopCh:
			// Drain remaining records before shutdown.
			for {
				select {
				case rec := <-c.recordsCh:
					c.buffer(rec)
				default:
					return
				}
			}
		case rec := <-c.recordsCh:
			c.buffer(rec)
		}
	}
}

// Close shuts down the collector, draining in-flight records.
func (c *Collector) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.stopCh)
		select {
		case <-c.done:
		case <-time.After(100 * time.Millisecond):
			// Drain timed out; remaining records are abandoned.
		}
	})
}

// Collect buffers a record with backpressure protection.
// If the intake channel is full the record is dropped and the drop counter
// is incremented. In sync mode records are buffered directly.
func (c *Collector) Collect(rec Record) {
	if c.closed.Load() {
		c.droppedCount.Add(1)
		return
	}

	rec = rec.clone()

	if c.syncMode.Load() {
		c.buffer(rec)
		return
	}

	select {
	case c.recordsCh <- rec:
	default:
		// Channel full - drop record to prevent blocking the firer.
		c.droppedCount.Add(1)
	}
}

// buffer appends a record, evicting the oldest when over the limit.
func (c *Collector) buffer(rec Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.limit > 0 && c.buffered.Length() >= c.limit {
		c.buffered.Remove()
		c.droppedCount.Add(1)
	}
	c.buffered.Add(rec)
}

// Export returns all buffered records in firing order and clears the buffer.
func (c *Collector) Export() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.buffered.Length()
	if n == 0 {
		return nil
	}

	result := make([]Record, 0, n)
	for c.buffered.Length() > 0 {
		result = append(result, c.buffered.Remove().(Record))
	}
	return result
}

// Count returns the current number of buffered records.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffered.Length()
}

// DroppedCount returns the total number of records dropped due to
// backpressure, buffer limits, or collection after Close.
func (c *Collector) DroppedCount() int64 {
	return c.droppedCount.Load()
}

// SetSyncMode enables synchronous collection for testing.
// When enabled, records are buffered directly without using the channel.
func (c *Collector) SetSyncMode(sync bool) {
	c.syncMode.Store(sync)
}

// Reset clears all buffered records and resets the drop counter.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buffered = queue.New()
	c.droppedCount.Store(0)
}
