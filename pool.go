package probez

import (
	"runtime"
)

// slotPool keeps a bounded set of reusable slot buffers for one signature
// width so enabled probes do not allocate an argument array per firing.
type slotPool struct {
	bufs  chan []Slot
	width int
}

// newSlotPool creates a pool of buffers holding width slots each.
// Capacity scales with the CPU count, which bounds concurrent firers.
func newSlotPool(width int) *slotPool {
	return &slotPool{
		bufs:  make(chan []Slot, runtime.NumCPU()*2),
		width: width,
	}
}

// get returns a buffer from the pool or a fresh one when the pool is empty.
func (p *slotPool) get() []Slot {
	select {
	case buf := <-p.bufs:
		return buf
	default:
		// Pool empty, allocate directly (burst load).
		return make([]Slot, p.width)
	}
}

// put returns a buffer to the pool. Buffers beyond capacity are dropped.
func (p *slotPool) put(buf []Slot) {
	if cap(buf) < p.width {
		return
	}
	buf = buf[:p.width]
	// Release string references held by the previous firing.
	clear(buf)
	select {
	case p.bufs <- buf:
	default:
	}
}
