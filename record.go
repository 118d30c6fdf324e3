package probez

import (
	"time"

	"github.com/google/uuid"
)

// Record is one fired probe as observed by an in-process Session.
//
//nolint:govet // Field alignment optimized for JSON serialization order
type Record struct {
	Time       time.Time       `json:"time"`
	Slots      []Slot          `json:"-"`
	Provider   string          `json:"provider"`
	Module     string          `json:"module,omitempty"`
	Probe      string          `json:"probe"`
	Identity   uuid.UUID       `json:"identity"`
	Seq        uint64          `json:"seq"`
	Descriptor EventDescriptor `json:"descriptor"`
}

// Len returns the number of slots recorded.
func (r Record) Len() int {
	return len(r.Slots)
}

// Int returns slot i as a signed integer, or 0 when out of range.
func (r Record) Int(i int) int64 {
	if i < 0 || i >= len(r.Slots) {
		return 0
	}
	return r.Slots[i].Int()
}

// Uint returns slot i as an unsigned integer, or 0 when out of range.
func (r Record) Uint(i int) uint64 {
	if i < 0 || i >= len(r.Slots) {
		return 0
	}
	return r.Slots[i].Uint()
}

// Text returns slot i as text, or "" when out of range.
func (r Record) Text(i int) string {
	if i < 0 || i >= len(r.Slots) {
		return ""
	}
	return r.Slots[i].String()
}

// Wire returns the concatenated wire bytes of all slots.
func (r Record) Wire() []byte {
	var buf []byte
	for _, s := range r.Slots {
		buf = s.AppendWire(buf)
	}
	return buf
}

// clone deep-copies the slots so the record outlives the firing.
func (r Record) clone() Record {
	if r.Slots != nil {
		slots := make([]Slot, len(r.Slots))
		copy(slots, r.Slots)
		r.Slots = slots
	}
	return r
}
