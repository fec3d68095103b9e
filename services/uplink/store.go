package uplink

import "sync/atomic"

// FrameCounterStore persists FCntUp across sleep and restarts so a counter
// value is never reused within a session.
type FrameCounterStore interface {
	Load() (uint32, error)
	Save(fcnt uint32) error
}

// MemoryCounterStore keeps the counter in RAM.
type MemoryCounterStore struct{ v atomic.Uint32 }

func (m *MemoryCounterStore) Load() (uint32, error) { return m.v.Load(), nil }

func (m *MemoryCounterStore) Save(fcnt uint32) error {
	m.v.Store(fcnt)
	return nil
}
