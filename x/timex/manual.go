package timex

import "sync/atomic"

// Manual is a Clock advanced explicitly; used by tests and simulation.
type Manual struct{ ms atomic.Int64 }

func NewManual(startMs int64) *Manual {
	m := &Manual{}
	m.ms.Store(startMs)
	return m
}

func (m *Manual) NowMs() int64          { return m.ms.Load() }
func (m *Manual) Advance(deltaMs int64) { m.ms.Add(deltaMs) }
func (m *Manual) Set(ms int64)          { m.ms.Store(ms) }
