// Package acquire owns the ping-pong sample buffer filled from the sampling
// interrupt. The interrupt always writes into the half the consumer does not
// hold and flips the active index when a half fills; the analyzer reads the
// completed half without pausing acquisition.
package acquire

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"fieldnode-go/errcode"
)

// Channel selects one converter input.
type Channel uint8

const (
	ChannelA Channel = iota // voltage
	ChannelB                // current
)

// Converter is the raw analogue front end. Read must not block.
type Converter interface {
	Select(ch Channel)
	Read(ch Channel) uint16
}

// Sample is one paired reading.
type Sample struct {
	A, B uint16
}

var ErrWindowSize = errors.New("acquire: window size must be a power of two")

// View is a read-only window onto a completed half. It is valid until
// Release.
type View struct {
	half    int
	Samples []Sample
}

func (v View) Half() int { return v.half }

type Buffer struct {
	n      int
	halves [2][]Sample

	// ISR-owned
	idx int

	active atomic.Uint32
	held   [2]atomic.Bool // half filled and not yet released

	ready chan int
	lock  chan struct{}

	overruns atomic.Uint32
	drops    atomic.Uint32
	windows  atomic.Uint32
}

func NewBuffer(n int) (*Buffer, error) {
	if n <= 0 || n&(n-1) != 0 {
		return nil, ErrWindowSize
	}
	b := &Buffer{
		n:     n,
		ready: make(chan int, 2),
		lock:  make(chan struct{}, 1),
	}
	b.halves[0] = make([]Sample, n)
	b.halves[1] = make([]Sample, n)
	return b, nil
}

func (b *Buffer) Len() int { return b.n }

// OnTick is the sampling interrupt body. It never blocks and never writes
// into a half the consumer still holds.
func (b *Buffer) OnTick(c Converter) {
	h := b.active.Load()
	if b.held[h].Load() {
		b.overruns.Add(1)
		return
	}
	a := c.Read(ChannelA)
	c.Select(ChannelB)
	v := c.Read(ChannelB)
	c.Select(ChannelA)

	b.halves[h][b.idx] = Sample{A: a, B: v}
	b.idx++
	if b.idx < b.n {
		return
	}
	b.idx = 0
	b.held[h].Store(true)
	b.active.Store(h ^ 1)
	b.windows.Add(1)
	select {
	case b.ready <- int(h):
	default:
		b.drops.Add(1)
	}
}

// Ready signals completed halves by index.
func (b *Buffer) Ready() <-chan int { return b.ready }

// Acquire waits up to timeout for a completed half and for the buffer lock.
// The lock is held until Release.
func (b *Buffer) Acquire(ctx context.Context, timeout time.Duration) (View, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()

	var h int
	select {
	case <-ctx.Done():
		return View{}, ctx.Err()
	case <-t.C:
		return View{}, errcode.Wrap(errcode.Timeout, "acquire", errors.New("no window ready"))
	case h = <-b.ready:
	}

	select {
	case <-ctx.Done():
		b.requeue(h)
		return View{}, ctx.Err()
	case <-t.C:
		b.requeue(h)
		return View{}, errcode.Wrap(errcode.Timeout, "acquire", errors.New("buffer lock"))
	case b.lock <- struct{}{}:
	}
	return View{half: h, Samples: b.halves[h]}, nil
}

func (b *Buffer) requeue(h int) {
	select {
	case b.ready <- h:
	default:
	}
}

// Release hands the half back to the interrupt and drops the lock.
func (b *Buffer) Release(v View) {
	if v.Samples == nil {
		return
	}
	b.held[v.half].Store(false)
	select {
	case <-b.lock:
	default:
	}
}

// Overruns counts ticks lost because the target half was still held.
func (b *Buffer) Overruns() uint32 { return b.overruns.Load() }

// Drops counts completion signals that could not be posted.
func (b *Buffer) Drops() uint32 { return b.drops.Load() }

// Windows counts completed halves.
func (b *Buffer) Windows() uint32 { return b.windows.Load() }
