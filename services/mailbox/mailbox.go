// Package mailbox provides the bounded FIFO hand-off between the sensing
// tasks and the uplink task. A full mailbox never discards silently: senders
// get WouldBlock after their timeout and recovery is an explicit Flush.
package mailbox

import (
	"context"
	"sync/atomic"
	"time"

	"fieldnode-go/errcode"
)

type Mailbox[T any] struct {
	name string
	ch   chan T

	sent     atomic.Uint32
	received atomic.Uint32
	full     atomic.Uint32
	flushes  atomic.Uint32
	flushed  atomic.Uint32
}

// Stats is a counter snapshot.
type Stats struct {
	Name     string `json:"name"`
	Depth    int    `json:"depth"`
	Cap      int    `json:"cap"`
	Sent     uint32 `json:"sent"`
	Received uint32 `json:"received"`
	Full     uint32 `json:"full"`
	Flushes  uint32 `json:"flushes"`
	Flushed  uint32 `json:"flushed"`
}

func New[T any](name string, capacity int) *Mailbox[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Mailbox[T]{name: name, ch: make(chan T, capacity)}
}

func (m *Mailbox[T]) Name() string { return m.name }
func (m *Mailbox[T]) Len() int     { return len(m.ch) }
func (m *Mailbox[T]) Cap() int     { return cap(m.ch) }

// Send enqueues v, waiting up to timeout for room. A zero timeout tries once.
func (m *Mailbox[T]) Send(ctx context.Context, v T, timeout time.Duration) error {
	select {
	case m.ch <- v:
		m.sent.Add(1)
		return nil
	default:
	}
	if timeout <= 0 {
		m.full.Add(1)
		return errcode.Wrap(errcode.WouldBlock, "mailbox."+m.name, nil)
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case m.ch <- v:
		m.sent.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		m.full.Add(1)
		return errcode.Wrap(errcode.WouldBlock, "mailbox."+m.name, nil)
	}
}

// Receive blocks until an item arrives or ctx ends.
func (m *Mailbox[T]) Receive(ctx context.Context) (T, error) {
	select {
	case v := <-m.ch:
		m.received.Add(1)
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (m *Mailbox[T]) TryReceive() (T, bool) {
	select {
	case v := <-m.ch:
		m.received.Add(1)
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// C exposes the queue for select loops. Items taken directly are not
// counted as received.
func (m *Mailbox[T]) C() <-chan T { return m.ch }

// Flush discards everything queued and returns how many items were lost.
func (m *Mailbox[T]) Flush() int {
	n := 0
	for {
		select {
		case <-m.ch:
			n++
		default:
			m.flushes.Add(1)
			m.flushed.Add(uint32(n))
			println("[mailbox]", m.name, "flushed", n)
			return n
		}
	}
}

func (m *Mailbox[T]) Stats() Stats {
	return Stats{
		Name:     m.name,
		Depth:    len(m.ch),
		Cap:      cap(m.ch),
		Sent:     m.sent.Load(),
		Received: m.received.Load(),
		Full:     m.full.Load(),
		Flushes:  m.flushes.Load(),
		Flushed:  m.flushed.Load(),
	}
}
