package mailbox

import (
	"context"
	"testing"
	"time"

	"fieldnode-go/errcode"
)

func TestFIFO(t *testing.T) {
	m := New[int]("energy", 3)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		if err := m.Send(ctx, i, 0); err != nil {
			t.Fatal(err)
		}
	}
	for want := 1; want <= 3; want++ {
		got, err := m.Receive(ctx)
		if err != nil || got != want {
			t.Fatalf("Receive = %d, %v; want %d", got, err, want)
		}
	}
	if _, ok := m.TryReceive(); ok {
		t.Fatal("mailbox should be empty")
	}
}

func TestSendFullReturnsWouldBlock(t *testing.T) {
	m := New[string]("emergency", 1)
	ctx := context.Background()
	_ = m.Send(ctx, "a", 0)

	start := time.Now()
	err := m.Send(ctx, "b", 20*time.Millisecond)
	if !errcode.Is(err, errcode.WouldBlock) {
		t.Fatalf("err = %v, want would_block", err)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Fatal("Send returned before its timeout")
	}
	if v, _ := m.TryReceive(); v != "a" {
		t.Fatalf("queued item replaced: %q", v)
	}
	if m.Stats().Full != 1 {
		t.Fatalf("full counter = %d", m.Stats().Full)
	}
}

func TestSendUnblocksWhenDrained(t *testing.T) {
	m := New[int]("water", 1)
	ctx := context.Background()
	_ = m.Send(ctx, 1, 0)

	done := make(chan error, 1)
	go func() { done <- m.Send(ctx, 2, time.Second) }()
	time.Sleep(5 * time.Millisecond)
	if v, _ := m.Receive(ctx); v != 1 {
		t.Fatalf("got %d", v)
	}
	if err := <-done; err != nil {
		t.Fatalf("blocked Send: %v", err)
	}
	if v, _ := m.Receive(ctx); v != 2 {
		t.Fatalf("got %d", v)
	}
}

func TestFlushCounts(t *testing.T) {
	m := New[int]("energy", 10)
	for i := 0; i < 4; i++ {
		_ = m.Send(context.Background(), i, 0)
	}
	if n := m.Flush(); n != 4 {
		t.Fatalf("Flush = %d", n)
	}
	st := m.Stats()
	if st.Flushes != 1 || st.Flushed != 4 || st.Depth != 0 || st.Cap != 10 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestReceiveHonoursContext(t *testing.T) {
	m := New[int]("energy", 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if _, err := m.Receive(ctx); err == nil {
		t.Fatal("Receive on empty mailbox should fail when ctx ends")
	}
}
