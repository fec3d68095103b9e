package bus

import (
	"context"
	"sort"
	"testing"
	"time"
)

// -----------------------------------------------------------------------------
// Retained config
// -----------------------------------------------------------------------------

// A service started after the config publish finds its document waiting,
// and a later console config-set replaces it for the next subscriber.
func TestRetainedConfigReplacedForLateSubscriber(t *testing.T) {
	b := NewBus(4)
	cfg := b.NewConnection("config")
	cfg.Publish(cfg.NewMessage(T("config", "uplink"), `{"sf":10}`, true))
	cfg.Publish(cfg.NewMessage(T("config", "water"), `{"node_id":2}`, true))

	up := b.NewConnection("uplink")
	sub := up.Subscribe(T("config", "uplink"))
	expectOneOf(t, sub, `{"sf":10}`)
	expectNoMessage(t, sub)

	console := b.NewConnection("console")
	console.Publish(console.NewMessage(T("config", "uplink"), `{"sf":12}`, true))
	expectOneOf(t, sub, `{"sf":12}`)

	late := b.NewConnection("late").Subscribe(T("config", "uplink"))
	got := drainPayloads(t, late, 1)
	if got[0] != `{"sf":12}` {
		t.Fatalf("late subscriber got %v", got)
	}
	expectNoMessage(t, late)
}

func TestRetainedWildcardAcrossServices(t *testing.T) {
	b := NewBus(8)
	c := b.NewConnection("node")
	c.Publish(c.NewMessage(T("config", "uplink"), "u", true))
	c.Publish(c.NewMessage(T("config", "electrical"), "e", true))
	c.Publish(c.NewMessage(T("uplink", "state"), "joined", true))
	c.Publish(c.NewMessage(T("sensing", "alert"), "leak", false))

	all := c.Subscribe(T("config", "+"))
	assertUnorderedEqual(t, drainPayloads(t, all, 2), []string{"u", "e"})

	states := c.Subscribe(T("#"))
	assertUnorderedEqual(t, drainPayloads(t, states, 3), []string{"u", "e", "joined"})
	expectNoMessage(t, states)
}

func TestRetainedClearedByNilPayload(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("governor")
	c.Publish(c.NewMessage(T("power", "battery"), "81", true))
	c.Publish(c.NewMessage(T("power", "duty"), "normal", true))
	c.Publish(c.NewMessage(T("power", "battery"), nil, true))

	s := c.Subscribe(T("power", "#"))
	if got := drainPayloads(t, s, 1); got[0] != "normal" {
		t.Fatalf("after clear: %v", got)
	}
	expectNoMessage(t, s)
}

// -----------------------------------------------------------------------------
// Wildcards
// -----------------------------------------------------------------------------

func TestWildcardLevels(t *testing.T) {
	b := NewBus(8)
	c := b.NewConnection("test")

	anyState := c.Subscribe(T("+", "state"))
	sensing := c.Subscribe(T("sensing", "#"))
	exact := c.Subscribe(T("sensing"))

	c.Publish(c.NewMessage(T("uplink", "state"), "s1", false))
	expectOneOf(t, anyState, "s1")
	expectNoMessage(t, sensing)

	c.Publish(c.NewMessage(T("sensing", "state"), "s2", false))
	expectOneOf(t, anyState, "s2")
	expectOneOf(t, sensing, "s2")
	expectNoMessage(t, exact)

	// "#" also matches its parent level; "+" needs exactly one token.
	c.Publish(c.NewMessage(T("sensing"), "s3", false))
	expectOneOf(t, sensing, "s3")
	expectOneOf(t, exact, "s3")
	expectNoMessage(t, anyState)

	c.Publish(c.NewMessage(T("sensing", "water", "state"), "s4", false))
	expectOneOf(t, sensing, "s4")
	expectNoMessage(t, anyState)
}

// -----------------------------------------------------------------------------
// Request / Reply
// -----------------------------------------------------------------------------

// The console asks housekeeping for a fresh status when it has none cached.
func TestStatusRefreshRequestWait(t *testing.T) {
	b := NewBus(4)
	hk := b.NewConnection("housekeeping")
	refresh := hk.Subscribe(T("status", "refresh"))
	defer hk.Unsubscribe(refresh)

	go func() {
		for msg := range refresh.Channel() {
			hk.Reply(msg, "uptime=42", false)
		}
	}()

	console := b.NewConnection("console")
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	req := console.NewMessage(T("status", "refresh"), nil, false)
	reply, err := console.RequestWait(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if reply.Payload != "uptime=42" || !topicsEqual(reply.Topic, req.ReplyTo) {
		t.Fatalf("reply %v on %v", reply.Payload, reply.Topic)
	}

	// Each request gets its own reply topic.
	again := console.NewMessage(T("status", "refresh"), nil, false)
	if _, err := console.RequestWait(ctx, again); err != nil {
		t.Fatal(err)
	}
	if topicsEqual(again.ReplyTo, req.ReplyTo) {
		t.Fatalf("reply topic reused: %v", again.ReplyTo)
	}
}

func TestRequestWaitWithoutResponder(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("console")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.RequestWait(ctx, c.NewMessage(T("status", "refresh"), nil, false)); err != context.DeadlineExceeded {
		t.Fatalf("err = %v", err)
	}
}

func TestReplyNeedsReplyTo(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("housekeeping")
	if c.Reply(c.NewMessage(T("status", "node"), nil, false), "x", false) {
		t.Fatal("reply sent to a plain publish")
	}
}

// -----------------------------------------------------------------------------
// Topics and subscriptions
// -----------------------------------------------------------------------------

func TestTopicRejectsUncomparableToken(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("slice token accepted")
		}
	}()
	_ = T("uplink", []byte{1})
}

func TestTopicAppendDoesNotAlias(t *testing.T) {
	base := make(Topic, 2, 8)
	base[0], base[1] = "status", "node"
	a := base.Append("uplink")
	b := base.Append("governor")
	if a.At(2) != "uplink" || b.At(2) != "governor" {
		t.Fatalf("append aliased: %v %v", a, b)
	}
	if got := a.String(); got != "status/node/uplink" {
		t.Fatalf("String() = %q", got)
	}
}

func TestUnsubscribeTwice(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("test")
	s := c.Subscribe(T("status", "#"))
	c.Unsubscribe(s)
	c.Unsubscribe(s)
	if _, ok := <-s.Channel(); ok {
		t.Fatal("channel should be closed")
	}
	c.Publish(b.NewMessage(T("status", "node"), "up", false))
}

func TestDisconnectClosesEverySubscription(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("uplink")
	s1 := c.Subscribe(T("config", "uplink"))
	s2 := c.Subscribe(T("power", "battery"))
	c.Disconnect()
	for _, s := range []*Subscription{s1, s2} {
		if _, ok := <-s.Channel(); ok {
			t.Fatalf("%v still open", s.Topic())
		}
	}
	// Publishing after disconnect must not reach closed channels.
	b.NewConnection("governor").Publish(b.NewMessage(T("power", "battery"), "50", false))
}

func TestFullQueueDropsOldest(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("test")
	s := c.Subscribe(T("uplink", "tx"))
	for _, p := range []string{"f1", "f2", "f3"} {
		c.Publish(b.NewMessage(T("uplink", "tx"), p, false))
	}
	got := drainPayloads(t, s, 2)
	if got[0] != "f2" || got[1] != "f3" {
		t.Fatalf("expected newest two, got %v", got)
	}
}

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

func topicsEqual(a, b Topic) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func expectOneOf(t *testing.T, sub *Subscription, want string) {
	t.Helper()
	select {
	case got := <-sub.Channel():
		if s, ok := got.Payload.(string); !ok || s != want {
			t.Fatalf("payload %v, want %q", got.Payload, want)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timeout waiting for %q", want)
	}
}

func expectNoMessage(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case got := <-sub.Channel():
		t.Fatalf("unexpected message %v on %v", got.Payload, got.Topic)
	case <-time.After(50 * time.Millisecond):
	}
}

func drainPayloads(t *testing.T, sub *Subscription, n int) []string {
	t.Helper()
	var out []string
	deadline := time.After(300 * time.Millisecond)
	for len(out) < n {
		select {
		case m := <-sub.Channel():
			s, ok := m.Payload.(string)
			if !ok {
				t.Fatalf("payload %#v", m.Payload)
			}
			out = append(out, s)
		case <-deadline:
			t.Fatalf("got %d of %d messages: %v", len(out), n, out)
		}
	}
	return out
}

func assertUnorderedEqual(t *testing.T, got, want []string) {
	t.Helper()
	sort.Strings(got)
	sort.Strings(want)
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
