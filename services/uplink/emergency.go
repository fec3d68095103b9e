package uplink

import (
	"context"

	"fieldnode-go/errcode"
	"fieldnode-go/services/governor"
	"fieldnode-go/types"
)

// emergencyAttempts bounds immediate retries of an emergency frame. There is
// no backoff: the caller is a sensing task waiting on the result.
const emergencyAttempts = 3

// SendEmergency encodes tel and transmits it on the caller's goroutine. It
// never waits behind queued telemetry, a telemetry retry backoff or the
// duty-cycle gap; the engine serialises radio access. Without a session the
// alert is held (latest wins) and the uplink loop sends it once it has joined.
func (t *Task) SendEmergency(ctx context.Context, tel types.Telemetry) error {
	payload := Encode(tel, uint8(t.battery.Load()), true)
	policy := governor.RetryPolicy{Attempts: emergencyAttempts}
	_, err := policy.Do(ctx, func(ctx context.Context) error {
		return t.Engine.SendEmergency(ctx, payload)
	})
	switch {
	case err == nil:
	case errcode.Is(err, errcode.NoNetwork):
		println("[uplink] emergency held until joined")
		t.hold(tel)
	default:
		println("[uplink] emergency lost:", err.Error())
	}
	t.signal()
	return err
}

func (t *Task) hold(tel types.Telemetry) {
	t.heldMu.Lock()
	t.held = &tel
	t.heldMu.Unlock()
}

func (t *Task) takeHeld() (types.Telemetry, bool) {
	t.heldMu.Lock()
	defer t.heldMu.Unlock()
	if t.held == nil {
		return types.Telemetry{}, false
	}
	tel := *t.held
	t.held = nil
	return tel, true
}

func (t *Task) hasHeld() bool {
	t.heldMu.Lock()
	defer t.heldMu.Unlock()
	return t.held != nil
}

// wake is signalled after every emergency so the loop republishes status
// and joins for a held alert.
func (t *Task) wake() chan struct{} {
	t.wakeOnce.Do(func() { t.wakeCh = make(chan struct{}, 1) })
	return t.wakeCh
}

func (t *Task) signal() {
	select {
	case t.wake() <- struct{}{}:
	default:
	}
}

// flushHeld sends a held emergency once a session exists.
func (t *Task) flushHeld(ctx context.Context) {
	if !t.Engine.Joined() {
		return
	}
	if tel, ok := t.takeHeld(); ok {
		_ = t.SendEmergency(ctx, tel)
	}
}
