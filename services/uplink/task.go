package uplink

import (
	"context"
	"sync"
	"sync/atomic"

	"fieldnode-go/bus"
	"fieldnode-go/errcode"
	"fieldnode-go/services/config"
	"fieldnode-go/services/governor"
	"fieldnode-go/services/mailbox"
	"fieldnode-go/types"
	"fieldnode-go/x/timex"
)

var (
	TopicStatus = bus.T("uplink", "status")
	TopicState  = bus.T("uplink", "state")
)

// Task is the uplink loop and the only consumer of the telemetry mailbox.
// Emergencies bypass it through SendEmergency.
type Task struct {
	Engine    *Engine
	Gov       *governor.Governor
	Telemetry *mailbox.Mailbox[types.Telemetry]

	JoinAttempts int

	battery atomic.Uint32

	heldMu   sync.Mutex
	held     *types.Telemetry
	wakeOnce sync.Once
	wakeCh   chan struct{}
}

func (t *Task) publishState(conn *bus.Connection, level, status string, err error) {
	st := types.ServiceState{Level: level, Status: status, TS: t.Engine.clock.NowMs()}
	if err != nil {
		st.Error = err.Error()
	}
	conn.Publish(conn.NewMessage(TopicState, st, true))
}

func (t *Task) publishStatus(conn *bus.Connection) {
	conn.Publish(conn.NewMessage(TopicStatus, t.Engine.Status(), true))
}

// syncDuty copies the governor's radio parameters into the engine.
func (t *Task) syncDuty() {
	if t.Gov == nil {
		return
	}
	_ = t.Engine.SetDataRate(t.Gov.State.SF())
	_ = t.Engine.SetTxPower(t.Gov.State.TxPowerDBm())
}

func (t *Task) retry(ctx context.Context, fn func(context.Context) error) error {
	if t.Gov == nil {
		return fn(ctx)
	}
	return t.Gov.Retry(ctx, fn)
}

// join runs the join budget. A spent budget hands control to the governor,
// which slows the node down before the next attempt.
func (t *Task) join(ctx context.Context, conn *bus.Connection) error {
	t.Engine.Wake()
	if t.Engine.Joined() {
		return nil
	}
	t.syncDuty()
	policy := governor.DefaultRetryPolicy()
	if t.Gov != nil {
		policy = t.Gov.RetryPolicy()
	}
	policy.Attempts = t.JoinAttempts

	exhausted, err := policy.Do(ctx, t.Engine.Join)
	if err == nil {
		t.publishState(conn, "up", "joined", nil)
		t.flushHeld(ctx)
		t.publishStatus(conn)
		return nil
	}
	t.publishState(conn, "degraded", "join_failed", err)
	if exhausted && t.Gov != nil {
		t.Gov.OnJoinFailed()
		t.syncDuty()
	}
	return err
}

// waitGap sleeps out the duty-cycle gap. It reports false when ctx ends.
func (t *Task) waitGap(ctx context.Context) bool {
	for {
		d := t.Engine.GapRemaining()
		if d <= 0 {
			return true
		}
		if !timex.Sleep(ctx, d) {
			return false
		}
	}
}

func (t *Task) sendTelemetry(ctx context.Context, conn *bus.Connection, tel types.Telemetry) {
	if !t.Engine.Joined() {
		if err := t.join(ctx, conn); err != nil {
			println("[uplink] telemetry dropped, no network")
			return
		}
	}
	t.Engine.Wake()
	if !t.waitGap(ctx) {
		return
	}
	t.syncDuty()
	payload := Encode(tel, uint8(t.battery.Load()), false)
	port := t.Engine.Config().DataPort
	err := t.retry(ctx, func(ctx context.Context) error {
		if d := t.Engine.GapRemaining(); d > 0 {
			timex.Sleep(ctx, d)
		}
		return t.Engine.Send(ctx, port, payload)
	})
	if err != nil {
		println("[uplink] telemetry send failed:", err.Error())
		t.publishState(conn, "degraded", string(errcode.Of(err)), err)
		if errcode.Is(err, errcode.NoNetwork) {
			t.Engine.Reset()
		}
	} else {
		t.publishState(conn, "up", "sent", nil)
	}
	t.publishStatus(conn)
	_ = t.Engine.Sleep()
}

func (t *Task) applyConfig(payload any) {
	c := types.DefaultUplinkConfig()
	if err := config.Decode(payload, &c); err != nil {
		println("[uplink] bad config:", err.Error())
		return
	}
	cfg, err := ConfigFrom(c)
	if err != nil {
		println("[uplink] bad config:", err.Error())
		return
	}
	t.Engine.UpdateLimits(cfg)
	if c.JoinAttempts > 0 {
		t.JoinAttempts = c.JoinAttempts
	}
}

func (t *Task) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(config.Topic("uplink"))
	defer conn.Unsubscribe(cfgSub)
	batSub := conn.Subscribe(governor.TopicBattery)
	defer conn.Unsubscribe(batSub)

	if t.JoinAttempts <= 0 {
		t.JoinAttempts = types.DefaultUplinkConfig().JoinAttempts
	}
	if err := t.Engine.Init(); err != nil {
		println("[uplink] init failed:", err.Error())
		t.publishState(conn, "error", "init_failed", err)
		return
	}
	t.publishState(conn, "idle", "ready", nil)
	_ = t.join(ctx, conn)

	for {
		select {
		case <-ctx.Done():
			println("[uplink] stopping")
			return
		case <-t.wake():
			if t.hasHeld() && !t.Engine.Joined() {
				_ = t.join(ctx, conn)
			}
			t.publishStatus(conn)
		case tel := <-t.Telemetry.C():
			t.sendTelemetry(ctx, conn, tel)
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				return
			}
			t.applyConfig(msg.Payload)
		case msg, ok := <-batSub.Channel():
			if !ok {
				return
			}
			if v, ok := msg.Payload.(types.BatteryValue); ok {
				t.battery.Store(uint32(v.Percent))
			}
		}
	}
}

// Start launches the uplink loop.
func (t *Task) Start(ctx context.Context, conn *bus.Connection) {
	go t.serviceLoop(ctx, conn)
}
