// Package governor adapts radio and sensing parameters to the battery level
// and to uplink failures. It owns the writer side of DutyCycleState except
// the last-transmission stamp.
package governor

import (
	"context"
	"sync"
	"time"

	"fieldnode-go/bus"
	"fieldnode-go/services/config"
	"fieldnode-go/types"
	"fieldnode-go/x/mathx"
	"fieldnode-go/x/timex"
)

// BatterySource reads the battery gauge.
type BatterySource interface {
	ReadBattery() (types.BatteryValue, error)
}

var (
	TopicBattery = bus.T("power", "battery")
	TopicDuty    = bus.T("power", "duty")
	TopicState   = bus.T("governor", "state")
)

type Governor struct {
	State *DutyCycleState
	Src   BatterySource
	Clock timex.Clock

	mu  sync.Mutex
	cfg types.GovernorConfig
}

func New(cfg types.GovernorConfig, src BatterySource, clock timex.Clock) *Governor {
	if clock == nil {
		clock = timex.System{}
	}
	return &Governor{
		State: NewDutyCycleState(BandFor(100)),
		Src:   src,
		Clock: clock,
		cfg:   cfg,
	}
}

func (g *Governor) config() types.GovernorConfig {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg
}

func (g *Governor) SetConfig(c types.GovernorConfig) {
	g.mu.Lock()
	g.cfg = c
	g.mu.Unlock()
}

// ApplyBattery selects the band for pct and writes it to the shared state.
func (g *Governor) ApplyBattery(pct uint8) Band {
	b := BandFor(pct)
	if b.Name != g.State.Band() {
		println("[governor] band", string(b.Name), "battery", pct, "%")
	}
	g.State.apply(b)
	return b
}

// OnRetryExhausted stretches the interval after a spent retry budget. The
// band interval is kept when it is already longer.
func (g *Governor) OnRetryExhausted() {
	c := g.config()
	g.State.intervalMs.Store(mathx.Max(g.State.IntervalMs(), c.DegradedMs))
	println("[governor] retries exhausted, interval", g.State.IntervalMs())
}

// OnJoinFailed moves to the slowest data rate and a long interval.
func (g *Governor) OnJoinFailed() {
	c := g.config()
	g.State.sf.Store(12)
	g.State.intervalMs.Store(mathx.Max(g.State.IntervalMs(), c.JoinFailMs))
	println("[governor] join failed, sf 12 interval", g.State.IntervalMs())
}

func (g *Governor) RetryPolicy() RetryPolicy {
	c := g.config()
	return RetryPolicy{
		Attempts: c.RetryAttempts,
		Backoff:  time.Duration(c.RetryBackoffMs) * time.Millisecond,
	}
}

// Retry runs fn under the configured policy and degrades the interval when
// the budget runs out.
func (g *Governor) Retry(ctx context.Context, fn func(context.Context) error) error {
	exhausted, err := g.RetryPolicy().Do(ctx, fn)
	if exhausted {
		g.OnRetryExhausted()
	}
	return err
}

// WaterIntervalMs paces the water task: fast while alerting, slow with no
// flow, otherwise the normal cadence.
func WaterIntervalMs(c types.WaterConfig, alert, noFlow bool) uint32 {
	switch {
	case alert:
		return c.AlertIntervalMs
	case noFlow:
		return c.NoFlowIntervalMs
	}
	return c.NormalIntervalMs
}

// Check reads the battery once and applies it.
func (g *Governor) Check(conn *bus.Connection) (types.BatteryValue, error) {
	v, err := g.Src.ReadBattery()
	if err != nil {
		return v, err
	}
	v.TS = g.Clock.NowMs()
	g.ApplyBattery(v.Percent)
	if conn != nil {
		conn.Publish(conn.NewMessage(TopicBattery, v, true))
		conn.Publish(conn.NewMessage(TopicDuty, g.State.Snapshot(), true))
	}
	return v, nil
}

// -----------------------------------------------------------------------------
// Service loop
// -----------------------------------------------------------------------------

func (g *Governor) publishState(conn *bus.Connection, level, status string, err error) {
	st := types.ServiceState{Level: level, Status: status, TS: g.Clock.NowMs()}
	if err != nil {
		st.Error = err.Error()
	}
	conn.Publish(conn.NewMessage(TopicState, st, true))
}

func (g *Governor) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(config.Topic("governor"))
	defer conn.Unsubscribe(cfgSub)

	check := func() {
		if g.Src == nil {
			return
		}
		if _, err := g.Check(conn); err != nil {
			println("[governor] battery read failed:", err.Error())
			g.publishState(conn, "degraded", "battery_read_failed", err)
			return
		}
		g.publishState(conn, "up", "ok", nil)
	}
	check()

	tick := time.NewTicker(time.Duration(g.config().CheckMs) * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			println("[governor] stopping")
			return
		case <-tick.C:
			check()
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				return
			}
			c := g.config()
			if err := config.Decode(msg.Payload, &c); err != nil {
				println("[governor] bad config:", err.Error())
				continue
			}
			if c.CheckMs == 0 {
				c.CheckMs = types.DefaultGovernorConfig().CheckMs
			}
			g.SetConfig(c)
			tick.Reset(time.Duration(c.CheckMs) * time.Millisecond)
		}
	}
}

// Start launches the governor loop.
func (g *Governor) Start(ctx context.Context, conn *bus.Connection) {
	go g.serviceLoop(ctx, conn)
}
