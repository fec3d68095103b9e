// Package housekeeping runs the slow maintenance cycle: node status
// snapshot, frame-counter persistence and the enclosure climate reading.
package housekeeping

import (
	"context"
	"time"

	"fieldnode-go/bus"
	"fieldnode-go/drivers/aht20"
	"fieldnode-go/services/config"
	"fieldnode-go/services/mailbox"
	"fieldnode-go/types"
	"fieldnode-go/x/timex"
)

var (
	TopicNode    = bus.T("status", "node")
	TopicRefresh = bus.T("housekeeping", "refresh")
	TopicState   = bus.T("housekeeping", "state")
)

// Uplink is the part of the uplink engine housekeeping reads and persists.
type Uplink interface {
	Status() types.UplinkStatus
	PersistCounter() error
}

type Overruns interface {
	Overruns() uint32
}

type DutySource interface {
	Snapshot() types.DutyCycle
}

// Climate reads the enclosure sensor.
type Climate interface {
	Read(ctx context.Context) (aht20.Sample, error)
}

type Service struct {
	Clock     timex.Clock
	Uplink    Uplink
	Buffer    Overruns
	Duty      DutySource
	Climate   Climate
	Mailboxes []*mailbox.Mailbox[types.Telemetry]

	bootMs int64
}

func New(clock timex.Clock) *Service {
	if clock == nil {
		clock = timex.System{}
	}
	return &Service{Clock: clock, bootMs: clock.NowMs()}
}

// Collect builds a status snapshot without side effects.
func (s *Service) Collect(ctx context.Context) types.NodeStatus {
	now := s.Clock.NowMs()
	st := types.NodeStatus{
		UptimeS: uint32((now - s.bootMs) / 1000),
		TS:      now,
	}
	if s.Buffer != nil {
		st.Overruns = s.Buffer.Overruns()
	}
	for _, mb := range s.Mailboxes {
		ms := mb.Stats()
		st.QueueDepth += ms.Depth
		st.QueueFlushes += ms.Flushes
	}
	if s.Uplink != nil {
		st.Uplink = s.Uplink.Status()
	}
	if s.Duty != nil {
		st.Duty = s.Duty.Snapshot()
	}
	if s.Climate != nil {
		if c, err := s.Climate.Read(ctx); err == nil {
			st.EnclosureDC = c.DeciCelsius()
			st.EnclosureDRH = c.DeciRelHumidity()
		} else {
			println("[housekeeping] climate read failed:", err.Error())
		}
	}
	return st
}

// RunOnce persists the frame counter, then publishes a fresh snapshot.
func (s *Service) RunOnce(ctx context.Context, conn *bus.Connection) types.NodeStatus {
	if s.Uplink != nil {
		if err := s.Uplink.PersistCounter(); err != nil {
			println("[housekeeping] fcnt persist failed:", err.Error())
			s.publishState(conn, "degraded", "persist_failed", err)
		}
	}
	st := s.Collect(ctx)
	conn.Publish(conn.NewMessage(TopicNode, st, true))
	println("[housekeeping] uptime", st.UptimeS, "s overruns", st.Overruns, "queued", st.QueueDepth)
	return st
}

func (s *Service) publishState(conn *bus.Connection, level, status string, err error) {
	st := types.ServiceState{Level: level, Status: status, TS: s.Clock.NowMs()}
	if err != nil {
		st.Error = err.Error()
	}
	conn.Publish(conn.NewMessage(TopicState, st, true))
}

func interval(c types.HousekeepingConfig) time.Duration {
	if c.IntervalMs == 0 {
		c = types.DefaultHousekeepingConfig()
	}
	return time.Duration(c.IntervalMs) * time.Millisecond
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(config.Topic("housekeeping"))
	defer conn.Unsubscribe(cfgSub)
	reqSub := conn.Subscribe(TopicRefresh)
	defer conn.Unsubscribe(reqSub)

	cfg := types.DefaultHousekeepingConfig()
	tick := time.NewTicker(interval(cfg))
	defer tick.Stop()

	s.publishState(conn, "up", "running", nil)
	s.RunOnce(ctx, conn)

	for {
		select {
		case <-ctx.Done():
			println("[housekeeping] stopping")
			return
		case <-tick.C:
			s.RunOnce(ctx, conn)
		case msg, ok := <-reqSub.Channel():
			if !ok {
				return
			}
			st := s.RunOnce(ctx, conn)
			conn.Reply(msg, st, false)
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				return
			}
			c := cfg
			if err := config.Decode(msg.Payload, &c); err != nil {
				println("[housekeeping] bad config:", err.Error())
				continue
			}
			cfg = c
			tick.Reset(interval(cfg))
			println("[housekeeping] interval", cfg.IntervalMs, "ms")
		}
	}
}

// Start launches the housekeeping loop.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) {
	go s.serviceLoop(ctx, conn)
}
