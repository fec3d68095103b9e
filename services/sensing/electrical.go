package sensing

import (
	"context"
	"sync"
	"time"

	"fieldnode-go/bus"
	"fieldnode-go/errcode"
	"fieldnode-go/services/acquire"
	"fieldnode-go/services/analysis"
	"fieldnode-go/services/config"
	"fieldnode-go/services/governor"
	"fieldnode-go/services/mailbox"
	"fieldnode-go/services/safety"
	"fieldnode-go/types"
	"fieldnode-go/x/timex"
)

// Electrical analyses each completed sample window. Emergencies go to the
// emergency sender at once; other results are queued as telemetry once per
// duty-cycle interval, or sooner when the severity rises.
type Electrical struct {
	Buf       *acquire.Buffer
	Analyzer  *analysis.Analyzer
	Gov       *governor.Governor
	Telemetry *mailbox.Mailbox[types.Telemetry]
	Emergency EmergencySender
	Clock     timex.Clock

	mu  sync.Mutex
	cfg types.ElectricalConfig
	th  safety.Thresholds

	hasTel   bool
	lastTel  int64
	lastSev  types.Severity
	hasEmerg bool
	lastEm   int64
	emFlags  types.AlertSet
}

func NewElectrical(cfg types.ElectricalConfig, buf *acquire.Buffer, an *analysis.Analyzer, clock timex.Clock) *Electrical {
	if clock == nil {
		clock = timex.System{}
	}
	return &Electrical{
		Buf:      buf,
		Analyzer: an,
		Clock:    clock,
		cfg:      cfg,
		th:       safety.ThresholdsFrom(cfg),
	}
}

// SetConfig applies thresholds and calibration. The window size is fixed
// at boot.
func (e *Electrical) SetConfig(c types.ElectricalConfig) {
	e.mu.Lock()
	e.cfg = c
	e.th = safety.ThresholdsFrom(c)
	e.mu.Unlock()
	if e.Analyzer != nil {
		e.Analyzer.SetCalibration(c.Calibration)
		e.Analyzer.NominalHz = c.NominalHz
	}
}

func (e *Electrical) config() (types.ElectricalConfig, safety.Thresholds) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg, e.th
}

// Classify analyses one window and classifies the result.
func (e *Electrical) Classify(w []acquire.Sample) (types.Telemetry, error) {
	r, err := e.Analyzer.Analyze(w)
	if err != nil {
		return types.Telemetry{}, err
	}
	cfg, th := e.config()
	a := safety.ClassifyElectrical(r, th)
	r.Alerts = a.Flags
	return types.Telemetry{
		Sector: types.SectorEnergy,
		NodeID: cfg.NodeID,
		Alert:  a,
		Energy: &r,
	}, nil
}

func (e *Electrical) intervalMs() int64 {
	if e.Gov != nil {
		return int64(e.Gov.State.IntervalMs())
	}
	return int64(defaultIntervalMs)
}

// Dispatch routes a classified result. It reports whether anything was
// sent or queued.
func (e *Electrical) Dispatch(ctx context.Context, tel types.Telemetry) (bool, error) {
	now := e.Clock.NowMs()
	if tel.Alert.Severity == types.SeverityEmergency {
		if e.hasEmerg && tel.Alert.Flags == e.emFlags && now-e.lastEm < emergencyHoldoff {
			return false, nil
		}
		println("[sensing] electrical emergency, flags", tel.Alert.Flags.Mask(types.SectorEnergy))
		if err := alarm(ctx, e.Emergency, tel); err != nil {
			return false, err
		}
		e.hasEmerg, e.lastEm, e.emFlags = true, now, tel.Alert.Flags
		return true, nil
	}

	due := !e.hasTel || now-e.lastTel >= e.intervalMs() || tel.Alert.Severity > e.lastSev
	if !due {
		return false, nil
	}
	if err := route(ctx, e.Telemetry, tel, sendTimeout); err != nil {
		return false, err
	}
	e.hasTel, e.lastTel, e.lastSev = true, now, tel.Alert.Severity
	return true, nil
}

// window takes one completed half, classifies it and hands the half back
// before anything is queued.
func (e *Electrical) window(ctx context.Context, timeout time.Duration) (types.Telemetry, error) {
	v, err := e.Buf.Acquire(ctx, timeout)
	if err != nil {
		return types.Telemetry{}, err
	}
	tel, err := e.Classify(v.Samples)
	e.Buf.Release(v)
	return tel, err
}

func (e *Electrical) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(config.Topic("electrical"))
	defer conn.Unsubscribe(cfgSub)

	cfg, _ := e.config()
	timeout := 2 * time.Duration(cfg.WindowMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	publishState(conn, e.Clock.NowMs(), "up", "sampling", nil)
	stalled := false

	for {
		select {
		case <-ctx.Done():
			println("[sensing] electrical stopping")
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				return
			}
			c := types.DefaultElectricalConfig()
			if err := config.Decode(msg.Payload, &c); err != nil {
				println("[sensing] bad electrical config:", err.Error())
				continue
			}
			e.SetConfig(c)
			continue
		default:
		}

		tel, err := e.window(ctx, timeout)
		switch {
		case ctx.Err() != nil:
			return
		case errcode.Is(err, errcode.Timeout):
			if !stalled {
				println("[sensing] no sample window:", err.Error())
				publishState(conn, e.Clock.NowMs(), "degraded", "no_window", err)
				stalled = true
			}
			continue
		case err != nil:
			println("[sensing] analysis failed:", err.Error())
			publishState(conn, e.Clock.NowMs(), "error", "analysis_failed", err)
			continue
		}
		if stalled {
			publishState(conn, e.Clock.NowMs(), "up", "sampling", nil)
			stalled = false
		}

		conn.Publish(conn.NewMessage(TopicElectrical, *tel.Energy, true))
		sent, err := e.Dispatch(ctx, tel)
		if err != nil {
			println("[sensing] telemetry lost:", err.Error())
		}
		if sent {
			publishAlert(conn, tel, e.Clock.NowMs())
		}
	}
}

// Start launches the electrical sensing loop.
func (e *Electrical) Start(ctx context.Context, conn *bus.Connection) {
	go e.serviceLoop(ctx, conn)
}
