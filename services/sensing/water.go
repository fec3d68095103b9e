package sensing

import (
	"context"
	"sync"
	"time"

	"fieldnode-go/bus"
	"fieldnode-go/services/analysis"
	"fieldnode-go/services/config"
	"fieldnode-go/services/governor"
	"fieldnode-go/services/mailbox"
	"fieldnode-go/services/safety"
	"fieldnode-go/types"
	"fieldnode-go/x/timex"
)

// WaterSensors reads the water-sector probes. Read fills pressure, flow,
// pH, temperature, turbidity and SensorStatus (non-zero on a probe fault).
type WaterSensors interface {
	Pressure() (float64, error)
	Read() (types.WaterReading, error)
}

// Water runs two cadences on one loop: a fast leak check on pressure alone
// and the full measurement paced by the alert state.
type Water struct {
	Sensors   WaterSensors
	Telemetry *mailbox.Mailbox[types.Telemetry]
	Emergency EmergencySender
	Clock     timex.Clock

	mu  sync.Mutex
	cfg types.WaterConfig
	th  safety.WaterThresholds

	leaks       safety.LeakTracker
	leakPending bool

	totalL     float64
	lastFlowMs int64
	hasFlow    bool
}

func NewWater(cfg types.WaterConfig, sensors WaterSensors, clock timex.Clock) *Water {
	if clock == nil {
		clock = timex.System{}
	}
	return &Water{
		Sensors: sensors,
		Clock:   clock,
		cfg:     cfg,
		th:      safety.WaterThresholdsFrom(cfg),
	}
}

func (w *Water) SetConfig(c types.WaterConfig) {
	w.mu.Lock()
	w.cfg = c
	w.th = safety.WaterThresholdsFrom(c)
	w.mu.Unlock()
}

func (w *Water) config() (types.WaterConfig, safety.WaterThresholds) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg, w.th
}

// CheckLeak samples pressure into the leak history and sends a water
// emergency when the trend falls faster than the threshold. leak reports
// whether tel holds an emergency.
func (w *Water) CheckLeak(ctx context.Context) (tel types.Telemetry, leak bool, err error) {
	p, err := w.Sensors.Pressure()
	if err != nil {
		return tel, false, err
	}
	w.leaks.Push(p)
	trend, ok := w.leaks.Trend()
	cfg, th := w.config()
	if !ok || trend >= -th.LeakThreshold {
		return tel, false, nil
	}

	flags := types.NewAlertSet(types.LeakDetected)
	if p < 1.0 {
		flags.Add(types.LowPressure)
	}
	tel = types.Telemetry{
		Sector: types.SectorWater,
		NodeID: cfg.NodeID,
		Alert:  types.Alert{Flags: flags, Severity: safety.SeverityOf(flags)},
		Water:  &types.WaterReading{TimestampMs: w.Clock.NowMs(), PressureBar: p, Trend: trend, Alerts: flags},
	}
	println("[sensing] leak suspected, pressure falling")
	w.leakPending = true
	return tel, true, alarm(ctx, w.Emergency, tel)
}

// LeakCheckMs is the next leak-check delay: fast while a leak is pending
// or the pressure is already sliding.
func (w *Water) LeakCheckMs() uint32 {
	cfg, th := w.config()
	if w.leakPending || w.leaks.Suspected(th.LeakThreshold) {
		return cfg.LeakCheckFastMs
	}
	return cfg.LeakCheckMs
}

// Measure reads every probe, integrates the flow, classifies and queues
// the reading as telemetry.
func (w *Water) Measure(ctx context.Context) (types.Telemetry, error) {
	r, err := w.Sensors.Read()
	if err != nil {
		return types.Telemetry{}, err
	}
	now := w.Clock.NowMs()
	r.TimestampMs = now
	if w.hasFlow && now > w.lastFlowMs {
		w.totalL += r.FlowLPM * float64(now-w.lastFlowMs) / 60_000
	}
	w.lastFlowMs, w.hasFlow = now, true
	r.TotalFlowL = uint32(w.totalL)
	if trend, ok := w.leaks.Trend(); ok {
		r.Trend = trend
	}

	cfg, th := w.config()
	a := safety.ClassifyWater(r, th, 0)
	if w.leakPending {
		a.Flags.Add(types.LeakDetected)
		a.Severity = safety.SeverityOf(a.Flags)
		w.leakPending = false
	}
	r.Grade = analysis.GradeWater(r)
	r.Alerts = a.Flags

	tel := types.Telemetry{Sector: types.SectorWater, NodeID: cfg.NodeID, Alert: a, Water: &r}
	return tel, route(ctx, w.Telemetry, tel, sendTimeout)
}

// MeasureMs paces the next measurement from the last result.
func (w *Water) MeasureMs(tel types.Telemetry) uint32 {
	cfg, _ := w.config()
	noFlow := tel.Water != nil && tel.Water.FlowLPM < 0.1
	return governor.WaterIntervalMs(cfg, tel.Alert.Severity != types.SeverityNormal, noFlow)
}

func ms32(v uint32) time.Duration { return time.Duration(v) * time.Millisecond }

func (w *Water) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(config.Topic("water"))
	defer conn.Unsubscribe(cfgSub)

	leakT := time.NewTimer(ms32(w.LeakCheckMs()))
	defer leakT.Stop()
	measureT := time.NewTimer(0)
	defer measureT.Stop()
	publishState(conn, w.Clock.NowMs(), "up", "measuring", nil)

	for {
		select {
		case <-ctx.Done():
			println("[sensing] water stopping")
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				return
			}
			c := types.DefaultWaterConfig()
			if err := config.Decode(msg.Payload, &c); err != nil {
				println("[sensing] bad water config:", err.Error())
				continue
			}
			w.SetConfig(c)
		case <-leakT.C:
			tel, leak, err := w.CheckLeak(ctx)
			if err != nil {
				println("[sensing] leak check failed:", err.Error())
				publishState(conn, w.Clock.NowMs(), "degraded", "pressure_read_failed", err)
			}
			if leak {
				publishAlert(conn, tel, w.Clock.NowMs())
				// pull the next measurement forward so the leak flag goes out
				timex.ResetTimer(measureT, 0)
			}
			leakT.Reset(ms32(w.LeakCheckMs()))
		case <-measureT.C:
			tel, err := w.Measure(ctx)
			if tel.Water == nil {
				println("[sensing] water read failed:", err.Error())
				publishState(conn, w.Clock.NowMs(), "degraded", "sensor_read_failed", err)
				cfg, _ := w.config()
				measureT.Reset(ms32(cfg.AlertIntervalMs))
				continue
			}
			if err != nil {
				println("[sensing] telemetry lost:", err.Error())
			}
			conn.Publish(conn.NewMessage(TopicWater, *tel.Water, true))
			publishAlert(conn, tel, tel.Water.TimestampMs)
			measureT.Reset(ms32(w.MeasureMs(tel)))
		}
	}
}

// Start launches the water sensing loop.
func (w *Water) Start(ctx context.Context, conn *bus.Connection) {
	go w.serviceLoop(ctx, conn)
}
