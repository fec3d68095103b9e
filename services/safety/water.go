package safety

import (
	"math"

	"fieldnode-go/types"
)

type WaterThresholds struct {
	PressureRange float64
	FlowRange     float64
	LeakThreshold float64 // bar per sample
}

func WaterThresholdsFrom(c types.WaterConfig) WaterThresholds {
	return WaterThresholds{
		PressureRange: c.PressureRange,
		FlowRange:     c.FlowRange,
		LeakThreshold: c.LeakThreshold,
	}
}

const (
	minPressureBar    = 1.0
	noFlowLPM         = 0.1
	noFlowPressureBar = 2.0
	minPH             = 6.5
	maxPH             = 8.5
)

// ClassifyWater raises water-sector flags. trend is the pressure slope from
// LeakTracker; pass 0 when the history is too short.
func ClassifyWater(w types.WaterReading, th WaterThresholds, trend float64) types.Alert {
	var s types.AlertSet
	if w.SensorStatus != 0 || math.IsNaN(w.PressureBar) || math.IsNaN(w.FlowLPM) {
		s.Add(types.SensorFault)
	}
	if w.PressureBar < minPressureBar {
		s.Add(types.LowPressure)
	}
	if w.PressureBar > th.PressureRange*0.9 {
		s.Add(types.HighPressure)
	}
	if w.FlowLPM < noFlowLPM && w.PressureBar > noFlowPressureBar {
		s.Add(types.NoFlow)
	}
	if w.FlowLPM > th.FlowRange*0.8 {
		s.Add(types.HighFlow)
	}
	if w.PH < minPH {
		s.Add(types.LowPH)
	}
	if w.PH > maxPH {
		s.Add(types.HighPH)
	}
	if trend < -th.LeakThreshold {
		s.Add(types.LeakDetected)
	}
	return types.Alert{Flags: s, Severity: SeverityOf(s)}
}

const historyLen = 10

// LeakTracker keeps a short circular pressure history.
type LeakTracker struct {
	h     [historyLen]float64
	head  int
	count int
}

func (t *LeakTracker) Push(p float64) {
	t.h[t.head] = p
	t.head = (t.head + 1) % historyLen
	if t.count < historyLen {
		t.count++
	}
}

// back returns the sample lag positions behind the newest (lag 1 = newest).
func (t *LeakTracker) back(lag int) float64 {
	return t.h[(t.head-lag+historyLen)%historyLen]
}

// Trend is the pressure change per sample across the last three samples.
// ok is false until three samples exist.
func (t *LeakTracker) Trend() (trend float64, ok bool) {
	if t.count < 3 {
		return 0, false
	}
	return (t.back(1) - t.back(3)) / 2, true
}

// Suspected reports a falling trend at half the leak threshold; the sensing
// task uses it to shorten the leak-check cadence.
func (t *LeakTracker) Suspected(threshold float64) bool {
	tr, ok := t.Trend()
	return ok && tr < -threshold/2
}

func (t *LeakTracker) Len() int { return t.count }

func (t *LeakTracker) Reset() { *t = LeakTracker{} }
