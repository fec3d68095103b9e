// Package safety maps measurements onto alert flags and an escalation tier.
// Classification is pure; the only state lives in LeakTracker.
package safety

import (
	"math"

	"fieldnode-go/types"
)

// Thresholds for the electrical sector.
type Thresholds struct {
	VoltageRange float64
	CurrentRange float64
	NominalHz    float64
	PFLimit      float64
	THDLimit     float64
}

func ThresholdsFrom(c types.ElectricalConfig) Thresholds {
	return Thresholds{
		VoltageRange: c.VoltageRange,
		CurrentRange: c.CurrentRange,
		NominalHz:    c.NominalHz,
		PFLimit:      c.PFLimit,
		THDLimit:     c.THDLimit,
	}
}

const (
	overVoltageFactor  = 1.10
	underVoltageFactor = 0.85
	overCurrentFactor  = 0.90
	overPowerFactor    = 0.90
	freqToleranceHz    = 2.0
)

// flags that bypass the telemetry path
var emergencyFlags = []types.AlertFlag{
	types.OverVoltage, types.OverCurrent, types.OverPower, types.LeakDetected,
}

// SeverityOf escalates a flag set.
func SeverityOf(s types.AlertSet) types.Severity {
	switch {
	case s.Any(emergencyFlags...):
		return types.SeverityEmergency
	case !s.Empty():
		return types.SeverityAlert
	}
	return types.SeverityNormal
}

// ClassifyElectrical checks each threshold independently. PhaseImbalance is
// reserved for polyphase nodes and never raised here.
func ClassifyElectrical(r types.AnalysisResult, th Thresholds) types.Alert {
	var s types.AlertSet
	if r.VoltageRMS > th.VoltageRange*overVoltageFactor {
		s.Add(types.OverVoltage)
	}
	if r.VoltageRMS < th.VoltageRange*underVoltageFactor {
		s.Add(types.UnderVoltage)
	}
	if r.CurrentRMS > th.CurrentRange*overCurrentFactor {
		s.Add(types.OverCurrent)
	}
	if r.ActivePower > th.VoltageRange*th.CurrentRange*overPowerFactor {
		s.Add(types.OverPower)
	}
	if r.PowerFactor < th.PFLimit {
		s.Add(types.LowPowerFactor)
	}
	if r.THDVoltage > th.THDLimit || r.THDCurrent > th.THDLimit {
		s.Add(types.HighTHD)
	}
	if math.Abs(r.Frequency-th.NominalHz) > freqToleranceHz {
		s.Add(types.FrequencyDeviation)
	}
	return types.Alert{Flags: s, Severity: SeverityOf(s)}
}
