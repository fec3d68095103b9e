package types

// AlertFlag names one independent threshold violation. Flags from both
// sectors share one set; the on-air bit position is sector specific.
type AlertFlag uint8

const (
	OverVoltage AlertFlag = iota
	UnderVoltage
	OverCurrent
	OverPower
	LowPowerFactor
	HighTHD
	FrequencyDeviation
	PhaseImbalance

	LowPressure
	HighPressure
	NoFlow
	HighFlow
	LowPH
	HighPH
	LeakDetected
	SensorFault

	numAlertFlags
)

var alertNames = [numAlertFlags]string{
	"over_voltage", "under_voltage", "over_current", "over_power",
	"low_pf", "high_thd", "freq_deviation", "phase_imbalance",
	"low_pressure", "high_pressure", "no_flow", "high_flow",
	"low_ph", "high_ph", "leak", "sensor_fault",
}

func (f AlertFlag) String() string {
	if f < numAlertFlags {
		return alertNames[f]
	}
	return "unknown"
}

// AlertSet is a fixed-size set of AlertFlag values. The zero value is empty.
type AlertSet struct{ bits uint16 }

func NewAlertSet(flags ...AlertFlag) AlertSet {
	var s AlertSet
	for _, f := range flags {
		s.Add(f)
	}
	return s
}

func (s *AlertSet) Add(f AlertFlag) {
	if f < numAlertFlags {
		s.bits |= 1 << f
	}
}

func (s *AlertSet) Remove(f AlertFlag)       { s.bits &^= 1 << f }
func (s AlertSet) Has(f AlertFlag) bool      { return f < numAlertFlags && s.bits&(1<<f) != 0 }
func (s AlertSet) Empty() bool               { return s.bits == 0 }
func (s AlertSet) Union(o AlertSet) AlertSet { return AlertSet{bits: s.bits | o.bits} }

// Any reports whether at least one of flags is present.
func (s AlertSet) Any(flags ...AlertFlag) bool {
	for _, f := range flags {
		if s.Has(f) {
			return true
		}
	}
	return false
}

// Flags lists members in declaration order.
func (s AlertSet) Flags() []AlertFlag {
	var out []AlertFlag
	for f := AlertFlag(0); f < numAlertFlags; f++ {
		if s.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// Mask packs the sector's eight flags into the on-air byte (bit 0 first).
func (s AlertSet) Mask(sector Sector) uint8 {
	base := OverVoltage
	if sector == SectorWater {
		base = LowPressure
	}
	var m uint8
	for i := AlertFlag(0); i < 8; i++ {
		if s.Has(base + i) {
			m |= 1 << i
		}
	}
	return m
}

// AlertSetFromMask is the inverse of Mask.
func AlertSetFromMask(sector Sector, m uint8) AlertSet {
	base := OverVoltage
	if sector == SectorWater {
		base = LowPressure
	}
	var s AlertSet
	for i := AlertFlag(0); i < 8; i++ {
		if m&(1<<i) != 0 {
			s.Add(base + i)
		}
	}
	return s
}

// Severity tiers escalate normal -> alert -> emergency.
type Severity uint8

const (
	SeverityNormal Severity = iota
	SeverityAlert
	SeverityEmergency
)

func (s Severity) String() string {
	switch s {
	case SeverityAlert:
		return "alert"
	case SeverityEmergency:
		return "emergency"
	}
	return "normal"
}

// Alert is the per-cycle classification outcome.
type Alert struct {
	Flags    AlertSet
	Severity Severity
}

// AlertEvent is published on "sensing/alert" whenever a cycle raises flags.
type AlertEvent struct {
	Sector Sector `json:"sector"`
	Flags  uint8  `json:"flags"`
	Level  string `json:"severity"`
	TS     int64  `json:"ts_ms"`
	Alert  Alert  `json:"-"`
}

func NewAlertEvent(s Sector, a Alert, ts int64) AlertEvent {
	return AlertEvent{Sector: s, Flags: a.Flags.Mask(s), Level: a.Severity.String(), TS: ts, Alert: a}
}
