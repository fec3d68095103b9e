package types

// Sector identifies the deployment domain of a node; it is also the first
// byte of every telemetry frame.
type Sector uint8

const (
	SectorEnergy Sector = 0x01
	SectorWater  Sector = 0x02
)

func (s Sector) String() string {
	switch s {
	case SectorEnergy:
		return "energy"
	case SectorWater:
		return "water"
	}
	return "unknown"
}

// Grade is the ordinal quality grade, A (best) .. F (worst).
type Grade uint8

const (
	GradeA Grade = iota
	GradeB
	GradeC
	GradeD
	GradeE
	GradeF
)

// Degrade steps the grade down n levels, saturating at F.
func (g Grade) Degrade(n int) Grade {
	v := int(g) + n
	if v > int(GradeF) {
		v = int(GradeF)
	}
	return Grade(v)
}

func (g Grade) String() string { return string(rune('A' + g)) }

// AnalysisResult is produced once per completed sample window.
type AnalysisResult struct {
	TimestampMs int64 `json:"ts_ms"`

	VoltageRMS    float64 `json:"v_rms"`
	CurrentRMS    float64 `json:"i_rms"`
	ActivePower   float64 `json:"p_w"`
	ReactivePower float64 `json:"q_var"`
	ApparentPower float64 `json:"s_va"`
	PowerFactor   float64 `json:"pf"`
	Frequency     float64 `json:"freq_hz"`
	THDVoltage    float64 `json:"thd_v_pct"`
	THDCurrent    float64 `json:"thd_i_pct"`

	Grade  Grade    `json:"grade"`
	Alerts AlertSet `json:"-"`
}

// WaterReading is one water-sector measurement cycle.
type WaterReading struct {
	TimestampMs int64 `json:"ts_ms"`

	PressureBar  float64 `json:"pressure_bar"`
	FlowLPM      float64 `json:"flow_lpm"`
	PH           float64 `json:"ph"`
	TemperatureC float64 `json:"temp_c"`
	TurbidityNTU float64 `json:"turbidity_ntu"`
	TotalFlowL   uint32  `json:"total_flow_l"`
	SensorStatus uint8   `json:"sensor_status"`

	// Pressure trend in bar per sample (negative = falling).
	Trend  float64  `json:"trend"`
	Grade  Grade    `json:"grade"`
	Alerts AlertSet `json:"-"`
}

// Telemetry is the unit moved through the mailboxes to the uplink task.
// Exactly one of Energy or Water is set, matching Sector.
type Telemetry struct {
	Sector Sector
	NodeID uint8
	Alert  Alert
	Energy *AnalysisResult
	Water  *WaterReading
}
