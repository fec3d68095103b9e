package types

// Service configuration, published retained on "config/<key>" and decoded
// over the defaults below, so partial documents only override what they name.

// Calibration converts raw converter counts to physical units:
// value = (raw - Offset) * Scale.
type Calibration struct {
	VoltageScale  float64 `json:"voltage_scale"`
	VoltageOffset float64 `json:"voltage_offset"`
	CurrentScale  float64 `json:"current_scale"`
	CurrentOffset float64 `json:"current_offset"`
}

// "config/electrical"
type ElectricalConfig struct {
	SectorID      uint8       `json:"sector_id"`
	NodeID        uint8       `json:"node_id"`
	VoltageRange  float64     `json:"voltage_range"`
	CurrentRange  float64     `json:"current_range"`
	SampleRateHz  uint32      `json:"sample_rate_hz"`
	WindowSamples int         `json:"window_samples"`
	NominalHz     float64     `json:"nominal_hz"`
	PFLimit       float64     `json:"pf_limit"`
	THDLimit      float64     `json:"thd_limit"`
	Harmonics     int         `json:"harmonics"`
	WindowMs      uint32      `json:"window_ms"`
	Calibration   Calibration `json:"calibration"`
}

func DefaultElectricalConfig() ElectricalConfig {
	return ElectricalConfig{
		SectorID:      uint8(SectorEnergy),
		NodeID:        0x01,
		VoltageRange:  250,
		CurrentRange:  100,
		SampleRateHz:  2000,
		WindowSamples: 2048,
		NominalHz:     50,
		PFLimit:       0.85,
		THDLimit:      5,
		Harmonics:     40,
		WindowMs:      1000,
		Calibration: Calibration{
			VoltageScale:  250.0 / 1024,
			VoltageOffset: 2048,
			CurrentScale:  100.0 / 1024,
			CurrentOffset: 2048,
		},
	}
}

// "config/water"
type WaterConfig struct {
	SectorID         uint8   `json:"sector_id"`
	NodeID           uint8   `json:"node_id"`
	PressureRange    float64 `json:"pressure_range"`
	FlowRange        float64 `json:"flow_range"`
	LeakThreshold    float64 `json:"leak_threshold"`
	LeakCheckMs      uint32  `json:"leak_check_ms"`
	LeakCheckFastMs  uint32  `json:"leak_check_fast_ms"`
	AlertIntervalMs  uint32  `json:"alert_interval_ms"`
	NoFlowIntervalMs uint32  `json:"no_flow_interval_ms"`
	NormalIntervalMs uint32  `json:"normal_interval_ms"`
}

func DefaultWaterConfig() WaterConfig {
	return WaterConfig{
		SectorID:         uint8(SectorWater),
		NodeID:           0x01,
		PressureRange:    10,
		FlowRange:        100,
		LeakThreshold:    0.5,
		LeakCheckMs:      10_000,
		LeakCheckFastMs:  5_000,
		AlertIntervalMs:  30_000,
		NoFlowIntervalMs: 300_000,
		NormalIntervalMs: 60_000,
	}
}

// "config/uplink"
type UplinkConfig struct {
	Region        string `json:"region"` // "au915" | "eu868" | "us915"
	DevEUI        string `json:"dev_eui"`
	AppEUI        string `json:"app_eui"`
	AppKey        string `json:"app_key"`
	MinGapMs      uint32 `json:"min_gap_ms"`
	JoinWindowMs  uint32 `json:"join_window_ms"`
	TxTimeoutMs   uint32 `json:"tx_timeout_ms"`
	RxWindowMs    uint32 `json:"rx_window_ms"`
	MaxPayload    int    `json:"max_payload"`
	DataPort      uint8  `json:"data_port"`
	EmergencyPort uint8  `json:"emergency_port"`
	SF            uint8  `json:"sf"`
	TxPowerDBm    int8   `json:"tx_power_dbm"`
	JoinAttempts  int    `json:"join_attempts"`
}

func DefaultUplinkConfig() UplinkConfig {
	return UplinkConfig{
		Region:        "au915",
		DevEUI:        "70B3D57ED0061234",
		AppEUI:        "70B3D57ED0060001",
		AppKey:        "2B7E151628AED2A6ABF7158809CF4F3C",
		MinGapMs:      99_000,
		JoinWindowMs:  5_000,
		TxTimeoutMs:   2_000,
		MaxPayload:    242,
		DataPort:      10,
		EmergencyPort: 99,
		SF:            10,
		TxPowerDBm:    14,
		JoinAttempts:  5,
	}
}

// "config/governor"
type GovernorConfig struct {
	CheckMs        uint32 `json:"check_ms"`
	RetryAttempts  int    `json:"retry_attempts"`
	RetryBackoffMs uint32 `json:"retry_backoff_ms"`
	DegradedMs     uint32 `json:"degraded_interval_ms"`
	JoinFailMs     uint32 `json:"join_fail_interval_ms"`
}

func DefaultGovernorConfig() GovernorConfig {
	return GovernorConfig{
		CheckMs:        600_000,
		RetryAttempts:  3,
		RetryBackoffMs: 5_000,
		DegradedMs:     1_800_000,
		JoinFailMs:     900_000,
	}
}

// "config/housekeeping"
type HousekeepingConfig struct {
	IntervalMs uint32 `json:"interval_ms"`
}

func DefaultHousekeepingConfig() HousekeepingConfig {
	return HousekeepingConfig{IntervalMs: 3_600_000}
}
