package types

// BatteryValue is retained on "power/battery".
type BatteryValue struct {
	Percent       uint8 `json:"percent"`
	PackMilliV    int32 `json:"pack_mV"`
	PerCellMilliV int32 `json:"per_cell_mV"`
	IBatMilliA    int32 `json:"ibat_mA"`
	TS            int64 `json:"ts_ms"`
}

// Band is a duty-cycle operating point chosen from battery level.
type Band string

const (
	BandNormal       Band = "normal"
	BandConservative Band = "conservative"
	BandCritical     Band = "critical"
)

// DutyCycle is a point-in-time copy of the shared duty-cycle state.
type DutyCycle struct {
	Band       Band   `json:"band"`
	IntervalMs uint32 `json:"interval_ms"`
	SF         uint8  `json:"sf"`
	TxPowerDBm int8   `json:"tx_power_dbm"`
	LastTxMs   int64  `json:"last_tx_ms"`
}
