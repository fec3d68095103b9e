package types

// ServiceState is the retained health record each service publishes.
type ServiceState struct {
	Level  string `json:"level"`  // "idle", "up", "degraded", "error"
	Status string `json:"status"` // short machine string
	TS     int64  `json:"ts_ms"`
	Error  string `json:"error,omitempty"`
}

// UplinkStatus mirrors the engine's observable state.
type UplinkStatus struct {
	State    string `json:"state"`
	Joined   bool   `json:"joined"`
	DevAddr  uint32 `json:"dev_addr"`
	FCntUp   uint32 `json:"fcnt_up"`
	FCntDown uint32 `json:"fcnt_down"`
	EmergCnt uint32 `json:"emergency_cnt"`
	RSSI     int16  `json:"rssi"`
	SNR      int8   `json:"snr"`
	LastTxMs int64  `json:"last_tx_ms"`
}

// NodeStatus is the housekeeping snapshot retained on "status/node".
type NodeStatus struct {
	UptimeS      uint32       `json:"uptime_s"`
	Overruns     uint32       `json:"overruns"`
	QueueDepth   int          `json:"queue_depth"`
	QueueFlushes uint32       `json:"queue_flushes"`
	Uplink       UplinkStatus `json:"uplink"`
	Duty         DutyCycle    `json:"duty"`
	EnclosureDC  int32        `json:"enclosure_deci_c,omitempty"`
	EnclosureDRH int32        `json:"enclosure_deci_rh,omitempty"`
	TS           int64        `json:"ts_ms"`
}
