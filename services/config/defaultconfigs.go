package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: device ID (same value placed in ctx under CtxDeviceKey)
// Val: raw JSON bytes for that device
// -----------------------------------------------------------------------------

const cfgFieldnode = `{
  "electrical": {
    "sector_id": 1,
    "node_id": 1,
    "voltage_range": 250,
    "current_range": 100,
    "sample_rate_hz": 2000,
    "window_samples": 2048,
    "nominal_hz": 50
  },
  "water": {
    "sector_id": 2,
    "node_id": 1,
    "leak_threshold": 0.5
  },
  "uplink": {
    "region": "au915",
    "min_gap_ms": 99000,
    "sf": 10,
    "tx_power_dbm": 14
  },
  "governor": {
    "check_ms": 600000
  },
  "housekeeping": {
    "interval_ms": 3600000
  },
  "console": {
    "transport": {
      "type": "uart",
      "uart": {"baud": 115200, "rx_pin": 5, "tx_pin": 4}
    }
  }
}`

const cfgFieldnodeWater = `{
  "water": {
    "sector_id": 2,
    "node_id": 7,
    "pressure_range": 10,
    "flow_range": 100,
    "leak_threshold": 0.5
  },
  "uplink": {
    "region": "au915",
    "data_port": 20,
    "emergency_port": 98
  },
  "governor": {
    "check_ms": 600000
  },
  "housekeeping": {
    "interval_ms": 3600000
  },
  "console": {
    "transport": {
      "type": "uart",
      "uart": {"baud": 115200, "rx_pin": 5, "tx_pin": 4}
    }
  }
}`

var embeddedConfigs = map[string][]byte{
	"fieldnode":       []byte(cfgFieldnode),
	"fieldnode-water": []byte(cfgFieldnodeWater),
}
