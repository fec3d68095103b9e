package uplink

import (
	"encoding/binary"
	"testing"

	"fieldnode-go/types"
	"fieldnode-go/x/crc8"
)

func TestEncodeEnergy(t *testing.T) {
	r := types.AnalysisResult{
		TimestampMs:   1_700_000_123_456,
		VoltageRMS:    230,
		CurrentRMS:    5.25,
		ActivePower:   1207,
		ReactivePower: 300,
		PowerFactor:   0.5,
		Frequency:     50,
		THDVoltage:    2.5,
		THDCurrent:    12.5,
		Grade:         types.GradeC,
	}
	a := types.Alert{Flags: types.NewAlertSet(types.OverCurrent, types.HighTHD), Severity: types.SeverityAlert}
	b := EncodeEnergy(7, r, a, 83)

	if len(b) != EnergyLen {
		t.Fatalf("len = %d", len(b))
	}
	if b[0] != 0x01 || b[1] != 7 || b[2] != TypeEnergy {
		t.Fatalf("header % x", b[:3])
	}
	if b[3] != 1<<2|1<<5 {
		t.Fatalf("flags = %08b", b[3])
	}
	if v := binary.BigEndian.Uint16(b[4:]); v != 2300 {
		t.Fatalf("voltage = %d", v)
	}
	if v := binary.BigEndian.Uint16(b[6:]); v != 525 {
		t.Fatalf("current = %d", v)
	}
	if v := binary.BigEndian.Uint16(b[8:]); v != 1207 {
		t.Fatalf("power = %d", v)
	}
	if b[10] != 50 || b[11] != 50 || b[12] != 25 || b[13] != 125 || b[14] != 2 {
		t.Fatalf("pf/freq/thd/grade % x", b[10:15])
	}
	if ts := binary.BigEndian.Uint32(b[15:]); ts != 1_700_000_123 {
		t.Fatalf("timestamp = %d", ts)
	}
	if q := binary.BigEndian.Uint16(b[19:]); q != 300 {
		t.Fatalf("reactive = %d", q)
	}
	if b[21] != 83 {
		t.Fatalf("battery = %d", b[21])
	}
	if b[22] != crc8.Checksum(b[:22]) || b[23] != 0 {
		t.Fatalf("trailer % x", b[22:])
	}
}

func TestEncodeEnergySaturates(t *testing.T) {
	r := types.AnalysisResult{VoltageRMS: 9000, Frequency: 40, PowerFactor: -1}
	b := EncodeEnergy(1, r, types.Alert{}, 0)
	if v := binary.BigEndian.Uint16(b[4:]); v != 0xFFFF {
		t.Fatalf("voltage = %d", v)
	}
	if b[10] != 0 || b[11] != 0 {
		t.Fatalf("pf/freq = %d/%d", b[10], b[11])
	}
}

func TestEncodeWater(t *testing.T) {
	w := types.WaterReading{
		PressureBar:  2.5,
		FlowLPM:      12.5,
		PH:           7.5,
		TemperatureC: 18,
		TurbidityNTU: 4,
		TotalFlowL:   123_456,
		SensorStatus: 0x03,
		Grade:        types.GradeB,
	}
	a := types.Alert{Flags: types.NewAlertSet(types.LeakDetected)}
	b := EncodeWater(4, w, a, 61)
	if len(b) != WaterLen {
		t.Fatalf("len = %d", len(b))
	}
	if b[0] != 0x02 || b[1] != 4 || b[2] != TypeWater || b[3] != 1 {
		t.Fatalf("header % x", b[:4])
	}
	if binary.BigEndian.Uint16(b[4:]) != 250 || binary.BigEndian.Uint16(b[6:]) != 125 {
		t.Fatalf("pressure/flow % x", b[4:8])
	}
	if b[8] != 25 || b[9] != 38 || b[10] != 8 || b[11] != 1 {
		t.Fatalf("ph/temp/turbidity/grade % x", b[8:12])
	}
	if binary.BigEndian.Uint32(b[12:]) != 123_456 || b[16] != 61 || b[17] != 0x03 {
		t.Fatalf("tail % x", b[12:])
	}
}

// Byte 3 is a leak boolean; other water alerts never leak into it.
func TestEncodeWaterLeakByte(t *testing.T) {
	w := types.WaterReading{PressureBar: 0.5, PH: 9.5}
	others := types.Alert{Flags: types.NewAlertSet(types.LowPressure, types.HighPH, types.SensorFault), Severity: types.SeverityAlert}
	if b := EncodeWater(4, w, others, 50); b[3] != 0 {
		t.Fatalf("no leak: byte 3 = %#x", b[3])
	}
	all := others
	all.Flags.Add(types.LeakDetected)
	if b := EncodeWater(4, w, all, 50); b[3] != 1 {
		t.Fatalf("leak: byte 3 = %#x", b[3])
	}
}

func TestEncodeEmergencies(t *testing.T) {
	a := types.Alert{Flags: types.NewAlertSet(types.OverVoltage), Severity: types.SeverityEmergency}
	e := EncodeEnergyEmergency(a, 5_000)
	want := []byte{0xFF, 0x01, 0x01, 0xAA, 0, 0, 0, 5}
	if string(e) != string(want) {
		t.Fatalf("energy emergency % x, want % x", e, want)
	}

	w := types.WaterReading{PressureBar: 0.5, Trend: -0.25, TimestampMs: 60_000}
	wa := types.Alert{Flags: types.NewAlertSet(types.LowPressure, types.LeakDetected), Severity: types.SeverityEmergency}
	b := EncodeWaterEmergency(9, w, wa)
	if len(b) != WaterEmergencyLen {
		t.Fatalf("len = %d", len(b))
	}
	if b[0] != 0xFF || b[1] != 0x02 || b[2] != 1|1<<6 || b[3] != 5 || int8(b[4]) != -2 || b[5] != 9 {
		t.Fatalf("water emergency % x", b)
	}
	if binary.BigEndian.Uint32(b[6:]) != 60 {
		t.Fatalf("timestamp % x", b[6:])
	}
}

func TestEncodeDispatch(t *testing.T) {
	energy := types.Telemetry{Sector: types.SectorEnergy, Energy: &types.AnalysisResult{}}
	water := types.Telemetry{Sector: types.SectorWater, Water: &types.WaterReading{}}
	cases := []struct {
		name string
		tel  types.Telemetry
		emer bool
		want int
	}{
		{"energy", energy, false, EnergyLen},
		{"energy emergency", energy, true, EnergyEmergencyLen},
		{"water", water, false, WaterLen},
		{"water emergency", water, true, WaterEmergencyLen},
		{"empty", types.Telemetry{}, false, 0},
	}
	for _, tc := range cases {
		if got := len(Encode(tc.tel, 50, tc.emer)); got != tc.want {
			t.Errorf("%s: len = %d, want %d", tc.name, got, tc.want)
		}
	}
}
