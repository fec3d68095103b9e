package uplink

import (
	"encoding/binary"

	"fieldnode-go/types"
	"fieldnode-go/x/crc8"
	"fieldnode-go/x/mathx"
)

// Frame type bytes.
const (
	TypeEnergy     = 0x10
	TypeWater      = 0x20
	TypeWaterAlarm = 0x40
	emergencyFlag  = 0xFF
	emergencySig   = 0xAA
)

const (
	EnergyLen          = 24
	WaterLen           = 18
	EnergyEmergencyLen = 8
	WaterEmergencyLen  = 10
)

func seconds(ms int64) uint32 {
	if ms <= 0 {
		return 0
	}
	return uint32(ms / 1000)
}

// EncodeEnergy packs an analysis result. Byte 22 is the CRC-8 of bytes
// 0..21 and byte 23 is reserved.
func EncodeEnergy(node uint8, r types.AnalysisResult, a types.Alert, battery uint8) []byte {
	b := make([]byte, EnergyLen)
	b[0] = uint8(types.SectorEnergy)
	b[1] = node
	b[2] = TypeEnergy
	b[3] = a.Flags.Mask(types.SectorEnergy)
	binary.BigEndian.PutUint16(b[4:], mathx.U16(r.VoltageRMS, 10))
	binary.BigEndian.PutUint16(b[6:], mathx.U16(r.CurrentRMS, 100))
	binary.BigEndian.PutUint16(b[8:], mathx.U16(r.ActivePower, 1))
	b[10] = mathx.U8(r.PowerFactor, 100)
	b[11] = mathx.U8(r.Frequency-45, 10)
	b[12] = mathx.U8(r.THDVoltage, 10)
	b[13] = mathx.U8(r.THDCurrent, 10)
	b[14] = uint8(r.Grade)
	binary.BigEndian.PutUint32(b[15:], seconds(r.TimestampMs))
	binary.BigEndian.PutUint16(b[19:], mathx.U16(r.ReactivePower, 1))
	b[21] = battery
	b[22] = crc8.Checksum(b[:22])
	return b
}

// EncodeWater packs a water reading. Byte 3 is 1 when a leak is flagged.
func EncodeWater(node uint8, w types.WaterReading, a types.Alert, battery uint8) []byte {
	b := make([]byte, WaterLen)
	b[0] = uint8(types.SectorWater)
	b[1] = node
	b[2] = TypeWater
	if a.Flags.Has(types.LeakDetected) {
		b[3] = 1
	}
	binary.BigEndian.PutUint16(b[4:], mathx.U16(w.PressureBar, 100))
	binary.BigEndian.PutUint16(b[6:], mathx.U16(w.FlowLPM, 10))
	b[8] = mathx.U8(w.PH-5, 10)
	b[9] = mathx.U8(w.TemperatureC+20, 1)
	b[10] = mathx.U8(w.TurbidityNTU, 2)
	b[11] = uint8(w.Grade)
	binary.BigEndian.PutUint32(b[12:], w.TotalFlowL)
	b[16] = battery
	b[17] = w.SensorStatus
	return b
}

// EncodeEnergyEmergency: FF | sector | flags | AA | time BE32.
func EncodeEnergyEmergency(a types.Alert, tsMs int64) []byte {
	b := make([]byte, EnergyEmergencyLen)
	b[0] = emergencyFlag
	b[1] = uint8(types.SectorEnergy)
	b[2] = a.Flags.Mask(types.SectorEnergy)
	b[3] = emergencySig
	binary.BigEndian.PutUint32(b[4:], seconds(tsMs))
	return b
}

// EncodeWaterEmergency: FF | sector | flags | P×10 | trend×10 | node | time BE32.
func EncodeWaterEmergency(node uint8, w types.WaterReading, a types.Alert) []byte {
	b := make([]byte, WaterEmergencyLen)
	b[0] = emergencyFlag
	b[1] = uint8(types.SectorWater)
	b[2] = a.Flags.Mask(types.SectorWater)
	b[3] = mathx.U8(w.PressureBar, 10)
	b[4] = uint8(mathx.I8(w.Trend, 10))
	b[5] = node
	binary.BigEndian.PutUint32(b[6:], seconds(w.TimestampMs))
	return b
}

// Encode picks the frame for a telemetry item; emergency selects the
// emergency layout.
func Encode(t types.Telemetry, battery uint8, emergency bool) []byte {
	switch {
	case t.Energy != nil && emergency:
		return EncodeEnergyEmergency(t.Alert, t.Energy.TimestampMs)
	case t.Energy != nil:
		return EncodeEnergy(t.NodeID, *t.Energy, t.Alert, battery)
	case t.Water != nil && emergency:
		return EncodeWaterEmergency(t.NodeID, *t.Water, t.Alert)
	case t.Water != nil:
		return EncodeWater(t.NodeID, *t.Water, t.Alert, battery)
	}
	return nil
}
