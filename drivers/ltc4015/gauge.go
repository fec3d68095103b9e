package ltc4015

import (
	"errors"

	"fieldnode-go/types"
	"fieldnode-go/x/mathx"
)

var ErrNotValid = errors.New("ltc4015: measurement system not ready")

// Open-circuit per-cell windows (empty, full) in mV.
var socWindow = map[Chemistry][2]float64{
	ChemLithium:  {3300, 4200},
	ChemLiFePO4:  {3000, 3450},
	ChemLeadAcid: {1950, 2120},
}

// Percent estimates state of charge from the per-cell voltage.
func (d *Device) Percent() (uint8, error) {
	mV, err := d.Battery_mVPerCell()
	if err != nil {
		return 0, err
	}
	return percentFor(d.chem, mV), nil
}

func percentFor(c Chemistry, mVPerCell int32) uint8 {
	win, ok := socWindow[c]
	if !ok {
		win = socWindow[ChemLithium]
	}
	return uint8(mathx.Map(float64(mVPerCell), win[0], win[1], 0, 100) + 0.5)
}

// ReadBattery gathers the retained battery record. Current is best-effort:
// a missing sense resistor leaves it zero.
func (d *Device) ReadBattery() (types.BatteryValue, error) {
	var v types.BatteryValue
	ok, err := d.MeasSystemValid()
	if err != nil {
		return v, err
	}
	if !ok {
		return v, ErrNotValid
	}
	if v.PerCellMilliV, err = d.Battery_mVPerCell(); err != nil {
		return v, err
	}
	v.PackMilliV = v.PerCellMilliV
	if d.cells > 0 {
		v.PackMilliV *= int32(d.cells)
	}
	if ma, err := d.Ibat_mA(); err == nil {
		v.IBatMilliA = ma
	}
	v.Percent = percentFor(d.chem, v.PerCellMilliV)
	return v, nil
}

// BatteryPercent satisfies the governor's battery source.
func (d *Device) BatteryPercent() (uint8, error) {
	v, err := d.ReadBattery()
	return v.Percent, err
}
