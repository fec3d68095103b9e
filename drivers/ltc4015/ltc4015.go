package ltc4015

import (
	"errors"

	"tinygo.org/x/drivers"
)

// Chemistry selects the VBAT scaling and the state-of-charge window.
type Chemistry uint8

const (
	ChemUnknown Chemistry = iota
	ChemLithium
	ChemLiFePO4
	ChemLeadAcid
)

func (c Chemistry) String() string {
	switch c {
	case ChemLithium:
		return "li"
	case ChemLiFePO4:
		return "lifepo4"
	case ChemLeadAcid:
		return "leadacid"
	}
	return "unknown"
}

var (
	ErrRSNSBUnset       = errors.New("ltc4015: RSNSB_uOhm not set")
	ErrChemistryUnknown = errors.New("ltc4015: unable to determine chemistry")
)

type Config struct {
	Address    uint16
	RSNSB_uOhm uint32 // battery path sense resistor in µΩ
	Cells      uint8  // read from pins if 0
	Chem       Chemistry
}

func DefaultConfig() Config {
	return Config{Address: AddressDefault, RSNSB_uOhm: 4000}
}

// Device represents an LTC4015 instance on an I²C bus.
type Device struct {
	i2c        drivers.I2C
	addr       uint16
	cells      uint8
	chem       Chemistry
	rsnsB_uOhm uint32

	// Fixed buffers to avoid per-call heap allocations.
	w [3]byte
	r [2]byte
}

func New(i2c drivers.I2C, cfg Config) *Device {
	addr := cfg.Address
	if addr == 0 {
		addr = AddressDefault
	}
	return &Device{
		i2c:        i2c,
		addr:       addr,
		cells:      cfg.Cells,
		chem:       cfg.Chem,
		rsnsB_uOhm: cfg.RSNSB_uOhm,
	}
}

// Configure detects cells and chemistry from the strap pins when the config
// left them unset, and keeps the measurement system running so telemetry is
// valid while the charger is idle.
func (d *Device) Configure() error {
	v, err := d.readWord(regChemCells)
	if err != nil {
		return err
	}
	if d.cells == 0 {
		d.cells = uint8(v & 0x000F)
	}
	if d.chem == ChemUnknown {
		d.chem = chemFromCode(byte(v>>8) & 0x0F)
		if d.chem == ChemUnknown {
			return ErrChemistryUnknown
		}
	}
	return d.setBits(regConfigBits, 1<<cfgForceMeasSysOn|1<<cfgEnableQCount)
}

func chemFromCode(code byte) Chemistry {
	switch {
	case code <= 0x3:
		return ChemLithium
	case code <= 0x6:
		return ChemLiFePO4
	case code <= 0x8:
		return ChemLeadAcid
	}
	return ChemUnknown
}

func (d *Device) Chem() Chemistry { return d.chem }
func (d *Device) Cells() uint8    { return d.cells }
