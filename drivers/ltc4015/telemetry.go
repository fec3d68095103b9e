package ltc4015

func (d *Device) Battery_mVPerCell() (int32, error) {
	raw, err := d.readWord(regVBAT)
	if err != nil {
		return 0, err
	}
	// Li: 192,264 nV/LSB; Lead: 128,176 nV/LSB.
	nV := int64(192264)
	if d.chem == ChemLeadAcid {
		nV = 128176
	}
	return int32(int64(raw) * nV / 1_000_000), nil
}

func (d *Device) Battery_mVPack() (int32, error) {
	perCell, err := d.Battery_mVPerCell()
	if err != nil || d.cells == 0 {
		return perCell, err
	}
	return perCell * int32(d.cells), nil
}

func (d *Device) Vin_mV() (int32, error) {
	raw, err := d.readWord(regVIN)
	if err != nil {
		return 0, err
	}
	return int32(int64(raw) * 1648 / 1000), nil
}

func (d *Device) Ibat_mA() (int32, error) {
	if d.rsnsB_uOhm == 0 {
		return 0, ErrRSNSBUnset
	}
	raw, err := d.readS16(regIBAT)
	if err != nil {
		return 0, err
	}
	uA := (int64(raw) * 1464870) / int64(d.rsnsB_uOhm)
	return int32(uA / 1000), nil
}

func (d *Device) Die_mC() (int32, error) {
	raw, err := d.readS16(regDieTemp)
	if err != nil {
		return 0, err
	}
	return int32((int64(raw) - 12010) * 10000 / 456), nil
}

func (d *Device) MeasSystemValid() (bool, error) {
	v, err := d.readWord(regMeasSysValid)
	if err != nil {
		return false, err
	}
	return v&0x0001 != 0, nil
}

// QCount returns the raw coulomb counter.
func (d *Device) QCount() (uint16, error) { return d.readWord(regQCount) }
