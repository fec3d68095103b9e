package governor

import "fieldnode-go/types"

// Band is one battery operating point.
type Band struct {
	Name       types.Band
	BelowPct   uint8 // applies when battery < BelowPct; 0 is the catch-all
	IntervalMs uint32
	SF         uint8
	TxPowerDBm int8
}

// Bands are checked in order.
var Bands = []Band{
	{Name: types.BandCritical, BelowPct: 20, IntervalMs: 3_600_000, SF: 12, TxPowerDBm: 10},
	{Name: types.BandConservative, BelowPct: 50, IntervalMs: 1_800_000, SF: 11, TxPowerDBm: 12},
	{Name: types.BandNormal, IntervalMs: 300_000, SF: 10, TxPowerDBm: 14},
}

func BandFor(pct uint8) Band {
	for _, b := range Bands {
		if b.BelowPct == 0 || pct < b.BelowPct {
			return b
		}
	}
	return Bands[len(Bands)-1]
}
