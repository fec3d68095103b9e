// Package ltc4015 is a trimmed driver for the LTC4015 charger/gauge, reduced
// to the telemetry the node needs to pick a duty-cycle band.
package ltc4015

const (
	// 7-bit I2C address (1101_000b).
	AddressDefault = 0x68

	// CONFIG_BITS (0x14) bit positions.
	cfgForceMeasSysOn = 4
	cfgEnableQCount   = 2

	regConfigBits     = 0x14 // R/W
	regQCountPrescale = 0x12 // R/W
	regQCount         = 0x13 // R/W
	regSystemStatus   = 0x39 // R
	regVBAT           = 0x3A // R
	regVIN            = 0x3B // R
	regIBAT           = 0x3D // R
	regDieTemp        = 0x3F // R
	regChemCells      = 0x43 // R
	regMeasSysValid   = 0x4A // R, bit0
)
