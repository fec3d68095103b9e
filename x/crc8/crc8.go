// Package crc8 implements the CRC-8 used to seal energy telemetry frames:
// polynomial 0x31, initial value 0xFF, no reflection, no final XOR.
package crc8

const (
	Poly = 0x31
	Init = 0xFF
)

// Checksum computes the CRC over b.
func Checksum(b []byte) uint8 { return Update(Init, b) }

// Update continues a running CRC.
func Update(crc uint8, b []byte) uint8 {
	for _, c := range b {
		crc ^= c
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ Poly
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
