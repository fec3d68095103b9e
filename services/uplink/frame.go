package uplink

import (
	"crypto/aes"
	"encoding/binary"
	"errors"

	"tinygo.org/x/drivers/lora/lorawan"
)

// MAC header types.
const (
	mhdrJoinAccept      = 0x20
	mhdrUnconfirmedUp   = 0x40
	mhdrUnconfirmedDown = 0x60
	mhdrConfirmedDown   = 0xA0
)

const (
	dirUp   = 0
	dirDown = 1
)

// largest accepted jump in the downlink counter
const maxFCntGap = 16384

var (
	ErrFrameShort   = errors.New("uplink: frame too short")
	ErrFrameType    = errors.New("uplink: unexpected frame type")
	ErrFrameAddr    = errors.New("uplink: frame for another device")
	ErrFrameMIC     = errors.New("uplink: frame MIC mismatch")
	ErrFrameCounter = errors.New("uplink: stale downlink counter")
)

// cryptFRM applies the LoRaWAN FRMPayload keystream; it both encrypts and
// decrypts.
func cryptFRM(key [16]byte, dir uint8, addr [4]byte, fcnt uint32, in []byte) []byte {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		panic(err)
	}
	out := make([]byte, len(in))
	var a, s [aes.BlockSize]byte
	a[0] = 0x01
	a[5] = dir
	copy(a[6:10], addr[:])
	binary.LittleEndian.PutUint32(a[10:14], fcnt)
	for i := 0; i*aes.BlockSize < len(in); i++ {
		a[15] = uint8(i + 1)
		block.Encrypt(s[:], a[:])
		for j := 0; j < aes.BlockSize && i*aes.BlockSize+j < len(in); j++ {
			out[i*aes.BlockSize+j] = in[i*aes.BlockSize+j] ^ s[j]
		}
	}
	return out
}

// frameMIC is the first four bytes of AES-CMAC(key, B0 | msg).
func frameMIC(key [16]byte, dir uint8, addr [4]byte, fcnt uint32, msg []byte) ([4]byte, error) {
	var b0 [16]byte
	b0[0] = 0x49
	b0[5] = dir
	copy(b0[6:10], addr[:])
	binary.LittleEndian.PutUint32(b0[10:14], fcnt)
	b0[15] = uint8(len(msg))
	return mic4(key, b0[:], msg)
}

// buildUplink assembles MHDR | DevAddr | FCtrl | FCnt | FPort | FRMPayload | MIC.
func buildUplink(s *lorawan.Session, fcnt uint32, port uint8, payload []byte) ([]byte, error) {
	buf := make([]byte, 0, 13+len(payload))
	buf = append(buf, mhdrUnconfirmedUp)
	buf = append(buf, s.DevAddr[:]...)
	buf = append(buf, 0x00)
	buf = append(buf, uint8(fcnt), uint8(fcnt>>8))
	buf = append(buf, port)
	buf = append(buf, cryptFRM(s.AppSKey, dirUp, s.DevAddr, fcnt, payload)...)
	mic, err := frameMIC(s.NwkSKey, dirUp, s.DevAddr, fcnt, buf)
	if err != nil {
		return nil, err
	}
	return append(buf, mic[:]...), nil
}

// Downlink is a decoded, authenticated downlink.
type Downlink struct {
	Confirmed bool
	FCnt      uint32
	FOpts     []byte
	Port      uint8
	Payload   []byte
}

// parseDownlink authenticates and decrypts a downlink for session s. The
// 16-bit wire counter is extended using the session's expected counter.
func parseDownlink(s *lorawan.Session, phy []byte) (Downlink, error) {
	var d Downlink
	if len(phy) < 12 {
		return d, ErrFrameShort
	}
	switch phy[0] {
	case mhdrUnconfirmedDown:
	case mhdrConfirmedDown:
		d.Confirmed = true
	default:
		return d, ErrFrameType
	}
	var addr [4]byte
	copy(addr[:], phy[1:5])
	if addr != s.DevAddr {
		return d, ErrFrameAddr
	}
	foptsLen := int(phy[5] & 0x0F)
	if len(phy) < 12+foptsLen {
		return d, ErrFrameShort
	}
	wire := uint32(binary.LittleEndian.Uint16(phy[6:8]))
	fcnt := s.FCntDown&^0xFFFF | wire
	if fcnt < s.FCntDown {
		fcnt += 0x10000
	}
	if fcnt-s.FCntDown > maxFCntGap {
		return d, ErrFrameCounter
	}

	msg := phy[:len(phy)-4]
	var rx [4]byte
	copy(rx[:], phy[len(phy)-4:])
	mic, err := frameMIC(s.NwkSKey, dirDown, s.DevAddr, fcnt, msg)
	if err != nil {
		return d, err
	}
	if mic != rx {
		return d, ErrFrameMIC
	}

	d.FCnt = fcnt
	d.FOpts = append([]byte(nil), phy[8:8+foptsLen]...)
	rest := msg[8+foptsLen:]
	if len(rest) > 0 {
		d.Port = rest[0]
		key := s.AppSKey
		if d.Port == 0 {
			key = s.NwkSKey
		}
		d.Payload = cryptFRM(key, dirDown, s.DevAddr, fcnt, rest[1:])
	}
	return d, nil
}
