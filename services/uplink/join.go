package uplink

import (
	"crypto/aes"
	"encoding/binary"
	"errors"

	"github.com/aead/cmac"
	"tinygo.org/x/drivers/lora/lorawan"
)

const mhdrJoinRequest = 0x00

var (
	ErrJoinAcceptLength = errors.New("uplink: join accept length")
	ErrJoinAcceptMIC    = errors.New("uplink: join accept MIC mismatch")
)

// mic4 is the first four bytes of AES-CMAC(key, parts...).
func mic4(key [16]byte, parts ...[]byte) ([4]byte, error) {
	var out [4]byte
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return out, err
	}
	h, err := cmac.New(block)
	if err != nil {
		return out, err
	}
	for _, p := range parts {
		h.Write(p)
	}
	copy(out[:], h.Sum(nil))
	return out, nil
}

// activation holds the OTAA credentials and the DevNonce sequence.
type activation struct {
	devEUI   [8]byte
	appEUI   [8]byte
	appKey   [16]byte
	devNonce uint16
}

func newActivation(c Credentials) *activation {
	a := &activation{devEUI: c.DevEUI, appEUI: c.AppEUI, appKey: c.AppKey}
	if rnd, err := lorawan.GetRand16(); err == nil {
		a.devNonce = binary.LittleEndian.Uint16(rnd[:])
	}
	return a
}

// joinRequest builds MHDR | AppEUI | DevEUI | DevNonce | MIC with both EUIs
// little-endian on the wire. Every call uses a fresh DevNonce.
func (a *activation) joinRequest() ([]byte, error) {
	a.devNonce++
	buf := make([]byte, 0, 23)
	buf = append(buf, mhdrJoinRequest)
	buf = appendReversed(buf, a.appEUI[:])
	buf = appendReversed(buf, a.devEUI[:])
	buf = binary.LittleEndian.AppendUint16(buf, a.devNonce)
	mic, err := mic4(a.appKey, buf)
	if err != nil {
		return nil, err
	}
	return append(buf, mic[:]...), nil
}

// decodeJoinAccept decrypts and authenticates a join accept and derives the
// session keys for the last request's DevNonce. Counters start at zero.
func (a *activation) decodeJoinAccept(phy []byte, s *lorawan.Session) error {
	if len(phy) != 17 && len(phy) != 33 {
		return ErrJoinAcceptLength
	}
	if phy[0] != mhdrJoinAccept {
		return ErrFrameType
	}
	block, err := aes.NewCipher(a.appKey[:])
	if err != nil {
		return err
	}
	plain := make([]byte, len(phy)-1)
	for i := 0; i < len(plain); i += aes.BlockSize {
		block.Encrypt(plain[i:i+aes.BlockSize], phy[1+i:1+i+aes.BlockSize])
	}
	body := plain[:len(plain)-4]
	mic, err := mic4(a.appKey, phy[:1], body)
	if err != nil {
		return err
	}
	if mic != [4]byte(plain[len(plain)-4:]) {
		return ErrJoinAcceptMIC
	}

	appNonce, netID := body[0:3], body[3:6]
	var sk [16]byte
	copy(sk[1:4], appNonce)
	copy(sk[4:7], netID)
	binary.LittleEndian.PutUint16(sk[7:9], a.devNonce)
	sk[0] = 0x01
	block.Encrypt(s.NwkSKey[:], sk[:])
	sk[0] = 0x02
	block.Encrypt(s.AppSKey[:], sk[:])

	copy(s.DevAddr[:], body[6:10])
	s.DLSettings = body[10]
	s.RXDelay = body[11]
	s.CFList = [16]byte{}
	if len(body) > 12 {
		copy(s.CFList[:], body[12:28])
	}
	s.FCntUp, s.FCntDown = 0, 0
	return nil
}

func appendReversed(dst, src []byte) []byte {
	for i := len(src) - 1; i >= 0; i-- {
		dst = append(dst, src[i])
	}
	return dst
}
