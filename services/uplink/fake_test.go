package uplink

import (
	"crypto/aes"
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	"tinygo.org/x/drivers/lora"
)

// fakeNet is a radio whose far side behaves like a network server: it
// answers join requests, derives the session keys and can decode uplinks.
type fakeNet struct {
	t      *testing.T
	appKey [16]byte

	mu         sync.Mutex
	freq       uint32
	sf         uint8
	iq         uint8
	acceptJoin bool
	corruptMIC bool
	failTx     error
	failPort   uint8 // data frames on this port fail with failTx
	txFails    int
	rxQueue    [][]byte
	frames     [][]byte // data frames
	freqs      []uint32
	joins      int
	slept      int
	resets     int
	cfg        lora.Config
	cflist     []byte // optional 16-byte channel list in the accept

	devAddr  [4]byte
	nwk, app [16]byte
}

func newFakeNet(t *testing.T, appKey [16]byte) *fakeNet {
	return &fakeNet{t: t, appKey: appKey, acceptJoin: true, devAddr: [4]byte{0x04, 0x03, 0x02, 0x01}}
}

func (f *fakeNet) Reset()                      { f.mu.Lock(); f.resets++; f.mu.Unlock() }
func (f *fakeNet) SetFrequency(freq uint32)    { f.mu.Lock(); f.freq = freq; f.mu.Unlock() }
func (f *fakeNet) SetIqMode(mode uint8)        { f.mu.Lock(); f.iq = mode; f.mu.Unlock() }
func (f *fakeNet) SetCodingRate(uint8)         {}
func (f *fakeNet) SetBandwidth(uint8)          {}
func (f *fakeNet) SetCrc(bool)                 {}
func (f *fakeNet) SetSpreadingFactor(sf uint8) { f.mu.Lock(); f.sf = sf; f.mu.Unlock() }
func (f *fakeNet) SetPreambleLength(uint16)    {}
func (f *fakeNet) SetTxPower(int8)             {}
func (f *fakeNet) SetSyncWord(uint16)          {}
func (f *fakeNet) SetPublicNetwork(bool)       {}
func (f *fakeNet) SetHeaderType(uint8)         {}
func (f *fakeNet) LoraConfig(c lora.Config)    { f.mu.Lock(); f.cfg = c; f.mu.Unlock() }
func (f *fakeNet) LastPacketRSSI() uint8       { return uint8(0x9F) } // -97 dBm
func (f *fakeNet) LastPacketSNR() uint8        { return 7 }
func (f *fakeNet) Sleep()                      { f.mu.Lock(); f.slept++; f.mu.Unlock() }

func (f *fakeNet) Tx(pkt []uint8, timeoutMs uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.iq != lora.IQStandard {
		f.t.Errorf("tx with inverted IQ")
	}
	if f.failTx != nil && (f.failPort == 0 || len(pkt) > 8 && pkt[0] == mhdrUnconfirmedUp && pkt[8] == f.failPort) {
		f.txFails++
		return f.failTx
	}
	if pkt[0] == 0x00 {
		f.joins++
		if f.acceptJoin {
			if acc := f.joinAccept(pkt); acc != nil {
				f.rxQueue = append(f.rxQueue, acc)
			}
		}
		return nil
	}
	f.frames = append(f.frames, append([]byte(nil), pkt...))
	f.freqs = append(f.freqs, f.freq)
	return nil
}

func (f *fakeNet) Rx(timeoutMs uint32) ([]uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.iq != lora.IQInverted {
		f.t.Errorf("rx with standard IQ")
	}
	if len(f.rxQueue) == 0 {
		return nil, nil
	}
	p := f.rxQueue[0]
	f.rxQueue = f.rxQueue[1:]
	return p, nil
}

func cmac4(t *testing.T, key [16]byte, parts ...[]byte) [4]byte {
	mic, err := mic4(key, parts...)
	if err != nil {
		t.Fatal(err)
	}
	return mic
}

// joinAccept checks the request MIC, derives the session keys and builds
// the encrypted accept.
func (f *fakeNet) joinAccept(req []byte) []byte {
	if len(req) != 23 {
		f.t.Errorf("join request length %d", len(req))
		return nil
	}
	if cmac4(f.t, f.appKey, req[:19]) != [4]byte(req[19:23]) {
		f.t.Errorf("join request MIC mismatch")
		return nil
	}
	devNonce := req[17:19]
	appNonce := []byte{0x01, 0x02, 0x03}
	netID := []byte{0x13, 0x00, 0x00}
	dl, rxd := byte(0x00), byte(0x01)

	body := append([]byte{}, appNonce...)
	body = append(body, netID...)
	body = append(body, f.devAddr[:]...)
	body = append(body, dl, rxd)
	body = append(body, f.cflist...)
	mic := cmac4(f.t, f.appKey, []byte{mhdrJoinAccept}, body)
	if f.corruptMIC {
		mic[0] ^= 0xFF
	}
	plain := append(body, mic[:]...)

	block, _ := aes.NewCipher(f.appKey[:])
	ct := make([]byte, len(plain))
	for i := 0; i < len(plain); i += aes.BlockSize {
		block.Decrypt(ct[i:i+aes.BlockSize], plain[i:i+aes.BlockSize])
	}

	var sk [16]byte
	sk[0] = 0x01
	copy(sk[1:4], appNonce)
	copy(sk[4:7], netID)
	copy(sk[7:9], devNonce)
	block.Encrypt(f.nwk[:], sk[:])
	sk[0] = 0x02
	block.Encrypt(f.app[:], sk[:])

	return append([]byte{mhdrJoinAccept}, ct...)
}

type upFrame struct {
	fcnt    uint32
	port    uint8
	payload []byte
}

// decode verifies and decrypts data frame i.
func (f *fakeNet) decode(i int) (upFrame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.frames) {
		return upFrame{}, errors.New("no such frame")
	}
	p := f.frames[i]
	if p[0] != mhdrUnconfirmedUp || [4]byte(p[1:5]) != f.devAddr {
		return upFrame{}, errors.New("bad header")
	}
	fcnt := uint32(binary.LittleEndian.Uint16(p[6:8]))
	msg := p[:len(p)-4]
	if p[8] == DefaultConfig().EmergencyPort {
		fcnt |= EmergencyFCntBase
	}
	mic, err := frameMIC(f.nwk, dirUp, f.devAddr, fcnt, msg)
	if err != nil || mic != [4]byte(p[len(p)-4:]) {
		return upFrame{}, errors.New("bad MIC")
	}
	return upFrame{
		fcnt:    fcnt,
		port:    p[8],
		payload: cryptFRM(f.app, dirUp, f.devAddr, fcnt, msg[9:]),
	}, nil
}

// downlink builds a downlink from the network side.
func (f *fakeNet) downlink(fcnt uint32, port uint8, payload []byte) []byte {
	buf := []byte{mhdrUnconfirmedDown}
	buf = append(buf, f.devAddr[:]...)
	buf = append(buf, 0x00, uint8(fcnt), uint8(fcnt>>8), port)
	buf = append(buf, cryptFRM(f.app, dirDown, f.devAddr, fcnt, payload)...)
	mic, err := frameMIC(f.nwk, dirDown, f.devAddr, fcnt, buf)
	if err != nil {
		f.t.Fatal(err)
	}
	return append(buf, mic[:]...)
}

func (f *fakeNet) queue(p []byte) {
	f.mu.Lock()
	f.rxQueue = append(f.rxQueue, p)
	f.mu.Unlock()
}

func (f *fakeNet) set(fn func(f *fakeNet)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

func (f *fakeNet) count(fn func(f *fakeNet) int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn(f)
}

func (f *fakeNet) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}
