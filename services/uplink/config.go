package uplink

import (
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"tinygo.org/x/drivers/lora/lorawan/region"

	"fieldnode-go/types"
)

// Credentials are provisioned once and never change for the engine's life.
type Credentials struct {
	DevEUI [8]byte
	AppEUI [8]byte
	AppKey [16]byte
}

// Config is the validated engine configuration.
type Config struct {
	Region        string
	Creds         Credentials
	MinGap        time.Duration
	JoinWindow    time.Duration
	TxTimeout     time.Duration
	RxWindow      time.Duration // downlink window after a send; 0 disables
	MaxPayload    int
	DataPort      uint8
	EmergencyPort uint8
	SF            uint8
	TxPowerDBm    int8
	InitAttempts  int
	InitDelay     time.Duration
}

var (
	ErrBadHex    = errors.New("uplink: credential is not valid hex")
	ErrBadRegion = errors.New("uplink: unknown region")
)

func ms(v uint32) time.Duration { return time.Duration(v) * time.Millisecond }

// ConfigFrom validates a bus config document.
func ConfigFrom(c types.UplinkConfig) (Config, error) {
	var out Config
	if err := decodeHex(out.Creds.DevEUI[:], c.DevEUI); err != nil {
		return out, err
	}
	if err := decodeHex(out.Creds.AppEUI[:], c.AppEUI); err != nil {
		return out, err
	}
	if err := decodeHex(out.Creds.AppKey[:], c.AppKey); err != nil {
		return out, err
	}
	if _, err := regionSettings(c.Region); err != nil {
		return out, err
	}
	out.Region = c.Region
	out.MinGap = ms(c.MinGapMs)
	out.JoinWindow = ms(c.JoinWindowMs)
	out.TxTimeout = ms(c.TxTimeoutMs)
	out.RxWindow = ms(c.RxWindowMs)
	out.MaxPayload = c.MaxPayload
	out.DataPort = c.DataPort
	out.EmergencyPort = c.EmergencyPort
	out.SF = c.SF
	out.TxPowerDBm = c.TxPowerDBm
	out.InitAttempts = 5
	out.InitDelay = time.Second
	return out, nil
}

// DefaultConfig is the factory-provisioned configuration.
func DefaultConfig() Config {
	c, err := ConfigFrom(types.DefaultUplinkConfig())
	if err != nil {
		panic(err)
	}
	return c
}

func decodeHex(dst []byte, s string) error {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil || len(b) != len(dst) {
		return ErrBadHex
	}
	copy(dst, b)
	return nil
}

func regionSettings(name string) (region.Settings, error) {
	switch strings.ToLower(name) {
	case "", "au915":
		return region.AU915(), nil
	case "eu868":
		return region.EU868(), nil
	case "us915":
		return region.US915(), nil
	}
	return nil, ErrBadRegion
}

// AU915 sub-band 1 uplink channels, 125 kHz.
const (
	au915FirstHz = 915_200_000
	au915StepHz  = 200_000
	au915Count   = 8
)

// channelPlan rotates uplink frequencies. An empty plan keeps the region's
// uplink channel.
type channelPlan struct {
	freqs []uint32
	next  int
}

func newChannelPlan(regionName string) *channelPlan {
	p := &channelPlan{}
	if n := strings.ToLower(regionName); n == "" || n == "au915" {
		for i := 0; i < au915Count; i++ {
			p.freqs = append(p.freqs, au915FirstHz+uint32(i)*au915StepHz)
		}
	}
	return p
}

func (p *channelPlan) advance(fallback uint32) uint32 {
	if len(p.freqs) == 0 {
		return fallback
	}
	f := p.freqs[p.next]
	p.next = (p.next + 1) % len(p.freqs)
	return f
}
