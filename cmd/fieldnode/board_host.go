//go:build !rp2040

package main

import (
	"encoding/hex"
	"errors"
	"math"
	"sync"
	"time"

	"tinygo.org/x/drivers/lora"

	"fieldnode-go/services/acquire"
	"fieldnode-go/services/scheduler"
	"fieldnode-go/types"
)

// simRadio logs transmissions and never hears a gateway, so the node
// exercises its join retry and power-down paths.
type simRadio struct {
	mu   sync.Mutex
	freq uint32
	sf   uint8
}

var errRxTimeout = errors.New("sim: rx timeout")

func (r *simRadio) Reset() {}

func (r *simRadio) Tx(pkt []uint8, timeoutMs uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	println("[sim] tx", r.freq, "Hz sf", r.sf, hex.EncodeToString(pkt))
	return nil
}

func (r *simRadio) Rx(timeoutMs uint32) ([]uint8, error) {
	time.Sleep(time.Duration(timeoutMs) * time.Millisecond)
	return nil, errRxTimeout
}

func (r *simRadio) SetFrequency(freq uint32) {
	r.mu.Lock()
	r.freq = freq
	r.mu.Unlock()
}

func (r *simRadio) SetSpreadingFactor(sf uint8) {
	r.mu.Lock()
	r.sf = sf
	r.mu.Unlock()
}

func (r *simRadio) SetIqMode(uint8)          {}
func (r *simRadio) SetCodingRate(uint8)      {}
func (r *simRadio) SetBandwidth(uint8)       {}
func (r *simRadio) SetCrc(bool)              {}
func (r *simRadio) SetPreambleLength(uint16) {}
func (r *simRadio) SetTxPower(int8)          {}
func (r *simRadio) SetSyncWord(uint16)       {}
func (r *simRadio) SetPublicNetwork(bool)    {}
func (r *simRadio) SetHeaderType(uint8)      {}
func (r *simRadio) LoraConfig(lora.Config)   {}

// simWater is a slowly varying main with a steady draw.
type simWater struct{ start time.Time }

func (w *simWater) Pressure() (float64, error) {
	t := time.Since(w.start).Seconds()
	return 3 + 0.2*math.Sin(t/600), nil
}

func (w *simWater) Read() (types.WaterReading, error) {
	p, _ := w.Pressure()
	return types.WaterReading{PressureBar: p, FlowLPM: 12, PH: 7.1, TemperatureC: 18}, nil
}

type simBattery struct{}

func (simBattery) ReadBattery() (types.BatteryValue, error) {
	return types.BatteryValue{Percent: 80, PackMilliV: 12800}, nil
}

func board(sec types.Sector) (scheduler.Peripherals, error) {
	p := scheduler.Peripherals{Radio: &simRadio{}, Battery: simBattery{}}
	if sec == types.SectorWater {
		p.Water = &simWater{start: time.Now()}
		return p, nil
	}
	p.Converter = &acquire.Synth{
		RateHz: float64(types.DefaultElectricalConfig().SampleRateHz),
		FreqHz: 50,
		Offset: 2048,
		AmpA:   1332,
		AmpB:   400,
		PhaseB: 0.3,
	}
	return p, nil
}
