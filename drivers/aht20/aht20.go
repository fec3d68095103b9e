// Package aht20 drives the AHT20 temperature/humidity sensor used to watch
// the enclosure climate. Measurement is two-phase: Trigger starts a
// conversion and Collect fetches it, returning ErrNotReady while busy.
//
// I2C.Tx MUST perform a write followed by a repeated-start read when both
// w and r are provided, without releasing the bus.
package aht20

import (
	"context"
	"errors"
	"time"

	"tinygo.org/x/drivers"
)

const Address = 0x38

const (
	cmdTrigger    = 0xAC
	cmdInitialize = 0xBE
	cmdSoftReset  = 0xBA
	cmdStatus     = 0x71

	statusBusy       = 0x80
	statusCalibrated = 0x08
)

var (
	ErrTimeout  = errors.New("aht20: timeout")
	ErrNotReady = errors.New("aht20: not ready")
)

type Config struct {
	Address        uint16
	PollInterval   time.Duration // default 15 ms
	CollectTimeout time.Duration // default 250 ms
}

type Device struct {
	bus  drivers.I2C
	addr uint16
	cfg  Config
	buf  [7]byte
}

func New(bus drivers.I2C, cfg Config) *Device {
	if cfg.Address == 0 {
		cfg.Address = Address
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Millisecond
	}
	if cfg.CollectTimeout <= 0 {
		cfg.CollectTimeout = 250 * time.Millisecond
	}
	return &Device{bus: bus, addr: cfg.Address, cfg: cfg}
}

// Configure calibrates the sensor unless it reports calibration already.
func (d *Device) Configure() error {
	st, err := d.Status()
	if err != nil {
		return err
	}
	if st&statusCalibrated != 0 {
		return nil
	}
	return d.bus.Tx(d.addr, []byte{cmdInitialize, 0x08, 0x00}, nil)
}

func (d *Device) Reset() error { return d.bus.Tx(d.addr, []byte{cmdSoftReset}, nil) }

func (d *Device) Status() (byte, error) {
	var st [1]byte
	if err := d.bus.Tx(d.addr, []byte{cmdStatus}, st[:]); err != nil {
		return 0, err
	}
	return st[0], nil
}

func (d *Device) Trigger() error {
	return d.bus.Tx(d.addr, []byte{cmdTrigger, 0x33, 0x00}, nil)
}

func (d *Device) Collect(out *Sample) error {
	data := d.buf[:]
	if err := d.bus.Tx(d.addr, nil, data); err != nil {
		return err
	}
	if data[0]&statusCalibrated == 0 || data[0]&statusBusy != 0 {
		return ErrNotReady
	}
	out.RawHumidity = uint32(data[1])<<12 | uint32(data[2])<<4 | uint32(data[3])>>4
	out.RawTemp = uint32(data[3]&0x0F)<<16 | uint32(data[4])<<8 | uint32(data[5])
	return nil
}

// Read triggers a conversion and polls until it completes, ctx ends or the
// collect timeout elapses.
func (d *Device) Read(ctx context.Context) (Sample, error) {
	var s Sample
	if err := d.Trigger(); err != nil {
		return s, err
	}
	deadline := time.NewTimer(d.cfg.CollectTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(d.cfg.PollInterval)
	defer poll.Stop()
	for {
		err := d.Collect(&s)
		if err != ErrNotReady {
			return s, err
		}
		select {
		case <-ctx.Done():
			return s, ctx.Err()
		case <-deadline.C:
			return s, ErrTimeout
		case <-poll.C:
		}
	}
}

// Sample holds raw readings with fixed-point accessors.
type Sample struct {
	RawHumidity uint32
	RawTemp     uint32
}

// DeciRelHumidity returns tenths of %RH.
func (s Sample) DeciRelHumidity() int32 {
	return int32(int64(s.RawHumidity) * 1000 / 0x100000)
}

// DeciCelsius returns tenths of °C.
func (s Sample) DeciCelsius() int32 {
	return int32(int64(s.RawTemp)*2000/0x100000) - 500
}
