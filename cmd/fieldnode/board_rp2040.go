//go:build rp2040

package main

import (
	"context"
	"errors"
	"io"
	"machine"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"
	"tinygo.org/x/drivers/lora"
	"tinygo.org/x/drivers/sx127x"

	"fieldnode-go/drivers/aht20"
	"fieldnode-go/drivers/ltc4015"
	"fieldnode-go/services/acquire"
	"fieldnode-go/services/console"
	"fieldnode-go/services/scheduler"
	"fieldnode-go/types"
)

// Board wiring.
const (
	pinLoraRST  = machine.GP20
	pinLoraCS   = machine.GP17
	pinLoraDIO0 = machine.GP21
	pinLoraDIO1 = machine.GP22
	pinI2CSDA   = machine.GP0
	pinI2CSCL   = machine.GP1
)

// -----------------------------------------------------------------------------
// Radio
// -----------------------------------------------------------------------------

// loraRadio adds the sleep hook the uplink engine looks for.
type loraRadio struct {
	*sx127x.Device
}

func (r loraRadio) Sleep() { r.SetOpMode(sx127x.SX127X_OPMODE_SLEEP) }

func newRadio() (lora.Radio, error) {
	pinLoraRST.Configure(machine.PinConfig{Mode: machine.PinOutput})
	machine.SPI0.Configure(machine.SPIConfig{Frequency: 500000, Mode: 0})
	dev := sx127x.New(machine.SPI0, pinLoraRST)
	rc := sx127x.NewRadioControl(pinLoraCS, pinLoraDIO0, pinLoraDIO1)
	if err := dev.SetRadioController(rc); err != nil {
		return nil, err
	}
	dev.Reset()
	if !dev.DetectDevice() {
		return nil, errors.New("sx127x not found")
	}
	return loraRadio{dev}, nil
}

// -----------------------------------------------------------------------------
// Analogue front end
// -----------------------------------------------------------------------------

// adcPair reads voltage on ADC0 and current on ADC1 as 12-bit counts.
type adcPair struct {
	ch [2]machine.ADC
}

func newADCPair() *adcPair {
	machine.InitADC()
	p := &adcPair{ch: [2]machine.ADC{{Pin: machine.ADC0}, {Pin: machine.ADC1}}}
	for i := range p.ch {
		p.ch[i].Configure(machine.ADCConfig{})
	}
	return p
}

// Select is a no-op: the rp2040 mux is switched by Get.
func (p *adcPair) Select(acquire.Channel) {}

func (p *adcPair) Read(ch acquire.Channel) uint16 {
	return p.ch[ch&1].Get() >> 4
}

// waterProbes reads 4-20 mA pressure and flow transmitters through shunts.
type waterProbes struct {
	pressure, flow machine.ADC
	cfg            types.WaterConfig
}

func newWaterProbes() *waterProbes {
	machine.InitADC()
	w := &waterProbes{
		pressure: machine.ADC{Pin: machine.ADC0},
		flow:     machine.ADC{Pin: machine.ADC1},
		cfg:      types.DefaultWaterConfig(),
	}
	w.pressure.Configure(machine.ADCConfig{})
	w.flow.Configure(machine.ADCConfig{})
	return w
}

var errLoopOpen = errors.New("4-20 mA loop open")

// loop converts a 4-20 mA reading to a 0..1 fraction of span.
func loop(a machine.ADC) (float64, error) {
	f := float64(a.Get()) / 65535
	// 0.2 of full scale is 4 mA across the shunt
	if f < 0.15 {
		return 0, errLoopOpen
	}
	x := (f - 0.2) / 0.8
	if x < 0 {
		x = 0
	}
	return x, nil
}

func (w *waterProbes) Pressure() (float64, error) {
	x, err := loop(w.pressure)
	return x * w.cfg.PressureRange, err
}

func (w *waterProbes) Read() (types.WaterReading, error) {
	p, err := w.Pressure()
	if err != nil {
		return types.WaterReading{}, err
	}
	q, err := loop(w.flow)
	if err != nil {
		return types.WaterReading{}, err
	}
	return types.WaterReading{PressureBar: p, FlowLPM: q * w.cfg.FlowRange}, nil
}

// -----------------------------------------------------------------------------
// Console UART
// -----------------------------------------------------------------------------

type uartConn struct {
	u      *uartx.UART
	ctx    context.Context
	cancel context.CancelFunc
}

func (c *uartConn) Read(p []byte) (int, error)  { return c.u.RecvSomeContext(c.ctx, p) }
func (c *uartConn) Write(p []byte) (int, error) { return c.u.Write(p) }
func (c *uartConn) Close() error                { c.cancel(); return nil }

func dialUART(ctx context.Context, cfg console.UARTConfig) (io.ReadWriteCloser, error) {
	hw := uartx.UART0
	// GP4/GP5 and GP8/GP9 route to UART1
	if cfg.TxPin == 4 || cfg.TxPin == 8 {
		hw = uartx.UART1
	}
	if err := hw.Configure(uartx.UARTConfig{
		BaudRate: uint32(cfg.Baud),
		TX:       machine.Pin(cfg.TxPin),
		RX:       machine.Pin(cfg.RxPin),
	}); err != nil {
		return nil, err
	}
	cctx, cancel := context.WithCancel(ctx)
	return &uartConn{u: hw, ctx: cctx, cancel: cancel}, nil
}

// -----------------------------------------------------------------------------
// Board
// -----------------------------------------------------------------------------

func board(sec types.Sector) (scheduler.Peripherals, error) {
	p := scheduler.Peripherals{ConsoleDial: dialUART}

	machine.LED.Configure(machine.PinConfig{Mode: machine.PinOutput})
	p.LED = machine.LED

	pinI2CSDA.Configure(machine.PinConfig{Mode: machine.PinI2C})
	pinI2CSCL.Configure(machine.PinConfig{Mode: machine.PinI2C})
	if err := machine.I2C0.Configure(machine.I2CConfig{SDA: pinI2CSDA, SCL: pinI2CSCL, Frequency: 400_000}); err != nil {
		println("[board] i2c:", err.Error())
	} else {
		charger := ltc4015.New(machine.I2C0, ltc4015.DefaultConfig())
		if err := charger.Configure(); err != nil {
			println("[board] ltc4015:", err.Error())
		} else {
			p.Battery = charger
		}
		climate := aht20.New(machine.I2C0, aht20.Config{})
		if err := climate.Configure(); err != nil {
			println("[board] aht20:", err.Error())
		} else {
			p.Climate = climate
		}
	}

	if sec == types.SectorWater {
		p.Water = newWaterProbes()
	} else {
		p.Converter = newADCPair()
	}

	r, err := newRadio()
	if err != nil {
		return p, err
	}
	p.Radio = r
	return p, nil
}
