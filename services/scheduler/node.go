// Package scheduler assembles a node from its peripherals and runs the
// tasks in fixed priority order: acquisition, then the uplink task, then
// sensing, then the slow housekeeping and governor loops. Sensing hands
// emergencies straight to the uplink task's emergency path; only routine
// telemetry goes through the mailbox. Node is the only place the pieces meet; nothing here is
// package-level state.
package scheduler

import (
	"context"
	"errors"

	"tinygo.org/x/drivers/lora"

	"fieldnode-go/bus"
	"fieldnode-go/services/acquire"
	"fieldnode-go/services/analysis"
	"fieldnode-go/services/config"
	"fieldnode-go/services/console"
	"fieldnode-go/services/governor"
	"fieldnode-go/services/housekeeping"
	"fieldnode-go/services/indicator"
	"fieldnode-go/services/mailbox"
	"fieldnode-go/services/sensing"
	"fieldnode-go/services/uplink"
	"fieldnode-go/types"
	"fieldnode-go/x/timex"
)

// TelemetryDepth is the telemetry mailbox capacity.
const TelemetryDepth = 10

// Peripherals are the board collaborators. Anything left nil is skipped.
type Peripherals struct {
	Radio        lora.Radio
	Converter    acquire.Converter
	Battery      governor.BatterySource
	Climate      housekeeping.Climate
	Water        sensing.WaterSensors
	Counter      uplink.FrameCounterStore
	LED          indicator.Pin
	LEDActiveLow bool
	ConsoleDial  console.Dialer // nil runs no console
}

type Node struct {
	Device string
	Sector types.Sector
	Clock  timex.Clock
	Bus    *bus.Bus
	Periph Peripherals

	Config *config.ConfigService

	// Built by Run.
	Buffer       *acquire.Buffer
	Analyzer     *analysis.Analyzer
	Telemetry    *mailbox.Mailbox[types.Telemetry]
	Engine       *uplink.Engine
	Uplink       *uplink.Task
	Gov          *governor.Governor
	Electrical   *sensing.Electrical
	Water        *sensing.Water
	Housekeeping *housekeeping.Service
}

var (
	ErrNoConverter = errors.New("scheduler: energy node needs a converter")
	ErrNoSensors   = errors.New("scheduler: water node needs water sensors")
)

func New(device string, sector types.Sector, p Peripherals, clock timex.Clock) *Node {
	if clock == nil {
		clock = timex.System{}
	}
	return &Node{
		Device:    device,
		Sector:    sector,
		Clock:     clock,
		Bus:       bus.NewBus(8),
		Periph:    p,
		Config:    config.NewConfigService(),
		Telemetry: mailbox.New[types.Telemetry]("telemetry", TelemetryDepth),
	}
}

// load decodes the retained config/<key> over dst's defaults.
func load[T any](conn *bus.Connection, key string, dst *T) {
	sub := conn.Subscribe(config.Topic(key))
	defer conn.Unsubscribe(sub)
	select {
	case msg := <-sub.Channel():
		if err := config.Decode(msg.Payload, dst); err != nil {
			println("[node] bad", key, "config:", err.Error())
		}
	default:
	}
}

// build wires every component from the published configuration.
func (n *Node) build(conn *bus.Connection) error {
	gc := types.DefaultGovernorConfig()
	load(conn, "governor", &gc)
	n.Gov = governor.New(gc, n.Periph.Battery, n.Clock)

	uc := types.DefaultUplinkConfig()
	load(conn, "uplink", &uc)
	ucfg, err := uplink.ConfigFrom(uc)
	if err != nil {
		return err
	}
	n.Engine = uplink.New(ucfg, n.Periph.Radio, n.Clock)
	n.Engine.Duty = n.Gov.State
	if n.Periph.Counter != nil {
		n.Engine.Store = n.Periph.Counter
	}
	n.Uplink = &uplink.Task{
		Engine:       n.Engine,
		Gov:          n.Gov,
		Telemetry:    n.Telemetry,
		JoinAttempts: uc.JoinAttempts,
	}

	n.Housekeeping = housekeeping.New(n.Clock)
	n.Housekeeping.Uplink = n.Engine
	n.Housekeeping.Duty = n.Gov.State
	n.Housekeeping.Climate = n.Periph.Climate
	n.Housekeeping.Mailboxes = []*mailbox.Mailbox[types.Telemetry]{n.Telemetry}

	switch n.Sector {
	case types.SectorWater:
		if n.Periph.Water == nil {
			return ErrNoSensors
		}
		wc := types.DefaultWaterConfig()
		load(conn, "water", &wc)
		n.Water = sensing.NewWater(wc, n.Periph.Water, n.Clock)
		n.Water.Telemetry, n.Water.Emergency = n.Telemetry, n.Uplink
	default:
		if n.Periph.Converter == nil {
			return ErrNoConverter
		}
		ec := types.DefaultElectricalConfig()
		load(conn, "electrical", &ec)
		if n.Buffer, err = acquire.NewBuffer(ec.WindowSamples); err != nil {
			return err
		}
		n.Analyzer = analysis.New(ec, n.Clock)
		n.Electrical = sensing.NewElectrical(ec, n.Buffer, n.Analyzer, n.Clock)
		n.Electrical.Gov = n.Gov
		n.Electrical.Telemetry, n.Electrical.Emergency = n.Telemetry, n.Uplink
		n.Housekeeping.Buffer = n.Buffer
	}
	return nil
}

// Run publishes the configuration, builds the node and starts every task.
// It blocks until ctx ends.
func (n *Node) Run(ctx context.Context) error {
	ctx = context.WithValue(ctx, config.CtxDeviceKey, n.Device)
	if err := n.Config.Start(ctx, n.Bus.NewConnection("config")); err != nil {
		return err
	}
	if err := n.build(n.Bus.NewConnection("node")); err != nil {
		println("[node] build failed:", err.Error())
		return err
	}
	println("[node]", n.Device, "sector", n.Sector.String())

	if n.Buffer != nil {
		s := &acquire.Sampler{Buf: n.Buffer, Conv: n.Periph.Converter, RateHz: uint32(n.Analyzer.RateHz)}
		go s.Run(ctx)
	}
	n.Uplink.Start(ctx, n.Bus.NewConnection("uplink"))
	if n.Electrical != nil {
		n.Electrical.Start(ctx, n.Bus.NewConnection("electrical"))
	}
	if n.Water != nil {
		n.Water.Start(ctx, n.Bus.NewConnection("water"))
	}
	if n.Periph.LED != nil {
		led := &indicator.Service{Pin: n.Periph.LED, ActiveLow: n.Periph.LEDActiveLow}
		led.Start(ctx, n.Bus.NewConnection("indicator"))
	}
	n.Gov.Start(ctx, n.Bus.NewConnection("governor"))
	n.Housekeeping.Start(ctx, n.Bus.NewConnection("housekeeping"))
	if n.Periph.ConsoleDial != nil {
		go console.Start(ctx, n.Bus.NewConnection("console"), n.Periph.ConsoleDial)
	}

	<-ctx.Done()
	println("[node] stopped")
	return nil
}
