package scheduler

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"fieldnode-go/bus"
	"fieldnode-go/services/acquire"
	"fieldnode-go/services/config"
	"fieldnode-go/services/console"
	"fieldnode-go/services/housekeeping"
	"fieldnode-go/services/sensing"
	"fieldnode-go/services/uplink"
	"fieldnode-go/types"
)

const smallEnergy = `{
  "electrical": {"sector_id": 1, "node_id": 4, "sample_rate_hz": 3200, "window_samples": 256, "nominal_hz": 50},
  "uplink": {"region": "au915"},
  "housekeeping": {"interval_ms": 3600000}
}`

type fixedProbes struct{}

func (fixedProbes) Pressure() (float64, error) { return 3, nil }
func (fixedProbes) Read() (types.WaterReading, error) {
	return types.WaterReading{PressureBar: 3, FlowLPM: 12}, nil
}

type deadBattery struct{}

func (deadBattery) ReadBattery() (types.BatteryValue, error) {
	return types.BatteryValue{}, errors.New("gauge absent")
}

// waitFor subscribes to topic and returns the first message, retained or not.
func waitFor(t *testing.T, n *Node, topic bus.Topic, d time.Duration) *bus.Message {
	t.Helper()
	conn := n.Bus.NewConnection("test")
	sub := conn.Subscribe(topic)
	defer conn.Unsubscribe(sub)
	select {
	case m := <-sub.Channel():
		return m
	case <-time.After(d):
		t.Fatalf("nothing on %s", topic)
	}
	return nil
}

func lookup(doc string) func(string) ([]byte, bool) {
	return func(string) ([]byte, bool) { return []byte(doc), true }
}

func runNode(t *testing.T, n *Node) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()
	return cancel, done
}

func TestEnergyNodeRuns(t *testing.T) {
	synth := &acquire.Synth{RateHz: 3200, FreqHz: 50, Offset: 2048, AmpA: 1332, AmpB: 200}
	n := New("test-energy", types.SectorEnergy, Peripherals{Converter: synth, Battery: deadBattery{}}, nil)
	n.Config.Lookup = lookup(smallEnergy)
	cancel, done := runNode(t, n)
	defer cancel()

	m := waitFor(t, n, sensing.TopicElectrical, 3*time.Second)
	r, ok := m.Payload.(types.AnalysisResult)
	if !ok {
		t.Fatalf("payload %T", m.Payload)
	}
	if r.VoltageRMS < 200 || r.VoltageRMS > 260 {
		t.Fatalf("voltage %.1f", r.VoltageRMS)
	}

	// no radio: the uplink task reports and stops, telemetry stays queued
	st := waitFor(t, n, uplink.TopicState, time.Second).Payload.(types.ServiceState)
	if st.Level != "error" || st.Status != "init_failed" {
		t.Fatalf("uplink state %+v", st)
	}
	deadline := time.Now().Add(time.Second)
	for n.Telemetry.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no telemetry queued")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if tel, _ := n.Telemetry.TryReceive(); tel.NodeID != 4 || tel.Sector != types.SectorEnergy {
		t.Fatalf("telemetry %+v", tel)
	}

	if _, ok := waitFor(t, n, housekeeping.TopicNode, time.Second).Payload.(types.NodeStatus); !ok {
		t.Fatal("no node status")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestWaterNodeRuns(t *testing.T) {
	n := New("fieldnode-water", types.SectorWater, Peripherals{Water: fixedProbes{}}, nil)
	cancel, _ := runNode(t, n)
	defer cancel()

	m := waitFor(t, n, sensing.TopicWater, 2*time.Second)
	w, ok := m.Payload.(types.WaterReading)
	if !ok || w.PressureBar != 3 {
		t.Fatalf("water %+v", m.Payload)
	}
	if n.Buffer != nil {
		t.Fatal("water node must not allocate a sample buffer")
	}
}

func TestRunRejectsMissingPeripherals(t *testing.T) {
	cases := []struct {
		sector types.Sector
		want   error
	}{
		{types.SectorEnergy, ErrNoConverter},
		{types.SectorWater, ErrNoSensors},
	}
	for _, tc := range cases {
		n := New("fieldnode", tc.sector, Peripherals{}, nil)
		if err := n.Run(context.Background()); !errors.Is(err, tc.want) {
			t.Errorf("%v: got %v", tc.sector, err)
		}
	}
}

func TestRunNeedsKnownDevice(t *testing.T) {
	n := New("nobody", types.SectorEnergy, Peripherals{Converter: &acquire.Synth{}}, nil)
	if err := n.Run(context.Background()); err == nil {
		t.Fatal("unknown device accepted")
	}
}

// Sensing reaches the radio through the uplink task's emergency path, not
// through the telemetry mailbox.
func TestEmergenciesBypassTelemetryMailbox(t *testing.T) {
	n := New("fieldnode-water", types.SectorWater, Peripherals{Water: fixedProbes{}}, nil)
	ctx := context.WithValue(context.Background(), config.CtxDeviceKey, n.Device)
	if err := n.Config.Start(ctx, n.Bus.NewConnection("config")); err != nil {
		t.Fatal(err)
	}
	if err := n.build(n.Bus.NewConnection("node")); err != nil {
		t.Fatal(err)
	}
	if n.Water.Emergency != sensing.EmergencySender(n.Uplink) {
		t.Fatalf("water emergencies go to %T", n.Water.Emergency)
	}
	if len(n.Housekeeping.Mailboxes) != 1 || n.Housekeeping.Mailboxes[0] != n.Telemetry {
		t.Fatal("housekeeping should only watch the telemetry mailbox")
	}
}

func TestConsoleUsesBoardDialler(t *testing.T) {
	dialled := make(chan console.UARTConfig, 1)
	dial := func(_ context.Context, u console.UARTConfig) (io.ReadWriteCloser, error) {
		select {
		case dialled <- u:
		default:
		}
		return nil, errors.New("no port")
	}
	doc := `{"water": {"node_id": 2}, "console": {"transport": {"type": "uart", "uart": {"baud": 115200, "rx_pin": 5, "tx_pin": 4}}}}`
	n := New("test-water", types.SectorWater, Peripherals{Water: fixedProbes{}, ConsoleDial: dial}, nil)
	n.Config.Lookup = lookup(doc)
	cancel, _ := runNode(t, n)
	defer cancel()

	select {
	case u := <-dialled:
		if u.Baud != 115200 || u.TxPin != 4 {
			t.Fatalf("dialled %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("console never dialled")
	}
}
