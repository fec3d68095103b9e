package analysis

import (
	"math"
	"testing"

	"fieldnode-go/services/acquire"
	"fieldnode-go/types"
	"fieldnode-go/x/timex"
)

const (
	testRate = 3200.0
	testN    = 256 // four 50 Hz cycles
)

func testConfig() types.ElectricalConfig {
	cfg := types.DefaultElectricalConfig()
	cfg.SampleRateHz = testRate
	cfg.WindowSamples = testN
	return cfg
}

func window(n int, freq, ampA, ampB, phase, h3 float64) []acquire.Sample {
	s := &acquire.Synth{RateHz: testRate, FreqHz: freq, Offset: 2048, AmpA: ampA, AmpB: ampB, PhaseB: phase, Harmonic: h3}
	out := make([]acquire.Sample, n)
	for k := range out {
		out[k] = acquire.Sample{A: s.Read(acquire.ChannelA), B: s.Read(acquire.ChannelB)}
	}
	return out
}

func rotate(w []acquire.Sample, by int) []acquire.Sample {
	out := make([]acquire.Sample, len(w))
	for k := range w {
		out[k] = w[(k+by)%len(w)]
	}
	return out
}

func near(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestAnalyzeRejectsNonPowerOfTwo(t *testing.T) {
	a := New(testConfig(), timex.NewManual(0))
	if _, err := a.Analyze(make([]acquire.Sample, 200)); err != ErrWindowSize {
		t.Fatalf("err = %v, want ErrWindowSize", err)
	}
}

func TestAnalyzeSine(t *testing.T) {
	a := New(testConfig(), timex.NewManual(42))
	r, err := a.Analyze(window(testN, 50, 1000, 500, 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	wantV := 1000 * 250.0 / 1024 / math.Sqrt2
	if !near(r.VoltageRMS, wantV, 0.5) {
		t.Errorf("Vrms = %.3f, want %.3f", r.VoltageRMS, wantV)
	}
	if !near(r.Frequency, 50, 0.05) {
		t.Errorf("freq = %.4f", r.Frequency)
	}
	if !near(r.PowerFactor, 1, 0.01) {
		t.Errorf("pf = %.4f", r.PowerFactor)
	}
	if r.THDVoltage > 0.5 {
		t.Errorf("thd = %.3f on a pure sine", r.THDVoltage)
	}
	if r.Grade != types.GradeA {
		t.Errorf("grade = %v", r.Grade)
	}
	if r.TimestampMs != 42 {
		t.Errorf("ts = %d", r.TimestampMs)
	}
}

func TestReactivePowerFromQuarterShift(t *testing.T) {
	a := New(testConfig(), timex.NewManual(0))
	r, err := a.Analyze(window(testN, 50, 1000, 500, math.Pi/3, 0))
	if err != nil {
		t.Fatal(err)
	}
	if !near(r.PowerFactor, 0.5, 0.01) {
		t.Errorf("pf = %.4f, want 0.5", r.PowerFactor)
	}
	if r.ReactivePower <= 0 {
		t.Errorf("lagging load should give positive Q, got %.3f", r.ReactivePower)
	}
	if !near(r.ApparentPower, math.Hypot(r.ActivePower, r.ReactivePower), 1e-9) {
		t.Errorf("S inconsistent")
	}
}

func TestRotationInvariance(t *testing.T) {
	a := New(testConfig(), timex.NewManual(0))
	base := window(testN, 50, 900, 400, 0.4, 0.05)
	want, err := a.Analyze(base)
	if err != nil {
		t.Fatal(err)
	}
	for _, by := range []int{1, 7, 33, 100, 255} {
		got, err := a.Analyze(rotate(base, by))
		if err != nil {
			t.Fatal(err)
		}
		if !near(got.VoltageRMS, want.VoltageRMS, 1e-9) ||
			!near(got.CurrentRMS, want.CurrentRMS, 1e-9) ||
			!near(got.ActivePower, want.ActivePower, 1e-6) ||
			!near(got.Frequency, want.Frequency, 0.05) {
			t.Errorf("rotation %d: got %+v want %+v", by, got, want)
		}
	}
}

func TestTHDThirdHarmonic(t *testing.T) {
	a := New(testConfig(), timex.NewManual(0))
	r, err := a.Analyze(window(testN, 50, 1000, 500, 0, 0.1))
	if err != nil {
		t.Fatal(err)
	}
	if !near(r.THDVoltage, 10, 0.2) {
		t.Fatalf("thd = %.3f, want 10", r.THDVoltage)
	}
	if r.Grade != types.GradeC {
		t.Fatalf("grade = %v, want C", r.Grade)
	}
}

func TestPowerFactorBounds(t *testing.T) {
	if PowerFactor(0, 0.05) != 1.0 {
		t.Fatal("pf must be exactly 1 when S < 0.1")
	}
	for _, p := range []float64{-100, -1, 0, 1, 50, 100, 101} {
		pf := PowerFactor(p, 100)
		if pf < 0 || pf > 1 {
			t.Fatalf("PowerFactor(%v,100) = %v", p, pf)
		}
	}

	a := New(testConfig(), timex.NewManual(0))
	flat := make([]acquire.Sample, testN)
	for k := range flat {
		flat[k] = acquire.Sample{A: 2048, B: 2048}
	}
	r, _ := a.Analyze(flat)
	if r.PowerFactor != 1.0 || r.Frequency != 0 {
		t.Fatalf("idle line: pf %v freq %v", r.PowerFactor, r.Frequency)
	}
}

func TestPeriodNeedsTwoCrossings(t *testing.T) {
	if Period([]float64{-1, 1, 1, 1}) != 0 {
		t.Fatal("one crossing must give zero period")
	}
	if got := Period([]float64{-1, 1, -1, 1}); got != 2 {
		t.Fatalf("period = %v, want 2", got)
	}
}
