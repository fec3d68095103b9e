package safety

import (
	"math"
	"testing"

	"fieldnode-go/types"
)

func nominal() types.AnalysisResult {
	return types.AnalysisResult{
		VoltageRMS:  230,
		CurrentRMS:  10,
		ActivePower: 2200,
		PowerFactor: 0.97,
		Frequency:   50,
	}
}

func TestClassifyElectrical(t *testing.T) {
	th := ThresholdsFrom(types.DefaultElectricalConfig())
	cases := []struct {
		name  string
		mod   func(*types.AnalysisResult)
		flags []types.AlertFlag
		sev   types.Severity
	}{
		{"normal", func(*types.AnalysisResult) {}, nil, types.SeverityNormal},
		{"over voltage", func(r *types.AnalysisResult) { r.VoltageRMS = 280 }, []types.AlertFlag{types.OverVoltage}, types.SeverityEmergency},
		{"under voltage", func(r *types.AnalysisResult) { r.VoltageRMS = 200 }, []types.AlertFlag{types.UnderVoltage}, types.SeverityAlert},
		{"over current", func(r *types.AnalysisResult) { r.CurrentRMS = 95 }, []types.AlertFlag{types.OverCurrent}, types.SeverityEmergency},
		{"over power", func(r *types.AnalysisResult) { r.ActivePower = 23000 }, []types.AlertFlag{types.OverPower}, types.SeverityEmergency},
		{"low pf", func(r *types.AnalysisResult) { r.PowerFactor = 0.7 }, []types.AlertFlag{types.LowPowerFactor}, types.SeverityAlert},
		{"thd current", func(r *types.AnalysisResult) { r.THDCurrent = 8 }, []types.AlertFlag{types.HighTHD}, types.SeverityAlert},
		{"freq", func(r *types.AnalysisResult) { r.Frequency = 47.5 }, []types.AlertFlag{types.FrequencyDeviation}, types.SeverityAlert},
		{"additive", func(r *types.AnalysisResult) { r.PowerFactor = 0.5; r.THDVoltage = 9 },
			[]types.AlertFlag{types.LowPowerFactor, types.HighTHD}, types.SeverityAlert},
	}
	for _, tc := range cases {
		r := nominal()
		tc.mod(&r)
		a := ClassifyElectrical(r, th)
		if a.Flags != types.NewAlertSet(tc.flags...) {
			t.Errorf("%s: flags %v, want %v", tc.name, a.Flags.Flags(), tc.flags)
		}
		if a.Severity != tc.sev {
			t.Errorf("%s: severity %v, want %v", tc.name, a.Severity, tc.sev)
		}
		if a.Flags.Has(types.PhaseImbalance) {
			t.Errorf("%s: phase imbalance raised on a single-phase node", tc.name)
		}
	}
}

func TestLeakTrendScenario(t *testing.T) {
	var lt LeakTracker
	if _, ok := lt.Trend(); ok {
		t.Fatal("empty tracker reported a trend")
	}
	for _, p := range []float64{10, 10, 10, 9, 7.9} {
		lt.Push(p)
	}
	trend, ok := lt.Trend()
	if !ok || math.Abs(trend-(-1.05)) > 1e-9 {
		t.Fatalf("trend = %v ok=%v, want -1.05", trend, ok)
	}

	th := WaterThresholdsFrom(types.DefaultWaterConfig())
	w := types.WaterReading{PressureBar: 7.9, FlowLPM: 12, PH: 7.2}
	a := ClassifyWater(w, th, trend)
	if !a.Flags.Has(types.LeakDetected) || a.Severity != types.SeverityEmergency {
		t.Fatalf("alert = %v/%v, want leak emergency", a.Flags.Flags(), a.Severity)
	}
	if !lt.Suspected(th.LeakThreshold) {
		t.Fatal("leak not suspected")
	}
}

func TestLeakTrackerWraps(t *testing.T) {
	var lt LeakTracker
	for i := 0; i < 25; i++ {
		lt.Push(float64(i))
	}
	if lt.Len() != historyLen {
		t.Fatalf("len = %d", lt.Len())
	}
	if tr, _ := lt.Trend(); tr != 1 {
		t.Fatalf("trend = %v, want 1", tr)
	}
}

func TestClassifyWater(t *testing.T) {
	th := WaterThresholdsFrom(types.DefaultWaterConfig())
	cases := []struct {
		name string
		w    types.WaterReading
		flag types.AlertFlag
	}{
		{"low pressure", types.WaterReading{PressureBar: 0.5, FlowLPM: 5, PH: 7}, types.LowPressure},
		{"high pressure", types.WaterReading{PressureBar: 9.5, FlowLPM: 5, PH: 7}, types.HighPressure},
		{"no flow", types.WaterReading{PressureBar: 3, FlowLPM: 0, PH: 7}, types.NoFlow},
		{"high flow", types.WaterReading{PressureBar: 3, FlowLPM: 90, PH: 7}, types.HighFlow},
		{"low ph", types.WaterReading{PressureBar: 3, FlowLPM: 5, PH: 6}, types.LowPH},
		{"high ph", types.WaterReading{PressureBar: 3, FlowLPM: 5, PH: 9}, types.HighPH},
		{"fault", types.WaterReading{PressureBar: 3, FlowLPM: 5, PH: 7, SensorStatus: 1}, types.SensorFault},
	}
	for _, tc := range cases {
		a := ClassifyWater(tc.w, th, 0)
		if a.Flags != types.NewAlertSet(tc.flag) {
			t.Errorf("%s: flags %v", tc.name, a.Flags.Flags())
		}
		if a.Severity != types.SeverityAlert {
			t.Errorf("%s: severity %v", tc.name, a.Severity)
		}
	}
}
