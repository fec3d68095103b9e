package analysis

import (
	"math"

	"fieldnode-go/types"
)

// GradeElectrical steps down from A for each distortion, power factor and
// frequency threshold crossed.
func GradeElectrical(r types.AnalysisResult, nominalHz float64) types.Grade {
	thd := math.Max(r.THDVoltage, r.THDCurrent)
	dev := math.Abs(r.Frequency - nominalHz)
	steps := 0
	for _, hit := range []bool{
		thd > 3, thd > 5,
		r.PowerFactor < 0.95, r.PowerFactor < 0.85,
		dev > 0.5, dev > 1.0,
	} {
		if hit {
			steps++
		}
	}
	return types.GradeA.Degrade(steps)
}

// GradeWater grades potable quality from pH, turbidity and temperature.
func GradeWater(w types.WaterReading) types.Grade {
	steps := 0
	for _, hit := range []bool{
		w.PH < 6.8 || w.PH > 8.2,
		w.PH < 6.5 || w.PH > 8.5,
		w.TurbidityNTU > 1,
		w.TurbidityNTU > 4,
		w.TurbidityNTU > 10,
		w.TemperatureC < 5 || w.TemperatureC > 30,
	} {
		if hit {
			steps++
		}
	}
	return types.GradeA.Degrade(steps)
}
