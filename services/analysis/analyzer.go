// Package analysis turns a completed sample window into electrical
// measurements: RMS, active/reactive/apparent power, power factor, line
// frequency, harmonic distortion and a quality grade.
package analysis

import (
	"errors"
	"math"
	"math/cmplx"
	"sync"

	"github.com/mjibson/go-dsp/fft"

	"fieldnode-go/services/acquire"
	"fieldnode-go/types"
	"fieldnode-go/x/mathx"
	"fieldnode-go/x/timex"
)

var ErrWindowSize = errors.New("analysis: window length must be a power of two")

// apparent power below which the power factor is reported as unity
const minApparentVA = 0.1

type Analyzer struct {
	RateHz    float64
	NominalHz float64
	Harmonics int
	Clock     timex.Clock

	mu  sync.Mutex
	cal types.Calibration

	v, i []float64
}

func New(cfg types.ElectricalConfig, clock timex.Clock) *Analyzer {
	if clock == nil {
		clock = timex.System{}
	}
	return &Analyzer{
		RateHz:    float64(cfg.SampleRateHz),
		NominalHz: cfg.NominalHz,
		Harmonics: cfg.Harmonics,
		Clock:     clock,
		cal:       cfg.Calibration,
	}
}

func (a *Analyzer) SetCalibration(c types.Calibration) {
	a.mu.Lock()
	a.cal = c
	a.mu.Unlock()
}

func (a *Analyzer) Calibration() types.Calibration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cal
}

// Analyze computes an AnalysisResult for one window. The window length must
// be a power of two.
func (a *Analyzer) Analyze(w []acquire.Sample) (types.AnalysisResult, error) {
	n := len(w)
	if n < 2 || n&(n-1) != 0 {
		return types.AnalysisResult{}, ErrWindowSize
	}
	cal := a.Calibration()
	if cap(a.v) < n {
		a.v = make([]float64, n)
		a.i = make([]float64, n)
	}
	v, i := a.v[:n], a.i[:n]
	for k, s := range w {
		v[k] = (float64(s.A) - cal.VoltageOffset) * cal.VoltageScale
		i[k] = (float64(s.B) - cal.CurrentOffset) * cal.CurrentScale
	}

	r := types.AnalysisResult{TimestampMs: a.Clock.NowMs()}
	r.VoltageRMS = rms(v)
	r.CurrentRMS = rms(i)
	r.ActivePower = meanProduct(v, i, 0)

	period := Period(v)
	if period > 0 {
		r.Frequency = a.RateHz / period
		r.ReactivePower = meanProduct(v, i, int(math.Round(period/4)))
	}
	r.ApparentPower = math.Hypot(r.ActivePower, r.ReactivePower)
	r.PowerFactor = PowerFactor(r.ActivePower, r.ApparentPower)

	r.THDVoltage = THD(v, a.Harmonics)
	r.THDCurrent = THD(i, a.Harmonics)
	r.Grade = GradeElectrical(r, a.NominalHz)
	return r, nil
}

func rms(x []float64) float64 {
	var sum float64
	for _, s := range x {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(x)))
}

// meanProduct returns mean(a[n]*b[(n+shift) mod N]).
func meanProduct(a, b []float64, shift int) float64 {
	n := len(a)
	var sum float64
	for k := range a {
		sum += a[k] * b[(k+shift)%n]
	}
	return sum / float64(n)
}

// PowerFactor is |P|/S clamped to [0,1], and exactly 1 for negligible S.
func PowerFactor(p, s float64) float64 {
	if s < minApparentVA {
		return 1.0
	}
	return mathx.Clamp(math.Abs(p)/s, 0, 1)
}

// Period returns the mean spacing, in samples, of rising zero crossings
// located by linear interpolation. Zero when fewer than two crossings exist.
func Period(x []float64) float64 {
	first, last := -1.0, -1.0
	count := 0
	for k := 1; k < len(x); k++ {
		prev, cur := x[k-1], x[k]
		if prev < 0 && cur >= 0 {
			at := float64(k-1) + -prev/(cur-prev)
			if count == 0 {
				first = at
			}
			last = at
			count++
		}
	}
	if count < 2 {
		return 0
	}
	return (last - first) / float64(count-1)
}

// THD returns total harmonic distortion in percent relative to the strongest
// non-DC bin, summing harmonics 2..h below Nyquist.
func THD(x []float64, h int) float64 {
	bins := fft.FFTReal(x)
	half := len(x) / 2

	f0, peak := 0, 0.0
	for k := 1; k < half; k++ {
		if m := cmplx.Abs(bins[k]); m > peak {
			f0, peak = k, m
		}
	}
	if f0 == 0 || peak < 1e-9 {
		return 0
	}
	var sum float64
	for k := 2; k <= h && k*f0 < half; k++ {
		m := cmplx.Abs(bins[k*f0])
		sum += m * m
	}
	return 100 * math.Sqrt(sum) / peak
}
