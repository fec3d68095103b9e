package acquire

import "math"

// Synth is a converter producing a sampled voltage/current pair around a
// mid-scale offset. It stands in for the ADC on host builds.
type Synth struct {
	RateHz   float64
	FreqHz   float64
	Offset   float64 // counts
	AmpA     float64 // counts, peak
	AmpB     float64 // counts, peak
	PhaseB   float64 // radians, current lags voltage when positive
	Harmonic float64 // third harmonic fraction on channel A

	sel Channel
	n   uint64
}

func (s *Synth) Select(ch Channel) { s.sel = ch }

func (s *Synth) Read(ch Channel) uint16 {
	w := 2 * math.Pi * s.FreqHz * float64(s.n) / s.RateHz
	var v float64
	if ch == ChannelA {
		v = s.AmpA * (math.Sin(w) + s.Harmonic*math.Sin(3*w))
	} else {
		v = s.AmpB * math.Sin(w-s.PhaseB)
		s.n++
	}
	return uint16(math.Max(0, math.Min(4095, math.Round(s.Offset+v))))
}
