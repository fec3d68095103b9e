package acquire

import (
	"context"
	"time"

	"fieldnode-go/x/timex"
)

// Sampler drives OnTick from a software timer. Hardware builds replace it
// with a timer interrupt calling OnTick directly.
type Sampler struct {
	Buf    *Buffer
	Conv   Converter
	RateHz uint32
}

func (s *Sampler) Run(ctx context.Context) {
	period := time.Duration(timex.PeriodFromHz(s.RateHz))
	tick := time.NewTicker(period)
	defer tick.Stop()
	println("[acquire] sampling at", s.RateHz, "Hz")
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			s.Buf.OnTick(s.Conv)
		}
	}
}
