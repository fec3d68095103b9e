// Package indicator drives the status LED from alert events.
package indicator

import (
	"context"
	"time"

	"fieldnode-go/bus"
	"fieldnode-go/services/sensing"
	"fieldnode-go/types"
)

// Pin is a digital output; machine.Pin satisfies it.
type Pin interface {
	Set(high bool)
}

// Pattern is a blink train: Count pulses of On followed by Off.
type Pattern struct {
	Count   int
	On, Off time.Duration
}

// PatternFor picks the train for an alert. Leaks flash faster and longer
// than electrical emergencies.
func PatternFor(ev types.AlertEvent) Pattern {
	switch {
	case ev.Alert.Flags.Has(types.LeakDetected):
		return Pattern{Count: 20, On: 50 * time.Millisecond, Off: 50 * time.Millisecond}
	case ev.Alert.Severity == types.SeverityEmergency:
		return Pattern{Count: 10, On: 100 * time.Millisecond, Off: 100 * time.Millisecond}
	}
	return Pattern{Count: 2, On: 200 * time.Millisecond, Off: 200 * time.Millisecond}
}

type Service struct {
	Pin       Pin
	ActiveLow bool
}

func (s *Service) set(on bool) {
	if s.ActiveLow {
		on = !on
	}
	s.Pin.Set(on)
}

// Blink plays p, stopping early with the LED off when ctx ends.
func (s *Service) Blink(ctx context.Context, p Pattern) {
	t := time.NewTimer(0)
	defer t.Stop()
	<-t.C
	for i := 0; i < p.Count; i++ {
		for _, step := range []struct {
			on bool
			d  time.Duration
		}{{true, p.On}, {false, p.Off}} {
			s.set(step.on)
			t.Reset(step.d)
			select {
			case <-ctx.Done():
				s.set(false)
				return
			case <-t.C:
			}
		}
	}
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	sub := conn.Subscribe(sensing.TopicAlert)
	defer conn.Unsubscribe(sub)
	s.set(false)

	for {
		select {
		case <-ctx.Done():
			s.set(false)
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			if ev, ok := msg.Payload.(types.AlertEvent); ok {
				s.Blink(ctx, PatternFor(ev))
			}
		}
	}
}

// Start launches the indicator loop.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) {
	go s.serviceLoop(ctx, conn)
}
