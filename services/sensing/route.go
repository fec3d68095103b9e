// Package sensing runs the per-sector measurement tasks. Each task turns
// raw readings into classified telemetry. Routine results go to the uplink
// task through the telemetry mailbox; emergencies go straight to an
// EmergencySender.
package sensing

import (
	"context"
	"errors"
	"time"

	"fieldnode-go/bus"
	"fieldnode-go/errcode"
	"fieldnode-go/services/mailbox"
	"fieldnode-go/types"
)

var (
	TopicElectrical = bus.T("sensing", "electrical")
	TopicWater      = bus.T("sensing", "water")
	TopicState      = bus.T("sensing", "state")
	TopicAlert      = bus.T("sensing", "alert")
)

const (
	sendTimeout       = 10 * time.Millisecond
	emergencyHoldoff  = int64(60_000) // ms between repeats of an unchanged emergency
	defaultIntervalMs = uint32(300_000)
)

var ErrNoEmergencyPath = errors.New("sensing: no emergency sender")

// EmergencySender transmits an alert at once, never behind queued or
// retrying telemetry.
type EmergencySender interface {
	SendEmergency(ctx context.Context, tel types.Telemetry) error
}

// alarm hands tel to the emergency path. An alert the sender holds until
// the node has a session counts as delivered.
func alarm(ctx context.Context, s EmergencySender, tel types.Telemetry) error {
	if s == nil {
		return ErrNoEmergencyPath
	}
	err := s.SendEmergency(ctx, tel)
	if errcode.Is(err, errcode.NoNetwork) {
		return nil
	}
	return err
}

// route enqueues tel. A mailbox that stays full is flushed and the item
// retried once, so recovery is always visible in the mailbox stats.
func route(ctx context.Context, mb *mailbox.Mailbox[types.Telemetry], tel types.Telemetry, timeout time.Duration) error {
	err := mb.Send(ctx, tel, timeout)
	if !errcode.Is(err, errcode.WouldBlock) {
		return err
	}
	println("[sensing]", mb.Name(), "mailbox full, flushing")
	mb.Flush()
	return mb.Send(ctx, tel, 0)
}

func publishState(conn *bus.Connection, ts int64, level, status string, err error) {
	if conn == nil {
		return
	}
	st := types.ServiceState{Level: level, Status: status, TS: ts}
	if err != nil {
		st.Error = err.Error()
	}
	conn.Publish(conn.NewMessage(TopicState, st, true))
}

func publishAlert(conn *bus.Connection, tel types.Telemetry, ts int64) {
	if conn == nil || tel.Alert.Severity == types.SeverityNormal {
		return
	}
	conn.Publish(conn.NewMessage(TopicAlert, types.NewAlertEvent(tel.Sector, tel.Alert, ts), false))
}
