package governor

import (
	"sync/atomic"

	"fieldnode-go/types"
)

// DutyCycleState is shared between the governor, the uplink engine and the
// sensing tasks. Each field has one writer; readers load without locking
// and tolerate a stale value.
type DutyCycleState struct {
	band       atomic.Value // types.Band, governor
	intervalMs atomic.Uint32
	sf         atomic.Uint32
	txPower    atomic.Int32
	lastTxMs   atomic.Int64 // uplink engine
}

func NewDutyCycleState(b Band) *DutyCycleState {
	s := &DutyCycleState{}
	s.apply(b)
	return s
}

func (s *DutyCycleState) apply(b Band) {
	s.band.Store(b.Name)
	s.intervalMs.Store(b.IntervalMs)
	s.sf.Store(uint32(b.SF))
	s.txPower.Store(int32(b.TxPowerDBm))
}

func (s *DutyCycleState) Band() types.Band {
	b, _ := s.band.Load().(types.Band)
	return b
}

func (s *DutyCycleState) IntervalMs() uint32 { return s.intervalMs.Load() }
func (s *DutyCycleState) SF() uint8          { return uint8(s.sf.Load()) }
func (s *DutyCycleState) TxPowerDBm() int8   { return int8(s.txPower.Load()) }
func (s *DutyCycleState) LastTxMs() int64    { return s.lastTxMs.Load() }

// MarkTx records a successful transmission.
func (s *DutyCycleState) MarkTx(ms int64) { s.lastTxMs.Store(ms) }

func (s *DutyCycleState) Snapshot() types.DutyCycle {
	return types.DutyCycle{
		Band:       s.Band(),
		IntervalMs: s.IntervalMs(),
		SF:         s.SF(),
		TxPowerDBm: s.TxPowerDBm(),
		LastTxMs:   s.LastTxMs(),
	}
}
