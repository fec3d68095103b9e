package uplink

import (
	"encoding/binary"

	"fieldnode-go/types"
)

// Status snapshots the engine for housekeeping and the console.
func (e *Engine) Status() types.UplinkStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := types.UplinkStatus{
		State:    e.state.String(),
		Joined:   e.joined,
		FCntUp:   e.session.FCntUp,
		FCntDown: e.session.FCntDown,
		EmergCnt: e.emergCnt,
		RSSI:     e.rssi,
		SNR:      e.snr,
	}
	if e.joined {
		st.DevAddr = binary.LittleEndian.Uint32(e.session.DevAddr[:])
	}
	if e.hasTx {
		st.LastTxMs = e.lastTxMs
	}
	return st
}
