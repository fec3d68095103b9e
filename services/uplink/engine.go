// Package uplink implements the LoRaWAN end-device side of the node: OTAA
// join, session keys, frame construction, the duty-cycle gap and the
// emergency bypass. Join and key derivation use tinygo's lorawan package;
// data frames are built here so the port and counters stay under engine
// control.
package uplink

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"tinygo.org/x/drivers/lora"
	"tinygo.org/x/drivers/lora/lorawan"
	"tinygo.org/x/drivers/lora/lorawan/region"

	"fieldnode-go/errcode"
	"fieldnode-go/x/timex"
)

type State uint8

const (
	StateIdle State = iota
	StateJoining
	StateJoined
	StateSending
	StateSleep
)

var stateNames = [...]string{"idle", "joining", "joined", "sending", "sleep"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Optional radio capabilities.
type (
	SignalReporter interface {
		LastPacketRSSI() uint8
		LastPacketSNR() uint8
	}
	Sleeper interface {
		Sleep()
	}
	Detector interface {
		DetectDevice() bool
	}
)

// TxMarker receives the time of each successful normal transmission.
type TxMarker interface {
	MarkTx(ms int64)
}

const (
	awaitSlack  = 250 * time.Millisecond
	preambleLen = 8
	minSF       = lora.SpreadingFactor7
	maxSF       = lora.SpreadingFactor12
	minTxPower  = 2
	maxTxPower  = 20
)

// EmergencyFCntBase reserves the top half of the 32-bit counter space for
// emergency frames. Telemetry counts up from zero below it.
const EmergencyFCntBase uint32 = 1 << 31

var (
	ErrNoRadio      = errors.New("no radio")
	ErrNoJoinAccept = errors.New("no join accept")
)

type Engine struct {
	cfg    Config
	radio  lora.Radio
	clock  timex.Clock
	region region.Settings
	plan   *channelPlan

	Store      FrameCounterStore
	Duty       TxMarker
	OnDownlink func(Downlink)

	radioMu sync.Mutex

	mu          sync.Mutex
	state       State
	joined      bool
	sleepJoined bool
	act         *activation
	session     lorawan.Session
	emergCnt    uint32
	lastTxMs    int64
	hasTx       bool
	rssi        int16
	snr         int8
	sf          uint8
	txPower     int8
}

func New(cfg Config, radio lora.Radio, clock timex.Clock) *Engine {
	if clock == nil {
		clock = timex.System{}
	}
	rs, err := regionSettings(cfg.Region)
	if err != nil {
		rs = region.AU915()
	}
	e := &Engine{
		cfg:     cfg,
		radio:   radio,
		clock:   clock,
		region:  rs,
		plan:    newChannelPlan(cfg.Region),
		Store:   &MemoryCounterStore{},
		sf:      cfg.SF,
		txPower: cfg.TxPowerDBm,
	}
	e.act = newActivation(cfg.Creds)
	return e
}

// Init resets the radio and applies the base modulation.
func (e *Engine) Init() error {
	if e.radio == nil {
		return errcode.Wrap(errcode.InitFailed, "uplink.init", ErrNoRadio)
	}
	e.radioMu.Lock()
	defer e.radioMu.Unlock()

	e.radio.Reset()
	if d, ok := e.radio.(Detector); ok {
		found := false
		for i := 0; i < e.cfg.InitAttempts && !found; i++ {
			if i > 0 {
				time.Sleep(e.cfg.InitDelay)
			}
			found = d.DetectDevice()
		}
		if !found {
			return errcode.Wrap(errcode.InitFailed, "uplink.init", errors.New("radio not detected"))
		}
	}

	e.mu.Lock()
	sf, pwr := e.sf, e.txPower
	e.mu.Unlock()
	e.radio.LoraConfig(lora.Config{
		Freq:           e.region.UplinkChannel().Frequency(),
		Cr:             lora.CodingRate4_5,
		Sf:             sf,
		Bw:             lora.Bandwidth_125_0,
		Ldr:            lora.LowDataRateOptimizeOff,
		Preamble:       preambleLen,
		SyncWord:       lora.SyncPublic,
		HeaderType:     lora.HeaderExplicit,
		Crc:            lora.CRCOn,
		Iq:             lora.IQStandard,
		LoraTxPowerDBm: pwr,
	})
	e.radio.SetPublicNetwork(true)
	println("[uplink] radio ready, sf", sf)
	return nil
}

// -----------------------------------------------------------------------------
// Radio access
// -----------------------------------------------------------------------------

type radioResult struct {
	data []byte
	rssi int16
	snr  int8
	sig  bool
	err  error
}

// radioOp runs fn against the radio on its own goroutine and awaits its
// completion, a timeout or ctx. The radio lock is released by that
// goroutine, so an abandoned operation still finishes before the next one.
func (e *Engine) radioOp(ctx context.Context, timeout time.Duration, fn func(r lora.Radio) radioResult) radioResult {
	done := make(chan radioResult, 1)
	go func() {
		e.radioMu.Lock()
		defer e.radioMu.Unlock()
		done <- fn(e.radio)
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case res := <-done:
		return res
	case <-t.C:
		return radioResult{err: errcode.Timeout}
	case <-ctx.Done():
		return radioResult{err: ctx.Err()}
	}
}

func applyChannel(r lora.Radio, ch region.Channel, freq uint32, sf uint8, pwr int8) {
	r.SetFrequency(freq)
	r.SetBandwidth(ch.Bandwidth())
	r.SetCodingRate(ch.CodingRate())
	r.SetSpreadingFactor(sf)
	r.SetPreambleLength(ch.PreambleLength())
	r.SetTxPower(pwr)
	r.SetHeaderType(lora.HeaderExplicit)
	r.SetCrc(true)
}

func readSignal(r lora.Radio, res *radioResult) {
	if sr, ok := r.(SignalReporter); ok {
		res.rssi = int16(int8(sr.LastPacketRSSI()))
		res.snr = int8(sr.LastPacketSNR())
		res.sig = true
	}
}

func msU32(d time.Duration) uint32 { return uint32(d / time.Millisecond) }

// -----------------------------------------------------------------------------
// Join
// -----------------------------------------------------------------------------

// Join performs one OTAA exchange. It is only valid from Idle.
func (e *Engine) Join(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateIdle {
		st := e.state
		e.mu.Unlock()
		return &errcode.E{C: errcode.Busy, Op: "uplink.join", Msg: st.String()}
	}
	e.state = StateJoining
	req, reqErr := e.act.joinRequest()
	sf, pwr := e.sf, e.txPower
	e.mu.Unlock()

	fail := func(err error) error {
		e.mu.Lock()
		e.state = StateIdle
		e.mu.Unlock()
		println("[uplink] join failed:", err.Error())
		return errcode.Wrap(errcode.JoinFailed, "uplink.join", err)
	}
	if reqErr != nil {
		return fail(reqErr)
	}

	reqCh := e.region.JoinRequestChannel()
	accCh := e.region.JoinAcceptChannel()
	txMs, rxMs := msU32(e.cfg.TxTimeout), msU32(e.cfg.JoinWindow)

	var accept radioResult
	for {
		res := e.radioOp(ctx, e.cfg.TxTimeout+awaitSlack, func(r lora.Radio) radioResult {
			applyChannel(r, reqCh, reqCh.Frequency(), sf, pwr)
			r.SetIqMode(lora.IQStandard)
			return radioResult{err: r.Tx(req, txMs)}
		})
		if res.err != nil {
			return fail(res.err)
		}

		accept = e.radioOp(ctx, e.cfg.JoinWindow+awaitSlack, func(r lora.Radio) radioResult {
			if accCh.Frequency() != 0 {
				applyChannel(r, accCh, accCh.Frequency(), accCh.SpreadingFactor(), pwr)
			}
			r.SetIqMode(lora.IQInverted)
			data, err := r.Rx(rxMs)
			res := radioResult{data: data, err: err}
			if err == nil && len(data) > 0 {
				readSignal(r, &res)
			}
			return res
		})
		if accept.err == nil && len(accept.data) > 0 {
			break
		}
		if ctx.Err() != nil || !accCh.Next() {
			if accept.err == nil {
				accept.err = ErrNoJoinAccept
			}
			return fail(accept.err)
		}
	}

	var s lorawan.Session
	e.mu.Lock()
	err := e.act.decodeJoinAccept(accept.data, &s)
	e.mu.Unlock()
	if err != nil {
		return fail(err)
	}

	e.mu.Lock()
	e.session = s
	e.joined = true
	e.state = StateJoined
	e.emergCnt = 0
	e.hasTx = false
	if accept.sig {
		e.rssi, e.snr = accept.rssi, accept.snr
	}
	e.mu.Unlock()

	if e.Store != nil {
		_ = e.Store.Save(0)
	}
	println("[uplink] joined, devaddr", binary.LittleEndian.Uint32(s.DevAddr[:]))
	return nil
}

// -----------------------------------------------------------------------------
// Send
// -----------------------------------------------------------------------------

// Send transmits one telemetry frame. Checks run in a fixed order: session,
// state, size, port, duty-cycle gap.
func (e *Engine) Send(ctx context.Context, port uint8, payload []byte) error {
	const op = "uplink.send"
	e.mu.Lock()
	var err error
	switch {
	case !e.joined:
		err = errcode.Wrap(errcode.NoNetwork, op, nil)
	case e.state != StateJoined:
		err = &errcode.E{C: errcode.Busy, Op: op, Msg: e.state.String()}
	case len(payload) > e.cfg.MaxPayload:
		err = &errcode.E{C: errcode.SendRejected, Op: op, Msg: "payload too large"}
	case port == 0 || port > 223:
		err = &errcode.E{C: errcode.InvalidParams, Op: op, Msg: "port"}
	case e.hasTx && e.clock.NowMs()-e.lastTxMs < e.cfg.MinGap.Milliseconds():
		err = &errcode.E{C: errcode.Busy, Op: op, Msg: "duty cycle"}
	}
	if err != nil {
		e.mu.Unlock()
		return err
	}
	e.state = StateSending
	fcnt := e.session.FCntUp
	frame, err := buildUplink(&e.session, fcnt, port, payload)
	if err != nil {
		e.state = StateJoined
		e.mu.Unlock()
		return errcode.Wrap(errcode.TxFailed, op, err)
	}
	up := e.region.UplinkChannel()
	freq := e.plan.advance(up.Frequency())
	sf, pwr := e.sf, e.txPower
	e.mu.Unlock()

	res := e.transmit(ctx, up, freq, sf, pwr, frame)
	now := e.clock.NowMs()

	e.mu.Lock()
	if e.state != StateSending {
		// reset while transmitting
		e.mu.Unlock()
		return errcode.Wrap(errcode.TxFailed, op, errors.New("session reset"))
	}
	e.state = StateJoined
	if res.err != nil {
		e.mu.Unlock()
		println("[uplink] send failed:", res.err.Error())
		return errcode.Wrap(errcode.TxFailed, op, res.err)
	}
	e.session.FCntUp = fcnt + 1
	e.lastTxMs = now
	e.hasTx = true
	if res.sig {
		e.rssi, e.snr = res.rssi, res.snr
	}
	next := e.session.FCntUp
	e.mu.Unlock()

	if e.Store != nil {
		if err := e.Store.Save(next); err != nil {
			println("[uplink] fcnt persist failed:", err.Error())
		}
	}
	if e.Duty != nil {
		e.Duty.MarkTx(now)
	}
	e.listen(ctx, up, freq, sf, pwr)
	return nil
}

// SendEmergency transmits on the emergency port, bypassing the duty-cycle
// gap. It uses its own counter, numbered from EmergencyFCntBase so its frames
// never share a keystream block with a telemetry frame, and leaves FCntUp and
// the gap untouched.
func (e *Engine) SendEmergency(ctx context.Context, payload []byte) error {
	const op = "uplink.emergency"
	e.mu.Lock()
	if !e.joined {
		e.mu.Unlock()
		return errcode.Wrap(errcode.NoNetwork, op, nil)
	}
	if len(payload) > e.cfg.MaxPayload {
		e.mu.Unlock()
		return &errcode.E{C: errcode.SendRejected, Op: op, Msg: "payload too large"}
	}
	cnt := e.emergCnt
	frame, err := buildUplink(&e.session, EmergencyFCntBase|cnt, e.cfg.EmergencyPort, payload)
	if err != nil {
		e.mu.Unlock()
		return errcode.Wrap(errcode.TxFailed, op, err)
	}
	up := e.region.UplinkChannel()
	freq := e.plan.advance(up.Frequency())
	sf, pwr := e.sf, e.txPower
	e.mu.Unlock()

	res := e.transmit(ctx, up, freq, sf, pwr, frame)
	if res.err != nil {
		println("[uplink] emergency failed:", res.err.Error())
		return errcode.Wrap(errcode.TxFailed, op, res.err)
	}
	e.mu.Lock()
	if e.joined {
		e.emergCnt = cnt + 1
	}
	e.mu.Unlock()
	println("[uplink] emergency sent, cnt", cnt)
	return nil
}

func (e *Engine) transmit(ctx context.Context, ch region.Channel, freq uint32, sf uint8, pwr int8, frame []byte) radioResult {
	txMs := msU32(e.cfg.TxTimeout)
	return e.radioOp(ctx, e.cfg.TxTimeout+awaitSlack, func(r lora.Radio) radioResult {
		applyChannel(r, ch, freq, sf, pwr)
		r.SetIqMode(lora.IQStandard)
		res := radioResult{err: r.Tx(frame, txMs)}
		if res.err == nil {
			readSignal(r, &res)
		}
		return res
	})
}

// listen opens the receive window after a send and hands any frame to
// ProcessDownlink.
func (e *Engine) listen(ctx context.Context, ch region.Channel, freq uint32, sf uint8, pwr int8) {
	if e.cfg.RxWindow <= 0 {
		return
	}
	rxMs := msU32(e.cfg.RxWindow)
	res := e.radioOp(ctx, e.cfg.RxWindow+awaitSlack, func(r lora.Radio) radioResult {
		applyChannel(r, ch, freq, sf, pwr)
		r.SetIqMode(lora.IQInverted)
		data, err := r.Rx(rxMs)
		return radioResult{data: data, err: err}
	})
	if res.err != nil || len(res.data) == 0 {
		return
	}
	if _, err := e.ProcessDownlink(res.data); err != nil {
		println("[uplink] downlink dropped:", err.Error())
	}
}

// ProcessDownlink authenticates a downlink against the session, advances
// FCntDown and passes it to OnDownlink.
func (e *Engine) ProcessDownlink(phy []byte) (Downlink, error) {
	e.mu.Lock()
	if !e.joined {
		e.mu.Unlock()
		return Downlink{}, errcode.Wrap(errcode.NoNetwork, "uplink.downlink", nil)
	}
	d, err := parseDownlink(&e.session, phy)
	if err == nil {
		e.session.FCntDown = d.FCnt + 1
	}
	cb := e.OnDownlink
	e.mu.Unlock()
	if err != nil {
		return d, err
	}
	if cb != nil {
		cb(d)
	}
	return d, nil
}

// -----------------------------------------------------------------------------
// Power and session control
// -----------------------------------------------------------------------------

// Sleep parks the engine. A joined session survives and is restored by Wake.
func (e *Engine) Sleep() error {
	e.mu.Lock()
	switch e.state {
	case StateSleep:
		e.mu.Unlock()
		return nil
	case StateJoining, StateSending:
		st := e.state
		e.mu.Unlock()
		return &errcode.E{C: errcode.Busy, Op: "uplink.sleep", Msg: st.String()}
	}
	e.sleepJoined = e.joined
	e.state = StateSleep
	e.mu.Unlock()

	if s, ok := e.radio.(Sleeper); ok {
		e.radioMu.Lock()
		s.Sleep()
		e.radioMu.Unlock()
	}
	return nil
}

// Wake leaves Sleep for Joined or Idle without re-joining. A persisted frame
// counter ahead of the session's is adopted.
func (e *Engine) Wake() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateSleep {
		return
	}
	if e.sleepJoined && e.joined {
		e.state = StateJoined
		if e.Store != nil {
			if n, err := e.Store.Load(); err == nil && n > e.session.FCntUp {
				e.session.FCntUp = n
			}
		}
		return
	}
	e.state = StateIdle
}

// Reset drops the session.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session = lorawan.Session{}
	e.joined = false
	e.sleepJoined = false
	e.state = StateIdle
	e.emergCnt = 0
	e.hasTx = false
	e.rssi, e.snr = 0, 0
}

func (e *Engine) SetDataRate(sf uint8) error {
	if sf < minSF || sf > maxSF {
		return &errcode.E{C: errcode.InvalidParams, Op: "uplink.datarate", Msg: "spreading factor"}
	}
	e.mu.Lock()
	e.sf = sf
	e.mu.Unlock()
	return nil
}

func (e *Engine) SetTxPower(dbm int8) error {
	if dbm < minTxPower || dbm > maxTxPower {
		return &errcode.E{C: errcode.InvalidParams, Op: "uplink.txpower", Msg: "power"}
	}
	e.mu.Lock()
	e.txPower = dbm
	e.mu.Unlock()
	return nil
}

// UpdateLimits applies a new configuration except credentials and region,
// which are fixed for the engine's life.
func (e *Engine) UpdateLimits(c Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	creds, rgn := e.cfg.Creds, e.cfg.Region
	e.cfg = c
	e.cfg.Creds, e.cfg.Region = creds, rgn
}

// GapRemaining is how long until a normal send would pass the duty-cycle
// gap.
func (e *Engine) GapRemaining() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.hasTx {
		return 0
	}
	left := e.cfg.MinGap.Milliseconds() - (e.clock.NowMs() - e.lastTxMs)
	if left <= 0 {
		return 0
	}
	return time.Duration(left) * time.Millisecond
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Joined() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.joined
}

func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// PersistCounter writes the current FCntUp to the store.
func (e *Engine) PersistCounter() error {
	if e.Store == nil {
		return nil
	}
	e.mu.Lock()
	n, joined := e.session.FCntUp, e.joined
	e.mu.Unlock()
	if !joined {
		return nil
	}
	return e.Store.Save(n)
}
