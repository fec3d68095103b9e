// Package console is the short-range local configuration channel. It runs a
// small framed protocol over a serial link: ping, config-set (republished
// on the bus as retained config/<key>) and a status request answered from
// the latest housekeeping snapshot.
package console

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"fieldnode-go/bus"
	"fieldnode-go/services/config"
	"fieldnode-go/services/housekeeping"
	"fieldnode-go/types"
	"fieldnode-go/x/timex"
)

var TopicState = bus.T("console", "state")

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config is the JSON document expected on "config/console".
type Config struct {
	Transport TransportConfig `json:"transport"`
}

type TransportConfig struct {
	// "uart" or a name added with Service.Register.
	Type string      `json:"type"`
	UART *UARTConfig `json:"uart,omitempty"`
}

// UARTConfig carries what the platform dialler needs to open the port.
type UARTConfig struct {
	Baud  int `json:"baud"`
	RxPin int `json:"rx_pin"`
	TxPin int `json:"tx_pin"`
}

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

// Dialer opens the configured UART. The board supplies it.
type Dialer func(ctx context.Context, u UARTConfig) (io.ReadWriteCloser, error)

type Service struct {
	conn  *bus.Connection
	clock timex.Clock
	dial  Dialer

	mu         sync.Mutex
	transports map[string]TransportFactory
	curRun     context.CancelFunc
	status     *types.NodeStatus
}

func New(conn *bus.Connection, dial Dialer) *Service {
	return &Service{
		conn:       conn,
		clock:      timex.System{},
		dial:       dial,
		transports: map[string]TransportFactory{},
	}
}

// Start runs a console on conn until ctx ends.
func Start(ctx context.Context, conn *bus.Connection, dial Dialer) {
	New(conn, dial).Run(ctx)
}

// Run waits for "config/console" and supervises one link at a time until
// ctx ends.
func (s *Service) Run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(config.Topic("console"))
	defer s.conn.Unsubscribe(cfgSub)
	statusSub := s.conn.Subscribe(housekeeping.TopicNode)
	defer s.conn.Unsubscribe(statusSub)

	s.publishState("idle", "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.stopCurrent()
			return
		case msg, ok := <-statusSub.Channel():
			if !ok {
				return
			}
			if st, ok := msg.Payload.(types.NodeStatus); ok {
				s.mu.Lock()
				s.status = &st
				s.mu.Unlock()
			}
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				s.publishState("error", "config_subscription_closed", nil)
				return
			}
			var cfg Config
			if err := config.Decode(msg.Payload, &cfg); err != nil {
				s.publishState("error", "config_decode_failed", err)
				continue
			}
			s.reconfigure(ctx, cfg)
		}
	}
}

func (s *Service) stopCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
}

func (s *Service) reconfigure(parent context.Context, cfg Config) {
	s.mu.Lock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
	ctx, cancel := context.WithCancel(parent)
	s.curRun = cancel
	s.mu.Unlock()

	go s.runLink(ctx, cfg)
}

// -----------------------------------------------------------------------------
// Link supervision
// -----------------------------------------------------------------------------

func (s *Service) runLink(ctx context.Context, cfg Config) {
	tr, err := s.newTransport(cfg.Transport)
	if err != nil {
		s.publishState("error", "transport_init_failed", err)
		return
	}

	backoff := backoffSeq(250*time.Millisecond, 5*time.Second)
	for {
		if ctx.Err() != nil {
			return
		}
		rwc, err := tr.Open(ctx)
		if err != nil {
			s.publishState("degraded", "dial_failed_retrying", err)
			if !timex.Sleep(ctx, backoff()) {
				return
			}
			continue
		}

		s.publishState("up", "link_established", nil)
		err = s.handleLink(ctx, rwc)
		_ = rwc.Close()
		if err == nil {
			return
		}
		s.publishState("degraded", "link_lost_retrying", err)
		if !timex.Sleep(ctx, backoff()) {
			return
		}
	}
}

// handleLink serves one open link until it fails or ctx ends.
func (s *Service) handleLink(ctx context.Context, rwc io.ReadWriteCloser) error {
	rd := newFramedReader(rwc)
	wr := newFramedWriter(rwc)

	frames := make(chan Frame, 4)
	errCh := make(chan error, 1)
	go func() {
		for {
			f, err := rd.ReadFrame()
			if err != nil {
				errCh <- err
				return
			}
			select {
			case frames <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = wr.WriteFrame(Frame{Type: frameClose})
			return nil
		case err := <-errCh:
			return err
		case f := <-frames:
			if f.Type == frameClose {
				return io.EOF
			}
			if err := wr.WriteFrame(s.handleFrame(ctx, f)); err != nil {
				return err
			}
		}
	}
}

// handleFrame answers one request frame.
func (s *Service) handleFrame(ctx context.Context, f Frame) Frame {
	switch f.Type {
	case framePing:
		return Frame{Type: framePong}
	case frameConfigSet:
		key, doc, err := splitConfigSet(f.Payload)
		if err != nil {
			return errorFrame(err)
		}
		s.conn.Publish(s.conn.NewMessage(config.Topic(key), doc, true))
		println("[console] config set:", key)
		return Frame{Type: frameAck, Payload: []byte(key)}
	case frameStatusReq:
		st, err := s.latestStatus(ctx)
		if err != nil {
			return errorFrame(err)
		}
		b, err := json.Marshal(st)
		if err != nil {
			return errorFrame(err)
		}
		return Frame{Type: frameStatus, Payload: b}
	}
	return errorFrame(errUnknownFrame)
}

var (
	errUnknownFrame = errors.New("unknown frame type")
	errBadConfigSet = errors.New("config-set needs key\\x00json")
	errNoStatus     = errors.New("no status available")
)

func splitConfigSet(p []byte) (string, json.RawMessage, error) {
	i := bytes.IndexByte(p, 0)
	if i <= 0 || i == len(p)-1 {
		return "", nil, errBadConfigSet
	}
	doc := json.RawMessage(append([]byte(nil), p[i+1:]...))
	if !json.Valid(doc) {
		return "", nil, errBadConfigSet
	}
	return string(p[:i]), doc, nil
}

// latestStatus returns the cached housekeeping snapshot, asking for a
// fresh one when none has been seen yet.
func (s *Service) latestStatus(ctx context.Context) (types.NodeStatus, error) {
	s.mu.Lock()
	st := s.status
	s.mu.Unlock()
	if st != nil {
		return *st, nil
	}

	rctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	reply, err := s.conn.RequestWait(rctx, s.conn.NewMessage(housekeeping.TopicRefresh, nil, false))
	if err != nil {
		return types.NodeStatus{}, err
	}
	v, ok := reply.Payload.(types.NodeStatus)
	if !ok {
		return types.NodeStatus{}, errNoStatus
	}
	return v, nil
}

func errorFrame(err error) Frame {
	return Frame{Type: frameError, Payload: []byte(err.Error())}
}

// -----------------------------------------------------------------------------
// Transports
// -----------------------------------------------------------------------------

// Transport opens the link.
type Transport interface {
	Open(ctx context.Context) (io.ReadWriteCloser, error)
	String() string
}

// TransportFactory builds a named transport from its config.
type TransportFactory func(TransportConfig) (Transport, error)

var errNoDial = errors.New("no uart dialler")

// Register adds a named transport to this console. Names shadow "uart".
func (s *Service) Register(name string, f TransportFactory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transports[name] = f
}

func (s *Service) newTransport(cfg TransportConfig) (Transport, error) {
	s.mu.Lock()
	f, ok := s.transports[cfg.Type]
	s.mu.Unlock()
	if ok {
		return f(cfg)
	}
	switch cfg.Type {
	case "uart":
		if cfg.UART == nil {
			return nil, errors.New("uart transport requires uart config")
		}
		return &uartTransport{cfg: *cfg.UART, dial: s.dial}, nil
	}
	return nil, errors.New("unknown transport type: " + cfg.Type)
}

type uartTransport struct {
	cfg  UARTConfig
	dial Dialer
}

func (u *uartTransport) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	if u.dial == nil {
		return nil, errNoDial
	}
	return u.dial(ctx, u.cfg)
}

func (u *uartTransport) String() string { return "uart" }

// -----------------------------------------------------------------------------
// Utilities
// -----------------------------------------------------------------------------

func (s *Service) publishState(level, status string, err error) {
	st := types.ServiceState{Level: level, Status: status, TS: s.clock.NowMs()}
	if err != nil {
		st.Error = err.Error()
	}
	s.conn.Publish(s.conn.NewMessage(TopicState, st, true))
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	cur := min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}
