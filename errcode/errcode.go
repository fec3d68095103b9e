package errcode

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK            Code = "ok"
	Busy          Code = "busy"
	Unsupported   Code = "unsupported"
	InvalidParams Code = "invalid_params"
	Timeout       Code = "timeout"

	// Uplink protocol.
	InitFailed   Code = "init_failed"
	JoinFailed   Code = "join_failed"
	NoNetwork    Code = "no_network"
	SendRejected Code = "send_rejected"
	TxFailed     Code = "tx_failed"

	// Pipeline back-pressure.
	WouldBlock    Code = "would_block"
	BufferOverrun Code = "buffer_overrun"
	Closed        Code = "closed"

	Error Code = "error" // generic fallback
)

// Optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Wrap attaches an operation and cause to a code. A nil cause yields a bare *E.
func Wrap(c Code, op string, err error) error {
	return &E{C: c, Op: op, Err: err}
}

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}

// Is reports whether err carries code c.
func Is(err error, c Code) bool { return Of(err) == c }

// Retryable reports whether a caller may retry after backing off.
func Retryable(err error) bool {
	switch Of(err) {
	case Busy, Timeout, TxFailed, WouldBlock, JoinFailed:
		return true
	}
	return false
}
