package console

import (
	"errors"
	"io"
)

// Frame types. Requests are answered in order on the same link.
const (
	framePing      byte = 0x01
	framePong      byte = 0x02
	frameAck       byte = 0x13
	frameConfigSet byte = 0x20
	frameStatusReq byte = 0x30
	frameStatus    byte = 0x31
	frameError     byte = 0x7e
	frameClose     byte = 0x7f
)

// Frame is type | length (BE16) | payload.
type Frame struct {
	Type    byte
	Payload []byte
}

var errFrameTooLarge = errors.New("frame too large")

type framedReader struct{ r io.Reader }
type framedWriter struct{ w io.Writer }

func newFramedReader(r io.Reader) *framedReader { return &framedReader{r: r} }
func newFramedWriter(w io.Writer) *framedWriter { return &framedWriter{w: w} }

func (fr *framedReader) ReadFrame() (Frame, error) {
	var hdr [3]byte
	if _, err := io.ReadFull(fr.r, hdr[:]); err != nil {
		return Frame{}, err
	}
	n := int(hdr[1])<<8 | int(hdr[2])
	var buf []byte
	if n > 0 {
		buf = make([]byte, n)
		if _, err := io.ReadFull(fr.r, buf); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Type: hdr[0], Payload: buf}, nil
}

// WriteFrame sends header and payload in one write so a frame is never
// interleaved on the wire.
func (fw *framedWriter) WriteFrame(f Frame) error {
	if len(f.Payload) > 0xFFFF {
		return errFrameTooLarge
	}
	buf := make([]byte, 0, 3+len(f.Payload))
	buf = append(buf, f.Type, byte(len(f.Payload)>>8), byte(len(f.Payload)))
	buf = append(buf, f.Payload...)
	_, err := fw.w.Write(buf)
	return err
}
