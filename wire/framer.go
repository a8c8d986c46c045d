package wire

import (
	"fmt"
)

var _ error = (*FrameError)(nil)

// Frame is one complete envelope read off a peer stream.
type Frame struct {
	Type    MessageType
	Payload []byte
}

// FrameError reports a malformed envelope. The stream it came from cannot be
// resynchronised and must be closed.
type FrameError struct {
	// Offset is the stream position of the offending header.
	Offset int64
	Header []byte
	Err    error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("invalid frame at stream offset %d (header %x): %v", e.Offset, e.Header, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }

// Framer reassembles frames from a byte stream delivered in arbitrary chunks.
// It is not safe for concurrent use.
type Framer struct {
	buf []byte
	// start is the index in buf of the first unconsumed byte.
	start int
	// offset is the stream position of buf[start].
	offset int64
	err    error
}

// Write appends stream bytes. It never fails before the framer has seen a
// malformed header; afterwards it returns that error.
func (f *Framer) Write(p []byte) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	if f.start > 0 && f.start >= len(f.buf)/2 {
		n := copy(f.buf, f.buf[f.start:])
		f.buf = f.buf[:n]
		f.start = 0
	}
	f.buf = append(f.buf, p...)
	return len(p), nil
}

// Next returns the next complete frame. It returns false with a nil error when
// more bytes are needed. Once an error is returned the framer is poisoned and
// returns the same error forever.
func (f *Framer) Next() (Frame, bool, error) {
	if f.err != nil {
		return Frame{}, false, f.err
	}
	pending := f.buf[f.start:]
	if len(pending) < HeaderSize {
		return Frame{}, false, nil
	}
	h, err := ParseHeader(pending)
	if err != nil {
		f.err = &FrameError{
			Offset: f.offset,
			Header: append([]byte(nil), pending[:HeaderSize]...),
			Err:    err,
		}
		return Frame{}, false, f.err
	}
	total := HeaderSize + int(h.PayloadSize)
	if len(pending) < total {
		return Frame{}, false, nil
	}
	frame := Frame{
		Type:    h.Type,
		Payload: append(make([]byte, 0, h.PayloadSize), pending[HeaderSize:total]...),
	}
	f.start += total
	f.offset += int64(total)
	return frame, true, nil
}

// Buffered returns the number of bytes received but not yet framed.
func (f *Framer) Buffered() int {
	return len(f.buf) - f.start
}
