package proxy

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

// maxHandshakeSize bounds the HTTP header block of a peer upgrade.
const maxHandshakeSize = 16 << 10

var (
	ErrHandshakeTooLarge = errors.New("peer handshake exceeds maximum size")

	headerEnd = []byte("\r\n\r\n")
)

// handshake passes the HTTP upgrade exchange that opens a peer stream through
// unframed. Both the request ("GET") and the response ("HTTP/") start with a
// byte whose reserved envelope bits are set, so they cannot be mistaken for a
// frame. A stream starting with anything else is framed from its first byte.
type handshake struct {
	buf  []byte
	done bool
}

// feed consumes p. Once the header block is complete it is written to peer
// unchanged and the bytes that follow it are returned for framing.
func (h *handshake) feed(p []byte, peer io.Writer) ([]byte, error) {
	if h.done {
		return p, nil
	}
	if len(h.buf) == 0 && len(p) > 0 && p[0] != 'G' && p[0] != 'H' {
		h.done = true
		return p, nil
	}
	h.buf = append(h.buf, p...)
	end := bytes.Index(h.buf, headerEnd)
	if end < 0 {
		if len(h.buf) > maxHandshakeSize {
			return nil, ErrHandshakeTooLarge
		}
		return nil, nil
	}
	end += len(headerEnd)
	if _, err := peer.Write(h.buf[:end]); err != nil {
		return nil, err
	}
	rest := h.buf[end:]
	h.buf = nil
	h.done = true
	return rest, nil
}

// lockedWriter serialises the handshake pass-through with relayed frames on
// the same connection.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
