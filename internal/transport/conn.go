package transport

import (
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/Hexkalibur/Ether/internal/etherr"
	"github.com/Hexkalibur/Ether/internal/protocol"
)

// DefaultRecvTimeout bounds how long a receive may wait for a complete
// frame. A peer that hangs after a partial header costs one connection, not
// the whole process.
const DefaultRecvTimeout = 30 * time.Second

// Conn frames messages over a Stream. Send and Recv are not safe for
// concurrent use on their own; RoundTrip serializes full exchanges, which is
// all the protocol allows per connection anyway (one request in flight).
type Conn struct {
	mu          sync.Mutex
	stream      Stream
	recvTimeout time.Duration
	counters    *Counters // may be nil
}

// NewConn wraps a stream. A recvTimeout of 0 selects DefaultRecvTimeout;
// counters may be nil when no shared accounting is wanted.
func NewConn(stream Stream, recvTimeout time.Duration, counters *Counters) *Conn {
	if recvTimeout == 0 {
		recvTimeout = DefaultRecvTimeout
	}
	return &Conn{stream: stream, recvTimeout: recvTimeout, counters: counters}
}

// Send writes one framed message: encoded header immediately followed by the
// payload, as a single write.
func (c *Conn) Send(msg *protocol.Message) error {
	buf := make([]byte, 0, msg.TotalSize())
	buf = append(buf, protocol.EncodeHeader(msg.Header)...)
	buf = append(buf, msg.Payload...)

	if _, err := c.stream.Write(buf); err != nil {
		return errors.Wrap(errors.Mark(err, etherr.ErrNetwork), "send frame")
	}
	if c.counters != nil {
		c.counters.AddSent(len(buf))
	}
	return nil
}

// Recv blocks until one complete frame arrives: the fixed header, then,
// once the header validates, exactly Size payload bytes. An invalid
// header is returned as a protocol.ErrInvalidHeader error without reading
// any payload; the caller decides whether to skip the frame or tear down.
func (c *Conn) Recv() (*protocol.Message, error) {
	if err := c.stream.SetReadDeadline(time.Now().Add(c.recvTimeout)); err != nil {
		return nil, errors.Wrap(errors.Mark(err, etherr.ErrNetwork), "arm receive deadline")
	}

	hdr := make([]byte, protocol.HeaderSize)
	if _, err := io.ReadFull(c.stream, hdr); err != nil {
		return nil, markIOError(err, "receive header")
	}
	if c.counters != nil {
		c.counters.AddRecv(protocol.HeaderSize)
	}

	h, err := protocol.DecodeHeader(hdr)
	if err != nil {
		return nil, err
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}

	msg := &protocol.Message{Header: h}
	if h.Size > 0 {
		msg.Payload = make([]byte, h.Size)
		if _, err := io.ReadFull(c.stream, msg.Payload); err != nil {
			return nil, markIOError(err, "receive payload")
		}
		if c.counters != nil {
			c.counters.AddRecv(int(h.Size))
		}
	}
	return msg, nil
}

// RoundTrip performs one blocking exchange: send the request, wait for the
// matching response. Exchanges from different goroutines are serialized.
func (c *Conn) RoundTrip(req *protocol.Message) (*protocol.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.Send(req); err != nil {
		return nil, err
	}
	return c.Recv()
}

// RemoteAddr reports the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.stream.RemoteAddr()
}

// Close closes the underlying stream.
func (c *Conn) Close() error {
	return c.stream.Close()
}

// markIOError classifies a stream error: deadline expiry becomes a timeout,
// everything else a network error. io.EOF stays discoverable through
// errors.Is for quiet disconnect handling.
func markIOError(err error, op string) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() || errors.Is(err, os.ErrDeadlineExceeded) {
		return errors.Wrap(errors.Mark(err, etherr.ErrTimeout), op)
	}
	return errors.Wrap(errors.Mark(err, etherr.ErrNetwork), op)
}
