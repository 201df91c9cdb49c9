// Package client implements the remote memory façade: rmalloc, rfree,
// rwrite, rread, rrealloc, rsize, and ping against an Ether server.
//
// Every live remote block has a local mirror buffer bound to its handle.
// The mirror is a write-through cache: only the façade populates it, on
// confirmed writes, so Rsize and future local reads reflect the last
// acknowledged state without a round trip.
package client

import (
	"context"
	"net"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"

	"github.com/Hexkalibur/Ether/internal/etherr"
	"github.com/Hexkalibur/Ether/internal/protocol"
	"github.com/Hexkalibur/Ether/internal/registry"
	"github.com/Hexkalibur/Ether/internal/transport"
	"github.com/Hexkalibur/Ether/internal/util"
)

// Handle identifies a remote allocation within this connection. The zero
// Handle is never valid.
type Handle uint64

// binding ties a remote handle to its local mirror buffer.
type binding struct {
	remote uint64
	mirror []byte
}

// Conn is a connection to an Ether server. Operations are blocking and
// serialized: one request is in flight at a time.
type Conn struct {
	tr       *transport.Conn
	bindings *registry.Registry[*binding]
}

// Connect dials an Ether server over TCP.
func Connect(ctx context.Context, host string, port int) (*Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, errors.Wrapf(errors.Mark(err, etherr.ErrNetwork), "connect to %s:%d", host, port)
	}
	return newConn(conn), nil
}

// ConnectWS dials an Ether server's WebSocket endpoint, e.g.
// "ws://host:port/ws".
func ConnectWS(ctx context.Context, url string) (*Conn, error) {
	wsConn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(errors.Mark(err, etherr.ErrNetwork), "connect to %s", url)
	}
	return newConn(transport.WrapWebSocket(wsConn)), nil
}

func newConn(stream transport.Stream) *Conn {
	return &Conn{
		tr:       transport.NewConn(stream, 0, nil),
		bindings: registry.New[*binding](),
	}
}

// Close tears down the connection. Remote blocks stay live on the server
// until freed or the server restarts.
func (c *Conn) Close() error {
	return c.tr.Close()
}

// Ping checks that the server answers.
func (c *Conn) Ping() error {
	resp, err := c.exchange(protocol.CmdPing, 0, 0, nil)
	if err != nil {
		return err
	}
	if resp.Header.Command != protocol.CmdPong {
		return errors.Wrapf(etherr.ErrNetwork, "unexpected reply %s to PING", resp.Header.Command)
	}
	return nil
}

// Rmalloc allocates size bytes on the server and returns a handle bound to
// a zeroed local mirror. If the binding cannot be recorded locally the
// remote block is freed again, best effort.
func (c *Conn) Rmalloc(size uint64) (Handle, error) {
	if size == 0 {
		return 0, errors.Wrap(etherr.ErrInvalidArgument, "zero-length allocation")
	}
	if size > uint64(protocol.MaxPayload) {
		return 0, errors.Wrapf(etherr.ErrInvalidArgument, "allocation of %d bytes exceeds maximum %d", size, protocol.MaxPayload)
	}

	resp, err := c.exchange(protocol.CmdAlloc, 0, uint32(size), nil)
	if err != nil {
		return 0, err
	}
	if resp.Header.Command != protocol.CmdOK || resp.Header.Handle == 0 {
		return 0, errors.Wrap(etherr.ErrOutOfMemory, "server rejected allocation")
	}

	b := &binding{remote: resp.Header.Handle, mirror: make([]byte, size)}
	id := c.bindings.Store(b, size)
	if id == 0 {
		c.freeRemote(resp.Header.Handle)
		return 0, errors.Wrap(etherr.ErrOutOfMemory, "local handle table full")
	}
	return Handle(id), nil
}

// Rfree releases a remote block. Server-side failures are logged, not
// propagated: the local binding and mirror are dropped either way.
func (c *Conn) Rfree(h Handle) {
	b, _, ok := c.bindings.Lookup(uint64(h))
	if !ok {
		return
	}
	c.freeRemote(b.remote)
	c.bindings.Remove(uint64(h))
	clear(b.mirror)
}

func (c *Conn) freeRemote(remote uint64) {
	resp, err := c.exchange(protocol.CmdFree, remote, 0, nil)
	switch {
	case err != nil:
		util.LogWarning("rfree handle 0x%X: %v", remote, err)
	case resp.Header.Command != protocol.CmdOK:
		util.LogWarning("rfree handle 0x%X: server answered %s", remote, resp.Header.Command)
	}
}

// Rwrite sends data to the remote block and, once the server confirms,
// writes it through into the local mirror. The length is bounds-checked
// locally before anything goes on the wire.
func (c *Conn) Rwrite(h Handle, data []byte) error {
	b, size, ok := c.bindings.Lookup(uint64(h))
	if !ok {
		return errors.Wrapf(etherr.ErrNotFound, "handle %d", h)
	}
	if uint64(len(data)) > size {
		return errors.Wrapf(etherr.ErrOverflow, "write of %d bytes into %d-byte block", len(data), size)
	}

	resp, err := c.exchange(protocol.CmdWrite, b.remote, 0, data)
	if err != nil {
		return err
	}
	if resp.Header.Command != protocol.CmdOK {
		return errors.Wrap(etherr.ErrInvalidArgument, "server rejected write")
	}

	copy(b.mirror, data)
	return nil
}

// Rread fetches up to n bytes from the remote block. Requests beyond the
// cached block size are capped, mirroring the server's own behavior.
func (c *Conn) Rread(h Handle, n uint64) ([]byte, error) {
	b, size, ok := c.bindings.Lookup(uint64(h))
	if !ok {
		return nil, errors.Wrapf(etherr.ErrNotFound, "handle %d", h)
	}
	if n > size {
		n = size
	}

	resp, err := c.exchange(protocol.CmdRead, b.remote, uint32(n), nil)
	if err != nil {
		return nil, err
	}
	if resp.Header.Command != protocol.CmdOK {
		return nil, errors.Wrap(etherr.ErrInvalidArgument, "server rejected read")
	}
	return resp.Payload, nil
}

// Rrealloc resizes a remote block, preserving the handle. The mirror is
// carried over up to the smaller of the two sizes and zero-extended.
// Rrealloc(0, n) behaves as Rmalloc(n); Rrealloc(h, 0) as Rfree(h).
func (c *Conn) Rrealloc(h Handle, n uint64) (Handle, error) {
	if h == 0 {
		return c.Rmalloc(n)
	}
	if n == 0 {
		c.Rfree(h)
		return 0, nil
	}
	if n > uint64(protocol.MaxPayload) {
		return 0, errors.Wrapf(etherr.ErrInvalidArgument, "allocation of %d bytes exceeds maximum %d", n, protocol.MaxPayload)
	}

	b, size, ok := c.bindings.Lookup(uint64(h))
	if !ok {
		return 0, errors.Wrapf(etherr.ErrNotFound, "handle %d", h)
	}

	resp, err := c.exchange(protocol.CmdRealloc, b.remote, uint32(n), nil)
	if err != nil {
		return 0, err
	}
	if resp.Header.Command != protocol.CmdOK {
		return 0, errors.Wrap(etherr.ErrOutOfMemory, "server rejected realloc")
	}

	mirror := make([]byte, n)
	copy(mirror, b.mirror[:min(size, n)])
	b.mirror = mirror
	c.bindings.Replace(uint64(h), b, n)
	return h, nil
}

// Rsize reports the cached size of a remote block without a round trip, or
// 0 for an unknown handle.
func (c *Conn) Rsize(h Handle) uint64 {
	_, size, ok := c.bindings.Lookup(uint64(h))
	if !ok {
		return 0
	}
	return size
}

// exchange performs one request/response cycle. Frames always carry exactly
// Size payload bytes; commands whose Size field is a parameter rather than
// data (ALLOC, READ, REALLOC) send that many zero bytes.
func (c *Conn) exchange(cmd protocol.Command, handle uint64, sizeField uint32, payload []byte) (*protocol.Message, error) {
	n := int(sizeField)
	if payload != nil {
		n = len(payload)
	}
	msg, err := protocol.NewMessage(cmd, n)
	if err != nil {
		return nil, err
	}
	msg.Header.Handle = handle
	copy(msg.Payload, payload)

	return c.tr.RoundTrip(msg)
}
