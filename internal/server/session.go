package server

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/Hexkalibur/Ether/internal/etherr"
	"github.com/Hexkalibur/Ether/internal/protocol"
	"github.com/Hexkalibur/Ether/internal/transport"
	"github.com/Hexkalibur/Ether/internal/util"
)

// serveSession runs the per-connection loop: receive one frame, dispatch it,
// answer, repeat. Requests on one connection are handled strictly in arrival
// order; a failed request answers with an ERROR frame and the session
// continues. Only transport errors end the session.
func (s *Server) serveSession(ctx context.Context, stream transport.Stream) {
	conn := transport.NewConn(stream, s.cfg.RecvTimeout, s.counters)
	s.counters.AddConn()

	// Unblock a pending Recv when the server shuts down.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	defer func() {
		conn.Close()
		s.counters.RemoveConn()
		util.LogInfo("client %s disconnected", conn.RemoteAddr())
	}()

	for {
		msg, err := conn.Recv()
		if err != nil {
			switch {
			case errors.Is(err, protocol.ErrInvalidHeader):
				// Malformed frame: discard and keep the session alive.
				util.LogWarning("[%s] invalid frame skipped: %v", conn.RemoteAddr(), err)
				continue
			case errors.Is(err, io.EOF):
				return
			case errors.Is(err, etherr.ErrTimeout):
				util.LogWarning("[%s] receive timed out", conn.RemoteAddr())
				return
			default:
				select {
				case <-ctx.Done():
					// Shutdown closed the stream under us.
				default:
					util.LogError("[%s] receive error: %v", conn.RemoteAddr(), err)
				}
				return
			}
		}

		s.dispatch(conn, msg)
	}
}

// dispatch routes one validated request. Every branch sends exactly one
// response frame; errors are answered, never escalated to the transport.
func (s *Server) dispatch(conn *transport.Conn, msg *protocol.Message) {
	switch msg.Header.Command {
	case protocol.CmdPing:
		util.LogDebug("[%s] PING", conn.RemoteAddr())
		s.respond(conn, protocol.CmdPong, 0, nil)
	case protocol.CmdAlloc:
		s.handleAlloc(conn, msg)
	case protocol.CmdFree:
		s.handleFree(conn, msg)
	case protocol.CmdRealloc:
		s.handleRealloc(conn, msg)
	case protocol.CmdWrite:
		s.handleWrite(conn, msg)
	case protocol.CmdRead:
		s.handleRead(conn, msg)
	default:
		util.LogWarning("[%s] unknown command 0x%02X", conn.RemoteAddr(), uint8(msg.Header.Command))
		s.respond(conn, protocol.CmdError, 0, nil)
	}
}

// handleAlloc allocates a block and publishes it under a fresh handle. If
// the registry rejects the handle the block is freed again, so a failure
// leaves no trace.
func (s *Server) handleAlloc(conn *transport.Conn, msg *protocol.Message) {
	size := uint64(msg.Header.Size)
	util.LogDebug("[%s] ALLOC %d bytes", conn.RemoteAddr(), size)

	ref, err := s.alloc.Alloc(size)
	if err != nil {
		util.LogWarning("[%s] ALLOC failed: %s", conn.RemoteAddr(), etherr.Message(err))
		s.respond(conn, protocol.CmdError, 0, nil)
		return
	}

	id := s.handles.Store(ref, size)
	if id == 0 {
		_ = s.alloc.Free(ref)
		util.LogWarning("[%s] ALLOC failed: handle table full", conn.RemoteAddr())
		s.respond(conn, protocol.CmdError, 0, nil)
		return
	}

	s.respond(conn, protocol.CmdOK, id, nil)
}

// handleFree releases the block behind a handle. The handle disappears from
// the registry together with the block, so no stale handle can reach freed
// memory.
func (s *Server) handleFree(conn *transport.Conn, msg *protocol.Message) {
	id := msg.Header.Handle
	util.LogDebug("[%s] FREE handle 0x%X", conn.RemoteAddr(), id)

	ref, _, ok := s.handles.Lookup(id)
	if !ok {
		util.LogWarning("[%s] FREE failed: handle 0x%X not found", conn.RemoteAddr(), id)
		s.respond(conn, protocol.CmdError, id, nil)
		return
	}

	if err := s.alloc.Free(ref); err != nil {
		util.LogWarning("[%s] FREE failed: %v", conn.RemoteAddr(), err)
		s.respond(conn, protocol.CmdError, id, nil)
		return
	}
	s.handles.Remove(id)
	s.respond(conn, protocol.CmdOK, id, nil)
}

// handleRealloc resizes the block behind a handle, keeping the handle id
// stable. A zero handle degenerates to ALLOC, a zero size to FREE.
func (s *Server) handleRealloc(conn *transport.Conn, msg *protocol.Message) {
	id := msg.Header.Handle
	size := uint64(msg.Header.Size)
	util.LogDebug("[%s] REALLOC handle 0x%X to %d bytes", conn.RemoteAddr(), id, size)

	if id == 0 {
		s.handleAlloc(conn, msg)
		return
	}
	if size == 0 {
		s.handleFree(conn, msg)
		return
	}

	ref, _, ok := s.handles.Lookup(id)
	if !ok {
		s.respond(conn, protocol.CmdError, id, nil)
		return
	}

	newRef, err := s.alloc.Realloc(ref, size)
	if err != nil {
		// Original block untouched.
		util.LogWarning("[%s] REALLOC failed: %v", conn.RemoteAddr(), err)
		s.respond(conn, protocol.CmdError, id, nil)
		return
	}
	if !s.handles.Replace(id, newRef, size) {
		// Handle vanished in the meantime; roll the new block back.
		_ = s.alloc.Free(newRef)
		s.respond(conn, protocol.CmdError, id, nil)
		return
	}
	s.respond(conn, protocol.CmdOK, id, nil)
}

// handleWrite copies the request payload into the block. The registry size
// bounds the length before the allocator is touched.
func (s *Server) handleWrite(conn *transport.Conn, msg *protocol.Message) {
	id := msg.Header.Handle
	util.LogDebug("[%s] WRITE handle 0x%X len %d", conn.RemoteAddr(), id, len(msg.Payload))

	ref, size, ok := s.handles.Lookup(id)
	if !ok {
		s.respond(conn, protocol.CmdError, id, nil)
		return
	}
	if uint64(len(msg.Payload)) > size {
		util.LogWarning("[%s] WRITE failed: %d bytes into %d-byte block", conn.RemoteAddr(), len(msg.Payload), size)
		s.respond(conn, protocol.CmdError, id, nil)
		return
	}

	if err := s.alloc.Write(ref, msg.Payload); err != nil {
		util.LogWarning("[%s] WRITE failed: %v", conn.RemoteAddr(), err)
		s.respond(conn, protocol.CmdError, id, nil)
		return
	}
	s.respond(conn, protocol.CmdOK, id, nil)
}

// handleRead returns up to Size bytes from the block. The requested length
// is capped to the block's size; the response Size reflects what was
// actually read.
func (s *Server) handleRead(conn *transport.Conn, msg *protocol.Message) {
	id := msg.Header.Handle
	n := uint64(msg.Header.Size)
	util.LogDebug("[%s] READ handle 0x%X len %d", conn.RemoteAddr(), id, n)

	ref, size, ok := s.handles.Lookup(id)
	if !ok {
		s.respond(conn, protocol.CmdError, id, nil)
		return
	}
	if n > size {
		n = size // cap to available
	}

	data, err := s.alloc.Read(ref, n)
	if err != nil {
		util.LogWarning("[%s] READ failed: %v", conn.RemoteAddr(), err)
		s.respond(conn, protocol.CmdError, id, nil)
		return
	}
	s.respond(conn, protocol.CmdOK, id, data)
}

// respond sends one response frame. Send failures only end this session, so
// they are logged here rather than propagated.
func (s *Server) respond(conn *transport.Conn, cmd protocol.Command, handle uint64, payload []byte) {
	resp, err := protocol.NewMessage(cmd, len(payload))
	if err != nil {
		util.LogError("[%s] response build failed: %v", conn.RemoteAddr(), err)
		return
	}
	resp.Header.Handle = handle
	copy(resp.Payload, payload)

	if err := conn.Send(resp); err != nil {
		util.LogError("[%s] response send failed: %v", conn.RemoteAddr(), err)
	}
}
