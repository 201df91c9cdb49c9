// Package transport frames Ether messages over a byte stream. The stream is
// a plain TCP connection or a WebSocket carrying binary messages; framing,
// validation, and the receive deadline are identical for both.
package transport

import (
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// Stream is the minimal byte-stream surface a session needs. *net.TCPConn
// satisfies it directly; WebSocket connections are adapted by WrapWebSocket.
type Stream interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	RemoteAddr() net.Addr
}

// wsStream adapts a WebSocket connection to a byte stream. Binary message
// boundaries are ignored on read, so a frame may span messages and a message
// may carry several frames.
type wsStream struct {
	conn   *websocket.Conn
	reader io.Reader // current in-progress message, nil between messages
}

// WrapWebSocket returns a Stream view of a WebSocket connection.
func WrapWebSocket(conn *websocket.Conn) Stream {
	return &wsStream{conn: conn}
}

func (w *wsStream) Read(p []byte) (int, error) {
	for {
		if w.reader == nil {
			typ, r, err := w.conn.NextReader()
			if err != nil {
				return 0, err
			}
			if typ != websocket.BinaryMessage {
				continue // control/text noise is not part of the protocol
			}
			w.reader = r
		}

		n, err := w.reader.Read(p)
		if err == io.EOF {
			w.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (w *wsStream) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsStream) SetReadDeadline(t time.Time) error {
	return w.conn.SetReadDeadline(t)
}

func (w *wsStream) RemoteAddr() net.Addr {
	return w.conn.RemoteAddr()
}

func (w *wsStream) Close() error {
	return w.conn.Close()
}
