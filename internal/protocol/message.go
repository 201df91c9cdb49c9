// Package protocol defines the Ether wire format: a fixed 24-byte header
// followed by a raw payload, exchanged in both directions over any byte
// stream.
package protocol

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/Hexkalibur/Ether/internal/etherr"
)

// Protocol constants.
const (
	Magic       uint32 = 0xE7E7E7E7        // frame sentinel, first 4 bytes on the wire
	Version     uint8  = 1                 // supported protocol version
	DefaultPort        = 9999              // default server port
	MaxPayload  uint32 = 16 * 1024 * 1024 // 16 MiB per frame
)

// HeaderSize is the fixed header size:
// Magic(4) + Version(1) + Command(1) + Flags(2) + Handle(8) + Size(4) + Reserved(4).
const HeaderSize = 24

// Command identifies the request or response carried by a frame.
type Command uint8

// Command constants.
const (
	CmdPing Command = 0x01 // health check request
	CmdPong Command = 0x02 // health check response

	CmdAlloc   Command = 0x10 // allocate a remote block
	CmdFree    Command = 0x11 // release a remote block
	CmdRealloc Command = 0x12 // resize a remote block

	CmdWrite Command = 0x20 // write payload into a block
	CmdRead  Command = 0x21 // read bytes out of a block

	CmdOK    Command = 0xF0 // success response
	CmdError Command = 0xFF // failure response
)

// String returns the command mnemonic for logging.
func (c Command) String() string {
	switch c {
	case CmdPing:
		return "PING"
	case CmdPong:
		return "PONG"
	case CmdAlloc:
		return "ALLOC"
	case CmdFree:
		return "FREE"
	case CmdRealloc:
		return "REALLOC"
	case CmdWrite:
		return "WRITE"
	case CmdRead:
		return "READ"
	case CmdOK:
		return "OK"
	case CmdError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(c))
	}
}

// Header is the decoded form of the fixed wire header.
//
// Wire layout (network byte order):
//
//	Offset  Size  Field
//	------  ----  -----
//	0       4     Magic
//	4       1     Version
//	5       1     Command
//	6       2     Flags     (reserved, always zero)
//	8       8     Handle
//	16      4     Size      (payload length in bytes)
//	20      4     Reserved
type Header struct {
	Magic    uint32
	Version  uint8
	Command  Command
	Flags    uint16
	Handle   uint64
	Size     uint32
	Reserved uint32
}

// Message is one complete frame: header plus Size payload bytes.
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a message for the given command with a zeroed payload of
// payloadSize bytes. Handle and Flags default to zero and are set by the
// caller. Fails when payloadSize exceeds MaxPayload.
func NewMessage(cmd Command, payloadSize int) (*Message, error) {
	if payloadSize < 0 || uint64(payloadSize) > uint64(MaxPayload) {
		return nil, errors.Wrapf(etherr.ErrInvalidArgument,
			"payload size %d exceeds maximum %d", payloadSize, MaxPayload)
	}

	msg := &Message{
		Header: Header{
			Magic:   Magic,
			Version: Version,
			Command: cmd,
			Size:    uint32(payloadSize),
		},
	}
	if payloadSize > 0 {
		msg.Payload = make([]byte, payloadSize)
	}
	return msg, nil
}

// TotalSize returns the encoded size of the message: header plus payload.
func (m *Message) TotalSize() int {
	return HeaderSize + int(m.Header.Size)
}

// Dump renders the message for debug logging, including a hex preview of
// payloads up to 64 bytes.
func (m *Message) Dump() string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== Ether Message ===\n")
	valid := "(valid)"
	if m.Header.Magic != Magic {
		valid = "(INVALID!)"
	}
	fmt.Fprintf(&b, "Magic:    0x%08X %s\n", m.Header.Magic, valid)
	fmt.Fprintf(&b, "Version:  %d\n", m.Header.Version)
	fmt.Fprintf(&b, "Command:  0x%02X (%s)\n", uint8(m.Header.Command), m.Header.Command)
	fmt.Fprintf(&b, "Flags:    0x%04X\n", m.Header.Flags)
	fmt.Fprintf(&b, "Handle:   0x%016X\n", m.Header.Handle)
	fmt.Fprintf(&b, "Size:     %d bytes\n", m.Header.Size)

	if n := len(m.Payload); n > 0 && n <= 64 {
		b.WriteString("Payload:  ")
		for _, by := range m.Payload {
			fmt.Fprintf(&b, "%02X ", by)
		}
		b.WriteByte('\n')
	}
	b.WriteString("=====================")
	return b.String()
}
