package protocol_test

import (
	"testing"

	"github.com/Hexkalibur/Ether/internal/protocol"
)

// TestEncodeDecodeRoundTrip verifies that encoding and decoding are inverse
// operations for all commands, including handle values spanning the full
// 64-bit range.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	testCases := []struct {
		name   string
		header protocol.Header
	}{
		{
			name: "PING with zero fields",
			header: protocol.Header{
				Magic:   protocol.Magic,
				Version: protocol.Version,
				Command: protocol.CmdPing,
			},
		},
		{
			name: "ALLOC with size",
			header: protocol.Header{
				Magic:   protocol.Magic,
				Version: protocol.Version,
				Command: protocol.CmdAlloc,
				Size:    4096,
			},
		},
		{
			name: "WRITE with mid-range handle",
			header: protocol.Header{
				Magic:   protocol.Magic,
				Version: protocol.Version,
				Command: protocol.CmdWrite,
				Handle:  0x12345678_9ABCDEF0,
				Size:    27,
			},
		},
		{
			name: "OK with max handle",
			header: protocol.Header{
				Magic:   protocol.Magic,
				Version: protocol.Version,
				Command: protocol.CmdOK,
				Handle:  0xFFFFFFFF_FFFFFFFF,
				Size:    protocol.MaxPayload,
			},
		},
		{
			name: "ERROR with flags and reserved",
			header: protocol.Header{
				Magic:    protocol.Magic,
				Version:  protocol.Version,
				Command:  protocol.CmdError,
				Flags:    0xBEEF,
				Handle:   1,
				Reserved: 0xCAFED00D,
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encoded := protocol.EncodeHeader(tc.header)
			if len(encoded) != protocol.HeaderSize {
				t.Fatalf("encoded size = %d, want %d", len(encoded), protocol.HeaderSize)
			}

			decoded, err := protocol.DecodeHeader(encoded)
			if err != nil {
				t.Fatalf("DecodeHeader failed: %v", err)
			}
			if decoded != tc.header {
				t.Errorf("round trip mismatch:\n got  %+v\n want %+v", decoded, tc.header)
			}
		})
	}
}

// TestDecodeTooShort verifies that DecodeHeader rejects inputs shorter than
// the fixed header size.
func TestDecodeTooShort(t *testing.T) {
	testCases := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"1 byte", []byte{0xE7}},
		{"23 bytes (one less than HeaderSize)", make([]byte, 23)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := protocol.DecodeHeader(tc.data); err == nil {
				t.Fatal("expected error for short header, got nil")
			}
		})
	}
}

// TestValidate exercises the structural checks that gate the Size field
// before it is trusted.
func TestValidate(t *testing.T) {
	valid := protocol.Header{
		Magic:   protocol.Magic,
		Version: protocol.Version,
		Command: protocol.CmdPing,
	}

	testCases := []struct {
		name    string
		mutate  func(h protocol.Header) protocol.Header
		wantErr bool
	}{
		{"valid header", func(h protocol.Header) protocol.Header { return h }, false},
		{"max payload size", func(h protocol.Header) protocol.Header { h.Size = protocol.MaxPayload; return h }, false},
		{"bad magic", func(h protocol.Header) protocol.Header { h.Magic = 0xDEADBEEF; return h }, true},
		{"wrong version", func(h protocol.Header) protocol.Header { h.Version = 2; return h }, true},
		{"oversized payload", func(h protocol.Header) protocol.Header { h.Size = protocol.MaxPayload + 1; return h }, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.mutate(valid).Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

// TestNewMessage verifies payload sizing and the MaxPayload cap.
func TestNewMessage(t *testing.T) {
	msg, err := protocol.NewMessage(protocol.CmdWrite, 64)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	if msg.Header.Magic != protocol.Magic || msg.Header.Version != protocol.Version {
		t.Errorf("header constants not set: %+v", msg.Header)
	}
	if msg.Header.Size != 64 || len(msg.Payload) != 64 {
		t.Errorf("payload sizing wrong: size=%d len=%d", msg.Header.Size, len(msg.Payload))
	}
	if msg.Header.Handle != 0 || msg.Header.Flags != 0 {
		t.Errorf("handle/flags should default to zero: %+v", msg.Header)
	}
	if msg.TotalSize() != protocol.HeaderSize+64 {
		t.Errorf("TotalSize = %d, want %d", msg.TotalSize(), protocol.HeaderSize+64)
	}

	if _, err := protocol.NewMessage(protocol.CmdWrite, int(protocol.MaxPayload)+1); err == nil {
		t.Fatal("expected error for oversized payload, got nil")
	}
}

// TestCommandString spot-checks the command mnemonics used in logs.
func TestCommandString(t *testing.T) {
	testCases := []struct {
		cmd  protocol.Command
		want string
	}{
		{protocol.CmdPing, "PING"},
		{protocol.CmdPong, "PONG"},
		{protocol.CmdAlloc, "ALLOC"},
		{protocol.CmdFree, "FREE"},
		{protocol.CmdRealloc, "REALLOC"},
		{protocol.CmdWrite, "WRITE"},
		{protocol.CmdRead, "READ"},
		{protocol.CmdOK, "OK"},
		{protocol.CmdError, "ERROR"},
		{protocol.Command(0x42), "UNKNOWN(0x42)"},
	}

	for _, tc := range testCases {
		if got := tc.cmd.String(); got != tc.want {
			t.Errorf("Command(0x%02X).String() = %q, want %q", uint8(tc.cmd), got, tc.want)
		}
	}
}
