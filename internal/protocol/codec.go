package protocol

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// ErrInvalidHeader marks frames that fail structural validation: wrong magic,
// unsupported version, or an out-of-range payload size. Receivers discard
// such frames without touching the payload length they declare.
var ErrInvalidHeader = errors.New("invalid message header")

// EncodeHeader serializes a header into its 24-byte wire form. Both endpoints
// produce identical bytes regardless of native byte order.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = uint8(h.Command)
	binary.BigEndian.PutUint16(buf[6:8], h.Flags)
	binary.BigEndian.PutUint64(buf[8:16], h.Handle)
	binary.BigEndian.PutUint32(buf[16:20], h.Size)
	binary.BigEndian.PutUint32(buf[20:24], h.Reserved)
	return buf
}

// DecodeHeader deserializes a 24-byte wire header.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, errors.Newf("header too short: %d bytes (need %d)", len(data), HeaderSize)
	}
	return Header{
		Magic:    binary.BigEndian.Uint32(data[0:4]),
		Version:  data[4],
		Command:  Command(data[5]),
		Flags:    binary.BigEndian.Uint16(data[6:8]),
		Handle:   binary.BigEndian.Uint64(data[8:16]),
		Size:     binary.BigEndian.Uint32(data[16:20]),
		Reserved: binary.BigEndian.Uint32(data[20:24]),
	}, nil
}

// Validate rejects a header before its Size field is trusted for any memory
// copy. The declared payload length arrives from an untrusted peer and must
// pass here first.
func (h Header) Validate() error {
	if h.Magic != Magic {
		return errors.Wrapf(ErrInvalidHeader, "bad magic 0x%08X", h.Magic)
	}
	if h.Version != Version {
		return errors.Wrapf(ErrInvalidHeader, "unsupported version %d", h.Version)
	}
	if h.Size > MaxPayload {
		return errors.Wrapf(ErrInvalidHeader, "payload size %d exceeds maximum %d", h.Size, MaxPayload)
	}
	return nil
}
