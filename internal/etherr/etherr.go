// Package etherr defines the error taxonomy shared by the allocator, the
// wire protocol, and both endpoints. Callers classify failures with
// errors.Is against the sentinels below; Message turns any error into the
// short human-readable form shown to users.
package etherr

import "github.com/cockroachdb/errors"

var (
	ErrOutOfMemory     = errors.New("out of memory")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrCorruption      = errors.New("memory corruption detected")
	ErrOverflow        = errors.New("buffer overflow")
	ErrNetwork         = errors.New("network error")
	ErrTimeout         = errors.New("operation timeout")
	ErrNotFound        = errors.New("handle not found")
)

// Message maps an error to its user-facing description. A nil error reads
// as "Success" so callers can report results uniformly.
func Message(err error) string {
	switch {
	case err == nil:
		return "Success"
	case errors.Is(err, ErrOutOfMemory):
		return "Out of memory"
	case errors.Is(err, ErrInvalidArgument):
		return "Invalid argument"
	case errors.Is(err, ErrCorruption):
		return "Memory corruption detected"
	case errors.Is(err, ErrOverflow):
		return "Buffer overflow"
	case errors.Is(err, ErrNetwork):
		return "Network error"
	case errors.Is(err, ErrTimeout):
		return "Operation timeout"
	case errors.Is(err, ErrNotFound):
		return "Handle not found"
	default:
		return "Unknown error"
	}
}
