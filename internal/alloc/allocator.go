// Package alloc implements the Ether block allocator.
//
// Every block is tracked in a side table keyed by an opaque Ref. The caller
// never sees block metadata; the table entry carries a state tag word that
// detects corruption and double free, the same way the original hidden
// header magic did, without any pointer arithmetic.
package alloc

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/Hexkalibur/Ether/internal/etherr"
)

// Ref is an opaque reference to an allocated block. The zero Ref never
// refers to a block.
type Ref uint64

// NoRef is the null block reference.
const NoRef Ref = 0

// State tag words. A live entry carries stateAllocated; a released entry is
// kept as a tombstone carrying stateFreed so a second free is reported as
// such rather than as an unknown reference.
const (
	stateAllocated uint32 = 0xF9A9582B
	stateFreed     uint32 = 0x8FD76019
)

// ErrDoubleFree reports a free of a block that was already freed. It is kept
// distinct from the corruption sentinel so callers can tell the two apart.
var ErrDoubleFree = errors.New("double free")

type block struct {
	state uint32
	size  uint64 // logical size visible to the caller
	data  []byte // len(data) is the capacity; nil once released
}

// Allocator owns a set of blocks and their statistics. All methods are safe
// for concurrent use; nothing inside ever blocks on anything but the lock.
type Allocator struct {
	mu      sync.Mutex
	blocks  map[Ref]*block
	nextRef uint64
	stats   Stats
}

// New creates an empty allocator.
func New() *Allocator {
	return &Allocator{blocks: make(map[Ref]*block)}
}

// Alloc allocates a zero-filled block of size bytes and returns its
// reference. Zero-length blocks do not exist: size 0 fails.
func (a *Allocator) Alloc(size uint64) (Ref, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocLocked(size)
}

func (a *Allocator) allocLocked(size uint64) (Ref, error) {
	if size == 0 {
		return NoRef, errors.Wrap(etherr.ErrInvalidArgument, "zero-length allocation")
	}

	a.nextRef++
	ref := Ref(a.nextRef)
	a.blocks[ref] = &block{
		state: stateAllocated,
		size:  size,
		data:  make([]byte, size),
	}

	a.stats.TotalAllocated += size
	a.stats.CurrentUsage += size
	a.stats.NumAllocs++
	if a.stats.CurrentUsage > a.stats.PeakUsage {
		a.stats.PeakUsage = a.stats.CurrentUsage
	}
	return ref, nil
}

// Free releases a block. The user region is wiped before the entry flips to
// the freed state and the storage is dropped, so no data survives the call.
// Freeing NoRef is a no-op; an unknown reference reports corruption and a
// reference freed twice reports a double free. Neither aborts anything.
func (a *Allocator) Free(ref Ref) error {
	if ref == NoRef {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.freeLocked(ref)
}

func (a *Allocator) freeLocked(ref Ref) error {
	b, ok := a.blocks[ref]
	if !ok {
		return errors.Wrapf(etherr.ErrCorruption, "invalid free of ref 0x%X", uint64(ref))
	}
	if b.state == stateFreed {
		return errors.Wrapf(ErrDoubleFree, "ref 0x%X", uint64(ref))
	}
	if b.state != stateAllocated {
		return errors.Wrapf(etherr.ErrCorruption, "bad state tag 0x%08X on ref 0x%X", b.state, uint64(ref))
	}

	size := b.size

	// Secure wipe before the storage is released.
	clear(b.data)
	b.state = stateFreed
	b.size = 0
	b.data = nil

	a.stats.TotalFreed += size
	a.stats.CurrentUsage -= size
	a.stats.NumFrees++
	return nil
}

// Realloc resizes a block:
//
//   - Realloc(NoRef, n) behaves as Alloc(n).
//   - Realloc(ref, 0) behaves as Free(ref) and returns NoRef.
//   - A new size within the block's capacity mutates it in place, zeroing
//     any newly exposed bytes; the reference is unchanged and no copy happens.
//   - Otherwise a new block is allocated, the lesser of the old and new size
//     is copied over, and the old block is freed.
//
// On failure the original block and its contents are untouched.
func (a *Allocator) Realloc(ref Ref, newSize uint64) (Ref, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ref == NoRef {
		return a.allocLocked(newSize)
	}
	if newSize == 0 {
		return NoRef, a.freeLocked(ref)
	}

	b, err := a.lookupLocked(ref)
	if err != nil {
		return NoRef, err
	}

	if newSize <= uint64(len(b.data)) {
		if newSize > b.size {
			clear(b.data[b.size:newSize])
			delta := newSize - b.size
			a.stats.TotalAllocated += delta
			a.stats.CurrentUsage += delta
			if a.stats.CurrentUsage > a.stats.PeakUsage {
				a.stats.PeakUsage = a.stats.CurrentUsage
			}
		} else if newSize < b.size {
			delta := b.size - newSize
			a.stats.TotalFreed += delta
			a.stats.CurrentUsage -= delta
		}
		b.size = newSize
		return ref, nil
	}

	newRef, err := a.allocLocked(newSize)
	if err != nil {
		return NoRef, err
	}
	copy(a.blocks[newRef].data, b.data[:b.size])
	if err := a.freeLocked(ref); err != nil {
		return NoRef, err
	}
	return newRef, nil
}

// Write copies data into the block. Lengths beyond the block's logical size
// fail with an overflow and copy nothing; the length arrives from an
// untrusted peer and is never trusted past this check.
func (a *Allocator) Write(ref Ref, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, err := a.lookupLocked(ref)
	if err != nil {
		return err
	}
	if uint64(len(data)) > b.size {
		return errors.Wrapf(etherr.ErrOverflow, "write of %d bytes into %d-byte block", len(data), b.size)
	}
	copy(b.data, data)
	return nil
}

// Read returns a copy of the first n bytes of the block. Lengths beyond the
// block's logical size fail with an overflow and copy nothing.
func (a *Allocator) Read(ref Ref, n uint64) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, err := a.lookupLocked(ref)
	if err != nil {
		return nil, err
	}
	if n > b.size {
		return nil, errors.Wrapf(etherr.ErrOverflow, "read of %d bytes from %d-byte block", n, b.size)
	}
	out := make([]byte, n)
	copy(out, b.data[:n])
	return out, nil
}

// Size returns the block's logical size, or 0 for an invalid reference.
func (a *Allocator) Size(ref Ref) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, err := a.lookupLocked(ref)
	if err != nil {
		return 0
	}
	return b.size
}

func (a *Allocator) lookupLocked(ref Ref) (*block, error) {
	b, ok := a.blocks[ref]
	if !ok || b.state != stateAllocated {
		return nil, errors.Wrapf(etherr.ErrCorruption, "invalid block ref 0x%X", uint64(ref))
	}
	return b, nil
}
