package alloc_test

import (
	"bytes"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/Hexkalibur/Ether/internal/alloc"
	"github.com/Hexkalibur/Ether/internal/etherr"
)

// TestAllocZeroSize verifies that zero-length blocks do not exist.
func TestAllocZeroSize(t *testing.T) {
	a := alloc.New()

	ref, err := a.Alloc(0)
	if ref != alloc.NoRef {
		t.Errorf("Alloc(0) returned ref 0x%X, want NoRef", uint64(ref))
	}
	if !errors.Is(err, etherr.ErrInvalidArgument) {
		t.Errorf("Alloc(0) error = %v, want ErrInvalidArgument", err)
	}
}

// TestAllocZeroFilled verifies that every byte of a fresh block reads as
// zero before any write.
func TestAllocZeroFilled(t *testing.T) {
	a := alloc.New()

	ref, err := a.Alloc(4096)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}

	data, err := a.Read(ref, 4096)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(data, make([]byte, 4096)) {
		t.Error("fresh block is not zero-filled")
	}
}

// TestWriteReadRoundTrip verifies write-then-read for several sizes up to
// the block's size, and that out-of-bounds lengths fail with Overflow.
func TestWriteReadRoundTrip(t *testing.T) {
	testCases := []struct {
		name      string
		blockSize uint64
		dataLen   int
	}{
		{"1 byte in 1-byte block", 1, 1},
		{"partial write", 256, 27},
		{"full block", 256, 256},
		{"large block", 1 << 20, 4096},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a := alloc.New()
			ref, err := a.Alloc(tc.blockSize)
			if err != nil {
				t.Fatalf("Alloc failed: %v", err)
			}

			data := make([]byte, tc.dataLen)
			for i := range data {
				data[i] = byte(i)
			}

			if err := a.Write(ref, data); err != nil {
				t.Fatalf("Write failed: %v", err)
			}
			got, err := a.Read(ref, uint64(tc.dataLen))
			if err != nil {
				t.Fatalf("Read failed: %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Error("read data differs from written data")
			}
		})
	}
}

// TestOverflow verifies that writes and reads beyond a block's logical size
// fail with Overflow and copy nothing.
func TestOverflow(t *testing.T) {
	a := alloc.New()
	ref, _ := a.Alloc(16)

	if err := a.Write(ref, make([]byte, 17)); !errors.Is(err, etherr.ErrOverflow) {
		t.Errorf("oversized Write error = %v, want ErrOverflow", err)
	}
	if _, err := a.Read(ref, 17); !errors.Is(err, etherr.ErrOverflow) {
		t.Errorf("oversized Read error = %v, want ErrOverflow", err)
	}

	// The block is untouched by the failed write.
	got, err := a.Read(ref, 16)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(got, make([]byte, 16)) {
		t.Error("failed write modified the block")
	}
}

// TestFree verifies free semantics: NoRef is a no-op, an unknown ref reports
// corruption, and a second free of the same ref reports a double free
// without corrupting the statistics.
func TestFree(t *testing.T) {
	a := alloc.New()

	if err := a.Free(alloc.NoRef); err != nil {
		t.Errorf("Free(NoRef) = %v, want nil", err)
	}

	if err := a.Free(alloc.Ref(999)); !errors.Is(err, etherr.ErrCorruption) {
		t.Errorf("Free(unknown) error = %v, want ErrCorruption", err)
	}

	ref, _ := a.Alloc(64)
	if err := a.Free(ref); err != nil {
		t.Fatalf("first Free failed: %v", err)
	}
	if err := a.Free(ref); !errors.Is(err, alloc.ErrDoubleFree) {
		t.Errorf("second Free error = %v, want ErrDoubleFree", err)
	}

	stats := a.Stats()
	if stats.NumFrees != 1 {
		t.Errorf("NumFrees = %d after double free, want 1", stats.NumFrees)
	}
	if stats.CurrentUsage != 0 {
		t.Errorf("CurrentUsage = %d after free, want 0", stats.CurrentUsage)
	}
}

// TestUseAfterFree verifies that a freed ref is rejected by every data
// operation.
func TestUseAfterFree(t *testing.T) {
	a := alloc.New()
	ref, _ := a.Alloc(64)
	if err := a.Free(ref); err != nil {
		t.Fatalf("Free failed: %v", err)
	}

	if err := a.Write(ref, []byte("x")); !errors.Is(err, etherr.ErrCorruption) {
		t.Errorf("Write after free error = %v, want ErrCorruption", err)
	}
	if _, err := a.Read(ref, 1); !errors.Is(err, etherr.ErrCorruption) {
		t.Errorf("Read after free error = %v, want ErrCorruption", err)
	}
	if size := a.Size(ref); size != 0 {
		t.Errorf("Size after free = %d, want 0", size)
	}
}

// TestRealloc exercises the full resize matrix.
func TestRealloc(t *testing.T) {
	t.Run("nil ref behaves as alloc", func(t *testing.T) {
		a := alloc.New()
		ref, err := a.Realloc(alloc.NoRef, 128)
		if err != nil || ref == alloc.NoRef {
			t.Fatalf("Realloc(NoRef, 128) = (0x%X, %v)", uint64(ref), err)
		}
		if a.Size(ref) != 128 {
			t.Errorf("Size = %d, want 128", a.Size(ref))
		}
	})

	t.Run("zero size behaves as free", func(t *testing.T) {
		a := alloc.New()
		ref, _ := a.Alloc(128)
		newRef, err := a.Realloc(ref, 0)
		if err != nil || newRef != alloc.NoRef {
			t.Fatalf("Realloc(ref, 0) = (0x%X, %v), want (NoRef, nil)", uint64(newRef), err)
		}
		if err := a.Free(ref); !errors.Is(err, alloc.ErrDoubleFree) {
			t.Errorf("block not freed by Realloc(ref, 0): %v", err)
		}
	})

	t.Run("shrink preserves prefix", func(t *testing.T) {
		a := alloc.New()
		ref, _ := a.Alloc(8)
		if err := a.Write(ref, []byte("abcdefgh")); err != nil {
			t.Fatalf("Write failed: %v", err)
		}

		newRef, err := a.Realloc(ref, 4)
		if err != nil {
			t.Fatalf("Realloc failed: %v", err)
		}
		if newRef != ref {
			t.Errorf("shrink moved the block: 0x%X -> 0x%X", uint64(ref), uint64(newRef))
		}
		got, _ := a.Read(newRef, 4)
		if !bytes.Equal(got, []byte("abcd")) {
			t.Errorf("shrink lost data: got %q", got)
		}
	})

	t.Run("grow preserves content and zero-fills the rest", func(t *testing.T) {
		a := alloc.New()
		ref, _ := a.Alloc(4)
		if err := a.Write(ref, []byte("abcd")); err != nil {
			t.Fatalf("Write failed: %v", err)
		}

		newRef, err := a.Realloc(ref, 16)
		if err != nil {
			t.Fatalf("Realloc failed: %v", err)
		}
		got, _ := a.Read(newRef, 16)
		want := append([]byte("abcd"), make([]byte, 12)...)
		if !bytes.Equal(got, want) {
			t.Errorf("grow mangled data: got %v, want %v", got, want)
		}
	})

	t.Run("grow within capacity stays in place", func(t *testing.T) {
		a := alloc.New()
		ref, _ := a.Alloc(16)
		if _, err := a.Realloc(ref, 4); err != nil {
			t.Fatalf("shrink failed: %v", err)
		}

		// Capacity is still 16, so growing back must not move the block.
		newRef, err := a.Realloc(ref, 10)
		if err != nil {
			t.Fatalf("grow failed: %v", err)
		}
		if newRef != ref {
			t.Errorf("in-capacity grow moved the block: 0x%X -> 0x%X", uint64(ref), uint64(newRef))
		}
		got, _ := a.Read(newRef, 10)
		if !bytes.Equal(got, make([]byte, 10)) {
			t.Error("bytes re-exposed by grow are not zeroed")
		}
	})

	t.Run("realloc of freed ref fails and allocates nothing", func(t *testing.T) {
		a := alloc.New()
		ref, _ := a.Alloc(8)
		if err := a.Free(ref); err != nil {
			t.Fatalf("Free failed: %v", err)
		}

		before := a.Stats()
		if _, err := a.Realloc(ref, 64); !errors.Is(err, etherr.ErrCorruption) {
			t.Errorf("Realloc(freed) error = %v, want ErrCorruption", err)
		}
		if after := a.Stats(); after != before {
			t.Errorf("failed Realloc changed stats: %+v -> %+v", before, after)
		}
	})
}

// TestStatsInvariant verifies CurrentUsage == TotalAllocated - TotalFreed
// and that NumAllocs - NumFrees tracks the live block count through a mixed
// workload.
func TestStatsInvariant(t *testing.T) {
	a := alloc.New()

	check := func(live uint64) {
		t.Helper()
		s := a.Stats()
		if s.CurrentUsage != s.TotalAllocated-s.TotalFreed {
			t.Errorf("usage invariant broken: current=%d allocated=%d freed=%d",
				s.CurrentUsage, s.TotalAllocated, s.TotalFreed)
		}
		if s.NumAllocs-s.NumFrees != live {
			t.Errorf("live count = %d, want %d", s.NumAllocs-s.NumFrees, live)
		}
	}

	r1, _ := a.Alloc(100)
	check(1)
	r2, _ := a.Alloc(200)
	check(2)

	r1, _ = a.Realloc(r1, 50) // in-place shrink
	check(2)
	r2, _ = a.Realloc(r2, 1000) // grow with copy
	check(2)

	if err := a.Free(r1); err != nil {
		t.Fatalf("Free failed: %v", err)
	}
	check(1)
	if err := a.Free(r2); err != nil {
		t.Fatalf("Free failed: %v", err)
	}
	check(0)

	s := a.Stats()
	if s.CurrentUsage != 0 {
		t.Errorf("CurrentUsage = %d after freeing everything, want 0", s.CurrentUsage)
	}
	if s.PeakUsage < 1100 {
		t.Errorf("PeakUsage = %d, want at least 1100", s.PeakUsage)
	}

	a.ResetStats()
	if a.Stats() != (alloc.Stats{}) {
		t.Error("ResetStats did not zero the counters")
	}
}

// TestConcurrentAlloc verifies that refs handed to concurrent goroutines are
// distinct and their blocks independent.
func TestConcurrentAlloc(t *testing.T) {
	a := alloc.New()

	const goroutines = 16
	refs := make([]alloc.Ref, goroutines)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ref, err := a.Alloc(64)
			if err != nil {
				t.Errorf("Alloc failed: %v", err)
				return
			}
			refs[i] = ref

			data := bytes.Repeat([]byte{byte(i + 1)}, 64)
			if err := a.Write(ref, data); err != nil {
				t.Errorf("Write failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[alloc.Ref]bool)
	for i, ref := range refs {
		if seen[ref] {
			t.Fatalf("duplicate ref 0x%X", uint64(ref))
		}
		seen[ref] = true

		got, err := a.Read(ref, 64)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if !bytes.Equal(got, bytes.Repeat([]byte{byte(i + 1)}, 64)) {
			t.Errorf("goroutine %d observed foreign data", i)
		}
	}
}
