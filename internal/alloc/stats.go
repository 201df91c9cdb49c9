package alloc

import (
	"fmt"
	"strings"
)

// Stats is a snapshot of allocator counters. At any point
// CurrentUsage == TotalAllocated - TotalFreed, and NumAllocs - NumFrees
// equals the number of live blocks.
type Stats struct {
	TotalAllocated uint64 // total bytes ever allocated
	TotalFreed     uint64 // total bytes ever freed
	CurrentUsage   uint64 // bytes currently in use
	PeakUsage      uint64 // highest CurrentUsage observed
	NumAllocs      uint64 // number of allocations
	NumFrees       uint64 // number of frees
}

// Stats returns a copy of the current counters.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// ResetStats zeroes all counters.
func (a *Allocator) ResetStats() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats = Stats{}
}

// String renders the snapshot as a multi-line report.
func (s Stats) String() string {
	var b strings.Builder
	b.WriteString("=== Ether Allocator State ===\n")
	fmt.Fprintf(&b, "Total allocated: %d bytes\n", s.TotalAllocated)
	fmt.Fprintf(&b, "Total freed:     %d bytes\n", s.TotalFreed)
	fmt.Fprintf(&b, "Current usage:   %d bytes\n", s.CurrentUsage)
	fmt.Fprintf(&b, "Peak usage:      %d bytes\n", s.PeakUsage)
	fmt.Fprintf(&b, "Allocations:     %d\n", s.NumAllocs)
	fmt.Fprintf(&b, "Frees:           %d\n", s.NumFrees)
	b.WriteString("=============================")
	return b.String()
}
