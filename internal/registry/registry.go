// Package registry provides the handle table used on both sides of the
// connection: the server maps wire handles to allocator blocks, the client
// maps them to mirror-buffer bindings. The contract is identical, so the
// backing type is a parameter.
package registry

import "sync"

type entry[T any] struct {
	backing T
	size    uint64
}

// Registry is a mutex-guarded map from 64-bit handle ids to backing values.
// Ids are assigned monotonically starting at 1 and are never reused for the
// life of the registry, so a stale id can never alias a newer entry.
type Registry[T any] struct {
	mu      sync.Mutex
	entries map[uint64]entry[T]
	next    uint64
	limit   int // 0 means unbounded
}

// New creates an unbounded registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{entries: make(map[uint64]entry[T])}
}

// NewWithLimit creates a registry holding at most limit live entries.
func NewWithLimit[T any](limit int) *Registry[T] {
	return &Registry[T]{entries: make(map[uint64]entry[T]), limit: limit}
}

// Store inserts a backing value and returns its handle id. Returns 0 (never
// a valid id) when the entry limit is reached.
func (r *Registry[T]) Store(backing T, size uint64) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.limit > 0 && len(r.entries) >= r.limit {
		return 0
	}
	r.next++
	r.entries[r.next] = entry[T]{backing: backing, size: size}
	return r.next
}

// Lookup returns the backing value and size for a handle id.
func (r *Registry[T]) Lookup(id uint64) (T, uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	return e.backing, e.size, ok
}

// Replace swaps the backing value and size of an existing entry, keeping its
// id. Returns false if the id is unknown.
func (r *Registry[T]) Replace(id uint64, backing T, size uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; !ok {
		return false
	}
	r.entries[id] = entry[T]{backing: backing, size: size}
	return true
}

// Remove deletes an entry. Returns false if the id is unknown.
func (r *Registry[T]) Remove(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

// Len returns the number of live entries.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
