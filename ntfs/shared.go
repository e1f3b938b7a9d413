package ntfs

import "sync"

// sharedSlots bounds the registry. Eight concurrently mounted volumes with
// distinct upcase tables is already far beyond realistic deployments; the
// linear scan stays cheap because slots are compared length-first.
const sharedSlots = 8

// SharedTables deduplicates immutable upcase tables across mounted volumes.
// Windows generations ship different tables, so identity is decided by
// content, not provenance: a volume offering a table byte-identical to a
// registered one shares the registered copy.
//
// All access is serialized by one mutex; hold time is bounded by a single
// table comparison, never by volume size.
type SharedTables struct {
	mu    sync.Mutex
	slots [sharedSlots]struct {
		tbl  []uint16
		refs int
	}
}

// defaultShared is the process-wide registry used when MountOptions.Shared
// is nil.
var defaultShared = NewSharedTables()

// NewSharedTables returns an empty registry.
func NewSharedTables() *SharedTables { return &SharedTables{} }

// Acquire offers tbl to the registry. On a content match it bumps the
// existing slot and returns the stored table; the caller must drop its
// candidate and use the returned one. Otherwise the candidate claims a free
// slot with one reference. When every slot is taken, shared is false and
// the caller keeps sole ownership of tbl.
func (s *SharedTables) Acquire(tbl []uint16) (stored []uint16, shared bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	free := -1
	for i := range s.slots {
		slot := &s.slots[i]
		if slot.refs == 0 {
			if free < 0 {
				free = i
			}
			continue
		}
		if tablesEqual(slot.tbl, tbl) {
			slot.refs++
			return slot.tbl, true
		}
	}
	if free < 0 {
		return tbl, false
	}
	s.slots[free].tbl = tbl
	s.slots[free].refs = 1
	return tbl, true
}

// Release drops one reference to tbl (matched by identity, not content).
// It reports true when the caller regained sole ownership: the last
// reference is gone and the slot is free for reuse. Unregistered tables
// release trivially.
func (s *SharedTables) Release(tbl []uint16) (last bool) {
	if len(tbl) == 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.slots {
		slot := &s.slots[i]
		if slot.refs > 0 && len(slot.tbl) > 0 && &slot.tbl[0] == &tbl[0] {
			slot.refs--
			if slot.refs > 0 {
				return false
			}
			slot.tbl = nil
			return true
		}
	}
	return true
}

// Empty reports whether no slot holds a reference. Teardown paths assert
// this to catch leaked volumes.
func (s *SharedTables) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.slots {
		if s.slots[i].refs != 0 {
			return false
		}
	}
	return true
}

// Refs returns the reference count currently held for tbl, for tests.
func (s *SharedTables) Refs(tbl []uint16) int {
	if len(tbl) == 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.slots {
		slot := &s.slots[i]
		if slot.refs > 0 && len(slot.tbl) > 0 && &slot.tbl[0] == &tbl[0] {
			return slot.refs
		}
	}
	return 0
}

func tablesEqual(a, b []uint16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
