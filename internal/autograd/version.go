package autograd

import "sync/atomic"

// VersionCounter is a shared, monotonic token that detects in-place
// mutation of a tensor between the moment a Function saves it and the
// moment it unpacks it for backward (§3, "Version counter").
//
// The tensor library bumps a Variable's counter whenever it mutates the
// underlying tensor in place; the engine only ever observes it. Multiple
// Variables that alias the same storage (views, in-place results) share
// one VersionCounter so an increment through any of them is visible to
// all of them.
type VersionCounter struct {
	cell *int64
}

// NewVersionCounter returns a fresh counter starting at zero.
func NewVersionCounter() *VersionCounter {
	return &VersionCounter{cell: new(int64)}
}

// Bump increments the counter. Called by the tensor library, never by the
// engine itself.
func (v *VersionCounter) Bump() {
	atomic.AddInt64(v.cell, 1)
}

// Value returns the current count.
func (v *VersionCounter) Value() int64 {
	return atomic.LoadInt64(v.cell)
}

// JoinWith makes v and other alias the same underlying cell: from this
// point on, an increment through either is visible through both. Before
// sharing, the common cell is set to the larger of the two current
// values, so neither side's count ever goes backwards.
func (v *VersionCounter) JoinWith(other *VersionCounter) {
	if v.cell == other.cell {
		return
	}
	// Reconcile starting counts so neither side silently "rewinds", then
	// share the cell so every future Bump is visible on both.
	merged := max(v.Value(), other.Value())
	atomic.StoreInt64(other.cell, merged)
	v.cell = other.cell
}
