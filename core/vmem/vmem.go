// Package vmem models the growable linear memory resource that backs a
// database. The resource is byte-addressable, grows in fixed 64 KiB units,
// and never shrinks. The canonical implementation is Region, a heap-backed
// resource; hosts with their own linear memory (wasm, shared mappings)
// provide their own MemoryResource.
package vmem

import (
	"errors"
	"fmt"
)

// UnitSize is the granularity of memory growth, in bytes.
const UnitSize = 64 * 1024

// Sentinel errors for memory resource operations.
var (
	// ErrOutOfRange indicates a read or write beyond the current size.
	ErrOutOfRange = errors.New("access beyond current memory size")
	// ErrGrowLimit indicates the resource refused to grow further.
	ErrGrowLimit = errors.New("memory growth limit reached")
)

// MemoryResource is a growable byte-addressable region. Implementations
// must guarantee that growth is atomic from the caller's perspective and
// that the region never shrinks.
//
// MemoryResource provides no internal protection against concurrent
// growth; callers must serialize access (the connection-level lock in
// core/stable does this for the database use case).
type MemoryResource interface {
	// ReadAt copies len(p) bytes starting at off into p.
	ReadAt(off int64, p []byte) error

	// WriteAt copies p into the region starting at off. The full range
	// [off, off+len(p)) must already be within the current size.
	WriteAt(off int64, p []byte) error

	// SizeUnits returns the current size in UnitSize units.
	SizeUnits() int64

	// Grow extends the region by units additional UnitSize units and
	// returns the new size in units. The new bytes are zeroed.
	Grow(units int64) (int64, error)
}

// SizeBytes returns the current size of a resource in bytes.
func SizeBytes(m MemoryResource) int64 {
	return m.SizeUnits() * UnitSize
}

// UnitsFor returns the minimal number of units whose combined size covers
// n bytes (rounding up).
func UnitsFor(n int64) int64 {
	return (n + UnitSize - 1) / UnitSize
}

func rangeError(op string, off int64, n int, size int64) error {
	return fmt.Errorf("%w: %s of %d bytes at offset %d, size %d", ErrOutOfRange, op, n, off, size)
}
