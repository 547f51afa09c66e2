package stableio

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/stabledb/stabledb/core/vmem"
)

// File is the storage adapter contract the engine drives: positional
// reads and writes with completion handles, plus size, sync, and
// advisory locking.
type File interface {
	// Pread copies bytes at off into the completion's buffer and
	// completes it with the byte count transferred.
	Pread(off int64, c *Completion) error

	// Pwrite copies data to off, growing the backing resource first if
	// the write would extend past its current capacity, and completes
	// with the byte count transferred.
	Pwrite(off int64, data []byte, c *Completion) error

	// Sync completes c once all prior writes are durable.
	Sync(c *Completion) error

	// Size returns the total addressable byte count.
	Size() (int64, error)

	// Lock takes an advisory lock on the file.
	Lock(exclusive bool) error

	// Unlock releases the advisory lock.
	Unlock() error
}

// MemoryFile adapts a MemoryResource to the File contract. All
// operations complete synchronously because the backing medium is
// host-resident memory; no call ever blocks.
//
// MemoryFile provides no serialization of its own. It must not be shared
// unguarded across connections; the connection-level lock upstream is
// what makes concurrent growth safe.
type MemoryFile struct {
	mem vmem.MemoryResource
	log *zap.Logger
}

// NewMemoryFile creates a File over mem. A nil logger disables logging.
func NewMemoryFile(mem vmem.MemoryResource, log *zap.Logger) *MemoryFile {
	if log == nil {
		log = zap.NewNop()
	}
	return &MemoryFile{mem: mem, log: log}
}

// Pread copies len(c.Buf()) bytes starting at off into the completion's
// buffer and completes it.
func (f *MemoryFile) Pread(off int64, c *Completion) error {
	buf := c.Buf()
	if err := f.mem.ReadAt(off, buf); err != nil {
		return fmt.Errorf("pread %d bytes at %d: %w", len(buf), off, err)
	}
	return c.Complete(len(buf))
}

// Pwrite copies data to off and completes c. If the write end exceeds the
// current capacity, the resource is grown by the minimal whole number of
// units that covers the write; growth failure aborts the operation with
// no partial state persisted.
func (f *MemoryFile) Pwrite(off int64, data []byte, c *Completion) error {
	required := off + int64(len(data))
	current := vmem.SizeBytes(f.mem)
	if required > current {
		units := vmem.UnitsFor(required) - f.mem.SizeUnits()
		newSize, err := f.mem.Grow(units)
		if err != nil {
			return fmt.Errorf("%w: need %d more units: %v", ErrGrowMemory, units, err)
		}
		f.log.Debug("grew backing memory",
			zap.Int64("units", units),
			zap.Int64("new_size_units", newSize))
	}
	if err := f.mem.WriteAt(off, data); err != nil {
		return fmt.Errorf("pwrite %d bytes at %d: %w", len(data), off, err)
	}
	return c.Complete(len(data))
}

// Sync completes c immediately. The backing medium has no flush step
// separate from the write itself; this is a deliberate simplification
// relative to true block-device semantics and does not port to backends
// with volatile write caches.
func (f *MemoryFile) Sync(c *Completion) error {
	return c.Complete(0)
}

// Size returns the total addressable byte count of the backing resource.
func (f *MemoryFile) Size() (int64, error) {
	return vmem.SizeBytes(f.mem), nil
}

// Lock is a no-op: the backing medium is private to one logical process
// and never multi-process contended.
func (f *MemoryFile) Lock(exclusive bool) error { return nil }

// Unlock is a no-op, matching Lock.
func (f *MemoryFile) Unlock() error { return nil }
