package vmem

import (
	"fmt"
	"sync"

	"github.com/zeebo/blake3"
)

// Region is a heap-backed MemoryResource. It is the deployment target for
// hosts whose linear memory is ordinary process memory, and the backing
// store used by tests and the CLI.
//
// Region methods are individually safe for concurrent use, but compound
// operations (check size, then write) still require external
// serialization, as for any MemoryResource.
type Region struct {
	mu       sync.RWMutex
	data     []byte
	maxUnits int64 // 0 means unbounded
}

// RegionOption configures a Region.
type RegionOption func(*Region)

// WithMaxUnits caps the region at max units. Growth beyond the cap fails
// with ErrGrowLimit.
func WithMaxUnits(max int64) RegionOption {
	return func(r *Region) { r.maxUnits = max }
}

// NewRegion creates an empty Region.
func NewRegion(opts ...RegionOption) *Region {
	r := &Region{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RestoreRegion creates a Region initialized with a prior snapshot image.
// The image is padded up to a whole number of units.
func RestoreRegion(image []byte, opts ...RegionOption) *Region {
	r := NewRegion(opts...)
	units := UnitsFor(int64(len(image)))
	r.data = make([]byte, units*UnitSize)
	copy(r.data, image)
	return r
}

// ReadAt copies len(p) bytes starting at off into p.
func (r *Region) ReadAt(off int64, p []byte) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if off < 0 || off+int64(len(p)) > int64(len(r.data)) {
		return rangeError("read", off, len(p), int64(len(r.data)))
	}
	copy(p, r.data[off:])
	return nil
}

// WriteAt copies p into the region starting at off.
func (r *Region) WriteAt(off int64, p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if off < 0 || off+int64(len(p)) > int64(len(r.data)) {
		return rangeError("write", off, len(p), int64(len(r.data)))
	}
	copy(r.data[off:], p)
	return nil
}

// SizeUnits returns the current size in UnitSize units.
func (r *Region) SizeUnits() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.data)) / UnitSize
}

// Grow extends the region by units additional units and returns the new
// size in units. The grown bytes are zeroed. Growth is all-or-nothing.
func (r *Region) Grow(units int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if units < 0 {
		return 0, fmt.Errorf("negative growth: %d units", units)
	}
	cur := int64(len(r.data)) / UnitSize
	if r.maxUnits > 0 && cur+units > r.maxUnits {
		return 0, fmt.Errorf("%w: %d + %d units exceeds cap %d", ErrGrowLimit, cur, units, r.maxUnits)
	}
	grown := make([]byte, (cur+units)*UnitSize)
	copy(grown, r.data)
	r.data = grown
	return cur + units, nil
}

// Snapshot returns a copy of the region's current contents.
func (r *Region) Snapshot() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]byte, len(r.data))
	copy(out, r.data)
	return out
}

// Checksum returns the blake3 digest of the region's current contents.
// Two regions holding the same database image have the same checksum.
func (r *Region) Checksum() [32]byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return blake3.Sum256(r.data)
}
