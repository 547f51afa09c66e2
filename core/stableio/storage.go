package stableio

import "fmt"

// Page size bounds enforced on every page read.
const (
	MinPageSize = 512
	MaxPageSize = 65536
)

// DatabaseStorage is the page-granular storage contract the engine
// consumes. Page indices are 1-based.
type DatabaseStorage interface {
	// ReadPage reads page idx into the completion's buffer. The buffer
	// length is the page size.
	ReadPage(idx int, c *Completion) error

	// WritePage writes data as page idx.
	WritePage(idx int, data []byte, c *Completion) error

	// Sync completes c once all written pages are durable.
	Sync(c *Completion) error

	// Size returns the total addressable byte count of the backing
	// store, from which the engine infers the page count.
	Size() (int64, error)
}

// PagedStorage translates 1-based page indices into byte offsets on a
// File.
type PagedStorage struct {
	file File
}

// NewPagedStorage creates a DatabaseStorage over f.
func NewPagedStorage(f File) *PagedStorage {
	return &PagedStorage{file: f}
}

// ValidPageSize reports whether size is a power of two in
// [MinPageSize, MaxPageSize].
func ValidPageSize(size int) bool {
	return size >= MinPageSize && size <= MaxPageSize && size&(size-1) == 0
}

// ReadPage reads page idx into the completion's buffer. The buffer
// length must be a valid page size and idx must be at least 1; a
// violation fails before any read is performed.
func (s *PagedStorage) ReadPage(idx int, c *Completion) error {
	size := len(c.Buf())
	if !ValidPageSize(size) {
		return fmt.Errorf("%w: got %d", ErrInvalidPageSize, size)
	}
	if idx < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidPageIndex, idx)
	}
	off := int64(idx-1) * int64(size)
	return s.file.Pread(off, c)
}

// WritePage writes data as page idx. The page size is not re-validated
// here; the caller is trusted to have established a consistent page size
// at open time.
func (s *PagedStorage) WritePage(idx int, data []byte, c *Completion) error {
	off := int64(idx-1) * int64(len(data))
	return s.file.Pwrite(off, data, c)
}

// Sync forwards to the underlying file.
func (s *PagedStorage) Sync(c *Completion) error {
	return s.file.Sync(c)
}

// Size returns the total addressable byte count of the backing store.
func (s *PagedStorage) Size() (int64, error) {
	return s.file.Size()
}
