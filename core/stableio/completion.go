// Package stableio adapts an engine's completion-based storage contract
// onto a growable linear memory resource. The backing medium is
// host-resident memory, so every operation completes synchronously; the
// completion objects still exist so that the engine-facing contract is
// identical to one with real I/O latency. Swapping in a latent backend
// changes only how completions are driven, not the interfaces here.
package stableio

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors for storage operations.
var (
	// ErrCompleted indicates a completion was completed more than once.
	ErrCompleted = errors.New("completion already completed")
	// ErrInvalidPageSize indicates a page buffer whose length is not a
	// power of two in [512, 65536].
	ErrInvalidPageSize = errors.New("page size must be a power of two between 512 and 65536")
	// ErrInvalidPageIndex indicates a page index of zero. Page numbering
	// is 1-based.
	ErrInvalidPageIndex = errors.New("page index must be at least 1")
	// ErrGrowMemory indicates the backing resource declined to grow.
	ErrGrowMemory = errors.New("could not grow backing memory")
)

// CompletionKind identifies the operation a Completion belongs to.
type CompletionKind uint8

const (
	// CompletionRead carries a target buffer to fill.
	CompletionRead CompletionKind = iota
	// CompletionWrite reports the number of bytes persisted.
	CompletionWrite
	// CompletionSync reports a durability barrier.
	CompletionSync
)

func (k CompletionKind) String() string {
	switch k {
	case CompletionRead:
		return "read"
	case CompletionWrite:
		return "write"
	case CompletionSync:
		return "sync"
	default:
		return fmt.Sprintf("completion(%d)", k)
	}
}

// Completion is a uniquely-owned handle for one pending storage operation.
// Each in-flight operation gets its own Completion, identified by an
// operation id, so completing twice is detectable rather than silently
// corrupting shared state.
type Completion struct {
	id   uuid.UUID
	kind CompletionKind
	buf  []byte // read target, nil for write/sync
	n    int
	done bool
}

// NewReadCompletion creates a completion whose buffer will receive the
// bytes read. The buffer length determines the transfer size.
func NewReadCompletion(buf []byte) *Completion {
	return &Completion{id: uuid.New(), kind: CompletionRead, buf: buf}
}

// NewWriteCompletion creates a completion for a pending write.
func NewWriteCompletion() *Completion {
	return &Completion{id: uuid.New(), kind: CompletionWrite}
}

// NewSyncCompletion creates a completion for a pending sync.
func NewSyncCompletion() *Completion {
	return &Completion{id: uuid.New(), kind: CompletionSync}
}

// ID returns the operation id.
func (c *Completion) ID() uuid.UUID { return c.id }

// Kind returns the operation kind.
func (c *Completion) Kind() CompletionKind { return c.kind }

// Buf returns the read target buffer, or nil for write/sync completions.
func (c *Completion) Buf() []byte { return c.buf }

// Complete marks the operation finished with n bytes transferred. A
// completion must be completed exactly once; a second call fails with
// ErrCompleted and leaves the first outcome intact.
func (c *Completion) Complete(n int) error {
	if c.done {
		return fmt.Errorf("%w: %s op %s", ErrCompleted, c.kind, c.id)
	}
	c.n = n
	c.done = true
	return nil
}

// Done reports whether the operation has completed.
func (c *Completion) Done() bool { return c.done }

// Transferred returns the byte count the operation completed with. It is
// meaningful only once Done reports true.
func (c *Completion) Transferred() int { return c.n }
