package stableio

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stabledb/stabledb/core/vmem"
)

// Instant is a wall-clock timestamp in the shape the engine expects:
// whole seconds plus sub-second microseconds.
type Instant struct {
	Secs   int64
	Micros int32
}

// Clock supplies wall-clock time. The engine uses it only for
// informational timestamps; no ordering guarantee is implied beyond
// whatever the underlying source provides.
type Clock interface {
	Now() Instant
}

// SystemClock reads the host wall clock.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() Instant {
	t := time.Now()
	return Instant{
		Secs:   t.Unix(),
		Micros: int32(t.Nanosecond() / 1000),
	}
}

// OpenFlags controls how a file is opened.
type OpenFlags uint8

const (
	// OpenCreate creates the file if it does not exist. With a memory
	// backing there is nothing to create, so this is the only flag.
	OpenCreate OpenFlags = 1 << iota
)

// IO bundles the host services the engine consumes: file access, a
// driver for pending work, randomness, and wall-clock time.
type IO interface {
	Clock

	// OpenFile opens the named file. The memory backing holds exactly
	// one database, so the path is informational.
	OpenFile(path string, flags OpenFlags) (File, error)

	// RunOnce drives pending storage work. It is the engine's resume
	// mechanism after a pending-I/O step; with a synchronous backing it
	// has nothing to do.
	RunOnce() error

	// Random returns a cryptographically random value for the engine's
	// internal generation requests.
	Random() (int64, error)
}

// StableIO implements IO over a growable memory resource.
type StableIO struct {
	mem vmem.MemoryResource
	log *zap.Logger
	SystemClock
}

// New creates a StableIO over mem. A nil logger disables logging.
func New(mem vmem.MemoryResource, log *zap.Logger) *StableIO {
	if log == nil {
		log = zap.NewNop()
	}
	return &StableIO{mem: mem, log: log}
}

// OpenFile returns a File over the backing memory resource.
func (io *StableIO) OpenFile(path string, flags OpenFlags) (File, error) {
	io.log.Debug("opening file over memory resource",
		zap.String("path", path),
		zap.Int64("size_units", io.mem.SizeUnits()))
	return NewMemoryFile(io.mem, io.log), nil
}

// RunOnce is a no-op: every completion is fulfilled synchronously at
// issue time, so there is never pending work to drive.
func (io *StableIO) RunOnce() error { return nil }

// Random returns a random int64 from the host's cryptographic source.
func (io *StableIO) Random() (int64, error) {
	var buf [8]byte
	if _, err := crand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("reading random source: %w", err)
	}
	return int64(binary.LittleEndian.Uint64(buf[:])), nil
}
