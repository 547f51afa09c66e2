// Package stable is an asynchronous statement/transaction API over a
// step-based SQL engine whose pages live in a host-provided growable
// memory resource. A Database is built over a vmem.MemoryResource;
// Connections serialize engine access behind a context-aware lock;
// Statements drive the engine's step loop; Transactions guarantee
// explicit finalization.
//
// Basic use:
//
//	db, err := stable.NewBuilder(vmem.NewRegion()).Build(ctx)
//	conn, err := db.Connect()
//	_, err = conn.Execute(ctx, "CREATE TABLE users (email)")
//	rows, err := conn.Query(ctx, "SELECT email FROM users")
package stable

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/stabledb/stabledb/core/engine"
	"github.com/stabledb/stabledb/core/minisql"
	"github.com/stabledb/stabledb/core/stableio"
	"github.com/stabledb/stabledb/core/vmem"
)

// Builder binds a Database to a memory resource and builds it.
type Builder struct {
	mem      vmem.MemoryResource
	open     engine.OpenFunc
	log      *zap.Logger
	pageSize int
}

// NewBuilder creates a Builder over the given memory resource. The
// bundled minisql engine is used unless WithEngine overrides it.
func NewBuilder(mem vmem.MemoryResource) *Builder {
	return &Builder{mem: mem, open: minisql.Open}
}

// WithEngine selects the engine implementation.
func (b *Builder) WithEngine(open engine.OpenFunc) *Builder {
	b.open = open
	return b
}

// WithLogger attaches a logger. The default is a nop logger.
func (b *Builder) WithLogger(log *zap.Logger) *Builder {
	b.log = log
	return b
}

// WithPageSize sets the page size for a freshly created database. It
// has no effect on an existing database image, which keeps the page
// size established at creation.
func (b *Builder) WithPageSize(size int) *Builder {
	b.pageSize = size
	return b
}

// Build opens the database over the memory resource.
func (b *Builder) Build(ctx context.Context) (*Database, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := b.log
	if log == nil {
		log = zap.NewNop()
	}
	io := stableio.New(b.mem, log)
	file, err := io.OpenFile("db", stableio.OpenCreate)
	if err != nil {
		return nil, fmt.Errorf("opening storage file: %w", err)
	}
	storage := stableio.NewPagedStorage(file)
	eng, err := b.open(io, "db", storage, engine.Options{PageSize: b.pageSize})
	if err != nil {
		return nil, execErr("", err)
	}
	log.Debug("database built over memory resource",
		zap.Int64("size_units", b.mem.SizeUnits()))
	return &Database{eng: eng, log: log}, nil
}

// Database points to one database image and creates connections to it.
// A Database is created once per backing memory resource and owns the
// engine handle for its lifetime.
type Database struct {
	eng engine.Engine
	log *zap.Logger
}

// Connect opens a new connection to the database.
func (db *Database) Connect() (*Connection, error) {
	conn, err := db.eng.Connect()
	if err != nil {
		return nil, execErr("", err)
	}
	return newConnection(conn, db.log), nil
}

// Close releases the engine. Connections created from the database must
// be closed separately; their close errors do not surface here.
func (db *Database) Close() error {
	return db.eng.Close()
}
