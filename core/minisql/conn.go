package minisql

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stabledb/stabledb/core/engine"
	"github.com/stabledb/stabledb/core/stableio"
)

// DefaultPageSize is the page size for freshly created databases.
const DefaultPageSize = 4096

// DB is an open minisql database. It implements engine.Engine.
type DB struct {
	io       stableio.IO
	storage  stableio.DatabaseStorage
	pageSize int
}

// Open opens a minisql engine over the given storage. It satisfies
// engine.OpenFunc.
func Open(io stableio.IO, path string, storage stableio.DatabaseStorage, opts engine.Options) (engine.Engine, error) {
	pageSize := opts.PageSize
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	if !stableio.ValidPageSize(pageSize) {
		return nil, fmt.Errorf("open %s: invalid page size %d", path, pageSize)
	}
	return &DB{io: io, storage: storage, pageSize: pageSize}, nil
}

// Connect creates a new connection. A fresh backing store is initialized
// with an empty catalog; an existing store is validated and its
// established page size adopted.
func (db *DB) Connect() (engine.Conn, error) {
	c := &Conn{
		db:         db,
		dirty:      make(map[uint32][]byte),
		autocommit: true,
	}
	size, err := db.storage.Size()
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if size == 0 {
		c.catalog = &catalog{pageSize: db.pageSize, pageCount: catalogPage}
		if err := c.markCatalogDirty(); err != nil {
			return nil, err
		}
		if err := c.flush(); err != nil {
			return nil, fmt.Errorf("initializing database: %w", err)
		}
		return c, nil
	}
	cat, err := readCatalog(db.storage)
	if err != nil {
		return nil, err
	}
	c.catalog = cat
	return c, nil
}

// Close releases the engine. Connections remain usable; the engine holds
// no state of its own beyond the storage handles.
func (db *DB) Close() error { return nil }

// readCatalog loads and decodes page 1. The established page size is
// discovered from a fixed-size probe of the page header before the full
// page is read.
func readCatalog(storage stableio.DatabaseStorage) (*catalog, error) {
	probe := make([]byte, stableio.MinPageSize)
	c := stableio.NewReadCompletion(probe)
	if err := storage.ReadPage(catalogPage, c); err != nil {
		return nil, fmt.Errorf("reading catalog header: %w", err)
	}
	if probe[0] != catalogMagic[0] || probe[1] != catalogMagic[1] ||
		probe[2] != catalogMagic[2] || probe[3] != catalogMagic[3] {
		return nil, fmt.Errorf("%w: bad magic", ErrNotADatabase)
	}
	pageSize := int(uint32(probe[8])<<24 | uint32(probe[9])<<16 | uint32(probe[10])<<8 | uint32(probe[11]))
	if !stableio.ValidPageSize(pageSize) {
		return nil, fmt.Errorf("%w: invalid page size %d", ErrNotADatabase, pageSize)
	}
	page := make([]byte, pageSize)
	c = stableio.NewReadCompletion(page)
	if err := storage.ReadPage(catalogPage, c); err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return decodeCatalog(page)
}

// Conn is one engine-level connection. It is not safe for concurrent
// use; the binding layer serializes all access.
//
// Connections share committed state through the backing store but keep
// private dirty page caches, so concurrent connections observe each
// other's changes only after a flush.
type Conn struct {
	db         *DB
	catalog    *catalog
	dirty      map[uint32][]byte
	autocommit bool
	closed     bool
}

// Prepare compiles sql into a statement. Table and column references are
// resolved against the catalog at compile time.
func (c *Conn) Prepare(sql string) (engine.Stmt, error) {
	if c.closed {
		return nil, fmt.Errorf("connection is closed")
	}
	ast, params, err := NewParser(sql).Parse()
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	s := &Stmt{conn: c, sql: sql, ast: ast, params: params}
	if err := s.resolve(); err != nil {
		return nil, err
	}
	s.clearBinds()
	return s, nil
}

// PragmaQuery evaluates a pragma and returns its rows in order. Unknown
// pragmas yield no rows.
func (c *Conn) PragmaQuery(name string) ([][]engine.Value, error) {
	if c.closed {
		return nil, fmt.Errorf("connection is closed")
	}
	switch strings.ToLower(name) {
	case "page_size":
		return [][]engine.Value{{engine.Integer(int64(c.catalog.pageSize))}}, nil
	case "page_count":
		return [][]engine.Value{{engine.Integer(int64(c.catalog.pageCount))}}, nil
	case "table_count":
		return [][]engine.Value{{engine.Integer(int64(len(c.catalog.tables)))}}, nil
	case "table_list":
		rows := make([][]engine.Value, 0, len(c.catalog.tables))
		for _, t := range c.catalog.tables {
			rows = append(rows, []engine.Value{
				engine.Text(t.name),
				engine.Integer(int64(len(t.columns))),
			})
		}
		return rows, nil
	default:
		return nil, nil
	}
}

// CacheFlush persists all buffered modified pages.
func (c *Conn) CacheFlush() error {
	if c.closed {
		return fmt.Errorf("connection is closed")
	}
	return c.flush()
}

// AutoCommit reports whether no explicit transaction is open.
func (c *Conn) AutoCommit() bool { return c.autocommit }

// Close releases the connection. An open transaction is rolled back.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	if !c.autocommit {
		if err := c.rollback(); err != nil {
			return err
		}
	}
	c.closed = true
	return nil
}

// cachedPage returns the dirty copy of a page, if any.
func (c *Conn) cachedPage(idx uint32) ([]byte, bool) {
	p, ok := c.dirty[idx]
	return p, ok
}

// putPage buffers a modified page. Nothing reaches the backing store
// until flush.
func (c *Conn) putPage(idx uint32, page []byte) {
	c.dirty[idx] = page
}

// markCatalogDirty re-encodes the catalog into the dirty cache.
func (c *Conn) markCatalogDirty() error {
	page, err := c.catalog.encode()
	if err != nil {
		return err
	}
	c.putPage(catalogPage, page)
	return nil
}

// flush writes all dirty pages to storage in index order and syncs.
func (c *Conn) flush() error {
	if len(c.dirty) == 0 {
		return nil
	}
	idxs := make([]int, 0, len(c.dirty))
	for idx := range c.dirty {
		idxs = append(idxs, int(idx))
	}
	sort.Ints(idxs)
	for _, idx := range idxs {
		comp := stableio.NewWriteCompletion()
		if err := c.db.storage.WritePage(idx, c.dirty[uint32(idx)], comp); err != nil {
			return fmt.Errorf("flushing page %d: %w", idx, err)
		}
	}
	sync := stableio.NewSyncCompletion()
	if err := c.db.storage.Sync(sync); err != nil {
		return fmt.Errorf("syncing storage: %w", err)
	}
	c.dirty = make(map[uint32][]byte)
	return nil
}

// begin opens an explicit transaction.
func (c *Conn) begin() error {
	if !c.autocommit {
		return fmt.Errorf("cannot start a transaction within a transaction")
	}
	c.autocommit = false
	return nil
}

// commit flushes buffered changes and returns to autocommit.
func (c *Conn) commit() error {
	if c.autocommit {
		return fmt.Errorf("cannot commit - no transaction is active")
	}
	if err := c.flush(); err != nil {
		return err
	}
	c.autocommit = true
	return nil
}

// rollback discards buffered changes, reloads the catalog from the
// committed image, and returns to autocommit.
func (c *Conn) rollback() error {
	if c.autocommit {
		return fmt.Errorf("cannot rollback - no transaction is active")
	}
	c.dirty = make(map[uint32][]byte)
	cat, err := readCatalog(c.db.storage)
	if err != nil {
		return fmt.Errorf("restoring catalog: %w", err)
	}
	c.catalog = cat
	c.autocommit = true
	return nil
}

// rollbackOnError discards an open transaction after a statement
// failure, restoring autocommit. The statement's own error is what the
// caller sees; a rollback failure here cannot improve on it.
func (c *Conn) rollbackOnError() {
	if c.autocommit {
		return
	}
	_ = c.rollback()
}
