package minisql

import (
	"fmt"
	"sort"

	"github.com/stabledb/stabledb/core/engine"
	"github.com/stabledb/stabledb/core/stableio"
)

// Stmt is a compiled minisql statement. It implements engine.Stmt.
// A statement carries its own cursor state and must not be stepped
// concurrently.
type Stmt struct {
	conn    *Conn
	sql     string
	ast     Statement
	params  *paramTable
	binds   []engine.Value
	outCols []string

	run    *runState
	closed bool
}

// runState is the cursor state of one execution.
type runState struct {
	loader  *chainLoader
	results [][]engine.Value
	emit    int
	out     []engine.Value
	done    bool
}

// chainLoader walks a table's page chain, materializing rows. Page
// fetches that miss the dirty cache go through read completions and
// surface as pending I/O to the stepping caller.
type chainLoader struct {
	conn    *Conn
	nCols   int
	next    uint32
	pending *stableio.Completion
	buf     []byte
	pages   []uint32
	rows    [][]engine.Value
}

func newChainLoader(conn *Conn, t *table) *chainLoader {
	return &chainLoader{conn: conn, nCols: len(t.columns), next: t.rootPage}
}

// step advances the walk. It returns (true, nil) once the whole chain is
// materialized, and (false, nil) when a page fetch is pending and the
// caller must report StepIO.
func (l *chainLoader) step() (bool, error) {
	for {
		if l.pending != nil {
			if !l.pending.Done() {
				return false, nil
			}
			page := l.buf
			l.pending, l.buf = nil, nil
			if err := l.consume(page); err != nil {
				return false, err
			}
			continue
		}
		if l.next == 0 {
			return true, nil
		}
		if page, ok := l.conn.cachedPage(l.next); ok {
			if err := l.consume(page); err != nil {
				return false, err
			}
			continue
		}
		// Schedule the fetch and let the caller drive it. The memory
		// backing completes synchronously, so the completion is already
		// fulfilled when the caller steps again; a latent backend would
		// resume the caller once it fires.
		buf := make([]byte, l.conn.catalog.pageSize)
		c := stableio.NewReadCompletion(buf)
		if err := l.conn.db.storage.ReadPage(int(l.next), c); err != nil {
			return false, err
		}
		l.pending, l.buf = c, buf
		return false, nil
	}
}

// consume decodes one chain page into rows and advances to its
// successor.
func (l *chainLoader) consume(page []byte) error {
	dp, err := decodeDataPage(page)
	if err != nil {
		return err
	}
	l.pages = append(l.pages, l.next)
	l.next = dp.next
	for _, rec := range dp.records {
		row, err := decodeRecord(rec, l.nCols)
		if err != nil {
			return err
		}
		l.rows = append(l.rows, row)
	}
	return nil
}

// resolve checks the statement's table and column references against the
// catalog and records output column names. It runs once, at prepare
// time; the step functions look the table up again in the current
// catalog and report their own error if it was dropped in between.
func (s *Stmt) resolve() error {
	cat := s.conn.catalog
	switch ast := s.ast.(type) {
	case *SelectStmt:
		t := cat.findTable(ast.Table)
		if t == nil {
			return fmt.Errorf("no such table: %s", ast.Table)
		}
		if ast.Columns == nil {
			s.outCols = append([]string(nil), t.columns...)
		} else {
			for _, col := range ast.Columns {
				if t.columnIndex(col) < 0 {
					return fmt.Errorf("no such column: %s.%s", ast.Table, col)
				}
			}
			s.outCols = ast.Columns
		}
		if ast.Where != nil && t.columnIndex(ast.Where.Column) < 0 {
			return fmt.Errorf("no such column: %s.%s", ast.Table, ast.Where.Column)
		}
		if ast.OrderBy != "" && t.columnIndex(ast.OrderBy) < 0 {
			return fmt.Errorf("no such column: %s.%s", ast.Table, ast.OrderBy)
		}
	case *InsertStmt:
		t := cat.findTable(ast.Table)
		if t == nil {
			return fmt.Errorf("no such table: %s", ast.Table)
		}
		width := len(t.columns)
		if ast.Columns != nil {
			for _, col := range ast.Columns {
				if t.columnIndex(col) < 0 {
					return fmt.Errorf("no such column: %s.%s", ast.Table, col)
				}
			}
			width = len(ast.Columns)
		}
		for _, row := range ast.Rows {
			if len(row) != width {
				return fmt.Errorf("table %s expects %d values, got %d", ast.Table, width, len(row))
			}
		}
	case *DeleteStmt:
		t := cat.findTable(ast.Table)
		if t == nil {
			return fmt.Errorf("no such table: %s", ast.Table)
		}
		if ast.Where != nil && t.columnIndex(ast.Where.Column) < 0 {
			return fmt.Errorf("no such column: %s.%s", ast.Table, ast.Where.Column)
		}
	}
	return nil
}

func (s *Stmt) clearBinds() {
	s.binds = make([]engine.Value, s.params.count)
}

// BindAt binds value at the 1-based index.
func (s *Stmt) BindAt(index int, v engine.Value) error {
	if index < 1 || index > len(s.binds) {
		return fmt.Errorf("bind index %d out of range 1..%d", index, len(s.binds))
	}
	s.binds[index-1] = v
	return nil
}

// Parameters returns the statement's parameter table.
func (s *Stmt) Parameters() engine.Parameters { return s.params }

// Reset clears bound values and cursor position.
func (s *Stmt) Reset() error {
	s.clearBinds()
	s.run = nil
	return nil
}

// RunOnce drives pending storage work after a StepIO result.
func (s *Stmt) RunOnce() error {
	return s.conn.db.io.RunOnce()
}

// Row returns the current row's values, valid after a StepRow result.
func (s *Stmt) Row() []engine.Value {
	if s.run == nil {
		return nil
	}
	return s.run.out
}

// NumColumns returns the number of result columns.
func (s *Stmt) NumColumns() int { return len(s.outCols) }

// ColumnName returns the name of column i.
func (s *Stmt) ColumnName(i int) string {
	if i < 0 || i >= len(s.outCols) {
		return ""
	}
	return s.outCols[i]
}

// Close releases the statement.
func (s *Stmt) Close() error {
	s.closed = true
	s.run = nil
	return nil
}

// Step advances the statement by one unit of execution. A write
// statement that fails while an explicit transaction is open rolls the
// transaction back, restoring autocommit, before the error is returned.
func (s *Stmt) Step() (engine.StepResult, error) {
	if s.closed {
		return 0, fmt.Errorf("statement is closed")
	}
	if s.conn.closed {
		return 0, fmt.Errorf("connection is closed")
	}
	res, err := s.step()
	if err != nil {
		// A failed write statement aborts an open transaction, the way
		// the engine contract allows. Control statements and reads
		// leave the transaction as it was.
		switch s.ast.(type) {
		case *InsertStmt, *DeleteStmt, *CreateTableStmt, *DropTableStmt:
			s.conn.rollbackOnError()
		}
		s.run = &runState{done: true}
		return 0, err
	}
	return res, nil
}

func (s *Stmt) step() (engine.StepResult, error) {
	if s.run == nil {
		s.run = &runState{}
	}
	if s.run.done && s.run.emit >= len(s.run.results) {
		return engine.StepDone, nil
	}

	switch ast := s.ast.(type) {
	case *SelectStmt:
		return s.stepSelect(ast)
	case *InsertStmt:
		return s.stepInsert(ast)
	case *DeleteStmt:
		return s.stepDelete(ast)
	case *CreateTableStmt:
		return s.stepCreate(ast)
	case *DropTableStmt:
		return s.stepDrop(ast)
	case *BeginStmt:
		s.run.done = true
		return engine.StepDone, s.conn.begin()
	case *CommitStmt:
		s.run.done = true
		return engine.StepDone, s.conn.commit()
	case *RollbackStmt:
		s.run.done = true
		return engine.StepDone, s.conn.rollback()
	default:
		return 0, fmt.Errorf("unsupported statement %T", ast)
	}
}

func (s *Stmt) stepSelect(ast *SelectStmt) (engine.StepResult, error) {
	run := s.run
	if !run.done {
		t := s.conn.catalog.findTable(ast.Table)
		if t == nil {
			return 0, fmt.Errorf("no such table: %s", ast.Table)
		}
		if run.loader == nil {
			run.loader = newChainLoader(s.conn, t)
		}
		loaded, err := run.loader.step()
		if err != nil {
			return 0, err
		}
		if !loaded {
			return engine.StepIO, nil
		}
		results, err := s.buildResults(ast, t, run.loader.rows)
		if err != nil {
			return 0, err
		}
		run.results = results
		run.done = true
	}
	if run.emit < len(run.results) {
		run.out = run.results[run.emit]
		run.emit++
		return engine.StepRow, nil
	}
	return engine.StepDone, nil
}

// buildResults filters, projects, orders, and limits the materialized
// rows.
func (s *Stmt) buildResults(ast *SelectStmt, t *table, rows [][]engine.Value) ([][]engine.Value, error) {
	kept := rows
	if ast.Where != nil {
		kept = kept[:0:0]
		ci := t.columnIndex(ast.Where.Column)
		operand := s.evalExpr(ast.Where.Operand)
		for _, row := range rows {
			if matchWhere(row[ci], ast.Where.Op, operand) {
				kept = append(kept, row)
			}
		}
	}
	if ast.OrderBy != "" {
		ci := t.columnIndex(ast.OrderBy)
		sorted := make([][]engine.Value, len(kept))
		copy(sorted, kept)
		sort.SliceStable(sorted, func(i, j int) bool {
			cmp := compareValues(sorted[i][ci], sorted[j][ci])
			if ast.Descending {
				return cmp > 0
			}
			return cmp < 0
		})
		kept = sorted
	}
	if ast.Limit >= 0 && len(kept) > ast.Limit {
		kept = kept[:ast.Limit]
	}
	// Project output columns.
	out := make([][]engine.Value, len(kept))
	for i, row := range kept {
		if ast.Columns == nil {
			out[i] = row
			continue
		}
		projected := make([]engine.Value, len(ast.Columns))
		for j, col := range ast.Columns {
			projected[j] = row[t.columnIndex(col)]
		}
		out[i] = projected
	}
	return out, nil
}

func (s *Stmt) stepInsert(ast *InsertStmt) (engine.StepResult, error) {
	run := s.run
	t := s.conn.catalog.findTable(ast.Table)
	if t == nil {
		return 0, fmt.Errorf("no such table: %s", ast.Table)
	}
	if run.loader == nil {
		run.loader = newChainLoader(s.conn, t)
	}
	loaded, err := run.loader.step()
	if err != nil {
		return 0, err
	}
	if !loaded {
		return engine.StepIO, nil
	}

	rows := run.loader.rows
	for _, exprRow := range ast.Rows {
		row := make([]engine.Value, len(t.columns))
		if ast.Columns == nil {
			for i, e := range exprRow {
				row[i] = s.evalExpr(e)
			}
		} else {
			for i, col := range ast.Columns {
				row[t.columnIndex(col)] = s.evalExpr(exprRow[i])
			}
		}
		rows = append(rows, row)
	}
	if err := s.rewriteChain(t, rows, run.loader.pages); err != nil {
		return 0, err
	}
	if err := s.finishWrite(); err != nil {
		return 0, err
	}
	run.done = true
	return engine.StepDone, nil
}

func (s *Stmt) stepDelete(ast *DeleteStmt) (engine.StepResult, error) {
	run := s.run
	t := s.conn.catalog.findTable(ast.Table)
	if t == nil {
		return 0, fmt.Errorf("no such table: %s", ast.Table)
	}
	if run.loader == nil {
		run.loader = newChainLoader(s.conn, t)
	}
	loaded, err := run.loader.step()
	if err != nil {
		return 0, err
	}
	if !loaded {
		return engine.StepIO, nil
	}

	kept := run.loader.rows
	if ast.Where != nil {
		ci := t.columnIndex(ast.Where.Column)
		operand := s.evalExpr(ast.Where.Operand)
		kept = kept[:0:0]
		for _, row := range run.loader.rows {
			if !matchWhere(row[ci], ast.Where.Op, operand) {
				kept = append(kept, row)
			}
		}
	} else {
		kept = nil
	}
	if err := s.rewriteChain(t, kept, run.loader.pages); err != nil {
		return 0, err
	}
	if err := s.finishWrite(); err != nil {
		return 0, err
	}
	run.done = true
	return engine.StepDone, nil
}

func (s *Stmt) stepCreate(ast *CreateTableStmt) (engine.StepResult, error) {
	cat := s.conn.catalog
	if cat.findTable(ast.Table) != nil {
		if ast.IfNotExists {
			s.run.done = true
			return engine.StepDone, nil
		}
		return 0, fmt.Errorf("table %s already exists", ast.Table)
	}
	root := cat.allocPage()
	empty, err := (&dataPage{}).encode(cat.pageSize)
	if err != nil {
		return 0, err
	}
	s.conn.putPage(root, empty)
	cat.tables = append(cat.tables, &table{
		name:     ast.Table,
		rootPage: root,
		columns:  append([]string(nil), ast.Columns...),
	})
	if err := s.conn.markCatalogDirty(); err != nil {
		return 0, err
	}
	if err := s.finishWrite(); err != nil {
		return 0, err
	}
	s.run.done = true
	return engine.StepDone, nil
}

func (s *Stmt) stepDrop(ast *DropTableStmt) (engine.StepResult, error) {
	cat := s.conn.catalog
	found := -1
	for i, t := range cat.tables {
		if t.name == ast.Table {
			found = i
			break
		}
	}
	if found < 0 {
		if ast.IfExists {
			s.run.done = true
			return engine.StepDone, nil
		}
		return 0, fmt.Errorf("no such table: %s", ast.Table)
	}
	// The table's pages are leaked: the store never shrinks and there
	// is no free list.
	cat.tables = append(cat.tables[:found], cat.tables[found+1:]...)
	if err := s.conn.markCatalogDirty(); err != nil {
		return 0, err
	}
	if err := s.finishWrite(); err != nil {
		return 0, err
	}
	s.run.done = true
	return engine.StepDone, nil
}

// rewriteChain re-packs the given rows into the table's page chain,
// reusing existing pages in order and allocating new ones as needed.
// Pages left over after a shrink are emptied but stay allocated.
func (s *Stmt) rewriteChain(t *table, rows [][]engine.Value, pages []uint32) error {
	cat := s.conn.catalog
	pageSize := cat.pageSize
	grew := false

	recs := make([][]byte, len(rows))
	for i, row := range rows {
		rec := encodeRecord(row)
		if dataPageHeader+2+len(rec) > pageSize {
			return fmt.Errorf("row of %d bytes does not fit a %d-byte page", len(rec), pageSize)
		}
		recs[i] = rec
	}

	// Pack records into consecutive pages.
	var packed []*dataPage
	cur := &dataPage{}
	for _, rec := range recs {
		if cur.free(pageSize) < 2+len(rec) {
			packed = append(packed, cur)
			cur = &dataPage{}
		}
		cur.records = append(cur.records, rec)
	}
	packed = append(packed, cur)

	// Assign page numbers: reuse the existing chain, then allocate.
	ids := append([]uint32(nil), pages...)
	for len(ids) < len(packed) {
		ids = append(ids, cat.allocPage())
		grew = true
	}
	for i, dp := range packed {
		if i+1 < len(packed) {
			dp.next = ids[i+1]
		}
		page, err := dp.encode(pageSize)
		if err != nil {
			return err
		}
		s.conn.putPage(ids[i], page)
	}
	// Empty any now-unused tail pages of the old chain.
	for _, id := range ids[len(packed):] {
		page, err := (&dataPage{}).encode(pageSize)
		if err != nil {
			return err
		}
		s.conn.putPage(id, page)
	}
	if grew {
		return s.conn.markCatalogDirty()
	}
	return nil
}

// finishWrite flushes buffered pages when the connection is in
// autocommit; inside an explicit transaction the pages stay buffered
// until COMMIT.
func (s *Stmt) finishWrite() error {
	if s.conn.autocommit {
		return s.conn.flush()
	}
	return nil
}

// evalExpr resolves a literal or parameter to its value. Unbound
// parameters evaluate to NULL.
func (s *Stmt) evalExpr(e Expr) engine.Value {
	switch e := e.(type) {
	case *LiteralExpr:
		return e.Value
	case *ParamExpr:
		if e.Index >= 1 && e.Index <= len(s.binds) {
			return s.binds[e.Index-1]
		}
		return engine.Null()
	default:
		return engine.Null()
	}
}
