package minisql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/stabledb/stabledb/core/engine"
)

// Statement is a parsed SQL statement.
type Statement interface {
	stmtNode()
}

// CreateTableStmt is CREATE TABLE [IF NOT EXISTS] name (col [type], ...).
// Column type names are parsed and discarded; storage is dynamically
// typed.
type CreateTableStmt struct {
	Table       string
	Columns     []string
	IfNotExists bool
}

// DropTableStmt is DROP TABLE [IF EXISTS] name.
type DropTableStmt struct {
	Table    string
	IfExists bool
}

// InsertStmt is INSERT INTO name [(cols)] VALUES (...), (...).
type InsertStmt struct {
	Table   string
	Columns []string // nil means all table columns in order
	Rows    [][]Expr
}

// SelectStmt is SELECT cols FROM name [WHERE ...] [ORDER BY col [DESC]]
// [LIMIT n].
type SelectStmt struct {
	Table      string
	Columns    []string // nil means *
	Where      *Where
	OrderBy    string
	Descending bool
	Limit      int // -1 means no limit
}

// DeleteStmt is DELETE FROM name [WHERE ...].
type DeleteStmt struct {
	Table string
	Where *Where
}

// BeginStmt is BEGIN [DEFERRED|IMMEDIATE|EXCLUSIVE] [TRANSACTION].
// The behavior is recorded but does not change execution: the store is
// private to one process, so there is nothing to contend with.
type BeginStmt struct {
	Behavior string
}

// CommitStmt is COMMIT [TRANSACTION].
type CommitStmt struct{}

// RollbackStmt is ROLLBACK [TRANSACTION].
type RollbackStmt struct{}

func (*CreateTableStmt) stmtNode() {}
func (*DropTableStmt) stmtNode()   {}
func (*InsertStmt) stmtNode()      {}
func (*SelectStmt) stmtNode()      {}
func (*DeleteStmt) stmtNode()      {}
func (*BeginStmt) stmtNode()       {}
func (*CommitStmt) stmtNode()      {}
func (*RollbackStmt) stmtNode()    {}

// CompareOp is a WHERE comparison operator.
type CompareOp uint8

// Comparison operators.
const (
	OpEq CompareOp = iota
	OpNe
	OpLt
	OpGt
	OpLe
	OpGe
)

// Where is a single-column comparison predicate.
type Where struct {
	Column  string
	Op      CompareOp
	Operand Expr
}

// Expr is a value-producing expression: a literal or a parameter.
type Expr interface {
	exprNode()
}

// LiteralExpr is a literal value.
type LiteralExpr struct {
	Value engine.Value
}

// ParamExpr is a bound parameter reference by 1-based index.
type ParamExpr struct {
	Index int
}

func (*LiteralExpr) exprNode() {}
func (*ParamExpr) exprNode()   {}

// paramTable maps named parameters to 1-based bind indices and records
// the total parameter count.
type paramTable struct {
	names map[string]int
	count int
}

// Index implements engine.Parameters.
func (p *paramTable) Index(name string) (int, bool) {
	i, ok := p.names[name]
	return i, ok
}

// Count implements engine.Parameters.
func (p *paramTable) Count() int { return p.count }

// Parser is a recursive-descent parser for the minisql dialect.
type Parser struct {
	lex    *Lexer
	cur    Token
	peek   Token
	params *paramTable
}

// NewParser creates a Parser for the given SQL input.
func NewParser(input string) *Parser {
	p := &Parser{
		lex:    NewLexer(input),
		params: &paramTable{names: map[string]int{}},
	}
	p.next()
	p.next()
	return p
}

func (p *Parser) next() {
	p.cur = p.peek
	p.peek = p.lex.NextToken()
}

// keyword reports whether the current token is the given keyword,
// case-insensitively.
func (p *Parser) keyword(kw string) bool {
	return p.cur.Type == tkIdent && strings.EqualFold(p.cur.Lexeme, kw)
}

// expectKeyword consumes the given keyword or fails.
func (p *Parser) expectKeyword(kw string) error {
	if !p.keyword(kw) {
		return fmt.Errorf("expected %s near %s", kw, p.cur)
	}
	p.next()
	return nil
}

// acceptKeyword consumes the given keyword if present.
func (p *Parser) acceptKeyword(kw string) bool {
	if p.keyword(kw) {
		p.next()
		return true
	}
	return false
}

func (p *Parser) expect(tt TokenType, what string) (Token, error) {
	if p.cur.Type != tt {
		return Token{}, fmt.Errorf("expected %s near %s", what, p.cur)
	}
	tok := p.cur
	p.next()
	return tok, nil
}

func (p *Parser) ident() (string, error) {
	tok, err := p.expect(tkIdent, "identifier")
	if err != nil {
		return "", err
	}
	return tok.Lexeme, nil
}

// Parse parses a single statement and returns it together with the
// parameter table built during parsing.
func (p *Parser) Parse() (Statement, *paramTable, error) {
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, nil, err
	}
	// Optional trailing semicolon, then EOF.
	if p.cur.Type == tkSemi {
		p.next()
	}
	if p.cur.Type != tkEOF {
		return nil, nil, fmt.Errorf("unexpected input near %s", p.cur)
	}
	return stmt, p.params, nil
}

func (p *Parser) parseStatement() (Statement, error) {
	switch {
	case p.keyword("CREATE"):
		return p.parseCreateTable()
	case p.keyword("DROP"):
		return p.parseDropTable()
	case p.keyword("INSERT"):
		return p.parseInsert()
	case p.keyword("SELECT"):
		return p.parseSelect()
	case p.keyword("DELETE"):
		return p.parseDelete()
	case p.keyword("BEGIN"):
		return p.parseBegin()
	case p.keyword("COMMIT"), p.keyword("END"):
		p.next()
		p.acceptKeyword("TRANSACTION")
		return &CommitStmt{}, nil
	case p.keyword("ROLLBACK"):
		p.next()
		p.acceptKeyword("TRANSACTION")
		return &RollbackStmt{}, nil
	case p.keyword("UPDATE"):
		return nil, fmt.Errorf("UPDATE is not supported")
	default:
		return nil, fmt.Errorf("unrecognized statement near %s", p.cur)
	}
}

func (p *Parser) parseCreateTable() (Statement, error) {
	p.next() // CREATE
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	stmt := &CreateTableStmt{}
	if p.keyword("IF") {
		p.next()
		if err := p.expectKeyword("NOT"); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("EXISTS"); err != nil {
			return nil, err
		}
		stmt.IfNotExists = true
	}
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	stmt.Table = name
	if _, err := p.expect(tkLParen, "("); err != nil {
		return nil, err
	}
	for {
		col, err := p.ident()
		if err != nil {
			return nil, err
		}
		stmt.Columns = append(stmt.Columns, col)
		// Skip an optional type name and its optional (n) suffix.
		if p.cur.Type == tkIdent {
			p.next()
			if p.cur.Type == tkLParen {
				p.next()
				for p.cur.Type != tkRParen && p.cur.Type != tkEOF {
					p.next()
				}
				if _, err := p.expect(tkRParen, ")"); err != nil {
					return nil, err
				}
			}
		}
		if p.cur.Type == tkComma {
			p.next()
			continue
		}
		break
	}
	if _, err := p.expect(tkRParen, ")"); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *Parser) parseDropTable() (Statement, error) {
	p.next() // DROP
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	stmt := &DropTableStmt{}
	if p.keyword("IF") {
		p.next()
		if err := p.expectKeyword("EXISTS"); err != nil {
			return nil, err
		}
		stmt.IfExists = true
	}
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	stmt.Table = name
	return stmt, nil
}

func (p *Parser) parseInsert() (Statement, error) {
	p.next() // INSERT
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	stmt := &InsertStmt{}
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	stmt.Table = name
	if p.cur.Type == tkLParen {
		p.next()
		for {
			col, err := p.ident()
			if err != nil {
				return nil, err
			}
			stmt.Columns = append(stmt.Columns, col)
			if p.cur.Type == tkComma {
				p.next()
				continue
			}
			break
		}
		if _, err := p.expect(tkRParen, ")"); err != nil {
			return nil, err
		}
	}
	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}
	for {
		if _, err := p.expect(tkLParen, "("); err != nil {
			return nil, err
		}
		var row []Expr
		for {
			expr, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			row = append(row, expr)
			if p.cur.Type == tkComma {
				p.next()
				continue
			}
			break
		}
		if _, err := p.expect(tkRParen, ")"); err != nil {
			return nil, err
		}
		stmt.Rows = append(stmt.Rows, row)
		if p.cur.Type == tkComma {
			p.next()
			continue
		}
		break
	}
	return stmt, nil
}

func (p *Parser) parseSelect() (Statement, error) {
	p.next() // SELECT
	stmt := &SelectStmt{Limit: -1}
	if p.cur.Type == tkStar {
		p.next()
	} else {
		for {
			col, err := p.ident()
			if err != nil {
				return nil, err
			}
			stmt.Columns = append(stmt.Columns, col)
			if p.cur.Type == tkComma {
				p.next()
				continue
			}
			break
		}
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	stmt.Table = name
	if p.acceptKeyword("WHERE") {
		where, err := p.parseWhere()
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}
	if p.keyword("ORDER") {
		p.next()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		col, err := p.ident()
		if err != nil {
			return nil, err
		}
		stmt.OrderBy = col
		if p.acceptKeyword("DESC") {
			stmt.Descending = true
		} else {
			p.acceptKeyword("ASC")
		}
	}
	if p.acceptKeyword("LIMIT") {
		tok, err := p.expect(tkInteger, "limit count")
		if err != nil {
			return nil, err
		}
		n, err := strconv.Atoi(tok.Lexeme)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid LIMIT %q", tok.Lexeme)
		}
		stmt.Limit = n
	}
	return stmt, nil
}

func (p *Parser) parseDelete() (Statement, error) {
	p.next() // DELETE
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	stmt := &DeleteStmt{}
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	stmt.Table = name
	if p.acceptKeyword("WHERE") {
		where, err := p.parseWhere()
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}
	return stmt, nil
}

func (p *Parser) parseBegin() (Statement, error) {
	p.next() // BEGIN
	stmt := &BeginStmt{}
	for _, behavior := range []string{"DEFERRED", "IMMEDIATE", "EXCLUSIVE"} {
		if p.acceptKeyword(behavior) {
			stmt.Behavior = behavior
			break
		}
	}
	p.acceptKeyword("TRANSACTION")
	return stmt, nil
}

func (p *Parser) parseWhere() (*Where, error) {
	col, err := p.ident()
	if err != nil {
		return nil, err
	}
	var op CompareOp
	switch p.cur.Type {
	case tkEq:
		op = OpEq
	case tkNe:
		op = OpNe
	case tkLt:
		op = OpLt
	case tkGt:
		op = OpGt
	case tkLe:
		op = OpLe
	case tkGe:
		op = OpGe
	default:
		return nil, fmt.Errorf("expected comparison operator near %s", p.cur)
	}
	p.next()
	operand, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &Where{Column: col, Op: op, Operand: operand}, nil
}

// parseExpr parses a literal or parameter expression.
func (p *Parser) parseExpr() (Expr, error) {
	switch p.cur.Type {
	case tkInteger:
		i, err := strconv.ParseInt(p.cur.Lexeme, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", p.cur.Lexeme)
		}
		p.next()
		return &LiteralExpr{Value: engine.Integer(i)}, nil
	case tkFloat:
		f, err := strconv.ParseFloat(p.cur.Lexeme, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", p.cur.Lexeme)
		}
		p.next()
		return &LiteralExpr{Value: engine.Real(f)}, nil
	case tkString:
		s := p.cur.Lexeme
		p.next()
		return &LiteralExpr{Value: engine.Text(s)}, nil
	case tkQuestion:
		p.next()
		p.params.count++
		return &ParamExpr{Index: p.params.count}, nil
	case tkNamedPara:
		name := p.cur.Lexeme
		p.next()
		if i, ok := p.params.names[name]; ok {
			return &ParamExpr{Index: i}, nil
		}
		p.params.count++
		p.params.names[name] = p.params.count
		return &ParamExpr{Index: p.params.count}, nil
	case tkIdent:
		if strings.EqualFold(p.cur.Lexeme, "NULL") {
			p.next()
			return &LiteralExpr{Value: engine.Null()}, nil
		}
		return nil, fmt.Errorf("unexpected identifier %q in expression", p.cur.Lexeme)
	default:
		return nil, fmt.Errorf("unexpected token %s in expression", p.cur)
	}
}
