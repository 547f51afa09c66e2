package minisql

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/stabledb/stabledb/core/engine"
)

// All multi-byte fields are big-endian, following the convention of the
// SQLite file format.

// Catalog page layout (page 1):
//
//	offset 0   magic "mSQL" (4 bytes)
//	offset 4   format version (u16)
//	offset 6   reserved (u16)
//	offset 8   page size (u32)
//	offset 12  page count watermark, catalog included (u32)
//	offset 16  table count (u16)
//	offset 18  table entries
//
// Each table entry: name length (u16), name bytes, root page (u32),
// column count (u16), then per column: name length (u16), name bytes.
//
// Data page layout:
//
//	offset 0  next page in chain (u32, 0 terminates)
//	offset 4  record count (u16)
//	offset 6  used bytes, header included (u16)
//	offset 8  records
//
// Each record: payload length (u16), payload. Record payload: per
// column a type tag byte, then for INTEGER 8 bytes, REAL 8 bytes (IEEE
// bits), TEXT and BLOB a u32 length and the bytes. NULL has no payload.

var catalogMagic = [4]byte{'m', 'S', 'Q', 'L'}

const (
	formatVersion  = 1
	catalogPage    = 1
	dataPageHeader = 8
)

// ErrNotADatabase indicates the backing store holds data that is not a
// minisql database image.
var ErrNotADatabase = errors.New("backing store is not a minisql database")

// table describes one table in the catalog.
type table struct {
	name     string
	rootPage uint32
	columns  []string
}

// columnIndex returns the position of the named column, or -1.
func (t *table) columnIndex(name string) int {
	for i, c := range t.columns {
		if c == name {
			return i
		}
	}
	return -1
}

// catalog is the decoded form of page 1.
type catalog struct {
	pageSize  int
	pageCount uint32
	tables    []*table
}

func (c *catalog) findTable(name string) *table {
	for _, t := range c.tables {
		if t.name == name {
			return t
		}
	}
	return nil
}

// allocPage advances the allocation watermark and returns a fresh page
// index. Freed pages are not reclaimed; the backing store only grows.
func (c *catalog) allocPage() uint32 {
	c.pageCount++
	return c.pageCount
}

func (c *catalog) encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(catalogMagic[:])
	writeU16(&buf, formatVersion)
	writeU16(&buf, 0)
	writeU32(&buf, uint32(c.pageSize))
	writeU32(&buf, c.pageCount)
	writeU16(&buf, uint16(len(c.tables)))
	for _, t := range c.tables {
		writeU16(&buf, uint16(len(t.name)))
		buf.WriteString(t.name)
		writeU32(&buf, t.rootPage)
		writeU16(&buf, uint16(len(t.columns)))
		for _, col := range t.columns {
			writeU16(&buf, uint16(len(col)))
			buf.WriteString(col)
		}
	}
	if buf.Len() > c.pageSize {
		return nil, fmt.Errorf("catalog exceeds page size: %d > %d", buf.Len(), c.pageSize)
	}
	page := make([]byte, c.pageSize)
	copy(page, buf.Bytes())
	return page, nil
}

func decodeCatalog(page []byte) (*catalog, error) {
	r := &reader{buf: page}
	var magic [4]byte
	r.read(magic[:])
	if magic != catalogMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrNotADatabase, magic)
	}
	version := r.u16()
	if version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrNotADatabase, version)
	}
	r.u16() // reserved
	c := &catalog{
		pageSize:  int(r.u32()),
		pageCount: r.u32(),
	}
	if c.pageSize != len(page) {
		return nil, fmt.Errorf("%w: page size %d does not match page length %d", ErrNotADatabase, c.pageSize, len(page))
	}
	nTables := int(r.u16())
	for i := 0; i < nTables; i++ {
		t := &table{}
		t.name = string(r.bytes(int(r.u16())))
		t.rootPage = r.u32()
		nCols := int(r.u16())
		for j := 0; j < nCols; j++ {
			t.columns = append(t.columns, string(r.bytes(int(r.u16()))))
		}
		c.tables = append(c.tables, t)
	}
	if r.err != nil {
		return nil, fmt.Errorf("%w: truncated catalog: %v", ErrNotADatabase, r.err)
	}
	return c, nil
}

// dataPage is the decoded form of one table chain page.
type dataPage struct {
	next    uint32
	records [][]byte
}

func (p *dataPage) encode(pageSize int) ([]byte, error) {
	page := make([]byte, pageSize)
	binary.BigEndian.PutUint32(page[0:], p.next)
	binary.BigEndian.PutUint16(page[4:], uint16(len(p.records)))
	off := dataPageHeader
	for _, rec := range p.records {
		if off+2+len(rec) > pageSize {
			return nil, fmt.Errorf("records overflow page: %d records, %d bytes used", len(p.records), off)
		}
		binary.BigEndian.PutUint16(page[off:], uint16(len(rec)))
		copy(page[off+2:], rec)
		off += 2 + len(rec)
	}
	binary.BigEndian.PutUint16(page[6:], uint16(off))
	return page, nil
}

func decodeDataPage(page []byte) (*dataPage, error) {
	if len(page) < dataPageHeader {
		return nil, fmt.Errorf("%w: short data page", ErrNotADatabase)
	}
	p := &dataPage{next: binary.BigEndian.Uint32(page[0:])}
	count := int(binary.BigEndian.Uint16(page[4:]))
	off := dataPageHeader
	for i := 0; i < count; i++ {
		if off+2 > len(page) {
			return nil, fmt.Errorf("%w: truncated record header", ErrNotADatabase)
		}
		n := int(binary.BigEndian.Uint16(page[off:]))
		off += 2
		if off+n > len(page) {
			return nil, fmt.Errorf("%w: truncated record", ErrNotADatabase)
		}
		p.records = append(p.records, page[off:off+n])
		off += n
	}
	return p, nil
}

// free returns the number of payload bytes still available on the page.
func (p *dataPage) free(pageSize int) int {
	used := dataPageHeader
	for _, rec := range p.records {
		used += 2 + len(rec)
	}
	return pageSize - used
}

// Value tags in record payloads.
const (
	tagNull = iota
	tagInteger
	tagReal
	tagText
	tagBlob
)

// encodeRecord serializes one row of values.
func encodeRecord(row []engine.Value) []byte {
	var buf bytes.Buffer
	for _, v := range row {
		switch v.Type() {
		case engine.TypeNull:
			buf.WriteByte(tagNull)
		case engine.TypeInteger:
			buf.WriteByte(tagInteger)
			var b [8]byte
			binary.BigEndian.PutUint64(b[:], uint64(v.Int()))
			buf.Write(b[:])
		case engine.TypeReal:
			buf.WriteByte(tagReal)
			var b [8]byte
			binary.BigEndian.PutUint64(b[:], math.Float64bits(v.Float()))
			buf.Write(b[:])
		case engine.TypeText:
			buf.WriteByte(tagText)
			var b [4]byte
			binary.BigEndian.PutUint32(b[:], uint32(len(v.Text())))
			buf.Write(b[:])
			buf.WriteString(v.Text())
		case engine.TypeBlob:
			buf.WriteByte(tagBlob)
			var b [4]byte
			binary.BigEndian.PutUint32(b[:], uint32(len(v.Bytes())))
			buf.Write(b[:])
			buf.Write(v.Bytes())
		}
	}
	return buf.Bytes()
}

// decodeRecord deserializes one row. nCols bounds the expected column
// count; short records pad with NULL so that tables widened later still
// read old rows.
func decodeRecord(rec []byte, nCols int) ([]engine.Value, error) {
	row := make([]engine.Value, 0, nCols)
	r := &reader{buf: rec}
	for len(row) < nCols && r.off < len(rec) && r.err == nil {
		switch tag := r.u8(); tag {
		case tagNull:
			row = append(row, engine.Null())
		case tagInteger:
			var b [8]byte
			r.read(b[:])
			row = append(row, engine.Integer(int64(binary.BigEndian.Uint64(b[:]))))
		case tagReal:
			var b [8]byte
			r.read(b[:])
			row = append(row, engine.Real(math.Float64frombits(binary.BigEndian.Uint64(b[:]))))
		case tagText:
			row = append(row, engine.Text(string(r.bytes(int(r.u32())))))
		case tagBlob:
			b := r.bytes(int(r.u32()))
			out := make([]byte, len(b))
			copy(out, b)
			row = append(row, engine.Blob(out))
		default:
			return nil, fmt.Errorf("%w: unknown value tag %d", ErrNotADatabase, tag)
		}
	}
	if r.err != nil {
		return nil, fmt.Errorf("%w: truncated value: %v", ErrNotADatabase, r.err)
	}
	for len(row) < nCols {
		row = append(row, engine.Null())
	}
	return row, nil
}

// reader is a bounds-checked sequential decoder.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) read(p []byte) {
	if r.err != nil {
		return
	}
	if r.off+len(p) > len(r.buf) {
		r.err = fmt.Errorf("need %d bytes at offset %d, have %d", len(p), r.off, len(r.buf)-r.off)
		return
	}
	copy(p, r.buf[r.off:])
	r.off += len(p)
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.err = fmt.Errorf("need %d bytes at offset %d, have %d", n, r.off, len(r.buf)-r.off)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() byte {
	var b [1]byte
	r.read(b[:])
	return b[0]
}

func (r *reader) u16() uint16 {
	var b [2]byte
	r.read(b[:])
	return binary.BigEndian.Uint16(b[:])
}

func (r *reader) u32() uint32 {
	var b [4]byte
	r.read(b[:])
	return binary.BigEndian.Uint32(b[:])
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}
