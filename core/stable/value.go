package stable

import "github.com/stabledb/stabledb/core/engine"

// Value is one SQL value: NULL, INTEGER, REAL, TEXT, or BLOB.
type Value = engine.Value

// ValueType discriminates the variants of a Value.
type ValueType = engine.ValueType

// Value variants.
const (
	TypeNull    = engine.TypeNull
	TypeInteger = engine.TypeInteger
	TypeReal    = engine.TypeReal
	TypeText    = engine.TypeText
	TypeBlob    = engine.TypeBlob
)

// Value constructors, re-exported for callers that bind typed values
// directly.
var (
	Null    = engine.Null
	Integer = engine.Integer
	Real    = engine.Real
	Text    = engine.Text
	Blob    = engine.Blob
)
