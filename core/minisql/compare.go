package minisql

import (
	"bytes"
	"strings"

	"github.com/stabledb/stabledb/core/engine"
)

// typeRank orders value types for cross-type comparison: NULL, then
// numbers, then text, then blobs. This mirrors SQLite's ordering of
// storage classes.
func typeRank(v engine.Value) int {
	switch v.Type() {
	case engine.TypeNull:
		return 0
	case engine.TypeInteger, engine.TypeReal:
		return 1
	case engine.TypeText:
		return 2
	default:
		return 3
	}
}

// numeric returns the value as a float for cross-numeric comparison.
func numeric(v engine.Value) float64 {
	if v.Type() == engine.TypeInteger {
		return float64(v.Int())
	}
	return v.Float()
}

// compareValues orders two values: negative if a sorts before b, zero if
// equal, positive otherwise.
func compareValues(a, b engine.Value) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return ra - rb
	}
	switch ra {
	case 0:
		return 0
	case 1:
		// Compare exactly when both are integers, numerically otherwise.
		if a.Type() == engine.TypeInteger && b.Type() == engine.TypeInteger {
			switch {
			case a.Int() < b.Int():
				return -1
			case a.Int() > b.Int():
				return 1
			default:
				return 0
			}
		}
		fa, fb := numeric(a), numeric(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	case 2:
		return strings.Compare(a.Text(), b.Text())
	default:
		return bytes.Compare(a.Bytes(), b.Bytes())
	}
}

// matchWhere evaluates a comparison predicate. A NULL on either side
// never matches, as in SQL three-valued logic.
func matchWhere(v engine.Value, op CompareOp, operand engine.Value) bool {
	if v.IsNull() || operand.IsNull() {
		return false
	}
	cmp := compareValues(v, operand)
	switch op {
	case OpEq:
		return cmp == 0
	case OpNe:
		return cmp != 0
	case OpLt:
		return cmp < 0
	case OpGt:
		return cmp > 0
	case OpLe:
		return cmp <= 0
	case OpGe:
		return cmp >= 0
	default:
		return false
	}
}
