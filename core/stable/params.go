package stable

import (
	"fmt"
	"time"

	"github.com/stabledb/stabledb/core/engine"
)

// NamedArg binds a value to a named statement parameter. Positional
// arguments are passed bare; see Named.
type NamedArg struct {
	Name  string
	Value any
}

// Named creates a NamedArg for the parameter written as :name in SQL.
// The name is given without the sigil.
func Named(name string, value any) NamedArg {
	return NamedArg{Name: name, Value: value}
}

// toValue converts a Go value to an engine Value. Byte slices are
// copied so the engine never aliases caller memory.
func toValue(v any) (engine.Value, error) {
	switch v := v.(type) {
	case nil:
		return engine.Null(), nil
	case Value:
		return v.Clone(), nil
	case int64:
		return engine.Integer(v), nil
	case int:
		return engine.Integer(int64(v)), nil
	case int32:
		return engine.Integer(int64(v)), nil
	case int16:
		return engine.Integer(int64(v)), nil
	case int8:
		return engine.Integer(int64(v)), nil
	case uint32:
		return engine.Integer(int64(v)), nil
	case uint16:
		return engine.Integer(int64(v)), nil
	case uint8:
		return engine.Integer(int64(v)), nil
	case bool:
		if v {
			return engine.Integer(1), nil
		}
		return engine.Integer(0), nil
	case float64:
		return engine.Real(v), nil
	case float32:
		return engine.Real(float64(v)), nil
	case string:
		return engine.Text(v), nil
	case []byte:
		b := make([]byte, len(v))
		copy(b, v)
		return engine.Blob(b), nil
	case time.Time:
		return engine.Text(v.Format(time.RFC3339Nano)), nil
	default:
		return engine.Value{}, fmt.Errorf("unsupported type %T", v)
	}
}

// bindArgs binds positional and named arguments against a compiled
// statement. Positional arguments bind by 1-based ordinal in argument
// order; named arguments resolve through the statement's parameter
// table, and an unresolved name is an error.
func bindArgs(st engine.Stmt, args []any) error {
	pos := 0
	for _, arg := range args {
		if named, ok := arg.(NamedArg); ok {
			idx, ok := st.Parameters().Index(named.Name)
			if !ok {
				return &BindError{Name: named.Name, Err: fmt.Errorf("no such parameter")}
			}
			v, err := toValue(named.Value)
			if err != nil {
				return &BindError{Name: named.Name, Value: named.Value, Err: err}
			}
			if err := st.BindAt(idx, v); err != nil {
				return &BindError{Name: named.Name, Err: err}
			}
			continue
		}
		pos++
		v, err := toValue(arg)
		if err != nil {
			return &BindError{Index: pos, Value: arg, Err: err}
		}
		if err := st.BindAt(pos, v); err != nil {
			return &BindError{Index: pos, Err: err}
		}
	}
	return nil
}
