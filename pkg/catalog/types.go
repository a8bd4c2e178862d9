// Package catalog provides the scalar type system and the static schema registry.
package catalog

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind is the dynamic type of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindNumber
	KindText
	KindBool
)

// String returns the SQL-ish name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "NULL"
	case KindNumber:
		return "NUMBER"
	case KindText:
		return "TEXT"
	case KindBool:
		return "BOOL"
	default:
		return "UNKNOWN"
	}
}

// Value is a scalar cell value: null, number, text or boolean.
type Value struct {
	Kind Kind
	Num  float64
	Text string
	Bool bool
}

// Null returns the NULL value.
func Null() Value {
	return Value{}
}

// NewNumber creates a NUMBER value.
func NewNumber(v float64) Value {
	return Value{Kind: KindNumber, Num: v}
}

// NewText creates a TEXT value.
func NewText(v string) Value {
	return Value{Kind: KindText, Text: v}
}

// NewBool creates a BOOL value.
func NewBool(v bool) Value {
	return Value{Kind: KindBool, Bool: v}
}

// IsNull reports whether v is NULL.
func (v Value) IsNull() bool {
	return v.Kind == KindNull
}

// String returns a human-readable representation.
func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindText:
		return v.Text
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	default:
		return "NULL"
	}
}

// Number coerces v to a float64. Numbers, numeric text and booleans coerce;
// NULL and non-numeric text do not.
func (v Value) Number() (float64, bool) {
	switch v.Kind {
	case KindNumber:
		return v.Num, true
	case KindText:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Text), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	case KindBool:
		if v.Bool {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// Truthy reports whether v counts as true in a boolean context.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindNumber:
		return v.Num != 0
	case KindText:
		return v.Text != ""
	default:
		return false
	}
}

// Interface returns v as a plain Go value (nil, float64, string or bool).
func (v Value) Interface() any {
	switch v.Kind {
	case KindNumber:
		return v.Num
	case KindText:
		return v.Text
	case KindBool:
		return v.Bool
	default:
		return nil
	}
}

// MarshalJSON encodes v as its natural JSON scalar.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.Kind == KindNumber && (math.IsInf(v.Num, 0) || math.IsNaN(v.Num)) {
		return []byte("null"), nil
	}
	return json.Marshal(v.Interface())
}

// UnmarshalJSON decodes a JSON scalar into v.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = ValueOf(raw)
	return nil
}

// ValueOf converts a scalar produced by a table store (JSON, YAML or a
// database driver) into a Value. Dates become ISO text.
func ValueOf(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case bool:
		return NewBool(t)
	case string:
		return NewText(t)
	case []byte:
		return NewText(string(t))
	case int:
		return NewNumber(float64(t))
	case int8:
		return NewNumber(float64(t))
	case int16:
		return NewNumber(float64(t))
	case int32:
		return NewNumber(float64(t))
	case int64:
		return NewNumber(float64(t))
	case uint:
		return NewNumber(float64(t))
	case uint8:
		return NewNumber(float64(t))
	case uint16:
		return NewNumber(float64(t))
	case uint32:
		return NewNumber(float64(t))
	case uint64:
		return NewNumber(float64(t))
	case float32:
		return NewNumber(float64(t))
	case float64:
		return NewNumber(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return NewNumber(f)
		}
		return NewText(t.String())
	case time.Time:
		return NewText(formatTime(t))
	case *time.Time:
		if t == nil {
			return Null()
		}
		return NewText(formatTime(*t))
	case driver.Valuer:
		dv, err := t.Value()
		if err != nil {
			return NewText(fmt.Sprint(x))
		}
		if _, again := dv.(driver.Valuer); again {
			return NewText(fmt.Sprint(dv))
		}
		return ValueOf(dv)
	case fmt.Stringer:
		return NewText(t.String())
	default:
		return NewText(fmt.Sprint(x))
	}
}

func formatTime(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format("2006-01-02")
	}
	return t.Format(time.RFC3339)
}

// Row maps column keys to values. Before projection the keys are qualified
// ("alias.column"); after projection they are output column names.
type Row map[string]Value

// Qualify builds the qualified key for a column of a table source.
func Qualify(alias, column string) string {
	return alias + "." + column
}
