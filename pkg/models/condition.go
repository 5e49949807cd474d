package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Operator is a comparison applied by a Condition.
type Operator string

const (
	OpEquals              Operator = "equals"
	OpNotEquals           Operator = "not_equals"
	OpGreaterThan         Operator = "greater_than"
	OpLessThan            Operator = "less_than"
	OpGreaterThanOrEquals Operator = "greater_than_or_equals"
	OpLessThanOrEquals    Operator = "less_than_or_equals"
	OpContains            Operator = "contains"
	OpNotContains         Operator = "not_contains"
	OpIn                  Operator = "in"
	OpNotIn               Operator = "not_in"
	OpEmpty               Operator = "empty"
	OpNotEmpty            Operator = "not_empty"
)

// Operators lists every supported operator.
var Operators = []Operator{
	OpEquals, OpNotEquals,
	OpGreaterThan, OpLessThan, OpGreaterThanOrEquals, OpLessThanOrEquals,
	OpContains, OpNotContains,
	OpIn, OpNotIn,
	OpEmpty, OpNotEmpty,
}

// Valid reports whether op is a supported operator.
func (op Operator) Valid() bool {
	for _, o := range Operators {
		if o == op {
			return true
		}
	}
	return false
}

// Condition is a single rule evaluated against ApplicationData.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    Value    `json:"value"`
}

// ValueKind tags the variant held by a Value.
type ValueKind string

const (
	KindNone   ValueKind = ""
	KindBool   ValueKind = "bool"
	KindNumber ValueKind = "number"
	KindText   ValueKind = "text"
	KindList   ValueKind = "list"
)

// Value is the literal operand of a Condition. Exactly one of the payload
// fields is meaningful, selected by Kind. The zero Value is KindNone and is
// used by operators that take no operand (empty, not_empty).
type Value struct {
	Kind   ValueKind
	Bool   bool
	Number float64
	Text   string
	List   []Value
}

func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }
func NumberValue(n float64) Value { return Value{Kind: KindNumber, Number: n} }
func TextValue(s string) Value { return Value{Kind: KindText, Text: s} }
func ListValue(vs ...Value) Value { return Value{Kind: KindList, List: vs} }

// ValueOf converts a decoded JSON/YAML literal into a Value. Objects are
// rejected; nil becomes KindNone.
func ValueOf(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Value{}, nil
	case Value:
		return x, nil
	case bool:
		return BoolValue(x), nil
	case string:
		return TextValue(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", x, err)
		}
		return NumberValue(f), nil
	case []any:
		list := make([]Value, 0, len(x))
		for i, e := range x {
			ev, err := ValueOf(e)
			if err != nil {
				return Value{}, fmt.Errorf("list element %d: %w", i, err)
			}
			list = append(list, ev)
		}
		return ListValue(list...), nil
	case []string:
		list := make([]Value, 0, len(x))
		for _, e := range x {
			list = append(list, TextValue(e))
		}
		return ListValue(list...), nil
	}
	if f, ok := ToFloat(v); ok {
		return NumberValue(f), nil
	}
	return Value{}, fmt.Errorf("unsupported condition value of type %T", v)
}

// Interface returns the plain Go representation of v.
func (v Value) Interface() any {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindNumber:
		return v.Number
	case KindText:
		return v.Text
	case KindList:
		out := make([]any, 0, len(v.List))
		for _, e := range v.List {
			out = append(out, e.Interface())
		}
		return out
	}
	return nil
}

// MarshalJSON encodes v as its natural JSON literal.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.Kind == KindNumber && (math.IsNaN(v.Number) || math.IsInf(v.Number, 0)) {
		return nil, fmt.Errorf("condition value %v is not representable in JSON", v.Number)
	}
	return json.Marshal(v.Interface())
}

// UnmarshalJSON decodes a JSON literal into v.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ValueOf(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ToFloat converts any Go numeric type (and json.Number) to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
