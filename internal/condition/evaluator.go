// Package condition evaluates transition rules against application data.
//
// Evaluation is total and side-effect free: a type mismatch, a missing
// field or an unknown operator makes a condition false, never an error.
package condition

import (
	"reflect"
	"strings"

	"admissions-workflow/backend/pkg/models"

	"github.com/oliveagle/jsonpath"
)

// EvaluateAll reports whether every condition holds. An empty list is
// unconditional and returns true.
func EvaluateAll(conds []models.Condition, data models.ApplicationData) bool {
	for _, c := range conds {
		if !Evaluate(c, data) {
			return false
		}
	}
	return true
}

// Failing returns the conditions that do not hold, in order.
func Failing(conds []models.Condition, data models.ApplicationData) []models.Condition {
	var failed []models.Condition
	for _, c := range conds {
		if !Evaluate(c, data) {
			failed = append(failed, c)
		}
	}
	return failed
}

// Evaluate checks a single condition against data.
func Evaluate(c models.Condition, data models.ApplicationData) bool {
	actual := Lookup(data, c.Field)
	lit := c.Value

	switch c.Operator {
	case models.OpEquals:
		eq, ok := equal(actual, lit)
		return ok && eq
	case models.OpNotEquals:
		eq, ok := equal(actual, lit)
		return ok && !eq
	case models.OpGreaterThan:
		cmp, ok := order(actual, lit)
		return ok && cmp > 0
	case models.OpLessThan:
		cmp, ok := order(actual, lit)
		return ok && cmp < 0
	case models.OpGreaterThanOrEquals:
		cmp, ok := order(actual, lit)
		return ok && cmp >= 0
	case models.OpLessThanOrEquals:
		cmp, ok := order(actual, lit)
		return ok && cmp <= 0
	case models.OpContains:
		found, ok := contains(actual, lit)
		return ok && found
	case models.OpNotContains:
		found, ok := contains(actual, lit)
		return ok && !found
	case models.OpIn:
		found, ok := in(actual, lit)
		return ok && found
	case models.OpNotIn:
		found, ok := in(actual, lit)
		return ok && !found
	case models.OpEmpty:
		return isEmpty(actual)
	case models.OpNotEmpty:
		return !isEmpty(actual)
	}
	return false
}

// Lookup resolves field in data. Fields starting with "$" are JSONPath
// expressions into nested data; anything else is a top-level key. Missing
// values and lookup errors resolve to nil.
func Lookup(data models.ApplicationData, field string) any {
	if data == nil {
		return nil
	}
	if strings.HasPrefix(field, "$") {
		v, err := jsonpath.JsonPathLookup(map[string]any(data), field)
		if err != nil {
			return nil
		}
		return v
	}
	return data[field]
}

// equal compares actual to lit. ok is false when the two are of kinds that
// cannot be compared.
func equal(actual any, lit models.Value) (eq bool, ok bool) {
	switch lit.Kind {
	case models.KindNone:
		return actual == nil, actual == nil
	case models.KindBool:
		b, isBool := actual.(bool)
		return isBool && b == lit.Bool, isBool
	case models.KindNumber:
		f, isNum := models.ToFloat(actual)
		return isNum && f == lit.Number, isNum
	case models.KindText:
		s, isStr := actual.(string)
		return isStr && s == lit.Text, isStr
	case models.KindList:
		list, isList := asList(actual)
		if !isList {
			return false, false
		}
		if len(list) != len(lit.List) {
			return false, true
		}
		for i := range list {
			e, eok := equal(list[i], lit.List[i])
			if !eok || !e {
				return false, true
			}
		}
		return true, true
	}
	return false, false
}

// order returns -1, 0 or 1. Numbers compare with numbers and strings with
// strings; anything else is not ordered.
func order(actual any, lit models.Value) (int, bool) {
	switch lit.Kind {
	case models.KindNumber:
		f, ok := models.ToFloat(actual)
		if !ok {
			return 0, false
		}
		switch {
		case f < lit.Number:
			return -1, true
		case f > lit.Number:
			return 1, true
		}
		return 0, true
	case models.KindText:
		s, ok := actual.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(s, lit.Text), true
	}
	return 0, false
}

// contains tests list membership when actual is a list and substring
// containment when it is a string.
func contains(actual any, lit models.Value) (bool, bool) {
	if s, ok := actual.(string); ok {
		if lit.Kind != models.KindText {
			return false, false
		}
		return strings.Contains(s, lit.Text), true
	}
	list, ok := asList(actual)
	if !ok || lit.Kind == models.KindNone {
		return false, false
	}
	return member(list, lit)
}

// in tests whether actual appears in the literal list.
func in(actual any, lit models.Value) (bool, bool) {
	if lit.Kind != models.KindList || actual == nil {
		return false, false
	}
	comparable := len(lit.List) == 0
	for _, e := range lit.List {
		eq, ok := equal(actual, e)
		if ok && eq {
			return true, true
		}
		comparable = comparable || ok
	}
	return false, comparable
}

// member reports whether lit equals an element of list. ok is false when
// list is non-empty and no element is comparable with lit.
func member(list []any, lit models.Value) (found bool, ok bool) {
	comparable := len(list) == 0
	for _, e := range list {
		eq, eok := equal(e, lit)
		if eok && eq {
			return true, true
		}
		comparable = comparable || eok
	}
	return false, comparable
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func asList(v any) ([]any, bool) {
	if l, ok := v.([]any); ok {
		return l, true
	}
	if v == nil {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
