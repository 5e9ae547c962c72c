// Package cond evaluates branching conditions against the collected-data
// map: single (field, operator, value) triples and a restricted boolean
// expression dialect.
//
// Every evaluation is fail-closed: unknown operators, unparseable numbers,
// and malformed expressions all yield false rather than an error, so a
// misconfigured graph degrades to the false branch instead of halting the
// conversation.
package cond

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Operator is a comparison operator tag. The set is closed; graph
// validation rejects unknown tags at load time.
type Operator string

const (
	OpEquals         Operator = "equals"
	OpNotEquals      Operator = "not_equals"
	OpContains       Operator = "contains"
	OpNotContains    Operator = "not_contains"
	OpStartsWith     Operator = "starts_with"
	OpEndsWith       Operator = "ends_with"
	OpGreaterThan    Operator = "greater_than"
	OpLessThan       Operator = "less_than"
	OpGreaterOrEqual Operator = "greater_or_equal"
	OpLessOrEqual    Operator = "less_or_equal"
	OpIsEmpty        Operator = "is_empty"
	OpIsNotEmpty     Operator = "is_not_empty"
	OpExists         Operator = "exists"
	OpMatchesRegex   Operator = "matches_regex"
	OpInList         Operator = "in_list"
	OpNotInList      Operator = "not_in_list"
)

var knownOperators = map[Operator]bool{
	OpEquals: true, OpNotEquals: true,
	OpContains: true, OpNotContains: true,
	OpStartsWith: true, OpEndsWith: true,
	OpGreaterThan: true, OpLessThan: true,
	OpGreaterOrEqual: true, OpLessOrEqual: true,
	OpIsEmpty: true, OpIsNotEmpty: true,
	OpExists:       true,
	OpMatchesRegex: true,
	OpInList:       true, OpNotInList: true,
}

// Known reports whether op is a member of the closed operator set.
func Known(op Operator) bool {
	return knownOperators[op]
}

// EvaluateField looks a field up in data and applies op against compare.
// Presence-sensitive operators (exists, is_empty, is_not_empty) consult
// the map directly; everything else runs over the stored value.
func EvaluateField(data map[string]any, fieldName string, op Operator, compare any) bool {
	value, present := data[fieldName]

	switch op {
	case OpExists:
		return present
	case OpIsEmpty:
		return !present || isEmpty(value)
	case OpIsNotEmpty:
		return present && !isEmpty(value)
	}

	if !present {
		return false
	}
	return Compare(value, op, compare)
}

// Compare applies op to a value/comparison pair. Strings are normalized
// (trimmed, lowercased) before comparison; equality attempts a numeric
// parse on both sides first so "5" equals 5.
func Compare(value any, op Operator, compare interface{}) bool {
	switch op {
	case OpEquals:
		return looseEqual(value, compare)
	case OpNotEquals:
		return !looseEqual(value, compare)
	case OpContains:
		return strings.Contains(normalize(value), normalize(compare))
	case OpNotContains:
		return !strings.Contains(normalize(value), normalize(compare))
	case OpStartsWith:
		return strings.HasPrefix(normalize(value), normalize(compare))
	case OpEndsWith:
		return strings.HasSuffix(normalize(value), normalize(compare))
	case OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual:
		a, aok := asNumber(value)
		b, bok := asNumber(compare)
		if !aok || !bok {
			return false
		}
		switch op {
		case OpGreaterThan:
			return a > b
		case OpLessThan:
			return a < b
		case OpGreaterOrEqual:
			return a >= b
		default:
			return a <= b
		}
	case OpIsEmpty:
		return isEmpty(value)
	case OpIsNotEmpty:
		return !isEmpty(value)
	case OpExists:
		return value != nil
	case OpMatchesRegex:
		re, err := regexp.Compile("(?i)" + normalizeRaw(compare))
		if err != nil {
			return false
		}
		return re.MatchString(normalizeRaw(value))
	case OpInList:
		return inList(value, compare)
	case OpNotInList:
		return !inList(value, compare)
	}
	return false
}

func looseEqual(a, b any) bool {
	if na, ok := asNumber(a); ok {
		if nb, ok := asNumber(b); ok {
			return na == nb
		}
	}
	return normalize(a) == normalize(b)
}

func inList(value, list any) bool {
	needle := normalize(value)
	switch l := list.(type) {
	case []any:
		for _, item := range l {
			if normalize(item) == needle {
				return true
			}
		}
	case []string:
		for _, item := range l {
			if normalize(item) == needle {
				return true
			}
		}
	case string:
		for _, item := range strings.Split(l, ",") {
			if normalize(item) == needle {
				return true
			}
		}
	}
	return false
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

// normalize renders a value as a trimmed, lowercased string for
// case-insensitive comparison.
func normalize(v any) string {
	return strings.ToLower(normalizeRaw(v))
}

func normalizeRaw(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		s := strings.Replace(strings.TrimSpace(t), ",", ".", 1)
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
