package progress

import (
	"strconv"
	"strings"
)

// Kind tags how a recorded or target value is compared.
type Kind int

const (
	Text Kind = iota
	Numeric
)

// Value is a criterion operand resolved once at evaluation time.
type Value struct {
	Kind Kind
	Num  float64
	Raw  string
}

// Operators accepted on exit criteria.
var Operators = []string{"=", ">", ">=", "<", "<="}

// ValidOperator reports whether op is one of Operators.
func ValidOperator(op string) bool {
	for _, o := range Operators {
		if o == op {
			return true
		}
	}
	return false
}

// ParseValue tags s as Numeric when it parses as a float, Text otherwise.
func ParseValue(s string) Value {
	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		return Value{Kind: Numeric, Num: f, Raw: s}
	}
	return Value{Kind: Text, Raw: s}
}

// IsMet compares the current value against target using op.
// A nil current means nothing was recorded and is never met.
func IsMet(op, target string, current *string) bool {
	if current == nil {
		return false
	}
	t := ParseValue(target)
	c := ParseValue(*current)
	if t.Kind == Numeric && c.Kind == Numeric {
		return compareNumeric(op, t.Num, c.Num)
	}
	return compareText(op, t.Raw, c.Raw)
}

func compareNumeric(op string, target, current float64) bool {
	switch op {
	case "=":
		return current == target
	case ">":
		return current > target
	case ">=":
		return current >= target
	case "<":
		return current < target
	case "<=":
		return current <= target
	}
	return false
}

// compareText has no ordering; only equality and the pass/fail rule apply.
func compareText(op, target, current string) bool {
	if op == "=" {
		return strings.EqualFold(current, target)
	}
	return strings.EqualFold(target, "pass") && strings.EqualFold(current, "pass")
}
