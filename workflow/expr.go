package workflow

import (
	"fmt"
	"strconv"
	"strings"
)

// Supported comparison operators. Routing expressions accept the symbolic
// aliases on the right.
const (
	OpEq       = "eq"       // == or =
	OpNe       = "ne"       // !=
	OpGt       = "gt"       // >
	OpGte      = "gte"      // >=
	OpLt       = "lt"       // <
	OpLte      = "lte"      // <=
	OpContains = "contains" // contains
	OpExists   = "exists"   // exists (unary)
)

var opAliases = map[string]string{
	"eq": OpEq, "==": OpEq, "=": OpEq,
	"ne": OpNe, "!=": OpNe,
	"gt": OpGt, ">": OpGt,
	"gte": OpGte, ">=": OpGte,
	"lt": OpLt, "<": OpLt,
	"lte": OpLte, "<=": OpLte,
	"contains": OpContains,
	"exists":   OpExists,
}

func lookupOp(op string) (string, bool) {
	canonical, ok := opAliases[strings.ToLower(strings.TrimSpace(op))]
	return canonical, ok
}

// ParseExpr parses a routing expression like "order_value > 1000" or
// "status exists" into a structured condition.
func ParseExpr(expr string) (Condition, error) {
	fields := strings.Fields(strings.TrimSpace(expr))
	if len(fields) < 2 {
		return Condition{}, fmt.Errorf("expression %q requires a field and an operator", expr)
	}
	op, ok := lookupOp(fields[1])
	if !ok {
		return Condition{}, fmt.Errorf("expression %q has unsupported operator %q", expr, fields[1])
	}
	cond := Condition{Field: fields[0], Op: op}
	if op == OpExists {
		if len(fields) > 2 {
			return Condition{}, fmt.Errorf("expression %q: exists takes no value", expr)
		}
		return cond, nil
	}
	if len(fields) < 3 {
		return Condition{}, fmt.Errorf("expression %q missing value", expr)
	}
	cond.Value = parseLiteral(strings.Join(fields[2:], " "))
	return cond, nil
}

func parseLiteral(raw string) any {
	raw = strings.TrimSpace(raw)
	if len(raw) >= 2 {
		if (raw[0] == '"' && raw[len(raw)-1] == '"') || (raw[0] == '\'' && raw[len(raw)-1] == '\'') {
			return raw[1 : len(raw)-1]
		}
	}
	switch strings.ToLower(raw) {
	case "true":
		return true
	case "false":
		return false
	case "null", "nil":
		return nil
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return n
	}
	return raw
}

// Eval evaluates the condition against the merged data map. Unknown fields
// fail every operator except exists.
func (c Condition) Eval(data map[string]any) (bool, error) {
	op, ok := lookupOp(c.Op)
	if !ok {
		return false, fmt.Errorf("unsupported operator %q", c.Op)
	}
	val, present := lookupField(data, c.Field)
	if op == OpExists {
		return present && val != nil, nil
	}
	if !present {
		return false, nil
	}
	switch op {
	case OpEq:
		return equalValues(val, c.Value), nil
	case OpNe:
		return !equalValues(val, c.Value), nil
	case OpContains:
		return containsValue(val, c.Value), nil
	}
	cmp, comparable := compareValues(val, c.Value)
	if !comparable {
		return false, nil
	}
	switch op {
	case OpGt:
		return cmp > 0, nil
	case OpGte:
		return cmp >= 0, nil
	case OpLt:
		return cmp < 0, nil
	case OpLte:
		return cmp <= 0, nil
	}
	return false, fmt.Errorf("unsupported operator %q", c.Op)
}

// Eval evaluates the group with its logic mode.
func (g ConditionGroup) Eval(data map[string]any) (bool, error) {
	anyMode := strings.EqualFold(strings.TrimSpace(g.Logic), "or")
	for _, cond := range g.Conditions {
		ok, err := cond.Eval(data)
		if err != nil {
			return false, err
		}
		if anyMode && ok {
			return true, nil
		}
		if !anyMode && !ok {
			return false, nil
		}
	}
	return !anyMode || len(g.Conditions) == 0, nil
}

// EvalGroups evaluates all groups, ANDed together.
func EvalGroups(groups []ConditionGroup, data map[string]any) (bool, error) {
	for _, group := range groups {
		ok, err := group.Eval(data)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// lookupField supports dotted paths into nested maps, e.g. "customer.tier".
func lookupField(data map[string]any, field string) (any, bool) {
	parts := strings.Split(strings.TrimSpace(field), ".")
	var current any = data
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func equalValues(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func containsValue(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, fmt.Sprint(needle))
	case []any:
		for _, item := range h {
			if equalValues(item, needle) {
				return true
			}
		}
	case []string:
		for _, item := range h {
			if item == fmt.Sprint(needle) {
				return true
			}
		}
	}
	return false
}

func compareValues(a, b any) (int, bool) {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			}
			return 0, true
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
