package workflow

import (
	"testing"
)

func TestParseExpr(t *testing.T) {
	cases := []struct {
		expr  string
		field string
		op    string
		value any
	}{
		{"order_value > 1000", "order_value", OpGt, float64(1000)},
		{"status == approved", "status", OpEq, "approved"},
		{"tier != \"gold\"", "tier", OpNe, "gold"},
		{"score >= 0.75", "score", OpGte, 0.75},
		{"priority exists", "priority", OpExists, nil},
		{"tags contains vip", "tags", OpContains, "vip"},
		{"active eq true", "active", OpEq, true},
	}
	for _, tc := range cases {
		cond, err := ParseExpr(tc.expr)
		if err != nil {
			t.Fatalf("ParseExpr(%q): %v", tc.expr, err)
		}
		if cond.Field != tc.field || cond.Op != tc.op {
			t.Fatalf("ParseExpr(%q) = %+v, want field=%s op=%s", tc.expr, cond, tc.field, tc.op)
		}
		if cond.Value != tc.value {
			t.Fatalf("ParseExpr(%q) value = %v (%T), want %v (%T)", tc.expr, cond.Value, cond.Value, tc.value, tc.value)
		}
	}
}

func TestParseExprRejectsMalformed(t *testing.T) {
	for _, expr := range []string{"", "lonely", "a ~ b", "field >", "x exists extra"} {
		if _, err := ParseExpr(expr); err == nil {
			t.Fatalf("ParseExpr(%q) should fail", expr)
		}
	}
}

func TestConditionEval(t *testing.T) {
	data := map[string]any{
		"order_value": 1500,
		"status":      "approved",
		"tags":        []any{"vip", "emea"},
		"customer":    map[string]any{"tier": "gold"},
		"note":        "manual review requested",
	}
	cases := []struct {
		expr string
		want bool
	}{
		{"order_value > 1000", true},
		{"order_value > 2000", false},
		{"order_value lte 1500", true},
		{"status == approved", true},
		{"status != approved", false},
		{"tags contains vip", true},
		{"tags contains apac", false},
		{"note contains review", true},
		{"customer.tier eq gold", true},
		{"customer.tier exists", true},
		{"missing_field exists", false},
		{"missing_field > 1", false},
	}
	for _, tc := range cases {
		cond, err := ParseExpr(tc.expr)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.expr, err)
		}
		got, err := cond.Eval(data)
		if err != nil {
			t.Fatalf("eval %q: %v", tc.expr, err)
		}
		if got != tc.want {
			t.Fatalf("eval %q = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestGroupLogicModes(t *testing.T) {
	data := map[string]any{"a": 1, "b": 2}

	andGroup := ConditionGroup{Conditions: []Condition{
		{Field: "a", Op: OpEq, Value: 1},
		{Field: "b", Op: OpEq, Value: 99},
	}}
	if ok, _ := andGroup.Eval(data); ok {
		t.Fatal("and group with one false condition must fail")
	}

	orGroup := ConditionGroup{Logic: "or", Conditions: []Condition{
		{Field: "a", Op: OpEq, Value: 99},
		{Field: "b", Op: OpEq, Value: 2},
	}}
	if ok, _ := orGroup.Eval(data); !ok {
		t.Fatal("or group with one true condition must pass")
	}
}

func TestEvalGroupsAreANDed(t *testing.T) {
	data := map[string]any{"a": 1, "b": 2}
	groups := []ConditionGroup{
		{Conditions: []Condition{{Field: "a", Op: OpEq, Value: 1}}},
		{Conditions: []Condition{{Field: "b", Op: OpGt, Value: 5}}},
	}
	if ok, _ := EvalGroups(groups, data); ok {
		t.Fatal("one failing group must veto the transition")
	}
	if ok, _ := EvalGroups(nil, data); !ok {
		t.Fatal("no groups means unconditionally satisfied")
	}
}

func TestNumericCoercionAcrossTypes(t *testing.T) {
	cond := Condition{Field: "n", Op: OpGte, Value: float64(10)}
	for _, v := range []any{10, int64(10), float64(10), "10"} {
		ok, err := cond.Eval(map[string]any{"n": v})
		if err != nil {
			t.Fatalf("eval with %T: %v", v, err)
		}
		if !ok {
			t.Fatalf("expected %v (%T) >= 10", v, v)
		}
	}
}
