package rules

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func visitCountCondition(op Operator, v Value) Condition {
	return Condition{Field: "visitCount", Operator: op, Value: v}
}

func TestConditionNumericOperators(t *testing.T) {
	tests := []struct {
		op    Operator
		value float64
		count int
		want  bool
	}{
		{OpGreaterThan, 1, 2, true},
		{OpGreaterThan, 1, 1, false},
		{OpLessThan, 3, 2, true},
		{OpLessThan, 2, 2, false},
		{OpGreaterOrEqual, 2, 2, true},
		{OpGreaterOrEqual, 3, 2, false},
		{OpLessOrEqual, 2, 2, true},
		{OpLessOrEqual, 1, 2, false},
		{OpEquals, 2, 2, true},
		{OpEquals, 3, 2, false},
		{OpNotEquals, 3, 2, true},
		{OpNotEquals, 2, 2, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			c := visitCountCondition(tt.op, NumberValue(tt.value))
			got := c.Matches(Context{VisitCount: tt.count})
			assert.Equal(t, tt.want, got, "visitCount=%d %s %v", tt.count, tt.op, tt.value)
		})
	}
}

func TestConditionStringOperators(t *testing.T) {
	ctx := Context{Page: "/Pricing/Enterprise", TrafficSource: "google", Device: "mobile"}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"equals is case-insensitive", Condition{"device", OpEquals, StringValue("MOBILE")}, true},
		{"not_equals", Condition{"device", OpNotEquals, StringValue("desktop")}, true},
		{"contains", Condition{"page", OpContains, StringValue("pricing")}, true},
		{"contains miss", Condition{"page", OpContains, StringValue("blog")}, false},
		{"not_contains", Condition{"page", OpNotContains, StringValue("blog")}, true},
		{"starts_with", Condition{"page", OpStartsWith, StringValue("/pricing")}, true},
		{"starts_with miss", Condition{"page", OpStartsWith, StringValue("/enterprise")}, false},
		{"in list", Condition{"trafficSource", OpIn, ListValue("facebook", "Google")}, true},
		{"in comma string", Condition{"source", OpIn, StringValue("bing, google")}, true},
		{"in miss", Condition{"trafficSource", OpIn, ListValue("bing")}, false},
		{"not_in", Condition{"trafficSource", OpNotIn, ListValue("bing")}, true},
		{"is_empty on empty referrer", Condition{"referrer", OpIsEmpty, Value{}}, true},
		{"is_not_empty", Condition{"page", OpIsNotEmpty, Value{}}, true},
		{"numeric compare on text fails", Condition{"page", OpGreaterThan, NumberValue(1)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cond.Matches(ctx))
		})
	}
}

func TestConditionUnknownFieldAndOperator(t *testing.T) {
	ctx := Context{VisitCount: 2}

	assert.True(t, Condition{"visitCount", "matches_regex", StringValue("x")}.Matches(ctx), "unknown operator fails open")

	unknown := func(op Operator) bool {
		return Condition{"cartValue", op, StringValue("10")}.Matches(ctx)
	}
	assert.False(t, unknown(OpEquals))
	assert.True(t, unknown(OpNotEquals))
	assert.False(t, unknown(OpContains))
	assert.True(t, unknown(OpNotContains))
	assert.False(t, unknown(OpGreaterThan))
	assert.False(t, unknown(OpIn))
	assert.True(t, unknown(OpNotIn))
	assert.True(t, unknown(OpIsEmpty))
	assert.False(t, unknown(OpIsNotEmpty))
}

func TestMatchesCombinators(t *testing.T) {
	ctx := Context{VisitCount: 2}
	yes := visitCountCondition(OpGreaterThan, NumberValue(1))
	no := visitCountCondition(OpGreaterThan, NumberValue(5))

	assert.False(t, Matches(NewRuleSet(And, yes, no), ctx))
	assert.True(t, Matches(NewRuleSet(Or, yes, no), ctx))
	assert.True(t, Matches(NewRuleSet(And, yes, yes), ctx))
	assert.False(t, Matches(NewRuleSet(Or, no, no), ctx))
	assert.True(t, Matches(NewRuleSet("or", no, yes), ctx), "combinator is case-insensitive")
	assert.False(t, Matches(NewRuleSet("", yes, no), ctx), "missing combinator defaults to AND")
	assert.True(t, Matches(RuleSet{}, ctx), "empty rule set shows to everyone")
}

func TestRuleSetJSON(t *testing.T) {
	raw := `{"conditions":[
		{"field":"visitCount","operator":"greater_than","value":1},
		{"field":"trafficSource","operator":"in","value":["google","bing"]},
		{"field":"page","operator":"contains","value":"pricing"}
	],"operator":"OR"}`

	var rs RuleSet
	require.NoError(t, json.Unmarshal([]byte(raw), &rs))
	require.Len(t, rs.Conditions, 3)
	assert.Equal(t, Or, rs.Operator)
	assert.Equal(t, "1", rs.Conditions[0].Condition.Value.String())
	assert.Equal(t, []string{"google", "bing"}, rs.Conditions[1].Condition.Value.List())
	assert.NoError(t, rs.Validate())

	out, err := json.Marshal(rs)
	require.NoError(t, err)
	var again RuleSet
	require.NoError(t, json.Unmarshal(out, &again))
	assert.True(t, Matches(again, Context{VisitCount: 3}))
}

func TestRuleSetGroupVariant(t *testing.T) {
	raw := `{"conditions":[{"operator":"AND","conditions":[{"field":"device","operator":"equals","value":"mobile"}]}],"operator":"AND"}`

	var rs RuleSet
	require.NoError(t, json.Unmarshal([]byte(raw), &rs))
	require.NotNil(t, rs.Conditions[0].Group)
	assert.ErrorIs(t, rs.Validate(), ErrNestedGroup)
	assert.True(t, Matches(rs, Context{Device: "mobile"}))
}

func TestRuleSetScan(t *testing.T) {
	var rs RuleSet
	require.NoError(t, rs.Scan(nil))
	assert.Empty(t, rs.Conditions)

	require.NoError(t, rs.Scan([]byte(`{"conditions":[{"field":"device","operator":"equals","value":"mobile"}],"operator":"AND"}`)))
	require.Len(t, rs.Conditions, 1)

	v, err := RuleSet{}.Value()
	require.NoError(t, err)
	assert.JSONEq(t, `{"conditions":[],"operator":"AND"}`, string(v.([]byte)))
}
