package rules

import (
	"strconv"
	"strings"
)

// Context is the visitor's live state at evaluation time.
type Context struct {
	Page          string
	IntentScore   int
	IntentLevel   string
	VisitCount    int
	TrafficSource string
	Referrer      string
	Device        string
}

// Lookup resolves a rule field name. Unknown names are undefined (ok=false).
func (c Context) Lookup(field string) (string, bool) {
	switch strings.ToLower(field) {
	case "page", "currentpage", "url":
		return c.Page, true
	case "intentscore":
		return strconv.Itoa(c.IntentScore), true
	case "intentlevel":
		return c.IntentLevel, true
	case "visitcount":
		return strconv.Itoa(c.VisitCount), true
	case "trafficsource", "source", "utmsource":
		return c.TrafficSource, true
	case "referrer":
		return c.Referrer, true
	case "device", "devicetype":
		return c.Device, true
	default:
		return "", false
	}
}

// Matches reports whether ctx satisfies the rule set. An empty set matches.
func Matches(rs RuleSet, ctx Context) bool {
	return matchAll(rs.Operator, rs.Conditions, ctx)
}

func matchAll(op Combinator, list []Rule, ctx Context) bool {
	if len(list) == 0 {
		return true
	}

	anyOf := strings.EqualFold(string(op), string(Or))
	for _, r := range list {
		ok := r.matches(ctx)
		if anyOf && ok {
			return true
		}
		if !anyOf && !ok {
			return false
		}
	}
	return !anyOf
}

func (r Rule) matches(ctx Context) bool {
	switch {
	case r.Condition != nil:
		return r.Condition.Matches(ctx)
	case r.Group != nil:
		return matchAll(r.Group.Operator, r.Group.Rules, ctx)
	default:
		return true
	}
}

// Matches evaluates a single condition. Unknown operators pass.
func (c Condition) Matches(ctx Context) bool {
	actual, defined := ctx.Lookup(c.Field)
	expected := c.Value.String()

	switch Operator(strings.ToLower(string(c.Operator))) {
	case OpEquals:
		return defined && strings.EqualFold(actual, expected)
	case OpNotEquals:
		return !(defined && strings.EqualFold(actual, expected))
	case OpContains:
		return defined && containsFold(actual, expected)
	case OpNotContains:
		return !(defined && containsFold(actual, expected))
	case OpStartsWith:
		return defined && strings.HasPrefix(strings.ToLower(actual), strings.ToLower(expected))
	case OpGreaterThan:
		return compare(actual, expected, defined, func(a, b float64) bool { return a > b })
	case OpLessThan:
		return compare(actual, expected, defined, func(a, b float64) bool { return a < b })
	case OpGreaterOrEqual:
		return compare(actual, expected, defined, func(a, b float64) bool { return a >= b })
	case OpLessOrEqual:
		return compare(actual, expected, defined, func(a, b float64) bool { return a <= b })
	case OpIn:
		return defined && inList(actual, c.Value.List())
	case OpNotIn:
		return !(defined && inList(actual, c.Value.List()))
	case OpIsEmpty:
		return !defined || strings.TrimSpace(actual) == ""
	case OpIsNotEmpty:
		return defined && strings.TrimSpace(actual) != ""
	default:
		return true
	}
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// compare coerces both sides to numbers; a side that is not numeric fails
// the comparison.
func compare(actual, expected string, defined bool, cmp func(a, b float64) bool) bool {
	if !defined {
		return false
	}
	a, err := strconv.ParseFloat(strings.TrimSpace(actual), 64)
	if err != nil {
		return false
	}
	b, err := strconv.ParseFloat(strings.TrimSpace(expected), 64)
	if err != nil {
		return false
	}
	return cmp(a, b)
}

func inList(actual string, items []string) bool {
	for _, item := range items {
		if strings.EqualFold(strings.TrimSpace(item), actual) {
			return true
		}
	}
	return false
}
