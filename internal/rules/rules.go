// Package rules matches a visitor's live context against a campaign's
// trigger-rule set.
//
// The stored format is a flat list of conditions joined by one combinator:
//
//	{"conditions": [{"field": "visitCount", "operator": "greater_than", "value": 1}], "operator": "AND"}
//
// Each entry decodes into a Rule, a tagged variant holding either a Condition
// or a Group. Only conditions are written today; Group keeps the stored format
// open to nesting without a migration.
package rules

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type Combinator string

const (
	And Combinator = "AND"
	Or  Combinator = "OR"
)

type Operator string

const (
	OpEquals         Operator = "equals"
	OpNotEquals      Operator = "not_equals"
	OpContains       Operator = "contains"
	OpNotContains    Operator = "not_contains"
	OpStartsWith     Operator = "starts_with"
	OpGreaterThan    Operator = "greater_than"
	OpLessThan       Operator = "less_than"
	OpGreaterOrEqual Operator = "greater_or_equal"
	OpLessOrEqual    Operator = "less_or_equal"
	OpIn             Operator = "in"
	OpNotIn          Operator = "not_in"
	OpIsEmpty        Operator = "is_empty"
	OpIsNotEmpty     Operator = "is_not_empty"
)

var ErrNestedGroup = errors.New("nested rule groups are not supported")

// Condition compares one context field against Value.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    Value    `json:"value"`
}

// Group joins its rules with a single combinator.
type Group struct {
	Operator Combinator `json:"operator"`
	Rules    []Rule     `json:"conditions"`
}

// Rule holds exactly one of Condition or Group.
type Rule struct {
	Condition *Condition
	Group     *Group
}

// RuleSet is the persisted trigger-rule field of a campaign. The zero value
// matches everyone.
type RuleSet struct {
	Conditions []Rule     `json:"conditions"`
	Operator   Combinator `json:"operator"`
}

func When(c Condition) Rule {
	return Rule{Condition: &c}
}

func NewRuleSet(op Combinator, conditions ...Condition) RuleSet {
	rs := RuleSet{Operator: op}
	for _, c := range conditions {
		rs.Conditions = append(rs.Conditions, When(c))
	}
	return rs
}

func (r Rule) MarshalJSON() ([]byte, error) {
	switch {
	case r.Condition != nil:
		return json.Marshal(r.Condition)
	case r.Group != nil:
		return json.Marshal(r.Group)
	default:
		return []byte("null"), nil
	}
}

func (r *Rule) UnmarshalJSON(data []byte) error {
	var peek map[string]json.RawMessage
	if err := json.Unmarshal(data, &peek); err != nil {
		return fmt.Errorf("rule must be an object: %w", err)
	}

	if _, ok := peek["conditions"]; ok {
		var g Group
		if err := json.Unmarshal(data, &g); err != nil {
			return err
		}
		r.Group = &g
		return nil
	}

	var c Condition
	if err := json.Unmarshal(data, &c); err != nil {
		return err
	}
	r.Condition = &c
	return nil
}

// Validate rejects shapes the product does not support yet.
func (rs RuleSet) Validate() error {
	for i, r := range rs.Conditions {
		if r.Group != nil {
			return fmt.Errorf("conditions[%d]: %w", i, ErrNestedGroup)
		}
		if r.Condition == nil {
			return fmt.Errorf("conditions[%d]: empty rule", i)
		}
		if r.Condition.Field == "" {
			return fmt.Errorf("conditions[%d]: field is required", i)
		}
	}
	return nil
}

// Scan implements sql.Scanner for JSONB columns.
func (rs *RuleSet) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*rs = RuleSet{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported trigger rules type %T", src)
	}

	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*rs = RuleSet{}
		return nil
	}
	return json.Unmarshal(data, rs)
}

// Value implements driver.Valuer for JSONB columns.
func (rs RuleSet) Value() (driver.Value, error) {
	if rs.Conditions == nil {
		rs.Conditions = []Rule{}
	}
	if rs.Operator == "" {
		rs.Operator = And
	}
	return json.Marshal(rs)
}

// Value is a condition operand: a scalar or a list. Numbers and booleans are
// kept in their JSON text form.
type Value struct {
	scalar string
	list   []string
	isList bool
}

func StringValue(s string) Value {
	return Value{scalar: s}
}

func NumberValue(n float64) Value {
	return Value{scalar: strconv.FormatFloat(n, 'f', -1, 64)}
}

func ListValue(items ...string) Value {
	return Value{list: items, isList: true}
}

func (v Value) String() string {
	if v.isList {
		return strings.Join(v.list, ",")
	}
	return v.scalar
}

// List returns list operands; a scalar is split on commas.
func (v Value) List() []string {
	if v.isList {
		return v.list
	}
	var items []string
	for _, part := range strings.Split(v.scalar, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.isList {
		return json.Marshal(v.list)
	}
	return json.Marshal(v.scalar)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Value{}
		return nil
	}

	switch data[0] {
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		items := make([]string, 0, len(raw))
		for _, item := range raw {
			s, err := scalarText(item)
			if err != nil {
				return err
			}
			items = append(items, s)
		}
		*v = Value{list: items, isList: true}
	default:
		s, err := scalarText(data)
		if err != nil {
			return err
		}
		*v = Value{scalar: s}
	}
	return nil
}

func scalarText(data json.RawMessage) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	if len(data) > 0 && (data[0] == '{' || data[0] == '[') {
		return "", fmt.Errorf("unsupported operand %s", data)
	}
	if bytes.Equal(data, []byte("null")) {
		return "", nil
	}
	return string(data), nil
}
