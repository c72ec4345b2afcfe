package memory

import (
	"fmt"
	"strings"
	"time"
)

// Operator is a comparison applied by a Condition.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNe       Operator = "ne"
	OpContains Operator = "contains"
	OpIn       Operator = "in"
	OpNotIn    Operator = "not_in"
	OpExists   Operator = "exists"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
)

// Logic combines the parts of a Filter.
type Logic string

const (
	And Logic = "and"
	Or  Logic = "or"
	// Not matches when no part matches.
	Not Logic = "not"
)

// Condition tests one field of a MemoryItem.
//
// Fields are memory_type, agent_id, run_id, user_id, content, created_at,
// updated_at and metadata.<key>. Ordering operators (gt, gte, lt, lte) only
// apply to the timestamp fields and take an RFC 3339 Value.
type Condition struct {
	Field  string   `json:"field" yaml:"field"`
	Op     Operator `json:"op" yaml:"op"`
	Value  string   `json:"value,omitempty" yaml:"value,omitempty"`
	Values []string `json:"values,omitempty" yaml:"values,omitempty"`
}

// Filter is a boolean combination of conditions and nested filters.
// The zero Filter matches everything.
type Filter struct {
	Logic      Logic       `json:"logic,omitempty" yaml:"logic,omitempty"`
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Nested     []Filter    `json:"nested,omitempty" yaml:"nested,omitempty"`
}

// Eq is shorthand for an equality condition.
func Eq(field, value string) Condition {
	return Condition{Field: field, Op: OpEq, Value: value}
}

// Contains is shorthand for a substring condition.
func Contains(field, value string) Condition {
	return Condition{Field: field, Op: OpContains, Value: value}
}

// In is shorthand for a membership condition.
func In(field string, values ...string) Condition {
	return Condition{Field: field, Op: OpIn, Values: values}
}

// Exists is shorthand for a presence condition.
func Exists(field string) Condition {
	return Condition{Field: field, Op: OpExists}
}

// All returns an AND filter over conds.
func All(conds ...Condition) *Filter {
	return &Filter{Logic: And, Conditions: conds}
}

// Any returns an OR filter over conds.
func Any(conds ...Condition) *Filter {
	return &Filter{Logic: Or, Conditions: conds}
}

// Validate checks operators, fields and timestamp values.
func (f *Filter) Validate() error {
	if f == nil {
		return nil
	}
	switch f.Logic {
	case "", And, Or, Not:
	default:
		return fmt.Errorf("unknown filter logic %q", f.Logic)
	}
	for _, c := range f.Conditions {
		if err := c.validate(); err != nil {
			return err
		}
	}
	for i := range f.Nested {
		if err := f.Nested[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c Condition) validate() error {
	if !knownField(c.Field) {
		return fmt.Errorf("unknown filter field %q", c.Field)
	}
	switch c.Op {
	case OpEq, OpNe, OpContains, OpIn, OpNotIn, OpExists:
		return nil
	case OpGt, OpGte, OpLt, OpLte:
		if c.Field != "created_at" && c.Field != "updated_at" {
			return fmt.Errorf("operator %s requires a timestamp field, got %q", c.Op, c.Field)
		}
		if _, err := time.Parse(time.RFC3339, c.Value); err != nil {
			return fmt.Errorf("parse %s bound: %w", c.Field, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown filter operator %q", c.Op)
	}
}

func knownField(field string) bool {
	switch field {
	case "memory_type", "agent_id", "run_id", "user_id", "content", "created_at", "updated_at":
		return true
	}
	return strings.HasPrefix(field, "metadata.") && len(field) > len("metadata.")
}

// Match reports whether item satisfies the filter. A nil filter matches.
func (f *Filter) Match(item *MemoryItem) bool {
	if f == nil {
		return true
	}
	results := make([]bool, 0, len(f.Conditions)+len(f.Nested))
	for _, c := range f.Conditions {
		results = append(results, c.Match(item))
	}
	for i := range f.Nested {
		results = append(results, f.Nested[i].Match(item))
	}

	switch f.Logic {
	case Or:
		for _, r := range results {
			if r {
				return true
			}
		}
		return len(results) == 0
	case Not:
		for _, r := range results {
			if r {
				return false
			}
		}
		return true
	default:
		for _, r := range results {
			if !r {
				return false
			}
		}
		return true
	}
}

// Match reports whether item satisfies the condition.
func (c Condition) Match(item *MemoryItem) bool {
	got, present := fieldValue(item, c.Field)
	switch c.Op {
	case OpExists:
		return present
	case OpEq:
		return present && got == c.Value
	case OpNe:
		return !present || got != c.Value
	case OpContains:
		return present && strings.Contains(got, c.Value)
	case OpIn:
		return present && containsString(c.Values, got)
	case OpNotIn:
		return !present || !containsString(c.Values, got)
	case OpGt, OpGte, OpLt, OpLte:
		return compareTime(item, c)
	default:
		return false
	}
}

func compareTime(item *MemoryItem, c Condition) bool {
	bound, err := time.Parse(time.RFC3339, c.Value)
	if err != nil {
		return false
	}
	ts := item.CreatedAt
	if c.Field == "updated_at" {
		ts = item.UpdatedAt
	}
	switch c.Op {
	case OpGt:
		return ts.After(bound)
	case OpGte:
		return !ts.Before(bound)
	case OpLt:
		return ts.Before(bound)
	case OpLte:
		return !ts.After(bound)
	}
	return false
}

func fieldValue(item *MemoryItem, field string) (string, bool) {
	switch field {
	case "memory_type":
		return item.MemoryType, item.MemoryType != ""
	case "agent_id":
		return item.AgentID, item.AgentID != ""
	case "run_id":
		return item.RunID, item.RunID != ""
	case "user_id":
		return item.UserID, item.UserID != ""
	case "content":
		return item.Content, true
	case "created_at":
		return item.CreatedAt.Format(time.RFC3339Nano), !item.CreatedAt.IsZero()
	case "updated_at":
		return item.UpdatedAt.Format(time.RFC3339Nano), !item.UpdatedAt.IsZero()
	}
	if key, ok := strings.CutPrefix(field, "metadata."); ok {
		v, present := item.Metadata[key]
		return v, present
	}
	return "", false
}

func containsString(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}

// String renders the filter as a readable expression.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	var parts []string
	for _, c := range f.Conditions {
		parts = append(parts, c.String())
	}
	for i := range f.Nested {
		parts = append(parts, "("+f.Nested[i].String()+")")
	}
	switch f.Logic {
	case Or:
		return strings.Join(parts, " OR ")
	case Not:
		return "NOT (" + strings.Join(parts, " OR ") + ")"
	default:
		return strings.Join(parts, " AND ")
	}
}

func (c Condition) String() string {
	switch c.Op {
	case OpExists:
		return c.Field + " exists"
	case OpIn, OpNotIn:
		quoted := make([]string, len(c.Values))
		for i, v := range c.Values {
			quoted[i] = fmt.Sprintf("%q", v)
		}
		return fmt.Sprintf("%s %s [%s]", c.Field, c.Op, strings.Join(quoted, ", "))
	default:
		return fmt.Sprintf("%s %s %q", c.Field, c.Op, c.Value)
	}
}
