package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func filterItem() *MemoryItem {
	created := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	return &MemoryItem{
		ID:         "m1",
		UserID:     "alice",
		AgentID:    "planner",
		Content:    "booked a flight to Oslo",
		MemoryType: "episodic",
		CreatedAt:  created,
		UpdatedAt:  created.Add(48 * time.Hour),
		Metadata:   map[string]string{"topic": "travel"},
	}
}

func TestConditionMatch(t *testing.T) {
	item := filterItem()
	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"eq", Eq("memory_type", "episodic"), true},
		{"eq miss", Eq("memory_type", "semantic"), false},
		{"ne", Condition{Field: "agent_id", Op: OpNe, Value: "other"}, true},
		{"ne absent field", Condition{Field: "run_id", Op: OpNe, Value: "r1"}, true},
		{"contains", Contains("content", "Oslo"), true},
		{"in", In("metadata.topic", "food", "travel"), true},
		{"not in", Condition{Field: "metadata.topic", Op: OpNotIn, Values: []string{"travel"}}, false},
		{"exists", Exists("agent_id"), true},
		{"exists absent", Exists("run_id"), false},
		{"exists metadata", Exists("metadata.mood"), false},
		{"gt", Condition{Field: "created_at", Op: OpGt, Value: "2024-05-31T00:00:00Z"}, true},
		{"gte boundary", Condition{Field: "created_at", Op: OpGte, Value: "2024-06-01T10:00:00Z"}, true},
		{"lt", Condition{Field: "updated_at", Op: OpLt, Value: "2024-06-02T00:00:00Z"}, false},
		{"lte", Condition{Field: "updated_at", Op: OpLte, Value: "2024-06-03T10:00:00Z"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cond.Match(item))
		})
	}
}

func TestFilterLogic(t *testing.T) {
	item := filterItem()

	var nilFilter *Filter
	assert.True(t, nilFilter.Match(item))
	assert.True(t, (&Filter{}).Match(item))

	assert.True(t, All(Eq("user_id", "alice"), Eq("metadata.topic", "travel")).Match(item))
	assert.False(t, All(Eq("user_id", "alice"), Eq("metadata.topic", "food")).Match(item))
	assert.True(t, Any(Eq("metadata.topic", "food"), Eq("agent_id", "planner")).Match(item))
	assert.False(t, (&Filter{Logic: Not, Conditions: []Condition{Eq("memory_type", "episodic")}}).Match(item))

	nested := &Filter{
		Logic:      And,
		Conditions: []Condition{Eq("user_id", "alice")},
		Nested: []Filter{
			{Logic: Or, Conditions: []Condition{Eq("memory_type", "semantic"), Contains("content", "flight")}},
		},
	}
	assert.True(t, nested.Match(item))
	assert.Equal(t, `user_id eq "alice" AND (memory_type eq "semantic" OR content contains "flight")`, nested.String())
}

func TestFilterValidate(t *testing.T) {
	valid := All(Eq("metadata.topic", "travel"), Condition{Field: "created_at", Op: OpGt, Value: "2024-01-01T00:00:00Z"})
	assert.NoError(t, valid.Validate())

	var nilFilter *Filter
	assert.NoError(t, nilFilter.Validate())

	invalid := []*Filter{
		All(Eq("colour", "red")),
		All(Eq("metadata.", "x")),
		All(Condition{Field: "content", Op: "like", Value: "x"}),
		All(Condition{Field: "content", Op: OpGt, Value: "2024-01-01T00:00:00Z"}),
		All(Condition{Field: "created_at", Op: OpLt, Value: "yesterday"}),
		{Logic: "xor"},
		{Nested: []Filter{{Conditions: []Condition{Eq("bogus", "x")}}}},
	}
	for _, f := range invalid {
		assert.Error(t, f.Validate(), f.String())
	}
}
