package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// ToolCall holds the schema definition for the ToolCall entity. Unlike
// MCPInteraction (written incrementally for the debug tab), ToolCall rows are
// persisted as a single batch after the run completes, ordered by
// sequence_number, mirroring the pb/wire shape the Agent Session's tool
// executor already produces per invocation.
type ToolCall struct {
	ent.Schema
}

// Fields of the ToolCall.
func (ToolCall) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("tool_call_id").
			Unique().
			Immutable(),
		field.String("run_id").
			Immutable(),
		field.String("tool_name").
			Immutable(),
		field.String("agent_name").
			Optional().
			Nillable().
			Immutable(),
		field.String("parent_agent").
			Optional().
			Nillable().
			Immutable(),
		field.JSON("input", map[string]interface{}{}).
			Optional(),
		field.JSON("output", map[string]interface{}{}).
			Optional(),
		field.Time("started_at").
			Immutable(),
		field.Int("duration_ms").
			Optional().
			Nillable(),
		field.Enum("status").
			Values("success", "error"),
		field.Int("sequence_number").
			Immutable(),
	}
}

// Indexes of the ToolCall.
func (ToolCall) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("run_id", "sequence_number"),
	}
}
