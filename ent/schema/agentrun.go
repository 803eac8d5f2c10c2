package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// AgentRun holds the schema definition for the AgentRun entity: one row per
// agent invocation for a single user turn, created on start and completed
// exactly once. The stale-run sweeper may move a running row to timeout
// when it is older than the configured max age.
type AgentRun struct {
	ent.Schema
}

// Fields of the AgentRun.
func (AgentRun) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("run_id").
			Unique().
			Immutable(),
		field.String("org").
			Immutable(),
		field.String("team").
			Immutable(),
		field.String("correlation_id").
			Optional().
			Nillable().
			Immutable(),
		field.String("agent_name").
			Immutable(),
		field.Enum("status").
			Values("running", "completed", "failed", "timeout").
			Default("running"),
		field.String("trigger_source").
			Immutable().
			Comment("slack | webhook | admin_api"),
		field.String("trigger_actor").
			Optional().
			Nillable().
			Immutable(),
		field.Text("trigger_message").
			Optional().
			Nillable().
			Immutable(),
		field.String("trigger_channel").
			Optional().
			Nillable().
			Immutable(),
		field.Time("started_at").
			Default(time.Now),
		field.Time("completed_at").
			Optional().
			Nillable(),
		field.Float("duration_seconds").
			Optional().
			Nillable(),
		field.Int("tool_calls_count").
			Optional().
			Nillable(),
		field.Text("output_summary").
			Optional().
			Nillable(),
		field.Float("confidence").
			Optional().
			Nillable(),
		field.Text("error").
			Optional().
			Nillable(),
	}
}

// Indexes of the AgentRun.
func (AgentRun) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("org", "team", "started_at"),
		index.Fields("status", "started_at"),
		index.Fields("correlation_id"),
	}
}
