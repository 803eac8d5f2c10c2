package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Feedback holds the schema definition for the Feedback entity.
type Feedback struct {
	ent.Schema
}

// Fields of the Feedback.
func (Feedback) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("feedback_id").
			Unique().
			Immutable(),
		field.String("run_id").
			Immutable(),
		field.Enum("feedback_type").
			Values("positive", "negative"),
		field.String("source").
			Comment("e.g. 'slack_reaction', 'dashboard', 'admin_api'"),
		field.String("user_id").
			Optional().
			Nillable(),
		field.String("correlation_id").
			Optional().
			Nillable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Indexes of the Feedback.
func (Feedback) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("run_id"),
		index.Fields("feedback_type"),
	}
}
