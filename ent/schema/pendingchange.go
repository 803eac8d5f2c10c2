package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// PendingChange holds the schema definition for the PendingChange entity.
// Idempotent by id: re-submitting the same id returns the existing row.
type PendingChange struct {
	ent.Schema
}

// Fields of the PendingChange.
func (PendingChange) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("change_id").
			Unique().
			Immutable(),
		field.String("org").
			Immutable(),
		field.String("node").
			Immutable().
			Comment("team node id the change applies to"),
		field.String("change_type").
			Immutable(),
		field.String("change_path").
			Optional().
			Nillable().
			Immutable(),
		field.JSON("proposed_value", map[string]interface{}{}),
		field.JSON("previous_value", map[string]interface{}{}).
			Optional(),
		field.String("requested_by").
			Immutable(),
		field.Text("reason").
			Optional().
			Nillable(),
		field.Enum("status").
			Values("pending", "approved", "rejected").
			Default("pending"),
		field.Time("requested_at").
			Default(time.Now).
			Immutable(),
	}
}

// Indexes of the PendingChange.
func (PendingChange) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("org", "node"),
		index.Fields("status"),
	}
}
