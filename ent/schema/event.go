package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Event holds the schema definition for the Event entity: one persisted
// dashboard event per row, keyed by an auto-increment id so reconnecting
// WebSocket clients can catch up from their last seen id per channel.
type Event struct {
	ent.Schema
}

// Fields of the Event.
func (Event) Fields() []ent.Field {
	return []ent.Field{
		field.String("run_id").
			Optional().
			Comment("owning agent run, empty for thread/global events"),
		field.String("channel").
			Comment("delivery channel, e.g. run:<id>, thread:<id>, runs"),
		field.JSON("payload", map[string]interface{}{}),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Indexes of the Event.
func (Event) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("channel", "id"),
		index.Fields("run_id"),
		index.Fields("created_at"),
	}
}
