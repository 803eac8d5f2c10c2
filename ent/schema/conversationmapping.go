package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// ConversationMapping holds the schema definition for the ConversationMapping
// entity. Upsert semantics: one current mapping per session_id.
type ConversationMapping struct {
	ent.Schema
}

// Fields of the ConversationMapping.
func (ConversationMapping) Fields() []ent.Field {
	return []ent.Field{
		field.String("session_id").
			StorageKey("session_id").
			Unique().
			Immutable(),
		field.String("external_conversation_id"),
		field.String("session_type").
			Comment("e.g. 'slack_thread', 'github_issue'"),
		field.String("org").
			Optional().
			Nillable(),
		field.String("team").
			Optional().
			Nillable(),
		field.Time("last_used_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Indexes of the ConversationMapping.
func (ConversationMapping) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("external_conversation_id"),
		index.Fields("org", "team"),
	}
}
