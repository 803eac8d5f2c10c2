package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// TeamToken holds the long-lived token minted by the team_token provisioning
// step, used by the in-cluster agent to call back into the control plane
// (gateway connect, agent run). A team keeps at most one active (non-revoked)
// token at a time; the step that mints it never returns the raw value again
// after the initial response, only this row's metadata.
type TeamToken struct {
	ent.Schema
}

// Fields of the TeamToken.
func (TeamToken) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("token_id").
			Unique().
			Immutable(),
		field.String("org").
			Immutable(),
		field.String("team").
			Immutable(),
		field.String("token_hash").
			Immutable().
			Sensitive().
			Comment("SHA-256 of the minted token; the raw value is never persisted"),
		field.Bool("revoked").
			Default(false),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("revoked_at").
			Optional().
			Nillable(),
	}
}

// Indexes of the TeamToken.
func (TeamToken) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("org", "team", "revoked"),
	}
}
