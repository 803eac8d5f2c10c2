package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// SlackInstallation holds the schema definition for a Slack app installation.
// Upserted on (app_slug?, enterprise_id?, team_id, user_id?).
type SlackInstallation struct {
	ent.Schema
}

// Fields of the SlackInstallation.
func (SlackInstallation) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("installation_id").
			Unique().
			Immutable(),
		field.String("app_slug").
			Optional().
			Nillable(),
		field.String("enterprise_id").
			Optional().
			Nillable(),
		field.String("team_id"),
		field.String("user_id").
			Optional().
			Nillable(),
		field.Text("bot_token").
			Comment("encrypted at rest by the credential store, never logged"),
		field.String("org").
			Optional().
			Nillable(),
		field.String("team").
			Optional().
			Nillable(),
		field.Time("installed_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Indexes of the SlackInstallation.
func (SlackInstallation) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("app_slug", "enterprise_id", "team_id", "user_id").
			Unique(),
		index.Fields("org", "team"),
	}
}

// GitHubInstallation holds the schema definition for a GitHub App installation.
// A GitHub installation may be linked by account_login to (org, team) and
// must not be dual-linked.
type GitHubInstallation struct {
	ent.Schema
}

// Fields of the GitHubInstallation.
func (GitHubInstallation) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("installation_id").
			Unique().
			Immutable(),
		field.String("account_login").
			Immutable(),
		field.String("org").
			Optional().
			Nillable(),
		field.String("team").
			Optional().
			Nillable(),
		field.Time("installed_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Indexes of the GitHubInstallation.
func (GitHubInstallation) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("account_login").
			Unique(),
		// A (org, team) can have at most one linked GitHub installation —
		// enforces the "must not be dual-linked" invariant from the other
		// direction.
		index.Fields("org", "team").
			Unique(),
	}
}
