package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// TeamRoute holds one normalized identifier-kind/value pair that resolves to
// an (org, team). A team has many rows, one per value it owns within a kind.
// Refreshed whenever the orchestrator's config_patch provisioning step runs.
type TeamRoute struct {
	ent.Schema
}

// Fields of the TeamRoute.
func (TeamRoute) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("route_id").
			Unique().
			Immutable(),
		field.String("org").
			Immutable(),
		field.String("team").
			Immutable(),
		field.String("kind").
			Immutable().
			Comment("incidentio_team_id | pagerduty_service_id | slack_channel_id | github_repo | coralogix_team_name | incidentio_alert_source_id | service"),
		field.String("value").
			Immutable().
			Comment("normalized value: lowercased text for text kinds, verbatim for id kinds"),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Indexes of the TeamRoute.
func (TeamRoute) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("kind", "value"),
		index.Fields("org", "team"),
		// A given (kind, value) identifies at most one team within an org.
		index.Fields("org", "kind", "value").
			Unique(),
	}
}
