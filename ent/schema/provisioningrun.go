package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// ProvisioningRun holds the schema definition for the ProvisioningRun entity.
// One row per provision_team invocation; mutated only by the owning request.
type ProvisioningRun struct {
	ent.Schema
}

// Fields of the ProvisioningRun.
func (ProvisioningRun) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("run_id").
			Unique().
			Immutable(),
		field.String("org_id").
			Immutable(),
		field.String("team_node_id").
			Immutable(),
		field.String("idempotency_key").
			Optional().
			Nillable().
			Immutable(),
		field.Enum("status").
			Values("running", "succeeded", "failed").
			Default("running"),
		field.JSON("steps", map[string]interface{}{}).
			Optional().
			Comment("step name -> {ok, details}, populated incrementally"),
		field.Text("error").
			Optional().
			Nillable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Indexes of the ProvisioningRun.
func (ProvisioningRun) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("org_id", "team_node_id", "status"),
		// At most one non-terminal run per (org, team, idempotency_key).
		index.Fields("org_id", "team_node_id", "idempotency_key").
			Unique().
			Annotations(entsql.IndexWhere("status = 'running' AND idempotency_key IS NOT NULL")),
	}
}
