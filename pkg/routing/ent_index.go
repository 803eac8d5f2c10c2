package routing

import (
	"context"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/incidentfox/ifox-core/ent"
	"github.com/incidentfox/ifox-core/ent/teamroute"
)

// EntIndex is the Index implementation backed by the TeamRoute ent table.
type EntIndex struct {
	client *ent.Client
}

// NewEntIndex wraps an ent client as a routing Index.
func NewEntIndex(client *ent.Client) *EntIndex {
	return &EntIndex{client: client}
}

// Find implements Index.
func (i *EntIndex) Find(ctx context.Context, org, kind, normalizedValue string) (string, string, bool, error) {
	q := i.client.TeamRoute.Query().
		Where(teamroute.KindEQ(kind), teamroute.ValueEQ(normalizedValue))
	if org != "" {
		q = q.Where(teamroute.OrgEQ(org))
	}
	// Stable tie-break: first team encountered, ordered by primary key.
	q = q.Order(ent.Asc(teamroute.FieldID))

	row, err := q.First(ctx)
	if ent.IsNotFound(err) {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, fmt.Errorf("query team route: %w", err)
	}
	return row.Org, row.Team, true, nil
}

// ReplaceTeamRoutes atomically replaces every route row for (org, team) with
// the given normalized indices, derived from the team's effective routing
// config. Called by the orchestrator's config_patch provisioning step.
func ReplaceTeamRoutes(ctx context.Context, client *ent.Client, org, team string, indices map[Kind][]string) error {
	tx, err := client.Tx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if _, err := tx.TeamRoute.Delete().
		Where(teamroute.OrgEQ(org), teamroute.TeamEQ(team)).
		Exec(ctx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear existing routes: %w", err)
	}

	for kind, values := range indices {
		for _, raw := range values {
			value := Normalize(kind, raw)
			id := fmt.Sprintf("%s:%s:%s:%s", org, team, kind, value)
			if err := tx.TeamRoute.Create().
				SetID(id).
				SetOrg(org).
				SetTeam(team).
				SetKind(string(kind)).
				SetValue(value).
				OnConflict(entsql.ConflictColumns(teamroute.FieldOrg, teamroute.FieldKind, teamroute.FieldValue)).
				UpdateNewValues().
				Exec(ctx); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("insert route %s/%s=%s: %w", org, kind, value, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
