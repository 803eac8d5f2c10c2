// Package teamtoken persists the long-lived token minted by the
// orchestrator's team_token provisioning step and enforces the "at most one
// non-revoked token per team" invariant from spec.md §4.E step 5.
package teamtoken

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/incidentfox/ifox-core/ent"
	"github.com/incidentfox/ifox-core/ent/teamtoken"
)

// Store persists team tokens by hash; the raw token value is never stored,
// matching the team_token step's "return it once in the response" contract.
type Store struct {
	client *ent.Client
}

// New creates a Store.
func New(client *ent.Client) *Store {
	return &Store{client: client}
}

func hash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// HasActiveToken reports whether (org, team) already holds a non-revoked
// token, implementing orchestrator.NewTeamTokenStep's "don't mint twice"
// precondition.
func (s *Store) HasActiveToken(ctx context.Context, org, team string) (bool, error) {
	count, err := s.client.TeamToken.Query().
		Where(teamtoken.OrgEQ(org), teamtoken.TeamEQ(team), teamtoken.RevokedEQ(false)).
		Count(ctx)
	if err != nil {
		return false, fmt.Errorf("count active team tokens for %s/%s: %w", org, team, err)
	}
	return count > 0, nil
}

// StoreTeamToken implements orchestrator.TeamTokenStore: it records the hash
// of a freshly minted token as the team's new active token.
func (s *Store) StoreTeamToken(ctx context.Context, org, team, token string) error {
	_, err := s.client.TeamToken.Create().
		SetID(uuid.NewString()).
		SetOrg(org).
		SetTeam(team).
		SetTokenHash(hash(token)).
		Save(ctx)
	if err != nil {
		return fmt.Errorf("store team token for %s/%s: %w", org, team, err)
	}
	return nil
}

// Revoke marks every active token for (org, team) as revoked, used by
// deprovisioning to invalidate the in-cluster agent's credentials.
func (s *Store) Revoke(ctx context.Context, org, team string) error {
	_, err := s.client.TeamToken.Update().
		Where(teamtoken.OrgEQ(org), teamtoken.TeamEQ(team), teamtoken.RevokedEQ(false)).
		SetRevoked(true).
		Save(ctx)
	if err != nil {
		return fmt.Errorf("revoke team tokens for %s/%s: %w", org, team, err)
	}
	return nil
}
