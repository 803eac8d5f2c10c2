// Package installations links Slack and GitHub App installations to the
// (org, team) that owns them, enforcing that a GitHub installation is never
// linked to more than one team at a time.
package installations

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/incidentfox/ifox-core/ent"
	"github.com/incidentfox/ifox-core/ent/githubinstallation"
	"github.com/incidentfox/ifox-core/ent/slackinstallation"
)

// ErrAlreadyLinkedElsewhere is returned when a GitHub installation is
// already linked to a different (org, team) than the one requested.
var ErrAlreadyLinkedElsewhere = errors.New("installation is already linked to a different team")

// Store manages Slack and GitHub installation rows.
type Store struct {
	client *ent.Client
}

// New creates an installation Store.
func New(client *ent.Client) *Store {
	return &Store{client: client}
}

// UpsertSlack creates or updates a Slack installation row, optionally
// linking it to (org, team). Called by the slack_channel_map provisioning
// step after OAuth completes.
func (s *Store) UpsertSlack(ctx context.Context, appSlug, enterpriseID, teamID, userID, botToken, org, team string) (*ent.SlackInstallation, error) {
	existing, err := s.client.SlackInstallation.Query().
		Where(
			slackinstallation.AppSlugEQ(appSlug),
			slackinstallation.EnterpriseIDEQ(enterpriseID),
			slackinstallation.TeamIDEQ(teamID),
			slackinstallation.UserIDEQ(userID),
		).
		Only(ctx)

	switch {
	case ent.IsNotFound(err):
		create := s.client.SlackInstallation.Create().
			SetID(uuid.NewString()).
			SetTeamID(teamID).
			SetBotToken(botToken)
		if appSlug != "" {
			create = create.SetAppSlug(appSlug)
		}
		if enterpriseID != "" {
			create = create.SetEnterpriseID(enterpriseID)
		}
		if userID != "" {
			create = create.SetUserID(userID)
		}
		if org != "" {
			create = create.SetOrg(org)
		}
		if team != "" {
			create = create.SetTeam(team)
		}
		row, err := create.Save(ctx)
		if err != nil {
			return nil, fmt.Errorf("create slack installation: %w", err)
		}
		return row, nil
	case err != nil:
		return nil, fmt.Errorf("look up slack installation: %w", err)
	default:
		update := existing.Update().SetBotToken(botToken)
		if org != "" {
			update = update.SetOrg(org)
		}
		if team != "" {
			update = update.SetTeam(team)
		}
		row, err := update.Save(ctx)
		if err != nil {
			return nil, fmt.Errorf("update slack installation: %w", err)
		}
		return row, nil
	}
}

// LinkGitHub links a GitHub App installation (identified by its account
// login) to (org, team), refusing to move an installation that is already
// linked to a different team — the spec's "must not be dual-linked"
// invariant.
func (s *Store) LinkGitHub(ctx context.Context, accountLogin, org, team string) (*ent.GitHubInstallation, error) {
	existing, err := s.client.GitHubInstallation.Query().
		Where(githubinstallation.AccountLoginEQ(accountLogin)).
		Only(ctx)

	if ent.IsNotFound(err) {
		row, err := s.client.GitHubInstallation.Create().
			SetID(uuid.NewString()).
			SetAccountLogin(accountLogin).
			SetOrg(org).
			SetTeam(team).
			Save(ctx)
		if err != nil {
			return nil, fmt.Errorf("create github installation: %w", err)
		}
		return row, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up github installation: %w", err)
	}

	linkedOrg, linkedTeam := "", ""
	if existing.Org != nil {
		linkedOrg = *existing.Org
	}
	if existing.Team != nil {
		linkedTeam = *existing.Team
	}
	if (linkedOrg != "" || linkedTeam != "") && (linkedOrg != org || linkedTeam != team) {
		return nil, fmt.Errorf("%s linked to %s/%s: %w", accountLogin, linkedOrg, linkedTeam, ErrAlreadyLinkedElsewhere)
	}

	row, err := existing.Update().SetOrg(org).SetTeam(team).Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("update github installation link: %w", err)
	}
	return row, nil
}

// LinkWorkspace attributes every installation for a Slack workspace
// (team_id) to (org, team), so later webhooks from that workspace carry
// their attribution without a config-service round trip.
func (s *Store) LinkWorkspace(ctx context.Context, workspaceID, org, team string) error {
	rows, err := s.client.SlackInstallation.Query().
		Where(slackinstallation.TeamID(workspaceID)).
		All(ctx)
	if err != nil {
		return fmt.Errorf("query slack installations for workspace %s: %w", workspaceID, err)
	}
	for _, row := range rows {
		if _, err := row.Update().SetOrg(org).SetTeam(team).Save(ctx); err != nil {
			return fmt.Errorf("link slack installation %s to %s/%s: %w", row.ID, org, team, err)
		}
	}
	return nil
}
