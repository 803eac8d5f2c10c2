// Package routing resolves external identifiers (Slack channel, GitHub repo,
// PagerDuty service, ...) to the (org, team) that owns them.
package routing

import (
	"context"
	"fmt"
	"strings"
)

// Kind identifies the category of an external identifier. The ordering of
// kindPriority below, not the order callers pass identifiers in, decides
// lookup priority.
type Kind string

// The fixed set of identifier kinds, in lookup priority order (highest
// first). This order is part of the routing contract — callers must not
// assume their own priority takes effect.
const (
	KindIncidentioTeamID        Kind = "incidentio_team_id"
	KindPagerdutyServiceID      Kind = "pagerduty_service_id"
	KindSlackChannelID          Kind = "slack_channel_id"
	KindGithubRepo              Kind = "github_repo"
	KindCoralogixTeamName       Kind = "coralogix_team_name"
	KindIncidentioAlertSourceID Kind = "incidentio_alert_source_id"
	KindService                 Kind = "service"
)

// kindPriority is the fixed iteration order for Lookup. Declared once so
// every call site (including tests asserting S2/S3 of the testable
// properties) observes the same order.
var kindPriority = []Kind{
	KindIncidentioTeamID,
	KindPagerdutyServiceID,
	KindSlackChannelID,
	KindGithubRepo,
	KindCoralogixTeamName,
	KindIncidentioAlertSourceID,
	KindService,
}

// textKinds normalize to lowercase; id kinds are compared verbatim.
var textKinds = map[Kind]bool{
	KindCoralogixTeamName: true,
	KindGithubRepo:        true,
}

// Normalize applies the kind's comparison rule to a raw identifier value.
func Normalize(kind Kind, value string) string {
	if textKinds[kind] {
		return strings.ToLower(strings.TrimSpace(value))
	}
	return strings.TrimSpace(value)
}

// Index is a read side for team routing rows. An implementation typically
// wraps the TeamRoute ent table, scoped by org when provided.
type Index interface {
	// Find returns the (org, team) owning the normalized (kind, value)
	// pair, optionally scoped to org. ok is false if no team owns it.
	Find(ctx context.Context, org, kind, normalizedValue string) (foundOrg, team string, ok bool, err error)
}

// Query is the input to Lookup: an optional org scope and a set of
// identifiers keyed by kind, in whatever order the caller happened to
// populate them — Lookup ignores map iteration order and always tries kinds
// in kindPriority order.
type Query struct {
	Org         string
	Identifiers map[Kind]string
}

// Result is the outcome of a Lookup call.
type Result struct {
	Found        bool
	Org          string
	Team         string
	MatchedBy    Kind
	MatchedValue string
	// Tried lists every kind Lookup attempted, in the order attempted,
	// whether or not it matched.
	Tried []Kind
}

// Lookup resolves a Query against idx, iterating kinds in kindPriority
// order. Only kinds present in q.Identifiers are attempted. The first kind
// whose normalized value resolves to a team wins; ties within a kind are
// broken by idx.Find's own stable ordering (first team encountered).
func Lookup(ctx context.Context, idx Index, q Query) (Result, error) {
	res := Result{Tried: make([]Kind, 0, len(q.Identifiers))}

	for _, kind := range kindPriority {
		raw, present := q.Identifiers[kind]
		if !present {
			continue
		}
		res.Tried = append(res.Tried, kind)

		normalized := Normalize(kind, raw)
		org, team, ok, err := idx.Find(ctx, q.Org, string(kind), normalized)
		if err != nil {
			return res, fmt.Errorf("routing lookup failed for kind %q: %w", kind, err)
		}
		if ok {
			res.Found = true
			res.Org = org
			res.Team = team
			res.MatchedBy = kind
			res.MatchedValue = normalized
			return res, nil
		}
	}

	return res, nil
}
