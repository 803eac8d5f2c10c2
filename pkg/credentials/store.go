// Package credentials resolves per-team integration credentials and
// enforces trial/subscription eligibility, fronted by a short TTL cache so
// the hot path (every tool call an agent makes) doesn't round-trip to the
// config service.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/incidentfox/ifox-core/pkg/configclient"
)

// cacheTTL mirrors the config client's effective-config cache window.
const cacheTTL = 5 * time.Minute

// ErrIntegrationNotConfigured is returned when a team has no configuration
// for the requested integration at all.
var ErrIntegrationNotConfigured = errors.New("integration not configured for team")

// ErrTrialExpired is returned when a team's trial credential for an
// integration has lapsed and no paid subscription has replaced it.
var ErrTrialExpired = errors.New("integration trial has expired")

// Credential is a resolved integration credential ready to hand to a tool.
type Credential struct {
	Integration string
	APIKey      string
	IsTrial     bool
}

// ConfigSource is the subset of configclient.Client this package depends
// on, narrowed so tests can fake it without standing up HTTP.
type ConfigSource interface {
	GetEffectiveConfig(ctx context.Context, org, team string) (*configclient.TeamConfig, error)
}

// Store resolves and caches team integration credentials.
type Store struct {
	config ConfigSource
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	cred      Credential
	expiresAt time.Time
}

// New creates a Store backed by the given config source.
func New(config ConfigSource) *Store {
	return &Store{
		config: config,
		now:    time.Now,
		cache:  make(map[string]cacheEntry),
	}
}

func key(org, team, integration string) string { return org + "/" + team + "/" + integration }

// Resolve returns the credential a tool should use for (org, team,
// integration), enforcing trial expiry. A team whose trial lapsed without a
// paid subscription gets ErrTrialExpired rather than a silently stale key.
func (s *Store) Resolve(ctx context.Context, org, team, integration string) (Credential, error) {
	k := key(org, team, integration)

	s.mu.Lock()
	if e, ok := s.cache[k]; ok && s.now().Before(e.expiresAt) {
		s.mu.Unlock()
		return e.cred, nil
	}
	s.mu.Unlock()

	cfg, err := s.config.GetEffectiveConfig(ctx, org, team)
	if err != nil {
		return Credential{}, fmt.Errorf("resolve credential for %s/%s/%s: %w", org, team, integration, err)
	}

	ic, ok := cfg.Integrations[integration]
	if !ok {
		return Credential{}, fmt.Errorf("%s: %w", integration, ErrIntegrationNotConfigured)
	}

	if ic.IsTrial && ic.TrialExpiresAt != nil && s.now().After(*ic.TrialExpiresAt) {
		return Credential{}, fmt.Errorf("%s: %w", integration, ErrTrialExpired)
	}

	cred := Credential{Integration: integration, APIKey: ic.APIKey, IsTrial: ic.IsTrial}

	s.mu.Lock()
	s.cache[k] = cacheEntry{cred: cred, expiresAt: s.now().Add(cacheTTL)}
	s.mu.Unlock()

	return cred, nil
}

// TeamModel returns the team's configured LLM model override, or "" when
// the team has none. Uses the same effective-config read (and its cache)
// as credential resolution.
func (s *Store) TeamModel(ctx context.Context, org, team string) string {
	cfg, err := s.config.GetEffectiveConfig(ctx, org, team)
	if err != nil {
		return ""
	}
	return cfg.LLM.Model
}

// IsTrialEligible reports whether a team may start a new trial for
// integration: true when the integration has never been configured, or was
// configured as a trial that has since expired without a paid subscription
// taking over.
func (s *Store) IsTrialEligible(ctx context.Context, org, team, integration string) (bool, error) {
	cfg, err := s.config.GetEffectiveConfig(ctx, org, team)
	if err != nil {
		return false, fmt.Errorf("check trial eligibility for %s/%s/%s: %w", org, team, integration, err)
	}

	ic, configured := cfg.Integrations[integration]
	if !configured {
		return true, nil
	}
	if ic.SubscriptionStatus == "active" {
		return false, nil
	}
	if !ic.IsTrial {
		return false, nil
	}
	// Already trialing and not yet expired: not eligible for a new trial.
	if ic.TrialExpiresAt == nil || s.now().Before(*ic.TrialExpiresAt) {
		return false, nil
	}
	return true, nil
}

// InvalidateCache drops the cached credential for (org, team, integration),
// called after a credential rotation so the next Resolve re-fetches.
func (s *Store) InvalidateCache(org, team, integration string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, key(org, team, integration))
}
