package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/incidentfox/ifox-core/ent"
	"github.com/incidentfox/ifox-core/ent/provisioningrun"
	"github.com/incidentfox/ifox-core/pkg/configclient"
)

// newTestOrchestrator boots a disposable Postgres container and returns an
// ent client plus the raw *sql.DB the advisory lock needs, mirroring
// pkg/database's own testcontainers setup.
func newTestOrchestrator(t *testing.T, steps ...Step) (*Orchestrator, *ent.Client) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(pgContainer) })

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	drv, err := entsql.Open(dialect.Postgres, connStr)
	require.NoError(t, err)

	client := ent.NewClient(ent.Driver(drv))
	require.NoError(t, client.Schema.Create(ctx))
	t.Cleanup(func() { _ = client.Close() })

	return New(client, drv.DB(), nil, steps...), client
}

type recordingStep struct {
	name  StepName
	calls int32
	fail  bool
}

func (s *recordingStep) Name() StepName { return s.name }

func (s *recordingStep) Run(_ context.Context, _ *ProvisionRequest, _ *ProvisionResult) (StepResult, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.fail {
		return StepResult{}, assert.AnError
	}
	return StepResult{OK: true}, nil
}

func TestProvision_SameIdempotencyKeyReturnsSnapshotWithoutReExecuting(t *testing.T) {
	step := &recordingStep{name: StepConfigPatch}
	orch, _ := newTestOrchestrator(t, step)

	req := &ProvisionRequest{Org: "org1", Team: "team1", IdempotencyKey: "req-1"}
	res1, err := orch.Provision(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, int(step.calls))
	assert.False(t, res1.Replayed)
	assert.Equal(t, provisioningrun.StatusSucceeded, res1.Run.Status)

	res2, err := orch.Provision(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, res1.Run.ID, res2.Run.ID, "same key returns the same run")
	assert.True(t, res2.Replayed)
	assert.Equal(t, 1, int(step.calls), "replay must not re-execute steps")
}

func TestProvision_FailedRunIsReturnedAsSnapshotOnRetryWithSameKey(t *testing.T) {
	okStep := &recordingStep{name: StepConfigPatch}
	failStep := &recordingStep{name: StepSlackChannelMap, fail: true}
	orch, client := newTestOrchestrator(t, okStep, failStep)

	req := &ProvisionRequest{Org: "org1", Team: "team1", IdempotencyKey: "req-1"}
	res, err := orch.Provision(context.Background(), req)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, provisioningrun.StatusFailed, res.Run.Status)
	assert.Equal(t, 1, int(okStep.calls))
	assert.Equal(t, 1, int(failStep.calls))

	// A failed run is terminal: the same key replays its snapshot and
	// nothing re-executes. A retry needs a fresh key.
	failStep.fail = false
	res2, err := orch.Provision(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res2.Replayed)
	assert.Equal(t, res.Run.ID, res2.Run.ID)
	assert.Equal(t, 1, int(okStep.calls))
	assert.Equal(t, 1, int(failStep.calls))

	res3, err := orch.Provision(context.Background(), &ProvisionRequest{Org: "org1", Team: "team1", IdempotencyKey: "req-2"})
	require.NoError(t, err)
	assert.Equal(t, provisioningrun.StatusSucceeded, res3.Run.Status)
	assert.Equal(t, 2, int(okStep.calls))
	assert.Equal(t, 2, int(failStep.calls))

	count, err := client.ProvisioningRun.Query().Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestProvision_ConcurrentRequestsWithSameKeyShareOneRun(t *testing.T) {
	step := &recordingStep{name: StepConfigPatch}
	orch, client := newTestOrchestrator(t, step)

	var wg sync.WaitGroup
	results := make([]*ProvisionResult, 10)
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = orch.Provision(context.Background(),
				&ProvisionRequest{Org: "org1", Team: "team-shared", IdempotencyKey: "k1"})
		}(i)
	}
	wg.Wait()

	runID := ""
	for i := range results {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		if runID == "" {
			runID = results[i].Run.ID
		}
		assert.Equal(t, runID, results[i].Run.ID, "every caller observes the same run")
	}
	assert.Equal(t, 1, int(step.calls), "the step executed exactly once across all callers")

	count, err := client.ProvisioningRun.Query().Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestProvision_DifferentTeamsDoNotBlockEachOther(t *testing.T) {
	step := &recordingStep{name: StepConfigPatch}
	orch, _ := newTestOrchestrator(t, step)

	done := make(chan struct{})
	go func() {
		_, err := orch.Provision(context.Background(), &ProvisionRequest{Org: "org1", Team: "team-a"})
		assert.NoError(t, err)
		close(done)
	}()

	_, err := orch.Provision(context.Background(), &ProvisionRequest{Org: "org1", Team: "team-b"})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("provisioning team-a should not be blocked by team-b's lock")
	}
}

func TestProvision_ConditionalStepsSkippedWithoutScheduleOrDedicatedMode(t *testing.T) {
	base := &recordingStep{name: StepConfigPatch}
	cron := &recordingStep{name: StepPipelineCronJob}
	dedicated := &recordingStep{name: StepDedicatedDeployment}
	orch, _ := newTestOrchestrator(t, base, cron, dedicated)

	res, err := orch.Provision(context.Background(), &ProvisionRequest{Org: "org1", Team: "team1"})
	require.NoError(t, err)
	assert.Equal(t, 1, int(base.calls))
	assert.Equal(t, 0, int(cron.calls))
	assert.Equal(t, 0, int(dedicated.calls))
	assert.NotContains(t, res.Run.Steps, string(StepPipelineCronJob))
	assert.NotContains(t, res.Run.Steps, string(StepDedicatedDeployment))
}

func TestProvision_RejectsMalformedCronSchedule(t *testing.T) {
	step := &recordingStep{name: StepConfigPatch}
	orch, _ := newTestOrchestrator(t, step)

	_, err := orch.Provision(context.Background(), &ProvisionRequest{
		Org:              "org1",
		Team:             "team1",
		PipelineSchedule: "not a cron line",
	})
	require.ErrorIs(t, err, ErrInvalidSchedule)
	assert.Equal(t, 0, int(step.calls), "validation runs before any step")
}

func TestGetRun(t *testing.T) {
	step := &recordingStep{name: StepConfigPatch}
	orch, _ := newTestOrchestrator(t, step)

	res, err := orch.Provision(context.Background(), &ProvisionRequest{Org: "org1", Team: "team1"})
	require.NoError(t, err)

	run, err := orch.GetRun(context.Background(), res.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Run.ID, run.ID)

	_, err = orch.GetRun(context.Background(), "no-such-run")
	require.ErrorIs(t, err, ErrRunNotFound)
}

// fakeIssuerStore backs the team_token step's mint-once contract test with
// in-memory fakes for both the issuer and the store.
type fakeIssuerStore struct {
	mu     sync.Mutex
	minted int
	tokens map[string]bool
}

func TestTeamTokenStep_MintsOnlyOnce(t *testing.T) {
	f := &fakeIssuerStore{tokens: map[string]bool{}}
	step := NewTeamTokenStep(f, f)

	req := &ProvisionRequest{Org: "org1", Team: "team1"}
	res := &ProvisionResult{}
	out, err := step.Run(context.Background(), req, res)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.NotEmpty(t, res.TeamToken, "first provision returns the token once")
	assert.Equal(t, true, out.Details["created"])

	res2 := &ProvisionResult{}
	out2, err := step.Run(context.Background(), req, res2)
	require.NoError(t, err)
	assert.True(t, out2.OK)
	assert.Empty(t, res2.TeamToken, "subsequent runs never return a token")
	assert.Equal(t, false, out2.Details["created"])
	assert.Equal(t, 1, f.minted)
}

func (f *fakeIssuerStore) IssueImpersonationToken(_ context.Context, org, team string, _ ...string) (*configclient.ImpersonationToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.minted++
	return &configclient.ImpersonationToken{Token: "tok-" + org + "-" + team, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *fakeIssuerStore) HasActiveToken(_ context.Context, org, team string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokens[org+"/"+team], nil
}

func (f *fakeIssuerStore) StoreTeamToken(_ context.Context, org, team, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[org+"/"+team] = true
	return nil
}
