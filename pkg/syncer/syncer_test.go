package syncer_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackops/trackctl/pkg/cache"
	"github.com/trackops/trackctl/pkg/config"
	"github.com/trackops/trackctl/pkg/remote"
	"github.com/trackops/trackctl/pkg/syncer"
)

// fakeClient serves canned projects and run pages per project; a project
// listed in failProjects fails its run fetch.
type fakeClient struct {
	projects     []remote.Project
	runs         map[string][][]remote.Run
	failProjects map[string]error
	authErr      bool
}

func (f *fakeClient) DefaultEntity(ctx context.Context) (string, error) {
	return "ml-team", nil
}

func (f *fakeClient) ListProjects(ctx context.Context, entity string) ([]remote.Project, error) {
	if f.authErr {
		return nil, remote.ErrAuthentication
	}

	return f.projects, nil
}

func (f *fakeClient) ListRuns(opts remote.ListOptions) remote.RunPager {
	return &fakePager{
		pages: f.runs[opts.Project],
		err:   f.failProjects[opts.Project],
	}
}

func (f *fakeClient) GetRun(ctx context.Context, entity, project, id string) (*remote.Run, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeClient) ListRunningRuns(ctx context.Context, entity, project string) ([]remote.Run, error) {
	return nil, fmt.Errorf("not implemented")
}

type fakePager struct {
	pages [][]remote.Run
	err   error
	next  int
}

func (p *fakePager) Next(ctx context.Context) ([]remote.Run, error) {
	if p.err != nil {
		return nil, p.err
	}

	if p.next >= len(p.pages) {
		return nil, nil
	}

	page := p.pages[p.next]
	p.next++

	return page, nil
}

func (p *fakePager) Reset() { p.next = 0 }

func newTestStore(t *testing.T) cache.Store {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := cache.NewStore(log, &config.CacheConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func wireRun(project, id string) remote.Run {
	return remote.Run{
		ID:             id,
		Entity:         "ml-team",
		Project:        project,
		Name:           "run-" + id,
		State:          "finished",
		CreatedAt:      time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC),
		UpdatedAt:      time.Date(2026, 8, 10, 11, 0, 0, 0, time.UTC),
		RuntimeSeconds: 7200,
		GPUCount:       2,
		Config:         map[string]any{"lr": 0.001, "batch_size": 32},
		Summary:        map[string]any{"loss": 0.42},
		Tags:           []string{"baseline"},
	}
}

func newEngine(t *testing.T, client remote.Client, store cache.Store) *syncer.Engine {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return syncer.New(log, client, store, 2)
}

func TestSync_AllProjects(t *testing.T) {
	store := newTestStore(t)
	client := &fakeClient{
		projects: []remote.Project{{Name: "nlp"}, {Name: "vision"}},
		runs: map[string][][]remote.Run{
			"nlp": {
				{wireRun("nlp", "a1"), wireRun("nlp", "a2")},
				{wireRun("nlp", "a3")},
			},
			"vision": {
				{wireRun("vision", "b1")},
			},
		},
	}

	engine := newEngine(t, client, store)

	result, err := engine.Sync(context.Background(), syncer.Options{Entity: "ml-team"})
	require.NoError(t, err)

	assert.Equal(t, 4, result.RunsFetched)
	assert.Equal(t, 4, result.RunsUpserted)
	assert.Equal(t, 2, result.ScopesTouched)
	assert.Empty(t, result.Errors)

	count, err := store.CountRuns(context.Background(), cache.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	// Both scopes got freshness records.
	scopes, err := store.ListScopes(context.Background())
	require.NoError(t, err)
	assert.Len(t, scopes, 2)
}

func TestSync_Idempotent(t *testing.T) {
	store := newTestStore(t)
	client := &fakeClient{
		projects: []remote.Project{{Name: "nlp"}},
		runs: map[string][][]remote.Run{
			"nlp": {{wireRun("nlp", "a1"), wireRun("nlp", "a2")}},
		},
	}

	engine := newEngine(t, client, store)

	for i := 0; i < 2; i++ {
		client.runs["nlp"] = [][]remote.Run{{wireRun("nlp", "a1"), wireRun("nlp", "a2")}}

		_, err := engine.Sync(context.Background(), syncer.Options{Entity: "ml-team"})
		require.NoError(t, err)
	}

	count, err := store.CountRuns(context.Background(), cache.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestSync_ScopeFailureIsSoft(t *testing.T) {
	store := newTestStore(t)
	client := &fakeClient{
		projects: []remote.Project{{Name: "nlp"}, {Name: "broken"}},
		runs: map[string][][]remote.Run{
			"nlp": {{wireRun("nlp", "a1")}},
		},
		failProjects: map[string]error{
			"broken": &remote.FetchError{
				Entity:  "ml-team",
				Project: "broken",
				Err:     fmt.Errorf("503 service unavailable"),
			},
		},
	}

	engine := newEngine(t, client, store)

	result, err := engine.Sync(context.Background(), syncer.Options{Entity: "ml-team"})
	require.NoError(t, err)

	assert.Equal(t, 1, result.ScopesTouched)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "broken", result.Errors[0].Scope.Project)

	// The healthy scope still synced and recorded.
	scopes, err := store.ListScopes(context.Background())
	require.NoError(t, err)
	require.Len(t, scopes, 1)
	assert.Equal(t, "nlp", scopes[0].Project)
}

func TestSync_FailedScopeGetsNoFreshnessRecord(t *testing.T) {
	store := newTestStore(t)
	client := &fakeClient{
		projects: []remote.Project{{Name: "broken"}},
		failProjects: map[string]error{
			"broken": fmt.Errorf("connection reset"),
		},
	}

	engine := newEngine(t, client, store)

	result, err := engine.Sync(context.Background(), syncer.Options{Entity: "ml-team"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ScopesTouched)
	assert.Len(t, result.Errors, 1)

	scopes, err := store.ListScopes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, scopes)
}

func TestSync_AuthFailureIsFatal(t *testing.T) {
	store := newTestStore(t)
	client := &fakeClient{authErr: true}
	engine := newEngine(t, client, store)

	_, err := engine.Sync(context.Background(), syncer.Options{Entity: "ml-team"})
	require.Error(t, err)
	assert.ErrorIs(t, err, remote.ErrAuthentication)
}

func TestSync_SingleProjectSkipsListing(t *testing.T) {
	store := newTestStore(t)
	client := &fakeClient{
		// No projects configured: a scoped sync must not call ListProjects.
		runs: map[string][][]remote.Run{
			"nlp": {{wireRun("nlp", "a1")}},
		},
	}

	engine := newEngine(t, client, store)

	result, err := engine.Sync(context.Background(), syncer.Options{
		Entity:  "ml-team",
		Project: "nlp",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.RunsUpserted)
}

func TestSync_RequiresEntity(t *testing.T) {
	store := newTestStore(t)
	engine := newEngine(t, &fakeClient{}, store)

	_, err := engine.Sync(context.Background(), syncer.Options{})
	require.Error(t, err)
}

func TestNormalize(t *testing.T) {
	wire := wireRun("nlp", "a1")
	wire.State = "preempted" // unknown remote state

	row := syncer.Normalize(&wire)

	assert.Equal(t, "ml-team", row.Entity)
	assert.Equal(t, "nlp", row.Project)
	assert.Equal(t, "a1", row.RunID)
	assert.Equal(t, cache.StateUnknown, row.State)
	assert.Equal(t, int64(7200), row.RuntimeSeconds)
	assert.NotEmpty(t, row.ConfigJSON)
	assert.Len(t, row.ConfigHash, 16)
	assert.WithinDuration(t, time.Now().UTC(), row.SyncedAt, 5*time.Second)

	// Hash matches hashing the decoded config directly.
	assert.Equal(t, cache.HashConfig(wire.Config), row.ConfigHash)
}

func TestNormalize_NameFallsBackToID(t *testing.T) {
	wire := wireRun("nlp", "a1")
	wire.Name = ""

	row := syncer.Normalize(&wire)
	assert.Equal(t, "a1", row.Name)
}

func TestNormalize_EmptyConfigHasNoHash(t *testing.T) {
	wire := wireRun("nlp", "a1")
	wire.Config = nil
	wire.Summary = nil
	wire.Tags = nil

	row := syncer.Normalize(&wire)
	assert.Empty(t, row.ConfigHash)
	assert.Empty(t, row.ConfigJSON)
	assert.Empty(t, row.TagsJSON)
}
