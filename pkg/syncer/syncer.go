package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/trackops/trackctl/pkg/cache"
	"github.com/trackops/trackctl/pkg/remote"
	"golang.org/x/sync/errgroup"
)

// defaultConcurrency bounds parallel scope syncs when none is configured.
// Writes are upsert-idempotent, so fetch order never affects the cache.
const defaultConcurrency = 4

// Options restricts a sync.
type Options struct {
	Entity  string
	Project string
	Since   *time.Time
}

// Scope identifies one (entity, project) sync unit.
type Scope struct {
	Entity  string
	Project string
}

func (s Scope) String() string {
	return s.Entity + "/" + s.Project
}

// ScopeError records a soft per-scope fetch failure.
type ScopeError struct {
	Scope Scope
	Err   error
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("scope %s: %v", e.Scope, e.Err)
}

func (e *ScopeError) Unwrap() error { return e.Err }

// Result summarizes a sync invocation.
type Result struct {
	RunsFetched   int
	RunsUpserted  int
	ScopesTouched int
	Errors        []ScopeError
}

// Engine drives remote fetches into cache upserts, scope by scope.
type Engine struct {
	log         logrus.FieldLogger
	client      remote.Client
	store       cache.Store
	concurrency int
}

// New creates a sync engine.
func New(
	log logrus.FieldLogger,
	client remote.Client,
	store cache.Store,
	concurrency int,
) *Engine {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	return &Engine{
		log:         log.WithField("component", "syncer"),
		client:      client,
		store:       store,
		concurrency: concurrency,
	}
}

// Sync pulls runs for the targeted scopes into the cache. A fetch failure in
// one scope is collected and does not abort the others; authentication and
// cache write failures are fatal and abort the whole sync.
func (e *Engine) Sync(ctx context.Context, opts Options) (*Result, error) {
	scopes, err := e.resolveScopes(ctx, opts)
	if err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"entity": opts.Entity,
		"scopes": len(scopes),
	}).Info("Starting sync")

	var (
		mu     sync.Mutex
		result Result
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for _, scope := range scopes {
		scope := scope
		g.Go(func() error {
			fetched, upserted, err := e.syncScope(gctx, scope, opts.Since)

			mu.Lock()
			defer mu.Unlock()

			result.RunsFetched += fetched
			result.RunsUpserted += upserted

			if err != nil {
				// Credentials and cache writes fail the whole sync;
				// anything else is a soft per-scope error.
				if errors.Is(err, remote.ErrAuthentication) ||
					errors.Is(err, cache.ErrCacheIO) {
					return err
				}

				e.log.WithError(err).
					WithField("scope", scope.String()).
					Warn("Scope sync failed")

				result.Errors = append(result.Errors, ScopeError{
					Scope: scope,
					Err:   err,
				})

				return nil
			}

			result.ScopesTouched++

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"fetched":  result.RunsFetched,
		"upserted": result.RunsUpserted,
		"scopes":   result.ScopesTouched,
		"errors":   len(result.Errors),
	}).Info("Sync complete")

	return &result, nil
}

// resolveScopes expands the options into concrete (entity, project) pairs.
func (e *Engine) resolveScopes(
	ctx context.Context, opts Options,
) ([]Scope, error) {
	if opts.Entity == "" {
		return nil, fmt.Errorf("no entity specified and no default entity configured")
	}

	if opts.Project != "" {
		return []Scope{{Entity: opts.Entity, Project: opts.Project}}, nil
	}

	projects, err := e.client.ListProjects(ctx, opts.Entity)
	if err != nil {
		return nil, fmt.Errorf("listing projects for %s: %w", opts.Entity, err)
	}

	if len(projects) == 0 {
		return nil, fmt.Errorf("entity %s has no projects", opts.Entity)
	}

	scopes := make([]Scope, 0, len(projects))
	for _, p := range projects {
		scopes = append(scopes, Scope{Entity: opts.Entity, Project: p.Name})
	}

	return scopes, nil
}

// syncScope folds the scope's run pages into cache upserts. Each page is
// written as it arrives, so a mid-scope failure leaves earlier pages
// persisted; the scope record is only updated on a clean pass.
func (e *Engine) syncScope(
	ctx context.Context, scope Scope, since *time.Time,
) (fetched, upserted int, err error) {
	pager := e.client.ListRuns(remote.ListOptions{
		Entity:  scope.Entity,
		Project: scope.Project,
		Since:   since,
	})

	for {
		page, err := pager.Next(ctx)
		if err != nil {
			return fetched, upserted, err
		}

		if page == nil {
			break
		}

		fetched += len(page)

		rows := make([]*cache.Run, 0, len(page))
		for i := range page {
			rows = append(rows, Normalize(&page[i]))
		}

		n, err := e.store.UpsertRuns(ctx, rows)
		if err != nil {
			return fetched, upserted, err
		}

		upserted += n

		e.log.WithFields(logrus.Fields{
			"scope": scope.String(),
			"page":  len(page),
		}).Debug("Page upserted")
	}

	if err := e.store.RecordSync(
		ctx, scope.Entity, scope.Project, upserted,
	); err != nil {
		return fetched, upserted, err
	}

	return fetched, upserted, nil
}

// Normalize converts a wire run into its cached representation.
func Normalize(r *remote.Run) *cache.Run {
	return &cache.Run{
		Entity:         r.Entity,
		Project:        r.Project,
		RunID:          r.ID,
		Name:           runName(r),
		State:          cache.ParseState(r.State),
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
		RuntimeSeconds: r.RuntimeSeconds,
		GPUCount:       r.GPUCount,
		GPUUtilization: r.GPUUtilization,
		ConfigJSON:     marshalJSON(r.Config),
		ConfigHash:     hashIfPresent(r.Config),
		SummaryJSON:    marshalJSON(r.Summary),
		TagsJSON:       marshalTags(r.Tags),
		SyncedAt:       time.Now().UTC(),
	}
}

func runName(r *remote.Run) string {
	if r.Name != "" {
		return r.Name
	}

	return r.ID
}

func marshalJSON(m map[string]any) string {
	if len(m) == 0 {
		return ""
	}

	data, err := json.Marshal(m)
	if err != nil {
		return ""
	}

	return string(data)
}

func marshalTags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}

	data, err := json.Marshal(tags)
	if err != nil {
		return ""
	}

	return string(data)
}

func hashIfPresent(cfg map[string]any) string {
	if len(cfg) == 0 {
		return ""
	}

	return cache.HashConfig(cfg)
}
