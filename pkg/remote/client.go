package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ErrAuthentication indicates missing or rejected credentials. It is fatal
// for the whole operation, unlike per-scope fetch errors.
var ErrAuthentication = errors.New("authentication failed")

// FetchError is a soft, per-scope remote failure. Sync collects these and
// continues with the remaining scopes.
type FetchError struct {
	Entity  string
	Project string
	Err     error
}

func (e *FetchError) Error() string {
	scope := e.Entity
	if e.Project != "" {
		scope += "/" + e.Project
	}

	return fmt.Sprintf("fetching %s: %v", scope, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ListOptions narrow a run listing.
type ListOptions struct {
	Entity  string
	Project string
	State   string
	Since   *time.Time
}

// Client is a read-only client for the tracking service API.
type Client interface {
	// DefaultEntity returns the entity of the authenticated user.
	DefaultEntity(ctx context.Context) (string, error)

	// ListProjects lists the projects under an entity.
	ListProjects(ctx context.Context, entity string) ([]Project, error)

	// ListRuns returns a restartable pager over the run listing. Pages are
	// fetched lazily; the caller folds them without materializing the
	// whole result set.
	ListRuns(opts ListOptions) RunPager

	// GetRun fetches a single run.
	GetRun(ctx context.Context, entity, project, id string) (*Run, error)

	// ListRunningRuns fetches the live set of running runs, bypassing any
	// caller-side cache.
	ListRunningRuns(ctx context.Context, entity, project string) ([]Run, error)
}

// Config holds client construction parameters.
type Config struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	PageSize          int
	RequestsPerMinute int
}

// Compile-time interface check.
var _ Client = (*client)(nil)

type client struct {
	log      logrus.FieldLogger
	cfg      *Config
	http     *http.Client
	limiter  *rate.Limiter
	pageSize int
}

// NewClient creates a tracking service API client.
func NewClient(log logrus.FieldLogger, cfg *Config) Client {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 120
	}

	return &client{
		log:      log.WithField("component", "remote"),
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
		pageSize: pageSize,
	}
}

// get performs a rate-limited authenticated GET and decodes the JSON body
// into out.
func (c *client) get(ctx context.Context, path string, query url.Values, out any) error {
	if c.cfg.APIKey == "" {
		return fmt.Errorf("%w: no API key configured (set %s or the credentials file)",
			ErrAuthentication, "TRACKCTL_API_KEY")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}

	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrAuthentication, apiMessage(body, resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected status %d from %s: %s",
			resp.StatusCode, path, apiMessage(body, resp.StatusCode))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", path, err)
	}

	return nil
}

// apiMessage extracts the service error message, falling back to the status.
func apiMessage(body []byte, status int) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}

	return http.StatusText(status)
}

// DefaultEntity returns the entity of the authenticated user.
func (c *client) DefaultEntity(ctx context.Context) (string, error) {
	var v viewer
	if err := c.get(ctx, "/api/v1/viewer", nil, &v); err != nil {
		return "", err
	}

	return v.Entity, nil
}

// ListProjects lists the projects under an entity.
func (c *client) ListProjects(
	ctx context.Context, entity string,
) ([]Project, error) {
	var resp projectsResponse

	path := "/api/v1/entities/" + url.PathEscape(entity) + "/projects"
	if err := c.get(ctx, path, nil, &resp); err != nil {
		return nil, err
	}

	return resp.Projects, nil
}

// GetRun fetches a single run by identity.
func (c *client) GetRun(
	ctx context.Context, entity, project, id string,
) (*Run, error) {
	var run Run

	path := "/api/v1/runs/" + url.PathEscape(entity) +
		"/" + url.PathEscape(project) +
		"/" + url.PathEscape(id)
	if err := c.get(ctx, path, nil, &run); err != nil {
		return nil, err
	}

	return &run, nil
}

// ListRuns returns a pager over the run listing.
func (c *client) ListRuns(opts ListOptions) RunPager {
	return &runPager{c: c, opts: opts, page: 1}
}

// ListRunningRuns fetches all currently running runs.
func (c *client) ListRunningRuns(
	ctx context.Context, entity, project string,
) ([]Run, error) {
	pager := c.ListRuns(ListOptions{
		Entity:  entity,
		Project: project,
		State:   "running",
	})

	var all []Run

	for {
		page, err := pager.Next(ctx)
		if err != nil {
			return nil, err
		}

		if page == nil {
			return all, nil
		}

		all = append(all, page...)
	}
}

// RunPager is a restartable, finite lazy sequence of run pages.
type RunPager interface {
	// Next fetches the next page, returning a nil slice once the sequence
	// is exhausted.
	Next(ctx context.Context) ([]Run, error)

	// Reset rewinds the pager to the first page.
	Reset()
}

type runPager struct {
	c    *client
	opts ListOptions
	page int
	done bool
}

// Next fetches the next page. It returns a nil slice once the sequence is
// exhausted.
func (p *runPager) Next(ctx context.Context) ([]Run, error) {
	if p.done {
		return nil, nil
	}

	query := url.Values{
		"entity":   {p.opts.Entity},
		"page":     {strconv.Itoa(p.page)},
		"per_page": {strconv.Itoa(p.c.pageSize)},
	}

	if p.opts.Project != "" {
		query.Set("project", p.opts.Project)
	}

	if p.opts.State != "" {
		query.Set("state", p.opts.State)
	}

	if p.opts.Since != nil {
		query.Set("since", p.opts.Since.UTC().Format(time.RFC3339))
	}

	var resp runsResponse
	if err := p.c.get(ctx, "/api/v1/runs", query, &resp); err != nil {
		return nil, &FetchError{
			Entity:  p.opts.Entity,
			Project: p.opts.Project,
			Err:     err,
		}
	}

	if resp.NextPage > p.page {
		p.page = resp.NextPage
	} else {
		p.done = true
	}

	if len(resp.Runs) == 0 {
		p.done = true

		return nil, nil
	}

	return resp.Runs, nil
}

// Reset rewinds the pager to the first page.
func (p *runPager) Reset() {
	p.page = 1
	p.done = false
}
