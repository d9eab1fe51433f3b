package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"github.com/trackops/trackctl/pkg/config"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrCacheIO marks unrecoverable cache database failures. Commands treat
// any error carrying it as fatal for the invocation.
var ErrCacheIO = errors.New("cache i/o error")

// ErrRunNotFound is returned when a run id (or prefix) matches no cached row.
var ErrRunNotFound = errors.New("run not found in cache")

// Filter restricts run queries. Zero values mean "no restriction".
type Filter struct {
	Entity  string
	Project string
	State   RunState
	Since   *time.Time
}

// UsageStats is the aggregate usage rollup over a filtered set of runs.
type UsageStats struct {
	TotalRuns           int64
	FinishedRuns        int64
	FailedRuns          int64
	CrashedRuns         int64
	KilledRuns          int64
	RunningRuns         int64
	TotalRuntimeSeconds int64
	TotalGPUSeconds     int64
	ProjectCount        int64
}

// GPUHours returns the aggregate GPU-hours for the stat window.
func (u *UsageStats) GPUHours() float64 {
	return float64(u.TotalGPUSeconds) / 3600.0
}

// SuccessRate returns finished runs as a fraction of all runs.
func (u *UsageStats) SuccessRate() float64 {
	if u.TotalRuns == 0 {
		return 0
	}

	return float64(u.FinishedRuns) / float64(u.TotalRuns)
}

// ProjectStat is a per-project aggregate row.
type ProjectStat struct {
	Project        string
	Runs           int64
	Finished       int64
	Failed         int64
	Running        int64
	RuntimeSeconds int64
	GPUSeconds     int64
}

// GPUHours returns the project's aggregate GPU-hours.
func (p *ProjectStat) GPUHours() float64 {
	return float64(p.GPUSeconds) / 3600.0
}

// Grouping selects the trend bucket width.
type Grouping string

// Supported trend groupings.
const (
	GroupDay  Grouping = "day"
	GroupWeek Grouping = "week"
)

// TrendBucket is one time bucket of run activity.
type TrendBucket struct {
	Key            string
	RunCount       int
	RuntimeSeconds int64
}

// RuntimeBaseline is the historical finished-run runtime for a project.
type RuntimeBaseline struct {
	AvgRuntimeSeconds float64
	FinishedRuns      int64
}

// Store provides persistence for cached runs and sync scope records.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	UpsertRun(ctx context.Context, run *Run) error
	UpsertRuns(ctx context.Context, runs []*Run) (int, error)

	RecordSync(ctx context.Context, entity, project string, runCount int) error
	LastSync(ctx context.Context, entity, project string) (*time.Time, error)
	ListScopes(ctx context.Context) ([]SyncScope, error)

	CountRuns(ctx context.Context, f Filter) (int64, error)
	ListRuns(ctx context.Context, f Filter) ([]Run, error)
	FindRunByID(ctx context.Context, idPrefix string) (*Run, error)

	UsageStats(ctx context.Context, f Filter) (*UsageStats, error)
	ProjectStats(ctx context.Context, f Filter) ([]ProjectStat, error)
	TrendBuckets(
		ctx context.Context, f Filter, group Grouping, until time.Time,
	) ([]TrendBucket, error)
	FinishedRuntimeBaseline(
		ctx context.Context, entity, project string,
	) (*RuntimeBaseline, error)
	RunsByConfigHash(
		ctx context.Context, hash string, f Filter, limit int,
	) ([]Run, error)

	ListRunsCreatedBefore(ctx context.Context, cutoff time.Time) ([]Run, error)
	DeleteRunsCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	SizeBytes() int64
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.CacheConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(log logrus.FieldLogger, cfg *config.CacheConfig) Store {
	return &store{
		log: log.WithField("component", "cache"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported cache driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return ioError("opening cache database", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Run{},
		&SyncScope{},
	); err != nil {
		return ioError("running cache migrations", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Debug("Cache database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return ioError("getting underlying db", err)
	}

	return sqlDB.Close()
}

// ioError wraps a driver error with the fatal cache error marker.
func ioError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrCacheIO, err)
}

// upsertConflict is the identity conflict target for run upserts.
var upsertConflict = clause.OnConflict{
	Columns: []clause.Column{
		{Name: "entity"}, {Name: "project"}, {Name: "run_id"},
	},
	UpdateAll: true,
}

// UpsertRun inserts or overwrites a run keyed by (entity, project, run_id).
func (s *store) UpsertRun(ctx context.Context, run *Run) error {
	if err := s.db.WithContext(ctx).
		Clauses(upsertConflict).
		Create(run).Error; err != nil {
		return ioError("upserting run", err)
	}

	return nil
}

// UpsertRuns batch-upserts runs in a single transaction. Returns the number
// of rows written.
func (s *store) UpsertRuns(ctx context.Context, runs []*Run) (int, error) {
	if len(runs) == 0 {
		return 0, nil
	}

	const batchSize = 100

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := 0; i < len(runs); i += batchSize {
			end := min(i+batchSize, len(runs))

			batch := runs[i:end]
			if err := tx.Clauses(upsertConflict).
				CreateInBatches(batch, len(batch)).Error; err != nil {
				return fmt.Errorf("bulk upserting runs: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return 0, ioError("upserting runs", err)
	}

	return len(runs), nil
}

// RecordSync updates the sync scope record for (entity, project).
func (s *store) RecordSync(
	ctx context.Context, entity, project string, runCount int,
) error {
	scope := &SyncScope{
		Entity:       entity,
		Project:      project,
		LastSyncedAt: time.Now().UTC(),
		RunCount:     runCount,
	}

	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entity"}, {Name: "project"}},
			UpdateAll: true,
		}).
		Create(scope).Error; err != nil {
		return ioError("recording sync", err)
	}

	return nil
}

// LastSync returns the most recent sync time matching the given scope.
// Empty entity or project widen the match.
func (s *store) LastSync(
	ctx context.Context, entity, project string,
) (*time.Time, error) {
	q := s.db.WithContext(ctx).Model(&SyncScope{})

	if entity != "" {
		q = q.Where("entity = ?", entity)
	}

	if project != "" {
		q = q.Where("project = ?", project)
	}

	var result struct{ Last sql.NullTime }
	if err := q.Select("MAX(last_synced_at) AS last").
		Scan(&result).Error; err != nil {
		return nil, ioError("getting last sync", err)
	}

	if !result.Last.Valid {
		return nil, nil
	}

	last := result.Last.Time

	return &last, nil
}

// ListScopes returns all sync scope records, freshest first.
func (s *store) ListScopes(ctx context.Context) ([]SyncScope, error) {
	var scopes []SyncScope
	if err := s.db.WithContext(ctx).
		Order("last_synced_at DESC").
		Find(&scopes).Error; err != nil {
		return nil, ioError("listing sync scopes", err)
	}

	return scopes, nil
}

// applyFilter narrows a run query to the given filter.
func applyFilter(q *gorm.DB, f Filter) *gorm.DB {
	if f.Entity != "" {
		q = q.Where("entity = ?", f.Entity)
	}

	if f.Project != "" {
		q = q.Where("project = ?", f.Project)
	}

	if f.State != "" {
		q = q.Where("state = ?", f.State)
	}

	if f.Since != nil {
		q = q.Where("created_at >= ?", *f.Since)
	}

	return q
}

// CountRuns returns the number of cached runs matching the filter.
func (s *store) CountRuns(ctx context.Context, f Filter) (int64, error) {
	var count int64
	if err := applyFilter(s.db.WithContext(ctx).Model(&Run{}), f).
		Count(&count).Error; err != nil {
		return 0, ioError("counting runs", err)
	}

	return count, nil
}

// ListRuns returns runs matching the filter, newest first.
func (s *store) ListRuns(ctx context.Context, f Filter) ([]Run, error) {
	var runs []Run
	if err := applyFilter(s.db.WithContext(ctx), f).
		Order("created_at DESC").
		Find(&runs).Error; err != nil {
		return nil, ioError("listing runs", err)
	}

	return runs, nil
}

// FindRunByID resolves a run by exact id or unique-enough prefix. When
// several runs share the prefix the most recently created one wins.
func (s *store) FindRunByID(
	ctx context.Context, idPrefix string,
) (*Run, error) {
	var run Run

	err := s.db.WithContext(ctx).
		Where("run_id = ?", idPrefix).
		First(&run).Error
	if err == nil {
		return &run, nil
	}

	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ioError("finding run", err)
	}

	err = s.db.WithContext(ctx).
		Where("run_id LIKE ?", idPrefix+"%").
		Order("created_at DESC").
		First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, idPrefix)
		}

		return nil, ioError("finding run", err)
	}

	return &run, nil
}

// UsageStats returns the aggregate usage rollup for the filter window.
func (s *store) UsageStats(
	ctx context.Context, f Filter,
) (*UsageStats, error) {
	var stats UsageStats

	q := applyFilter(s.db.WithContext(ctx).Model(&Run{}), f)

	err := q.Select(
		"COUNT(*) AS total_runs, " +
			"COALESCE(SUM(CASE WHEN state = 'finished' THEN 1 ELSE 0 END), 0) AS finished_runs, " +
			"COALESCE(SUM(CASE WHEN state = 'failed' THEN 1 ELSE 0 END), 0) AS failed_runs, " +
			"COALESCE(SUM(CASE WHEN state = 'crashed' THEN 1 ELSE 0 END), 0) AS crashed_runs, " +
			"COALESCE(SUM(CASE WHEN state = 'killed' THEN 1 ELSE 0 END), 0) AS killed_runs, " +
			"COALESCE(SUM(CASE WHEN state = 'running' THEN 1 ELSE 0 END), 0) AS running_runs, " +
			"COALESCE(SUM(runtime_seconds), 0) AS total_runtime_seconds, " +
			"COALESCE(SUM(" + gpuSecondsExpr + "), 0) AS total_gpu_seconds, " +
			"COUNT(DISTINCT project) AS project_count",
	).Scan(&stats).Error
	if err != nil {
		return nil, ioError("aggregating usage stats", err)
	}

	return &stats, nil
}

// ProjectStats returns per-project aggregates for the filter window,
// busiest projects first.
func (s *store) ProjectStats(
	ctx context.Context, f Filter,
) ([]ProjectStat, error) {
	var stats []ProjectStat

	q := applyFilter(s.db.WithContext(ctx).Model(&Run{}), f)

	err := q.Select(
		"project, "+
			"COUNT(*) AS runs, "+
			"SUM(CASE WHEN state = 'finished' THEN 1 ELSE 0 END) AS finished, "+
			"SUM(CASE WHEN state IN ('failed', 'crashed') THEN 1 ELSE 0 END) AS failed, "+
			"SUM(CASE WHEN state = 'running' THEN 1 ELSE 0 END) AS running, "+
			"COALESCE(SUM(runtime_seconds), 0) AS runtime_seconds, "+
			"COALESCE(SUM("+gpuSecondsExpr+"), 0) AS gpu_seconds",
	).
		Group("project").
		Order("runs DESC").
		Scan(&stats).Error
	if err != nil {
		return nil, ioError("aggregating project stats", err)
	}

	return stats, nil
}

// TrendBuckets buckets runs by creation day or ISO week up to the given
// end time. Day grouping emits a contiguous range including empty buckets
// so sparklines keep their time axis; week grouping emits observed weeks.
func (s *store) TrendBuckets(
	ctx context.Context, f Filter, group Grouping, until time.Time,
) ([]TrendBucket, error) {
	runs, err := s.ListRuns(ctx, f)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	runtimes := make(map[string]int64)

	for i := range runs {
		key := bucketKey(runs[i].CreatedAt.UTC(), group)
		counts[key]++
		runtimes[key] += runs[i].RuntimeSeconds
	}

	var keys []string

	if group == GroupDay && f.Since != nil {
		for d := f.Since.UTC(); !d.After(until.UTC()); d = d.AddDate(0, 0, 1) {
			keys = append(keys, bucketKey(d, GroupDay))
		}
	} else {
		seen := make(map[string]struct{}, len(counts))

		for i := len(runs) - 1; i >= 0; i-- {
			key := bucketKey(runs[i].CreatedAt.UTC(), group)
			if _, ok := seen[key]; !ok {
				seen[key] = struct{}{}
				keys = append(keys, key)
			}
		}
	}

	buckets := make([]TrendBucket, 0, len(keys))
	for _, key := range keys {
		buckets = append(buckets, TrendBucket{
			Key:            key,
			RunCount:       counts[key],
			RuntimeSeconds: runtimes[key],
		})
	}

	return buckets, nil
}

// bucketKey formats a timestamp into its day or ISO week bucket label.
func bucketKey(t time.Time, group Grouping) string {
	if group == GroupWeek {
		year, week := t.ISOWeek()

		return fmt.Sprintf("%d-W%02d", year, week)
	}

	return t.Format("2006-01-02")
}

// FinishedRuntimeBaseline returns the average runtime over finished runs in
// a project, with the sample size so callers can judge significance.
func (s *store) FinishedRuntimeBaseline(
	ctx context.Context, entity, project string,
) (*RuntimeBaseline, error) {
	var baseline RuntimeBaseline

	q := s.db.WithContext(ctx).Model(&Run{}).
		Where("state = ?", StateFinished)

	if entity != "" {
		q = q.Where("entity = ?", entity)
	}

	if project != "" {
		q = q.Where("project = ?", project)
	}

	err := q.Select(
		"COALESCE(AVG(runtime_seconds), 0) AS avg_runtime_seconds, " +
			"COUNT(*) AS finished_runs",
	).Scan(&baseline).Error
	if err != nil {
		return nil, ioError("computing runtime baseline", err)
	}

	return &baseline, nil
}

// RunsByConfigHash returns runs whose stored config hash matches, newest
// first, capped at limit.
func (s *store) RunsByConfigHash(
	ctx context.Context, hash string, f Filter, limit int,
) ([]Run, error) {
	var runs []Run

	q := applyFilter(s.db.WithContext(ctx), f).
		Where("config_hash = ?", hash).
		Order("created_at DESC")

	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Find(&runs).Error; err != nil {
		return nil, ioError("querying runs by config hash", err)
	}

	return runs, nil
}

// ListRunsCreatedBefore returns the purge candidate set for a cutoff. It is
// the exact set DeleteRunsCreatedBefore would remove.
func (s *store) ListRunsCreatedBefore(
	ctx context.Context, cutoff time.Time,
) ([]Run, error) {
	var runs []Run
	if err := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Order("created_at ASC").
		Find(&runs).Error; err != nil {
		return nil, ioError("listing purge candidates", err)
	}

	return runs, nil
}

// DeleteRunsCreatedBefore removes runs created before the cutoff and
// returns the number of rows deleted.
func (s *store) DeleteRunsCreatedBefore(
	ctx context.Context, cutoff time.Time,
) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&Run{})
	if result.Error != nil {
		return 0, ioError("deleting old runs", result.Error)
	}

	return result.RowsAffected, nil
}

// SizeBytes returns the cache file size. Non-file drivers report 0.
func (s *store) SizeBytes() int64 {
	if s.cfg.Driver != "sqlite" || s.cfg.SQLite.Path == ":memory:" {
		return 0
	}

	info, err := os.Stat(s.cfg.SQLite.Path)
	if err != nil {
		return 0
	}

	return info.Size()
}
