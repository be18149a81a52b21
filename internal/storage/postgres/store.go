// Package postgres provides Postgres-backed persistence for jobs and
// per-URL results.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"crawl-engine/internal/crawl"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// Store implements the job and result stores on a shared pool.
type Store struct {
	pool dbPool
}

// NewStore connects a pool and returns a Store.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreWithPool constructs a Store from an existing pool (primarily for testing).
func NewStoreWithPool(pool dbPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	s.pool.Close()
}

// CreateJob inserts a new job row.
func (s *Store) CreateJob(ctx context.Context, job crawl.Job) error {
	configJSON, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("marshal job config: %w", err)
	}
	statsJSON, err := json.Marshal(job.Stats)
	if err != nil {
		return fmt.Errorf("marshal job stats: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO crawl_jobs (id, config, status, created_at, started_at, completed_at, stats, error_text)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, configJSON, string(job.Status), job.Created, job.Started, job.Completed, statsJSON, job.ErrorText,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJob rewrites the mutable job columns.
func (s *Store) UpdateJob(ctx context.Context, job crawl.Job) error {
	statsJSON, err := json.Marshal(job.Stats)
	if err != nil {
		return fmt.Errorf("marshal job stats: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE crawl_jobs
		 SET status = $2, started_at = $3, completed_at = $4, stats = $5, error_text = $6
		 WHERE id = $1`,
		job.ID, string(job.Status), job.Started, job.Completed, statsJSON, job.ErrorText,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawl.ErrJobNotFound
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (crawl.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, config, status, created_at, started_at, completed_at, stats, error_text
		 FROM crawl_jobs WHERE id = $1`,
		jobID,
	)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawl.Job{}, crawl.ErrJobNotFound
	}
	if err != nil {
		return crawl.Job{}, fmt.Errorf("select job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (s *Store) ListJobs(ctx context.Context, status crawl.JobStatus, limit int) ([]crawl.Job, error) {
	if limit <= 0 {
		limit = 50
	}

	var (
		rows pgx.Rows
		err  error
	)
	if status == "" {
		rows, err = s.pool.Query(ctx,
			`SELECT id, config, status, created_at, started_at, completed_at, stats, error_text
			 FROM crawl_jobs ORDER BY created_at DESC LIMIT $1`,
			limit,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT id, config, status, created_at, started_at, completed_at, stats, error_text
			 FROM crawl_jobs WHERE status = $1 ORDER BY created_at DESC LIMIT $2`,
			string(status), limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("select jobs: %w", err)
	}
	defer rows.Close()

	var jobs []crawl.Job
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan job: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (crawl.Job, error) {
	var (
		job        crawl.Job
		status     string
		configJSON []byte
		statsJSON  []byte
	)
	if err := row.Scan(&job.ID, &configJSON, &status, &job.Created, &job.Started, &job.Completed, &statsJSON, &job.ErrorText); err != nil {
		return crawl.Job{}, err
	}
	job.Status = crawl.JobStatus(status)
	if err := json.Unmarshal(configJSON, &job.Config); err != nil {
		return crawl.Job{}, fmt.Errorf("unmarshal job config: %w", err)
	}
	if err := json.Unmarshal(statsJSON, &job.Stats); err != nil {
		return crawl.Job{}, fmt.Errorf("unmarshal job stats: %w", err)
	}
	return job, nil
}

// RecordResult inserts a per-URL result row. The full result is stored
// as a JSON document alongside the columns used for filtering.
func (s *Store) RecordResult(ctx context.Context, result crawl.Result) error {
	doc, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO crawl_results (job_id, url, status_code, fetched_at, document)
		 VALUES ($1, $2, $3, $4, $5)`,
		result.JobID, result.URL, result.StatusCode, result.FetchedAt, doc,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// ListResults returns a page of results for a job in insertion order.
func (s *Store) ListResults(ctx context.Context, jobID string, offset, limit int) ([]crawl.Result, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT document FROM crawl_results
		 WHERE job_id = $1 ORDER BY fetched_at, url OFFSET $2 LIMIT $3`,
		jobID, offset, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select results: %w", err)
	}
	defer rows.Close()

	results := []crawl.Result{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		var result crawl.Result
		if err := json.Unmarshal(doc, &result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return results, nil
}

// CountResults reports how many results a job has produced.
func (s *Store) CountResults(ctx context.Context, jobID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM crawl_results WHERE job_id = $1`, jobID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count results: %w", err)
	}
	return count, nil
}
