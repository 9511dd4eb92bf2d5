// Package statsstore persists per-generation statistics in a local SQLite
// database. The schema is managed by embedded golang-migrate migrations.
package statsstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Record is one finished generation.
type Record struct {
	ID                string        `json:"id"`
	Model             string        `json:"model"`
	Engine            string        `json:"engine,omitempty"`
	Outcome           string        `json:"outcome"`
	Error             string        `json:"error,omitempty"`
	Tokens            int           `json:"tokens"`
	PromptTokens      int           `json:"prompt_tokens"`
	Duration          time.Duration `json:"duration_ns"`
	Temperature       float64       `json:"temperature"`
	TopK              int           `json:"top_k"`
	TopP              float64       `json:"top_p"`
	RepetitionPenalty float64       `json:"repetition_penalty"`
	ParamSource       string        `json:"param_source,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
}

// TokensPerSecond is zero for records without a duration.
func (r Record) TokensPerSecond() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Tokens) / r.Duration.Seconds()
}

// LoadRecord is one model load attempt.
type LoadRecord struct {
	Model     string        `json:"model"`
	Path      string        `json:"path,omitempty"`
	Outcome   string        `json:"outcome"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	CreatedAt time.Time     `json:"created_at"`
}

// Summary aggregates generations per model.
type Summary struct {
	Model              string    `json:"model"`
	Calls              int       `json:"calls"`
	Completed          int       `json:"completed"`
	Failed             int       `json:"failed"`
	Tokens             int64     `json:"tokens"`
	AvgTokensPerSecond float64   `json:"avg_tokens_per_second"`
	LastCall           time.Time `json:"last_call"`
}

// Store is safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string
	log  zerolog.Logger
}

// Open migrates the database at path and returns a store on a fresh
// connection. Parent directories are created as needed.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("stats database path is required")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create stats dir: %w", err)
		}
	}
	if err := MigrateUp(path); err != nil {
		return nil, err
	}
	db, err := openConn(path)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("path", path).Msg("stats store opened")
	return &Store{db: db, path: path, log: log}, nil
}

func openConn(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open stats db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, q := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", q, err)
		}
	}
	return db, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

func (s *Store) Close() error { return s.db.Close() }

// Record inserts r. CreatedAt defaults to now.
func (s *Store) Record(ctx context.Context, r Record) error {
	if r.ID == "" {
		return errors.New("record id is required")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO generations (
			id, model, engine, outcome, error_message, tokens, prompt_tokens,
			duration_ms, temperature, top_k, top_p, repetition_penalty,
			param_source, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Model, r.Engine, r.Outcome, r.Error, r.Tokens, r.PromptTokens,
		r.Duration.Milliseconds(), r.Temperature, r.TopK, r.TopP, r.RepetitionPenalty,
		r.ParamSource, r.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert generation %s: %w", r.ID, err)
	}
	return nil
}

// RecordLoad inserts a model load attempt.
func (s *Store) RecordLoad(ctx context.Context, r LoadRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO loads (model, path, outcome, error_message, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.Model, r.Path, r.Outcome, r.Error, r.Duration.Milliseconds(), r.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert load %s: %w", r.Model, err)
	}
	return nil
}

// Recent returns up to limit generations, newest first. An empty model
// matches all models.
func (s *Store) Recent(ctx context.Context, model string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, model, engine, outcome, error_message, tokens, prompt_tokens,
		       duration_ms, temperature, top_k, top_p, repetition_penalty,
		       param_source, created_at
		FROM generations
		WHERE (? = '' OR model = ?)
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, model, model, limit)
	if err != nil {
		return nil, fmt.Errorf("query generations: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r         Record
			durMS     int64
			createdMS int64
		)
		if err := rows.Scan(&r.ID, &r.Model, &r.Engine, &r.Outcome, &r.Error, &r.Tokens, &r.PromptTokens,
			&durMS, &r.Temperature, &r.TopK, &r.TopP, &r.RepetitionPenalty,
			&r.ParamSource, &createdMS); err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		r.Duration = time.Duration(durMS) * time.Millisecond
		r.CreatedAt = time.UnixMilli(createdMS)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Summaries aggregates all generations by model, busiest first.
func (s *Store) Summaries(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT model,
		       COUNT(*),
		       SUM(CASE WHEN outcome IN ('complete', 'stopped') THEN 1 ELSE 0 END),
		       SUM(CASE WHEN outcome IN ('complete', 'stopped') THEN 0 ELSE 1 END),
		       COALESCE(SUM(tokens), 0),
		       COALESCE(SUM(duration_ms), 0),
		       MAX(created_at)
		FROM generations
		GROUP BY model
		ORDER BY COUNT(*) DESC, model`)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum    Summary
			durMS  int64
			lastMS int64
		)
		if err := rows.Scan(&sum.Model, &sum.Calls, &sum.Completed, &sum.Failed, &sum.Tokens, &durMS, &lastMS); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		if durMS > 0 {
			sum.AvgTokensPerSecond = float64(sum.Tokens) / (float64(durMS) / 1000)
		}
		sum.LastCall = time.UnixMilli(lastMS)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Prune deletes generations and loads created before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for _, table := range []string{"generations", "loads"} {
		res, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE created_at < ?", cutoff.UnixMilli())
		if err != nil {
			return total, fmt.Errorf("prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if total > 0 {
		s.log.Info().Int64("rows", total).Time("cutoff", cutoff).Msg("pruned stats")
	}
	return total, nil
}
