package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/soundguard-ai/soundguard/internal/apperr"
	"github.com/soundguard-ai/soundguard/internal/model"
)

// Pool is the subset of *pgxpool.Pool the store needs. pgxmock satisfies it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS assets (
	id                      TEXT PRIMARY KEY,
	filename                TEXT NOT NULL,
	source_path             TEXT NOT NULL,
	format                  TEXT NOT NULL DEFAULT '',
	duration_seconds        DOUBLE PRECISION,
	sample_rate             INTEGER,
	channels                INTEGER,
	file_size               BIGINT NOT NULL,
	bitrate_kbps            INTEGER,
	created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
	enhanced_path           TEXT,
	enhancement_complete    BOOLEAN NOT NULL DEFAULT false,
	enhancement_result      JSONB,
	explainability_complete BOOLEAN NOT NULL DEFAULT false,
	explainability_result   JSONB,
	aqi_score               INTEGER CHECK (aqi_score BETWEEN 0 AND 100),
	aqi_result              JSONB,
	authenticity_score      INTEGER CHECK (authenticity_score BETWEEN 0 AND 100),
	tampering_detected      BOOLEAN,
	forensics_result        JSONB
);

CREATE INDEX IF NOT EXISTS idx_assets_created_at ON assets(created_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateAsset(ctx context.Context, reg model.Registration) (*model.Asset, error) {
	if err := validateRegistration(reg); err != nil {
		return nil, err
	}
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO assets (id, filename, source_path, format, duration_seconds, sample_rate, channels, file_size, bitrate_kbps, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		id, reg.Filename, reg.SourcePath, reg.Format, reg.DurationSeconds, reg.SampleRate, reg.Channels,
		reg.FileSize, reg.BitrateKbps, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert asset")
	}

	return newAsset(id, reg, now), nil
}

func (s *PostgresStore) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	id, err := parseID("get asset", id)
	if err != nil {
		return nil, err
	}
	a, err := scanAsset(s.pool.QueryRow(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("get asset", "asset "+id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get asset %s", id)
	}
	return a, nil
}

func (s *PostgresStore) ListAssets(ctx context.Context, filter AssetFilter) ([]model.Asset, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+assetColumns+` FROM assets ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, max(filter.Offset, 0),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list assets")
	}
	defer rows.Close()

	var assets []model.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan asset")
		}
		assets = append(assets, *a)
	}
	return assets, eris.Wrap(rows.Err(), "postgres: list assets iterate")
}

func (s *PostgresStore) DeleteAsset(ctx context.Context, id string) error {
	id, err := parseID("delete asset", id)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM assets WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete asset %s", id)
	}
	return checkTag(tag, "delete asset", id)
}

func (s *PostgresStore) MarkEnhanced(ctx context.Context, id, enhancedPath string, result *model.EnhancementResult) error {
	id, err := parseID("mark enhanced", id)
	if err != nil {
		return err
	}
	if enhancedPath == "" {
		return apperr.Validation("mark enhanced", "enhanced path is required")
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal enhancement result")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE assets SET enhanced_path = $1, enhancement_complete = true, enhancement_result = $2 WHERE id = $3`,
		enhancedPath, resultJSON, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark enhanced %s", id)
	}
	return checkTag(tag, "mark enhanced", id)
}

func (s *PostgresStore) MarkQuality(ctx context.Context, id string, score int, result *model.QualityResult) error {
	id, err := parseID("mark quality", id)
	if err != nil {
		return err
	}
	if err := validateScore("mark quality", score); err != nil {
		return err
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal quality result")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE assets SET aqi_score = $1, aqi_result = $2 WHERE id = $3`,
		score, resultJSON, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark quality %s", id)
	}
	return checkTag(tag, "mark quality", id)
}

func (s *PostgresStore) MarkForensics(ctx context.Context, id string, score int, tampered bool, result *model.ForensicsResult) error {
	id, err := parseID("mark forensics", id)
	if err != nil {
		return err
	}
	if err := validateScore("mark forensics", score); err != nil {
		return err
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal forensics result")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE assets SET authenticity_score = $1, tampering_detected = $2, forensics_result = $3 WHERE id = $4`,
		score, tampered, resultJSON, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark forensics %s", id)
	}
	return checkTag(tag, "mark forensics", id)
}

func (s *PostgresStore) MarkExplainability(ctx context.Context, id string, result *model.ExplainabilityResult) error {
	id, err := parseID("mark explainability", id)
	if err != nil {
		return err
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal explainability result")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE assets SET explainability_complete = true, explainability_result = $1 WHERE id = $2`,
		resultJSON, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark explainability %s", id)
	}
	return checkTag(tag, "mark explainability", id)
}

func checkTag(tag pgconn.CommandTag, op, id string) error {
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(op, "asset "+id)
	}
	return nil
}
