package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/soundguard-ai/soundguard/internal/apperr"
	"github.com/soundguard-ai/soundguard/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per connection; one connection keeps them applied and
	// serializes writers.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS assets (
	id                      TEXT PRIMARY KEY,
	filename                TEXT NOT NULL,
	source_path             TEXT NOT NULL,
	format                  TEXT NOT NULL DEFAULT '',
	duration_seconds        REAL,
	sample_rate             INTEGER,
	channels                INTEGER,
	file_size               INTEGER NOT NULL,
	bitrate_kbps            INTEGER,
	created_at              DATETIME NOT NULL DEFAULT (datetime('now')),
	enhanced_path           TEXT,
	enhancement_complete    INTEGER NOT NULL DEFAULT 0,
	enhancement_result      TEXT,
	explainability_complete INTEGER NOT NULL DEFAULT 0,
	explainability_result   TEXT,
	aqi_score               INTEGER,
	aqi_result              TEXT,
	authenticity_score      INTEGER,
	tampering_detected      INTEGER,
	forensics_result        TEXT
);

CREATE INDEX IF NOT EXISTS idx_assets_created_at ON assets(created_at);
`

const assetColumns = `id, filename, source_path, format, duration_seconds, sample_rate, channels,
	file_size, bitrate_kbps, created_at, enhanced_path,
	enhancement_complete, enhancement_result, explainability_complete, explainability_result,
	aqi_score, aqi_result, authenticity_score, tampering_detected, forensics_result`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateAsset(ctx context.Context, reg model.Registration) (*model.Asset, error) {
	if err := validateRegistration(reg); err != nil {
		return nil, err
	}
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assets (id, filename, source_path, format, duration_seconds, sample_rate, channels, file_size, bitrate_kbps, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, reg.Filename, reg.SourcePath, reg.Format, reg.DurationSeconds, reg.SampleRate, reg.Channels,
		reg.FileSize, reg.BitrateKbps, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert asset")
	}

	return newAsset(id, reg, now), nil
}

func (s *SQLiteStore) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	id, err := parseID("get asset", id)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = ?`, id)
	a, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("get asset", "asset "+id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get asset %s", id)
	}
	return a, nil
}

func (s *SQLiteStore) ListAssets(ctx context.Context, filter AssetFilter) ([]model.Asset, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+assetColumns+` FROM assets ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		limit, max(filter.Offset, 0),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list assets")
	}
	defer rows.Close()

	var assets []model.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan asset")
		}
		assets = append(assets, *a)
	}
	return assets, eris.Wrap(rows.Err(), "sqlite: list assets iterate")
}

func (s *SQLiteStore) DeleteAsset(ctx context.Context, id string) error {
	id, err := parseID("delete asset", id)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM assets WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete asset %s", id)
	}
	return checkRowsAffected(res, "delete asset", id)
}

func (s *SQLiteStore) MarkEnhanced(ctx context.Context, id, enhancedPath string, result *model.EnhancementResult) error {
	id, err := parseID("mark enhanced", id)
	if err != nil {
		return err
	}
	if enhancedPath == "" {
		return apperr.Validation("mark enhanced", "enhanced path is required")
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal enhancement result")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE assets SET enhanced_path = ?, enhancement_complete = 1, enhancement_result = ? WHERE id = ?`,
		enhancedPath, string(resultJSON), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark enhanced %s", id)
	}
	return checkRowsAffected(res, "mark enhanced", id)
}

func (s *SQLiteStore) MarkQuality(ctx context.Context, id string, score int, result *model.QualityResult) error {
	id, err := parseID("mark quality", id)
	if err != nil {
		return err
	}
	if err := validateScore("mark quality", score); err != nil {
		return err
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal quality result")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE assets SET aqi_score = ?, aqi_result = ? WHERE id = ?`,
		score, string(resultJSON), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark quality %s", id)
	}
	return checkRowsAffected(res, "mark quality", id)
}

func (s *SQLiteStore) MarkForensics(ctx context.Context, id string, score int, tampered bool, result *model.ForensicsResult) error {
	id, err := parseID("mark forensics", id)
	if err != nil {
		return err
	}
	if err := validateScore("mark forensics", score); err != nil {
		return err
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal forensics result")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE assets SET authenticity_score = ?, tampering_detected = ?, forensics_result = ? WHERE id = ?`,
		score, tampered, string(resultJSON), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark forensics %s", id)
	}
	return checkRowsAffected(res, "mark forensics", id)
}

func (s *SQLiteStore) MarkExplainability(ctx context.Context, id string, result *model.ExplainabilityResult) error {
	id, err := parseID("mark explainability", id)
	if err != nil {
		return err
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal explainability result")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE assets SET explainability_complete = 1, explainability_result = ? WHERE id = ?`,
		string(resultJSON), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark explainability %s", id)
	}
	return checkRowsAffected(res, "mark explainability", id)
}

// helpers

func checkRowsAffected(res sql.Result, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return apperr.NotFound(op, "asset "+id)
	}
	return nil
}

func newAsset(id string, reg model.Registration, createdAt time.Time) *model.Asset {
	return &model.Asset{
		ID:              id,
		Filename:        reg.Filename,
		SourcePath:      reg.SourcePath,
		Format:          reg.Format,
		DurationSeconds: reg.DurationSeconds,
		SampleRate:      reg.SampleRate,
		Channels:        reg.Channels,
		FileSize:        reg.FileSize,
		BitrateKbps:     reg.BitrateKbps,
		CreatedAt:       createdAt,
	}
}

type scannable interface {
	Scan(dest ...any) error
}

// assetRow mirrors the assets table with nullable columns, shared by both
// backends since pgx also honors sql.Scanner.
type assetRow struct {
	id, filename, sourcePath, format string
	duration                         sql.NullFloat64
	sampleRate, channels             sql.NullInt64
	fileSize                         int64
	bitrate                          sql.NullInt64
	createdAt                        time.Time
	enhancedPath                     sql.NullString
	enhancementComplete              bool
	enhancementResult                []byte
	explainabilityComplete           bool
	explainabilityResult             []byte
	aqiScore                         sql.NullInt64
	aqiResult                        []byte
	authenticityScore                sql.NullInt64
	tamperingDetected                sql.NullBool
	forensicsResult                  []byte
}

func scanAsset(row scannable) (*model.Asset, error) {
	var r assetRow
	err := row.Scan(
		&r.id, &r.filename, &r.sourcePath, &r.format, &r.duration, &r.sampleRate, &r.channels,
		&r.fileSize, &r.bitrate, &r.createdAt, &r.enhancedPath,
		&r.enhancementComplete, &r.enhancementResult, &r.explainabilityComplete, &r.explainabilityResult,
		&r.aqiScore, &r.aqiResult, &r.authenticityScore, &r.tamperingDetected, &r.forensicsResult,
	)
	if err != nil {
		return nil, err
	}
	return r.toAsset()
}

func (r *assetRow) toAsset() (*model.Asset, error) {
	a := &model.Asset{
		ID:         r.id,
		Filename:   r.filename,
		SourcePath: r.sourcePath,
		Format:     r.format,
		FileSize:   r.fileSize,
		CreatedAt:  r.createdAt.UTC(),
	}
	if r.duration.Valid {
		a.DurationSeconds = &r.duration.Float64
	}
	a.SampleRate = nullInt(r.sampleRate)
	a.Channels = nullInt(r.channels)
	a.BitrateKbps = nullInt(r.bitrate)
	if r.enhancedPath.Valid {
		a.EnhancedPath = &r.enhancedPath.String
	}

	if r.enhancementComplete && len(r.enhancementResult) > 0 {
		a.Results.Enhancement = &model.EnhancementResult{}
		if err := json.Unmarshal(r.enhancementResult, a.Results.Enhancement); err != nil {
			return nil, eris.Wrap(err, "unmarshal enhancement result")
		}
		a.Processing.EnhancementComplete = true
	}
	if r.explainabilityComplete && len(r.explainabilityResult) > 0 {
		a.Results.Explainability = &model.ExplainabilityResult{}
		if err := json.Unmarshal(r.explainabilityResult, a.Results.Explainability); err != nil {
			return nil, eris.Wrap(err, "unmarshal explainability result")
		}
		a.Processing.ExplainabilityComplete = true
	}
	if r.aqiScore.Valid && len(r.aqiResult) > 0 {
		a.Results.AQI = &model.QualityResult{}
		if err := json.Unmarshal(r.aqiResult, a.Results.AQI); err != nil {
			return nil, eris.Wrap(err, "unmarshal quality result")
		}
		a.Processing.AQIScore = nullInt(r.aqiScore)
	}
	if r.authenticityScore.Valid && len(r.forensicsResult) > 0 {
		a.Results.Forensics = &model.ForensicsResult{}
		if err := json.Unmarshal(r.forensicsResult, a.Results.Forensics); err != nil {
			return nil, eris.Wrap(err, "unmarshal forensics result")
		}
		a.Processing.AuthenticityScore = nullInt(r.authenticityScore)
		tampered := r.tamperingDetected.Valid && r.tamperingDetected.Bool
		a.Processing.TamperingDetected = &tampered
	}
	return a, nil
}

func nullInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
