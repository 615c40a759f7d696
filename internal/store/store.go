package store

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/soundguard-ai/soundguard/internal/apperr"
	"github.com/soundguard-ai/soundguard/internal/model"
)

// AssetFilter specifies criteria for listing assets.
type AssetFilter struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// Store persists assets and the outcome of every module run against them.
//
// Each Mark method is a single statement confined to its own module's
// columns, so readers observe either the old or the new state of that module
// and concurrent runs of different modules never touch each other's fields.
// Two concurrent runs of the same module on the same asset race and the
// later write wins.
type Store interface {
	// Assets
	CreateAsset(ctx context.Context, reg model.Registration) (*model.Asset, error)
	GetAsset(ctx context.Context, id string) (*model.Asset, error)
	ListAssets(ctx context.Context, filter AssetFilter) ([]model.Asset, error)
	DeleteAsset(ctx context.Context, id string) error

	// Module results
	MarkEnhanced(ctx context.Context, id, enhancedPath string, result *model.EnhancementResult) error
	MarkQuality(ctx context.Context, id string, score int, result *model.QualityResult) error
	MarkForensics(ctx context.Context, id string, score int, tampered bool, result *model.ForensicsResult) error
	MarkExplainability(ctx context.Context, id string, result *model.ExplainabilityResult) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

func validateRegistration(reg model.Registration) error {
	var missing []string
	if strings.TrimSpace(reg.Filename) == "" {
		missing = append(missing, "filename")
	}
	if strings.TrimSpace(reg.SourcePath) == "" {
		missing = append(missing, "source path")
	}
	if reg.FileSize <= 0 {
		missing = append(missing, "file size")
	}
	if len(missing) > 0 {
		return apperr.Validation("register", "missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// parseID normalizes an asset id, rejecting anything that is not a UUID.
func parseID(op, id string) (string, error) {
	u, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", apperr.InvalidID(op, id)
	}
	return u.String(), nil
}

func validateScore(op string, score int) error {
	if score < 0 || score > 100 {
		return apperr.Validation(op, "score %d outside [0, 100]", score)
	}
	return nil
}
