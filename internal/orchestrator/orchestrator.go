// Package orchestrator runs analysis modules against stored assets. It is the
// only component callers drive directly: it checks the asset, reports
// progress, calls the provider and persists the outcome.
package orchestrator

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/soundguard-ai/soundguard/internal/apperr"
	"github.com/soundguard-ai/soundguard/internal/broadcast"
	"github.com/soundguard-ai/soundguard/internal/model"
	"github.com/soundguard-ai/soundguard/internal/storage"
	"github.com/soundguard-ai/soundguard/internal/store"
	"github.com/soundguard-ai/soundguard/pkg/analysis"
)

// RunMetrics records finished module runs. *metrics.Recorder implements it.
type RunMetrics interface {
	ObserveRun(module, status string, elapsed time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) ObserveRun(string, string, time.Duration) {}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records run outcomes.
func WithMetrics(m RunMetrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithFileURL sets how storage keys are turned into URLs in summaries.
func WithFileURL(fn func(key string) string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.fileURL = fn
		}
	}
}

// WithProviderFs sets the filesystem enhanced files are read from when the
// provider shares a disk with this process.
func WithProviderFs(fs afero.Fs) Option {
	return func(o *Orchestrator) {
		if fs != nil {
			o.providerFs = fs
		}
	}
}

// Orchestrator coordinates the store, blob storage, the provider and the
// progress feed.
type Orchestrator struct {
	store      store.Store
	blobs      storage.Blob
	gateway    analysis.Client
	events     broadcast.Emitter
	metrics    RunMetrics
	fileURL    func(key string) string
	providerFs afero.Fs
	runID      func() string
}

// New creates an Orchestrator.
func New(st store.Store, blobs storage.Blob, gw analysis.Client, events broadcast.Emitter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      st,
		blobs:      blobs,
		gateway:    gw,
		events:     events,
		metrics:    noopMetrics{},
		fileURL:    func(key string) string { return "/files/" + key },
		providerFs: afero.NewOsFs(),
		runID:      func() string { return uuid.NewString()[:8] },
	}
	if o.events == nil {
		o.events = discardEvents{}
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type discardEvents struct{}

func (discardEvents) Emit(model.ProgressEvent) {}

// RegisterUpload records an asset whose source file is already in storage.
// Removing the file when registration fails is the uploader's job.
func (o *Orchestrator) RegisterUpload(ctx context.Context, reg model.Registration) (*model.AssetSummary, error) {
	a, err := o.store.CreateAsset(ctx, reg)
	if err != nil {
		return nil, err
	}
	zap.L().Info("orchestrator: registered asset",
		zap.String("asset_id", a.ID),
		zap.String("filename", a.Filename),
		zap.Int64("size", a.FileSize),
	)
	s := o.Summarize(a)
	return &s, nil
}

// GetAsset returns the stored asset.
func (o *Orchestrator) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	return o.store.GetAsset(ctx, id)
}

// ListAssets returns assets newest first.
func (o *Orchestrator) ListAssets(ctx context.Context, filter store.AssetFilter) ([]model.Asset, error) {
	return o.store.ListAssets(ctx, filter)
}

// Summarize builds the caller-facing view of a.
func (o *Orchestrator) Summarize(a *model.Asset) model.AssetSummary {
	return model.Summarize(a, o.fileURL)
}

// OpenFile streams a stored blob.
func (o *Orchestrator) OpenFile(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := o.blobs.Open(ctx, key)
	if errors.Is(err, storage.ErrNotExist) {
		return nil, apperr.NotFound("file", "file "+key)
	}
	return rc, err
}

// DeleteAsset removes the asset's files and then its record. File removal
// failures are logged and do not stop the record from being deleted.
func (o *Orchestrator) DeleteAsset(ctx context.Context, id string) error {
	a, err := o.store.GetAsset(ctx, id)
	if err != nil {
		return err
	}
	log := zap.L().With(zap.String("asset_id", a.ID))

	keys := []string{a.SourcePath}
	if a.EnhancedPath != nil {
		keys = append(keys, *a.EnhancedPath)
	}
	for _, key := range keys {
		if err := o.blobs.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrNotExist) {
			log.Error("orchestrator: delete file", zap.String("key", key), zap.Error(err))
		}
	}

	if err := o.store.DeleteAsset(ctx, a.ID); err != nil {
		log.Error("orchestrator: files removed but record deletion failed", zap.Error(err))
		return err
	}
	log.Info("orchestrator: deleted asset")
	return nil
}

// load fetches the asset and confirms its source is still in storage. It
// runs before any progress event so a missing file produces none.
func (o *Orchestrator) load(ctx context.Context, op, id string) (*model.Asset, error) {
	a, err := o.store.GetAsset(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := o.blobs.Exists(ctx, a.SourcePath)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: check source %s", op, a.SourcePath)
	}
	if !ok {
		return nil, apperr.SourceMissing(op, a.SourcePath)
	}
	return a, nil
}

// blobFile adapts a stored blob to a provider upload part.
func (o *Orchestrator) blobFile(ctx context.Context, name, key string) analysis.File {
	return analysis.File{
		Name: name,
		Open: func() (io.ReadCloser, error) { return o.blobs.Open(ctx, key) },
	}
}

// run brackets fn with progress events. The caller's cancellation is
// detached so the provider call and the write that follows always finish.
func run[T any](ctx context.Context, o *Orchestrator, a *model.Asset, module model.Module, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx = context.WithoutCancel(ctx)
	log := zap.L().With(zap.String("asset_id", a.ID), zap.String("module", string(module)))

	o.events.Emit(model.NewProgressEvent(a.ID, module, model.StatusProcessing, ""))
	start := time.Now()

	res, err := fn(ctx)
	elapsed := time.Since(start)
	if err != nil {
		o.metrics.ObserveRun(string(module), string(model.StatusError), elapsed)
		o.events.Emit(model.NewProgressEvent(a.ID, module, model.StatusError, apperr.Message(err)))
		log.Warn("orchestrator: module run failed",
			zap.String("kind", string(apperr.KindOf(err))),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		var zero T
		return zero, err
	}

	o.metrics.ObserveRun(string(module), string(model.StatusComplete), elapsed)
	o.events.Emit(model.NewProgressEvent(a.ID, module, model.StatusComplete, ""))
	log.Info("orchestrator: module run complete", zap.Duration("elapsed", elapsed))
	return res, nil
}
