package orchestrator

import (
	"context"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/soundguard-ai/soundguard/internal/apperr"
	"github.com/soundguard-ai/soundguard/internal/model"
	"github.com/soundguard-ai/soundguard/pkg/analysis"
)

// RunEnhancement denoises the asset's source, imports the enhanced file into
// storage and records it.
func (o *Orchestrator) RunEnhancement(ctx context.Context, id string, opts model.EnhanceOptions) (*model.EnhancementResult, error) {
	modelName, settings, err := opts.Resolve()
	if err != nil {
		return nil, err
	}
	a, err := o.load(ctx, analysis.OpEnhance, id)
	if err != nil {
		return nil, err
	}

	return run(ctx, o, a, model.ModuleEnhancement, func(ctx context.Context) (*model.EnhancementResult, error) {
		res, err := o.gateway.Enhance(ctx, o.blobFile(ctx, a.Filename, a.SourcePath), modelName, settings)
		if err != nil {
			return nil, err
		}

		// Each run imports under its own key so the file the record points at
		// is never overwritten before MarkEnhanced commits the new one.
		key := EnhancedKey(a, res.EnhancedFilePath, o.runID())
		if err := o.importEnhanced(ctx, key, res); err != nil {
			return nil, err
		}
		res.EnhancedFilePath = key
		res.EnhancedURL = o.fileURL(key)

		if err := o.store.MarkEnhanced(ctx, a.ID, key, res); err != nil {
			o.discard(ctx, key, a.EnhancedPath)
			return nil, err
		}
		if a.EnhancedPath != nil && *a.EnhancedPath != key {
			o.discard(ctx, *a.EnhancedPath, nil)
		}
		return res, nil
	})
}

// RunExplainability explains the noise in the source, comparing against the
// enhanced file when one is still in storage. Detections and the report are
// stored exactly as the provider returned them; a missing report is filled in.
func (o *Orchestrator) RunExplainability(ctx context.Context, id string) (*model.ExplainabilityResult, error) {
	a, err := o.load(ctx, analysis.OpExplain, id)
	if err != nil {
		return nil, err
	}

	return run(ctx, o, a, model.ModuleExplainability, func(ctx context.Context) (*model.ExplainabilityResult, error) {
		var enhanced *analysis.File
		if a.EnhancedPath != nil {
			ok, err := o.blobs.Exists(ctx, *a.EnhancedPath)
			if err != nil {
				zap.L().Warn("orchestrator: check enhanced file", zap.String("asset_id", a.ID), zap.Error(err))
			}
			if ok {
				f := o.blobFile(ctx, path.Base(*a.EnhancedPath), *a.EnhancedPath)
				enhanced = &f
			}
		}

		res, err := o.gateway.Explain(ctx, o.blobFile(ctx, a.Filename, a.SourcePath), enhanced)
		if err != nil {
			return nil, err
		}
		if res.Report == nil {
			res.Report = &model.ExplainabilityReport{DetectionCount: res.ReducedCount()}
		}
		if err := o.store.MarkExplainability(ctx, a.ID, res); err != nil {
			return nil, err
		}
		return res, nil
	})
}

// RunQualityScore scores the source. The score is clamped to [0, 100].
func (o *Orchestrator) RunQualityScore(ctx context.Context, id string) (*model.QualityResult, error) {
	a, err := o.load(ctx, analysis.OpQuality, id)
	if err != nil {
		return nil, err
	}

	return run(ctx, o, a, model.ModuleQuality, func(ctx context.Context) (*model.QualityResult, error) {
		res, err := o.gateway.ScoreQuality(ctx, o.blobFile(ctx, a.Filename, a.SourcePath))
		if err != nil {
			return nil, err
		}
		res.AQIScore = model.ClampScore(res.AQIScore)
		res.AQIBand = model.AQIBand(int(res.AQIScore))
		if err := o.store.MarkQuality(ctx, a.ID, int(res.AQIScore), res); err != nil {
			return nil, err
		}
		return res, nil
	})
}

// RunForensics checks the source for tampering. The authenticity score is
// clamped to [0, 100].
func (o *Orchestrator) RunForensics(ctx context.Context, id string) (*model.ForensicsResult, error) {
	a, err := o.load(ctx, analysis.OpForensics, id)
	if err != nil {
		return nil, err
	}

	return run(ctx, o, a, model.ModuleForensics, func(ctx context.Context) (*model.ForensicsResult, error) {
		res, err := o.gateway.DetectTampering(ctx, o.blobFile(ctx, a.Filename, a.SourcePath))
		if err != nil {
			return nil, err
		}
		res.AuthenticityScore = model.ClampScore(res.AuthenticityScore)
		res.Band = model.AuthenticityBand(int(res.AuthenticityScore))
		if err := o.store.MarkForensics(ctx, a.ID, int(res.AuthenticityScore), res.TamperingDetected, res); err != nil {
			return nil, err
		}
		return res, nil
	})
}

// Run dispatches to the module's run method. opts only applies to
// enhancement.
func (o *Orchestrator) Run(ctx context.Context, id string, module model.Module, opts model.EnhanceOptions) (any, error) {
	switch module {
	case model.ModuleEnhancement:
		return o.RunEnhancement(ctx, id, opts)
	case model.ModuleExplainability:
		return o.RunExplainability(ctx, id)
	case model.ModuleQuality:
		return o.RunQualityScore(ctx, id)
	case model.ModuleForensics:
		return o.RunForensics(ctx, id)
	default:
		return nil, apperr.Validation("run", "unknown module %q", module)
	}
}

// Outcome is the result of one module inside RunAll.
type Outcome struct {
	Module model.Module `json:"module"`
	Result any          `json:"result,omitempty"`
	Err    error        `json:"-"`
}

// RunAll runs quality scoring, forensics and enhancement concurrently, then
// explainability so it can compare against the fresh enhanced file. A failing
// module never stops the others. Outcomes are ordered as model.Modules.
func (o *Orchestrator) RunAll(ctx context.Context, id string, opts model.EnhanceOptions) ([]Outcome, error) {
	if _, err := o.load(ctx, "run_all", id); err != nil {
		return nil, err
	}

	var (
		mu       sync.Mutex
		outcomes = make(map[model.Module]Outcome, len(model.Modules))
	)
	record := func(m model.Module, res any, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			res = nil
		}
		outcomes[m] = Outcome{Module: m, Result: res, Err: err}
	}

	var g errgroup.Group
	for _, m := range []model.Module{model.ModuleQuality, model.ModuleForensics, model.ModuleEnhancement} {
		g.Go(func() error {
			res, err := o.Run(ctx, id, m, opts)
			record(m, res, err)
			return nil
		})
	}
	_ = g.Wait()

	res, err := o.RunExplainability(ctx, id)
	record(model.ModuleExplainability, res, err)

	ordered := make([]Outcome, 0, len(model.Modules))
	for _, m := range model.Modules {
		ordered = append(ordered, outcomes[m])
	}
	return ordered, nil
}

// EnhancedKey is the storage key of one enhancement run's output. The
// extension follows the provider's output, falling back to the source's.
func EnhancedKey(a *model.Asset, providerPath, run string) string {
	ext := strings.ToLower(path.Ext(strings.ReplaceAll(providerPath, "\\", "/")))
	if ext == "" {
		ext = strings.ToLower(path.Ext(a.SourcePath))
	}
	return "enhanced/" + a.ID + "_enhanced_" + run + ext
}

// importEnhanced copies the provider's output into storage and confirms it
// landed, so the record never points at a missing file.
func (o *Orchestrator) importEnhanced(ctx context.Context, key string, res *model.EnhancementResult) error {
	src, err := o.openEnhanced(ctx, res)
	if err != nil {
		return err
	}
	defer src.Close() //nolint:errcheck

	if _, err := o.blobs.Put(ctx, key, src); err != nil {
		return eris.Wrapf(err, "enhance: store enhanced file %s", key)
	}
	ok, err := o.blobs.Exists(ctx, key)
	if err != nil {
		return eris.Wrapf(err, "enhance: verify enhanced file %s", key)
	}
	if !ok {
		return eris.Errorf("enhance: enhanced file %s missing after import", key)
	}
	return nil
}

func (o *Orchestrator) openEnhanced(ctx context.Context, res *model.EnhancementResult) (io.ReadCloser, error) {
	if p := res.EnhancedFilePath; p != "" {
		if f, err := o.providerFs.Open(p); err == nil {
			if info, serr := f.Stat(); serr == nil && !info.IsDir() {
				return f, nil
			}
			_ = f.Close()
		}
	}
	if res.EnhancedURL != "" {
		return o.gateway.Download(ctx, res.EnhancedURL)
	}
	return nil, apperr.Upstream(analysis.OpEnhance, http.StatusBadGateway, "provider returned no retrievable enhanced file")
}

// discard removes a blob that is no longer referenced, unless it is keep.
func (o *Orchestrator) discard(ctx context.Context, key string, keep *string) {
	if keep != nil && *keep == key {
		return
	}
	if err := o.blobs.Delete(ctx, key); err != nil {
		zap.L().Warn("orchestrator: remove unreferenced enhanced file", zap.String("key", key), zap.Error(err))
	}
}
