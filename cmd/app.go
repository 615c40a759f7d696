package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/soundguard-ai/soundguard/internal/broadcast"
	"github.com/soundguard-ai/soundguard/internal/metrics"
	"github.com/soundguard-ai/soundguard/internal/orchestrator"
	"github.com/soundguard-ai/soundguard/internal/probe"
	"github.com/soundguard-ai/soundguard/internal/resilience"
	"github.com/soundguard-ai/soundguard/internal/storage"
	"github.com/soundguard-ai/soundguard/internal/store"
	"github.com/soundguard-ai/soundguard/internal/upload"
	"github.com/soundguard-ai/soundguard/pkg/analysis"
)

// appEnv holds every initialized component the commands need.
type appEnv struct {
	Store        store.Store
	Blobs        storage.Blob
	Gateway      analysis.Client
	Breaker      *resilience.Breaker
	Metrics      *metrics.Recorder
	Prober       *probe.Prober
	Orchestrator *orchestrator.Orchestrator
	Ingester     *upload.Ingester
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "soundguard.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore connects and migrates the record store.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func newGateway(rec *metrics.Recorder) (analysis.Client, *resilience.Breaker) {
	a := cfg.Analysis
	breaker := analysis.NewBreaker(a.BreakerThreshold, time.Duration(a.BreakerResetSecs)*time.Second,
		func(from, to resilience.State) {
			rec.BreakerState(to.String())
			zap.L().Warn("analysis circuit breaker changed state",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		})
	enhance, explain, quality, forensics := a.Timeouts()
	gw := analysis.NewClient(
		analysis.WithBaseURL(a.BaseURL),
		analysis.WithTimeouts(analysis.Timeouts{
			Enhance:   enhance,
			Explain:   explain,
			Quality:   quality,
			Forensics: forensics,
		}),
		analysis.WithRateLimit(a.RateLimit),
		analysis.WithBreaker(breaker),
	)
	return gw, breaker
}

// initApp wires the store, blob storage, provider client and orchestrator.
// events receives progress; callers own its lifecycle. Callers should defer
// env.Close().
func initApp(ctx context.Context, events broadcast.Emitter, rec *metrics.Recorder) (*appEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	blobs, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "init storage")
	}

	gw, breaker := newGateway(rec)
	prober := probe.New(cfg.Probe.FFprobePath, time.Duration(cfg.Probe.TimeoutSecs)*time.Second)
	orch := orchestrator.New(st, blobs, gw, events, orchestrator.WithMetrics(rec))
	ing := upload.New(blobs, prober, orch, upload.Limits{
		MaxBytes:          int64(cfg.Server.MaxUploadMB) << 20,
		AllowedExtensions: cfg.Server.AllowedExtensions,
	})

	zap.L().Debug("application initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("storage", blobs.Name()),
		zap.String("analysis", gw.BaseURL()),
	)

	return &appEnv{
		Store:        st,
		Blobs:        blobs,
		Gateway:      gw,
		Breaker:      breaker,
		Metrics:      rec,
		Prober:       prober,
		Orchestrator: orch,
		Ingester:     ing,
	}, nil
}
