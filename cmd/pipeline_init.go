package main

import (
	"context"

	"github.com/gofrs/flock"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/legis-enrich/internal/enrich"
	"github.com/sells-group/legis-enrich/internal/fetcher"
	"github.com/sells-group/legis-enrich/internal/ocr"
	"github.com/sells-group/legis-enrich/internal/pipeline"
	"github.com/sells-group/legis-enrich/internal/resilience"
	"github.com/sells-group/legis-enrich/internal/store"
	anthropicpkg "github.com/sells-group/legis-enrich/pkg/anthropic"
)

// pipelineEnv holds the store, the batch lock, and the pipeline needed by
// the batch commands.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	lock     *flock.Flock
}

// Close releases the batch lock and the store.
func (pe *pipelineEnv) Close() {
	if pe.lock != nil {
		if err := pe.lock.Unlock(); err != nil {
			zap.L().Warn("release batch lock", zap.Error(err))
		}
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initStore opens and migrates the configured store.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// acquireLock takes the batch lock file so two processes never schedule the
// same work items. It fails fast when another batch holds the lock.
func acquireLock(path string) (*flock.Flock, error) {
	if path == "" {
		return nil, nil
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, eris.Wrapf(err, "acquire batch lock %s", path)
	}
	if !ok {
		return nil, eris.Errorf("another batch is running (lock %s held)", path)
	}
	return lock, nil
}

// initPipeline validates config for mode, takes the batch lock, opens the
// store, and builds the collaborators the mode needs. Callers should defer
// env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	lock, err := acquireLock(cfg.Store.LockFile)
	if err != nil {
		return nil, err
	}
	env := &pipelineEnv{lock: lock}

	env.Store, err = initStore(ctx)
	if err != nil {
		env.Close()
		return nil, err
	}

	var (
		f         fetcher.Fetcher
		extractor ocr.Extractor
		aiClient  anthropicpkg.Client
		tax       *enrich.Taxonomy
	)

	if mode == "clean" || mode == "run" {
		f = fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent: cfg.Fetch.UserAgent,
			Timeout:   cfg.Fetch.Timeout,
			Retry: resilience.FromRetryConfig(
				cfg.Retry.MaxAttempts,
				cfg.Retry.InitialBackoff,
				cfg.Retry.MaxBackoff,
				cfg.Retry.Multiplier,
				cfg.Retry.JitterFraction,
			),
			RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
		})
		extractor, err = ocr.NewExtractor(cfg.OCR)
		if err != nil {
			env.Close()
			return nil, err
		}
	}

	if mode == "enrich" || mode == "classify" || mode == "run" {
		aiClient = anthropicpkg.NewClient(cfg.Anthropic.Key)
	}

	if mode == "classify" || mode == "run" {
		tax, err = enrich.LoadTaxonomy(cfg.Taxonomy)
		if err != nil {
			env.Close()
			return nil, err
		}
		zap.L().Info("taxonomy loaded", zap.Int("labels", len(tax.Labels())))
	}

	env.Pipeline = pipeline.New(cfg, env.Store, f, extractor, aiClient, tax)
	return env, nil
}
