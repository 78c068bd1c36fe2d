package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nevindra/chunkindex"
	"github.com/nevindra/chunkindex/index"
	"github.com/nevindra/chunkindex/internal/config"
	"github.com/nevindra/chunkindex/observer"
	"github.com/nevindra/chunkindex/provider/resolve"
	"github.com/nevindra/chunkindex/store/postgres"
	"github.com/nevindra/chunkindex/store/qdrant"
	"github.com/nevindra/chunkindex/store/sqlite"
)

// openIndex builds an Index from cfg. withLLM also wires the completion
// provider, which only ask needs. Tests replace it.
var openIndex = func(ctx context.Context, cfg config.Config, logger *slog.Logger, withLLM bool) (*index.Index, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	var opts []index.Option
	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		pricing := make(map[string]observer.ModelPricing, len(cfg.Observer.Pricing))
		for model, p := range cfg.Observer.Pricing {
			pricing[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
		}
		var shutdown func(context.Context) error
		var err error
		inst, shutdown, err = observer.Init(ctx, pricing)
		if err != nil {
			return nil, nil, fmt.Errorf("init observer: %w", err)
		}
		cleanups = append(cleanups, func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Warn("observer shutdown failed", "error", err)
			}
		})
		opts = append(opts, index.WithInstruments(inst))
	}

	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	emb, err := newEmbedding(cfg, logger, inst)
	if err != nil {
		store.Close()
		cleanup()
		return nil, nil, err
	}
	opts = append(opts, index.WithStore(store), index.WithEmbedding(emb), index.WithLogger(logger))

	if withLLM {
		llm, err := resolve.Provider(resolve.Config{
			Provider: cfg.LLM.Provider,
			APIKey:   cfg.LLM.APIKey,
			Model:    cfg.LLM.Model,
			BaseURL:  cfg.LLM.BaseURL,
			Logger:   logger,
		})
		if err != nil {
			store.Close()
			cleanup()
			return nil, nil, err
		}
		llm = chunkindex.WithRetry(llm, chunkindex.RetryLogger(logger))
		if inst != nil {
			llm = observer.WrapProvider(llm, cfg.LLM.Model, inst)
		}
		opts = append(opts, index.WithProvider(llm))
	}

	ix, err := index.Open(ctx, indexConfig(cfg), opts...)
	if err != nil {
		store.Close()
		cleanup()
		return nil, nil, err
	}
	return ix, func() {
		if err := ix.Close(); err != nil {
			logger.Warn("close index failed", "error", err)
		}
		cleanup()
	}, nil
}

func newStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (chunkindex.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return sqlite.New(cfg.Store.Path, sqlite.WithLogger(logger)), nil
	case "postgres":
		return postgres.Open(ctx, cfg.Store.DSN,
			postgres.WithEmbeddingDimension(cfg.Embedding.Dimensions),
			postgres.WithLogger(logger))
	case "qdrant":
		return qdrant.New(qdrant.Config{
			Host:   cfg.Store.QdrantHost,
			Port:   cfg.Store.QdrantPort,
			APIKey: cfg.Store.QdrantAPIKey,
			UseTLS: cfg.Store.QdrantTLS,
		}, qdrant.WithLogger(logger))
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func newEmbedding(cfg config.Config, logger *slog.Logger, inst *observer.Instruments) (chunkindex.EmbeddingProvider, error) {
	emb, err := resolve.EmbeddingProvider(resolve.EmbeddingConfig{
		Provider:   cfg.Embedding.Provider,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		BaseURL:    cfg.Embedding.BaseURL,
		Dimensions: cfg.Embedding.Dimensions,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Embedding.RPM > 0 {
		emb = chunkindex.WithEmbeddingRateLimit(emb, chunkindex.RPM(cfg.Embedding.RPM))
	}
	if cfg.Embedding.MaxRetries > 0 {
		emb = chunkindex.WithEmbeddingRetry(emb,
			chunkindex.RetryMaxAttempts(cfg.Embedding.MaxRetries),
			chunkindex.RetryLogger(logger))
	}
	if inst != nil {
		emb = observer.WrapEmbedding(emb, cfg.Embedding.Model, inst)
	}
	return emb, nil
}

func indexConfig(cfg config.Config) index.Config {
	ic := index.DefaultConfig()
	ic.ParentCollection = cfg.Store.ParentsCollection
	ic.ChildCollection = cfg.Store.ChildrenCollection
	ic.ParentSize, ic.ParentOverlap = cfg.Split.ParentSize, cfg.Split.ParentOverlap
	ic.ChildSize, ic.ChildOverlap = cfg.Split.ChildSize, cfg.Split.ChildOverlap
	if cfg.Split.BatchSize > 0 {
		ic.BatchSize = cfg.Split.BatchSize
	}
	if cfg.Ingest.Workers > 0 {
		ic.Workers = cfg.Ingest.Workers
	}
	ic.ReplaceSource = cfg.Ingest.ReplaceSource

	if mode, ok := chunkindex.ParseSearchMode(cfg.Search.Mode); ok {
		ic.Search.Mode = mode
	}
	if cfg.Search.K > 0 {
		ic.Search.K = cfg.Search.K
	}
	if cfg.Search.FetchK > 0 {
		ic.Search.FetchK = cfg.Search.FetchK
	}
	ic.Search.LambdaMult = chunkindex.Float32(cfg.Search.LambdaMult)
	ic.Search.ScoreThreshold = chunkindex.Float32(cfg.Search.ScoreThreshold)
	return ic
}

// describeError adds the persisted counts of a partial ingest to err.
func describeError(err error) string {
	var se *chunkindex.StorageError
	if errors.As(err, &se) && (se.ParentsWritten > 0 || se.ChildrenWritten > 0) {
		return fmt.Sprintf("%v (persisted %d parents, %d children)", err, se.ParentsWritten, se.ChildrenWritten)
	}
	return err.Error()
}
