package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/contextcore/internal/config"
	"github.com/fyrsmithlabs/contextcore/internal/embeddings"
	"github.com/fyrsmithlabs/contextcore/internal/evolution"
	"github.com/fyrsmithlabs/contextcore/internal/logging"
	"github.com/fyrsmithlabs/contextcore/internal/primarystore"
	"github.com/fyrsmithlabs/contextcore/internal/retriever"
	"github.com/fyrsmithlabs/contextcore/internal/storage"
	"github.com/fyrsmithlabs/contextcore/internal/vectorindex"
)

// app holds the wired service graph shared by all commands.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    primarystore.Store
	index    vectorindex.Index
	embedder embeddings.Provider
	storage  *storage.Service
	retr     *retriever.Retriever
	engine   *evolution.Engine
}

// newApp loads configuration and wires the full dependency graph:
// logger, primary store, vector index, embedding provider, storage
// service, retriever, and evolution engine. On failure it closes
// whatever was already constructed.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	var err error

	switch a.cfg.Store.Provider {
	case "memory":
		a.store = primarystore.NewMemoryStore()
	default:
		a.store, err = primarystore.OpenSQLite(a.cfg.Store.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open primary store: %w", err)
		}
	}

	a.index, err = vectorindex.New(ctx, a.cfg.VectorIndexConfig(), a.logger)
	if err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}

	a.embedder, err = embeddings.NewProvider(a.cfg.EmbeddingsProviderConfig(), a.logger)
	if err != nil {
		return fmt.Errorf("failed to create embedding provider: %w", err)
	}

	a.storage, err = storage.NewService(a.store, a.index, a.embedder, a.cfg.StorageServiceConfig(), a.logger)
	if err != nil {
		return fmt.Errorf("failed to create storage service: %w", err)
	}

	a.retr, err = retriever.New(a.store, a.index, a.embedder, a.cfg.RetrieverConfig(), a.logger)
	if err != nil {
		return fmt.Errorf("failed to create retriever: %w", err)
	}

	a.engine, err = evolution.NewEngine(a.store, a.storage, a.cfg.EvolutionEngineConfig(), a.logger)
	if err != nil {
		return fmt.Errorf("failed to create evolution engine: %w", err)
	}

	return nil
}

// Close releases resources in reverse dependency order. Best-effort;
// close errors are logged, not returned.
func (a *app) Close() {
	if a.retr != nil {
		if err := a.retr.Close(); err != nil {
			a.logger.Warn("retriever close failed", zap.Error(err))
		}
	}
	if a.embedder != nil {
		if err := a.embedder.Close(); err != nil {
			a.logger.Warn("embedder close failed", zap.Error(err))
		}
	}
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			a.logger.Warn("vector index close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("primary store close failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync() // best-effort sync on shutdown
}
