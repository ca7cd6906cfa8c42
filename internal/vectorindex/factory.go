package vectorindex

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Config selects and configures a vector index backend.
type Config struct {
	// Provider is the backend name: "chromem" (default), "qdrant",
	// or "memory" for tests.
	Provider string

	Chromem ChromemConfig
	Qdrant  QdrantConfig
}

// New creates an Index for the configured provider.
//
//   - "chromem" (default): embedded store, no external dependencies
//   - "qdrant": external Qdrant server over gRPC
//   - "memory": non-persistent, for tests
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Index, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Provider {
	case "chromem", "":
		logger.Info("creating chromem vector index",
			zap.String("path", cfg.Chromem.Path),
			zap.String("collection", cfg.Chromem.Collection))
		return NewChromemIndex(cfg.Chromem)

	case "qdrant":
		logger.Info("creating qdrant vector index",
			zap.String("host", cfg.Qdrant.Host),
			zap.Int("port", cfg.Qdrant.Port),
			zap.String("collection", cfg.Qdrant.Collection))
		return NewQdrantIndex(ctx, cfg.Qdrant)

	case "memory":
		return NewMemoryIndex(), nil

	default:
		return nil, fmt.Errorf("%w: unsupported provider %q (supported: chromem, qdrant, memory)",
			ErrInvalidConfig, cfg.Provider)
	}
}
