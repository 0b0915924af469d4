package cache

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/NaturalHistoryMuseum/synth-transform/internal/platform/config"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/platform/redis"
)

// Stores bundles both cache namespaces for one backend.
type Stores struct {
	Resolutions ResolutionStore
	Metadata    MetadataStore
	health      func(context.Context) error
	close       func() error
}

// Health pings the backend.
func (s *Stores) Health(ctx context.Context) error {
	if s.health == nil {
		return nil
	}
	return s.health(ctx)
}

// Close releases the backend connection.
func (s *Stores) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// Open connects the configured backend and, for Postgres, creates the cache
// tables.
func Open(ctx context.Context, cfg config.Cache, opts ...Option) (*Stores, error) {
	switch cfg.Backend {
	case config.CacheMemory:
		return &Stores{
			Resolutions: NewInMemoryResolutions(opts...),
			Metadata:    NewInMemoryMetadata(opts...),
		}, nil

	case config.CachePostgres:
		db, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open cache database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping cache database: %w", err)
		}
		if err := EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		return &Stores{
			Resolutions: NewPostgresResolutions(db, opts...),
			Metadata:    NewPostgresMetadata(db, opts...),
			health:      db.PingContext,
			close:       db.Close,
		}, nil

	case config.CacheRedis:
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("open cache redis: %w", err)
		}
		if client == nil {
			return nil, fmt.Errorf("open cache redis: no url configured")
		}
		return &Stores{
			Resolutions: NewRedisResolutions(client.Client, opts...),
			Metadata:    NewRedisMetadata(client.Client, opts...),
			health:      client.Health,
			close:       client.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
}
