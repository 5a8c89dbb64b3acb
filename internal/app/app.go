// Package app wires configuration into the components both binaries share.
package app

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"dojoattend/internal/attendance"
	"dojoattend/internal/config"
	"dojoattend/internal/logger"
	"dojoattend/internal/queue"
	"dojoattend/internal/store"
)

// Logger builds the process logger: console output in dev, JSON otherwise.
func Logger(cfg config.App) zerolog.Logger {
	if cfg.Env == "dev" {
		return logger.Console(cfg.LogLevel)
	}
	return logger.New(cfg.LogLevel, os.Stdout)
}

// Core holds the long-lived pieces of the check-in pipeline.
type Core struct {
	Store    attendance.Store
	Queue    *queue.Engine
	Triggers *queue.Triggers
	Classes  *attendance.ClassSelector
	Resolver *attendance.Resolver
	Service  *attendance.Service
	Redis    *store.Redis

	closers []io.Closer
}

// Build opens the configured store and queue backends. A database that is
// down at startup is tolerated; the queue starts offline and the probe brings
// it online.
func Build(ctx context.Context, cfg config.App, createdBy string, log zerolog.Logger) (*Core, error) {
	c := &Core{}
	online := true

	switch cfg.StoreBackend {
	case "memory":
		log.Warn().Msg("using in-memory attendance store")
		c.Store = attendance.NewMemoryStore()
	case "postgres", "":
		db, err := store.NewDB(cfg.DatabaseURL)
		if db == nil {
			return nil, err
		}
		c.closers = append(c.closers, db)
		repo := attendance.NewRepository(db.Client)
		if err != nil {
			log.Warn().Err(err).Msg("database not reachable, starting offline")
			online = false
		} else if cfg.AutoMigrate {
			if err := repo.Migrate(ctx); err != nil {
				c.Close()
				return nil, errors.Wrap(err, "migrate")
			}
			log.Info().Msg("schema migrated")
		}
		c.Store = repo
	default:
		return nil, errors.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	storage, err := c.openQueueStorage(cfg, log)
	if err != nil {
		c.Close()
		return nil, err
	}
	engine, err := queue.New(ctx, storage, attendance.NewReplayer(c.Store), queue.Options{
		MaxRetries:     cfg.SyncMaxRetries,
		AttemptTimeout: cfg.PersistTimeout,
		StartOffline:   !online,
		Logger:         log,
	})
	if err != nil {
		_ = storage.Close()
		c.Close()
		return nil, err
	}
	c.Queue = engine

	c.Triggers, err = queue.NewTriggers(engine, c.Store, cfg.ProbeInterval, cfg.SyncInterval)
	if err != nil {
		c.Close()
		return nil, err
	}

	c.Classes = attendance.NewClassSelector(c.Store, cfg.ClassLookback, cfg.ClassLookahead, log)
	c.Resolver = attendance.NewResolver(c.Store, c.Classes, engine, attendance.ResolverOptions{
		PersistTimeout: cfg.PersistTimeout,
		Notify:         cfg.NotifyOnCheckIn,
		CreatedBy:      createdBy,
	}, log)
	c.Service = attendance.NewService(c.Store, c.Classes, engine, cfg.PersistTimeout, log)
	return c, nil
}

func (c *Core) openQueueStorage(cfg config.App, log zerolog.Logger) (queue.Storage, error) {
	switch cfg.QueueBackend {
	case "memory":
		log.Warn().Msg("offline queue is not durable")
		return queue.NewMemoryStorage(), nil
	case "redis":
		c.Redis = store.NewRedis(cfg.RedisAddr)
		c.closers = append(c.closers, c.Redis)
		return queue.NewRedisStorage(c.Redis.Client, cfg.QueueKey), nil
	case "sqlite", "":
		s, err := queue.OpenSQLite(cfg.QueuePath, cfg.QueueKey)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", cfg.QueuePath).Msg("offline queue opened")
		return s, nil
	}
	return nil, errors.Errorf("unknown QUEUE_BACKEND %q", cfg.QueueBackend)
}

// Start begins the probe and sync schedule.
func (c *Core) Start() {
	if c.Triggers != nil {
		c.Triggers.Start()
	}
}

// Close stops the schedule, waits for in-flight passes and releases every
// backend.
func (c *Core) Close() {
	if c.Triggers != nil {
		c.Triggers.Stop()
	}
	if c.Queue != nil {
		_ = c.Queue.Close()
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		_ = c.closers[i].Close()
	}
}
