package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"cloud.google.com/go/datastore"
	"github.com/glebarez/sqlite"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/panyam/portalauth/client"
	"github.com/panyam/portalauth/client/stores/fs"
	"github.com/panyam/portalauth/client/stores/gae"
	gormstore "github.com/panyam/portalauth/client/stores/gorm"
	redisstore "github.com/panyam/portalauth/client/stores/redis"
	"github.com/panyam/portalauth/internal/config"
)

func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.GlobalString(flagConfig)
	if path != "" {
		var err error
		if path, err = homedir.Expand(path); err != nil {
			return nil, errors.Wrap(err, "error expanding config path")
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, errors.Wrap(err, "error loading configuration")
	}
	setupLogging(cfg)
	return cfg, nil
}

func setupLogging(cfg *config.Config) {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(cfg.Level()).
		With().Timestamp().Str("app", cfg.App.Name).
		Logger()
}

// newStore opens the configured credential store. The returned func releases
// its connections.
func newStore(ctx context.Context, cfg *config.Config) (client.CredentialStore, func(), error) {
	noop := func() {}
	serverURL := cfg.Portal.APIURL

	switch cfg.Store.Kind {
	case config.StoreMemory:
		return client.NewMemoryCredentialStore(), noop, nil

	case config.StoreFS:
		store, err := fs.NewFSCredentialStore(cfg.Store.Path, cfg.App.Name, serverURL,
			fs.WithPassphrase(cfg.Store.Passphrase))
		if err != nil {
			// The session starts anonymous and lives in memory until the
			// file is repaired or removed
			log.Warn().Err(err).Str("path", cfg.Store.Path).
				Msg("credentials file unusable, keeping session in memory")
			return client.NewMemoryCredentialStore(), noop, nil
		}
		return store, noop, nil

	case config.StoreSQLite:
		path, err := homedir.Expand(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, errors.Wrap(err, "error expanding sqlite path")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, nil, errors.Wrap(err, "error creating sqlite directory")
		}
		db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			return nil, nil, errors.Wrap(err, "error opening sqlite database")
		}
		if err := gormstore.AutoMigrate(db); err != nil {
			return nil, nil, errors.Wrap(err, "error migrating sqlite database")
		}
		closeDB := func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}
		store, err := gormstore.NewCredentialStore(db, serverURL)
		if err != nil {
			closeDB()
			return nil, nil, err
		}
		return store.WithContext(ctx), closeDB, nil

	case config.StoreRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		var opts []redisstore.Option
		if cfg.Store.RedisKeyPrefix != "" {
			opts = append(opts, redisstore.WithKeyPrefix(cfg.Store.RedisKeyPrefix))
		}
		store, err := redisstore.NewCredentialStore(rdb, serverURL, opts...)
		if err != nil {
			rdb.Close()
			return nil, nil, err
		}
		return store.WithContext(ctx), func() { rdb.Close() }, nil

	case config.StoreDatastore:
		dsClient, err := datastore.NewClient(ctx, cfg.Store.DatastoreProject)
		if err != nil {
			return nil, nil, errors.Wrap(err, "error creating datastore client")
		}
		store, err := gae.NewCredentialStore(dsClient, cfg.Store.DatastoreNamespace, serverURL)
		if err != nil {
			dsClient.Close()
			return nil, nil, err
		}
		return store.WithContext(ctx), func() { dsClient.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown credential store %q", cfg.Store.Kind)
}

func newManager(cfg *config.Config, store client.CredentialStore, metrics *client.Metrics) *client.Manager {
	backend := client.NewAPIClient(cfg.Portal.APIURL, client.WithRequestTimeout(cfg.Portal.RequestTimeout))
	return client.NewManager(store, backend,
		client.WithLogger(log.Logger.With().Str("component", "session").Logger()),
		client.WithRefreshMargin(cfg.Session.RefreshMargin),
		client.WithRefreshFloor(cfg.Session.RefreshFloor),
		client.WithRefreshTimeout(cfg.Session.RefreshTimeout),
		client.WithMetrics(metrics),
	)
}

// openSession loads config, opens the store and builds a manager for the
// one-shot commands. The returned func closes everything.
func openSession(ctx context.Context, c *cli.Context) (*client.Manager, func(), error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	store, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	manager := newManager(cfg, store, nil)
	return manager, func() {
		manager.Close()
		closeStore()
	}, nil
}
