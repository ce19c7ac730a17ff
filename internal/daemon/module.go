package daemon

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/matheus3301/nearby/internal/account"
	"github.com/matheus3301/nearby/internal/api"
	"github.com/matheus3301/nearby/internal/app"
	"github.com/matheus3301/nearby/internal/bus"
	"github.com/matheus3301/nearby/internal/config"
	"github.com/matheus3301/nearby/internal/lock"
	"github.com/matheus3301/nearby/internal/logging"
	"github.com/matheus3301/nearby/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved account configuration passed to the fx module.
type Params struct {
	AccountName string
	SocketPath  string // optional override for testing; empty = use default
	Debug       bool
	AutoScan    bool // start scanning once the client is up
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideConfig,
			provideStore,
			provideApp,
			provideService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(account.LogPath(p.AccountName), p.AccountName, p.Debug)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := account.EnsureDir(p.AccountName); err != nil {
		return nil, err
	}
	logger.Info("acquiring account lock", zap.String("account", p.AccountName))
	l, err := lock.Acquire(account.Dir(p.AccountName))
	if err != nil {
		return nil, err
	}
	logger.Info("account lock acquired")
	return l, nil
}

// provideConfig loads the account config. A first run gets a fresh profile
// id, written back so the identity survives restarts.
func provideConfig(p Params, _ *lock.Lock, logger *zap.Logger) (*config.Config, error) {
	path := account.ConfigPath(p.AccountName)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cfg.Profile.ID == "" {
		cfg.Profile.ID = uuid.NewString()
		if cfg.Profile.Name == "" {
			cfg.Profile.Name = p.AccountName
		}
		if err := config.Save(path, cfg); err != nil {
			return nil, fmt.Errorf("save config: %w", err)
		}
		logger.Info("created profile", zap.String("profile_id", cfg.Profile.ID), zap.String("path", path))
	}
	return cfg, nil
}

func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := account.DBPath(p.AccountName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Repaired {
		logger.Warn("reapplied interrupted cache migration", zap.Uint("version", result.Version))
	}
	if result.Changed {
		logger.Info("cache schema upgraded", zap.Uint("from", result.From), zap.Uint("to", result.Version))
	} else {
		logger.Debug("cache schema current", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideApp(p Params, cfg *config.Config, db *store.DB, b *bus.Bus, logger *zap.Logger) (*app.App, error) {
	return app.New(cfg, db, b, logger, app.Options{Account: p.AccountName})
}

func provideService(a *app.App, logger *zap.Logger) *api.Service {
	return api.NewService(a, logger.Named("api"))
}

func registerLifecycle(lc fx.Lifecycle, p Params, srv *Server, lk *lock.Lock, a *app.App, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := a.Start(ctx); err != nil {
				return err
			}

			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if p.AutoScan {
				if err := a.StartScanning(); err != nil {
					logger.Warn("auto-scan not started", zap.Error(err))
				}
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			a.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
