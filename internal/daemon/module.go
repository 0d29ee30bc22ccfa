// Package daemon composes the session daemon: config, logging, the local
// store, the offline manager, and the realtime client, wired through fx.
package daemon

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/driftmsg/drift/internal/bus"
	"github.com/driftmsg/drift/internal/config"
	"github.com/driftmsg/drift/internal/lock"
	"github.com/driftmsg/drift/internal/logging"
	"github.com/driftmsg/drift/internal/offline"
	"github.com/driftmsg/drift/internal/realtime"
	"github.com/driftmsg/drift/internal/session"
	"github.com/driftmsg/drift/internal/store"
	"github.com/driftmsg/drift/internal/store/sqlite"
	"github.com/driftmsg/drift/internal/transport"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	ConfigPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideAdapter,
			provideAPIClient,
			provideRequester,
			provideManager,
			provideRealtime,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config.Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*sqlite.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, err := sqlite.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideAdapter(db *sqlite.DB) store.Adapter {
	return db
}

func provideAPIClient(cfg *config.Config) *transport.Client {
	return transport.NewClient(cfg.API.APIKey,
		transport.WithBaseURL(cfg.API.BaseURL),
		transport.WithTimeout(cfg.APITimeout()),
	)
}

func provideRequester(c *transport.Client) transport.Requester {
	return c
}

func provideManager(adapter store.Adapter, api transport.Requester, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *offline.Manager {
	return offline.New(adapter, api, b, logger, offline.Options{
		SyncOnConnect:       *cfg.Offline.SyncOnConnect,
		OutboxRetryLimit:    cfg.Offline.OutboxRetryLimit,
		OutboxFlushInterval: cfg.FlushInterval(),
		ConflictStrategy:    cfg.Offline.ConflictStrategy,
	})
}

func provideRealtime(cfg *config.Config, logger *zap.Logger) *realtime.Client {
	return realtime.New(cfg.API.BaseURL, realtime.Config{
		Token:             cfg.API.APIKey,
		AutoReconnect:     *cfg.Realtime.AutoReconnect,
		HeartbeatInterval: time.Duration(cfg.Realtime.HeartbeatIntervalSeconds) * time.Second,
	}, logger)
}

func registerLifecycle(lc fx.Lifecycle, mgr *offline.Manager, rt *realtime.Client, db *sqlite.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			mgr.Start()

			// Fold pushed messages into the local store.
			rt.On("message.new", func(eventType string, payload json.RawMessage) {
				var data map[string]any
				if json.Unmarshal(payload, &data) != nil {
					return
				}
				if err := mgr.HandleRealtimeEvent(eventType, data); err != nil {
					logger.Error("realtime event not applied", zap.Error(err))
				}
			})

			// Connectivity follows the push connection.
			rt.OnConnected(func() {
				mgr.SetOnline(true)
			})
			rt.OnDisconnected(func(reason string) {
				mgr.SetOnline(false)
			})

			go func() {
				if err := rt.Connect(context.Background()); err != nil {
					logger.Warn("realtime connect failed, operating offline", zap.Error(err))
					mgr.SetOnline(false)
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			if err := rt.Disconnect(); err != nil {
				logger.Warn("error closing realtime connection", zap.Error(err))
			}
			mgr.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
