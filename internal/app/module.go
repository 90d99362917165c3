package app

import (
	"context"
	"fmt"

	"github.com/periskope/chat/internal/backend"
	"github.com/periskope/chat/internal/bus"
	"github.com/periskope/chat/internal/config"
	"github.com/periskope/chat/internal/lock"
	"github.com/periskope/chat/internal/logging"
	"github.com/periskope/chat/internal/session"
	"github.com/periskope/chat/internal/thread"
	"github.com/periskope/chat/internal/tui"
	"github.com/periskope/chat/internal/tui/model"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
}

// Module returns the fx module for the client, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("periskope",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideClient,
			provideThreadManager,
			provideViewModel,
			provideApp,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load %s: %w (set api_url and api_key to your backend project)", session.ConfigPath(), err)
	}
	if err := cfg.Validate(); err != nil {
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
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired", zap.String("session", p.SessionName))
	return l, nil
}

func provideClient(p Params, cfg *config.Config, logger *zap.Logger) (*backend.Client, error) {
	client := backend.New(cfg.APIURL, cfg.APIKey, logger)

	// Install a previously saved token so session resolution can ask
	// the backend who it belongs to.
	token, err := session.LoadToken(session.TokenPath(p.SessionName))
	if err != nil {
		logger.Warn("read saved token failed", zap.Error(err))
	} else if token != "" {
		client.SetToken(token)
	}
	return client, nil
}

// liveFeed adapts the backend subscription to the thread manager's
// Feed interface.
type liveFeed struct {
	client *backend.Client
}

func (f liveFeed) Subscribe(ctx context.Context, chatID string) (<-chan backend.Message, func(), error) {
	sub, err := f.client.Subscribe(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}
	return sub.Events(), sub.Close, nil
}

func provideThreadManager(client *backend.Client, b *bus.Bus, logger *zap.Logger) *thread.Manager {
	return thread.NewManager(client, liveFeed{client: client}, b, logger)
}

func provideViewModel(p Params, client *backend.Client, threads *thread.Manager, logger *zap.Logger) *model.ViewModel {
	return model.NewViewModel(client, threads, session.TokenPath(p.SessionName), logger)
}

func provideApp(p Params, vm *model.ViewModel, b *bus.Bus) *tui.App {
	return tui.NewApp(vm, b, p.SessionName)
}

func registerLifecycle(lc fx.Lifecycle, sh fx.Shutdowner, ui *tui.App, threads *thread.Manager, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := ui.Run(); err != nil {
					logger.Error("ui error", zap.Error(err))
				}
				_ = sh.Shutdown()
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			ui.Stop()
			threads.Close()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("client stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
