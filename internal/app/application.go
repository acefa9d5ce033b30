// Package app wires the client core together: durable store, signal bus,
// message bridge, session manager, token lifecycle and the optimistic sync
// engine, all under one lifecycle manager.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/promptlift/clientcore/internal/app/system"
	"github.com/promptlift/clientcore/internal/bridge"
	"github.com/promptlift/clientcore/internal/config"
	"github.com/promptlift/clientcore/internal/counter"
	"github.com/promptlift/clientcore/internal/events"
	"github.com/promptlift/clientcore/internal/session"
	"github.com/promptlift/clientcore/internal/store"
	"github.com/promptlift/clientcore/internal/token"
	"github.com/promptlift/clientcore/pkg/logger"
)

// Options carries the injectable collaborators. Nil fields fall back to
// config-driven defaults.
type Options struct {
	Store          store.Store
	Bus            events.Bus
	SessionBuilder session.Builder
	Flow           token.InteractiveFlow
	HTTPClient     *http.Client
}

// Application ties the client core modules together and manages their
// lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Config   *config.Config
	Store    store.Store
	Bus      events.Bus
	Bridge   *bridge.Bridge
	Sessions *session.Manager
	Tokens   *token.Manager
	Counter  *counter.Engine
}

// New builds a fully initialised application from the configuration.
func New(cfg *config.Config, opts Options) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logger.New("app", cfg.Log.Level, cfg.Log.Format)

	st := opts.Store
	if st == nil {
		switch cfg.Store.Backend {
		case "redis":
			redisStore, err := store.NewRedis(cfg.Store.RedisAddr, cfg.Store.RedisPassword, cfg.Store.RedisDB, "clientcore")
			if err != nil {
				return nil, fmt.Errorf("connect redis store: %w", err)
			}
			st = redisStore
		default:
			st = store.NewMemory()
		}
	}

	bus := opts.Bus
	if bus == nil {
		bus = events.NewRingBuffer(256)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Remote.RequestTimeout.Std()}
	}

	transport := bridge.NewLocal()
	msgBridge := bridge.New(transport, cfg.Bridge.ResponseTimeout.Std(),
		cfg.Bridge.RatePerSecond, cfg.Bridge.Burst, log.WithField("component", "bridge"))

	builder := opts.SessionBuilder
	if builder == nil {
		builder = defaultSessionBuilder(cfg)
	}
	sessions := session.NewManager(builder, log.WithField("component", "session"), bus)

	provider, err := token.NewHTTPProvider(httpClient, cfg.Auth.BaseURL, log.WithField("component", "auth"))
	if err != nil {
		return nil, fmt.Errorf("configure credential provider: %w", err)
	}
	tokenOpts := []token.Option{token.WithRefreshThreshold(cfg.Auth.RefreshThreshold.Std())}
	if opts.Flow != nil {
		tokenOpts = append(tokenOpts, token.WithInteractiveFlow(opts.Flow))
	}
	tokens := token.NewManager(provider, st, log.WithField("component", "token"), bus, tokenOpts...)

	remote, err := counter.NewHTTPAuthority(httpClient, cfg.Remote.BaseURL,
		cfg.Remote.HealthTimeout.Std(), cfg.Remote.RequestTimeout.Std(), log.WithField("component", "remote"))
	if err != nil {
		return nil, fmt.Errorf("configure remote authority: %w", err)
	}
	engine := counter.NewEngine(remote, st, tokens, log.WithField("component", "counter"), bus,
		counter.WithRetryBackoff(cfg.Sync.RetryBackoff.Std()),
		counter.WithPendingCeiling(cfg.Sync.PendingCeiling.Std()))

	manager := system.NewManager()
	monitor := token.NewMonitor(tokens, cfg.Auth.MonitorSchedule, log.WithField("component", "token-monitor"))
	reaper := counter.NewReaper(engine, cfg.Sync.ReaperSchedule, log.WithField("component", "pending-reaper"))
	for _, svc := range []system.Service{monitor, reaper} {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:  manager,
		log:      log,
		Config:   cfg,
		Store:    st,
		Bus:      bus,
		Bridge:   msgBridge,
		Sessions: sessions,
		Tokens:   tokens,
		Counter:  engine,
	}, nil
}

// defaultSessionBuilder derives the session payload from configuration.
func defaultSessionBuilder(cfg *config.Config) session.Builder {
	return func(context.Context) (*session.Payload, error) {
		payload := &session.Payload{
			RemoteBaseURL: cfg.Remote.BaseURL,
			AuthBaseURL:   cfg.Auth.BaseURL,
			Capabilities:  make(map[string]bool, len(session.RequiredCapabilities)),
		}
		for _, capability := range session.RequiredCapabilities {
			payload.Capabilities[capability] = true
		}
		return payload, nil
	}
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start restores persisted credential material and begins the background
// services.
func (a *Application) Start(ctx context.Context) error {
	if err := a.Tokens.Restore(ctx); err != nil {
		a.log.WithError(err).Warn("restore persisted session")
	}
	if _, err := a.Sessions.Acquire(ctx); err != nil {
		return err
	}
	return a.manager.Start(ctx)
}

// Stop halts background services, drains in-flight sync work and tears down
// the session instance.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	a.Counter.Flush()
	a.Sessions.Destroy()
	return err
}
