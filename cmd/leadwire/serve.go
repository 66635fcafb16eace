package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/leadwire/leadwire/internal/channel"
	"github.com/leadwire/leadwire/internal/channel/adapters/botapi"
	"github.com/leadwire/leadwire/internal/channel/adapters/linked"
	"github.com/leadwire/leadwire/internal/channel/adapters/stub"
	"github.com/leadwire/leadwire/internal/config"
	"github.com/leadwire/leadwire/internal/db"
	"github.com/leadwire/leadwire/internal/dispatch"
	"github.com/leadwire/leadwire/internal/flow"
	"github.com/leadwire/leadwire/internal/handlers"
	"github.com/leadwire/leadwire/internal/inbox"
	"github.com/leadwire/leadwire/internal/logger"
	"github.com/leadwire/leadwire/internal/provider"
	"github.com/leadwire/leadwire/internal/responder"
	"github.com/leadwire/leadwire/internal/server"
	"github.com/leadwire/leadwire/internal/session"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideProviderClient,
			provideResponderClient,
			provideChannelStore,
			provideInboxStore,
			provideInboxService,
			provideChannelRegistry,
			provideSessionManager,
			provideDispatcher,
			provideTenantRouter,
			providePolicy,
			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideChannelsHandler),
			provideServerHandler(provideInboxHandler),
			provideServer,
		),
		fx.Invoke(
			wireRouterSink,
			startServer,
		),
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	pool, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { pool.Close(); return nil }})
	return pool, nil
}

func provideProviderClient(cfg config.Config) *provider.Client {
	return provider.NewClient(cfg.Provider)
}

func provideResponderClient(cfg config.Config) *responder.Client {
	return responder.NewClient(cfg.Responder)
}

func provideChannelStore(pool *pgxpool.Pool) *channel.Store {
	return channel.NewStore(pool)
}

func provideInboxStore(pool *pgxpool.Pool) *inbox.PGStore {
	return inbox.NewPGStore(pool)
}

func provideInboxService(log *slog.Logger, store *inbox.PGStore) *inbox.Service {
	return inbox.NewService(log, store)
}

func provideChannelRegistry(log *slog.Logger, providerClient *provider.Client) *channel.Registry {
	registry := channel.NewRegistry()
	registry.MustRegister(linked.NewWhatsApp(providerClient))
	registry.MustRegister(botapi.NewTelegramAdapter(log))
	registry.MustRegister(stub.NewInstagram())
	return registry
}

func provideSessionManager(lc fx.Lifecycle, log *slog.Logger, providerClient *provider.Client, store *channel.Store, cfg config.Config) *session.Manager {
	manager := session.NewManager(log, providerClient, store, cfg.Provider.PollIntervalDuration())
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { manager.Shutdown(); return nil }})
	return manager
}

func provideDispatcher(log *slog.Logger, registry *channel.Registry, store *channel.Store, inboxService *inbox.Service) *dispatch.Dispatcher {
	return dispatch.NewDispatcher(log, registry, store, inboxService)
}

func provideTenantRouter(log *slog.Logger, store *channel.Store, cfg config.Config) *channel.TenantRouter {
	return channel.NewTenantRouter(log, store, cfg.Router.DefaultTenant, cfg.Router.Strict)
}

func providePolicy(log *slog.Logger, inboxService *inbox.Service, store *channel.Store, responderClient *responder.Client, dispatcher *dispatch.Dispatcher) *flow.Policy {
	return flow.NewPolicy(log, inboxService, store, responderClient, dispatcher)
}

func provideChannelsHandler(log *slog.Logger, registry *channel.Registry, store *channel.Store, sessions *session.Manager, router *channel.TenantRouter) *handlers.ChannelsHandler {
	return handlers.NewChannelsHandler(log, registry, store, sessions, router)
}

func provideInboxHandler(inboxService *inbox.Service, dispatcher *dispatch.Dispatcher) *handlers.InboxHandler {
	return handlers.NewInboxHandler(inboxService, dispatcher)
}

type serverParams struct {
	fx.In
	Logger   *slog.Logger
	Config   config.Config
	Handlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.Handlers...)
}

func wireRouterSink(router *channel.TenantRouter, policy *flow.Policy) {
	router.SetSink(policy.HandleInbound)
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, channelStore *channel.Store, inboxStore *inbox.PGStore, cfg config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := channelStore.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("channel schema: %w", err)
			}
			if err := inboxStore.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("inbox schema: %w", err)
			}
			log.Info("starting server", slog.String("addr", cfg.Server.Addr))
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
