package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/chinmina/weixin-bridge/internal/account"
	"github.com/chinmina/weixin-bridge/internal/audit"
	"github.com/chinmina/weixin-bridge/internal/cache"
	"github.com/chinmina/weixin-bridge/internal/config"
	"github.com/chinmina/weixin-bridge/internal/credential"
	"github.com/chinmina/weixin-bridge/internal/invoke"
	"github.com/chinmina/weixin-bridge/internal/observe"
	"github.com/chinmina/weixin-bridge/internal/server"
	"github.com/chinmina/weixin-bridge/internal/token"
	"github.com/chinmina/weixin-bridge/internal/transport"
	"github.com/justinas/alice"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// The request body size is limited to prevent accidental or deliberate abuse.
// Platform API payloads are small; media uploads are not proxied.
const requestLimitBytes = int64(1 << 20) // 1 MB

func configureServerRoutes(cfg config.Config, source CredentialSource, call Caller) http.Handler {
	// wrap a mux such that HTTP telemetry is configured by default
	muxWithoutTelemetry := http.NewServeMux()
	mux := observe.NewMux(muxWithoutTelemetry)

	requestLimiter := maxRequestSize(requestLimitBytes)

	accountRouteMiddleware := alice.New(requestLimiter, audit.Middleware(), requireAPIKey(cfg.Server.APIKey))
	standardRouteMiddleware := alice.New(requestLimiter)

	mux.Handle("GET /accounts/{key}/token", accountRouteMiddleware.Then(handleGetToken(source)))
	mux.Handle("POST /accounts/{key}/token/refresh", accountRouteMiddleware.Then(handleRefreshToken(source)))
	mux.Handle("DELETE /accounts/{key}/token", accountRouteMiddleware.Then(handleInvalidateToken(source)))
	mux.Handle("PUT /accounts/{key}/ticket", accountRouteMiddleware.Then(handlePutTicket(source)))
	mux.Handle("/accounts/{key}/api/{path...}", accountRouteMiddleware.Then(handleAPI(source, call, requestLimitBytes)))

	// healthchecks are not included in telemetry or authorization
	muxWithoutTelemetry.Handle("GET /healthcheck", standardRouteMiddleware.Then(handleHealthCheck()))

	return mux
}

func main() {
	configureLogging()

	logBuildInfo()

	err := launchServer()
	if err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func launchServer() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	hooks := &server.Hooks{}

	// configure telemetry, including wrapping default HTTP client
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}
	hooks.Add("telemetry", shutdownTelemetry)

	http.DefaultTransport = observe.HTTPTransport(
		configureHTTPTransport(cfg.Server),
		cfg.Observe,
	)
	http.DefaultClient = &http.Client{
		Transport: http.DefaultTransport,
		Timeout:   time.Duration(cfg.Server.OutgoingHTTPTimeoutSeconds) * time.Second,
	}

	source, orchestrator, err := configureCore(ctx, cfg, hooks)
	if err != nil {
		_ = hooks.Run(ctx)
		return err
	}

	handler := configureServerRoutes(cfg, source, invokeCaller(orchestrator))

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
	if err != nil {
		_ = hooks.Run(ctx)
		return fmt.Errorf("listen failed: %w", err)
	}

	srv := &http.Server{
		Handler:           handler,
		MaxHeaderBytes:    20 << 10,         // 20 KB
		ReadHeaderTimeout: 20 * time.Second, // Prevent Slowloris attacks
	}

	return server.Serve(ctx, srv, listener,
		time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second,
		hooks,
	)
}

// configureCore builds the account registry, credential caches, token source
// and call orchestrator. Everything that holds a resource is registered with
// hooks.
func configureCore(ctx context.Context, cfg config.Config, hooks *server.Hooks) (*token.Source, *invoke.Orchestrator, error) {
	registry := account.NewRegistry()
	if cfg.Core.AccountsFile != "" {
		accounts, err := account.LoadFile(cfg.Core.AccountsFile)
		if err != nil {
			return nil, nil, fmt.Errorf("accounts configuration failed: %w", err)
		}
		if err := registry.Register(accounts...); err != nil {
			return nil, nil, fmt.Errorf("accounts registration failed: %w", err)
		}
	}
	log.Info().Strs("accounts", registry.Keys()).Msg("accounts registered")

	var factoryOpts []cache.FactoryOption
	if cfg.Cache.ManagedClient {
		// the host owns the client; the caches only borrow it
		client, err := cache.NewValkeyClient(ctx, cfg.Cache.Valkey)
		if err != nil {
			return nil, nil, fmt.Errorf("valkey client configuration failed: %w", err)
		}
		hooks.AddClose("valkey-client", client)
		factoryOpts = append(factoryOpts, cache.WithManagedClient(client))
	}

	tokenBackend, err := cache.NewFromConfig[credential.Credential](ctx, cfg.Cache, factoryOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("credential cache configuration failed: %w", err)
	}
	hooks.AddCloser("credential-cache", tokenBackend)

	ticketBackend, err := cache.NewFromConfig[string](ctx, cfg.Cache, factoryOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("ticket cache configuration failed: %w", err)
	}
	hooks.AddCloser("ticket-cache", ticketBackend)

	tokens := cache.NewFacade(tokenBackend, cfg.Cache.Prefix, token.TokenModule)
	tickets := cache.NewFacade(ticketBackend, cfg.Cache.Prefix, token.TicketModule)

	sender, err := transport.NewHTTPSender(cfg.Platform.APIURL, http.DefaultClient)
	if err != nil {
		return nil, nil, fmt.Errorf("platform transport configuration failed: %w", err)
	}

	source := token.NewSource(registry, tokens, tickets, token.NewPlatformFetcher(sender))

	orchestrator := invoke.New(source, sender, invoke.Options{
		Strict:            cfg.Core.StrictFailurePropagation,
		DefaultRetryLimit: cfg.Core.RetryLimit,
	})

	return source, orchestrator, nil
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	// audit entries are written above every standard level
	zerolog.LevelFieldMarshalFunc = func(l zerolog.Level) string {
		if l == audit.Level {
			return "audit"
		}
		return l.String()
	}

	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}

func configureHTTPTransport(cfg config.ServerConfig) *http.Transport {
	rt := http.DefaultTransport.(*http.Transport).Clone()

	rt.MaxIdleConns = cfg.OutgoingHTTPMaxIdleConns
	rt.MaxConnsPerHost = cfg.OutgoingHTTPMaxConnsPerHost

	return rt
}
