package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/justinas/alice"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/thomasreuvers/apiease/internal/audit"
	"github.com/thomasreuvers/apiease/internal/client"
	"github.com/thomasreuvers/apiease/internal/config"
	"github.com/thomasreuvers/apiease/internal/observe"
	"github.com/thomasreuvers/apiease/internal/server"
)

func configureServerRoutes(clients ClientLookup) http.Handler {
	// routes registered with Handle are traced
	mux := observe.NewMux()

	// The request body size is limited to prevent accidental or deliberate
	// abuse of upstream APIs.
	requestLimitBytes := int64(1 << 20) // 1 MB
	requestLimiter := maxRequestSize(requestLimitBytes)

	auditedRouteMiddleware := alice.New(requestLimiter, audit.Middleware())
	standardRouteMiddleware := alice.New(requestLimiter)

	mux.Handle("/{client}/{path...}", auditedRouteMiddleware.Then(handleProxy(clients)))
	mux.Handle("GET /clients", standardRouteMiddleware.Then(handleListClients(clients)))

	// healthchecks are not included in telemetry or auditing
	mux.HandleUntraced("GET /healthcheck", standardRouteMiddleware.Then(handleHealthCheck()))

	return mux
}

func main() {
	configureLogging()

	logBuildInfo()

	err := launchServer()
	if err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}

func launchServer() error {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	// configure telemetry, including wrapping default HTTP client
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}

	http.DefaultTransport = observe.HTTPTransport(
		configureHTTPTransport(cfg.Server),
		cfg.Observe,
	)
	http.DefaultClient = &http.Client{
		Transport: http.DefaultTransport,
	}

	settings, err := config.LoadAPISettings(cfg.APISettingsFile)
	if err != nil {
		return fmt.Errorf("API settings load failed: %w", err)
	}

	clients, err := client.Configure(ctx, cfg, settings,
		client.WithTransport(http.DefaultTransport),
		client.WithInstrumentation(func(rt http.RoundTripper) http.RoundTripper {
			return observe.ClientTransport(rt, cfg.Observe)
		}),
	)
	if err != nil {
		return fmt.Errorf("client configuration failed: %w", err)
	}

	// start the server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           configureServerRoutes(clients),
		MaxHeaderBytes:    20 << 10,         // 20 KB
		ReadHeaderTimeout: 20 * time.Second, // Prevent Slowloris attacks
	}

	// hooks run in reverse: sessions are released before telemetry is flushed
	hooks := &server.ShutdownHooks{}
	hooks.AddContext("telemetry", shutdownTelemetry)
	hooks.AddClose("session stores", clients)

	err = server.Serve(ctx, cfg.Server, srv, hooks)
	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

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
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.OutgoingHTTPMaxIdleConns
	transport.MaxConnsPerHost = cfg.OutgoingHTTPMaxConnsPerHost

	return transport
}
