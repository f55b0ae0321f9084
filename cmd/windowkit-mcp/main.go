// Copyright 2025 Joseph Cumines
//
// windowkit-mcp runs the window tracking engine and serves it over MCP:
// JSON-RPC 2.0 on stdio by default, or HTTP/SSE (plus a websocket event
// stream) when configured.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/joeycumines/windowkit/internal/config"
	"github.com/joeycumines/windowkit/internal/engine"
	"github.com/joeycumines/windowkit/internal/server"
	"github.com/joeycumines/windowkit/internal/transport"
)

// Build information. Populated at build-time via -ldflags flag.
var (
	version = "dev"
	commit  = "HEAD"
)

func main() {
	cmd := &cli.Command{
		Name:    "windowkit-mcp",
		Usage:   "Track every window on the system and serve the live model over MCP",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "transport",
				Usage:   "Transport to serve on: stdio or sse",
				Sources: cli.EnvVars("WINDOWKIT_TRANSPORT"),
			},
			&cli.StringFlag{
				Name:    "http-address",
				Usage:   "HTTP/SSE listen address",
				Sources: cli.EnvVars("WINDOWKIT_HTTP_ADDRESS"),
			},
			&cli.BoolFlag{
				Name:    "headless",
				Usage:   "Disable screen-capture discovery and preview capture",
				Sources: cli.EnvVars("WINDOWKIT_HEADLESS"),
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "Enable debug logging",
				Sources: cli.EnvVars("WINDOWKIT_DEBUG"),
			},
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to a YAML config file",
				Sources: cli.EnvVars("WINDOWKIT_CONFIG_FILE"),
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "windowkit-mcp: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	// Flags feed the same environment keys the config loader reads, so
	// precedence stays flags > environment > file > defaults.
	if cmd.IsSet("transport") {
		os.Setenv("WINDOWKIT_TRANSPORT", cmd.String("transport"))
	}
	if cmd.IsSet("http-address") {
		os.Setenv("WINDOWKIT_HTTP_ADDRESS", cmd.String("http-address"))
	}
	if cmd.IsSet("headless") {
		os.Setenv("WINDOWKIT_HEADLESS", fmt.Sprintf("%t", cmd.Bool("headless")))
	}
	if cmd.IsSet("debug") {
		os.Setenv("WINDOWKIT_DEBUG", fmt.Sprintf("%t", cmd.Bool("debug")))
	}
	if cmd.IsSet("config") {
		os.Setenv("WINDOWKIT_CONFIG_FILE", cmd.String("config"))
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := setupLogger(cfg)
	transport.Logger = logger.With().Str("component", "transport").Logger()

	platform, err := engine.NewPlatform()
	if err != nil {
		return fmt.Errorf("initializing platform backend: %w", err)
	}

	tracker := engine.NewTracker(platform, engine.Config{
		Headless:             cfg.Headless,
		PreviewCacheDuration: cfg.PreviewCacheDuration,
		PreviewCacheCapacity: cfg.PreviewCacheCapacity,
		DebounceInterval:     cfg.DebounceInterval,
		IgnoredPIDs:          cfg.IgnoredPIDs,
		Debug:                cfg.Debug,
		Logger:               &logger,
	})
	if err := tracker.StartTracking(ctx); err != nil {
		return fmt.Errorf("starting tracker: %w", err)
	}
	defer tracker.Close()

	mcpServer, err := server.NewMCPServer(cfg, tracker, logger)
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		switch cfg.Transport {
		case config.TransportHTTP:
			errChan <- runHTTPTransport(cfg, mcpServer)
		default:
			errChan <- runStdioTransport(mcpServer)
		}
	}()

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		mcpServer.Shutdown()
	case err := <-errChan:
		if err != nil {
			mcpServer.Shutdown()
			return fmt.Errorf("serving: %w", err)
		}
		mcpServer.Shutdown()
	}
	return nil
}

func setupLogger(cfg *config.Config) zerolog.Logger {
	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}
	// Stdout belongs to the stdio transport; logs always go to stderr.
	return zerolog.New(os.Stderr).With().Timestamp().Logger().Level(level)
}

// runStdioTransport runs the MCP server with stdio transport
func runStdioTransport(mcpServer *server.MCPServer) error {
	tr := transport.NewStdioTransport(os.Stdin, os.Stdout)
	return mcpServer.Serve(tr)
}

// runHTTPTransport runs the MCP server with HTTP/SSE transport
func runHTTPTransport(cfg *config.Config, mcpServer *server.MCPServer) error {
	httpCfg := &transport.HTTPTransportConfig{
		Address:           cfg.HTTPAddress,
		SocketPath:        cfg.HTTPSocketPath,
		HeartbeatInterval: cfg.HeartbeatInterval,
		CORSOrigin:        cfg.CORSOrigin,
		APIKey:            cfg.AuthToken,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		RateLimit:         float64(cfg.RateLimitPerMinute) / 60.0,
	}
	tr := transport.NewHTTPTransport(httpCfg)
	return mcpServer.ServeHTTP(tr)
}
