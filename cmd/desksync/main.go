package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/ganot/desksync/internal/api"
	"github.com/ganot/desksync/internal/config"
	"github.com/ganot/desksync/internal/domain/entity"
	"github.com/ganot/desksync/internal/domain/membership"
	"github.com/ganot/desksync/internal/engine"
	"github.com/ganot/desksync/internal/mcp"
	"github.com/ganot/desksync/internal/sqlite"
	"github.com/ganot/desksync/internal/transport"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/pflag"
)

const version = "0.1.0"

// pushTransport is a push connection the engine can join rooms on.
type pushTransport interface {
	membership.RoomTransport
	Run(ctx context.Context, sink transport.Sink) error
}

func main() {
	cfg, err := config.Read()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	applyFlags(&cfg, os.Args[1:])
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	// Use stderr for logs in stdio mode to keep stdout clean for JSON-RPC.
	logWriter := io.Writer(os.Stdout)
	if cfg.Transport.Mode == "stdio" {
		logWriter = os.Stderr
	}
	if cfg.Log.Path != "" {
		fileWriter, file, err := newLogFileWriter(cfg.Log.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "log file error: %v\n", err)
		} else {
			defer file.Close()
			logWriter = fileWriter
		}
	}
	logger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))

	if err := ensureDir(cfg.DB.Path); err != nil {
		logger.Error("failed to prepare database path", "error", err)
		os.Exit(1)
	}
	db, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.RunMigrations(); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	activityRepo, err := sqlite.NewActivityRepository(sqlite.NewStateStore(db), "")
	if err != nil {
		logger.Error("failed to prepare activity registry", "error", err)
		os.Exit(1)
	}

	client := api.NewClient(api.Options{
		BaseURL:    cfg.API.BaseURL,
		Token:      cfg.API.Token,
		Timeout:    cfg.API.Timeout,
		MaxRetries: cfg.API.MaxRetries,
		Logger:     logger,
	})
	push := newPushTransport(cfg, logger)

	opts := engine.Options{
		Identity: engine.Identity{
			UserID: cfg.Session.UserID,
			Name:   cfg.Session.UserName,
			Role:   entity.Role(cfg.Session.Role),
		},
		Backend:           client,
		Activity:          activityRepo,
		CoalesceWindow:    cfg.Sync.CoalesceWindow,
		TranscriptCadence: cfg.Sync.TranscriptCadence,
		MatchTolerance:    cfg.Sync.MatchTolerance,
		MaxPasses:         cfg.Sync.MaxPasses,
		RequestTimeout:    cfg.API.Timeout,
		Logger:            logger,
	}
	if push != nil {
		opts.Rooms = push
	}
	eng := engine.New(opts)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("component stopped", "component", name, "error", err)
			}
		}()
	}

	run("engine", eng.Run)
	if push != nil {
		run("push", func(ctx context.Context) error { return push.Run(ctx, eng) })
	}
	if cfg.DB.Path != ":memory:" {
		watcher, err := sqlite.NewWatcher(cfg.DB.Path, logger)
		if err != nil {
			logger.Warn("local state watcher disabled", "error", err)
		} else {
			defer watcher.Close()
			run("watcher", func(ctx context.Context) error {
				for {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case _, ok := <-watcher.Changes():
						if !ok {
							return nil
						}
						eng.LocalStateChanged(ctx)
					}
				}
			})
		}
	}

	mcpServer := mcp.NewServer(mcp.Config{
		Engine:        eng,
		TransportMode: cfg.Transport.Mode,
		Version:       version,
		Logger:        logger,
	})

	if cfg.Transport.Mode == "stdio" {
		runStdioMode(ctx, logger, mcpServer)
	} else {
		runHTTPMode(ctx, logger, mcpServer, cfg.Server.Host, cfg.Server.Port)
	}

	cancel()
	eng.Close()
	wg.Wait()
}

func applyFlags(cfg *config.Config, args []string) {
	flags := pflag.NewFlagSet("desksync", pflag.ExitOnError)
	flags.StringVar(&cfg.Transport.Mode, "transport", cfg.Transport.Mode, "MCP transport: stdio or http")
	flags.StringVar(&cfg.Push.Mode, "push", cfg.Push.Mode, "push transport: websocket, mqtt or none")
	flags.StringVar(&cfg.Push.URL, "push-url", cfg.Push.URL, "push endpoint URL or MQTT broker")
	flags.StringVar(&cfg.API.BaseURL, "api", cfg.API.BaseURL, "desk API base URL")
	flags.StringVar(&cfg.DB.Path, "db", cfg.DB.Path, "local state database path")
	flags.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "log level: debug, info, warn or error")
	flags.StringVar(&cfg.Server.Host, "host", cfg.Server.Host, "HTTP listen host")
	flags.IntVar(&cfg.Server.Port, "port", cfg.Server.Port, "HTTP listen port")
	showVersion := flags.Bool("version", false, "print version and exit")
	_ = flags.Parse(args)

	if *showVersion {
		fmt.Println("desksync", version)
		os.Exit(0)
	}
}

func newPushTransport(cfg config.Config, logger *slog.Logger) pushTransport {
	switch cfg.Push.Mode {
	case "websocket":
		return transport.NewWebSocket(transport.WebSocketOptions{
			URL:    cfg.Push.URL,
			Token:  cfg.API.Token,
			Logger: logger,
		})
	case "mqtt":
		return transport.NewMQTT(transport.MQTTOptions{
			Broker:      cfg.Push.URL,
			ClientID:    cfg.Push.ClientID,
			Username:    cfg.Push.Username,
			Password:    cfg.Push.Password,
			TopicPrefix: cfg.Push.Topic,
			QoS:         1,
			Logger:      logger,
		})
	default:
		logger.Info("push transport disabled, views refresh on request only")
		return nil
	}
}

func runStdioMode(ctx context.Context, logger *slog.Logger, mcpServer *sdkmcp.Server) {
	logger.Info("starting stdio transport")

	// Run blocks until stdin closes or ctx is canceled.
	if err := mcpServer.Run(ctx, &sdkmcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("stdio server error", "error", err)
	}
}

func runHTTPMode(ctx context.Context, logger *slog.Logger, mcpServer *sdkmcp.Server, host string, port int) {
	mcpHandler := sdkmcp.NewStreamableHTTPHandler(
		func(r *http.Request) *sdkmcp.Server { return mcpServer },
		&sdkmcp.StreamableHTTPOptions{
			Stateless:      false,
			SessionTimeout: 30 * time.Minute,
		},
	)

	router := http.NewServeMux()
	router.Handle("/mcp", mcpHandler)
	router.Handle("/mcp/", mcpHandler)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	addr := fmt.Sprintf("%s:%d", host, port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		logger.Info("server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logger.Info("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func ensureDir(path string) error {
	if path == ":memory:" || path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
