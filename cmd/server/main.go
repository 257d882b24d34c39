// Chatooly - live tool builder server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chatooly/toolbuilder/internal/agent"
	"github.com/chatooly/toolbuilder/internal/api"
	"github.com/chatooly/toolbuilder/internal/config"
	"github.com/chatooly/toolbuilder/internal/gateway"
	"github.com/chatooly/toolbuilder/internal/logging"
	"github.com/chatooly/toolbuilder/internal/middleware"
	"github.com/chatooly/toolbuilder/internal/toolfiles"
	"github.com/chatooly/toolbuilder/internal/transcript"
	"github.com/chatooly/toolbuilder/internal/watcher"
	"github.com/chatooly/toolbuilder/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}
	logger := logging.Setup()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "root", cfg.ProjectRoot, "dev", cfg.IsDevelopment())
	if !cfg.HasAPIKey() {
		slog.Warn("ANTHROPIC_API_KEY not set, chat requests will be rejected")
	}

	// Initialize dependencies.
	conversationLog, err := transcript.New(transcript.Config{
		Enabled:   cfg.ConversationLog.Enabled,
		Dir:       cfg.ConversationLog.Dir,
		QueueSize: cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLog.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	agentRuntime := agent.NewCLIRuntime(cfg.Agent.Binary, cfg.APIKey, logger)
	stager := agent.NewStager(cfg.Attachments.Dir, cfg.Attachments.MaxCount, cfg.Attachments.MaxBytes, logger)
	opts := agent.Options{
		Model:          cfg.Agent.Model,
		MaxTurns:       cfg.Agent.MaxTurns,
		PermissionMode: cfg.Agent.PermissionMode,
		AllowedTools:   cfg.Agent.AllowedTools,
		SystemPrompt:   agent.LoadSystemPrompt(cfg.ProjectRoot, cfg.Agent.SystemPromptPath, logger),
		WorkDir:        cfg.ProjectRoot,
	}
	sessions := func(connID string) *agent.Session {
		return agent.NewSession(connID, agentRuntime, opts, stager, logger)
	}

	if report := toolfiles.Validate(cfg.ProjectRoot); !report.OK() {
		slog.Warn("Tool project is incomplete", "passed", report.Passed, "total", report.Total)
	}
	restorer := toolfiles.NewRestorer(cfg.ProjectRoot, cfg.TemplatePath(), cfg.Reset.Files, logger)

	registry := gateway.NewRegistry(logger)
	broadcaster := gateway.NewBroadcaster(registry, logger)
	wsHandler := gateway.NewHandler(gateway.HandlerConfig{
		Registry:      registry,
		Broadcaster:   broadcaster,
		Sessions:      sessions,
		Resetter:      restorer,
		Transcript:    conversationLog,
		AllowedOrigin: cfg.FrontendURL,
		IsDev:         cfg.IsDevelopment(),
		HasAPIKey:     cfg.HasAPIKey(),
		ReadLimit:     cfg.MaxFrameBytes(),
		Logger:        logger,
	})

	fileWatcher, err := watcher.New(watcher.Config{
		Root:     cfg.ProjectRoot,
		Patterns: cfg.Watch.Patterns,
		Ignore:   cfg.Watch.Ignore,
		Debounce: cfg.Watch.Debounce,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize file watcher", "error", err)
		os.Exit(1)
	}
	defer fileWatcher.Close()

	projectHandler, err := web.ProjectHandler(cfg.ProjectRoot, cfg.Watch.Ignore)
	if err != nil {
		slog.Error("Failed to initialize project file server", "error", err)
		os.Exit(1)
	}

	// Initialize handlers.
	toolHandler := api.NewToolHandler(api.NewHandler(cfg, wsHandler), wsHandler)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins(cfg)))

	toolHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws", wsHandler.ServeHTTP)

	// Live client assets, then the tool project itself.
	r.Handle("/shell", http.RedirectHandler(web.ShellPage, http.StatusFound))
	r.Handle(web.LivePrefix+"*", web.LiveHandler())
	r.Handle("/*", projectHandler)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Create server.
	// No WriteTimeout: chat WebSocket connections are long lived. Requests
	// inherit ctx so hijacked connections, which Shutdown does not track, end
	// with the server.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	// Start file watcher.
	go func() {
		if err := fileWatcher.Run(ctx, broadcaster.FileChanged); err != nil {
			slog.Error("File watcher stopped", "error", err)
		}
	}()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
