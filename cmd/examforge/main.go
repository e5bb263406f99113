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
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/examforge/internal/compose"
	"github.com/pavelanni/examforge/internal/handler"
	appI18n "github.com/pavelanni/examforge/internal/i18n"
	"github.com/pavelanni/examforge/internal/ingest"
	"github.com/pavelanni/examforge/internal/metrics"
	"github.com/pavelanni/examforge/internal/scoring"
	"github.com/pavelanni/examforge/internal/session"
	"github.com/pavelanni/examforge/internal/store"
	"github.com/pavelanni/examforge/internal/topic"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "examforge",
		Short:        "Compose assessment papers and score answer scripts",
		SilenceUsage: true,
	}

	serve := serveCmd()
	root.AddCommand(serve, composeCmd(), scoreCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `examforge --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "examforge.db", "SQLite database path")
	addLLMFlags(cmd)
	addLogFlags(cmd)
	f.StringP("lang", "l", "en", "Feedback language (en, ru)")
	f.Uint64("seed", 0, "Random seed for paper composition (0 = time based)")
	f.Int("max-topics", topic.DefaultLimit, "Topics taken from each source document")
	f.Int("workers", scoring.DefaultWorkers, "Concurrent scoring workers per batch")
	f.String("session-store", "sqlite", "Feedback session store (sqlite, redis, memory)")
	f.String("redis-addr", "localhost:6379", "Redis address for the redis session store")
	f.String("redis-password", "", "Redis password")
	f.Int("redis-db", 0, "Redis database number")
	f.Duration("session-ttl", session.DefaultTTL, "Feedback session lifetime (0 = no expiry)")
	f.Duration("sweep-interval", 10*time.Minute, "How often expired sessions are removed")
	f.StringSlice("syllabus", nil, "Syllabus file to load at startup")
	f.StringSlice("textbook", nil, "Textbook file to load at startup")
	f.StringSlice("previous-paper", nil, "Previous paper file to load at startup")
	return cmd
}

func addLLMFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("llm-provider", "openai", "LLM provider (openai, gemini)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.Duration("llm-timeout", 3*time.Minute, "Timeout of one LLM call")
	f.Float64("llm-rps", 0, "Maximum LLM calls per second (0 = unlimited)")
	f.String("prompt-variant", "standard", "Grading prompt variant (strict, standard, lenient)")
}

func addLogFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("EXAMFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("examforge")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/examforge")
	v.AddConfigPath("/etc/examforge")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	metrics.Init()

	collab, err := newCollaborator(ctx, v)
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}
	defer collab.Close()

	extractor := ingest.New(collab)
	if err := loadDocuments(ctx, db, extractor, documentPaths(v)); err != nil {
		return fmt.Errorf("load documents: %w", err)
	}

	sessStore, closeSessions, err := newSessionStore(ctx, v, db)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer closeSessions()

	manager := session.NewManager(sessStore, collab, session.WithTTL(v.GetDuration("session-ttl")))
	go manager.RunSweeper(ctx, v.GetDuration("sweep-interval"))

	h, err := handler.New(
		db,
		newComposer(v),
		scoring.NewEngine(collab, scoring.WithWorkers(v.GetInt("workers"))),
		manager,
		extractor,
	)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Router(lang),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("starting server",
		"addr", addr,
		"llm_provider", v.GetString("llm-provider"),
		"model", v.GetString("llm-model"),
		"lang", lang,
		"session_store", v.GetString("session-store"),
		"session_ttl", v.GetDuration("session-ttl"),
		"workers", v.GetInt("workers"),
	)

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newComposer(v *viper.Viper) *compose.Composer {
	opts := []compose.Option{compose.WithTopicLimit(v.GetInt("max-topics"))}
	seed := v.GetUint64("seed")
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return compose.NewSeeded(seed, opts...)
}

// openOutput returns the writer for path, stdout for "" or "-".
func openOutput(path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output file: %w", err)
	}
	return f, f.Close, nil
}
