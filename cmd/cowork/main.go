// Package main provides the CLI entry point for the cowork agent server.
//
// Cowork exposes an interactive LLM agent over a websocket endpoint: clients
// open sessions, stream user messages, and receive assistant output, tool
// logs and approval prompts as a typed event stream.
//
// # Basic Usage
//
// Start the server:
//
//	cowork serve --listen 127.0.0.1:8791
//
// List persisted sessions:
//
//	cowork sessions
//
// # Environment Variables
//
//   - COWORK_LISTEN: websocket/HTTP listen address
//   - COWORK_DATA_DIR: database and cache directory (default ~/.cowork)
//   - GEMINI_API_KEY: Gemini API key
//   - ANTHROPIC_API_KEY: Anthropic API key
//   - OPENAI_API_KEY: OpenAI API key
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/coworklabs/cowork/internal/auth"
	"github.com/coworklabs/cowork/internal/config"
	"github.com/coworklabs/cowork/internal/gateway"
	"github.com/coworklabs/cowork/internal/observability"
	"github.com/coworklabs/cowork/internal/providers"
	"github.com/coworklabs/cowork/internal/safety"
	"github.com/coworklabs/cowork/internal/session"
	"github.com/coworklabs/cowork/internal/store"
	"github.com/coworklabs/cowork/internal/tools"
	"github.com/coworklabs/cowork/internal/tools/files"
	"github.com/coworklabs/cowork/internal/tools/interact"
	"github.com/coworklabs/cowork/internal/tools/notebook"
	"github.com/coworklabs/cowork/internal/tools/shelltool"
	"github.com/coworklabs/cowork/internal/tools/skillmem"
	"github.com/coworklabs/cowork/internal/tools/subagent"
	"github.com/coworklabs/cowork/internal/tools/web"
)

// Build information, populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "cowork",
		Short:        "Cowork - interactive LLM agent server",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd(), buildSessionsCmd())
	return root
}

func buildServeCmd() *cobra.Command {
	var (
		listen  string
		dataDir string
		debug   bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agent server",
		Long: `Start the websocket agent server.

The server loads layered configuration (user, project, environment),
opens the session database, registers the tool set, and serves /ws for
clients and /metrics for Prometheus. Graceful shutdown is handled on
SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), listen, dataDir, debug)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides config)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Data directory (overrides config)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(parent context.Context, listen, dataDir string, debug bool) error {
	if debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}
	logger := slog.Default()

	workdir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}
	cfg, err := config.Load(workdir)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	db, err := store.OpenSQLite(filepath.Join(cfg.DataDir, "sessions.db"))
	if err != nil {
		return err
	}
	defer db.Close()

	home, err := os.UserHomeDir()
	if err != nil {
		home = cfg.DataDir
	}
	authStore := auth.NewStore(home)
	catalog := providers.NewCatalog(authStore)
	metrics := observability.New()

	skillRoots := []string{
		filepath.Join(config.UserRoot(), "skills"),
		filepath.Join(config.ProjectRoot(workdir), ".agent", "skills"),
	}
	reg, err := buildToolRegistry(logger, workdir, skillRoots)
	if err != nil {
		return err
	}

	sessions := session.NewRegistry(session.Deps{
		Providers:  catalog,
		Tools:      reg,
		Store:      db,
		Classifier: safety.NewClassifier(cfg.DenyCommands),
		Metrics:    metrics,
		Logger:     logger,
		DataDir:    cfg.DataDir,
		SkillRoots: skillRoots,
	})

	srv := gateway.New(cfg, sessions, reg, catalog, authStore, metrics, logger)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}

// buildToolRegistry registers the full tool set a root session sees.
func buildToolRegistry(logger *slog.Logger, workdir string, skillRoots []string) (*tools.Registry, error) {
	reg := tools.NewRegistry(logger)
	all := []tools.Tool{
		&files.ReadTool{},
		&files.WriteTool{},
		&files.EditTool{},
		&files.GlobTool{},
		&files.GrepTool{},
		&shelltool.Tool{},
		web.NewSearchTool(),
		web.NewFetchTool(),
		&interact.AskTool{},
		&interact.TodoTool{},
		&notebook.EditTool{},
		&skillmem.SkillTool{Roots: skillRoots},
		&skillmem.MemoryTool{
			UserRoot:    filepath.Join(config.UserRoot(), "memory"),
			ProjectRoot: filepath.Join(config.ProjectRoot(workdir), ".agent", "memory"),
		},
		&subagent.SpawnTool{},
	}
	for _, t := range all {
		if err := reg.Register(t); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func buildSessionsCmd() *cobra.Command {
	var dataDir string
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List persisted sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			workdir, err := os.Getwd()
			if err != nil {
				return err
			}
			cfg, err := config.Load(workdir)
			if err != nil {
				return err
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}

			db, err := store.OpenSQLite(filepath.Join(cfg.DataDir, "sessions.db"))
			if err != nil {
				return err
			}
			defer db.Close()

			sums, err := db.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(sums) == 0 {
				fmt.Fprintln(out, "No sessions found.")
				return nil
			}
			for _, sum := range sums {
				title := sum.Title
				if title == "" {
					title = "(untitled)"
				}
				fmt.Fprintf(out, "%s  %-9s %s/%s  %3d msgs  %s\n",
					sum.SessionID, sum.Status, sum.Provider, sum.Model,
					sum.MessageCount, title)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Data directory (overrides config)")
	return cmd
}
