package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/TobiSchelling/pickclaims/internal/config"
	"github.com/TobiSchelling/pickclaims/internal/database"
	"github.com/TobiSchelling/pickclaims/internal/dataset"
	"github.com/TobiSchelling/pickclaims/internal/ordering"
	"github.com/TobiSchelling/pickclaims/internal/server"
	"github.com/TobiSchelling/pickclaims/internal/session"
	"github.com/TobiSchelling/pickclaims/internal/sheets"
	"github.com/TobiSchelling/pickclaims/internal/submit"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     = zap.NewNop()
)

func main() {
	err := rootCmd.Execute()
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "pickclaims",
	Short:   "Fact-check claim selection study",
	Long:    "pickclaims shows participants two orderings of the same posts and records which ones they flag for fact-checking.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		logger, err = newLogger(cfg.Logging.Level, verbose)
		if err != nil {
			return fmt.Errorf("building logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(serveCmd)
}

func newLogger(level string, verbose bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
			return nil, fmt.Errorf("invalid logging.level %q: %w", level, err)
		}
	}
	if verbose {
		lvl = zapcore.DebugLevel
		zcfg.Development = true
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("pickclaims", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/pickclaims/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to point at your datasets and service-account credentials.")
		return nil
	},
}

// --- check command ---

var checkTop int

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate both datasets and preview their orderings",
	RunE: func(cmd *cobra.Command, args []string) error {
		cache := dataset.NewCache(logger)
		if err := cache.Preload(cmd.Context(), cfg.Datasets.Manual, cfg.Datasets.Tool); err != nil {
			return err
		}

		for _, c := range ordering.Conditions {
			table, err := cache.Get(source(c))
			if err != nil {
				return err
			}
			view, err := ordering.Build(c, table)
			if err != nil {
				return fmt.Errorf("%s: %w", c, err)
			}

			fmt.Printf("%s (%s)\n", c, table.Source)
			fmt.Printf("  Posts: %s\n", humanize.Comma(int64(view.Len())))
			fmt.Printf("  Target: %s\n", target(c))
			if c != ordering.ToolRanked {
				continue
			}
			for _, item := range view.Items[:min(checkTop, view.Len())] {
				fmt.Printf("  %3d. [%.3f] @%s %s\n", item.Rank, item.Post.ModelScore, item.Post.UserName, truncate(item.Post.Text, 60))
			}
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().IntVarP(&checkTop, "top", "n", 5, "Number of top-ranked posts to show")
}

// --- status command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show row counts of the submission tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, closeFn, err := openClient()
		if err != nil {
			return err
		}
		defer closeFn()

		ctx := cmd.Context()
		if d := cfg.SheetsTimeout(); d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}

		fmt.Printf("Backend: %s\n\n", cfg.Sheets.Backend)
		if db, ok := client.(*database.DB); ok {
			return printLocalStatus(ctx, os.Stdout, db)
		}
		for _, c := range ordering.Conditions {
			ws, err := client.Open(ctx, target(c))
			if err != nil {
				fmt.Printf("%-16s %s: %v\n", c, target(c), err)
				continue
			}
			rows, err := ws.Rows(ctx)
			if err != nil {
				fmt.Printf("%-16s %s: %v\n", c, target(c), err)
				continue
			}
			records := len(rows)
			if records > 0 {
				records-- // header
			}
			fmt.Printf("%-16s %s: %s records\n", c, ws.Title(), humanize.Comma(int64(records)))
		}
		return nil
	},
}

// printLocalStatus reports record counts from the local store without
// creating tables that were never written.
func printLocalStatus(ctx context.Context, w io.Writer, db *database.DB) error {
	stats, err := db.Stats(ctx)
	if err != nil {
		return fmt.Errorf("getting stats: %w", err)
	}
	rows := make(map[string]int, len(stats))
	for _, st := range stats {
		rows[st.Title] = st.Rows
	}

	for _, c := range ordering.Conditions {
		n, ok := rows[target(c)]
		if !ok {
			fmt.Fprintf(w, "%-16s %s: not created yet\n", c, target(c))
			continue
		}
		records := n
		if records > 0 {
			records-- // header
		}
		fmt.Fprintf(w, "%-16s %s: %s records\n", c, target(c), humanize.Comma(int64(records)))
	}
	return nil
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the participant web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client, closeFn, err := openClient()
		if err != nil {
			return err
		}
		defer closeFn()

		datasets := dataset.NewCache(logger)
		if err := datasets.Preload(ctx, cfg.Datasets.Manual, cfg.Datasets.Tool); err != nil {
			return err
		}

		srv, err := server.New(cfg, server.Deps{
			Datasets: datasets,
			Sink:     submit.NewSink(client, logger),
			Sessions: session.NewStore(cfg.SessionTTL(), cfg.Session.CookieName),
			Logger:   logger,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Starting server at http://%s\n", cfg.Addr())
		fmt.Println("Press Ctrl+C to stop")
		return srv.Serve(ctx, cfg.Addr())
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (overrides server.port)")
}

// --- helpers ---

// openClient returns the configured row store. The Google client is
// built on first use, so serve starts without touching the network.
func openClient() (sheets.Client, func(), error) {
	switch cfg.Sheets.Backend {
	case config.BackendLocal:
		db, err := openDB()
		if err != nil {
			return nil, nil, err
		}
		return db, func() { db.Close() }, nil
	default:
		client := sheets.NewLazy(func(ctx context.Context) (sheets.Client, error) {
			creds, err := cfg.Credentials()
			if err != nil {
				return nil, err
			}
			g, err := sheets.NewGoogle(ctx, creds, cfg.Sheets.SpreadsheetIDs, logger)
			if err != nil {
				return nil, err
			}
			return g, nil
		})
		return client, func() {}, nil
	}
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "pickclaims.db")
	return database.Open(dbPath)
}

func source(c ordering.Condition) string {
	if c == ordering.ToolRanked {
		return cfg.Datasets.Tool
	}
	return cfg.Datasets.Manual
}

func target(c ordering.Condition) string {
	if c == ordering.ToolRanked {
		return cfg.Sheets.ToolSheet
	}
	return cfg.Sheets.ManualSheet
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
