package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/TobiSchelling/RecipeSorter/internal/config"
	"github.com/TobiSchelling/RecipeSorter/internal/metrics"
	"github.com/TobiSchelling/RecipeSorter/internal/recipe"
	"github.com/TobiSchelling/RecipeSorter/internal/report"
	"github.com/TobiSchelling/RecipeSorter/internal/rules"
	"github.com/TobiSchelling/RecipeSorter/internal/server"
	"github.com/TobiSchelling/RecipeSorter/internal/store"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     = zap.NewNop()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "recipesorter",
	Short:   "Categorize a saved recipe collection",
	Long:    "RecipeSorter classifies saved recipes against your category and tag rules, and merges your review corrections back in.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return buildLogger("info")
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return buildLogger(cfg.Logging.Level)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func buildLogger(level string) error {
	zc := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := zc.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger = l
	return nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(correctionsCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("recipesorter", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration and rule files in ~/.config/recipesorter/",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
		} else {
			if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
				return fmt.Errorf("writing config: %w", err)
			}
			fmt.Printf("Created config: %s\n", target)
		}

		rulesDir := filepath.Join(config.ConfigDir(), "rules")
		created, err := rules.WriteDefaults(rulesDir)
		if err != nil {
			return err
		}
		for _, path := range created {
			fmt.Printf("Created rules: %s\n", path)
		}
		fmt.Println("Edit them to configure the classifier provider, categories and tags.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Database: %s\n\n", db.Path())
		fmt.Println("Results:")
		fmt.Printf("  Judgments: %d\n", stats.Judgments)
		fmt.Printf("  Recipes: %d\n", stats.Recipes)
		fmt.Printf("  Titles to improve: %d\n", stats.TitlesToImprove)
		fmt.Printf("  Corrected by hand: %d\n", stats.OverriddenItems)
		fmt.Println("\nRuns:")
		fmt.Printf("  Total: %d\n", stats.Runs)
		if stats.LastRunID != "" {
			fmt.Printf("  Last: %s (%s)\n", stats.LastRunID, stats.LastRunState)
		}
		fmt.Println("\nCorrections:")
		fmt.Printf("  Applied: %d\n", stats.CorrectionsApplied)
		fmt.Printf("  Skipped: %d\n", stats.CorrectionsSkipped)
		return nil
	},
}

// --- rules command ---

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect the category and tag rules",
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the rule files",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := cfg.GetRulesDir()
		rs, err := rules.Load(dir)
		if err != nil {
			return err
		}
		fmt.Printf("Rules in %s are valid:\n", dir)
		fmt.Printf("  Categories: %d\n", len(rs.Categories()))
		for _, t := range rules.Taxonomies {
			fmt.Printf("  %s: %d (%d assigned automatically)\n", t, len(rs.Tags(t)), len(rs.AutoTags(t)))
		}
		fmt.Printf("  Conflict rules: %d\n", len(rs.Conflicts()))
		return nil
	},
}

func init() {
	rulesCmd.AddCommand(rulesCheckCmd)
}

// --- runs command ---

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect past analyze runs",
}

var runsLimit int

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		runs, err := db.ListRuns(runsLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs yet. Start one with: recipesorter analyze")
			return nil
		}
		for _, r := range runs {
			fmt.Printf("  %s  %s  %-9s  %d-%d  %d/%d succeeded\n",
				r.RunID, r.StartedAt.Local().Format("2006-01-02 15:04"), r.State,
				r.RangeStart, r.RangeEnd, r.Succeeded, r.Attempted)
		}
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Show a run with its failures",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		run, err := db.GetRun(args[0])
		if err != nil {
			return err
		}
		if run == nil {
			return fmt.Errorf("run %s not found", args[0])
		}
		printReport(run)
		return nil
	},
}

func init() {
	runsListCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Number of runs to show")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
}

// printReport prints exact counts and every failure with a retry hint.
func printReport(r *recipe.RunReport) {
	fmt.Printf("Run %s: %s\n", r.RunID, r.State)
	if r.AbortError != "" {
		fmt.Printf("  Aborted: %s\n", r.AbortError)
	}
	fmt.Printf("  Range: %d-%d\n", r.RangeStart, r.RangeEnd)
	fmt.Printf("  Attempted: %d\n", r.Attempted)
	fmt.Printf("  Succeeded: %d\n", r.Succeeded)
	fmt.Printf("  Failed: %d\n", r.Failed)
	if len(r.Failures) == 0 {
		return
	}
	fmt.Println("\nFailures:")
	for _, f := range r.Failures {
		fmt.Printf("  [%d] %s %q: %s (%s, %d attempts)\n", f.Position, f.ItemID, f.Title, f.Kind, f.Message, f.Attempts)
	}
	if hint := report.RetryHint(r); hint != "" {
		fmt.Printf("\nRetry the failed items with: %s\n", hint)
	}
}

// --- backup / restore ---

// backupFile is the JSON layout written by backup.
type backupFile struct {
	Version int            `json:"version"`
	Entries []recipe.Entry `json:"entries"`
}

var backupCmd = &cobra.Command{
	Use:   "backup [file]",
	Short: "Write the stored result set to a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		rs, err := db.LoadResultSet()
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(backupFile{Version: 1, Entries: rs.Ordered()}, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[0], data, 0o644); err != nil {
			return fmt.Errorf("writing backup: %w", err)
		}
		fmt.Printf("Backed up %d judgments to %s\n", len(rs), args[0])
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore [file]",
	Short: "Replace the stored result set with a backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading backup: %w", err)
		}
		var b backupFile
		if err := json.Unmarshal(data, &b); err != nil {
			return fmt.Errorf("parsing backup: %w", err)
		}

		rs := make(recipe.ResultSet, len(b.Entries))
		for _, e := range b.Entries {
			if e.Judgment.ItemID == "" {
				return fmt.Errorf("backup entry at position %d has no record_id", e.Position)
			}
			rs[e.Judgment.ItemID] = e
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.ReplaceResultSet(rs); err != nil {
			return err
		}
		fmt.Printf("Restored %d judgments from %s\n", len(rs), args[0])
		return nil
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local review server",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}

		ctx, stop := signalContext()
		defer stop()

		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(ctx, db, port, logger, metrics.New())
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func openDB() (*store.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return store.Open(cfg.DBPath(), logger)
}
