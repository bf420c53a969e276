package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/RecipeSorter/internal/metrics"
	"github.com/TobiSchelling/RecipeSorter/internal/pipeline"
	"github.com/TobiSchelling/RecipeSorter/internal/scheduler"
	"github.com/TobiSchelling/RecipeSorter/internal/source"
)

var (
	analyzeProfile    string
	analyzeQuick      bool
	analyzeDryRun     bool
	analyzeHighlights bool
	analyzeInput      string
	analyzeSample     int
	analyzeRange      string
	analyzeStart      int
	analyzeEnd        int
	analyzeBatchSize  int
	analyzeBatchDelay time.Duration
	analyzeTimeout    time.Duration
	analyzeWorkers    int
	analyzeMetricsOut string
	analyzeSummaryOut string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Categorize recipes with the classifier service",
	Long: `Reads the recipe export, classifies the selected items in paced batches and
stores the judgments. Failed items are listed with a --range hint to retry them.

  recipesorter analyze                     all items, default profile
  recipesorter analyze --quick             collection statistics only
  recipesorter analyze --profile testing   a 10 item sample
  recipesorter analyze --range 50-100      positions 50 through 100`,
	RunE: func(cmd *cobra.Command, args []string) error {
		profile := analyzeProfile
		if _, ok := cfg.Profiles["quick"]; analyzeQuick && ok && profile == "" {
			profile = "quick"
		}
		settings, err := cfg.RunSettings(profile)
		if err != nil {
			return err
		}
		if analyzeQuick {
			settings.UseLLM = false
		}

		opts := pipeline.SchedulerOptions(cfg, settings)
		if err := applyAnalyzeFlags(cmd, &opts); err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		input := cfg.Input.Path
		if analyzeInput != "" {
			input = analyzeInput
		}

		m := metrics.New()
		p := pipeline.New(cfg, db, source.NewJSONFile(input), pipeline.NewProvider(cfg, logger), logger, m)
		req := pipeline.Request{Options: opts, UseLLM: settings.UseLLM, Highlights: analyzeHighlights}

		ctx, stop := signalContext()
		defer stop()

		if settings.Profile != "" {
			fmt.Printf("Profile: %s\n", settings.Profile)
		}

		var result *pipeline.Result
		if analyzeDryRun {
			result = p.DryRun(ctx, req)
		} else {
			result = p.Run(ctx, req)
		}

		for i, step := range result.Steps {
			fmt.Printf("\nStep %d: %s\n", i+1, step.Name)
			if step.Err != nil {
				fmt.Printf("  Error: %v\n", step.Err)
			} else {
				fmt.Printf("  %s\n", step.Summary)
			}
		}

		if result.Report != nil {
			fmt.Println()
			printReport(result.Report)
		}
		if result.Summary != "" {
			if analyzeSummaryOut != "" {
				if err := os.WriteFile(analyzeSummaryOut, []byte(result.Summary+"\n"), 0o644); err != nil {
					return fmt.Errorf("writing summary: %w", err)
				}
				fmt.Printf("\nSummary written to %s\n", analyzeSummaryOut)
			} else if result.Report == nil {
				fmt.Printf("\n%s\n", result.Summary)
			}
		}
		if analyzeMetricsOut != "" {
			if err := m.WriteTextfile(analyzeMetricsOut); err != nil {
				return fmt.Errorf("writing metrics: %w", err)
			}
		}

		if err := result.Err(); err != nil {
			return err
		}
		if result.Report != nil && !analyzeDryRun {
			fmt.Println("\nReview the results with 'recipesorter review' or 'recipesorter serve'.")
		}
		return nil
	},
}

// applyAnalyzeFlags layers explicit flags over the profile settings.
func applyAnalyzeFlags(cmd *cobra.Command, opts *scheduler.Options) error {
	flags := cmd.Flags()

	selectors := 0
	for _, name := range []string{"sample", "range", "start-index"} {
		if flags.Changed(name) {
			selectors++
		}
	}
	if selectors > 1 {
		return fmt.Errorf("use only one of --sample, --range and --start-index")
	}
	if flags.Changed("end-index") && !flags.Changed("start-index") {
		return fmt.Errorf("--end-index requires --start-index")
	}

	switch {
	case flags.Changed("sample"):
		opts.Range = scheduler.Sample(analyzeSample)
		if err := opts.Range.Validate(); err != nil {
			return err
		}
	case flags.Changed("range"):
		r, err := scheduler.ParseRange(analyzeRange)
		if err != nil {
			return err
		}
		opts.Range = r
	case flags.Changed("start-index"):
		if flags.Changed("end-index") {
			opts.Range = scheduler.NewRange(analyzeStart, analyzeEnd)
		} else {
			opts.Range = scheduler.From(analyzeStart)
		}
	}

	if flags.Changed("batch-size") {
		opts.BatchSize = analyzeBatchSize
	}
	if flags.Changed("batch-delay") {
		opts.BatchDelay = analyzeBatchDelay
	}
	if flags.Changed("timeout") {
		opts.Timeout = analyzeTimeout
	}
	if flags.Changed("workers") {
		opts.Workers = analyzeWorkers
	}
	return nil
}

func init() {
	f := analyzeCmd.Flags()
	f.StringVar(&analyzeProfile, "profile", "", "Analysis profile from the config (default, quick, testing)")
	f.BoolVar(&analyzeQuick, "quick", false, "Collection statistics only, no classifier calls")
	f.BoolVar(&analyzeDryRun, "dry-run", false, "Show what would be classified without calling the classifier")
	f.BoolVar(&analyzeHighlights, "highlights", false, "Ask the classifier service for summary highlights")
	f.StringVarP(&analyzeInput, "input", "i", "", "Recipe export JSON (default from config)")
	f.IntVar(&analyzeSample, "sample", 0, "Classify only the first N items")
	f.StringVar(&analyzeRange, "range", "", "Positions to classify, e.g. 50-100 (inclusive, 0-based)")
	f.IntVar(&analyzeStart, "start-index", 0, "First position to classify")
	f.IntVar(&analyzeEnd, "end-index", 0, "Last position to classify, inclusive")
	f.IntVar(&analyzeBatchSize, "batch-size", 0, "Items per batch")
	f.DurationVar(&analyzeBatchDelay, "batch-delay", 0, "Pause between batches")
	f.DurationVar(&analyzeTimeout, "timeout", 0, "Timeout per classifier call")
	f.IntVar(&analyzeWorkers, "workers", 0, "Items classified concurrently within a batch")
	f.StringVar(&analyzeMetricsOut, "metrics-out", "", "Write run metrics in Prometheus text format to this file")
	f.StringVar(&analyzeSummaryOut, "summary-out", "", "Write the markdown run summary to this file")
}

