package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TobiSchelling/RecipeSorter/internal/reconcile"
	"github.com/TobiSchelling/RecipeSorter/internal/report"
	"github.com/TobiSchelling/RecipeSorter/internal/review"
	"github.com/TobiSchelling/RecipeSorter/internal/rules"
)

// --- review command ---

var (
	reviewFormat     string
	reviewOutput     string
	reviewIssuesOnly bool
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Export the stored results as an editable review snapshot",
	Long: `Writes one row per item with the judgment columns followed by empty corrected_*
columns. Fill in the corrections you want and import them with
'recipesorter corrections apply'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format := strings.ToLower(reviewFormat)
		if format == "" {
			format = strings.TrimPrefix(filepath.Ext(reviewOutput), ".")
		}
		if format == "" {
			format = "csv"
		}
		output := reviewOutput
		if output == "" {
			output = "recipe_review." + format
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		rs, err := db.LoadResultSet()
		if err != nil {
			return err
		}
		if len(rs) == 0 {
			return fmt.Errorf("no results stored yet; run 'recipesorter analyze' first")
		}

		opts := review.ExportOptions{IssuesOnly: reviewIssuesOnly}
		var buf bytes.Buffer
		var n int
		switch format {
		case "csv":
			n, err = review.ExportCSV(&buf, rs, opts)
		case "xlsx":
			n, err = review.ExportXLSX(&buf, rs, opts)
		case "html":
			n, err = review.WriteHTML(&buf, rs, report.Summary(report.Input{Results: rs}), opts)
		default:
			return fmt.Errorf("unknown format %q (csv, xlsx or html)", format)
		}
		if err != nil {
			return err
		}
		if err := os.WriteFile(output, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", output, err)
		}

		fmt.Printf("Wrote %d of %d items to %s\n", n, len(rs), output)
		if format != "html" {
			fmt.Println("Fill in the corrected_* columns, then run: recipesorter corrections apply " + output)
		}
		return nil
	},
}

func init() {
	reviewCmd.Flags().StringVarP(&reviewFormat, "format", "f", "", "csv, xlsx or html (default from --output, else csv)")
	reviewCmd.Flags().StringVarP(&reviewOutput, "output", "o", "", "Output file (default recipe_review.<format>)")
	reviewCmd.Flags().BoolVar(&reviewIssuesOnly, "issues-only", false, "Only non-recipes, titles needing improvement and low quality items")
}

// --- corrections command ---

var correctionsCmd = &cobra.Command{
	Use:   "corrections",
	Short: "Import and apply review corrections",
}

var correctionsOutput string

var correctionsImportCmd = &cobra.Command{
	Use:   "import [snapshot]",
	Short: "Convert an edited CSV or XLSX snapshot into a corrections JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		imp, err := importSnapshot(args[0])
		if err != nil {
			return err
		}
		printIssues(imp.Issues)

		output := correctionsOutput
		if output == "" {
			output = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + "_corrections.json"
		}
		data, err := json.MarshalIndent(imp, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(output, data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", output, err)
		}
		fmt.Printf("Read %d rows: %d corrections, %d issues\n", imp.Rows, len(imp.Corrections), len(imp.Issues))
		fmt.Printf("Corrections written to %s\n", output)
		return nil
	},
}

var correctionsApplyCmd = &cobra.Command{
	Use:   "apply [file]",
	Short: "Merge corrections (JSON, CSV or XLSX) into the stored results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var corrections []reconcile.Correction
		if strings.EqualFold(filepath.Ext(args[0]), ".json") {
			var err error
			corrections, err = readCorrections(args[0])
			if err != nil {
				return err
			}
		} else {
			imp, err := importSnapshot(args[0])
			if err != nil {
				return err
			}
			printIssues(imp.Issues)
			corrections = imp.Corrections
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		rs, err := db.LoadResultSet()
		if err != nil {
			return err
		}
		merged, sum := reconcile.Apply(rs, corrections)
		if err := db.ApplyCorrections(merged, sum.Outcomes); err != nil {
			return err
		}
		logger.Info("corrections applied",
			zap.String("file", args[0]),
			zap.Int("applied", sum.Applied),
			zap.Int("skipped", sum.SkippedTotal()))

		fmt.Printf("Applied: %d\n", sum.Applied)
		fmt.Printf("Skipped: %d\n", sum.SkippedTotal())
		for _, reason := range []reconcile.Reason{reconcile.TargetMissing, reconcile.AlreadyApplied, reconcile.UnsupportedField, reconcile.InvalidValue} {
			if n := sum.Skipped[reason]; n > 0 {
				fmt.Printf("  %s: %d\n", reason, n)
			}
		}
		for _, o := range sum.Outcomes {
			if !o.Applied && o.Reason != reconcile.AlreadyApplied {
				fmt.Printf("  %s %s: %s %s\n", o.Correction.ItemID, o.Correction.Field, o.Reason, o.Detail)
			}
		}
		return nil
	},
}

func init() {
	correctionsImportCmd.Flags().StringVarP(&correctionsOutput, "output", "o", "", "Corrections JSON file (default <snapshot>_corrections.json)")
	correctionsCmd.AddCommand(correctionsImportCmd)
	correctionsCmd.AddCommand(correctionsApplyCmd)
}

// importSnapshot reads an edited snapshot, checking values against the rules
// when they load.
func importSnapshot(path string) (*review.Import, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	opts := review.ImportOptions{Source: filepath.Base(path), At: time.Now().UTC()}
	if rs, err := rules.Load(cfg.GetRulesDir()); err == nil {
		opts.Rules = rs
	} else {
		logger.Warn("importing without rule checks", zap.Error(err))
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return review.ImportXLSX(f, opts)
	case ".csv":
		return review.ImportCSV(f, opts)
	}
	return nil, fmt.Errorf("unsupported snapshot %s: expected .csv or .xlsx", path)
}

// readCorrections accepts the import output or a bare array of corrections.
func readCorrections(path string) ([]reconcile.Correction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		var corrections []reconcile.Correction
		if err := json.Unmarshal(trimmed, &corrections); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		return corrections, nil
	}
	var imp review.Import
	if err := json.Unmarshal(data, &imp); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return imp.Corrections, nil
}

func printIssues(issues []review.Issue) {
	if len(issues) == 0 {
		return
	}
	fmt.Printf("%d rows need attention:\n", len(issues))
	for _, i := range issues {
		fmt.Printf("  %s\n", i)
	}
}
