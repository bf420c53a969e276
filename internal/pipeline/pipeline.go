package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/TobiSchelling/RecipeSorter/internal/classifier"
	"github.com/TobiSchelling/RecipeSorter/internal/config"
	"github.com/TobiSchelling/RecipeSorter/internal/llm"
	"github.com/TobiSchelling/RecipeSorter/internal/metrics"
	"github.com/TobiSchelling/RecipeSorter/internal/recipe"
	"github.com/TobiSchelling/RecipeSorter/internal/report"
	"github.com/TobiSchelling/RecipeSorter/internal/rules"
	"github.com/TobiSchelling/RecipeSorter/internal/scheduler"
	"github.com/TobiSchelling/RecipeSorter/internal/source"
	"github.com/TobiSchelling/RecipeSorter/internal/store"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of an analyze run.
type Result struct {
	Steps   []StepResult
	Report  *recipe.RunReport
	Results recipe.ResultSet
	// Summary is the markdown run summary.
	Summary string
}

// Err returns the first step error, if any.
func (r *Result) Err() error {
	for _, s := range r.Steps {
		if s.Err != nil {
			return fmt.Errorf("%s: %w", s.Name, s.Err)
		}
	}
	return nil
}

// Request describes one analyze run.
type Request struct {
	Options scheduler.Options
	// UseLLM false computes collection statistics only.
	UseLLM bool
	// Highlights asks the classifier service to summarize the collection.
	Highlights bool
}

// Pipeline orchestrates rules loading, classification, persistence and the
// run summary.
type Pipeline struct {
	cfg       *config.Config
	db        *store.DB
	src       source.Source
	provider  llm.Provider
	logger    *zap.Logger
	metrics   *metrics.Metrics
	loadRules func() (*rules.RuleSet, error)
}

// New creates a pipeline. provider may be nil; classification then aborts
// before any item is attempted.
func New(cfg *config.Config, db *store.DB, src source.Source, provider llm.Provider, logger *zap.Logger, m *metrics.Metrics) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		cfg:      cfg,
		db:       db,
		src:      src,
		provider: provider,
		logger:   logger,
		metrics:  m,
	}
	p.loadRules = func() (*rules.RuleSet, error) {
		return rules.Load(cfg.GetRulesDir())
	}
	return p
}

// NewProvider creates the classifier service client from config.
func NewProvider(cfg *config.Config, logger *zap.Logger) llm.Provider {
	c := cfg.Classifier
	return llm.CreateProvider(llm.Settings{
		Provider:        c.Provider,
		Model:           c.Model,
		OllamaURL:       c.OllamaURL,
		OpenAIModel:     c.OpenAIModel,
		APIKeyEnv:       c.APIKeyEnv,
		AzureEndpoint:   c.AzureEndpoint,
		AzureDeployment: c.AzureDeployment,
		AzureAPIVersion: c.AzureAPIVersion,
	}, logger)
}

// SchedulerOptions builds run options from config and the effective profile.
func SchedulerOptions(cfg *config.Config, rs config.RunSettings) scheduler.Options {
	opts := scheduler.Options{
		BatchSize:         rs.BatchSize,
		BatchDelay:        rs.BatchDelay,
		Timeout:           rs.Timeout,
		Workers:           cfg.Batch.Workers,
		MaxRetries:        cfg.Batch.MaxRetries,
		RetryBackoff:      cfg.Batch.RetryBackoff.D(),
		RequestsPerMinute: cfg.Batch.RequestsPerMinute,
		Breaker: scheduler.BreakerSettings{
			Enabled:      cfg.Breaker.Enabled,
			MinRequests:  cfg.Breaker.MinRequests,
			FailureRatio: cfg.Breaker.FailureRatio,
			OpenTimeout:  cfg.Breaker.OpenTimeout.D(),
		},
	}
	if rs.SampleSize > 0 {
		opts.Range = scheduler.Sample(rs.SampleSize)
	}
	return opts
}

// Run executes an analyze run.
func (p *Pipeline) Run(ctx context.Context, req Request) *Result {
	r := &Result{}

	items, step := p.runRead(ctx)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	if !req.UseLLM {
		r.Summary = report.Summary(report.Input{Items: items})
		r.Steps = append(r.Steps, StepResult{Name: "Statistics", Summary: fmt.Sprintf("Computed statistics for %d items", len(items))})
		return r
	}

	rs, step := p.runRules()
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	step = p.runClassify(ctx, r, rs, items, req.Options)
	r.Steps = append(r.Steps, step)
	if r.Report == nil {
		return r
	}

	// Aborted runs are saved too so their partial results and failures are
	// kept for a retry.
	step = p.runSave(r)
	r.Steps = append(r.Steps, step)

	r.Steps = append(r.Steps, p.runSummarize(ctx, r, items, req.Highlights))
	return r
}

// DryRun shows what would be done without calling the classifier.
func (p *Pipeline) DryRun(ctx context.Context, req Request) *Result {
	r := &Result{}

	items, step := p.runRead(ctx)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	_, step = p.runRules()
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	start, end, err := req.Options.Range.Bounds(len(items))
	if err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Classify", Err: err})
		return r
	}
	n := end - start + 1
	size := req.Options.BatchSize
	if size <= 0 {
		size = scheduler.DefaultOptions().BatchSize
	}
	r.Steps = append(r.Steps, StepResult{
		Name:    "Classify",
		Summary: fmt.Sprintf("[dry-run] Would classify %d items (positions %d-%d) in %d batches", n, start, end, (n+size-1)/size),
	})
	return r
}

func (p *Pipeline) runRead(ctx context.Context) ([]recipe.Item, StepResult) {
	p.logger.Info("reading items")
	items, err := p.src.ListItems(ctx)
	if err != nil {
		return nil, StepResult{Name: "Read", Err: err}
	}
	return items, StepResult{Name: "Read", Summary: fmt.Sprintf("Read %d items", len(items))}
}

func (p *Pipeline) runRules() (*rules.RuleSet, StepResult) {
	p.logger.Info("loading rules", zap.String("dir", p.cfg.GetRulesDir()))
	rs, err := p.loadRules()
	if err != nil {
		return nil, StepResult{Name: "Rules", Err: err}
	}
	return rs, StepResult{
		Name:    "Rules",
		Summary: fmt.Sprintf("Loaded %d categories", len(rs.Categories())),
	}
}

func (p *Pipeline) runClassify(ctx context.Context, r *Result, rs *rules.RuleSet, items []recipe.Item, opts scheduler.Options) StepResult {
	p.logger.Info("classifying items", zap.Int("items", len(items)))

	var c scheduler.Classifier
	if p.provider != nil {
		c = classifier.New(p.provider, llm.Options{
			MaxTokens:   p.cfg.Classifier.MaxTokens,
			Temperature: p.cfg.Classifier.Temperature,
		}, p.logger)
	}

	r.Report, r.Results = scheduler.New(rs, c, p.logger, p.metrics).Run(ctx, items, opts)
	step := StepResult{
		Name: "Classify",
		Summary: fmt.Sprintf("Classified %d of %d items (%d failed)",
			r.Report.Succeeded, r.Report.Attempted, r.Report.Failed),
	}
	if r.Report.State == recipe.StateAborted {
		step.Err = errors.New(r.Report.AbortError)
	}
	return step
}

func (p *Pipeline) runSave(r *Result) StepResult {
	if err := p.db.SaveRun(r.Report, r.Results); err != nil {
		return StepResult{Name: "Save", Err: err}
	}
	return StepResult{
		Name:    "Save",
		Summary: fmt.Sprintf("Saved run %s with %d judgments", r.Report.RunID, len(r.Results)),
	}
}

func (p *Pipeline) runSummarize(ctx context.Context, r *Result, items []recipe.Item, highlights bool) StepResult {
	all, err := p.db.LoadResultSet()
	if err != nil {
		p.logger.Warn("summarizing this run only", zap.Error(err))
		all = r.Results
	}

	var provider llm.Provider
	if highlights {
		provider = p.provider
	}
	r.Summary = report.NewComposer(provider, p.logger).Compose(ctx, report.Input{Items: items, Results: all, Run: r.Report})
	return StepResult{Name: "Summarize", Summary: fmt.Sprintf("Summarized %d stored judgments", len(all))}
}
