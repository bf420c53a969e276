// Package scheduler runs the categorization pipeline over a range of items in
// paced batches and accumulates a run report and result set.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/RecipeSorter/internal/classifier"
	"github.com/TobiSchelling/RecipeSorter/internal/metrics"
	"github.com/TobiSchelling/RecipeSorter/internal/prompt"
	"github.com/TobiSchelling/RecipeSorter/internal/recipe"
	"github.com/TobiSchelling/RecipeSorter/internal/resolve"
	"github.com/TobiSchelling/RecipeSorter/internal/rules"
)

// Classifier makes a single classification attempt.
type Classifier interface {
	Classify(ctx context.Context, req prompt.Request, timeout time.Duration) (recipe.RawJudgment, error)
}

// Options control one run.
type Options struct {
	Range      Range
	BatchSize  int
	BatchDelay time.Duration
	// Timeout bounds each classifier attempt.
	Timeout time.Duration
	// Workers is the number of items classified concurrently within a batch.
	Workers int
	// MaxRetries is the number of extra attempts for timeouts and transient
	// service errors.
	MaxRetries   int
	RetryBackoff time.Duration
	// RequestsPerMinute caps classifier calls across workers. 0 is unlimited.
	RequestsPerMinute int
	Breaker           BreakerSettings
	// RunID is generated when empty.
	RunID string
}

// DefaultOptions returns the standard pacing: batches of 20, two seconds
// apart, one item at a time, two retries.
func DefaultOptions() Options {
	return Options{
		BatchSize:    20,
		BatchDelay:   2 * time.Second,
		Timeout:      classifier.DefaultTimeout,
		Workers:      1,
		MaxRetries:   2,
		RetryBackoff: time.Second,
		Breaker:      DefaultBreakerSettings(),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.BatchDelay < 0 {
		o.BatchDelay = 0
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = d.RetryBackoff
	}
	if o.Breaker.Enabled {
		if o.Breaker.FailureRatio <= 0 {
			o.Breaker.FailureRatio = d.Breaker.FailureRatio
		}
		if o.Breaker.OpenTimeout <= 0 {
			o.Breaker.OpenTimeout = d.Breaker.OpenTimeout
		}
	}
	if o.RunID == "" {
		o.RunID = uuid.NewString()
	}
	return o
}

// ErrRunInProgress is reported when Run is called while another run of the
// same scheduler is active.
var ErrRunInProgress = errors.New("a run is already in progress")

// Scheduler drives runs. A Scheduler may be reused for sequential runs.
type Scheduler struct {
	rules      *rules.RuleSet
	classifier Classifier
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	mu    sync.Mutex
	state recipe.RunState
}

// New creates a scheduler. logger and m may be nil.
func New(rs *rules.RuleSet, c Classifier, logger *zap.Logger, m *metrics.Metrics) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		rules:      rs,
		classifier: c,
		logger:     logger,
		metrics:    m,
		now:        time.Now,
		state:      recipe.StateIdle,
	}
}

// State returns the state of the current or most recent run.
func (s *Scheduler) State() recipe.RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// outcome is the result of one item: exactly one of judgment or failure.
type outcome struct {
	item        recipe.Item
	judgment    *recipe.Judgment
	failure     *recipe.Failure
	adjustments []resolve.Adjustment
	attempts    int
	// skipped items were never started because the run was cancelled.
	skipped bool
}

// Run processes the selected items and returns the run report together with
// the judgments produced. Item failures never stop the run; they are recorded
// in the report. The run is aborted before any item is attempted when the
// rule set or classifier is missing or the range does not fit the items.
// Cancelling ctx stops the run after the items in flight finish.
func (s *Scheduler) Run(ctx context.Context, items []recipe.Item, opts Options) (*recipe.RunReport, recipe.ResultSet) {
	opts = opts.withDefaults()
	report := &recipe.RunReport{
		RunID:     opts.RunID,
		State:     recipe.StateIdle,
		StartedAt: s.now(),
		Failures:  []recipe.Failure{},
	}
	results := recipe.ResultSet{}

	start, end, err := s.precheck(items, opts)
	if err != nil {
		return s.abort(report, err), results
	}
	if !s.begin() {
		return s.abort(report, ErrRunInProgress), results
	}
	report.State = recipe.StateRunning
	report.RangeStart, report.RangeEnd = start, end

	selected := items[start : end+1]
	s.logger.Info("run started",
		zap.String("run", report.RunID),
		zap.Int("start", start),
		zap.Int("end", end),
		zap.Int("items", len(selected)),
		zap.Int("batch_size", opts.BatchSize),
		zap.Int("workers", opts.Workers))

	call := newCaller(opts, s.logger, s.metrics)
	batches := (len(selected) + opts.BatchSize - 1) / opts.BatchSize

	var interrupted error
	for b := 0; b < batches; b++ {
		if err := ctx.Err(); err != nil {
			interrupted = err
			break
		}

		lo := b * opts.BatchSize
		hi := min(lo+opts.BatchSize, len(selected))
		outcomes := s.runBatch(ctx, call, selected[lo:hi], opts)
		for _, o := range outcomes {
			s.fold(report, results, o)
		}
		if err := ctx.Err(); err != nil {
			interrupted = err
			break
		}
		s.metrics.FinishBatch()
		s.logger.Info("batch complete",
			zap.String("run", report.RunID),
			zap.Int("batch", b+1),
			zap.Int("batches", batches),
			zap.Int("succeeded", report.Succeeded),
			zap.Int("failed", report.Failed))

		if b < batches-1 && opts.BatchDelay > 0 {
			if err := sleep(ctx, opts.BatchDelay); err != nil {
				interrupted = err
				break
			}
		}
	}

	report.SortFailures()
	report.FinishedAt = s.now()
	report.Duration = report.FinishedAt.Sub(report.StartedAt)
	if interrupted != nil {
		report.State = recipe.StateAborted
		report.AbortError = fmt.Sprintf("interrupted: %v", interrupted)
	} else {
		report.State = recipe.StateCompleted
	}
	s.finish(report.State)

	s.logger.Info("run finished",
		zap.String("run", report.RunID),
		zap.String("state", string(report.State)),
		zap.Int("attempted", report.Attempted),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration))
	return report, results
}

func (s *Scheduler) precheck(items []recipe.Item, opts Options) (int, int, error) {
	if s.rules == nil {
		return 0, 0, errors.New("no rule set loaded")
	}
	if s.classifier == nil {
		return 0, 0, errors.New("no classifier configured")
	}
	return opts.Range.Bounds(len(items))
}

func (s *Scheduler) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == recipe.StateRunning {
		return false
	}
	s.state = recipe.StateRunning
	return true
}

func (s *Scheduler) finish(state recipe.RunState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.metrics.FinishRun(string(state))
}

func (s *Scheduler) abort(report *recipe.RunReport, err error) *recipe.RunReport {
	report.State = recipe.StateAborted
	report.AbortError = err.Error()
	report.FinishedAt = s.now()
	report.Duration = report.FinishedAt.Sub(report.StartedAt)
	if !errors.Is(err, ErrRunInProgress) {
		s.mu.Lock()
		s.state = recipe.StateAborted
		s.mu.Unlock()
	}
	s.metrics.FinishRun(string(recipe.StateAborted))
	s.logger.Error("run aborted", zap.String("run", report.RunID), zap.Error(err))
	return report
}

// runBatch classifies a batch with up to opts.Workers items in flight. The
// returned outcomes are in batch order.
func (s *Scheduler) runBatch(ctx context.Context, call *caller, batch []recipe.Item, opts Options) []outcome {
	outcomes := make([]outcome, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	for i := range batch {
		g.Go(func() error {
			if gctx.Err() != nil {
				outcomes[i] = outcome{item: batch[i], skipped: true}
				return nil
			}
			outcomes[i] = s.processItem(gctx, call, batch[i], opts)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// processItem renders, classifies and resolves one item. A panic anywhere in
// the chain becomes an internal failure for this item only.
func (s *Scheduler) processItem(ctx context.Context, call *caller, item recipe.Item, opts Options) (o outcome) {
	o.item = item
	started := s.now()
	s.metrics.StartItem()
	defer func() {
		if r := recover(); r != nil {
			o = failed(item, recipe.KindInternal, fmt.Errorf("panic: %v", r), o.attempts)
		}
		label := "success"
		if o.failure != nil {
			label = string(o.failure.Kind)
		}
		s.metrics.FinishItem(label, s.now().Sub(started))
	}()

	// An item in flight runs to completion; each attempt is bounded by
	// opts.Timeout instead of the run's cancellation.
	req := prompt.Render(s.rules, item)
	raw, attempts, err := call.call(context.WithoutCancel(ctx), item.ID, func(ctx context.Context) (recipe.RawJudgment, error) {
		return s.classifier.Classify(ctx, req, opts.Timeout)
	})
	o.attempts = attempts
	if err != nil {
		o = failed(item, failureKind(err), err, attempts)
		s.logger.Warn("item failed",
			zap.String("item", item.ID),
			zap.Int("position", item.Position),
			zap.String("kind", string(o.failure.Kind)),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return o
	}

	j, adj, err := resolve.Detailed(s.rules, raw)
	if err != nil {
		o = failed(item, failureKind(err), err, attempts)
		s.logger.Warn("item failed",
			zap.String("item", item.ID),
			zap.Int("position", item.Position),
			zap.String("kind", string(o.failure.Kind)),
			zap.Error(err))
		return o
	}
	j.ItemID = item.ID
	j.Title = item.Title
	o.judgment = &j
	o.adjustments = adj

	for _, a := range adj {
		s.logger.Debug("resolver adjustment", zap.String("item", item.ID), zap.Stringer("adjustment", a))
	}
	return o
}

func failed(item recipe.Item, kind recipe.FailureKind, err error, attempts int) outcome {
	return outcome{
		item: item,
		failure: &recipe.Failure{
			ItemID:   item.ID,
			Position: item.Position,
			Title:    item.Title,
			Kind:     kind,
			Message:  err.Error(),
			Attempts: attempts,
		},
		attempts: attempts,
	}
}

// failureKind maps an error to the kind recorded in the report.
func failureKind(err error) recipe.FailureKind {
	if kind, ok := classifier.KindOf(err); ok {
		return kind
	}
	var uce *resolve.UnknownCategoryError
	if errors.As(err, &uce) {
		return uce.Kind()
	}
	if isCircuitOpen(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return recipe.KindServiceError
	}
	return recipe.KindInternal
}

func (s *Scheduler) fold(report *recipe.RunReport, results recipe.ResultSet, o outcome) {
	if o.skipped {
		return
	}
	report.Attempted++
	if o.failure != nil {
		report.Failed++
		report.Failures = append(report.Failures, *o.failure)
		return
	}
	report.Succeeded++
	results[o.item.ID] = recipe.Entry{
		Judgment:     *o.judgment,
		Position:     o.item.Position,
		ExistingTags: append([]string(nil), o.item.Tags...),
		RunID:        report.RunID,
		ClassifiedAt: report.StartedAt,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
