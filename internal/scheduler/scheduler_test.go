package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/TobiSchelling/RecipeSorter/internal/classifier"
	"github.com/TobiSchelling/RecipeSorter/internal/llm"
	"github.com/TobiSchelling/RecipeSorter/internal/metrics"
	"github.com/TobiSchelling/RecipeSorter/internal/prompt"
	"github.com/TobiSchelling/RecipeSorter/internal/recipe"
	"github.com/TobiSchelling/RecipeSorter/internal/rules"
)

// fakeClassifier answers by item ID and records every request.
type fakeClassifier struct {
	mu       sync.Mutex
	calls    map[string]int
	requests []prompt.Request
	respond  func(itemID string, call int) (recipe.RawJudgment, error)
}

func newFake(respond func(itemID string, call int) (recipe.RawJudgment, error)) *fakeClassifier {
	if respond == nil {
		respond = func(string, int) (recipe.RawJudgment, error) { return dessert(), nil }
	}
	return &fakeClassifier{calls: make(map[string]int), respond: respond}
}

func (f *fakeClassifier) Classify(_ context.Context, req prompt.Request, _ time.Duration) (recipe.RawJudgment, error) {
	f.mu.Lock()
	f.calls[req.ItemID]++
	call := f.calls[req.ItemID]
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.respond(req.ItemID, call)
}

func (f *fakeClassifier) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func dessert() recipe.RawJudgment {
	return recipe.RawJudgment{
		IsRecipe:      true,
		ProposedTitle: "Chocolate Birthday Cake",
		QualityScore:  4,
		Category:      "Desserts",
		Dietary:       []string{"Vegan"},
		Usage:         []string{"Favorite"},
		Confidence:    5,
	}
}

func makeItems(n int) []recipe.Item {
	items := make([]recipe.Item, n)
	for i := range items {
		items[i] = recipe.Item{
			ID:       fmt.Sprintf("item-%d", i),
			Position: i,
			Title:    fmt.Sprintf("Recipe %d", i),
			Tags:     []string{"saved"},
		}
	}
	return items
}

func loadRules(t *testing.T) *rules.RuleSet {
	t.Helper()
	rs, err := rules.Parse(rules.DefaultSources())
	require.NoError(t, err)
	return rs
}

func testOptions() Options {
	o := DefaultOptions()
	o.BatchDelay = 0
	o.RetryBackoff = time.Millisecond
	o.Breaker.Enabled = false
	return o
}

func malformed() error {
	return &classifier.Error{Kind: recipe.KindMalformedResponse, Err: errors.New("not json")}
}

func TestRunBatchIsolation(t *testing.T) {
	fake := newFake(func(id string, _ int) (recipe.RawJudgment, error) {
		if id == "item-7" {
			return recipe.RawJudgment{}, malformed()
		}
		return dessert(), nil
	})
	s := New(loadRules(t), fake, zaptest.NewLogger(t), nil)

	opts := testOptions()
	opts.BatchSize = 10
	report, results := s.Run(context.Background(), makeItems(25), opts)

	assert.Equal(t, recipe.StateCompleted, report.State)
	assert.Equal(t, 25, report.Attempted)
	assert.Equal(t, 24, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "item-7", report.Failures[0].ItemID)
	assert.Equal(t, 7, report.Failures[0].Position)
	assert.Equal(t, recipe.KindMalformedResponse, report.Failures[0].Kind)
	assert.Len(t, results, 24)
	assert.NotContains(t, results, "item-7")
	assert.Equal(t, recipe.StateCompleted, s.State())
}

func TestRunPanicIsIsolated(t *testing.T) {
	fake := newFake(func(id string, _ int) (recipe.RawJudgment, error) {
		if id == "item-2" {
			panic("boom")
		}
		return dessert(), nil
	})
	report, _ := New(loadRules(t), fake, nil, nil).Run(context.Background(), makeItems(5), testOptions())

	assert.Equal(t, 4, report.Succeeded)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, recipe.KindInternal, report.Failures[0].Kind)
	assert.Contains(t, report.Failures[0].Message, "boom")
}

func TestRunResolvesJudgments(t *testing.T) {
	report, results := New(loadRules(t), newFake(nil), nil, nil).
		Run(context.Background(), makeItems(1), testOptions())
	require.Equal(t, 1, report.Succeeded)

	e := results["item-0"]
	assert.Equal(t, "item-0", e.Judgment.ItemID)
	assert.Equal(t, "Recipe 0", e.Judgment.Title)
	assert.Equal(t, "Desserts", e.Judgment.Category)
	assert.Equal(t, []string{"Vegan"}, e.Judgment.Dietary)
	assert.Empty(t, e.Judgment.Usage)
	assert.Equal(t, recipe.Unclassified, e.Judgment.Cuisine)
	assert.Equal(t, report.RunID, e.RunID)
	assert.Equal(t, []string{"saved"}, e.ExistingTags)
}

func TestRunUnknownCategory(t *testing.T) {
	fake := newFake(func(string, int) (recipe.RawJudgment, error) {
		j := dessert()
		j.Category = "Snacks"
		return j, nil
	})
	report, _ := New(loadRules(t), fake, nil, nil).Run(context.Background(), makeItems(2), testOptions())

	require.Len(t, report.Failures, 2)
	assert.Equal(t, recipe.KindUnknownCategory, report.Failures[0].Kind)
	assert.Equal(t, 2, fake.totalCalls())
}

func TestRunRangeReproducible(t *testing.T) {
	rs := loadRules(t)
	items := makeItems(50)
	opts := testOptions()
	opts.Range = NewRange(10, 19)

	run := func() ([]string, []int) {
		fake := newFake(nil)
		report, results := New(rs, fake, nil, nil).Run(context.Background(), items, opts)
		require.Equal(t, recipe.StateCompleted, report.State)
		require.Equal(t, 10, report.Attempted)
		assert.Equal(t, 10, report.RangeStart)
		assert.Equal(t, 19, report.RangeEnd)

		var fingerprints []string
		for _, r := range fake.requests {
			fingerprints = append(fingerprints, r.Fingerprint)
		}
		var positions []int
		for _, e := range results.Ordered() {
			positions = append(positions, e.Position)
		}
		return fingerprints, positions
	}

	fp1, pos1 := run()
	fp2, pos2 := run()
	assert.Equal(t, []int{10, 11, 12, 13, 14, 15, 16, 17, 18, 19}, pos1)
	if diff := cmp.Diff(fp1, fp2); diff != "" {
		t.Errorf("requests differ between runs (-first +second):\n%s", diff)
	}
	assert.Equal(t, pos1, pos2)
}

func TestRunAborts(t *testing.T) {
	rs := loadRules(t)
	tests := []struct {
		name  string
		rules *rules.RuleSet
		nilC  bool
		rng   Range
	}{
		{name: "no rules", rng: All()},
		{name: "no classifier", rules: rs, nilC: true, rng: All()},
		{name: "end before start", rules: rs, rng: NewRange(8, 3)},
		{name: "end past items", rules: rs, rng: NewRange(0, 10)},
		{name: "negative count", rules: rs, rng: Sample(-1)},
		{name: "start past items", rules: rs, rng: From(10)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFake(nil)
			var c Classifier = fake
			if tt.nilC {
				c = nil
			}
			opts := testOptions()
			opts.Range = tt.rng

			s := New(tt.rules, c, nil, nil)
			report, results := s.Run(context.Background(), makeItems(10), opts)

			assert.Equal(t, recipe.StateAborted, report.State)
			assert.NotEmpty(t, report.AbortError)
			assert.Zero(t, report.Attempted)
			assert.Empty(t, results)
			assert.Zero(t, fake.totalCalls())
		})
	}
}

func TestRunRetriesTransientErrors(t *testing.T) {
	fake := newFake(func(_ string, call int) (recipe.RawJudgment, error) {
		if call < 3 {
			return recipe.RawJudgment{}, &classifier.Error{Kind: recipe.KindTimeout, Err: context.DeadlineExceeded}
		}
		return dessert(), nil
	})
	opts := testOptions()
	opts.MaxRetries = 2
	report, _ := New(loadRules(t), fake, nil, nil).Run(context.Background(), makeItems(1), opts)

	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 3, fake.totalCalls())
}

func TestRunGivesUpAfterMaxRetries(t *testing.T) {
	fake := newFake(func(string, int) (recipe.RawJudgment, error) {
		return recipe.RawJudgment{}, &classifier.Error{Kind: recipe.KindServiceError, Err: errors.New("502")}
	})
	opts := testOptions()
	opts.MaxRetries = 1
	report, _ := New(loadRules(t), fake, nil, nil).Run(context.Background(), makeItems(1), opts)

	require.Len(t, report.Failures, 1)
	assert.Equal(t, recipe.KindServiceError, report.Failures[0].Kind)
	assert.Equal(t, 2, report.Failures[0].Attempts)
	assert.Equal(t, 2, fake.totalCalls())
}

func TestRunDoesNotRetryMalformed(t *testing.T) {
	fake := newFake(func(string, int) (recipe.RawJudgment, error) { return recipe.RawJudgment{}, malformed() })
	opts := testOptions()
	opts.MaxRetries = 3
	report, _ := New(loadRules(t), fake, nil, nil).Run(context.Background(), makeItems(1), opts)

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, fake.totalCalls())
}

func TestRunCircuitBreakerOpens(t *testing.T) {
	fake := newFake(func(string, int) (recipe.RawJudgment, error) {
		return recipe.RawJudgment{}, &classifier.Error{Kind: recipe.KindServiceError, Err: errors.New("connection refused")}
	})
	opts := testOptions()
	opts.MaxRetries = 0
	opts.Breaker = BreakerSettings{Enabled: true, MinRequests: 2, FailureRatio: 0.5, OpenTimeout: time.Minute}

	m := metrics.New()
	report, _ := New(loadRules(t), fake, nil, m).Run(context.Background(), makeItems(5), opts)

	assert.Equal(t, 5, report.Failed)
	assert.Equal(t, 2, fake.totalCalls())
	for _, f := range report.Failures {
		assert.Equal(t, recipe.KindServiceError, f.Kind)
	}
	assert.Contains(t, report.Failures[4].Message, "circuit breaker is open")
}

func TestRunWorkersKeepOrderAndDoNotLeak(t *testing.T) {
	defer goleak.VerifyNone(t)

	fake := newFake(func(id string, _ int) (recipe.RawJudgment, error) {
		if id == "item-31" || id == "item-4" {
			return recipe.RawJudgment{}, malformed()
		}
		time.Sleep(time.Millisecond)
		return dessert(), nil
	})
	opts := testOptions()
	opts.Workers = 4
	opts.BatchSize = 8
	opts.RequestsPerMinute = 600000

	report, results := New(loadRules(t), fake, nil, metrics.New()).Run(context.Background(), makeItems(40), opts)

	assert.Equal(t, 40, report.Attempted)
	assert.Len(t, results, 38)
	require.Len(t, report.Failures, 2)
	assert.Equal(t, "item-4", report.Failures[0].ItemID)
	assert.Equal(t, "item-31", report.Failures[1].ItemID)
}

func TestRunBatchDelay(t *testing.T) {
	opts := testOptions()
	opts.BatchSize = 2
	opts.BatchDelay = 30 * time.Millisecond

	start := time.Now()
	report, _ := New(loadRules(t), newFake(nil), nil, nil).Run(context.Background(), makeItems(5), opts)
	assert.Equal(t, 5, report.Succeeded)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestRunSingleItemSampleSkipsDelay(t *testing.T) {
	opts := testOptions()
	opts.Range = Sample(1)
	opts.BatchDelay = time.Hour

	s := New(loadRules(t), newFake(nil), nil, nil)
	done := make(chan *recipe.RunReport, 1)
	go func() {
		report, _ := s.Run(context.Background(), makeItems(5), opts)
		done <- report
	}()

	select {
	case report := <-done:
		assert.Equal(t, 1, report.Attempted)
	case <-time.After(5 * time.Second):
		t.Fatal("single-item sample waited for a batch delay")
	}
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fake := newFake(nil)
	report, _ := New(loadRules(t), fake, nil, nil).Run(ctx, makeItems(3), testOptions())

	assert.Equal(t, recipe.StateAborted, report.State)
	assert.Contains(t, report.AbortError, "interrupted")
	assert.Zero(t, report.Attempted)
	assert.Zero(t, fake.totalCalls())
}

// slowProvider answers every request with a valid dessert after delay,
// ignoring cancellation the way a remote service would.
type slowProvider struct {
	delay time.Duration
}

func (p slowProvider) Generate(context.Context, string, string, llm.Options) (string, error) {
	time.Sleep(p.delay)
	return `{"is_recipe": true, "content_summary": "Cake.", "proposed_title": "Chocolate Cake",
		"quality_score": 4, "primary_category": "Desserts", "cuisine_type": null,
		"dietary_tags": [], "usage_tags": [], "confidence": 5, "reasoning": "Baked."}`, nil
}

func (slowProvider) IsConfigured() bool { return true }
func (slowProvider) Name() string       { return "slow" }

func TestRunCancelLetsItemInFlightFinish(t *testing.T) {
	gateway := classifier.New(slowProvider{delay: 200 * time.Millisecond}, llm.Options{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(50*time.Millisecond, cancel)

	opts := testOptions()
	opts.Timeout = 5 * time.Second
	report, results := New(loadRules(t), gateway, nil, nil).Run(ctx, makeItems(3), opts)

	assert.Equal(t, recipe.StateAborted, report.State)
	assert.Equal(t, 1, report.Attempted)
	assert.Equal(t, 1, report.Succeeded)
	assert.Zero(t, report.Failed)
	assert.Empty(t, report.Failures)
	require.Contains(t, results, "item-0")
	assert.Equal(t, "Desserts", results["item-0"].Judgment.Category)
	assert.Len(t, results, 1)
}

func TestRunZeroSampleClassifiesNothing(t *testing.T) {
	fake := newFake(nil)
	opts := testOptions()
	opts.Range = Sample(0)
	report, results := New(loadRules(t), fake, nil, nil).Run(context.Background(), makeItems(25), opts)

	assert.Equal(t, recipe.StateAborted, report.State)
	assert.Contains(t, report.AbortError, "count must be at least 1")
	assert.Zero(t, report.Attempted)
	assert.Empty(t, results)
	assert.Zero(t, fake.totalCalls())
}

func TestRunStateLifecycle(t *testing.T) {
	s := New(loadRules(t), newFake(nil), nil, nil)
	assert.Equal(t, recipe.StateIdle, s.State())

	opts := testOptions()
	opts.RunID = "run-1"
	report, _ := s.Run(context.Background(), makeItems(2), opts)
	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, recipe.StateCompleted, s.State())

	report, _ = s.Run(context.Background(), makeItems(2), opts)
	assert.Equal(t, recipe.StateCompleted, report.State)
}
