package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/TobiSchelling/RecipeSorter/internal/config"
	"github.com/TobiSchelling/RecipeSorter/internal/llm"
	"github.com/TobiSchelling/RecipeSorter/internal/recipe"
	"github.com/TobiSchelling/RecipeSorter/internal/rules"
	"github.com/TobiSchelling/RecipeSorter/internal/scheduler"
	"github.com/TobiSchelling/RecipeSorter/internal/source"
	"github.com/TobiSchelling/RecipeSorter/internal/store"
)

// mockProvider fails for prompts mentioning failTitle and returns a valid
// judgment otherwise.
type mockProvider struct {
	mu        sync.Mutex
	failTitle string
	calls     int
}

func (m *mockProvider) Generate(_ context.Context, _, prompt string, _ llm.Options) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.failTitle != "" && strings.Contains(prompt, m.failTitle) {
		return "", &llm.APIError{Provider: "mock", StatusCode: 400, Body: "bad request"}
	}
	data, _ := json.Marshal(map[string]any{
		"is_recipe":               true,
		"content_summary":         "A weeknight dinner.",
		"proposed_title":          "Weeknight Dinner",
		"title_needs_improvement": false,
		"quality_score":           4,
		"primary_category":        "Chicken",
		"cuisine_type":            "Italian",
		"dietary_tags":            []string{},
		"usage_tags":              []string{"Weeknight"},
		"confidence":              4,
		"reasoning":               "Chicken main.",
	})
	return string(data), nil
}

func (m *mockProvider) IsConfigured() bool { return true }
func (m *mockProvider) Name() string       { return "mock" }

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	_, err := rules.WriteDefaults(dir)
	require.NoError(t, err)
	return &config.Config{
		RulesDir:   dir,
		Classifier: config.Classifier{MaxTokens: 800},
		Batch:      config.Batch{Size: 20, Workers: 1},
	}
}

func makeItems(n int) source.Static {
	items := make(source.Static, n)
	for i := range items {
		items[i] = recipe.Item{ID: fmt.Sprintf("item-%d", i), Position: i, Title: fmt.Sprintf("Recipe %d", i)}
	}
	return items
}

func testRequest() Request {
	return Request{
		UseLLM: true,
		Options: scheduler.Options{
			BatchSize:    2,
			Timeout:      time.Second,
			RetryBackoff: time.Millisecond,
		},
	}
}

func stepNames(r *Result) []string {
	var names []string
	for _, s := range r.Steps {
		names = append(names, s.Name)
	}
	return names
}

func TestRunClassifiesAndSaves(t *testing.T) {
	db := openTestDB(t)
	provider := &mockProvider{}
	p := New(testConfig(t), db, makeItems(3), provider, zaptest.NewLogger(t), nil)

	res := p.Run(context.Background(), testRequest())
	require.NoError(t, res.Err())
	assert.Equal(t, []string{"Read", "Rules", "Classify", "Save", "Summarize"}, stepNames(res))
	assert.Equal(t, 3, res.Report.Succeeded)
	assert.Equal(t, 3, provider.calls)

	stored, err := db.LoadResultSet()
	require.NoError(t, err)
	assert.Len(t, stored, 3)
	assert.Equal(t, "Chicken", stored["item-1"].Judgment.Category)

	run, err := db.GetRun(res.Report.RunID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, recipe.StateCompleted, run.State)

	assert.Contains(t, res.Summary, "## Run "+res.Report.RunID)
	assert.Contains(t, res.Summary, "| Chicken | 3 |")
}

func TestRunRecordsFailures(t *testing.T) {
	db := openTestDB(t)
	p := New(testConfig(t), db, makeItems(4), &mockProvider{failTitle: "Recipe 2"}, zaptest.NewLogger(t), nil)

	res := p.Run(context.Background(), testRequest())
	require.NoError(t, res.Err())
	assert.Equal(t, 3, res.Report.Succeeded)
	require.Len(t, res.Report.Failures, 1)
	assert.Equal(t, "item-2", res.Report.Failures[0].ItemID)

	failures, err := db.GetFailures(res.Report.RunID)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, recipe.KindServiceError, failures[0].Kind)
	assert.Contains(t, res.Summary, "analyze --range 2-2")
}

func TestRunStatisticsOnly(t *testing.T) {
	db := openTestDB(t)
	provider := &mockProvider{}
	p := New(testConfig(t), db, makeItems(5), provider, zaptest.NewLogger(t), nil)

	res := p.Run(context.Background(), Request{UseLLM: false})
	require.NoError(t, res.Err())
	assert.Zero(t, provider.calls)
	assert.Nil(t, res.Report)
	assert.Contains(t, res.Summary, "- Items: 5")

	runs, err := db.ListRuns(0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRunWithoutProviderAborts(t *testing.T) {
	db := openTestDB(t)
	p := New(testConfig(t), db, makeItems(2), nil, zaptest.NewLogger(t), nil)

	res := p.Run(context.Background(), testRequest())
	require.Error(t, res.Err())
	assert.Contains(t, res.Err().Error(), "no classifier configured")
	require.NotNil(t, res.Report)
	assert.Equal(t, recipe.StateAborted, res.Report.State)
	assert.Zero(t, res.Report.Attempted)

	run, err := db.GetRun(res.Report.RunID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, recipe.StateAborted, run.State)
}

func TestRunWithMissingRules(t *testing.T) {
	cfg := testConfig(t)
	cfg.RulesDir = t.TempDir()
	p := New(cfg, openTestDB(t), makeItems(2), &mockProvider{}, zaptest.NewLogger(t), nil)

	res := p.Run(context.Background(), testRequest())
	require.Error(t, res.Err())
	assert.True(t, strings.HasPrefix(res.Err().Error(), "Rules: "))
	assert.Nil(t, res.Report)
}

type failingSource struct{}

func (failingSource) ListItems(context.Context) ([]recipe.Item, error) {
	return nil, errors.New("export unreadable")
}

func TestRunWithUnreadableSource(t *testing.T) {
	p := New(testConfig(t), openTestDB(t), failingSource{}, &mockProvider{}, zaptest.NewLogger(t), nil)

	res := p.Run(context.Background(), testRequest())
	assert.EqualError(t, res.Err(), "Read: export unreadable")
	assert.Equal(t, []string{"Read"}, stepNames(res))
}

func TestDryRun(t *testing.T) {
	provider := &mockProvider{}
	p := New(testConfig(t), openTestDB(t), makeItems(45), provider, zaptest.NewLogger(t), nil)

	req := testRequest()
	req.Options.BatchSize = 20
	res := p.DryRun(context.Background(), req)
	require.NoError(t, res.Err())
	assert.Contains(t, res.Steps[2].Summary, "Would classify 45 items (positions 0-44) in 3 batches")
	assert.Zero(t, provider.calls)

	req.Options.Range = scheduler.NewRange(40, 50)
	res = p.DryRun(context.Background(), req)
	assert.Error(t, res.Err())
}

func TestSchedulerOptions(t *testing.T) {
	cfg := testConfig(t)
	cfg.Batch.MaxRetries = 3
	cfg.Breaker = config.Breaker{Enabled: true, MinRequests: 4, FailureRatio: 0.25, OpenTimeout: config.Duration(time.Minute)}

	opts := SchedulerOptions(cfg, config.RunSettings{BatchSize: 7, BatchDelay: time.Second, Timeout: 5 * time.Second, SampleSize: 10})
	assert.Equal(t, 7, opts.BatchSize)
	assert.Equal(t, 3, opts.MaxRetries)
	assert.Equal(t, scheduler.Sample(10), opts.Range)
	assert.Equal(t, time.Minute, opts.Breaker.OpenTimeout)

	opts = SchedulerOptions(cfg, config.RunSettings{BatchSize: 7})
	assert.Equal(t, scheduler.All(), opts.Range)
}
