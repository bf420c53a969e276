package store

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"

	"github.com/TobiSchelling/RecipeSorter/internal/recipe"
	"github.com/TobiSchelling/RecipeSorter/internal/reconcile"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var started = time.Date(2026, 2, 6, 9, 30, 0, 0, time.UTC)

func sampleRun() (*recipe.RunReport, recipe.ResultSet) {
	report := &recipe.RunReport{
		RunID:      "run-1",
		State:      recipe.StateCompleted,
		RangeStart: 0,
		RangeEnd:   2,
		Attempted:  3,
		Succeeded:  2,
		Failed:     1,
		Failures: []recipe.Failure{
			{ItemID: "c", Position: 2, Title: "Mystery", Kind: recipe.KindTimeout, Message: "no reply", Attempts: 3},
		},
		StartedAt:  started,
		FinishedAt: started.Add(90 * time.Second),
		Duration:   90 * time.Second,
	}
	results := recipe.ResultSet{
		"a": {
			Position:     0,
			RunID:        "run-1",
			ClassifiedAt: started,
			ExistingTags: []string{"dessert"},
			Judgment: recipe.Judgment{
				ItemID: "a", Title: "cake", IsRecipe: true, ProposedTitle: "Chocolate Cake",
				TitleNeedsImprovement: true, QualityScore: 4, Category: "Desserts", Cuisine: "American",
				Dietary: []string{"Vegan"}, Usage: []string{}, Confidence: 5, Reasoning: "sweet",
			},
		},
		"b": {
			Position: 1,
			RunID:    "run-1",
			Judgment: recipe.Judgment{
				ItemID: "b", Title: "knife skills", QualityScore: 2, Category: "Cooking Reference",
				Cuisine: recipe.Unclassified, Confidence: 3,
			},
		},
	}
	return report, results
}

func TestSaveRunAndLoad(t *testing.T) {
	db := openTestDB(t)
	report, results := sampleRun()
	if err := db.SaveRun(report, results); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := db.GetRun("run-1")
	if err != nil || got == nil {
		t.Fatalf("GetRun: %v, %v", got, err)
	}
	if got.Succeeded != 2 || got.Failed != 1 || got.State != recipe.StateCompleted {
		t.Errorf("unexpected run: %+v", got)
	}
	if got.Duration != 90*time.Second || !got.StartedAt.Equal(started) {
		t.Errorf("unexpected timing: %v %v", got.Duration, got.StartedAt)
	}
	if len(got.Failures) != 1 || got.Failures[0].Kind != recipe.KindTimeout || got.Failures[0].Attempts != 3 {
		t.Errorf("unexpected failures: %+v", got.Failures)
	}

	rs, err := db.LoadResultSet()
	if err != nil {
		t.Fatalf("LoadResultSet: %v", err)
	}
	if len(rs) != 2 {
		t.Fatalf("expected 2 judgments, got %d", len(rs))
	}
	a := rs["a"]
	if a.Judgment.Category != "Desserts" || !a.Judgment.IsRecipe || a.Judgment.Dietary[0] != "Vegan" {
		t.Errorf("unexpected judgment: %+v", a.Judgment)
	}
	if len(a.ExistingTags) != 1 || !a.ClassifiedAt.Equal(started) {
		t.Errorf("unexpected entry metadata: %+v", a)
	}
}

func TestGetRunMissing(t *testing.T) {
	db := openTestDB(t)
	r, err := db.GetRun("nope")
	if err != nil || r != nil {
		t.Errorf("expected nil, nil; got %v, %v", r, err)
	}
}

func TestRegeneratedJudgmentClearsOverrides(t *testing.T) {
	db := openTestDB(t)
	report, results := sampleRun()
	if err := db.SaveRun(report, results); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	corrected, sum := reconcile.Apply(results, []reconcile.Correction{
		{ItemID: "a", Field: "primary_category", Old: "Desserts", New: "Baking", Source: "review.csv", At: started},
	})
	if sum.Applied != 1 {
		t.Fatalf("expected correction to apply, got %+v", sum)
	}
	if err := db.ApplyCorrections(corrected, sum.Outcomes); err != nil {
		t.Fatalf("ApplyCorrections: %v", err)
	}

	rs, _ := db.LoadResultSet()
	if rs["a"].Overrides[recipe.FieldCategory].Old != "Desserts" {
		t.Errorf("expected override provenance, got %+v", rs["a"].Overrides)
	}

	report.RunID = "run-2"
	if err := db.SaveRun(report, results); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	rs, _ = db.LoadResultSet()
	if len(rs["a"].Overrides) != 0 || rs["a"].Judgment.Category != "Desserts" {
		t.Errorf("expected regenerated judgment without overrides, got %+v", rs["a"])
	}
}

func TestReplaceResultSet(t *testing.T) {
	db := openTestDB(t)
	report, results := sampleRun()
	db.SaveRun(report, results)

	only := recipe.ResultSet{"a": results["a"]}
	if err := db.ReplaceResultSet(only); err != nil {
		t.Fatalf("ReplaceResultSet: %v", err)
	}
	rs, _ := db.LoadResultSet()
	if len(rs) != 1 {
		t.Errorf("expected 1 judgment after replace, got %d", len(rs))
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	db := openTestDB(t)
	report, results := sampleRun()
	db.SaveRun(report, results)

	later := *report
	later.RunID = "run-2"
	later.StartedAt = started.Add(time.Hour)
	later.Failures = nil
	db.SaveRun(&later, recipe.ResultSet{})

	runs, err := db.ListRuns(10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "run-2" {
		t.Errorf("unexpected runs order: %+v", runs)
	}
}

func TestCorrectionsAuditLog(t *testing.T) {
	db := openTestDB(t)
	_, sum := reconcile.Apply(recipe.ResultSet{}, []reconcile.Correction{
		{ItemID: "abc123", Field: "primary_category", New: "Desserts", Source: "review.csv"},
	})
	if err := db.ApplyCorrections(recipe.ResultSet{}, sum.Outcomes); err != nil {
		t.Fatalf("ApplyCorrections: %v", err)
	}

	records, err := db.ListCorrections(10)
	if err != nil {
		t.Fatalf("ListCorrections: %v", err)
	}
	if len(records) != 1 || records[0].Outcome != string(reconcile.TargetMissing) {
		t.Errorf("unexpected audit log: %+v", records)
	}

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.CorrectionsSkipped != 1 || stats.CorrectionsApplied != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestGetStats(t *testing.T) {
	db := openTestDB(t)
	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Judgments != 0 || stats.LastRunID != "" {
		t.Errorf("expected empty stats, got %+v", stats)
	}

	report, results := sampleRun()
	db.SaveRun(report, results)

	stats, _ = db.GetStats()
	if stats.Runs != 1 || stats.Judgments != 2 || stats.Recipes != 1 || stats.TitlesToImprove != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.LastRunID != "run-1" {
		t.Errorf("expected last run run-1, got %q", stats.LastRunID)
	}
}

func TestSaveRunRollsBackOnFailure(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer conn.Close()
	db := &DB{conn: conn, logger: zap.NewNop()}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT OR REPLACE INTO runs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT OR REPLACE INTO run_failures").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	report, results := sampleRun()
	if err := db.SaveRun(report, results); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestApplyCorrectionsRollsBackResultsWhenAuditFails(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer conn.Close()
	db := &DB{conn: conn, logger: zap.NewNop()}

	_, results := sampleRun()
	merged, sum := reconcile.Apply(results, []reconcile.Correction{
		{ItemID: "a", Field: "primary_category", New: "Baking", Source: "review.csv", At: started},
	})

	mock.ExpectBegin()
	for range merged {
		mock.ExpectExec("INSERT OR REPLACE INTO judgments").WillReturnResult(sqlmock.NewResult(1, 1))
	}
	mock.ExpectExec("INSERT INTO corrections").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	if err := db.ApplyCorrections(merged, sum.Outcomes); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetRunScanError(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer conn.Close()
	db := &DB{conn: conn, logger: zap.NewNop()}

	mock.ExpectQuery("SELECT id, state").WithArgs("run-x").WillReturnError(sql.ErrConnDone)

	if _, err := db.GetRun("run-x"); !errors.Is(err, sql.ErrConnDone) {
		t.Fatalf("expected ErrConnDone, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
