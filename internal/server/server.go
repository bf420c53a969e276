package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/RecipeSorter/internal/metrics"
	"github.com/TobiSchelling/RecipeSorter/internal/recipe"
	"github.com/TobiSchelling/RecipeSorter/internal/report"
	"github.com/TobiSchelling/RecipeSorter/internal/review"
	"github.com/TobiSchelling/RecipeSorter/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// Server is the HTTP server for browsing runs and reviewing results.
type Server struct {
	db      *store.DB
	logger  *zap.Logger
	metrics *metrics.Metrics
	pages   map[string]*template.Template
	mux     *http.ServeMux
}

// New creates a new Server. m may be nil, which disables /metrics.
func New(db *store.DB, logger *zap.Logger, m *metrics.Metrics) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	funcMap := template.FuncMap{
		"markdown":    review.RenderMarkdown,
		"needsReview": review.NeedsReview,
		"join":        recipe.JoinList,
		"formatTime": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Local().Format("2006-01-02 15:04")
		},
	}

	// Parse base template first
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// For each page template, clone the base and parse the page into the clone.
	// This gives each page its own {{define "content"}} and {{define "title"}}.
	pageNames := []string{"index.html", "run.html", "review.html", "corrections.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{db: db, logger: logger, metrics: m, pages: pages, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.metrics.Middleware(s.mux)
}

func (s *Server) routes() {
	// Static files
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	// Routes
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/runs/", s.handleRun)
	s.mux.HandleFunc("/review", s.handleReview)
	s.mux.HandleFunc("/review.csv", s.handleExport)
	s.mux.HandleFunc("/review.xlsx", s.handleExport)
	s.mux.HandleFunc("/corrections", s.handleCorrections)
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	stats, err := s.db.GetStats()
	if err != nil {
		s.serverError(w, "loading stats", err)
		return
	}
	runs, err := s.db.ListRuns(50)
	if err != nil {
		s.serverError(w, "listing runs", err)
		return
	}

	s.render(w, "index.html", map[string]any{
		"Stats": stats,
		"Runs":  runs,
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimPrefix(r.URL.Path, "/runs/")
	if runID == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	run, err := s.db.GetRun(runID)
	if err != nil {
		s.serverError(w, "loading run", err)
		return
	}
	if run == nil {
		http.NotFound(w, r)
		return
	}

	s.render(w, "run.html", map[string]any{
		"Run":     run,
		"Summary": report.Summary(report.Input{Run: run}),
	})
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	rs, err := s.db.LoadResultSet()
	if err != nil {
		s.serverError(w, "loading results", err)
		return
	}

	issuesOnly := r.URL.Query().Get("issues") == "1"
	var entries []recipe.Entry
	for _, e := range rs.Ordered() {
		if issuesOnly && !review.NeedsReview(e.Judgment) {
			continue
		}
		entries = append(entries, e)
	}

	s.render(w, "review.html", map[string]any{
		"Entries":    entries,
		"Total":      len(rs),
		"IssuesOnly": issuesOnly,
		"Summary":    report.Summary(report.Input{Results: rs}),
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	rs, err := s.db.LoadResultSet()
	if err != nil {
		s.serverError(w, "loading results", err)
		return
	}
	opts := review.ExportOptions{IssuesOnly: r.URL.Query().Get("issues") == "1"}

	if strings.HasSuffix(r.URL.Path, ".xlsx") {
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="review.xlsx"`)
		_, err = review.ExportXLSX(w, rs, opts)
	} else {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="review.csv"`)
		_, err = review.ExportCSV(w, rs, opts)
	}
	if err != nil {
		s.logger.Error("export failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
}

func (s *Server) handleCorrections(w http.ResponseWriter, r *http.Request) {
	records, err := s.db.ListCorrections(200)
	if err != nil {
		s.serverError(w, "listing corrections", err)
		return
	}
	s.render(w, "corrections.html", map[string]any{
		"Corrections": records,
	})
}

func (s *Server) serverError(w http.ResponseWriter, what string, err error) {
	s.logger.Error(what, zap.Error(err))
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.logger.Error("template not found", zap.String("template", name))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		s.logger.Error("rendering template", zap.String("template", name), zap.Error(err))
	}
}

// Serve starts the HTTP server on the given port and shuts it down when ctx
// is cancelled.
func Serve(ctx context.Context, db *store.DB, port int, logger *zap.Logger, m *metrics.Metrics) error {
	srv, err := New(db, logger, m)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	hs := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		srv.logger.Info("server listening", zap.String("addr", "http://"+addr))
		errCh <- hs.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hs.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
