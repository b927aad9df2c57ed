package main

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crucial707/juport/internal/config"
	"github.com/crucial707/juport/internal/handlers"
	"github.com/crucial707/juport/internal/middleware"
	"github.com/crucial707/juport/internal/notebook"
	"github.com/crucial707/juport/internal/repo"
	"github.com/crucial707/juport/internal/storage"
)

// deps are the long-lived components the HTTP layer talks to.
type deps struct {
	DB        *sql.DB
	Log       *slog.Logger
	Catalog   *notebook.Catalog
	Artifacts storage.Store
	Trigger   handlers.ScheduleTrigger
	Queue     handlers.TaskQueue
}

func newRouter(cfg config.Config, d deps) http.Handler {
	auditRepo := repo.NewAuditRepo(d.DB)
	scheduleHandler := &handlers.ScheduleHandler{
		Repo:      repo.NewScheduleRepo(d.DB),
		AuditRepo: auditRepo,
		Notebooks: d.Catalog.Store(),
		Trigger:   d.Trigger,
		Log:       d.Log,
	}
	executionHandler := &handlers.ExecutionHandler{Repo: repo.NewExecutionRepo(d.DB), Artifacts: d.Artifacts, Log: d.Log}
	notebookHandler := &handlers.NotebookHandler{Catalog: d.Catalog, Log: d.Log}
	taskHandler := &handlers.TaskHandler{Queue: d.Queue, AuditRepo: auditRepo, Log: d.Log, MaxUploadBytes: cfg.MaxUploadBytes}
	cronHandler := &handlers.CronHandler{}
	auditHandler := &handlers.AuditHandler{Repo: auditRepo, Log: d.Log}

	triggerLimiter := middleware.TriggerRateLimiter(cfg.TriggerRatePerMinute)
	jsonBody := middleware.MaxBytes(middleware.DefaultMaxBodyBytes)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLog(d.Log))
	r.Use(middleware.Recoverer(d.Log))
	r.Use(middleware.Prometheus)
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	r.Use(middleware.SecurityHeaders(cfg.TLSCertFile != ""))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := d.DB.PingContext(r.Context()); err != nil {
			handlers.JSONError(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth([]byte(cfg.JWTSecret)))

		r.Get("/notebooks", notebookHandler.ListNotebooks)
		r.Get("/notebooks/parameters", notebookHandler.Parameters)

		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", scheduleHandler.ListSchedules)
			r.With(jsonBody).Post("/", scheduleHandler.CreateSchedule)
			r.Get("/{id}", scheduleHandler.GetSchedule)
			r.With(jsonBody).Put("/{id}", scheduleHandler.UpdateSchedule)
			r.Put("/{id}/toggle", scheduleHandler.ToggleSchedule)
			r.Delete("/{id}", scheduleHandler.DeleteSchedule)
			r.With(triggerLimiter.Middleware).Post("/{id}/run", scheduleHandler.RunSchedule)
		})

		r.With(jsonBody).Post("/cron/validate", cronHandler.ValidateCron)

		r.Get("/executions", executionHandler.ListExecutions)
		r.Get("/executions/{id}", executionHandler.GetExecution)
		r.Get("/executions/{id}/output", executionHandler.RenderedOutput)
		r.Get("/executions/{id}/artifacts/*", executionHandler.DownloadArtifact)

		r.With(triggerLimiter.Middleware).Post("/tasks", taskHandler.SubmitTask)
		r.Get("/tasks/status", taskHandler.QueueStatus)

		r.Get("/audit", auditHandler.ListAudit)
	})
	return r
}
