package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/giftflow/wishlist-pipeline/internal/api/handler"
	apimw "github.com/giftflow/wishlist-pipeline/internal/api/middleware"
	"github.com/giftflow/wishlist-pipeline/internal/orchestrator"
	"github.com/giftflow/wishlist-pipeline/internal/pushhub"
	"github.com/giftflow/wishlist-pipeline/internal/repository"
	"github.com/giftflow/wishlist-pipeline/internal/stream"
)

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(
	orch *orchestrator.Orchestrator,
	store repository.Store,
	streamSvc *stream.Service,
	hub *pushhub.Hub,
	orchestratorSecret string,
	reg prometheus.Gatherer,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)          // recover panics, return 500
	r.Use(chimw.RealIP)             // trust X-Forwarded-For / X-Real-IP
	r.Use(chimw.RequestSize(1<<20)) // 1 MB max request body
	r.Use(apimw.CorrelationID)      // X-Correlation-ID inject / echo
	r.Use(apimw.RequestLogger(logger))

	// --- handler instances ---
	jh := handler.NewJobHandler(orch, logger)
	ih := handler.NewIngestHandler(orch, logger)
	sh := handler.NewSubjectHandler(store, store, logger)
	th := handler.NewStreamHandler(streamSvc, hub, logger)
	hh := handler.NewHealthHandler()

	// --- routes ---
	r.Get("/health", hh.Health)

	// Raw Prometheus scrape endpoint (for Prometheus server / Grafana)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	// Fast-path ingress
	r.Post("/jobs", jh.Create)

	// Reactive callback, shared-secret guarded
	r.Group(func(r chi.Router) {
		r.Use(apimw.OrchestratorSecret(orchestratorSecret))
		r.Post("/orchestrator/ingest", ih.Ingest)
	})

	// Live delivery
	r.Get("/stream/{subjectId}", th.Stream)
	r.Get("/ws/{subjectId}", th.WebSocket)

	// Queryable projections
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/jobs/{key}", jh.GetByKey)
		r.Get("/subjects/{id}/results", sh.Results)
		r.Get("/subjects/{id}/notifications", sh.Notifications)
		r.Post("/notifications/{id}/read", sh.MarkRead)
	})

	return r
}
