package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/giftflow/wishlist-pipeline/internal/api/middleware"
	"github.com/giftflow/wishlist-pipeline/internal/domain"
	"github.com/giftflow/wishlist-pipeline/internal/orchestrator"
)

// originHeader marks submissions the system itself produced. The reactive
// loop sets it when it re-enters through the public ingress; a plain client
// never sends it.
const originHeader = "X-Wishlist-Origin"

// JobHandler owns the fast-path ingress and the job query endpoint.
type JobHandler struct {
	orch   *orchestrator.Orchestrator
	logger *zap.Logger
}

func NewJobHandler(orch *orchestrator.Orchestrator, logger *zap.Logger) *JobHandler {
	return &JobHandler{orch: orch, logger: logger}
}

// Create handles POST /jobs
//
// @Summary     Submit an event for pipeline processing
// @Tags        jobs
// @Accept      json
// @Produce     json
// @Param       X-Wishlist-Origin  header    string             false  "Origin marker, set only by internal republication"
// @Param       body               body      domain.Submission  true   "Submission envelope"
// @Success     202                {object}  map[string]any
// @Failure     400                {object}  map[string]string
// @Failure     422                {object}  map[string]string
// @Failure     503                {object}  map[string]string
// @Router      /jobs [post]
func (h *JobHandler) Create(w http.ResponseWriter, r *http.Request) {
	var sub domain.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if sub.CorrelationID == "" {
		sub.CorrelationID = apimw.GetCorrelationID(r.Context())
	}

	res, err := h.orch.TriggerFast(r.Context(), &sub, parseOrigin(r.Header.Get(originHeader)))
	if err != nil {
		h.logger.Warn("submission rejected",
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/jobs/"+res.Job.Key)
	respondJSON(w, http.StatusAccepted, map[string]any{
		"job_key":   res.Job.Key,
		"duplicate": !res.Created,
		"status":    res.Job.Status,
	})
}

// GetByKey handles GET /api/v1/jobs/{key}
//
// @Summary  Get a job by its idempotency key
// @Tags     jobs
// @Produce  json
// @Param    key  path      string  true  "Job key"
// @Success  200  {object}  domain.Job
// @Failure  404  {object}  map[string]string
// @Router   /api/v1/jobs/{key} [get]
func (h *JobHandler) GetByKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	job, err := h.orch.GetJob(r.Context(), key)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// parseOrigin maps the header value onto a known origin. An absent or
// unrecognised value means a real client.
func parseOrigin(v string) domain.Origin {
	switch domain.Origin(v) {
	case domain.OriginReactive, domain.OriginPipeline, domain.OriginChangeFeed:
		return domain.Origin(v)
	default:
		return domain.OriginClient
	}
}
