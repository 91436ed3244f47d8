package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	apimw "github.com/giftflow/wishlist-pipeline/internal/api/middleware"
	"github.com/giftflow/wishlist-pipeline/internal/domain"
	"github.com/giftflow/wishlist-pipeline/internal/orchestrator"
)

// IngestHandler is the continuous-query engine's callback ingress. It sits
// behind the shared-secret middleware and never republishes to the broker.
type IngestHandler struct {
	orch   *orchestrator.Orchestrator
	logger *zap.Logger
}

func NewIngestHandler(orch *orchestrator.Orchestrator, logger *zap.Logger) *IngestHandler {
	return &IngestHandler{orch: orch, logger: logger}
}

// Ingest handles POST /orchestrator/ingest
//
// @Summary     Reactive trigger callback
// @Tags        orchestrator
// @Accept      json
// @Produce     json
// @Param       X-Orchestrator-Secret  header    string             true  "Shared secret"
// @Param       body                   body      domain.Submission  true  "Matched event"
// @Success     202                    {object}  map[string]any
// @Failure     401                    {object}  map[string]string
// @Failure     422                    {object}  map[string]string
// @Router      /orchestrator/ingest [post]
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var sub domain.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if sub.CorrelationID == "" {
		sub.CorrelationID = apimw.GetCorrelationID(r.Context())
	}

	res, err := h.orch.TriggerReactive(r.Context(), &sub)
	if err != nil {
		h.logger.Warn("reactive trigger rejected",
			zap.String("correlation_id", sub.CorrelationID),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]any{
		"job_key":        res.Job.Key,
		"duplicate":      !res.Created,
		"correlation_id": sub.CorrelationID,
	})
}
