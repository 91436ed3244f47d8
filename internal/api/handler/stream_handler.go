package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/giftflow/wishlist-pipeline/internal/domain"
	"github.com/giftflow/wishlist-pipeline/internal/pushhub"
	"github.com/giftflow/wishlist-pipeline/internal/stream"
)

// StreamHandler exposes the two live delivery surfaces: the resumable SSE
// feed and the websocket push hub.
type StreamHandler struct {
	svc    *stream.Service
	hub    *pushhub.Hub
	logger *zap.Logger
}

func NewStreamHandler(svc *stream.Service, hub *pushhub.Hub, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{svc: svc, hub: hub, logger: logger}
}

// Stream handles GET /stream/{subjectId}
//
// @Summary  Subscribe to a subject's event stream (SSE)
// @Tags     stream
// @Produce  text/event-stream
// @Param    subjectId      path    string  true   "Subject id"
// @Param    Last-Event-ID  header  string  false  "Cursor from a previous connection"
// @Success  200
// @Router   /stream/{subjectId} [get]
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectId")
	if subjectID == "" {
		mapError(w, domain.ErrMissingSubject)
		return
	}

	if err := h.svc.Serve(w, r, subjectID); err != nil {
		h.logger.Warn("stream connection ended with error",
			zap.String("subject_id", subjectID),
			zap.Error(err),
		)
	}
}

// WebSocket handles GET /ws/{subjectId}
//
// @Summary  Join a subject's push group (websocket)
// @Tags     stream
// @Param    subjectId  path  string  true  "Subject id"
// @Router   /ws/{subjectId} [get]
func (h *StreamHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectId")
	if subjectID == "" {
		mapError(w, domain.ErrMissingSubject)
		return
	}
	h.hub.Serve(w, r, subjectID)
}
