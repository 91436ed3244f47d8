package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/giftflow/wishlist-pipeline/internal/domain"
	"github.com/giftflow/wishlist-pipeline/internal/repository"
)

// SubjectHandler serves the queryable projections: stage results and
// notifications per subject, plus the notification read-state transition.
type SubjectHandler struct {
	results       repository.StageResultStore
	notifications repository.NotificationStore
	logger        *zap.Logger
}

func NewSubjectHandler(results repository.StageResultStore, notifications repository.NotificationStore, logger *zap.Logger) *SubjectHandler {
	return &SubjectHandler{results: results, notifications: notifications, logger: logger}
}

// Results handles GET /api/v1/subjects/{id}/results
//
// @Summary  List stage results for a subject
// @Tags     subjects
// @Produce  json
// @Param    id   path      string  true  "Subject id"
// @Success  200  {object}  map[string]any
// @Router   /api/v1/subjects/{id}/results [get]
func (h *SubjectHandler) Results(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "id")
	results, err := h.results.ListStageResults(r.Context(), subjectID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list stage results")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"subject_id": subjectID,
		"data":       results,
		"total":      len(results),
	})
}

// Notifications handles GET /api/v1/subjects/{id}/notifications
//
// @Summary  List notifications for a subject
// @Tags     subjects
// @Produce  json
// @Param    id   path      string  true  "Subject id"
// @Success  200  {object}  map[string]any
// @Router   /api/v1/subjects/{id}/notifications [get]
func (h *SubjectHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "id")
	notifications, err := h.notifications.ListNotifications(r.Context(), subjectID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"subject_id": subjectID,
		"data":       notifications,
		"total":      len(notifications),
	})
}

// MarkRead handles POST /api/v1/notifications/{id}/read
//
// @Summary  Mark a notification as read
// @Tags     notifications
// @Produce  json
// @Param    id   path      string  true  "Notification id"
// @Success  200  {object}  domain.Notification
// @Failure  404  {object}  map[string]string
// @Failure  409  {object}  map[string]string
// @Router   /api/v1/notifications/{id}/read [post]
func (h *SubjectHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	n, err := h.notifications.GetNotification(r.Context(), id)
	if err != nil {
		mapError(w, err)
		return
	}
	if !n.CanTransition(domain.NotificationRead) {
		mapError(w, domain.ErrInvalidTransition)
		return
	}
	if err := h.notifications.SetNotificationState(r.Context(), id, domain.NotificationRead); err != nil {
		mapError(w, err)
		return
	}

	n.State = domain.NotificationRead
	respondJSON(w, http.StatusOK, n)
}
