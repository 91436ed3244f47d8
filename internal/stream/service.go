// Package stream serves the resumable server-sent-events feed for one
// subject. A connection first sees a snapshot of the stored notifications,
// then live events in publish order, with every frame carrying a fresh
// event id that clients echo back as Last-Event-ID on reconnect.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/giftflow/wishlist-pipeline/internal/broadcast"
	"github.com/giftflow/wishlist-pipeline/internal/repository"
)

// heartbeatInterval spaces the comment frames that keep proxies from
// reaping an otherwise quiet connection.
const heartbeatInterval = 15 * time.Second

// Service streams a subject's event feed over SSE.
type Service struct {
	notifications repository.NotificationStore
	cursors       repository.StreamCursorStore
	bcast         *broadcast.Broadcaster
	logger        *zap.Logger
}

func NewService(notifications repository.NotificationStore, cursors repository.StreamCursorStore, bcast *broadcast.Broadcaster, logger *zap.Logger) *Service {
	return &Service{
		notifications: notifications,
		cursors:       cursors,
		bcast:         bcast,
		logger:        logger,
	}
}

// Serve runs one SSE connection until the client disconnects or the server
// shuts down.
//
// Ordering contract: the live subscription is taken out before the snapshot
// is read, so an event published while the snapshot streams is buffered and
// delivered afterwards instead of being lost. The same stage result may then
// appear in both the snapshot and the live tail; clients deduplicate on
// their own keys, not on event ids.
func (s *Service) Serve(w http.ResponseWriter, r *http.Request, subjectID string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support streaming")
	}

	sub := s.bcast.Subscribe(subjectID)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	connID := uuid.New().String()
	ctx := r.Context()

	// Resumption is an acknowledgement, not a replay: the snapshot below
	// already carries the durable state, so the client only needs to know
	// its cursor was seen.
	if last := r.Header.Get("Last-Event-ID"); last != "" {
		payload, _ := json.Marshal(map[string]string{"last_event_id": last})
		if err := s.emit(ctx, w, flusher, subjectID, connID, "resume", payload); err != nil {
			return err
		}
	}

	if err := s.snapshot(ctx, w, flusher, subjectID, connID); err != nil {
		return err
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := s.emit(ctx, w, flusher, subjectID, connID, event.Type, event.Payload); err != nil {
				return err
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}

// snapshot streams the stored notifications oldest-first.
func (s *Service) snapshot(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, subjectID, connID string) error {
	notifications, err := s.notifications.ListNotifications(ctx, subjectID)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	for _, n := range notifications {
		payload, err := json.Marshal(n)
		if err != nil {
			return err
		}
		if err := s.emit(ctx, w, flusher, subjectID, connID, "snapshot", payload); err != nil {
			return err
		}
	}
	return nil
}

// emit writes one SSE frame with a fresh event id and records the cursor.
// Cursor bookkeeping is best-effort; a write failure must not drop the
// connection.
func (s *Service) emit(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, subjectID, connID, eventType string, payload json.RawMessage) error {
	id := uuid.New().String()

	if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", id, eventType, payload); err != nil {
		return err
	}
	flusher.Flush()

	if err := s.cursors.RecordCursor(ctx, subjectID, connID, id); err != nil {
		s.logger.Debug("cursor record failed",
			zap.String("subject_id", subjectID),
			zap.Error(err),
		)
	}
	return nil
}
