package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/giftflow/wishlist-pipeline/internal/broadcast"
	"github.com/giftflow/wishlist-pipeline/internal/domain"
	"github.com/giftflow/wishlist-pipeline/internal/repository"
)

type sseEvent struct {
	ID   string
	Type string
	Data string
}

// readEvents parses SSE frames off the response body until want events have
// arrived or the deadline passes.
func readEvents(t *testing.T, body *bufio.Reader, want int, results chan<- sseEvent) {
	t.Helper()
	var cur sseEvent
	got := 0
	for got < want {
		line, err := body.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "id: "):
			cur.ID = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			cur.Type = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.Data = strings.TrimPrefix(line, "data: ")
		case line == "" && cur.Type != "":
			results <- cur
			cur = sseEvent{}
			got++
		}
	}
}

func newStreamServer(store *repository.MockStore, bcast *broadcast.Broadcaster) *httptest.Server {
	svc := NewService(store, store, bcast, zap.NewNop())
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = svc.Serve(w, r, "child-1")
	}))
}

func seedNotification(t *testing.T, store *repository.MockStore, id string, at time.Time) {
	t.Helper()
	err := store.CreateNotification(context.Background(), &domain.Notification{
		ID:        id,
		SubjectID: "child-1",
		Type:      "recommendation_set",
		Message:   "ready",
		State:     domain.NotificationNew,
		CreatedAt: at,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestServe_SnapshotThenLive(t *testing.T) {
	store := repository.NewMockStore(1)
	bcast := broadcast.New(64, time.Minute, zap.NewNop())

	base := time.Now().UTC().Add(-time.Hour)
	seedNotification(t, store, "n1", base)
	seedNotification(t, store, "n2", base.Add(time.Minute))

	srv := newStreamServer(store, bcast)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	events := make(chan sseEvent, 8)
	go readEvents(t, bufio.NewReader(resp.Body), 4, events)

	// Snapshot first, oldest first.
	for _, wantID := range []string{"n1", "n2"} {
		ev := nextEvent(t, events)
		if ev.Type != "snapshot" {
			t.Fatalf("expected snapshot event, got %s", ev.Type)
		}
		var n domain.Notification
		if err := json.Unmarshal([]byte(ev.Data), &n); err != nil {
			t.Fatal(err)
		}
		if n.ID != wantID {
			t.Fatalf("expected notification %s, got %s", wantID, n.ID)
		}
	}

	// Then live events in publish order.
	bcast.Publish("child-1", "profile_snapshot", json.RawMessage(`{"seq":1}`))
	bcast.Publish("child-1", "recommendation_set", json.RawMessage(`{"seq":2}`))

	first := nextEvent(t, events)
	second := nextEvent(t, events)
	if first.Type != "profile_snapshot" || second.Type != "recommendation_set" {
		t.Fatalf("live events out of order: %s then %s", first.Type, second.Type)
	}
	if first.ID == "" || first.ID == second.ID {
		t.Fatal("each frame must carry a distinct event id")
	}
}

func TestServe_ResumeAck(t *testing.T) {
	store := repository.NewMockStore(1)
	bcast := broadcast.New(64, time.Minute, zap.NewNop())
	seedNotification(t, store, "n1", time.Now().UTC())

	srv := newStreamServer(store, bcast)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("Last-Event-ID", "cursor-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	events := make(chan sseEvent, 4)
	go readEvents(t, bufio.NewReader(resp.Body), 2, events)

	ev := nextEvent(t, events)
	if ev.Type != "resume" {
		t.Fatalf("expected resume ack first, got %s", ev.Type)
	}
	var ack map[string]string
	if err := json.Unmarshal([]byte(ev.Data), &ack); err != nil {
		t.Fatal(err)
	}
	if ack["last_event_id"] != "cursor-123" {
		t.Fatalf("ack must echo the client cursor, got %q", ack["last_event_id"])
	}

	// The ack carries no replay; the snapshot still follows in full.
	if ev := nextEvent(t, events); ev.Type != "snapshot" {
		t.Fatalf("expected snapshot after resume ack, got %s", ev.Type)
	}
}

func TestServe_NoResumeAckWithoutHeader(t *testing.T) {
	store := repository.NewMockStore(1)
	bcast := broadcast.New(64, time.Minute, zap.NewNop())
	seedNotification(t, store, "n1", time.Now().UTC())

	srv := newStreamServer(store, bcast)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	events := make(chan sseEvent, 4)
	go readEvents(t, bufio.NewReader(resp.Body), 1, events)

	if ev := nextEvent(t, events); ev.Type != "snapshot" {
		t.Fatalf("expected snapshot first without a cursor, got %s", ev.Type)
	}
}

func nextEvent(t *testing.T, events <-chan sseEvent) sseEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return sseEvent{}
	}
}
