package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/giftflow/wishlist-pipeline/internal/broadcast"
	"github.com/giftflow/wishlist-pipeline/internal/broker"
	"github.com/giftflow/wishlist-pipeline/internal/domain"
	"github.com/giftflow/wishlist-pipeline/internal/orchestrator"
	"github.com/giftflow/wishlist-pipeline/internal/pushhub"
	"github.com/giftflow/wishlist-pipeline/internal/queue"
	"github.com/giftflow/wishlist-pipeline/internal/repository"
	"github.com/giftflow/wishlist-pipeline/internal/stream"
)

const testSecret = "engine-secret"

func newTestRouter(t *testing.T) (http.Handler, *repository.MockStore, *broker.MockPublisher) {
	t.Helper()
	store := repository.NewMockStore(4)
	pub := broker.NewMockPublisher()
	q := queue.New(64)
	logger := zap.NewNop()

	orch := orchestrator.New(store, pub, q, logger, orchestrator.Hooks{})
	bcast := broadcast.New(64, time.Minute, logger)
	streamSvc := stream.NewService(store, store, bcast, logger)
	hub := pushhub.NewHub(logger)

	router := NewRouter(orch, store, streamSvc, hub, testSecret, prometheus.NewRegistry(), logger)
	return router, store, pub
}

func postJSON(t *testing.T, router http.Handler, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

const validSubmission = `{"type":"wishlist","schema_version":"v1","subject_id":"child-1","payload":{"items":[{"name":"Train set"}]}}`

func TestPostJobs_Accepted(t *testing.T) {
	router, _, pub := newTestRouter(t)

	rec := postJSON(t, router, "/jobs", validSubmission, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); !strings.HasPrefix(loc, "/api/v1/jobs/") {
		t.Fatalf("missing job location, got %q", loc)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["duplicate"] != false {
		t.Fatalf("expected duplicate=false, got %v", body["duplicate"])
	}
	if len(pub.Events()) != 1 {
		t.Fatalf("expected 1 broker publish, got %d", len(pub.Events()))
	}
}

func TestPostJobs_DuplicateReportsExistingJob(t *testing.T) {
	router, _, _ := newTestRouter(t)

	first := postJSON(t, router, "/jobs", validSubmission, nil)
	second := postJSON(t, router, "/jobs", validSubmission, nil)
	if second.Code != http.StatusAccepted {
		t.Fatalf("duplicate submission must still be accepted, got %d", second.Code)
	}

	var a, b map[string]any
	_ = json.Unmarshal(first.Body.Bytes(), &a)
	_ = json.Unmarshal(second.Body.Bytes(), &b)
	if a["job_key"] != b["job_key"] {
		t.Fatalf("duplicate returned a different key: %v vs %v", a["job_key"], b["job_key"])
	}
	if b["duplicate"] != true {
		t.Fatalf("expected duplicate=true, got %v", b["duplicate"])
	}
}

func TestPostJobs_ClientSuppliedKeyOverridesDerivation(t *testing.T) {
	router, store, _ := newTestRouter(t)

	const keyed = `{"type":"wishlist","schema_version":"v1","subject_id":"child-1","idempotency_key":"order-77","payload":{"items":[{"name":"Train set"}]}}`
	const keyedOther = `{"type":"wishlist","schema_version":"v1","subject_id":"child-1","idempotency_key":"order-77","payload":{"items":[{"name":"Sketchbook"}]}}`

	first := postJSON(t, router, "/jobs", keyed, nil)
	second := postJSON(t, router, "/jobs", keyedOther, nil)
	if first.Code != http.StatusAccepted || second.Code != http.StatusAccepted {
		t.Fatalf("expected 202/202, got %d/%d", first.Code, second.Code)
	}

	var a, b map[string]any
	_ = json.Unmarshal(first.Body.Bytes(), &a)
	_ = json.Unmarshal(second.Body.Bytes(), &b)
	if a["job_key"] != "order-77" {
		t.Fatalf("client key must be used verbatim, got %v", a["job_key"])
	}
	if a["job_key"] != b["job_key"] {
		t.Fatalf("same client key must collapse onto one job: %v vs %v", a["job_key"], b["job_key"])
	}
	if b["duplicate"] != true {
		t.Fatalf("expected duplicate=true for second submission, got %v", b["duplicate"])
	}
	if n := store.IngestionCount("child-1"); n != 1 {
		t.Fatalf("expected 1 ingestion record, got %d", n)
	}
}

func TestPostJobs_OriginMarkerSuppressesPublish(t *testing.T) {
	router, _, pub := newTestRouter(t)

	rec := postJSON(t, router, "/jobs", validSubmission,
		map[string]string{"X-Wishlist-Origin": "reactive"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if n := len(pub.Events()); n != 0 {
		t.Fatalf("origin-marked submission must not republish, got %d events", n)
	}
}

func TestPostJobs_Validation(t *testing.T) {
	router, _, _ := newTestRouter(t)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"missing subject", `{"type":"wishlist","payload":{"items":[{"name":"x"}]}}`, http.StatusBadRequest},
		{"unknown type", `{"type":"mystery","subject_id":"c1","payload":{}}`, http.StatusUnprocessableEntity},
		{"empty wishlist", `{"type":"wishlist","subject_id":"c1","payload":{"items":[]}}`, http.StatusUnprocessableEntity},
		{"bad schema version", `{"type":"wishlist","schema_version":"v9","subject_id":"c1","payload":{"items":[{"name":"x"}]}}`, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postJSON(t, router, "/jobs", tc.body, nil)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestOrchestratorIngest_SecretRequired(t *testing.T) {
	router, _, pub := newTestRouter(t)

	rec := postJSON(t, router, "/orchestrator/ingest", validSubmission, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without secret, got %d", rec.Code)
	}

	rec = postJSON(t, router, "/orchestrator/ingest", validSubmission,
		map[string]string{"X-Orchestrator-Secret": "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong secret, got %d", rec.Code)
	}

	rec = postJSON(t, router, "/orchestrator/ingest", validSubmission,
		map[string]string{"X-Orchestrator-Secret": testSecret})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 with secret, got %d: %s", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if cid, _ := body["correlation_id"].(string); cid == "" {
		t.Fatal("ingest response must echo a correlation id")
	}
	if len(pub.Events()) != 0 {
		t.Fatalf("reactive path must never publish, got %d events", len(pub.Events()))
	}
}

func TestGetJob_NotFound(t *testing.T) {
	router, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestMarkRead_Transitions(t *testing.T) {
	router, store, _ := newTestRouter(t)

	err := store.CreateNotification(context.Background(), &domain.Notification{
		ID: "n1", SubjectID: "child-1", Type: "test", Message: "hi",
		State: domain.NotificationNew, CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := postJSON(t, router, "/api/v1/notifications/n1/read", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// read is terminal; a second transition conflicts
	rec = postJSON(t, router, "/api/v1/notifications/n1/read", "", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on repeated read, got %d", rec.Code)
	}

	rec = postJSON(t, router, "/api/v1/notifications/missing/read", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown notification, got %d", rec.Code)
	}
}

func TestSubjectProjections(t *testing.T) {
	router, store, _ := newTestRouter(t)

	err := store.AppendStageResult(context.Background(), &domain.StageResult{
		ID: "r1", SubjectID: "child-1", JobKey: "k1",
		Stage: domain.StageProfile, Payload: []byte(`{}`), CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/subjects/child-1/results", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Total != 1 {
		t.Fatalf("expected 1 result, got %d", body.Total)
	}
}
