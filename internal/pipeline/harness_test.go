package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/giftflow/wishlist-pipeline/internal/broadcast"
	"github.com/giftflow/wishlist-pipeline/internal/domain"
	"github.com/giftflow/wishlist-pipeline/internal/pipeline"
	"github.com/giftflow/wishlist-pipeline/internal/ratelimiter"
	"github.com/giftflow/wishlist-pipeline/internal/repository"
)

// mockGenerator lets each test script the generator's behaviour per prompt.
type mockGenerator struct {
	fn func(ctx context.Context, prompt string) (string, error)
}

func (m *mockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return m.fn(ctx, prompt)
}

func newPipeline(gen pipeline.Generator, stageTimeout time.Duration) (*pipeline.Pipeline, *repository.MockStore, *broadcast.Broadcaster) {
	store := repository.NewMockStore(4)
	bcast := broadcast.New(64, time.Minute, zap.NewNop())
	p := pipeline.New(store, store, store, gen, ratelimiter.New(1000), bcast,
		stageTimeout, zap.NewNop(), pipeline.MetricHooks{})
	return p, store, bcast
}

func seedJob(t *testing.T, store *repository.MockStore) *domain.Job {
	t.Helper()
	now := time.Now().UTC()
	job := &domain.Job{
		Key:           "key-1",
		SubjectID:     "child-1",
		Type:          domain.SubmissionWishlist,
		SchemaVersion: domain.SchemaVersion,
		Status:        domain.JobQueued,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	rec := &domain.IngestionRecord{
		ID: "rec-1", SubjectID: "child-1", EventType: job.Type,
		OccurredAt: now, SchemaVersion: job.SchemaVersion,
		IdempotencyKey: job.Key, CreatedAt: now,
	}
	if _, _, err := store.CreateIfAbsent(context.Background(), job, rec); err != nil {
		t.Fatal(err)
	}
	return job
}

func TestPipeline_Execute_Success(t *testing.T) {
	gen := &mockGenerator{fn: func(_ context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "gift ideas") {
			return "Train set\nSketchbook", nil
		}
		return "Looks great.", nil
	}}
	p, store, _ := newPipeline(gen, time.Second)
	job := seedJob(t, store)

	if err := p.Execute(context.Background(), job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := store.GetJob(context.Background(), job.Key)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.JobSucceeded {
		t.Fatalf("expected status=succeeded, got %s", got.Status)
	}
	if got.Attempts != 1 {
		t.Fatalf("expected attempts=1, got %d", got.Attempts)
	}

	results, _ := store.ListStageResults(context.Background(), "child-1")
	if len(results) != 4 {
		t.Fatalf("expected 4 stage results, got %d", len(results))
	}
	for _, r := range results {
		if r.FallbackUsed {
			t.Fatalf("stage %s unexpectedly used its fallback", r.Stage)
		}
	}

	notifications, _ := store.ListNotifications(context.Background(), "child-1")
	if len(notifications) != 4 {
		t.Fatalf("expected 4 notifications, got %d", len(notifications))
	}
}

// A generator that outlives the stage timeout must not fail the job: every
// stage substitutes its deterministic, non-empty fallback.
func TestPipeline_Execute_FallbackOnTimeout(t *testing.T) {
	gen := &mockGenerator{fn: func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	p, store, _ := newPipeline(gen, 20*time.Millisecond)
	job := seedJob(t, store)

	if err := p.Execute(context.Background(), job); err != nil {
		t.Fatalf("timeout must not surface to the caller, got: %v", err)
	}

	got, _ := store.GetJob(context.Background(), job.Key)
	if got.Status != domain.JobSucceeded {
		t.Fatalf("expected status=succeeded, got %s", got.Status)
	}

	results, _ := store.ListStageResults(context.Background(), "child-1")
	if len(results) != 4 {
		t.Fatalf("expected 4 stage results, got %d", len(results))
	}
	for _, r := range results {
		if !r.FallbackUsed {
			t.Fatalf("stage %s should have used its fallback", r.Stage)
		}
		if len(r.Payload) == 0 || !json.Valid(r.Payload) {
			t.Fatalf("stage %s fallback payload is empty or invalid", r.Stage)
		}
	}
}

// Caller cancellation is not a timeout: it propagates and no fallback is
// recorded.
func TestPipeline_Execute_CallerCancellationPropagates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	gen := &mockGenerator{fn: func(genCtx context.Context, _ string) (string, error) {
		cancel() // caller gives up mid-call
		<-genCtx.Done()
		return "", genCtx.Err()
	}}
	p, store, _ := newPipeline(gen, time.Minute)
	job := seedJob(t, store)

	err := p.Execute(ctx, job)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	results, _ := store.ListStageResults(context.Background(), "child-1")
	if len(results) != 0 {
		t.Fatalf("cancelled execution must not persist fallbacks, got %d results", len(results))
	}

	got, _ := store.GetJob(context.Background(), job.Key)
	if got.Status != domain.JobFailed {
		t.Fatalf("expected status=failed, got %s", got.Status)
	}
}

// One failing rationale degrades only its own item; the batch continues.
func TestPipeline_RecommendationPartialFailure(t *testing.T) {
	gen := &mockGenerator{fn: func(_ context.Context, prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "gift ideas"):
			return "Train set\nSketchbook\nKite", nil
		case strings.Contains(prompt, `"Sketchbook"`):
			return "", errors.New("generator hiccup")
		default:
			return "A fine choice.", nil
		}
	}}
	p, store, _ := newPipeline(gen, time.Second)
	job := seedJob(t, store)

	if err := p.Execute(context.Background(), job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	results, _ := store.ListStageResults(context.Background(), "child-1")
	var recPayload []byte
	for _, r := range results {
		if r.Stage == domain.StageRecommendation {
			if r.FallbackUsed {
				t.Fatal("a per-item failure must not mark the whole stage as fallback")
			}
			recPayload = r.Payload
		}
	}
	if recPayload == nil {
		t.Fatal("missing recommendation stage result")
	}

	var set struct {
		Recommendations []struct {
			Item      string `json:"item"`
			Rationale string `json:"rationale"`
		} `json:"recommendations"`
	}
	if err := json.Unmarshal(recPayload, &set); err != nil {
		t.Fatal(err)
	}
	if len(set.Recommendations) != 3 {
		t.Fatalf("expected 3 recommendations, got %d", len(set.Recommendations))
	}
	for _, rec := range set.Recommendations {
		if rec.Rationale == "" {
			t.Fatalf("item %s has no rationale", rec.Item)
		}
		if rec.Item == "Sketchbook" && !strings.Contains(rec.Rationale, "interests on file") {
			t.Fatalf("expected fallback rationale for Sketchbook, got %q", rec.Rationale)
		}
	}
}

// Every stage publishes a live event on completion, fallback or not.
func TestPipeline_Execute_PublishesBroadcastEvents(t *testing.T) {
	gen := &mockGenerator{fn: func(_ context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "gift ideas") {
			return "Train set", nil
		}
		return "ok", nil
	}}
	p, store, bcast := newPipeline(gen, time.Second)
	job := seedJob(t, store)

	sub := bcast.Subscribe("child-1")
	defer sub.Close()

	if err := p.Execute(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	wantOrder := []domain.Stage{
		domain.StageProfile, domain.StageRecommendation,
		domain.StageFeasibility, domain.StageNotify,
	}
	for _, want := range wantOrder {
		select {
		case ev := <-sub.Events():
			if ev.Type != string(want) {
				t.Fatalf("expected event %s, got %s", want, ev.Type)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing broadcast event for stage %s", want)
		}
	}
}
