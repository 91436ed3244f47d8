package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/giftflow/wishlist-pipeline/internal/domain"
)

// StageLimiters holds one token bucket per pipeline stage, bounding how fast
// any stage may call the external generator. Burst equals the rate so no
// extra capacity accumulates beyond the configured per-second maximum.
type StageLimiters struct {
	limiters map[domain.Stage]*rate.Limiter
}

// New creates a StageLimiters with ratePerSec generator calls per second per stage.
func New(ratePerSec int) *StageLimiters {
	r := rate.Limit(ratePerSec)
	burst := ratePerSec

	return &StageLimiters{
		limiters: map[domain.Stage]*rate.Limiter{
			domain.StageProfile:        rate.NewLimiter(r, burst),
			domain.StageRecommendation: rate.NewLimiter(r, burst),
			domain.StageFeasibility:    rate.NewLimiter(r, burst),
			domain.StageNotify:         rate.NewLimiter(r, burst),
		},
	}
}

// Wait blocks until the stage's limiter grants a token. Called immediately
// before each generator call. Returns a non-nil error only if ctx is
// cancelled while waiting.
func (sl *StageLimiters) Wait(ctx context.Context, stage domain.Stage) error {
	l, ok := sl.limiters[stage]
	if !ok {
		return nil
	}
	return l.Wait(ctx)
}
