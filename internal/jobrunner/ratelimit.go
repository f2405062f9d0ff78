package jobrunner

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedRunner throttles job launches so bursts of tool invocations do not
// exhaust the backend's launch quota.
type RateLimitedRunner struct {
	next    Runner
	limiter *rate.Limiter
}

// NewRateLimitedRunner wraps next with a token bucket of perSecond launches and
// the given burst. A non-positive rate disables limiting.
func NewRateLimitedRunner(next Runner, perSecond float64, burst int) *RateLimitedRunner {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedRunner{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// Run waits for a launch token and delegates to the wrapped runner.
func (r *RateLimitedRunner) Run(ctx context.Context, spec JobSpec) (*JobResult, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("job %s: waiting for launch slot: %w", spec.Name, ctx.Err())
		}
		return nil, &Error{Class: ClassLaunchFailed, Job: spec.Name, Image: spec.Image, Message: "launch rate limit", Cause: err}
	}
	return r.next.Run(ctx, spec)
}
