package gantry

import (
	"context"
	"net/http"

	"golang.org/x/time/rate"
)

// rateLimiter is the per-request middleware spawned by RateLimit. Every
// instance shares the factory's token bucket, so the limit applies across all
// requests flowing through the pipeline; the limiter itself is internally
// synchronized.
type rateLimiter struct {
	limiter *rate.Limiter
}

func (m *rateLimiter) Process(ctx context.Context, s *State, r *http.Request, next Next) Response {
	if !m.limiter.Allow() {
		return JSON(http.StatusTooManyRequests, map[string]string{
			"error": "rate limit exceeded",
		})
	}
	return next(ctx, s, r)
}

// RateLimit creates a middleware factory enforcing a token-bucket rate limit
// of rps requests per second with the given burst size. Requests over the
// limit are short-circuited with a 429 Too Many Requests response.
//
// Usage:
//
//	pipeline := gantry.NewPipeline().
//	    Add(gantry.RateLimit(100, 20)).
//	    Build()
func RateLimit(rps float64, burst int) NewMiddleware {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return NewMiddlewareFunc(func() (Middleware, error) {
		return &rateLimiter{limiter: limiter}, nil
	})
}
