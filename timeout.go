package gantry

import (
	"context"
	"net/http"
	"time"
)

// Timeout creates a middleware factory that bounds the rest of the chain to
// d. The downstream continuation runs with a context whose deadline is d from
// now; if it has not returned by then, the chain short-circuits with a
// 504 Gateway Timeout.
//
// The downstream stages run against a detached copy of the State. On success
// the copy's values replace the caller's, so downstream mutations are visible
// during unwinding as usual. On expiry the downstream goroutine keeps running
// until it observes ctx.Done(), but it only ever held the copy - upstream
// stages and the caller can keep reading their State without racing it.
// Downstream mutations made after the deadline are discarded along with the
// abandoned response.
func Timeout(d time.Duration) NewMiddleware {
	return MiddlewareFunc(func(ctx context.Context, s *State, r *http.Request, next Next) Response {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		detached := s.clone()
		done := make(chan Response, 1)
		go func() {
			done <- next(ctx, detached, r)
		}()

		select {
		case resp := <-done:
			s.values = detached.values
			return resp
		case <-ctx.Done():
			return JSON(http.StatusGatewayTimeout, map[string]string{
				"error": "request timed out",
			})
		}
	})
}
