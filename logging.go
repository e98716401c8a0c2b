package gantry

import (
	"context"
	"log"
	"net/http"
	"time"
)

// Logging creates a middleware factory that logs each request's method, path
// and duration after the rest of the chain returns. If RequestID ran earlier
// in the pipeline, the request ID is included.
func Logging() NewMiddleware {
	return MiddlewareFunc(func(ctx context.Context, s *State, r *http.Request, next Next) Response {
		start := time.Now()
		resp := next(ctx, s, r)
		duration := time.Since(start)

		if id, ok := GetRequestID(s); ok {
			log.Printf("%s %s [%s] completed in %s", r.Method, r.URL.Path, id, duration)
		} else {
			log.Printf("%s %s completed in %s", r.Method, r.URL.Path, duration)
		}
		return resp
	})
}
