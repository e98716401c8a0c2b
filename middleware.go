package gantry

import (
	"context"
	"net/http"
)

// Next represents the remainder of a pipeline from a middleware's point of
// view: all later middleware followed by the handler. A middleware invokes it
// at most once.
type Next func(ctx context.Context, s *State, r *http.Request) Response

// Middleware is a single per-request stage in a pipeline. Process receives
// the request state and the rest of the chain as next, and may:
//
//   - call next and return its Response unchanged (pass-through)
//   - call next and transform its Response, or run logic after it returns
//     (wrap - e.g. timing, response headers)
//   - never call next, returning its own Response (short-circuit - e.g. an
//     auth rejection; nothing downstream runs)
//
// A Middleware value is created fresh for each request by its NewMiddleware
// and may keep request-scoped mutable fields. It is used for exactly one
// request.
type Middleware interface {
	Process(ctx context.Context, s *State, r *http.Request, next Next) Response
}

// NewMiddleware creates Middleware values, one per request. Implementations
// are stored in a Pipeline and shared by every request that flows through it,
// so NewMiddleware must be safe to call concurrently and must not mutate the
// factory. Returning an error aborts the dispatch before any middleware runs.
type NewMiddleware interface {
	NewMiddleware() (Middleware, error)
}

// MiddlewareFunc adapts a plain function to the Middleware interface. A
// MiddlewareFunc is also its own NewMiddleware: functions carry no per-request
// state, so the same value serves every request.
//
// Usage:
//
//	noCache := gantry.MiddlewareFunc(func(ctx context.Context, s *gantry.State, r *http.Request, next gantry.Next) gantry.Response {
//	    resp := next(ctx, s, r)
//	    return gantry.WithHeader(resp, "Cache-Control", "no-store")
//	})
//	pipeline := gantry.NewPipeline().Add(noCache).Build()
type MiddlewareFunc func(ctx context.Context, s *State, r *http.Request, next Next) Response

// Process calls f.
func (f MiddlewareFunc) Process(ctx context.Context, s *State, r *http.Request, next Next) Response {
	return f(ctx, s, r, next)
}

// NewMiddleware returns f itself; a bare function needs no per-request copy.
func (f MiddlewareFunc) NewMiddleware() (Middleware, error) {
	return f, nil
}

// NewMiddlewareFunc adapts a constructor function to the NewMiddleware
// interface, for middleware that do need a fresh value per request.
type NewMiddlewareFunc func() (Middleware, error)

// NewMiddleware calls f.
func (f NewMiddlewareFunc) NewMiddleware() (Middleware, error) {
	return f()
}
