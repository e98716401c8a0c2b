package gantry

import (
	"context"
	"encoding/json"
	"net/http"
)

// Handler produces the final Response for a request, after every middleware
// in the pipeline has had its turn. It sits at the innermost position of the
// chain.
type Handler func(ctx context.Context, s *State, r *http.Request) Response

// NewHandler creates a Handler for a single request. Like NewMiddleware, a
// NewHandler is shared across concurrent dispatches and must be safe to call
// concurrently; an error aborts the dispatch before any middleware runs.
//
// Most handlers are stateless functions, and a plain Handler is its own
// NewHandler - pass it to Dispatch directly.
type NewHandler interface {
	NewHandler() (Handler, error)
}

// NewHandler returns h itself, making every Handler a valid NewHandler.
func (h Handler) NewHandler() (Handler, error) {
	return h, nil
}

// NewHandlerFunc adapts a constructor function to the NewHandler interface,
// for handlers that hold request-scoped state.
type NewHandlerFunc func() (Handler, error)

// NewHandler calls f.
func (f NewHandlerFunc) NewHandler() (Handler, error) {
	return f()
}

// Response knows how to write itself to http.ResponseWriter
type Response interface {
	Write(ctx context.Context, w http.ResponseWriter) error
}

// --- Response implementations ---

type JSONResponse struct {
	StatusCode int
	Data       any
}

func (r JSONResponse) Write(ctx context.Context, w http.ResponseWriter) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(r.StatusCode)
	return json.NewEncoder(w).Encode(r.Data)
}

func JSON(statusCode int, data any) Response {
	return JSONResponse{StatusCode: statusCode, Data: data}
}

func Error(data any) Response {
	return JSONResponse{StatusCode: 500, Data: data}
}

// headerResponse stamps one header onto the wrapped response as it is
// written. Built by WithHeader; used by middleware that post-process the
// response (e.g. RequestID).
type headerResponse struct {
	inner Response
	key   string
	value string
}

func (r headerResponse) Write(ctx context.Context, w http.ResponseWriter) error {
	w.Header().Set(r.key, r.value)
	return r.inner.Write(ctx, w)
}

// WithHeader returns a Response identical to resp except that the given
// header is set when it is written. Handy inside middleware that wrap the
// chain's result:
//
//	resp := next(ctx, s, r)
//	return gantry.WithHeader(resp, "X-Request-ID", id)
func WithHeader(resp Response, key, value string) Response {
	return headerResponse{inner: resp, key: key, value: value}
}
