package gantry

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type requestIDKey struct{}

// RequestIDHeader is the response header stamped by RequestID.
const RequestIDHeader = "X-Request-ID"

// RequestID creates a middleware factory that assigns every request a unique
// ID. An incoming X-Request-ID header is honored so IDs survive proxy hops;
// otherwise a fresh UUID is generated. The ID is stored in the request State
// and stamped onto the response on the way back out.
func RequestID() NewMiddleware {
	return MiddlewareFunc(func(ctx context.Context, s *State, r *http.Request, next Next) Response {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		s.Put(requestIDKey{}, id)

		resp := next(ctx, s, r)
		return WithHeader(resp, RequestIDHeader, id)
	})
}

// GetRequestID extracts the request ID from the State. Returns the ID and a
// boolean indicating if RequestID ran earlier in the chain.
func GetRequestID(s *State) (string, bool) {
	v, ok := s.Get(requestIDKey{})
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}
