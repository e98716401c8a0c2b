package gantry

// State is the mutable per-request data bag threaded through a pipeline.
// Middleware put values in, handlers read them out. Keys follow the same
// convention as context keys: define an unexported key type in your package
// to avoid collisions.
//
// A State is exclusively owned by whichever middleware or handler is
// currently executing - ownership moves down the chain on each call to next
// and back up as the chain unwinds. Because no two stages of one request ever
// run at the same time, State does no locking. Never share a State between
// requests or goroutines.
//
// Usage:
//
//	type traceKey struct{}
//
//	s.Put(traceKey{}, "abc-123")
//	id, ok := s.Get(traceKey{})
type State struct {
	values map[any]any
}

// NewState returns an empty State for a single request.
func NewState() *State {
	return &State{values: make(map[any]any)}
}

// Put stores value under key, replacing any previous value.
func (s *State) Put(key, value any) {
	s.values[key] = value
}

// Get returns the value stored under key and whether it was present.
func (s *State) Get(key any) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

// MustGet returns the value stored under key, panicking if it is absent.
// Use it for values an earlier middleware is contractually required to have
// inserted (e.g. a handler behind RequireAuth reading the user ID).
func (s *State) MustGet(key any) any {
	v, ok := s.values[key]
	if !ok {
		panic("gantry: required state value missing")
	}
	return v
}

// Has reports whether a value is stored under key.
func (s *State) Has(key any) bool {
	_, ok := s.values[key]
	return ok
}

// Delete removes the value stored under key, if any.
func (s *State) Delete(key any) {
	delete(s.values, key)
}

// clone returns a State holding a copy of the current values. Timeout uses it
// to detach the downstream chain from the caller's State.
func (s *State) clone() *State {
	values := make(map[any]any, len(s.values))
	for k, v := range s.values {
		values[k] = v
	}
	return &State{values: values}
}
