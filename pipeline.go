package gantry

import (
	"context"
	"fmt"
	"net/http"
)

// Pipeline is a sealed, ordered sequence of middleware factories, built once
// at setup time and shared by every request that flows through it. Middleware
// run strictly in the order their factories were added.
//
// At dispatch time the Pipeline spawns one fresh Middleware per factory plus
// a Handler from the given NewHandler - all per-request values used exactly
// once - and folds them into a single call chain. For middleware M1..Mn
// added in that order, one request observes:
//
//	M1-before -> M2-before -> ... -> Mn-before -> handler
//	  -> Mn-after -> ... -> M2-after -> M1-after
//
// i.e. pre-processing runs in add order and post-processing unwinds in
// reverse, like an ordinary call stack. A middleware that never invokes its
// continuation short-circuits: everything downstream of it, handler
// included, is skipped and unwinding begins from that point.
//
// Usage:
//
//	pipeline := gantry.NewPipeline().
//	    Add(gantry.RequestID()).
//	    Add(gantry.Logging()).
//	    Add(gantry.RequireAuth(secret)).
//	    Build()
//
//	resp, err := pipeline.Dispatch(ctx, myHandler, gantry.NewState(), r)
type Pipeline struct {
	factories []NewMiddleware
}

// PipelineBuilder accumulates middleware factories for a Pipeline. It is a
// setup-time value and is not safe for concurrent use; the Pipeline produced
// by Build is.
type PipelineBuilder struct {
	factories []NewMiddleware
}

// NewPipeline begins defining a new pipeline with no middleware. Building it
// as-is yields a valid Pipeline that dispatches straight to the handler.
func NewPipeline() *PipelineBuilder {
	return &PipelineBuilder{}
}

// Add appends a middleware factory to the pipeline under construction.
// Factories execute in the order they are added: first added = outermost =
// first to see the request. Returns the builder for chaining.
func (b *PipelineBuilder) Add(nm NewMiddleware) *PipelineBuilder {
	if nm == nil {
		panic("gantry: nil NewMiddleware passed to Add")
	}
	b.factories = append(b.factories, nm)
	return b
}

// Build seals the builder into an immutable Pipeline. The builder may keep
// growing afterwards without affecting pipelines already built from it.
func (b *PipelineBuilder) Build() *Pipeline {
	factories := make([]NewMiddleware, len(b.factories))
	copy(factories, b.factories)
	return &Pipeline{factories: factories}
}

// ConstructionError reports that a middleware factory or the handler factory
// failed while spawning the per-request chain. The chain never started: no
// middleware Process was invoked, and the caller's State is untouched by the
// pipeline.
type ConstructionError struct {
	// Stage is "middleware" or "handler".
	Stage string
	// Index is the position of the failing factory in add order, or -1 for
	// the handler.
	Index int
	Err   error
}

func (e *ConstructionError) Error() string {
	if e.Stage == "handler" {
		return fmt.Sprintf("gantry: constructing handler: %v", e.Err)
	}
	return fmt.Sprintf("gantry: constructing middleware %d: %v", e.Index, e.Err)
}

func (e *ConstructionError) Unwrap() error {
	return e.Err
}

// spawn creates the per-request middleware instances, one per factory in add
// order. All-or-nothing: the first factory error aborts the whole spawn.
func (p *Pipeline) spawn() ([]Middleware, error) {
	if len(p.factories) == 0 {
		return nil, nil
	}
	instances := make([]Middleware, len(p.factories))
	for i, nm := range p.factories {
		m, err := nm.NewMiddleware()
		if err != nil {
			return nil, &ConstructionError{Stage: "middleware", Index: i, Err: err}
		}
		instances[i] = m
	}
	return instances, nil
}

// Dispatch runs one request through the pipeline and the handler created from
// nh, returning the chain's Response.
//
// A *ConstructionError is returned if nh or any middleware factory fails; in
// that case no middleware ran and s was not touched by the pipeline. Once the
// chain is executing, error policy belongs to the middleware themselves - a
// middleware may turn a downstream failure into a Response or let it
// propagate however the chain's Response convention expresses it; Dispatch
// adds no recovery of its own.
//
// Dispatch blocks until the chain completes. Middleware and handlers are free
// to block on I/O; run each request on its own goroutine (as any Go HTTP
// server already does) and they suspend independently. ctx carries the
// deadline/cancellation signal of the surrounding request, which the
// dispatcher passes through untouched.
//
// Concurrent Dispatch calls on one Pipeline are safe: the factories are
// read-only, and every request gets its own middleware instances.
func (p *Pipeline) Dispatch(ctx context.Context, nh NewHandler, s *State, r *http.Request) (Response, error) {
	h, err := nh.NewHandler()
	if err != nil {
		return nil, &ConstructionError{Stage: "handler", Index: -1, Err: err}
	}
	instances, err := p.spawn()
	if err != nil {
		return nil, err
	}

	// Fold the chain from the inside out: start with a continuation that
	// invokes the handler, then wrap it in each middleware from last to
	// first, so the first-added middleware ends up outermost. For m0, m1, m2
	// the result is
	//
	//	m0.Process(ctx, s, r, func(...) {
	//	    m1.Process(ctx, s, r, func(...) {
	//	        m2.Process(ctx, s, r, func(...) { h(ctx, s, r) })
	//	    })
	//	})
	next := Next(func(ctx context.Context, s *State, r *http.Request) Response {
		return h(ctx, s, r)
	})
	for i := len(instances) - 1; i >= 0; i-- {
		m, rest := instances[i], next
		next = func(ctx context.Context, s *State, r *http.Request) Response {
			return m.Process(ctx, s, r, rest)
		}
	}

	return next(ctx, s, r), nil
}
