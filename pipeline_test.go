package gantry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
)

type numberKey struct{}

// number seeds the state with a starting value.
type number struct {
	value int
}

func (n number) NewMiddleware() (Middleware, error) {
	return number{value: n.value}, nil
}

func (n number) Process(ctx context.Context, s *State, r *http.Request, next Next) Response {
	s.Put(numberKey{}, n.value)
	return next(ctx, s, r)
}

// addition adds its value to the state's number.
type addition struct {
	value int
}

func (a addition) NewMiddleware() (Middleware, error) {
	return addition{value: a.value}, nil
}

func (a addition) Process(ctx context.Context, s *State, r *http.Request, next Next) Response {
	v := s.MustGet(numberKey{}).(int)
	s.Put(numberKey{}, v+a.value)
	return next(ctx, s, r)
}

// multiplication multiplies the state's number by its value.
type multiplication struct {
	value int
}

func (m multiplication) NewMiddleware() (Middleware, error) {
	return multiplication{value: m.value}, nil
}

func (m multiplication) Process(ctx context.Context, s *State, r *http.Request, next Next) Response {
	v := s.MustGet(numberKey{}).(int)
	s.Put(numberKey{}, v*m.value)
	return next(ctx, s, r)
}

func numberHandler(ctx context.Context, s *State, r *http.Request) Response {
	return JSON(http.StatusOK, s.MustGet(numberKey{}).(int))
}

func testRequest(t *testing.T) *http.Request {
	t.Helper()
	r, err := http.NewRequest("GET", "http://localhost/", nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	return r
}

func responseData(t *testing.T, resp Response) any {
	t.Helper()
	jr, ok := resp.(JSONResponse)
	if !ok {
		t.Fatalf("expected JSONResponse, got %T", resp)
	}
	return jr.Data
}

// Middleware must execute in add order, so a mixed sequence of additions and
// multiplications is order-sensitive end to end.
func TestPipelineOrdering(t *testing.T) {
	pipeline := NewPipeline().
		Add(number{value: 0}).         // 0
		Add(addition{value: 1}).       // 1
		Add(multiplication{value: 2}). // 2
		Add(addition{value: 1}).       // 3
		Add(multiplication{value: 2}). // 6
		Add(addition{value: 2}).       // 8
		Add(multiplication{value: 3}). // 24
		Build()

	resp, err := pipeline.Dispatch(context.Background(), Handler(numberHandler), NewState(), testRequest(t))
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	if got := responseData(t, resp); got != 24 {
		t.Errorf("expected 24, got %v", got)
	}
}

// recorder notes before/after execution per middleware to expose the call
// stack shape of the chain.
type recorder struct {
	name  string
	trace *[]string
}

func (m recorder) NewMiddleware() (Middleware, error) {
	return m, nil
}

func (m recorder) Process(ctx context.Context, s *State, r *http.Request, next Next) Response {
	*m.trace = append(*m.trace, m.name+"-before")
	resp := next(ctx, s, r)
	*m.trace = append(*m.trace, m.name+"-after")
	return resp
}

func TestPipelinePrePostOrdering(t *testing.T) {
	var trace []string

	pipeline := NewPipeline().
		Add(recorder{name: "m1", trace: &trace}).
		Add(recorder{name: "m2", trace: &trace}).
		Add(recorder{name: "m3", trace: &trace}).
		Build()

	handler := Handler(func(ctx context.Context, s *State, r *http.Request) Response {
		trace = append(trace, "handler")
		return JSON(http.StatusOK, nil)
	})

	if _, err := pipeline.Dispatch(context.Background(), handler, NewState(), testRequest(t)); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	want := []string{
		"m1-before", "m2-before", "m3-before",
		"handler",
		"m3-after", "m2-after", "m1-after",
	}
	if len(trace) != len(want) {
		t.Fatalf("expected trace %v, got %v", want, trace)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("expected trace %v, got %v", want, trace)
		}
	}
}

func TestEmptyPipeline(t *testing.T) {
	pipeline := NewPipeline().Build()

	s := NewState()
	s.Put(numberKey{}, 7)

	handlerRan := false
	handler := Handler(func(ctx context.Context, hs *State, r *http.Request) Response {
		handlerRan = true
		if hs != s {
			t.Error("handler did not receive the caller's state")
		}
		return JSON(http.StatusOK, hs.MustGet(numberKey{}).(int))
	})

	resp, err := pipeline.Dispatch(context.Background(), handler, s, testRequest(t))
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if !handlerRan {
		t.Fatal("handler never ran")
	}
	if got := responseData(t, resp); got != 7 {
		t.Errorf("expected state to pass through unmodified, got %v", got)
	}
}

// shortCircuit never invokes its continuation.
type shortCircuit struct{}

func (shortCircuit) NewMiddleware() (Middleware, error) {
	return shortCircuit{}, nil
}

func (shortCircuit) Process(ctx context.Context, s *State, r *http.Request, next Next) Response {
	return JSON(http.StatusForbidden, "stopped here")
}

// counter counts how many times it runs.
type counter struct {
	calls *int
}

func (c counter) NewMiddleware() (Middleware, error) {
	return c, nil
}

func (c counter) Process(ctx context.Context, s *State, r *http.Request, next Next) Response {
	*c.calls++
	return next(ctx, s, r)
}

func TestShortCircuit(t *testing.T) {
	var downstreamCalls int
	handlerCalls := 0

	pipeline := NewPipeline().
		Add(counter{calls: &downstreamCalls}).
		Add(shortCircuit{}).
		Add(counter{calls: &downstreamCalls}).
		Add(counter{calls: &downstreamCalls}).
		Build()

	handler := Handler(func(ctx context.Context, s *State, r *http.Request) Response {
		handlerCalls++
		return JSON(http.StatusOK, nil)
	})

	resp, err := pipeline.Dispatch(context.Background(), handler, NewState(), testRequest(t))
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	if downstreamCalls != 1 {
		t.Errorf("expected only the middleware before the short-circuit to run, got %d calls", downstreamCalls)
	}
	if handlerCalls != 0 {
		t.Errorf("handler ran %d times after a short-circuit", handlerCalls)
	}
	if resp.(JSONResponse).StatusCode != http.StatusForbidden {
		t.Errorf("expected the short-circuit response, got status %d", resp.(JSONResponse).StatusCode)
	}
}

// failingFactory always fails to produce an instance.
type failingFactory struct {
	err error
}

func (f failingFactory) NewMiddleware() (Middleware, error) {
	return nil, f.err
}

func TestMiddlewareConstructionFailure(t *testing.T) {
	boom := errors.New("boom")
	processCalls := 0

	pipeline := NewPipeline().
		Add(counter{calls: &processCalls}).
		Add(failingFactory{err: boom}).
		Add(counter{calls: &processCalls}).
		Build()

	handlerCalls := 0
	handler := Handler(func(ctx context.Context, s *State, r *http.Request) Response {
		handlerCalls++
		return JSON(http.StatusOK, nil)
	})

	s := NewState()
	s.Put(numberKey{}, 42)

	resp, err := pipeline.Dispatch(context.Background(), handler, s, testRequest(t))
	if err == nil {
		t.Fatal("expected a construction error")
	}
	if resp != nil {
		t.Errorf("expected nil response on construction failure, got %v", resp)
	}
	if processCalls != 0 || handlerCalls != 0 {
		t.Errorf("chain ran despite construction failure: %d middleware, %d handler calls", processCalls, handlerCalls)
	}

	var ce *ConstructionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConstructionError, got %T", err)
	}
	if ce.Stage != "middleware" || ce.Index != 1 {
		t.Errorf("expected middleware failure at index 1, got stage %q index %d", ce.Stage, ce.Index)
	}
	if !errors.Is(err, boom) {
		t.Error("construction error does not wrap the factory's error")
	}

	// The caller's state is untouched.
	if v := s.MustGet(numberKey{}).(int); v != 42 {
		t.Errorf("state mutated on aborted dispatch: %v", v)
	}
}

func TestHandlerConstructionFailure(t *testing.T) {
	boom := errors.New("no handler today")
	processCalls := 0

	pipeline := NewPipeline().
		Add(counter{calls: &processCalls}).
		Build()

	nh := NewHandlerFunc(func() (Handler, error) {
		return nil, boom
	})

	_, err := pipeline.Dispatch(context.Background(), nh, NewState(), testRequest(t))
	if err == nil {
		t.Fatal("expected a construction error")
	}
	if processCalls != 0 {
		t.Errorf("middleware ran despite handler construction failure: %d calls", processCalls)
	}

	var ce *ConstructionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConstructionError, got %T", err)
	}
	if ce.Stage != "handler" {
		t.Errorf("expected handler stage, got %q", ce.Stage)
	}
}

// statefulFactory spawns instances that each count their own Process calls,
// to catch per-request state leaking between instances.
type statefulFactory struct{}

type statefulInstance struct {
	calls int
}

func (statefulFactory) NewMiddleware() (Middleware, error) {
	return &statefulInstance{}, nil
}

func (m *statefulInstance) Process(ctx context.Context, s *State, r *http.Request, next Next) Response {
	m.calls++
	s.Put(numberKey{}, m.calls)
	return next(ctx, s, r)
}

func TestFactoryPurity(t *testing.T) {
	f := statefulFactory{}

	first, err := f.NewMiddleware()
	if err != nil {
		t.Fatalf("NewMiddleware failed: %v", err)
	}
	second, err := f.NewMiddleware()
	if err != nil {
		t.Fatalf("NewMiddleware failed: %v", err)
	}

	next := Next(func(ctx context.Context, s *State, r *http.Request) Response {
		return JSON(http.StatusOK, nil)
	})

	r := testRequest(t)
	first.Process(context.Background(), NewState(), r, next)
	first.Process(context.Background(), NewState(), r, next)

	s := NewState()
	second.Process(context.Background(), s, r, next)
	if got := s.MustGet(numberKey{}).(int); got != 1 {
		t.Errorf("second instance observed the first instance's state: %v", got)
	}
}

func TestConcurrentDispatchIsolation(t *testing.T) {
	const requests = 64

	pipeline := NewPipeline().
		Add(statefulFactory{}).
		Add(multiplication{value: 1000}).
		Build()

	// Each request seeds its own value and checks only its own arithmetic.
	handler := Handler(func(ctx context.Context, s *State, r *http.Request) Response {
		return JSON(http.StatusOK, s.MustGet(numberKey{}).(int))
	})

	var wg sync.WaitGroup
	results := make([]any, requests)
	errs := make([]error, requests)

	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := http.NewRequest("GET", fmt.Sprintf("http://localhost/%d", i), nil)
			if err != nil {
				errs[i] = err
				return
			}
			resp, err := pipeline.Dispatch(context.Background(), handler, NewState(), r)
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = resp.(JSONResponse).Data
		}(i)
	}
	wg.Wait()

	for i := 0; i < requests; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d failed: %v", i, errs[i])
		}
		// A fresh statefulInstance always writes 1 before the multiplier.
		if results[i] != 1000 {
			t.Errorf("request %d observed cross-request state: %v", i, results[i])
		}
	}
}

func TestBuilderSealedOnBuild(t *testing.T) {
	builder := NewPipeline().Add(number{value: 0}).Add(addition{value: 5})
	pipeline := builder.Build()

	// Growing the builder afterwards must not affect the sealed pipeline.
	builder.Add(multiplication{value: 100})

	resp, err := pipeline.Dispatch(context.Background(), Handler(numberHandler), NewState(), testRequest(t))
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if got := responseData(t, resp); got != 5 {
		t.Errorf("sealed pipeline changed after Build: got %v", got)
	}
}

func TestAddNilPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for nil NewMiddleware")
		}
	}()
	NewPipeline().Add(nil)
}
