// Package middleware implements the two-phase (before/after) execution
// engine: a chain of Middleware values is right-folded over a terminal
// handler, the compiled chain is cached and invalidated on registration.
// Grounded on original_source/router/core.py's _create_middleware_wrapper
// and _compile_middleware_chain.
package middleware

import (
	"net/http"
	"sync"
	"time"
)

// Context is the typed request/response scope threaded through the
// middleware chain and the terminal handler, replacing the original's
// untyped ASGI scope dict per spec.md's design notes.
type Context struct {
	Request     *http.Request
	Writer      http.ResponseWriter
	Method      string
	Path        string
	PathParams  map[string]string
	StatusCode  int
	Extensions  map[string]any
	err         error
}

func NewContext(w http.ResponseWriter, r *http.Request) *Context {
	return &Context{
		Request:    r,
		Writer:     w,
		Method:     r.Method,
		Path:       r.URL.Path,
		PathParams: map[string]string{},
		Extensions: map[string]any{},
	}
}

// Set/Get give middlewares a typed slot in Extensions without needing
// their own context-propagation mechanism (e.g. the tracer stores its
// span here, mirroring the original's scope['span'] = span).
func (c *Context) Set(key string, value any) { c.Extensions[key] = value }
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.Extensions[key]
	return v, ok
}

// Handler is the terminal request handler the chain wraps.
type Handler func(ctx *Context) error

// Middleware is a two-phase hook. Before runs prior to entering the inner
// chain; if it returns an error the inner chain (including the handler)
// is skipped entirely. After runs once the inner chain has returned,
// whether or not it errored; After's own errors are logged, never
// propagated (best-effort), matching the original's
// _create_middleware_wrapper semantics exactly.
type Middleware interface {
	Before(ctx *Context) error
	After(ctx *Context)
}

// MiddlewareFunc adapts a pair of plain functions to the Middleware
// interface.
type MiddlewareFunc struct {
	BeforeFn func(ctx *Context) error
	AfterFn  func(ctx *Context)
}

func (f MiddlewareFunc) Before(ctx *Context) error {
	if f.BeforeFn == nil {
		return nil
	}
	return f.BeforeFn(ctx)
}

func (f MiddlewareFunc) After(ctx *Context) {
	if f.AfterFn != nil {
		f.AfterFn(ctx)
	}
}

// ErrorLogger receives best-effort After-phase errors that must not be
// propagated to the caller. Defaults to a no-op; Chain.SetErrorLogger
// installs a real sink (fantail.New installs its telemetry.Logger).
type ErrorLogger func(err error)

// Chain holds an ordered list of middlewares and compiles them into a
// single Handler, right-folded over a terminal handler exactly as
// _compile_middleware_chain does.
type Chain struct {
	mu          sync.Mutex
	middlewares []Middleware
	compiled    func(terminal Handler) Handler
	errorLogger ErrorLogger
}

func NewChain(mw ...Middleware) *Chain {
	return &Chain{middlewares: mw, errorLogger: func(error) {}}
}

func (c *Chain) SetErrorLogger(logger ErrorLogger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorLogger = logger
}

// Use appends a middleware and invalidates the compiled chain.
func (c *Chain) Use(mw Middleware) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.middlewares = append(c.middlewares, mw)
	c.compiled = nil
}

// Compile returns a Handler wrapping terminal in the registered
// middlewares. The middleware list is snapshotted on the first Compile
// after a Use and that snapshot is reused until the next Use; the wrapper
// functions themselves are built anew on every call.
func (c *Chain) Compile(terminal Handler) Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.compiled != nil {
		return c.compiled(terminal)
	}
	mws := append([]Middleware(nil), c.middlewares...)
	logger := c.errorLogger
	build := func(terminal Handler) Handler {
		chain := terminal
		for i := len(mws) - 1; i >= 0; i-- {
			chain = wrap(mws[i], chain, logger)
		}
		return chain
	}
	c.compiled = build
	return build(terminal)
}

// wrap implements the exact error-propagation policy
// _create_middleware_wrapper encodes: a before-hook error skips the inner
// chain entirely (the handler never runs); an inner-chain error still
// runs this middleware's After hook best-effort before the original error
// is re-raised; a panic inside After is recovered and reported to the
// logger, never propagated, whether or not the inner chain errored.
func wrap(mw Middleware, next Handler, logger ErrorLogger) Handler {
	return func(ctx *Context) error {
		if err := mw.Before(ctx); err != nil {
			return err
		}
		innerErr := next(ctx)
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger(panicToErr(r))
				}
			}()
			mw.After(ctx)
		}()
		return innerErr
	}
}

func panicToErr(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &panicError{r}
}

type panicError struct{ v any }

func (p *panicError) Error() string { return "middleware after-hook panic" }

// Monitor returns a Middleware recording request counts/latency into m.
func Monitor(m MetricsRecorder) Middleware {
	return MiddlewareFunc{
		BeforeFn: func(ctx *Context) error {
			ctx.Set("monitor.start", timeNow())
			return nil
		},
		AfterFn: func(ctx *Context) {
			start, _ := ctx.Get("monitor.start")
			if t, ok := start.(time.Time); ok {
				m.RecordRequest(ctx.Path, ctx.StatusCode, time.Since(t))
			}
		},
	}
}

// Trace returns a Middleware that opens a span before the handler runs
// and closes it after, tagging method/path/status the way
// monitoring/tracer.py's trace_request does.
func Trace(t Tracer) Middleware {
	return MiddlewareFunc{
		BeforeFn: func(ctx *Context) error {
			span := t.StartSpan(ctx.Method + " " + ctx.Path)
			span.SetTag("http.method", ctx.Method)
			span.SetTag("http.path", ctx.Path)
			ctx.Set("trace.span", span)
			return nil
		},
		AfterFn: func(ctx *Context) {
			span, ok := ctx.Get("trace.span")
			if !ok {
				return
			}
			s := span.(Span)
			s.SetTag("http.status_code", ctx.StatusCode)
			t.EndSpan(s)
		},
	}
}

// RateLimit returns a Middleware enforcing l against the request's
// client-IP key.
func RateLimit(l RateLimiter) Middleware {
	return MiddlewareFunc{
		BeforeFn: func(ctx *Context) error {
			key := keyByIP(ctx.Request)
			if !l.Allow(key) {
				return ErrRateLimited{}
			}
			return nil
		},
	}
}

// ErrRateLimited is returned by the RateLimit middleware's Before hook.
type ErrRateLimited struct{}

func (ErrRateLimited) Error() string { return "rate limit exceeded" }

func keyByIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return xrip
	}
	return r.RemoteAddr
}

func timeNow() time.Time { return time.Now() }

// MetricsRecorder, Tracer, Span and RateLimiter are the narrow interfaces
// Monitor/Trace/RateLimit depend on, satisfied by telemetry.Metrics,
// telemetry.Tracer/Span and ratelimit.Limiter respectively, kept here to
// avoid a package import cycle between middleware and telemetry/ratelimit.
type MetricsRecorder interface {
	RecordRequest(path string, status int, latency time.Duration)
}

type Span interface {
	SetTag(key string, value any)
}

type Tracer interface {
	StartSpan(name string) Span
	EndSpan(span Span)
}

type RateLimiter interface {
	Allow(key string) bool
}
