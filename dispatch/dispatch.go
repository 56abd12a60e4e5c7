// Package dispatch implements the request dispatcher: route resolution
// (through the route cache), the middleware chain, reflective argument
// binding, response enveloping, and compression. Grounded on
// original_source/router/core.py's handle_request/_send_response and
// response.py's compression/chunking logic.
package dispatch

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/onclave/fantail/cachecore"
	"github.com/onclave/fantail/middleware"
	"github.com/onclave/fantail/router"
	"github.com/onclave/fantail/routecache"
	"github.com/onclave/fantail/telemetry"
)

// Context is the request/response scope handlers and middlewares see.
type Context = middleware.Context

// Handler is a user-registered route handler.
type Handler func(ctx *Context) (any, error)

// Envelope is the {code, message, data, timestamp} response wrapper spec
// section 6 requires.
type Envelope struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Data      any    `json:"data"`
	Timestamp float64 `json:"timestamp"`
}

func newEnvelope(code int, message string, data any) Envelope {
	return Envelope{Code: code, Message: message, Data: data, Timestamp: float64(time.Now().UnixNano()) / 1e9}
}

// RawResponse lets a handler bypass the envelope entirely, e.g. to
// return HTML, matching the original's dict-with-headers-and-body
// shortcut in _send_response.
type RawResponse struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// compressionLevels mirrors response.py's _compression_levels tiering.
var compressionLevels = []struct {
	maxSize int
	level   int
}{
	{1024, gzip.BestSpeed},
	{10240, 4},
	{102400, gzip.DefaultCompression},
	{1048576, gzip.BestCompression},
}

func compressionLevelFor(size int) int {
	for _, tier := range compressionLevels {
		if size <= tier.maxSize {
			return tier.level
		}
	}
	return gzip.BestCompression
}

const (
	compressionThreshold = 2048
	minCompressionRatio  = 0.9
	chunkSize            = 8192

	// cacheableTag marks a route whose successful GET responses may be
	// memoized in responseCache, per SPEC_FULL.md §8's response
	// micro-cache, grounded on original_source/response.py's
	// ResponseCache.
	cacheableTag = "cacheable"
)

// Options configures a Dispatcher.
type Options struct {
	Router        *router.Trie
	RouteCache    *routecache.Cache
	ResponseCache *cachecore.Cache
	Chain         *middleware.Chain
	Logger        *telemetry.Logger
}

// Dispatcher is the framework's core request handler, wrapped by the
// compiled middleware chain.
type Dispatcher struct {
	router        *router.Trie
	routeCache    *routecache.Cache
	responseCache *cachecore.Cache
	chain         *middleware.Chain
	logger        *telemetry.Logger
}

func New(opts Options) *Dispatcher {
	return &Dispatcher{
		router:        opts.Router,
		routeCache:    opts.RouteCache,
		responseCache: opts.ResponseCache,
		chain:         opts.Chain,
		logger:        opts.Logger,
	}
}

// cachedRoute is what routeCache stores per literal path: the resolved
// endpoint, so a cache hit serves the handler/params/tags without
// re-walking the trie. Grounded on original_source/router/cache.py's
// RouteCache storing the full resolved route tuple, not a marker value.
type cachedRoute struct {
	handler router.Handler
	methods router.MethodSet
	params  router.Params
	pattern string
	tags    []string
}

// cachedResponse is what responseCache stores per cache key: the fully
// prepared (compressed, header-stamped) bytes a prior request produced,
// so a hit skips re-serialization and re-compression entirely.
type cachedResponse struct {
	status  int
	headers http.Header
	body    []byte
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		vv := make([]string, len(v))
		copy(vv, v)
		out[k] = vv
	}
	return out
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ServeHTTP implements http.Handler: it builds a Context, runs it through
// the compiled middleware chain with handleRequest as the terminal, and
// recovers any panic into a 500 Internal error exactly like the
// original's outer try/except in handle_request.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reqID, ok := telemetry.RequestIDFromContext(r.Context())
	if !ok {
		rctx, id := telemetry.WithRequestID(r.Context())
		r, reqID = r.WithContext(rctx), id
	}
	rw, statusOf := telemetry.WrapResponseWriter(w)
	ctx := middleware.NewContext(rw, r)

	terminal := d.handleRequest
	compiled := d.chain.Compile(terminal)

	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				ctx.StatusCode = http.StatusInternalServerError
				d.writeError(ctx, http.StatusInternalServerError, "internal error")
				err = nil
			}
		}()
		return compiled(ctx)
	}()

	if err != nil {
		d.writeMiddlewareError(ctx, err)
	}

	if d.logger != nil {
		d.logger.LogRequest(reqID, r.Method, r.URL.Path, statusOf(), time.Since(start))
	}
}

// writeMiddlewareError maps an error raised by a Before hook (breaker,
// rate limiter) to its envelope, grounded on
// _handle_middleware_error.
func (d *Dispatcher) writeMiddlewareError(ctx *Context, err error) {
	status := classifyError(err)
	ctx.StatusCode = status
	d.writeError(ctx, status, err.Error())
}

func classifyError(err error) int {
	type statusCoder interface{ HTTPStatus() int }
	if sc, ok := err.(statusCoder); ok {
		return sc.HTTPStatus()
	}
	// Heuristic fallback for sentinel errors coming from
	// breaker.ErrOpen / middleware.ErrRateLimited which don't carry an
	// HTTPStatus() method, keeping those packages free of a dependency
	// on this one.
	switch err.Error() {
	case "circuit breaker is open":
		return http.StatusServiceUnavailable
	case "rate limit exceeded":
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// handleRequest is the terminal core: route resolution (route cache
// consulted first), argument binding, handler invocation, response
// enveloping. Grounded on original_source/router/core.py's handle_request.
func (d *Dispatcher) handleRequest(ctx *Context) error {
	var handler router.Handler
	var methods router.MethodSet
	var params router.Params
	var pattern string
	var tags []string

	if cached, ok := d.routeCache.Get(ctx.Path); ok {
		cr := cached.(cachedRoute)
		handler, methods, params, pattern, tags = cr.handler, cr.methods, cr.params, cr.pattern, cr.tags
	} else {
		start := time.Now()
		var ok2 bool
		handler, methods, params, pattern, tags, ok2 = d.router.Lookup(ctx.Path, ctx.Method)
		d.routeCache.RecordLatency(pattern, time.Since(start))
		if !ok2 {
			ctx.StatusCode = http.StatusNotFound
			d.writeError(ctx, http.StatusNotFound, "route not found")
			return nil
		}
		d.routeCache.Set(ctx.Path, cachedRoute{handler: handler, methods: methods, params: params, pattern: pattern, tags: tags}, pattern)
	}

	if !methods.Has(ctx.Method) {
		ctx.StatusCode = http.StatusNotFound
		d.writeError(ctx, http.StatusNotFound, "route not found")
		return nil
	}
	ctx.PathParams = params

	var cacheKey string
	if ctx.Method == http.MethodGet && hasTag(tags, cacheableTag) && d.responseCache != nil {
		cacheKey = ctx.Method + " " + ctx.Request.URL.RequestURI()
		if cached, ok := d.responseCache.Get(cacheKey); ok {
			cr := cached.(cachedResponse)
			ctx.StatusCode = cr.status
			return d.writeChunked(ctx, cr.status, cr.headers, cr.body)
		}
	}

	result, err := d.invokeHandler(ctx, handler)
	if err != nil {
		return d.handleHandlerError(ctx, err)
	}

	ctx.StatusCode = http.StatusOK
	return d.sendResponse(ctx, result, cacheKey)
}

// invokeHandler runs handler, converting a panic into an ordinary error
// instead of letting it unwind past the middleware chain's After hooks
// (the breaker, in particular, needs RecordResult to see every failed
// request, panic or not). The dispatcher-level recover in ServeHTTP stays
// as a last-resort backstop for panics outside the handler itself.
func (d *Dispatcher) invokeHandler(ctx *Context, handler router.Handler) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if d.logger != nil {
				d.logger.Error("handler panic recovered", "path", ctx.Path, "panic", rec)
			}
			err = handlerPanic{}
		}
	}()
	return handler(ctx)
}

// handlerPanic marks a recovered handler panic as an internal error. The
// recovered value itself is logged at the recover site, never exposed in
// the response body, matching ServeHTTP's existing top-level "internal
// error" wording for a panic that somehow still escapes invokeHandler.
type handlerPanic struct{}

func (handlerPanic) Error() string   { return "internal error" }
func (handlerPanic) HTTPStatus() int { return http.StatusInternalServerError }

func (d *Dispatcher) handleHandlerError(ctx *Context, err error) error {
	type statusCoder interface {
		HTTPStatus() int
		Error() string
	}
	if sc, ok := err.(statusCoder); ok {
		ctx.StatusCode = sc.HTTPStatus()
		d.writeError(ctx, sc.HTTPStatus(), sc.Error())
		return nil
	}
	ctx.StatusCode = http.StatusInternalServerError
	d.writeError(ctx, http.StatusInternalServerError, err.Error())
	return nil
}

// WrapHandler adapts a typed dispatch.Handler into the router.Handler
// shape the trie stores; router never inspects ctx itself, so the type
// assertion back to *Context here is always safe.
func WrapHandler(h Handler) router.Handler {
	return func(ctx any) (any, error) {
		return h(ctx.(*Context))
	}
}

// sendResponse implements _send_response: dict-with-headers-and-body
// bypasses the envelope, otherwise the value is wrapped in {code,
// message, data, timestamp} and serialized/compressed/chunked. cacheKey,
// when non-empty, memoizes the prepared bytes in responseCache for the
// next GET to the same cacheable-tagged route.
func (d *Dispatcher) sendResponse(ctx *Context, result any, cacheKey string) error {
	if raw, ok := result.(RawResponse); ok {
		return d.writeRaw(ctx, raw)
	}
	env := newEnvelope(http.StatusOK, "success", result)
	return d.writeJSON(ctx, http.StatusOK, env, cacheKey)
}

func (d *Dispatcher) writeError(ctx *Context, status int, message string) {
	env := newEnvelope(status, message, nil)
	_ = d.writeJSON(ctx, status, env, "")
}

func (d *Dispatcher) writeJSON(ctx *Context, status int, env Envelope, cacheKey string) error {
	body, err := json.Marshal(env)
	if err != nil {
		body, _ = json.Marshal(newEnvelope(http.StatusInternalServerError, "serialization failed", nil))
		status = http.StatusInternalServerError
		cacheKey = ""
	}
	headers := http.Header{"Content-Type": []string{"application/json; charset=utf-8"}}
	return d.sendBytes(ctx, status, headers, body, cacheKey)
}

func (d *Dispatcher) writeRaw(ctx *Context, raw RawResponse) error {
	status := raw.Status
	if status == 0 {
		status = http.StatusOK
	}
	return d.sendBytes(ctx, status, raw.Headers, raw.Body, "")
}

// sendBytes applies tiered gzip compression (threshold 2048 bytes, ratio
// gate 0.9), optionally memoizes the prepared result in responseCache, and
// sends the body as 8 KiB chunks, matching response.py's
// send_json_response/_send_response exactly.
func (d *Dispatcher) sendBytes(ctx *Context, status int, headers http.Header, body []byte, cacheKey string) error {
	if len(body) > compressionThreshold {
		if compressed, ok := tryCompress(body); ok {
			body = compressed
			if headers == nil {
				headers = http.Header{}
			}
			headers.Set("Content-Encoding", "gzip")
		}
	}
	if headers == nil {
		headers = http.Header{}
	}
	headers.Set("Content-Length", strconv.Itoa(len(body)))

	if cacheKey != "" && d.responseCache != nil {
		d.responseCache.Set(cacheKey, cachedResponse{
			status:  status,
			headers: cloneHeader(headers),
			body:    append([]byte(nil), body...),
		}, 0)
	}

	return d.writeChunked(ctx, status, headers, body)
}

// writeChunked writes status/headers and the body in 8 KiB chunks,
// flushing after each, matching response.py's _send_response. Shared by
// the normal send path and by a responseCache hit, which already has
// fully-prepared bytes and skips straight here.
func (d *Dispatcher) writeChunked(ctx *Context, status int, headers http.Header, body []byte) error {
	for k, vs := range headers {
		for _, v := range vs {
			ctx.Writer.Header().Add(k, v)
		}
	}
	ctx.Writer.WriteHeader(status)

	for i := 0; i < len(body); i += chunkSize {
		end := i + chunkSize
		if end > len(body) {
			end = len(body)
		}
		if _, err := ctx.Writer.Write(body[i:end]); err != nil {
			return err
		}
		if f, ok := ctx.Writer.(http.Flusher); ok {
			f.Flush()
		}
	}
	return nil
}

func tryCompress(body []byte) ([]byte, bool) {
	level := compressionLevelFor(len(body))
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, false
	}
	if _, err := zw.Write(body); err != nil {
		return nil, false
	}
	if err := zw.Close(); err != nil {
		return nil, false
	}
	compressed := buf.Bytes()
	if float64(len(compressed)) < float64(len(body))*minCompressionRatio {
		return compressed, true
	}
	return nil, false
}
