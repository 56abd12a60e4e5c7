package fantail

import (
	"net/http"
	"time"

	"github.com/onclave/fantail/dispatch"
)

var startTime = time.Now()

// registerBuiltinRoutes mounts /_metrics, /_traces, /_health and /_info
// under the configured prefix, and /docs and /api/docs/spec at those fixed
// paths, matching
// original_source/router/core.py's _register_builtin_routes.
func registerBuiltinRoutes(f *Framework) {
	prefix := f.cfg.API.BuiltinRoutePrefix
	if prefix == "" {
		prefix = "_"
	}

	if f.cfg.API.ExposeMetrics {
		_ = f.Get("/"+prefix+"metrics", func(ctx *dispatch.Context) (any, error) {
			ctx.Writer.Header().Set("Content-Type", "text/plain; version=0.0.4")
			return dispatch.RawResponse{Status: http.StatusOK, Body: renderPrometheus(f)}, nil
		}, "system")
	}

	if f.cfg.API.ExposeTraces {
		_ = f.Get("/"+prefix+"traces", func(ctx *dispatch.Context) (any, error) {
			traces := f.Tracer.Traces()
			out := make([]map[string]any, 0, len(traces))
			for _, tr := range traces {
				out = append(out, map[string]any{
					"trace_id":   tr.TraceID,
					"name":       tr.Name,
					"duration":   tr.Duration.Seconds(),
					"tags":       tr.Tags,
					"start_time": tr.Start.Unix(),
					"end_time":   tr.End.Unix(),
				})
			}
			return out, nil
		}, "system")
	}

	if f.cfg.API.ExposeHealth {
		_ = f.Get("/"+prefix+"health", func(ctx *dispatch.Context) (any, error) {
			return map[string]any{
				"status":    "healthy",
				"timestamp": time.Now().Unix(),
				"version":   f.cfg.API.Version,
				"uptime":    time.Since(startTime).Seconds(),
			}, nil
		}, "system")
	}

	if f.cfg.API.ExposeInfo {
		_ = f.Get("/"+prefix+"info", func(ctx *dispatch.Context) (any, error) {
			routes := f.Router.Routes()
			routeList := make([]map[string]any, 0, len(routes))
			for _, r := range routes {
				routeList = append(routeList, map[string]any{"pattern": r.Pattern, "methods": r.Methods, "tags": r.Tags})
			}
			return map[string]any{
				"routes":          routeList,
				"route_count":     len(routes),
				"breaker_state":   f.Breaker.State().String(),
				"cache_config":    f.cfg.Cache,
				"api_config":      f.cfg.API,
				"uptime":          time.Since(startTime).Seconds(),
				"task_queue":      f.Queue != nil,
			}, nil
		}, "system")
	}

	if f.cfg.API.EnableAPIDocs {
		_ = f.Get("/docs", func(ctx *dispatch.Context) (any, error) {
			html := []byte("<html><head><title>" + f.cfg.API.Title + "</title></head><body><h1>" + f.cfg.API.Title + " " + f.cfg.API.Version + "</h1></body></html>")
			return dispatch.RawResponse{Status: http.StatusOK, Headers: http.Header{"Content-Type": {"text/html; charset=utf-8"}}, Body: html}, nil
		}, "system")

		_ = f.Get("/api/docs/spec", func(ctx *dispatch.Context) (any, error) {
			routes := f.Router.Routes()
			paths := make(map[string]any, len(routes))
			for _, r := range routes {
				paths[r.Pattern] = map[string]any{"methods": r.Methods, "tags": r.Tags}
			}
			return map[string]any{
				"openapi": "3.0.0",
				"info":    map[string]any{"title": f.cfg.API.Title, "version": f.cfg.API.Version},
				"paths":   paths,
			}, nil
		}, "system")
	}
}
