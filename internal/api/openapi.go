package api

import "github.com/mattjoyce/pipec/internal/auth"

type route struct {
	method  string
	path    string
	id      string
	summary string
	scope   string
	body    string
	ok      string
}

var routes = []route{
	{"post", "/v1/pipelines/hash", "hashPipeline", "Compute the cache key of a pipeline", auth.ScopePipelineHash, "application/json", "Pipeline hash"},
	{"post", "/v1/pipelines/build", "buildPipeline", "Build a pipeline, serving it from the cache when possible", auth.ScopeBuild, "application/json", "Pipeline binary"},
	{"get", "/v1/cache/stats", "cacheStats", "Cache counters", auth.ScopeCacheRead, "", "Cache statistics"},
	{"get", "/v1/cache/export", "exportCache", "Download the cache as a binary blob", auth.ScopeCacheRead, "", "Cache blob"},
	{"post", "/v1/cache/import", "importCache", "Load entries from a cache blob", auth.ScopeCacheWrite, "application/octet-stream", "Entries imported"},
	{"delete", "/v1/cache", "clearCache", "Drop every cache entry", auth.ScopeCacheWrite, "", "Cleared"},
	{"get", "/v1/events", "streamEvents", "Server-sent stream of build and cache events", auth.ScopeEvents, "", "text/event-stream"},
	{"get", "/metrics", "metrics", "Prometheus metrics", auth.ScopeMetrics, "", "Metrics in text exposition format"},
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the API.
func buildOpenAPIDoc() map[string]any {
	paths := map[string]any{}
	for _, rt := range routes {
		item, _ := paths[rt.path].(map[string]any)
		if item == nil {
			item = map[string]any{}
			paths[rt.path] = item
		}
		item[rt.method] = buildOperation(rt)
	}

	paths["/healthz"] = map[string]any{
		"get": map[string]any{
			"operationId": "healthz",
			"summary":     "Liveness and compiler summary",
			"responses":   map[string]any{"200": map[string]any{"description": "OK"}},
		},
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "pipec",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

func buildOperation(rt route) map[string]any {
	responses := map[string]any{
		"200": map[string]any{"description": rt.ok},
		"401": map[string]any{"description": "Missing or invalid token"},
		"403": map[string]any{"description": "Insufficient scope"},
	}
	if rt.id == "buildPipeline" {
		responses["422"] = map[string]any{"description": "Feature unsupported on this hardware"}
		responses["503"] = map[string]any{"description": "Too many concurrent builds"}
	}

	op := map[string]any{
		"operationId":   rt.id,
		"summary":       rt.summary,
		"responses":     responses,
		"security":      []any{map[string]any{"BearerAuth": []string{}}},
		"x-pipec-scope": rt.scope,
	}
	if rt.body != "" {
		op["requestBody"] = map[string]any{
			"required": true,
			"content":  map[string]any{rt.body: map[string]any{}},
		}
	}
	return op
}
