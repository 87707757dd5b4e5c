package api

import "github.com/mattjoyce/pipec/internal/cache"

// HashResponse is returned by POST /v1/pipelines/hash.
type HashResponse struct {
	Kind string `json:"kind"`
	// Hash is the compact pipeline hash, formatted as 0x%016X.
	Hash string `json:"hash"`
}

// BuildResponse is returned by POST /v1/pipelines/build.
type BuildResponse struct {
	BuildID  string `json:"build_id"`
	Kind     string `json:"kind"`
	Hash     string `json:"hash"`
	CacheHit bool   `json:"cache_hit"`
	Replaced bool   `json:"replaced"`
	// Binary is the pipeline ELF, base64 in JSON.
	Binary []byte `json:"binary"`
}

// BuildErrorResponse adds the failing stage and phase to an error.
type BuildErrorResponse struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
	Phase string `json:"phase,omitempty"`
}

// CacheStatsResponse is returned by GET /v1/cache/stats.
type CacheStatsResponse struct {
	cache.Stats
}

// ImportResponse is returned by POST /v1/cache/import.
type ImportResponse struct {
	Imported int `json:"imported"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	GfxIP         string `json:"gfx_ip"`
	CacheMode     string `json:"cache_mode"`
	CacheEntries  int    `json:"cache_entries"`
	Contexts      int    `json:"contexts"`
	BuildsRunning int    `json:"builds_running"`
}
