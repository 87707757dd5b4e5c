package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/mattjoyce/pipec/internal/cache"
	"github.com/mattjoyce/pipec/internal/checksum"
	"github.com/mattjoyce/pipec/internal/compiler"
	"github.com/mattjoyce/pipec/internal/events"
	"github.com/mattjoyce/pipec/internal/pipefile"
	"github.com/mattjoyce/pipec/internal/pipeline"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	stats := s.compiler.Cache().Stats()
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		GfxIP:         s.compiler.GfxIP().String(),
		CacheMode:     stats.Mode.String(),
		CacheEntries:  stats.Entries,
		Contexts:      s.compiler.PoolSize(),
		BuildsRunning: len(s.buildSemaphore),
	})
}

// handleOpenAPI handles GET /openapi.json (no auth).
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc())
}

// decodeSpec reads a JSON pipeline description from the request body.
func (s *Server) decodeSpec(w http.ResponseWriter, r *http.Request) (*pipefile.Spec, string, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, "", false
		}
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, "", false
	}
	spec, err := pipefile.ParseJSON(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return nil, "", false
	}
	kind, err := spec.ResolvedKind()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return nil, "", false
	}
	return spec, kind, true
}

// handleHash handles POST /v1/pipelines/hash.
func (s *Server) handleHash(w http.ResponseWriter, r *http.Request) {
	spec, kind, ok := s.decodeSpec(w, r)
	if !ok {
		return
	}

	var hash uint64
	var err error
	switch kind {
	case pipefile.KindCompute:
		var info *pipeline.ComputePipelineBuildInfo
		if info, err = spec.Compute(s.compiler); err == nil {
			hash, err = s.compiler.ComputePipelineHash(info)
		}
	default:
		var info *pipeline.GraphicsPipelineBuildInfo
		if info, err = spec.Graphics(s.compiler); err == nil {
			hash, err = s.compiler.GraphicsPipelineHash(info)
		}
	}
	if err != nil {
		s.writeBuildError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, HashResponse{Kind: kind, Hash: checksum.FormatCompact(hash)})
}

// handleBuild handles POST /v1/pipelines/build.
func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	select {
	case s.buildSemaphore <- struct{}{}:
		defer func() { <-s.buildSemaphore }()
	default:
		s.logger.Warn("too many concurrent builds", "limit", cap(s.buildSemaphore))
		s.writeError(w, http.StatusServiceUnavailable, "too many concurrent builds, please try again later")
		return
	}

	spec, kind, ok := s.decodeSpec(w, r)
	if !ok {
		return
	}

	started := time.Now()
	var out *compiler.BuildOutput
	var err error
	switch kind {
	case pipefile.KindCompute:
		var info *pipeline.ComputePipelineBuildInfo
		if info, err = spec.Compute(s.compiler); err == nil {
			out, err = s.compiler.BuildComputePipeline(r.Context(), info)
		}
	default:
		var info *pipeline.GraphicsPipelineBuildInfo
		if info, err = spec.Graphics(s.compiler); err == nil {
			out, err = s.compiler.BuildGraphicsPipeline(r.Context(), info)
		}
	}
	ev := events.BuildData{Kind: kind, DurationMS: time.Since(started).Milliseconds()}
	if err != nil {
		ev.Error = err.Error()
		var se *pipeline.StageError
		if errors.As(err, &se) {
			ev.Stage = se.Stage.Abbrev()
		}
		s.events.Publish(events.BuildFailed, ev)
		s.writeBuildError(w, err)
		return
	}
	ev.BuildID = out.BuildID
	ev.Hash = checksum.FormatCompact(out.Hash)
	ev.CacheHit = out.CacheHit
	ev.Replaced = out.Replaced
	s.events.Publish(events.BuildFinished, ev)

	respondJSON(w, http.StatusOK, BuildResponse{
		BuildID:  out.BuildID,
		Kind:     kind,
		Hash:     checksum.FormatCompact(out.Hash),
		CacheHit: out.CacheHit,
		Replaced: out.Replaced,
		Binary:   out.Binary,
	})
}

// handleCacheStats handles GET /v1/cache/stats.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, CacheStatsResponse{Stats: s.compiler.Cache().Stats()})
}

// handleCacheExport handles GET /v1/cache/export. The body is the binary
// cache blob accepted by import.
func (s *Server) handleCacheExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="pipec-cache.bin"`)
	if err := s.compiler.Cache().Serialize(r.Context(), w); err != nil {
		// Headers are gone once the blob streams; the log is all we have.
		s.logger.Error("cache export failed", "error", err)
	}
}

// handleCacheImport handles POST /v1/cache/import.
func (s *Server) handleCacheImport(w http.ResponseWriter, r *http.Request) {
	n, err := s.compiler.Cache().Deserialize(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	if err != nil {
		s.logger.Warn("cache import rejected", "error", err, "imported", n)
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.compiler.Cache().Persist(r.Context()); err != nil {
		s.logger.Error("cache import not persisted", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to persist imported entries")
		return
	}
	s.logger.Info("cache imported", "entries", n)
	s.events.Publish(events.CacheImported, ImportResponse{Imported: n})
	respondJSON(w, http.StatusOK, ImportResponse{Imported: n})
}

// handleCacheClear handles DELETE /v1/cache.
func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if err := s.compiler.Cache().Clear(r.Context()); err != nil {
		s.logger.Error("cache clear failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to clear cache")
		return
	}
	s.events.Publish(events.CacheCleared, nil)
	w.WriteHeader(http.StatusNoContent)
}

// writeBuildError maps compiler errors to HTTP statuses.
func (s *Server) writeBuildError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pipeline.ErrInvalidShader), errors.Is(err, pipeline.ErrInvalidValue),
		errors.Is(err, pipeline.ErrOverlappingNodes), errors.Is(err, pipeline.ErrMismatchedNodes):
		status = http.StatusBadRequest
	case errors.Is(err, pipeline.ErrUnsupported):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, cache.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("pipeline build failed", "error", err)
	}

	resp := BuildErrorResponse{Error: err.Error()}
	var se *pipeline.StageError
	if errors.As(err, &se) {
		resp.Stage = se.Stage.Abbrev()
		resp.Phase = string(se.Phase)
	}
	respondJSON(w, status, resp)
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
