package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/soundguard-ai/soundguard/internal/apperr"
	"github.com/soundguard-ai/soundguard/internal/model"
	"github.com/soundguard-ai/soundguard/internal/storage"
	"github.com/soundguard-ai/soundguard/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}
	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": overall, "checks": checks})
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	filter := store.AssetFilter{}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, apperr.Validation("list", "invalid limit %q", v))
			return
		}
		filter.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, apperr.Validation("list", "invalid offset %q", v))
			return
		}
		filter.Offset = n
	}

	assets, err := s.orch.ListAssets(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]model.AssetSummary, 0, len(assets))
	for i := range assets {
		out = append(out, s.orch.Summarize(&assets[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "assets": out})
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	a, err := s.orch.GetAsset(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"asset":   s.orch.Summarize(a),
		"results": a.Results,
	})
}

func (s *Server) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.orch.DeleteAsset(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": id})
}

func (s *Server) handleRunModule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name := chi.URLParam(r, "module")

	var opts model.EnhanceOptions
	if r.Body != nil {
		err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&opts)
		if err != nil && !errors.Is(err, io.EOF) {
			writeError(w, r, apperr.Validation("run", "invalid request body: %v", err))
			return
		}
	}

	if name == "all" {
		outcomes, err := s.orch.RunAll(r.Context(), id, opts)
		if err != nil {
			writeError(w, r, err)
			return
		}
		results := make([]map[string]any, 0, len(outcomes))
		for _, o := range outcomes {
			entry := map[string]any{"module": o.Module, "success": o.Err == nil}
			if o.Err != nil {
				entry["error"] = errorBody{Kind: apperr.KindOf(o.Err), Message: apperr.Message(o.Err), Retryable: apperr.Retryable(o.Err)}
			} else {
				entry["result"] = o.Result
			}
			results = append(results, entry)
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": id, "modules": results})
		return
	}

	module, ok := model.ParseModule(name)
	if !ok {
		writeError(w, r, apperr.NotFound("run", "module "+strconv.Quote(name)))
		return
	}
	res, err := s.orch.Run(r.Context(), id, module, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "module": module, "result": res})
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	key, err := storage.CleanKey(chi.URLParam(r, "*"))
	if err != nil {
		writeError(w, r, apperr.NotFound("file", "file"))
		return
	}
	rc, err := s.orch.OpenFile(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close() //nolint:errcheck

	w.Header().Set("Content-Type", storage.ContentType(key))
	w.Header().Set("Content-Disposition", "inline; filename="+strconv.Quote(key[strings.LastIndex(key, "/")+1:]))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		zap.L().Debug("server: stream file", zap.String("key", key), zap.Error(err))
	}
}
