package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/recall/internal/resilience"
	"github.com/lazypower/recall/internal/search"
	"github.com/lazypower/recall/internal/store"
)

func (s *Server) routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/search", s.handleSearch)
		r.Get("/stats", s.handleStats)
		r.Route("/lifecycle", func(r chi.Router) {
			r.Get("/analyze", s.handleLifecycleAnalyze)
			r.Post("/apply", s.handleLifecycleApply)
		})
		r.Post("/maintenance/trigger", s.handleMaintenanceTrigger)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	version, err := s.db.SchemaVersion()
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("schema version: %v", err))
		return
	}
	working, shortTerm, longTerm, err := s.db.TierCounts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("tier counts: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"schema_version": version,
		"level":          s.res.Degradation().Level().String(),
		"tiers": map[string]int{
			"working":    working,
			"short_term": shortTerm,
			"long_term":  longTerm,
		},
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		// Malformed input is rejected before any admission bookkeeping.
		writeError(w, http.StatusBadRequest, "empty query")
		return
	}

	decision := s.res.CheckAdmission("search")
	if !decision.Allowed {
		if decision.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())+1))
		}
		writeError(w, http.StatusTooManyRequests, decision.Reason)
		return
	}
	s.res.RecordCall("search")

	opts := search.Options{
		Mode: search.Mode(r.URL.Query().Get("mode")),
		Filter: store.Filter{
			Source:        r.URL.Query().Get("source"),
			Type:          r.URL.Query().Get("type"),
			Project:       r.URL.Query().Get("project"),
			IncludeGlobal: r.URL.Query().Get("include_global") == "true",
		},
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = limit
	}

	var results []search.FusedResult
	_, err := s.res.Execute(r.Context(), "store", resilience.ExecuteOptions{
		Capability: resilience.CapSearch,
		Retryable: func(err error) bool {
			return !errors.Is(err, search.ErrEmptyQuery)
		},
	}, func(ctx context.Context) error {
		var err error
		results, err = s.engine.Search(ctx, query, opts)
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, search.ErrEmptyQuery):
			writeError(w, http.StatusBadRequest, "empty query")
		case resilience.IsAdmissionError(err):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			log.Printf("server: search: %v", err)
			writeError(w, http.StatusInternalServerError, "search failed")
		}
		return
	}

	if results == nil {
		results = []search.FusedResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"count":   len(results),
		"results": results,
	})
}

func (s *Server) handleLifecycleAnalyze(w http.ResponseWriter, r *http.Request) {
	report, err := s.manager.Analyze(r.Context())
	if err != nil {
		log.Printf("server: lifecycle analyze: %v", err)
		writeError(w, http.StatusInternalServerError, "analyze failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleLifecycleApply(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DryRun bool `json:"dry_run"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if r.URL.Query().Get("dry_run") == "true" {
		body.DryRun = true
	}

	if !s.res.Degradation().Allowed(resilience.CapMaintenance) {
		writeError(w, http.StatusServiceUnavailable, "maintenance disabled at current degradation level")
		return
	}

	report, err := s.manager.Apply(r.Context(), body.DryRun)
	if err != nil {
		log.Printf("server: lifecycle apply: %v", err)
		writeError(w, http.StatusInternalServerError, "apply failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleMaintenanceTrigger(w http.ResponseWriter, r *http.Request) {
	task := r.URL.Query().Get("task")
	if task == "" {
		task = "promotion"
	}

	out := map[string]any{"task": task}
	switch task {
	case "promotion":
		report, err := s.scheduler.TriggerPromotion(r.Context())
		if err != nil {
			s.writeTriggerError(w, err)
			return
		}
		out["report"] = report
	case "decay":
		report, err := s.scheduler.TriggerDecay(r.Context())
		if err != nil {
			s.writeTriggerError(w, err)
			return
		}
		out["report"] = report
	default:
		writeError(w, http.StatusBadRequest, "unknown task: "+task)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeTriggerError(w http.ResponseWriter, err error) {
	if resilience.IsAdmissionError(err) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	log.Printf("server: maintenance trigger: %v", err)
	writeError(w, http.StatusInternalServerError, "maintenance pass failed")
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"search":     s.engine.Stats(),
		"resilience": s.res.Stats(),
		"scheduler":  s.scheduler.Stats(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
