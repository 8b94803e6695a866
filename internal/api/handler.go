package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/checks"
	"github.com/opensource-finance/kestrel/internal/csvio"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/journal"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/report"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// cacheTTL bounds how long rendered record and summary responses are served
// from cache. Keys are run-scoped, so a new run never sees stale entries.
const cacheTTL = 5 * time.Minute

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	engine    *checks.Engine
	runner    *pipeline.Runner
	threshold float64
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *checks.Engine, runner *pipeline.Runner, threshold float64, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		engine:    engine,
		runner:    runner,
		threshold: threshold,
		version:   version,
	}
}

// RunRequestBody is the request body for POST /runs.
type RunRequestBody struct {
	// Async queues the run on the event bus instead of executing inline.
	Async       bool   `json:"async,omitempty"`
	RequestedBy string `json:"requestedBy,omitempty"`
}

// TriggerRun handles POST /runs. An inline run blocks until the pipeline
// completes; an async run is queued for the worker and returns 202.
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RunRequestBody
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
	}

	if req.Async {
		if h.bus == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "event bus not available",
			})
			return
		}
		payload, _ := json.Marshal(worker.RunRequest{
			RequestedBy: req.RequestedBy,
			TraceID:     GetTraceID(ctx),
		})
		if err := h.bus.Publish(ctx, domain.TopicRunRequested, payload); err != nil {
			slog.Error("failed to queue run request", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to queue run request",
			})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"message": "run queued",
		})
		return
	}

	if h.runner == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "pipeline runner not available",
		})
		return
	}

	res, err := h.runner.Run(ctx)
	if err != nil {
		slog.Error("pipeline run failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "pipeline run failed: " + err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run":            res.Run,
		"journalEntries": len(res.Journal),
		"findings":       res.Findings,
	})
}

// ListRuns handles GET /runs.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a non-negative integer",
			})
			return
		}
		limit = n
	}

	runs, err := h.repo.ListRuns(r.Context(), limit)
	if err != nil {
		slog.Error("failed to list runs", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list runs",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun handles GET /runs/{id}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if runID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "run id is required",
		})
		return
	}
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	run, err := h.repo.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "run not found",
			})
			return
		}
		slog.Error("failed to get run", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get run",
		})
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// ListRecords handles GET /records/{source}. Results come from the latest
// completed run unless runId is given, filtered by minScore and vendor.
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	source, ok := parseSource(chi.URLParam(r, "source"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "source must be one of: ap, bank, tax, lease",
		})
		return
	}
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	runID, err := h.resolveRunID(r)
	if err != nil {
		h.writeRunResolveError(w, err)
		return
	}

	var minScore float64
	if v := r.URL.Query().Get("minScore"); v != "" {
		minScore, err = strconv.ParseFloat(v, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "minScore must be a number",
			})
			return
		}
	}
	vendors := r.URL.Query()["vendor"]

	cacheKey := fmt.Sprintf("records:%s:%s:%g:%s", runID, source, minScore, strings.Join(vendors, ","))
	if h.serveCached(ctx, w, cacheKey) {
		return
	}

	rows, err := h.repo.ListScoredRows(ctx, runID, source, domain.RecordFilter{
		MinScore: minScore,
		Vendors:  vendors,
	})
	if err != nil {
		slog.Error("failed to list records", "run_id", runID, "source", source, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list records",
		})
		return
	}

	h.writeAndCache(ctx, w, cacheKey, map[string]any{
		"runId":   runID,
		"source":  source,
		"count":   len(rows),
		"records": rows,
	})
}

// GetSummary handles GET /summary: the close-health report for one run.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	runID, err := h.resolveRunID(r)
	if err != nil {
		h.writeRunResolveError(w, err)
		return
	}

	threshold, vendors, err := h.reviewParams(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	cacheKey := fmt.Sprintf("summary:%s:%g:%s", runID, threshold, strings.Join(vendors, ","))
	if h.serveCached(ctx, w, cacheKey) {
		return
	}

	res, err := h.loadRunResult(ctx, runID)
	if err != nil {
		slog.Error("failed to load run result", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load run result",
		})
		return
	}

	h.writeAndCache(ctx, w, cacheKey, map[string]any{
		"runId":   runID,
		"summary": report.Build(res, threshold, vendors),
	})
}

// ListJournal handles GET /journal. Without parameters it serves the
// entries persisted with the run; a threshold or vendor override
// resynthesizes entries from the stored records.
func (h *Handler) ListJournal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	runID, err := h.resolveRunID(r)
	if err != nil {
		h.writeRunResolveError(w, err)
		return
	}

	entries, err := h.journalEntries(ctx, runID, r)
	if err != nil {
		if errors.Is(err, errBadParam) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "threshold must be a number"})
			return
		}
		slog.Error("failed to build journal", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to build journal",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runId":   runID,
		"count":   len(entries),
		"entries": entries,
	})
}

// ExportJournal handles GET /journal/export: the entries as a CSV download.
func (h *Handler) ExportJournal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	runID, err := h.resolveRunID(r)
	if err != nil {
		h.writeRunResolveError(w, err)
		return
	}

	entries, err := h.journalEntries(ctx, runID, r)
	if err != nil {
		if errors.Is(err, errBadParam) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "threshold must be a number"})
			return
		}
		slog.Error("failed to build journal export", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to build journal export",
		})
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+csvio.JournalOutputFile+`"`)
	if err := csvio.WriteJournal(w, entries); err != nil {
		slog.Error("failed to write journal csv", "run_id", runID, "error", err)
	}
}

var errBadParam = errors.New("bad parameter")

// journalEntries returns stored entries, or resynthesized ones when the
// request overrides the review threshold or vendor set.
func (h *Handler) journalEntries(ctx context.Context, runID string, r *http.Request) ([]domain.JournalEntry, error) {
	q := r.URL.Query()
	if q.Get("threshold") == "" && len(q["vendor"]) == 0 {
		return h.repo.ListJournalEntries(ctx, runID)
	}

	threshold, vendors, err := h.reviewParams(r)
	if err != nil {
		return nil, errBadParam
	}

	res, err := h.loadRunResult(ctx, runID)
	if err != nil {
		return nil, err
	}
	return journal.Synthesize(res, threshold, vendors), nil
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListChecks returns all loaded checks from the engine.
// Checks are loaded from the database at startup and can be reloaded via POST /checks/reload.
func (h *Handler) ListChecks(w http.ResponseWriter, r *http.Request) {
	loaded := h.engine.LoadedChecks()

	writeJSON(w, http.StatusOK, map[string]any{
		"checks": loaded,
		"count":  len(loaded),
		"source": "database",
	})
}

// GetCheck retrieves a check by ID.
func (h *Handler) GetCheck(w http.ResponseWriter, r *http.Request) {
	checkID := chi.URLParam(r, "id")
	if checkID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "check id is required",
		})
		return
	}
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	cfg, err := h.repo.GetCheckConfig(r.Context(), checkID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "check not found",
			})
			return
		}
		slog.Error("failed to get check", "id", checkID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get check",
		})
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}

// CreateCheckRequest is the request body for creating a check.
type CreateCheckRequest struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Source      domain.Source `json:"source"`
	Expression  string        `json:"expression"`
	Severity    string        `json:"severity"`
	Enabled     bool          `json:"enabled"`
}

// CreateCheck creates a new check and saves it to the database.
// After saving, call POST /checks/reload to hot-reload into the engine.
func (h *Handler) CreateCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	cfg, ok := h.validateCheckRequest(w, &req)
	if !ok {
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveCheckConfig(ctx, cfg); err != nil {
			slog.Error("failed to save check config", "id", cfg.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save check",
			})
			return
		}
	}

	slog.Info("check created", "id", cfg.ID, "name", cfg.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"check":   cfg,
		"message": "Check created. Call POST /checks/reload to apply changes.",
	})
}

// UpdateCheck updates an existing check.
func (h *Handler) UpdateCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checkID := chi.URLParam(r, "id")

	if checkID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "check id is required",
		})
		return
	}

	var req CreateCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	req.ID = checkID

	cfg, ok := h.validateCheckRequest(w, &req)
	if !ok {
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveCheckConfig(ctx, cfg); err != nil {
			slog.Error("failed to update check", "id", checkID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to update check",
			})
			return
		}
	}

	slog.Info("check updated", "id", checkID)
	writeJSON(w, http.StatusOK, map[string]any{
		"check":   cfg,
		"message": "Check updated. Call POST /checks/reload to apply changes.",
	})
}

// DeleteCheck deletes a check and auto-reloads the engine.
func (h *Handler) DeleteCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checkID := chi.URLParam(r, "id")

	if checkID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "check id is required",
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.DeleteCheckConfig(ctx, checkID); err != nil {
			slog.Error("failed to delete check", "id", checkID, "error", err)
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "check not found",
			})
			return
		}

		// Auto-reload the engine after delete
		if h.engine != nil {
			configs, err := h.repo.ListCheckConfigs(ctx)
			if err != nil {
				slog.Error("failed to reload checks after delete", "error", err)
			} else if err := h.engine.ReloadChecks(configs); err != nil {
				slog.Error("failed to reload checks after delete", "error", err)
			} else {
				slog.Info("checks auto-reloaded after delete", "count", len(configs))
			}
		}
	}

	slog.Info("check deleted", "id", checkID)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Check deleted and engine reloaded.",
	})
}

// ReloadChecks reloads all checks from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadChecks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	configs, err := h.repo.ListCheckConfigs(ctx)
	if err != nil {
		slog.Error("failed to list checks from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load checks from database",
		})
		return
	}

	if err := h.engine.ReloadChecks(configs); err != nil {
		slog.Error("failed to reload checks into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload checks: " + err.Error(),
		})
		return
	}

	slog.Info("checks reloaded from database", "count", len(configs))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "checks reloaded successfully",
		"count":   len(configs),
	})
}

// validateCheckRequest validates the request and compiles the expression,
// writing the error response itself on failure.
func (h *Handler) validateCheckRequest(w http.ResponseWriter, req *CreateCheckRequest) (*domain.CheckConfig, bool) {
	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return nil, false
	}
	if _, ok := parseSource(string(req.Source)); !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "source must be one of: AP, Bank, Tax, Lease",
		})
		return nil, false
	}

	severity := req.Severity
	if severity == "" {
		severity = domain.SeverityReview
	}

	cfg := &domain.CheckConfig{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Source:      req.Source,
		Expression:  req.Expression,
		Severity:    severity,
		Enabled:     req.Enabled,
	}

	if err := h.engine.ValidateCheck(cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return nil, false
	}
	return cfg, true
}

// parseSource normalizes a source name from a path segment or request body.
func parseSource(s string) (domain.Source, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ap":
		return domain.SourceAP, true
	case "bank":
		return domain.SourceBank, true
	case "tax":
		return domain.SourceTax, true
	case "lease":
		return domain.SourceLease, true
	}
	return "", false
}

// errNoRuns distinguishes "nothing has run yet" from a lookup failure.
var errNoRuns = errors.New("no completed runs")

// resolveRunID returns the runId query parameter, falling back to the
// latest completed run.
func (h *Handler) resolveRunID(r *http.Request) (string, error) {
	if runID := r.URL.Query().Get("runId"); runID != "" {
		return runID, nil
	}
	run, err := h.repo.LatestRun(r.Context())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", errNoRuns
		}
		return "", err
	}
	return run.ID, nil
}

func (h *Handler) writeRunResolveError(w http.ResponseWriter, err error) {
	if errors.Is(err, errNoRuns) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no completed runs",
		})
		return
	}
	slog.Error("failed to resolve run", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error": "failed to resolve run",
	})
}

// reviewParams parses the threshold and vendor query parameters, defaulting
// the threshold to the configured review threshold.
func (h *Handler) reviewParams(r *http.Request) (float64, []string, error) {
	threshold := h.threshold
	if v := r.URL.Query().Get("threshold"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, nil, fmt.Errorf("threshold must be a number")
		}
		threshold = t
	}
	return threshold, r.URL.Query()["vendor"], nil
}

// loadRunResult reconstructs a run's scored tables from the persisted rows.
func (h *Handler) loadRunResult(ctx context.Context, runID string) (*domain.RunResult, error) {
	run, err := h.repo.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	res := &domain.RunResult{Run: *run}
	for _, source := range domain.Sources() {
		rows, err := h.repo.ListScoredRows(ctx, runID, source, domain.RecordFilter{})
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			switch source {
			case domain.SourceAP:
				var rec domain.APRecord
				if err := json.Unmarshal(row.Payload, &rec); err != nil {
					return nil, fmt.Errorf("decode ap record %s: %w", row.RefID, err)
				}
				res.AP = append(res.AP, rec)
			case domain.SourceBank:
				var rec domain.BankRecord
				if err := json.Unmarshal(row.Payload, &rec); err != nil {
					return nil, fmt.Errorf("decode bank record %s: %w", row.RefID, err)
				}
				res.Bank = append(res.Bank, rec)
			case domain.SourceTax:
				var rec domain.TaxRecord
				if err := json.Unmarshal(row.Payload, &rec); err != nil {
					return nil, fmt.Errorf("decode tax record %s: %w", row.RefID, err)
				}
				res.Tax = append(res.Tax, rec)
			case domain.SourceLease:
				var rec domain.LeaseRecord
				if err := json.Unmarshal(row.Payload, &rec); err != nil {
					return nil, fmt.Errorf("decode lease record %s: %w", row.RefID, err)
				}
				res.Lease = append(res.Lease, rec)
			}
		}
	}
	return res, nil
}

// serveCached writes a cached response body when present.
func (h *Handler) serveCached(ctx context.Context, w http.ResponseWriter, key string) bool {
	if h.cache == nil {
		return false
	}
	body, err := h.cache.Get(ctx, key)
	if err != nil || body == nil {
		return false
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", "hit")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
	return true
}

// writeAndCache renders the response and stores the body for later hits.
func (h *Handler) writeAndCache(ctx context.Context, w http.ResponseWriter, key string, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to encode response",
		})
		return
	}
	if h.cache != nil {
		if err := h.cache.Set(ctx, key, body, cacheTTL); err != nil {
			slog.Warn("failed to cache response", "key", key, "error", err)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
