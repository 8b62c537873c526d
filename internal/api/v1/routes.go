// Package v1 provides the manual trigger and status endpoints of the ingestion service.
package v1

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"

	"github.com/impactledger/impact-ingest/internal/ingest"
	"github.com/impactledger/impact-ingest/internal/telemetry"
	"github.com/impactledger/impact-ingest/internal/versions"
)

//go:generate mockgen -destination=mocks/mock_routes.go -package=mocks -source=routes.go Ingestor,ReadinessChecker

// maxBodyBytes bounds the JSON body of trigger requests
const maxBodyBytes = 64 << 10

// Ingestor is an interface for starting runs and reading their progress
type Ingestor interface {
	// Start admits req in the background
	Start(req ingest.Request) (ingest.Status, error)

	// Status returns the active or last run
	Status() ingest.Status
}

// ReadinessChecker is an interface for checking that dependencies are reachable
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// Routes holds the trigger handlers
type Routes struct {
	ingestor Ingestor
}

// Router creates the /v1/ingest router
func Router(ingestor Ingestor) http.Handler {
	routes := &Routes{ingestor: ingestor}

	r := chi.NewRouter()
	r.Post("/runs", routes.startRun)
	r.Post("/backfill/{months}", routes.startBackfill)
	r.Post("/entities/{code}", routes.startEntity)
	r.Get("/status", routes.getStatus)
	return r
}

// startRun handles POST /v1/ingest/runs
func (rr *Routes) startRun(w http.ResponseWriter, r *http.Request) {
	var req ingest.Request

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeErrorResponse(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	if len(body) > maxBodyBytes {
		writeErrorResponse(w, "Request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeErrorResponse(w, "Invalid JSON body: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	rr.start(w, r, req)
}

// startBackfill handles POST /v1/ingest/backfill/{months}
func (rr *Routes) startBackfill(w http.ResponseWriter, r *http.Request) {
	telemetry.LabelTrigger(r.Context(), string(ingest.KindBackfill))
	months, err := strconv.Atoi(chi.URLParam(r, "months"))
	if err != nil || months < 1 || months > ingest.MaxMonths {
		writeErrorResponse(w, fmt.Sprintf("months must be an integer between 1 and %d", ingest.MaxMonths), http.StatusBadRequest)
		return
	}

	rr.start(w, r, ingest.Request{Kind: ingest.KindBackfill, Months: months})
}

// startEntity handles POST /v1/ingest/entities/{code}?from=&to=
func (rr *Routes) startEntity(w http.ResponseWriter, r *http.Request) {
	telemetry.LabelTrigger(r.Context(), string(ingest.KindEntity))
	code, err := url.PathUnescape(chi.URLParam(r, "code"))
	if err != nil || strings.TrimSpace(code) == "" || strings.ContainsAny(code, " \t\n\r/") {
		writeErrorResponse(w, "entity code is invalid", http.StatusBadRequest)
		return
	}

	from, err := yearParam(r, "from")
	if err != nil {
		writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := yearParam(r, "to")
	if err != nil {
		writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	rr.start(w, r, ingest.Request{Kind: ingest.KindEntity, EntityCode: code, FromYear: from, ToYear: to})
}

// getStatus handles GET /v1/ingest/status
func (rr *Routes) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, rr.ingestor.Status(), http.StatusOK)
}

func (rr *Routes) start(w http.ResponseWriter, r *http.Request, req ingest.Request) {
	if kind, err := ingest.ParseKind(string(req.Kind)); err == nil {
		telemetry.LabelTrigger(r.Context(), string(kind))
	}

	st, err := rr.ingestor.Start(req)
	switch {
	case err == nil:
		slog.Info("Started ingestion run from API", "run_id", st.RunID, "kind", st.Kind)
		writeJSONResponse(w, st, http.StatusAccepted)
	case errors.Is(err, ingest.ErrAlreadyRunning):
		writeErrorResponse(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ingest.ErrInvalidRequest):
		writeErrorResponse(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ingest.ErrClosed):
		writeErrorResponse(w, err.Error(), http.StatusServiceUnavailable)
	default:
		slog.Error("Failed to start ingestion run", "error", err)
		writeErrorResponse(w, "Failed to start ingestion run", http.StatusInternalServerError)
	}
}

func yearParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	year, err := strconv.Atoi(raw)
	if err != nil || year < ingest.MinYear || year > ingest.MaxYear {
		return 0, fmt.Errorf("%s must be a four-digit year", name)
	}
	return year, nil
}

// HealthRouter creates a router for health check endpoints
func HealthRouter(checker ReadinessChecker) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", healthHandler)
	r.Get("/readiness", readinessHandler(checker))
	r.Get("/version", versionHandler)

	return r
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, map[string]string{"status": "healthy"}, http.StatusOK)
}

func readinessHandler(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			if err := checker.CheckReadiness(r.Context()); err != nil {
				writeErrorResponse(w, "Service not ready: "+err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		writeJSONResponse(w, map[string]string{"status": "ready"}, http.StatusOK)
	}
}

func versionHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, versions.GetVersionInfo(), http.StatusOK)
}

func writeJSONResponse(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

func writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	writeJSONResponse(w, ErrorResponse{Error: message}, statusCode)
}
