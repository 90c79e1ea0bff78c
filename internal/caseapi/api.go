// Package caseapi exposes the triage service over HTTP.
package caseapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/wardwatch/internal/triage"
	"github.com/linnemanlabs/wardwatch/internal/urgency"
)

// TriageService defines the business operations caseapi needs.
type TriageService interface {
	SubmitAssessment(ctx context.Context, domain urgency.Domain, subjectID string, raw json.RawMessage) (*triage.SubmitResult, error)
	PriorityList(ctx context.Context, domain urgency.Domain) ([]triage.PriorityItem, error)
	GetCase(ctx context.Context, id string) (*triage.Case, error)
	AcknowledgeCase(ctx context.Context, id, ackBy string) (*triage.Case, error)
	CompositeRisk(ctx context.Context, subjectID string) (*triage.Profile, error)
	Discharge(ctx context.Context, subjectID string) (int, error)
	Stats(ctx context.Context) (*triage.StatsSnapshot, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    TriageService
}

// New creates a new API handler.
func New(logger log.Logger, svc TriageService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("triage service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router. Extra middleware, such
// as bearer auth, wraps only the /api/v1 group.
func (a *API) RegisterRoutes(r chi.Router, mw ...func(http.Handler) http.Handler) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw...)

		r.Post("/assessments/{domain}", a.handleSubmitAssessment)
		r.Get("/priority", a.handlePriority)
		r.Get("/cases/{id}", a.handleGetCase)
		r.Post("/cases/{id}/ack", a.handleAcknowledge)
		r.Get("/subjects/{id}/risk", a.handleRisk)
		r.Post("/subjects/{id}/discharge", a.handleDischarge)
		r.Get("/stats", a.handleStats)
	})
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here, the client went away
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps service errors onto status codes. Unexpected errors are
// logged and hidden behind a generic 500.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	span := trace.SpanFromContext(r.Context())

	var verr *urgency.ValidationError
	var cerr *urgency.ConfigurationError
	switch {
	case errors.As(err, &verr):
		span.SetAttributes(attribute.String("wardwatch.error.field", verr.Field))
		writeJSON(w, http.StatusBadRequest, errorBody{Error: verr.Error(), Field: verr.Field})
	case errors.As(err, &cerr):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: cerr.Error()})
	case errors.Is(err, triage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	default:
		a.logger.Error(r.Context(), err, msg)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}
