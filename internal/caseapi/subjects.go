package caseapi

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
)

func (a *API) handleRisk(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "id")

	p, err := a.svc.CompositeRisk(r.Context(), subjectID)
	if err != nil {
		a.writeError(w, r, err, "failed to get composite risk")
		return
	}

	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleDischarge(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("wardwatch.subject.id", subjectID))

	n, err := a.svc.Discharge(r.Context(), subjectID)
	if err != nil {
		a.writeError(w, r, err, "failed to discharge subject")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"resolved": n})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	s, err := a.svc.Stats(r.Context())
	if err != nil {
		a.writeError(w, r, err, "failed to compute stats")
		return
	}

	writeJSON(w, http.StatusOK, s)
}
