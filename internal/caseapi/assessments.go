package caseapi

import (
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/wardwatch/internal/urgency"
)

type submitRequest struct {
	SubjectID string          `json:"subject_id"`
	Payload   json.RawMessage `json:"payload"`
}

func (a *API) handleSubmitAssessment(w http.ResponseWriter, r *http.Request) {
	domain := urgency.Domain(chi.URLParam(r, "domain"))

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid payload"})
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("wardwatch.domain", string(domain)),
		attribute.String("wardwatch.subject.id", req.SubjectID),
	)

	res, err := a.svc.SubmitAssessment(r.Context(), domain, req.SubjectID, req.Payload)
	if err != nil {
		a.writeError(w, r, err, "failed to submit assessment")
		return
	}

	writeJSON(w, http.StatusAccepted, res)
}
