package caseapi

import (
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/wardwatch/internal/urgency"
)

func (a *API) handlePriority(w http.ResponseWriter, r *http.Request) {
	domain := urgency.Domain(r.URL.Query().Get("domain"))

	items, err := a.svc.PriorityList(r.Context(), domain)
	if err != nil {
		a.writeError(w, r, err, "failed to list priority")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"domain": domain,
		"cases":  items,
	})
}

func (a *API) handleGetCase(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("wardwatch.case.id", id))

	c, err := a.svc.GetCase(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err, "failed to get case")
		return
	}

	span.SetAttributes(attribute.String("wardwatch.case.status", string(c.Status)))

	writeJSON(w, http.StatusOK, c)
}

type ackRequest struct {
	AckBy string `json:"ack_by"`
}

func (a *API) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid payload"})
		return
	}

	c, err := a.svc.AcknowledgeCase(r.Context(), id, req.AckBy)
	if err != nil {
		a.writeError(w, r, err, "failed to acknowledge case")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"case_status": c.Status,
	})
}
