package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/punchamoorthee/agentcash/internal/domain"
	"github.com/punchamoorthee/agentcash/internal/models"
	"github.com/punchamoorthee/agentcash/internal/service"
)

const maxBodyBytes = 64 << 10

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := h.health(ctx); err != nil {
			respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) CreateRequestHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.SchemaVersion != service.CurrentSchemaVersion {
		respondWithError(w, http.StatusUnprocessableEntity, fmt.Sprintf("schema_version must be %d", service.CurrentSchemaVersion), "schema_version")
		return
	}

	created, err := h.svc.Create(r.Context(), service.CreateInput{
		Kind:              req.Kind,
		SchemaVersion:     req.SchemaVersion,
		Requester:         actorFrom(r),
		Counterparty:      req.Counterparty,
		Amount:            req.Amount,
		Message:           req.Message,
		OriginalReference: req.OriginalReference,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	view := created.Request.View()
	if created.Request.OriginalRequestID != nil {
		view.OriginalReference = req.OriginalReference
	}
	w.Header().Set("Location", "/api/v1/requests/"+created.Request.Reference)
	respondWithJSON(w, http.StatusCreated, models.CreatedResponse{Request: view, ConfirmationCode: created.Code})
}

// ListRequestsHandler lists the actor's own requests, or with
// role=counterparty the ones waiting for the actor's answer.
func (h *Handler) ListRequestsHandler(w http.ResponseWriter, r *http.Request) {
	var (
		views []domain.View
		err   error
	)
	switch role := r.URL.Query().Get("role"); role {
	case "", "requester":
		views, err = h.svc.ListFor(r.Context(), actorFrom(r))
	case "counterparty":
		views, err = h.svc.ListPendingFor(r.Context(), actorFrom(r))
	default:
		respondWithError(w, http.StatusBadRequest, "role must be requester or counterparty", "role")
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if views == nil {
		views = []domain.View{}
	}
	respondWithJSON(w, http.StatusOK, models.ListResponse{Requests: views})
}

func (h *Handler) GetRequestHandler(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.View(r.Context(), mux.Vars(r)["reference"], actorFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, view)
}

func (h *Handler) ApproveHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ApproveRequest
	if !h.decode(w, r, &req) {
		return
	}
	updated, err := h.svc.Approve(r.Context(), mux.Vars(r)["reference"], actorFrom(r), req.Code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, updated.View())
}

func (h *Handler) RejectHandler(w http.ResponseWriter, r *http.Request) {
	var req models.RejectRequest
	if !h.decode(w, r, &req) {
		return
	}
	updated, err := h.svc.Reject(r.Context(), mux.Vars(r)["reference"], actorFrom(r), req.Note)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, updated.View())
}

func (h *Handler) CancelHandler(w http.ResponseWriter, r *http.Request) {
	updated, err := h.svc.Cancel(r.Context(), mux.Vars(r)["reference"], actorFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, updated.View())
}

// decode reads a closed JSON body. An empty body decodes to the zero value.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body: "+err.Error(), "")
		return false
	}
	if dec.More() {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body: trailing data", "")
		return false
	}
	return true
}

// fail maps lifecycle errors onto HTTP statuses.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		respondWithError(w, http.StatusUnprocessableEntity, verr.Error(), verr.Field)
	case errors.Is(err, domain.ErrExpired):
		respondWithError(w, http.StatusGone, err.Error(), "")
	case errors.Is(err, domain.ErrConflict):
		respondWithError(w, http.StatusConflict, err.Error(), "")
	case errors.Is(err, domain.ErrInvalidCode):
		respondWithError(w, http.StatusForbidden, "Invalid confirmation code", "code")
	case errors.Is(err, domain.ErrForbidden):
		respondWithError(w, http.StatusForbidden, "Not allowed for this account", "")
	case errors.Is(err, domain.ErrNotFound):
		respondWithError(w, http.StatusNotFound, "Request not found", "")
	case errors.Is(err, domain.ErrLedgerFailure):
		h.logger.Warn("ledger failure surfaced", zap.String("request_id", requestIDFrom(r)), zap.Error(err))
		respondWithError(w, http.StatusBadGateway, "Ledger transfer failed, request is still pending", "")
	default:
		h.logger.Error("request failed", zap.String("request_id", requestIDFrom(r)),
			zap.String("path", r.URL.Path), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error", "")
	}
}

func respondWithError(w http.ResponseWriter, code int, message, field string) {
	respondWithJSON(w, code, models.ErrorResponse{Error: message, Field: field})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
