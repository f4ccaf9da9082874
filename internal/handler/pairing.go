package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/omnidesk/console-server/internal/model"
	"github.com/omnidesk/console-server/internal/pairing"
)

type PairingService interface {
	StartPairing(ctx context.Context, tenantID, connectionID string) (pairing.Snapshot, error)
	Retry(ctx context.Context, tenantID, connectionID string) (pairing.Snapshot, error)
	Snapshot(ctx context.Context, tenantID, connectionID string) (pairing.Snapshot, error)
	Close(ctx context.Context, tenantID, connectionID string) error
	History(ctx context.Context, tenantID, connectionID string, limit int) ([]model.PairingAttempt, error)
	Authorize(ctx context.Context, tenantID, connectionID string) error
	CurrentSnapshot(connectionID string) (pairing.Snapshot, bool)
}

type PairingHandler struct {
	pairing PairingService
}

func NewPairingHandler(pairing PairingService) *PairingHandler {
	return &PairingHandler{pairing: pairing}
}

func (h *PairingHandler) Register(r chi.Router) {
	r.Post("/{id}/pairing", h.Start)
	r.Post("/{id}/pairing/retry", h.Retry)
	r.Get("/{id}/pairing", h.Get)
	r.Delete("/{id}/pairing", h.Close)
	r.Get("/{id}/pairing/attempts", h.History)
}

// POST /v1/connections/{id}/pairing
// Opens a fresh session; the QR code arrives later through the snapshot or
// the event stream.
func (h *PairingHandler) Start(w http.ResponseWriter, r *http.Request) {
	tenant := requireTenant(w, r)
	if tenant == nil {
		return
	}

	snap, err := h.pairing.StartPairing(r.Context(), tenant.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, snap)
}

// POST /v1/connections/{id}/pairing/retry
func (h *PairingHandler) Retry(w http.ResponseWriter, r *http.Request) {
	tenant := requireTenant(w, r)
	if tenant == nil {
		return
	}

	snap, err := h.pairing.Retry(r.Context(), tenant.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// GET /v1/connections/{id}/pairing
func (h *PairingHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenant := requireTenant(w, r)
	if tenant == nil {
		return
	}

	snap, err := h.pairing.Snapshot(r.Context(), tenant.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// DELETE /v1/connections/{id}/pairing
func (h *PairingHandler) Close(w http.ResponseWriter, r *http.Request) {
	tenant := requireTenant(w, r)
	if tenant == nil {
		return
	}

	if err := h.pairing.Close(r.Context(), tenant.ID, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GET /v1/connections/{id}/pairing/attempts
func (h *PairingHandler) History(w http.ResponseWriter, r *http.Request) {
	tenant := requireTenant(w, r)
	if tenant == nil {
		return
	}

	attempts, err := h.pairing.History(r.Context(), tenant.ID, chi.URLParam(r, "id"),
		parseLimit(r, DefaultHistoryLimit, MaxHistoryLimit))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": attempts})
}
