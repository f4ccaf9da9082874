package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/omnidesk/console-server/internal/audit"
	"github.com/omnidesk/console-server/internal/model"
	"github.com/omnidesk/console-server/internal/service"
)

type ConnectionService interface {
	Create(ctx context.Context, tenantID string, in service.CreateConnectionInput) (*model.Connection, error)
	List(ctx context.Context, tenantID string, limit, offset int) ([]model.Connection, int, error)
	Get(ctx context.Context, tenantID, id string) (*model.Connection, error)
	Disconnect(ctx context.Context, tenantID, id string) (*model.Connection, error)
	Delete(ctx context.Context, tenantID, id string) error
}

type ConnectionHandler struct {
	connections ConnectionService
}

func NewConnectionHandler(connections ConnectionService) *ConnectionHandler {
	return &ConnectionHandler{connections: connections}
}

// Register mounts the connection routes on r; pairing routes live under
// /{id}/pairing and are registered by PairingHandler.
func (h *ConnectionHandler) Register(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/disconnect", h.Disconnect)
	r.Delete("/{id}", h.Delete)
}

// POST /v1/connections
func (h *ConnectionHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenant := requireTenant(w, r)
	if tenant == nil {
		return
	}

	var req service.CreateConnectionInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := h.connections.Create(r.Context(), tenant.ID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:         audit.EventConnectionCreate,
		TenantID:     tenant.ID,
		ConnectionID: conn.ID,
		Details:      map[string]interface{}{"channel": string(conn.Channel)},
	})

	writeJSON(w, http.StatusCreated, conn)
}

// GET /v1/connections
func (h *ConnectionHandler) List(w http.ResponseWriter, r *http.Request) {
	tenant := requireTenant(w, r)
	if tenant == nil {
		return
	}

	page := ParsePagination(r)
	conns, total, err := h.connections.List(r.Context(), tenant.ID, page.Limit, page.Offset)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items":  conns,
		"total":  total,
		"limit":  page.Limit,
		"offset": page.Offset,
	})
}

// GET /v1/connections/{id}
func (h *ConnectionHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenant := requireTenant(w, r)
	if tenant == nil {
		return
	}

	conn, err := h.connections.Get(r.Context(), tenant.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, conn)
}

// POST /v1/connections/{id}/disconnect
func (h *ConnectionHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	tenant := requireTenant(w, r)
	if tenant == nil {
		return
	}

	conn, err := h.connections.Disconnect(r.Context(), tenant.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:         audit.EventConnectionDrop,
		TenantID:     tenant.ID,
		ConnectionID: conn.ID,
	})

	writeJSON(w, http.StatusOK, conn)
}

// DELETE /v1/connections/{id}
func (h *ConnectionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenant := requireTenant(w, r)
	if tenant == nil {
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.connections.Delete(r.Context(), tenant.ID, id); err != nil {
		writeError(w, r, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:         audit.EventConnectionDelete,
		TenantID:     tenant.ID,
		ConnectionID: id,
	})

	w.WriteHeader(http.StatusNoContent)
}
