package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/omnidesk/console-server/internal/config"
	apperrors "github.com/omnidesk/console-server/internal/errors"
	"github.com/omnidesk/console-server/internal/pairing"
	redisclient "github.com/omnidesk/console-server/internal/redis"
	"github.com/omnidesk/console-server/internal/service"
	"github.com/omnidesk/console-server/internal/sse"
)

type Subscriber interface {
	Subscribe(topic string) *sse.Client
	Unsubscribe(client *sse.Client)
}

// EventsHandler streams pairing_state events for one connection. Sessions may
// run on another replica, so events arrive through the redis broker.
type EventsHandler struct {
	broker    Subscriber
	pairing   PairingService
	heartbeat time.Duration
}

func NewEventsHandler(broker Subscriber, pairing PairingService) *EventsHandler {
	return &EventsHandler{
		broker:    broker,
		pairing:   pairing,
		heartbeat: config.SSEHeartbeatPeriod,
	}
}

// GET /v1/connections/{id}/pairing/events
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenant := requireTenant(w, r)
	if tenant == nil {
		return
	}

	connectionID := chi.URLParam(r, "id")
	if err := h.pairing.Authorize(r.Context(), tenant.ID, connectionID); err != nil {
		writeError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, apperrors.Internal("Streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Subscribe before reading the snapshot so no change falls in between.
	client := h.broker.Subscribe(redisclient.PairingTopic(connectionID))
	defer h.broker.Unsubscribe(client)

	log.Info().
		Str("tenantId", tenant.ID).
		Str("connectionId", connectionID).
		Msg("sse connection established")

	snap, ok := h.pairing.CurrentSnapshot(connectionID)
	if !ok {
		snap = pairing.Snapshot{ConnectionID: connectionID, Status: pairing.StatusIdle}
	}
	if err := h.sendEvent(w, flusher, service.EventPairingState, snap); err != nil {
		log.Error().Err(err).Msg("failed to send initial snapshot")
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			log.Info().
				Str("connectionId", connectionID).
				Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Info().
				Str("connectionId", connectionID).
				Msg("sse connection closed by broker")
			return

		case event := <-client.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Debug().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().
					Str("connectionId", connectionID).
					Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return h.sendRawEvent(w, flusher, sse.Event{Type: eventType, Data: jsonData})
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
