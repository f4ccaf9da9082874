package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	original := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = original })
	return &buf
}

func TestLog(t *testing.T) {
	buf := captureLog(t)

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")
	Log(ctx, Event{
		Type:         EventPairingStart,
		TenantID:     "tenant-1",
		ConnectionID: "conn-1",
		Details:      map[string]interface{}{"attempt": 2, "channel": "whatsapp"},
	})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "console", entry["audit"])
	assert.Equal(t, "pairing_start", entry["event_type"])
	assert.Equal(t, "tenant-1", entry["tenant_id"])
	assert.Equal(t, "conn-1", entry["connection_id"])
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, float64(2), entry["attempt"])
	assert.Equal(t, "whatsapp", entry["channel"])
}

func TestLogFromRequest(t *testing.T) {
	buf := captureLog(t)

	req := httptest.NewRequest("POST", "/v1/connections", nil)
	req.RemoteAddr = "203.0.113.7:51234"
	req.Header.Set("User-Agent", "console/1.0")

	LogFromRequest(req, Event{Type: EventAuthFailure})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "203.0.113.7", entry["ip"])
	assert.Equal(t, "console/1.0", entry["user_agent"])
	assert.NotContains(t, entry, "tenant_id")
}
