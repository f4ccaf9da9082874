package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/omnidesk/console-server/internal/errors"
	"github.com/omnidesk/console-server/internal/model"
	"github.com/omnidesk/console-server/internal/pairing"
)

func TestPairingHandler_Start(t *testing.T) {
	t.Run("returns 202 with the generating snapshot", func(t *testing.T) {
		svc := &mockPairingService{}
		svc.On("StartPairing", mock.Anything, "tenant-1", "conn-1").Return(pairing.Snapshot{
			SessionID:    "sess-1",
			ConnectionID: "conn-1",
			Status:       pairing.StatusGenerating,
			Attempt:      1,
		}, nil)

		rec := httptest.NewRecorder()
		newTestRouter(nil, svc, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/connections/conn-1/pairing", nil))

		assert.Equal(t, http.StatusAccepted, rec.Code)
		var snap pairing.Snapshot
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
		assert.Equal(t, pairing.StatusGenerating, snap.Status)
		assert.Equal(t, "sess-1", snap.SessionID)
	})

	errorCases := []struct {
		name   string
		err    error
		status int
	}{
		{"already connected", apperrors.AlreadyConnected(), http.StatusConflict},
		{"throttled", apperrors.RateLimitExceeded(), http.StatusTooManyRequests},
		{"shutting down", apperrors.Unavailable("Server is shutting down"), http.StatusServiceUnavailable},
		{"not found", apperrors.NotFound("Connection"), http.StatusNotFound},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &mockPairingService{}
			svc.On("StartPairing", mock.Anything, "tenant-1", "conn-1").Return(pairing.Snapshot{}, tc.err)

			rec := httptest.NewRecorder()
			newTestRouter(nil, svc, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/connections/conn-1/pairing", nil))

			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestPairingHandler_RetryGetClose(t *testing.T) {
	expiresAt := time.Now().Add(time.Minute).UTC()
	svc := &mockPairingService{}
	svc.On("Retry", mock.Anything, "tenant-1", "conn-1").
		Return(pairing.Snapshot{Status: pairing.StatusGenerating, Attempt: 2}, nil)
	svc.On("Snapshot", mock.Anything, "tenant-1", "conn-1").
		Return(pairing.Snapshot{Status: pairing.StatusReady, QRPayload: "data:image/png;base64,AA", ExpiresAt: &expiresAt, CountdownSeconds: 60}, nil)
	svc.On("Snapshot", mock.Anything, "tenant-1", "conn-2").
		Return(pairing.Snapshot{}, apperrors.PairingNotStarted())
	svc.On("Close", mock.Anything, "tenant-1", "conn-1").Return(nil)
	router := newTestRouter(nil, svc, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/connections/conn-1/pairing/retry", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"attempt":2`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/connections/conn-1/pairing", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"countdownSeconds":60`)
	assert.Contains(t, rec.Body.String(), `"qrPayload":"data:image/png;base64,AA"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/connections/conn-2/pairing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "PAIRING_NOT_STARTED")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/connections/conn-1/pairing", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	svc.AssertExpectations(t)
}

func TestPairingHandler_History(t *testing.T) {
	svc := &mockPairingService{}
	svc.On("History", mock.Anything, "tenant-1", "conn-1", DefaultHistoryLimit).
		Return([]model.PairingAttempt{{SessionID: "sess-1", Outcome: model.PairingOutcomeExpired}}, nil)
	svc.On("History", mock.Anything, "tenant-1", "conn-1", 3).
		Return([]model.PairingAttempt{}, nil)
	router := newTestRouter(nil, svc, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/connections/conn-1/pairing/attempts?limit=500", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"outcome":"expired"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/connections/conn-1/pairing/attempts?limit=3", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"items":[]}`, rec.Body.String())
}
