package pairing

import (
	"context"
	"errors"
	"strings"
	"time"
)

type Status string

const (
	StatusIdle       Status = "idle"
	StatusGenerating Status = "generating"
	StatusReady      Status = "ready"
	StatusConnected  Status = "connected"
	StatusExpired    Status = "expired"
)

var (
	ErrDisposed           = errors.New("pairing session disposed")
	ErrInvalidConnection  = errors.New("connection id is required")
	ErrConnectionMismatch = errors.New("pairing session is bound to another connection")
	ErrNotStarted         = errors.New("pairing session not started")
)

// QRCode is a pairing code issued by the backend. Payload is an image data URI.
type QRCode struct {
	Payload   string
	ExpiresAt time.Time
}

// RemoteState is the backend's view of a connection.
type RemoteState struct {
	Status string
}

const RemoteStatusConnected = "connected"

func (s *RemoteState) Connected() bool {
	return s != nil && strings.EqualFold(s.Status, RemoteStatusConnected)
}

// RemoteAPI is the subset of the pairing backend a session needs.
type RemoteAPI interface {
	GetQRCode(ctx context.Context, connectionID string) (*QRCode, error)
	GetConnectionStatus(ctx context.Context, connectionID string) (*RemoteState, error)
}

// Snapshot is the read-only state exposed to the pairing view.
type Snapshot struct {
	SessionID        string     `json:"sessionId"`
	ConnectionID     string     `json:"connectionId"`
	Status           Status     `json:"status"`
	QRPayload        string     `json:"qrPayload,omitempty"`
	QRStale          bool       `json:"qrStale"`
	ExpiresAt        *time.Time `json:"expiresAt,omitempty"`
	CountdownSeconds int        `json:"countdownSeconds"`
	Attempt          int        `json:"attempt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

func (s Snapshot) Terminal() bool {
	return s.Status == StatusConnected
}
