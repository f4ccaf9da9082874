package model

import (
	"time"
)

// PairingAttempt records one finished pairing session.
type PairingAttempt struct {
	ID           string         `db:"id" json:"id"`
	ConnectionID string         `db:"connection_id" json:"connectionId"`
	TenantID     string         `db:"tenant_id" json:"tenantId"`
	SessionID    string         `db:"session_id" json:"sessionId"`
	Outcome      PairingOutcome `db:"outcome" json:"outcome"`
	QRIssued     int            `db:"qr_issued" json:"qrIssued"`
	StartedAt    time.Time      `db:"started_at" json:"startedAt"`
	FinishedAt   time.Time      `db:"finished_at" json:"finishedAt"`
}

type CreatePairingAttemptParams struct {
	ConnectionID string
	TenantID     string
	SessionID    string
	Outcome      PairingOutcome
	QRIssued     int
	StartedAt    time.Time
	FinishedAt   time.Time
}
