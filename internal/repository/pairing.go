package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/omnidesk/console-server/internal/model"
)

type PairingAttemptRepository interface {
	Create(ctx context.Context, params model.CreatePairingAttemptParams) (*model.PairingAttempt, error)
	FindByConnectionID(ctx context.Context, connectionID string, limit int) ([]model.PairingAttempt, error)
	DeleteByConnectionID(ctx context.Context, connectionID string) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	WithTx(tx *sqlx.Tx) PairingAttemptRepository
}

type pairingAttemptRepo struct {
	db sqlxDB
}

func NewPairingAttemptRepository(db *sqlx.DB) PairingAttemptRepository {
	return &pairingAttemptRepo{db: db}
}

func (r *pairingAttemptRepo) WithTx(tx *sqlx.Tx) PairingAttemptRepository {
	return &pairingAttemptRepo{db: tx}
}

func (r *pairingAttemptRepo) Create(ctx context.Context, params model.CreatePairingAttemptParams) (*model.PairingAttempt, error) {
	var attempt model.PairingAttempt
	err := r.db.GetContext(ctx, &attempt, `
		INSERT INTO pairing_attempts
			(connection_id, tenant_id, session_id, outcome, qr_issued, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id) DO UPDATE SET session_id = EXCLUDED.session_id
		RETURNING *
	`, params.ConnectionID, params.TenantID, params.SessionID, params.Outcome,
		params.QRIssued, params.StartedAt, params.FinishedAt)
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *pairingAttemptRepo) FindByConnectionID(ctx context.Context, connectionID string, limit int) ([]model.PairingAttempt, error) {
	var attempts []model.PairingAttempt
	err := r.db.SelectContext(ctx, &attempts, `
		SELECT * FROM pairing_attempts
		WHERE connection_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, connectionID, limit)
	if err != nil {
		return nil, err
	}
	return attempts, nil
}

func (r *pairingAttemptRepo) DeleteByConnectionID(ctx context.Context, connectionID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM pairing_attempts WHERE connection_id = $1
	`, connectionID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *pairingAttemptRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM pairing_attempts WHERE finished_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
