package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/omnidesk/console-server/internal/model"
)

type ConnectionRepository interface {
	FindByID(ctx context.Context, id string) (*model.Connection, error)
	FindByTenantID(ctx context.Context, tenantID string, limit, offset int) ([]model.Connection, error)
	CountByTenantID(ctx context.Context, tenantID string) (int, error)
	Create(ctx context.Context, params model.CreateConnectionParams) (*model.Connection, error)
	UpdateStatus(ctx context.Context, id string, status model.ConnectionStatus) (*model.Connection, error)
	Delete(ctx context.Context, id string) error
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) ConnectionRepository
}

type connectionRepo struct {
	db sqlxDB
}

func NewConnectionRepository(db *sqlx.DB) ConnectionRepository {
	return &connectionRepo{db: db}
}

func (r *connectionRepo) WithTx(tx *sqlx.Tx) ConnectionRepository {
	return &connectionRepo{db: tx}
}

func (r *connectionRepo) FindByID(ctx context.Context, id string) (*model.Connection, error) {
	var conn model.Connection
	err := r.db.GetContext(ctx, &conn, `
		SELECT * FROM connections WHERE id = $1
	`, id)
	return HandleNotFound(&conn, err)
}

func (r *connectionRepo) FindByTenantID(ctx context.Context, tenantID string, limit, offset int) ([]model.Connection, error) {
	var conns []model.Connection
	err := r.db.SelectContext(ctx, &conns, `
		SELECT * FROM connections
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	return conns, nil
}

func (r *connectionRepo) CountByTenantID(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM connections WHERE tenant_id = $1
	`, tenantID)
	return count, err
}

func (r *connectionRepo) Create(ctx context.Context, params model.CreateConnectionParams) (*model.Connection, error) {
	var conn model.Connection
	err := r.db.GetContext(ctx, &conn, `
		INSERT INTO connections (id, tenant_id, name, channel, sectors, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *
	`, params.ID, params.TenantID, params.Name, params.Channel,
		pq.StringArray(params.Sectors), model.ConnectionStatusPending)
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

// UpdateStatus sets connected_at on the first transition to connected.
func (r *connectionRepo) UpdateStatus(ctx context.Context, id string, status model.ConnectionStatus) (*model.Connection, error) {
	now := time.Now()
	var conn model.Connection
	err := r.db.GetContext(ctx, &conn, `
		UPDATE connections SET
			status = $2,
			connected_at = CASE WHEN $2 = 'connected' THEN COALESCE(connected_at, $3) ELSE connected_at END,
			updated_at = $3
		WHERE id = $1
		RETURNING *
	`, id, status, now)
	return HandleNotFound(&conn, err)
}

func (r *connectionRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM connections WHERE id = $1`, id)
	return err
}
