package model

import (
	"time"

	"github.com/lib/pq"
)

// Connection is a messaging channel registered with the pairing backend.
// ID is the identifier the backend assigned.
type Connection struct {
	ID          string           `db:"id" json:"id"`
	TenantID    string           `db:"tenant_id" json:"tenantId"`
	Name        string           `db:"name" json:"name"`
	Channel     Channel          `db:"channel" json:"channel"`
	Sectors     pq.StringArray   `db:"sectors" json:"sectors"`
	Status      ConnectionStatus `db:"status" json:"status"`
	ConnectedAt *time.Time       `db:"connected_at" json:"connectedAt,omitempty"`
	CreatedAt   time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time        `db:"updated_at" json:"updatedAt"`
}

type CreateConnectionParams struct {
	ID       string
	TenantID string
	Name     string
	Channel  Channel
	Sectors  []string
}
