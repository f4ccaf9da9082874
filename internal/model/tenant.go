package model

import (
	"time"
)

type Tenant struct {
	ID              string     `db:"id" json:"id"`
	Name            string     `db:"name" json:"name"`
	APITokenHash    string     `db:"api_token_hash" json:"-"`
	RateLimitPerMin int        `db:"rate_limit_per_minute" json:"rateLimitPerMinute"`
	CreatedAt       time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updatedAt"`
	DisabledAt      *time.Time `db:"disabled_at" json:"disabledAt,omitempty"`
}

type CreateTenantParams struct {
	Name            string
	APITokenHash    string
	RateLimitPerMin int
}
