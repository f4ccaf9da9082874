package service

import (
	"context"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"github.com/omnidesk/console-server/internal/database"
	"github.com/omnidesk/console-server/internal/model"
	"github.com/omnidesk/console-server/internal/repository"
	"github.com/omnidesk/console-server/internal/sse"
)

type mockConnectionRepo struct {
	mock.Mock
}

func (m *mockConnectionRepo) FindByID(ctx context.Context, id string) (*model.Connection, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Connection), args.Error(1)
}

func (m *mockConnectionRepo) FindByTenantID(ctx context.Context, tenantID string, limit, offset int) ([]model.Connection, error) {
	args := m.Called(ctx, tenantID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Connection), args.Error(1)
}

func (m *mockConnectionRepo) CountByTenantID(ctx context.Context, tenantID string) (int, error) {
	args := m.Called(ctx, tenantID)
	return args.Int(0), args.Error(1)
}

func (m *mockConnectionRepo) Create(ctx context.Context, params model.CreateConnectionParams) (*model.Connection, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Connection), args.Error(1)
}

func (m *mockConnectionRepo) UpdateStatus(ctx context.Context, id string, status model.ConnectionStatus) (*model.Connection, error) {
	args := m.Called(ctx, id, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Connection), args.Error(1)
}

func (m *mockConnectionRepo) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockConnectionRepo) WithTx(tx *sqlx.Tx) repository.ConnectionRepository {
	return m
}

type mockAttemptRepo struct {
	mock.Mock
}

func (m *mockAttemptRepo) Create(ctx context.Context, params model.CreatePairingAttemptParams) (*model.PairingAttempt, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PairingAttempt), args.Error(1)
}

func (m *mockAttemptRepo) FindByConnectionID(ctx context.Context, connectionID string, limit int) ([]model.PairingAttempt, error) {
	args := m.Called(ctx, connectionID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.PairingAttempt), args.Error(1)
}

func (m *mockAttemptRepo) DeleteByConnectionID(ctx context.Context, connectionID string) (int64, error) {
	args := m.Called(ctx, connectionID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockAttemptRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockAttemptRepo) WithTx(tx *sqlx.Tx) repository.PairingAttemptRepository {
	return m
}

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) CreateConnection(ctx context.Context, name string, sectors []string) (string, error) {
	args := m.Called(ctx, name, sectors)
	return args.String(0), args.Error(1)
}

func (m *mockBackend) DisconnectConnection(ctx context.Context, connectionID string) error {
	args := m.Called(ctx, connectionID)
	return args.Error(0)
}

type mockSessions struct {
	mock.Mock
}

func (m *mockSessions) Close(connectionID string) bool {
	args := m.Called(connectionID)
	return args.Bool(0)
}

// inlineTx runs the callback without a real transaction.
type inlineTx struct{}

func (inlineTx) WithTx(ctx context.Context, fn database.TxFunc) error {
	return fn(nil)
}

type published struct {
	topic string
	event sse.Event
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, event sse.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{topic: topic, event: event})
	return nil
}

func (p *recordingPublisher) ofType(eventType string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, e := range p.events {
		if e.event.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type stubLimiter struct {
	allow bool
	keys  []string
}

func (l *stubLimiter) CheckLimit(ctx context.Context, key string, limit int, window time.Duration) LimitResult {
	l.keys = append(l.keys, key)
	return LimitResult{Allowed: l.allow, ResetAt: time.Now().Add(window)}
}
