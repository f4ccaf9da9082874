package handler

import (
	"context"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/mock"

	"github.com/omnidesk/console-server/internal/middleware"
	"github.com/omnidesk/console-server/internal/model"
	"github.com/omnidesk/console-server/internal/pairing"
	"github.com/omnidesk/console-server/internal/service"
	"github.com/omnidesk/console-server/internal/sse"
)

var testTenant = &model.Tenant{ID: "tenant-1", Name: "Acme", RateLimitPerMin: 60}

type mockConnectionService struct {
	mock.Mock
}

func (m *mockConnectionService) Create(ctx context.Context, tenantID string, in service.CreateConnectionInput) (*model.Connection, error) {
	args := m.Called(ctx, tenantID, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Connection), args.Error(1)
}

func (m *mockConnectionService) List(ctx context.Context, tenantID string, limit, offset int) ([]model.Connection, int, error) {
	args := m.Called(ctx, tenantID, limit, offset)
	return args.Get(0).([]model.Connection), args.Int(1), args.Error(2)
}

func (m *mockConnectionService) Get(ctx context.Context, tenantID, id string) (*model.Connection, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Connection), args.Error(1)
}

func (m *mockConnectionService) Disconnect(ctx context.Context, tenantID, id string) (*model.Connection, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Connection), args.Error(1)
}

func (m *mockConnectionService) Delete(ctx context.Context, tenantID, id string) error {
	args := m.Called(ctx, tenantID, id)
	return args.Error(0)
}

type mockPairingService struct {
	mock.Mock
}

func (m *mockPairingService) StartPairing(ctx context.Context, tenantID, connectionID string) (pairing.Snapshot, error) {
	args := m.Called(ctx, tenantID, connectionID)
	return args.Get(0).(pairing.Snapshot), args.Error(1)
}

func (m *mockPairingService) Retry(ctx context.Context, tenantID, connectionID string) (pairing.Snapshot, error) {
	args := m.Called(ctx, tenantID, connectionID)
	return args.Get(0).(pairing.Snapshot), args.Error(1)
}

func (m *mockPairingService) Snapshot(ctx context.Context, tenantID, connectionID string) (pairing.Snapshot, error) {
	args := m.Called(ctx, tenantID, connectionID)
	return args.Get(0).(pairing.Snapshot), args.Error(1)
}

func (m *mockPairingService) Close(ctx context.Context, tenantID, connectionID string) error {
	args := m.Called(ctx, tenantID, connectionID)
	return args.Error(0)
}

func (m *mockPairingService) History(ctx context.Context, tenantID, connectionID string, limit int) ([]model.PairingAttempt, error) {
	args := m.Called(ctx, tenantID, connectionID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.PairingAttempt), args.Error(1)
}

func (m *mockPairingService) Authorize(ctx context.Context, tenantID, connectionID string) error {
	args := m.Called(ctx, tenantID, connectionID)
	return args.Error(0)
}

func (m *mockPairingService) CurrentSnapshot(connectionID string) (pairing.Snapshot, bool) {
	args := m.Called(connectionID)
	return args.Get(0).(pairing.Snapshot), args.Bool(1)
}

// fakeSubscriber hands out one client per Subscribe and reports it on subscribed.
type fakeSubscriber struct {
	subscribed chan *sse.Client

	mu           sync.Mutex
	unsubscribed []*sse.Client
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{subscribed: make(chan *sse.Client, 4)}
}

func (f *fakeSubscriber) Subscribe(topic string) *sse.Client {
	client := &sse.Client{
		Topic:  topic,
		Events: make(chan sse.Event, 8),
		Done:   make(chan struct{}),
	}
	f.subscribed <- client
	return client
}

func (f *fakeSubscriber) Unsubscribe(client *sse.Client) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, client)
}

func (f *fakeSubscriber) unsubscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.unsubscribed)
}

// newTestRouter mirrors the /v1/connections layout with testTenant
// already authenticated.
func newTestRouter(conns ConnectionService, pairings PairingService, events http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.WithTenant(r.Context(), testTenant)))
		})
	})
	r.Route("/v1/connections", func(r chi.Router) {
		if conns != nil {
			NewConnectionHandler(conns).Register(r)
		}
		if pairings != nil {
			NewPairingHandler(pairings).Register(r)
		}
		if events != nil {
			r.Get("/{id}/pairing/events", events.ServeHTTP)
		}
	})
	return r
}
