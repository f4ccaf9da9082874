package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/omnidesk/console-server/internal/audit"
	apperrors "github.com/omnidesk/console-server/internal/errors"
	"github.com/omnidesk/console-server/internal/model"
	"github.com/omnidesk/console-server/internal/pairing"
	redisclient "github.com/omnidesk/console-server/internal/redis"
	"github.com/omnidesk/console-server/internal/repository"
	"github.com/omnidesk/console-server/internal/sse"
)

const (
	EventPairingState  = "pairing_state"
	EventPairingClosed = "pairing_closed"

	observerTimeout = 3 * time.Second
	startWindow     = time.Minute
)

type PairingSessions interface {
	Open(tenantID, connectionID string) (*pairing.Controller, error)
	Get(connectionID string) (*pairing.Controller, bool)
	Close(connectionID string) bool
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event sse.Event) error
}

type Limiter interface {
	CheckLimit(ctx context.Context, key string, limit int, window time.Duration) LimitResult
}

// PairingService exposes pairing sessions to tenants and persists their
// outcome. It is also the session manager's observer.
type PairingService struct {
	connRepo        repository.ConnectionRepository
	attemptRepo     repository.PairingAttemptRepository
	publisher       EventPublisher
	limiter         Limiter
	startsPerMinute int
	sessions        PairingSessions
}

func NewPairingService(
	connRepo repository.ConnectionRepository,
	attemptRepo repository.PairingAttemptRepository,
	publisher EventPublisher,
	limiter Limiter,
	startsPerMinute int,
) *PairingService {
	return &PairingService{
		connRepo:        connRepo,
		attemptRepo:     attemptRepo,
		publisher:       publisher,
		limiter:         limiter,
		startsPerMinute: startsPerMinute,
	}
}

// Bind attaches the session manager. The manager is built with the service
// as its observer, so it cannot be passed to the constructor.
func (s *PairingService) Bind(sessions PairingSessions) {
	s.sessions = sessions
}

func (s *PairingService) StartPairing(ctx context.Context, tenantID, connectionID string) (pairing.Snapshot, error) {
	conn, err := s.findOwned(ctx, tenantID, connectionID)
	if err != nil {
		return pairing.Snapshot{}, err
	}
	if conn.Status == model.ConnectionStatusConnected {
		return pairing.Snapshot{}, apperrors.AlreadyConnected()
	}
	if err := s.checkStartLimit(ctx, tenantID, conn.ID); err != nil {
		return pairing.Snapshot{}, err
	}

	ctrl, err := s.sessions.Open(tenantID, conn.ID)
	if err != nil {
		if errors.Is(err, pairing.ErrManagerClosed) {
			return pairing.Snapshot{}, apperrors.Unavailable("Server is shutting down")
		}
		return pairing.Snapshot{}, fmt.Errorf("open pairing session: %w", err)
	}

	audit.Log(ctx, audit.Event{
		Type:         audit.EventPairingStart,
		TenantID:     tenantID,
		ConnectionID: conn.ID,
		Details:      map[string]interface{}{"session_id": ctrl.ID(), "channel": string(conn.Channel)},
	})

	return ctrl.Snapshot(), nil
}

func (s *PairingService) Retry(ctx context.Context, tenantID, connectionID string) (pairing.Snapshot, error) {
	ctrl, err := s.session(ctx, tenantID, connectionID)
	if err != nil {
		return pairing.Snapshot{}, err
	}

	snap := ctrl.Snapshot()
	if snap.Status != pairing.StatusExpired {
		return snap, nil
	}
	if err := s.checkStartLimit(ctx, tenantID, connectionID); err != nil {
		return pairing.Snapshot{}, err
	}

	if err := ctrl.Retry(); err != nil {
		if errors.Is(err, pairing.ErrDisposed) {
			return pairing.Snapshot{}, apperrors.PairingNotStarted()
		}
		return pairing.Snapshot{}, fmt.Errorf("retry pairing: %w", err)
	}

	audit.Log(ctx, audit.Event{
		Type:         audit.EventPairingRetry,
		TenantID:     tenantID,
		ConnectionID: connectionID,
		Details:      map[string]interface{}{"session_id": ctrl.ID(), "attempt": snap.Attempt + 1},
	})

	return ctrl.Snapshot(), nil
}

func (s *PairingService) Snapshot(ctx context.Context, tenantID, connectionID string) (pairing.Snapshot, error) {
	ctrl, err := s.session(ctx, tenantID, connectionID)
	if err != nil {
		return pairing.Snapshot{}, err
	}
	return ctrl.Snapshot(), nil
}

func (s *PairingService) Close(ctx context.Context, tenantID, connectionID string) error {
	if _, err := s.findOwned(ctx, tenantID, connectionID); err != nil {
		return err
	}
	if !s.sessions.Close(connectionID) {
		return apperrors.PairingNotStarted()
	}

	audit.Log(ctx, audit.Event{
		Type:         audit.EventPairingClose,
		TenantID:     tenantID,
		ConnectionID: connectionID,
	})
	return nil
}

// Authorize checks that tenantID owns connectionID.
func (s *PairingService) Authorize(ctx context.Context, tenantID, connectionID string) error {
	_, err := s.findOwned(ctx, tenantID, connectionID)
	return err
}

// CurrentSnapshot returns the live snapshot without an ownership check.
func (s *PairingService) CurrentSnapshot(connectionID string) (pairing.Snapshot, bool) {
	ctrl, ok := s.sessions.Get(connectionID)
	if !ok {
		return pairing.Snapshot{}, false
	}
	return ctrl.Snapshot(), true
}

func (s *PairingService) SessionChanged(tenantID string, snap pairing.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), observerTimeout)
	defer cancel()

	s.publish(ctx, snap.ConnectionID, EventPairingState, snap)

	if snap.Status != pairing.StatusConnected {
		return
	}

	if _, err := s.connRepo.UpdateStatus(ctx, snap.ConnectionID, model.ConnectionStatusConnected); err != nil {
		log.Error().
			Err(err).
			Str("connectionId", snap.ConnectionID).
			Msg("failed to mark connection connected")
	}

	audit.Log(ctx, audit.Event{
		Type:         audit.EventPairingConnected,
		TenantID:     tenantID,
		ConnectionID: snap.ConnectionID,
		Details:      map[string]interface{}{"session_id": snap.SessionID, "attempt": snap.Attempt},
	})
}

func (s *PairingService) SessionClosed(summary pairing.Summary) {
	ctx, cancel := context.WithTimeout(context.Background(), observerTimeout)
	defer cancel()

	s.publish(ctx, summary.ConnectionID, EventPairingClosed, map[string]any{
		"sessionId": summary.SessionID,
		"outcome":   summary.Outcome,
	})

	if summary.ConnectionID == "" {
		return
	}

	_, err := s.attemptRepo.Create(ctx, model.CreatePairingAttemptParams{
		ConnectionID: summary.ConnectionID,
		TenantID:     summary.TenantID,
		SessionID:    summary.SessionID,
		Outcome:      model.PairingOutcome(summary.Outcome),
		QRIssued:     summary.QRIssued,
		StartedAt:    summary.StartedAt,
		FinishedAt:   summary.FinishedAt,
	})
	if err != nil {
		log.Error().
			Err(err).
			Str("sessionId", summary.SessionID).
			Str("connectionId", summary.ConnectionID).
			Msg("failed to record pairing attempt")
	}
}

func (s *PairingService) History(ctx context.Context, tenantID, connectionID string, limit int) ([]model.PairingAttempt, error) {
	if _, err := s.findOwned(ctx, tenantID, connectionID); err != nil {
		return nil, err
	}
	attempts, err := s.attemptRepo.FindByConnectionID(ctx, connectionID, limit)
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("list pairing attempts: %w", err))
	}
	if attempts == nil {
		attempts = []model.PairingAttempt{}
	}
	return attempts, nil
}

func (s *PairingService) session(ctx context.Context, tenantID, connectionID string) (*pairing.Controller, error) {
	if _, err := s.findOwned(ctx, tenantID, connectionID); err != nil {
		return nil, err
	}
	ctrl, ok := s.sessions.Get(connectionID)
	if !ok {
		return nil, apperrors.PairingNotStarted()
	}
	return ctrl, nil
}

func (s *PairingService) findOwned(ctx context.Context, tenantID, connectionID string) (*model.Connection, error) {
	conn, err := s.connRepo.FindByID(ctx, connectionID)
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("find connection: %w", err))
	}
	if conn == nil || conn.TenantID != tenantID {
		return nil, apperrors.NotFound("Connection")
	}
	return conn, nil
}

func (s *PairingService) checkStartLimit(ctx context.Context, tenantID, connectionID string) error {
	res := s.limiter.CheckLimit(ctx, PairingStartKey(connectionID), s.startsPerMinute, startWindow)
	if res.Allowed {
		return nil
	}

	audit.Log(ctx, audit.Event{
		Type:         audit.EventPairingThrottled,
		TenantID:     tenantID,
		ConnectionID: connectionID,
	})

	return apperrors.RateLimitExceeded().WithDetails(map[string]any{
		"retryAfter": max(1, int(time.Until(res.ResetAt).Seconds())),
	})
}

func (s *PairingService) publish(ctx context.Context, connectionID, eventType string, data any) {
	if connectionID == "" {
		return
	}
	event, err := sse.NewEvent(eventType, data)
	if err != nil {
		log.Error().Err(err).Str("type", eventType).Msg("failed to encode pairing event")
		return
	}
	if err := s.publisher.Publish(ctx, redisclient.PairingTopic(connectionID), event); err != nil {
		log.Warn().
			Err(err).
			Str("connectionId", connectionID).
			Str("type", eventType).
			Msg("failed to publish pairing event")
	}
}
