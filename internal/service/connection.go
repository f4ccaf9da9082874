package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/omnidesk/console-server/internal/database"
	apperrors "github.com/omnidesk/console-server/internal/errors"
	"github.com/omnidesk/console-server/internal/model"
	"github.com/omnidesk/console-server/internal/repository"
	"github.com/omnidesk/console-server/internal/util"
)

// ConnectionBackend is the part of the pairing backend that manages
// connection records.
type ConnectionBackend interface {
	CreateConnection(ctx context.Context, name string, sectors []string) (string, error)
	DisconnectConnection(ctx context.Context, connectionID string) error
}

type SessionCloser interface {
	Close(connectionID string) bool
}

type TxRunner interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

type CreateConnectionInput struct {
	Name    string        `json:"name"`
	Channel model.Channel `json:"channel"`
	Sectors []string      `json:"sectors"`
}

type ConnectionService struct {
	tx          TxRunner
	connRepo    repository.ConnectionRepository
	attemptRepo repository.PairingAttemptRepository
	backend     ConnectionBackend
	sessions    SessionCloser
}

func NewConnectionService(
	tx TxRunner,
	connRepo repository.ConnectionRepository,
	attemptRepo repository.PairingAttemptRepository,
	backend ConnectionBackend,
	sessions SessionCloser,
) *ConnectionService {
	return &ConnectionService{
		tx:          tx,
		connRepo:    connRepo,
		attemptRepo: attemptRepo,
		backend:     backend,
		sessions:    sessions,
	}
}

func (s *ConnectionService) Create(ctx context.Context, tenantID string, in CreateConnectionInput) (*model.Connection, error) {
	name, ok := util.NormalizeName(in.Name)
	if name == "" {
		return nil, apperrors.MissingRequired("name")
	}
	if !ok {
		return nil, apperrors.InvalidInput("name",
			fmt.Sprintf("must be %d to %d characters", util.MinConnectionNameLen, util.MaxConnectionNameLen))
	}

	channel := model.Channel(strings.ToLower(strings.TrimSpace(string(in.Channel))))
	if !channel.Valid() {
		return nil, apperrors.InvalidInput("channel", "unsupported channel").
			WithDetails(map[string]any{"allowed": model.Channels})
	}

	sectors := util.NormalizeSectors(in.Sectors)
	if len(sectors) == 0 {
		return nil, apperrors.MissingRequired("sectors")
	}
	if len(sectors) > util.MaxSectors {
		return nil, apperrors.InvalidInput("sectors", fmt.Sprintf("at most %d allowed", util.MaxSectors))
	}
	for _, sector := range sectors {
		if len(sector) > util.MaxSectorLen {
			return nil, apperrors.InvalidInput("sectors", fmt.Sprintf("%q is too long", sector))
		}
	}

	remoteID, err := s.backend.CreateConnection(ctx, name, sectors)
	if err != nil {
		return nil, err
	}

	conn, err := s.connRepo.Create(ctx, model.CreateConnectionParams{
		ID:       remoteID,
		TenantID: tenantID,
		Name:     name,
		Channel:  channel,
		Sectors:  sectors,
	})
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("create connection: %w", err))
	}

	log.Info().
		Str("tenantId", tenantID).
		Str("connectionId", conn.ID).
		Str("channel", string(channel)).
		Strs("sectors", sectors).
		Msg("connection created")

	return conn, nil
}

func (s *ConnectionService) List(ctx context.Context, tenantID string, limit, offset int) ([]model.Connection, int, error) {
	conns, err := s.connRepo.FindByTenantID(ctx, tenantID, limit, offset)
	if err != nil {
		return nil, 0, apperrors.Database(fmt.Errorf("list connections: %w", err))
	}
	total, err := s.connRepo.CountByTenantID(ctx, tenantID)
	if err != nil {
		return nil, 0, apperrors.Database(fmt.Errorf("count connections: %w", err))
	}
	if conns == nil {
		conns = []model.Connection{}
	}
	return conns, total, nil
}

// Get returns the connection only when it belongs to tenantID.
func (s *ConnectionService) Get(ctx context.Context, tenantID, id string) (*model.Connection, error) {
	conn, err := s.connRepo.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("find connection: %w", err))
	}
	if conn == nil || conn.TenantID != tenantID {
		return nil, apperrors.NotFound("Connection")
	}
	return conn, nil
}

func (s *ConnectionService) Disconnect(ctx context.Context, tenantID, id string) (*model.Connection, error) {
	conn, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	s.sessions.Close(conn.ID)

	if conn.Status == model.ConnectionStatusDisconnected {
		return conn, nil
	}

	if err := s.backend.DisconnectConnection(ctx, conn.ID); err != nil {
		return nil, err
	}

	updated, err := s.connRepo.UpdateStatus(ctx, conn.ID, model.ConnectionStatusDisconnected)
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("update connection status: %w", err))
	}
	if updated == nil {
		return nil, apperrors.NotFound("Connection")
	}

	log.Info().
		Str("tenantId", tenantID).
		Str("connectionId", conn.ID).
		Msg("connection disconnected")

	return updated, nil
}

// Delete removes the connection and its pairing history. A connected channel
// is disconnected on the backend first, best effort.
func (s *ConnectionService) Delete(ctx context.Context, tenantID, id string) error {
	conn, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}

	s.sessions.Close(conn.ID)

	if conn.Status == model.ConnectionStatusConnected {
		if err := s.backend.DisconnectConnection(ctx, conn.ID); err != nil {
			log.Warn().Err(err).Str("connectionId", conn.ID).Msg("backend disconnect failed during delete")
		}
	}

	err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.attemptRepo.WithTx(tx).DeleteByConnectionID(ctx, conn.ID); err != nil {
			return fmt.Errorf("delete pairing attempts: %w", err)
		}
		if err := s.connRepo.WithTx(tx).Delete(ctx, conn.ID); err != nil {
			return fmt.Errorf("delete connection: %w", err)
		}
		return nil
	})
	if err != nil {
		return apperrors.Database(err)
	}

	log.Info().
		Str("tenantId", tenantID).
		Str("connectionId", conn.ID).
		Msg("connection deleted")

	return nil
}
