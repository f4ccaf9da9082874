package pairing

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	DefaultDisplayDelay = 2 * time.Second
	DefaultIdleTimeout  = 10 * time.Minute
)

var ErrManagerClosed = errors.New("pairing manager closed")

type Outcome string

const (
	OutcomeConnected Outcome = "connected"
	OutcomeExpired   Outcome = "expired"
	OutcomeAbandoned Outcome = "abandoned"
)

// Summary describes a session after it has been disposed.
type Summary struct {
	SessionID    string
	ConnectionID string
	TenantID     string
	Outcome      Outcome
	FinalStatus  Status
	QRIssued     int
	StartedAt    time.Time
	FinishedAt   time.Time
}

type Observer interface {
	SessionChanged(tenantID string, snap Snapshot)
	SessionClosed(summary Summary)
}

type ManagerConfig struct {
	Controller   Config
	DisplayDelay time.Duration
	IdleTimeout  time.Duration
}

type session struct {
	tenantID  string
	ctrl      *Controller
	startedAt time.Time

	mu         sync.Mutex
	closeTimer clockwork.Timer
	once       sync.Once
}

// Manager hosts at most one pairing session per connection. Sessions live in
// memory only and are replaced every time pairing is opened again.
type Manager struct {
	api      RemoteAPI
	cfg      ManagerConfig
	clock    clockwork.Clock
	observer Observer

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

func NewManager(api RemoteAPI, cfg ManagerConfig, observer Observer) *Manager {
	cfg.Controller = cfg.Controller.withDefaults()
	if cfg.DisplayDelay <= 0 {
		cfg.DisplayDelay = DefaultDisplayDelay
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	return &Manager{
		api:      api,
		cfg:      cfg,
		clock:    cfg.Controller.Clock,
		observer: observer,
		sessions: make(map[string]*session),
	}
}

// Open disposes any previous session for connectionID and starts a new one.
func (m *Manager) Open(tenantID, connectionID string) (*Controller, error) {
	if connectionID == "" {
		return nil, ErrInvalidConnection
	}

	s := &session{tenantID: tenantID, startedAt: m.clock.Now()}
	cfg := m.cfg.Controller
	cfg.OnChange = func(snap Snapshot) {
		m.handleChange(s, snap)
	}
	s.ctrl = NewController(m.api, cfg)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		s.ctrl.Dispose()
		return nil, ErrManagerClosed
	}
	prev := m.sessions[connectionID]
	m.sessions[connectionID] = s
	m.mu.Unlock()

	if prev != nil {
		m.finish(prev)
	}

	if err := s.ctrl.Start(connectionID); err != nil {
		m.remove(connectionID, s)
		m.finish(s)
		return nil, err
	}

	log.Info().
		Str("tenantId", tenantID).
		Str("connectionId", connectionID).
		Str("sessionId", s.ctrl.ID()).
		Msg("pairing session opened")

	return s.ctrl, nil
}

func (m *Manager) Get(connectionID string) (*Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[connectionID]
	if !ok {
		return nil, false
	}
	return s.ctrl, true
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close disposes the session for connectionID. It reports whether one existed.
func (m *Manager) Close(connectionID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[connectionID]
	if ok {
		delete(m.sessions, connectionID)
	}
	m.mu.Unlock()

	if ok {
		m.finish(s)
	}
	return ok
}

func (m *Manager) CloseAll() {
	m.mu.Lock()
	m.closed = true
	all := make([]*session, 0, len(m.sessions))
	for id, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range all {
		m.finish(s)
	}
}

// ReapIdle closes sessions left in expired for longer than the idle timeout.
func (m *Manager) ReapIdle() int {
	now := m.clock.Now()

	m.mu.Lock()
	var stale []*session
	for id, s := range m.sessions {
		snap := s.ctrl.Snapshot()
		if snap.Status == StatusExpired && now.Sub(snap.UpdatedAt) >= m.cfg.IdleTimeout {
			stale = append(stale, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		m.finish(s)
	}
	return len(stale)
}

func (m *Manager) handleChange(s *session, snap Snapshot) {
	if m.observer != nil {
		m.observer.SessionChanged(s.tenantID, snap)
	}
	if snap.Status != StatusConnected {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeTimer != nil {
		return
	}
	connectionID := snap.ConnectionID
	s.closeTimer = m.clock.AfterFunc(m.cfg.DisplayDelay, func() {
		if m.remove(connectionID, s) {
			m.finish(s)
		}
	})
}

// remove deletes s from the map only if it is still the current session.
func (m *Manager) remove(connectionID string, s *session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[connectionID] != s {
		return false
	}
	delete(m.sessions, connectionID)
	return true
}

func (m *Manager) finish(s *session) {
	s.once.Do(func() {
		s.mu.Lock()
		if s.closeTimer != nil {
			s.closeTimer.Stop()
		}
		s.mu.Unlock()

		s.ctrl.Dispose()

		snap := s.ctrl.Snapshot()
		summary := Summary{
			SessionID:    snap.SessionID,
			ConnectionID: snap.ConnectionID,
			TenantID:     s.tenantID,
			Outcome:      outcomeOf(snap.Status),
			FinalStatus:  snap.Status,
			QRIssued:     snap.Attempt,
			StartedAt:    s.startedAt,
			FinishedAt:   m.clock.Now(),
		}

		log.Info().
			Str("sessionId", summary.SessionID).
			Str("connectionId", summary.ConnectionID).
			Str("outcome", string(summary.Outcome)).
			Int("qrIssued", summary.QRIssued).
			Dur("duration", summary.FinishedAt.Sub(summary.StartedAt)).
			Msg("pairing session closed")

		if m.observer != nil {
			m.observer.SessionClosed(summary)
		}
	})
}

func outcomeOf(status Status) Outcome {
	switch status {
	case StatusConnected:
		return OutcomeConnected
	case StatusExpired:
		return OutcomeExpired
	default:
		return OutcomeAbandoned
	}
}
