package pairing

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu      sync.Mutex
	changed []Snapshot
	tenants []string
	closed  []Summary
}

func (o *recordingObserver) SessionChanged(tenantID string, snap Snapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.changed = append(o.changed, snap)
	o.tenants = append(o.tenants, tenantID)
}

func (o *recordingObserver) SessionClosed(summary Summary) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = append(o.closed, summary)
}

func (o *recordingObserver) summaries() []Summary {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Summary(nil), o.closed...)
}

func (o *recordingObserver) sawStatus(status Status) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.changed {
		if s.Status == status {
			return true
		}
	}
	return false
}

func newTestManager(t *testing.T, api RemoteAPI) (*Manager, fakeClock, *recordingObserver) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	obs := &recordingObserver{}
	m := NewManager(api, ManagerConfig{
		Controller:   Config{PollInterval: 3 * time.Second, Clock: clock},
		DisplayDelay: 2 * time.Second,
		IdleTimeout:  time.Minute,
	}, obs)
	t.Cleanup(m.CloseAll)
	return m, clock, obs
}

func TestManager_Open(t *testing.T) {
	api := newFakeAPI()
	m, clock, obs := newTestManager(t, api)

	api.replyQR("qr", clock.Now().Add(time.Minute))
	ctrl, err := m.Open("tenant-1", "conn-1")
	require.NoError(t, err)
	waitStatus(t, ctrl, StatusReady)

	got, ok := m.Get("conn-1")
	require.True(t, ok)
	assert.Same(t, ctrl, got)
	assert.Equal(t, 1, m.Count())

	require.Eventually(t, func() bool { return obs.sawStatus(StatusReady) }, waitFor, tick)
	obs.mu.Lock()
	assert.Equal(t, "tenant-1", obs.tenants[0])
	obs.mu.Unlock()

	_, ok = m.Get("conn-2")
	assert.False(t, ok)

	_, err = m.Open("tenant-1", "")
	assert.ErrorIs(t, err, ErrInvalidConnection)
}

func TestManager_OpenReplacesSession(t *testing.T) {
	api := newFakeAPI()
	m, clock, obs := newTestManager(t, api)

	api.replyQR("qr-1", clock.Now().Add(time.Minute))
	first, err := m.Open("tenant-1", "conn-1")
	require.NoError(t, err)
	waitStatus(t, first, StatusReady)

	api.replyQR("qr-2", clock.Now().Add(time.Minute))
	second, err := m.Open("tenant-1", "conn-1")
	require.NoError(t, err)
	waitStatus(t, second, StatusReady)

	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, 1, second.Snapshot().Attempt)

	select {
	case <-first.Done():
	default:
		t.Fatal("previous session not disposed")
	}

	summaries := obs.summaries()
	require.Len(t, summaries, 1)
	assert.Equal(t, first.ID(), summaries[0].SessionID)
	assert.Equal(t, OutcomeAbandoned, summaries[0].Outcome)
	assert.Equal(t, StatusReady, summaries[0].FinalStatus)
	assert.Equal(t, "tenant-1", summaries[0].TenantID)

	got, ok := m.Get("conn-1")
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestManager_ClosesAfterDisplayDelay(t *testing.T) {
	api := newFakeAPI()
	m, clock, obs := newTestManager(t, api)

	api.replyQR("qr", clock.Now().Add(time.Minute))
	ctrl, err := m.Open("tenant-1", "conn-1")
	require.NoError(t, err)
	waitStatus(t, ctrl, StatusReady)

	api.setRemote("connected", nil)
	clock.Advance(3 * time.Second)
	require.Eventually(t, func() bool { return obs.sawStatus(StatusConnected) }, waitFor, tick)

	// Still visible until the display delay runs out.
	_, ok := m.Get("conn-1")
	assert.True(t, ok)

	require.Eventually(t, func() bool {
		clock.Advance(time.Second)
		return m.Count() == 0
	}, waitFor, tick)

	require.Eventually(t, func() bool { return len(obs.summaries()) == 1 }, waitFor, tick)
	summary := obs.summaries()[0]
	assert.Equal(t, OutcomeConnected, summary.Outcome)
	assert.Equal(t, 1, summary.QRIssued)
	assert.Equal(t, "conn-1", summary.ConnectionID)
}

func TestManager_ReapIdle(t *testing.T) {
	api := newFakeAPI()
	m, clock, obs := newTestManager(t, api)

	api.replyErr(errors.New("backend down"))
	expired, err := m.Open("tenant-1", "conn-1")
	require.NoError(t, err)
	waitStatus(t, expired, StatusExpired)

	api.replyQR("qr", clock.Now().Add(time.Hour))
	ready, err := m.Open("tenant-1", "conn-2")
	require.NoError(t, err)
	waitStatus(t, ready, StatusReady)

	assert.Equal(t, 0, m.ReapIdle())

	clock.Advance(time.Minute)
	assert.Equal(t, 1, m.ReapIdle())

	_, ok := m.Get("conn-1")
	assert.False(t, ok)
	_, ok = m.Get("conn-2")
	assert.True(t, ok)

	summaries := obs.summaries()
	require.Len(t, summaries, 1)
	assert.Equal(t, OutcomeExpired, summaries[0].Outcome)
}

func TestManager_Close(t *testing.T) {
	api := newFakeAPI()
	m, _, obs := newTestManager(t, api)

	ctrl, err := m.Open("tenant-1", "conn-1")
	require.NoError(t, err)

	assert.True(t, m.Close("conn-1"))
	assert.False(t, m.Close("conn-1"))
	assert.False(t, m.Close("missing"))

	<-ctrl.Done()
	require.Len(t, obs.summaries(), 1)
	assert.Equal(t, OutcomeAbandoned, obs.summaries()[0].Outcome)
}

func TestManager_CloseAll(t *testing.T) {
	api := newFakeAPI()
	m, _, obs := newTestManager(t, api)

	_, err := m.Open("tenant-1", "conn-1")
	require.NoError(t, err)
	_, err = m.Open("tenant-2", "conn-2")
	require.NoError(t, err)

	m.CloseAll()
	assert.Equal(t, 0, m.Count())
	assert.Len(t, obs.summaries(), 2)

	_, err = m.Open("tenant-1", "conn-3")
	assert.ErrorIs(t, err, ErrManagerClosed)
}
