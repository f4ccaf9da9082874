package pairing

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTickInterval   = time.Second
	DefaultPollInterval   = 3 * time.Second
	DefaultRequestTimeout = 10 * time.Second
)

type Config struct {
	TickInterval   time.Duration
	PollInterval   time.Duration
	RequestTimeout time.Duration
	Clock          clockwork.Clock
	Logger         *zerolog.Logger
	// OnChange runs on the controller goroutine after every state change.
	// It must not call Dispose.
	OnChange func(Snapshot)
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = &log.Logger
	}
	return c
}

type commandKind int

const (
	cmdStart commandKind = iota
	cmdRetry
)

type command struct {
	kind         commandKind
	connectionID string
	// closed by the loop once the command's turn is committed
	ack chan struct{}
}

type fetchResult struct {
	gen uint64
	qr  *QRCode
	err error
}

type pollResult struct {
	state *RemoteState
	err   error
}

// turn collects every event pending when the loop wakes up.
type turn struct {
	polls    []pollResult
	fetches  []fetchResult
	commands []command
	tick     bool
	pollDue  bool
}

// Controller drives a single channel pairing attempt. All state changes happen
// on one goroutine; remote calls report back to it through channels.
type Controller struct {
	id     string
	api    RemoteAPI
	cfg    Config
	clock  clockwork.Clock
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	commands    chan command
	fetches     chan fetchResult
	polls       chan pollResult
	done        chan struct{}
	stopped     chan struct{}
	disposeOnce sync.Once

	mu             sync.RWMutex
	snap           Snapshot
	boundID        string
	countdownArmed bool
	pollArmed      bool

	// owned by the loop goroutine
	cur        Snapshot
	expiresAt  time.Time
	countdown  clockwork.Ticker
	poller     clockwork.Ticker
	generation uint64
	fetching   bool
	polling    bool
}

func NewController(api RemoteAPI, cfg Config) *Controller {
	c := newController(api, cfg)
	go c.run()
	return c
}

func newController(api RemoteAPI, cfg Config) *Controller {
	cfg = cfg.withDefaults()
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())

	c := &Controller{
		id:       id,
		api:      api,
		cfg:      cfg,
		clock:    cfg.Clock,
		logger:   cfg.Logger.With().Str("sessionId", id).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		commands: make(chan command, 4),
		fetches:  make(chan fetchResult, 1),
		polls:    make(chan pollResult, 1),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		cur: Snapshot{
			SessionID: id,
			Status:    StatusIdle,
			UpdatedAt: cfg.Clock.Now(),
		},
	}
	c.snap = c.cur
	return c
}

func (c *Controller) ID() string {
	return c.id
}

// Start binds the session to connectionID and requests a QR code. It returns
// once the loop has acted on the request, so Snapshot already shows
// StatusGenerating (or the status that made it a no-op). Remote failures never
// surface here; they resolve into StatusExpired.
func (c *Controller) Start(connectionID string) error {
	if connectionID == "" {
		return ErrInvalidConnection
	}

	c.mu.Lock()
	if c.boundID != "" && c.boundID != connectionID {
		c.mu.Unlock()
		return ErrConnectionMismatch
	}
	c.boundID = connectionID
	c.mu.Unlock()

	return c.send(command{kind: cmdStart, connectionID: connectionID})
}

// Retry requests a fresh QR code. Only an expired session acts on it.
func (c *Controller) Retry() error {
	c.mu.RLock()
	id := c.boundID
	c.mu.RUnlock()

	if id == "" {
		return ErrNotStarted
	}
	return c.send(command{kind: cmdRetry, connectionID: id})
}

// Dispose stops both timers and the loop. In-flight remote results are
// discarded. Once Dispose returns the snapshot never changes again.
func (c *Controller) Dispose() {
	c.disposeOnce.Do(func() {
		c.cancel()
		close(c.done)
	})
	<-c.stopped
}

func (c *Controller) Done() <-chan struct{} {
	return c.done
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

func (c *Controller) timersArmed() (countdown, poll bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.countdownArmed, c.pollArmed
}

// send queues cmd and waits for its turn to be committed. It must not be
// called from OnChange.
func (c *Controller) send(cmd command) error {
	if c.disposed() {
		return ErrDisposed
	}
	cmd.ack = make(chan struct{})
	select {
	case c.commands <- cmd:
	case <-c.done:
		return ErrDisposed
	}
	select {
	case <-cmd.ack:
		return nil
	case <-c.done:
		return ErrDisposed
	}
}

func (c *Controller) disposed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Controller) run() {
	defer close(c.stopped)
	defer c.disarmAll()

	for {
		var t turn
		select {
		case <-c.done:
			return
		case cmd := <-c.commands:
			t.commands = append(t.commands, cmd)
		case r := <-c.fetches:
			t.fetches = append(t.fetches, r)
		case r := <-c.polls:
			t.polls = append(t.polls, r)
		case <-tickerChan(c.countdown):
			t.tick = true
		case <-tickerChan(c.poller):
			t.pollDue = true
		}

		c.drain(&t)
		if c.disposed() {
			return
		}
		c.apply(t)
	}
}

func (c *Controller) drain(t *turn) {
	for {
		select {
		case cmd := <-c.commands:
			t.commands = append(t.commands, cmd)
		case r := <-c.fetches:
			t.fetches = append(t.fetches, r)
		case r := <-c.polls:
			t.polls = append(t.polls, r)
		case <-tickerChan(c.countdown):
			t.tick = true
		case <-tickerChan(c.poller):
			t.pollDue = true
		default:
			return
		}
	}
}

// apply runs one turn. Poll results go first so that a remote "connected"
// wins over a countdown expiry that became due in the same turn. Commands go
// before fetch results: they were issued while that fetch was still pending,
// so a repeated Start must not see the session it produced.
func (c *Controller) apply(t turn) {
	changed := false

	for _, r := range t.polls {
		if c.applyPoll(r) {
			changed = true
		}
	}
	for _, cmd := range t.commands {
		if c.applyCommand(cmd) {
			changed = true
		}
	}
	for _, r := range t.fetches {
		if c.applyFetch(r) {
			changed = true
		}
	}
	if t.tick && c.applyTick() {
		changed = true
	}
	if t.pollDue {
		c.launchPoll()
	}

	snap := c.commit(changed)
	for _, cmd := range t.commands {
		if cmd.ack != nil {
			close(cmd.ack)
		}
	}
	if changed && c.cfg.OnChange != nil {
		c.cfg.OnChange(snap)
	}
}

func (c *Controller) applyPoll(r pollResult) bool {
	c.polling = false

	if r.err != nil {
		c.logger.Warn().Err(r.err).Msg("pairing status poll failed")
		return false
	}
	if !r.state.Connected() || c.cur.Status == StatusConnected {
		return false
	}

	// Any fetch still in flight belongs to a superseded request.
	c.generation++
	c.fetching = false
	c.disarmAll()

	c.cur.Status = StatusConnected
	c.cur.QRPayload = ""
	c.cur.QRStale = false
	c.cur.CountdownSeconds = 0

	c.logger.Info().
		Str("connectionId", c.cur.ConnectionID).
		Int("attempt", c.cur.Attempt).
		Msg("channel paired")
	return true
}

func (c *Controller) applyFetch(r fetchResult) bool {
	if r.gen != c.generation {
		return false
	}
	c.fetching = false

	if c.cur.Status != StatusGenerating {
		return false
	}

	if r.err != nil || r.qr == nil || r.qr.Payload == "" || r.qr.ExpiresAt.IsZero() {
		ev := c.logger.Warn().Str("connectionId", c.cur.ConnectionID)
		if r.err != nil {
			ev = ev.Err(r.err)
		}
		ev.Msg("qr code request failed")
		c.expire()
		return true
	}

	expiresAt := r.qr.ExpiresAt
	c.expiresAt = expiresAt
	c.cur.QRPayload = r.qr.Payload
	c.cur.QRStale = false
	c.cur.ExpiresAt = &expiresAt
	c.cur.CountdownSeconds = c.remainingSeconds()

	if !c.timeLeft() {
		c.logger.Warn().
			Time("expiresAt", expiresAt).
			Msg("qr code issued already expired")
		c.expire()
		return true
	}

	c.armCountdown()
	c.cur.Status = StatusReady

	c.logger.Debug().
		Int("countdown", c.cur.CountdownSeconds).
		Msg("qr code ready")
	return true
}

func (c *Controller) applyCommand(cmd command) bool {
	switch c.cur.Status {
	case StatusConnected:
		return false
	case StatusIdle, StatusReady:
		if cmd.kind == cmdRetry {
			return false
		}
	case StatusGenerating:
		return false
	}

	if c.fetching {
		return false
	}

	c.begin(cmd.connectionID)
	return true
}

func (c *Controller) begin(connectionID string) {
	c.disarmCountdown()
	c.generation++
	c.fetching = true

	c.cur.ConnectionID = connectionID
	c.cur.Status = StatusGenerating
	c.cur.QRPayload = ""
	c.cur.QRStale = false
	c.cur.ExpiresAt = nil
	c.cur.CountdownSeconds = 0
	c.cur.Attempt++
	c.expiresAt = time.Time{}

	if c.poller == nil {
		c.poller = c.clock.NewTicker(c.cfg.PollInterval)
	}

	c.logger.Debug().
		Str("connectionId", connectionID).
		Int("attempt", c.cur.Attempt).
		Msg("requesting qr code")

	go c.fetch(c.generation, connectionID)
}

func (c *Controller) applyTick() bool {
	if c.countdown == nil || c.cur.Status != StatusReady {
		return false
	}

	if !c.timeLeft() {
		c.logger.Info().Str("connectionId", c.cur.ConnectionID).Msg("qr code expired")
		c.expire()
		return true
	}
	secs := c.remainingSeconds()
	if secs == c.cur.CountdownSeconds {
		return false
	}
	c.cur.CountdownSeconds = secs
	return true
}

func (c *Controller) expire() {
	c.disarmCountdown()
	c.cur.Status = StatusExpired
	c.cur.CountdownSeconds = 0
	c.cur.QRStale = c.cur.QRPayload != ""
}

func (c *Controller) launchPoll() {
	if c.poller == nil || c.polling || c.cur.Status == StatusConnected {
		return
	}
	c.polling = true
	go c.poll(c.cur.ConnectionID)
}

func (c *Controller) fetch(gen uint64, connectionID string) {
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.RequestTimeout)
	defer cancel()

	qr, err := c.api.GetQRCode(ctx, connectionID)
	select {
	case c.fetches <- fetchResult{gen: gen, qr: qr, err: err}:
	case <-c.done:
	}
}

func (c *Controller) poll(connectionID string) {
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.RequestTimeout)
	defer cancel()

	state, err := c.api.GetConnectionStatus(ctx, connectionID)
	select {
	case c.polls <- pollResult{state: state, err: err}:
	case <-c.done:
	}
}

// remainingSeconds derives the countdown from the backend expiry and the
// wall clock so a throttled ticker cannot drift it.
func (c *Controller) remainingSeconds() int {
	secs := int(math.Round(c.expiresAt.Sub(c.clock.Now()).Seconds()))
	if secs < 0 {
		return 0
	}
	return secs
}

// timeLeft decides expiry on the exact remaining time; rounding is for display.
func (c *Controller) timeLeft() bool {
	return c.expiresAt.After(c.clock.Now())
}

func (c *Controller) armCountdown() {
	c.disarmCountdown()
	c.countdown = c.clock.NewTicker(c.cfg.TickInterval)
}

func (c *Controller) disarmCountdown() {
	if c.countdown != nil {
		c.countdown.Stop()
		c.countdown = nil
	}
}

func (c *Controller) disarmAll() {
	c.disarmCountdown()
	if c.poller != nil {
		c.poller.Stop()
		c.poller = nil
	}
	c.mu.Lock()
	c.countdownArmed = false
	c.pollArmed = false
	c.mu.Unlock()
}

// commit makes the loop's state visible to Snapshot.
func (c *Controller) commit(changed bool) Snapshot {
	if changed {
		c.cur.UpdatedAt = c.clock.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if changed {
		c.snap = c.cur
	}
	c.countdownArmed = c.countdown != nil
	c.pollArmed = c.poller != nil
	return c.snap
}

func tickerChan(t clockwork.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.Chan()
}
