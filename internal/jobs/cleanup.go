package jobs

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

type IdleReaper interface {
	ReapIdle() int
}

type AttemptPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupJob closes pairing sessions left expired and prunes old pairing
// history.
type CleanupJob struct {
	sessions  IdleReaper
	attempts  AttemptPruner
	retention time.Duration
	interval  time.Duration
	clock     clockwork.Clock
	done      chan struct{}
	stopped   chan struct{}
}

func NewCleanupJob(
	sessions IdleReaper,
	attempts AttemptPruner,
	retention time.Duration,
	interval time.Duration,
	clock clockwork.Clock,
) *CleanupJob {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CleanupJob{
		sessions:  sessions,
		attempts:  attempts,
		retention: retention,
		interval:  interval,
		clock:     clock,
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().
		Dur("interval", j.interval).
		Dur("retention", j.retention).
		Msg("cleanup job started")
}

// Stop waits for an in-flight pass to finish.
func (j *CleanupJob) Stop() {
	close(j.done)
	<-j.stopped
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	defer close(j.stopped)

	ticker := j.clock.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.Chan():
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	if n := j.sessions.ReapIdle(); n > 0 {
		log.Info().Int("count", n).Msg("closed idle pairing sessions")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := j.clock.Now().Add(-j.retention)
	j.runCleanup(ctx, "pairing attempts", func(ctx context.Context) (int64, error) {
		return j.attempts.DeleteOlderThan(ctx, cutoff)
	})
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
