package cleanup

import (
	"context"
	"sync"
	"time"

	"peerline/internal/live"
	"peerline/internal/obs"
	"peerline/pkg/interfaces"
	"peerline/pkg/types"
)

// Options configures the sweep cadence and retention windows.
type Options struct {
	ExpireInterval  time.Duration
	ExpireAfter     time.Duration
	AbandonInterval time.Duration
	AbandonAfter    time.Duration
	PurgeInterval   time.Duration
	RetainFor       time.Duration
}

// Scheduler runs the three background sweeps: expire, abandon and purge.
// Each sweep is idempotent, reacts to storage query results rather than
// in-memory state (except the abandonment registry-absence check), and
// tolerates storage errors: log and continue, the next tick retries.
type Scheduler struct {
	store interfaces.SessionStore
	live  *live.Registry
	opts  Options
	now   func() time.Time

	stop chan struct{}
	wg   sync.WaitGroup
	mu   sync.Mutex
	on   bool
}

// NewScheduler creates a cleanup scheduler.
func NewScheduler(store interfaces.SessionStore, liveReg *live.Registry, opts Options) *Scheduler {
	return &Scheduler{
		store: store,
		live:  liveReg,
		opts:  opts,
		now:   time.Now,
		stop:  make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.on {
		s.mu.Unlock()
		return
	}
	s.on = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop halts the sweep loop and waits for any in-flight sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.on {
		s.mu.Unlock()
		return
	}
	s.on = false
	s.mu.Unlock()

	close(s.stop)
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	expire := time.NewTicker(s.opts.ExpireInterval)
	abandon := time.NewTicker(s.opts.AbandonInterval)
	purge := time.NewTicker(s.opts.PurgeInterval)
	defer expire.Stop()
	defer abandon.Stop()
	defer purge.Stop()

	for {
		select {
		case <-expire.C:
			s.ExpireSweep(ctx)
		case <-abandon.C:
			s.AbandonSweep(ctx)
		case <-purge.C:
			s.PurgeSweep(ctx)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// ExpireSweep marks sessions active past the expiry window as expired and
// tears down any that are still live, freeing their responders.
func (s *Scheduler) ExpireSweep(ctx context.Context) {
	obs.SweepRunsTotal.WithLabelValues("expire").Inc()

	now := s.now()
	sessions, err := s.store.ListActiveCreatedBefore(ctx, now.Add(-s.opts.ExpireAfter))
	if err != nil {
		obs.SweepErrorsTotal.WithLabelValues("expire").Inc()
		obs.Log.WithError(err).Warn("expire sweep query failed")
		return
	}

	for _, session := range sessions {
		endedAt := now
		err := s.store.UpdateSessionStatus(ctx, session.ID, types.SessionExpired, "session exceeded maximum duration", &endedAt)
		if err != nil {
			obs.SweepErrorsTotal.WithLabelValues("expire").Inc()
			obs.Log.WithError(err).WithField("session_id", session.ID).Warn("failed to expire session")
			continue
		}
		s.live.Expire(session.ID)
		obs.Log.WithField("session_id", session.ID).Info("session expired")
	}
}

// AbandonSweep reconciles sessions whose creation transaction completed in
// storage but whose live registration never happened (crash or restart
// between steps). Anything still reachable through the live registry is left
// alone.
func (s *Scheduler) AbandonSweep(ctx context.Context) {
	obs.SweepRunsTotal.WithLabelValues("abandon").Inc()

	now := s.now()
	sessions, err := s.store.ListActiveCreatedBefore(ctx, now.Add(-s.opts.AbandonAfter))
	if err != nil {
		obs.SweepErrorsTotal.WithLabelValues("abandon").Inc()
		obs.Log.WithError(err).Warn("abandon sweep query failed")
		return
	}

	for _, session := range sessions {
		if s.live.Has(session.ID) {
			continue
		}
		endedAt := now
		err := s.store.UpdateSessionStatus(ctx, session.ID, types.SessionAbandoned, "no participant attached", &endedAt)
		if err != nil {
			obs.SweepErrorsTotal.WithLabelValues("abandon").Inc()
			obs.Log.WithError(err).WithField("session_id", session.ID).Warn("failed to abandon session")
			continue
		}
		obs.Log.WithField("session_id", session.ID).Info("session abandoned")
	}
}

// PurgeSweep deletes sessions past the retention window. Safety-flagged
// records are retained indefinitely (compliance requirement).
func (s *Scheduler) PurgeSweep(ctx context.Context) {
	obs.SweepRunsTotal.WithLabelValues("purge").Inc()

	deleted, err := s.store.PurgeCreatedBefore(ctx, s.now().Add(-s.opts.RetainFor))
	if err != nil {
		obs.SweepErrorsTotal.WithLabelValues("purge").Inc()
		obs.Log.WithError(err).Warn("purge sweep failed")
		return
	}
	if deleted > 0 {
		obs.Log.WithField("deleted", deleted).Info("purged retained sessions")
	}
}
