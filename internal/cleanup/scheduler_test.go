package cleanup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"peerline/internal/events"
	"peerline/internal/live"
	"peerline/internal/registry"
	"peerline/pkg/interfaces"
	"peerline/pkg/types"
)

type nopSink struct{}

func (nopSink) WriteJSON(any) error { return nil }
func (nopSink) Close() error        { return nil }

type statusUpdate struct {
	sessionID string
	status    types.SessionStatus
	endReason string
}

type fakeStore struct {
	mu       sync.Mutex
	active   []*types.Session
	updates  []statusUpdate
	purgeCut time.Time
	purged   int64

	listErr   error
	updateErr error
	purgeErr  error
}

func (f *fakeStore) CreateSession(context.Context, *types.Session) error { return nil }
func (f *fakeStore) GetSession(context.Context, string) (*types.Session, error) {
	return nil, interfaces.ErrSessionNotFound
}

func (f *fakeStore) UpdateSessionStatus(ctx context.Context, id string, status types.SessionStatus, endReason string, endedAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, statusUpdate{sessionID: id, status: status, endReason: endReason})
	return nil
}

func (f *fakeStore) FlagSafety(context.Context, string) error { return nil }
func (f *fakeStore) ListActiveSessions(context.Context) ([]*types.Session, error) {
	return f.active, f.listErr
}

func (f *fakeStore) ListActiveCreatedBefore(ctx context.Context, cutoff time.Time) ([]*types.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*types.Session
	for _, s := range f.active {
		if s.CreatedAt.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) PurgeCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.purgeErr != nil {
		return 0, f.purgeErr
	}
	f.purgeCut = cutoff
	return f.purged, nil
}

func (f *fakeStore) HealthCheck(context.Context) error { return nil }
func (f *fakeStore) Close() error                      { return nil }

func (f *fakeStore) allUpdates() []statusUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]statusUpdate, len(f.updates))
	copy(out, f.updates)
	return out
}

func defaultOptions() Options {
	return Options{
		ExpireInterval:  5 * time.Minute,
		ExpireAfter:     time.Hour,
		AbandonInterval: 10 * time.Minute,
		AbandonAfter:    10 * time.Minute,
		PurgeInterval:   24 * time.Hour,
		RetainFor:       720 * time.Hour,
	}
}

func session(id string, age time.Duration, now time.Time) *types.Session {
	return &types.Session{
		ID:        id,
		Status:    types.SessionActive,
		CreatedAt: now.Add(-age),
	}
}

func TestExpireSweep(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	conns := registry.NewRegistry()
	store := &fakeStore{active: []*types.Session{
		session("old", 2*time.Hour, now),
		session("fresh", 30*time.Minute, now),
	}}
	liveReg := live.NewRegistry(conns, store, events.NopPublisher{})

	s := NewScheduler(store, liveReg, defaultOptions())
	s.now = func() time.Time { return now }

	s.ExpireSweep(context.Background())

	updates := store.allUpdates()
	if len(updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(updates))
	}
	if updates[0].sessionID != "old" || updates[0].status != types.SessionExpired {
		t.Errorf("update = %+v, want old/expired", updates[0])
	}
}

func TestExpireSweepTearsDownLiveSession(t *testing.T) {
	now := time.Now()
	conns := registry.NewRegistry()
	store := &fakeStore{}
	liveReg := live.NewRegistry(conns, store, events.NopPublisher{})

	responder, err := conns.Register(types.RoleResponder, "senior1", "Senior", nopSink{})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	conns.CompareAndSetStatus(responder.ID, types.StatusAvailable, types.StatusInSession)

	stale := &types.Session{
		ID:              "stale",
		ResponderConnID: responder.ID,
		Status:          types.SessionActive,
		CreatedAt:       now.Add(-2 * time.Hour),
	}
	store.active = []*types.Session{stale}
	liveReg.Register(stale)

	s := NewScheduler(store, liveReg, defaultOptions())
	s.ExpireSweep(context.Background())

	if liveReg.Has("stale") {
		t.Error("expired session still registered live")
	}
	got, _ := conns.Get(responder.ID)
	if got.Status != types.StatusAvailable {
		t.Errorf("responder status = %s, want available", got.Status)
	}
}

func TestExpireSweepToleratesErrors(t *testing.T) {
	conns := registry.NewRegistry()
	store := &fakeStore{listErr: errors.New("db locked")}
	liveReg := live.NewRegistry(conns, store, events.NopPublisher{})

	s := NewScheduler(store, liveReg, defaultOptions())
	s.ExpireSweep(context.Background()) // must not panic

	store.listErr = nil
	store.active = []*types.Session{session("old", 2*time.Hour, time.Now())}
	store.updateErr = errors.New("db locked")
	s.ExpireSweep(context.Background()) // update failure skips, next tick retries
}

func TestAbandonSweepSkipsLiveSessions(t *testing.T) {
	now := time.Now()
	conns := registry.NewRegistry()
	store := &fakeStore{}
	liveReg := live.NewRegistry(conns, store, events.NopPublisher{})

	tracked := session("tracked", 30*time.Minute, now)
	orphaned := session("orphaned", 30*time.Minute, now)
	store.active = []*types.Session{tracked, orphaned}
	liveReg.Register(tracked)

	s := NewScheduler(store, liveReg, defaultOptions())
	s.AbandonSweep(context.Background())

	updates := store.allUpdates()
	if len(updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(updates))
	}
	if updates[0].sessionID != "orphaned" || updates[0].status != types.SessionAbandoned {
		t.Errorf("update = %+v, want orphaned/abandoned", updates[0])
	}
	if updates[0].endReason != "no participant attached" {
		t.Errorf("end reason = %q", updates[0].endReason)
	}
}

func TestAbandonSweepSkipsRecentSessions(t *testing.T) {
	now := time.Now()
	conns := registry.NewRegistry()
	store := &fakeStore{active: []*types.Session{session("new", time.Minute, now)}}
	liveReg := live.NewRegistry(conns, store, events.NopPublisher{})

	s := NewScheduler(store, liveReg, defaultOptions())
	s.AbandonSweep(context.Background())

	if len(store.allUpdates()) != 0 {
		t.Error("recent session was abandoned")
	}
}

func TestPurgeSweepCutoff(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	conns := registry.NewRegistry()
	store := &fakeStore{purged: 3}
	liveReg := live.NewRegistry(conns, store, events.NopPublisher{})

	s := NewScheduler(store, liveReg, defaultOptions())
	s.now = func() time.Time { return now }

	s.PurgeSweep(context.Background())

	want := now.Add(-720 * time.Hour)
	if !store.purgeCut.Equal(want) {
		t.Errorf("purge cutoff = %v, want %v", store.purgeCut, want)
	}
}

func TestStartStop(t *testing.T) {
	conns := registry.NewRegistry()
	store := &fakeStore{}
	liveReg := live.NewRegistry(conns, store, events.NopPublisher{})

	s := NewScheduler(store, liveReg, defaultOptions())
	s.Start(context.Background())
	s.Start(context.Background()) // second start is a no-op
	s.Stop()
	s.Stop() // second stop is a no-op
}
