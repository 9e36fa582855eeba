package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"peerline/internal/events"
	"peerline/internal/live"
	"peerline/internal/match"
	"peerline/internal/queue"
	"peerline/internal/registry"
	"peerline/pkg/interfaces"
	"peerline/pkg/types"
)

type fakeSink struct {
	mu     sync.Mutex
	frames []any
}

func (s *fakeSink) WriteJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, v)
	return nil
}

func (s *fakeSink) Close() error { return nil }

func (s *fakeSink) last() (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil, false
	}
	return s.frames[len(s.frames)-1], true
}

type fakeStore struct {
	mu        sync.Mutex
	sessions  map[string]*types.Session
	createErr error
	updateErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]*types.Session)}
}

func (f *fakeStore) CreateSession(ctx context.Context, s *types.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

func (f *fakeStore) GetSession(ctx context.Context, id string) (*types.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, interfaces.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) UpdateSessionStatus(ctx context.Context, id string, status types.SessionStatus, endReason string, endedAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	s, ok := f.sessions[id]
	if !ok {
		return interfaces.ErrSessionNotFound
	}
	if s.Status.IsTerminal() {
		return nil
	}
	s.Status = status
	s.EndReason = endReason
	s.EndedAt = endedAt
	return nil
}

func (f *fakeStore) FlagSafety(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return interfaces.ErrSessionNotFound
	}
	s.SafetyFlagged = true
	return nil
}

func (f *fakeStore) ListActiveSessions(ctx context.Context) ([]*types.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Session
	for _, s := range f.sessions {
		if s.Status == types.SessionActive {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) ListActiveCreatedBefore(ctx context.Context, cutoff time.Time) ([]*types.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Session
	for _, s := range f.sessions {
		if s.Status == types.SessionActive && s.CreatedAt.Before(cutoff) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) PurgeCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeStore) HealthCheck(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error                          { return nil }

func (f *fakeStore) get(id string) *types.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[id]
}

type fakeRooms struct {
	err error
}

func (f *fakeRooms) CreateRoom(ctx context.Context, sessionID, nameA, nameB string) (*types.RoomInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &types.RoomInfo{
		RoomURL:  "https://rooms.example/" + sessionID,
		RoomName: "room-" + sessionID,
		TokenA:   "token-a",
		TokenB:   "token-b",
	}, nil
}

type fakeContent struct {
	err error
}

func (f *fakeContent) GenerateOpening(ctx context.Context, userA, userB string) (*types.Opening, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &types.Opening{TextA: "opening for requester", TextB: "opening for responder"}, nil
}

type fixture struct {
	conns         *registry.Registry
	queue         *queue.Queue
	live          *live.Registry
	store         *fakeStore
	rooms         *fakeRooms
	content       *fakeContent
	orch          *Orchestrator
	requesterSink *fakeSink
	responderSink *fakeSink
	match         *match.Match
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		conns:         registry.NewRegistry(),
		queue:         queue.NewQueue(),
		store:         newFakeStore(),
		rooms:         &fakeRooms{},
		content:       &fakeContent{},
		requesterSink: &fakeSink{},
		responderSink: &fakeSink{},
	}
	f.live = live.NewRegistry(f.conns, f.store, events.NopPublisher{})
	f.orch = New(f.conns, f.queue, f.live, f.store, f.rooms, f.content, events.NopPublisher{})

	requester, err := f.conns.Register(types.RoleRequester, "student1", "Student One", f.requesterSink)
	if err != nil {
		t.Fatalf("register requester: %v", err)
	}
	responder, err := f.conns.Register(types.RoleResponder, "senior1", "Senior One", f.responderSink)
	if err != nil {
		t.Fatalf("register responder: %v", err)
	}

	entry := &types.QueueEntry{ConnID: requester.ID, UserID: "student1", Name: "Student One"}
	if _, err := f.queue.Enqueue(entry); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	engine := match.NewEngine(f.conns, f.queue)
	m, err := engine.AcceptMatch(requester.ID, responder.ID)
	if err != nil {
		t.Fatalf("accept match: %v", err)
	}
	f.match = m
	return f
}

func TestCreateSessionSuccess(t *testing.T) {
	f := newFixture(t)

	session, err := f.orch.CreateSession(context.Background(), f.match)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if got := f.store.get(session.ID); got == nil || got.Status != types.SessionActive {
		t.Fatal("session not persisted as active")
	}
	if !f.live.Has(session.ID) {
		t.Error("session not registered live")
	}

	req, _ := f.conns.Get(f.match.Requester.ID)
	if req.Status != types.StatusInSession || req.SessionID != session.ID {
		t.Errorf("requester = %s/%s, want in_session/%s", req.Status, req.SessionID, session.ID)
	}
	resp, _ := f.conns.Get(f.match.Responder.ID)
	if resp.Status != types.StatusInSession || resp.SessionID != session.ID {
		t.Errorf("responder = %s/%s, want in_session/%s", resp.Status, resp.SessionID, session.ID)
	}

	// Each side gets its own token and opening text.
	reqFrame, ok := f.requesterSink.last()
	if !ok {
		t.Fatal("requester got no frame")
	}
	matched, ok := reqFrame.(types.Matched)
	if !ok {
		t.Fatalf("requester frame type = %T, want Matched", reqFrame)
	}
	if matched.Token != "token-a" || matched.OpeningContent != "opening for requester" {
		t.Errorf("requester got token %q content %q", matched.Token, matched.OpeningContent)
	}

	respFrame, _ := f.responderSink.last()
	matched, ok = respFrame.(types.Matched)
	if !ok {
		t.Fatalf("responder frame type = %T, want Matched", respFrame)
	}
	if matched.Token != "token-b" || matched.OpeningContent != "opening for responder" {
		t.Errorf("responder got token %q content %q", matched.Token, matched.OpeningContent)
	}
}

func TestCreateSessionRoomFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.rooms.err = errors.New("room service down")

	_, err := f.orch.CreateSession(context.Background(), f.match)
	if !errors.Is(err, ErrRoomUnavailable) {
		t.Fatalf("error = %v, want ErrRoomUnavailable", err)
	}

	// Requester is back in the queue and waiting.
	if _, queued := f.queue.Find(f.match.Requester.ID); !queued {
		t.Error("requester not re-enqueued")
	}
	req, _ := f.conns.Get(f.match.Requester.ID)
	if req.Status != types.StatusWaiting {
		t.Errorf("requester status = %s, want waiting", req.Status)
	}

	// Responder is claimable again.
	resp, _ := f.conns.Get(f.match.Responder.ID)
	if resp.Status != types.StatusAvailable {
		t.Errorf("responder status = %s, want available", resp.Status)
	}

	// Both sides got the retry notice.
	for name, sink := range map[string]*fakeSink{"requester": f.requesterSink, "responder": f.responderSink} {
		frame, ok := sink.last()
		if !ok {
			t.Fatalf("%s got no frame", name)
		}
		if _, ok := frame.(types.MatchFailed); !ok {
			t.Errorf("%s frame type = %T, want MatchFailed", name, frame)
		}
	}
}

func TestCreateSessionStoreFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.store.createErr = errors.New("disk full")

	if _, err := f.orch.CreateSession(context.Background(), f.match); err == nil {
		t.Fatal("expected error")
	}

	if _, queued := f.queue.Find(f.match.Requester.ID); !queued {
		t.Error("requester not re-enqueued")
	}
	resp, _ := f.conns.Get(f.match.Responder.ID)
	if resp.Status != types.StatusAvailable {
		t.Errorf("responder status = %s, want available", resp.Status)
	}
	if f.live.Count() != 0 {
		t.Error("live registry not empty after rollback")
	}
}

func TestCreateSessionResponderLost(t *testing.T) {
	f := newFixture(t)
	f.conns.Remove(f.match.Responder.ID)

	if _, err := f.orch.CreateSession(context.Background(), f.match); err != ErrResponderLost {
		t.Fatalf("error = %v, want ErrResponderLost", err)
	}

	// Requester goes back to the queue, nothing persisted.
	if _, queued := f.queue.Find(f.match.Requester.ID); !queued {
		t.Error("requester not re-enqueued")
	}
	if len(f.store.sessions) != 0 {
		t.Error("session persisted despite responder loss")
	}
}

func TestCreateSessionRequesterLost(t *testing.T) {
	f := newFixture(t)
	f.conns.Remove(f.match.Requester.ID)

	_, err := f.orch.CreateSession(context.Background(), f.match)
	if err != ErrRequesterLost {
		t.Fatalf("error = %v, want ErrRequesterLost", err)
	}

	// The record is persisted, then immediately ended.
	f.store.mu.Lock()
	var persisted *types.Session
	for _, s := range f.store.sessions {
		persisted = s
	}
	f.store.mu.Unlock()
	if persisted == nil {
		t.Fatal("no session persisted")
	}
	if persisted.Status != types.SessionEnded {
		t.Errorf("session status = %s, want ended", persisted.Status)
	}

	// Responder is freed and told to retry.
	resp, _ := f.conns.Get(f.match.Responder.ID)
	if resp.Status != types.StatusAvailable {
		t.Errorf("responder status = %s, want available", resp.Status)
	}
	frame, ok := f.responderSink.last()
	if !ok {
		t.Fatal("responder got no frame")
	}
	if _, ok := frame.(types.MatchFailed); !ok {
		t.Errorf("responder frame type = %T, want MatchFailed", frame)
	}
	if f.live.Count() != 0 {
		t.Error("undelivered session registered live")
	}
}

func TestCreateSessionContentFallback(t *testing.T) {
	f := newFixture(t)
	f.content.err = errors.New("content service down")

	session, err := f.orch.CreateSession(context.Background(), f.match)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if !f.live.Has(session.ID) {
		t.Fatal("session not live despite content fallback")
	}

	frame, _ := f.requesterSink.last()
	matched, ok := frame.(types.Matched)
	if !ok {
		t.Fatalf("requester frame type = %T, want Matched", frame)
	}
	if matched.OpeningContent == "" {
		t.Error("fallback opening content is empty")
	}
}

func TestCreateSessionFreedResponderHookFires(t *testing.T) {
	f := newFixture(t)
	f.rooms.err = errors.New("room service down")

	var freed []string
	var mu sync.Mutex
	f.live.OnResponderFreed = func(connID string) {
		mu.Lock()
		freed = append(freed, connID)
		mu.Unlock()
	}

	_, _ = f.orch.CreateSession(context.Background(), f.match)

	mu.Lock()
	defer mu.Unlock()
	if len(freed) != 1 || freed[0] != f.match.Responder.ID {
		t.Errorf("freed hooks = %v, want [%s]", freed, f.match.Responder.ID)
	}
}
