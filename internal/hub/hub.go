package hub

import (
	"context"
	"sync"
	"time"

	"peerline/internal/live"
	"peerline/internal/match"
	"peerline/internal/obs"
	"peerline/internal/queue"
	"peerline/internal/registry"
	"peerline/pkg/types"
)

// eventDisconnect is the internal cascade event raised by the transport
// layer; clients cannot submit it.
const eventDisconnect = "_disconnect"

// SessionCreator runs the orchestration transaction for a claimed match.
type SessionCreator interface {
	CreateSession(ctx context.Context, m *match.Match) (*types.Session, error)
}

// AlertSink accepts safety reports for escalation.
type AlertSink interface {
	Alert(ctx context.Context, report types.SafetyAlertReport) error
}

// Event is one inbound frame attributed to its connection.
type Event struct {
	ConnID  string
	Type    string
	Payload any
}

// Hub is the single coordination point for all inbound events. Every event
// flows through one buffered channel into one goroutine, so multi-entity
// operations (queue + registry + live session) never interleave. Single-entity
// reads and the orchestration transaction itself run outside the loop.
type Hub struct {
	events chan Event
	stop   chan struct{}

	conns         *registry.Registry
	queue         *queue.Queue
	engine        *match.Engine
	live          *live.Registry
	orchestrator  SessionCreator
	relay         AlertSink
	limiter       *RateLimiter
	statsInterval time.Duration

	running bool
	mu      sync.RWMutex
	wg      sync.WaitGroup
}

// NewHub creates a hub. The live registry's responder-freed hook is attached
// here so freed responders immediately see the waiting queue again.
func NewHub(conns *registry.Registry, q *queue.Queue, engine *match.Engine, liveReg *live.Registry, orchestrator SessionCreator, relay AlertSink, statsInterval time.Duration) *Hub {
	h := &Hub{
		events:        make(chan Event, 1000),
		stop:          make(chan struct{}),
		conns:         conns,
		queue:         q,
		engine:        engine,
		live:          liveReg,
		orchestrator:  orchestrator,
		relay:         relay,
		limiter:       NewRateLimiter(),
		statsInterval: statsInterval,
	}
	liveReg.OnResponderFreed = h.sendWaitingList
	return h
}

// Start launches the hub loop.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	h.wg.Add(1)
	go h.run(ctx)
	return nil
}

// Stop shuts the hub loop down and waits for it to drain.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	h.mu.Unlock()

	close(h.stop)
	h.wg.Wait()
	return nil
}

// Dispatch queues an inbound event. Rate limited per connection; a full
// channel sheds load rather than blocking the transport reader.
func (h *Hub) Dispatch(ev Event) error {
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if !running {
		return ErrHubNotRunning
	}

	if ev.Type != eventDisconnect && !h.limiter.Allow(ev.ConnID) {
		h.sendError(ev.ConnID, "rate limit exceeded, slow down")
		return nil
	}

	select {
	case h.events <- ev:
		return nil
	default:
		return ErrEventChannelFull
	}
}

// Disconnect raises the cleanup cascade for a dropped connection. Unlike
// client events it must not be shed: block until the loop takes it, or until
// the hub stops and nothing will drain the channel again.
func (h *Hub) Disconnect(connID string) {
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if !running {
		return
	}
	select {
	case h.events <- Event{ConnID: connID, Type: eventDisconnect}:
	case <-h.stop:
	}
}

func (h *Hub) run(ctx context.Context) {
	defer h.wg.Done()

	stats := time.NewTicker(h.statsInterval)
	limiterGC := time.NewTicker(time.Minute)
	defer stats.Stop()
	defer limiterGC.Stop()

	for {
		select {
		case ev := <-h.events:
			h.handleEvent(ctx, ev)
		case <-stats.C:
			h.broadcastStats()
		case <-limiterGC.C:
			h.limiter.Cleanup()
		case <-h.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) handleEvent(ctx context.Context, ev Event) {
	switch ev.Type {
	case types.EventJoinQueue:
		payload, _ := ev.Payload.(types.JoinQueue)
		h.handleJoinQueue(ev.ConnID, payload)
	case types.EventAvailable:
		h.handleAvailable(ev.ConnID)
	case types.EventAccept:
		payload, _ := ev.Payload.(types.Accept)
		h.handleAccept(ctx, ev.ConnID, payload)
	case types.EventDecline:
		// Declines carry no state change: the requester stays queued and
		// other responders still see them.
		obs.Log.WithField("conn_id", ev.ConnID).Debug("responder declined")
	case types.EventSessionStart:
		payload, _ := ev.Payload.(types.SessionStart)
		h.handleSessionStart(ev.ConnID, payload)
	case types.EventEndSession:
		payload, _ := ev.Payload.(types.EndSession)
		h.handleEndSession(ctx, ev.ConnID, payload)
	case types.EventSafetyAlert:
		payload, _ := ev.Payload.(types.SafetyAlertReport)
		h.handleSafetyAlert(ctx, ev.ConnID, payload)
	case eventDisconnect:
		h.handleDisconnect(ev.ConnID)
	default:
		h.sendError(ev.ConnID, "unknown event type")
	}
}

func (h *Hub) handleJoinQueue(connID string, payload types.JoinQueue) {
	conn, ok := h.conns.Get(connID)
	if !ok || conn.Role != types.RoleRequester {
		h.sendError(connID, "only requesters can join the queue")
		return
	}
	if conn.Status != types.StatusWaiting {
		h.sendError(connID, "cannot join the queue while matched or in a session")
		return
	}

	entry := &types.QueueEntry{
		ConnID:      connID,
		UserID:      conn.UserID,
		Name:        conn.Name,
		StressLevel: payload.StressLevel,
		Preferences: payload.Preferences,
	}
	position, err := h.queue.Enqueue(entry)
	if err != nil {
		h.sendError(connID, "already in queue")
		return
	}

	h.send(connID, types.QueueJoined{
		Type:                 types.EventQueueJoined,
		Position:             position,
		EstimatedWaitSeconds: h.engine.EstimateWaitSeconds(),
	})

	waiting := types.StudentWaiting{
		Type:        types.EventStudentWaiting,
		StudentID:   connID,
		StudentName: conn.Name,
		WaitTime:    0,
		Position:    position,
	}
	for _, responder := range h.conns.AvailableResponders() {
		h.send(responder.ID, waiting)
	}

	obs.WaitingRequesters.Set(float64(h.queue.Len()))
	obs.Log.WithField("conn_id", connID).WithField("position", position).Info("requester joined queue")
}

func (h *Hub) handleAvailable(connID string) {
	conn, ok := h.conns.Get(connID)
	if !ok || conn.Role != types.RoleResponder {
		h.sendError(connID, "only responders can signal availability")
		return
	}
	if conn.Status == types.StatusInSession {
		h.sendError(connID, "cannot become available while in a session")
		return
	}
	_ = h.conns.SetStatus(connID, types.StatusAvailable)
	h.sendWaitingList(connID)
}

func (h *Hub) handleAccept(ctx context.Context, connID string, payload types.Accept) {
	conn, ok := h.conns.Get(connID)
	if !ok || conn.Role != types.RoleResponder {
		h.sendError(connID, "only responders can accept matches")
		return
	}
	// A responder may only claim a match for itself.
	if payload.ResponderID != "" && payload.ResponderID != connID {
		h.sendError(connID, "cannot accept on behalf of another responder")
		return
	}

	m, err := h.engine.AcceptMatch(payload.RequesterID, connID)
	if err != nil {
		obs.MatchFailedTotal.WithLabelValues(matchFailReason(err)).Inc()
		h.send(connID, types.MatchFailed{Type: types.EventMatchFailed, Error: err.Error()})
		return
	}

	// Orchestration performs blocking collaborator I/O; it must not stall
	// the event loop. The responder is already claimed, so this is safe to
	// run concurrently.
	go func() {
		if _, err := h.orchestrator.CreateSession(ctx, m); err != nil {
			obs.Log.WithError(err).Warn("session orchestration failed")
		}
	}()
}

func (h *Hub) handleSessionStart(connID string, payload types.SessionStart) {
	if !h.live.ParticipantOf(payload.SessionID, connID) {
		h.sendError(connID, "not a participant of this session")
		return
	}
	s, ok := h.live.Get(payload.SessionID)
	if !ok {
		return
	}
	h.live.Broadcast(payload.SessionID, types.SessionActiveEvent{
		Type:      types.EventSessionActive,
		SessionID: payload.SessionID,
		StartedAt: s.StartedAt,
	}, "")
}

func (h *Hub) handleEndSession(ctx context.Context, connID string, payload types.EndSession) {
	conn, ok := h.conns.Get(connID)
	if !ok {
		return
	}
	if !h.live.ParticipantOf(payload.SessionID, connID) {
		h.sendError(connID, "not a participant of this session")
		return
	}

	reason := payload.Reason
	if reason == "" {
		reason = "ended by participant"
	}
	// End persists and notifies; run it off-loop like orchestration.
	go func() {
		if err := h.live.End(ctx, payload.SessionID, reason, conn.UserID); err != nil {
			obs.Log.WithError(err).WithField("session_id", payload.SessionID).Warn("end session failed")
		}
	}()
}

func (h *Hub) handleSafetyAlert(ctx context.Context, connID string, report types.SafetyAlertReport) {
	if report.SessionID != "" && !h.live.ParticipantOf(report.SessionID, connID) {
		conn, ok := h.conns.Get(connID)
		if !ok || conn.Role != types.RoleAdmin {
			h.sendError(connID, "not a participant of this session")
			return
		}
	}
	go func() {
		if err := h.relay.Alert(ctx, report); err != nil {
			obs.Log.WithError(err).WithField("session_id", report.SessionID).Warn("safety alert failed")
		}
	}()
}

// handleDisconnect runs the full cascade for a dropped connection: leave the
// queue, mark any live session disconnected, drop the registry entry.
func (h *Hub) handleDisconnect(connID string) {
	conn, ok := h.conns.Get(connID)
	if !ok {
		return
	}

	if _, removed := h.queue.Remove(connID); removed {
		obs.WaitingRequesters.Set(float64(h.queue.Len()))
	}

	if conn.SessionID != "" {
		h.live.MarkDisconnected(conn.SessionID, conn.Role)
	}

	h.conns.Remove(connID)
	h.limiter.Forget(connID)
	obs.Log.WithField("conn_id", connID).WithField("role", string(conn.Role)).Info("connection cleaned up")
}

// sendWaitingList replays the current queue to one responder as a sequence of
// student_waiting frames, oldest first.
func (h *Hub) sendWaitingList(connID string) {
	now := time.Now()
	for i, entry := range h.queue.Snapshot() {
		h.send(connID, types.StudentWaiting{
			Type:        types.EventStudentWaiting,
			StudentID:   entry.ConnID,
			StudentName: entry.Name,
			WaitTime:    int(now.Sub(entry.EnqueuedAt).Seconds()),
			Position:    i + 1,
		})
	}
}

func (h *Hub) broadcastStats() {
	counts := h.conns.Counts()
	waiting := h.queue.Len()
	active := h.live.Count()

	obs.ConnectedClients.WithLabelValues(string(types.RoleRequester)).Set(float64(counts.Requesters))
	obs.ConnectedClients.WithLabelValues(string(types.RoleResponder)).Set(float64(counts.Responders))
	obs.ConnectedClients.WithLabelValues(string(types.RoleAdmin)).Set(float64(counts.Admins))
	obs.WaitingRequesters.Set(float64(waiting))
	obs.AvailableResponders.Set(float64(counts.AvailableResponders))
	obs.ActiveSessions.Set(float64(active))

	stats := types.LiveStats{
		Type:                    types.EventLiveStats,
		ActiveRequesters:        counts.Requesters,
		ActiveResponders:        counts.Responders,
		ActiveSessions:          active,
		WaitingCount:            waiting,
		AvailableResponderCount: counts.AvailableResponders,
	}
	for _, adminID := range h.conns.Admins() {
		h.send(adminID, stats)
	}
}

func (h *Hub) send(connID string, payload any) {
	if err := h.conns.Send(connID, payload); err != nil {
		obs.Log.WithError(err).WithField("conn_id", connID).Debug("send skipped connection")
	}
}

func (h *Hub) sendError(connID, msg string) {
	h.send(connID, types.ErrorEvent{Type: types.EventError, Error: msg})
}

func matchFailReason(err error) string {
	switch err {
	case match.ErrNoResponderAvailable:
		return "no_responder"
	case match.ErrRequesterGone:
		return "requester_gone"
	case match.ErrResponderUnavailable:
		return "responder_unavailable"
	default:
		return "other"
	}
}
