package live

import (
	"context"
	"fmt"
	"sync"
	"time"

	"peerline/internal/events"
	"peerline/internal/obs"
	"peerline/internal/registry"
	"peerline/pkg/interfaces"
	"peerline/pkg/types"
)

// Session is the runtime view of an active session.
type Session struct {
	ID              string
	RequesterConnID string
	ResponderConnID string
	RequesterID     string
	ResponderID     string
	Status          types.SessionStatus
	StartedAt       time.Time
}

// Registry tracks active sessions, their participant linkage and broadcast
// grouping for the session's duration. It is the single source of truth for
// "currently reachable" sessions, which the abandonment sweep depends on.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	conns     *registry.Registry
	store     interfaces.SessionStore
	publisher events.Publisher
	now       func() time.Time

	// OnResponderFreed re-exposes a freed responder to the waiting-queue
	// broadcast group. Set by the hub at wiring time; may be nil.
	OnResponderFreed func(connID string)
}

// NewRegistry creates an empty live session registry.
func NewRegistry(conns *registry.Registry, store interfaces.SessionStore, publisher events.Publisher) *Registry {
	return &Registry{
		sessions:  make(map[string]*Session),
		conns:     conns,
		store:     store,
		publisher: publisher,
		now:       time.Now,
	}
}

// Register adds a freshly orchestrated session.
func (r *Registry) Register(s *types.Session) {
	r.mu.Lock()
	r.sessions[s.ID] = &Session{
		ID:              s.ID,
		RequesterConnID: s.RequesterConnID,
		ResponderConnID: s.ResponderConnID,
		RequesterID:     s.RequesterID,
		ResponderID:     s.ResponderID,
		Status:          types.SessionActive,
		StartedAt:       s.CreatedAt,
	}
	r.mu.Unlock()
}

// Get returns a copy of the runtime session record.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Has reports whether a session is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ParticipantOf reports whether connID belongs to the session.
func (r *Registry) ParticipantOf(id, connID string) bool {
	s, ok := r.Get(id)
	return ok && (s.RequesterConnID == connID || s.ResponderConnID == connID)
}

// Broadcast delivers an event to both participant connections, skipping
// excludeConnID to avoid echoing to the sender.
func (r *Registry) Broadcast(id string, payload any, excludeConnID string) {
	s, ok := r.Get(id)
	if !ok {
		return
	}
	for _, connID := range []string{s.RequesterConnID, s.ResponderConnID} {
		if connID == excludeConnID {
			continue
		}
		if err := r.conns.Send(connID, payload); err != nil {
			obs.Log.WithError(err).WithField("conn_id", connID).Debug("session broadcast skipped connection")
		}
	}
}

// MarkDisconnected records that one side's transport dropped. The session is
// not terminal yet: it awaits the partner's end_session or the expire sweep.
func (r *Registry) MarkDisconnected(id string, side types.Role) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	// Runtime-only transition: storage keeps the session active so the
	// expire sweep can still reclassify it if nobody ends it explicitly.
	s.Status = types.SessionDisconnected
	partnerConnID := s.ResponderConnID
	if side == types.RoleResponder {
		partnerConnID = s.RequesterConnID
	}
	r.mu.Unlock()

	if err := r.conns.Send(partnerConnID, types.PartnerDisconnected{
		Type:      types.EventPartnerDisconnected,
		SessionID: id,
	}); err != nil {
		obs.Log.WithError(err).WithField("session_id", id).Debug("partner already gone")
	}
}

// End terminates a session: persists the terminal status, notifies both
// participants, frees the responder back to available, returns the requester
// to waiting and removes the session from the registry.
func (r *Registry) End(ctx context.Context, id, reason, endedBy string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	now := r.now()
	if !ok {
		// Not reachable in memory (already ended, or created before a
		// restart). Persist the transition if the record is still live.
		err := r.store.UpdateSessionStatus(ctx, id, types.SessionEnded, reason, &now)
		if err != nil && err != interfaces.ErrSessionNotFound {
			return fmt.Errorf("failed to end session %s: %w", id, err)
		}
		return err
	}

	if err := r.store.UpdateSessionStatus(ctx, id, types.SessionEnded, reason, &now); err != nil {
		// The sweeps retry against storage; in-memory teardown proceeds.
		obs.Log.WithError(err).WithField("session_id", id).Warn("failed to persist session end")
	}

	ended := types.SessionEndedEvent{
		Type:      types.EventSessionEnded,
		SessionID: id,
		EndedBy:   endedBy,
		Message:   reason,
	}
	for _, connID := range []string{s.RequesterConnID, s.ResponderConnID} {
		if err := r.conns.Send(connID, ended); err != nil {
			obs.Log.WithError(err).WithField("conn_id", connID).Debug("session end notice skipped connection")
		}
	}

	r.release(s)
	obs.SessionDurationSeconds.Observe(now.Sub(s.StartedAt).Seconds())
	r.publisher.Publish(events.SessionEnded, map[string]any{
		"sessionId": id,
		"reason":    reason,
		"endedBy":   endedBy,
	})

	obs.Log.WithField("session_id", id).WithField("reason", reason).Info("session ended")
	return nil
}

// Expire removes a session the expire sweep has already marked in storage,
// notifying any still-registered participants.
func (r *Registry) Expire(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	expired := types.SessionExpiredEvent{
		Type:      types.EventSessionExpired,
		SessionID: id,
		Message:   "This session exceeded the maximum duration and was closed.",
	}
	for _, connID := range []string{s.RequesterConnID, s.ResponderConnID} {
		if err := r.conns.Send(connID, expired); err != nil {
			obs.Log.WithError(err).WithField("conn_id", connID).Debug("expiry notice skipped connection")
		}
	}

	r.release(s)
	obs.SessionDurationSeconds.Observe(r.now().Sub(s.StartedAt).Seconds())
}

// release returns both participants to their matchable statuses.
func (r *Registry) release(s *Session) {
	if r.conns.CompareAndSetStatus(s.ResponderConnID, types.StatusInSession, types.StatusAvailable) {
		_ = r.conns.SetSession(s.ResponderConnID, "")
		if r.OnResponderFreed != nil {
			r.OnResponderFreed(s.ResponderConnID)
		}
	}
	if _, ok := r.conns.Get(s.RequesterConnID); ok {
		_ = r.conns.SetStatus(s.RequesterConnID, types.StatusWaiting)
		_ = r.conns.SetSession(s.RequesterConnID, "")
	}
}
