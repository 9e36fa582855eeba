package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"peerline/pkg/interfaces"
	"peerline/pkg/types"
)

// Connection is the registry's view of one live transport link. Role is
// fixed at registration. Copies are handed out; all mutation goes through
// registry methods so every transition is a single atomic step.
type Connection struct {
	ID        string           `json:"id"`
	Role      types.Role       `json:"role"`
	UserID    string           `json:"userId"`
	Name      string           `json:"name"`
	JoinedAt  time.Time        `json:"joinedAt"`
	Status    types.ConnStatus `json:"status"`
	SessionID string           `json:"sessionId,omitempty"`
}

type entry struct {
	conn Connection
	sink interfaces.Sink
}

// Registry tracks every live connection and its role/status. Pure in-memory
// state; the mutex makes each check-and-mutate method atomic so callers never
// need a separate check-then-act sequence.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*entry
	now   func() time.Time
}

// Stats is a point-in-time census of the registry.
type Stats struct {
	Requesters          int
	Responders          int
	Admins              int
	AvailableResponders int
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*entry),
		now:   time.Now,
	}
}

// Register adds a connection and returns its assigned id. Requesters start
// waiting, responders start available, admins carry no matching status.
func (r *Registry) Register(role types.Role, userID, name string, sink interfaces.Sink) (Connection, error) {
	if !types.IsValidRole(role) {
		return Connection{}, types.ErrInvalidRole
	}
	if !types.IsValidUserID(userID) {
		return Connection{}, types.ErrInvalidUserID
	}
	if !types.IsValidName(name) {
		return Connection{}, types.ErrInvalidName
	}

	conn := Connection{
		ID:       uuid.New().String(),
		Role:     role,
		UserID:   userID,
		Name:     name,
		JoinedAt: r.now(),
	}
	switch role {
	case types.RoleRequester:
		conn.Status = types.StatusWaiting
	case types.RoleResponder:
		conn.Status = types.StatusAvailable
	}

	r.mu.Lock()
	r.conns[conn.ID] = &entry{conn: conn, sink: sink}
	r.mu.Unlock()

	return conn, nil
}

// Get returns a copy of the connection, if registered.
func (r *Registry) Get(id string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	return e.conn, true
}

// Remove drops a connection. Silent if absent: disconnect may race with
// other cleanup paths.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
}

// SetStatus sets a connection's status unconditionally, validating that the
// status is legal for the connection's role.
func (r *Registry) SetStatus(id string, status types.ConnStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok {
		return ErrConnectionNotFound
	}
	if !statusLegalForRole(e.conn.Role, status) {
		return ErrStatusNotAllowed
	}
	e.conn.Status = status
	return nil
}

// CompareAndSetStatus transitions status only if the current value matches
// from. Returns false when the connection is gone or the status moved on.
// This check keeps concurrent accepts from double-claiming a responder.
func (r *Registry) CompareAndSetStatus(id string, from, to types.ConnStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok || e.conn.Status != from {
		return false
	}
	if !statusLegalForRole(e.conn.Role, to) {
		return false
	}
	e.conn.Status = to
	return true
}

// SetSession records (or clears, with "") the session a connection is in.
func (r *Registry) SetSession(id, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok {
		return ErrConnectionNotFound
	}
	e.conn.SessionID = sessionID
	return nil
}

// Send delivers an outbound event to one connection. Delivery happens
// outside the registry lock; a missing connection is an error the caller may
// ignore on best-effort paths.
func (r *Registry) Send(id string, v any) error {
	r.mu.RLock()
	e, ok := r.conns[id]
	var sink interfaces.Sink
	if ok {
		sink = e.sink
	}
	r.mu.RUnlock()

	if !ok {
		return ErrConnectionNotFound
	}
	return sink.WriteJSON(v)
}

// AvailableResponders returns a snapshot of responders with status available.
func (r *Registry) AvailableResponders() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Connection
	for _, e := range r.conns {
		if e.conn.Role == types.RoleResponder && e.conn.Status == types.StatusAvailable {
			out = append(out, e.conn)
		}
	}
	return out
}

// Admins returns the connection ids of every registered admin.
func (r *Registry) Admins() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for id, e := range r.conns {
		if e.conn.Role == types.RoleAdmin {
			out = append(out, id)
		}
	}
	return out
}

// Counts returns a census for stats broadcasting and metrics.
func (r *Registry) Counts() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var s Stats
	for _, e := range r.conns {
		switch e.conn.Role {
		case types.RoleRequester:
			s.Requesters++
		case types.RoleResponder:
			s.Responders++
			if e.conn.Status == types.StatusAvailable {
				s.AvailableResponders++
			}
		case types.RoleAdmin:
			s.Admins++
		}
	}
	return s
}

func statusLegalForRole(role types.Role, status types.ConnStatus) bool {
	switch role {
	case types.RoleRequester:
		return status == types.StatusWaiting || status == types.StatusMatched || status == types.StatusInSession
	case types.RoleResponder:
		return status == types.StatusAvailable || status == types.StatusInSession
	default:
		return false
	}
}
