package match

import (
	"peerline/internal/queue"
	"peerline/internal/registry"
	"peerline/pkg/types"
)

// Match is a successful pairing handed off to the session orchestrator.
type Match struct {
	Entry     *types.QueueEntry
	Requester registry.Connection
	Responder registry.Connection
}

// Engine selects responders for accept events and enforces the at-most-one
// match invariants. Policy functions are injectable; the defaults preserve
// the source heuristics.
type Engine struct {
	registry *registry.Registry
	queue    *queue.Queue
	selector SelectorFunc
	estimate EstimatorFunc
}

// NewEngine creates a matching engine with the default policies.
func NewEngine(reg *registry.Registry, q *queue.Queue) *Engine {
	return &Engine{
		registry: reg,
		queue:    q,
		selector: EarliestJoined,
		estimate: DefaultEstimate,
	}
}

// WithSelector overrides the responder selection policy.
func (e *Engine) WithSelector(f SelectorFunc) *Engine {
	e.selector = f
	return e
}

// WithEstimator overrides the wait estimation policy.
func (e *Engine) WithEstimator(f EstimatorFunc) *Engine {
	e.estimate = f
	return e
}

// SelectResponder picks an available responder per policy. Callers must not
// retry synchronously on ErrNoResponderAvailable: the requester stays queued
// and is surfaced to newly available responders instead.
func (e *Engine) SelectResponder() (registry.Connection, error) {
	conn, ok := e.selector(e.registry.AvailableResponders())
	if !ok {
		return registry.Connection{}, ErrNoResponderAvailable
	}
	return conn, nil
}

// AcceptMatch atomically claims a responder for a queued requester.
//
// The responder is claimed (available -> in_session, tentatively) before the
// queue entry is removed, so a concurrent accept targeting the same responder
// loses the compare-and-set and mutates nothing. If the requester vanished
// between the accept event and the claim, the claim is reverted and the net
// state change is zero.
func (e *Engine) AcceptMatch(requesterConnID, responderConnID string) (*Match, error) {
	requester, ok := e.registry.Get(requesterConnID)
	if !ok || requester.Role != types.RoleRequester {
		return nil, ErrRequesterGone
	}
	if _, queued := e.queue.Find(requesterConnID); !queued {
		return nil, ErrRequesterGone
	}

	// Claim first. The tentative in_session status must be set before any
	// asynchronous orchestration I/O, or a second accept could target the
	// same responder mid-provisioning.
	if !e.registry.CompareAndSetStatus(responderConnID, types.StatusAvailable, types.StatusInSession) {
		return nil, ErrResponderUnavailable
	}

	entry, ok := e.queue.Remove(requesterConnID)
	if !ok {
		// Lost a race with disconnect or another accept; un-claim.
		e.registry.CompareAndSetStatus(responderConnID, types.StatusInSession, types.StatusAvailable)
		return nil, ErrRequesterGone
	}

	if err := e.registry.SetStatus(requesterConnID, types.StatusMatched); err != nil {
		// Requester dropped between the queue removal and the status write.
		e.registry.CompareAndSetStatus(responderConnID, types.StatusInSession, types.StatusAvailable)
		return nil, ErrRequesterGone
	}

	responder, _ := e.registry.Get(responderConnID)
	return &Match{Entry: entry, Requester: requester, Responder: responder}, nil
}

// EstimateWaitSeconds returns the advisory wait estimate for a requester
// joining now.
func (e *Engine) EstimateWaitSeconds() int {
	return e.estimate(e.queue.Len(), e.registry.Counts().AvailableResponders)
}
