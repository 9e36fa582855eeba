package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"peerline/internal/collab"
	"peerline/internal/events"
	"peerline/internal/live"
	"peerline/internal/match"
	"peerline/internal/obs"
	"peerline/internal/queue"
	"peerline/internal/registry"
	"peerline/pkg/interfaces"
	"peerline/pkg/types"
)

const retryMessage = "match failed, please retry"

// Orchestrator executes the multi-step transaction that turns a match into a
// live session: provision a room, generate opening content, persist the
// record, register it live and notify both sides. From the coordinator's
// point of view the transaction either completes or rolls back; there is no
// partial session.
type Orchestrator struct {
	conns     *registry.Registry
	queue     *queue.Queue
	live      *live.Registry
	store     interfaces.SessionStore
	rooms     interfaces.RoomProvisioner
	content   interfaces.ContentGenerator
	publisher events.Publisher
	now       func() time.Time
}

// New creates a session orchestrator.
func New(conns *registry.Registry, q *queue.Queue, liveReg *live.Registry, store interfaces.SessionStore, rooms interfaces.RoomProvisioner, content interfaces.ContentGenerator, publisher events.Publisher) *Orchestrator {
	return &Orchestrator{
		conns:     conns,
		queue:     q,
		live:      liveReg,
		store:     store,
		rooms:     rooms,
		content:   content,
		publisher: publisher,
		now:       time.Now,
	}
}

type roomResult struct {
	room *types.RoomInfo
	err  error
}

// CreateSession runs the orchestration transaction for a claimed match. The
// match engine has already set the tentative in_session status on the
// responder, so concurrent accepts cannot target it while the collaborator
// calls are in flight.
func (o *Orchestrator) CreateSession(ctx context.Context, m *match.Match) (*types.Session, error) {
	started := o.now()
	defer func() {
		obs.OrchestrationSeconds.Observe(time.Since(started).Seconds())
	}()

	sessionID := uuid.New().String()

	// Room provisioning and content generation are independent; run both at
	// once. Content never hard-fails (collaborator contract), room failure is
	// terminal for the match.
	roomCh := make(chan roomResult, 1)
	openingCh := make(chan *types.Opening, 1)
	go func() {
		room, err := o.rooms.CreateRoom(ctx, sessionID, m.Requester.Name, m.Responder.Name)
		roomCh <- roomResult{room: room, err: err}
	}()
	go func() {
		opening, err := o.content.GenerateOpening(ctx, m.Requester.UserID, m.Responder.UserID)
		if err != nil || opening == nil {
			if err != nil {
				obs.Log.WithError(err).Warn("content generator errored despite fallback contract")
			}
			opening = collab.FallbackOpening(m.Requester.UserID, m.Responder.UserID)
		}
		openingCh <- opening
	}()

	rr := <-roomCh
	opening := <-openingCh

	if rr.err != nil {
		obs.Log.WithError(rr.err).WithField("session_id", sessionID).Error("room provisioning failed, rolling back match")
		o.rollback(m)
		return nil, fmt.Errorf("%w: %v", ErrRoomUnavailable, rr.err)
	}

	// A responder disconnect during provisioning rolls the whole match back.
	if _, ok := o.conns.Get(m.Responder.ID); !ok {
		obs.Log.WithField("session_id", sessionID).Info("responder disconnected during orchestration, rolling back")
		o.rollback(m)
		return nil, ErrResponderLost
	}

	session := &types.Session{
		ID:              sessionID,
		RequesterConnID: m.Requester.ID,
		ResponderConnID: m.Responder.ID,
		RequesterID:     m.Requester.UserID,
		ResponderID:     m.Responder.UserID,
		RequesterName:   m.Requester.Name,
		ResponderName:   m.Responder.Name,
		RoomURL:         rr.room.RoomURL,
		RoomName:        rr.room.RoomName,
		Status:          types.SessionActive,
		CreatedAt:       o.now(),
	}

	// No session without a durable record.
	if err := o.store.CreateSession(ctx, session); err != nil {
		obs.Log.WithError(err).WithField("session_id", sessionID).Error("session persistence failed, rolling back match")
		o.rollback(m)
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	// A requester who disconnected during provisioning doesn't abort the
	// room work in flight; the session is persisted and immediately ended
	// instead of delivered.
	if _, ok := o.conns.Get(m.Requester.ID); !ok {
		endedAt := o.now()
		if err := o.store.UpdateSessionStatus(ctx, sessionID, types.SessionEnded, "requester disconnected before session start", &endedAt); err != nil {
			obs.Log.WithError(err).WithField("session_id", sessionID).Warn("failed to end undelivered session")
		}
		o.freeResponder(m.Responder.ID)
		o.notify(m.Responder.ID, types.MatchFailed{Type: types.EventMatchFailed, Error: retryMessage})
		return nil, ErrRequesterLost
	}

	o.live.Register(session)
	_ = o.conns.SetStatus(m.Requester.ID, types.StatusInSession)
	_ = o.conns.SetSession(m.Requester.ID, sessionID)
	_ = o.conns.SetSession(m.Responder.ID, sessionID)

	o.notify(m.Requester.ID, types.Matched{
		Type:           types.EventMatched,
		PartnerID:      m.Responder.ID,
		PartnerName:    m.Responder.Name,
		SessionID:      sessionID,
		RoomURL:        rr.room.RoomURL,
		Token:          rr.room.TokenA,
		OpeningContent: opening.TextA,
	})
	o.notify(m.Responder.ID, types.Matched{
		Type:           types.EventMatched,
		PartnerID:      m.Requester.ID,
		PartnerName:    m.Requester.Name,
		SessionID:      sessionID,
		RoomURL:        rr.room.RoomURL,
		Token:          rr.room.TokenB,
		OpeningContent: opening.TextB,
	})

	obs.MatchesTotal.Inc()
	o.publisher.Publish(events.SessionCreated, map[string]any{
		"sessionId":   sessionID,
		"requesterId": m.Requester.UserID,
		"responderId": m.Responder.UserID,
	})
	obs.Log.WithField("session_id", sessionID).Info("session created")

	return session, nil
}

// rollback undoes the match claim: the requester is re-enqueued (position is
// best-effort, not exact FIFO), both statuses revert, and both parties get a
// retry notice.
func (o *Orchestrator) rollback(m *match.Match) {
	obs.RollbacksTotal.Inc()

	if _, ok := o.conns.Get(m.Requester.ID); ok {
		if _, err := o.queue.Enqueue(m.Entry); err != nil && err != queue.ErrAlreadyQueued {
			obs.Log.WithError(err).WithField("conn_id", m.Requester.ID).Warn("failed to restore queue entry")
		}
		_ = o.conns.SetStatus(m.Requester.ID, types.StatusWaiting)
		o.notify(m.Requester.ID, types.MatchFailed{Type: types.EventMatchFailed, Error: retryMessage})
	}

	o.freeResponder(m.Responder.ID)
	o.notify(m.Responder.ID, types.MatchFailed{Type: types.EventMatchFailed, Error: retryMessage})
}

func (o *Orchestrator) freeResponder(connID string) {
	if o.conns.CompareAndSetStatus(connID, types.StatusInSession, types.StatusAvailable) {
		_ = o.conns.SetSession(connID, "")
		if o.live.OnResponderFreed != nil {
			o.live.OnResponderFreed(connID)
		}
	}
}

func (o *Orchestrator) notify(connID string, payload any) {
	if err := o.conns.Send(connID, payload); err != nil {
		obs.Log.WithError(err).WithField("conn_id", connID).Debug("notification skipped connection")
	}
}
