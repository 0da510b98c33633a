package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vediclink/consult-api/internal/billing"
	"github.com/vediclink/consult-api/internal/common/clock"
	"github.com/vediclink/consult-api/internal/domain"
)

// SessionLedger owns the consultation lifecycle state machine and the
// billing computation applied when a session ends. It holds no state of
// its own: every operation is a read-validate-conditional-write cycle
// against the session store, with the store's status filter acting as
// the synchronization point.
type SessionLedger struct {
	sessions   domain.SessionRepository
	messages   domain.MessageRepository
	directory  domain.UserDirectory
	clock      clock.Clock
	pendingTTL time.Duration
}

// NewSessionLedger creates a new session ledger
func NewSessionLedger(
	sessions domain.SessionRepository,
	messages domain.MessageRepository,
	directory domain.UserDirectory,
	clk clock.Clock,
	pendingTTL time.Duration,
) *SessionLedger {
	return &SessionLedger{
		sessions:   sessions,
		messages:   messages,
		directory:  directory,
		clock:      clk,
		pendingTTL: pendingTTL,
	}
}

// Create opens a new pending session. The astrologer's current
// per-minute rate for the requested kind is snapshotted onto the record
// so later rate-card changes never affect it.
func (l *SessionLedger) Create(ctx context.Context, customerID, astrologerID uuid.UUID, kind domain.SessionKind) (*domain.Session, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown session kind %q", domain.ErrInvalidInput, kind)
	}
	if customerID == astrologerID {
		return nil, fmt.Errorf("%w: customer and astrologer must differ", domain.ErrInvalidInput)
	}

	exists, err := l.directory.Exists(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to check customer: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("customer %s: %w", customerID, domain.ErrNotFound)
	}

	rate, err := l.directory.RateCard(ctx, astrologerID, kind)
	if err != nil {
		return nil, err
	}
	if rate.IsNegative() {
		log.Error().Str("astrologer_id", astrologerID.String()).Str("rate", rate.String()).Msg("negative rate card")
		return nil, fmt.Errorf("%w: negative rate card", domain.ErrInconsistentState)
	}

	now := l.clock.Now().UTC()
	session := &domain.Session{
		ID:            uuid.New(),
		Kind:          kind,
		CustomerID:    customerID,
		AstrologerID:  astrologerID,
		Status:        domain.StatusPending,
		RatePerMinute: rate,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := l.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// RequestTransition applies a lifecycle event on behalf of a requester.
// Duplicate submissions of an already-applied terminal event return the
// existing record unchanged. A lost conditional write is retried once
// before ErrConflict is surfaced.
func (l *SessionLedger) RequestTransition(ctx context.Context, sessionID uuid.UUID, event domain.SessionEvent, requesterID uuid.UUID, requesterRole domain.Role) (*domain.Session, error) {
	session, err := l.apply(ctx, sessionID, event, requesterID, requesterRole)
	if errors.Is(err, domain.ErrConflict) {
		session, err = l.apply(ctx, sessionID, event, requesterID, requesterRole)
	}
	return session, err
}

func (l *SessionLedger) apply(ctx context.Context, sessionID uuid.UUID, event domain.SessionEvent, requesterID uuid.UUID, requesterRole domain.Role) (*domain.Session, error) {
	session, err := l.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if !transitionAuthorized(session, event, requesterID, requesterRole) {
		return nil, fmt.Errorf("%w: %s %s may not %s session %s", domain.ErrPermissionDenied, requesterRole, requesterID, event, sessionID)
	}

	// A retried terminal event that already took effect is a success,
	// not an error, and must not emit a second system message.
	if target, ok := domain.TerminalTarget(event); ok && session.Status == target {
		return session, nil
	}

	next, ok := domain.NextStatus(session.Status, event)
	if !ok {
		return nil, fmt.Errorf("%w: event %q from status %q", domain.ErrInvalidTransition, event, session.Status)
	}

	now := l.clock.Now().UTC()
	update := domain.SessionUpdate{Status: next}
	var notice string

	switch event {
	case domain.EventAccept:
		update.StartTime = &now
		notice = "session started"
	case domain.EventReject:
		notice = "session declined"
	case domain.EventCancel:
		notice = "session cancelled"
	case domain.EventTimeout:
		if now.Sub(session.CreatedAt) < l.pendingTTL {
			return nil, fmt.Errorf("%w: pending ttl not elapsed for session %s", domain.ErrInvalidTransition, sessionID)
		}
		notice = "session expired"
	case domain.EventEnd:
		if session.StartTime == nil {
			log.Error().Str("session_id", sessionID.String()).Msg("active session has no start time")
			return nil, fmt.Errorf("%w: session %s is active without a start time", domain.ErrInconsistentState, sessionID)
		}
		update.EndTime = &now
		minutes := billing.Minutes(now.Sub(*session.StartTime))
		amount := billing.Amount(session.RatePerMinute, minutes)
		update.DurationMinutes = &minutes
		update.TotalAmount = &amount
		notice = fmt.Sprintf("session completed: %d min at %s/min, total %s",
			minutes, session.RatePerMinute.StringFixed(2), amount.StringFixed(2))
	}

	updated, err := l.sessions.UpdateIfStatus(ctx, session.ID, session.Status, update)
	if err != nil {
		return nil, err
	}

	l.appendSystemMessage(ctx, updated, notice, now)
	return updated, nil
}

// appendSystemMessage records the transition notice. The transition is
// already durable at this point, so a failed append is logged rather
// than surfaced.
func (l *SessionLedger) appendSystemMessage(ctx context.Context, session *domain.Session, notice string, at time.Time) {
	msg := &domain.Message{
		ID:        uuid.New(),
		SessionID: session.ID,
		Kind:      domain.MessageSystem,
		Body:      notice,
		SentAt:    at,
	}
	if err := l.messages.Append(ctx, msg); err != nil {
		log.Error().Err(err).Str("session_id", session.ID.String()).Msg("failed to append system message")
		return
	}

	// Only chat sessions carry a last-message projection. System notices
	// have no sender, so both sides see them as unread.
	if session.Kind != domain.KindChat {
		return
	}
	if err := l.sessions.RecordMessage(ctx, session.ID, notice, at, true, true); err != nil {
		log.Error().Err(err).Str("session_id", session.ID.String()).Msg("failed to record system message on session")
	}
}

// Get returns a session scoped to one of its participants. Fetching a
// chat session clears the requester's unread counter.
func (l *SessionLedger) Get(ctx context.Context, sessionID, requesterID uuid.UUID, requesterRole domain.Role) (*domain.Session, error) {
	session, err := l.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsParticipant(requesterID, requesterRole) {
		return nil, fmt.Errorf("%w: %s %s is not a participant of session %s", domain.ErrPermissionDenied, requesterRole, requesterID, sessionID)
	}

	if session.Kind == domain.KindChat && session.Unread(requesterRole) > 0 {
		if err := l.sessions.ResetUnread(ctx, sessionID, requesterRole); err != nil {
			log.Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to reset unread count")
		} else if requesterRole == domain.RoleAstrologer {
			session.AstrologerUnread = 0
		} else {
			session.CustomerUnread = 0
		}
	}
	return session, nil
}

// List returns sessions the requester participates in, newest first.
func (l *SessionLedger) List(ctx context.Context, requesterID uuid.UUID, requesterRole domain.Role, limit, offset int) ([]domain.Session, error) {
	return l.sessions.ListByParticipant(ctx, requesterID, requesterRole, limit, offset)
}

// ExpireStale moves pending sessions older than the pending TTL to
// expired. Called by the sweeper; there is no timer inside the ledger.
// Returns the number of sessions expired.
func (l *SessionLedger) ExpireStale(ctx context.Context, limit int) (int, error) {
	olderThan := l.clock.Now().UTC().Add(-l.pendingTTL)
	stale, err := l.sessions.ListStalePending(ctx, olderThan, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale sessions: %w", err)
	}

	expired := 0
	for i := range stale {
		_, err := l.RequestTransition(ctx, stale[i].ID, domain.EventTimeout, uuid.Nil, domain.RoleSystem)
		switch {
		case err == nil:
			expired++
		case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrInvalidTransition):
			// Another request advanced the session between the listing
			// and the write; nothing to do.
		default:
			log.Error().Err(err).Str("session_id", stale[i].ID.String()).Msg("failed to expire session")
		}
	}
	return expired, nil
}

func transitionAuthorized(session *domain.Session, event domain.SessionEvent, requesterID uuid.UUID, requesterRole domain.Role) bool {
	switch event {
	case domain.EventAccept, domain.EventReject:
		return requesterRole == domain.RoleAstrologer && session.AstrologerID == requesterID
	case domain.EventCancel:
		return requesterRole == domain.RoleCustomer && session.CustomerID == requesterID
	case domain.EventEnd:
		return session.IsParticipant(requesterID, requesterRole)
	case domain.EventTimeout:
		return requesterRole == domain.RoleSystem
	}
	return false
}
