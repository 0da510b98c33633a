package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vediclink/consult-api/internal/common/clock"
	"github.com/vediclink/consult-api/internal/domain"
)

const (
	maxMessageLen     = 2000
	messagePreviewLen = 120
)

// MessageBroadcaster pushes a delivered message to connected clients.
// The websocket hub implements it; a nil broadcaster disables fan-out.
type MessageBroadcaster interface {
	BroadcastMessage(sessionID, senderID, recipientID uuid.UUID, body string, sentAt time.Time)
}

// ChatService handles user messages on chat sessions: the append-only
// message log, the session's last-message projection, and the unread
// counters.
type ChatService struct {
	sessions     domain.SessionRepository
	messages     domain.MessageRepository
	broadcaster  MessageBroadcaster
	clock        clock.Clock
	historyLimit int
}

// NewChatService creates a new chat service
func NewChatService(
	sessions domain.SessionRepository,
	messages domain.MessageRepository,
	broadcaster MessageBroadcaster,
	clk clock.Clock,
	historyLimit int,
) *ChatService {
	return &ChatService{
		sessions:     sessions,
		messages:     messages,
		broadcaster:  broadcaster,
		clock:        clk,
		historyLimit: historyLimit,
	}
}

// Send appends a user message to an active chat session and bumps the
// other participant's unread counter.
func (s *ChatService) Send(ctx context.Context, sessionID, senderID uuid.UUID, senderRole domain.Role, body string) (*domain.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("%w: empty message", domain.ErrInvalidInput)
	}
	if len(body) > maxMessageLen {
		return nil, fmt.Errorf("%w: message exceeds %d characters", domain.ErrInvalidInput, maxMessageLen)
	}

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsParticipant(senderID, senderRole) {
		return nil, fmt.Errorf("%w: %s %s is not a participant of session %s", domain.ErrPermissionDenied, senderRole, senderID, sessionID)
	}
	if session.Kind != domain.KindChat {
		return nil, fmt.Errorf("%w: %s sessions do not carry messages", domain.ErrInvalidInput, session.Kind)
	}
	if session.Status != domain.StatusActive {
		return nil, fmt.Errorf("%w: cannot send while session is %s", domain.ErrInvalidTransition, session.Status)
	}

	now := s.clock.Now().UTC()
	msg := &domain.Message{
		ID:        uuid.New(),
		SessionID: sessionID,
		SenderID:  senderID,
		Kind:      domain.MessageUser,
		Body:      body,
		SentAt:    now,
	}
	if err := s.messages.Append(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	recipientRole := domain.Counterpart(senderRole)
	err = s.sessions.RecordMessage(ctx, sessionID, preview(body), now,
		recipientRole == domain.RoleCustomer,
		recipientRole == domain.RoleAstrologer,
	)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to record message on session")
	}

	if s.broadcaster != nil {
		recipientID := session.CustomerID
		if recipientRole == domain.RoleAstrologer {
			recipientID = session.AstrologerID
		}
		s.broadcaster.BroadcastMessage(sessionID, senderID, recipientID, body, now)
	}

	return msg, nil
}

// History returns the session's message log, oldest first.
func (s *ChatService) History(ctx context.Context, sessionID, requesterID uuid.UUID, requesterRole domain.Role) ([]domain.Message, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsParticipant(requesterID, requesterRole) {
		return nil, fmt.Errorf("%w: %s %s is not a participant of session %s", domain.ErrPermissionDenied, requesterRole, requesterID, sessionID)
	}
	return s.messages.ListBySession(ctx, sessionID, s.historyLimit)
}

// MarkRead zeroes the requester's unread counter.
func (s *ChatService) MarkRead(ctx context.Context, sessionID, requesterID uuid.UUID, requesterRole domain.Role) error {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.IsParticipant(requesterID, requesterRole) {
		return fmt.Errorf("%w: %s %s is not a participant of session %s", domain.ErrPermissionDenied, requesterRole, requesterID, sessionID)
	}
	return s.sessions.ResetUnread(ctx, sessionID, requesterRole)
}

func preview(body string) string {
	runes := []rune(body)
	if len(runes) <= messagePreviewLen {
		return body
	}
	return string(runes[:messagePreviewLen-3]) + "..."
}
