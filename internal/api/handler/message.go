package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/vediclink/consult-api/internal/api/response"
	"github.com/vediclink/consult-api/internal/domain"
)

// chatService is the slice of the chat service the HTTP layer consumes.
type chatService interface {
	Send(ctx context.Context, sessionID, senderID uuid.UUID, senderRole domain.Role, body string) (*domain.Message, error)
	History(ctx context.Context, sessionID, requesterID uuid.UUID, requesterRole domain.Role) ([]domain.Message, error)
	MarkRead(ctx context.Context, sessionID, requesterID uuid.UUID, requesterRole domain.Role) error
}

// MessageHandler serves the chat message endpoints
type MessageHandler struct {
	chat     chatService
	validate *validator.Validate
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(chat chatService) *MessageHandler {
	return &MessageHandler{
		chat:     chat,
		validate: validator.New(),
	}
}

type sendMessageRequest struct {
	Body string `json:"body" validate:"required,max=2000"`
}

// Send appends a message to an active chat session
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := requester(w, r)
	if !ok {
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		response.BadRequest(w, "invalid session ID")
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	msg, err := h.chat.Send(r.Context(), sessionID, userID, role, req.Body)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	response.Created(w, msg)
}

// History returns the session's message log, oldest first
func (h *MessageHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := requester(w, r)
	if !ok {
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		response.BadRequest(w, "invalid session ID")
		return
	}

	messages, err := h.chat.History(r.Context(), sessionID, userID, role)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	response.OK(w, messages)
}

// MarkRead zeroes the requester's unread counter on the session
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := requester(w, r)
	if !ok {
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		response.BadRequest(w, "invalid session ID")
		return
	}

	if err := h.chat.MarkRead(r.Context(), sessionID, userID, role); err != nil {
		writeDomainError(w, err)
		return
	}

	response.NoContent(w)
}
