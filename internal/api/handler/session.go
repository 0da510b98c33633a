package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/vediclink/consult-api/internal/api/middleware"
	"github.com/vediclink/consult-api/internal/api/response"
	"github.com/vediclink/consult-api/internal/domain"
)

// sessionLedger is the slice of the ledger the HTTP layer consumes.
type sessionLedger interface {
	Create(ctx context.Context, customerID, astrologerID uuid.UUID, kind domain.SessionKind) (*domain.Session, error)
	RequestTransition(ctx context.Context, sessionID uuid.UUID, event domain.SessionEvent, requesterID uuid.UUID, requesterRole domain.Role) (*domain.Session, error)
	Get(ctx context.Context, sessionID, requesterID uuid.UUID, requesterRole domain.Role) (*domain.Session, error)
	List(ctx context.Context, requesterID uuid.UUID, requesterRole domain.Role, limit, offset int) ([]domain.Session, error)
}

// SessionHandler serves the session lifecycle endpoints
type SessionHandler struct {
	ledger   sessionLedger
	validate *validator.Validate
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(ledger sessionLedger) *SessionHandler {
	return &SessionHandler{
		ledger:   ledger,
		validate: validator.New(),
	}
}

type createSessionRequest struct {
	AstrologerID string `json:"astrologer_id" validate:"required,uuid"`
	Kind         string `json:"kind" validate:"required,oneof=chat voice_call video_call"`
}

// Create opens a new pending session with an astrologer
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := requester(w, r)
	if !ok {
		return
	}
	if role != domain.RoleCustomer {
		response.Forbidden(w, "only customers can request a consultation")
		return
	}

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	astrologerID, err := uuid.Parse(req.AstrologerID)
	if err != nil {
		response.BadRequest(w, "invalid astrologer ID")
		return
	}

	session, err := h.ledger.Create(r.Context(), userID, astrologerID, domain.SessionKind(req.Kind))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	response.Created(w, session)
}

// Accept moves a pending session to active
func (h *SessionHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, domain.EventAccept)
}

// Reject declines a pending session
func (h *SessionHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, domain.EventReject)
}

// Cancel withdraws a pending session
func (h *SessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, domain.EventCancel)
}

// End completes an active session and bills it
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, domain.EventEnd)
}

func (h *SessionHandler) transition(w http.ResponseWriter, r *http.Request, event domain.SessionEvent) {
	userID, role, ok := requester(w, r)
	if !ok {
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		response.BadRequest(w, "invalid session ID")
		return
	}

	session, err := h.ledger.RequestTransition(r.Context(), sessionID, event, userID, role)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	response.OK(w, session)
}

// Get returns one session scoped to the requester
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := requester(w, r)
	if !ok {
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		response.BadRequest(w, "invalid session ID")
		return
	}

	session, err := h.ledger.Get(r.Context(), sessionID, userID, role)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	response.OK(w, session)
}

// List returns the requester's sessions, newest first
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := requester(w, r)
	if !ok {
		return
	}

	limit := 20
	offset := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 100 {
			limit = v
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil && v >= 0 {
			offset = v
		}
	}

	sessions, err := h.ledger.List(r.Context(), userID, role, limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	response.OK(w, sessions)
}

// requester pulls the authenticated identity out of the context,
// writing a 401 when it is missing.
func requester(w http.ResponseWriter, r *http.Request) (uuid.UUID, domain.Role, bool) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "user ID not found")
		return uuid.Nil, "", false
	}
	role, ok := middleware.GetUserRole(r.Context())
	if !ok {
		response.Unauthorized(w, "user role not found")
		return uuid.Nil, "", false
	}
	return userID, role, true
}

// writeDomainError maps service errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, domain.ErrPermissionDenied):
		response.Forbidden(w, "not allowed")
	case errors.Is(err, domain.ErrInvalidTransition):
		response.UnprocessableEntity(w, err.Error())
	case errors.Is(err, domain.ErrConflict):
		response.Conflict(w, "session was modified concurrently, please retry")
	case errors.Is(err, domain.ErrInvalidInput):
		response.BadRequest(w, err.Error())
	default:
		response.InternalError(w, "internal error")
	}
}
