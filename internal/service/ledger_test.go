package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/vediclink/consult-api/internal/domain"
)

var (
	testCustomerID   = uuid.MustParse("7d3f9a14-1111-4a5b-9c42-000000000001")
	testAstrologerID = uuid.MustParse("7d3f9a14-2222-4a5b-9c42-000000000002")
	testBase         = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
)

func testSession(kind domain.SessionKind, status domain.SessionStatus) *domain.Session {
	return &domain.Session{
		ID:            uuid.MustParse("7d3f9a14-3333-4a5b-9c42-000000000003"),
		Kind:          kind,
		CustomerID:    testCustomerID,
		AstrologerID:  testAstrologerID,
		Status:        status,
		RatePerMinute: decimal.RequireFromString("15.00"),
		CreatedAt:     testBase,
		UpdatedAt:     testBase,
	}
}

func newTestLedger(sessions *MockSessionRepository, messages *MockMessageRepository, directory *MockUserDirectory, now time.Time) *SessionLedger {
	return NewSessionLedger(sessions, messages, directory, &fakeClock{now: now}, 5*time.Minute)
}

func TestSessionLedger_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("snapshots rate and starts pending", func(t *testing.T) {
		sessions := new(MockSessionRepository)
		directory := new(MockUserDirectory)
		ledger := newTestLedger(sessions, new(MockMessageRepository), directory, testBase)

		rate := decimal.RequireFromString("35.50")
		directory.On("Exists", ctx, testCustomerID).Return(true, nil)
		directory.On("RateCard", ctx, testAstrologerID, domain.KindVideoCall).Return(rate, nil)
		sessions.On("Create", ctx, mock.AnythingOfType("*domain.Session")).Return(nil)

		session, err := ledger.Create(ctx, testCustomerID, testAstrologerID, domain.KindVideoCall)
		assert.NoError(t, err)
		assert.Equal(t, domain.StatusPending, session.Status)
		assert.True(t, session.RatePerMinute.Equal(rate))
		assert.Nil(t, session.StartTime)

		sessions.AssertExpectations(t)
		directory.AssertExpectations(t)
	})

	t.Run("unknown customer", func(t *testing.T) {
		sessions := new(MockSessionRepository)
		directory := new(MockUserDirectory)
		ledger := newTestLedger(sessions, new(MockMessageRepository), directory, testBase)

		directory.On("Exists", ctx, testCustomerID).Return(false, nil)

		_, err := ledger.Create(ctx, testCustomerID, testAstrologerID, domain.KindChat)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		sessions.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("unknown kind", func(t *testing.T) {
		ledger := newTestLedger(new(MockSessionRepository), new(MockMessageRepository), new(MockUserDirectory), testBase)

		_, err := ledger.Create(ctx, testCustomerID, testAstrologerID, domain.SessionKind("tarot"))
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("customer equals astrologer", func(t *testing.T) {
		ledger := newTestLedger(new(MockSessionRepository), new(MockMessageRepository), new(MockUserDirectory), testBase)

		_, err := ledger.Create(ctx, testCustomerID, testCustomerID, domain.KindChat)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestSessionLedger_Accept(t *testing.T) {
	ctx := context.Background()
	sessions := new(MockSessionRepository)
	messages := new(MockMessageRepository)
	ledger := newTestLedger(sessions, messages, new(MockUserDirectory), testBase)

	pending := testSession(domain.KindChat, domain.StatusPending)
	active := testSession(domain.KindChat, domain.StatusActive)
	start := testBase
	active.StartTime = &start

	sessions.On("Get", ctx, pending.ID).Return(pending, nil)
	sessions.On("UpdateIfStatus", ctx, pending.ID, domain.StatusPending, mock.MatchedBy(func(u domain.SessionUpdate) bool {
		return u.Status == domain.StatusActive && u.StartTime != nil && u.StartTime.Equal(testBase)
	})).Return(active, nil)
	messages.On("Append", ctx, mock.MatchedBy(func(m *domain.Message) bool {
		return m.Kind == domain.MessageSystem && m.Body == "session started"
	})).Return(nil)
	sessions.On("RecordMessage", ctx, pending.ID, "session started", testBase, true, true).Return(nil)

	got, err := ledger.RequestTransition(ctx, pending.ID, domain.EventAccept, testAstrologerID, domain.RoleAstrologer)
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusActive, got.Status)

	sessions.AssertExpectations(t)
	messages.AssertExpectations(t)
	messages.AssertNumberOfCalls(t, "Append", 1)
}

func TestSessionLedger_Reject(t *testing.T) {
	ctx := context.Background()
	sessions := new(MockSessionRepository)
	messages := new(MockMessageRepository)
	ledger := newTestLedger(sessions, messages, new(MockUserDirectory), testBase)

	pending := testSession(domain.KindVoiceCall, domain.StatusPending)
	rejected := testSession(domain.KindVoiceCall, domain.StatusRejected)

	sessions.On("Get", ctx, pending.ID).Return(pending, nil)
	sessions.On("UpdateIfStatus", ctx, pending.ID, domain.StatusPending, mock.MatchedBy(func(u domain.SessionUpdate) bool {
		return u.Status == domain.StatusRejected && u.StartTime == nil
	})).Return(rejected, nil)
	messages.On("Append", ctx, mock.MatchedBy(func(m *domain.Message) bool {
		return m.Body == "session declined"
	})).Return(nil)

	got, err := ledger.RequestTransition(ctx, pending.ID, domain.EventReject, testAstrologerID, domain.RoleAstrologer)
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, got.Status)

	// Voice sessions carry no last-message projection.
	sessions.AssertNotCalled(t, "RecordMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSessionLedger_Cancel(t *testing.T) {
	ctx := context.Background()
	sessions := new(MockSessionRepository)
	messages := new(MockMessageRepository)
	ledger := newTestLedger(sessions, messages, new(MockUserDirectory), testBase)

	pending := testSession(domain.KindVideoCall, domain.StatusPending)
	cancelled := testSession(domain.KindVideoCall, domain.StatusCancelled)

	sessions.On("Get", ctx, pending.ID).Return(pending, nil)
	sessions.On("UpdateIfStatus", ctx, pending.ID, domain.StatusPending, mock.MatchedBy(func(u domain.SessionUpdate) bool {
		return u.Status == domain.StatusCancelled
	})).Return(cancelled, nil)
	messages.On("Append", ctx, mock.MatchedBy(func(m *domain.Message) bool {
		return m.Body == "session cancelled"
	})).Return(nil)

	got, err := ledger.RequestTransition(ctx, pending.ID, domain.EventCancel, testCustomerID, domain.RoleCustomer)
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
}

func TestSessionLedger_End_BillsCeilingMinutes(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name        string
		rate        string
		elapsed     time.Duration
		wantMinutes int
		wantAmount  string
	}{
		{"chat 125 seconds at 15.00", "15.00", 125 * time.Second, 3, "45.00"},
		{"video 59 seconds at 35.50", "35.50", 59 * time.Second, 1, "35.50"},
		{"exactly one minute", "20.00", time.Minute, 1, "20.00"},
		{"one millisecond over a minute", "20.00", time.Minute + time.Millisecond, 2, "40.00"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sessions := new(MockSessionRepository)
			messages := new(MockMessageRepository)
			endAt := testBase.Add(tc.elapsed)
			ledger := newTestLedger(sessions, messages, new(MockUserDirectory), endAt)

			active := testSession(domain.KindVoiceCall, domain.StatusActive)
			active.RatePerMinute = decimal.RequireFromString(tc.rate)
			start := testBase
			active.StartTime = &start

			completed := testSession(domain.KindVoiceCall, domain.StatusCompleted)

			sessions.On("Get", ctx, active.ID).Return(active, nil)
			sessions.On("UpdateIfStatus", ctx, active.ID, domain.StatusActive, mock.MatchedBy(func(u domain.SessionUpdate) bool {
				return u.Status == domain.StatusCompleted &&
					u.EndTime != nil && u.EndTime.Equal(endAt) &&
					u.DurationMinutes != nil && *u.DurationMinutes == tc.wantMinutes &&
					u.TotalAmount != nil && u.TotalAmount.Equal(decimal.RequireFromString(tc.wantAmount))
			})).Return(completed, nil)
			messages.On("Append", ctx, mock.AnythingOfType("*domain.Message")).Return(nil)

			_, err := ledger.RequestTransition(ctx, active.ID, domain.EventEnd, testCustomerID, domain.RoleCustomer)
			assert.NoError(t, err)

			sessions.AssertExpectations(t)
		})
	}
}

func TestSessionLedger_End_MissingStartTime(t *testing.T) {
	ctx := context.Background()
	sessions := new(MockSessionRepository)
	ledger := newTestLedger(sessions, new(MockMessageRepository), new(MockUserDirectory), testBase)

	broken := testSession(domain.KindChat, domain.StatusActive) // no StartTime set
	sessions.On("Get", ctx, broken.ID).Return(broken, nil)

	_, err := ledger.RequestTransition(ctx, broken.ID, domain.EventEnd, testCustomerID, domain.RoleCustomer)
	assert.ErrorIs(t, err, domain.ErrInconsistentState)
	sessions.AssertNotCalled(t, "UpdateIfStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSessionLedger_InvalidTransitions(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name      string
		status    domain.SessionStatus
		event     domain.SessionEvent
		requester uuid.UUID
		role      domain.Role
	}{
		{"end a pending session", domain.StatusPending, domain.EventEnd, testCustomerID, domain.RoleCustomer},
		{"accept an active session", domain.StatusActive, domain.EventAccept, testAstrologerID, domain.RoleAstrologer},
		{"reject an active session", domain.StatusActive, domain.EventReject, testAstrologerID, domain.RoleAstrologer},
		{"cancel a completed session", domain.StatusCompleted, domain.EventCancel, testCustomerID, domain.RoleCustomer},
		{"accept a rejected session", domain.StatusRejected, domain.EventAccept, testAstrologerID, domain.RoleAstrologer},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sessions := new(MockSessionRepository)
			ledger := newTestLedger(sessions, new(MockMessageRepository), new(MockUserDirectory), testBase)

			session := testSession(domain.KindChat, tc.status)
			if tc.status == domain.StatusActive || tc.status == domain.StatusCompleted {
				start := testBase
				session.StartTime = &start
			}
			sessions.On("Get", ctx, session.ID).Return(session, nil)

			_, err := ledger.RequestTransition(ctx, session.ID, tc.event, tc.requester, tc.role)
			assert.ErrorIs(t, err, domain.ErrInvalidTransition)
			sessions.AssertNotCalled(t, "UpdateIfStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestSessionLedger_PermissionDenied(t *testing.T) {
	ctx := context.Background()
	stranger := uuid.MustParse("7d3f9a14-9999-4a5b-9c42-000000000009")

	cases := []struct {
		name      string
		event     domain.SessionEvent
		requester uuid.UUID
		role      domain.Role
	}{
		{"accept by a different astrologer", domain.EventAccept, stranger, domain.RoleAstrologer},
		{"accept by the customer", domain.EventAccept, testCustomerID, domain.RoleCustomer},
		{"cancel by the astrologer", domain.EventCancel, testAstrologerID, domain.RoleAstrologer},
		{"timeout from the api", domain.EventTimeout, testCustomerID, domain.RoleCustomer},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sessions := new(MockSessionRepository)
			ledger := newTestLedger(sessions, new(MockMessageRepository), new(MockUserDirectory), testBase)

			pending := testSession(domain.KindChat, domain.StatusPending)
			sessions.On("Get", ctx, pending.ID).Return(pending, nil)

			_, err := ledger.RequestTransition(ctx, pending.ID, tc.event, tc.requester, tc.role)
			assert.ErrorIs(t, err, domain.ErrPermissionDenied)
			sessions.AssertNotCalled(t, "UpdateIfStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestSessionLedger_NotFound(t *testing.T) {
	ctx := context.Background()
	sessions := new(MockSessionRepository)
	ledger := newTestLedger(sessions, new(MockMessageRepository), new(MockUserDirectory), testBase)

	missing := uuid.New()
	sessions.On("Get", ctx, missing).Return(nil, domain.ErrNotFound)

	_, err := ledger.RequestTransition(ctx, missing, domain.EventEnd, testCustomerID, domain.RoleCustomer)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSessionLedger_DuplicateTerminalEventIsIdempotent(t *testing.T) {
	ctx := context.Background()
	sessions := new(MockSessionRepository)
	messages := new(MockMessageRepository)
	ledger := newTestLedger(sessions, messages, new(MockUserDirectory), testBase)

	completed := testSession(domain.KindChat, domain.StatusCompleted)
	start := testBase
	end := testBase.Add(2 * time.Minute)
	amount := decimal.RequireFromString("30.00")
	completed.StartTime = &start
	completed.EndTime = &end
	completed.DurationMinutes = 2
	completed.TotalAmount = &amount

	sessions.On("Get", ctx, completed.ID).Return(completed, nil)

	for i := 0; i < 2; i++ {
		got, err := ledger.RequestTransition(ctx, completed.ID, domain.EventEnd, testCustomerID, domain.RoleCustomer)
		assert.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, got.Status)
		assert.Equal(t, 2, got.DurationMinutes)
		assert.True(t, got.TotalAmount.Equal(amount))
	}

	// No second write, no second system message.
	sessions.AssertNotCalled(t, "UpdateIfStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	messages.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestSessionLedger_ConflictRetriesOnceThenSucceeds(t *testing.T) {
	ctx := context.Background()
	sessions := new(MockSessionRepository)
	messages := new(MockMessageRepository)
	ledger := newTestLedger(sessions, messages, new(MockUserDirectory), testBase.Add(time.Minute))

	active := testSession(domain.KindVoiceCall, domain.StatusActive)
	start := testBase
	active.StartTime = &start

	completed := testSession(domain.KindVoiceCall, domain.StatusCompleted)
	completed.StartTime = &start

	// First attempt loses the race; the re-read shows the other request
	// already completed the session, so the retry resolves idempotently.
	sessions.On("Get", ctx, active.ID).Return(active, nil).Once()
	sessions.On("UpdateIfStatus", ctx, active.ID, domain.StatusActive, mock.AnythingOfType("domain.SessionUpdate")).Return(nil, domain.ErrConflict).Once()
	sessions.On("Get", ctx, active.ID).Return(completed, nil).Once()

	got, err := ledger.RequestTransition(ctx, active.ID, domain.EventEnd, testAstrologerID, domain.RoleAstrologer)
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)

	sessions.AssertExpectations(t)
	messages.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestSessionLedger_ConflictTwiceSurfaces(t *testing.T) {
	ctx := context.Background()
	sessions := new(MockSessionRepository)
	ledger := newTestLedger(sessions, new(MockMessageRepository), new(MockUserDirectory), testBase.Add(time.Minute))

	active := testSession(domain.KindVoiceCall, domain.StatusActive)
	start := testBase
	active.StartTime = &start

	sessions.On("Get", ctx, active.ID).Return(active, nil)
	sessions.On("UpdateIfStatus", ctx, active.ID, domain.StatusActive, mock.AnythingOfType("domain.SessionUpdate")).Return(nil, domain.ErrConflict)

	_, err := ledger.RequestTransition(ctx, active.ID, domain.EventEnd, testCustomerID, domain.RoleCustomer)
	assert.ErrorIs(t, err, domain.ErrConflict)
	sessions.AssertNumberOfCalls(t, "UpdateIfStatus", 2)
}

func TestSessionLedger_Timeout(t *testing.T) {
	ctx := context.Background()

	t.Run("ttl elapsed", func(t *testing.T) {
		sessions := new(MockSessionRepository)
		messages := new(MockMessageRepository)
		ledger := newTestLedger(sessions, messages, new(MockUserDirectory), testBase.Add(6*time.Minute))

		pending := testSession(domain.KindVoiceCall, domain.StatusPending)
		expired := testSession(domain.KindVoiceCall, domain.StatusExpired)

		sessions.On("Get", ctx, pending.ID).Return(pending, nil)
		sessions.On("UpdateIfStatus", ctx, pending.ID, domain.StatusPending, mock.MatchedBy(func(u domain.SessionUpdate) bool {
			return u.Status == domain.StatusExpired
		})).Return(expired, nil)
		messages.On("Append", ctx, mock.MatchedBy(func(m *domain.Message) bool {
			return m.Body == "session expired"
		})).Return(nil)

		got, err := ledger.RequestTransition(ctx, pending.ID, domain.EventTimeout, uuid.Nil, domain.RoleSystem)
		assert.NoError(t, err)
		assert.Equal(t, domain.StatusExpired, got.Status)
	})

	t.Run("ttl not elapsed", func(t *testing.T) {
		sessions := new(MockSessionRepository)
		ledger := newTestLedger(sessions, new(MockMessageRepository), new(MockUserDirectory), testBase.Add(3*time.Minute))

		pending := testSession(domain.KindVoiceCall, domain.StatusPending)
		sessions.On("Get", ctx, pending.ID).Return(pending, nil)

		_, err := ledger.RequestTransition(ctx, pending.ID, domain.EventTimeout, uuid.Nil, domain.RoleSystem)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})
}

func TestSessionLedger_ExpireStale(t *testing.T) {
	ctx := context.Background()
	sessions := new(MockSessionRepository)
	messages := new(MockMessageRepository)
	now := testBase.Add(10 * time.Minute)
	ledger := newTestLedger(sessions, messages, new(MockUserDirectory), now)

	first := testSession(domain.KindChat, domain.StatusPending)
	second := testSession(domain.KindVoiceCall, domain.StatusPending)
	second.ID = uuid.MustParse("7d3f9a14-4444-4a5b-9c42-000000000004")

	firstExpired := testSession(domain.KindChat, domain.StatusExpired)

	sessions.On("ListStalePending", ctx, now.Add(-5*time.Minute), 100).Return([]domain.Session{*first, *second}, nil)

	sessions.On("Get", ctx, first.ID).Return(first, nil)
	sessions.On("UpdateIfStatus", ctx, first.ID, domain.StatusPending, mock.AnythingOfType("domain.SessionUpdate")).Return(firstExpired, nil)
	messages.On("Append", ctx, mock.AnythingOfType("*domain.Message")).Return(nil)
	sessions.On("RecordMessage", ctx, first.ID, "session expired", now, true, true).Return(nil)

	// The second one was accepted between the listing and the sweep.
	accepted := testSession(domain.KindVoiceCall, domain.StatusActive)
	accepted.ID = second.ID
	sessions.On("Get", ctx, second.ID).Return(accepted, nil)

	expired, err := ledger.ExpireStale(ctx, 100)
	assert.NoError(t, err)
	assert.Equal(t, 1, expired)
}

func TestSessionLedger_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("chat fetch resets requester unread", func(t *testing.T) {
		sessions := new(MockSessionRepository)
		ledger := newTestLedger(sessions, new(MockMessageRepository), new(MockUserDirectory), testBase)

		session := testSession(domain.KindChat, domain.StatusActive)
		session.CustomerUnread = 4
		sessions.On("Get", ctx, session.ID).Return(session, nil)
		sessions.On("ResetUnread", ctx, session.ID, domain.RoleCustomer).Return(nil)

		got, err := ledger.Get(ctx, session.ID, testCustomerID, domain.RoleCustomer)
		assert.NoError(t, err)
		assert.Equal(t, 0, got.CustomerUnread)
		sessions.AssertExpectations(t)
	})

	t.Run("non participant", func(t *testing.T) {
		sessions := new(MockSessionRepository)
		ledger := newTestLedger(sessions, new(MockMessageRepository), new(MockUserDirectory), testBase)

		session := testSession(domain.KindChat, domain.StatusActive)
		sessions.On("Get", ctx, session.ID).Return(session, nil)

		_, err := ledger.Get(ctx, session.ID, uuid.New(), domain.RoleCustomer)
		assert.ErrorIs(t, err, domain.ErrPermissionDenied)
	})
}

func TestSessionLedger_Create_NegativeRate(t *testing.T) {
	ctx := context.Background()
	sessions := new(MockSessionRepository)
	directory := new(MockUserDirectory)
	ledger := newTestLedger(sessions, new(MockMessageRepository), directory, testBase)

	directory.On("Exists", ctx, testCustomerID).Return(true, nil)
	directory.On("RateCard", ctx, testAstrologerID, domain.KindChat).Return(decimal.RequireFromString("-1.00"), nil)

	_, err := ledger.Create(ctx, testCustomerID, testAstrologerID, domain.KindChat)
	assert.ErrorIs(t, err, domain.ErrInconsistentState)
	sessions.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}
