package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/vediclink/consult-api/internal/domain"
)

// MockSessionRepository mocks the SessionRepository interface
type MockSessionRepository struct {
	mock.Mock
}

func (m *MockSessionRepository) Create(ctx context.Context, session *domain.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockSessionRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

func (m *MockSessionRepository) ListByParticipant(ctx context.Context, userID uuid.UUID, role domain.Role, limit, offset int) ([]domain.Session, error) {
	args := m.Called(ctx, userID, role, limit, offset)
	return args.Get(0).([]domain.Session), args.Error(1)
}

func (m *MockSessionRepository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.Session, error) {
	args := m.Called(ctx, olderThan, limit)
	return args.Get(0).([]domain.Session), args.Error(1)
}

func (m *MockSessionRepository) UpdateIfStatus(ctx context.Context, id uuid.UUID, expected domain.SessionStatus, update domain.SessionUpdate) (*domain.Session, error) {
	args := m.Called(ctx, id, expected, update)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

func (m *MockSessionRepository) RecordMessage(ctx context.Context, id uuid.UUID, preview string, at time.Time, unreadCustomer, unreadAstrologer bool) error {
	args := m.Called(ctx, id, preview, at, unreadCustomer, unreadAstrologer)
	return args.Error(0)
}

func (m *MockSessionRepository) ResetUnread(ctx context.Context, id uuid.UUID, role domain.Role) error {
	args := m.Called(ctx, id, role)
	return args.Error(0)
}

// MockMessageRepository mocks the MessageRepository interface
type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) Append(ctx context.Context, message *domain.Message) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func (m *MockMessageRepository) ListBySession(ctx context.Context, sessionID uuid.UUID, limit int) ([]domain.Message, error) {
	args := m.Called(ctx, sessionID, limit)
	return args.Get(0).([]domain.Message), args.Error(1)
}

// MockUserDirectory mocks the UserDirectory interface
type MockUserDirectory struct {
	mock.Mock
}

func (m *MockUserDirectory) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockUserDirectory) RateCard(ctx context.Context, astrologerID uuid.UUID, kind domain.SessionKind) (decimal.Decimal, error) {
	args := m.Called(ctx, astrologerID, kind)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

// MockUserRepository mocks the UserRepository interface
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) Get(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

// MockRateCardCache mocks the rateCardCache interface
type MockRateCardCache struct {
	mock.Mock
}

func (m *MockRateCardCache) Get(ctx context.Context, astrologerID uuid.UUID, kind domain.SessionKind) (*decimal.Decimal, error) {
	args := m.Called(ctx, astrologerID, kind)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*decimal.Decimal), args.Error(1)
}

func (m *MockRateCardCache) Set(ctx context.Context, astrologerID uuid.UUID, kind domain.SessionKind, rate decimal.Decimal) error {
	args := m.Called(ctx, astrologerID, kind, rate)
	return args.Error(0)
}

// MockBroadcaster mocks the MessageBroadcaster interface
type MockBroadcaster struct {
	mock.Mock
}

func (m *MockBroadcaster) BroadcastMessage(sessionID, senderID, recipientID uuid.UUID, body string, sentAt time.Time) {
	m.Called(sessionID, senderID, recipientID, body, sentAt)
}

// fakeClock returns a fixed instant, adjustable per test
type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	return f.now
}
