package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vediclink/consult-api/internal/domain"
)

const sessionCollection = "sessions"

// SessionRepository implements domain.SessionRepository on MongoDB.
// The status filter on UpdateIfStatus is the single synchronization
// point for concurrent transition requests.
type SessionRepository struct {
	coll *mongo.Collection
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{coll: db.Collection(sessionCollection)}
}

type sessionDoc struct {
	ID               string                `bson:"_id"`
	Kind             string                `bson:"kind"`
	CustomerID       string                `bson:"customer_id"`
	AstrologerID     string                `bson:"astrologer_id"`
	Status           string                `bson:"status"`
	RatePerMinute    primitive.Decimal128  `bson:"rate_per_minute"`
	StartTime        *time.Time            `bson:"start_time,omitempty"`
	EndTime          *time.Time            `bson:"end_time,omitempty"`
	DurationMinutes  int                   `bson:"duration_minutes,omitempty"`
	TotalAmount      *primitive.Decimal128 `bson:"total_amount,omitempty"`
	LastMessage      string                `bson:"last_message,omitempty"`
	LastMessageTime  *time.Time            `bson:"last_message_time,omitempty"`
	CustomerUnread   int                   `bson:"customer_unread"`
	AstrologerUnread int                   `bson:"astrologer_unread"`
	CreatedAt        time.Time             `bson:"created_at"`
	UpdatedAt        time.Time             `bson:"updated_at"`
}

func toDoc(s *domain.Session) (*sessionDoc, error) {
	rate, err := primitive.ParseDecimal128(s.RatePerMinute.String())
	if err != nil {
		return nil, fmt.Errorf("invalid rate: %w", err)
	}

	doc := &sessionDoc{
		ID:               s.ID.String(),
		Kind:             string(s.Kind),
		CustomerID:       s.CustomerID.String(),
		AstrologerID:     s.AstrologerID.String(),
		Status:           string(s.Status),
		RatePerMinute:    rate,
		StartTime:        s.StartTime,
		EndTime:          s.EndTime,
		DurationMinutes:  s.DurationMinutes,
		LastMessage:      s.LastMessage,
		LastMessageTime:  s.LastMessageTime,
		CustomerUnread:   s.CustomerUnread,
		AstrologerUnread: s.AstrologerUnread,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
	if s.TotalAmount != nil {
		amount, err := primitive.ParseDecimal128(s.TotalAmount.String())
		if err != nil {
			return nil, fmt.Errorf("invalid amount: %w", err)
		}
		doc.TotalAmount = &amount
	}
	return doc, nil
}

func fromDoc(doc *sessionDoc) (*domain.Session, error) {
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid session id %q: %w", doc.ID, err)
	}
	customerID, err := uuid.Parse(doc.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("invalid customer id: %w", err)
	}
	astrologerID, err := uuid.Parse(doc.AstrologerID)
	if err != nil {
		return nil, fmt.Errorf("invalid astrologer id: %w", err)
	}
	rate, err := decimal.NewFromString(doc.RatePerMinute.String())
	if err != nil {
		return nil, fmt.Errorf("invalid rate: %w", err)
	}

	s := &domain.Session{
		ID:               id,
		Kind:             domain.SessionKind(doc.Kind),
		CustomerID:       customerID,
		AstrologerID:     astrologerID,
		Status:           domain.SessionStatus(doc.Status),
		RatePerMinute:    rate,
		StartTime:        doc.StartTime,
		EndTime:          doc.EndTime,
		DurationMinutes:  doc.DurationMinutes,
		LastMessage:      doc.LastMessage,
		LastMessageTime:  doc.LastMessageTime,
		CustomerUnread:   doc.CustomerUnread,
		AstrologerUnread: doc.AstrologerUnread,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}
	if doc.TotalAmount != nil {
		amount, err := decimal.NewFromString(doc.TotalAmount.String())
		if err != nil {
			return nil, fmt.Errorf("invalid amount: %w", err)
		}
		s.TotalAmount = &amount
	}
	return s, nil
}

func (r *SessionRepository) Create(ctx context.Context, session *domain.Session) error {
	doc, err := toDoc(session)
	if err != nil {
		return err
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	var doc sessionDoc
	err := r.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return fromDoc(&doc)
}

func (r *SessionRepository) ListByParticipant(ctx context.Context, userID uuid.UUID, role domain.Role, limit, offset int) ([]domain.Session, error) {
	field := "customer_id"
	if role == domain.RoleAstrologer {
		field = "astrologer_id"
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	cursor, err := r.coll.Find(ctx, bson.M{field: userID.String()}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer cursor.Close(ctx)

	return decodeSessions(ctx, cursor)
}

func (r *SessionRepository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.Session, error) {
	filter := bson.M{
		"status":     string(domain.StatusPending),
		"created_at": bson.M{"$lte": olderThan},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale sessions: %w", err)
	}
	defer cursor.Close(ctx)

	return decodeSessions(ctx, cursor)
}

// UpdateIfStatus applies the update only while the stored status still
// matches expected. A concurrently advanced session yields ErrConflict,
// never a blind overwrite.
func (r *SessionRepository) UpdateIfStatus(ctx context.Context, id uuid.UUID, expected domain.SessionStatus, update domain.SessionUpdate) (*domain.Session, error) {
	set := bson.M{
		"status":     string(update.Status),
		"updated_at": time.Now().UTC(),
	}
	if update.StartTime != nil {
		set["start_time"] = *update.StartTime
	}
	if update.EndTime != nil {
		set["end_time"] = *update.EndTime
	}
	if update.DurationMinutes != nil {
		set["duration_minutes"] = *update.DurationMinutes
	}
	if update.TotalAmount != nil {
		amount, err := primitive.ParseDecimal128(update.TotalAmount.String())
		if err != nil {
			return nil, fmt.Errorf("invalid amount: %w", err)
		}
		set["total_amount"] = amount
	}

	filter := bson.M{"_id": id.String(), "status": string(expected)}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc sessionDoc
	err := r.coll.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		// Distinguish a missing session from a lost race.
		count, countErr := r.coll.CountDocuments(ctx, bson.M{"_id": id.String()})
		if countErr != nil {
			return nil, fmt.Errorf("failed to check session: %w", countErr)
		}
		if count == 0 {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}
	return fromDoc(&doc)
}

// RecordMessage refreshes the session's last-message projection and bumps
// the unread counters for the requested sides.
func (r *SessionRepository) RecordMessage(ctx context.Context, id uuid.UUID, preview string, at time.Time, unreadCustomer, unreadAstrologer bool) error {
	update := bson.M{
		"$set": bson.M{
			"last_message":      preview,
			"last_message_time": at,
			"updated_at":        at,
		},
	}
	inc := bson.M{}
	if unreadCustomer {
		inc["customer_unread"] = 1
	}
	if unreadAstrologer {
		inc["astrologer_unread"] = 1
	}
	if len(inc) > 0 {
		update["$inc"] = inc
	}

	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id.String()}, update)
	if err != nil {
		return fmt.Errorf("failed to record message: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *SessionRepository) ResetUnread(ctx context.Context, id uuid.UUID, role domain.Role) error {
	field := "customer_unread"
	if role == domain.RoleAstrologer {
		field = "astrologer_unread"
	}

	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id.String()}, bson.M{"$set": bson.M{field: 0}})
	if err != nil {
		return fmt.Errorf("failed to reset unread count: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func decodeSessions(ctx context.Context, cursor *mongo.Cursor) ([]domain.Session, error) {
	var sessions []domain.Session
	for cursor.Next(ctx) {
		var doc sessionDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode session: %w", err)
		}
		s, err := fromDoc(&doc)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return sessions, nil
}
