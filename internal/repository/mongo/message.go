package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vediclink/consult-api/internal/domain"
)

const messageCollection = "messages"

// MessageRepository implements domain.MessageRepository on MongoDB.
// The collection is append-only; there is no update path.
type MessageRepository struct {
	coll *mongo.Collection
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *DB) *MessageRepository {
	return &MessageRepository{coll: db.Collection(messageCollection)}
}

type messageDoc struct {
	ID        string    `bson:"_id"`
	SessionID string    `bson:"session_id"`
	SenderID  string    `bson:"sender_id,omitempty"`
	Kind      string    `bson:"kind"`
	Body      string    `bson:"body"`
	SentAt    time.Time `bson:"sent_at"`
}

func (r *MessageRepository) Append(ctx context.Context, message *domain.Message) error {
	doc := messageDoc{
		ID:        message.ID.String(),
		SessionID: message.SessionID.String(),
		Kind:      string(message.Kind),
		Body:      message.Body,
		SentAt:    message.SentAt,
	}
	if message.SenderID != uuid.Nil {
		doc.SenderID = message.SenderID.String()
	}

	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (r *MessageRepository) ListBySession(ctx context.Context, sessionID uuid.UUID, limit int) ([]domain.Message, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "sent_at", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := r.coll.Find(ctx, bson.M{"session_id": sessionID.String()}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer cursor.Close(ctx)

	var messages []domain.Message
	for cursor.Next(ctx) {
		var doc messageDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode message: %w", err)
		}
		m, err := messageFromDoc(&doc)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return messages, nil
}

func messageFromDoc(doc *messageDoc) (*domain.Message, error) {
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid message id %q: %w", doc.ID, err)
	}
	sessionID, err := uuid.Parse(doc.SessionID)
	if err != nil {
		return nil, fmt.Errorf("invalid session id: %w", err)
	}

	m := &domain.Message{
		ID:        id,
		SessionID: sessionID,
		Kind:      domain.MessageKind(doc.Kind),
		Body:      doc.Body,
		SentAt:    doc.SentAt,
	}
	if doc.SenderID != "" {
		senderID, err := uuid.Parse(doc.SenderID)
		if err != nil {
			return nil, fmt.Errorf("invalid sender id: %w", err)
		}
		m.SenderID = senderID
	}
	return m, nil
}
