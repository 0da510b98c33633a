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

const userCollection = "users"

// UserRepository implements domain.UserRepository on MongoDB
type UserRepository struct {
	coll *mongo.Collection
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{coll: db.Collection(userCollection)}
}

type userDoc struct {
	ID        string                          `bson:"_id"`
	Name      string                          `bson:"name"`
	Role      string                          `bson:"role"`
	Rates     map[string]primitive.Decimal128 `bson:"rates,omitempty"`
	CreatedAt time.Time                       `bson:"created_at"`
	UpdatedAt time.Time                       `bson:"updated_at"`
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	doc := userDoc{
		ID:        user.ID.String(),
		Name:      user.Name,
		Role:      string(user.Role),
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
	if len(user.Rates) > 0 {
		doc.Rates = make(map[string]primitive.Decimal128, len(user.Rates))
		for kind, rate := range user.Rates {
			d128, err := primitive.ParseDecimal128(rate.String())
			if err != nil {
				return fmt.Errorf("invalid rate for %s: %w", kind, err)
			}
			doc.Rates[string(kind)] = d128
		}
	}

	// Upsert so the seeder can run repeatedly with the same fixture ids.
	opts := options.Replace().SetUpsert(true)
	if _, err := r.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, opts); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *UserRepository) Get(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var doc userDoc
	err := r.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	uid, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid user id %q: %w", doc.ID, err)
	}

	user := &domain.User{
		ID:        uid,
		Name:      doc.Name,
		Role:      domain.Role(doc.Role),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	if len(doc.Rates) > 0 {
		user.Rates = make(map[domain.SessionKind]decimal.Decimal, len(doc.Rates))
		for kind, d128 := range doc.Rates {
			rate, err := decimal.NewFromString(d128.String())
			if err != nil {
				return nil, fmt.Errorf("invalid rate for %s: %w", kind, err)
			}
			user.Rates[domain.SessionKind(kind)] = rate
		}
	}
	return user, nil
}
