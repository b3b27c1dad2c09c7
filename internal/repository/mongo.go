package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/domain"
)

// MongoStore implements SessionRepository, CartRepository and
// ActivityRepository on top of MongoDB. Sessions, cart lines and
// activity records live in separate collections; per-session activity
// sequence numbers come from an atomic counter document.
type MongoStore struct {
	sessions   *mongo.Collection
	items      *mongo.Collection
	activities *mongo.Collection
	counters   *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		sessions:   db.Collection("cart_sessions"),
		items:      db.Collection("cart_items"),
		activities: db.Collection("cart_activities"),
		counters:   db.Collection("counters"),
	}
}

// EnsureIndexes creates the indexes the store relies on. The partial
// unique index on token enforces one active session per token at the
// storage level. Call once at startup.
func (m *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := m.sessions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "token", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"active": true}),
		},
		{
			Keys: bson.D{{Key: "active", Value: 1}, {Key: "expires_at", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create session indexes: %w", err)
	}

	_, err = m.items.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}, {Key: "product_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create item index: %w", err)
	}

	_, err = m.activities.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "seq", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create activity index: %w", err)
	}
	return nil
}

// Decimal prices are stored as strings to keep exact values; uuids
// are stored as their string form.
type sessionDoc struct {
	ID             string    `bson:"_id"`
	Token          string    `bson:"token"`
	OwnerID        string    `bson:"owner_id,omitempty"`
	Active         bool      `bson:"active"`
	CreatedAt      time.Time `bson:"created_at"`
	LastActivityAt time.Time `bson:"last_activity_at"`
	ExpiresAt      time.Time `bson:"expires_at"`
}

type itemDoc struct {
	SessionID string    `bson:"session_id"`
	ProductID int64     `bson:"product_id"`
	Quantity  int       `bson:"quantity"`
	UnitPrice string    `bson:"unit_price"`
	Notes     string    `bson:"notes,omitempty"`
	AddedAt   time.Time `bson:"added_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type activityDoc struct {
	ID          string    `bson:"_id"`
	SessionID   string    `bson:"session_id"`
	Type        string    `bson:"type"`
	ProductID   int64     `bson:"product_id,omitempty"`
	OldQuantity int       `bson:"old_quantity"`
	NewQuantity int       `bson:"new_quantity"`
	Seq         int64     `bson:"seq"`
	RecordedAt  time.Time `bson:"recorded_at"`
}

func toSessionDoc(s *domain.CartSession) sessionDoc {
	return sessionDoc{
		ID:             s.ID.String(),
		Token:          s.Token,
		OwnerID:        s.OwnerID,
		Active:         s.Active,
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.LastActivityAt,
		ExpiresAt:      s.ExpiresAt,
	}
}

func fromSessionDoc(d sessionDoc) (*domain.CartSession, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse session id: %w", err)
	}
	return &domain.CartSession{
		ID:             id,
		Token:          d.Token,
		OwnerID:        d.OwnerID,
		Active:         d.Active,
		CreatedAt:      d.CreatedAt,
		LastActivityAt: d.LastActivityAt,
		ExpiresAt:      d.ExpiresAt,
	}, nil
}

func fromItemDoc(d itemDoc) (*domain.CartItem, error) {
	sessionID, err := uuid.Parse(d.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse session id: %w", err)
	}
	price, err := decimal.NewFromString(d.UnitPrice)
	if err != nil {
		return nil, fmt.Errorf("failed to parse unit price: %w", err)
	}
	return &domain.CartItem{
		SessionID: sessionID,
		ProductID: d.ProductID,
		Quantity:  d.Quantity,
		UnitPrice: price,
		Notes:     d.Notes,
		AddedAt:   d.AddedAt,
		UpdatedAt: d.UpdatedAt,
	}, nil
}

func fromActivityDoc(d activityDoc) (*domain.CartActivity, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse activity id: %w", err)
	}
	sessionID, err := uuid.Parse(d.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse session id: %w", err)
	}
	return &domain.CartActivity{
		ID:          id,
		SessionID:   sessionID,
		Type:        domain.ActivityType(d.Type),
		ProductID:   d.ProductID,
		OldQuantity: d.OldQuantity,
		NewQuantity: d.NewQuantity,
		Seq:         d.Seq,
		RecordedAt:  d.RecordedAt,
	}, nil
}

func (m *MongoStore) CreateSession(ctx context.Context, session *domain.CartSession) error {
	_, err := m.sessions.InsertOne(ctx, toSessionDoc(session))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrTokenConflict
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (m *MongoStore) GetSessionByID(ctx context.Context, id uuid.UUID) (*domain.CartSession, error) {
	var doc sessionDoc
	err := m.sessions.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return fromSessionDoc(doc)
}

func (m *MongoStore) GetActiveSessionByToken(ctx context.Context, token string) (*domain.CartSession, error) {
	var doc sessionDoc
	err := m.sessions.FindOne(ctx, bson.M{"token": token, "active": true}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session by token: %w", err)
	}
	return fromSessionDoc(doc)
}

func (m *MongoStore) TouchSession(ctx context.Context, id uuid.UUID, lastActivity, expiresAt time.Time) error {
	result, err := m.sessions.UpdateOne(ctx,
		bson.M{"_id": id.String(), "active": true},
		bson.M{"$set": bson.M{"last_activity_at": lastActivity, "expires_at": expiresAt}},
	)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (m *MongoStore) CloseSession(ctx context.Context, id uuid.UUID) error {
	result, err := m.sessions.UpdateOne(ctx,
		bson.M{"_id": id.String()},
		bson.M{"$set": bson.M{"active": false}},
	)
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (m *MongoStore) ListExpiredSessions(ctx context.Context, now time.Time, limit int) ([]*domain.CartSession, error) {
	opts := options.Find().SetSort(bson.D{{Key: "expires_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := m.sessions.Find(ctx,
		bson.M{"active": true, "expires_at": bson.M{"$lt": now}}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired sessions: %w", err)
	}

	var docs []sessionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode expired sessions: %w", err)
	}

	result := make([]*domain.CartSession, 0, len(docs))
	for _, doc := range docs {
		session, err := fromSessionDoc(doc)
		if err != nil {
			return nil, err
		}
		result = append(result, session)
	}
	return result, nil
}

func (m *MongoStore) UpsertItem(ctx context.Context, item *domain.CartItem) (*domain.CartItem, error) {
	filter := bson.M{"session_id": item.SessionID.String(), "product_id": item.ProductID}
	update := bson.M{
		"$set": bson.M{
			"quantity":   item.Quantity,
			"unit_price": item.UnitPrice.String(),
			"notes":      item.Notes,
			"updated_at": item.UpdatedAt,
		},
		"$setOnInsert": bson.M{
			"session_id": item.SessionID.String(),
			"product_id": item.ProductID,
			"added_at":   item.AddedAt,
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.Before)

	var before itemDoc
	err := m.items.FindOneAndUpdate(ctx, filter, update, opts).Decode(&before)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// No previous line, the upsert inserted a new one
			return nil, nil
		}
		return nil, fmt.Errorf("failed to upsert item: %w", err)
	}
	return fromItemDoc(before)
}

func (m *MongoStore) UpdateItem(ctx context.Context, sessionID uuid.UUID, productID int64, quantity int, notes *string, at time.Time) (*domain.CartItem, error) {
	set := bson.M{"quantity": quantity, "updated_at": at}
	if notes != nil {
		set["notes"] = *notes
	}

	filter := bson.M{"session_id": sessionID.String(), "product_id": productID}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.Before)

	var before itemDoc
	err := m.items.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&before)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to update item: %w", err)
	}
	return fromItemDoc(before)
}

func (m *MongoStore) RemoveItem(ctx context.Context, sessionID uuid.UUID, productID int64) (*domain.CartItem, error) {
	filter := bson.M{"session_id": sessionID.String(), "product_id": productID}

	var removed itemDoc
	err := m.items.FindOneAndDelete(ctx, filter).Decode(&removed)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to remove item: %w", err)
	}
	return fromItemDoc(removed)
}

func (m *MongoStore) ListItems(ctx context.Context, sessionID uuid.UUID) ([]domain.CartItem, error) {
	opts := options.Find().SetSort(bson.D{{Key: "product_id", Value: 1}})
	cursor, err := m.items.Find(ctx, bson.M{"session_id": sessionID.String()}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}

	var docs []itemDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode items: %w", err)
	}

	result := make([]domain.CartItem, 0, len(docs))
	for _, doc := range docs {
		item, err := fromItemDoc(doc)
		if err != nil {
			return nil, err
		}
		result = append(result, *item)
	}
	return result, nil
}

func (m *MongoStore) ClearItems(ctx context.Context, sessionID uuid.UUID) ([]domain.CartItem, error) {
	removed, err := m.ListItems(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(removed) == 0 {
		return nil, nil
	}

	_, err = m.items.DeleteMany(ctx, bson.M{"session_id": sessionID.String()})
	if err != nil {
		return nil, fmt.Errorf("failed to clear items: %w", err)
	}
	return removed, nil
}

// nextSeq atomically increments the per-session activity counter.
func (m *MongoStore) nextSeq(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var counter struct {
		Value int64 `bson:"value"`
	}
	err := m.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": "activity_seq:" + sessionID.String()},
		bson.M{"$inc": bson.M{"value": 1}},
		opts,
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("failed to increment activity counter: %w", err)
	}
	return counter.Value, nil
}

func (m *MongoStore) AppendActivity(ctx context.Context, activity *domain.CartActivity) error {
	seq, err := m.nextSeq(ctx, activity.SessionID)
	if err != nil {
		return err
	}
	activity.Seq = seq
	if activity.ID == uuid.Nil {
		activity.ID = uuid.New()
	}

	doc := activityDoc{
		ID:          activity.ID.String(),
		SessionID:   activity.SessionID.String(),
		Type:        string(activity.Type),
		ProductID:   activity.ProductID,
		OldQuantity: activity.OldQuantity,
		NewQuantity: activity.NewQuantity,
		Seq:         activity.Seq,
		RecordedAt:  activity.RecordedAt,
	}
	if _, err := m.activities.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to append activity: %w", err)
	}
	return nil
}

func (m *MongoStore) ListActivities(ctx context.Context, sessionID uuid.UUID) ([]domain.CartActivity, error) {
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	cursor, err := m.activities.Find(ctx, bson.M{"session_id": sessionID.String()}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}

	var docs []activityDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode activities: %w", err)
	}

	result := make([]domain.CartActivity, 0, len(docs))
	for _, doc := range docs {
		activity, err := fromActivityDoc(doc)
		if err != nil {
			return nil, err
		}
		result = append(result, *activity)
	}
	return result, nil
}
