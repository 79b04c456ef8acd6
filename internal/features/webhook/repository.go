package webhook

import (
	"context"
	"errors"
	"time"

	"crm-hooks/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type WebhookRepository interface {
	Create(ctx context.Context, webhook *Webhook) error
	Get(ctx context.Context, id string) (*Webhook, error)
	List(ctx context.Context, ownerID string, opts ListOptions) ([]Webhook, int64, error)
	ListByEvent(ctx context.Context, event string) ([]Webhook, error)
	Update(ctx context.Context, id string, updates map[string]interface{}) error
	Delete(ctx context.Context, id string) error
	SetActive(ctx context.Context, id string, active bool) error
	// RecordDelivery bumps the lifetime counters atomically so concurrent
	// dispatches to the same webhook cannot lose increments.
	RecordDelivery(ctx context.Context, id string, success bool, at time.Time) error
}

type WebhookRepositoryImpl struct {
	collection *mongo.Collection
}

func NewWebhookRepository(db *database.MongodbDB) WebhookRepository {
	return &WebhookRepositoryImpl{
		collection: db.DB.Collection("webhooks"),
	}
}

func (r *WebhookRepositoryImpl) Create(ctx context.Context, webhook *Webhook) error {
	if webhook.ID.IsZero() {
		webhook.ID = primitive.NewObjectID()
	}
	webhook.CreatedAt = time.Now()
	webhook.UpdatedAt = time.Now()

	_, err := r.collection.InsertOne(ctx, webhook)
	return err
}

func (r *WebhookRepositoryImpl) Get(ctx context.Context, id string) (*Webhook, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}

	var webhook Webhook
	err = r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&webhook)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &webhook, nil
}

func (r *WebhookRepositoryImpl) List(ctx context.Context, ownerID string, opts ListOptions) ([]Webhook, int64, error) {
	filter := bson.M{"owner_id": ownerID}
	switch opts.Status {
	case "active":
		filter["active"] = true
	case "inactive":
		filter["active"] = false
	}
	if opts.Event != "" {
		filter["events"] = opts.Event
	}

	total, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip((opts.Page - 1) * opts.Limit).
		SetLimit(opts.Limit)

	cursor, err := r.collection.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	var webhooks []Webhook
	if err = cursor.All(ctx, &webhooks); err != nil {
		return nil, 0, err
	}

	return webhooks, total, nil
}

func (r *WebhookRepositoryImpl) ListByEvent(ctx context.Context, event string) ([]Webhook, error) {
	// Match explicit subscriptions and catch-alls, active only
	filter := bson.M{
		"events": bson.M{"$in": []string{event, "*"}},
		"active": true,
	}

	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var webhooks []Webhook
	if err = cursor.All(ctx, &webhooks); err != nil {
		return nil, err
	}

	return webhooks, nil
}

func (r *WebhookRepositoryImpl) Update(ctx context.Context, id string, updates map[string]interface{}) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}

	updates["updated_at"] = time.Now()
	res, err := r.collection.UpdateOne(
		ctx,
		bson.M{"_id": oid},
		bson.M{"$set": updates},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *WebhookRepositoryImpl) Delete(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}

	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *WebhookRepositoryImpl) SetActive(ctx context.Context, id string, active bool) error {
	return r.Update(ctx, id, map[string]interface{}{"active": active})
}

func (r *WebhookRepositoryImpl) RecordDelivery(ctx context.Context, id string, success bool, at time.Time) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}

	inc := bson.M{"stats.total_requests": 1}
	if success {
		inc["stats.successful_requests"] = 1
	} else {
		inc["stats.failed_requests"] = 1
	}

	_, err = r.collection.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{
		"$inc": inc,
		"$set": bson.M{"stats.last_triggered_at": at},
	})
	return err
}
