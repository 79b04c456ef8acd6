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

// LogCapacity bounds the per-webhook delivery history. Appending beyond it
// silently evicts the oldest entries; audit depth is finite on purpose.
const LogCapacity = 1000

type DeliveryLogRepository interface {
	Append(ctx context.Context, attempt *DeliveryAttempt) error
	List(ctx context.Context, webhookID string, opts LogOptions) ([]DeliveryAttempt, int64, error)
	Get(ctx context.Context, webhookID, attemptID string) (*DeliveryAttempt, error)
	// UpdateAttempt mutates an existing record in place; retries never
	// append a second row for the same logical delivery.
	UpdateAttempt(ctx context.Context, attemptID string, updates map[string]interface{}) error
	CountSince(ctx context.Context, webhookID string, since time.Time, status DeliveryStatus) (int64, error)
	ListFailedSince(ctx context.Context, since time.Time, limit int64) ([]DeliveryAttempt, error)
	DeleteByWebhook(ctx context.Context, webhookID string) error
}

type DeliveryLogRepositoryImpl struct {
	collection *mongo.Collection
}

func NewDeliveryLogRepository(db *database.MongodbDB) DeliveryLogRepository {
	return &DeliveryLogRepositoryImpl{
		collection: db.DB.Collection("webhook_logs"),
	}
}

func (r *DeliveryLogRepositoryImpl) Append(ctx context.Context, attempt *DeliveryAttempt) error {
	if attempt.ID.IsZero() {
		attempt.ID = primitive.NewObjectID()
	}
	attempt.CreatedAt = time.Now()

	if _, err := r.collection.InsertOne(ctx, attempt); err != nil {
		return err
	}

	return r.evictOverflow(ctx, attempt.WebhookID)
}

// evictOverflow drops everything older than the LogCapacity'th newest
// entry. Idempotent, so concurrent appends at worst re-delete nothing.
func (r *DeliveryLogRepositoryImpl) evictOverflow(ctx context.Context, webhookID primitive.ObjectID) error {
	findOpts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(LogCapacity).
		SetProjection(bson.M{"_id": 1})

	cursor, err := r.collection.Find(ctx, bson.M{"webhook_id": webhookID}, findOpts)
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	var overflow []struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err = cursor.All(ctx, &overflow); err != nil {
		return err
	}
	if len(overflow) == 0 {
		return nil
	}

	ids := make([]primitive.ObjectID, 0, len(overflow))
	for _, doc := range overflow {
		ids = append(ids, doc.ID)
	}

	_, err = r.collection.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	return err
}

func (r *DeliveryLogRepositoryImpl) List(ctx context.Context, webhookID string, opts LogOptions) ([]DeliveryAttempt, int64, error) {
	oid, err := primitive.ObjectIDFromHex(webhookID)
	if err != nil {
		return nil, 0, ErrNotFound
	}

	filter := bson.M{"webhook_id": oid}
	if opts.Status != "" {
		filter["status"] = opts.Status
	}
	dateRange := bson.M{}
	if opts.StartDate != nil {
		dateRange["$gte"] = *opts.StartDate
	}
	if opts.EndDate != nil {
		dateRange["$lte"] = *opts.EndDate
	}
	if len(dateRange) > 0 {
		filter["created_at"] = dateRange
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

	var logs []DeliveryAttempt
	if err = cursor.All(ctx, &logs); err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}

func (r *DeliveryLogRepositoryImpl) Get(ctx context.Context, webhookID, attemptID string) (*DeliveryAttempt, error) {
	woid, err := primitive.ObjectIDFromHex(webhookID)
	if err != nil {
		return nil, ErrNotFound
	}
	aoid, err := primitive.ObjectIDFromHex(attemptID)
	if err != nil {
		return nil, ErrAttemptNotFound
	}

	var attempt DeliveryAttempt
	err = r.collection.FindOne(ctx, bson.M{"_id": aoid, "webhook_id": woid}).Decode(&attempt)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, err
	}

	return &attempt, nil
}

func (r *DeliveryLogRepositoryImpl) UpdateAttempt(ctx context.Context, attemptID string, updates map[string]interface{}) error {
	oid, err := primitive.ObjectIDFromHex(attemptID)
	if err != nil {
		return ErrAttemptNotFound
	}

	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": updates})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

func (r *DeliveryLogRepositoryImpl) CountSince(ctx context.Context, webhookID string, since time.Time, status DeliveryStatus) (int64, error) {
	oid, err := primitive.ObjectIDFromHex(webhookID)
	if err != nil {
		return 0, ErrNotFound
	}

	filter := bson.M{
		"webhook_id": oid,
		"created_at": bson.M{"$gte": since},
	}
	if status != "" {
		filter["status"] = status
	}

	return r.collection.CountDocuments(ctx, filter)
}

func (r *DeliveryLogRepositoryImpl) ListFailedSince(ctx context.Context, since time.Time, limit int64) ([]DeliveryAttempt, error) {
	filter := bson.M{
		"status":          StatusFailed,
		"last_attempt_at": bson.M{"$gte": since},
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: "last_attempt_at", Value: 1}}).
		SetLimit(limit)

	cursor, err := r.collection.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var attempts []DeliveryAttempt
	if err = cursor.All(ctx, &attempts); err != nil {
		return nil, err
	}

	return attempts, nil
}

func (r *DeliveryLogRepositoryImpl) DeleteByWebhook(ctx context.Context, webhookID string) error {
	oid, err := primitive.ObjectIDFromHex(webhookID)
	if err != nil {
		return ErrNotFound
	}

	_, err = r.collection.DeleteMany(ctx, bson.M{"webhook_id": oid})
	return err
}
