package audit

import (
	"context"
	"sync"

	common_models "crm-hooks/internal/common/models"
	"crm-hooks/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type AuditRepository interface {
	Create(ctx context.Context, log common_models.AuditLog) error
	List(ctx context.Context, filters map[string]interface{}, limit, offset int64) ([]common_models.AuditLog, error)
}

type AuditRepositoryImpl struct {
	Collection *mongo.Collection
}

func NewAuditRepository(mongodb *database.MongodbDB) AuditRepository {
	return &AuditRepositoryImpl{
		Collection: mongodb.DB.Collection("audit_logs"),
	}
}

func (r *AuditRepositoryImpl) Create(ctx context.Context, log common_models.AuditLog) error {
	_, err := r.Collection.InsertOne(ctx, log)
	return err
}

func (r *AuditRepositoryImpl) List(ctx context.Context, filters map[string]interface{}, limit, offset int64) ([]common_models.AuditLog, error) {
	opts := options.Find().SetLimit(limit).SetSkip(offset).SetSort(bson.M{"timestamp": -1})

	query := bson.M{}
	for k, v := range filters {
		if v == nil {
			continue
		}
		if str, ok := v.(string); ok && str == "" {
			continue
		}
		query[k] = v
	}

	cursor, err := r.Collection.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	var logs []common_models.AuditLog
	if err = cursor.All(ctx, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// MemoryAuditRepository keeps audit entries in process memory. Used by tests
// and by deployments that run without Mongo.
type MemoryAuditRepository struct {
	mu   sync.RWMutex
	logs []common_models.AuditLog
}

func NewMemoryAuditRepository() *MemoryAuditRepository {
	return &MemoryAuditRepository{}
}

func (r *MemoryAuditRepository) Create(ctx context.Context, log common_models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, log)
	return nil
}

func (r *MemoryAuditRepository) List(ctx context.Context, filters map[string]interface{}, limit, offset int64) ([]common_models.AuditLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]common_models.AuditLog, 0)
	// Newest first, matching the Mongo sort.
	for i := len(r.logs) - 1; i >= 0; i-- {
		log := r.logs[i]
		if module, ok := filters["module"].(string); ok && module != "" && log.Module != module {
			continue
		}
		if recordID, ok := filters["record_id"].(string); ok && recordID != "" && log.RecordID != recordID {
			continue
		}
		out = append(out, log)
	}

	if offset >= int64(len(out)) {
		return []common_models.AuditLog{}, nil
	}
	out = out[offset:]
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}
