package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	common_models "crm-hooks/internal/common/models"
	"crm-hooks/internal/database"
	"crm-hooks/internal/features/audit"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// builtinOwner marks seeded templates; nobody but admins may mutate them.
const builtinOwner = "system"

// TemplateConfig is the blueprint applied when a template is instantiated
// into a webhook. The payload blob keeps its placeholders verbatim.
type TemplateConfig struct {
	URL     string            `json:"url" bson:"url"`
	Headers map[string]string `json:"headers,omitempty" bson:"headers,omitempty"`
	Payload json.RawMessage   `json:"payload,omitempty" bson:"payload,omitempty"`
}

// Template is a reusable, provider-tagged webhook configuration blueprint.
type Template struct {
	ID          primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Name        string             `json:"name" bson:"name"`
	Category    string             `json:"category" bson:"category"`
	Provider    string             `json:"provider" bson:"provider"`
	Description string             `json:"description,omitempty" bson:"description,omitempty"`
	Events      []string           `json:"events" bson:"events"`
	Config      TemplateConfig     `json:"template" bson:"template"`
	CreatedBy   string             `json:"created_by" bson:"created_by"`
	CreatedAt   time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at" bson:"updated_at"`
}

type TemplateFilters struct {
	Category string
	Provider string
}

type TemplateRepository interface {
	Create(ctx context.Context, template *Template) error
	Get(ctx context.Context, id string) (*Template, error)
	List(ctx context.Context, filters TemplateFilters) ([]Template, error)
	Update(ctx context.Context, id string, updates map[string]interface{}) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int64, error)
}

type TemplateRepositoryImpl struct {
	collection *mongo.Collection
}

func NewTemplateRepository(db *database.MongodbDB) TemplateRepository {
	return &TemplateRepositoryImpl{
		collection: db.DB.Collection("webhook_templates"),
	}
}

func (r *TemplateRepositoryImpl) Create(ctx context.Context, template *Template) error {
	if template.ID.IsZero() {
		template.ID = primitive.NewObjectID()
	}
	template.CreatedAt = time.Now()
	template.UpdatedAt = time.Now()

	_, err := r.collection.InsertOne(ctx, template)
	return err
}

func (r *TemplateRepositoryImpl) Get(ctx context.Context, id string) (*Template, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrTemplateNotFound
	}

	var template Template
	err = r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&template)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrTemplateNotFound
	}
	if err != nil {
		return nil, err
	}
	return &template, nil
}

func (r *TemplateRepositoryImpl) List(ctx context.Context, filters TemplateFilters) ([]Template, error) {
	filter := bson.M{}
	if filters.Category != "" {
		filter["category"] = filters.Category
	}
	if filters.Provider != "" {
		filter["provider"] = filters.Provider
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var templates []Template
	if err = cursor.All(ctx, &templates); err != nil {
		return nil, err
	}
	return templates, nil
}

func (r *TemplateRepositoryImpl) Update(ctx context.Context, id string, updates map[string]interface{}) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrTemplateNotFound
	}

	updates["updated_at"] = time.Now()
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": updates})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

func (r *TemplateRepositoryImpl) Delete(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrTemplateNotFound
	}

	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

func (r *TemplateRepositoryImpl) Count(ctx context.Context) (int64, error) {
	return r.collection.CountDocuments(ctx, bson.M{})
}

type TemplateService interface {
	ListTemplates(ctx context.Context, filters TemplateFilters) ([]Template, error)
	GetTemplate(ctx context.Context, id string) (*Template, error)
	CreateTemplate(ctx context.Context, ownerID string, template *Template) error
	UpdateTemplate(ctx context.Context, ownerID, id string, updates map[string]interface{}) (*Template, error)
	DeleteTemplate(ctx context.Context, ownerID, id string) error
	SeedBuiltin(ctx context.Context) error
}

type TemplateServiceImpl struct {
	Repo         TemplateRepository
	AuditService audit.AuditService
}

func NewTemplateService(repo TemplateRepository, auditService audit.AuditService) TemplateService {
	return &TemplateServiceImpl{
		Repo:         repo,
		AuditService: auditService,
	}
}

func (s *TemplateServiceImpl) ListTemplates(ctx context.Context, filters TemplateFilters) ([]Template, error) {
	return s.Repo.List(ctx, filters)
}

func (s *TemplateServiceImpl) GetTemplate(ctx context.Context, id string) (*Template, error) {
	return s.Repo.Get(ctx, id)
}

func (s *TemplateServiceImpl) CreateTemplate(ctx context.Context, ownerID string, template *Template) error {
	if template.Name == "" {
		return validationError("template name is required")
	}
	template.CreatedBy = ownerID

	if err := s.Repo.Create(ctx, template); err != nil {
		return err
	}

	s.AuditService.LogChange(ctx, common_models.AuditActionTemplate, "webhook_templates", template.ID.Hex(), map[string]common_models.Change{
		"template": {New: template},
	})
	return nil
}

func (s *TemplateServiceImpl) UpdateTemplate(ctx context.Context, ownerID, id string, updates map[string]interface{}) (*Template, error) {
	template, err := s.mutable(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	if err := s.Repo.Update(ctx, id, updates); err != nil {
		return nil, err
	}

	updated, err := s.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	s.AuditService.LogChange(ctx, common_models.AuditActionTemplate, "webhook_templates", id, map[string]common_models.Change{
		"template": {Old: template, New: updated},
	})
	return updated, nil
}

func (s *TemplateServiceImpl) DeleteTemplate(ctx context.Context, ownerID, id string) error {
	template, err := s.mutable(ctx, ownerID, id)
	if err != nil {
		return err
	}

	if err := s.Repo.Delete(ctx, id); err != nil {
		return err
	}

	s.AuditService.LogChange(ctx, common_models.AuditActionTemplate, "webhook_templates", id, map[string]common_models.Change{
		"template": {Old: template, New: "DELETED"},
	})
	return nil
}

// mutable enforces creator-only mutation, admins excepted.
func (s *TemplateServiceImpl) mutable(ctx context.Context, ownerID, id string) (*Template, error) {
	template, err := s.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if template.CreatedBy != ownerID && !isAdmin(ctx) {
		return nil, ErrForbidden
	}
	return template, nil
}

// SeedBuiltin installs the starter templates once, on an empty catalog.
func (s *TemplateServiceImpl) SeedBuiltin(ctx context.Context) error {
	count, err := s.Repo.Count(ctx)
	if err != nil || count > 0 {
		return err
	}

	for _, template := range builtinTemplates() {
		t := template
		if err := s.Repo.Create(ctx, &t); err != nil {
			return err
		}
	}
	return nil
}

func builtinTemplates() []Template {
	return []Template{
		{
			Name:        "Slack notification",
			Category:    "notification",
			Provider:    "slack",
			Description: "Send a message to a Slack channel",
			Events:      []string{"contact.created", "opportunity.won", "task.completed"},
			Config: TemplateConfig{
				URL:     "https://hooks.slack.com/services/YOUR/SLACK/WEBHOOK",
				Headers: map[string]string{"Content-Type": "application/json"},
				Payload: json.RawMessage(`{"text":"{{event.type}}: {{event.data.name}}","channel":"#sales","username":"CRM Bot"}`),
			},
			CreatedBy: builtinOwner,
		},
		{
			Name:        "Email notification",
			Category:    "notification",
			Provider:    "email",
			Description: "Send an email notification",
			Events:      []string{"contact.created", "opportunity.created"},
			Config: TemplateConfig{
				URL: "https://api.sendgrid.com/v3/mail/send",
				Headers: map[string]string{
					"Authorization": "Bearer YOUR_API_KEY",
					"Content-Type":  "application/json",
				},
				Payload: json.RawMessage(`{"personalizations":[{"to":[{"email":"{{recipient.email}}"}],"subject":"{{event.type}} - {{event.data.name}}"}],"from":{"email":"noreply@example.com"},"content":[{"type":"text/html","value":"<p>{{event.description}}</p>"}]}`),
			},
			CreatedBy: builtinOwner,
		},
	}
}
