package webhook

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// In-memory implementations of the repository contracts. They back the
// package tests and let the whole subsystem run without a database.

type MemoryWebhookRepository struct {
	mu       sync.RWMutex
	webhooks map[string]*Webhook
}

func NewMemoryWebhookRepository() *MemoryWebhookRepository {
	return &MemoryWebhookRepository{
		webhooks: make(map[string]*Webhook),
	}
}

func (r *MemoryWebhookRepository) Create(ctx context.Context, webhook *Webhook) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if webhook.ID.IsZero() {
		webhook.ID = primitive.NewObjectID()
	}
	webhook.CreatedAt = time.Now()
	webhook.UpdatedAt = time.Now()

	cp := *webhook
	r.webhooks[webhook.ID.Hex()] = &cp
	return nil
}

func (r *MemoryWebhookRepository) Get(ctx context.Context, id string) (*Webhook, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wh, ok := r.webhooks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *wh
	return &cp, nil
}

func (r *MemoryWebhookRepository) List(ctx context.Context, ownerID string, opts ListOptions) ([]Webhook, int64, error) {
	r.mu.RLock()
	matched := make([]Webhook, 0)
	for _, wh := range r.webhooks {
		if wh.OwnerID != ownerID {
			continue
		}
		if opts.Status == "active" && !wh.Active {
			continue
		}
		if opts.Status == "inactive" && wh.Active {
			continue
		}
		if opts.Event != "" && !contains(wh.Events, opts.Event) {
			continue
		}
		matched = append(matched, *wh)
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	start := (opts.Page - 1) * opts.Limit
	if start >= total {
		return []Webhook{}, total, nil
	}
	end := start + opts.Limit
	if end > total {
		end = total
	}

	return matched[start:end], total, nil
}

func (r *MemoryWebhookRepository) ListByEvent(ctx context.Context, event string) ([]Webhook, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []Webhook
	for _, wh := range r.webhooks {
		if wh.Active && wh.Subscribed(event) {
			matched = append(matched, *wh)
		}
	}
	return matched, nil
}

func (r *MemoryWebhookRepository) Update(ctx context.Context, id string, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wh, ok := r.webhooks[id]
	if !ok {
		return ErrNotFound
	}

	for key, value := range updates {
		switch key {
		case "name":
			wh.Name, _ = value.(string)
		case "url":
			wh.URL, _ = value.(string)
		case "events":
			wh.Events, _ = value.([]string)
		case "active":
			wh.Active, _ = value.(bool)
		case "headers":
			wh.Headers, _ = value.(map[string]string)
		case "retry_policy":
			if rp, ok := value.(RetryPolicy); ok {
				wh.RetryPolicy = rp
			}
		case "description":
			wh.Description, _ = value.(string)
		}
	}
	wh.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryWebhookRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.webhooks[id]; !ok {
		return ErrNotFound
	}
	delete(r.webhooks, id)
	return nil
}

func (r *MemoryWebhookRepository) SetActive(ctx context.Context, id string, active bool) error {
	return r.Update(ctx, id, map[string]interface{}{"active": active})
}

func (r *MemoryWebhookRepository) RecordDelivery(ctx context.Context, id string, success bool, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wh, ok := r.webhooks[id]
	if !ok {
		return ErrNotFound
	}

	wh.Stats.TotalRequests++
	if success {
		wh.Stats.SuccessfulRequests++
	} else {
		wh.Stats.FailedRequests++
	}
	ts := at
	wh.Stats.LastTriggeredAt = &ts
	return nil
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}

// attemptRing is a fixed-capacity circular buffer holding one webhook's
// history, newest overwriting oldest at LogCapacity.
type attemptRing struct {
	buf  []*DeliveryAttempt
	next int
	size int
}

func (r *attemptRing) append(a *DeliveryAttempt) {
	if r.buf == nil {
		r.buf = make([]*DeliveryAttempt, LogCapacity)
	}
	r.buf[r.next] = a
	r.next = (r.next + 1) % LogCapacity
	if r.size < LogCapacity {
		r.size++
	}
}

// newestFirst walks backwards from the last written slot.
func (r *attemptRing) newestFirst() []*DeliveryAttempt {
	out := make([]*DeliveryAttempt, 0, r.size)
	for i := 0; i < r.size; i++ {
		idx := ((r.next-1-i)%LogCapacity + LogCapacity) % LogCapacity
		out = append(out, r.buf[idx])
	}
	return out
}

type MemoryDeliveryLogRepository struct {
	mu    sync.Mutex
	rings map[string]*attemptRing       // keyed by webhook id
	index map[string]*DeliveryAttempt   // keyed by attempt id
	owner map[string]string             // attempt id -> webhook id
}

func NewMemoryDeliveryLogRepository() *MemoryDeliveryLogRepository {
	return &MemoryDeliveryLogRepository{
		rings: make(map[string]*attemptRing),
		index: make(map[string]*DeliveryAttempt),
		owner: make(map[string]string),
	}
}

func (r *MemoryDeliveryLogRepository) Append(ctx context.Context, attempt *DeliveryAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if attempt.ID.IsZero() {
		attempt.ID = primitive.NewObjectID()
	}
	attempt.CreatedAt = time.Now()

	key := attempt.WebhookID.Hex()
	ring, ok := r.rings[key]
	if !ok {
		ring = &attemptRing{}
		r.rings[key] = ring
	}

	// Evicted slot entries stay in the index until webhook deletion; the
	// ring alone decides visibility, matching the capacity contract.
	if ring.size == LogCapacity {
		if old := ring.buf[ring.next]; old != nil {
			delete(r.index, old.ID.Hex())
			delete(r.owner, old.ID.Hex())
		}
	}

	ring.append(attempt)
	r.index[attempt.ID.Hex()] = attempt
	r.owner[attempt.ID.Hex()] = key
	return nil
}

func (r *MemoryDeliveryLogRepository) List(ctx context.Context, webhookID string, opts LogOptions) ([]DeliveryAttempt, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ring, ok := r.rings[webhookID]
	if !ok {
		return []DeliveryAttempt{}, 0, nil
	}

	filtered := make([]DeliveryAttempt, 0, ring.size)
	for _, a := range ring.newestFirst() {
		if opts.Status != "" && a.Status != opts.Status {
			continue
		}
		if opts.StartDate != nil && a.CreatedAt.Before(*opts.StartDate) {
			continue
		}
		if opts.EndDate != nil && a.CreatedAt.After(*opts.EndDate) {
			continue
		}
		filtered = append(filtered, *a)
	}

	total := int64(len(filtered))
	start := (opts.Page - 1) * opts.Limit
	if start >= total {
		return []DeliveryAttempt{}, total, nil
	}
	end := start + opts.Limit
	if end > total {
		end = total
	}

	return filtered[start:end], total, nil
}

func (r *MemoryDeliveryLogRepository) Get(ctx context.Context, webhookID, attemptID string) (*DeliveryAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	attempt, ok := r.index[attemptID]
	if !ok || r.owner[attemptID] != webhookID {
		return nil, ErrAttemptNotFound
	}
	cp := *attempt
	return &cp, nil
}

func (r *MemoryDeliveryLogRepository) UpdateAttempt(ctx context.Context, attemptID string, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	attempt, ok := r.index[attemptID]
	if !ok {
		return ErrAttemptNotFound
	}

	for key, value := range updates {
		switch key {
		case "status":
			if s, ok := value.(DeliveryStatus); ok {
				attempt.Status = s
			}
		case "attempts":
			if n, ok := value.(int); ok {
				attempt.AttemptCount = n
			}
		case "response":
			attempt.Response, _ = value.(*ResponseSnapshot)
		case "error":
			attempt.Error, _ = value.(string)
		case "duration":
			if d, ok := value.(int64); ok {
				attempt.DurationMs = d
			}
		case "last_attempt_at":
			if t, ok := value.(time.Time); ok {
				attempt.LastAttemptAt = t
			}
		}
	}
	return nil
}

func (r *MemoryDeliveryLogRepository) CountSince(ctx context.Context, webhookID string, since time.Time, status DeliveryStatus) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ring, ok := r.rings[webhookID]
	if !ok {
		return 0, nil
	}

	var count int64
	for _, a := range ring.newestFirst() {
		if a.CreatedAt.Before(since) {
			continue
		}
		if status != "" && a.Status != status {
			continue
		}
		count++
	}
	return count, nil
}

func (r *MemoryDeliveryLogRepository) ListFailedSince(ctx context.Context, since time.Time, limit int64) ([]DeliveryAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []DeliveryAttempt
	for _, ring := range r.rings {
		for _, a := range ring.newestFirst() {
			if a.Status == StatusFailed && !a.LastAttemptAt.Before(since) {
				out = append(out, *a)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastAttemptAt.Before(out[j].LastAttemptAt)
	})
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryDeliveryLogRepository) DeleteByWebhook(ctx context.Context, webhookID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ring, ok := r.rings[webhookID]
	if ok {
		for _, a := range ring.newestFirst() {
			delete(r.index, a.ID.Hex())
			delete(r.owner, a.ID.Hex())
		}
	}
	delete(r.rings, webhookID)
	return nil
}

type MemoryTemplateRepository struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

func NewMemoryTemplateRepository() *MemoryTemplateRepository {
	return &MemoryTemplateRepository{
		templates: make(map[string]*Template),
	}
}

func (r *MemoryTemplateRepository) Create(ctx context.Context, template *Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if template.ID.IsZero() {
		template.ID = primitive.NewObjectID()
	}
	template.CreatedAt = time.Now()
	template.UpdatedAt = time.Now()

	cp := *template
	r.templates[template.ID.Hex()] = &cp
	return nil
}

func (r *MemoryTemplateRepository) Get(ctx context.Context, id string) (*Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.templates[id]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *MemoryTemplateRepository) List(ctx context.Context, filters TemplateFilters) ([]Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]Template, 0, len(r.templates))
	for _, t := range r.templates {
		if filters.Category != "" && t.Category != filters.Category {
			continue
		}
		if filters.Provider != "" && t.Provider != filters.Provider {
			continue
		}
		matched = append(matched, *t)
	}
	return matched, nil
}

func (r *MemoryTemplateRepository) Update(ctx context.Context, id string, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.templates[id]
	if !ok {
		return ErrTemplateNotFound
	}

	for key, value := range updates {
		switch key {
		case "name":
			t.Name, _ = value.(string)
		case "category":
			t.Category, _ = value.(string)
		case "provider":
			t.Provider, _ = value.(string)
		case "description":
			t.Description, _ = value.(string)
		case "events":
			t.Events, _ = value.([]string)
		case "template":
			if cfg, ok := value.(TemplateConfig); ok {
				t.Config = cfg
			}
		}
	}
	t.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryTemplateRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.templates[id]; !ok {
		return ErrTemplateNotFound
	}
	delete(r.templates, id)
	return nil
}

func (r *MemoryTemplateRepository) Count(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.templates)), nil
}
