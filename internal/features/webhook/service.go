package webhook

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	common_models "crm-hooks/internal/common/models"
	"crm-hooks/internal/features/audit"
	"crm-hooks/pkg/utils"

	"go.uber.org/zap"
)

const (
	defaultRetryAttempts = 3
	defaultListLimit     = 20
	defaultLogLimit      = 50
)

type WebhookService interface {
	CreateWebhook(ctx context.Context, ownerID string, data WebhookData) (*Webhook, error)
	ListWebhooks(ctx context.Context, ownerID string, opts ListOptions) (*WebhookPage, error)
	GetWebhook(ctx context.Context, ownerID, id string) (*Webhook, error)
	UpdateWebhook(ctx context.Context, ownerID, id string, data WebhookData) (*Webhook, error)
	DeleteWebhook(ctx context.Context, ownerID, id string) error
	SetActive(ctx context.Context, ownerID, id string, active bool) error
	TestWebhook(ctx context.Context, ownerID, id string, payload json.RawMessage) (*DeliveryResult, error)
	Trigger(ctx context.Context, event string, data map[string]interface{})
	RetryDelivery(ctx context.Context, ownerID, webhookID, attemptID string) (*DeliveryResult, error)
	GetLogs(ctx context.Context, ownerID, id string, opts LogOptions) (*LogPage, error)
	GetStats(ctx context.Context, ownerID, id, period string) (*WindowStats, error)
	ExportLogs(ctx context.Context, ownerID, id string, opts LogOptions, format string) (*LogExport, error)
	BulkUpdate(ctx context.Context, ownerID string, req BulkRequest) (*BulkResult, error)
	RetrySweep(ctx context.Context, maxAge time.Duration) (int, error)
}

type WebhookServiceImpl struct {
	Repo         WebhookRepository
	LogRepo      DeliveryLogRepository
	Engine       *DeliveryEngine
	AuditService audit.AuditService
	Logger       *zap.Logger
}

func NewWebhookService(repo WebhookRepository, logRepo DeliveryLogRepository, engine *DeliveryEngine, auditService audit.AuditService, logger *zap.Logger) WebhookService {
	return &WebhookServiceImpl{
		Repo:         repo,
		LogRepo:      logRepo,
		Engine:       engine,
		AuditService: auditService,
		Logger:       logger,
	}
}

func (s *WebhookServiceImpl) CreateWebhook(ctx context.Context, ownerID string, data WebhookData) (*Webhook, error) {
	if err := validateTargetURL(data.URL); err != nil {
		return nil, err
	}
	if len(data.Events) == 0 {
		return nil, validationError("at least one subscribed event is required (use \"*\" for a catch-all)")
	}

	secret := data.Secret
	if secret == "" {
		var err error
		secret, err = generateSecret()
		if err != nil {
			return nil, err
		}
	}

	active := true
	if data.Active != nil {
		active = *data.Active
	}

	webhook := &Webhook{
		OwnerID:     ownerID,
		Name:        data.Name,
		URL:         data.URL,
		Events:      data.Events,
		Active:      active,
		Secret:      secret,
		Headers:     data.Headers,
		RetryPolicy: retryPolicyFrom(data, RetryPolicy{MaxAttempts: defaultRetryAttempts, TimeoutMs: defaultTimeoutMs}),
		Description: data.Description,
	}

	if err := s.Repo.Create(ctx, webhook); err != nil {
		return nil, err
	}

	s.AuditService.LogChange(ctx, common_models.AuditActionWebhook, "webhooks", webhook.ID.Hex(), map[string]common_models.Change{
		"webhook": {New: webhook.Redacted()},
	})
	s.Logger.Info("webhook created",
		zap.String("webhook_id", webhook.ID.Hex()),
		zap.String("owner_id", ownerID),
		zap.String("url", webhook.URL))

	return webhook, nil
}

func (s *WebhookServiceImpl) ListWebhooks(ctx context.Context, ownerID string, opts ListOptions) (*WebhookPage, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.Limit < 1 {
		opts.Limit = defaultListLimit
	}

	webhooks, total, err := s.Repo.List(ctx, ownerID, opts)
	if err != nil {
		return nil, err
	}

	redacted := make([]Webhook, len(webhooks))
	for i, wh := range webhooks {
		redacted[i] = wh.Redacted()
	}

	return &WebhookPage{
		Webhooks:   redacted,
		Total:      total,
		Page:       opts.Page,
		Limit:      opts.Limit,
		TotalPages: totalPages(total, opts.Limit),
	}, nil
}

func (s *WebhookServiceImpl) GetWebhook(ctx context.Context, ownerID, id string) (*Webhook, error) {
	webhook, err := s.getOwned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	redacted := webhook.Redacted()
	return &redacted, nil
}

func (s *WebhookServiceImpl) UpdateWebhook(ctx context.Context, ownerID, id string, data WebhookData) (*Webhook, error) {
	webhook, err := s.getOwned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if data.Name != "" {
		updates["name"] = data.Name
	}
	if data.URL != "" {
		if err := validateTargetURL(data.URL); err != nil {
			return nil, err
		}
		updates["url"] = data.URL
	}
	if data.Events != nil {
		if len(data.Events) == 0 {
			return nil, validationError("events cannot be emptied")
		}
		updates["events"] = data.Events
	}
	if data.Active != nil {
		updates["active"] = *data.Active
	}
	if data.Headers != nil {
		updates["headers"] = data.Headers
	}
	if data.RetryAttempts != nil || data.TimeoutMs != nil {
		updates["retry_policy"] = retryPolicyFrom(data, webhook.RetryPolicy)
	}
	if data.Description != "" {
		updates["description"] = data.Description
	}

	if err := s.Repo.Update(ctx, id, updates); err != nil {
		return nil, err
	}

	updated, err := s.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	s.AuditService.LogChange(ctx, common_models.AuditActionWebhook, "webhooks", id, map[string]common_models.Change{
		"webhook": {Old: webhook.Redacted(), New: updated.Redacted()},
	})

	redacted := updated.Redacted()
	return &redacted, nil
}

func (s *WebhookServiceImpl) DeleteWebhook(ctx context.Context, ownerID, id string) error {
	webhook, err := s.getOwned(ctx, ownerID, id)
	if err != nil {
		return err
	}

	if err := s.Repo.Delete(ctx, id); err != nil {
		return err
	}
	// History goes with its webhook
	if err := s.LogRepo.DeleteByWebhook(ctx, id); err != nil {
		s.Logger.Error("failed to drop delivery log", zap.String("webhook_id", id), zap.Error(err))
	}

	s.AuditService.LogChange(ctx, common_models.AuditActionWebhook, "webhooks", webhook.URL, map[string]common_models.Change{
		"webhook": {Old: webhook.Redacted(), New: "DELETED"},
	})
	return nil
}

func (s *WebhookServiceImpl) SetActive(ctx context.Context, ownerID, id string, active bool) error {
	webhook, err := s.getOwned(ctx, ownerID, id)
	if err != nil {
		return err
	}

	if err := s.Repo.SetActive(ctx, id, active); err != nil {
		return err
	}

	s.AuditService.LogChange(ctx, common_models.AuditActionWebhook, "webhooks", id, map[string]common_models.Change{
		"active": {Old: webhook.Active, New: active},
	})
	return nil
}

// TestWebhook sends a synchronous test delivery. It works while the
// webhook is paused; pause gates event traffic, not operator checks.
func (s *WebhookServiceImpl) TestWebhook(ctx context.Context, ownerID, id string, payload json.RawMessage) (*DeliveryResult, error) {
	webhook, err := s.getOwned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	event := "webhook.test"
	if len(payload) == 0 {
		payload, err = json.Marshal(map[string]interface{}{
			"event": event,
			"data": map[string]interface{}{
				"message":   "Webhook test delivery",
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			},
		})
		if err != nil {
			return nil, err
		}
	} else if e := eventFromPayload(payload); e != "" {
		event = e
	}

	return s.Engine.Dispatch(ctx, webhook, event, payload, true)
}

// Trigger fans an event out to every active subscriber. Deliveries run
// concurrently and detached from the request; outcomes land in the log.
func (s *WebhookServiceImpl) Trigger(ctx context.Context, event string, data map[string]interface{}) {
	webhooks, err := s.Repo.ListByEvent(ctx, event)
	if err != nil {
		s.Logger.Error("failed to list subscribers", zap.String("event", event), zap.Error(err))
		return
	}
	if len(webhooks) == 0 {
		return
	}

	payload, err := json.Marshal(map[string]interface{}{
		"event":     event,
		"data":      data,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		s.Logger.Error("failed to marshal event payload", zap.String("event", event), zap.Error(err))
		return
	}

	for i := range webhooks {
		wh := webhooks[i]
		go func() {
			if _, err := s.Engine.Dispatch(context.Background(), &wh, event, payload, false); err != nil {
				s.Logger.Error("dispatch refused",
					zap.String("webhook_id", wh.ID.Hex()), zap.Error(err))
			}
		}()
	}
}

// RetryDelivery replays the stored payload of a failed attempt and updates
// the same record in place: attempt count up by one, status and response
// overwritten. One logical delivery keeps exactly one row.
func (s *WebhookServiceImpl) RetryDelivery(ctx context.Context, ownerID, webhookID, attemptID string) (*DeliveryResult, error) {
	webhook, err := s.getOwned(ctx, ownerID, webhookID)
	if err != nil {
		return nil, err
	}

	attempt, err := s.LogRepo.Get(ctx, webhookID, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.Status == StatusSuccess {
		return nil, ErrRetryRejected
	}

	result, snapshot := s.Engine.Execute(ctx, webhook, attempt.Payload, attempt.Event)

	now := time.Now()
	updates := map[string]interface{}{
		"status":          statusFor(result),
		"attempts":        attempt.AttemptCount + 1,
		"response":        snapshot,
		"error":           result.Error,
		"duration":        result.DurationMs,
		"last_attempt_at": now,
	}
	if err := s.LogRepo.UpdateAttempt(ctx, attemptID, updates); err != nil {
		return nil, err
	}
	if err := s.Repo.RecordDelivery(ctx, webhookID, result.Success, now); err != nil {
		s.Logger.Error("failed to update webhook counters", zap.String("webhook_id", webhookID), zap.Error(err))
	}
	if s.Engine.notifier != nil {
		s.Engine.notifier.NotifyDelivery(webhookID, attempt.Event, *result)
	}

	s.AuditService.LogChange(ctx, common_models.AuditActionRetry, "webhook_logs", attemptID, map[string]common_models.Change{
		"status": {Old: attempt.Status, New: statusFor(result)},
	})

	return result, nil
}

func (s *WebhookServiceImpl) GetLogs(ctx context.Context, ownerID, id string, opts LogOptions) (*LogPage, error) {
	if _, err := s.getOwned(ctx, ownerID, id); err != nil {
		return nil, err
	}

	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.Limit < 1 {
		opts.Limit = defaultLogLimit
	}

	logs, total, err := s.LogRepo.List(ctx, id, opts)
	if err != nil {
		return nil, err
	}

	return &LogPage{
		Logs:       logs,
		Total:      total,
		Page:       opts.Page,
		Limit:      opts.Limit,
		TotalPages: totalPages(total, opts.Limit),
	}, nil
}

// GetStats derives windowed counts from the delivery log on every read
// instead of maintaining a second set of counters that could drift.
func (s *WebhookServiceImpl) GetStats(ctx context.Context, ownerID, id, period string) (*WindowStats, error) {
	webhook, err := s.getOwned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	var window time.Duration
	switch period {
	case "1d":
		window = 24 * time.Hour
	case "30d":
		window = 30 * 24 * time.Hour
	case "7d", "":
		period = "7d"
		window = 7 * 24 * time.Hour
	default:
		return nil, validationError("period must be one of 1d, 7d, 30d")
	}
	since := time.Now().Add(-window)

	total, err := s.LogRepo.CountSince(ctx, id, since, "")
	if err != nil {
		return nil, err
	}
	success, err := s.LogRepo.CountSince(ctx, id, since, StatusSuccess)
	if err != nil {
		return nil, err
	}
	failed, err := s.LogRepo.CountSince(ctx, id, since, StatusFailed)
	if err != nil {
		return nil, err
	}

	stats := &WindowStats{
		Period:             period,
		TotalRequests:      total,
		SuccessfulRequests: success,
		FailedRequests:     failed,
		LastTriggeredAt:    webhook.Stats.LastTriggeredAt,
	}
	if total > 0 {
		stats.SuccessRate = float64(success) / float64(total) * 100
	}

	return stats, nil
}

func (s *WebhookServiceImpl) BulkUpdate(ctx context.Context, ownerID string, req BulkRequest) (*BulkResult, error) {
	if len(req.IDs) == 0 {
		return nil, validationError("ids cannot be empty")
	}
	switch req.Action {
	case "pause", "resume", "delete", "update":
	default:
		return nil, validationError("unsupported action: %s", req.Action)
	}
	if req.Action == "update" && req.Data == nil {
		return nil, validationError("update action requires data")
	}

	result := &BulkResult{}
	for _, id := range req.IDs {
		var err error
		switch req.Action {
		case "pause":
			err = s.SetActive(ctx, ownerID, id, false)
		case "resume":
			err = s.SetActive(ctx, ownerID, id, true)
		case "delete":
			err = s.DeleteWebhook(ctx, ownerID, id)
		case "update":
			_, err = s.UpdateWebhook(ctx, ownerID, id, *req.Data)
		}

		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", id, err))
		} else {
			result.Success++
		}
	}

	s.AuditService.LogChange(ctx, common_models.AuditActionBulk, "webhooks", req.Action, map[string]common_models.Change{
		"result": {New: result},
	})
	return result, nil
}

// RetrySweep re-runs recent failed deliveries whose attempt budget is not
// exhausted. The scheduler invokes it; each retry mutates its own record.
func (s *WebhookServiceImpl) RetrySweep(ctx context.Context, maxAge time.Duration) (int, error) {
	attempts, err := s.LogRepo.ListFailedSince(ctx, time.Now().Add(-maxAge), LogCapacity)
	if err != nil {
		return 0, err
	}

	retried := 0
	for _, attempt := range attempts {
		webhook, err := s.Repo.Get(ctx, attempt.WebhookID.Hex())
		if err != nil {
			continue
		}
		if !webhook.Active {
			continue
		}
		if webhook.RetryPolicy.MaxAttempts > 0 && attempt.AttemptCount >= webhook.RetryPolicy.MaxAttempts {
			continue
		}

		if _, err := s.RetryDelivery(ctx, webhook.OwnerID, webhook.ID.Hex(), attempt.ID.Hex()); err != nil {
			s.Logger.Error("sweep retry failed",
				zap.String("webhook_id", webhook.ID.Hex()),
				zap.String("attempt_id", attempt.ID.Hex()),
				zap.Error(err))
			continue
		}
		retried++
	}

	return retried, nil
}

// getOwned loads a webhook and enforces exclusive ownership; admins pass.
func (s *WebhookServiceImpl) getOwned(ctx context.Context, ownerID, id string) (*Webhook, error) {
	webhook, err := s.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if webhook.OwnerID != ownerID && !isAdmin(ctx) {
		return nil, ErrForbidden
	}
	return webhook, nil
}

func isAdmin(ctx context.Context) bool {
	claims, ok := ctx.Value(utils.UserClaimsKey).(*utils.UserClaims)
	return ok && claims.IsAdmin()
}

func validateTargetURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return validationError("target url must be an absolute URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return validationError("target url scheme must be http or https")
	}
	return nil
}

// generateSecret returns 256 bits of entropy, hex encoded.
func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func retryPolicyFrom(data WebhookData, base RetryPolicy) RetryPolicy {
	policy := base
	if data.RetryAttempts != nil && *data.RetryAttempts >= 0 {
		policy.MaxAttempts = *data.RetryAttempts
	}
	if data.TimeoutMs != nil && *data.TimeoutMs > 0 {
		policy.TimeoutMs = *data.TimeoutMs
	}
	return policy
}

func eventFromPayload(payload []byte) string {
	var probe struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return ""
	}
	return probe.Event
}
