package webhook

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	userAgent        = "CRM-Webhook/1.0"
	eventHeader      = "X-Webhook-Event"
	deliveryIDHeader = "X-Webhook-Delivery"

	defaultTimeoutMs    = 30000
	maxResponseSnapshot = 64 * 1024
)

// DeliveryNotifier receives every finished delivery, e.g. for streaming to
// live feed subscribers. Implementations must not block.
type DeliveryNotifier interface {
	NotifyDelivery(webhookID, event string, result DeliveryResult)
}

// DeliveryEngine builds and executes a single outbound call and records the
// outcome. Delivery failures are captured in the result and the log; the
// engine returns an error only for precondition violations.
type DeliveryEngine struct {
	logRepo  DeliveryLogRepository
	repo     WebhookRepository
	notifier DeliveryNotifier
	client   *http.Client
	logger   *zap.Logger
}

func NewDeliveryEngine(repo WebhookRepository, logRepo DeliveryLogRepository, notifier DeliveryNotifier, logger *zap.Logger) *DeliveryEngine {
	return &DeliveryEngine{
		logRepo:  logRepo,
		repo:     repo,
		notifier: notifier,
		// No client-level timeout: each request is bounded by the
		// webhook's own retry policy through its context.
		client: &http.Client{},
		logger: logger,
	}
}

// Dispatch sends payload to the webhook's target and logs one new
// DeliveryAttempt. The caller must have confirmed the webhook is active
// unless this is an explicit test, which is allowed while paused.
func (e *DeliveryEngine) Dispatch(ctx context.Context, wh *Webhook, event string, payload []byte, isTest bool) (*DeliveryResult, error) {
	if !wh.Active && !isTest {
		return nil, validationError("webhook %s is paused", wh.ID.Hex())
	}
	if len(payload) == 0 {
		return nil, validationError("empty payload")
	}

	result, snapshot := e.Execute(ctx, wh, payload, event)

	now := time.Now()
	attempt := &DeliveryAttempt{
		WebhookID:     wh.ID,
		Event:         event,
		Payload:       payload,
		Status:        statusFor(result),
		AttemptCount:  1,
		Response:      snapshot,
		Error:         result.Error,
		DurationMs:    result.DurationMs,
		LastAttemptAt: now,
	}

	if err := e.logRepo.Append(ctx, attempt); err != nil {
		e.logger.Error("failed to record delivery attempt",
			zap.String("webhook_id", wh.ID.Hex()), zap.Error(err))
	}
	if err := e.repo.RecordDelivery(ctx, wh.ID.Hex(), result.Success, now); err != nil {
		e.logger.Error("failed to update webhook counters",
			zap.String("webhook_id", wh.ID.Hex()), zap.Error(err))
	}
	if e.notifier != nil {
		e.notifier.NotifyDelivery(wh.ID.Hex(), event, *result)
	}

	return result, nil
}

// Execute performs the HTTP call and classifies the outcome without
// touching the log or counters. Retry uses it to mutate an existing record.
func (e *DeliveryEngine) Execute(ctx context.Context, wh *Webhook, payload []byte, event string) (*DeliveryResult, *ResponseSnapshot) {
	timeoutMs := wh.RetryPolicy.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = defaultTimeoutMs
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(payload))
	if err != nil {
		return &DeliveryResult{
			Success:    false,
			DurationMs: time.Since(start).Milliseconds(),
			Error:      err.Error(),
		}, nil
	}

	// Custom headers first so the required set always wins
	for k, v := range wh.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(eventHeader, event)
	req.Header.Set(deliveryIDHeader, uuid.NewString())
	// Sign the exact bytes about to go on the wire
	req.Header.Set(SignatureHeader, Sign(wh.Secret, payload))

	resp, err := e.client.Do(req)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		errMsg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) || (ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded)) {
			errMsg = "timeout: no response within " + (time.Duration(timeoutMs) * time.Millisecond).String()
		}
		return &DeliveryResult{
			Success:    false,
			DurationMs: duration,
			Error:      errMsg,
		}, nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSnapshot))

	snapshot := &ResponseSnapshot{
		StatusCode: resp.StatusCode,
		Body:       string(body),
		Headers:    flattenHeaders(resp.Header),
	}

	result := &DeliveryResult{
		Success:    resp.StatusCode < 400,
		StatusCode: resp.StatusCode,
		Response:   snapshot.Body,
		DurationMs: duration,
	}
	if !result.Success {
		result.Error = "HTTP " + resp.Status
	}

	return result, snapshot
}

func statusFor(result *DeliveryResult) DeliveryStatus {
	if result.Success {
		return StatusSuccess
	}
	return StatusFailed
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
