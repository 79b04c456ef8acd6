package webhook

import (
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RetryPolicy bounds a single delivery: how many explicit retries the
// sweep may spend on an attempt and how long one HTTP call may take.
type RetryPolicy struct {
	MaxAttempts int   `json:"max_attempts" bson:"max_attempts"`
	TimeoutMs   int64 `json:"timeout_ms" bson:"timeout_ms"`
}

// Stats are lifetime delivery counters, owned by the delivery engine.
type Stats struct {
	TotalRequests      int64      `json:"total_requests" bson:"total_requests"`
	SuccessfulRequests int64      `json:"successful_requests" bson:"successful_requests"`
	FailedRequests     int64      `json:"failed_requests" bson:"failed_requests"`
	LastTriggeredAt    *time.Time `json:"last_triggered_at,omitempty" bson:"last_triggered_at,omitempty"`
}

// Webhook represents a URL subscription for specific events
type Webhook struct {
	ID          primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	OwnerID     string             `json:"owner_id" bson:"owner_id"`
	Name        string             `json:"name" bson:"name"`
	URL         string             `json:"url" bson:"url"`
	Events      []string           `json:"events" bson:"events"` // "*" subscribes to everything
	Active      bool               `json:"active" bson:"active"`
	Secret      string             `json:"secret,omitempty" bson:"secret"` // For HMAC signature; redacted outside create
	Headers     map[string]string  `json:"headers,omitempty" bson:"headers,omitempty"`
	RetryPolicy RetryPolicy        `json:"retry_policy" bson:"retry_policy"`
	Description string             `json:"description,omitempty" bson:"description,omitempty"`
	Stats       Stats              `json:"stats" bson:"stats"`
	CreatedAt   time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at" bson:"updated_at"`
}

// Subscribed reports whether the webhook listens for the given event type.
func (w *Webhook) Subscribed(event string) bool {
	for _, e := range w.Events {
		if e == event || e == "*" {
			return true
		}
	}
	return false
}

// Redacted returns a copy safe to return outside the create response.
func (w Webhook) Redacted() Webhook {
	w.Secret = ""
	return w
}

type DeliveryStatus string

const (
	StatusPending  DeliveryStatus = "pending"
	StatusSuccess  DeliveryStatus = "success"
	StatusFailed   DeliveryStatus = "failed"
	StatusRetrying DeliveryStatus = "retrying"
)

// ResponseSnapshot captures the receiver's answer, present only when a
// response actually came back.
type ResponseSnapshot struct {
	StatusCode int               `json:"status" bson:"status"`
	Body       string            `json:"body,omitempty" bson:"body,omitempty"`
	Headers    map[string]string `json:"headers,omitempty" bson:"headers,omitempty"`
}

// DeliveryAttempt is one logged dispatch of an event to a webhook.
// Retries mutate the record in place instead of appending a new one, so a
// logical delivery always maps to exactly one row.
type DeliveryAttempt struct {
	ID            primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	WebhookID     primitive.ObjectID `json:"webhook_id" bson:"webhook_id"`
	Event         string             `json:"event" bson:"event"`
	Payload       json.RawMessage    `json:"payload" bson:"payload"` // exact bytes that were signed and sent
	Status        DeliveryStatus     `json:"status" bson:"status"`
	AttemptCount  int                `json:"attempts" bson:"attempts"`
	Response      *ResponseSnapshot  `json:"response,omitempty" bson:"response,omitempty"`
	Error         string             `json:"error,omitempty" bson:"error,omitempty"`
	DurationMs    int64              `json:"duration" bson:"duration"`
	LastAttemptAt time.Time          `json:"last_attempt_at" bson:"last_attempt_at"`
	CreatedAt     time.Time          `json:"created_at" bson:"created_at"`
}

// DeliveryResult is what dispatch/test/retry hand back to the caller.
// Delivery failures live here as data; they are never surfaced as errors.
type DeliveryResult struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"status"`
	Response   string `json:"response,omitempty"`
	DurationMs int64  `json:"duration"`
	Error      string `json:"error,omitempty"`
}

// WebhookData is the create/update input shape.
type WebhookData struct {
	Name          string            `json:"name"`
	URL           string            `json:"url"`
	Events        []string          `json:"events"`
	Active        *bool             `json:"active,omitempty"`
	Secret        string            `json:"secret,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	RetryAttempts *int              `json:"retry_attempts,omitempty"`
	TimeoutMs     *int64            `json:"timeout_ms,omitempty"`
	Description   string            `json:"description,omitempty"`
}

// ListOptions filter and paginate webhook reads.
type ListOptions struct {
	Page   int64
	Limit  int64
	Status string // "active" | "inactive" | ""
	Event  string
}

// LogOptions filter and paginate delivery log reads.
type LogOptions struct {
	Page      int64
	Limit     int64
	Status    DeliveryStatus
	StartDate *time.Time
	EndDate   *time.Time
}

type WebhookPage struct {
	Webhooks   []Webhook `json:"webhooks"`
	Total      int64     `json:"total"`
	Page       int64     `json:"page"`
	Limit      int64     `json:"limit"`
	TotalPages int64     `json:"total_pages"`
}

type LogPage struct {
	Logs       []DeliveryAttempt `json:"logs"`
	Total      int64             `json:"total"`
	Page       int64             `json:"page"`
	Limit      int64             `json:"limit"`
	TotalPages int64             `json:"total_pages"`
}

// WindowStats are success/failure counts over a trailing window, derived
// from the delivery log on every read.
type WindowStats struct {
	Period             string     `json:"period"`
	TotalRequests      int64      `json:"total_requests"`
	SuccessfulRequests int64      `json:"successful_requests"`
	FailedRequests     int64      `json:"failed_requests"`
	SuccessRate        float64    `json:"success_rate"`
	LastTriggeredAt    *time.Time `json:"last_triggered_at,omitempty"`
}

// BulkRequest applies one action to many webhook ids.
type BulkRequest struct {
	IDs    []string     `json:"ids"`
	Action string       `json:"action"` // pause | resume | delete | update
	Data   *WebhookData `json:"data,omitempty"`
}

// BulkResult aggregates per-id outcomes; one bad id never fails the batch.
type BulkResult struct {
	Success int      `json:"success"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// NormalizedEvent wraps an inbound provider callback without transforming
// the payload itself.
type NormalizedEvent struct {
	Provider  string          `json:"provider"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Processed bool            `json:"processed"`
}

func totalPages(total, limit int64) int64 {
	if limit <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}
