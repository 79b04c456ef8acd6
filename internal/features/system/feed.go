package system

import (
	"encoding/json"
	"sync"
	"time"

	"crm-hooks/internal/features/webhook"

	"go.uber.org/zap"
)

const feedBuffer = 32

// DeliveryEvent is the frame pushed to websocket subscribers after every
// delivery attempt.
type DeliveryEvent struct {
	WebhookID  string    `json:"webhook_id"`
	Event      string    `json:"event"`
	Success    bool      `json:"success"`
	HTTPStatus int       `json:"http_status,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// DeliveryFeed fans delivery results out to connected websocket clients.
// Slow subscribers are skipped rather than blocking the dispatch path.
type DeliveryFeed struct {
	mu     sync.RWMutex
	subs   map[chan []byte]struct{}
	logger *zap.Logger
}

func NewDeliveryFeed(logger *zap.Logger) *DeliveryFeed {
	return &DeliveryFeed{
		subs:   make(map[chan []byte]struct{}),
		logger: logger,
	}
}

// NotifyDelivery implements webhook.DeliveryNotifier.
func (f *DeliveryFeed) NotifyDelivery(webhookID, event string, result webhook.DeliveryResult) {
	frame := DeliveryEvent{
		WebhookID:  webhookID,
		Event:      event,
		Success:    result.Success,
		HTTPStatus: result.StatusCode,
		DurationMs: result.DurationMs,
		Error:      result.Error,
		Timestamp:  time.Now(),
	}

	data, err := json.Marshal(frame)
	if err != nil {
		f.logger.Error("failed to encode delivery event", zap.Error(err))
		return
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	for ch := range f.subs {
		select {
		case ch <- data:
		default:
		}
	}
}

func (f *DeliveryFeed) Subscribe() chan []byte {
	ch := make(chan []byte, feedBuffer)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()
	return ch
}

func (f *DeliveryFeed) Unsubscribe(ch chan []byte) {
	f.mu.Lock()
	delete(f.subs, ch)
	f.mu.Unlock()
	close(ch)
}
