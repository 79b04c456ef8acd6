package webhook

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"crm-hooks/internal/features/audit"
	"crm-hooks/pkg/utils"

	"go.uber.org/zap"
)

func newTestService() (WebhookService, *MemoryWebhookRepository, *MemoryDeliveryLogRepository) {
	repo := NewMemoryWebhookRepository()
	logRepo := NewMemoryDeliveryLogRepository()
	engine := NewDeliveryEngine(repo, logRepo, nil, zap.NewNop())
	auditService := audit.NewAuditService(audit.NewMemoryAuditRepository())
	service := NewWebhookService(repo, logRepo, engine, auditService, zap.NewNop())
	return service, repo, logRepo
}

func TestCreateWebhook(t *testing.T) {
	service, _, _ := newTestService()
	ctx := context.Background()

	tests := []struct {
		name    string
		data    WebhookData
		wantErr bool
	}{
		{
			name: "valid",
			data: WebhookData{Name: "ok", URL: "https://example.com/hook", Events: []string{"contact.created"}},
		},
		{
			name:    "missing events",
			data:    WebhookData{Name: "bad", URL: "https://example.com/hook"},
			wantErr: true,
		},
		{
			name:    "relative url",
			data:    WebhookData{Name: "bad", URL: "/hook", Events: []string{"*"}},
			wantErr: true,
		},
		{
			name:    "ftp scheme",
			data:    WebhookData{Name: "bad", URL: "ftp://example.com/hook", Events: []string{"*"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wh, err := service.CreateWebhook(ctx, "user-1", tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CreateWebhook() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if wh.Secret == "" {
				t.Error("created webhook has no generated secret")
			}
			if len(wh.Secret) != 64 {
				t.Errorf("generated secret length = %d, want 64 hex chars", len(wh.Secret))
			}
			if !wh.Active {
				t.Error("webhook should default to active")
			}
			if wh.RetryPolicy.MaxAttempts != defaultRetryAttempts {
				t.Errorf("retry attempts = %d, want default %d", wh.RetryPolicy.MaxAttempts, defaultRetryAttempts)
			}
			if wh.RetryPolicy.TimeoutMs != defaultTimeoutMs {
				t.Errorf("timeout = %d, want default %d", wh.RetryPolicy.TimeoutMs, defaultTimeoutMs)
			}
		})
	}
}

func TestSecretRedactedAfterCreate(t *testing.T) {
	service, _, _ := newTestService()
	ctx := context.Background()

	created, err := service.CreateWebhook(ctx, "user-1", WebhookData{
		Name: "redact", URL: "https://example.com/hook", Events: []string{"*"},
	})
	if err != nil {
		t.Fatalf("CreateWebhook() error = %v", err)
	}

	got, err := service.GetWebhook(ctx, "user-1", created.ID.Hex())
	if err != nil {
		t.Fatalf("GetWebhook() error = %v", err)
	}
	if got.Secret != "" {
		t.Error("secret leaked from read path")
	}

	page, err := service.ListWebhooks(ctx, "user-1", ListOptions{})
	if err != nil {
		t.Fatalf("ListWebhooks() error = %v", err)
	}
	for _, wh := range page.Webhooks {
		if wh.Secret != "" {
			t.Error("secret leaked from list path")
		}
	}
}

func TestOwnershipEnforced(t *testing.T) {
	service, _, _ := newTestService()
	ctx := context.Background()

	created, err := service.CreateWebhook(ctx, "user-1", WebhookData{
		Name: "mine", URL: "https://example.com/hook", Events: []string{"*"},
	})
	if err != nil {
		t.Fatalf("CreateWebhook() error = %v", err)
	}

	if _, err := service.GetWebhook(ctx, "user-2", created.ID.Hex()); err != ErrForbidden {
		t.Errorf("foreign read error = %v, want ErrForbidden", err)
	}
	if err := service.DeleteWebhook(ctx, "user-2", created.ID.Hex()); err != ErrForbidden {
		t.Errorf("foreign delete error = %v, want ErrForbidden", err)
	}

	// Admin claims bypass ownership.
	adminCtx := context.WithValue(ctx, utils.UserClaimsKey, &utils.UserClaims{
		UserID: "user-2",
		Roles:  []string{"admin"},
	})
	if _, err := service.GetWebhook(adminCtx, "user-2", created.ID.Hex()); err != nil {
		t.Errorf("admin read should pass, got %v", err)
	}
}

func TestPauseBlocksTriggerButNotTest(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	service, repo, _ := newTestService()
	ctx := context.Background()

	created, err := service.CreateWebhook(ctx, "user-1", WebhookData{
		Name: "paused", URL: server.URL, Events: []string{"contact.created"},
	})
	if err != nil {
		t.Fatalf("CreateWebhook() error = %v", err)
	}
	if err := service.SetActive(ctx, "user-1", created.ID.Hex(), false); err != nil {
		t.Fatalf("SetActive() error = %v", err)
	}

	// Paused webhook is invisible to event fan-out.
	subscribers, _ := repo.ListByEvent(ctx, "contact.created")
	if len(subscribers) != 0 {
		t.Errorf("paused webhook still listed as subscriber")
	}

	// But an explicit test still goes out.
	result, err := service.TestWebhook(ctx, "user-1", created.ID.Hex(), nil)
	if err != nil {
		t.Fatalf("TestWebhook() error = %v", err)
	}
	if !result.Success {
		t.Errorf("test delivery failed: %+v", result)
	}
	if calls != 1 {
		t.Errorf("endpoint called %d times, want 1", calls)
	}
}

func TestRetryDelivery(t *testing.T) {
	var status int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer server.Close()

	service, repo, logRepo := newTestService()
	ctx := context.Background()

	created, err := service.CreateWebhook(ctx, "user-1", WebhookData{
		Name: "retry", URL: server.URL, Events: []string{"*"},
	})
	if err != nil {
		t.Fatalf("CreateWebhook() error = %v", err)
	}
	wh, _ := repo.Get(ctx, created.ID.Hex())

	// First delivery fails.
	status = http.StatusBadGateway
	engine := NewDeliveryEngine(repo, logRepo, nil, zap.NewNop())
	if _, err := engine.Dispatch(ctx, wh, "contact.created", []byte(`{"event":"contact.created"}`), false); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	page, _, _ := logRepo.List(ctx, wh.ID.Hex(), LogOptions{Page: 1, Limit: 10})
	if len(page) != 1 {
		t.Fatal("expected one logged attempt")
	}
	attemptID := page[0].ID.Hex()

	// Retry succeeds and mutates the same record.
	status = http.StatusOK
	result, err := service.RetryDelivery(ctx, "user-1", wh.ID.Hex(), attemptID)
	if err != nil {
		t.Fatalf("RetryDelivery() error = %v", err)
	}
	if !result.Success {
		t.Errorf("retry result = %+v, want success", result)
	}

	page, total, _ := logRepo.List(ctx, wh.ID.Hex(), LogOptions{Page: 1, Limit: 10})
	if total != 1 {
		t.Fatalf("retry must not append a new record, have %d", total)
	}
	if page[0].Status != StatusSuccess {
		t.Errorf("retried attempt status = %s, want %s", page[0].Status, StatusSuccess)
	}
	if page[0].AttemptCount != 2 {
		t.Errorf("attempt count = %d, want 2", page[0].AttemptCount)
	}

	// A successful attempt refuses further retries.
	if _, err := service.RetryDelivery(ctx, "user-1", wh.ID.Hex(), attemptID); err != ErrRetryRejected {
		t.Errorf("retry of success error = %v, want ErrRetryRejected", err)
	}

	// Unknown attempt id.
	if _, err := service.RetryDelivery(ctx, "user-1", wh.ID.Hex(), "00000000000000000000dead"); err != ErrAttemptNotFound {
		t.Errorf("unknown attempt error = %v, want ErrAttemptNotFound", err)
	}
}

func TestLogCapacityBound(t *testing.T) {
	_, repo, logRepo := newTestService()
	ctx := context.Background()

	wh := seedWebhook(t, repo, "http://example.com/hook", true)

	for i := 0; i < LogCapacity+25; i++ {
		attempt := &DeliveryAttempt{
			WebhookID: wh.ID,
			Event:     fmt.Sprintf("event.%d", i),
			Payload:   []byte(`{}`),
			Status:    StatusSuccess,
		}
		if err := logRepo.Append(ctx, attempt); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	_, total, err := logRepo.List(ctx, wh.ID.Hex(), LogOptions{Page: 1, Limit: 10})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != LogCapacity {
		t.Errorf("log holds %d entries, capacity is %d", total, LogCapacity)
	}

	// Newest entry survives, oldest got evicted.
	page, _, _ := logRepo.List(ctx, wh.ID.Hex(), LogOptions{Page: 1, Limit: 1})
	if page[0].Event != fmt.Sprintf("event.%d", LogCapacity+24) {
		t.Errorf("newest entry = %s", page[0].Event)
	}
}

func TestGetStats(t *testing.T) {
	service, repo, logRepo := newTestService()
	ctx := context.Background()

	wh := seedWebhook(t, repo, "http://example.com/hook", true)

	appendAttempt := func(status DeliveryStatus, age time.Duration) {
		attempt := &DeliveryAttempt{WebhookID: wh.ID, Event: "e", Payload: []byte(`{}`), Status: status}
		if err := logRepo.Append(ctx, attempt); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		attempt.CreatedAt = time.Now().Add(-age)
	}

	appendAttempt(StatusSuccess, time.Hour)
	appendAttempt(StatusSuccess, 2*time.Hour)
	appendAttempt(StatusFailed, 3*time.Hour)
	appendAttempt(StatusFailed, 10*24*time.Hour) // outside the 7d window

	stats, err := service.GetStats(ctx, "user-1", wh.ID.Hex(), "7d")
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.TotalRequests != 3 {
		t.Errorf("total = %d, want 3", stats.TotalRequests)
	}
	if stats.SuccessfulRequests != 2 || stats.FailedRequests != 1 {
		t.Errorf("success/failed = %d/%d, want 2/1", stats.SuccessfulRequests, stats.FailedRequests)
	}
	if want := float64(2) / 3 * 100; stats.SuccessRate < want-0.01 || stats.SuccessRate > want+0.01 {
		t.Errorf("success rate = %f, want ~%f", stats.SuccessRate, want)
	}

	if _, err := service.GetStats(ctx, "user-1", wh.ID.Hex(), "90d"); err == nil {
		t.Error("unsupported period should be rejected")
	}
}

func TestBulkUpdate(t *testing.T) {
	service, _, _ := newTestService()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		wh, err := service.CreateWebhook(ctx, "user-1", WebhookData{
			Name: fmt.Sprintf("bulk-%d", i), URL: "https://example.com/hook", Events: []string{"*"},
		})
		if err != nil {
			t.Fatalf("CreateWebhook() error = %v", err)
		}
		ids = append(ids, wh.ID.Hex())
	}

	// One bad id must not fail the batch.
	req := BulkRequest{IDs: append(ids, "missing-id"), Action: "pause"}
	result, err := service.BulkUpdate(ctx, "user-1", req)
	if err != nil {
		t.Fatalf("BulkUpdate() error = %v", err)
	}
	if result.Success != 3 || result.Failed != 1 {
		t.Errorf("bulk result = %+v, want 3 success / 1 failed", result)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "missing-id") {
		t.Errorf("per-id error missing: %v", result.Errors)
	}

	for _, id := range ids {
		wh, err := service.GetWebhook(ctx, "user-1", id)
		if err != nil {
			t.Fatalf("GetWebhook() error = %v", err)
		}
		if wh.Active {
			t.Errorf("webhook %s still active after bulk pause", id)
		}
	}

	if _, err := service.BulkUpdate(ctx, "user-1", BulkRequest{IDs: ids, Action: "explode"}); err == nil {
		t.Error("unsupported bulk action should be rejected")
	}
	if _, err := service.BulkUpdate(ctx, "user-1", BulkRequest{Action: "pause"}); err == nil {
		t.Error("empty id list should be rejected")
	}
	if _, err := service.BulkUpdate(ctx, "user-1", BulkRequest{IDs: ids, Action: "update"}); err == nil {
		t.Error("update action without data should be rejected")
	}
}

func TestUpdateWebhookPartial(t *testing.T) {
	service, _, _ := newTestService()
	ctx := context.Background()

	created, err := service.CreateWebhook(ctx, "user-1", WebhookData{
		Name: "before", URL: "https://example.com/hook", Events: []string{"a"},
		Description: "initial",
	})
	if err != nil {
		t.Fatalf("CreateWebhook() error = %v", err)
	}

	timeout := int64(1500)
	updated, err := service.UpdateWebhook(ctx, "user-1", created.ID.Hex(), WebhookData{
		Name:      "after",
		TimeoutMs: &timeout,
	})
	if err != nil {
		t.Fatalf("UpdateWebhook() error = %v", err)
	}

	if updated.Name != "after" {
		t.Errorf("name = %q", updated.Name)
	}
	if updated.URL != "https://example.com/hook" {
		t.Errorf("untouched url changed: %q", updated.URL)
	}
	if updated.Events[0] != "a" {
		t.Errorf("untouched events changed: %v", updated.Events)
	}
	if updated.RetryPolicy.TimeoutMs != 1500 {
		t.Errorf("timeout = %d, want 1500", updated.RetryPolicy.TimeoutMs)
	}
	if updated.RetryPolicy.MaxAttempts != defaultRetryAttempts {
		t.Errorf("untouched retry attempts changed: %d", updated.RetryPolicy.MaxAttempts)
	}

	if _, err := service.UpdateWebhook(ctx, "user-1", created.ID.Hex(), WebhookData{Events: []string{}}); err == nil {
		t.Error("emptying events should be rejected")
	}
}

func TestDeleteWebhookDropsLogs(t *testing.T) {
	service, repo, logRepo := newTestService()
	ctx := context.Background()

	created, err := service.CreateWebhook(ctx, "user-1", WebhookData{
		Name: "doomed", URL: "https://example.com/hook", Events: []string{"*"},
	})
	if err != nil {
		t.Fatalf("CreateWebhook() error = %v", err)
	}
	wh, _ := repo.Get(ctx, created.ID.Hex())

	attempt := &DeliveryAttempt{WebhookID: wh.ID, Event: "e", Payload: []byte(`{}`), Status: StatusFailed}
	if err := logRepo.Append(ctx, attempt); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	if err := service.DeleteWebhook(ctx, "user-1", wh.ID.Hex()); err != nil {
		t.Fatalf("DeleteWebhook() error = %v", err)
	}

	if _, err := repo.Get(ctx, wh.ID.Hex()); err != ErrNotFound {
		t.Errorf("webhook still present after delete: %v", err)
	}
	_, total, _ := logRepo.List(ctx, wh.ID.Hex(), LogOptions{Page: 1, Limit: 10})
	if total != 0 {
		t.Errorf("delivery log survived webhook deletion: %d entries", total)
	}
}

func TestTriggerFanOut(t *testing.T) {
	hits := make(chan string, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits <- r.Header.Get("X-Webhook-Event")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	service, _, _ := newTestService()
	ctx := context.Background()

	// Two subscribers: one exact, one catch-all. A third listens elsewhere.
	for _, events := range [][]string{{"contact.created"}, {"*"}, {"deal.won"}} {
		if _, err := service.CreateWebhook(ctx, "user-1", WebhookData{
			Name: "sub", URL: server.URL, Events: events,
		}); err != nil {
			t.Fatalf("CreateWebhook() error = %v", err)
		}
	}

	service.Trigger(ctx, "contact.created", map[string]interface{}{"id": "42"})

	for i := 0; i < 2; i++ {
		select {
		case event := <-hits:
			if event != "contact.created" {
				t.Errorf("delivered event = %q", event)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("expected two deliveries, fan-out incomplete")
		}
	}

	select {
	case <-hits:
		t.Error("non-subscriber received the event")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRetrySweep(t *testing.T) {
	var status int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer server.Close()

	service, repo, logRepo := newTestService()
	ctx := context.Background()

	created, err := service.CreateWebhook(ctx, "user-1", WebhookData{
		Name: "sweep", URL: server.URL, Events: []string{"*"},
	})
	if err != nil {
		t.Fatalf("CreateWebhook() error = %v", err)
	}
	wh, _ := repo.Get(ctx, created.ID.Hex())

	status = http.StatusServiceUnavailable
	engine := NewDeliveryEngine(repo, logRepo, nil, zap.NewNop())
	if _, err := engine.Dispatch(ctx, wh, "contact.created", []byte(`{}`), false); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	// Exhausted attempt budget: left alone.
	exhausted := &DeliveryAttempt{
		WebhookID:     wh.ID,
		Event:         "contact.created",
		Payload:       []byte(`{}`),
		Status:        StatusFailed,
		AttemptCount:  defaultRetryAttempts,
		LastAttemptAt: time.Now(),
	}
	if err := logRepo.Append(ctx, exhausted); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	status = http.StatusOK
	retried, err := service.RetrySweep(ctx, time.Hour)
	if err != nil {
		t.Fatalf("RetrySweep() error = %v", err)
	}
	if retried != 1 {
		t.Errorf("sweep retried %d attempts, want 1", retried)
	}

	page, _, _ := logRepo.List(ctx, wh.ID.Hex(), LogOptions{Page: 1, Limit: 10, Status: StatusSuccess})
	if len(page) != 1 {
		t.Errorf("expected exactly one attempt flipped to success, got %d", len(page))
	}
}
