package webhook

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
)

func TestExportLogs(t *testing.T) {
	service, repo, logRepo := newTestService()
	ctx := context.Background()

	wh := seedWebhook(t, repo, "http://example.com/hook", true)

	for _, status := range []DeliveryStatus{StatusSuccess, StatusFailed} {
		attempt := &DeliveryAttempt{
			WebhookID:    wh.ID,
			Event:        "contact.created",
			Payload:      []byte(`{}`),
			Status:       status,
			AttemptCount: 1,
		}
		if err := logRepo.Append(ctx, attempt); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	t.Run("csv", func(t *testing.T) {
		export, err := service.ExportLogs(ctx, "user-1", wh.ID.Hex(), LogOptions{}, "csv")
		if err != nil {
			t.Fatalf("ExportLogs() error = %v", err)
		}
		if export.ContentType != "text/csv" {
			t.Errorf("content type = %q", export.ContentType)
		}
		if !strings.HasSuffix(export.Filename, ".csv") {
			t.Errorf("filename = %q", export.Filename)
		}

		rows, err := csv.NewReader(bytes.NewReader(export.Data)).ReadAll()
		if err != nil {
			t.Fatalf("parse csv: %v", err)
		}
		if len(rows) != 3 { // header + 2 attempts
			t.Fatalf("csv rows = %d, want 3", len(rows))
		}
		if rows[0][0] != "ID" || rows[0][2] != "Status" {
			t.Errorf("unexpected header row: %v", rows[0])
		}
	})

	t.Run("json", func(t *testing.T) {
		export, err := service.ExportLogs(ctx, "user-1", wh.ID.Hex(), LogOptions{}, "json")
		if err != nil {
			t.Fatalf("ExportLogs() error = %v", err)
		}
		var logs []DeliveryAttempt
		if err := json.Unmarshal(export.Data, &logs); err != nil {
			t.Fatalf("parse json: %v", err)
		}
		if len(logs) != 2 {
			t.Errorf("exported %d attempts, want 2", len(logs))
		}
	})

	t.Run("xlsx", func(t *testing.T) {
		export, err := service.ExportLogs(ctx, "user-1", wh.ID.Hex(), LogOptions{}, "xlsx")
		if err != nil {
			t.Fatalf("ExportLogs() error = %v", err)
		}
		if len(export.Data) == 0 {
			t.Error("empty xlsx payload")
		}
	})

	t.Run("status filter", func(t *testing.T) {
		export, err := service.ExportLogs(ctx, "user-1", wh.ID.Hex(), LogOptions{Status: StatusFailed}, "json")
		if err != nil {
			t.Fatalf("ExportLogs() error = %v", err)
		}
		var logs []DeliveryAttempt
		if err := json.Unmarshal(export.Data, &logs); err != nil {
			t.Fatalf("parse json: %v", err)
		}
		if len(logs) != 1 || logs[0].Status != StatusFailed {
			t.Errorf("filtered export = %v", logs)
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		if _, err := service.ExportLogs(ctx, "user-1", wh.ID.Hex(), LogOptions{}, "pdf"); err == nil {
			t.Error("unsupported format should be rejected")
		}
	})

	t.Run("foreign owner", func(t *testing.T) {
		if _, err := service.ExportLogs(ctx, "user-2", wh.ID.Hex(), LogOptions{}, "csv"); err != ErrForbidden {
			t.Errorf("foreign export error = %v, want ErrForbidden", err)
		}
	})
}
