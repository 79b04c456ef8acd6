package webhook

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"crm-hooks/internal/config"
	"crm-hooks/internal/features/audit"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func newTestApp() (*fiber.App, *config.Config) {
	cfg := &config.Config{
		InboundSecret:       "generic-secret",
		GithubInboundSecret: "github-secret",
		StripeInboundSecret: "stripe-secret",
		SlackInboundSecret:  "slack-secret",
		SkipAuth:            true,
	}

	repo := NewMemoryWebhookRepository()
	logRepo := NewMemoryDeliveryLogRepository()
	engine := NewDeliveryEngine(repo, logRepo, nil, zap.NewNop())
	auditService := audit.NewAuditService(audit.NewMemoryAuditRepository())
	service := NewWebhookService(repo, logRepo, engine, auditService, zap.NewNop())
	templates := NewTemplateService(NewMemoryTemplateRepository(), auditService)
	inbound := NewInboundHandler(cfg, zap.NewNop())

	controller := NewWebhookController(service, templates, inbound)

	app := fiber.New()
	NewWebhookApi(controller, cfg).Setup(app)
	return app, cfg
}

func TestIncomingWebhookEndpoint(t *testing.T) {
	app, _ := newTestApp()

	body := []byte(`{"ref":"refs/heads/main"}`)

	t.Run("valid signature", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/incoming/github", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-GitHub-Event", "push")
		req.Header.Set("X-Hub-Signature-256", "sha256="+Sign("github-secret", body))

		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test error = %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}

		var out struct {
			Success bool `json:"success"`
			Data    struct {
				Provider string `json:"provider"`
				Event    string `json:"event"`
			} `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if !out.Success || out.Data.Provider != "github" || out.Data.Event != "push" {
			t.Errorf("unexpected response: %+v", out)
		}
	})

	t.Run("bad signature", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/incoming/github", bytes.NewReader(body))
		req.Header.Set("X-Hub-Signature-256", "sha256="+Sign("wrong-secret", body))

		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test error = %v", err)
		}
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", resp.StatusCode)
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/incoming/bitbucket", bytes.NewReader(body))

		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test error = %v", err)
		}
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", resp.StatusCode)
		}
	})
}

func TestCreateWebhookEndpoint(t *testing.T) {
	app, _ := newTestApp()

	payload := []byte(`{"name":"ci hook","url":"https://example.com/hook","events":["build.finished"]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test error = %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var out struct {
		Data Webhook `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Data.Secret == "" {
		t.Error("create response must carry the secret")
	}

	// The read path never exposes it again.
	getReq := httptest.NewRequest(http.MethodGet, "/api/webhooks/"+out.Data.ID.Hex(), nil)
	getResp, err := app.Test(getReq)
	if err != nil {
		t.Fatalf("app.Test error = %v", err)
	}
	var got struct {
		Data Webhook `json:"data"`
	}
	if err := json.NewDecoder(getResp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Data.Secret != "" {
		t.Error("secret leaked from GET response")
	}
}

func TestStatusForErr(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrNotFound, fiber.StatusNotFound},
		{ErrAttemptNotFound, fiber.StatusNotFound},
		{ErrTemplateNotFound, fiber.StatusNotFound},
		{ErrForbidden, fiber.StatusForbidden},
		{ErrRetryRejected, fiber.StatusBadRequest},
		{ErrSignatureInvalid, fiber.StatusUnauthorized},
		{validationError("bad input"), fiber.StatusBadRequest},
	}

	for _, tt := range tests {
		if got := statusForErr(tt.err); got != tt.want {
			t.Errorf("statusForErr(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
