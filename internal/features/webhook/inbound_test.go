package webhook

import (
	"errors"
	"testing"

	"crm-hooks/internal/config"

	"go.uber.org/zap"
)

func newTestInbound() *InboundHandler {
	cfg := &config.Config{
		InboundSecret:       "generic-secret",
		GithubInboundSecret: "github-secret",
		StripeInboundSecret: "stripe-secret",
		SlackInboundSecret:  "slack-secret",
	}
	return NewInboundHandler(cfg, zap.NewNop())
}

func headerMap(h map[string]string) HeaderGetter {
	return func(key string) string { return h[key] }
}

func TestInboundHandle(t *testing.T) {
	handler := newTestInbound()

	tests := []struct {
		name      string
		provider  string
		body      string
		headers   map[string]string
		secret    string
		wantEvent string
		wantErr   bool
	}{
		{
			name:      "github push",
			provider:  "github",
			body:      `{"ref":"refs/heads/main"}`,
			headers:   map[string]string{"X-GitHub-Event": "push"},
			secret:    "github-secret",
			wantEvent: "push",
		},
		{
			name:      "github without event header",
			provider:  "github",
			body:      `{"ref":"refs/heads/main"}`,
			headers:   map[string]string{},
			secret:    "github-secret",
			wantEvent: "unknown",
		},
		{
			name:      "stripe event type from payload",
			provider:  "stripe",
			body:      `{"type":"invoice.paid","data":{}}`,
			headers:   map[string]string{},
			secret:    "stripe-secret",
			wantEvent: "invoice.paid",
		},
		{
			name:      "slack defaults to message",
			provider:  "slack",
			body:      `{"text":"hello"}`,
			headers:   map[string]string{},
			secret:    "slack-secret",
			wantEvent: "message",
		},
		{
			name:      "zapier is always trigger",
			provider:  "zapier",
			body:      `{"anything":true}`,
			headers:   map[string]string{},
			secret:    "generic-secret",
			wantEvent: "trigger",
		},
		{
			name:      "generic event field",
			provider:  "generic",
			body:      `{"event":"order.created"}`,
			headers:   map[string]string{},
			secret:    "generic-secret",
			wantEvent: "order.created",
		},
		{
			name:     "unknown provider",
			provider: "bitbucket",
			body:     `{}`,
			headers:  map[string]string{},
			secret:   "generic-secret",
			wantErr:  true,
		},
		{
			name:     "wrong secret",
			provider: "github",
			body:     `{"ref":"refs/heads/main"}`,
			headers:  map[string]string{"X-GitHub-Event": "push"},
			secret:   "not-the-secret",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := []byte(tt.body)
			headers := tt.headers

			if scheme, ok := SchemeFor(tt.provider); ok {
				headers[scheme.Header] = scheme.Prefix + Sign(tt.secret, body)
			}

			event, err := handler.Handle(tt.provider, body, headerMap(headers))
			if tt.wantErr {
				if !errors.Is(err, ErrSignatureInvalid) {
					t.Fatalf("Handle() error = %v, want ErrSignatureInvalid", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			if event.Event != tt.wantEvent {
				t.Errorf("event = %q, want %q", event.Event, tt.wantEvent)
			}
			if event.Provider != tt.provider {
				t.Errorf("provider = %q", event.Provider)
			}
			if string(event.Data) != tt.body {
				t.Error("payload must pass through untransformed")
			}
			if !event.Processed {
				t.Error("verified event should be marked processed")
			}
		})
	}
}

func TestInboundMissingSignature(t *testing.T) {
	handler := newTestInbound()

	if _, err := handler.Handle("github", []byte(`{}`), headerMap(map[string]string{})); !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("missing signature error = %v, want ErrSignatureInvalid", err)
	}
}
