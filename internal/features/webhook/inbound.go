package webhook

import (
	"encoding/json"

	"crm-hooks/internal/config"

	"go.uber.org/zap"
)

// HeaderGetter resolves a request header by name.
type HeaderGetter func(key string) string

// InboundHandler verifies signatures on third-party callbacks and wraps
// the payload without transforming it; anything beyond {provider, event,
// data} is the consumer's business.
type InboundHandler struct {
	cfg    *config.Config
	logger *zap.Logger
}

func NewInboundHandler(cfg *config.Config, logger *zap.Logger) *InboundHandler {
	return &InboundHandler{cfg: cfg, logger: logger}
}

// Handle verifies the provider's signature over the raw body and returns
// the normalized event. Verification failure rejects before any parsing.
func (h *InboundHandler) Handle(provider string, body []byte, header HeaderGetter) (*NormalizedEvent, error) {
	scheme, ok := SchemeFor(provider)
	if !ok {
		// Unknown providers fail closed
		return nil, ErrSignatureInvalid
	}

	signature := header(scheme.Header)
	if !Verify(provider, signature, h.secretFor(provider), body) {
		h.logger.Warn("inbound signature rejected", zap.String("provider", provider))
		return nil, ErrSignatureInvalid
	}

	return &NormalizedEvent{
		Provider:  provider,
		Event:     extractEvent(provider, body, header),
		Data:      body,
		Processed: true,
	}, nil
}

func (h *InboundHandler) secretFor(provider string) string {
	switch provider {
	case "github":
		return h.cfg.GithubInboundSecret
	case "stripe":
		return h.cfg.StripeInboundSecret
	case "slack":
		return h.cfg.SlackInboundSecret
	default:
		return h.cfg.InboundSecret
	}
}

func extractEvent(provider string, body []byte, header HeaderGetter) string {
	switch provider {
	case "github":
		if ev := header("X-GitHub-Event"); ev != "" {
			return ev
		}
		return "unknown"
	case "stripe":
		return payloadField(body, "type", "unknown")
	case "slack":
		return payloadField(body, "type", "message")
	case "zapier":
		return "trigger"
	default:
		return payloadField(body, "event", "generic")
	}
}

func payloadField(body []byte, field, fallback string) string {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return fallback
	}
	var value string
	if raw, ok := probe[field]; ok {
		if err := json.Unmarshal(raw, &value); err == nil && value != "" {
			return value
		}
	}
	return fallback
}
