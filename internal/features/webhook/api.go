package webhook

import (
	"crm-hooks/internal/config"
	"crm-hooks/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type WebhookApi struct {
	controller *WebhookController
	config     *config.Config
}

func NewWebhookApi(controller *WebhookController, config *config.Config) *WebhookApi {
	return &WebhookApi{
		controller: controller,
		config:     config,
	}
}

func (h *WebhookApi) Setup(app *fiber.App) {
	// Inbound callbacks authenticate by signature, not JWT, and must be
	// registered ahead of the parameterized routes below.
	app.Post("/api/webhooks/incoming/:provider/:webhookId?", h.controller.IncomingWebhook)

	webhooks := app.Group("/api/webhooks", middleware.AuthMiddleware(h.config.SkipAuth))

	webhooks.Get("/templates", h.controller.ListTemplates)
	webhooks.Post("/templates", h.controller.CreateTemplate)
	webhooks.Put("/templates/:id", h.controller.UpdateTemplate)
	webhooks.Delete("/templates/:id", h.controller.DeleteTemplate)

	webhooks.Post("/bulk", h.controller.BulkUpdate)

	webhooks.Post("/", h.controller.CreateWebhook)
	webhooks.Get("/", h.controller.ListWebhooks)
	webhooks.Get("/:id", h.controller.GetWebhook)
	webhooks.Put("/:id", h.controller.UpdateWebhook)
	webhooks.Delete("/:id", h.controller.DeleteWebhook)

	webhooks.Post("/:id/test", h.controller.TestWebhook)
	webhooks.Post("/:id/pause", h.controller.PauseWebhook)
	webhooks.Post("/:id/resume", h.controller.ResumeWebhook)

	webhooks.Get("/:id/logs", h.controller.GetLogs)
	webhooks.Get("/:id/logs/export", h.controller.ExportLogs)
	webhooks.Post("/:id/logs/:logId/retry", h.controller.RetryDelivery)
	webhooks.Get("/:id/stats", h.controller.GetStats)
}
