package webhook

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"crm-hooks/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type WebhookController struct {
	Service         WebhookService
	TemplateService TemplateService
	Inbound         *InboundHandler
}

func NewWebhookController(service WebhookService, templateService TemplateService, inbound *InboundHandler) *WebhookController {
	return &WebhookController{
		Service:         service,
		TemplateService: templateService,
		Inbound:         inbound,
	}
}

type createWebhookRequest struct {
	WebhookData
	TemplateID string `json:"template_id,omitempty"`
}

// CreateWebhook godoc
// @Summary      Register a new webhook
// @Description  Register a callback URL, optionally pre-filled from a template
// @Tags         webhooks
// @Accept       json
// @Produce      json
// @Param        input body createWebhookRequest true "Webhook Data"
// @Success      201  {object} map[string]interface{}
// @Failure      400  {string} string "Invalid request"
// @Router       /api/webhooks [post]
func (ctrl *WebhookController) CreateWebhook(c *fiber.Ctx) error {
	var req createWebhookRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.TemplateID != "" {
		template, err := ctrl.TemplateService.GetTemplate(c.Context(), req.TemplateID)
		if err != nil {
			return fail(c, err)
		}
		applyTemplateDefaults(&req.WebhookData, template)
	}

	webhook, err := ctrl.Service.CreateWebhook(c.Context(), ownerID(c), req.WebhookData)
	if err != nil {
		return fail(c, err)
	}

	// The only response that ever carries the secret
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Webhook created successfully",
		"data":    webhook,
	})
}

// ListWebhooks godoc
// @Summary      List webhooks
// @Tags         webhooks
// @Produce      json
// @Success      200 {object} WebhookPage
// @Router       /api/webhooks [get]
func (ctrl *WebhookController) ListWebhooks(c *fiber.Ctx) error {
	opts := ListOptions{
		Page:   int64(c.QueryInt("page", 1)),
		Limit:  int64(c.QueryInt("limit", defaultListLimit)),
		Status: c.Query("status"),
		Event:  c.Query("event"),
	}

	page, err := ctrl.Service.ListWebhooks(c.Context(), ownerID(c), opts)
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(fiber.Map{"data": page})
}

func (ctrl *WebhookController) GetWebhook(c *fiber.Ctx) error {
	webhook, err := ctrl.Service.GetWebhook(c.Context(), ownerID(c), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"data": webhook})
}

func (ctrl *WebhookController) UpdateWebhook(c *fiber.Ctx) error {
	var data WebhookData
	if err := c.BodyParser(&data); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	webhook, err := ctrl.Service.UpdateWebhook(c.Context(), ownerID(c), c.Params("id"), data)
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(fiber.Map{
		"message": "Webhook updated successfully",
		"data":    webhook,
	})
}

func (ctrl *WebhookController) DeleteWebhook(c *fiber.Ctx) error {
	if err := ctrl.Service.DeleteWebhook(c.Context(), ownerID(c), c.Params("id")); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"message": "Webhook deleted successfully"})
}

// TestWebhook godoc
// @Summary      Send a test delivery
// @Description  Sends a synchronous test call; works while the webhook is paused
// @Tags         webhooks
// @Router       /api/webhooks/{id}/test [post]
func (ctrl *WebhookController) TestWebhook(c *fiber.Ctx) error {
	var payload json.RawMessage
	if body := c.Body(); len(body) > 0 {
		if !json.Valid(body) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Payload must be valid JSON",
			})
		}
		payload = append(payload, body...)
	}

	result, err := ctrl.Service.TestWebhook(c.Context(), ownerID(c), c.Params("id"), payload)
	if err != nil {
		return fail(c, err)
	}

	// The result goes back as-is, success or not
	return c.JSON(fiber.Map{"data": result})
}

func (ctrl *WebhookController) PauseWebhook(c *fiber.Ctx) error {
	if err := ctrl.Service.SetActive(c.Context(), ownerID(c), c.Params("id"), false); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"message": "Webhook paused"})
}

func (ctrl *WebhookController) ResumeWebhook(c *fiber.Ctx) error {
	if err := ctrl.Service.SetActive(c.Context(), ownerID(c), c.Params("id"), true); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"message": "Webhook resumed"})
}

func (ctrl *WebhookController) RetryDelivery(c *fiber.Ctx) error {
	result, err := ctrl.Service.RetryDelivery(c.Context(), ownerID(c), c.Params("id"), c.Params("logId"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"data": result})
}

func (ctrl *WebhookController) GetLogs(c *fiber.Ctx) error {
	opts, err := logOptionsFromQuery(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	page, err := ctrl.Service.GetLogs(c.Context(), ownerID(c), c.Params("id"), opts)
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(fiber.Map{"data": page})
}

func (ctrl *WebhookController) ExportLogs(c *fiber.Ctx) error {
	opts, err := logOptionsFromQuery(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	export, err := ctrl.Service.ExportLogs(c.Context(), ownerID(c), c.Params("id"), opts, c.Query("format"))
	if err != nil {
		return fail(c, err)
	}

	c.Set(fiber.HeaderContentType, export.ContentType)
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+export.Filename+`"`)
	return c.Send(export.Data)
}

// GetStats godoc
// @Summary      Windowed delivery statistics
// @Description  Success/failure counts over a trailing 1d/7d/30d window
// @Tags         webhooks
// @Router       /api/webhooks/{id}/stats [get]
func (ctrl *WebhookController) GetStats(c *fiber.Ctx) error {
	stats, err := ctrl.Service.GetStats(c.Context(), ownerID(c), c.Params("id"), c.Query("period"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"data": stats})
}

func (ctrl *WebhookController) BulkUpdate(c *fiber.Ctx) error {
	var req BulkRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	result, err := ctrl.Service.BulkUpdate(c.Context(), ownerID(c), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"data": result})
}

func (ctrl *WebhookController) ListTemplates(c *fiber.Ctx) error {
	templates, err := ctrl.TemplateService.ListTemplates(c.Context(), TemplateFilters{
		Category: c.Query("category"),
		Provider: c.Query("provider"),
	})
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(fiber.Map{"data": fiber.Map{
		"templates": templates,
		"total":     len(templates),
	}})
}

func (ctrl *WebhookController) CreateTemplate(c *fiber.Ctx) error {
	var template Template
	if err := c.BodyParser(&template); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := ctrl.TemplateService.CreateTemplate(c.Context(), ownerID(c), &template); err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Template created successfully",
		"data":    template,
	})
}

func (ctrl *WebhookController) UpdateTemplate(c *fiber.Ctx) error {
	var updates map[string]interface{}
	if err := c.BodyParser(&updates); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	template, err := ctrl.TemplateService.UpdateTemplate(c.Context(), ownerID(c), c.Params("id"), updates)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "Template updated successfully",
		"data":    template,
	})
}

func (ctrl *WebhookController) DeleteTemplate(c *fiber.Ctx) error {
	if err := ctrl.TemplateService.DeleteTemplate(c.Context(), ownerID(c), c.Params("id")); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"message": "Template deleted successfully"})
}

// IncomingWebhook godoc
// @Summary      Inbound provider callback
// @Description  Verifies the provider signature, then always answers 200 to avoid upstream retry storms
// @Tags         webhooks
// @Router       /api/webhooks/incoming/{provider} [post]
func (ctrl *WebhookController) IncomingWebhook(c *fiber.Ctx) error {
	provider := c.Params("provider")

	event, err := ctrl.Inbound.Handle(provider, c.Body(), c.Get)
	if errors.Is(err, ErrSignatureInvalid) {
		// Signature failure is the one case that rejects before processing
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "Webhook signature verification failed",
		})
	}
	if err != nil {
		// Internal failure still answers 200 to avoid upstream retry storms
		return c.JSON(fiber.Map{"success": false})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    event,
	})
}

func ownerID(c *fiber.Ctx) string {
	if claims := middleware.ClaimsFromCtx(c); claims != nil {
		return claims.UserID
	}
	return ""
}

func fail(c *fiber.Ctx, err error) error {
	return c.Status(statusForErr(err)).JSON(fiber.Map{
		"error": err.Error(),
	})
}

func statusForErr(err error) int {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrAttemptNotFound), errors.Is(err, ErrTemplateNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, ErrValidation), errors.Is(err, ErrRetryRejected):
		return fiber.StatusBadRequest
	case errors.Is(err, ErrSignatureInvalid):
		return fiber.StatusUnauthorized
	default:
		return fiber.StatusInternalServerError
	}
}

func applyTemplateDefaults(data *WebhookData, template *Template) {
	if data.Name == "" {
		data.Name = template.Name
	}
	if data.URL == "" {
		data.URL = template.Config.URL
	}
	if len(data.Events) == 0 {
		data.Events = template.Events
	}
	if len(template.Config.Headers) > 0 {
		merged := make(map[string]string, len(template.Config.Headers)+len(data.Headers))
		for k, v := range template.Config.Headers {
			merged[k] = v
		}
		for k, v := range data.Headers {
			merged[k] = v
		}
		data.Headers = merged
	}
}

func logOptionsFromQuery(c *fiber.Ctx) (LogOptions, error) {
	opts := LogOptions{
		Page:   int64(c.QueryInt("page", 1)),
		Limit:  int64(c.QueryInt("limit", defaultLogLimit)),
		Status: DeliveryStatus(c.Query("status")),
	}

	if raw := c.Query("startDate"); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			return opts, err
		}
		opts.StartDate = &t
	}
	if raw := c.Query("endDate"); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			return opts, err
		}
		opts.EndDate = &t
	}

	return opts, nil
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, errors.New("dates must be RFC3339 or YYYY-MM-DD: " + strconv.Quote(raw))
	}
	return t, nil
}
