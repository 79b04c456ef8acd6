package system

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

type HealthController struct {
	startedAt time.Time
}

func NewHealthController() *HealthController {
	return &HealthController{startedAt: time.Now()}
}

// Health godoc
// @Summary      Service health
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /health [get]
func (c *HealthController) Health(ctx *fiber.Ctx) error {
	return ctx.JSON(fiber.Map{
		"status": "ok",
		"uptime": time.Since(c.startedAt).String(),
		"time":   time.Now().UTC(),
	})
}
