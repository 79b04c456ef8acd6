package main

import (
	"context"
	"fmt"
	"log"

	common_api "crm-hooks/internal/common/api"
	"crm-hooks/internal/config"
	"crm-hooks/internal/database"
	"crm-hooks/internal/features/audit"
	cron_feature "crm-hooks/internal/features/cron"
	"crm-hooks/internal/features/system"
	"crm-hooks/internal/features/webhook"
	"crm-hooks/internal/logger"
	"crm-hooks/internal/middleware"
	"crm-hooks/pkg/utils"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// NewFiberServer creates a new Fiber app instance
func NewFiberServer() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	// Use custom CORS middleware
	app.Use(middleware.CORSMiddleware())

	return app
}

// AsRoute is a helper function to reduce boilerplate.
// It tags the constructor so Fx knows to add it to the "routes" group.
func AsRoute(f any) any {
	return fx.Annotate(
		f,
		fx.As(new(common_api.Route)),    // Cast to Interface
		fx.ResultTags(`group:"routes"`), // Add to Group
	)
}

// RegisterAllRoutes takes the group "routes" (slice of interfaces)
// and calls Setup() on each one.
func RegisterAllRoutes(app *fiber.App, routes []common_api.Route) {
	for _, route := range routes {
		route.Setup(app)
	}
	log.Printf("Registered %d routes\n", len(routes))
}

// RegisterAllRoutesWithAnnotation wraps RegisterAllRoutes with fx annotations
var RegisterAllRoutesWithAnnotation = fx.Annotate(
	RegisterAllRoutes,
	fx.ParamTags(``, `group:"routes"`),
)

// StartServer creates a lifecycle hook to start Fiber in a goroutine
// and shut it down when the app exits.
func StartServer(lc fx.Lifecycle, app *fiber.App, cfg *config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			utils.SetSecret(cfg.JWTSecret)
			go func() {
				port := fmt.Sprintf(":%s", cfg.Port)
				if err := app.Listen(port); err != nil {
					log.Fatalf("Server failed to start: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return app.Shutdown()
		},
	})
}

// SeedTemplates installs the builtin webhook templates on startup.
func SeedTemplates(lc fx.Lifecycle, templateService webhook.TemplateService, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := templateService.SeedBuiltin(ctx); err != nil {
				logger.Error("failed to seed webhook templates", zap.Error(err))
			}
			return nil
		},
	})
}

func main() {
	app := fx.New(
		fx.Provide(
			// Load Config
			config.LoadConfig,

			// Initialize Logger
			logger.NewLogger,

			// Initialize Fiber Server
			NewFiberServer,

			// Initialize Database
			database.NewDatabase,

			// Initialize Repository
			audit.NewAuditRepository,
			webhook.NewWebhookRepository,
			webhook.NewDeliveryLogRepository,
			webhook.NewTemplateRepository,

			audit.NewAuditService,
			system.NewDeliveryFeed,
			func(f *system.DeliveryFeed) webhook.DeliveryNotifier { return f },
			webhook.NewDeliveryEngine,
			webhook.NewWebhookService,
			webhook.NewTemplateService,
			webhook.NewInboundHandler,
			cron_feature.NewSweepScheduler,

			// Initialize Controller
			audit.NewAuditController,
			webhook.NewWebhookController,
			system.NewWebSocketController,
			system.NewHealthController,

			// Initialize API Routes
			AsRoute(webhook.NewWebhookApi),
			AsRoute(audit.NewAuditApi),
			AsRoute(system.NewWebSocketApi),
			AsRoute(system.NewHealthApi),
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
		fx.Invoke(
			// Register Routes & Start
			RegisterAllRoutesWithAnnotation,
			StartServer,
			SeedTemplates,
			func(lc fx.Lifecycle, sweeper *cron_feature.SweepScheduler) {
				lc.Append(fx.Hook{
					OnStart: func(ctx context.Context) error {
						return sweeper.InitializeScheduler(ctx)
					},
					OnStop: func(ctx context.Context) error {
						return sweeper.StopScheduler()
					},
				})
			},
		),
	)

	app.Run()
}
