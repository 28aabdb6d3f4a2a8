package router

import (
	"net"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/CareerForgeApp/CareerForge/app/controllers"
	"github.com/CareerForgeApp/CareerForge/internal/pkg/cache"
	"github.com/CareerForgeApp/CareerForge/internal/pkg/env"
	"github.com/CareerForgeApp/CareerForge/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Storage: limiterStorage(),
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "CareerForge API",
		})
	})

	v1 := api.Group("/v1")

	auth := v1.Group("/auth")
	auth.Post("/register", controllers.HandleRegister)
	auth.Post("/login", controllers.HandleLogin)

	authed := v1.Group("", middleware.APIKeyAuthMiddleware())

	authed.Get("/points", controllers.HandleGetPoints)
	authed.Get("/points/can-use", controllers.HandleCanUseFeature)
	authed.Get("/points/history", controllers.HandleGetPointsHistory)

	authed.Get("/voice-interviews/status", controllers.HandleVoiceInterviewStatus)
	authed.Post("/voice-interviews/start", controllers.HandleStartVoiceInterview)

	actions := authed.Group("/actions")
	actions.Post("/enhance-experience", controllers.HandleEnhanceExperience)
	actions.Post("/resume-summary", controllers.HandleResumeSummary)
	actions.Post("/cover-letter", controllers.HandleCoverLetter)
	actions.Post("/cover-letter-enhance", controllers.HandleCoverLetterEnhance)
	actions.Post("/feedback", controllers.HandleFeedback)

	authed.Post("/billing/checkout", controllers.HandleCreateCheckout)

	admin := authed.Group("/admin", middleware.RequireAdmin())
	admin.Post("/points/adjust", controllers.HandleAdminAdjustPoints)
}

// limiterStorage backs the rate limiter with Redis so limits hold across
// instances; Database 1 keeps limiter keys apart from the cache on DB 0.
func limiterStorage() *redis.Storage {
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if client := cache.GetClient(); client != nil {
		if h, p, err := net.SplitHostPort(client.Options().Addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := client.Options().Password; p != "" {
			password = p
		}
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
