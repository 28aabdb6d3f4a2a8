package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/CareerForgeApp/CareerForge/app/controllers"
)

type WebhookRouter struct {
}

// InstallRouter mounts the billing provider ingress. No auth middleware:
// deliveries authenticate via the signature header, and the rate limiter is
// deliberately absent so provider retries are never throttled away.
func (h WebhookRouter) InstallRouter(app *fiber.App) {
	app.Post("/webhooks/billing", controllers.HandleBillingWebhook)
}

func NewWebhookRouter() *WebhookRouter {
	return &WebhookRouter{}
}
