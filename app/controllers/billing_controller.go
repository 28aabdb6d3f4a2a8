package controllers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/CareerForgeApp/CareerForge/app/models"
	"github.com/CareerForgeApp/CareerForge/internal/pkg/billing"
	"github.com/CareerForgeApp/CareerForge/internal/pkg/cache"
	"github.com/CareerForgeApp/CareerForge/internal/pkg/database"
	"github.com/CareerForgeApp/CareerForge/internal/pkg/env"
)

// HandleBillingWebhook is the billing provider ingress. Deliveries are
// signature-verified, recorded idempotently, then dispatched; unrecognized
// event types are accepted and ignored. A processing failure returns non-2xx
// so the provider's retry redelivers - safe because sync is idempotent.
func HandleBillingWebhook(c *fiber.Ctx) error {
	payload := c.Body()
	secret := env.GetEnv("BILLING_WEBHOOK_SECRET", "")
	if !billing.VerifyWebhookSignature(payload, c.Get("Stripe-Signature"), secret) {
		return jsonError(c, fiber.StatusBadRequest, "invalid_signature", "Webhook signature verification failed")
	}

	ev, err := billing.ParseEvent(payload)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", err.Error())
	}

	svc := billing.NewServiceFromDB(database.GetDB(), billing.NewStripeClientFromEnv())
	created, stored, err := svc.RecordWebhookEvent(ev.ID, ev.Type, payload, true)
	if err != nil {
		log.Printf("billing webhook: event record failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not record webhook event")
	}
	if !created && stored.ProcessedAt != nil && stored.ProcessingError == "" {
		return c.JSON(fiber.Map{"received": true, "duplicate": true})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), 20*time.Second)
	defer cancel()

	processErr := svc.ProcessEvent(ctx, ev)
	if err := svc.MarkWebhookProcessed(stored.ID, processErr); err != nil {
		log.Printf("billing webhook: mark processed failed for event %d: %v", stored.ID, err)
	}
	if processErr != nil {
		log.Printf("billing webhook: processing %s (%s) failed: %v", ev.ID, ev.Type, processErr)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Webhook processing failed")
	}
	return c.JSON(fiber.Map{"received": true})
}

type checkoutRequest struct {
	PriceID string `json:"price_id" validate:"required"`
}

// HandleCreateCheckout opens a provider-hosted checkout session for the
// caller and returns its redirect URL.
func HandleCreateCheckout(c *fiber.Ctx) error {
	userCtx, ok := requireUser(c)
	if !ok {
		return nil
	}

	var req checkoutRequest
	if err := parseAndValidate(c, &req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", err.Error())
	}

	customerID := ""
	var sub models.Subscription
	if err := database.GetDB().Where("user_id = ?", userCtx.UserID).First(&sub).Error; err == nil {
		customerID = sub.BillingCustomerID
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("billing checkout: subscription lookup failed for user %d: %v", userCtx.UserID, err)
	}

	base := env.GetEnv("PUBLIC_DOMAIN", "http://localhost:4000")
	ctx, cancel := context.WithTimeout(c.UserContext(), 20*time.Second)
	defer cancel()

	session, err := billing.NewStripeClientFromEnv().CreateCheckoutSession(
		ctx,
		userCtx.UserID,
		customerID,
		req.PriceID,
		base+"/billing/success",
		base+"/billing/cancel",
	)
	if err != nil {
		log.Printf("billing checkout: session creation failed for user %d: %v", userCtx.UserID, err)
		return jsonError(c, fiber.StatusBadGateway, "bad_gateway", "Billing provider unavailable")
	}

	// Best-effort marker so a returning success redirect can be correlated
	// before the webhook lands.
	if err := cache.Set("billing:checkout:"+session.ID, fmt.Sprintf("%d", userCtx.UserID), time.Hour); err != nil {
		log.Printf("billing checkout: could not cache session %s: %v", session.ID, err)
	}

	return c.JSON(session)
}
