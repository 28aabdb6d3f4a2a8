package controllers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/CareerForgeApp/CareerForge/internal/pkg/realtime"
)

// HandleVoiceInterviewStatus reports the caller's per-period voice quota.
func HandleVoiceInterviewStatus(c *fiber.Ctx) error {
	userCtx, ok := requireUser(c)
	if !ok {
		return nil
	}

	status, err := pointsService().GetVoiceInterviewStatus(c.UserContext(), userCtx.UserID)
	if err != nil {
		log.Printf("voice: status read failed for user %d: %v", userCtx.UserID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not load voice interview status")
	}
	return c.JSON(status)
}

// HandleStartVoiceInterview consumes a voice slot plus the session's point
// cost, then provisions a realtime session with the call service.
func HandleStartVoiceInterview(c *fiber.Ctx) error {
	userCtx, ok := requireUser(c)
	if !ok {
		return nil
	}

	ctx := c.UserContext()
	res, err := pointsService().StartVoiceInterview(ctx, userCtx.UserID)
	if err != nil {
		log.Printf("voice: start failed for user %d: %v", userCtx.UserID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not start voice interview")
	}
	if !res.OK {
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{"ok": false, "message": res.Message})
	}

	session, err := realtime.NewClientFromEnv().CreateSession(ctx, userCtx.UserID)
	if err != nil {
		log.Printf("voice: session provisioning failed for user %d: %v", userCtx.UserID, err)
		return jsonError(c, fiber.StatusBadGateway, "bad_gateway", "Realtime call service unavailable")
	}
	return c.JSON(fiber.Map{"ok": true, "session": session})
}
