package controllers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/CareerForgeApp/CareerForge/internal/pkg/database"
	"github.com/CareerForgeApp/CareerForge/internal/pkg/enhancer"
	"github.com/CareerForgeApp/CareerForge/internal/pkg/entitlements"
)

type actionRequest struct {
	Input string `json:"input" validate:"required"`
}

func HandleEnhanceExperience(c *fiber.Ctx) error {
	return handleGatedAction(c, entitlements.ActionEnhanceExperience)
}

func HandleResumeSummary(c *fiber.Ctx) error {
	return handleGatedAction(c, entitlements.ActionResumeSummary)
}

func HandleCoverLetter(c *fiber.Ctx) error {
	return handleGatedAction(c, entitlements.ActionCoverLetter)
}

func HandleCoverLetterEnhance(c *fiber.Ctx) error {
	return handleGatedAction(c, entitlements.ActionCoverLetterEnhance)
}

func HandleFeedback(c *fiber.Ctx) error {
	return handleGatedAction(c, entitlements.ActionFeedback)
}

// handleGatedAction runs the gate sequence from the balance side: resolve the
// tier, apply any pending period allowance, debit the action's cost, and only
// then call out to the enhancement service. A blocked spend is a 402 with the
// insufficient-points message, not an error.
func handleGatedAction(c *fiber.Ctx, action string) error {
	userCtx, ok := requireUser(c)
	if !ok {
		return nil
	}

	cost, known := entitlements.CostOf(action)
	if !known {
		return jsonError(c, fiber.StatusNotFound, "not_found", "Unknown action")
	}

	var req actionRequest
	if err := parseAndValidate(c, &req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", err.Error())
	}

	svc := pointsService()
	ctx := c.UserContext()

	tier := entitlements.ResolveTier(database.GetDB(), entitlements.PriceConfigFromEnv(), userCtx.UserID)
	if _, err := svc.ApplyMonthlyAllowanceIfNeeded(ctx, userCtx.UserID); err != nil {
		log.Printf("actions: allowance failed for user %d: %v", userCtx.UserID, err)
	}

	res, err := svc.DeductPoints(ctx, userCtx.UserID, cost, action, map[string]any{"tier": string(tier)})
	if err != nil {
		log.Printf("actions: spend failed for user %d action %s: %v", userCtx.UserID, action, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not process action")
	}
	if !res.OK {
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{"ok": false, "message": res.Message})
	}

	output, err := enhancer.NewClientFromEnv().Enhance(ctx, action, req.Input)
	if err != nil {
		log.Printf("actions: enhancement failed for user %d action %s: %v", userCtx.UserID, action, err)
		return jsonError(c, fiber.StatusBadGateway, "bad_gateway", "Enhancement service unavailable")
	}

	balance, err := svc.Balance(ctx, userCtx.UserID)
	if err != nil {
		log.Printf("actions: balance read failed for user %d: %v", userCtx.UserID, err)
	}
	return c.JSON(fiber.Map{
		"ok":     true,
		"result": output,
		"points": balance,
	})
}
