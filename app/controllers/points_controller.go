package controllers

import (
	"fmt"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/CareerForgeApp/CareerForge/internal/pkg/database"
	"github.com/CareerForgeApp/CareerForge/internal/pkg/entitlements"
	"github.com/CareerForgeApp/CareerForge/internal/pkg/points"
)

func pointsService() *points.Service {
	return points.NewService(database.GetDB(), entitlements.PriceConfigFromEnv())
}

// HandleGetPoints is the balance view: it opportunistically runs the starter
// grant and the period allowance (both idempotent, safe to call on every
// request), then returns the balance. A storage outage degrades to zero
// points instead of surfacing an error to the page.
func HandleGetPoints(c *fiber.Ctx) error {
	userCtx, ok := requireUser(c)
	if !ok {
		return nil
	}

	svc := pointsService()
	ctx := c.UserContext()

	grant, err := svc.EnsureStarterGrant(ctx, userCtx.UserID)
	if err != nil {
		log.Printf("points: starter grant failed for user %d: %v", userCtx.UserID, err)
		return c.JSON(fiber.Map{"points": 0})
	}
	if _, err := svc.ApplyMonthlyAllowanceIfNeeded(ctx, userCtx.UserID); err != nil {
		log.Printf("points: allowance failed for user %d: %v", userCtx.UserID, err)
	}
	balance, err := svc.Balance(ctx, userCtx.UserID)
	if err != nil {
		log.Printf("points: balance read failed for user %d: %v", userCtx.UserID, err)
		return c.JSON(fiber.Map{"points": 0})
	}

	resp := fiber.Map{
		"points":         balance,
		"is_new_user":    grant.IsNewUser,
		"points_granted": grant.PointsGranted,
	}
	if grant.PointsGranted > 0 {
		resp["message"] = fmt.Sprintf("Welcome! You received %d starter points.", grant.PointsGranted)
	}
	return c.JSON(resp)
}

// HandleCanUseFeature reports whether the balance covers a gated action. The
// feature query parameter defaults to the cheapest gated action.
func HandleCanUseFeature(c *fiber.Ctx) error {
	userCtx, ok := requireUser(c)
	if !ok {
		return nil
	}

	required := entitlements.CheapestGatedCost()
	if feature := strings.TrimSpace(c.Query("feature")); feature != "" {
		cost, known := entitlements.CostOf(feature)
		if !known {
			return jsonError(c, fiber.StatusBadRequest, "bad_request", "Unknown feature")
		}
		required = cost
	}

	svc := pointsService()
	ctx := c.UserContext()

	if _, err := svc.ApplyMonthlyAllowanceIfNeeded(ctx, userCtx.UserID); err != nil {
		log.Printf("points: allowance failed for user %d: %v", userCtx.UserID, err)
	}
	tier := entitlements.ResolveTier(database.GetDB(), entitlements.PriceConfigFromEnv(), userCtx.UserID)
	balance, err := svc.Balance(ctx, userCtx.UserID)
	if err != nil {
		log.Printf("points: balance read failed for user %d: %v", userCtx.UserID, err)
		balance = 0
	}

	return c.JSON(fiber.Map{
		"can_use":            balance >= required,
		"subscription_level": tier,
		"points":             balance,
		"required_points":    required,
	})
}

// HandleGetPointsHistory returns recent ledger entries for the caller.
func HandleGetPointsHistory(c *fiber.Ctx) error {
	userCtx, ok := requireUser(c)
	if !ok {
		return nil
	}

	entries, err := pointsService().History(c.UserContext(), userCtx.UserID, c.QueryInt("limit", 50))
	if err != nil {
		log.Printf("points: history read failed for user %d: %v", userCtx.UserID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not load points history")
	}
	return c.JSON(fiber.Map{"transactions": entries})
}
