package controllers

import (
	"log"

	"github.com/gofiber/fiber/v2"
)

type adjustPointsRequest struct {
	UserID   uint           `json:"user_id" validate:"required"`
	Delta    int            `json:"delta" validate:"required"`
	Reason   string         `json:"reason" validate:"required,min=3,max=64"`
	Metadata map[string]any `json:"metadata"`
}

// HandleAdminAdjustPoints applies a manual signed correction to a user's
// balance with a caller-supplied ledger reason.
func HandleAdminAdjustPoints(c *fiber.Ctx) error {
	var req adjustPointsRequest
	if err := parseAndValidate(c, &req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", err.Error())
	}

	res, err := pointsService().AdjustPoints(c.UserContext(), req.UserID, req.Delta, req.Reason, req.Metadata)
	if err != nil {
		log.Printf("admin points: adjustment failed for user %d: %v", req.UserID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not adjust points")
	}
	if !res.OK {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"ok": false, "message": res.Message})
	}
	return c.JSON(fiber.Map{"ok": true})
}
