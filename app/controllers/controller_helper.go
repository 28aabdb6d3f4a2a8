package controllers

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/CareerForgeApp/CareerForge/internal/pkg/usercontext"
)

var validate = validator.New()

// parseAndValidate decodes the JSON body into out and runs struct validation.
func parseAndValidate(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return err
	}
	return validate.Struct(out)
}

func jsonError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}

// requireUser returns the authenticated user context or writes a 401.
func requireUser(c *fiber.Ctx) (usercontext.UserContext, bool) {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		_ = jsonError(c, fiber.StatusUnauthorized, "unauthorized", "Authentication required")
		return userCtx, false
	}
	return userCtx, true
}
