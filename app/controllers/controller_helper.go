package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tmeissner/inkwell/internal/pkg/usercontext"
)

func errorJSON(c *fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func currentUserID(c *fiber.Ctx) uint {
	return usercontext.GetUserID(c)
}
