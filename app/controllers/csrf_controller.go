package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/tmeissner/inkwell/internal/pkg/csrf"
)

// HandleCSRFToken issues a fresh anti-forgery token. Tokens are stateless and
// stay valid for their whole TTL, so clients may cache and reuse them.
func HandleCSRFToken(guard *csrf.Guard) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := guard.Issue()
		if err != nil {
			log.Errorf("[CSRF] token issue failed: %v", err)
			return errorJSON(c, fiber.StatusInternalServerError, "token_issue_failed")
		}
		return c.JSON(fiber.Map{
			"csrfToken": token,
			"expiresIn": int(guard.TTL().Seconds()),
		})
	}
}
