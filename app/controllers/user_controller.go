package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/tmeissner/inkwell/app/repository"
	"github.com/tmeissner/inkwell/internal/pkg/entitlements"
	"github.com/tmeissner/inkwell/internal/pkg/metrics/counter"
	"github.com/tmeissner/inkwell/internal/pkg/session"
	"github.com/tmeissner/inkwell/internal/pkg/usercontext"
)

// HandleUserProfile returns the authenticated user's profile.
func HandleUserProfile(c *fiber.Ctx) error {
	user, err := repository.GetGlobalFactory().GetUserRepository().GetByID(currentUserID(c))
	if err != nil || user == nil {
		return errorJSON(c, fiber.StatusNotFound, "user_not_found")
	}
	return c.JSON(fiber.Map{
		"id":          user.ID,
		"name":        user.Name,
		"email":       user.Email,
		"role":        user.Role,
		"status":      user.Status,
		"lastLoginAt": user.LastLoginAt,
		"createdAt":   user.CreatedAt,
	})
}

type updateProfileRequest struct {
	Name string `json:"name"`
}

// HandleUserProfileUpdate changes mutable profile fields.
func HandleUserProfileUpdate(c *fiber.Ctx) error {
	var req updateProfileRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request_body")
	}
	name := strings.TrimSpace(req.Name)
	if len(name) < 3 || len(name) > 150 {
		return errorJSON(c, fiber.StatusUnprocessableEntity, "invalid_name")
	}

	userRepo := repository.GetGlobalFactory().GetUserRepository()
	user, err := userRepo.GetByID(currentUserID(c))
	if err != nil || user == nil {
		return errorJSON(c, fiber.StatusNotFound, "user_not_found")
	}
	user.Name = name
	if err := userRepo.Update(user); err != nil {
		log.Errorf("[User] profile update for %d failed: %v", user.ID, err)
		return errorJSON(c, fiber.StatusInternalServerError, "update_failed")
	}
	_ = session.SetSessionValue(c, usercontext.KeyUsername, name)
	return c.JSON(fiber.Map{"id": user.ID, "name": user.Name})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// HandleUserPasswordChange rotates the password after verifying the current one.
func HandleUserPasswordChange(c *fiber.Ctx) error {
	var req changePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request_body")
	}
	if len(req.NewPassword) < 6 {
		return errorJSON(c, fiber.StatusUnprocessableEntity, "password_too_short")
	}

	userRepo := repository.GetGlobalFactory().GetUserRepository()
	user, err := userRepo.GetByID(currentUserID(c))
	if err != nil || user == nil {
		return errorJSON(c, fiber.StatusNotFound, "user_not_found")
	}
	if !user.CheckPassword(req.CurrentPassword) {
		return errorJSON(c, fiber.StatusForbidden, "wrong_password")
	}
	if err := user.SetPassword(req.NewPassword); err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "update_failed")
	}
	if err := userRepo.Update(user); err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "update_failed")
	}
	return c.JSON(fiber.Map{"changed": true})
}

// HandleUserDelete removes the account and ends the session.
func HandleUserDelete(c *fiber.Ctx) error {
	userID := currentUserID(c)
	if err := repository.GetGlobalFactory().GetUserRepository().Delete(userID); err != nil {
		log.Errorf("[User] delete for %d failed: %v", userID, err)
		return errorJSON(c, fiber.StatusInternalServerError, "delete_failed")
	}
	if sess, err := session.GetSessionStore().Get(c); err == nil {
		_ = sess.Destroy()
	}
	return c.JSON(fiber.Map{"deleted": true})
}

// HandleUserUsage reports the current plan, the usage counter and the
// remaining generation budget for this period. Not-yet-flushed counter
// increments are included.
func HandleUserUsage(c *fiber.Ctx) error {
	userID := currentUserID(c)
	settings, err := repository.GetGlobalFactory().GetUserRepository().GetSettings(userID)
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "usage_unavailable")
	}

	plan := entitlements.Normalize(settings.Plan)
	used := settings.GenerationsUsed + counter.PendingGenerations(userID)
	limit := entitlements.GenerationLimit(plan)
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}

	return c.JSON(fiber.Map{
		"plan":             string(plan),
		"generationsUsed":  used,
		"generationLimit":  limit,
		"remaining":        remaining,
		"usagePeriodStart": settings.UsagePeriodStart,
	})
}

// HandleUserSettings returns plan and API key metadata. The key hash never
// leaves the server.
func HandleUserSettings(c *fiber.Ctx) error {
	settings, err := repository.GetGlobalFactory().GetUserRepository().GetSettings(currentUserID(c))
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "settings_unavailable")
	}
	return c.JSON(fiber.Map{
		"plan":             settings.Plan,
		"usagePeriodStart": settings.UsagePeriodStart,
		"apiKey": fiber.Map{
			"active":     settings.HasActiveAPIKey(),
			"keyPrefix":  settings.APIKeyPrefix,
			"createdAt":  settings.APIKeyCreatedAt,
			"lastUsedAt": settings.APIKeyLastUsedAt,
		},
	})
}

// HandleAPIKeyIssue creates a new API key. The raw secret is only returned
// once; afterwards only the prefix is visible.
func HandleAPIKeyIssue(c *fiber.Ctx) error {
	userRepo := repository.GetGlobalFactory().GetUserRepository()
	settings, err := userRepo.GetSettings(currentUserID(c))
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "api_key_failed")
	}
	rawKey, err := settings.IssueAPIKey()
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "api_key_failed")
	}
	if err := userRepo.SaveSettings(settings); err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "api_key_failed")
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"apiKey":    rawKey,
		"keyPrefix": settings.APIKeyPrefix,
		"createdAt": settings.APIKeyCreatedAt,
	})
}

// HandleAPIKeyRevoke invalidates the active API key.
func HandleAPIKeyRevoke(c *fiber.Ctx) error {
	userRepo := repository.GetGlobalFactory().GetUserRepository()
	settings, err := userRepo.GetSettings(currentUserID(c))
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "api_key_failed")
	}
	if !settings.HasActiveAPIKey() {
		return errorJSON(c, fiber.StatusNotFound, "no_active_api_key")
	}
	settings.RevokeAPIKey()
	if err := userRepo.SaveSettings(settings); err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "api_key_failed")
	}
	return c.JSON(fiber.Map{"revoked": true})
}

// HandleAdminStats exposes basic account totals to administrators.
func HandleAdminStats(c *fiber.Ctx) error {
	count, err := repository.GetGlobalFactory().GetUserRepository().Count()
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "stats_unavailable")
	}
	return c.JSON(fiber.Map{"totalUsers": count})
}
