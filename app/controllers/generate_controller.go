package controllers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/tmeissner/inkwell/app/repository"
	"github.com/tmeissner/inkwell/internal/pkg/entitlements"
	"github.com/tmeissner/inkwell/internal/pkg/metrics/counter"
)

type generateRequest struct {
	Prompt string `json:"prompt"`
	Kind   string `json:"kind"`
}

const maxPromptLength = 8000

// HandleGenerate admits one content generation against the user's plan
// quota. Usage is counted in Redis and flushed to the database in batches,
// so the check includes increments that have not been flushed yet.
func HandleGenerate(c *fiber.Ctx) error {
	var req generateRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request_body")
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return errorJSON(c, fiber.StatusUnprocessableEntity, "prompt_required")
	}
	if len(prompt) > maxPromptLength {
		return errorJSON(c, fiber.StatusUnprocessableEntity, "prompt_too_long")
	}

	userID := currentUserID(c)
	userRepo := repository.GetGlobalFactory().GetUserRepository()
	settings, err := userRepo.GetSettings(userID)
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "quota_unavailable")
	}
	if settings.ResetUsageIfStale(time.Now()) {
		if err := userRepo.SaveSettings(settings); err != nil {
			log.Warnf("[Generate] usage period reset for user %d not persisted: %v", userID, err)
		}
	}

	plan := entitlements.Normalize(settings.Plan)
	used := settings.GenerationsUsed + counter.PendingGenerations(userID)
	if !entitlements.CanGenerate(plan, used) {
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
			"error":           "generation_quota_exceeded",
			"plan":            string(plan),
			"generationLimit": entitlements.GenerationLimit(plan),
		})
	}

	if err := counter.AddGeneration(userID); err != nil {
		log.Errorf("[Generate] usage counter for user %d failed: %v", userID, err)
		return errorJSON(c, fiber.StatusInternalServerError, "generation_failed")
	}

	// The generation pipeline runs asynchronously; the client polls or
	// receives the result through its delivery channel.
	generationID := uuid.New().String()
	kind := strings.TrimSpace(req.Kind)
	if kind == "" {
		kind = "article"
	}
	log.Infof("[Generate] user=%d generation=%s kind=%s", userID, generationID, kind)

	remaining := entitlements.GenerationLimit(plan) - used - 1
	if remaining < 0 {
		remaining = 0
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"generationId": generationID,
		"kind":         kind,
		"status":       "queued",
		"remaining":    remaining,
	})
}
