package controllers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/tmeissner/inkwell/app/models"
	"github.com/tmeissner/inkwell/app/repository"
	"github.com/tmeissner/inkwell/internal/pkg/database"
	"github.com/tmeissner/inkwell/internal/pkg/session"
	"github.com/tmeissner/inkwell/internal/pkg/usercontext"
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleRegister creates a new account and opens a session for it.
func HandleRegister(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request_body")
	}

	userRepo := repository.GetGlobalFactory().GetUserRepository()
	if existing, err := userRepo.GetByEmail(strings.TrimSpace(req.Email)); err == nil && existing != nil {
		return errorJSON(c, fiber.StatusConflict, "email_already_registered")
	}

	user, err := models.CreateUser(strings.TrimSpace(req.Name), strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		return errorJSON(c, fiber.StatusUnprocessableEntity, "validation_failed")
	}
	if err := userRepo.Create(user); err != nil {
		log.Errorf("[Auth] create user failed: %v", err)
		return errorJSON(c, fiber.StatusInternalServerError, "registration_failed")
	}
	if _, err := models.GetOrCreateUserSettings(database.GetDB(), user.ID); err != nil {
		log.Warnf("[Auth] could not seed settings for user %d: %v", user.ID, err)
	}

	if err := openSession(c, user); err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "session_failed")
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":    user.ID,
		"name":  user.Name,
		"email": user.Email,
	})
}

// HandleLogin authenticates by email and password. Login failures are
// reported without detail on purpose.
func HandleLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request_body")
	}

	userRepo := repository.GetGlobalFactory().GetUserRepository()
	user, err := userRepo.GetByEmail(strings.TrimSpace(req.Email))
	if err != nil || user == nil || !user.CheckPassword(req.Password) {
		return errorJSON(c, fiber.StatusUnauthorized, "invalid_credentials")
	}
	if !user.IsActive() {
		return errorJSON(c, fiber.StatusForbidden, "account_disabled")
	}

	if err := openSession(c, user); err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "session_failed")
	}

	now := time.Now()
	user.LastLoginAt = &now
	if err := userRepo.Update(user); err != nil {
		log.Warnf("[Auth] could not update last login for user %d: %v", user.ID, err)
	}

	return c.JSON(fiber.Map{
		"id":    user.ID,
		"name":  user.Name,
		"email": user.Email,
	})
}

// HandleLogout destroys the session.
func HandleLogout(c *fiber.Ctx) error {
	sess, err := session.GetSessionStore().Get(c)
	if err == nil {
		if err := sess.Destroy(); err != nil {
			log.Warnf("[Auth] session destroy failed: %v", err)
		}
	}
	return c.JSON(fiber.Map{"loggedOut": true})
}

func openSession(c *fiber.Ctx, user *models.User) error {
	sess, err := session.GetSessionStore().Get(c)
	if err != nil {
		return err
	}
	sess.Set(usercontext.AuthKey, true)
	sess.Set(usercontext.KeyUserID, user.ID)
	sess.Set(usercontext.KeyUsername, user.Name)
	sess.Set(usercontext.KeyUserEmail, user.Email)
	sess.Set(usercontext.KeyIsAdmin, user.Role == models.ROLE_ADMIN)
	return sess.Save()
}
