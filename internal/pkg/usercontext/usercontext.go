package usercontext

import "github.com/gofiber/fiber/v2"

// LocalKey is the fiber Locals slot holding the request's resolved identity.
// Both the session middleware and the API-key middleware populate it.
const LocalKey = "USER_CONTEXT"

// UserContext is the resolved identity of one request: who is asking, and
// which plan their generation quota is charged against. Anonymous requests
// carry the zero value. The context is request-scoped and never serialized.
type UserContext struct {
	UserID     uint
	Username   string
	Email      string
	IsLoggedIn bool
	IsAdmin    bool
	Plan       string
}

// Get returns the request's user context, or an anonymous one when no
// middleware resolved an identity.
func Get(c *fiber.Ctx) UserContext {
	if ctx, ok := c.Locals(LocalKey).(UserContext); ok {
		return ctx
	}
	return UserContext{}
}

// GetUserID returns the current user's id, or 0 for anonymous requests.
func GetUserID(c *fiber.Ctx) uint {
	return Get(c).UserID
}
