package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/tmeissner/inkwell/app/controllers"
	"github.com/tmeissner/inkwell/internal/pkg/constants"
	"github.com/tmeissner/inkwell/internal/pkg/middleware"
	"github.com/tmeissner/inkwell/internal/pkg/ratelimit"
)

// Per-route-class admission limits. Login is deliberately tight since it is
// the credential-stuffing target.
var (
	loginLimit = ratelimit.Config{
		MaxRequests: 5,
		Window:      15 * time.Minute,
		KeyPrefix:   "login",
		Message:     "too_many_login_attempts",
	}
	registerLimit = ratelimit.Config{
		MaxRequests: 10,
		Window:      time.Hour,
		KeyPrefix:   "register",
		Message:     "too_many_registrations",
	}
	generateLimit = ratelimit.Config{
		MaxRequests: 30,
		Window:      time.Minute,
		KeyPrefix:   "generate",
		Message:     "too_many_generation_requests",
	}
	mutationLimit = ratelimit.Config{
		MaxRequests: 60,
		Window:      time.Minute,
		KeyPrefix:   "mutation",
		Message:     "too_many_requests",
	}
)

type ApiRouter struct {
	deps Deps
}

func NewApiRouter(deps Deps) *ApiRouter {
	return &ApiRouter{deps: deps}
}

func (h *ApiRouter) InstallRouter(app *fiber.App) {
	v1 := app.Group(constants.APIRoute)

	protect := func(cfg *ratelimit.Config) fiber.Handler {
		return middleware.Protect(h.deps.Guard, h.deps.Limiter, middleware.GuardOptions{
			RequireCSRF: true,
			RateLimit:   cfg,
		})
	}

	// Auth (anonymous)
	v1.Post("/auth/register", protect(&registerLimit), controllers.HandleRegister)
	v1.Post("/auth/login", protect(&loginLimit), controllers.HandleLogin)
	v1.Post("/auth/logout", protect(nil), controllers.HandleLogout)

	// Profile and settings
	user := v1.Group("/user", middleware.RequireAuth)
	user.Get("/profile", controllers.HandleUserProfile)
	user.Put("/profile", protect(&mutationLimit), controllers.HandleUserProfileUpdate)
	user.Put("/password", protect(&mutationLimit), controllers.HandleUserPasswordChange)
	user.Delete("/account", protect(&mutationLimit), controllers.HandleUserDelete)
	user.Get("/settings", controllers.HandleUserSettings)
	user.Get("/usage", controllers.HandleUserUsage)
	user.Post("/api-key", protect(&mutationLimit), controllers.HandleAPIKeyIssue)
	user.Delete("/api-key", protect(&mutationLimit), controllers.HandleAPIKeyRevoke)

	// Content generation: session or API key
	v1.Post("/generate",
		middleware.APIKeyAuthMiddleware(),
		middleware.RequireAuth,
		protect(&generateLimit),
		controllers.HandleGenerate,
	)

	// Billing surface
	billingGroup := v1.Group("/billing", middleware.RequireAuth)
	billingGroup.Get("/subscription", h.deps.Billing.HandleSubscription)
	billingGroup.Post("/checkout", protect(&mutationLimit), h.deps.Billing.HandleCheckout)
	billingGroup.Post("/sync", protect(&mutationLimit), h.deps.Billing.HandleSync)
	billingGroup.Post("/resync", protect(&mutationLimit), h.deps.Billing.HandleResync)

	// Admin
	admin := v1.Group("/admin", middleware.RequireAdmin)
	admin.Get("/stats", controllers.HandleAdminStats)
}
