package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tmeissner/inkwell/app/controllers"
	"github.com/tmeissner/inkwell/internal/pkg/constants"
	"github.com/tmeissner/inkwell/internal/pkg/middleware"
	"github.com/tmeissner/inkwell/internal/pkg/session"
)

type HttpRouter struct {
	deps Deps
}

func NewHttpRouter(deps Deps) *HttpRouter {
	return &HttpRouter{deps: deps}
}

func (h *HttpRouter) InstallRouter(app *fiber.App) {
	// init session
	session.NewSessionStore()

	// Apply UserContext middleware globally as first middleware
	app.Use(middleware.UserContextMiddleware)

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get(constants.MetricsRoute, adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/monitor", middleware.RequireAdmin, monitor.New())

	// Anti-forgery token issuance for browser clients.
	app.Get("/csrf-token", controllers.HandleCSRFToken(h.deps.Guard))

	// Provider webhooks authenticate via HMAC signature, not sessions, so
	// they bypass the CSRF guard on purpose.
	app.Post("/webhooks/mercadopago", h.deps.Billing.HandleWebhook)
}
