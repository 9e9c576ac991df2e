package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tmeissner/inkwell/app/controllers"
	"github.com/tmeissner/inkwell/internal/pkg/csrf"
	"github.com/tmeissner/inkwell/internal/pkg/ratelimit"
)

// Router installs one group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// Deps carries the shared admission components every route group uses.
type Deps struct {
	Guard   *csrf.Guard
	Limiter *ratelimit.Limiter
	Billing *controllers.BillingController
}

func InstallRouter(app *fiber.App, deps Deps) {
	// HttpRouter first: it initializes the session store and the global
	// UserContext middleware the API routes depend on.
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
