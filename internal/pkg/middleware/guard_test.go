package middleware

import (
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"

	"github.com/tmeissner/inkwell/internal/pkg/csrf"
	"github.com/tmeissner/inkwell/internal/pkg/ratelimit"
)

func newGuardedApp(t *testing.T, opts GuardOptions) (*fiber.App, *csrf.Guard) {
	t.Helper()
	guard, err := csrf.NewGuard("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore())

	app := fiber.New()
	app.Post("/mutate", Protect(guard, limiter, opts), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"ok": true})
	})
	return app, guard
}

func TestProtectRejectsMissingCSRFToken(t *testing.T) {
	app, _ := newGuardedApp(t, GuardOptions{RequireCSRF: true})

	req := httptest.NewRequest("POST", "/mutate", nil)
	resp, err := app.Test(req, -1)
	assert.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestProtectRejectsForgedCSRFToken(t *testing.T) {
	app, _ := newGuardedApp(t, GuardOptions{RequireCSRF: true})

	req := httptest.NewRequest("POST", "/mutate", nil)
	req.Header.Set(CSRFHeader, "bm90.dmFsaWQ")
	resp, err := app.Test(req, -1)
	assert.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestProtectAcceptsValidCSRFToken(t *testing.T) {
	app, guard := newGuardedApp(t, GuardOptions{RequireCSRF: true})

	token, err := guard.Issue()
	assert.NoError(t, err)

	req := httptest.NewRequest("POST", "/mutate", nil)
	req.Header.Set(CSRFHeader, token)
	resp, err := app.Test(req, -1)
	assert.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestProtectRateLimitsAfterBudget(t *testing.T) {
	cfg := &ratelimit.Config{
		MaxRequests: 2,
		Window:      time.Minute,
		KeyPrefix:   "test",
		Message:     "too_many_requests",
	}
	app, guard := newGuardedApp(t, GuardOptions{RequireCSRF: true, RateLimit: cfg})

	token, err := guard.Issue()
	assert.NoError(t, err)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/mutate", nil)
		req.Header.Set(CSRFHeader, token)
		resp, err := app.Test(req, -1)
		assert.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode, "request %d", i+1)
	}

	req := httptest.NewRequest("POST", "/mutate", nil)
	req.Header.Set(CSRFHeader, token)
	resp, err := app.Test(req, -1)
	assert.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)

	retryAfter, err := strconv.Atoi(resp.Header.Get(fiber.HeaderRetryAfter))
	assert.NoError(t, err)
	assert.Greater(t, retryAfter, 0)
	assert.LessOrEqual(t, retryAfter, 60)
	assert.Equal(t, "2", resp.Header.Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Reset"))
}

func TestProtectCSRFRejectionConsumesNoQuota(t *testing.T) {
	cfg := &ratelimit.Config{
		MaxRequests: 1,
		Window:      time.Minute,
		KeyPrefix:   "test",
		Message:     "too_many_requests",
	}
	app, guard := newGuardedApp(t, GuardOptions{RequireCSRF: true, RateLimit: cfg})

	// Many forged requests first: all rejected by the CSRF check.
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("POST", "/mutate", nil)
		resp, err := app.Test(req, -1)
		assert.NoError(t, err)
		assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	}

	// The quota of one request must still be intact.
	token, err := guard.Issue()
	assert.NoError(t, err)
	req := httptest.NewRequest("POST", "/mutate", nil)
	req.Header.Set(CSRFHeader, token)
	resp, err := app.Test(req, -1)
	assert.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestProtectWithoutCSRFOnlyRateLimits(t *testing.T) {
	cfg := &ratelimit.Config{
		MaxRequests: 1,
		Window:      time.Minute,
		KeyPrefix:   "test",
		Message:     "too_many_requests",
	}
	app, _ := newGuardedApp(t, GuardOptions{RequireCSRF: false, RateLimit: cfg})

	req := httptest.NewRequest("POST", "/mutate", nil)
	resp, err := app.Test(req, -1)
	assert.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	req = httptest.NewRequest("POST", "/mutate", nil)
	resp, err = app.Test(req, -1)
	assert.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
}
