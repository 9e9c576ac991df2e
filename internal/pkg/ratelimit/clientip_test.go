package ratelimit

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{
			name:    "cloudflare header wins",
			headers: map[string]string{"CF-Connecting-IP": "203.0.113.7", "X-Forwarded-For": "10.0.0.1"},
			want:    "203.0.113.7",
		},
		{
			name:    "first forwarded entry",
			headers: map[string]string{"X-Forwarded-For": "198.51.100.4, 10.0.0.1, 10.0.0.2"},
			want:    "198.51.100.4",
		},
		{
			name:    "forwarded entry is trimmed",
			headers: map[string]string{"X-Forwarded-For": "  198.51.100.9 , 10.0.0.1"},
			want:    "198.51.100.9",
		},
		{
			name:    "real ip fallback",
			headers: map[string]string{"X-Real-IP": "192.0.2.33"},
			want:    "192.0.2.33",
		},
		{
			name:    "no headers falls back to remote addr",
			headers: nil,
			want:    "0.0.0.0",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			app := fiber.New()
			var got string
			app.Get("/", func(c *fiber.Ctx) error {
				got = ClientIP(c)
				return c.SendString("ok")
			})

			req := httptest.NewRequest("GET", "/", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			if _, err := app.Test(req, -1); err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			if got != tc.want {
				t.Errorf("ClientIP() = %q, want %q", got, tc.want)
			}
		})
	}
}
