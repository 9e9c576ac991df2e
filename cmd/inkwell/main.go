package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/tmeissner/inkwell/app/controllers"
	"github.com/tmeissner/inkwell/app/repository"
	"github.com/tmeissner/inkwell/internal/pkg/billing"
	"github.com/tmeissner/inkwell/internal/pkg/cache"
	"github.com/tmeissner/inkwell/internal/pkg/csrf"
	"github.com/tmeissner/inkwell/internal/pkg/database"
	"github.com/tmeissner/inkwell/internal/pkg/env"
	"github.com/tmeissner/inkwell/internal/pkg/mail"
	"github.com/tmeissner/inkwell/internal/pkg/metrics/counter"
	"github.com/tmeissner/inkwell/internal/pkg/ratelimit"
	"github.com/tmeissner/inkwell/internal/pkg/router"
)

const usageFlushInterval = 30 * time.Second

func main() {
	app, sweeper := NewApplication()

	// Flush Redis usage counters to the database in the background.
	flushStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(usageFlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := counter.FlushAll(); err != nil {
					log.Printf("usage counter flush failed: %v", err)
				}
			case <-flushStop:
				return
			}
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-shutdown
		close(flushStop)
		sweeper.Stop()
		if err := counter.FlushAll(); err != nil {
			log.Printf("final usage counter flush failed: %v", err)
		}
		if err := app.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}()

	addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
	if err := app.Listen(addr); err != nil {
		log.Fatal(err)
	}
}

func NewApplication() (*fiber.App, *ratelimit.Sweeper) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()
	repository.InitializeFactory(database.GetDB())

	secret := env.GetEnv("CSRF_SECRET", "")
	if secret == "" {
		log.Fatal("CSRF_SECRET must be set")
	}
	guard, err := csrf.NewGuard(secret, csrf.DefaultTTL)
	if err != nil {
		log.Fatalf("csrf guard init failed: %v", err)
	}

	// Redis-backed admission state when the cache is up, otherwise a
	// process-local store.
	var store ratelimit.Store
	if client := cache.GetClient(); client != nil {
		store = ratelimit.NewRedisStore(client)
	} else {
		store = ratelimit.NewMemoryStore()
	}
	limiter := ratelimit.NewLimiter(store)
	sweeper := ratelimit.NewSweeper(store, ratelimit.DefaultSweepInterval)
	sweeper.Start()

	provider := billing.NewMercadoPagoClientFromEnv()
	billingService := billing.NewService(billing.NewRepository(database.GetDB()), provider).
		WithCheckout(provider).
		WithNotifier(mail.PlanChangeNotifier{})
	billingController := controllers.NewBillingController(billingService, provider.WebhookSecret)

	app := fiber.New(fiber.Config{
		AppName:   "Inkwell",
		BodyLimit: 1 << 20,
	})
	app.Use(recover.New(), logger.New())

	router.InstallRouter(app, router.Deps{
		Guard:   guard,
		Limiter: limiter,
		Billing: billingController,
	})

	return app, sweeper
}
