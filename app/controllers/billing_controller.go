package controllers

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/tmeissner/inkwell/app/models"
	"github.com/tmeissner/inkwell/app/repository"
	"github.com/tmeissner/inkwell/internal/pkg/billing"
	"github.com/tmeissner/inkwell/internal/pkg/session"
)

// BillingController bundles the billing service behind HTTP handlers.
type BillingController struct {
	service       *billing.Service
	webhookSecret string
}

func NewBillingController(service *billing.Service, webhookSecret string) *BillingController {
	return &BillingController{service: service, webhookSecret: webhookSecret}
}

// HandleWebhook receives provider notifications. The contract with the
// provider: any 2xx stops redelivery, any other status schedules a retry.
// Signature check and event dedup run before the reconciler.
func (bc *BillingController) HandleWebhook(c *fiber.Ctx) error {
	body := c.Body()

	var notification billing.Notification
	if err := json.Unmarshal(body, &notification); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_payload")
	}

	// The event envelope id identifies the delivery, data.id the entity.
	var envelope struct {
		ID json.Number `json:"id"`
	}
	_ = json.Unmarshal(body, &envelope)
	eventID := envelope.ID.String()
	if eventID == "" {
		eventID = c.Get("x-request-id")
	}

	signatureValid := billing.VerifyMercadoPagoWebhookSignature(
		notification.Data.ID,
		c.Get("x-request-id"),
		c.Get("x-signature"),
		bc.webhookSecret,
	)
	if bc.webhookSecret != "" && !signatureValid {
		log.Warnf("[Billing] webhook signature rejected for event %s", eventID)
		return errorJSON(c, fiber.StatusUnauthorized, "invalid_signature")
	}

	event, created, err := bc.service.RecordWebhookEvent(billing.WebhookEventInput{
		Provider:        models.BillingProviderMercadoPago,
		ProviderEventID: eventID,
		EventType:       notification.Type,
		PayloadJSON:     string(body),
		SignatureValid:  signatureValid,
	})
	if err != nil {
		log.Errorf("[Billing] webhook event ledger write failed: %v", err)
		return errorJSON(c, fiber.StatusInternalServerError, "processing_failed")
	}
	if !created {
		return c.JSON(fiber.Map{"received": true, "duplicate": true})
	}

	outcome, err := bc.service.HandleNotification(c.Context(), notification)
	if err != nil {
		log.Errorf("[Billing] notification %s failed, provider will retry: %v", eventID, err)
		bc.service.MarkEventProcessed(event.ID, err.Error())
		return errorJSON(c, fiber.StatusInternalServerError, "processing_failed")
	}

	bc.service.MarkEventProcessed(event.ID, "")
	if !outcome.Success {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"received": false,
			"error":    outcome.Message,
		})
	}
	return c.JSON(fiber.Map{"received": true, "result": outcome.Message})
}

type checkoutRequest struct {
	Plan string `json:"plan"`
}

// HandleCheckout starts a hosted-checkout subscription and returns the URL
// the client redirects the user to.
func (bc *BillingController) HandleCheckout(c *fiber.Ctx) error {
	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request_body")
	}

	user, err := repository.GetGlobalFactory().GetUserRepository().GetByID(currentUserID(c))
	if err != nil || user == nil {
		return errorJSON(c, fiber.StatusNotFound, "user_not_found")
	}

	checkoutURL, err := bc.service.CreateCheckout(c.Context(), user, req.Plan)
	if err != nil {
		log.Errorf("[Billing] checkout for user %d failed: %v", user.ID, err)
		return errorJSON(c, fiber.StatusBadGateway, "checkout_failed")
	}
	return c.JSON(fiber.Map{"checkoutUrl": checkoutURL})
}

type syncRequest struct {
	PreapprovalID string `json:"preapprovalId"`
}

// HandleSync refreshes a subscription right after checkout so the user does
// not have to wait for the webhook.
func (bc *BillingController) HandleSync(c *fiber.Ctx) error {
	var req syncRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request_body")
	}

	outcome, err := bc.service.SyncFromCheckout(c.Context(), currentUserID(c), req.PreapprovalID)
	if err != nil {
		log.Errorf("[Billing] checkout sync for user %d failed: %v", currentUserID(c), err)
		switch {
		case errors.Is(err, billing.ErrMissingPreapprovalID):
			return errorJSON(c, fiber.StatusBadRequest, "preapproval_id_required")
		case errors.Is(err, billing.ErrForeignSubscription):
			return errorJSON(c, fiber.StatusForbidden, "subscription_not_owned")
		}
		return errorJSON(c, fiber.StatusBadGateway, "sync_failed")
	}
	bc.refreshSessionPlan(c)
	return c.JSON(fiber.Map{"status": outcome.Status, "result": outcome.Message})
}

// HandleSubscription returns the user's current subscription plus history.
func (bc *BillingController) HandleSubscription(c *fiber.Ctx) error {
	subs, err := bc.service.Subscriptions(currentUserID(c))
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "subscriptions_unavailable")
	}

	var current *models.BillingSubscription
	for i := range subs {
		if subs[i].Status == models.BillingStatusActive {
			current = &subs[i]
			break
		}
	}
	return c.JSON(fiber.Map{
		"current": current,
		"history": subs,
	})
}

// HandleResync recomputes the effective plan from stored subscriptions.
func (bc *BillingController) HandleResync(c *fiber.Ctx) error {
	plan, err := bc.service.ReconcileUserPlan(currentUserID(c))
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "resync_failed")
	}
	bc.refreshSessionPlan(c)
	return c.JSON(fiber.Map{"plan": plan})
}

// refreshSessionPlan drops the cached session plan so the next request
// reloads it from the database.
func (bc *BillingController) refreshSessionPlan(c *fiber.Ctx) {
	if err := session.SetSessionValue(c, "user_plan", ""); err != nil {
		log.Warnf("[Billing] could not refresh session plan: %v", err)
	}
}
