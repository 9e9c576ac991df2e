package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/tmeissner/inkwell/app/models"
	"github.com/tmeissner/inkwell/internal/pkg/entitlements"
	"github.com/tmeissner/inkwell/internal/pkg/metrics"
)

// CheckoutClient starts hosted-checkout subscriptions at the provider.
type CheckoutClient interface {
	CreatePreapproval(ctx context.Context, in CreatePreapprovalInput) (*Preapproval, error)
}

// Notifier delivers plan-change notices. Delivery failures are logged, never
// surfaced to the provider.
type Notifier interface {
	PlanChanged(user *models.User, oldPlan, newPlan string)
}

// Service reconciles provider webhook notifications against local billing
// state. Notifications are treated as hints only: every decision is made on
// canonical state fetched from the provider API, and applying an update is
// idempotent so redeliveries and replays are harmless.
type Service struct {
	repo     Repository
	provider ProviderClient
	checkout CheckoutClient
	notifier Notifier

	locks *keyMutex
	now   func() time.Time
}

func NewService(repo Repository, provider ProviderClient) *Service {
	return &Service{
		repo:     repo,
		provider: provider,
		locks:    newKeyMutex(),
		now:      time.Now,
	}
}

// WithCheckout wires the checkout client used by CreateCheckout.
func (s *Service) WithCheckout(c CheckoutClient) *Service {
	s.checkout = c
	return s
}

// WithNotifier wires the plan-change notifier.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// RecordWebhookEvent persists a delivery in the dedup ledger. The second
// return is false when the same (provider, event id) was seen before.
// Deliveries without a provider event id are keyed by a payload hash, so
// distinct notifications never collide on an empty id.
func (s *Service) RecordWebhookEvent(in WebhookEventInput) (*models.BillingWebhookEvent, bool, error) {
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.BillingWebhookEvent{
		Provider:        in.Provider,
		ProviderEventID: eventID,
		EventType:       in.EventType,
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	created, err := s.repo.CreateWebhookEventIfNotExists(event)
	if err != nil {
		return nil, false, err
	}
	return event, created, nil
}

// MarkEventProcessed records the terminal result of a delivery on the ledger.
func (s *Service) MarkEventProcessed(eventID uint, processingError string) {
	if eventID == 0 {
		return
	}
	if err := s.repo.MarkWebhookProcessed(eventID, processingError); err != nil {
		log.Errorf("[Billing] failed to mark webhook event %d processed: %v", eventID, err)
	}
}

// HandleNotification processes one provider notification end to end. A nil
// error means the provider must not redeliver (the Outcome says what
// happened); a non-nil error means processing failed transiently and the
// delivery should be retried.
func (s *Service) HandleNotification(ctx context.Context, n Notification) (*Outcome, error) {
	dataID := strings.TrimSpace(n.Data.ID)
	if dataID == "" {
		return &Outcome{Success: false, Kind: OutcomeIgnored, Message: "notification is missing data.id"}, nil
	}

	var preapprovalID string
	switch strings.ToLower(strings.TrimSpace(n.Type)) {
	case NotificationTypeSubscription:
		preapprovalID = dataID
	case NotificationTypePayment:
		payment, err := s.provider.GetPayment(ctx, dataID)
		if err != nil {
			return nil, fmt.Errorf("fetch payment %s: %w", dataID, err)
		}
		if payment.PreapprovalID == "" {
			// One-off payment with no subscription behind it. Nothing to
			// reconcile, and retrying will not change that.
			metrics.WebhookOutcomes.WithLabelValues(OutcomeUnmatched).Inc()
			return &Outcome{Success: true, Kind: OutcomeUnmatched, Message: "payment has no linked subscription"}, nil
		}
		preapprovalID = payment.PreapprovalID
	default:
		metrics.WebhookOutcomes.WithLabelValues(OutcomeIgnored).Inc()
		return &Outcome{Success: true, Kind: OutcomeIgnored, Message: "unsupported notification type"}, nil
	}

	// Serialize fetch and apply per subscription so two concurrent
	// deliveries cannot interleave between read and write.
	s.locks.Lock(preapprovalID)
	defer s.locks.Unlock(preapprovalID)

	pre, err := s.provider.GetPreapproval(ctx, preapprovalID)
	if err != nil {
		return nil, fmt.Errorf("fetch preapproval %s: %w", preapprovalID, err)
	}

	outcome, err := s.applyPreapproval(pre)
	if err != nil {
		return nil, err
	}
	metrics.WebhookOutcomes.WithLabelValues(outcome.Kind).Inc()
	return outcome, nil
}

// applyPreapproval reconciles one canonical preapproval snapshot into the
// local subscription record. Callers must hold the per-entity lock.
func (s *Service) applyPreapproval(pre *Preapproval) (*Outcome, error) {
	sub, err := s.repo.FindSubscriptionByProviderID(models.BillingProviderMercadoPago, pre.ID)
	if err != nil {
		return nil, fmt.Errorf("load subscription %s: %w", pre.ID, err)
	}
	if sub == nil {
		sub = s.adoptByPayer(pre)
	}
	if sub == nil {
		log.Warnf("[Billing] no local subscription for preapproval %s, acknowledging", pre.ID)
		return &Outcome{Success: true, Kind: OutcomeUnmatched, Message: "subscription is not linked to any account"}, nil
	}

	// Out-of-order delivery: the provider state we fetched is older than
	// what we already applied.
	if sub.ProviderUpdatedAt != nil && pre.LastModified.Before(*sub.ProviderUpdatedAt) {
		return &Outcome{Success: true, Kind: OutcomeStale, Status: sub.Status, Message: "update is older than applied state"}, nil
	}

	target, ok := TargetStatus(pre.Status)
	if !ok {
		return &Outcome{Success: true, Kind: OutcomeIgnored, Status: sub.Status, Message: "status " + pre.Status + " has no local effect"}, nil
	}

	if sub.IsTerminal() {
		if target == sub.Status {
			return &Outcome{Success: true, Kind: OutcomeDuplicate, Status: sub.Status, Message: "already in terminal state"}, nil
		}
		// Terminal states never transition again; a resubscription arrives
		// under a fresh provider id.
		return &Outcome{Success: true, Kind: OutcomeIgnored, Status: sub.Status, Message: "terminal state retained"}, nil
	}

	if target == sub.Status {
		sub.ProviderUpdatedAt = timePtr(pre.LastModified)
		if err := s.repo.SaveSubscription(sub); err != nil {
			return nil, fmt.Errorf("save subscription %s: %w", pre.ID, err)
		}
		return &Outcome{Success: true, Kind: OutcomeDuplicate, Status: sub.Status, Message: "state already applied"}, nil
	}

	if err := s.applyTransition(sub, pre, target); err != nil {
		return nil, err
	}
	return &Outcome{Success: true, Kind: OutcomeApplied, Status: sub.Status, Message: "subscription moved to " + sub.Status}, nil
}

// adoptByPayer builds a local record for a preapproval that never went
// through our checkout, when the paying account is already linked to a user.
// The record is only persisted if the snapshot triggers a transition.
func (s *Service) adoptByPayer(pre *Preapproval) *models.BillingSubscription {
	if strings.TrimSpace(pre.PayerID) == "" {
		return nil
	}
	acc, err := s.repo.FindAccountByProviderID(models.BillingProviderMercadoPago, pre.PayerID)
	if err != nil || acc == nil {
		if err != nil {
			log.Errorf("[Billing] account lookup for payer %s failed: %v", pre.PayerID, err)
		}
		return nil
	}
	log.Infof("[Billing] adopting preapproval %s for user %d via linked billing account", pre.ID, acc.UserID)
	return &models.BillingSubscription{
		UserID:                 acc.UserID,
		Provider:               models.BillingProviderMercadoPago,
		ProviderSubscriptionID: pre.ID,
		ProviderPlanRef:        pre.PreapprovalPlanID,
		Status:                 models.BillingStatusPending,
	}
}

func (s *Service) applyTransition(sub *models.BillingSubscription, pre *Preapproval, target string) error {
	oldPlan, err := s.currentPlan(sub.UserID)
	if err != nil {
		return err
	}

	if plan := s.resolvePlan(pre.PreapprovalPlanID); plan != "" {
		sub.InternalPlan = plan
	}
	sub.Status = target
	sub.ProviderPlanRef = pre.PreapprovalPlanID
	sub.ProviderUpdatedAt = timePtr(pre.LastModified)
	if raw, err := json.Marshal(pre); err == nil {
		sub.RawPayloadJSON = string(raw)
	}
	switch target {
	case models.BillingStatusActive:
		if sub.StartedAt == nil {
			sub.StartedAt = timePtr(s.now())
		}
		sub.ExpiresAt = pre.EndDate
	case models.BillingStatusExpired, models.BillingStatusCancelled:
		if sub.ExpiresAt == nil {
			sub.ExpiresAt = timePtr(s.now())
		}
	}

	if err := s.repo.SaveSubscription(sub); err != nil {
		return fmt.Errorf("save subscription %s: %w", sub.ProviderSubscriptionID, err)
	}
	if target == models.BillingStatusActive {
		if err := s.repo.SupersedeOtherActive(sub.UserID, sub.ID); err != nil {
			return fmt.Errorf("supersede active subscriptions for user %d: %w", sub.UserID, err)
		}
	}

	newPlan, err := s.ReconcileUserPlan(sub.UserID)
	if err != nil {
		return err
	}
	if newPlan != oldPlan {
		s.notifyPlanChange(sub.UserID, oldPlan, newPlan)
	}
	return nil
}

// ReconcileUserPlan recomputes the user's effective plan from all their
// subscriptions. The best plan among entitling subscriptions wins; with none,
// the user falls back to free.
func (s *Service) ReconcileUserPlan(userID uint) (string, error) {
	subs, err := s.repo.ListSubscriptionsByUser(userID)
	if err != nil {
		return "", fmt.Errorf("list subscriptions for user %d: %w", userID, err)
	}

	best := entitlements.PlanFree
	for i := range subs {
		if !isEntitlingStatus(subs[i].Status) {
			continue
		}
		plan := entitlements.Normalize(subs[i].InternalPlan)
		if entitlements.Rank(plan) > entitlements.Rank(best) {
			best = plan
		}
	}

	settings, err := s.repo.GetUserSettings(userID)
	if err != nil {
		return "", fmt.Errorf("load settings for user %d: %w", userID, err)
	}
	if settings.Plan != string(best) {
		settings.Plan = string(best)
		if err := s.repo.SaveUserSettings(settings); err != nil {
			return "", fmt.Errorf("save settings for user %d: %w", userID, err)
		}
	}
	return string(best), nil
}

// CreateCheckout starts a hosted-checkout subscription for the given plan and
// returns the provider URL the user completes payment on. A pending local
// record is created up front so the webhook can match the subscription later.
func (s *Service) CreateCheckout(ctx context.Context, user *models.User, planRef string) (string, error) {
	if s.checkout == nil {
		return "", errors.New("checkout is not configured")
	}
	mapping, err := s.repo.FindActivePlanMapping(models.BillingProviderMercadoPago, planRef)
	if err != nil {
		return "", err
	}
	if mapping == nil {
		return "", fmt.Errorf("unknown plan %q", planRef)
	}

	pre, err := s.checkout.CreatePreapproval(ctx, CreatePreapprovalInput{
		PlanRef:           planRef,
		PayerEmail:        user.Email,
		ExternalReference: fmt.Sprintf("user-%d", user.ID),
		Reason:            "Inkwell " + mapping.InternalPlan,
	})
	if err != nil {
		return "", err
	}

	sub := &models.BillingSubscription{
		UserID:                 user.ID,
		Provider:               models.BillingProviderMercadoPago,
		ProviderSubscriptionID: pre.ID,
		ProviderPlanRef:        planRef,
		InternalPlan:           mapping.InternalPlan,
		Status:                 models.BillingStatusPending,
	}
	if err := s.repo.SaveSubscription(sub); err != nil {
		return "", err
	}
	if err := s.ensureAccount(user.ID, pre.PayerID, pre.PayerEmail); err != nil {
		log.Warnf("[Billing] could not link billing account for user %d: %v", user.ID, err)
	}
	return pre.InitPoint, nil
}

// Client errors from SyncFromCheckout, distinguishable from provider and
// storage failures so the HTTP layer does not report them as retryable.
var (
	ErrMissingPreapprovalID = errors.New("preapproval id is required")
	ErrForeignSubscription  = errors.New("subscription belongs to another account")
)

// SyncFromCheckout refreshes a subscription right after the user returns from
// the hosted checkout, so entitlements apply without waiting for the webhook.
func (s *Service) SyncFromCheckout(ctx context.Context, userID uint, preapprovalID string) (*Outcome, error) {
	preapprovalID = strings.TrimSpace(preapprovalID)
	if preapprovalID == "" {
		return nil, ErrMissingPreapprovalID
	}

	s.locks.Lock(preapprovalID)
	defer s.locks.Unlock(preapprovalID)

	pre, err := s.provider.GetPreapproval(ctx, preapprovalID)
	if err != nil {
		return nil, fmt.Errorf("fetch preapproval %s: %w", preapprovalID, err)
	}

	sub, err := s.repo.FindSubscriptionByProviderID(models.BillingProviderMercadoPago, pre.ID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		// Checkout record got lost (e.g. created in another session). Adopt
		// the subscription for the returning user.
		sub = &models.BillingSubscription{
			UserID:                 userID,
			Provider:               models.BillingProviderMercadoPago,
			ProviderSubscriptionID: pre.ID,
			ProviderPlanRef:        pre.PreapprovalPlanID,
			Status:                 models.BillingStatusPending,
		}
		if plan := s.resolvePlan(pre.PreapprovalPlanID); plan != "" {
			sub.InternalPlan = plan
		}
		if err := s.repo.SaveSubscription(sub); err != nil {
			return nil, err
		}
	}
	if sub.UserID != userID {
		return nil, fmt.Errorf("preapproval %s: %w", preapprovalID, ErrForeignSubscription)
	}
	if err := s.ensureAccount(userID, pre.PayerID, pre.PayerEmail); err != nil {
		log.Warnf("[Billing] could not link billing account for user %d: %v", userID, err)
	}
	return s.applyPreapproval(pre)
}

// Subscriptions returns the user's billing history, newest first.
func (s *Service) Subscriptions(userID uint) ([]models.BillingSubscription, error) {
	return s.repo.ListSubscriptionsByUser(userID)
}

func (s *Service) ensureAccount(userID uint, providerAccountID, email string) error {
	if strings.TrimSpace(providerAccountID) == "" {
		return nil
	}
	acc, err := s.repo.FindAccountByUser(userID, models.BillingProviderMercadoPago)
	if err != nil {
		return err
	}
	if acc == nil {
		acc = &models.BillingAccount{
			UserID:   userID,
			Provider: models.BillingProviderMercadoPago,
		}
	}
	if acc.ProviderAccountID == providerAccountID && acc.Email == email {
		return nil
	}
	acc.ProviderAccountID = providerAccountID
	acc.Email = email
	return s.repo.SaveAccount(acc)
}

func (s *Service) resolvePlan(providerPlanRef string) string {
	if strings.TrimSpace(providerPlanRef) == "" {
		return ""
	}
	mapping, err := s.repo.FindActivePlanMapping(models.BillingProviderMercadoPago, providerPlanRef)
	if err != nil || mapping == nil {
		if err != nil {
			log.Errorf("[Billing] plan mapping lookup for %s failed: %v", providerPlanRef, err)
		}
		return ""
	}
	return mapping.InternalPlan
}

func (s *Service) currentPlan(userID uint) (string, error) {
	settings, err := s.repo.GetUserSettings(userID)
	if err != nil {
		return "", fmt.Errorf("load settings for user %d: %w", userID, err)
	}
	return settings.Plan, nil
}

func (s *Service) notifyPlanChange(userID uint, oldPlan, newPlan string) {
	if s.notifier == nil {
		return
	}
	user, err := s.repo.GetUserByID(userID)
	if err != nil || user == nil {
		log.Warnf("[Billing] cannot notify plan change for user %d: %v", userID, err)
		return
	}
	s.notifier.PlanChanged(user, oldPlan, newPlan)
}

func timePtr(t time.Time) *time.Time {
	return &t
}
