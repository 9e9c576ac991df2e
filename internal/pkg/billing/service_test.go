package billing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tmeissner/inkwell/app/models"
)

type stubProvider struct {
	payments     map[string]*Payment
	preapprovals map[string]*Preapproval
	failFetch    bool

	preapprovalCalls int
}

func (p *stubProvider) GetPayment(_ context.Context, id string) (*Payment, error) {
	if p.failFetch {
		return nil, errors.New("provider unavailable")
	}
	if pay, ok := p.payments[id]; ok {
		return pay, nil
	}
	return nil, errors.New("payment not found")
}

func (p *stubProvider) GetPreapproval(_ context.Context, id string) (*Preapproval, error) {
	p.preapprovalCalls++
	if p.failFetch {
		return nil, errors.New("provider unavailable")
	}
	if pre, ok := p.preapprovals[id]; ok {
		cp := *pre
		return &cp, nil
	}
	return nil, errors.New("preapproval not found")
}

type stubRepo struct {
	subs     map[string]*models.BillingSubscription
	mappings map[string]string
	settings map[uint]*models.UserSettings
	users    map[uint]*models.User
	accounts map[uint]*models.BillingAccount
	events   map[string]*models.BillingWebhookEvent

	nextID     uint
	saveErr    error
	superseded []uint
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		subs:     make(map[string]*models.BillingSubscription),
		mappings: make(map[string]string),
		settings: make(map[uint]*models.UserSettings),
		users:    make(map[uint]*models.User),
		accounts: make(map[uint]*models.BillingAccount),
		events:   make(map[string]*models.BillingWebhookEvent),
	}
}

func (r *stubRepo) FindSubscriptionByProviderID(_, id string) (*models.BillingSubscription, error) {
	if sub, ok := r.subs[id]; ok {
		return sub, nil
	}
	return nil, nil
}

func (r *stubRepo) SaveSubscription(sub *models.BillingSubscription) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	if sub.ID == 0 {
		r.nextID++
		sub.ID = r.nextID
	}
	r.subs[sub.ProviderSubscriptionID] = sub
	return nil
}

func (r *stubRepo) ListSubscriptionsByUser(userID uint) ([]models.BillingSubscription, error) {
	var out []models.BillingSubscription
	for _, sub := range r.subs {
		if sub.UserID == userID {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (r *stubRepo) SupersedeOtherActive(userID uint, keepID uint) error {
	r.superseded = append(r.superseded, keepID)
	for _, sub := range r.subs {
		if sub.UserID == userID && sub.ID != keepID && sub.Status == models.BillingStatusActive {
			sub.Status = models.BillingStatusCancelled
		}
	}
	return nil
}

func (r *stubRepo) FindActivePlanMapping(_, ref string) (*models.BillingPlanMapping, error) {
	if plan, ok := r.mappings[ref]; ok {
		return &models.BillingPlanMapping{ProviderPlanRef: ref, InternalPlan: plan, IsActive: true}, nil
	}
	return nil, nil
}

func (r *stubRepo) FindAccountByProviderID(_, providerAccountID string) (*models.BillingAccount, error) {
	for _, acc := range r.accounts {
		if acc.ProviderAccountID == providerAccountID {
			return acc, nil
		}
	}
	return nil, nil
}

func (r *stubRepo) FindAccountByUser(userID uint, _ string) (*models.BillingAccount, error) {
	return r.accounts[userID], nil
}

func (r *stubRepo) SaveAccount(acc *models.BillingAccount) error {
	r.accounts[acc.UserID] = acc
	return nil
}

func (r *stubRepo) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, error) {
	key := event.Provider + "|" + event.ProviderEventID
	if _, ok := r.events[key]; ok {
		return false, nil
	}
	r.nextID++
	event.ID = r.nextID
	r.events[key] = event
	return true, nil
}

func (r *stubRepo) MarkWebhookProcessed(uint, string) error { return nil }

func (r *stubRepo) GetUserSettings(userID uint) (*models.UserSettings, error) {
	if s, ok := r.settings[userID]; ok {
		return s, nil
	}
	s := &models.UserSettings{UserID: userID, Plan: "free"}
	r.settings[userID] = s
	return s, nil
}

func (r *stubRepo) SaveUserSettings(settings *models.UserSettings) error {
	r.settings[settings.UserID] = settings
	return nil
}

func (r *stubRepo) GetUserByID(userID uint) (*models.User, error) {
	return r.users[userID], nil
}

type recordingNotifier struct {
	calls []string
}

func (n *recordingNotifier) PlanChanged(_ *models.User, oldPlan, newPlan string) {
	n.calls = append(n.calls, oldPlan+"->"+newPlan)
}

func fixedTime() time.Time {
	return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
}

func newTestService(repo *stubRepo, provider *stubProvider) *Service {
	svc := NewService(repo, provider)
	svc.now = fixedTime
	return svc
}

func subscriptionNotification(id string) Notification {
	var n Notification
	n.Type = NotificationTypeSubscription
	n.Data.ID = id
	return n
}

func TestHandleNotificationActivatesSubscription(t *testing.T) {
	repo := newStubRepo()
	repo.mappings["plan-pro"] = "pro"
	repo.users[7] = &models.User{Email: "writer@example.com"}
	repo.subs["pre-1"] = &models.BillingSubscription{
		ID: 1, UserID: 7,
		Provider:               models.BillingProviderMercadoPago,
		ProviderSubscriptionID: "pre-1",
		ProviderPlanRef:        "plan-pro",
		InternalPlan:           "pro",
		Status:                 models.BillingStatusPending,
	}
	provider := &stubProvider{preapprovals: map[string]*Preapproval{
		"pre-1": {ID: "pre-1", Status: "authorized", PreapprovalPlanID: "plan-pro", LastModified: fixedTime()},
	}}
	notifier := &recordingNotifier{}
	svc := newTestService(repo, provider).WithNotifier(notifier)

	out, err := svc.HandleNotification(context.Background(), subscriptionNotification("pre-1"))
	if err != nil {
		t.Fatalf("HandleNotification returned error: %v", err)
	}
	if !out.Success || out.Kind != OutcomeApplied {
		t.Fatalf("expected applied outcome, got %+v", out)
	}
	sub := repo.subs["pre-1"]
	if sub.Status != models.BillingStatusActive {
		t.Errorf("status = %s, want active", sub.Status)
	}
	if sub.StartedAt == nil {
		t.Error("StartedAt not set on activation")
	}
	if got := repo.settings[7].Plan; got != "pro" {
		t.Errorf("settings plan = %s, want pro", got)
	}
	if len(notifier.calls) != 1 || notifier.calls[0] != "free->pro" {
		t.Errorf("notifier calls = %v, want one free->pro", notifier.calls)
	}
	if len(repo.superseded) != 1 {
		t.Errorf("expected supersede to run once, got %v", repo.superseded)
	}
}

func TestHandleNotificationRedeliveryIsIdempotent(t *testing.T) {
	repo := newStubRepo()
	repo.mappings["plan-starter"] = "starter"
	repo.users[4] = &models.User{Email: "poet@example.com"}
	repo.subs["pre-2"] = &models.BillingSubscription{
		ID: 1, UserID: 4,
		Provider:               models.BillingProviderMercadoPago,
		ProviderSubscriptionID: "pre-2",
		ProviderPlanRef:        "plan-starter",
		InternalPlan:           "starter",
		Status:                 models.BillingStatusPending,
	}
	provider := &stubProvider{preapprovals: map[string]*Preapproval{
		"pre-2": {ID: "pre-2", Status: "approved", PreapprovalPlanID: "plan-starter", LastModified: fixedTime()},
	}}
	notifier := &recordingNotifier{}
	svc := newTestService(repo, provider).WithNotifier(notifier)

	for i := 0; i < 3; i++ {
		out, err := svc.HandleNotification(context.Background(), subscriptionNotification("pre-2"))
		if err != nil {
			t.Fatalf("delivery %d returned error: %v", i, err)
		}
		if !out.Success {
			t.Fatalf("delivery %d not acknowledged: %+v", i, out)
		}
	}
	if got := repo.subs["pre-2"].Status; got != models.BillingStatusActive {
		t.Errorf("status = %s, want active", got)
	}
	if got := repo.settings[4].Plan; got != "starter" {
		t.Errorf("plan = %s, want starter", got)
	}
	if len(notifier.calls) != 1 {
		t.Errorf("notifier fired %d times, want once", len(notifier.calls))
	}
}

func TestHandleNotificationDiscardsStaleUpdate(t *testing.T) {
	applied := fixedTime()
	repo := newStubRepo()
	repo.subs["pre-3"] = &models.BillingSubscription{
		ID: 1, UserID: 2,
		Provider:               models.BillingProviderMercadoPago,
		ProviderSubscriptionID: "pre-3",
		InternalPlan:           "pro",
		Status:                 models.BillingStatusActive,
		ProviderUpdatedAt:      &applied,
	}
	provider := &stubProvider{preapprovals: map[string]*Preapproval{
		"pre-3": {ID: "pre-3", Status: "cancelled", LastModified: applied.Add(-time.Hour)},
	}}
	svc := newTestService(repo, provider)

	out, err := svc.HandleNotification(context.Background(), subscriptionNotification("pre-3"))
	if err != nil {
		t.Fatalf("HandleNotification returned error: %v", err)
	}
	if out.Kind != OutcomeStale || !out.Success {
		t.Fatalf("expected stale outcome, got %+v", out)
	}
	if got := repo.subs["pre-3"].Status; got != models.BillingStatusActive {
		t.Errorf("stale update changed status to %s", got)
	}
}

func TestHandleNotificationTerminalStateNeverRegresses(t *testing.T) {
	repo := newStubRepo()
	repo.subs["pre-4"] = &models.BillingSubscription{
		ID: 1, UserID: 9,
		Provider:               models.BillingProviderMercadoPago,
		ProviderSubscriptionID: "pre-4",
		InternalPlan:           "pro",
		Status:                 models.BillingStatusCancelled,
	}
	provider := &stubProvider{preapprovals: map[string]*Preapproval{
		"pre-4": {ID: "pre-4", Status: "authorized", LastModified: fixedTime()},
	}}
	svc := newTestService(repo, provider)

	out, err := svc.HandleNotification(context.Background(), subscriptionNotification("pre-4"))
	if err != nil {
		t.Fatalf("HandleNotification returned error: %v", err)
	}
	if !out.Success || out.Kind != OutcomeIgnored {
		t.Fatalf("expected ignored outcome, got %+v", out)
	}
	if got := repo.subs["pre-4"].Status; got != models.BillingStatusCancelled {
		t.Errorf("terminal subscription moved to %s", got)
	}
}

func TestHandleNotificationNonLifecycleStatusIsNoOp(t *testing.T) {
	for _, status := range []string{"pending", "paused", "in_mediation"} {
		repo := newStubRepo()
		repo.subs["pre-5"] = &models.BillingSubscription{
			ID: 1, UserID: 3,
			Provider:               models.BillingProviderMercadoPago,
			ProviderSubscriptionID: "pre-5",
			Status:                 models.BillingStatusActive,
		}
		provider := &stubProvider{preapprovals: map[string]*Preapproval{
			"pre-5": {ID: "pre-5", Status: status, LastModified: fixedTime()},
		}}
		svc := newTestService(repo, provider)

		out, err := svc.HandleNotification(context.Background(), subscriptionNotification("pre-5"))
		if err != nil {
			t.Fatalf("status %s: unexpected error: %v", status, err)
		}
		if !out.Success || out.Kind != OutcomeIgnored {
			t.Errorf("status %s: expected ignored ack, got %+v", status, out)
		}
		if got := repo.subs["pre-5"].Status; got != models.BillingStatusActive {
			t.Errorf("status %s: local status changed to %s", status, got)
		}
	}
}

func TestHandleNotificationUnknownSubscriptionIsAcked(t *testing.T) {
	repo := newStubRepo()
	provider := &stubProvider{preapprovals: map[string]*Preapproval{
		"pre-ghost": {ID: "pre-ghost", Status: "authorized", LastModified: fixedTime()},
	}}
	svc := newTestService(repo, provider)

	out, err := svc.HandleNotification(context.Background(), subscriptionNotification("pre-ghost"))
	if err != nil {
		t.Fatalf("HandleNotification returned error: %v", err)
	}
	if !out.Success || out.Kind != OutcomeUnmatched {
		t.Fatalf("expected unmatched ack, got %+v", out)
	}
}

func TestHandleNotificationAdoptsSubscriptionForLinkedPayer(t *testing.T) {
	repo := newStubRepo()
	repo.mappings["plan-pro"] = "pro"
	repo.accounts[7] = &models.BillingAccount{
		UserID:            7,
		Provider:          models.BillingProviderMercadoPago,
		ProviderAccountID: "payer-42",
	}
	provider := &stubProvider{preapprovals: map[string]*Preapproval{
		"pre-new": {
			ID: "pre-new", Status: "authorized",
			PreapprovalPlanID: "plan-pro",
			PayerID:           "payer-42",
			LastModified:      fixedTime(),
		},
	}}
	svc := newTestService(repo, provider)

	out, err := svc.HandleNotification(context.Background(), subscriptionNotification("pre-new"))
	if err != nil {
		t.Fatalf("HandleNotification returned error: %v", err)
	}
	if !out.Success || out.Kind != OutcomeApplied {
		t.Fatalf("expected applied outcome, got %+v", out)
	}
	sub := repo.subs["pre-new"]
	if sub == nil {
		t.Fatal("adopted subscription was not persisted")
	}
	if sub.UserID != 7 {
		t.Errorf("adopted subscription user = %d, want 7", sub.UserID)
	}
	if sub.Status != models.BillingStatusActive {
		t.Errorf("status = %s, want active", sub.Status)
	}
	if got := repo.settings[7].Plan; got != "pro" {
		t.Errorf("settings plan = %s, want pro", got)
	}
}

func TestHandleNotificationPaymentResolvesSubscription(t *testing.T) {
	repo := newStubRepo()
	repo.mappings["plan-pro"] = "pro"
	repo.subs["pre-6"] = &models.BillingSubscription{
		ID: 1, UserID: 11,
		Provider:               models.BillingProviderMercadoPago,
		ProviderSubscriptionID: "pre-6",
		ProviderPlanRef:        "plan-pro",
		InternalPlan:           "pro",
		Status:                 models.BillingStatusPending,
	}
	provider := &stubProvider{
		payments: map[string]*Payment{
			"pay-100": {ID: "pay-100", Status: "approved", PreapprovalID: "pre-6"},
		},
		preapprovals: map[string]*Preapproval{
			"pre-6": {ID: "pre-6", Status: "authorized", PreapprovalPlanID: "plan-pro", LastModified: fixedTime()},
		},
	}
	svc := newTestService(repo, provider)

	var n Notification
	n.Type = NotificationTypePayment
	n.Data.ID = "pay-100"

	out, err := svc.HandleNotification(context.Background(), n)
	if err != nil {
		t.Fatalf("HandleNotification returned error: %v", err)
	}
	if out.Kind != OutcomeApplied {
		t.Fatalf("expected applied outcome, got %+v", out)
	}
	if got := repo.subs["pre-6"].Status; got != models.BillingStatusActive {
		t.Errorf("status = %s, want active", got)
	}
}

func TestHandleNotificationOneOffPaymentIsAcked(t *testing.T) {
	provider := &stubProvider{payments: map[string]*Payment{
		"pay-200": {ID: "pay-200", Status: "approved"},
	}}
	svc := newTestService(newStubRepo(), provider)

	var n Notification
	n.Type = NotificationTypePayment
	n.Data.ID = "pay-200"

	out, err := svc.HandleNotification(context.Background(), n)
	if err != nil {
		t.Fatalf("HandleNotification returned error: %v", err)
	}
	if !out.Success || out.Kind != OutcomeUnmatched {
		t.Fatalf("expected unmatched ack, got %+v", out)
	}
	if provider.preapprovalCalls != 0 {
		t.Errorf("preapproval fetched %d times for one-off payment", provider.preapprovalCalls)
	}
}

func TestHandleNotificationFetchFailureIsRetryable(t *testing.T) {
	provider := &stubProvider{failFetch: true}
	svc := newTestService(newStubRepo(), provider)

	if _, err := svc.HandleNotification(context.Background(), subscriptionNotification("pre-7")); err == nil {
		t.Fatal("expected error when the provider fetch fails")
	}
}

func TestHandleNotificationMissingDataID(t *testing.T) {
	svc := newTestService(newStubRepo(), &stubProvider{})

	out, err := svc.HandleNotification(context.Background(), subscriptionNotification("  "))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Success {
		t.Fatalf("malformed notification acknowledged: %+v", out)
	}
}

func TestHandleNotificationUnknownTypeIsAcked(t *testing.T) {
	svc := newTestService(newStubRepo(), &stubProvider{})

	var n Notification
	n.Type = "plan"
	n.Data.ID = "x-1"

	out, err := svc.HandleNotification(context.Background(), n)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Success || out.Kind != OutcomeIgnored {
		t.Fatalf("expected ignored ack, got %+v", out)
	}
}

func TestReconcileUserPlanBestPlanWins(t *testing.T) {
	repo := newStubRepo()
	repo.subs["a"] = &models.BillingSubscription{ID: 1, UserID: 5, ProviderSubscriptionID: "a", InternalPlan: "starter", Status: models.BillingStatusActive}
	repo.subs["b"] = &models.BillingSubscription{ID: 2, UserID: 5, ProviderSubscriptionID: "b", InternalPlan: "pro", Status: models.BillingStatusActive}
	repo.subs["c"] = &models.BillingSubscription{ID: 3, UserID: 5, ProviderSubscriptionID: "c", InternalPlan: "pro", Status: models.BillingStatusCancelled}
	svc := newTestService(repo, &stubProvider{})

	plan, err := svc.ReconcileUserPlan(5)
	if err != nil {
		t.Fatalf("ReconcileUserPlan returned error: %v", err)
	}
	if plan != "pro" {
		t.Errorf("plan = %s, want pro", plan)
	}
}

func TestReconcileUserPlanFallsBackToFree(t *testing.T) {
	repo := newStubRepo()
	repo.settings[6] = &models.UserSettings{UserID: 6, Plan: "pro"}
	repo.subs["d"] = &models.BillingSubscription{ID: 1, UserID: 6, ProviderSubscriptionID: "d", InternalPlan: "pro", Status: models.BillingStatusExpired}
	svc := newTestService(repo, &stubProvider{})

	plan, err := svc.ReconcileUserPlan(6)
	if err != nil {
		t.Fatalf("ReconcileUserPlan returned error: %v", err)
	}
	if plan != "free" {
		t.Errorf("plan = %s, want free", plan)
	}
	if repo.settings[6].Plan != "free" {
		t.Errorf("settings plan = %s, want free", repo.settings[6].Plan)
	}
}

func TestRecordWebhookEventDeduplicates(t *testing.T) {
	svc := newTestService(newStubRepo(), &stubProvider{})
	in := WebhookEventInput{
		Provider:        models.BillingProviderMercadoPago,
		ProviderEventID: "evt-1",
		EventType:       "subscription",
		PayloadJSON:     `{"type":"subscription"}`,
		SignatureValid:  true,
	}

	_, created, err := svc.RecordWebhookEvent(in)
	if err != nil || !created {
		t.Fatalf("first delivery: created=%v err=%v", created, err)
	}
	_, created, err = svc.RecordWebhookEvent(in)
	if err != nil {
		t.Fatalf("second delivery errored: %v", err)
	}
	if created {
		t.Error("duplicate event id was not deduplicated")
	}
}

func TestRecordWebhookEventWithoutIDKeysByPayloadHash(t *testing.T) {
	svc := newTestService(newStubRepo(), &stubProvider{})
	first := WebhookEventInput{
		Provider:    models.BillingProviderMercadoPago,
		EventType:   "subscription",
		PayloadJSON: `{"type":"subscription","data":{"id":"pre-a"}}`,
	}
	second := WebhookEventInput{
		Provider:    models.BillingProviderMercadoPago,
		EventType:   "subscription",
		PayloadJSON: `{"type":"subscription","data":{"id":"pre-b"}}`,
	}

	evt, created, err := svc.RecordWebhookEvent(first)
	if err != nil || !created {
		t.Fatalf("first delivery: created=%v err=%v", created, err)
	}
	if !strings.HasPrefix(evt.ProviderEventID, "hash:") {
		t.Errorf("event id = %q, want payload hash fallback", evt.ProviderEventID)
	}
	if evt.Processed() {
		t.Error("fresh ledger entry already marked processed")
	}

	_, created, err = svc.RecordWebhookEvent(second)
	if err != nil || !created {
		t.Fatalf("distinct delivery treated as duplicate: created=%v err=%v", created, err)
	}

	_, created, err = svc.RecordWebhookEvent(first)
	if err != nil {
		t.Fatalf("redelivery errored: %v", err)
	}
	if created {
		t.Error("identical payload was not deduplicated")
	}
}
