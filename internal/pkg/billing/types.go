package billing

import (
	"context"
	"time"
)

// Notification is the provider-delivered webhook body. It is untrusted: it
// announces that something changed, never what the new state is. Amounts,
// statuses and identities are always re-fetched from the provider API.
type Notification struct {
	Type string `json:"type"` // "payment" or "subscription"
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

const (
	NotificationTypePayment      = "payment"
	NotificationTypeSubscription = "subscription"
)

// Preapproval is the canonical subscription state fetched from the provider.
type Preapproval struct {
	ID                string     `json:"id"`
	Status            string     `json:"status"`
	PreapprovalPlanID string     `json:"preapproval_plan_id"`
	PayerID           string     `json:"payer_id"`
	PayerEmail        string     `json:"payer_email"`
	Reason            string     `json:"reason"`
	DateCreated       time.Time  `json:"date_created"`
	LastModified      time.Time  `json:"last_modified"`
	NextPaymentDate   *time.Time `json:"next_payment_date,omitempty"`
	EndDate           *time.Time `json:"end_date,omitempty"`
	InitPoint         string     `json:"init_point"`
}

// Payment is the canonical payment state fetched from the provider. For
// subscription charges the preapproval id links back to the subscription.
type Payment struct {
	ID                string    `json:"id"`
	Status            string    `json:"status"`
	PreapprovalID     string    `json:"preapproval_id"`
	ExternalReference string    `json:"external_reference"`
	PayerID           string    `json:"payer_id"`
	TransactionAmount float64   `json:"transaction_amount"`
	DateLastUpdated   time.Time `json:"date_last_updated"`
}

// ProviderClient is the canonical-state source behind the reconciler.
// Satisfied by MercadoPagoClient; tests substitute a stub.
type ProviderClient interface {
	GetPayment(ctx context.Context, id string) (*Payment, error)
	GetPreapproval(ctx context.Context, id string) (*Preapproval, error)
}

// CreatePreapprovalInput describes a new provider subscription checkout.
type CreatePreapprovalInput struct {
	PlanRef           string
	PayerEmail        string
	ExternalReference string
	Reason            string
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}

// Outcome reports the terminal result of handling one notification. Success
// means the provider should stop redelivering; retryable failures are
// signalled through the error return instead.
type Outcome struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
	Kind    string `json:"-"`
}

// Outcome kinds, used for logging and metrics labels.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeUnmatched = "unmatched"
	OutcomeIgnored   = "ignored"
	OutcomeStale     = "stale"
)
