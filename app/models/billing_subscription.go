package models

import "time"

const (
	BillingStatusPending   = "pending"
	BillingStatusActive    = "active"
	BillingStatusCancelled = "cancelled"
	BillingStatusExpired   = "expired"
)

// BillingSubscription mirrors a provider subscription state and maps it to an
// internal plan used by entitlements. Lifecycle: pending -> active ->
// {cancelled, expired}; the terminal states never transition again, a
// resubscription creates a fresh record under a new provider id.
type BillingSubscription struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	UserID                 uint       `gorm:"not null;index" json:"user_id"`
	Provider               string     `gorm:"type:varchar(20);not null;index:idx_billing_subscriptions_provider_status,priority:1;index:ux_billing_subscriptions_provider_subid,unique,priority:1" json:"provider"`
	ProviderSubscriptionID string     `gorm:"type:varchar(191);not null;index:ux_billing_subscriptions_provider_subid,unique,priority:2" json:"provider_subscription_id"`
	ProviderPlanRef        string     `gorm:"type:varchar(191);not null;index" json:"provider_plan_ref"`
	InternalPlan           string     `gorm:"type:varchar(50);not null;default:'free';index" json:"internal_plan"`
	Status                 string     `gorm:"type:varchar(32);not null;default:'pending';index:idx_billing_subscriptions_provider_status,priority:2" json:"status"`
	StartedAt              *time.Time `gorm:"type:timestamp;default:null" json:"started_at,omitempty"`
	ExpiresAt              *time.Time `gorm:"type:timestamp;default:null" json:"expires_at,omitempty"`
	ProviderUpdatedAt      *time.Time `gorm:"type:timestamp;default:null" json:"provider_updated_at,omitempty"`
	RawPayloadJSON         string     `gorm:"type:longtext" json:"raw_payload_json"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the subscription reached a final state.
func (s *BillingSubscription) IsTerminal() bool {
	return s.Status == BillingStatusCancelled || s.Status == BillingStatusExpired
}
