package models

import "time"

// BillingWebhookEvent is the transport-level delivery ledger for provider
// webhooks. Each row is one received notification; the unique
// (provider, provider_event_id) pair makes redeliveries visible before the
// reconciler runs. Mercado Pago does not always send an envelope id, in
// which case the event id is a "hash:"-prefixed digest of the payload.
//
// EventType carries the provider's notification type verbatim; for Mercado
// Pago that is "payment" or "subscription".
type BillingWebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Provider        string     `gorm:"type:varchar(20);not null;index:ux_billing_webhook_events_provider_event,unique,priority:1;index" json:"provider"`
	ProviderEventID string     `gorm:"type:varchar(191);not null;default:'';index:ux_billing_webhook_events_provider_event,unique,priority:2" json:"provider_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadJSON     string     `gorm:"type:text;not null" json:"payload_json"`
	SignatureValid  bool       `gorm:"default:false;index" json:"signature_valid"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Processed reports whether the delivery reached a terminal result.
func (e *BillingWebhookEvent) Processed() bool {
	return e.ProcessedAt != nil
}
