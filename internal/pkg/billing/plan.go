package billing

import (
	"strings"

	"github.com/tmeissner/inkwell/app/models"
)

// TargetStatus maps a provider preapproval status to the local subscription
// status the record should move to. The second return is false when the
// status carries no lifecycle meaning for us and must be ignored.
func TargetStatus(providerStatus string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "authorized", "approved":
		return models.BillingStatusActive, true
	case "cancelled":
		return models.BillingStatusCancelled, true
	case "expired":
		return models.BillingStatusExpired, true
	default:
		// pending, paused and anything the provider adds later.
		return "", false
	}
}

// isEntitlingStatus reports whether a local subscription status grants access
// to its plan.
func isEntitlingStatus(status string) bool {
	return status == models.BillingStatusActive
}
