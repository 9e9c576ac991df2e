package billing

import (
	"testing"

	"github.com/tmeissner/inkwell/app/models"
)

func TestTargetStatus(t *testing.T) {
	tests := []struct {
		provider string
		want     string
		ok       bool
	}{
		{"authorized", models.BillingStatusActive, true},
		{"approved", models.BillingStatusActive, true},
		{"AUTHORIZED", models.BillingStatusActive, true},
		{" cancelled ", models.BillingStatusCancelled, true},
		{"expired", models.BillingStatusExpired, true},
		{"pending", "", false},
		{"paused", "", false},
		{"", "", false},
		{"something_new", "", false},
	}

	for _, tc := range tests {
		got, ok := TargetStatus(tc.provider)
		if got != tc.want || ok != tc.ok {
			t.Errorf("TargetStatus(%q) = (%q, %v), want (%q, %v)", tc.provider, got, ok, tc.want, tc.ok)
		}
	}
}
