package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
)

func signManifest(t *testing.T, dataID, requestID, ts, secret string) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "id:%s;request-id:%s;ts:%s;", dataID, requestID, ts)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyMercadoPagoWebhookSignature(t *testing.T) {
	const secret = "whsec-test"
	valid := signManifest(t, "12345", "req-1", "1700000000", secret)

	tests := []struct {
		name      string
		dataID    string
		requestID string
		header    string
		secret    string
		want      bool
	}{
		{"valid", "12345", "req-1", "ts=1700000000,v1=" + valid, secret, true},
		{"valid with spaces", "12345", "req-1", "ts=1700000000, v1=" + valid, secret, true},
		{"uppercase data id is canonicalized", "12345", "req-1", "ts=1700000000,v1=" + signManifest(t, "abcdef", "req-1", "1700000000", secret), secret, false},
		{"wrong secret", "12345", "req-1", "ts=1700000000,v1=" + valid, "other", false},
		{"tampered data id", "99999", "req-1", "ts=1700000000,v1=" + valid, secret, false},
		{"tampered request id", "12345", "req-2", "ts=1700000000,v1=" + valid, secret, false},
		{"tampered timestamp", "12345", "req-1", "ts=1700009999,v1=" + valid, secret, false},
		{"missing v1", "12345", "req-1", "ts=1700000000", secret, false},
		{"missing ts", "12345", "req-1", "v1=" + valid, secret, false},
		{"empty header", "12345", "req-1", "", secret, false},
		{"empty secret", "12345", "req-1", "ts=1700000000,v1=" + valid, "", false},
		{"garbage header", "12345", "req-1", "not-a-signature", secret, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := VerifyMercadoPagoWebhookSignature(tc.dataID, tc.requestID, tc.header, tc.secret)
			if got != tc.want {
				t.Errorf("VerifyMercadoPagoWebhookSignature() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestVerifySignatureLowercasesDataID(t *testing.T) {
	const secret = "whsec-test"
	// Providers deliver alphanumeric ids in mixed case; the manifest always
	// uses the lowercase form.
	sig := signManifest(t, "abc123def", "req-9", "1700000001", secret)
	if !VerifyMercadoPagoWebhookSignature("ABC123DEF", "req-9", "ts=1700000001,v1="+sig, secret) {
		t.Error("mixed-case data id did not verify against lowercase manifest")
	}
}
