package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tmeissner/inkwell/internal/pkg/env"
)

const defaultMercadoPagoAPIBaseURL = "https://api.mercadopago.com"

// MercadoPagoClient talks to the payment provider's REST API. All canonical
// state the reconciler acts on comes through this client; webhook payload
// fields are never used directly.
type MercadoPagoClient struct {
	AccessToken   string
	APIBaseURL    string
	WebhookSecret string

	HTTPClient *http.Client
}

func NewMercadoPagoClientFromEnv() *MercadoPagoClient {
	return &MercadoPagoClient{
		AccessToken:   strings.TrimSpace(env.GetEnv("MP_ACCESS_TOKEN", "")),
		APIBaseURL:    strings.TrimRight(env.GetEnv("MP_API_BASE_URL", defaultMercadoPagoAPIBaseURL), "/"),
		WebhookSecret: strings.TrimSpace(env.GetEnv("MP_WEBHOOK_SECRET", "")),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// GetPayment fetches the canonical payment state.
func (c *MercadoPagoClient) GetPayment(ctx context.Context, id string) (*Payment, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("payment id is required")
	}

	body, err := c.get(ctx, "/v1/payments/"+strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}

	type rawPayment struct {
		ID                json.Number `json:"id"`
		Status            string      `json:"status"`
		ExternalReference string      `json:"external_reference"`
		TransactionAmount float64     `json:"transaction_amount"`
		DateLastUpdated   time.Time   `json:"date_last_updated"`
		Metadata          struct {
			PreapprovalID string `json:"preapproval_id"`
		} `json:"metadata"`
		PointOfInteraction struct {
			TransactionData struct {
				SubscriptionID string `json:"subscription_id"`
			} `json:"transaction_data"`
		} `json:"point_of_interaction"`
		Payer struct {
			ID json.Number `json:"id"`
		} `json:"payer"`
	}

	var raw rawPayment
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	if raw.ID.String() == "" {
		return nil, errors.New("payment response missing id")
	}

	preapprovalID := strings.TrimSpace(raw.Metadata.PreapprovalID)
	if preapprovalID == "" {
		preapprovalID = strings.TrimSpace(raw.PointOfInteraction.TransactionData.SubscriptionID)
	}

	return &Payment{
		ID:                raw.ID.String(),
		Status:            strings.TrimSpace(raw.Status),
		PreapprovalID:     preapprovalID,
		ExternalReference: strings.TrimSpace(raw.ExternalReference),
		PayerID:           raw.Payer.ID.String(),
		TransactionAmount: raw.TransactionAmount,
		DateLastUpdated:   raw.DateLastUpdated,
	}, nil
}

// GetPreapproval fetches the canonical subscription state.
func (c *MercadoPagoClient) GetPreapproval(ctx context.Context, id string) (*Preapproval, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("preapproval id is required")
	}

	body, err := c.get(ctx, "/preapproval/"+strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}

	var out Preapproval
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.ID) == "" {
		return nil, errors.New("preapproval response missing id")
	}
	out.Status = strings.ToLower(strings.TrimSpace(out.Status))
	return &out, nil
}

// CreatePreapproval starts a new provider subscription and returns the
// created entity including the hosted checkout init point.
func (c *MercadoPagoClient) CreatePreapproval(ctx context.Context, in CreatePreapprovalInput) (*Preapproval, error) {
	if strings.TrimSpace(c.AccessToken) == "" {
		return nil, errors.New("MP_ACCESS_TOKEN is not configured")
	}
	if strings.TrimSpace(in.PlanRef) == "" {
		return nil, errors.New("plan ref is required")
	}
	if strings.TrimSpace(in.PayerEmail) == "" {
		return nil, errors.New("payer email is required")
	}

	payload, err := json.Marshal(map[string]string{
		"preapproval_plan_id": strings.TrimSpace(in.PlanRef),
		"payer_email":         strings.TrimSpace(in.PayerEmail),
		"external_reference":  strings.TrimSpace(in.ExternalReference),
		"reason":              strings.TrimSpace(in.Reason),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+"/preapproval", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("preapproval create failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out Preapproval
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.ID) == "" {
		return nil, errors.New("preapproval create response missing id")
	}
	out.Status = strings.ToLower(strings.TrimSpace(out.Status))
	return &out, nil
}

func (c *MercadoPagoClient) get(ctx context.Context, path string) ([]byte, error) {
	if strings.TrimSpace(c.AccessToken) == "" {
		return nil, errors.New("MP_ACCESS_TOKEN is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIBaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider request %s failed: status=%d body=%s", path, resp.StatusCode, string(body))
	}
	return body, nil
}
