package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Gateway is an HTTP client for the hosted payment provider. It creates
// checkout preferences and re-fetches payments so that webhook notifications
// are never trusted on their own.
type Gateway struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
}

func NewGateway(baseURL, accessToken string) *Gateway {
	return &Gateway{
		baseURL:     baseURL,
		accessToken: accessToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// PreferenceItem is one line item of a checkout preference.
type PreferenceItem struct {
	Title     string  `json:"title"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// PreferenceRequest is the payload for creating a checkout preference.
// ExternalReference carries the owner identity through the gateway and back.
type PreferenceRequest struct {
	Items             []PreferenceItem `json:"items"`
	ExternalReference string           `json:"external_reference"`
	BackURLs          BackURLs         `json:"back_urls,omitempty"`
	AutoReturn        string           `json:"auto_return,omitempty"`
}

type BackURLs struct {
	Success string `json:"success,omitempty"`
	Failure string `json:"failure,omitempty"`
	Pending string `json:"pending,omitempty"`
}

// Preference is the provider's response to a created checkout preference.
type Preference struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

// Payment is the provider's authoritative record of a payment.
type Payment struct {
	ID                int64  `json:"id"`
	Status            string `json:"status"`
	ExternalReference string `json:"external_reference"`
}

// PaymentApproved is the provider status that grants entitlement.
const PaymentApproved = "approved"

// CreatePreference registers a checkout preference and returns the hosted
// checkout URL alongside the preference id.
func (g *Gateway) CreatePreference(ctx context.Context, pref PreferenceRequest) (*Preference, error) {
	body, err := json.Marshal(pref)
	if err != nil {
		return nil, fmt.Errorf("marshal preference: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/checkout/preferences", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create preference request: %w", err)
	}
	g.setHeaders(req)

	respBody, err := g.do(req)
	if err != nil {
		return nil, fmt.Errorf("create preference: %w", err)
	}

	var out Preference
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decode preference response: %w", err)
	}
	return &out, nil
}

// GetPayment fetches a payment by id. This is the verification step: the
// returned status and external_reference come from the provider, not from
// whoever called the webhook.
func (g *Gateway) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/v1/payments/"+paymentID, nil)
	if err != nil {
		return nil, fmt.Errorf("create payment request: %w", err)
	}
	g.setHeaders(req)

	respBody, err := g.do(req)
	if err != nil {
		return nil, fmt.Errorf("get payment %s: %w", paymentID, err)
	}

	var out Payment
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decode payment response: %w", err)
	}
	return &out, nil
}

func (g *Gateway) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.accessToken)
}

func (g *Gateway) do(req *http.Request) ([]byte, error) {
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, truncate(body, 200))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
