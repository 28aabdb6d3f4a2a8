package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/CareerForgeApp/CareerForge/internal/pkg/env"
)

const defaultStripeAPIBaseURL = "https://api.stripe.com/v1"

// StripeClient talks to the Stripe REST API with the secret key. Only the
// calls the sync and checkout paths need are implemented.
type StripeClient struct {
	SecretKey  string
	APIBaseURL string

	HTTPClient *http.Client
}

func NewStripeClientFromEnv() *StripeClient {
	return &StripeClient{
		SecretKey:  strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("STRIPE_API_BASE_URL", defaultStripeAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// GetSubscription fetches the authoritative subscription object by id.
func (c *StripeClient) GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	id := strings.TrimSpace(subscriptionID)
	if id == "" {
		return nil, errors.New("subscription id is required")
	}

	body, err := c.doRequest(ctx, http.MethodGet, "/subscriptions/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}

	var raw struct {
		ID                string            `json:"id"`
		Customer          string            `json:"customer"`
		Status            string            `json:"status"`
		CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
		CurrentPeriodEnd  int64             `json:"current_period_end"`
		Metadata          map[string]string `json:"metadata"`
		Items             struct {
			Data []struct {
				CurrentPeriodEnd int64 `json:"current_period_end"`
				Price            struct {
					ID string `json:"id"`
				} `json:"price"`
			} `json:"data"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw.ID) == "" {
		return nil, errors.New("stripe subscription response missing id")
	}

	priceID := ""
	periodEnd := raw.CurrentPeriodEnd
	if len(raw.Items.Data) > 0 {
		priceID = strings.TrimSpace(raw.Items.Data[0].Price.ID)
		// Newer API versions carry the period end on the item.
		if periodEnd == 0 {
			periodEnd = raw.Items.Data[0].CurrentPeriodEnd
		}
	}

	out := &ProviderSubscription{
		ID:                raw.ID,
		CustomerID:        strings.TrimSpace(raw.Customer),
		PriceID:           priceID,
		Status:            strings.ToLower(strings.TrimSpace(raw.Status)),
		CancelAtPeriodEnd: raw.CancelAtPeriodEnd,
		Metadata:          raw.Metadata,
	}
	if periodEnd > 0 {
		out.CurrentPeriodEnd = time.Unix(periodEnd, 0)
	}
	return out, nil
}

// CreateCheckoutSession opens a provider-hosted checkout for a price. The
// local user id travels in client_reference_id and metadata so the
// checkout-completed and subscription webhooks can map back to the user.
func (c *StripeClient) CreateCheckoutSession(ctx context.Context, userID uint, customerID, priceID, successURL, cancelURL string) (*CheckoutSession, error) {
	if strings.TrimSpace(priceID) == "" {
		return nil, errors.New("price id is required")
	}

	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("line_items[0][price]", strings.TrimSpace(priceID))
	form.Set("line_items[0][quantity]", "1")
	form.Set("client_reference_id", fmt.Sprintf("%d", userID))
	form.Set("metadata[userId]", fmt.Sprintf("%d", userID))
	form.Set("subscription_data[metadata][userId]", fmt.Sprintf("%d", userID))
	form.Set("success_url", successURL)
	form.Set("cancel_url", cancelURL)
	if cid := strings.TrimSpace(customerID); cid != "" && !strings.HasPrefix(cid, "cus_local_") {
		form.Set("customer", cid)
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}

	var out CheckoutSession
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.URL) == "" {
		return nil, errors.New("stripe checkout session response missing url")
	}
	return &out, nil
}

func (c *StripeClient) doRequest(ctx context.Context, method, path string, payload io.Reader) ([]byte, error) {
	if strings.TrimSpace(c.SecretKey) == "" {
		return nil, errors.New("STRIPE_SECRET_KEY is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.APIBaseURL+path, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("stripe request %s %s failed: status=%d body=%s", method, path, resp.StatusCode, string(body))
	}
	return body, nil
}
