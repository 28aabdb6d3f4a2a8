package billing

import (
	"context"
	"time"
)

// ProviderSubscription is the authoritative subscription object as fetched
// from the billing provider. Webhook payloads may be partial; sync always
// works from this shape.
type ProviderSubscription struct {
	ID                string
	CustomerID        string
	PriceID           string
	Status            string
	CurrentPeriodEnd  time.Time
	CancelAtPeriodEnd bool
	Metadata          map[string]string
}

// SubscriptionFetcher re-fetches current truth from the provider by
// subscription id. Sync never trusts webhook payload fields for
// created/updated events, which makes repeated and out-of-order delivery
// idempotent (last fetch wins is current truth wins).
type SubscriptionFetcher interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)
}

// CheckoutSession is the provider-hosted checkout the user is redirected to.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}
