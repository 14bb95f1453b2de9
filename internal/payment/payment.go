// Package payment abstracts the payment processor. The real SDK stays
// outside the repo; everything downstream consumes this capability.
package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// CheckoutSession is what the storefront needs to send a buyer to the
// processor's hosted checkout.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type CheckoutParams struct {
	PriceID        string
	Tier           string
	Email          string
	GitHubUsername string
	SuccessURL     string
	CancelURL      string
}

// Gateway is the opaque payment-processor capability.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)
	// SessionPaymentStatus reports whether a checkout session has been paid
	// and the payment intent behind it.
	SessionPaymentStatus(ctx context.Context, sessionID string) (paid bool, paymentIntentID string, err error)
}

// AmountForTier returns the list price in minor currency units.
func AmountForTier(tier string) int64 {
	switch tier {
	case "basic":
		return 4900
	case "pro":
		return 14900
	case "enterprise":
		return 49900
	}
	return 0
}

// DevGateway is the development/test implementation: every session it
// creates is immediately payable and every status check reports paid.
type DevGateway struct {
	BaseURL string
}

func (g *DevGateway) CreateCheckoutSession(_ context.Context, params CheckoutParams) (*CheckoutSession, error) {
	if params.PriceID == "" {
		return nil, fmt.Errorf("missing price for tier %s", params.Tier)
	}
	id := "cs_dev_" + uuid.NewString()
	return &CheckoutSession{
		ID:  id,
		URL: g.BaseURL + "/checkout/dev?session_id=" + id,
	}, nil
}

func (g *DevGateway) SessionPaymentStatus(_ context.Context, sessionID string) (bool, string, error) {
	if sessionID == "" {
		return false, "", fmt.Errorf("missing session id")
	}
	return true, "pi_dev_" + uuid.NewString(), nil
}
