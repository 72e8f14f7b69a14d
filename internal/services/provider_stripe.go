// internal/services/provider_stripe.go
package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"

	"github.com/farmlink/farmlink-backend/internal/config"
	"github.com/farmlink/farmlink-backend/internal/models"
)

// StripeProvider collects payments through Stripe payment intents. The
// intent ID doubles as the provider reference webhooks report against.
type StripeProvider struct {
	currency string
}

func NewStripeProvider(cfg *config.Config) *StripeProvider {
	stripe.Key = cfg.Payment.StripeSecretKey

	return &StripeProvider{
		currency: strings.ToLower(cfg.Payment.Currency),
	}
}

func (p *StripeProvider) Name() string {
	return "stripe"
}

func (p *StripeProvider) Collect(ctx context.Context, order *models.Order) (string, error) {
	// Stripe amounts are in the smallest currency unit.
	amountInCents := int64(order.TotalPrice * 100)

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountInCents),
		Currency: stripe.String(p.currency),
	}
	params.Context = ctx
	params.AddMetadata("order_id", order.ID.String())
	params.AddMetadata("buyer_id", order.BuyerID.String())

	pi, err := paymentintent.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create payment intent: %w", err)
	}

	return pi.ID, nil
}
