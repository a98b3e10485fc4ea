package payments

import (
	"context"
	"math"
	"os"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// Processor settles booking fares: a hold when the driver accepts, a
// capture when the ride completes, a cancel when it doesn't.
type Processor interface {
	Hold(ctx context.Context, bookingID string, fare float64) (holdID string, err error)
	Capture(ctx context.Context, holdID string) error
	Cancel(ctx context.Context, holdID string) error
}

// StripeProcessor implements Processor over PaymentIntent
// hold/capture/cancel flows.
type StripeProcessor struct {
	currency string
}

// NewStripeProcessor initializes the stripe client with the
// STRIPE_API_KEY env var.
func NewStripeProcessor(currency string) *StripeProcessor {
	stripe.Key = os.Getenv("STRIPE_API_KEY")
	if currency == "" {
		currency = "pkr"
	}
	return &StripeProcessor{currency: currency}
}

// Hold creates a PaymentIntent with capture_method=manual for the fare,
// in minor units.
func (s *StripeProcessor) Hold(ctx context.Context, bookingID string, fare float64) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(int64(math.Round(fare * 100))),
		Currency: stripe.String(s.currency),
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	params.AddMetadata("booking_id", bookingID)
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent.
func (s *StripeProcessor) Capture(ctx context.Context, holdID string) error {
	_, err := paymentintent.Capture(holdID, nil)
	return err
}

// Cancel releases the hold on a PaymentIntent.
func (s *StripeProcessor) Cancel(ctx context.Context, holdID string) error {
	_, err := paymentintent.Cancel(holdID, nil)
	return err
}
