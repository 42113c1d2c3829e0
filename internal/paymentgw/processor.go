// Package paymentgw talks to the external card processor.
package paymentgw

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/lexdesk/portal-backend/pkg/models"
)

type ChargeRequest struct {
	Reference   string
	AmountCents int64
	Currency    string
	Description string
	PayerEmail  string
	PayerName   string
	// Instrument is a provider payment-method token (e.g. pm_card_visa).
	Instrument string
	// IdempotencyKey identifies one charge attempt; Reference is used when empty.
	IdempotencyKey string
}

// AttemptKey derives an idempotency key for a charge of the payment as it
// stood at version. Retries after a decline or an edit get a new key, while
// concurrent attempts on the same version share one.
func AttemptKey(reference string, version time.Time) string {
	return reference + ":" + strconv.FormatInt(version.UnixNano(), 10)
}

type ChargeResult struct {
	Success    bool
	ExternalID string
	Status     models.PaymentStatus
	Message    string
	Raw        string
}

// Processor charges a payment instrument. A declined charge is a
// result with Success=false, not an error; errors mean the call failed.
type Processor interface {
	Name() string
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}

// New selects a processor by provider name.
func New(provider, stripeKey string) (Processor, error) {
	switch provider {
	case "", "mock":
		return Mock{}, nil
	case "stripe":
		if stripeKey == "" {
			return nil, fmt.Errorf("stripe provider requires STRIPE_SECRET_KEY")
		}
		return NewStripe(stripeKey, nil), nil
	}
	return nil, fmt.Errorf("unknown payment provider %q", provider)
}
