package paymentgw

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/lexdesk/portal-backend/pkg/models"
	"github.com/pkg/errors"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
)

// Stripe confirms a PaymentIntent synchronously with the given payment method.
type Stripe struct {
	client paymentintent.Client
}

// NewStripe builds a processor; a nil backend uses the public Stripe API.
func NewStripe(key string, backend stripe.Backend) *Stripe {
	if backend == nil {
		backend = stripe.GetBackend(stripe.APIBackend)
	}
	return &Stripe{client: paymentintent.Client{B: backend, Key: key}}
}

func (s *Stripe) Name() string { return "stripe" }

func (s *Stripe) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		Description:   stripe.String(req.Description),
		PaymentMethod: stripe.String(req.Instrument),
		Confirm:       stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	if req.PayerEmail != "" {
		params.ReceiptEmail = stripe.String(req.PayerEmail)
	}
	params.Context = ctx
	key := req.IdempotencyKey
	if key == "" {
		key = req.Reference
	}
	params.SetIdempotencyKey(key)
	params.AddMetadata("reference", req.Reference)

	pi, err := s.client.New(params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.Type == stripe.ErrorTypeCard {
			raw, _ := json.Marshal(se)
			return ChargeResult{Status: models.PayFailed, Message: se.Msg, Raw: string(raw)}, nil
		}
		return ChargeResult{}, errors.Wrap(err, "stripe payment intent")
	}

	raw, _ := json.Marshal(pi)
	res := ChargeResult{ExternalID: pi.ID, Raw: string(raw), Message: string(pi.Status)}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		res.Success = true
		res.Status = models.PayCompleted
	case stripe.PaymentIntentStatusCanceled:
		res.Status = models.PayFailed
	default:
		res.Status = models.PayPending
	}
	return res, nil
}
