package paymentgw

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/lexdesk/portal-backend/pkg/models"
)

// Mock settles every charge except the decline tokens below.
type Mock struct{}

const (
	MockDeclineToken = "tok_fail"
	MockDeclineCard  = "card_declined"
)

func (Mock) Name() string { return "mock" }

func (Mock) Charge(_ context.Context, req ChargeRequest) (ChargeResult, error) {
	res := ChargeResult{ExternalID: "mock_" + uuid.NewString()}
	if req.Instrument == MockDeclineToken || req.Instrument == MockDeclineCard {
		res.Status = models.PayFailed
		res.Message = "card declined"
	} else {
		res.Success = true
		res.Status = models.PayCompleted
		res.Message = "approved"
	}
	raw, _ := json.Marshal(map[string]any{
		"id": res.ExternalID, "reference": req.Reference, "amount": req.AmountCents,
		"currency": req.Currency, "status": res.Status,
	})
	res.Raw = string(raw)
	return res, nil
}
