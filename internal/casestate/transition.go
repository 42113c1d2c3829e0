package casestate

import (
	"fmt"

	"github.com/lexdesk/portal-backend/pkg/apperr"
	"github.com/lexdesk/portal-backend/pkg/models"
)

// TransitionPolicy decides whether a case may move between statuses.
type TransitionPolicy interface {
	Check(from, to models.CaseStatus) error
}

// FreeForm accepts any known status.
type FreeForm struct{}

func (FreeForm) Check(_, to models.CaseStatus) error {
	if !to.Valid() {
		return apperr.Field("status", "Value is not allowed")
	}
	return nil
}

// ForwardOnly allows the pipeline to advance but never go back.
type ForwardOnly struct{}

var forward = map[models.CaseStatus][]models.CaseStatus{
	models.CasePending:      {models.CaseInProgress},
	models.CaseInProgress:   {models.CaseWaitingCourt},
	models.CaseWaitingCourt: {models.CaseCompleted, models.CaseArchived},
	models.CaseCompleted:    {models.CaseArchived},
}

func (ForwardOnly) Check(from, to models.CaseStatus) error {
	if !to.Valid() {
		return apperr.Field("status", "Value is not allowed")
	}
	if from == to {
		return nil
	}
	for _, next := range forward[from] {
		if next == to {
			return nil
		}
	}
	return apperr.Field("status", fmt.Sprintf("Cannot move case from %s to %s", from, to))
}

// PolicyByName resolves the configured policy name.
func PolicyByName(name string) (TransitionPolicy, error) {
	switch name {
	case "", "free":
		return FreeForm{}, nil
	case "forward":
		return ForwardOnly{}, nil
	}
	return nil, fmt.Errorf("unknown case status policy %q", name)
}
