// Package casestate holds the case stage pipeline and status transition rules.
package casestate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/lexdesk/portal-backend/pkg/apperr"
	"github.com/lexdesk/portal-backend/pkg/models"
)

// Stage is the wire shape of one pipeline step.
type Stage struct {
	ID     string             `json:"id" validate:"required"`
	Title  string             `json:"title" validate:"required"`
	Status models.StageStatus `json:"status" validate:"required,oneof=pending current completed"`
	Order  int                `json:"order" validate:"gte=1"`
}

type template struct{ id, title string }

var (
	civilTemplate = []template{
		{"filing", "Filing"},
		{"preliminary", "Preliminary Review"},
		{"hearing", "Hearings"},
		{"decision", "Decision"},
		{"appeal", "Appeal"},
	}
	criminalTemplate = []template{
		{"investigation", "Investigation"},
		{"indictment", "Indictment"},
		{"prosecution", "Prosecution"},
		{"decision", "Decision"},
		{"appeal", "Appeal"},
	}
)

// DefaultStages returns a fresh stage list for the case type: the first
// stage completed, the second current, the rest pending.
func DefaultStages(t models.CaseType) []Stage {
	tpl := civilTemplate
	if t == models.CaseCriminal {
		tpl = criminalTemplate
	}
	out := make([]Stage, len(tpl))
	for i, s := range tpl {
		status := models.StagePending
		switch i {
		case 0:
			status = models.StageCompleted
		case 1:
			status = models.StageCurrent
		}
		out[i] = Stage{ID: s.id, Title: s.title, Status: status, Order: i + 1}
	}
	return out
}

// ValidateStages checks ids are unique and non-empty, orders strictly
// increase, and every status is known.
func ValidateStages(list []Stage) error {
	errs := map[string][]string{}
	seen := make(map[string]bool, len(list))
	prev := 0
	for i, s := range list {
		key := fmt.Sprintf("stages.%d", i)
		id := strings.TrimSpace(s.ID)
		switch {
		case id == "":
			errs[key] = append(errs[key], "Stage id is required")
		case seen[id]:
			errs[key] = append(errs[key], fmt.Sprintf("Duplicate stage id %q", id))
		}
		seen[id] = true
		if s.Order <= prev {
			errs[key] = append(errs[key], "Stage order must be strictly increasing")
		}
		prev = s.Order
		if !s.Status.Valid() {
			errs[key] = append(errs[key], "Invalid stage status")
		}
	}
	if len(errs) > 0 {
		return apperr.Invalid(errs)
	}
	return nil
}

// HasStage reports whether id names a stage in rows.
func HasStage(rows []models.CaseStage, id string) bool {
	for _, r := range rows {
		if r.StageKey == id {
			return true
		}
	}
	return false
}

// ToRows converts wire stages into rows for caseID.
func ToRows(list []Stage, caseID uuid.UUID) []models.CaseStage {
	rows := make([]models.CaseStage, len(list))
	for i, s := range list {
		rows[i] = models.CaseStage{
			CaseID:   caseID,
			StageKey: strings.TrimSpace(s.ID),
			Title:    s.Title,
			Status:   s.Status,
			Position: s.Order,
		}
	}
	return rows
}

// FromRows converts stored rows back to wire stages, ordered by position.
func FromRows(rows []models.CaseStage) []Stage {
	out := make([]Stage, len(rows))
	for i, r := range rows {
		out[i] = Stage{ID: r.StageKey, Title: r.Title, Status: r.Status, Order: r.Position}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}
