// Package permissions holds the pure authorization rules of the portal.
// Every predicate is side-effect free; handlers decide how a denial is
// reported.
package permissions

import (
	"github.com/google/uuid"
	"github.com/lexdesk/portal-backend/pkg/models"
)

// Actor is the authenticated principal making a request.
type Actor struct {
	ID   uuid.UUID
	Role models.Role
}

func IsStaff(a Actor) bool  { return a.Role.IsStaff() }
func IsAdmin(a Actor) bool  { return a.Role == models.RoleAdmin }
func IsClient(a Actor) bool { return a.Role.IsClient() }

func CanViewAllClients(a Actor) bool { return IsStaff(a) }

// CanAccessCase: staff see every case, clients only their own.
func CanAccessCase(a Actor, c *models.Case) bool {
	if c == nil {
		return false
	}
	return IsStaff(a) || c.ClientID == a.ID
}

func CanModifyCase(a Actor) bool { return IsStaff(a) }
func CanDeleteCase(a Actor) bool { return IsAdmin(a) }

// CanAccessDocument: a client reaches a document only when it is visible
// to clients and either they uploaded it or parent is one of their cases.
// parent is nil for documents not attached to a case.
func CanAccessDocument(a Actor, d *models.Document, parent *models.Case) bool {
	if d == nil {
		return false
	}
	if IsStaff(a) {
		return true
	}
	if !d.IsVisibleToClient {
		return false
	}
	if d.UserID == a.ID {
		return true
	}
	return parent != nil && parent.ClientID == a.ID
}

// CanUploadDocument: staff anywhere, clients only on their own cases
// or unattached to any case.
func CanUploadDocument(a Actor, parent *models.Case) bool {
	if IsStaff(a) {
		return true
	}
	return parent == nil || parent.ClientID == a.ID
}

func CanDeleteDocument(a Actor) bool   { return IsStaff(a) }
func CanManagePayments(a Actor) bool   { return IsStaff(a) }
func CanDeletePayment(a Actor) bool    { return IsStaff(a) }
func CanChangeRole(a Actor) bool       { return IsAdmin(a) }
func CanChangeActivity(a Actor) bool   { return IsStaff(a) }
func CanCreateClient(a Actor) bool     { return IsStaff(a) }
func CanViewStatistics(a Actor) bool   { return IsStaff(a) }
func CanAddTimelineEvent(a Actor) bool { return IsStaff(a) }

func CanAccessPayment(a Actor, p *models.Payment) bool {
	if p == nil {
		return false
	}
	return IsStaff(a) || p.ClientID == a.ID
}

// SeesUnmaskedPII: lawyers get masked identity numbers in client lists.
func SeesUnmaskedPII(a Actor) bool { return IsAdmin(a) }
