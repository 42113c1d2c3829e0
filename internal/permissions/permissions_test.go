package permissions

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/lexdesk/portal-backend/pkg/apperr"
	"github.com/lexdesk/portal-backend/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func actor(r models.Role) Actor { return Actor{ID: uuid.New(), Role: r} }

func TestRoleClasses(t *testing.T) {
	admin, lawyer := actor(models.RoleAdmin), actor(models.RoleLawyer)
	ind, corp := actor(models.RoleIndividual), actor(models.RoleCorporate)

	assert.True(t, IsStaff(admin))
	assert.True(t, IsStaff(lawyer))
	assert.False(t, IsStaff(ind))
	assert.True(t, IsClient(corp))
	assert.True(t, IsAdmin(admin))
	assert.False(t, IsAdmin(lawyer))

	assert.True(t, CanDeleteCase(admin))
	assert.False(t, CanDeleteCase(lawyer))
	assert.True(t, CanDeletePayment(lawyer))
	assert.False(t, CanDeletePayment(ind))
	assert.True(t, CanChangeRole(admin))
	assert.False(t, CanChangeRole(lawyer))
}

func TestAdminIsSupersetOfLawyer(t *testing.T) {
	admin, lawyer := actor(models.RoleAdmin), actor(models.RoleLawyer)
	c := &models.Case{ClientID: uuid.New()}
	d := &models.Document{UserID: uuid.New()}
	p := &models.Payment{ClientID: uuid.New()}

	preds := []func(Actor) bool{
		CanViewAllClients, CanModifyCase, CanDeleteCase, CanDeleteDocument,
		CanManagePayments, CanDeletePayment, CanChangeRole, CanCreateClient,
		CanViewStatistics, CanAddTimelineEvent,
		func(a Actor) bool { return CanAccessCase(a, c) },
		func(a Actor) bool { return CanAccessDocument(a, d, c) },
		func(a Actor) bool { return CanUploadDocument(a, c) },
		func(a Actor) bool { return CanAccessPayment(a, p) },
	}
	for i, pred := range preds {
		if pred(lawyer) {
			assert.True(t, pred(admin), "predicate %d", i)
		}
	}
}

func TestCaseAccess(t *testing.T) {
	owner := actor(models.RoleIndividual)
	other := actor(models.RoleCorporate)
	c := &models.Case{ClientID: owner.ID}

	assert.True(t, CanAccessCase(owner, c))
	assert.False(t, CanAccessCase(other, c))
	assert.True(t, CanAccessCase(actor(models.RoleLawyer), c))
	assert.False(t, CanAccessCase(owner, nil))
	assert.False(t, CanModifyCase(owner))
}

func TestDocumentAccess(t *testing.T) {
	owner := actor(models.RoleIndividual)
	other := actor(models.RoleIndividual)
	staff := actor(models.RoleLawyer)
	c := &models.Case{ClientID: owner.ID}

	onCase := &models.Document{UserID: staff.ID, IsVisibleToClient: true}
	hidden := &models.Document{UserID: staff.ID, IsVisibleToClient: false}
	uploaded := &models.Document{UserID: owner.ID, IsVisibleToClient: true}

	assert.True(t, CanAccessDocument(owner, onCase, c))
	assert.False(t, CanAccessDocument(other, onCase, c))
	assert.False(t, CanAccessDocument(owner, hidden, c))
	assert.True(t, CanAccessDocument(staff, hidden, c))
	assert.True(t, CanAccessDocument(owner, uploaded, nil))
	assert.False(t, CanAccessDocument(other, uploaded, nil))
	assert.False(t, CanAccessDocument(owner, onCase, nil))
	assert.False(t, CanAccessDocument(owner, nil, c))
}

func TestUploadAndPaymentAccess(t *testing.T) {
	owner := actor(models.RoleIndividual)
	other := actor(models.RoleIndividual)
	c := &models.Case{ClientID: owner.ID}

	assert.True(t, CanUploadDocument(owner, c))
	assert.True(t, CanUploadDocument(owner, nil))
	assert.False(t, CanUploadDocument(other, c))
	assert.True(t, CanUploadDocument(actor(models.RoleAdmin), c))

	p := &models.Payment{ClientID: owner.ID}
	assert.True(t, CanAccessPayment(owner, p))
	assert.False(t, CanAccessPayment(other, p))
	assert.False(t, CanManagePayments(owner))
}

func TestPolicyComposition(t *testing.T) {
	admin, lawyer, client := actor(models.RoleAdmin), actor(models.RoleLawyer), actor(models.RoleIndividual)

	both := AllOf("staff+admin", StaffOnly, AdminOnly)
	assert.True(t, both.Allows(admin))
	assert.False(t, both.Allows(lawyer))

	either := AnyOf("admin|client", AdminOnly, ClientOnly)
	assert.True(t, either.Allows(client))
	assert.False(t, either.Allows(lawyer))

	assert.False(t, AllOf("empty").Allows(admin))
	assert.False(t, Policy{}.Allows(admin))
	assert.Equal(t, "staff", StaffOnly.Name())
}

func TestGuard(t *testing.T) {
	lawyer := actor(models.RoleLawyer)
	client := actor(models.RoleIndividual)

	newApp := func(inject *Actor) *fiber.App {
		app := fiber.New(fiber.Config{ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.SendStatus(apperr.KindOf(err).Status())
		}})
		if inject != nil {
			app.Use(func(c *fiber.Ctx) error { c.Locals(LocalsKey, *inject); return c.Next() })
		}
		app.Get("/", Guard(StaffOnly), func(c *fiber.Ctx) error { return c.SendStatus(204) })
		return app
	}

	for _, tc := range []struct {
		who  *Actor
		want int
	}{{&lawyer, 204}, {&client, 403}, {nil, 401}} {
		resp, err := newApp(tc.who).Test(httptest.NewRequest("GET", "/", nil))
		require.NoError(t, err)
		assert.Equal(t, tc.want, resp.StatusCode)
	}
}
