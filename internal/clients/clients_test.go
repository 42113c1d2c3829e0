package clients

import (
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/lexdesk/portal-backend/internal/audit"
	"github.com/lexdesk/portal-backend/internal/auth"
	"github.com/lexdesk/portal-backend/internal/logging"
	"github.com/lexdesk/portal-backend/internal/permissions"
	"github.com/lexdesk/portal-backend/internal/testutil"
	"github.com/lexdesk/portal-backend/pkg/models"
)

const domain = "noemail.test"

func newTestApp(db *gorm.DB, actor permissions.Actor) *fiber.App {
	h := NewHandler(db, audit.NewRecorder(db, nil, nil), domain)
	app := fiber.New(fiber.Config{ErrorHandler: auth.NewErrorHandler(logging.Discard())})
	app.Use(testutil.InjectAuth(actor))

	adm := app.Group("/api/admin", permissions.Guard(permissions.StaffOnly))
	adm.Get("/statistics", h.Statistics)
	adm.Get("/clients", h.List)
	adm.Post("/clients", h.Create)
	adm.Get("/clients/:id", h.Get)
	adm.Put("/clients/:id", h.Update)
	adm.Put("/clients/:id/role", permissions.Guard(permissions.AdminOnly), h.SetRole)
	adm.Put("/clients/:id/active", h.SetActive)
	return app
}

func strp(s string) *string { return &s }

/* ------------------------------- create --------------------------------- */

func TestCreate_SynthesizesEmailAndTempPassword(t *testing.T) {
	db := testutil.OpenDB(t)
	lawyer := testutil.SeedUser(t, db, models.RoleLawyer)
	app := newTestApp(db, testutil.Actor(lawyer))

	resp, body := testutil.DoJSON(t, app, "POST", "/api/admin/clients", fiber.Map{
		"role": "individual", "full_name": "Mehmet Kaya", "national_id": "12345678901",
	})
	require.Equal(t, 201, resp.StatusCode, body)

	user := body["user"].(map[string]any)
	assert.Equal(t, "no-email-12345678901@"+domain, user["email"])
	assert.Equal(t, true, user["must_change_password"])
	assert.Equal(t, true, user["is_verified"])
	temp := body["temp_password"].(string)
	assert.Len(t, temp, 8)

	var u models.User
	require.NoError(t, db.First(&u, "id = ?", user["id"]).Error)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(temp)))

	var n int64
	require.NoError(t, db.Model(&models.AuditLog{}).
		Where("action = ? AND resource_type = ?", audit.ActionCreate, audit.ResClient).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestCreate_SynthesizedEmailCollision(t *testing.T) {
	db := testutil.OpenDB(t)
	admin := testutil.SeedUser(t, db, models.RoleAdmin)
	testutil.SeedUser(t, db, models.RoleCorporate, func(u *models.User) {
		u.Email = "no-email-1234567890@" + domain
	})
	app := newTestApp(db, testutil.Actor(admin))

	resp, body := testutil.DoJSON(t, app, "POST", "/api/admin/clients", fiber.Map{
		"role": "corporate", "full_name": "Acme Ltd", "company_name": "Acme", "tax_number": "1234567890",
	})
	require.Equal(t, 201, resp.StatusCode, body)
	email := body["user"].(map[string]any)["email"].(string)
	assert.True(t, strings.HasPrefix(email, "no-email-1234567890-"), email)
	assert.True(t, strings.HasSuffix(email, "@"+domain), email)
}

func TestCreate_ValidationAndConflicts(t *testing.T) {
	db := testutil.OpenDB(t)
	admin := testutil.SeedUser(t, db, models.RoleAdmin)
	testutil.SeedUser(t, db, models.RoleIndividual, func(u *models.User) {
		u.Email = "taken@example.com"
		u.NationalID = strp("11111111111")
	})
	app := newTestApp(db, testutil.Actor(admin))

	resp, body := testutil.DoJSON(t, app, "POST", "/api/admin/clients", fiber.Map{
		"role": "corporate", "full_name": "X Corp",
	})
	require.Equal(t, 400, resp.StatusCode)
	errs := body["errors"].(map[string]any)
	assert.Contains(t, errs, "tax_number")
	assert.Contains(t, errs, "company_name")

	resp, _ = testutil.DoJSON(t, app, "POST", "/api/admin/clients", fiber.Map{
		"role": "individual", "full_name": "Dup", "national_id": "11111111111",
	})
	assert.Equal(t, 409, resp.StatusCode)

	resp, _ = testutil.DoJSON(t, app, "POST", "/api/admin/clients", fiber.Map{
		"role": "individual", "full_name": "Dup", "national_id": "22222222222", "email": "TAKEN@example.com",
	})
	assert.Equal(t, 409, resp.StatusCode)
}

func TestClientRoutesRejectClients(t *testing.T) {
	db := testutil.OpenDB(t)
	client := testutil.SeedUser(t, db, models.RoleIndividual)
	app := newTestApp(db, testutil.Actor(client))

	resp, body := testutil.DoJSON(t, app, "GET", "/api/admin/clients", nil)
	assert.Equal(t, 403, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", body["code"])
}

/* -------------------------------- list ---------------------------------- */

func TestList_MasksForLawyersOnly(t *testing.T) {
	db := testutil.OpenDB(t)
	admin := testutil.SeedUser(t, db, models.RoleAdmin)
	lawyer := testutil.SeedUser(t, db, models.RoleLawyer)
	testutil.SeedUser(t, db, models.RoleIndividual, func(u *models.User) {
		u.FullName = "Zeynep Demir"
		u.NationalID = strp("98765432109")
	})
	testutil.SeedUser(t, db, models.RoleCorporate, func(u *models.User) { u.CompanyName = "Demir Holding" })

	_, body := testutil.DoJSON(t, newTestApp(db, testutil.Actor(lawyer)), "GET", "/api/admin/clients?type=individual", nil)
	items := testutil.Items(t, body)
	require.Len(t, items, 1)
	masked := items[0].(map[string]any)["national_id"].(string)
	assert.NotEqual(t, "98765432109", masked)
	assert.True(t, strings.HasSuffix(masked, "2109"))

	_, body = testutil.DoJSON(t, newTestApp(db, testutil.Actor(admin)), "GET", "/api/admin/clients?search=demir", nil)
	assert.EqualValues(t, 2, body["total"])
	for _, it := range testutil.Items(t, body) {
		if id := it.(map[string]any)["national_id"]; id != nil {
			assert.Equal(t, "98765432109", id)
		}
	}

	resp, _ := testutil.DoJSON(t, newTestApp(db, testutil.Actor(admin)), "GET", "/api/admin/clients?type=lawyer", nil)
	assert.Equal(t, 400, resp.StatusCode)

	var n int64
	require.NoError(t, db.Model(&models.AuditLog{}).Where("resource_type = ?", audit.ResClientList).Count(&n).Error)
	assert.EqualValues(t, 2, n)
}

func TestGet_DetailCounts(t *testing.T) {
	db := testutil.OpenDB(t)
	lawyer := testutil.SeedUser(t, db, models.RoleLawyer)
	client := testutil.SeedUser(t, db, models.RoleIndividual)
	testutil.SeedCase(t, db, client.ID)
	require.NoError(t, db.Create(&models.Payment{
		Reference: "PAY-AAAAAAAAAAAA", AmountCents: 1000, Currency: "TRY", Description: "fee",
		Status: models.PayPending, ClientID: client.ID, CreatedByID: lawyer.ID,
	}).Error)
	app := newTestApp(db, testutil.Actor(lawyer))

	resp, body := testutil.DoJSON(t, app, "GET", "/api/admin/clients/"+client.ID.String(), nil)
	require.Equal(t, 200, resp.StatusCode, body)
	assert.EqualValues(t, 1, body["case_count"])
	assert.EqualValues(t, 1, body["pending_payments"])

	// staff accounts are not clients
	resp, _ = testutil.DoJSON(t, app, "GET", "/api/admin/clients/"+lawyer.ID.String(), nil)
	assert.Equal(t, 404, resp.StatusCode)
	resp, _ = testutil.DoJSON(t, app, "GET", "/api/admin/clients/"+uuid.NewString(), nil)
	assert.Equal(t, 404, resp.StatusCode)
}

/* ------------------------------- update --------------------------------- */

func TestUpdate_RecordsOldAndNew(t *testing.T) {
	db := testutil.OpenDB(t)
	lawyer := testutil.SeedUser(t, db, models.RoleLawyer)
	client := testutil.SeedUser(t, db, models.RoleIndividual, func(u *models.User) { u.Phone = "05001112233" })
	other := testutil.SeedUser(t, db, models.RoleIndividual)
	app := newTestApp(db, testutil.Actor(lawyer))

	resp, body := testutil.DoJSON(t, app, "PUT", "/api/admin/clients/"+client.ID.String(), fiber.Map{
		"phone": "05009998877", "full_name": "New Name",
	})
	require.Equal(t, 200, resp.StatusCode, body)
	assert.Equal(t, "New Name", body["full_name"])

	var row models.AuditLog
	require.NoError(t, db.First(&row, "resource_type = ? AND action = ?", audit.ResClient, audit.ActionUpdate).Error)
	assert.Equal(t, "05001112233", row.Changes["old"].(map[string]any)["phone"])
	assert.Equal(t, "05009998877", row.Changes["new"].(map[string]any)["phone"])

	// another client's email is taken; keeping one's own is fine
	resp, _ = testutil.DoJSON(t, app, "PUT", "/api/admin/clients/"+client.ID.String(), fiber.Map{"email": other.Email})
	assert.Equal(t, 409, resp.StatusCode)
	resp, _ = testutil.DoJSON(t, app, "PUT", "/api/admin/clients/"+client.ID.String(), fiber.Map{"email": client.Email})
	assert.Equal(t, 200, resp.StatusCode)
}

func TestUpdate_KeepsEmailAndNamePresent(t *testing.T) {
	db := testutil.OpenDB(t)
	lawyer := testutil.SeedUser(t, db, models.RoleLawyer)
	a := testutil.SeedUser(t, db, models.RoleIndividual)
	b := testutil.SeedUser(t, db, models.RoleCorporate)
	app := newTestApp(db, testutil.Actor(lawyer))

	for _, id := range []string{a.ID.String(), b.ID.String()} {
		resp, body := testutil.DoJSON(t, app, "PUT", "/api/admin/clients/"+id, fiber.Map{"email": ""})
		require.Equal(t, 400, resp.StatusCode, body)
		assert.Contains(t, body["errors"], "email")
	}
	resp, body := testutil.DoJSON(t, app, "PUT", "/api/admin/clients/"+a.ID.String(), fiber.Map{"email": "   "})
	require.Equal(t, 400, resp.StatusCode)
	assert.Contains(t, body["errors"], "email")

	resp, body = testutil.DoJSON(t, app, "PUT", "/api/admin/clients/"+a.ID.String(), fiber.Map{"full_name": ""})
	require.Equal(t, 400, resp.StatusCode)
	assert.Contains(t, body["errors"], "full_name")

	var stored []models.User
	require.NoError(t, db.Where("id IN ?", []any{a.ID, b.ID}).Find(&stored).Error)
	for _, u := range stored {
		assert.NotEmpty(t, u.Email)
		assert.NotEmpty(t, u.FullName)
	}
	var n int64
	require.NoError(t, db.Model(&models.AuditLog{}).Where("resource_type = ?", audit.ResClient).Count(&n).Error)
	assert.Zero(t, n)
}

/* ---------------------------- role / active ----------------------------- */

func TestSetRole_AdminOnly(t *testing.T) {
	db := testutil.OpenDB(t)
	admin := testutil.SeedUser(t, db, models.RoleAdmin)
	lawyer := testutil.SeedUser(t, db, models.RoleLawyer)
	client := testutil.SeedUser(t, db, models.RoleIndividual)
	path := "/api/admin/clients/" + client.ID.String() + "/role"

	resp, _ := testutil.DoJSON(t, newTestApp(db, testutil.Actor(lawyer)), "PUT", path, fiber.Map{"role": "lawyer"})
	assert.Equal(t, 403, resp.StatusCode)

	app := newTestApp(db, testutil.Actor(admin))
	resp, body := testutil.DoJSON(t, app, "PUT", path, fiber.Map{"role": "corporate"})
	require.Equal(t, 200, resp.StatusCode, body)
	assert.Equal(t, "corporate", body["role"])

	resp, _ = testutil.DoJSON(t, app, "PUT", "/api/admin/clients/"+admin.ID.String()+"/role", fiber.Map{"role": "lawyer"})
	assert.Equal(t, 400, resp.StatusCode)
}

func TestSetActive(t *testing.T) {
	db := testutil.OpenDB(t)
	admin := testutil.SeedUser(t, db, models.RoleAdmin)
	lawyer := testutil.SeedUser(t, db, models.RoleLawyer)
	colleague := testutil.SeedUser(t, db, models.RoleLawyer)
	client := testutil.SeedUser(t, db, models.RoleIndividual)
	lawyerApp := newTestApp(db, testutil.Actor(lawyer))

	resp, body := testutil.DoJSON(t, lawyerApp, "PUT", "/api/admin/clients/"+client.ID.String()+"/active", fiber.Map{"is_active": false})
	require.Equal(t, 200, resp.StatusCode, body)
	assert.Equal(t, false, body["is_active"])

	resp, _ = testutil.DoJSON(t, lawyerApp, "PUT", "/api/admin/clients/"+colleague.ID.String()+"/active", fiber.Map{"is_active": false})
	assert.Equal(t, 403, resp.StatusCode)

	adminApp := newTestApp(db, testutil.Actor(admin))
	resp, _ = testutil.DoJSON(t, adminApp, "PUT", "/api/admin/clients/"+colleague.ID.String()+"/active", fiber.Map{"is_active": false})
	assert.Equal(t, 200, resp.StatusCode)
	resp, _ = testutil.DoJSON(t, adminApp, "PUT", "/api/admin/clients/"+admin.ID.String()+"/active", fiber.Map{"is_active": false})
	assert.Equal(t, 400, resp.StatusCode)
	resp, body = testutil.DoJSON(t, adminApp, "PUT", "/api/admin/clients/"+client.ID.String()+"/active", fiber.Map{})
	assert.Equal(t, 400, resp.StatusCode)
	assert.Contains(t, body["errors"], "is_active")
}

func TestStatistics(t *testing.T) {
	db := testutil.OpenDB(t)
	lawyer := testutil.SeedUser(t, db, models.RoleLawyer)
	a := testutil.SeedUser(t, db, models.RoleIndividual)
	testutil.SeedUser(t, db, models.RoleCorporate)
	testutil.SeedCase(t, db, a.ID, func(c *models.Case) { c.Status = models.CaseInProgress })
	testutil.SeedCase(t, db, a.ID, func(c *models.Case) { c.Status = models.CaseCompleted })

	resp, body := testutil.DoJSON(t, newTestApp(db, testutil.Actor(lawyer)), "GET", "/api/admin/statistics", nil)
	require.Equal(t, 200, resp.StatusCode)
	assert.EqualValues(t, 2, body["total_clients"])
	assert.EqualValues(t, 2, body["total_cases"])
	assert.EqualValues(t, 1, body["active_cases"])
	assert.EqualValues(t, 0, body["total_documents"])
}
