package cases

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lexdesk/portal-backend/internal/audit"
	"github.com/lexdesk/portal-backend/internal/auth"
	"github.com/lexdesk/portal-backend/internal/casestate"
	"github.com/lexdesk/portal-backend/internal/logging"
	"github.com/lexdesk/portal-backend/internal/notify"
	"github.com/lexdesk/portal-backend/internal/permissions"
	"github.com/lexdesk/portal-backend/internal/testutil"
	"github.com/lexdesk/portal-backend/pkg/models"
)

/* ============================================================================
   Helpers
   ============================================================================ */

func newHandler(db *gorm.DB, policy casestate.TransitionPolicy) *Handler {
	return NewHandler(db, audit.NewRecorder(db, nil, nil), notify.NewService(db, nil, nil), policy)
}

// newTestApp registers routes the way the server does, behind a fake actor.
func newTestApp(h *Handler, actor permissions.Actor) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: auth.NewErrorHandler(logging.Discard())})
	app.Use(testutil.InjectAuth(actor))

	app.Post("/api/cases", h.Create)
	app.Get("/api/cases", h.List)
	app.Get("/api/cases/:id", h.Get)
	app.Put("/api/cases/:id", h.Update)
	app.Delete("/api/cases/:id", h.Delete)
	app.Get("/api/cases/:id/timeline", h.ListTimeline)
	app.Post("/api/cases/:id/timeline", h.CreateTimelineEvent)
	return app
}

func countNotifications(t *testing.T, db *gorm.DB, userID uuid.UUID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.Notification{}).Where("user_id = ?", userID).Count(&n).Error)
	return n
}

func countAudit(t *testing.T, db *gorm.DB, action audit.Action, res audit.Resource) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.AuditLog{}).
		Where("action = ? AND resource_type = ?", action, res).Count(&n).Error)
	return n
}

func withStages(t *testing.T, db *gorm.DB, cs models.Case) models.Case {
	t.Helper()
	rows := casestate.ToRows(casestate.DefaultStages(cs.CaseType), cs.ID)
	require.NoError(t, db.Create(&rows).Error)
	cs.Stages = rows
	return cs
}

/* ============================================================================
   Create
   ============================================================================ */

func TestCreate_StaffForClient_DefaultStages(t *testing.T) {
	db := testutil.OpenDB(t)
	lawyer := testutil.SeedUser(t, db, models.RoleLawyer)
	client := testutil.SeedUser(t, db, models.RoleIndividual)
	app := newTestApp(newHandler(db, nil), testutil.Actor(lawyer))

	resp, body := testutil.DoJSON(t, app, "POST", "/api/cases", fiber.Map{
		"case_number": "2024/101", "title": "Lease dispute", "case_type": "civil",
		"client_id": client.ID.String(), "status": "in_progress",
	})
	require.Equal(t, 201, resp.StatusCode, body)
	assert.Equal(t, client.ID.String(), body["client_id"])
	assert.Equal(t, "in_progress", body["status"])

	stages := body["stages"].([]any)
	require.Len(t, stages, 5)
	first := stages[0].(map[string]any)
	assert.Equal(t, "filing", first["id"])
	assert.Equal(t, "completed", first["status"])
	assert.EqualValues(t, 1, first["order"])

	var n models.Notification
	require.NoError(t, db.First(&n, "user_id = ?", client.ID).Error)
	assert.Equal(t, models.PriorityHigh, n.Priority)
	assert.Equal(t, models.NotifyCaseUpdate, n.Type)
	assert.Equal(t, fmt.Sprintf("/cases/%s", body["id"]), n.Link)

	// staff creator does not fan out to staff
	assert.Zero(t, countNotifications(t, db, lawyer.ID))
	assert.EqualValues(t, 1, countAudit(t, db, audit.ActionCreate, audit.ResCase))
}

func TestCreate_ClientSelfService_NotifiesAllStaff(t *testing.T) {
	db := testutil.OpenDB(t)
	admin := testutil.SeedUser(t, db, models.RoleAdmin)
	lawyer := testutil.SeedUser(t, db, models.RoleLawyer)
	client := testutil.SeedUser(t, db, models.RoleCorporate)
	other := testutil.SeedUser(t, db, models.RoleIndividual)
	app := newTestApp(newHandler(db, nil), testutil.Actor(client))

	resp, body := testutil.DoJSON(t, app, "POST", "/api/cases", fiber.Map{
		"case_number": "2024/CR-7", "title": "Fraud complaint", "case_type": "criminal",
		// ignored for clients
		"client_id": other.ID.String(), "status": "completed",
	})
	require.Equal(t, 201, resp.StatusCode, body)
	assert.Equal(t, client.ID.String(), body["client_id"])
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "investigation", body["stages"].([]any)[0].(map[string]any)["id"])

	assert.EqualValues(t, 1, countNotifications(t, db, client.ID))
	assert.EqualValues(t, 1, countNotifications(t, db, admin.ID))
	assert.EqualValues(t, 1, countNotifications(t, db, lawyer.ID))
	assert.Zero(t, countNotifications(t, db, other.ID))
}

func TestCreate_Validation(t *testing.T) {
	db := testutil.OpenDB(t)
	lawyer := testutil.SeedUser(t, db, models.RoleLawyer)
	staff := testutil.SeedUser(t, db, models.RoleAdmin)
	app := newTestApp(newHandler(db, nil), testutil.Actor(lawyer))

	t.Run("missing fields", func(t *testing.T) {
		resp, body := testutil.DoJSON(t, app, "POST", "/api/cases", fiber.Map{})
		require.Equal(t, 400, resp.StatusCode)
		errs := body["errors"].(map[string]any)
		assert.Contains(t, errs, "case_number")
		assert.Contains(t, errs, "title")
		assert.Contains(t, errs, "case_type")
	})

	t.Run("staff must name a client", func(t *testing.T) {
		resp, body := testutil.DoJSON(t, app, "POST", "/api/cases", fiber.Map{
			"case_number": "X-1", "title": "t", "case_type": "civil",
		})
		require.Equal(t, 400, resp.StatusCode)
		assert.Contains(t, body["errors"], "client_id")
	})

	t.Run("client_id must be a client", func(t *testing.T) {
		resp, body := testutil.DoJSON(t, app, "POST", "/api/cases", fiber.Map{
			"case_number": "X-2", "title": "t", "case_type": "civil", "client_id": staff.ID.String(),
		})
		require.Equal(t, 400, resp.StatusCode)
		assert.Contains(t, body["errors"], "client_id")
	})

	t.Run("duplicate stage ids", func(t *testing.T) {
		client := testutil.SeedUser(t, db, models.RoleIndividual)
		resp, body := testutil.DoJSON(t, app, "POST", "/api/cases", fiber.Map{
			"case_number": "X-3", "title": "t", "case_type": "civil", "client_id": client.ID.String(),
			"stages": []fiber.Map{
				{"id": "a", "title": "A", "status": "current", "order": 1},
				{"id": "a", "title": "B", "status": "pending", "order": 2},
			},
		})
		require.Equal(t, 400, resp.StatusCode)
		assert.Contains(t, body["errors"], "stages.1")
	})
}

func TestCreate_DuplicateCaseNumber(t *testing.T) {
	db := testutil.OpenDB(t)
	lawyer := testutil.SeedUser(t, db, models.RoleLawyer)
	client := testutil.SeedUser(t, db, models.RoleIndividual)
	testutil.SeedCase(t, db, client.ID, func(c *models.Case) { c.CaseNumber = "2024/1" })
	app := newTestApp(newHandler(db, nil), testutil.Actor(lawyer))

	resp, body := testutil.DoJSON(t, app, "POST", "/api/cases", fiber.Map{
		"case_number": "2024/1", "title": "Again", "case_type": "labor", "client_id": client.ID.String(),
	})
	require.Equal(t, 409, resp.StatusCode, body)
	assert.Equal(t, "CONFLICT", body["code"])
	assert.Zero(t, countAudit(t, db, audit.ActionCreate, audit.ResCase))
}

/* ============================================================================
   List / Get
   ============================================================================ */

func TestList_ClientSeesOnlyOwnCases(t *testing.T) {
	db := testutil.OpenDB(t)
	a := testutil.SeedUser(t, db, models.RoleIndividual)
	b := testutil.SeedUser(t, db, models.RoleIndividual)
	testutil.SeedCase(t, db, a.ID, func(c *models.Case) {
		c.Description = "Contact me at a@example.com about the hearing"
	})
	testutil.SeedCase(t, db, b.ID)
	testutil.SeedCase(t, db, b.ID)
	app := newTestApp(newHandler(db, nil), testutil.Actor(a))

	resp, body := testutil.DoJSON(t, app, "GET", "/api/cases", nil)
	require.Equal(t, 200, resp.StatusCode)
	assert.EqualValues(t, 1, body["total"])
	items := testutil.Items(t, body)
	require.Len(t, items, 1)
	assert.NotContains(t, items[0].(map[string]any)["preview"], "a@example.com")

	// clients never produce a list-view audit row
	assert.Zero(t, countAudit(t, db, audit.ActionView, audit.ResCaseList))
}

func TestList_StaffFiltersAndAudits(t *testing.T) {
	db := testutil.OpenDB(t)
	lawyer := testutil.SeedUser(t, db, models.RoleLawyer)
	a := testutil.SeedUser(t, db, models.RoleIndividual)
	b := testutil.SeedUser(t, db, models.RoleCorporate)
	testutil.SeedCase(t, db, a.ID, func(c *models.Case) { c.Status = models.CaseInProgress })
	testutil.SeedCase(t, db, a.ID, func(c *models.Case) { c.CourtName = "Ankara 3. Asliye Ticaret" })
	testutil.SeedCase(t, db, b.ID, func(c *models.Case) { c.Title = "Merger review"; c.CaseType = models.CaseCommercial })
	app := newTestApp(newHandler(db, nil), testutil.Actor(lawyer))

	_, body := testutil.DoJSON(t, app, "GET", "/api/cases", nil)
	assert.EqualValues(t, 3, body["total"])

	_, body = testutil.DoJSON(t, app, "GET", "/api/cases?client_id="+a.ID.String(), nil)
	assert.EqualValues(t, 2, body["total"])

	_, body = testutil.DoJSON(t, app, "GET", "/api/cases?status=in_progress", nil)
	assert.EqualValues(t, 1, body["total"])

	_, body = testutil.DoJSON(t, app, "GET", "/api/cases?case_type=commercial&search=MERGER", nil)
	assert.EqualValues(t, 1, body["total"])

	_, body = testutil.DoJSON(t, app, "GET", "/api/cases?search=asliye", nil)
	assert.EqualValues(t, 1, body["total"])

	resp, _ := testutil.DoJSON(t, app, "GET", "/api/cases?status=bogus", nil)
	assert.Equal(t, 400, resp.StatusCode)

	assert.EqualValues(t, 5, countAudit(t, db, audit.ActionView, audit.ResCaseList))
}

func TestGet_NotFoundBeforeForbidden(t *testing.T) {
	db := testutil.OpenDB(t)
	owner := testutil.SeedUser(t, db, models.RoleIndividual)
	stranger := testutil.SeedUser(t, db, models.RoleIndividual)
	cs := withStages(t, db, testutil.SeedCase(t, db, owner.ID))

	app := newTestApp(newHandler(db, nil), testutil.Actor(stranger))
	resp, _ := testutil.DoJSON(t, app, "GET", "/api/cases/"+uuid.NewString(), nil)
	assert.Equal(t, 404, resp.StatusCode)
	resp, _ = testutil.DoJSON(t, app, "GET", "/api/cases/not-a-uuid", nil)
	assert.Equal(t, 404, resp.StatusCode)
	resp, _ = testutil.DoJSON(t, app, "GET", "/api/cases/"+cs.ID.String(), nil)
	assert.Equal(t, 403, resp.StatusCode)

	app = newTestApp(newHandler(db, nil), testutil.Actor(owner))
	resp, body := testutil.DoJSON(t, app, "GET", "/api/cases/"+cs.ID.String(), nil)
	require.Equal(t, 200, resp.StatusCode)
	assert.Len(t, body["stages"], 5)
	assert.EqualValues(t, 1, countAudit(t, db, audit.ActionView, audit.ResCase))
}

/* ============================================================================
   Update / Delete
   ============================================================================ */

func TestUpdate_StatusCompletedStampsDateAndNotifies(t *testing.T) {
	db := testutil.OpenDB(t)
	lawyer := testutil.SeedUser(t, db, models.RoleLawyer)
	client := testutil.SeedUser(t, db, models.RoleIndividual)
	cs := testutil.SeedCase(t, db, client.ID)
	app := newTestApp(newHandler(db, nil), testutil.Actor(lawyer))

	resp, body := testutil.DoJSON(t, app, "PUT", "/api/cases/"+cs.ID.String(), fiber.Map{
		"status": "completed", "court_name": "Istanbul 3rd Civil Court",
	})
	require.Equal(t, 200, resp.StatusCode, body)
	assert.Equal(t, "completed", body["status"])
	assert.NotEmpty(t, body["completion_date"])
	assert.Equal(t, "Istanbul 3rd Civil Court", body["court_name"])

	assert.EqualValues(t, 1, countNotifications(t, db, client.ID))

	var row models.AuditLog
	require.NoError(t, db.First(&row, "action = ? AND resource_type = ?", audit.ActionUpdate, audit.ResCase).Error)
	assert.Equal(t, "pending", row.Changes["old"].(map[string]any)["status"])
	assert.Equal(t, "completed", row.Changes["new"].(map[string]any)["status"])

	// a second completion keeps the first stamp
	var first models.Case
	require.NoError(t, db.First(&first, "id = ?", cs.ID).Error)
	require.NoError(t, db.Model(&models.Case{}).Where("id = ?", cs.ID).Update("status", models.CaseInProgress).Error)
	resp, _ = testutil.DoJSON(t, app, "PUT", "/api/cases/"+cs.ID.String(), fiber.Map{"status": "completed"})
	require.Equal(t, 200, resp.StatusCode)
	var again models.Case
	require.NoError(t, db.First(&again, "id = ?", cs.ID).Error)
	assert.True(t, first.CompletionDate.Equal(*again.CompletionDate))
}

func TestUpdate_ForwardOnlyPolicy(t *testing.T) {
	db := testutil.OpenDB(t)
	lawyer := testutil.SeedUser(t, db, models.RoleLawyer)
	client := testutil.SeedUser(t, db, models.RoleIndividual)
	cs := testutil.SeedCase(t, db, client.ID, func(c *models.Case) { c.Status = models.CaseWaitingCourt })
	app := newTestApp(newHandler(db, casestate.ForwardOnly{}), testutil.Actor(lawyer))

	resp, body := testutil.DoJSON(t, app, "PUT", "/api/cases/"+cs.ID.String(), fiber.Map{"status": "pending"})
	require.Equal(t, 400, resp.StatusCode)
	assert.Contains(t, body["errors"], "status")

	resp, _ = testutil.DoJSON(t, app, "PUT", "/api/cases/"+cs.ID.String(), fiber.Map{"status": "archived"})
	assert.Equal(t, 200, resp.StatusCode)
}

func TestUpdate_ClientForbidden(t *testing.T) {
	db := testutil.OpenDB(t)
	client := testutil.SeedUser(t, db, models.RoleIndividual)
	cs := testutil.SeedCase(t, db, client.ID)
	app := newTestApp(newHandler(db, nil), testutil.Actor(client))

	resp, _ := testutil.DoJSON(t, app, "PUT", "/api/cases/"+cs.ID.String(), fiber.Map{"title": "mine now"})
	assert.Equal(t, 403, resp.StatusCode)
	assert.Zero(t, countAudit(t, db, audit.ActionUpdate, audit.ResCase))
}

func TestUpdate_ReplacesStages(t *testing.T) {
	db := testutil.OpenDB(t)
	admin := testutil.SeedUser(t, db, models.RoleAdmin)
	client := testutil.SeedUser(t, db, models.RoleIndividual)
	cs := withStages(t, db, testutil.SeedCase(t, db, client.ID))
	app := newTestApp(newHandler(db, nil), testutil.Actor(admin))

	resp, body := testutil.DoJSON(t, app, "PUT", "/api/cases/"+cs.ID.String(), fiber.Map{
		"stages": []fiber.Map{
			{"id": "mediation", "title": "Mediation", "status": "completed", "order": 1},
			{"id": "hearing", "title": "Hearings", "status": "current", "order": 2},
		},
	})
	require.Equal(t, 200, resp.StatusCode, body)
	stages := body["stages"].([]any)
	require.Len(t, stages, 2)
	assert.Equal(t, "mediation", stages[0].(map[string]any)["id"])

	var n int64
	require.NoError(t, db.Model(&models.CaseStage{}).Where("case_id = ?", cs.ID).Count(&n).Error)
	assert.EqualValues(t, 2, n)
	// no status change, no notification
	assert.Zero(t, countNotifications(t, db, client.ID))
}

func TestDelete_AdminOnlyAndDetaches(t *testing.T) {
	db := testutil.OpenDB(t)
	admin := testutil.SeedUser(t, db, models.RoleAdmin)
	lawyer := testutil.SeedUser(t, db, models.RoleLawyer)
	client := testutil.SeedUser(t, db, models.RoleIndividual)
	cs := withStages(t, db, testutil.SeedCase(t, db, client.ID))

	doc := models.Document{
		Filename: "x.pdf", OriginalFilename: "petition.pdf", StorageKey: "case/x.pdf", FileSize: 3,
		MimeType: "application/pdf", DocumentType: models.DocPetition, UserID: lawyer.ID, CaseID: &cs.ID,
	}
	require.NoError(t, db.Create(&doc).Error)
	require.NoError(t, db.Create(&models.TimelineEvent{
		CaseID: cs.ID, Title: "Filed", EventDate: time.Now(), EventType: models.EventGeneric, CreatedByID: lawyer.ID,
	}).Error)

	resp, _ := testutil.DoJSON(t, newTestApp(newHandler(db, nil), testutil.Actor(lawyer)), "DELETE", "/api/cases/"+cs.ID.String(), nil)
	require.Equal(t, 403, resp.StatusCode)

	resp, _ = testutil.DoJSON(t, newTestApp(newHandler(db, nil), testutil.Actor(admin)), "DELETE", "/api/cases/"+cs.ID.String(), nil)
	require.Equal(t, 204, resp.StatusCode)

	var n int64
	require.NoError(t, db.Model(&models.Case{}).Where("id = ?", cs.ID).Count(&n).Error)
	assert.Zero(t, n)
	require.NoError(t, db.Model(&models.CaseStage{}).Where("case_id = ?", cs.ID).Count(&n).Error)
	assert.Zero(t, n)
	require.NoError(t, db.Model(&models.TimelineEvent{}).Where("case_id = ?", cs.ID).Count(&n).Error)
	assert.Zero(t, n)

	var kept models.Document
	require.NoError(t, db.First(&kept, "id = ?", doc.ID).Error)
	assert.Nil(t, kept.CaseID)
	assert.EqualValues(t, 1, countAudit(t, db, audit.ActionDelete, audit.ResCase))
}

/* ============================================================================
   Timeline
   ============================================================================ */

func TestTimeline(t *testing.T) {
	db := testutil.OpenDB(t)
	lawyer := testutil.SeedUser(t, db, models.RoleLawyer)
	client := testutil.SeedUser(t, db, models.RoleIndividual)
	cs := withStages(t, db, testutil.SeedCase(t, db, client.ID))
	staffApp := newTestApp(newHandler(db, nil), testutil.Actor(lawyer))
	clientApp := newTestApp(newHandler(db, nil), testutil.Actor(client))
	path := "/api/cases/" + cs.ID.String() + "/timeline"

	t.Run("unknown stage", func(t *testing.T) {
		resp, body := testutil.DoJSON(t, staffApp, "POST", path, fiber.Map{
			"title": "Hearing", "event_date": time.Now(), "event_type": "hearing", "stage_id": "nope",
		})
		require.Equal(t, 400, resp.StatusCode)
		assert.Contains(t, body["errors"], "stage_id")
	})

	t.Run("client cannot add", func(t *testing.T) {
		resp, _ := testutil.DoJSON(t, clientApp, "POST", path, fiber.Map{
			"title": "Mine", "event_date": time.Now(), "event_type": "generic",
		})
		assert.Equal(t, 403, resp.StatusCode)
	})

	t.Run("staff adds and client lists newest first", func(t *testing.T) {
		older := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
		newer := older.AddDate(0, 1, 0)
		for _, ev := range []fiber.Map{
			{"title": "Filed", "event_date": older, "event_type": "document", "stage_id": "filing"},
			{"title": "First hearing", "event_date": newer, "event_type": "hearing", "stage_id": "hearing"},
		} {
			resp, body := testutil.DoJSON(t, staffApp, "POST", path, ev)
			require.Equal(t, 201, resp.StatusCode, body)
			assert.Equal(t, lawyer.ID.String(), body["created_by"])
		}

		resp, err := clientApp.Test(httptest.NewRequest("GET", path, nil), -1)
		require.NoError(t, err)
		require.Equal(t, 200, resp.StatusCode)
		var events []models.TimelineEvent
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&events))
		require.Len(t, events, 2)
		assert.Equal(t, "First hearing", events[0].Title)

		assert.EqualValues(t, 2, countNotifications(t, db, client.ID))
		assert.EqualValues(t, 2, countAudit(t, db, audit.ActionCreate, audit.ResTimelineEvent))
	})

	t.Run("events are immutable", func(t *testing.T) {
		var ev models.TimelineEvent
		require.NoError(t, db.First(&ev, "case_id = ?", cs.ID).Error)
		err := db.Model(&ev).Update("title", "changed").Error
		assert.ErrorIs(t, err, models.ErrImmutable)
	})
}
