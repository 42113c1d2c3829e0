package notify_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/lexdesk/portal-backend/internal/notify"
	"github.com/lexdesk/portal-backend/internal/testutil"
	"github.com/lexdesk/portal-backend/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveLink(t *testing.T) {
	id := uuid.New()
	caseID := uuid.New()
	assert.Equal(t, "/cases/"+id.String(), notify.DeriveLink(&notify.Related{Kind: "case", ID: id}))
	assert.Equal(t, "/documents?case_id="+caseID.String(), notify.DeriveLink(&notify.Related{Kind: "document", ID: id, CaseID: &caseID}))
	assert.Equal(t, "/documents", notify.DeriveLink(&notify.Related{Kind: "document", ID: id}))
	assert.Equal(t, "/payments", notify.DeriveLink(&notify.Related{Kind: "payment", ID: id}))
	assert.Equal(t, "", notify.DeriveLink(nil))
}

func TestNotifyUserDefaults(t *testing.T) {
	db := testutil.OpenDB(t)
	svc := notify.NewService(db, nil, nil)
	u := testutil.SeedUser(t, db, models.RoleIndividual)
	caseID := uuid.New()

	n, err := svc.NotifyUser(context.Background(), nil, u.ID, notify.Message{
		Title: "Case created", Message: "hello",
		Related: &notify.Related{Kind: "case", ID: caseID},
	})
	require.NoError(t, err)
	assert.Equal(t, models.NotifyInApp, n.Type)
	assert.Equal(t, models.PriorityMedium, n.Priority)
	assert.Equal(t, "/cases/"+caseID.String(), n.Link)
	assert.False(t, n.IsRead)
}

func TestNotifyAllStaffFansOut(t *testing.T) {
	db := testutil.OpenDB(t)
	svc := notify.NewService(db, nil, nil)
	testutil.SeedUser(t, db, models.RoleAdmin)
	testutil.SeedUser(t, db, models.RoleLawyer)
	testutil.SeedUser(t, db, models.RoleLawyer)
	client := testutil.SeedUser(t, db, models.RoleCorporate)

	n, err := svc.NotifyAllStaff(context.Background(), nil, notify.Message{
		Title: "New document", Message: "uploaded", Type: models.NotifyDocumentUpload,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	var rows []models.Notification
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 3)
	seen := map[uuid.UUID]bool{}
	for _, r := range rows {
		assert.Equal(t, "New document", r.Title)
		assert.Equal(t, models.NotifyDocumentUpload, r.Type)
		assert.NotEqual(t, client.ID, r.UserID)
		seen[r.UserID] = true
	}
	assert.Len(t, seen, 3)
}

func TestNotifyAllStaffWithNoStaff(t *testing.T) {
	db := testutil.OpenDB(t)
	n, err := notify.NewService(db, nil, nil).NotifyAllStaff(context.Background(), nil, notify.Message{Title: "x", Message: "y"})
	require.NoError(t, err)
	assert.Zero(t, n)
}
