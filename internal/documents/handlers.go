package documents

import (
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lexdesk/portal-backend/internal/audit"
	"github.com/lexdesk/portal-backend/internal/auth"
	"github.com/lexdesk/portal-backend/internal/notify"
	"github.com/lexdesk/portal-backend/internal/permissions"
	"github.com/lexdesk/portal-backend/internal/storage"
	"github.com/lexdesk/portal-backend/pkg/apperr"
	"github.com/lexdesk/portal-backend/pkg/models"
	"github.com/lexdesk/portal-backend/pkg/utils"
	"github.com/lexdesk/portal-backend/pkg/validation"
)

var allowedExt = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true,
	".jpg": true, ".jpeg": true, ".png": true,
	".xlsx": true, ".xls": true, ".txt": true,
}

// UploadRequest holds the non-file multipart fields.
type UploadRequest struct {
	CaseID            string `form:"case_id" validate:"omitempty,uuid"`
	DocumentType      string `form:"document_type" validate:"omitempty,oneof=contract petition decision evidence correspondence invoice other"`
	Description       string `form:"description" validate:"max=2000"`
	IsVisibleToClient *bool  `form:"is_visible_to_client"`
}

type Handler struct {
	db       *gorm.DB
	store    storage.BlobStore
	audit    *audit.Recorder
	notify   *notify.Service
	log      *slog.Logger
	maxBytes int64
}

func NewHandler(db *gorm.DB, store storage.BlobStore, rec *audit.Recorder, ns *notify.Service, log *slog.Logger, maxBytes int64) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{db: db, store: store, audit: rec, notify: ns, log: log, maxBytes: maxBytes}
}

func (h *Handler) findCase(c *fiber.Ctx, id uuid.UUID) (*models.Case, error) {
	var cs models.Case
	if err := h.db.WithContext(c.UserContext()).First(&cs, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Case not found")
		}
		return nil, err
	}
	return &cs, nil
}

// loadDocument resolves :id and its parent case, then applies the
// client visibility rule.
func (h *Handler) loadDocument(c *fiber.Ctx, actor permissions.Actor) (*models.Document, error) {
	id, err := utils.ParamUUID(c, "id", "Document")
	if err != nil {
		return nil, err
	}
	var doc models.Document
	if err := h.db.WithContext(c.UserContext()).Preload("Case").First(&doc, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Document not found")
		}
		return nil, err
	}
	if !permissions.CanAccessDocument(actor, &doc, doc.Case) {
		return nil, apperr.Forbidden("You do not have access to this document")
	}
	return &doc, nil
}

/* ================================ Upload ================================ */

// Upload Document godoc
// @Summary      Upload document
// @Description  Staff upload anywhere; clients only to their own cases or unattached
// @Tags         documents
// @Security     BearerAuth
// @Accept       multipart/form-data
// @Produce      json
// @Param        file                  formData  file    true   "pdf, doc(x), jpg, png, xls(x), txt"
// @Param        case_id               formData  string  false  "case id (uuid)"
// @Param        document_type         formData  string  false  "contract|petition|decision|evidence|correspondence|invoice|other"
// @Param        description           formData  string  false  "description"
// @Param        is_visible_to_client  formData  bool    false  "defaults to true"
// @Success      201  {object}  models.Document
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /documents/upload [post]
func (h *Handler) Upload(c *fiber.Ctx) error {
	actor := auth.MustActor(c)

	var in UploadRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "multipart form required")
	}
	if err := validation.Check(in); err != nil {
		return err
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return apperr.Field("file", "This field is required")
	}
	name := filepath.Base(fh.Filename)
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case !allowedExt[ext]:
		return apperr.Field("file", "File type is not allowed")
	case fh.Size <= 0:
		return apperr.Field("file", "File is empty")
	case h.maxBytes > 0 && fh.Size > h.maxBytes:
		return apperr.Field("file", fmt.Sprintf("File must not exceed %d MB", h.maxBytes>>20))
	}

	var parent *models.Case
	var caseID *uuid.UUID
	if in.CaseID != "" {
		id := uuid.MustParse(in.CaseID)
		if parent, err = h.findCase(c, id); err != nil {
			return err
		}
		caseID = &id
	}
	if !permissions.CanUploadDocument(actor, parent) {
		return apperr.Forbidden("You cannot upload to this case")
	}

	docType := models.DocOther
	if in.DocumentType != "" {
		docType = models.DocumentType(in.DocumentType)
	}
	visible := true
	if in.IsVisibleToClient != nil && permissions.IsStaff(actor) {
		visible = *in.IsVisibleToClient
	}
	ct := fh.Header.Get(fiber.HeaderContentType)
	if ct == "" || ct == fiber.MIMEOctetStream {
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			ct = byExt
		}
	}
	if ct == "" {
		ct = fiber.MIMEOctetStream
	}

	ctx := c.UserContext()
	key := storage.MakeObjectKey(caseID, actor.ID, name)
	f, err := fh.Open()
	if err != nil {
		return err
	}
	defer f.Close()
	if err := h.store.Put(ctx, key, f, fh.Size, ct); err != nil {
		return err
	}

	doc := models.Document{
		Filename:          path.Base(key),
		OriginalFilename:  name,
		StorageKey:        key,
		FileSize:          fh.Size,
		MimeType:          ct,
		DocumentType:      docType,
		Description:       strings.TrimSpace(in.Description),
		IsVisibleToClient: visible,
		UserID:            actor.ID,
		CaseID:            caseID,
	}

	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&doc).Error; err != nil {
			return err
		}

		msg := notify.Message{
			Title:    "New document",
			Type:     models.NotifyDocumentUpload,
			Priority: models.PriorityMedium,
			CaseID:   caseID,
			Related:  &notify.Related{Kind: "document", ID: doc.ID, CaseID: caseID},
		}
		switch {
		case permissions.IsStaff(actor) && visible && parent != nil:
			msg.Message = fmt.Sprintf("A new document (%s) was added to case %s.", name, parent.CaseNumber)
			if _, err := h.notify.NotifyUser(ctx, tx, parent.ClientID, msg); err != nil {
				return err
			}
		case !permissions.IsStaff(actor):
			msg.Message = fmt.Sprintf("A client uploaded %s.", name)
			if parent != nil {
				msg.Message = fmt.Sprintf("A client uploaded %s to case %s.", name, parent.CaseNumber)
			}
			if _, err := h.notify.NotifyAllStaff(ctx, tx, msg); err != nil {
				return err
			}
		}

		_, err := h.audit.Record(ctx, tx, audit.Entry{
			Actor: actor, Action: audit.ActionUpload, Resource: audit.ResDocument,
			ResourceID: audit.ID(doc.ID), Description: "Uploaded " + name,
			Changes: map[string]any{"new": map[string]any{
				"filename": name, "case_id": caseID, "document_type": docType, "file_size": fh.Size,
			}},
			Meta: audit.MetaFrom(c),
		})
		return err
	})
	if err != nil {
		if _, derr := h.store.Delete(ctx, key); derr != nil {
			h.log.Warn("orphaned blob after failed upload", "key", key, "error", derr)
		}
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(doc)
}

/* ================================= List ================================= */

// List Documents godoc
// @Summary      List documents
// @Description  Staff see everything; clients see visible documents they uploaded or that sit on their cases
// @Tags         documents
// @Security     BearerAuth
// @Produce      json
// @Param        case_id        query string false "case id"
// @Param        document_type  query string false "document type"
// @Param        page           query int    false "page"
// @Param        pageSize       query int    false "pageSize"
// @Success      200  {object}  models.Page[models.Document]
// @Router       /documents [get]
func (h *Handler) List(c *fiber.Ctx) error {
	actor := auth.MustActor(c)
	page, size := utils.ParsePage(c)
	ctx := c.UserContext()

	q := h.db.WithContext(ctx).Model(&models.Document{})
	if !permissions.IsStaff(actor) {
		own := h.db.Model(&models.Case{}).Select("id").Where("client_id = ?", actor.ID)
		q = q.Where("is_visible_to_client = ?", true).
			Where(h.db.Where("user_id = ?", actor.ID).Or("case_id IN (?)", own))
	}
	caseID, err := utils.QueryUUID(c, "case_id")
	if err != nil {
		return err
	}
	if caseID != nil {
		q = q.Where("case_id = ?", *caseID)
	}
	if t := c.Query("document_type"); t != "" {
		q = q.Where("document_type = ?", t)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return err
	}
	items := []models.Document{}
	if err := q.Order("uploaded_at DESC").
		Offset(utils.Offset(page, size)).Limit(size).
		Find(&items).Error; err != nil {
		return err
	}
	return c.JSON(models.Page[models.Document]{
		Page: page, PageSize: size, Total: total, Pages: utils.Pages(total, size), Items: items,
	})
}

// Get Document godoc
// @Summary      Document metadata
// @Tags         documents
// @Security     BearerAuth
// @Produce      json
// @Param        id   path string true "document id (uuid)"
// @Success      200  {object}  models.Document
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /documents/{id} [get]
func (h *Handler) Get(c *fiber.Ctx) error {
	doc, err := h.loadDocument(c, auth.MustActor(c))
	if err != nil {
		return err
	}
	return c.JSON(doc)
}

/* =============================== Download =============================== */

// Download Document godoc
// @Summary      Download document
// @Tags         documents
// @Security     BearerAuth
// @Produce      octet-stream
// @Param        id   path string true "document id (uuid)"
// @Success      200  {file}    file
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /documents/{id}/download [get]
func (h *Handler) Download(c *fiber.Ctx) error {
	actor := auth.MustActor(c)
	doc, err := h.loadDocument(c, actor)
	if err != nil {
		return err
	}

	ctx := c.UserContext()
	rc, err := h.store.Get(ctx, doc.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.NotFound("File not found in storage")
		}
		return err
	}

	if _, err := h.audit.Record(ctx, nil, audit.Entry{
		Actor: actor, Action: audit.ActionDownload, Resource: audit.ResDocument,
		ResourceID: audit.ID(doc.ID), Description: "Downloaded " + doc.OriginalFilename,
		Meta: audit.MetaFrom(c),
	}); err != nil {
		rc.Close()
		return err
	}

	c.Attachment(doc.OriginalFilename)
	c.Set(fiber.HeaderContentType, doc.MimeType)
	// the response body stream closes rc once written
	return c.SendStream(rc, int(doc.FileSize))
}

/* ================================ Delete ================================ */

// Delete Document godoc
// @Summary      Delete document
// @Description  Staff only. The row goes first; the blob is removed afterwards.
// @Tags         documents
// @Security     BearerAuth
// @Param        id   path string true "document id (uuid)"
// @Success      204
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /documents/{id} [delete]
func (h *Handler) Delete(c *fiber.Ctx) error {
	actor := auth.MustActor(c)
	doc, err := h.loadDocument(c, actor)
	if err != nil {
		return err
	}
	if !permissions.CanDeleteDocument(actor) {
		return apperr.Forbidden("Only staff can delete documents")
	}

	ctx := c.UserContext()
	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.Document{}, "id = ?", doc.ID).Error; err != nil {
			return err
		}
		_, err := h.audit.Record(ctx, tx, audit.Entry{
			Actor: actor, Action: audit.ActionDelete, Resource: audit.ResDocument,
			ResourceID: audit.ID(doc.ID), Description: "Deleted " + doc.OriginalFilename,
			Changes: map[string]any{"old": map[string]any{
				"filename": doc.OriginalFilename, "case_id": doc.CaseID, "storage_key": doc.StorageKey,
			}},
			Meta: audit.MetaFrom(c),
		})
		return err
	})
	if err != nil {
		return err
	}

	if _, err := h.store.Delete(ctx, doc.StorageKey); err != nil {
		h.log.Warn("blob delete failed", "key", doc.StorageKey, "error", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
