// Package notifications serves a user's own in-app notifications.
package notifications

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/lexdesk/portal-backend/internal/auth"
	"github.com/lexdesk/portal-backend/pkg/apperr"
	"github.com/lexdesk/portal-backend/pkg/models"
	"github.com/lexdesk/portal-backend/pkg/utils"
)

type Handler struct{ db *gorm.DB }

func NewHandler(db *gorm.DB) *Handler { return &Handler{db: db} }

type UnreadCountResponse struct {
	Unread int64 `json:"unread"`
}

type MarkAllResponse struct {
	Updated int64 `json:"updated"`
}

// List Notifications godoc
// @Summary      My notifications
// @Description  Newest first
// @Tags         notifications
// @Security     BearerAuth
// @Produce      json
// @Param        unread_only  query bool false "only unread"
// @Param        page         query int  false "page"
// @Param        pageSize     query int  false "pageSize"
// @Success      200  {object}  models.Page[models.Notification]
// @Router       /notifications [get]
func (h *Handler) List(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	page, size := utils.ParsePage(c)

	q := h.db.WithContext(c.UserContext()).Model(&models.Notification{}).Where("user_id = ?", userID)
	if c.QueryBool("unread_only") {
		q = q.Where("is_read = ?", false)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return err
	}
	items := []models.Notification{}
	if err := q.Order("created_at DESC").
		Offset(utils.Offset(page, size)).Limit(size).
		Find(&items).Error; err != nil {
		return err
	}
	return c.JSON(models.Page[models.Notification]{
		Page: page, PageSize: size, Total: total, Pages: utils.Pages(total, size), Items: items,
	})
}

// Unread Count godoc
// @Summary      Unread notification count
// @Tags         notifications
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  UnreadCountResponse
// @Router       /notifications/unread-count [get]
func (h *Handler) UnreadCount(c *fiber.Ctx) error {
	var n int64
	if err := h.db.WithContext(c.UserContext()).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", auth.MustUserID(c), false).
		Count(&n).Error; err != nil {
		return err
	}
	return c.JSON(UnreadCountResponse{Unread: n})
}

// Mark Read godoc
// @Summary      Mark one notification read
// @Description  Other users' notifications are reported as not found
// @Tags         notifications
// @Security     BearerAuth
// @Produce      json
// @Param        id   path string true "notification id (uuid)"
// @Success      200  {object}  models.Notification
// @Failure      404  {object}  models.ErrorResponse
// @Router       /notifications/{id}/read [put]
func (h *Handler) MarkRead(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	id, err := utils.ParamUUID(c, "id", "Notification")
	if err != nil {
		return err
	}

	var n models.Notification
	if err := h.db.WithContext(c.UserContext()).
		First(&n, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("Notification not found")
		}
		return err
	}
	if n.IsRead {
		return c.JSON(n)
	}

	now := time.Now().UTC()
	if err := h.db.WithContext(c.UserContext()).Model(&models.Notification{}).
		Where("id = ?", n.ID).
		Updates(map[string]any{"is_read": true, "read_at": now}).Error; err != nil {
		return err
	}
	n.IsRead, n.ReadAt = true, &now
	return c.JSON(n)
}

// Mark All Read godoc
// @Summary      Mark all my notifications read
// @Tags         notifications
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  MarkAllResponse
// @Router       /notifications/read-all [put]
func (h *Handler) MarkAllRead(c *fiber.Ctx) error {
	res := h.db.WithContext(c.UserContext()).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", auth.MustUserID(c), false).
		Updates(map[string]any{"is_read": true, "read_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	return c.JSON(MarkAllResponse{Updated: res.RowsAffected})
}
