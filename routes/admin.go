package routes

import (
	"net/http"
	"time"

	"github.com/suporteanfitriao-svg/upkeep-beacon-sub002/models"
	"github.com/suporteanfitriao-svg/upkeep-beacon-sub002/storage"
	"github.com/suporteanfitriao-svg/upkeep-beacon-sub002/utils"

	"github.com/kataras/iris/v12"
)

// GET /api/admin/audit
func AdminListAuditLogs(ctx iris.Context) {
	page := ctx.URLParamIntDefault("page", 1)
	perPage := ctx.URLParamIntDefault("per_page", 50)
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}

	q := storage.DB.Model(&models.AuditLog{})
	if action := ctx.URLParamDefault("action", ""); action != "" {
		q = q.Where("action = ?", action)
	}
	if resourceType := ctx.URLParamDefault("resource_type", ""); resourceType != "" {
		q = q.Where("resource_type = ?", resourceType)
	}
	if resourceID := ctx.URLParamIntDefault("resource_id", 0); resourceID > 0 {
		q = q.Where("resource_id = ?", resourceID)
	}
	if dateFrom := ctx.URLParamDefault("date_from", ""); dateFrom != "" {
		if t, err := time.Parse(time.RFC3339, dateFrom); err == nil {
			q = q.Where("created_at >= ?", t)
		}
	}

	var total int64
	q.Count(&total)

	var logs []models.AuditLog
	if err := q.Offset((page - 1) * perPage).Limit(perPage).Order("created_at DESC").Find(&logs).Error; err != nil {
		utils.JSONError(ctx, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	utils.JSONPage(ctx, logs, page, perPage, total)
}

// GET /api/admin/users
func AdminListUsers(ctx iris.Context) {
	page := ctx.URLParamIntDefault("page", 1)
	perPage := ctx.URLParamIntDefault("per_page", 25)
	if perPage <= 0 || perPage > 100 {
		perPage = 25
	}

	q := storage.DB.Model(&models.User{})
	if role := ctx.URLParamDefault("role", ""); role != "" {
		q = q.Where("role = ?", role)
	}

	var total int64
	q.Count(&total)

	var users []models.User
	if err := q.Offset((page - 1) * perPage).Limit(perPage).Order("first_name ASC").Find(&users).Error; err != nil {
		utils.JSONError(ctx, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	utils.JSONPage(ctx, users, page, perPage, total)
}

// GET /api/tasks/:id/history returns the audit trail for one task.
func GetTaskHistory(ctx iris.Context) {
	id, err := ctx.Params().GetUint("id")
	if err != nil {
		utils.JSONError(ctx, http.StatusBadRequest, "invalid_id", "invalid id")
		return
	}
	var task models.CleaningTask
	if err := storage.DB.First(&task, id).Error; err != nil {
		utils.JSONError(ctx, http.StatusNotFound, "not_found", "task not found")
		return
	}

	entries, err := task.HistoryEntries()
	if err != nil {
		utils.JSONError(ctx, http.StatusInternalServerError, "history_unreadable", err.Error())
		return
	}
	ctx.JSON(iris.Map{"data": entries, "meta": iris.Map{"count": len(entries)}, "links": iris.Map{}})
}
