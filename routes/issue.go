package routes

import (
	"fmt"
	"net/http"
	"time"

	"github.com/suporteanfitriao-svg/upkeep-beacon-sub002/models"
	"github.com/suporteanfitriao-svg/upkeep-beacon-sub002/storage"
	"github.com/suporteanfitriao-svg/upkeep-beacon-sub002/utils"

	"github.com/google/uuid"
	"github.com/kataras/iris/v12"
)

type ReportIssueInput struct {
	Category    string `json:"category" validate:"required,max=64"`
	Severity    string `json:"severity" validate:"required,oneof=low medium high"`
	Description string `json:"description" validate:"required"`
	Image       string `json:"image"` // base64, required when the property mandates issue photos
}

type IssueNoteInput struct {
	Text string `json:"text" validate:"required"`
}

type ResolveIssueInput struct {
	Resolution string `json:"resolution" validate:"required"`
}

type AssignIssueInput struct {
	AssigneeID uint `json:"assigneeID" validate:"required"`
}

// ReportIssue lets a worker flag a maintenance problem during a task.
func ReportIssue(ctx iris.Context) {
	taskID, err := ctx.Params().GetUint("id")
	if err != nil {
		utils.JSONError(ctx, http.StatusBadRequest, "invalid_id", "invalid id")
		return
	}

	var task models.CleaningTask
	if err := storage.DB.First(&task, taskID).Error; err != nil {
		utils.JSONError(ctx, http.StatusNotFound, "not_found", "task not found")
		return
	}

	var property models.Property
	if err := storage.DB.First(&property, task.PropertyID).Error; err != nil {
		utils.JSONError(ctx, http.StatusNotFound, "not_found", "property not found")
		return
	}

	var input ReportIssueInput
	if err := ctx.ReadJSON(&input); err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	if property.IssuePhotoRequired && input.Image == "" {
		utils.JSONError(ctx, http.StatusUnprocessableEntity, "issue_photo_required", "this property requires a photo with every reported issue")
		return
	}

	actor := actorFromContext(ctx)
	issue := models.MaintenanceIssue{
		TaskID:       task.ID,
		PropertyID:   task.PropertyID,
		ReportedByID: actor.ID,
		ReportedBy:   actor.Name,
		Category:     input.Category,
		Severity:     input.Severity,
		Description:  input.Description,
		Status:       models.IssueStatusOpen,
	}

	if input.Image != "" {
		url, err := storage.UploadBase64Image(input.Image, fmt.Sprintf("issue-%d-%s", task.ID, uuid.NewString()))
		if err != nil {
			utils.JSONError(ctx, http.StatusBadGateway, "upload_failed", err.Error())
			return
		}
		if err := issue.SetPhotoList([]models.IssuePhoto{{URL: url, UploadedAt: time.Now().UTC()}}); err != nil {
			utils.JSONError(ctx, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
	}

	if err := storage.DB.Create(&issue).Error; err != nil {
		utils.JSONError(ctx, http.StatusInternalServerError, "server_error", "failed to create issue")
		return
	}

	ctx.StatusCode(http.StatusCreated)
	ctx.JSON(&issue)
}

func ListIssues(ctx iris.Context) {
	page := ctx.URLParamIntDefault("page", 1)
	perPage := ctx.URLParamIntDefault("per_page", 25)
	if perPage <= 0 || perPage > 100 {
		perPage = 25
	}

	q := storage.DB.Model(&models.MaintenanceIssue{})
	if status := ctx.URLParamDefault("status", ""); status != "" {
		q = q.Where("status = ?", status)
	}
	if severity := ctx.URLParamDefault("severity", ""); severity != "" {
		q = q.Where("severity = ?", severity)
	}
	if propertyID := ctx.URLParamIntDefault("property_id", 0); propertyID > 0 {
		q = q.Where("property_id = ?", propertyID)
	}

	var total int64
	q.Count(&total)

	var issues []models.MaintenanceIssue
	if err := q.Offset((page - 1) * perPage).Limit(perPage).Order("created_at DESC").Find(&issues).Error; err != nil {
		utils.JSONError(ctx, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	utils.JSONPage(ctx, issues, page, perPage, total)
}

func AssignIssue(ctx iris.Context) {
	issue := loadIssue(ctx)
	if issue == nil {
		return
	}

	var input AssignIssueInput
	if err := ctx.ReadJSON(&input); err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	id := input.AssigneeID
	issue.AssignedToID = &id
	if issue.Status == models.IssueStatusOpen {
		issue.Status = models.IssueStatusInProgress
	}
	if err := storage.DB.Save(issue).Error; err != nil {
		utils.JSONError(ctx, http.StatusInternalServerError, "server_error", "failed to assign issue")
		return
	}

	utils.Audit(ctx, "issue_assign", "issue", issue.ID, nil, iris.Map{"assigneeID": id})
	ctx.JSON(issue)
}

// AddIssueNote appends to the issue's progress note log.
func AddIssueNote(ctx iris.Context) {
	issue := loadIssue(ctx)
	if issue == nil {
		return
	}

	var input IssueNoteInput
	if err := ctx.ReadJSON(&input); err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	actor := actorFromContext(ctx)
	if err := issue.AppendNote(models.IssueNote{
		At:       time.Now().UTC(),
		AuthorID: actor.ID,
		Author:   actor.Name,
		Text:     input.Text,
	}); err != nil {
		utils.JSONError(ctx, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	if err := storage.DB.Save(issue).Error; err != nil {
		utils.JSONError(ctx, http.StatusInternalServerError, "server_error", "failed to save note")
		return
	}
	ctx.JSON(issue)
}

func ResolveIssue(ctx iris.Context) {
	issue := loadIssue(ctx)
	if issue == nil {
		return
	}
	if issue.Status == models.IssueStatusResolved {
		utils.JSONError(ctx, http.StatusConflict, "already_resolved", "issue is already resolved")
		return
	}

	var input ResolveIssueInput
	if err := ctx.ReadJSON(&input); err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	actor := actorFromContext(ctx)
	now := time.Now().UTC()
	issue.Status = models.IssueStatusResolved
	issue.ResolvedAt = &now
	issue.ResolvedByID = &actor.ID
	issue.Resolution = input.Resolution
	if err := storage.DB.Save(issue).Error; err != nil {
		utils.JSONError(ctx, http.StatusInternalServerError, "server_error", "failed to resolve issue")
		return
	}

	utils.Audit(ctx, "issue_resolve", "issue", issue.ID, nil, iris.Map{"resolution": input.Resolution})
	ctx.JSON(issue)
}

func loadIssue(ctx iris.Context) *models.MaintenanceIssue {
	id, err := ctx.Params().GetUint("id")
	if err != nil {
		utils.JSONError(ctx, http.StatusBadRequest, "invalid_id", "invalid id")
		return nil
	}
	var issue models.MaintenanceIssue
	if err := storage.DB.First(&issue, id).Error; err != nil {
		utils.JSONError(ctx, http.StatusNotFound, "not_found", "issue not found")
		return nil
	}
	return &issue
}
