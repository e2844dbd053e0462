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

type ChecklistSaveInput struct {
	Checklist []models.ChecklistItem `json:"checklist" validate:"required"`
}

type PhotoUploadInput struct {
	Image string `json:"image" validate:"required"` // base64 payload
}

// ScheduleChecklistSave buffers a checklist edit for one category. The write
// is debounced and coalesced; the response only confirms scheduling.
func ScheduleChecklistSave(ctx iris.Context) {
	id, err := ctx.Params().GetUint("id")
	if err != nil {
		utils.JSONError(ctx, http.StatusBadRequest, "invalid_id", "invalid id")
		return
	}
	category := ctx.Params().Get("category")
	if category == "" {
		utils.JSONError(ctx, http.StatusBadRequest, "invalid_category", "category is required")
		return
	}

	var task models.CleaningTask
	if err := storage.DB.First(&task, id).Error; err != nil {
		utils.JSONError(ctx, http.StatusNotFound, "not_found", "task not found")
		return
	}
	if task.Status != models.StatusCleaning {
		utils.JSONError(ctx, http.StatusConflict, "not_cleaning", "checklist edits are only accepted while cleaning")
		return
	}

	var input ChecklistSaveInput
	if err := ctx.ReadJSON(&input); err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	items := input.Checklist
	coordinator := autosaves.For(id)
	coordinator.Schedule(category, func() []models.ChecklistItem { return items }, actorFromContext(ctx))

	ctx.StatusCode(http.StatusAccepted)
	ctx.JSON(iris.Map{"scheduled": true, "category": category})
}

// FlushCategory force-commits one category immediately.
func FlushCategory(ctx iris.Context) {
	id, err := ctx.Params().GetUint("id")
	if err != nil {
		utils.JSONError(ctx, http.StatusBadRequest, "invalid_id", "invalid id")
		return
	}
	category := ctx.Params().Get("category")

	if err := autosaves.For(id).Flush(category); err != nil {
		utils.JSONError(ctx, http.StatusInternalServerError, "save_failed", err.Error())
		return
	}
	ctx.JSON(iris.Map{"flushed": true, "category": category})
}

// FlushAllCategories force-commits every pending category in one write.
// Called by the device before navigation away from the task.
func FlushAllCategories(ctx iris.Context) {
	id, err := ctx.Params().GetUint("id")
	if err != nil {
		utils.JSONError(ctx, http.StatusBadRequest, "invalid_id", "invalid id")
		return
	}

	if err := autosaves.For(id).FlushAll(); err != nil {
		utils.JSONError(ctx, http.StatusInternalServerError, "save_failed", err.Error())
		return
	}
	ctx.JSON(iris.Map{"flushed": true})
}

// GetProgress reports the autosave state per category.
func GetProgress(ctx iris.Context) {
	id, err := ctx.Params().GetUint("id")
	if err != nil {
		utils.JSONError(ctx, http.StatusBadRequest, "invalid_id", "invalid id")
		return
	}

	coordinator := autosaves.For(id)
	ctx.JSON(iris.Map{
		"pending":   coordinator.PendingCategories(),
		"saving":    coordinator.IsSaving(),
		"lastSaved": coordinator.LastSaved(),
	})
}

// UploadCategoryPhoto records a photo for one checklist category.
func UploadCategoryPhoto(ctx iris.Context) {
	id, err := ctx.Params().GetUint("id")
	if err != nil {
		utils.JSONError(ctx, http.StatusBadRequest, "invalid_id", "invalid id")
		return
	}
	category := ctx.Params().Get("category")
	if category == "" {
		utils.JSONError(ctx, http.StatusBadRequest, "invalid_category", "category is required")
		return
	}

	var task models.CleaningTask
	if err := storage.DB.First(&task, id).Error; err != nil {
		utils.JSONError(ctx, http.StatusNotFound, "not_found", "task not found")
		return
	}
	if task.Status != models.StatusCleaning {
		utils.JSONError(ctx, http.StatusConflict, "not_cleaning", "photos are only accepted while cleaning")
		return
	}

	var input PhotoUploadInput
	if err := ctx.ReadJSON(&input); err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	url, err := storage.UploadBase64Image(input.Image, fmt.Sprintf("task-%d-%s-%s", id, category, uuid.NewString()))
	if err != nil {
		utils.JSONError(ctx, http.StatusBadGateway, "upload_failed", err.Error())
		return
	}

	actor := actorFromContext(ctx)
	photos, err := task.PhotoMap()
	if err != nil {
		utils.JSONError(ctx, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	photos[category] = append(photos[category], models.TaskPhoto{
		URL:        url,
		UploadedAt: time.Now().UTC(),
		UploadedBy: actor.Name,
	})
	if err := task.SetPhotoMap(photos); err != nil {
		utils.JSONError(ctx, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	if err := task.AppendHistory(models.HistoryEntry{
		At:        time.Now().UTC(),
		ActorID:   actor.ID,
		ActorName: actor.Name,
		ActorRole: actor.Role,
		Action:    "photo_added",
		From:      task.Status,
		To:        task.Status,
		Payload:   map[string]interface{}{"category": category, "url": url},
	}); err != nil {
		utils.JSONError(ctx, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	if err := storage.DB.Save(&task).Error; err != nil {
		utils.JSONError(ctx, http.StatusInternalServerError, "server_error", "failed to record photo")
		return
	}

	ctx.StatusCode(http.StatusCreated)
	ctx.JSON(iris.Map{"url": url, "category": category})
}
