package routes

import (
	"errors"
	"net/http"

	"github.com/suporteanfitriao-svg/upkeep-beacon-sub002/models"
	"github.com/suporteanfitriao-svg/upkeep-beacon-sub002/services"
	"github.com/suporteanfitriao-svg/upkeep-beacon-sub002/storage"
	"github.com/suporteanfitriao-svg/upkeep-beacon-sub002/utils"

	"github.com/kataras/iris/v12"
)

func ListTasks(ctx iris.Context) {
	page := ctx.URLParamIntDefault("page", 1)
	perPage := ctx.URLParamIntDefault("per_page", 25)
	if perPage <= 0 || perPage > 100 {
		perPage = 25
	}

	claims := utils.Claims(ctx)
	q := storage.DB.Model(&models.CleaningTask{}).Where("is_active = ?", true)

	// Workers see the open pool plus their own tasks; admins see everything.
	if claims != nil && !utils.IsAdminRole(claims.Role) {
		q = q.Where("assigned_to_id = ? OR assigned_to_id IS NULL", claims.ID)
	}
	if status := ctx.URLParamDefault("status", ""); status != "" {
		q = q.Where("status = ?", status)
	}
	if propertyID := ctx.URLParamIntDefault("property_id", 0); propertyID > 0 {
		q = q.Where("property_id = ?", propertyID)
	}

	var total int64
	q.Count(&total)

	var tasks []models.CleaningTask
	if err := q.Offset((page - 1) * perPage).Limit(perPage).Order("check_out ASC").Find(&tasks).Error; err != nil {
		utils.JSONError(ctx, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	utils.JSONPage(ctx, tasks, page, perPage, total)
}

func GetTask(ctx iris.Context) {
	id, err := ctx.Params().GetUint("id")
	if err != nil {
		utils.JSONError(ctx, http.StatusBadRequest, "invalid_id", "invalid id")
		return
	}
	var task models.CleaningTask
	if err := storage.DB.Preload("Property").Preload("Reservation").First(&task, id).Error; err != nil {
		utils.JSONError(ctx, http.StatusNotFound, "not_found", "task not found")
		return
	}
	ctx.JSON(&task)
}

type StartTaskInput struct {
	PermissionState string  `json:"permissionState" validate:"required,oneof=prompt granted denied unavailable"`
	Lat             float64 `json:"lat"`
	Lng             float64 `json:"lng"`
	Override        bool    `json:"override"`
}

type RevertTaskInput struct {
	TargetStatus string `json:"targetStatus" validate:"required,oneof=waiting released cleaning"`
	Reason       string `json:"reason" validate:"required"`
}

type AssignTaskInput struct {
	AssigneeID uint `json:"assigneeID" validate:"required"`
}

// ReleaseTask is the manual administrative release.
func ReleaseTask(ctx iris.Context) {
	runTransition(ctx, services.ActionRelease, services.TransitionRequest{
		Payload: map[string]interface{}{"trigger": "manual"},
	})
}

// StartTask moves a released task into cleaning, gated on the worker's
// device position.
func StartTask(ctx iris.Context) {
	var input StartTaskInput
	if err := ctx.ReadJSON(&input); err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	provider := services.StaticPositionProvider{
		Result: services.PositionResult{
			State: services.PermissionState(input.PermissionState),
			Lat:   input.Lat,
			Lng:   input.Lng,
		},
	}
	runTransition(ctx, services.ActionStart, services.TransitionRequest{
		Position: provider,
		Override: input.Override,
	})
}

func CompleteTask(ctx iris.Context) {
	runTransition(ctx, services.ActionComplete, services.TransitionRequest{})
}

func RevertTask(ctx iris.Context) {
	var input RevertTaskInput
	if err := ctx.ReadJSON(&input); err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}
	runTransition(ctx, services.ActionRevert, services.TransitionRequest{
		TargetStatus: input.TargetStatus,
		Reason:       input.Reason,
	})
}

func AssignTask(ctx iris.Context) {
	var input AssignTaskInput
	if err := ctx.ReadJSON(&input); err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	var assignee models.User
	if err := storage.DB.First(&assignee, input.AssigneeID).Error; err != nil {
		utils.JSONError(ctx, http.StatusNotFound, "not_found", "assignee not found")
		return
	}

	runTransition(ctx, services.ActionAssign, services.TransitionRequest{
		AssigneeID:   assignee.ID,
		AssigneeName: assignee.DisplayName(),
	})
}

func AcknowledgeTask(ctx iris.Context) {
	runTransition(ctx, services.ActionAcknowledge, services.TransitionRequest{})
}

// runTransition dispatches through the state machine and maps guard
// violations to actionable 4xx responses.
func runTransition(ctx iris.Context, action string, req services.TransitionRequest) {
	id, err := ctx.Params().GetUint("id")
	if err != nil {
		utils.JSONError(ctx, http.StatusBadRequest, "invalid_id", "invalid id")
		return
	}

	task, err := taskMachine.Transition(ctx.Request().Context(), id, action, actorFromContext(ctx), req)
	if err != nil {
		var gerr *services.GuardError
		if errors.As(err, &gerr) {
			status := http.StatusConflict
			if gerr.Retryable {
				status = http.StatusServiceUnavailable
			}
			ctx.StatusCode(status)
			ctx.JSON(iris.Map{"error": gerr.Code, "message": gerr.Message, "retryable": gerr.Retryable})
			return
		}
		utils.JSONError(ctx, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	utils.Audit(ctx, "task_"+action, "task", task.ID, nil, iris.Map{"status": task.Status})
	ctx.JSON(task)
}

// DeactivateTask soft-deactivates a task; the row and its history stay.
func DeactivateTask(ctx iris.Context) {
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

	inactive := false
	before := task.Status
	task.IsActive = &inactive
	if err := storage.DB.Save(&task).Error; err != nil {
		utils.JSONError(ctx, http.StatusInternalServerError, "server_error", "failed to deactivate task")
		return
	}

	utils.Audit(ctx, "task_deactivate", "task", task.ID, iris.Map{"status": before}, nil)
	ctx.JSON(&task)
}
