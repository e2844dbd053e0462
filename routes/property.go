package routes

import (
	"encoding/json"
	"net/http"

	"github.com/suporteanfitriao-svg/upkeep-beacon-sub002/models"
	"github.com/suporteanfitriao-svg/upkeep-beacon-sub002/storage"
	"github.com/suporteanfitriao-svg/upkeep-beacon-sub002/utils"

	"github.com/kataras/iris/v12"
	"gorm.io/datatypes"
)

type PropertyInput struct {
	Name         string `json:"name" validate:"required,max=256"`
	AddressLine1 string `json:"addressLine1" validate:"required,max=512"`
	AddressLine2 string `json:"addressLine2" validate:"max=512"`
	City         string `json:"city" validate:"required,max=256"`
	State        string `json:"state" validate:"max=256"`
	Zip          string `json:"zip" validate:"max=32"`
	Country      string `json:"country" validate:"max=256"`

	FeedURL    string `json:"feedURL" validate:"omitempty,url"`
	FeedSource string `json:"feedSource" validate:"omitempty,oneof=airbnb booking vrbo other"`

	ChecklistRequired         *bool `json:"checklistRequired"`
	PhotosPerCategoryRequired *bool `json:"photosPerCategoryRequired"`
	IssuePhotoRequired        *bool `json:"issuePhotoRequired"`
	AutoRelease               *bool `json:"autoRelease"`
	ReleaseLeadMinutes        int   `json:"releaseLeadMinutes" validate:"min=0,max=1440"`

	ChecklistTemplate []models.ChecklistTemplateItem `json:"checklistTemplate"`
	AccessPassword    string                         `json:"accessPassword"`
}

func CreateProperty(ctx iris.Context) {
	var input PropertyInput
	if err := ctx.ReadJSON(&input); err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	property := models.Property{
		Name:               input.Name,
		AddressLine1:       input.AddressLine1,
		AddressLine2:       input.AddressLine2,
		City:               input.City,
		State:              input.State,
		Zip:                input.Zip,
		Country:            input.Country,
		FeedURL:            input.FeedURL,
		FeedSource:         input.FeedSource,
		ReleaseLeadMinutes: input.ReleaseLeadMinutes,
		AccessPassword:     input.AccessPassword,
	}
	applyPropertyFlags(&property, input)

	if len(input.ChecklistTemplate) > 0 {
		raw, _ := json.Marshal(input.ChecklistTemplate)
		property.ChecklistTemplate = datatypes.JSON(raw)
	}

	if err := storage.DB.Create(&property).Error; err != nil {
		utils.JSONError(ctx, http.StatusInternalServerError, "server_error", "failed to create property")
		return
	}

	utils.Audit(ctx, "property_create", "property", property.ID, nil, property)

	// Coordinates come in later; the proximity gate bypasses until then.
	go geocoder.GeocodeProperty(property.ID)

	ctx.StatusCode(http.StatusCreated)
	ctx.JSON(property)
}

func applyPropertyFlags(property *models.Property, input PropertyInput) {
	property.ChecklistRequired = input.ChecklistRequired == nil || *input.ChecklistRequired
	if input.PhotosPerCategoryRequired != nil {
		property.PhotosPerCategoryRequired = *input.PhotosPerCategoryRequired
	}
	if input.IssuePhotoRequired != nil {
		property.IssuePhotoRequired = *input.IssuePhotoRequired
	}
	property.AutoRelease = input.AutoRelease == nil || *input.AutoRelease
}

func GetProperty(ctx iris.Context) {
	id, err := ctx.Params().GetUint("id")
	if err != nil {
		utils.JSONError(ctx, http.StatusBadRequest, "invalid_id", "invalid id")
		return
	}
	var property models.Property
	if err := storage.DB.First(&property, id).Error; err != nil {
		utils.JSONError(ctx, http.StatusNotFound, "not_found", "property not found")
		return
	}
	ctx.JSON(property)
}

func ListProperties(ctx iris.Context) {
	page := ctx.URLParamIntDefault("page", 1)
	perPage := ctx.URLParamIntDefault("per_page", 25)
	if perPage <= 0 || perPage > 100 {
		perPage = 25
	}

	q := storage.DB.Model(&models.Property{})
	if active := ctx.URLParamDefault("active", ""); active != "" {
		q = q.Where("is_active = ?", active == "true")
	}

	var total int64
	q.Count(&total)

	var properties []models.Property
	if err := q.Offset((page - 1) * perPage).Limit(perPage).Order("name ASC").Find(&properties).Error; err != nil {
		utils.JSONError(ctx, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	utils.JSONPage(ctx, properties, page, perPage, total)
}

func UpdateProperty(ctx iris.Context) {
	id, err := ctx.Params().GetUint("id")
	if err != nil {
		utils.JSONError(ctx, http.StatusBadRequest, "invalid_id", "invalid id")
		return
	}
	var property models.Property
	if err := storage.DB.First(&property, id).Error; err != nil {
		utils.JSONError(ctx, http.StatusNotFound, "not_found", "property not found")
		return
	}

	var input PropertyInput
	if err := ctx.ReadJSON(&input); err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	before := property
	addressChanged := property.AddressLine1 != input.AddressLine1 || property.City != input.City || property.Zip != input.Zip

	property.Name = input.Name
	property.AddressLine1 = input.AddressLine1
	property.AddressLine2 = input.AddressLine2
	property.City = input.City
	property.State = input.State
	property.Zip = input.Zip
	property.Country = input.Country
	property.FeedURL = input.FeedURL
	if input.FeedSource != "" {
		property.FeedSource = input.FeedSource
	}
	property.ReleaseLeadMinutes = input.ReleaseLeadMinutes
	property.AccessPassword = input.AccessPassword
	applyPropertyFlags(&property, input)

	if input.ChecklistTemplate != nil {
		raw, _ := json.Marshal(input.ChecklistTemplate)
		property.ChecklistTemplate = datatypes.JSON(raw)
	}
	if addressChanged {
		property.Lat = nil
		property.Lng = nil
	}

	if err := storage.DB.Save(&property).Error; err != nil {
		utils.JSONError(ctx, http.StatusInternalServerError, "server_error", "failed to update property")
		return
	}

	utils.Audit(ctx, "property_update", "property", property.ID, before, property)

	if addressChanged {
		go geocoder.GeocodeProperty(property.ID)
	}

	ctx.JSON(property)
}

// DeactivateProperty soft-deactivates; rows are never hard-deleted.
func DeactivateProperty(ctx iris.Context) {
	id, err := ctx.Params().GetUint("id")
	if err != nil {
		utils.JSONError(ctx, http.StatusBadRequest, "invalid_id", "invalid id")
		return
	}
	var property models.Property
	if err := storage.DB.First(&property, id).Error; err != nil {
		utils.JSONError(ctx, http.StatusNotFound, "not_found", "property not found")
		return
	}

	inactive := false
	before := property
	property.IsActive = &inactive
	if err := storage.DB.Save(&property).Error; err != nil {
		utils.JSONError(ctx, http.StatusInternalServerError, "server_error", "failed to deactivate property")
		return
	}

	utils.Audit(ctx, "property_deactivate", "property", property.ID, before, property)
	ctx.JSON(property)
}
