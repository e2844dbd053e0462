package routes

import (
	"net/http"
	"time"

	"github.com/suporteanfitriao-svg/upkeep-beacon-sub002/storage"
	"github.com/suporteanfitriao-svg/upkeep-beacon-sub002/utils"

	"github.com/kataras/iris/v12"
)

const syncLockKey = "sync:running"

// SyncAllFeeds runs the reservation reconciliation for every property with
// a feed URL. A Redis lock keeps overlapping batch runs from racing.
func SyncAllFeeds(ctx iris.Context) {
	if storage.Redis != nil {
		acquired, err := storage.Redis.SetNX(ctx.Request().Context(), syncLockKey, "1", 2*time.Minute).Result()
		if err == nil && !acquired {
			utils.JSONError(ctx, http.StatusConflict, "sync_running", "a sync run is already in progress")
			return
		}
		defer storage.Redis.Del(ctx.Request().Context(), syncLockKey)
	}

	result, err := syncService.Sync(ctx.Request().Context(), nil)
	if err != nil {
		utils.JSONError(ctx, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	utils.Audit(ctx, "feed_sync", "sync", 0, nil, result)
	ctx.JSON(result)
}

// SyncPropertyFeed runs the reconciliation for a single property.
func SyncPropertyFeed(ctx iris.Context) {
	id, err := ctx.Params().GetUint("id")
	if err != nil {
		utils.JSONError(ctx, http.StatusBadRequest, "invalid_id", "invalid id")
		return
	}

	result, err := syncService.Sync(ctx.Request().Context(), &id)
	if err != nil {
		utils.JSONError(ctx, http.StatusNotFound, "sync_failed", err.Error())
		return
	}

	utils.Audit(ctx, "feed_sync", "property", id, nil, result)
	ctx.JSON(result)
}

// BackfillGeocodes bulk-geocodes properties missing coordinates, spacing
// out third-party calls.
func BackfillGeocodes(ctx iris.Context) {
	resolved, err := geocoder.BackfillMissingCoordinates(ctx.Request().Context())
	if err != nil {
		utils.JSONError(ctx, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	ctx.JSON(iris.Map{"resolved": resolved})
}
