package routes

import (
	"github.com/suporteanfitriao-svg/upkeep-beacon-sub002/services"
	"github.com/suporteanfitriao-svg/upkeep-beacon-sub002/storage"
	"github.com/suporteanfitriao-svg/upkeep-beacon-sub002/utils"

	"github.com/kataras/iris/v12"
)

var (
	taskMachine *services.TaskStateMachine
	syncService *services.SyncService
	autosaves   *services.AutosaveRegistry
	geocoder    *services.GeocodingService
	notifier    *services.NotificationService
)

// InitServices wires the route handlers to the database-backed services.
// Must run after storage.InitializeDB.
func InitServices() {
	db := storage.DB

	taskMachine = services.NewTaskStateMachine(services.NewGormTaskStore(db), services.NewProximityGate())
	syncService = services.NewSyncService(services.NewGormSyncStore(db))
	autosaves = services.NewAutosaveRegistry(services.NewGormAutosaveStore(db), services.DefaultAutosaveDebounce)
	geocoder = services.NewGeocodingService(db)

	notifier = services.NewNotificationService(db)
	taskMachine.Subscribe(notifier.OnTransition)
}

// TaskMachine exposes the state machine for background jobs wired in main.
func TaskMachine() *services.TaskStateMachine {
	return taskMachine
}

// actorFromContext converts the verified JWT claims into the actor identity
// transitions are attributed to.
func actorFromContext(ctx iris.Context) services.Actor {
	if claims := utils.Claims(ctx); claims != nil {
		return services.Actor{ID: claims.ID, Name: claims.Name, Role: claims.Role}
	}
	return services.Actor{}
}
