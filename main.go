package main

import (
	"log"
	"os"
	"time"

	"github.com/suporteanfitriao-svg/upkeep-beacon-sub002/routes"
	"github.com/suporteanfitriao-svg/upkeep-beacon-sub002/services"
	"github.com/suporteanfitriao-svg/upkeep-beacon-sub002/storage"
	"github.com/suporteanfitriao-svg/upkeep-beacon-sub002/utils"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kataras/iris/v12"
	"github.com/kataras/iris/v12/middleware/jwt"
)

func main() {
	godotenv.Load()

	if os.Getenv("ACCESS_TOKEN_SECRET") == "" {
		log.Panic("ACCESS_TOKEN_SECRET environment variable is required")
	}

	db := storage.InitializeDB()
	storage.InitializeRedis()
	routes.InitServices()

	app := iris.New()
	app.Validator = validator.New()

	app.UseRouter(func(ctx iris.Context) {
		ctx.Header("Access-Control-Allow-Origin", ctx.GetHeader("Origin"))
		ctx.Header("Vary", "Origin")
		ctx.Header("Access-Control-Allow-Credentials", "true")
		ctx.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Requested-With")
		ctx.Header("Access-Control-Allow-Methods", "GET,POST,PATCH,PUT,DELETE,OPTIONS")
		if ctx.Method() == iris.MethodOptions {
			ctx.StatusCode(iris.StatusNoContent)
			return
		}
		ctx.Next()
	})
	app.Use(iris.Compression)

	accessTokenVerifier := jwt.NewVerifier(jwt.HS256, []byte(os.Getenv("ACCESS_TOKEN_SECRET")))
	accessTokenVerifier.WithDefaultBlocklist()
	auth := accessTokenVerifier.Verify(func() interface{} {
		return new(utils.AccessToken)
	})

	api := app.Party("/api")
	{
		properties := api.Party("/properties", auth)
		{
			properties.Get("", routes.ListProperties)
			properties.Get("/{id:uint}", routes.GetProperty)
			properties.Post("", utils.AdminOnlyMiddleware, routes.CreateProperty)
			properties.Put("/{id:uint}", utils.AdminOnlyMiddleware, routes.UpdateProperty)
			properties.Delete("/{id:uint}", utils.AdminOnlyMiddleware, routes.DeactivateProperty)
		}

		sync := api.Party("/sync", auth, utils.AdminOnlyMiddleware)
		{
			sync.Post("", routes.SyncAllFeeds)
			sync.Post("/{id:uint}", routes.SyncPropertyFeed)
			sync.Post("/geocode", routes.BackfillGeocodes)
		}

		tasks := api.Party("/tasks", auth, utils.WorkerOrAdminMiddleware)
		{
			tasks.Get("", routes.ListTasks)
			tasks.Get("/{id:uint}", routes.GetTask)
			tasks.Get("/{id:uint}/history", routes.GetTaskHistory)

			tasks.Post("/{id:uint}/release", utils.AdminOnlyMiddleware, routes.ReleaseTask)
			tasks.Post("/{id:uint}/start", routes.StartTask)
			tasks.Post("/{id:uint}/complete", routes.CompleteTask)
			tasks.Post("/{id:uint}/revert", utils.AdminOnlyMiddleware, routes.RevertTask)
			tasks.Post("/{id:uint}/assign", utils.AdminOnlyMiddleware, routes.AssignTask)
			tasks.Post("/{id:uint}/acknowledge", routes.AcknowledgeTask)
			tasks.Delete("/{id:uint}", utils.AdminOnlyMiddleware, routes.DeactivateTask)

			tasks.Put("/{id:uint}/checklist/{category}", routes.ScheduleChecklistSave)
			tasks.Post("/{id:uint}/checklist/{category}/flush", routes.FlushCategory)
			tasks.Post("/{id:uint}/flush", routes.FlushAllCategories)
			tasks.Get("/{id:uint}/progress", routes.GetProgress)
			tasks.Post("/{id:uint}/photos/{category}", routes.UploadCategoryPhoto)

			tasks.Post("/{id:uint}/issues", routes.ReportIssue)
		}

		issues := api.Party("/issues", auth)
		{
			issues.Get("", routes.ListIssues)
			issues.Post("/{id:uint}/assign", utils.AdminOnlyMiddleware, routes.AssignIssue)
			issues.Post("/{id:uint}/notes", utils.WorkerOrAdminMiddleware, routes.AddIssueNote)
			issues.Post("/{id:uint}/resolve", utils.AdminOnlyMiddleware, routes.ResolveIssue)
		}

		admin := api.Party("/admin", auth, utils.AdminOnlyMiddleware)
		{
			admin.Get("/audit", routes.AdminListAuditLogs)
			admin.Get("/users", routes.AdminListUsers)
		}
	}

	releaser := services.NewAutoReleaser(db, routes.TaskMachine(), time.Minute)
	releaser.Start()
	defer releaser.Stop()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	app.Listen(":" + port)
}
