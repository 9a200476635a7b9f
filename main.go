package main

import (
	"log"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kataras/iris/v12"

	"propertyline-server/chat"
	"propertyline-server/routes"
	"propertyline-server/services"
	"propertyline-server/storage"
	"propertyline-server/utils"
)

func main() {
	// Only load .env in development (when RENDER env var is not set)
	if os.Getenv("RENDER") == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("Warning: Could not load .env file (this is normal in production)")
		}
	}

	storage.InitializeDB()
	storage.InitializeRedis()
	storage.InitializeDynamo()
	storage.InitializeS3()

	store, err := chat.NewStore(storage.Dynamo, storage.MessagesTable)
	if err != nil {
		log.Fatal(err)
	}
	pipeline, err := services.NewAttachmentPipeline(storage.S3, storage.AttachmentsBucket)
	if err != nil {
		log.Fatal(err)
	}
	routes.InitMessaging(
		store,
		services.NewDirectory(storage.DB, storage.Redis),
		pipeline,
		services.NewNotifier(storage.Redis),
	)

	app := iris.New()
	app.Validator = validator.New()

	app.AllowMethods(iris.MethodOptions)
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

	app.Get("/health", func(ctx iris.Context) {
		ctx.JSON(iris.Map{"status": "ok"})
	})

	messages := app.Party("/api/messages")
	{
		// The stream authenticates its token query param itself; EventSource
		// cannot send an Authorization header.
		messages.Get("/stream", routes.StreamMessages)
		messages.Get("/", utils.SessionAuthMiddleware, routes.GetMessages)
		messages.Post("/", utils.SessionAuthMiddleware, routes.CreateMessage)
		messages.Put("/", utils.SessionAuthMiddleware, routes.MarkMessagesRead)
		messages.Post("/upload", utils.SessionAuthMiddleware, routes.UploadMessageAttachment)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	app.Listen(":" + port)
}
