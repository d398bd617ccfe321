package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"messaging-service/internal/attachments"
	"messaging-service/internal/config"
	"messaging-service/internal/db"
	"messaging-service/internal/handlers"
	"messaging-service/internal/identity"
	"messaging-service/internal/logger"
	"messaging-service/internal/middleware"
	"messaging-service/internal/observability"
	"messaging-service/internal/profiles"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
	"messaging-service/internal/ws"
)

const serviceName = "messaging-service"

func main() {
	cfg := config.Load()

	appLog, err := logger.New(cfg.Environment)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer appLog.Sync()

	ctx := context.Background()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTLPEndpoint, serviceName)
	if err != nil {
		appLog.Fatal("failed to set up tracing", "error", err)
	}
	defer func() {
		if err := shutdownTracing(ctx); err != nil {
			appLog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	database, err := db.Connect(cfg.DBDSN, appLog)
	if err != nil {
		appLog.Fatal("failed to connect to db", "error", err)
	}
	defer database.Close()

	store, err := attachments.NewLocalStore(cfg.AttachmentDir, cfg.AttachmentBaseURL)
	if err != nil {
		appLog.Fatal("failed to open attachment store", "error", err)
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, appLog)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	appLog.Info("event publisher ready", "mode", rabbitmq.PublisherMode(publisher))

	audit := telemetry.NewAuditEmitter(publisher, "audit.messaging", serviceName, cfg.Environment, appLog)

	verifier := identity.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	directory := profiles.NewHTTPDirectory(cfg.ProfileBaseURL)

	threadRepo := repositories.NewThreadRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	hub := ws.NewHub(appLog)

	messageHandler := handlers.NewMessageHandler(threadRepo, messageRepo, store, publisher, hub, audit, cfg.MaxUploadBytes, appLog)
	threadHandler := handlers.NewThreadHandler(threadRepo, directory, audit, appLog)
	attachmentHandler := handlers.NewAttachmentHandler(store, messageRepo, appLog)

	threadWS := ws.NewThreadWebSocketHandler(hub, threadRepo, verifier)

	if cfg.Environment == "prod" || cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(otelgin.Middleware(serviceName))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.Static("/files", cfg.AttachmentDir)

	authMiddleware := middleware.AuthMiddleware(verifier)

	router.POST("/messages", authMiddleware, messageHandler.SendMessage)
	router.GET("/messages/search", authMiddleware, messageHandler.SearchMessages)
	router.PUT("/messages/:message_id", authMiddleware, messageHandler.EditMessage)
	router.DELETE("/messages/:message_id", authMiddleware, messageHandler.DeleteMessage)
	router.POST("/messages/:message_id/reactions", authMiddleware, messageHandler.AddReaction)
	router.DELETE("/messages/:message_id/reactions", authMiddleware, messageHandler.RemoveReaction)

	router.GET("/conversations", authMiddleware, threadHandler.ListConversations)
	router.POST("/threads/start", authMiddleware, threadHandler.StartThread)
	router.POST("/threads/group", authMiddleware, threadHandler.CreateGroupThread)
	router.GET("/threads/:thread_id/messages", authMiddleware, messageHandler.GetThreadMessages)
	router.POST("/threads/:thread_id/messages", authMiddleware, messageHandler.SendToThread)
	router.POST("/threads/:thread_id/read", authMiddleware, messageHandler.MarkThreadRead)
	router.GET("/threads/:thread_id/unread", authMiddleware, threadHandler.GetUnreadCounts)

	router.GET("/attachments", authMiddleware, attachmentHandler.ListAttachments)
	router.POST("/attachments/cleanup", authMiddleware, attachmentHandler.CleanupOrphans)

	router.GET("/ws/threads/:thread_id", threadWS.Handle)

	appLog.Info("messaging service listening", "port", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		appLog.Fatal("server error", "error", err)
	}
}
