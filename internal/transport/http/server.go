package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"medsage/internal/ai"
	appsvc "medsage/internal/app"
	"medsage/internal/bootstrap"
	"medsage/internal/consult"
	"medsage/internal/repository"
	"medsage/internal/session"
	"medsage/internal/transport/http/handler"
	"medsage/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	userRepo := repository.NewUserRepository(app.MySQL)
	sessionRepo := repository.NewSessionRepository(app.MySQL)
	turnRepo := repository.NewTurnRepository(app.MySQL)

	authService := appsvc.NewAuthService(
		userRepo,
		app.Config.Auth.JWTSecret,
		time.Duration(app.Config.Auth.JWTExpireMinute)*time.Minute,
	)

	chatCfg := ai.ChatConfig{
		BaseURL: app.Config.LLM.BaseURL,
		APIKey:  app.Config.LLM.APIKey,
		Model:   app.Config.LLM.Model,
	}
	embCfg := ai.EmbeddingConfig{
		BaseURL: app.Config.LLM.BaseURL,
		APIKey:  app.Config.LLM.APIKey,
		Model:   app.Config.LLM.EmbeddingModel,
	}

	reasoners := consult.NewSpecialistSet(consult.SpecialistDeps{
		LLM:      app.AIClient,
		Embedder: app.AIClient,
		Facts:    app.Facts,
		ChatCfg:  chatCfg,
		EmbCfg:   embCfg,
		TopK:     app.Config.Consult.RetrievalTopK,
	})
	orchestrator := consult.NewOrchestrator(reasoners, consult.OrchestratorConfig{
		ReasonerTimeout: time.Duration(app.Config.Consult.ReasonerTimeoutSeconds) * time.Second,
		RequestTimeout:  time.Duration(app.Config.Consult.RequestTimeoutSeconds) * time.Second,
		Weights:         consult.Weights{ProminenceThreshold: app.Config.Consult.ProminenceThreshold},
	}, app.Logger)

	contextCache := session.NewContextCache(
		app.Redis,
		time.Duration(app.Config.Redis.ContextTTLSeconds)*time.Second,
		time.Duration(app.Config.Redis.ContextDirtyTTLSeconds)*time.Second,
	)
	sessionManager := session.NewManager(
		sessionRepo,
		turnRepo,
		contextCache,
		app.Config.Consult.MaxContextTurns,
		time.Duration(app.Config.Consult.RecencyCutoffHours)*time.Hour,
	)

	consultService := appsvc.NewConsultService(sessionManager, orchestrator)
	documentService := appsvc.NewDocumentService(app.Facts, app.Status, app.Publisher, "")
	timelineService := appsvc.NewTimelineService(app.Facts)

	authHandler := handler.NewAuthHandler(authService)
	consultHandler := handler.NewConsultHandler(consultService)
	documentHandler := handler.NewDocumentHandler(documentService)
	timelineHandler := handler.NewTimelineHandler(timelineService)

	v1 := router.Group("/api/v1")
	authGroup := v1.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", middleware.AuthJWT(app.Config.Auth.JWTSecret), authHandler.Me)

	consultGroup := v1.Group("/consult")
	consultGroup.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret))
	consultGroup.POST("/sessions", consultHandler.CreateSession)
	consultGroup.GET("/sessions", consultHandler.ListSessions)
	consultGroup.DELETE("/sessions/:id", consultHandler.DeleteSession)
	consultGroup.POST("/query", consultHandler.Consult)
	consultGroup.POST("/query/stream", consultHandler.ConsultStream)
	consultGroup.GET("/history", consultHandler.GetHistory)

	documentGroup := v1.Group("/documents")
	documentGroup.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret))
	documentGroup.POST("", documentHandler.Upload)
	documentGroup.GET("", documentHandler.List)
	documentGroup.DELETE("/:id", documentHandler.Delete)
	documentGroup.GET("/tasks/:id", documentHandler.TaskStatus)

	timelineGroup := v1.Group("/timeline")
	timelineGroup.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret))
	timelineGroup.POST("/events", timelineHandler.Create)
	timelineGroup.GET("/events", timelineHandler.List)
	timelineGroup.GET("/events/:id", timelineHandler.Get)
	timelineGroup.PUT("/events/:id", timelineHandler.Update)
	timelineGroup.DELETE("/events/:id", timelineHandler.Delete)

	return router
}
