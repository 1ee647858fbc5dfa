package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/padhaihub/padhai-backend/internal/handlers"
	"github.com/padhaihub/padhai-backend/internal/middleware"
	"github.com/padhaihub/padhai-backend/internal/platform/envutil"
)

type RouterConfig struct {
	ServiceName      string
	HydrationHandler *handlers.HydrationHandler
	JobsHandler      *handlers.JobsHandler
	AdminMiddleware  *middleware.AdminKeyMiddleware
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware(cfg.ServiceName))

	origins := strings.Split(envutil.String("CORS_ALLOW_ORIGINS", "http://localhost:3000"), ",")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "X-Requested-With", "X-Admin-Key", "X-Admin-Actor"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	admin := router.Group("/api/admin")
	admin.Use(cfg.AdminMiddleware.RequireAdminKey())
	{
		// enqueue surface
		admin.POST("/hydration/syllabus", cfg.HydrationHandler.EnqueueSyllabus)
		admin.POST("/hydration/notes", cfg.HydrationHandler.EnqueueNotes)
		admin.POST("/hydration/questions", cfg.HydrationHandler.EnqueueQuestions)
		admin.POST("/hydration/tests", cfg.HydrationHandler.EnqueueTests)
		admin.POST("/hydration/hydrate-all", cfg.HydrationHandler.HydrateAll)

		// pause switch
		admin.GET("/hydration/pause", cfg.HydrationHandler.GetPause)
		admin.PUT("/hydration/pause", cfg.HydrationHandler.SetPause)

		// job inspection and control
		admin.GET("/jobs", cfg.JobsHandler.List)
		admin.GET("/jobs/:id", cfg.JobsHandler.Get)
		admin.POST("/jobs/:id/retry", cfg.JobsHandler.Retry)
		admin.POST("/jobs/:id/cancel", cfg.JobsHandler.Cancel)
	}

	return router
}
