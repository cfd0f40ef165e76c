package router

import (
	"net/http"
	"time"

	"github.com/avtotest/exam-backend/internal/config"
	"github.com/avtotest/exam-backend/internal/handler"
	"github.com/avtotest/exam-backend/internal/middleware"
	"github.com/avtotest/exam-backend/internal/response"
	"github.com/avtotest/exam-backend/internal/service"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Exam *handler.ExamHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// startLimiter may be nil, in which case exam starts are not rate limited.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	startLimiter *middleware.RateLimiter,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{
		"Origin", "Content-Type", "Authorization", "X-Request-ID",
		"Accept-Language", handler.HeaderLanguage,
	}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Request ID first so the access log and every envelope carry it.
	router.Use(response.RequestIDMiddleware(log))
	router.Use(response.AccessLog())
	router.Use(middleware.Brotli())

	// Question images, immutable once published.
	images := router.Group("/images")
	images.Use(middleware.CacheControl(31536000))
	{
		images.Static("/", cfg.ImageDir)
	}

	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// ─── Exam API (User JWT) ───────────────────────────────────────────
	api := router.Group("/api/v1")
	api.Use(middleware.RequireUserJWT(authService), middleware.NoStore())
	{
		start := []gin.HandlerFunc{handlers.Exam.StartExam}
		if startLimiter != nil {
			start = append([]gin.HandlerFunc{startLimiter.Middleware()}, start...)
		}
		api.POST("/exams/start", start...)

		// Static segment registered before the :session_id routes.
		api.GET("/exams/history", handlers.Exam.GetExamHistory)

		api.GET("/exams/:session_id", handlers.Exam.GetExam)
		api.POST("/exams/:session_id/answers", handlers.Exam.SubmitAnswer)
		api.POST("/exams/:session_id/finish", handlers.Exam.FinishExam)
		api.GET("/exams/:session_id/statistics", handlers.Exam.GetStatistics)

		api.GET("/packages/:package_id/statistics", handlers.Exam.GetPackageStatistics)
	}

	return router
}
