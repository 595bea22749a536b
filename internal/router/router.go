package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/examguard-backend/internal/config"
	"github.com/stemsi/examguard-backend/internal/handler"
	"github.com/stemsi/examguard-backend/internal/middleware"
	"github.com/stemsi/examguard-backend/internal/response"
	"github.com/stemsi/examguard-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session      *handler.SessionHandler
	WS           *handler.WSHandler
	Monitor      *handler.MonitorHandler
	Intervention *handler.InterventionHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiter for violation reports (60 per minute per student).
	// Detectors can fire in bursts; anything past this is client misbehavior.
	violationLimiter := middleware.NewRateLimiter(60, time.Minute)

	// ─── 1. Student Group (JWT) ────────────────────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(middleware.RequireStudentJWT(authService))
	{
		studentAPI.POST("/exams/:exam_id/sessions", handlers.Session.Start)
		studentAPI.GET("/exams/:exam_id/session", handlers.Session.State)
		studentAPI.POST("/sessions/:session_id/heartbeat", handlers.Session.Heartbeat)
		studentAPI.POST("/sessions/:session_id/violations", violationLimiter.Middleware(), handlers.Session.ReportViolation)
		studentAPI.POST("/sessions/:session_id/submit", handlers.Session.Submit)
	}

	// ─── 2. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService))
	{
		ws.GET("/student/exams/:exam_id/stream", handlers.WS.SessionStream)
	}

	// ─── 3. Admin Group (JWT) ──────────────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireAdminJWT(authService))
	{
		// Monitoring
		adminAPI.GET("/sessions", handlers.Monitor.AllSessions)
		adminAPI.GET("/monitor", handlers.Monitor.MonitorAllSSE)
		adminAPI.GET("/exams/:exam_id/sessions", handlers.Monitor.ExamSessions)
		adminAPI.GET("/exams/:exam_id/monitor", handlers.Monitor.MonitorExamSSE)
		adminAPI.GET("/exams/:exam_id/alerts", handlers.Monitor.Alerts)
		adminAPI.POST("/alerts/:alert_id/resolve", handlers.Monitor.ResolveAlert)

		// Interventions
		adminAPI.POST("/sessions/:session_id/flag", handlers.Intervention.FlagSession)
		adminAPI.POST("/sessions/:session_id/invalidate", handlers.Intervention.InvalidateSession)
		adminAPI.POST("/sessions/:session_id/retake", handlers.Intervention.RequireRetake)
		adminAPI.POST("/sessions/:session_id/penalty", handlers.Intervention.ImposePenalty)
		adminAPI.POST("/submissions/:submission_id/invalidate", handlers.Intervention.ForceInvalidateSubmission)

		// Retake management and history, pair-addressed
		adminAPI.POST("/exams/:exam_id/users/:user_id/retake", handlers.Intervention.GrantRetake)
		adminAPI.DELETE("/exams/:exam_id/users/:user_id/retake/:submission_id", handlers.Intervention.RevokeRetake)
		adminAPI.GET("/exams/:exam_id/users/:user_id/submissions", handlers.Intervention.History)
	}

	return router
}
