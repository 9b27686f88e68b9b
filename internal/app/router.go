package app

import (
	"cyberrange_backend/docs"
	"cyberrange_backend/internal/config"
	"cyberrange_backend/internal/middleware"
	"cyberrange_backend/internal/model"
	"cyberrange_backend/pkg/monitoring"
	"cyberrange_backend/pkg/security"
	"cyberrange_backend/pkg/tracing"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	router.Use(security.RateLimiter(cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowMinutes)*time.Minute))

	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

func (a *App) registerRoutes(router *gin.Engine, c *controllers, repos *repositories, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())
	router.GET("/health", c.system.Health)

	public := router.Group("/api")
	{
		public.POST("/register", c.auth.Register)
		public.POST("/login", c.auth.Login)
	}

	authed := router.Group("/api")
	authed.Use(middleware.AuthMiddleware(cfg), middleware.ActivityMiddleware(repos.user))
	{
		authed.GET("/profile", c.auth.GetProfile)
		authed.PUT("/profile", c.auth.UpdateProfile)

		// Labs and sessions
		authed.GET("/labs", c.lab.ListLabs)
		authed.GET("/labs/:id", c.lab.GetLab)
		authed.POST("/labs/:id/sessions", c.lab.StartSession)
		authed.GET("/sessions", c.lab.MySessions)
		authed.GET("/sessions/:id", c.lab.GetSession)
		authed.POST("/sessions/:id/reset", c.lab.ResetSession)
		authed.POST("/sessions/:id/stop", c.lab.StopSession)
		authed.POST("/sessions/:id/heartbeat", c.lab.Heartbeat)
		authed.GET("/sessions/:id/events", c.lab.SessionTimeline)

		// Assessments and attempts
		authed.GET("/assessments", c.assessment.ListAssessments)
		authed.GET("/assessments/:id", c.assessment.GetAssessment)
		authed.POST("/assessments/:id/attempts", c.assessment.StartAttempt)
		authed.GET("/attempts/:id", c.assessment.GetAttempt)
		authed.PUT("/attempts/:id/answers", c.assessment.RecordAnswer)
		authed.PUT("/attempts/:id/flags", c.assessment.FlagQuestion)
		authed.POST("/attempts/:id/submit", c.assessment.SubmitAttempt)

		// Challenges
		authed.GET("/challenges", c.challenge.ListChallenges)
		authed.GET("/challenges/:id", c.challenge.GetChallenge)
		authed.POST("/challenges/:id/submit", c.challenge.SubmitFlag)
		authed.GET("/leaderboard", c.challenge.Leaderboard)
		authed.GET("/solves", c.challenge.MySolves)

		// Live event stream
		authed.GET("/ws/events", c.system.EventsWS)
	}

	admin := router.Group("/api/admin")
	admin.Use(middleware.AuthMiddleware(cfg), middleware.RoleMiddleware(model.Instructor, model.Admin))
	{
		admin.POST("/labs", c.lab.CreateLab)
		admin.PUT("/labs/:id", c.lab.UpdateLab)
		admin.POST("/labs/:id/publish", c.lab.PublishLab)
		admin.DELETE("/labs/:id", c.lab.DeleteLab)

		admin.POST("/assessments", c.assessment.CreateAssessment)
		admin.PUT("/assessments/:id", c.assessment.UpdateAssessment)
		admin.POST("/assessments/:id/publish", c.assessment.PublishAssessment)
		admin.DELETE("/assessments/:id", c.assessment.DeleteAssessment)
		admin.POST("/assessments/:id/questions", c.assessment.AddQuestion)
		admin.GET("/assessments/:id/attempts", c.assessment.ListAttempts)
		admin.PUT("/questions/:id", c.assessment.UpdateQuestion)
		admin.DELETE("/questions/:id", c.assessment.DeleteQuestion)
		admin.POST("/attempts/:id/grades", c.assessment.ResolveGrades)

		admin.POST("/challenges", c.challenge.CreateChallenge)
		admin.PUT("/challenges/:id", c.challenge.UpdateChallenge)
		admin.POST("/challenges/:id/publish", c.challenge.PublishChallenge)
		admin.DELETE("/challenges/:id", c.challenge.DeleteChallenge)
		admin.POST("/challenges/:id/attachment", c.challenge.UploadAttachment)

		admin.GET("/activity", c.system.RecentActivity)
	}
}
