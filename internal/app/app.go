package app

import (
	"context"
	"cyberrange_backend/internal/config"
	"cyberrange_backend/internal/controller"
	"cyberrange_backend/internal/repository"
	"cyberrange_backend/internal/service"
	"cyberrange_backend/pkg/database"
	"cyberrange_backend/pkg/logger"
	"cyberrange_backend/pkg/monitoring"
	"cyberrange_backend/pkg/tracing"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config   *config.Config
	Router   *gin.Engine
	DB       *gorm.DB
	Redis    *redis.Client
	services *services
	tracer   *sdktrace.TracerProvider
}

type repositories struct {
	user       *repository.UserRepository
	lab        *repository.LabRepository
	session    *repository.LabSessionRepository
	assessment *repository.AssessmentRepository
	attempt    *repository.AttemptRepository
	challenge  *repository.ChallengeRepository
	event      *repository.ActivityEventRepository
}

type services struct {
	storage    *service.StorageService
	auth       *service.AuthService
	user       *service.UserService
	content    *service.ContentService
	lab        *service.LabService
	assessment *service.AssessmentService
	flag       *service.FlagService
	ledger     *service.LedgerService
	hub        *service.EventsHub
}

type controllers struct {
	auth       *controller.AuthController
	lab        *controller.LabController
	assessment *controller.AssessmentController
	challenge  *controller.ChallengeController
	system     *controller.SystemController
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		user:       repository.NewUserRepository(db),
		lab:        repository.NewLabRepository(db),
		session:    repository.NewLabSessionRepository(db),
		assessment: repository.NewAssessmentRepository(db),
		attempt:    repository.NewAttemptRepository(db),
		challenge:  repository.NewChallengeRepository(db),
		event:      repository.NewActivityEventRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, rdb *redis.Client) *services {
	s := &services{}

	s.storage = service.NewStorageService(cfg)
	s.auth = service.NewAuthService(repos.user, cfg)
	s.user = service.NewUserService(repos.user, repos.session, repos.attempt, repos.challenge, repos.event)
	s.content = service.NewContentService(repos.lab, repos.assessment, repos.challenge, s.storage)

	s.hub = service.NewEventsHub()
	go s.hub.Run()

	s.ledger = service.NewLedgerService(repos.event, s.hub, cfg.Engine.LedgerBuffer)
	go s.ledger.Run()

	clock := service.SystemClock()
	provisioner := a.initProvisioner(cfg)

	s.lab = service.NewLabService(repos.lab, repos.session, provisioner, s.ledger, clock, cfg)
	s.assessment = service.NewAssessmentService(repos.assessment, repos.attempt, s.ledger, clock)
	s.flag = service.NewFlagService(repos.challenge, repos.challenge, repos.user, s.ledger, clock, rdb,
		cfg.Engine.FlagGuessPerMinute)

	return s
}

func (a *App) initProvisioner(cfg *config.Config) service.Provisioner {
	if cfg.Engine.Provisioner == "docker" {
		p, err := service.NewDockerProvisioner(cfg.Engine.DockerRuntime)
		if err == nil {
			logger.Log.Info("Using docker provisioner", zap.String("runtime", cfg.Engine.DockerRuntime))
			return p
		}
		logger.Log.Error("Docker provisioner unavailable, falling back to simulated", zap.Error(err))
	}
	return service.NewSimulatedProvisioner(100 * time.Millisecond)
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		auth:       controller.NewAuthController(s.auth, s.user),
		lab:        controller.NewLabController(s.lab, s.content, s.user),
		assessment: controller.NewAssessmentController(s.assessment, s.content, s.user),
		challenge:  controller.NewChallengeController(s.flag, s.content, s.user),
		system:     controller.NewSystemController(db, rdb, s.hub, s.user),
	}
}

// startBackgroundTasks runs the overdue sweepers. In-process timers handle
// the common case; the sweepers are the backstop that makes expiry hold
// across restarts and timer loss.
func (a *App) startBackgroundTasks(s *services, interval time.Duration) {
	if err := s.lab.RearmTimers(); err != nil {
		logger.Log.Error("Initial session sweep failed", zap.Error(err))
	}
	if err := s.assessment.SweepOverdue(); err != nil {
		logger.Log.Error("Initial attempt sweep failed", zap.Error(err))
	}

	go func() {
		ticker := time.NewTicker(interval)
		for range ticker.C {
			if err := s.lab.SweepOverdue(); err != nil {
				logger.Log.Error("Session sweep failed", zap.Error(err))
			}
			if err := s.assessment.SweepOverdue(); err != nil {
				logger.Log.Error("Attempt sweep failed", zap.Error(err))
			}
		}
	}()
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		// Engine correctness does not depend on redis; throttle and
		// leaderboard degrade gracefully.
		logger.Log.Warn("Redis unavailable", zap.Error(err))
		rdb = nil
	}

	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
	}

	if cfg.MigrateOnly {
		return app
	}

	repos := app.initRepositories(db)
	svcs := app.initServices(repos, cfg, rdb)
	app.services = svcs
	ctrls := app.initControllers(svcs, db, rdb)

	monitoring.Init()

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("cyberrange-backend", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracer = tp
	}

	app.registerRoutes(router, ctrls, repos, cfg)

	if cfg.Storage.Type == "local" {
		router.Static("/uploads", cfg.Storage.LocalPath)
	}

	app.startBackgroundTasks(svcs, cfg.Engine.SweepInterval)

	return app
}

// ApplyConfig picks up the engine knobs that can change at runtime. Port,
// database and provisioner changes still require a restart.
func (a *App) ApplyConfig(cfg *config.Config) {
	if a.services == nil {
		return
	}
	a.services.flag.SetGuessLimit(cfg.Engine.FlagGuessPerMinute)
	logger.Log.Info("Configuration reloaded",
		zap.Int("flag_guess_per_minute", cfg.Engine.FlagGuessPerMinute))
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	go func() {
		log.Printf("Server running on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	if a.services != nil {
		a.services.hub.Stop()
		// Flush buffered ledger events before the process exits.
		a.services.ledger.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	if a.tracer != nil {
		// Flush batched spans before the process exits.
		if err := a.tracer.Shutdown(ctx); err != nil {
			log.Println("Tracer shutdown:", err)
		}
	}

	log.Println("Server exiting")
}
