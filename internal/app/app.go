package app

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/harborpoint/advisory-backend/internal/data/repos"
	"github.com/harborpoint/advisory-backend/internal/db"
	httpx "github.com/harborpoint/advisory-backend/internal/http"
	"github.com/harborpoint/advisory-backend/internal/http/handlers"
	"github.com/harborpoint/advisory-backend/internal/http/middleware"
	"github.com/harborpoint/advisory-backend/internal/jobs"
	"github.com/harborpoint/advisory-backend/internal/platform/logger"
	"github.com/harborpoint/advisory-backend/internal/platform/openai"
	"github.com/harborpoint/advisory-backend/internal/platform/redisx"
)

type App struct {
	Log        *logger.Logger
	DB         *gorm.DB
	Router     *gin.Engine
	Cfg        Config
	Repos      repos.Set
	Services   Services
	Supervisor *jobs.Supervisor

	pg    *db.PostgresService
	cache *redis.Client
	srv   *http.Server
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	gormDB := pg.DB()

	aiClient, err := openai.NewClient(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init openai client: %w", err)
	}

	cache, err := redisx.New(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	supervisor := jobs.NewSupervisor(log)
	reposet := repos.Wire(gormDB, log)
	serviceset := wireServices(gormDB, log, cfg, reposet, supervisor, aiClient, cache)

	authMW := middleware.NewAuthMiddleware(log, cfg.JWTSecretKey)
	diagnosticHandler := handlers.NewDiagnosticHandler(log, serviceset.Diagnostic)
	router := httpx.NewRouter(httpx.RouterConfig{
		DiagnosticHandler: diagnosticHandler,
		AuthMiddleware:    authMW,
		AllowOrigins:      cfg.AllowOrigins,
	})

	return &App{
		Log:        log,
		DB:         gormDB,
		Router:     router,
		Cfg:        cfg,
		Repos:      reposet,
		Services:   serviceset,
		Supervisor: supervisor,
		pg:         pg,
		cache:      cache,
	}, nil
}

func (a *App) Run() error {
	a.srv = &http.Server{
		Addr:    ":" + a.Cfg.Port,
		Handler: a.Router,
	}
	a.Log.Info("HTTP server listening", "port", a.Cfg.Port)
	if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

/*
Shutdown drains the process in dependency order: stop accepting requests,
then flip the supervisor so running pipelines observe the cooperative signal
and park their diagnostics back in draft, then release storage handles.
*/
func (a *App) Shutdown(ctx context.Context) {
	if a.srv != nil {
		if err := a.srv.Shutdown(ctx); err != nil {
			a.Log.Warn("HTTP server shutdown error", "error", err)
		}
	}
	if err := a.Supervisor.Shutdown(ctx); err != nil {
		a.Log.Warn("Job supervisor shutdown incomplete", "error", err)
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.Log.Warn("Redis close error", "error", err)
		}
	}
	if err := a.pg.Close(); err != nil {
		a.Log.Warn("Postgres close error", "error", err)
	}
	a.Log.Sync()
}
