package app

import (
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/harborpoint/advisory-backend/internal/data/repos"
	"github.com/harborpoint/advisory-backend/internal/jobs"
	diagmod "github.com/harborpoint/advisory-backend/internal/modules/diagnostics"
	"github.com/harborpoint/advisory-backend/internal/platform/logger"
	"github.com/harborpoint/advisory-backend/internal/platform/openai"
	"github.com/harborpoint/advisory-backend/internal/services"
)

type Services struct {
	Engagement services.EngagementService
	Diagnostic services.DiagnosticService
	Renderer   services.ReportRenderer
}

func wireServices(
	db *gorm.DB,
	log *logger.Logger,
	cfg Config,
	reposet repos.Set,
	supervisor *jobs.Supervisor,
	aiClient openai.Client,
	cache *redis.Client,
) Services {
	log.Info("Wiring services...")

	engagementService := services.NewEngagementService(db, log, reposet.Engagement)
	renderer := services.NewLoggingRenderer(log)

	router := diagmod.NewFileRouter(log, aiClient, reposet.Media, cfg.MediaRoot)
	taskSync := diagmod.NewTaskSynchronizer(log, reposet.Task)
	pipeline := diagmod.NewPipeline(
		log,
		aiClient,
		supervisor,
		router,
		taskSync,
		reposet.Diagnostic,
		engagementService,
		renderer,
		cfg.ScoringMap,
	)

	diagnosticService := services.NewDiagnosticService(db, log, reposet.Diagnostic, supervisor, pipeline, cache)

	return Services{
		Engagement: engagementService,
		Diagnostic: diagnosticService,
		Renderer:   renderer,
	}
}
