package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/harborpoint/advisory-backend/internal/data/repos"
	types "github.com/harborpoint/advisory-backend/internal/domain"
	diagdomain "github.com/harborpoint/advisory-backend/internal/domain/diagnostics"
	"github.com/harborpoint/advisory-backend/internal/jobs"
	diagmod "github.com/harborpoint/advisory-backend/internal/modules/diagnostics"
	"github.com/harborpoint/advisory-backend/internal/pkg/apierr"
	"github.com/harborpoint/advisory-backend/internal/pkg/dbctx"
	"github.com/harborpoint/advisory-backend/internal/platform/logger"
)

const statusCacheTTL = 2 * time.Second

// StatusView is the cheap polling projection of a diagnostic.
type StatusView struct {
	Status      string     `json:"status"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

type SubmitResult struct {
	Status string `json:"status"`
}

type DiagnosticService interface {
	// Submit validates the diagnostic, flips it to processing and schedules the
	// pipeline as a detached background job. The caller gets an immediate
	// answer; background errors surface only through polling.
	Submit(ctx context.Context, diagnosticID uuid.UUID) (*SubmitResult, error)
	PollStatus(ctx context.Context, diagnosticID uuid.UUID) (*StatusView, error)
	GetDetail(ctx context.Context, diagnosticID uuid.UUID) (*types.Diagnostic, error)
}

type diagnosticService struct {
	db         *gorm.DB
	log        *logger.Logger
	diagRepo   repos.DiagnosticRepo
	supervisor *jobs.Supervisor
	pipeline   *diagmod.Pipeline
	cache      *redis.Client // nil disables the poll-status cache
}

func NewDiagnosticService(
	db *gorm.DB,
	baseLog *logger.Logger,
	diagRepo repos.DiagnosticRepo,
	supervisor *jobs.Supervisor,
	pipeline *diagmod.Pipeline,
	cache *redis.Client,
) DiagnosticService {
	return &diagnosticService{
		db:         db,
		log:        baseLog.With("service", "DiagnosticService"),
		diagRepo:   diagRepo,
		supervisor: supervisor,
		pipeline:   pipeline,
		cache:      cache,
	}
}

func (s *diagnosticService) Submit(ctx context.Context, diagnosticID uuid.UUID) (*SubmitResult, error) {
	dbc := dbctx.From(ctx)

	diag, err := s.diagRepo.GetByID(dbc, diagnosticID)
	if err != nil {
		return nil, err
	}
	if diag == nil {
		return nil, apierr.NotFound("diagnostic_not_found", fmt.Errorf("diagnostic %s not found", diagnosticID))
	}
	if !hasResponses(diag) {
		return nil, apierr.BadRequest("empty_responses", fmt.Errorf("diagnostic has no responses to process"))
	}
	if !diagdomain.Submittable(diag.Status) {
		return nil, apierr.Conflict("not_submittable", fmt.Errorf("diagnostic in status %q cannot be submitted", diag.Status))
	}
	if s.supervisor.ShuttingDown() {
		return nil, apierr.Unavailable("shutting_down", jobs.ErrShuttingDown)
	}

	// The job context is detached from the request: the pipeline outlives the
	// HTTP call and is cancelled only by the supervisor on shutdown.
	jobCtx, cancel := context.WithCancel(context.Background())
	job, err := s.supervisor.Register(diagnosticID, cancel)
	if err != nil {
		cancel()
		if errors.Is(err, jobs.ErrAlreadyRunning) {
			return nil, apierr.Conflict("already_processing", err)
		}
		return nil, apierr.Unavailable("shutting_down", err)
	}

	now := time.Now()
	ok, err := s.diagRepo.UpdateFieldsIfStatus(dbc, diagnosticID,
		[]string{diag.Status},
		map[string]interface{}{
			"status":     diagdomain.StatusProcessing,
			"started_at": now,
			"last_error": "",
		})
	if err != nil || !ok {
		s.supervisor.Finish(diagnosticID)
		cancel()
		if err != nil {
			return nil, err
		}
		return nil, apierr.Conflict("status_changed", fmt.Errorf("diagnostic status changed during submission"))
	}

	s.invalidateStatusCache(ctx, diagnosticID)
	s.log.Info("Diagnostic submitted for processing", "diagnostic_id", diagnosticID)

	// Detached run. The pipeline uses the service-wide connection pool, not the
	// request's session, so the job never contends with the submitting request.
	go func() {
		defer s.supervisor.Finish(job.DiagnosticID)
		defer cancel()
		s.pipeline.Run(jobCtx, job.DiagnosticID)
	}()

	return &SubmitResult{Status: diagdomain.StatusProcessing}, nil
}

func (s *diagnosticService) PollStatus(ctx context.Context, diagnosticID uuid.UUID) (*StatusView, error) {
	if view := s.cachedStatus(ctx, diagnosticID); view != nil {
		return view, nil
	}

	diag, err := s.diagRepo.GetByID(dbctx.From(ctx), diagnosticID)
	if err != nil {
		return nil, err
	}
	if diag == nil {
		return nil, apierr.NotFound("diagnostic_not_found", fmt.Errorf("diagnostic %s not found", diagnosticID))
	}

	view := &StatusView{
		Status:      diag.Status,
		CompletedAt: diag.CompletedAt,
		Error:       diag.LastError,
	}
	s.storeStatusCache(ctx, diagnosticID, view)
	return view, nil
}

func (s *diagnosticService) GetDetail(ctx context.Context, diagnosticID uuid.UUID) (*types.Diagnostic, error) {
	diag, err := s.diagRepo.GetByID(dbctx.From(ctx), diagnosticID)
	if err != nil {
		return nil, err
	}
	if diag == nil {
		return nil, apierr.NotFound("diagnostic_not_found", fmt.Errorf("diagnostic %s not found", diagnosticID))
	}
	return diag, nil
}

// -------------------- poll-status cache --------------------

func statusCacheKey(id uuid.UUID) string {
	return "diagnostic:status:" + id.String()
}

func (s *diagnosticService) cachedStatus(ctx context.Context, id uuid.UUID) *StatusView {
	if s.cache == nil {
		return nil
	}
	raw, err := s.cache.Get(ctx, statusCacheKey(id)).Bytes()
	if err != nil {
		return nil
	}
	var view StatusView
	if err := json.Unmarshal(raw, &view); err != nil {
		return nil
	}
	return &view
}

func (s *diagnosticService) storeStatusCache(ctx context.Context, id uuid.UUID, view *StatusView) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(view)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, statusCacheKey(id), raw, statusCacheTTL).Err(); err != nil {
		s.log.Debug("Status cache write failed", "diagnostic_id", id, "error", err)
	}
}

func (s *diagnosticService) invalidateStatusCache(ctx context.Context, id uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, statusCacheKey(id)).Err(); err != nil {
		s.log.Debug("Status cache invalidation failed", "diagnostic_id", id, "error", err)
	}
}

// hasResponses rejects submissions whose user_responses jsonb is empty, null
// or an empty object.
func hasResponses(diag *types.Diagnostic) bool {
	if len(diag.UserResponses) == 0 {
		return false
	}
	var decoded map[string]any
	if err := json.Unmarshal(diag.UserResponses, &decoded); err != nil {
		return false
	}
	return len(decoded) > 0
}
