package services

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/harborpoint/advisory-backend/internal/data/repos"
	types "github.com/harborpoint/advisory-backend/internal/domain"
	diagdomain "github.com/harborpoint/advisory-backend/internal/domain/diagnostics"
	"github.com/harborpoint/advisory-backend/internal/pkg/dbctx"
	"github.com/harborpoint/advisory-backend/internal/platform/logger"
)

type EngagementService interface {
	// SyncFromDiagnostic propagates a diagnostic's terminal state to the owning
	// engagement. Completion is idempotent: an engagement completed by an
	// earlier run keeps its original completion timestamp.
	SyncFromDiagnostic(dbc dbctx.Context, diag *types.Diagnostic) error
}

type engagementService struct {
	db             *gorm.DB
	log            *logger.Logger
	engagementRepo repos.EngagementRepo
}

func NewEngagementService(db *gorm.DB, baseLog *logger.Logger, engagementRepo repos.EngagementRepo) EngagementService {
	return &engagementService{
		db:             db,
		log:            baseLog.With("service", "EngagementService"),
		engagementRepo: engagementRepo,
	}
}

func (s *engagementService) SyncFromDiagnostic(dbc dbctx.Context, diag *types.Diagnostic) error {
	if diag == nil || diag.EngagementID == uuid.Nil {
		return nil
	}
	if diag.Status != diagdomain.StatusCompleted {
		return nil
	}
	s.log.Info("Marking engagement completed from diagnostic",
		"engagement_id", diag.EngagementID,
		"diagnostic_id", diag.ID,
	)
	return s.engagementRepo.MarkCompleted(dbc, diag.EngagementID)
}
