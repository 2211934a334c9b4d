package services

import (
	types "github.com/harborpoint/advisory-backend/internal/domain"
	"github.com/harborpoint/advisory-backend/internal/pkg/dbctx"
	"github.com/harborpoint/advisory-backend/internal/platform/logger"
)

// ReportRenderer turns a completed diagnostic into a downloadable document.
// The PDF/Word renderers are external collaborators; this default
// implementation just records that a render was requested so the pipeline's
// contract (render after completion, failures never revert status) is
// exercised end to end.
type ReportRenderer interface {
	Render(dbc dbctx.Context, diag *types.Diagnostic) error
}

type loggingRenderer struct {
	log *logger.Logger
}

func NewLoggingRenderer(baseLog *logger.Logger) ReportRenderer {
	return &loggingRenderer{log: baseLog.With("service", "ReportRenderer")}
}

func (r *loggingRenderer) Render(_ dbctx.Context, diag *types.Diagnostic) error {
	r.log.Info("Report render requested",
		"diagnostic_id", diag.ID,
		"engagement_id", diag.EngagementID,
	)
	return nil
}
