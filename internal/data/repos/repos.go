package repos

import (
	"gorm.io/gorm"

	"github.com/harborpoint/advisory-backend/internal/data/repos/diagnostics"
	"github.com/harborpoint/advisory-backend/internal/data/repos/engagements"
	"github.com/harborpoint/advisory-backend/internal/data/repos/tasks"
	"github.com/harborpoint/advisory-backend/internal/platform/logger"
)

type DiagnosticRepo = diagnostics.DiagnosticRepo
type MediaRepo = diagnostics.MediaRepo
type EngagementRepo = engagements.EngagementRepo
type TaskRepo = tasks.TaskRepo

var NewDiagnosticRepo = diagnostics.NewDiagnosticRepo
var NewMediaRepo = diagnostics.NewMediaRepo
var NewEngagementRepo = engagements.NewEngagementRepo
var NewTaskRepo = tasks.NewTaskRepo

type Set struct {
	Diagnostic DiagnosticRepo
	Media      MediaRepo
	Engagement EngagementRepo
	Task       TaskRepo
}

func Wire(db *gorm.DB, log *logger.Logger) Set {
	return Set{
		Diagnostic: NewDiagnosticRepo(db, log),
		Media:      NewMediaRepo(db, log),
		Engagement: NewEngagementRepo(db, log),
		Task:       NewTaskRepo(db, log),
	}
}
