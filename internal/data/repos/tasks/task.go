package tasks

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/harborpoint/advisory-backend/internal/domain"
	"github.com/harborpoint/advisory-backend/internal/pkg/dbctx"
	"github.com/harborpoint/advisory-backend/internal/platform/logger"
)

type TaskRepo interface {
	Create(dbc dbctx.Context, tasks []*types.Task) ([]*types.Task, error)
	// DeleteDiagnosticGenerated removes every diagnostic-sourced task for the
	// (engagement, diagnostic) pair. Returns the number of rows removed.
	DeleteDiagnosticGenerated(dbc dbctx.Context, engagementID, diagnosticID uuid.UUID) (int64, error)
	ListDiagnosticGenerated(dbc dbctx.Context, engagementID, diagnosticID uuid.UUID) ([]*types.Task, error)
}

type taskRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTaskRepo(db *gorm.DB, baseLog *logger.Logger) TaskRepo {
	return &taskRepo{
		db:  db,
		log: baseLog.With("repo", "TaskRepo"),
	}
}

func (r *taskRepo) Create(dbc dbctx.Context, tasks []*types.Task) ([]*types.Task, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(tasks) == 0 {
		return []*types.Task{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

func (r *taskRepo) DeleteDiagnosticGenerated(dbc dbctx.Context, engagementID, diagnosticID uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if engagementID == uuid.Nil || diagnosticID == uuid.Nil {
		return 0, nil
	}
	res := transaction.WithContext(dbc.Ctx).
		Where("engagement_id = ? AND diagnostic_id = ? AND source = ?",
			engagementID, diagnosticID, types.TaskSourceDiagnostic).
		Delete(&types.Task{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *taskRepo) ListDiagnosticGenerated(dbc dbctx.Context, engagementID, diagnosticID uuid.UUID) ([]*types.Task, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Task
	if engagementID == uuid.Nil || diagnosticID == uuid.Nil {
		return out, nil
	}
	err := transaction.WithContext(dbc.Ctx).
		Where("engagement_id = ? AND diagnostic_id = ? AND source = ?",
			engagementID, diagnosticID, types.TaskSourceDiagnostic).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
