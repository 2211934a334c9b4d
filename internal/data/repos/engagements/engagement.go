package engagements

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/harborpoint/advisory-backend/internal/domain"
	"github.com/harborpoint/advisory-backend/internal/pkg/dbctx"
	"github.com/harborpoint/advisory-backend/internal/platform/logger"
)

type EngagementRepo interface {
	Create(dbc dbctx.Context, engs []*types.Engagement) ([]*types.Engagement, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Engagement, error)
	// MarkCompleted is idempotent: completed_at is written once and never
	// overwritten by later diagnostic runs.
	MarkCompleted(dbc dbctx.Context, id uuid.UUID) error
}

type engagementRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEngagementRepo(db *gorm.DB, baseLog *logger.Logger) EngagementRepo {
	return &engagementRepo{
		db:  db,
		log: baseLog.With("repo", "EngagementRepo"),
	}
}

func (r *engagementRepo) Create(dbc dbctx.Context, engs []*types.Engagement) ([]*types.Engagement, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(engs) == 0 {
		return []*types.Engagement{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&engs).Error; err != nil {
		return nil, err
	}
	return engs, nil
}

func (r *engagementRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Engagement, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var eng types.Engagement
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&eng).Error
	if err != nil {
		return nil, err
	}
	if eng.ID == uuid.Nil {
		return nil, nil
	}
	return &eng, nil
}

func (r *engagementRepo) MarkCompleted(dbc dbctx.Context, id uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()

	// First write stamps completed_at; repeats only reassert the status.
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.Engagement{}).
		Where("id = ? AND completed_at IS NULL", id).
		Updates(map[string]interface{}{
			"status":       types.EngagementStatusCompleted,
			"completed_at": now,
			"updated_at":   now,
		}).Error
	if err != nil {
		return err
	}

	return transaction.WithContext(dbc.Ctx).
		Model(&types.Engagement{}).
		Where("id = ? AND status <> ?", id, types.EngagementStatusCompleted).
		Updates(map[string]interface{}{
			"status":     types.EngagementStatusCompleted,
			"updated_at": now,
		}).Error
}
