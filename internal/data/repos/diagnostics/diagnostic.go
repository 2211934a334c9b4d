package diagnostics

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/harborpoint/advisory-backend/internal/domain"
	"github.com/harborpoint/advisory-backend/internal/pkg/dbctx"
	"github.com/harborpoint/advisory-backend/internal/platform/logger"
)

type DiagnosticRepo interface {
	Create(dbc dbctx.Context, diags []*types.Diagnostic) ([]*types.Diagnostic, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Diagnostic, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	// UpdateFieldsIfStatus applies updates only while the row still holds one of
	// the required statuses. The pipeline uses it for its terminal commits so a
	// row that left "processing" out-of-band is never clobbered.
	UpdateFieldsIfStatus(dbc dbctx.Context, id uuid.UUID, requiredStatuses []string, updates map[string]interface{}) (bool, error)
}

type diagnosticRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDiagnosticRepo(db *gorm.DB, baseLog *logger.Logger) DiagnosticRepo {
	return &diagnosticRepo{
		db:  db,
		log: baseLog.With("repo", "DiagnosticRepo"),
	}
}

func (r *diagnosticRepo) Create(dbc dbctx.Context, diags []*types.Diagnostic) ([]*types.Diagnostic, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(diags) == 0 {
		return []*types.Diagnostic{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&diags).Error; err != nil {
		return nil, err
	}
	return diags, nil
}

func (r *diagnosticRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Diagnostic, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var diag types.Diagnostic
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&diag).Error
	if err != nil {
		return nil, err
	}
	if diag.ID == uuid.Nil {
		return nil, nil
	}
	return &diag, nil
}

func (r *diagnosticRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.Diagnostic{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *diagnosticRepo) UpdateFieldsIfStatus(dbc dbctx.Context, id uuid.UUID, requiredStatuses []string, updates map[string]interface{}) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}

	q := transaction.WithContext(dbc.Ctx).
		Model(&types.Diagnostic{}).
		Where("id = ?", id)
	if len(requiredStatuses) == 1 {
		q = q.Where("status = ?", requiredStatuses[0])
	} else if len(requiredStatuses) > 1 {
		q = q.Where("status IN ?", requiredStatuses)
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
