package diagnostics

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/harborpoint/advisory-backend/internal/domain"
	"github.com/harborpoint/advisory-backend/internal/pkg/dbctx"
	"github.com/harborpoint/advisory-backend/internal/platform/logger"
)

type MediaRepo interface {
	Create(dbc dbctx.Context, media []*types.Media) ([]*types.Media, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Media, error)
	// ForDiagnostic returns every media row attached to the diagnostic through
	// the diagnostic_media join, regardless of whether responses still reference it.
	ForDiagnostic(dbc dbctx.Context, diagnosticID uuid.UUID) ([]*types.Media, error)
	Attach(dbc dbctx.Context, diagnosticID uuid.UUID, mediaIDs []uuid.UUID) error
	// SetExternalFileID persists a freshly issued AI-service handle without
	// touching the media identity.
	SetExternalFileID(dbc dbctx.Context, id uuid.UUID, externalFileID string) error
}

type mediaRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMediaRepo(db *gorm.DB, baseLog *logger.Logger) MediaRepo {
	return &mediaRepo{
		db:  db,
		log: baseLog.With("repo", "MediaRepo"),
	}
}

func (r *mediaRepo) Create(dbc dbctx.Context, media []*types.Media) ([]*types.Media, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(media) == 0 {
		return []*types.Media{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&media).Error; err != nil {
		return nil, err
	}
	return media, nil
}

func (r *mediaRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Media, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Media
	if len(ids) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *mediaRepo) ForDiagnostic(dbc dbctx.Context, diagnosticID uuid.UUID) ([]*types.Media, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if diagnosticID == uuid.Nil {
		return nil, nil
	}
	var out []*types.Media
	err := transaction.WithContext(dbc.Ctx).
		Joins("JOIN diagnostic_media dm ON dm.media_id = media.id").
		Where("dm.diagnostic_id = ?", diagnosticID).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *mediaRepo) Attach(dbc dbctx.Context, diagnosticID uuid.UUID, mediaIDs []uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if diagnosticID == uuid.Nil || len(mediaIDs) == 0 {
		return nil
	}
	rows := make([]*types.DiagnosticMedia, 0, len(mediaIDs))
	for _, mid := range mediaIDs {
		rows = append(rows, &types.DiagnosticMedia{
			DiagnosticID: diagnosticID,
			MediaID:      mid,
		})
	}
	return transaction.WithContext(dbc.Ctx).Create(&rows).Error
}

func (r *mediaRepo) SetExternalFileID(dbc dbctx.Context, id uuid.UUID, externalFileID string) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(dbc.Ctx).
		Model(&types.Media{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"external_file_id":     externalFileID,
			"external_uploaded_at": now,
			"updated_at":           now,
		}).Error
}
