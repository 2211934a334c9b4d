package diagnostics

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Media is a user-uploaded file. ExternalFileID is the handle issued by the AI
// completion service when the file is uploaded there; it can expire out-of-band
// and be re-issued without changing the row's identity.
type Media struct {
	ID                 uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	FileName           string         `gorm:"column:file_name;not null" json:"file_name"`
	RelativePath       string         `gorm:"column:relative_path;not null" json:"relative_path"`
	Extension          string         `gorm:"column:extension;index" json:"extension"`
	MimeType           string         `gorm:"column:mime_type" json:"mime_type,omitempty"`
	ExternalFileID     *string        `gorm:"column:external_file_id;index" json:"external_file_id,omitempty"`
	ExternalUploadedAt *time.Time     `gorm:"column:external_uploaded_at" json:"external_uploaded_at,omitempty"`
	CreatedAt          time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Media) TableName() string { return "media" }

type DiagnosticMedia struct {
	DiagnosticID uuid.UUID `gorm:"type:uuid;not null;index;primaryKey" json:"diagnostic_id"`
	MediaID      uuid.UUID `gorm:"type:uuid;not null;index;primaryKey" json:"media_id"`
	CreatedAt    time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (DiagnosticMedia) TableName() string { return "diagnostic_media" }
