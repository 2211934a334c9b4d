package tasks

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SourceDiagnostic tags tasks derived from a diagnostic run. Derived tasks are a
// disposable view: each successful scoring run deletes and recreates them for
// the owning (engagement, diagnostic) pair.
const SourceDiagnostic = "diagnostic"

type Task struct {
	ID           uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	EngagementID uuid.UUID      `gorm:"type:uuid;not null;index" json:"engagement_id"`
	DiagnosticID *uuid.UUID     `gorm:"type:uuid;index" json:"diagnostic_id,omitempty"`
	Title        string         `gorm:"column:title;not null" json:"title"`
	Description  string         `gorm:"column:description" json:"description,omitempty"`
	Category     string         `gorm:"column:category;index" json:"category,omitempty"`
	Priority     string         `gorm:"column:priority;index" json:"priority,omitempty"`
	Source       string         `gorm:"column:source;not null;index;default:manual" json:"source"`
	CreatedAt    time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Task) TableName() string { return "task" }
