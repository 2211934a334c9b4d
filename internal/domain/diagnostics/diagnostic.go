package diagnostics

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Diagnostic struct {
	ID                  uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	EngagementID        uuid.UUID      `gorm:"type:uuid;not null;index" json:"engagement_id"`
	Status              string         `gorm:"column:status;not null;index;default:draft" json:"status"`
	QuestionSchema      datatypes.JSON `gorm:"column:question_schema;type:jsonb" json:"question_schema"`
	UserResponses       datatypes.JSON `gorm:"column:user_responses;type:jsonb" json:"user_responses"`
	QuestionScores      datatypes.JSON `gorm:"column:question_scores;type:jsonb" json:"question_scores"`
	ModuleScores        datatypes.JSON `gorm:"column:module_scores;type:jsonb" json:"module_scores"`
	Summary             string         `gorm:"column:summary" json:"summary,omitempty"`
	AdvisorReport       string         `gorm:"column:advisor_report" json:"advisor_report,omitempty"`
	Advice              string         `gorm:"column:advice" json:"advice,omitempty"`
	OverallScore        *float64       `gorm:"column:overall_score" json:"overall_score,omitempty"`
	TasksGeneratedCount int            `gorm:"column:tasks_generated_count;not null;default:0" json:"tasks_generated_count"`
	AIModel             string         `gorm:"column:ai_model" json:"ai_model,omitempty"`
	AITokensUsed        int            `gorm:"column:ai_tokens_used;not null;default:0" json:"ai_tokens_used"`
	LastError           string         `gorm:"column:last_error" json:"last_error,omitempty"`
	StartedAt           *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt         *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt           time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt           time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt           gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Diagnostic) TableName() string { return "diagnostic" }
