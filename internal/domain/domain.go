package domain

import (
	"github.com/harborpoint/advisory-backend/internal/domain/diagnostics"
	"github.com/harborpoint/advisory-backend/internal/domain/engagements"
	"github.com/harborpoint/advisory-backend/internal/domain/tasks"
)

type Diagnostic = diagnostics.Diagnostic
type Media = diagnostics.Media
type DiagnosticMedia = diagnostics.DiagnosticMedia
type Engagement = engagements.Engagement
type Task = tasks.Task

const (
	DiagnosticStatusDraft      = diagnostics.StatusDraft
	DiagnosticStatusInProgress = diagnostics.StatusInProgress
	DiagnosticStatusProcessing = diagnostics.StatusProcessing
	DiagnosticStatusCompleted  = diagnostics.StatusCompleted
	DiagnosticStatusFailed     = diagnostics.StatusFailed

	EngagementStatusActive    = engagements.StatusActive
	EngagementStatusCompleted = engagements.StatusCompleted

	TaskSourceDiagnostic = tasks.SourceDiagnostic
)

// AllModels is the automigration list for the postgres service.
func AllModels() []any {
	return []any{
		&Engagement{},
		&Diagnostic{},
		&Media{},
		&DiagnosticMedia{},
		&Task{},
	}
}
