package diagnostics

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/harborpoint/advisory-backend/internal/data/repos"
	types "github.com/harborpoint/advisory-backend/internal/domain"
	"github.com/harborpoint/advisory-backend/internal/pkg/dbctx"
	"github.com/harborpoint/advisory-backend/internal/platform/logger"
)

// wrapperKeys are the known envelope keys a task list may arrive under.
var wrapperKeys = []string{"tasks", "items", "action_items"}

// TaskSynchronizer regenerates a diagnostic's derived action items. Derived
// tasks are a disposable view: every successful scoring run replaces the full
// set for the (engagement, diagnostic) pair, so resubmission never accumulates.
type TaskSynchronizer struct {
	log      *logger.Logger
	taskRepo repos.TaskRepo
}

func NewTaskSynchronizer(baseLog *logger.Logger, taskRepo repos.TaskRepo) *TaskSynchronizer {
	return &TaskSynchronizer{
		log:      baseLog.With("component", "TaskSynchronizer"),
		taskRepo: taskRepo,
	}
}

/*
Replace deletes the pair's existing diagnostic-generated tasks and inserts the
normalized entries from the AI payload, returning the number inserted.

This method never returns an error to the pipeline: any storage trouble
degrades to a count of zero so task-generation problems cannot block
diagnostic completion.
*/
func (s *TaskSynchronizer) Replace(dbc dbctx.Context, engagementID, diagnosticID uuid.UUID, raw any) int {
	entries := normalizeTaskPayload(raw, s.log)

	deleted, err := s.taskRepo.DeleteDiagnosticGenerated(dbc, engagementID, diagnosticID)
	if err != nil {
		s.log.Error("Failed to clear prior derived tasks, skipping regeneration",
			"error", err,
			"engagement_id", engagementID,
			"diagnostic_id", diagnosticID,
		)
		return 0
	}
	if deleted > 0 {
		s.log.Info("Cleared prior derived tasks", "count", deleted, "diagnostic_id", diagnosticID)
	}

	rows := make([]*types.Task, 0, len(entries))
	for _, entry := range entries {
		title := strings.TrimSpace(stringField(entry, "title"))
		if title == "" {
			s.log.Warn("Skipping generated task without a title", "diagnostic_id", diagnosticID)
			continue
		}
		diagID := diagnosticID
		rows = append(rows, &types.Task{
			ID:           uuid.New(),
			EngagementID: engagementID,
			DiagnosticID: &diagID,
			Title:        title,
			Description:  strings.TrimSpace(stringField(entry, "description")),
			Category:     strings.TrimSpace(stringField(entry, "category")),
			Priority:     strings.TrimSpace(stringField(entry, "priority")),
			Source:       types.TaskSourceDiagnostic,
		})
	}
	if len(rows) == 0 {
		return 0
	}

	if _, err := s.taskRepo.Create(dbc, rows); err != nil {
		s.log.Error("Failed to insert derived tasks",
			"error", err,
			"engagement_id", engagementID,
			"diagnostic_id", diagnosticID,
		)
		return 0
	}
	return len(rows)
}

/*
normalizeTaskPayload folds the known task-list shapes into one list:
	- a bare array of task objects,
	- an object wrapping the array under a known key,
	- a single task object (degenerate case).
Shapes matching none of the variants are logged and treated as empty, never
crashed on.
*/
func normalizeTaskPayload(raw any, log *logger.Logger) []map[string]any {
	switch v := raw.(type) {
	case nil:
		return nil
	case []any:
		return taskObjects(v, log)
	case map[string]any:
		for _, key := range wrapperKeys {
			if inner, ok := v[key].([]any); ok {
				return taskObjects(inner, log)
			}
		}
		if _, ok := v["title"]; ok {
			return []map[string]any{v}
		}
	}
	if log != nil {
		log.Warn("Unrecognized task payload shape, treating as empty", "type", fmt.Sprintf("%T", raw))
	}
	return nil
}

func taskObjects(list []any, log *logger.Logger) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
			continue
		}
		if log != nil {
			log.Warn("Skipping non-object task entry", "type", fmt.Sprintf("%T", item))
		}
	}
	return out
}

// stringField coerces a task attribute to string; numeric priorities arrive as
// json numbers and are formatted rather than dropped.
func stringField(entry map[string]any, key string) string {
	v, ok := entry[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	if f, ok := v.(float64); ok {
		if f == float64(int64(f)) {
			return fmt.Sprintf("%d", int64(f))
		}
		return fmt.Sprintf("%g", f)
	}
	return fmt.Sprint(v)
}
