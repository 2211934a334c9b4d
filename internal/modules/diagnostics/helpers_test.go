package diagnostics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	types "github.com/harborpoint/advisory-backend/internal/domain"
	"github.com/harborpoint/advisory-backend/internal/pkg/dbctx"
	"github.com/harborpoint/advisory-backend/internal/platform/logger"
	"github.com/harborpoint/advisory-backend/internal/platform/openai"
)

func testLogger() *logger.Logger {
	return &logger.Logger{SugaredLogger: zap.NewNop().Sugar()}
}

func dbcBackground() dbctx.Context {
	return dbctx.From(context.Background())
}

// fakeAI is a configurable in-memory stand-in for the completion service.
// Unset hooks return zero-value successes.
type fakeAI struct {
	mu          sync.Mutex
	uploadCalls int
	scoreCalls  int

	uploadFn        func(ctx context.Context, path string) (string, error)
	summarizeFn     func(ctx context.Context, in openai.SummarizeInput) (openai.Narrative, error)
	scoreFn         func(ctx context.Context, in openai.ScoreInput) (openai.Scoring, error)
	adviseFn        func(ctx context.Context, in openai.AdviseInput) (openai.Narrative, error)
	generateTasksFn func(ctx context.Context, in openai.GenerateTasksInput) (openai.TaskList, error)
}

func (f *fakeAI) UploadFile(ctx context.Context, path string) (string, error) {
	f.mu.Lock()
	f.uploadCalls++
	n := f.uploadCalls
	f.mu.Unlock()
	if f.uploadFn != nil {
		return f.uploadFn(ctx, path)
	}
	return fmt.Sprintf("file-%d", n), nil
}

func (f *fakeAI) Summarize(ctx context.Context, in openai.SummarizeInput) (openai.Narrative, error) {
	if f.summarizeFn != nil {
		return f.summarizeFn(ctx, in)
	}
	return openai.Narrative{Text: "summary"}, nil
}

func (f *fakeAI) Score(ctx context.Context, in openai.ScoreInput) (openai.Scoring, error) {
	f.mu.Lock()
	f.scoreCalls++
	f.mu.Unlock()
	if f.scoreFn != nil {
		return f.scoreFn(ctx, in)
	}
	return openai.Scoring{}, nil
}

func (f *fakeAI) Advise(ctx context.Context, in openai.AdviseInput) (openai.Narrative, error) {
	if f.adviseFn != nil {
		return f.adviseFn(ctx, in)
	}
	return openai.Narrative{Text: "advice"}, nil
}

func (f *fakeAI) GenerateTasks(ctx context.Context, in openai.GenerateTasksInput) (openai.TaskList, error) {
	if f.generateTasksFn != nil {
		return f.generateTasksFn(ctx, in)
	}
	return openai.TaskList{}, nil
}

func (f *fakeAI) uploads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploadCalls
}

func (f *fakeAI) scores() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scoreCalls
}

// memDiagRepo keeps diagnostics in memory and honors the status guard the same
// way the postgres implementation does.
type memDiagRepo struct {
	mu    sync.Mutex
	diags map[uuid.UUID]*types.Diagnostic
}

func newMemDiagRepo(diags ...*types.Diagnostic) *memDiagRepo {
	r := &memDiagRepo{diags: map[uuid.UUID]*types.Diagnostic{}}
	for _, d := range diags {
		r.diags[d.ID] = d
	}
	return r
}

func (r *memDiagRepo) Create(_ dbctx.Context, diags []*types.Diagnostic) ([]*types.Diagnostic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range diags {
		if d.ID == uuid.Nil {
			d.ID = uuid.New()
		}
		r.diags[d.ID] = d
	}
	return diags, nil
}

func (r *memDiagRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*types.Diagnostic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.diags[id]
	if !ok {
		return nil, nil
	}
	clone := *d
	return &clone, nil
}

func (r *memDiagRepo) UpdateFields(_ dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.diags[id]; ok {
		applyDiagnosticUpdates(d, updates)
	}
	return nil
}

func (r *memDiagRepo) UpdateFieldsIfStatus(_ dbctx.Context, id uuid.UUID, requiredStatuses []string, updates map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.diags[id]
	if !ok {
		return false, nil
	}
	allowed := len(requiredStatuses) == 0
	for _, status := range requiredStatuses {
		if d.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}
	applyDiagnosticUpdates(d, updates)
	return true, nil
}

func applyDiagnosticUpdates(d *types.Diagnostic, updates map[string]interface{}) {
	for column, value := range updates {
		switch column {
		case "status":
			d.Status = value.(string)
		case "summary":
			d.Summary = value.(string)
		case "advisor_report":
			d.AdvisorReport = value.(string)
		case "advice":
			d.Advice = value.(string)
		case "last_error":
			d.LastError = value.(string)
		case "ai_model":
			d.AIModel = value.(string)
		case "question_scores":
			d.QuestionScores = value.(datatypes.JSON)
		case "module_scores":
			d.ModuleScores = value.(datatypes.JSON)
		case "overall_score":
			v := value.(float64)
			d.OverallScore = &v
		case "tasks_generated_count":
			d.TasksGeneratedCount = value.(int)
		case "ai_tokens_used":
			d.AITokensUsed = value.(int)
		case "started_at":
			if value == nil {
				d.StartedAt = nil
			} else {
				v := value.(time.Time)
				d.StartedAt = &v
			}
		case "completed_at":
			if value == nil {
				d.CompletedAt = nil
			} else {
				v := value.(time.Time)
				d.CompletedAt = &v
			}
		}
	}
}

// memMediaRepo serves a fixed attachment set per diagnostic.
type memMediaRepo struct {
	mu       sync.Mutex
	attached map[uuid.UUID][]*types.Media
}

func newMemMediaRepo() *memMediaRepo {
	return &memMediaRepo{attached: map[uuid.UUID][]*types.Media{}}
}

func (r *memMediaRepo) attach(diagnosticID uuid.UUID, media ...*types.Media) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attached[diagnosticID] = append(r.attached[diagnosticID], media...)
}

func (r *memMediaRepo) Create(_ dbctx.Context, media []*types.Media) ([]*types.Media, error) {
	return media, nil
}

func (r *memMediaRepo) GetByIDs(_ dbctx.Context, ids []uuid.UUID) ([]*types.Media, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := map[uuid.UUID]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []*types.Media
	for _, list := range r.attached {
		for _, m := range list {
			if want[m.ID] {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

func (r *memMediaRepo) ForDiagnostic(_ dbctx.Context, diagnosticID uuid.UUID) ([]*types.Media, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attached[diagnosticID], nil
}

func (r *memMediaRepo) Attach(_ dbctx.Context, diagnosticID uuid.UUID, mediaIDs []uuid.UUID) error {
	return nil
}

func (r *memMediaRepo) SetExternalFileID(_ dbctx.Context, id uuid.UUID, externalFileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, list := range r.attached {
		for _, m := range list {
			if m.ID == id {
				fid := externalFileID
				m.ExternalFileID = &fid
				m.ExternalUploadedAt = &now
			}
		}
	}
	return nil
}

// memTaskRepo records derived tasks in memory.
type memTaskRepo struct {
	mu        sync.Mutex
	rows      []*types.Task
	deleteErr error
	createErr error
}

func (r *memTaskRepo) Create(_ dbctx.Context, tasks []*types.Task) ([]*types.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	r.rows = append(r.rows, tasks...)
	return tasks, nil
}

func (r *memTaskRepo) DeleteDiagnosticGenerated(_ dbctx.Context, engagementID, diagnosticID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return 0, r.deleteErr
	}
	var kept []*types.Task
	var deleted int64
	for _, task := range r.rows {
		if task.EngagementID == engagementID &&
			task.DiagnosticID != nil && *task.DiagnosticID == diagnosticID &&
			task.Source == types.TaskSourceDiagnostic {
			deleted++
			continue
		}
		kept = append(kept, task)
	}
	r.rows = kept
	return deleted, nil
}

func (r *memTaskRepo) ListDiagnosticGenerated(_ dbctx.Context, engagementID, diagnosticID uuid.UUID) ([]*types.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Task
	for _, task := range r.rows {
		if task.EngagementID == engagementID &&
			task.DiagnosticID != nil && *task.DiagnosticID == diagnosticID &&
			task.Source == types.TaskSourceDiagnostic {
			out = append(out, task)
		}
	}
	return out, nil
}

// recordingSync captures engagement sync invocations.
type recordingSync struct {
	mu    sync.Mutex
	diags []*types.Diagnostic
}

func (s *recordingSync) SyncFromDiagnostic(_ dbctx.Context, diag *types.Diagnostic) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diags = append(s.diags, diag)
	return nil
}

func (s *recordingSync) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.diags)
}

// recordingRenderer captures render invocations.
type recordingRenderer struct {
	mu    sync.Mutex
	diags []*types.Diagnostic
}

func (r *recordingRenderer) Render(_ dbctx.Context, diag *types.Diagnostic) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diags = append(r.diags, diag)
	return nil
}

func (r *recordingRenderer) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.diags)
}
