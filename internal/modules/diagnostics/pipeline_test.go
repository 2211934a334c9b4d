package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/harborpoint/advisory-backend/internal/domain"
	"github.com/harborpoint/advisory-backend/internal/jobs"
	"github.com/harborpoint/advisory-backend/internal/platform/openai"
)

const testSchema = `{
	"modules": [
		{"name": "finance", "questions": [{"key": "fin_q1", "text": "Cash flow?"}]},
		{"name": "operations", "questions": [{"key": "ops_q1", "text": "Suppliers?"}]}
	]
}`

func processingDiagnostic(responses string) *types.Diagnostic {
	return &types.Diagnostic{
		ID:             uuid.New(),
		EngagementID:   uuid.New(),
		Status:         types.DiagnosticStatusProcessing,
		QuestionSchema: datatypes.JSON(testSchema),
		UserResponses:  datatypes.JSON(responses),
	}
}

func fixedScoring() openai.Scoring {
	return openai.Scoring{
		ScoredRows: []openai.ScoredRow{
			{QuestionKey: "fin_q1", Module: "finance", Score: 4, Rationale: "tracked monthly"},
			{QuestionKey: "ops_q1", Module: "operations", Score: 2, Rationale: "single supplier"},
		},
		Roadmap: []openai.RoadmapEntry{
			{Module: "operations", Priority: 1, RAG: "red"},
			{Module: "finance", Priority: 2, RAG: "green"},
		},
		AdvisorReport: "full report",
		Usage:         openai.Usage{Model: "gpt-4.1", TotalTokens: 200},
	}
}

type pipelineFixture struct {
	diag       *types.Diagnostic
	diagRepo   *memDiagRepo
	mediaRepo  *memMediaRepo
	taskRepo   *memTaskRepo
	ai         *fakeAI
	supervisor *jobs.Supervisor
	sync       *recordingSync
	renderer   *recordingRenderer
	pipeline   *Pipeline
}

func newPipelineFixture(diag *types.Diagnostic, ai *fakeAI) *pipelineFixture {
	log := testLogger()
	f := &pipelineFixture{
		diag:       diag,
		diagRepo:   newMemDiagRepo(diag),
		mediaRepo:  newMemMediaRepo(),
		taskRepo:   &memTaskRepo{},
		ai:         ai,
		supervisor: jobs.NewSupervisor(log),
		sync:       &recordingSync{},
		renderer:   &recordingRenderer{},
	}
	router := NewFileRouter(log, ai, f.mediaRepo, "/media")
	taskSync := NewTaskSynchronizer(log, f.taskRepo)
	f.pipeline = NewPipeline(log, ai, f.supervisor, router, taskSync,
		f.diagRepo, f.sync, f.renderer, "scoring map v1")
	return f
}

func (f *pipelineFixture) current(t *testing.T) *types.Diagnostic {
	t.Helper()
	d, err := f.diagRepo.GetByID(dbcBackground(), f.diag.ID)
	if err != nil || d == nil {
		t.Fatalf("reload diagnostic: %v", err)
	}
	return d
}

func TestPipelineRun_CompletesAndPersistsEverything(t *testing.T) {
	diag := processingDiagnostic(`{"fin_q1": "tight", "ops_q1": "one supplier"}`)
	ai := &fakeAI{
		summarizeFn: func(context.Context, openai.SummarizeInput) (openai.Narrative, error) {
			return openai.Narrative{Text: "the business", Usage: openai.Usage{Model: "gpt-4.1", TotalTokens: 100}}, nil
		},
		adviseFn: func(context.Context, openai.AdviseInput) (openai.Narrative, error) {
			return openai.Narrative{Text: "diversify suppliers", Usage: openai.Usage{TotalTokens: 50}}, nil
		},
		generateTasksFn: func(context.Context, openai.GenerateTasksInput) (openai.TaskList, error) {
			return openai.TaskList{
				Raw: map[string]any{"tasks": []any{
					map[string]any{"title": "Find a second supplier", "priority": "high"},
					map[string]any{"title": "Build a cash buffer"},
				}},
				Usage: openai.Usage{TotalTokens: 25},
			}, nil
		},
	}
	ai.scoreFn = func(context.Context, openai.ScoreInput) (openai.Scoring, error) {
		return fixedScoring(), nil
	}
	f := newPipelineFixture(diag, ai)

	f.pipeline.Run(context.Background(), diag.ID)

	got := f.current(t)
	if got.Status != types.DiagnosticStatusCompleted {
		t.Fatalf("status = %q, want completed (last_error=%q)", got.Status, got.LastError)
	}
	if got.Summary != "the business" || got.Advice != "diversify suppliers" || got.AdvisorReport != "full report" {
		t.Fatalf("narrative outputs not persisted: %+v", got)
	}
	if got.OverallScore == nil || *got.OverallScore != 3 {
		t.Fatalf("overall score = %v, want 3", got.OverallScore)
	}
	if got.TasksGeneratedCount != 2 {
		t.Fatalf("tasks_generated_count = %d, want 2", got.TasksGeneratedCount)
	}
	if got.AITokensUsed != 375 || got.AIModel != "gpt-4.1" {
		t.Fatalf("usage accounting wrong: tokens=%d model=%q", got.AITokensUsed, got.AIModel)
	}
	if got.CompletedAt == nil {
		t.Fatalf("completed_at not stamped")
	}
	if got.LastError != "" {
		t.Fatalf("last_error should be cleared, got %q", got.LastError)
	}

	var scores []openai.ScoredRow
	if err := json.Unmarshal(got.QuestionScores, &scores); err != nil || len(scores) != 2 {
		t.Fatalf("question_scores not persisted: %v %v", err, scores)
	}
	var agg Aggregation
	if err := json.Unmarshal(got.ModuleScores, &agg); err != nil || len(agg.Modules) != 2 {
		t.Fatalf("module_scores not persisted: %v %+v", err, agg)
	}
	if agg.Modules[0].Module != "operations" {
		t.Fatalf("roadmap ordering lost in persistence: %+v", agg.Modules)
	}

	tasks, _ := f.taskRepo.ListDiagnosticGenerated(dbcBackground(), diag.EngagementID, diag.ID)
	if len(tasks) != 2 {
		t.Fatalf("expected 2 derived tasks, got %d", len(tasks))
	}
	if f.sync.calls() != 1 {
		t.Fatalf("engagement sync should run once, got %d", f.sync.calls())
	}
	if f.renderer.calls() != 1 {
		t.Fatalf("report render should run once, got %d", f.renderer.calls())
	}
}

func TestPipelineRun_StaleFileHandleRetriesExactlyOnce(t *testing.T) {
	diag := processingDiagnostic(`{"fin_q1": "ok", "ops_q1": "ok"}`)
	ai := &fakeAI{}
	f := newPipelineFixture(diag, ai)

	stale := "stale-handle"
	attachment := &types.Media{
		ID: uuid.New(), FileName: "ledger.csv", RelativePath: "u/ledger.csv",
		Extension: "csv", ExternalFileID: &stale,
	}
	f.mediaRepo.attach(diag.ID, attachment)
	f.diagRepo.diags[diag.ID].UserResponses = datatypes.JSON(fmt.Sprintf(
		`{"fin_q1": "ok", "ops_q1": {"answer": "ok", "media_ids": [%q]}}`, attachment.ID))

	ai.scoreFn = func(_ context.Context, in openai.ScoreInput) (openai.Scoring, error) {
		if ai.scores() == 1 {
			return openai.Scoring{}, &openai.APIError{
				StatusCode: http.StatusNotFound, Code: "file_not_found", Message: "file expired",
			}
		}
		if len(in.ToolFileIDs) != 1 || in.ToolFileIDs[0] == stale {
			return openai.Scoring{}, fmt.Errorf("retry did not carry refreshed handles: %v", in.ToolFileIDs)
		}
		return fixedScoring(), nil
	}

	f.pipeline.Run(context.Background(), diag.ID)

	got := f.current(t)
	if got.Status != types.DiagnosticStatusCompleted {
		t.Fatalf("status = %q, want completed (last_error=%q)", got.Status, got.LastError)
	}
	if ai.scores() != 2 {
		t.Fatalf("score should be called twice, got %d", ai.scores())
	}
	if ai.uploads() != 1 {
		t.Fatalf("the one attachment should be re-uploaded once, got %d", ai.uploads())
	}
	if attachment.ExternalFileID == nil || *attachment.ExternalFileID == stale {
		t.Fatalf("fresh handle was not persisted on the media row")
	}
}

func TestPipelineRun_SecondStaleFailureMarksFailed(t *testing.T) {
	diag := processingDiagnostic(`{"fin_q1": "ok"}`)
	ai := &fakeAI{
		scoreFn: func(context.Context, openai.ScoreInput) (openai.Scoring, error) {
			return openai.Scoring{}, &openai.APIError{
				StatusCode: http.StatusNotFound, Code: "file_not_found", Message: "file expired",
			}
		},
	}
	f := newPipelineFixture(diag, ai)

	f.pipeline.Run(context.Background(), diag.ID)

	got := f.current(t)
	if got.Status != types.DiagnosticStatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if got.LastError == "" {
		t.Fatalf("last_error should carry the failing step")
	}
	if ai.scores() != 2 {
		t.Fatalf("exactly one retry is allowed, got %d calls", ai.scores())
	}
	if f.renderer.calls() != 0 {
		t.Fatalf("no report for a failed diagnostic")
	}
}

func TestPipelineRun_NonFileErrorFailsWithoutRetry(t *testing.T) {
	diag := processingDiagnostic(`{"fin_q1": "ok"}`)
	ai := &fakeAI{
		scoreFn: func(context.Context, openai.ScoreInput) (openai.Scoring, error) {
			return openai.Scoring{}, fmt.Errorf("model overloaded")
		},
	}
	f := newPipelineFixture(diag, ai)

	f.pipeline.Run(context.Background(), diag.ID)

	if got := f.current(t); got.Status != types.DiagnosticStatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if ai.scores() != 1 {
		t.Fatalf("only stale-handle errors are retried, got %d calls", ai.scores())
	}
}

func TestPipelineRun_ShutdownResetsToDraft(t *testing.T) {
	responses := `{"fin_q1": "ok", "ops_q1": "ok"}`
	diag := processingDiagnostic(responses)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ai := &fakeAI{
		// Cancellation lands mid-run; the next checkpoint must observe it.
		summarizeFn: func(context.Context, openai.SummarizeInput) (openai.Narrative, error) {
			cancel()
			return openai.Narrative{Text: "partial"}, nil
		},
	}
	f := newPipelineFixture(diag, ai)

	f.pipeline.Run(ctx, diag.ID)

	got := f.current(t)
	if got.Status != types.DiagnosticStatusDraft {
		t.Fatalf("status = %q, want draft", got.Status)
	}
	if got.LastError != "" {
		t.Fatalf("interruption is not a failure, last_error = %q", got.LastError)
	}
	if got.StartedAt != nil {
		t.Fatalf("started_at should be cleared on reset")
	}
	if string(got.UserResponses) != responses {
		t.Fatalf("user responses must survive the reset: %s", got.UserResponses)
	}
	if ai.scores() != 0 {
		t.Fatalf("no step should run past the interruption checkpoint")
	}
	if f.sync.calls() != 0 || f.renderer.calls() != 0 {
		t.Fatalf("nothing downstream should fire for an interrupted run")
	}
}

func TestPipelineRun_SupervisorFlagAloneTriggersReset(t *testing.T) {
	diag := processingDiagnostic(`{"fin_q1": "ok"}`)
	ai := &fakeAI{}
	f := newPipelineFixture(diag, ai)
	ai.summarizeFn = func(context.Context, openai.SummarizeInput) (openai.Narrative, error) {
		// Shutdown begins while the job context is still live.
		shutdownCtx, done := context.WithCancel(context.Background())
		done()
		_ = f.supervisor.Shutdown(shutdownCtx)
		return openai.Narrative{Text: "partial"}, nil
	}

	f.pipeline.Run(context.Background(), diag.ID)

	if got := f.current(t); got.Status != types.DiagnosticStatusDraft {
		t.Fatalf("status = %q, want draft", got.Status)
	}
}

func TestPipelineRun_SoftStepFailuresStillComplete(t *testing.T) {
	diag := processingDiagnostic(`{"fin_q1": "ok", "ops_q1": "ok"}`)
	ai := &fakeAI{
		adviseFn: func(context.Context, openai.AdviseInput) (openai.Narrative, error) {
			return openai.Narrative{}, fmt.Errorf("advice generation failed")
		},
		generateTasksFn: func(context.Context, openai.GenerateTasksInput) (openai.TaskList, error) {
			return openai.TaskList{}, fmt.Errorf("task generation failed")
		},
	}
	ai.scoreFn = func(context.Context, openai.ScoreInput) (openai.Scoring, error) {
		return fixedScoring(), nil
	}
	f := newPipelineFixture(diag, ai)

	f.pipeline.Run(context.Background(), diag.ID)

	got := f.current(t)
	if got.Status != types.DiagnosticStatusCompleted {
		t.Fatalf("soft failures must not block completion, status = %q (last_error=%q)",
			got.Status, got.LastError)
	}
	if got.Advice != "" {
		t.Fatalf("advice should be empty after a soft failure, got %q", got.Advice)
	}
	if got.TasksGeneratedCount != 0 {
		t.Fatalf("tasks_generated_count should be 0, got %d", got.TasksGeneratedCount)
	}
	if got.OverallScore == nil {
		t.Fatalf("scoring output must still be persisted")
	}
}

func TestPipelineRun_SkipsDiagnosticNotInProcessing(t *testing.T) {
	diag := processingDiagnostic(`{"fin_q1": "ok"}`)
	diag.Status = types.DiagnosticStatusDraft
	f := newPipelineFixture(diag, &fakeAI{})

	f.pipeline.Run(context.Background(), diag.ID)

	if got := f.current(t); got.Status != types.DiagnosticStatusDraft {
		t.Fatalf("a non-processing diagnostic must be left alone, got %q", got.Status)
	}
	if f.ai.scores() != 0 {
		t.Fatalf("no AI call should be made")
	}
}

func TestPipelineRun_EmptyResponsesFailExtract(t *testing.T) {
	diag := processingDiagnostic(`{}`)
	f := newPipelineFixture(diag, &fakeAI{})

	f.pipeline.Run(context.Background(), diag.ID)

	got := f.current(t)
	if got.Status != types.DiagnosticStatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if got.LastError == "" {
		t.Fatalf("extract failure should be recorded")
	}
}
