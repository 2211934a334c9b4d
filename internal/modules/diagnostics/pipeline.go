package diagnostics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/harborpoint/advisory-backend/internal/data/repos"
	types "github.com/harborpoint/advisory-backend/internal/domain"
	diagdomain "github.com/harborpoint/advisory-backend/internal/domain/diagnostics"
	"github.com/harborpoint/advisory-backend/internal/jobs"
	"github.com/harborpoint/advisory-backend/internal/pkg/dbctx"
	"github.com/harborpoint/advisory-backend/internal/platform/logger"
	"github.com/harborpoint/advisory-backend/internal/platform/openai"
)

// EngagementSync propagates a completed diagnostic to the owning engagement.
type EngagementSync interface {
	SyncFromDiagnostic(dbc dbctx.Context, diag *types.Diagnostic) error
}

// ReportRenderer produces the downloadable document for a completed
// diagnostic. Rendering failures are logged and never revert the status.
type ReportRenderer interface {
	Render(dbc dbctx.Context, diag *types.Diagnostic) error
}

// runState carries the intermediate outputs between pipeline steps for one run.
type runState struct {
	diag        *types.Diagnostic
	extract     map[string]string
	summary     string
	scoring     openai.Scoring
	aggregation *Aggregation
	advice      string
	tasksCount  int
	aiModel     string
	aiTokens    int
}

func (st *runState) addUsage(u openai.Usage) {
	st.aiTokens += u.TotalTokens
	if u.Model != "" {
		st.aiModel = u.Model
	}
}

type step struct {
	name string
	// continueOnError marks soft-fail steps: their error is logged and the
	// pipeline proceeds with degraded output instead of aborting.
	continueOnError bool
	run             func(ctx context.Context, dbc dbctx.Context, st *runState) error
}

/*
Pipeline executes the seven-step diagnostic processing sequence for one
diagnostic: extract, summarize, score (with the file router's single
stale-handle retry), aggregate and validate, advise, generate tasks, persist.

Each step after the first is preceded by a cooperative shutdown checkpoint. An
interruption observed at a checkpoint (or surfacing as a context cancellation
from inside a step) resets the diagnostic to draft so the user can resubmit
after a redeploy; only genuine step failures mark it failed. Errors never
propagate to an HTTP caller, they are recorded on the row and observed by
polling.
*/
type Pipeline struct {
	log        *logger.Logger
	ai         openai.Client
	supervisor *jobs.Supervisor
	router     *FileRouter
	taskSync   *TaskSynchronizer
	diagRepo   repos.DiagnosticRepo
	engSync    EngagementSync
	renderer   ReportRenderer
	// scoringContext is the static scoring-map text sent with every scoring call.
	scoringContext string
}

func NewPipeline(
	baseLog *logger.Logger,
	ai openai.Client,
	supervisor *jobs.Supervisor,
	router *FileRouter,
	taskSync *TaskSynchronizer,
	diagRepo repos.DiagnosticRepo,
	engSync EngagementSync,
	renderer ReportRenderer,
	scoringContext string,
) *Pipeline {
	return &Pipeline{
		log:            baseLog.With("component", "DiagnosticPipeline"),
		ai:             ai,
		supervisor:     supervisor,
		router:         router,
		taskSync:       taskSync,
		diagRepo:       diagRepo,
		engSync:        engSync,
		renderer:       renderer,
		scoringContext: scoringContext,
	}
}

// Run processes one diagnostic end to end. It is launched on a detached
// goroutine by the submission entrypoint and must never panic outward.
func (p *Pipeline) Run(ctx context.Context, diagnosticID uuid.UUID) {
	log := p.log.With("diagnostic_id", diagnosticID)
	dbc := dbctx.From(ctx)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Diagnostic pipeline panic", "panic", r)
			p.markFailed(diagnosticID, fmt.Errorf("pipeline panic: %v", r))
		}
	}()

	diag, err := p.diagRepo.GetByID(dbc, diagnosticID)
	if err != nil {
		log.Error("Failed to load diagnostic for processing", "error", err)
		p.markFailed(diagnosticID, err)
		return
	}
	if diag == nil {
		log.Error("Diagnostic disappeared before processing started")
		return
	}
	if diag.Status != diagdomain.StatusProcessing {
		log.Warn("Diagnostic is not in processing status, skipping run", "status", diag.Status)
		return
	}

	st := &runState{diag: diag}
	steps := []step{
		{name: "extract", run: p.stepExtract},
		{name: "summarize", run: p.stepSummarize},
		{name: "score", run: p.stepScore},
		{name: "aggregate", run: p.stepAggregate},
		{name: "advise", continueOnError: true, run: p.stepAdvise},
		{name: "generate_tasks", continueOnError: true, run: p.stepGenerateTasks},
		{name: "persist", run: p.stepPersist},
	}

	started := time.Now()
	log.Info("Diagnostic pipeline starting", "steps", len(steps))

	for i, s := range steps {
		if i > 0 && p.interrupted(ctx) {
			log.Info("Shutdown observed at checkpoint, resetting diagnostic to draft", "before_step", s.name)
			p.revertToDraft(diagnosticID)
			return
		}

		stepStart := time.Now()
		err := s.run(ctx, dbc, st)
		if err == nil {
			log.Debug("Pipeline step finished", "step", s.name, "elapsed", time.Since(stepStart))
			continue
		}

		// A step that died because the job context was cancelled is an
		// interruption, not a failure, even mid-step.
		if p.interrupted(ctx) || errors.Is(err, context.Canceled) {
			log.Info("Pipeline interrupted by shutdown, resetting diagnostic to draft", "step", s.name)
			p.revertToDraft(diagnosticID)
			return
		}
		if s.continueOnError {
			log.Warn("Soft-fail step errored, continuing with degraded output", "step", s.name, "error", err)
			continue
		}

		log.Error("Pipeline step failed", "step", s.name, "error", err)
		p.markFailed(diagnosticID, fmt.Errorf("%s: %w", s.name, err))
		p.syncEngagement(diag)
		return
	}

	log.Info("Diagnostic pipeline completed",
		"elapsed", time.Since(started),
		"overall_score", st.aggregation.Overall,
		"tasks_generated", st.tasksCount,
		"ai_tokens", st.aiTokens,
	)

	p.syncEngagement(diag)
	p.render(diag)
}

// interrupted is the cooperative checkpoint: true once the process is shutting
// down or this job's context has been cancelled.
func (p *Pipeline) interrupted(ctx context.Context) bool {
	return ctx.Err() != nil || p.supervisor.ShuttingDown()
}

// -------------------- steps --------------------

func (p *Pipeline) stepExtract(_ context.Context, _ dbctx.Context, st *runState) error {
	extract, err := buildExtract(st.diag.QuestionSchema, st.diag.UserResponses)
	if err != nil {
		return err
	}
	if len(extract) == 0 {
		return fmt.Errorf("no responses to process")
	}
	st.extract = extract
	return nil
}

func (p *Pipeline) stepSummarize(ctx context.Context, _ dbctx.Context, st *runState) error {
	narrative, err := p.ai.Summarize(ctx, openai.SummarizeInput{
		Prompt:    summarizePrompt,
		Responses: st.extract,
	})
	if err != nil {
		return err
	}
	st.summary = narrative.Text
	st.addUsage(narrative.Usage)
	return nil
}

/*
stepScore is the heaviest step: the question schema, responses and the routed
attachments go to the completion service, which returns per-question scores,
the module roadmap and the advisor report.

If the call fails with a recognizably stale external file handle, every
attachment in the plan is re-uploaded for a fresh handle and the call is
retried exactly once; a second failure of the same class propagates as a hard
failure. No other error class is retried here.
*/
func (p *Pipeline) stepScore(ctx context.Context, dbc dbctx.Context, st *runState) error {
	plan, err := p.router.Plan(dbc, st.diag)
	if err != nil {
		return err
	}
	if err := p.router.EnsureUploaded(ctx, dbc, plan); err != nil {
		return err
	}

	var schema map[string]any
	if len(st.diag.QuestionSchema) > 0 {
		if err := json.Unmarshal(st.diag.QuestionSchema, &schema); err != nil {
			return fmt.Errorf("decode question schema: %w", err)
		}
	}

	score := func() (openai.Scoring, error) {
		return p.ai.Score(ctx, openai.ScoreInput{
			Prompt:         scorePrompt,
			ScoringContext: p.scoringContext,
			Schema:         schema,
			Responses:      st.extract,
			DirectFileIDs:  plan.DirectFileIDs(),
			ToolFileIDs:    plan.ToolFileIDs(),
		})
	}

	scoring, err := score()
	if err != nil && openai.IsMissingFileError(err) {
		p.log.Warn("Scoring call hit a stale file handle, refreshing and retrying once",
			"diagnostic_id", st.diag.ID, "error", err)
		if refreshErr := p.router.Refresh(ctx, dbc, plan); refreshErr != nil {
			return fmt.Errorf("refresh file handles: %w", refreshErr)
		}
		scoring, err = score()
	}
	if err != nil {
		return err
	}

	st.scoring = scoring
	st.addUsage(scoring.Usage)
	return nil
}

func (p *Pipeline) stepAggregate(_ context.Context, _ dbctx.Context, st *runState) error {
	agg, err := aggregateScoring(st.scoring, st.diag.UserResponses)
	if err != nil {
		return err
	}
	for _, warning := range agg.Warnings {
		p.log.Warn("Scoring validation warning", "diagnostic_id", st.diag.ID, "warning", warning)
	}
	st.aggregation = agg
	return nil
}

func (p *Pipeline) stepAdvise(ctx context.Context, _ dbctx.Context, st *runState) error {
	narrative, err := p.ai.Advise(ctx, openai.AdviseInput{
		Prompt:  advisePrompt,
		Scoring: st.scoring,
	})
	if err != nil {
		return err
	}
	st.advice = narrative.Text
	st.addUsage(narrative.Usage)
	return nil
}

func (p *Pipeline) stepGenerateTasks(ctx context.Context, dbc dbctx.Context, st *runState) error {
	list, err := p.ai.GenerateTasks(ctx, openai.GenerateTasksInput{
		Prompt:  generateTasksPrompt,
		Summary: st.summary,
		Extract: st.extract,
		Roadmap: st.scoring.Roadmap,
	})
	if err != nil {
		return err
	}
	st.addUsage(list.Usage)
	st.tasksCount = p.taskSync.Replace(dbc, st.diag.EngagementID, st.diag.ID, list.Raw)
	return nil
}

// stepPersist writes the run's full output and the terminal status in one
// guarded commit. The guard on processing keeps a row that left processing
// out-of-band from being clobbered.
func (p *Pipeline) stepPersist(_ context.Context, dbc dbctx.Context, st *runState) error {
	questionScores, err := json.Marshal(st.scoring.ScoredRows)
	if err != nil {
		return fmt.Errorf("encode question scores: %w", err)
	}
	moduleScores, err := json.Marshal(st.aggregation)
	if err != nil {
		return fmt.Errorf("encode module scores: %w", err)
	}

	now := time.Now()
	overall := st.aggregation.Overall
	ok, err := p.diagRepo.UpdateFieldsIfStatus(dbc, st.diag.ID,
		[]string{diagdomain.StatusProcessing},
		map[string]interface{}{
			"status":                diagdomain.StatusCompleted,
			"summary":               st.summary,
			"question_scores":       datatypes.JSON(questionScores),
			"module_scores":         datatypes.JSON(moduleScores),
			"overall_score":         overall,
			"advisor_report":        st.scoring.AdvisorReport,
			"advice":                st.advice,
			"tasks_generated_count": st.tasksCount,
			"ai_model":              st.aiModel,
			"ai_tokens_used":        st.aiTokens,
			"last_error":            "",
			"completed_at":          now,
		})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("diagnostic left processing status before completion commit")
	}

	st.diag.Status = diagdomain.StatusCompleted
	st.diag.CompletedAt = &now
	return nil
}

// -------------------- terminal transitions --------------------

// markFailed and revertToDraft run on a background context: the job context
// may already be cancelled, and the terminal write must still land.

func (p *Pipeline) markFailed(diagnosticID uuid.UUID, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	dbc := dbctx.From(context.Background())
	ok, err := p.diagRepo.UpdateFieldsIfStatus(dbc, diagnosticID,
		[]string{diagdomain.StatusProcessing},
		map[string]interface{}{
			"status":     diagdomain.StatusFailed,
			"last_error": msg,
		})
	if err != nil {
		p.log.Error("Failed to mark diagnostic failed", "diagnostic_id", diagnosticID, "error", err)
		return
	}
	if !ok {
		p.log.Warn("Diagnostic was no longer processing when failure was recorded", "diagnostic_id", diagnosticID)
	}
}

// revertToDraft is the shutdown path: the diagnostic goes back to a resumable
// draft with user_responses untouched, so a redeploy never strands the user in
// a failed state.
func (p *Pipeline) revertToDraft(diagnosticID uuid.UUID) {
	dbc := dbctx.From(context.Background())
	ok, err := p.diagRepo.UpdateFieldsIfStatus(dbc, diagnosticID,
		[]string{diagdomain.StatusProcessing},
		map[string]interface{}{
			"status":     diagdomain.StatusDraft,
			"last_error": "",
			"started_at": nil,
		})
	if err != nil {
		p.log.Error("Failed to reset diagnostic to draft", "diagnostic_id", diagnosticID, "error", err)
		return
	}
	if !ok {
		p.log.Warn("Diagnostic was no longer processing when shutdown reset ran", "diagnostic_id", diagnosticID)
	}
}

func (p *Pipeline) syncEngagement(diag *types.Diagnostic) {
	if p.engSync == nil {
		return
	}
	dbc := dbctx.From(context.Background())
	fresh, err := p.diagRepo.GetByID(dbc, diag.ID)
	if err != nil || fresh == nil {
		p.log.Warn("Could not reload diagnostic for engagement sync", "diagnostic_id", diag.ID, "error", err)
		return
	}
	if err := p.engSync.SyncFromDiagnostic(dbc, fresh); err != nil {
		p.log.Error("Engagement status sync failed", "engagement_id", fresh.EngagementID, "error", err)
	}
}

func (p *Pipeline) render(diag *types.Diagnostic) {
	if p.renderer == nil {
		return
	}
	dbc := dbctx.From(context.Background())
	fresh, err := p.diagRepo.GetByID(dbc, diag.ID)
	if err != nil || fresh == nil || fresh.Status != diagdomain.StatusCompleted {
		return
	}
	if err := p.renderer.Render(dbc, fresh); err != nil {
		p.log.Error("Report rendering failed, diagnostic stays completed", "diagnostic_id", diag.ID, "error", err)
	}
}
