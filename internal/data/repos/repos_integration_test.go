package repos

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	types "github.com/harborpoint/advisory-backend/internal/domain"
	"github.com/harborpoint/advisory-backend/internal/pkg/dbctx"
	"github.com/harborpoint/advisory-backend/internal/platform/logger"
)

func integrationDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("set TEST_POSTGRES_DSN to run postgres integration tests")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		t.Fatalf("uuid-ossp: %v", err)
	}
	if err := db.AutoMigrate(types.AllModels()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func integrationSet(t *testing.T) (Set, dbctx.Context) {
	t.Helper()
	db := integrationDB(t)
	log := &logger.Logger{SugaredLogger: zap.NewNop().Sugar()}
	return Wire(db, log), dbctx.From(context.Background())
}

func seedPair(t *testing.T, set Set, dbc dbctx.Context, status string) (*types.Engagement, *types.Diagnostic) {
	t.Helper()
	engs, err := set.Engagement.Create(dbc, []*types.Engagement{{
		ID:         uuid.New(),
		ClientName: "integration engagement",
		Status:     types.EngagementStatusActive,
	}})
	if err != nil {
		t.Fatalf("create engagement: %v", err)
	}
	diags, err := set.Diagnostic.Create(dbc, []*types.Diagnostic{{
		ID:            uuid.New(),
		EngagementID:  engs[0].ID,
		Status:        status,
		UserResponses: datatypes.JSON(`{"q1": "a"}`),
	}})
	if err != nil {
		t.Fatalf("create diagnostic: %v", err)
	}
	return engs[0], diags[0]
}

func TestDiagnosticRepoIntegration_StatusGuard(t *testing.T) {
	set, dbc := integrationSet(t)
	_, diag := seedPair(t, set, dbc, types.DiagnosticStatusProcessing)

	// Guard passes while the row is still processing.
	ok, err := set.Diagnostic.UpdateFieldsIfStatus(dbc, diag.ID,
		[]string{types.DiagnosticStatusProcessing},
		map[string]interface{}{"status": types.DiagnosticStatusCompleted})
	if err != nil || !ok {
		t.Fatalf("guarded update should apply: ok=%v err=%v", ok, err)
	}

	// A second processing-guarded write must now miss.
	ok, err = set.Diagnostic.UpdateFieldsIfStatus(dbc, diag.ID,
		[]string{types.DiagnosticStatusProcessing},
		map[string]interface{}{"status": types.DiagnosticStatusFailed})
	if err != nil {
		t.Fatalf("guarded update errored: %v", err)
	}
	if ok {
		t.Fatalf("guard should reject a row that already left processing")
	}

	got, err := set.Diagnostic.GetByID(dbc, diag.ID)
	if err != nil || got == nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != types.DiagnosticStatusCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
}

func TestMediaRepoIntegration_AttachAndRefreshHandle(t *testing.T) {
	set, dbc := integrationSet(t)
	_, diag := seedPair(t, set, dbc, types.DiagnosticStatusDraft)

	media, err := set.Media.Create(dbc, []*types.Media{{
		ID:           uuid.New(),
		FileName:     "report.pdf",
		RelativePath: "it/report.pdf",
		Extension:    "pdf",
	}})
	if err != nil {
		t.Fatalf("create media: %v", err)
	}
	if err := set.Media.Attach(dbc, diag.ID, []uuid.UUID{media[0].ID}); err != nil {
		t.Fatalf("attach: %v", err)
	}

	attached, err := set.Media.ForDiagnostic(dbc, diag.ID)
	if err != nil {
		t.Fatalf("for diagnostic: %v", err)
	}
	if len(attached) != 1 || attached[0].ID != media[0].ID {
		t.Fatalf("unexpected attachments: %+v", attached)
	}
	if attached[0].ExternalFileID != nil {
		t.Fatalf("fresh media should have no external handle")
	}

	if err := set.Media.SetExternalFileID(dbc, media[0].ID, "file-it-1"); err != nil {
		t.Fatalf("set external id: %v", err)
	}
	attached, err = set.Media.ForDiagnostic(dbc, diag.ID)
	if err != nil {
		t.Fatalf("reload attachments: %v", err)
	}
	if attached[0].ExternalFileID == nil || *attached[0].ExternalFileID != "file-it-1" {
		t.Fatalf("handle not persisted: %+v", attached[0])
	}
	if attached[0].ExternalUploadedAt == nil {
		t.Fatalf("upload timestamp not stamped")
	}
}

func TestTaskRepoIntegration_DeleteScopedToPairAndSource(t *testing.T) {
	set, dbc := integrationSet(t)
	eng, diag := seedPair(t, set, dbc, types.DiagnosticStatusProcessing)

	diagID := diag.ID
	_, err := set.Task.Create(dbc, []*types.Task{
		{ID: uuid.New(), EngagementID: eng.ID, DiagnosticID: &diagID, Title: "derived", Source: types.TaskSourceDiagnostic},
		{ID: uuid.New(), EngagementID: eng.ID, Title: "manual", Source: "manual"},
	})
	if err != nil {
		t.Fatalf("create tasks: %v", err)
	}

	deleted, err := set.Task.DeleteDiagnosticGenerated(dbc, eng.ID, diag.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}

	left, err := set.Task.ListDiagnosticGenerated(dbc, eng.ID, diag.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("derived tasks should be gone, got %d", len(left))
	}
}

func TestEngagementRepoIntegration_MarkCompletedIdempotent(t *testing.T) {
	set, dbc := integrationSet(t)
	eng, _ := seedPair(t, set, dbc, types.DiagnosticStatusProcessing)

	if err := set.Engagement.MarkCompleted(dbc, eng.ID); err != nil {
		t.Fatalf("first mark: %v", err)
	}
	first, err := set.Engagement.GetByID(dbc, eng.ID)
	if err != nil || first == nil {
		t.Fatalf("reload: %v", err)
	}
	if first.Status != types.EngagementStatusCompleted || first.CompletedAt == nil {
		t.Fatalf("not completed: %+v", first)
	}

	if err := set.Engagement.MarkCompleted(dbc, eng.ID); err != nil {
		t.Fatalf("second mark: %v", err)
	}
	second, err := set.Engagement.GetByID(dbc, eng.ID)
	if err != nil || second == nil {
		t.Fatalf("reload: %v", err)
	}
	if !second.CompletedAt.Equal(*first.CompletedAt) {
		t.Fatalf("completed_at must not move on repeat: %v vs %v",
			second.CompletedAt, first.CompletedAt)
	}
}
