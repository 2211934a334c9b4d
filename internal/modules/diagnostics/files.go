package diagnostics

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/harborpoint/advisory-backend/internal/data/repos"
	types "github.com/harborpoint/advisory-backend/internal/domain"
	"github.com/harborpoint/advisory-backend/internal/pkg/dbctx"
	"github.com/harborpoint/advisory-backend/internal/platform/logger"
	"github.com/harborpoint/advisory-backend/internal/platform/openai"
)

// directExtensions are delivered inline as request attachments.
var directExtensions = map[string]bool{
	"pdf": true, "doc": true, "docx": true, "txt": true, "md": true,
}

// toolExtensions are exposed through the sandboxed code-execution container.
var toolExtensions = map[string]bool{
	"csv": true, "xls": true, "xlsx": true, "json": true,
}

// DeliveryPlan splits a diagnostic's live attachments into the two AI delivery
// channels. Excluded files (images, archives, unknown binaries) are kept for
// logging but never sent.
type DeliveryPlan struct {
	Direct   []*types.Media
	Tool     []*types.Media
	Excluded []*types.Media
}

func (p *DeliveryPlan) DirectFileIDs() []string { return fileIDs(p.Direct) }
func (p *DeliveryPlan) ToolFileIDs() []string   { return fileIDs(p.Tool) }

func (p *DeliveryPlan) all() []*types.Media {
	out := make([]*types.Media, 0, len(p.Direct)+len(p.Tool))
	out = append(out, p.Direct...)
	out = append(out, p.Tool...)
	return out
}

func fileIDs(media []*types.Media) []string {
	out := make([]string, 0, len(media))
	for _, m := range media {
		if m.ExternalFileID != nil && *m.ExternalFileID != "" {
			out = append(out, *m.ExternalFileID)
		}
	}
	return out
}

// FileRouter decides how each attachment reaches the AI completion service and
// recovers from stale external handles by re-issuing them in place.
type FileRouter struct {
	log       *logger.Logger
	ai        openai.Client
	mediaRepo repos.MediaRepo
	// mediaRoot is the local directory media relative paths resolve against.
	mediaRoot string
}

func NewFileRouter(baseLog *logger.Logger, ai openai.Client, mediaRepo repos.MediaRepo, mediaRoot string) *FileRouter {
	return &FileRouter{
		log:       baseLog.With("component", "FileRouter"),
		ai:        ai,
		mediaRepo: mediaRepo,
		mediaRoot: mediaRoot,
	}
}

/*
Plan selects and classifies the attachments for one scoring call.

Selection: only media currently referenced in the live response set is used,
not everything ever attached to the diagnostic, so a resubmission does not
re-send files the user has since removed from a question. The primary match is
the stored media id; a missing or malformed id falls back to file name plus
relative path among the diagnostic's own attachments.
*/
func (r *FileRouter) Plan(dbc dbctx.Context, diag *types.Diagnostic) (*DeliveryPlan, error) {
	attached, err := r.mediaRepo.ForDiagnostic(dbc, diag.ID)
	if err != nil {
		return nil, err
	}
	selected, err := referencedMedia(diag, attached)
	if err != nil {
		return nil, err
	}

	plan := &DeliveryPlan{}
	for _, m := range selected {
		ext := normalizedExtension(m)
		switch {
		case directExtensions[ext]:
			plan.Direct = append(plan.Direct, m)
		case toolExtensions[ext]:
			plan.Tool = append(plan.Tool, m)
		default:
			plan.Excluded = append(plan.Excluded, m)
			r.log.Info("Attachment excluded from AI delivery",
				"media_id", m.ID,
				"file_name", m.FileName,
				"extension", ext,
			)
		}
	}
	return plan, nil
}

// EnsureUploaded uploads any selected attachment that has never been issued an
// external handle, persisting the handle on the media row.
func (r *FileRouter) EnsureUploaded(ctx context.Context, dbc dbctx.Context, plan *DeliveryPlan) error {
	for _, m := range plan.all() {
		if m.ExternalFileID != nil && *m.ExternalFileID != "" {
			continue
		}
		if err := r.uploadOne(ctx, dbc, m); err != nil {
			return err
		}
	}
	return nil
}

/*
Refresh re-uploads every attachment in the plan to obtain fresh external
handles after the completion service reported a stale one. Both channels are
re-issued because the service gives no indication of which handle went stale.
Media identity is unchanged; only external_file_id moves.
*/
func (r *FileRouter) Refresh(ctx context.Context, dbc dbctx.Context, plan *DeliveryPlan) error {
	media := plan.all()
	if len(media) == 0 {
		return nil
	}
	r.log.Warn("Re-issuing external file handles after stale-handle error", "count", len(media))

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range media {
		g.Go(func() error {
			return r.uploadOne(gctx, dbc, m)
		})
	}
	return g.Wait()
}

func (r *FileRouter) uploadOne(ctx context.Context, dbc dbctx.Context, m *types.Media) error {
	localPath := filepath.Join(r.mediaRoot, m.RelativePath)
	fileID, err := r.ai.UploadFile(ctx, localPath)
	if err != nil {
		return err
	}
	if err := r.mediaRepo.SetExternalFileID(dbc, m.ID, fileID); err != nil {
		return err
	}
	m.ExternalFileID = &fileID
	return nil
}

func normalizedExtension(m *types.Media) string {
	ext := strings.ToLower(strings.TrimPrefix(m.Extension, "."))
	if ext == "" {
		ext = strings.ToLower(strings.TrimPrefix(filepath.Ext(m.FileName), "."))
	}
	return ext
}

// referencedMedia resolves the file references inside user_responses against
// the diagnostic's attached media, preserving response order and deduplicating.
func referencedMedia(diag *types.Diagnostic, attached []*types.Media) ([]*types.Media, error) {
	decoded, err := decodeResponses(diag.UserResponses)
	if err != nil {
		return nil, err
	}

	byID := make(map[uuid.UUID]*types.Media, len(attached))
	for _, m := range attached {
		byID[m.ID] = m
	}

	seen := map[uuid.UUID]bool{}
	var out []*types.Media
	add := func(m *types.Media) {
		if m == nil || seen[m.ID] {
			return
		}
		seen[m.ID] = true
		out = append(out, m)
	}

	for _, key := range sortedKeys(decoded) {
		value, ok := decoded[key].(map[string]any)
		if !ok {
			continue
		}
		for _, ref := range fileRefs(value) {
			if id, err := uuid.Parse(ref.mediaID); err == nil && id != uuid.Nil {
				if m, ok := byID[id]; ok {
					add(m)
					continue
				}
			}
			// Malformed or unknown id: match by name plus stored path, scoped to
			// this diagnostic's own attachments.
			for _, m := range attached {
				if m.FileName == ref.fileName && (ref.path == "" || m.RelativePath == ref.path) {
					add(m)
					break
				}
			}
		}
	}
	return out, nil
}

type fileRef struct {
	mediaID  string
	fileName string
	path     string
}

// fileRefs collects the attachment references on one response value. Supported
// forms: "media_ids": [..] and "files": [{"media_id", "file_name", "path"}].
func fileRefs(value map[string]any) []fileRef {
	var refs []fileRef
	if ids, ok := value["media_ids"].([]any); ok {
		for _, raw := range ids {
			if s, ok := raw.(string); ok && s != "" {
				refs = append(refs, fileRef{mediaID: s})
			}
		}
	}
	if files, ok := value["files"].([]any); ok {
		for _, raw := range files {
			entry, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			ref := fileRef{}
			if s, ok := entry["media_id"].(string); ok {
				ref.mediaID = s
			}
			if s, ok := entry["file_name"].(string); ok {
				ref.fileName = s
			}
			if s, ok := entry["path"].(string); ok {
				ref.path = s
			}
			if ref.mediaID != "" || ref.fileName != "" {
				refs = append(refs, ref)
			}
		}
	}
	return refs
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
