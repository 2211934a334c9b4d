package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/harborpoint/advisory-backend/internal/platform/logger"
)

// Client is the AI completion service used by the diagnostic pipeline.
type Client interface {
	// UploadFile stores a local file with the service and returns the external
	// handle it issued. Handles can expire service-side; callers re-upload and
	// persist the fresh handle against the same media row.
	UploadFile(ctx context.Context, path string) (string, error)

	Summarize(ctx context.Context, in SummarizeInput) (Narrative, error)
	Score(ctx context.Context, in ScoreInput) (Scoring, error)
	Advise(ctx context.Context, in AdviseInput) (Narrative, error)
	GenerateTasks(ctx context.Context, in GenerateTasksInput) (TaskList, error)
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	maxRetries int
}

func NewClient(log *logger.Logger) (Client, error) {
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	baseURL := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	if model == "" {
		model = "gpt-4.1"
	}

	timeout := 10 * time.Minute
	if raw := strings.TrimSpace(os.Getenv("OPENAI_TIMEOUT_SECONDS")); raw != "" {
		if d, err := time.ParseDuration(raw + "s"); err == nil && d > 0 {
			timeout = d
		}
	}

	return &client{
		log:        log.With("client", "OpenAI"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: 3,
	}, nil
}

// APIError is a non-2xx reply from the completion service.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openai: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
}

// IsMissingFileError reports whether err is recognizably about a missing,
// invalid or expired external file handle. Only this error class triggers the
// attachment router's re-upload retry; everything else propagates unchanged.
func IsMissingFileError(err error) bool {
	var ae *APIError
	if !errors.As(err, &ae) {
		return false
	}
	code := strings.ToLower(ae.Code)
	msg := strings.ToLower(ae.Message)
	if code == "file_not_found" || code == "invalid_file_id" {
		return true
	}
	if !strings.Contains(msg, "file") {
		return false
	}
	return strings.Contains(msg, "not found") ||
		strings.Contains(msg, "no such") ||
		strings.Contains(msg, "expired") ||
		strings.Contains(msg, "invalid")
}

func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func (c *client) do(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, error) {
	var lastErr error
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = io.ReadAll(body)
		if err != nil {
			return nil, err
		}
	}

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		var reader io.Reader
		if bodyBytes != nil {
			reader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return respBody, nil
		}

		apiErr := parseAPIError(resp.StatusCode, respBody)
		if isRetryableStatus(resp.StatusCode) {
			c.log.Warn("Transient OpenAI error, backing off", "status", resp.StatusCode, "attempt", attempt)
			lastErr = apiErr
			continue
		}
		return nil, apiErr
	}
	return nil, fmt.Errorf("openai: retries exhausted: %w", lastErr)
}

func parseAPIError(status int, body []byte) *APIError {
	var wrapper struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.Unmarshal(body, &wrapper)
	return &APIError{
		StatusCode: status,
		Code:       wrapper.Error.Code,
		Message:    wrapper.Error.Message,
	}
}

func (c *client) UploadFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open upload source: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("purpose", "assistants"); err != nil {
		return "", err
	}
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	respBody, err := c.do(ctx, http.MethodPost, "/v1/files", &buf, mw.FormDataContentType())
	if err != nil {
		return "", err
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("decode file upload reply: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("file upload reply carried no id")
	}
	return out.ID, nil
}

type contentItem struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	FileID string `json:"file_id,omitempty"`
}

type inputMessage struct {
	Role    string        `json:"role"`
	Content []contentItem `json:"content"`
}

type textFormat struct {
	Type   string         `json:"type"`
	Name   string         `json:"name,omitempty"`
	Schema map[string]any `json:"schema,omitempty"`
	Strict bool           `json:"strict,omitempty"`
}

type toolSpec struct {
	Type      string        `json:"type"`
	Container *toolContainer `json:"container,omitempty"`
}

type toolContainer struct {
	Type    string   `json:"type"`
	FileIDs []string `json:"file_ids,omitempty"`
}

type responsesRequest struct {
	Model        string         `json:"model"`
	Instructions string         `json:"instructions,omitempty"`
	Input        []inputMessage `json:"input"`
	Text         map[string]any `json:"text,omitempty"`
	Tools        []toolSpec     `json:"tools,omitempty"`
}

// respond issues a Responses API call and returns the first output_text block
// plus usage accounting.
func (c *client) respond(ctx context.Context, req responsesRequest) (string, Usage, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", Usage{}, err
	}

	respBody, err := c.do(ctx, http.MethodPost, "/v1/responses", bytes.NewReader(payload), "application/json")
	if err != nil {
		return "", Usage{}, err
	}

	var out struct {
		Model  string `json:"model"`
		Output []struct {
			Type    string `json:"type"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"output"`
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", Usage{}, fmt.Errorf("decode responses reply: %w", err)
	}

	usage := Usage{Model: out.Model, TotalTokens: out.Usage.TotalTokens}
	if usage.Model == "" {
		usage.Model = req.Model
	}
	for _, item := range out.Output {
		if item.Type != "message" {
			continue
		}
		for _, content := range item.Content {
			if content.Type == "output_text" {
				return content.Text, usage, nil
			}
		}
	}
	return "", usage, fmt.Errorf("responses reply carried no output_text")
}

func responsesAsText(responses map[string]string) string {
	keys := make([]string, 0, len(responses))
	for k := range responses {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString("Q: ")
		b.WriteString(k)
		b.WriteString("\nA: ")
		b.WriteString(responses[k])
		b.WriteString("\n\n")
	}
	return b.String()
}

func (c *client) Summarize(ctx context.Context, in SummarizeInput) (Narrative, error) {
	text, usage, err := c.respond(ctx, responsesRequest{
		Instructions: in.Prompt,
		Input: []inputMessage{{
			Role:    "user",
			Content: []contentItem{{Type: "input_text", Text: responsesAsText(in.Responses)}},
		}},
	})
	if err != nil {
		return Narrative{}, err
	}
	return Narrative{Text: strings.TrimSpace(text), Usage: usage}, nil
}

func scoringSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"scored_rows": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"question_key": map[string]any{"type": "string"},
						"module":       map[string]any{"type": "string"},
						"score":        map[string]any{"type": "number"},
						"rationale":    map[string]any{"type": "string"},
					},
					"required":             []string{"question_key", "module", "score"},
					"additionalProperties": false,
				},
			},
			"roadmap": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"module":   map[string]any{"type": "string"},
						"priority": map[string]any{"type": "integer"},
						"rag":      map[string]any{"type": "string"},
						"focus":    map[string]any{"type": "string"},
					},
					"required":             []string{"module", "priority", "rag"},
					"additionalProperties": false,
				},
			},
			"advisor_report": map[string]any{"type": "string"},
		},
		"required":             []string{"scored_rows", "roadmap", "advisor_report"},
		"additionalProperties": false,
	}
}

func (c *client) Score(ctx context.Context, in ScoreInput) (Scoring, error) {
	schemaJSON, err := json.Marshal(in.Schema)
	if err != nil {
		return Scoring{}, fmt.Errorf("encode question schema: %w", err)
	}

	var b strings.Builder
	if in.ScoringContext != "" {
		b.WriteString("Scoring map:\n")
		b.WriteString(in.ScoringContext)
		b.WriteString("\n\n")
	}
	b.WriteString("Question schema:\n")
	b.Write(schemaJSON)
	b.WriteString("\n\nResponses:\n")
	b.WriteString(responsesAsText(in.Responses))

	content := []contentItem{{Type: "input_text", Text: b.String()}}
	for _, fileID := range in.DirectFileIDs {
		content = append(content, contentItem{Type: "input_file", FileID: fileID})
	}

	req := responsesRequest{
		Instructions: in.Prompt,
		Input:        []inputMessage{{Role: "user", Content: content}},
		Text: map[string]any{
			"format": textFormat{
				Type:   "json_schema",
				Name:   "diagnostic_scoring",
				Schema: scoringSchema(),
				Strict: true,
			},
		},
	}
	if len(in.ToolFileIDs) > 0 {
		req.Tools = []toolSpec{{
			Type:      "code_interpreter",
			Container: &toolContainer{Type: "auto", FileIDs: in.ToolFileIDs},
		}}
	}

	text, usage, err := c.respond(ctx, req)
	if err != nil {
		return Scoring{}, err
	}

	var scoring Scoring
	if err := json.Unmarshal([]byte(text), &scoring); err != nil {
		return Scoring{}, fmt.Errorf("decode scoring output: %w", err)
	}
	scoring.Usage = usage
	return scoring, nil
}

func (c *client) Advise(ctx context.Context, in AdviseInput) (Narrative, error) {
	scoringJSON, err := json.Marshal(map[string]any{
		"scored_rows": in.Scoring.ScoredRows,
		"roadmap":     in.Scoring.Roadmap,
	})
	if err != nil {
		return Narrative{}, err
	}
	text, usage, err := c.respond(ctx, responsesRequest{
		Instructions: in.Prompt,
		Input: []inputMessage{{
			Role:    "user",
			Content: []contentItem{{Type: "input_text", Text: string(scoringJSON)}},
		}},
	})
	if err != nil {
		return Narrative{}, err
	}
	return Narrative{Text: strings.TrimSpace(text), Usage: usage}, nil
}

func (c *client) GenerateTasks(ctx context.Context, in GenerateTasksInput) (TaskList, error) {
	payload, err := json.Marshal(map[string]any{
		"summary": in.Summary,
		"extract": in.Extract,
		"roadmap": in.Roadmap,
	})
	if err != nil {
		return TaskList{}, err
	}
	text, usage, err := c.respond(ctx, responsesRequest{
		Instructions: in.Prompt,
		Input: []inputMessage{{
			Role:    "user",
			Content: []contentItem{{Type: "input_text", Text: string(payload)}},
		}},
	})
	if err != nil {
		return TaskList{}, err
	}

	// The task payload shape drifts between model versions; decode leniently and
	// let the synchronizer normalize.
	var raw any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return TaskList{}, fmt.Errorf("decode task output: %w", err)
	}
	return TaskList{Raw: raw, Usage: usage}, nil
}
