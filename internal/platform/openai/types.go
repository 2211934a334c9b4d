package openai

// Usage is the token accounting returned with every completion.
type Usage struct {
	Model       string
	TotalTokens int
}

// Narrative is a plain-text completion (summary or supplementary advice).
type Narrative struct {
	Text  string
	Usage Usage
}

// ScoredRow is one question-level score from the scoring call.
type ScoredRow struct {
	QuestionKey string  `json:"question_key"`
	Module      string  `json:"module"`
	Score       float64 `json:"score"`
	Rationale   string  `json:"rationale,omitempty"`
}

// RoadmapEntry ranks one module in the priority roadmap. RAG is the
// red/amber/green severity classification.
type RoadmapEntry struct {
	Module   string `json:"module"`
	Priority int    `json:"priority"`
	RAG      string `json:"rag"`
	Focus    string `json:"focus,omitempty"`
}

// Scoring is the structured result of the scoring call.
type Scoring struct {
	ScoredRows    []ScoredRow    `json:"scored_rows"`
	Roadmap       []RoadmapEntry `json:"roadmap"`
	AdvisorReport string         `json:"advisor_report"`
	Usage         Usage          `json:"-"`
}

// TaskList carries the raw decoded task payload. The shape varies between a
// bare array, a wrapper object and a single object; normalization happens in
// the task synchronizer, not here.
type TaskList struct {
	Raw   any
	Usage Usage
}

type SummarizeInput struct {
	Prompt    string
	Responses map[string]string
}

type ScoreInput struct {
	Prompt         string
	ScoringContext string
	Schema         map[string]any
	Responses      map[string]string
	// DirectFileIDs are attached inline to the request; ToolFileIDs are exposed
	// through the sandboxed code-execution tool container.
	DirectFileIDs []string
	ToolFileIDs   []string
}

type AdviseInput struct {
	Prompt  string
	Scoring Scoring
}

type GenerateTasksInput struct {
	Prompt  string
	Summary string
	Extract map[string]string
	Roadmap []RoadmapEntry
}
