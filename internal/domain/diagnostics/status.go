package diagnostics

// Diagnostic lifecycle statuses.
const (
	StatusDraft      = "draft"
	StatusInProgress = "in_progress"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// transitions is the legal status graph. A failed or interrupted diagnostic can
// be manually resubmitted, which is why failed -> processing is legal; a shutdown
// interruption lands back in draft so the user can resubmit without data loss.
var transitions = map[string][]string{
	StatusDraft:      {StatusInProgress, StatusProcessing},
	StatusInProgress: {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusDraft},
	StatusCompleted:  {StatusProcessing},
	StatusFailed:     {StatusProcessing},
}

func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// Submittable reports whether a diagnostic in this status may be submitted
// for processing.
func Submittable(status string) bool {
	return CanTransition(status, StatusProcessing)
}
