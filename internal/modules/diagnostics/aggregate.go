package diagnostics

import (
	"fmt"
	"math"
	"sort"

	"gorm.io/datatypes"

	"github.com/harborpoint/advisory-backend/internal/platform/openai"
)

// ModuleScore is the per-module aggregate derived from the scored rows.
type ModuleScore struct {
	Module        string  `json:"module"`
	Average       float64 `json:"average"`
	QuestionCount int     `json:"question_count"`
	Priority      int     `json:"priority,omitempty"`
	RAG           string  `json:"rag,omitempty"`
	Focus         string  `json:"focus,omitempty"`
}

// Aggregation is the deterministic output of the aggregate-and-validate step.
type Aggregation struct {
	Modules  []ModuleScore `json:"modules"`
	Overall  float64       `json:"overall"`
	Warnings []string      `json:"validation_warnings,omitempty"`
}

/*
aggregateScoring computes per-module averages, applies the roadmap ranking,
derives one overall score and cross-checks the scored rows against the
original response set.

Failure policy: structural corruption (no rows, rows missing their key or
module) is an error; scoring gaps (response keys the model never scored) are
recorded as warnings and do not abort the run.
*/
func aggregateScoring(scoring openai.Scoring, responses datatypes.JSON) (*Aggregation, error) {
	if len(scoring.ScoredRows) == 0 {
		return nil, fmt.Errorf("scoring returned no rows")
	}

	sums := map[string]float64{}
	counts := map[string]int{}
	scoredKeys := map[string]bool{}
	for i, row := range scoring.ScoredRows {
		if row.QuestionKey == "" {
			return nil, fmt.Errorf("scored row %d is missing question_key", i)
		}
		if row.Module == "" {
			return nil, fmt.Errorf("scored row %q is missing module", row.QuestionKey)
		}
		sums[row.Module] += row.Score
		counts[row.Module]++
		scoredKeys[row.QuestionKey] = true
	}

	roadmap := map[string]openai.RoadmapEntry{}
	for _, entry := range scoring.Roadmap {
		roadmap[entry.Module] = entry
	}

	modules := make([]ModuleScore, 0, len(sums))
	var total float64
	for name, sum := range sums {
		avg := sum / float64(counts[name])
		ms := ModuleScore{
			Module:        name,
			Average:       round2(avg),
			QuestionCount: counts[name],
		}
		if entry, ok := roadmap[name]; ok {
			ms.Priority = entry.Priority
			ms.RAG = entry.RAG
			ms.Focus = entry.Focus
		}
		modules = append(modules, ms)
		total += avg
	}

	// Roadmap priority first (1 = most urgent), name as tiebreak so output is
	// stable across runs.
	sort.Slice(modules, func(i, j int) bool {
		pi, pj := modules[i].Priority, modules[j].Priority
		if pi == 0 {
			pi = math.MaxInt32
		}
		if pj == 0 {
			pj = math.MaxInt32
		}
		if pi != pj {
			return pi < pj
		}
		return modules[i].Module < modules[j].Module
	})

	agg := &Aggregation{
		Modules: modules,
		Overall: round2(total / float64(len(modules))),
	}

	decoded, err := decodeResponses(responses)
	if err != nil {
		return nil, err
	}
	unscored := make([]string, 0)
	for key := range decoded {
		if !scoredKeys[key] {
			unscored = append(unscored, key)
		}
	}
	sort.Strings(unscored)
	for _, key := range unscored {
		agg.Warnings = append(agg.Warnings, fmt.Sprintf("response %q was not scored", key))
	}

	return agg, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
