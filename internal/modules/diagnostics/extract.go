package diagnostics

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gorm.io/datatypes"
)

// questionTexts flattens the question schema into a key -> question-text map.
// Expected shape:
//
//	{"modules": [{"name": "...", "questions": [{"key": "...", "text": "..."}]}]}
func questionTexts(schema datatypes.JSON) (map[string]string, map[string]string, error) {
	out := map[string]string{}
	modules := map[string]string{}
	if len(schema) == 0 {
		return out, modules, nil
	}

	var decoded struct {
		Modules []struct {
			Name      string `json:"name"`
			Questions []struct {
				Key  string `json:"key"`
				Text string `json:"text"`
			} `json:"questions"`
		} `json:"modules"`
	}
	if err := json.Unmarshal(schema, &decoded); err != nil {
		return nil, nil, fmt.Errorf("decode question schema: %w", err)
	}
	for _, mod := range decoded.Modules {
		for _, q := range mod.Questions {
			if q.Key == "" {
				continue
			}
			out[q.Key] = q.Text
			modules[q.Key] = mod.Name
		}
	}
	return out, modules, nil
}

// decodeResponses parses the live user_responses jsonb. Values are either a
// bare string answer or an object holding the answer plus file references.
func decodeResponses(responses datatypes.JSON) (map[string]any, error) {
	if len(responses) == 0 {
		return map[string]any{}, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal(responses, &decoded); err != nil {
		return nil, fmt.Errorf("decode user responses: %w", err)
	}
	if decoded == nil {
		decoded = map[string]any{}
	}
	return decoded, nil
}

// answerText extracts the textual answer from one response value.
func answerText(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case map[string]any:
		if s, ok := v["answer"].(string); ok {
			return s
		}
		if s, ok := v["text"].(string); ok {
			return s
		}
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

// buildExtract maps raw response keys to human-readable question text,
// producing the question -> answer view the AI steps consume. Keys without a
// schema entry keep their raw key as the question.
func buildExtract(schema datatypes.JSON, responses datatypes.JSON) (map[string]string, error) {
	texts, _, err := questionTexts(schema)
	if err != nil {
		return nil, err
	}
	decoded, err := decodeResponses(responses)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(decoded))
	for k := range decoded {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]string, len(decoded))
	for _, key := range keys {
		question := texts[key]
		if question == "" {
			question = key
		}
		out[question] = answerText(decoded[key])
	}
	return out, nil
}
