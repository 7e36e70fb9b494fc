package synthesizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned when a model response holds no JSON object
var ErrNoJSON = errors.New("no JSON object found")

// Response is a model answer in normalized form
type Response struct {
	Summary   string   `json:"summary"`
	RootCause string   `json:"root_cause,omitempty"`
	Actions   []string `json:"actions"`
}

// ParseResponse extracts a Response from raw model output. Markdown fences
// and text around the outermost braces are ignored, and alternate key names
// are accepted. A response without a summary is an error.
func ParseResponse(raw string) (Response, error) {
	cleaned := strings.ReplaceAll(raw, "```json", "")
	cleaned = strings.TrimSpace(strings.ReplaceAll(cleaned, "```", ""))
	if cleaned == "" {
		return Response{}, ErrEmptyCompletion
	}

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return Response{}, ErrNoJSON
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &doc); err != nil {
		return Response{}, fmt.Errorf("failed to decode model response: %w", err)
	}

	resp := Response{
		Summary:   firstText(doc, "summary", "analysis"),
		RootCause: firstText(doc, "root_cause", "rootCause", "cause"),
		Actions:   firstList(doc, "actions", "recommended_actions", "recommendations"),
	}
	if resp.Summary == "" {
		return Response{}, fmt.Errorf("model response has no summary")
	}
	return resp, nil
}

func firstText(doc map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := doc[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func firstList(doc map[string]any, keys ...string) []string {
	for _, k := range keys {
		switch v := doc[k].(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				return []string{strings.TrimSpace(v)}
			}
		case []any:
			var out []string
			for _, item := range v {
				if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
					out = append(out, strings.TrimSpace(s))
				}
			}
			if len(out) > 0 {
				return out
			}
		}
	}
	return nil
}
