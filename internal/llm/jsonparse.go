package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Epistemic-Technology/trialqa/models"
)

// ErrMalformedOutput marks a model reply that could not be read as the
// expected JSON document.
var ErrMalformedOutput = errors.New("malformed model output")

// ExtractJSONObject strips markdown code fences and returns the outermost
// {...} span of a model reply.
func ExtractJSONObject(text string) (string, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			// drop the language tag line, e.g. ```json
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", fmt.Errorf("%w: no JSON object found", ErrMalformedOutput)
	}
	return s[start : end+1], nil
}

type citationSource struct {
	Page      int    `json:"page"`
	Section   string `json:"section"`
	ExactText string `json:"exactText"`
	Relevance string `json:"relevance"`
	Context   string `json:"context"`
}

type citationOutput struct {
	Sources    []citationSource `json:"sources"`
	Confidence float64          `json:"confidence"`
}

// ParseCitationOutput turns a matcher reply into an ExtractionResult. Any
// failure wraps ErrMalformedOutput so the caller moves to the next matcher.
func ParseCitationOutput(text string) (*models.ExtractionResult, error) {
	span, err := ExtractJSONObject(text)
	if err != nil {
		return nil, err
	}
	if err := validateCitationJSON([]byte(span)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	var out citationOutput
	if err := json.Unmarshal([]byte(span), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	result := &models.ExtractionResult{
		Citations:  make([]models.Citation, 0, len(out.Sources)),
		Confidence: out.Confidence,
	}
	for _, s := range out.Sources {
		result.Citations = append(result.Citations, models.Citation{
			Page:      s.Page,
			Section:   strings.TrimSpace(s.Section),
			ExactText: strings.TrimSpace(s.ExactText),
			Relevance: models.ParseRelevance(strings.ToLower(strings.TrimSpace(s.Relevance))),
			Context:   strings.TrimSpace(s.Context),
		})
	}
	return result, nil
}
