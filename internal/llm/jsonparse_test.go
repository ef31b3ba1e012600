package llm

import (
	"errors"
	"testing"

	"github.com/Epistemic-Technology/trialqa/models"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"bare", `{"a":1}`, `{"a":1}`, false},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`, false},
		{"fence without tag", "```\n{\"a\":{\"b\":2}}\n```", `{"a":{"b":2}}`, false},
		{"chatter around", `Here you go: {"a":1} Hope that helps!`, `{"a":1}`, false},
		{"no object", "I could not find anything.", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSONObject(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrMalformedOutput) {
				t.Errorf("error should wrap ErrMalformedOutput: %v", err)
			}
			if got != tt.want {
				t.Errorf("ExtractJSONObject() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseCitationOutput(t *testing.T) {
	reply := "```json\n" + `{
  "sources": [
    {"page": 3, "section": "Eligibility", "exactText": " aged 18 to 65 ", "relevance": "High", "context": "Patients aged 18 to 65", "extra": true},
    {"page": 5}
  ],
  "confidence": 0.85
}` + "\n```"

	res, err := ParseCitationOutput(reply)
	if err != nil {
		t.Fatalf("ParseCitationOutput() error: %v", err)
	}
	if res.Confidence != 0.85 {
		t.Errorf("confidence = %v", res.Confidence)
	}
	if len(res.Citations) != 2 {
		t.Fatalf("got %d citations, want 2", len(res.Citations))
	}
	c := res.Citations[0]
	if c.Page != 3 || c.ExactText != "aged 18 to 65" || c.Relevance != models.RelevanceHigh {
		t.Errorf("first citation = %+v", c)
	}
	if res.Citations[1].Relevance != models.RelevanceLow {
		t.Errorf("missing relevance should default to low, got %q", res.Citations[1].Relevance)
	}
}

func TestParseCitationOutput_Malformed(t *testing.T) {
	tests := map[string]string{
		"not json":         "no sources here",
		"broken json":      `{"sources": [ {"page": 1,, ]}`,
		"missing sources":  `{"confidence": 0.5}`,
		"page not integer": `{"sources": [{"page": "three"}], "confidence": 0.5}`,
		"page below one":   `{"sources": [{"page": 0}], "confidence": 0.5}`,
	}
	for name, reply := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCitationOutput(reply)
			if !errors.Is(err, ErrMalformedOutput) {
				t.Errorf("error = %v, want ErrMalformedOutput", err)
			}
		})
	}
}

func TestValidateCitationJSON(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{"minimal", `{"sources":[{"page":3}]}`, false},
		{"extra fields tolerated", `{"sources":[{"page":3,"exactText":"x","note":"y"}],"confidence":0.5}`, false},
		{"missing sources", `{"confidence":0.5}`, true},
		{"page zero", `{"sources":[{"page":0}]}`, true},
		{"page as string", `{"sources":[{"page":"3"}]}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateCitationJSON([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Errorf("validateCitationJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
