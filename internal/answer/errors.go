package answer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Epistemic-Technology/trialqa/internal/llm"
	"github.com/Epistemic-Technology/trialqa/models"
)

// ErrModelDeclined is returned when the model refuses to answer. It is never
// a *documents.FetchError.
var ErrModelDeclined = llm.ErrDeclined

// ServiceUnavailableError means no provider in the ladder could be called.
type ServiceUnavailableError struct {
	Skipped []models.ProviderKind
}

func (e *ServiceUnavailableError) Error() string {
	if len(e.Skipped) == 0 {
		return "service_unavailable: no answer provider configured"
	}
	names := make([]string, len(e.Skipped))
	for i, k := range e.Skipped {
		names[i] = string(k)
	}
	return fmt.Sprintf("service_unavailable: no answer provider available (skipped %s)", strings.Join(names, ", "))
}

// Kind is the error kind reported to clients.
func (e *ServiceUnavailableError) Kind() string { return "service_unavailable" }

// ProviderError is one failed provider attempt.
type ProviderError struct {
	Provider models.ProviderKind
	Step     string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider (%s): %v", e.Provider, e.Step, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// QueryFailedError means every provider that was tried failed.
type QueryFailedError struct {
	Attempts []*ProviderError
}

func (e *QueryFailedError) Error() string {
	msgs := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		msgs[i] = a.Error()
	}
	return "all answer providers failed: " + strings.Join(msgs, "; ")
}

func (e *QueryFailedError) Kind() string { return "query_failed" }

func (e *QueryFailedError) Unwrap() []error {
	errs := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		errs[i] = a
	}
	return errs
}

var errEmptyAnswer = errors.New("provider returned an empty answer")
