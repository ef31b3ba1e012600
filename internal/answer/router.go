package answer

import (
	"context"
	"time"

	"github.com/Epistemic-Technology/trialqa/internal/logger"
	"github.com/Epistemic-Technology/trialqa/internal/metrics"
	"github.com/Epistemic-Technology/trialqa/models"
)

var stepNames = []string{"primary", "secondary", "final"}

// Router tries the provider ladder until one answers.
type Router struct {
	primary   models.ProviderKind
	providers map[models.ProviderKind]Provider
	log       logger.Logger
	metrics   *metrics.Metrics
}

func NewRouter(primary models.ProviderKind, log logger.Logger, m *metrics.Metrics, providers ...Provider) *Router {
	byKind := make(map[models.ProviderKind]Provider, len(providers))
	for _, p := range providers {
		if p != nil {
			byKind[p.Kind()] = p
		}
	}
	return &Router{
		primary:   primary,
		providers: byKind,
		log:       log.Named("answer"),
		metrics:   m,
	}
}

// Primary returns the provider tried first.
func (r *Router) Primary() models.ProviderKind { return r.primary }

// Available reports whether any provider in the ladder can be called.
func (r *Router) Available() bool {
	for _, kind := range Ladder(r.primary) {
		if p, ok := r.providers[kind]; ok && p.Available() {
			return true
		}
	}
	return false
}

// Query walks the ladder. Each provider is tried at most once; providers that
// are missing or unavailable are skipped. Cancellation stops the ladder.
func (r *Router) Query(ctx context.Context, params QueryParams) (*models.UnifiedAnswerResponse, error) {
	var attempts []*ProviderError
	var skipped []models.ProviderKind
	tried := make(map[models.ProviderKind]bool)

	for i, kind := range Ladder(r.primary) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if tried[kind] {
			continue
		}
		tried[kind] = true

		p, ok := r.providers[kind]
		if !ok || !p.Available() {
			r.log.Debug("Skipping %s provider: not available", kind)
			skipped = append(skipped, kind)
			continue
		}

		step := stepNames[i]
		start := time.Now()
		resp, err := p.Answer(ctx, params)
		if err == nil && (resp == nil || resp.Content == "") {
			err = errEmptyAnswer
		}
		r.metrics.RecordProviderAttempt(string(kind), step, err, time.Since(start))

		if err == nil {
			resp.ProviderUsed = kind
			if resp.Sources == nil {
				resp.Sources = []models.Citation{}
			}
			if len(attempts) > 0 {
				r.log.Info("Answered by %s provider after %d failed attempt(s)", kind, len(attempts))
			}
			return resp, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		r.log.Warn("%s provider failed (%s): %v", kind, step, err)
		attempts = append(attempts, &ProviderError{Provider: kind, Step: step, Err: err})
	}

	if len(attempts) == 0 {
		return nil, &ServiceUnavailableError{Skipped: skipped}
	}
	return nil, &QueryFailedError{Attempts: attempts}
}
