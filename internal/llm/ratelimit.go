package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"golang.org/x/time/rate"

	"github.com/Epistemic-Technology/trialqa/internal/logger"
)

const (
	// Default token budget per provider. OpenAI allows far more for
	// gpt-5-mini; Groq's free tier is the binding constraint.
	defaultTokensPerSecond = 30000
	defaultBurstTokens     = 60000

	// Worker pool size for concurrent question pipelines
	defaultMaxWorkers = 8

	// Retry configuration
	maxRetries     = 5
	baseRetryDelay = 1 * time.Second
	maxRetryDelay  = 32 * time.Second
)

// Limiter throttles calls to one upstream provider by estimated tokens and
// retries 429 responses with exponential backoff. Each provider gets its own
// Limiter so a saturated secondary cannot starve the primary.
type Limiter struct {
	name       string
	limiter    *rate.Limiter
	log        logger.Logger
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewLimiter creates a limiter allowing tokensPerSecond sustained with the
// given burst. Non-positive values select the defaults.
func NewLimiter(name string, tokensPerSecond, burst int, log logger.Logger) *Limiter {
	if tokensPerSecond <= 0 {
		tokensPerSecond = defaultTokensPerSecond
	}
	if burst <= 0 {
		burst = defaultBurstTokens
	}
	return &Limiter{
		name:       name,
		limiter:    rate.NewLimiter(rate.Limit(tokensPerSecond), burst),
		log:        log,
		maxRetries: maxRetries,
		baseDelay:  baseRetryDelay,
		maxDelay:   maxRetryDelay,
	}
}

// WithBackoff overrides the retry schedule.
func (l *Limiter) WithBackoff(retries int, base, ceiling time.Duration) *Limiter {
	l.maxRetries = retries
	l.baseDelay = base
	l.maxDelay = ceiling
	return l
}

// RateLimitedCall wraps an API call with rate limiting and retry logic.
// It waits for rate limiter approval before making the call, and retries on 429 errors.
func RateLimitedCall[T any](ctx context.Context, l *Limiter, estimatedTokens int, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	if burst := l.limiter.Burst(); estimatedTokens > burst {
		estimatedTokens = burst
	}
	if err := l.limiter.WaitN(ctx, estimatedTokens); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		return zero, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(l.baseDelay) * math.Pow(2, float64(attempt-1)))
			if delay > l.maxDelay {
				delay = l.maxDelay
			}

			l.log.Info("%s: retry attempt %d/%d after %v delay", l.name, attempt, l.maxRetries, delay)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				l.log.Info("%s: retry succeeded on attempt %d", l.name, attempt)
			}
			return result, nil
		}

		lastErr = err
		if !isRateLimitError(err) {
			return zero, err
		}

		l.log.Warn("%s: rate limit error (429) on attempt %d/%d: %v", l.name, attempt+1, l.maxRetries+1, err)
	}

	return zero, fmt.Errorf("max retries (%d) exceeded, last error: %w", l.maxRetries, lastErr)
}

// isRateLimitError reports whether an error is a 429 from any provider.
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests
	}
	msg := err.Error()
	for _, s := range []string{"429", "rate limit", "rate_limit_exceeded", "Too Many Requests"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// estimateTokens approximates prompt size at four characters per token.
func estimateTokens(parts ...string) int {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	return n/4 + 256
}

// WorkerPool bounds how many question pipelines run at once.
type WorkerPool struct {
	maxWorkers int
	semaphore  chan struct{}
}

// NewWorkerPool creates a new worker pool with the specified maximum workers
func NewWorkerPool(maxWorkers int) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = defaultMaxWorkers
	}
	return &WorkerPool{
		maxWorkers: maxWorkers,
		semaphore:  make(chan struct{}, maxWorkers),
	}
}

// Acquire acquires a worker slot, blocking if all workers are busy
func (wp *WorkerPool) Acquire(ctx context.Context) error {
	select {
	case wp.semaphore <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release releases a worker slot, allowing another worker to proceed
func (wp *WorkerPool) Release() {
	<-wp.semaphore
}
