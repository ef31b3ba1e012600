package server

import (
	"context"
	"fmt"

	"github.com/Epistemic-Technology/trialqa/internal/answer"
	"github.com/Epistemic-Technology/trialqa/internal/citations"
	"github.com/Epistemic-Technology/trialqa/internal/config"
	"github.com/Epistemic-Technology/trialqa/internal/documents"
	"github.com/Epistemic-Technology/trialqa/internal/llm"
	"github.com/Epistemic-Technology/trialqa/internal/logger"
	"github.com/Epistemic-Technology/trialqa/internal/metrics"
	"github.com/Epistemic-Technology/trialqa/internal/operations"
	"github.com/Epistemic-Technology/trialqa/internal/pdf"
	"github.com/Epistemic-Technology/trialqa/internal/storage"
	"github.com/Epistemic-Technology/trialqa/models"
)

// Deps holds the long-lived components shared by every surface. They are
// built once per process.
type Deps struct {
	Config   *config.Config
	Pipeline *operations.Pipeline
	Router   *answer.Router
	Locator  *citations.Locator
	Store    storage.QAStore
	Metrics  *metrics.Metrics
}

// NewDeps builds the answer router, extractor, citation locator and Q&A store
// from configuration.
func NewDeps(log logger.Logger, cfg *config.Config) (*Deps, error) {
	m := metrics.NewMetrics()
	httpClient := llm.NewHTTPClient()

	fetcher := documents.NewCachingFetcher(
		documents.NewSourceFetcher(httpClient, cfg.Zotero.APIKey, cfg.Zotero.LibraryID),
		log.Named("documents"),
	)

	primary := answer.SelectProvider(cfg)
	router := answer.NewRouter(primary, log, m, answer.NewProviders(cfg, httpClient, fetcher, log)...)
	if !router.Available() {
		log.Warn("No answer provider is available for ladder %v; questions will fail until one is configured", answer.Ladder(primary))
	}

	extractor := pdf.NewExtractor(fetcher, pdf.NewPageCache(), log, pdf.WithMetrics(m))
	locator := citations.NewLocator(log, m, matchers(cfg, log)...)
	log.Info("Answer provider %s; citation matchers %v", primary, locator.Matchers())

	dbPath, err := cfg.ResolveDBPath()
	if err != nil {
		return nil, err
	}
	log.Info("Initializing SQLite database at: %s", dbPath)
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQLite store: %w", err)
	}

	opts := []operations.PipelineOption{
		operations.WithStore(store),
		operations.WithTimeout(cfg.RequestTimeout),
		operations.WithWorkerPool(llm.NewWorkerPool(0)),
		operations.WithMetrics(m),
	}
	if cfg.Credentials().Zotero {
		opts = append(opts, operations.WithNameResolver(func(ctx context.Context, loc models.DocumentLocator) (models.DocumentLocator, error) {
			return documents.ResolveZoteroName(ctx, loc, cfg.Zotero.APIKey, cfg.Zotero.LibraryID)
		}))
	}
	pipeline := operations.NewPipeline(router, extractor, locator, log, opts...)

	return &Deps{
		Config:   cfg,
		Pipeline: pipeline,
		Router:   router,
		Locator:  locator,
		Store:    store,
		Metrics:  m,
	}, nil
}

// Close releases the store.
func (d *Deps) Close() error {
	if d.Store == nil {
		return nil
	}
	return d.Store.Close()
}

// matchers returns the model-backed citation matchers that have credentials,
// primary first.
func matchers(cfg *config.Config, log logger.Logger) []citations.Matcher {
	creds := cfg.Credentials()
	var out []citations.Matcher
	if creds.OpenAI {
		out = append(out, llm.NewOpenAIMatcher(cfg.OpenAI.APIKey, cfg.OpenAI.Model,
			llm.NewLimiter("openai", 0, 0, log), log.Named("openai")))
	}
	if creds.Groq {
		out = append(out, llm.NewGroqMatcher(cfg.Groq.APIKey, cfg.Groq.Model, cfg.Groq.BaseURL,
			llm.NewLimiter("groq", 5000, 12000, log), log.Named("groq")))
	}
	return out
}
