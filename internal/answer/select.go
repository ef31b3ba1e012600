package answer

import (
	"net/http"

	"github.com/Epistemic-Technology/trialqa/internal/config"
	"github.com/Epistemic-Technology/trialqa/internal/documents"
	"github.com/Epistemic-Technology/trialqa/internal/llm"
	"github.com/Epistemic-Technology/trialqa/internal/logger"
	"github.com/Epistemic-Technology/trialqa/models"
)

// SelectProvider returns the configured primary provider, defaulting to the
// hosted backend.
func SelectProvider(cfg *config.Config) models.ProviderKind {
	if cfg == nil {
		return models.ProviderBackend
	}
	if kind, ok := models.ParseProviderKind(string(cfg.Provider)); ok {
		return kind
	}
	return models.ProviderBackend
}

// Ladder is the order providers are tried in for a given primary: the
// primary, then direct (or chatpdf when direct is primary), then backend.
func Ladder(primary models.ProviderKind) []models.ProviderKind {
	secondary := models.ProviderDirect
	if primary == models.ProviderDirect {
		secondary = models.ProviderChatPDF
	}
	return []models.ProviderKind{primary, secondary, models.ProviderBackend}
}

// NewProviders builds every provider from configuration. Providers without
// credentials are still returned and report themselves unavailable.
func NewProviders(cfg *config.Config, httpClient *http.Client, fetcher documents.Fetcher, log logger.Logger) []Provider {
	if httpClient == nil {
		httpClient = llm.NewHTTPClient()
	}
	var claude *llm.ClaudeClient
	if cfg.Credentials().Anthropic {
		claude = llm.NewClaudeClient(httpClient, cfg.Anthropic.APIKey, cfg.Anthropic.Model, cfg.Anthropic.BaseURL,
			llm.NewLimiter("anthropic", 0, 0, log), log.Named("anthropic"))
	}
	return []Provider{
		NewBackendProvider(httpClient, cfg.Backend.URL, cfg.Backend.APIKey, log.Named("backend")),
		NewChatPDFProvider(httpClient, cfg.ChatPDF.APIKey, cfg.ChatPDF.BaseURL, fetcher, log.Named("chatpdf")),
		NewDirectProvider(claude, fetcher, log.Named("direct")),
		MockProvider{},
	}
}
