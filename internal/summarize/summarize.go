// Package summarize produces summaries of recognized text through one of
// several providers and computes comparison statistics.
package summarize

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/visionscript/capture-service/internal/models"
)

// Provider names
const (
	ProviderBackend = "backend"
	ProviderOpenAI  = "openai"
	ProviderGemini  = "gemini"
	ProviderLocal   = "local"
)

const DefaultAlgorithm = "textrank"

var (
	// ErrQuotaExceeded marks rate or quota failures of a remote provider; the
	// local provider is always available as a fallback
	ErrQuotaExceeded = errors.New("summarization quota exceeded")
	// ErrEmptyText is returned for blank input
	ErrEmptyText = errors.New("no text to summarize")
	// ErrUnknownProvider is returned for provider names that are not configured
	ErrUnknownProvider = errors.New("unsupported summarization provider")
)

// Provider summarizes text
type Provider interface {
	Summarize(ctx context.Context, req models.SummaryRequest) (string, error)
}

// aliases accepted for provider names
var aliases = map[string]string{
	"local_smart": ProviderLocal,
	"openrouter":  ProviderOpenAI,
}

// Service dispatches summary requests to providers
type Service struct {
	providers       map[string]Provider
	defaultProvider string
	logger          logrus.FieldLogger
}

// NewService builds the providers enabled by cfg. backend may be nil.
func NewService(cfg models.SummarizerConfig, backend BackendClient, logger logrus.FieldLogger) *Service {
	s := &Service{
		providers:       map[string]Provider{},
		defaultProvider: cfg.DefaultProvider,
		logger:          logger.WithField("component", "summarize"),
	}

	s.Register(ProviderLocal, NewLocalProvider())
	if backend != nil {
		s.Register(ProviderBackend, NewBackendProvider(backend))
	}
	if cfg.OpenAI.APIKey != "" {
		s.Register(ProviderOpenAI, NewOpenAIProvider(
			cfg.OpenAI.APIKey,
			cfg.OpenAI.BaseURL,
			cfg.OpenAI.Model,
			cfg.OpenAI.RequestsPerMinute,
		))
	}
	if cfg.Gemini.APIKey != "" {
		s.Register(ProviderGemini, NewGeminiProvider(cfg.Gemini.APIKey, cfg.Gemini.Model))
	}

	if _, ok := s.providers[s.defaultProvider]; !ok {
		s.defaultProvider = ProviderLocal
		if backend != nil {
			s.defaultProvider = ProviderBackend
		}
	}

	return s
}

// Register adds or replaces a provider
func (s *Service) Register(name string, provider Provider) {
	s.providers[name] = provider
}

// Providers lists configured provider names
func (s *Service) Providers() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Summarize runs req through the provider named by req.SmartOption, or the
// default provider when it is empty
func (s *Service) Summarize(ctx context.Context, req models.SummaryRequest) (*models.SummaryResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}

	name := strings.ToLower(strings.TrimSpace(req.SmartOption))
	if alias, ok := aliases[name]; ok {
		name = alias
	}
	if name == "" {
		name = s.defaultProvider
	}

	provider, ok := s.providers[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownProvider, "%q", name)
	}

	req = withDefaults(req)
	req.SmartOption = name

	logger := s.logger.WithFields(logrus.Fields{
		"provider": name,
		"length":   req.Length,
		"type":     req.Type,
		"words":    len(strings.Fields(req.Text)),
	})

	summary, err := provider.Summarize(ctx, req)
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			logger.WithError(err).Warn("summarization quota exceeded")
		} else {
			logger.WithError(err).Error("summarization failed")
		}
		return nil, err
	}

	logger.Info("summary generated")
	return &models.SummaryResult{
		OriginalText: req.Text,
		Summary:      summary,
		Algorithm:    req.Algorithm,
		SmartOption:  req.SmartOption,
		Type:         req.Type,
		Length:       req.Length,
		Statistics:   ComputeStatistics(req.Text, summary),
		Status:       "success",
	}, nil
}

func withDefaults(req models.SummaryRequest) models.SummaryRequest {
	if req.Algorithm == "" {
		req.Algorithm = DefaultAlgorithm
	}
	if req.Type == "" {
		req.Type = "paragraph"
	}
	if req.Length == "" {
		req.Length = "medium"
	}
	return req
}

// buildPrompt creates the instruction used by the LLM providers
func buildPrompt(req models.SummaryRequest) string {
	var b strings.Builder
	b.WriteString("Summarize the following text extracted by OCR. ")

	switch req.Length {
	case "short":
		b.WriteString("Keep it to two or three sentences. ")
	case "long":
		b.WriteString("Write a detailed summary covering every main point. ")
	default:
		b.WriteString("Write a concise summary of about one paragraph. ")
	}

	if req.Type == "bullets" {
		b.WriteString("Format the summary as a bulleted list, one point per line starting with \"• \". ")
	}

	b.WriteString("Answer with the summary only, in the language of the text.\n\nTEXT:\n")
	b.WriteString(req.Text)
	return b.String()
}
