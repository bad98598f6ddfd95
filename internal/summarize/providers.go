package summarize

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/visionscript/capture-service/internal/models"
	"github.com/visionscript/capture-service/internal/ocr"
)

// BackendClient is the recognition backend's summarizer endpoint
type BackendClient interface {
	Summarize(ctx context.Context, req models.SummaryRequest) (*models.SummaryResult, error)
}

// BackendProvider delegates to the recognition backend
type BackendProvider struct {
	client BackendClient
}

// NewBackendProvider creates a backend provider
func NewBackendProvider(client BackendClient) *BackendProvider {
	return &BackendProvider{client: client}
}

// Summarize calls the backend summarizer
func (p *BackendProvider) Summarize(ctx context.Context, req models.SummaryRequest) (string, error) {
	result, err := p.client.Summarize(ctx, req)
	if err != nil {
		var respErr *ocr.ResponseError
		if errors.As(err, &respErr) && (respErr.FallbackAvailable || respErr.StatusCode == http.StatusTooManyRequests) {
			return "", errors.Wrap(ErrQuotaExceeded, respErr.Error())
		}
		return "", errors.Wrap(err, "backend summarizer")
	}
	return result.Summary, nil
}

// OpenAIProvider talks to any OpenAI-compatible chat endpoint (OpenAI, OpenRouter)
type OpenAIProvider struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
}

// NewOpenAIProvider creates an OpenAI-compatible provider. A positive
// requestsPerMinute enables a local quota guard.
func NewOpenAIProvider(apiKey, baseURL, model string, requestsPerMinute int) *OpenAIProvider {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}

	p := &OpenAIProvider{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
	if requestsPerMinute > 0 {
		p.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), requestsPerMinute)
	}
	return p
}

// Summarize sends a chat completion request
func (p *OpenAIProvider) Summarize(ctx context.Context, req models.SummaryRequest) (string, error) {
	if p.limiter != nil && !p.limiter.Allow() {
		return "", errors.Wrap(ErrQuotaExceeded, "local request limit reached")
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You are a precise assistant that summarizes documents."},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(req)},
		},
		Temperature: 0.3,
	})
	if err != nil {
		if isOpenAIQuota(err) {
			return "", errors.Wrap(ErrQuotaExceeded, err.Error())
		}
		return "", errors.Wrap(err, "openai chat completion")
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func isOpenAIQuota(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return false
}

// GeminiProvider uses Google Gemini
type GeminiProvider struct {
	apiKey string
	model  string
	opts   []option.ClientOption
}

// NewGeminiProvider creates a Gemini provider; extra client options are
// appended after the API key
func NewGeminiProvider(apiKey, model string, opts ...option.ClientOption) *GeminiProvider {
	return &GeminiProvider{apiKey: apiKey, model: model, opts: opts}
}

// Summarize generates content with the configured model
func (p *GeminiProvider) Summarize(ctx context.Context, req models.SummaryRequest) (string, error) {
	opts := append([]option.ClientOption{option.WithAPIKey(p.apiKey)}, p.opts...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return "", errors.Wrap(err, "create gemini client")
	}
	defer client.Close()

	model := client.GenerativeModel(p.model)
	model.SetTemperature(0.3)

	resp, err := model.GenerateContent(ctx, genai.Text(buildPrompt(req)))
	if err != nil {
		if isGeminiQuota(err) {
			return "", errors.Wrap(ErrQuotaExceeded, err.Error())
		}
		return "", errors.Wrap(err, "gemini generate content")
	}

	var b strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
		break
	}

	summary := strings.TrimSpace(b.String())
	if summary == "" {
		return "", errors.New("gemini returned no text")
	}
	return summary, nil
}

func isGeminiQuota(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests
	}
	return strings.Contains(err.Error(), "RESOURCE_EXHAUSTED")
}
