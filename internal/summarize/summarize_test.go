package summarize

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/visionscript/capture-service/internal/logging"
	"github.com/visionscript/capture-service/internal/models"
	"github.com/visionscript/capture-service/internal/ocr"
	"github.com/visionscript/capture-service/internal/testutil"
)

const article = `The scanner reads the invoice. The invoice total is printed at the bottom. ` +
	`Weather was pleasant today. The scanner sends the invoice text to the backend. ` +
	`Lunch was served at noon.`

func TestStatistics(t *testing.T) {
	original := strings.Repeat("word ", 400)
	stats := ComputeStatistics(original, strings.Repeat("word ", 100))

	assert.Equal(t, 400, stats.OriginalWordCount)
	assert.Equal(t, 100, stats.SummaryWordCount)
	assert.Equal(t, "75", stats.ReductionPercentage.String())
	assert.Equal(t, "2", stats.OriginalReadingTimeMinutes.String())
	assert.Equal(t, "0.5", stats.SummaryReadingTimeMinutes.String())

	empty := ComputeStatistics("", "")
	assert.True(t, empty.ReductionPercentage.IsZero())
}

func TestStatisticsRounding(t *testing.T) {
	stats := ComputeStatistics("a b c", "a")
	assert.Equal(t, "66.7", stats.ReductionPercentage.String())
}

func TestStatisticsText(t *testing.T) {
	result := &models.SummaryResult{
		Algorithm:  "textrank",
		Type:       "paragraph",
		Length:     "short",
		Statistics: ComputeStatistics(strings.Repeat("w ", 300), strings.Repeat("w ", 30)),
	}

	assert.Equal(t, strings.Join([]string{
		"Word Count Reduction: 90.0%",
		"Original: 300 words (1.5 min read)",
		"Summary: 30 words (0.2 min read)",
		"Algorithm: textrank",
		"Type: paragraph",
		"Length: short",
	}, "\n"), StatisticsText(result))
}

func TestLocalProvider(t *testing.T) {
	summary, err := NewLocalProvider().Summarize(context.Background(), models.SummaryRequest{Text: article, Length: "short"})
	require.NoError(t, err)
	assert.Equal(t, "The scanner reads the invoice.", summary)

	bullets, err := NewLocalProvider().Summarize(context.Background(), models.SummaryRequest{Text: article, Length: "long", Type: "bullets"})
	require.NoError(t, err)
	lines := strings.Split(bullets, "\n")
	require.Len(t, lines, 3)
	for _, line := range lines {
		assert.True(t, strings.HasPrefix(line, "• "), line)
	}
	assert.NotContains(t, bullets, "Lunch")
}

func TestServiceDefaultsAndAliases(t *testing.T) {
	s := NewService(models.SummarizerConfig{DefaultProvider: "gemini"}, nil, logging.Discard())
	assert.Equal(t, []string{ProviderLocal}, s.Providers())

	result, err := s.Summarize(context.Background(), models.SummaryRequest{Text: article, SmartOption: "local_smart"})
	require.NoError(t, err)
	assert.Equal(t, ProviderLocal, result.SmartOption)
	assert.Equal(t, "textrank", result.Algorithm)
	assert.Equal(t, "medium", result.Length)
	assert.Equal(t, "success", result.Status)
	assert.Equal(t, article, result.OriginalText)
	assert.Equal(t, 31, result.Statistics.OriginalWordCount)

	_, err = s.Summarize(context.Background(), models.SummaryRequest{Text: article, SmartOption: "openai"})
	assert.True(t, errors.Is(err, ErrUnknownProvider))

	_, err = s.Summarize(context.Background(), models.SummaryRequest{Text: "   "})
	assert.True(t, errors.Is(err, ErrEmptyText))
}

func TestBackendProvider(t *testing.T) {
	backend := testutil.NewBackend()
	defer backend.Close()
	backend.SetSummary("short version")

	client := ocr.NewClient(backend.URL(), 0, logging.Discard())
	s := NewService(models.SummarizerConfig{}, client, logging.Discard())

	result, err := s.Summarize(context.Background(), models.SummaryRequest{Text: article})
	require.NoError(t, err)
	assert.Equal(t, ProviderBackend, result.SmartOption)
	assert.Equal(t, "short version", result.Summary)
	assert.Equal(t, 2, result.Statistics.SummaryWordCount)

	backend.Fail("/summarize_text", http.StatusTooManyRequests)
	_, err = s.Summarize(context.Background(), models.SummaryRequest{Text: article})
	assert.True(t, errors.Is(err, ErrQuotaExceeded))

	backend.Fail("/summarize_text", http.StatusInternalServerError)
	_, err = s.Summarize(context.Background(), models.SummaryRequest{Text: article})
	assert.False(t, errors.Is(err, ErrQuotaExceeded))
	assert.True(t, errors.Is(err, ocr.ErrTransport))
}

func openAIServer(t *testing.T, status int) (*httptest.Server, *[]string) {
	var prompts []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&body)) {
			return
		}
		prompts = append(prompts, body.Messages[len(body.Messages)-1].Content)

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]interface{}{"message": "Rate limit exceeded", "type": "rate_limit", "code": "rate_limited"},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  body.Model,
			"choices": []map[string]interface{}{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": "  The scanner reads invoices.  "},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(server.Close)
	return server, &prompts
}

func TestOpenAIProvider(t *testing.T) {
	server, prompts := openAIServer(t, http.StatusOK)

	p := NewOpenAIProvider("test-key", server.URL+"/v1", "openai/gpt-4o-mini", 0)
	summary, err := p.Summarize(context.Background(), models.SummaryRequest{Text: article, Type: "bullets", Length: "short"})
	require.NoError(t, err)
	assert.Equal(t, "The scanner reads invoices.", summary)

	require.Len(t, *prompts, 1)
	assert.Contains(t, (*prompts)[0], "bulleted list")
	assert.Contains(t, (*prompts)[0], article)
}

func TestOpenAIQuota(t *testing.T) {
	server, _ := openAIServer(t, http.StatusTooManyRequests)

	p := NewOpenAIProvider("test-key", server.URL+"/v1", "m", 0)
	_, err := p.Summarize(context.Background(), models.SummaryRequest{Text: article})
	assert.True(t, errors.Is(err, ErrQuotaExceeded))
}

func TestOpenAILocalLimiter(t *testing.T) {
	server, prompts := openAIServer(t, http.StatusOK)

	p := NewOpenAIProvider("test-key", server.URL+"/v1", "m", 1)
	_, err := p.Summarize(context.Background(), models.SummaryRequest{Text: article})
	require.NoError(t, err)

	_, err = p.Summarize(context.Background(), models.SummaryRequest{Text: article})
	assert.True(t, errors.Is(err, ErrQuotaExceeded))
	assert.Len(t, *prompts, 1)
}

func TestGeminiQuotaClassification(t *testing.T) {
	assert.True(t, isGeminiQuota(errors.Wrap(&googleapi.Error{Code: http.StatusTooManyRequests}, "generate")))
	assert.False(t, isGeminiQuota(&googleapi.Error{Code: http.StatusBadRequest}))
	assert.True(t, isGeminiQuota(errors.New("rpc error: code = ResourceExhausted desc = RESOURCE_EXHAUSTED")))
}

func TestPrompt(t *testing.T) {
	prompt := buildPrompt(models.SummaryRequest{Text: "hello", Length: "long"})
	assert.Contains(t, prompt, "detailed summary")
	assert.True(t, strings.HasSuffix(prompt, "hello"))
	assert.NotContains(t, prompt, "bulleted")
}
