package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionscript/capture-service/internal/auth"
	"github.com/visionscript/capture-service/internal/logging"
	"github.com/visionscript/capture-service/internal/models"
	"github.com/visionscript/capture-service/internal/ocr"
	"github.com/visionscript/capture-service/internal/session"
	"github.com/visionscript/capture-service/internal/summarize"
	"github.com/visionscript/capture-service/internal/testutil"
)

const frame = "data:image/jpeg;base64,/9j/4AAQSkZJRg=="

type fixture struct {
	backend *testutil.Backend
	handler *Handler
	server  *httptest.Server
}

func newFixture(t *testing.T, mutate ...func(*models.Config)) *fixture {
	backend := testutil.NewBackend()
	t.Cleanup(backend.Close)

	cfg := &models.Config{
		Backend: models.BackendConfig{BaseURL: backend.URL()},
		Capture: models.CaptureConfig{
			Interval:        time.Second,
			DefaultModel:    models.ModelEasyOCR,
			DefaultLanguage: "en",
		},
	}
	for _, m := range mutate {
		m(cfg)
	}

	logger := logging.Discard()
	client := ocr.NewClient(cfg.Backend.BaseURL, 0, logger)
	handler := NewHandler(cfg, client, summarize.NewService(cfg.Summarizer, client, logger), logger)
	server := httptest.NewServer(handler.SetupRoutes())
	t.Cleanup(func() {
		server.Close()
		handler.Close()
	})

	return &fixture{backend: backend, handler: handler, server: server}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *http.Response {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) createSession(t *testing.T) session.State {
	resp := f.do(t, http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var state session.State
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	return state
}

func readAll(t *testing.T, resp *http.Response) []byte {
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return buf.Bytes()
}

func decodeError(t *testing.T, resp *http.Response) models.ErrorResponse {
	var body models.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, Version, health.Version)
	assert.Equal(t, []string{"backend", "local"}, health.Summarizers)
	assert.False(t, health.Storage.Available)
}

func TestSessionCaptureAndExport(t *testing.T) {
	f := newFixture(t)
	f.backend.SetDetections(models.Detection{Text: "A"}, models.Detection{Text: "B"})

	state := f.createSession(t)
	base := "/api/sessions/" + state.ID.String()

	resp := f.do(t, http.MethodPost, base+"/frames", map[string]string{"image": frame})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodPost, base+"/capture/once", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var still models.Still
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&still))
	assert.Equal(t, frame, still.Image)
	assert.Len(t, still.Detections, 2)

	resp = f.do(t, http.MethodPost, base+"/export/txt", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `attachment; filename="captured_text.txt"`, resp.Header.Get("Content-Disposition"))
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Export-Job"))
	assert.Equal(t, "A\nB", string(readAll(t, resp)))

	resp = f.do(t, http.MethodPost, base+"/export/spreadsheet", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `attachment; filename="captured_text.xlsx"`, resp.Header.Get("Content-Disposition"))
	calls := f.backend.Calls("/download_format")
	require.Len(t, calls, 1)
	assert.Equal(t, "excel", calls[0].Fields["format"])
	assert.Equal(t, "A\nB", calls[0].Fields["text_data"])
}

func TestEmptyExportRejected(t *testing.T) {
	f := newFixture(t)
	state := f.createSession(t)

	for _, format := range []string{"txt", "docx", "excel", "idcard"} {
		resp := f.do(t, http.MethodPost, "/api/sessions/"+state.ID.String()+"/export/"+format, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, format)
		assert.Equal(t, "nothing to export", decodeError(t, resp).Error)
	}
	assert.Empty(t, f.backend.Calls(""))
}

func TestUnknownFormatAndSession(t *testing.T) {
	f := newFixture(t)
	state := f.createSession(t)

	resp := f.do(t, http.MethodPost, "/api/sessions/"+state.ID.String()+"/export/pdf", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/sessions/3f1c9a2e-0000-4000-8000-000000000000", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/sessions/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartWithoutFrameConflicts(t *testing.T) {
	f := newFixture(t)
	state := f.createSession(t)

	resp := f.do(t, http.MethodPost, "/api/sessions/"+state.ID.String()+"/capture/start", map[string]int{"interval_ms": 500})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/sessions/"+state.ID.String(), nil)
	var got session.State
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.False(t, got.Capture.Capturing)
}

func TestPeriodicCaptureThroughAPI(t *testing.T) {
	f := newFixture(t)
	f.backend.SetDetections(models.Detection{Text: "live", BoundingBox: models.BoundingBox{X: 5, Y: 6, Width: 7, Height: 8}})

	state := f.createSession(t)
	base := "/api/sessions/" + state.ID.String()

	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, base+"/frames", map[string]string{"image": frame}).StatusCode)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, base+"/capture/start", map[string]int{"interval_ms": 10}).StatusCode)

	require.Eventually(t, func() bool {
		resp := f.do(t, http.MethodGet, base, nil)
		var got session.State
		return json.NewDecoder(resp.Body).Decode(&got) == nil && got.Text == "live"
	}, 2*time.Second, 10*time.Millisecond)

	resp := f.do(t, http.MethodPost, base+"/capture/stop", nil)
	var stopped session.State
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stopped))
	assert.False(t, stopped.Capture.Capturing)

	resp = f.do(t, http.MethodPost, base+"/boundaries", nil)
	var toggled session.State
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&toggled))
	assert.True(t, toggled.View.ShowBoundaries)
	assert.Equal(t, []models.BoundingBox{{X: 5, Y: 6, Width: 7, Height: 8}}, toggled.Boxes)

	resp = f.do(t, http.MethodPut, base+"/lock", map[string]bool{"locked": true})
	var locked session.State
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&locked))
	assert.True(t, locked.View.Locked)

	resp = f.do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, base, nil).StatusCode)
}

func TestSetOptions(t *testing.T) {
	f := newFixture(t)
	state := f.createSession(t)

	resp := f.do(t, http.MethodPut, "/api/sessions/"+state.ID.String()+"/options",
		models.RecognitionOptions{Model: "pytesseract", Language: "fr"})
	var got session.State
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, models.RecognitionOptions{Model: "pytesseract", Language: "fr"}, got.Options)
}

func multipartBody(t *testing.T, fields map[string]string, image []byte) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for name, value := range fields {
		require.NoError(t, writer.WriteField(name, value))
	}
	if image != nil {
		part, err := writer.CreateFormFile("image", "card.png")
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestUploadAndExport(t *testing.T) {
	f := newFixture(t)
	f.backend.SetRecognizedText("scanned words")

	body, contentType := multipartBody(t, map[string]string{"language": "de"}, []byte{1, 2, 3})
	resp, err := http.Post(f.server.URL+"/api/upload", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var upload UploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&upload))
	assert.Equal(t, "scanned words", upload.RecognizedText)
	assert.Equal(t, "de", upload.Language)
	assert.Equal(t, "easyocr", upload.Model)

	body, contentType = multipartBody(t, map[string]string{"text": "scanned words"}, nil)
	resp2, err := http.Post(f.server.URL+"/api/upload/export/word-document", contentType, body)
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.Equal(t, `attachment; filename="extracted_text.docx"`, resp2.Header.Get("Content-Disposition"))

	body, contentType = multipartBody(t, nil, []byte{9, 9})
	resp3, err := http.Post(f.server.URL+"/api/upload/export/idcard", contentType, body)
	require.NoError(t, err)
	defer resp3.Body.Close()
	require.Equal(t, http.StatusOK, resp3.StatusCode)
	assert.Equal(t, `attachment; filename="id_card_data.xlsx"`, resp3.Header.Get("Content-Disposition"))

	calls := f.backend.Calls("/extract_id_data")
	require.Len(t, calls, 1)
	assert.Equal(t, []byte{9, 9}, calls[0].Files["image"])
}

func TestSummarizeQuota(t *testing.T) {
	f := newFixture(t)
	f.backend.Fail("/summarize_text", http.StatusTooManyRequests)

	resp := f.do(t, http.MethodPost, "/api/summarize", models.SummaryRequest{Text: "Some long text."})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.True(t, decodeError(t, resp).FallbackAvailable)

	resp = f.do(t, http.MethodPost, "/api/summarize", models.SummaryRequest{Text: "Some long text.", SmartOption: "local"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result models.SummaryResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, "Some long text.", result.Summary)
}

func TestSummaryExport(t *testing.T) {
	f := newFixture(t)

	result := models.SummaryResult{
		OriginalText: "one two three four",
		Summary:      "one two",
		Algorithm:    "textrank",
		Type:         "paragraph",
		Length:       "short",
		Statistics:   summarize.ComputeStatistics("one two three four", "one two"),
	}

	resp := f.do(t, http.MethodPost, "/api/summary/export/excel", result)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `attachment; filename="summary.xlsx"`, resp.Header.Get("Content-Disposition"))

	calls := f.backend.Calls("/download_format")
	require.Len(t, calls, 1)
	assert.Equal(t, "one two", calls[0].Fields["text_data"])
	assert.Equal(t, "one two three four", calls[0].Fields["original_text"])
	assert.Contains(t, calls[0].Fields["statistics"], "Word Count Reduction: 50.0%")
}

func TestAuthRequiredWhenSecretSet(t *testing.T) {
	f := newFixture(t, func(cfg *models.Config) { cfg.Auth.JWTSecret = "s3cret" })

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", nil).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/api/sessions", nil).StatusCode)

	token, err := auth.GenerateToken("s3cret", "kiosk", "", time.Minute)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/api/sessions", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var state session.State
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	assert.Equal(t, "kiosk", state.Owner)
}

func TestCloseTearsDownSessions(t *testing.T) {
	f := newFixture(t)
	f.createSession(t)
	f.createSession(t)

	require.NoError(t, f.handler.Close())

	resp := f.do(t, http.MethodGet, "/health", nil)
	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, 0, health.Sessions)
}
