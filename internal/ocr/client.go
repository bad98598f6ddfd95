// Package ocr is the client for the remote recognition and conversion backend.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/visionscript/capture-service/internal/models"
)

// MaxResponseSize bounds binary documents returned by the backend
const MaxResponseSize = 50 * 1024 * 1024 // 50MB

// ErrTransport marks network failures and non-success responses
var ErrTransport = errors.New("recognition service unavailable")

// ResponseError is a non-success answer from the backend
type ResponseError struct {
	Endpoint          string
	StatusCode        int
	Message           string
	FallbackAvailable bool
}

func (e *ResponseError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s failed with status: %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("%s failed with status %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

func (e *ResponseError) Unwrap() error { return ErrTransport }

// Client talks to the recognition backend over HTTP
type Client struct {
	baseURL string
	http    *http.Client
	logger  logrus.FieldLogger
}

// NewClient creates a backend client. A zero timeout means none.
func NewClient(baseURL string, timeout time.Duration, logger logrus.FieldLogger) *Client {
	return NewClientWithHTTP(baseURL, &http.Client{Timeout: timeout}, logger)
}

// NewClientWithHTTP creates a backend client around an existing http.Client
func NewClientWithHTTP(baseURL string, client *http.Client, logger logrus.FieldLogger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    client,
		logger:  logger.WithField("component", "ocr"),
	}
}

type cameraFeedRequest struct {
	Image    string `json:"image"`
	Model    string `json:"model"`
	Language string `json:"language"`
}

type cameraFeedResponse struct {
	Detections []models.Detection `json:"detections"`
}

// Recognize submits a base64 image payload (no data URI prefix) and returns
// detections in recognizer order. Empty texts are dropped and boxes clamped.
func (c *Client) Recognize(ctx context.Context, payload string, opts models.RecognitionOptions) ([]models.Detection, error) {
	opts = opts.Normalize()

	body, err := json.Marshal(cameraFeedRequest{Image: payload, Model: opts.Model, Language: opts.Language})
	if err != nil {
		return nil, errors.Wrap(err, "encode recognition request")
	}

	var resp cameraFeedResponse
	if err := c.do(ctx, "/camera_feed", "application/json", bytes.NewReader(body), &resp); err != nil {
		return nil, err
	}

	detections := make([]models.Detection, 0, len(resp.Detections))
	for _, d := range resp.Detections {
		if strings.TrimSpace(d.Text) == "" {
			continue
		}
		detections = append(detections, models.Detection{Text: d.Text, BoundingBox: d.BoundingBox.Clamp()})
	}

	return detections, nil
}

type uploadResponse struct {
	RecognizedText string `json:"recognized_text"`
}

// RecognizeUpload submits a whole image file and returns its recognized text
func (c *Client) RecognizeUpload(ctx context.Context, image []byte, filename string, opts models.RecognitionOptions) (string, error) {
	opts = opts.Normalize()

	form := newForm()
	form.field("model", opts.Model)
	form.field("language", opts.Language)
	form.file("image", filename, image)
	body, contentType, err := form.close()
	if err != nil {
		return "", err
	}

	var resp uploadResponse
	if err := c.do(ctx, "/upload_image", contentType, body, &resp); err != nil {
		return "", err
	}

	return resp.RecognizedText, nil
}

// ConversionRequest asks the backend to render text as a document
type ConversionRequest struct {
	Format       string // backend keyword: "docx", "excel"
	Text         string
	OriginalText string // summaries only
	Statistics   string // summaries only
	IsSummary    bool
}

// ConvertText renders text into a binary document
func (c *Client) ConvertText(ctx context.Context, req ConversionRequest) ([]byte, error) {
	form := newForm()
	form.field("format", req.Format)
	form.field("text_data", req.Text)
	if req.IsSummary {
		form.field("original_text", req.OriginalText)
		form.field("is_summary", "true")
		form.field("statistics", req.Statistics)
	}
	body, contentType, err := form.close()
	if err != nil {
		return nil, err
	}

	return c.download(ctx, "/download_format", contentType, body)
}

// ExtractIDRecord sends an image for structured ID-card extraction and
// returns the resulting spreadsheet
func (c *Client) ExtractIDRecord(ctx context.Context, image []byte, filename, language string) ([]byte, error) {
	if language == "" {
		language = models.DefaultLanguage
	}

	form := newForm()
	form.file("image", filename, image)
	form.field("language", language)
	body, contentType, err := form.close()
	if err != nil {
		return nil, err
	}

	return c.download(ctx, "/extract_id_data", contentType, body)
}

// Summarize asks the backend summarizer for a summary of req.Text
func (c *Client) Summarize(ctx context.Context, req models.SummaryRequest) (*models.SummaryResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "encode summary request")
	}

	var result models.SummaryResult
	if err := c.do(ctx, "/summarize_text", "application/json", bytes.NewReader(body), &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// do posts body and decodes a JSON answer into out
func (c *Client) do(ctx context.Context, endpoint, contentType string, body io.Reader, out interface{}) error {
	resp, err := c.post(ctx, endpoint, contentType, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(ErrTransport, "%s: decode response: %v", endpoint, err)
	}

	return nil
}

// download posts body and returns the full binary answer. Nothing is
// returned unless the whole body arrived.
func (c *Client) download(ctx context.Context, endpoint, contentType string, body io.Reader) ([]byte, error) {
	resp, err := c.post(ctx, endpoint, contentType, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, errors.Wrapf(ErrTransport, "%s: read response: %v", endpoint, err)
	}
	if len(data) > MaxResponseSize {
		return nil, errors.Wrapf(ErrTransport, "%s: response exceeds %d bytes", endpoint, MaxResponseSize)
	}

	return data, nil
}

func (c *Client) post(ctx context.Context, endpoint, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, body)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), endpoint)
		}
		return nil, errors.Wrapf(ErrTransport, "%s: %v", endpoint, err)
	}

	c.logger.WithFields(logrus.Fields{
		"endpoint": endpoint,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	}).Debug("backend call finished")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, readResponseError(endpoint, resp)
	}

	return resp, nil
}

func readResponseError(endpoint string, resp *http.Response) error {
	var payload struct {
		Error             string `json:"error"`
		FallbackAvailable bool   `json:"fallback_available"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if json.Unmarshal(data, &payload) != nil {
		payload.Error = strings.TrimSpace(string(data))
	}

	return &ResponseError{
		Endpoint:          endpoint,
		StatusCode:        resp.StatusCode,
		Message:           payload.Error,
		FallbackAvailable: payload.FallbackAvailable,
	}
}

// form builds a multipart body, keeping the first error
type form struct {
	buf    *bytes.Buffer
	writer *multipart.Writer
	err    error
}

func newForm() *form {
	buf := &bytes.Buffer{}
	return &form{buf: buf, writer: multipart.NewWriter(buf)}
}

func (f *form) field(name, value string) {
	if f.err == nil {
		f.err = f.writer.WriteField(name, value)
	}
}

func (f *form) file(name, filename string, data []byte) {
	if f.err != nil {
		return
	}
	part, err := f.writer.CreateFormFile(name, filename)
	if err != nil {
		f.err = err
		return
	}
	_, f.err = part.Write(data)
}

func (f *form) close() (io.Reader, string, error) {
	if f.err == nil {
		f.err = f.writer.Close()
	}
	if f.err != nil {
		return nil, "", errors.Wrap(f.err, "build multipart form")
	}
	return f.buf, f.writer.FormDataContentType(), nil
}
