package ocr_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionscript/capture-service/internal/logging"
	"github.com/visionscript/capture-service/internal/models"
	"github.com/visionscript/capture-service/internal/ocr"
	"github.com/visionscript/capture-service/internal/testutil"
)

func newClient(t *testing.T) (*ocr.Client, *testutil.Backend) {
	backend := testutil.NewBackend()
	t.Cleanup(backend.Close)
	return ocr.NewClient(backend.URL()+"/", 0, logging.Discard()), backend
}

func TestRecognize(t *testing.T) {
	client, backend := newClient(t)
	backend.SetDetections(
		models.Detection{Text: "TOTAL", BoundingBox: models.BoundingBox{X: -3, Y: 4, Width: 50, Height: 10}},
		models.Detection{Text: "   "},
		models.Detection{Text: "42.00", BoundingBox: models.BoundingBox{X: 60, Y: 4, Width: 30, Height: 10}},
	)

	detections, err := client.Recognize(context.Background(), "QUJD", models.RecognitionOptions{Model: "PyTesseract"})
	require.NoError(t, err)

	require.Len(t, detections, 2)
	assert.Equal(t, "TOTAL", detections[0].Text)
	assert.Equal(t, 0, detections[0].BoundingBox.X)
	assert.Equal(t, "42.00", detections[1].Text)

	calls := backend.Calls("/camera_feed")
	require.Len(t, calls, 1)
	assert.Equal(t, "QUJD", calls[0].JSON["image"])
	assert.Equal(t, "pytesseract", calls[0].JSON["model"])
	assert.Equal(t, "en", calls[0].JSON["language"])
}

func TestRecognizeFailure(t *testing.T) {
	client, backend := newClient(t)
	backend.Fail("/camera_feed", http.StatusInternalServerError)

	_, err := client.Recognize(context.Background(), "QUJD", models.RecognitionOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ocr.ErrTransport))

	var respErr *ocr.ResponseError
	require.True(t, errors.As(err, &respErr))
	assert.Equal(t, http.StatusInternalServerError, respErr.StatusCode)
	assert.Equal(t, "camera feed failed", respErr.Message)
}

func TestUnreachableBackend(t *testing.T) {
	client := ocr.NewClient("http://127.0.0.1:1", 0, logging.Discard())
	_, err := client.ConvertText(context.Background(), ocr.ConversionRequest{Format: "docx", Text: "A"})
	assert.True(t, errors.Is(err, ocr.ErrTransport))
}

func TestCanceledCallIsNotTransportFailure(t *testing.T) {
	client, _ := newClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Recognize(ctx, "QUJD", models.RecognitionOptions{})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, ocr.ErrTransport))
}

func TestRecognizeUpload(t *testing.T) {
	client, backend := newClient(t)
	backend.SetRecognizedText("hello world")

	text, err := client.RecognizeUpload(context.Background(), []byte{1, 2, 3}, "scan.png", models.RecognitionOptions{Language: "fr"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)

	calls := backend.Calls("/upload_image")
	require.Len(t, calls, 1)
	assert.Equal(t, []byte{1, 2, 3}, calls[0].Files["image"])
	assert.Equal(t, "fr", calls[0].Fields["language"])
	assert.Equal(t, "easyocr", calls[0].Fields["model"])
}

func TestConvertText(t *testing.T) {
	client, backend := newClient(t)
	backend.SetDocument([]byte("docx-bytes"))

	data, err := client.ConvertText(context.Background(), ocr.ConversionRequest{
		Format:       "excel",
		Text:         "short",
		OriginalText: "long original",
		Statistics:   "Word Count Reduction: 50%",
		IsSummary:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("docx-bytes"), data)

	calls := backend.Calls("/download_format")
	require.Len(t, calls, 1)
	assert.Equal(t, "excel", calls[0].Fields["format"])
	assert.Equal(t, "short", calls[0].Fields["text_data"])
	assert.Equal(t, "true", calls[0].Fields["is_summary"])
	assert.Equal(t, "long original", calls[0].Fields["original_text"])
}

func TestExtractIDRecord(t *testing.T) {
	client, backend := newClient(t)

	data, err := client.ExtractIDRecord(context.Background(), []byte{0xff, 0xd8}, "capture.jpg", "")
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	calls := backend.Calls("/extract_id_data")
	require.Len(t, calls, 1)
	assert.Equal(t, []byte{0xff, 0xd8}, calls[0].Files["image"])
	assert.Equal(t, "en", calls[0].Fields["language"])
}

func TestSummarizeQuota(t *testing.T) {
	client, backend := newClient(t)
	backend.Fail("/summarize_text", http.StatusTooManyRequests)

	_, err := client.Summarize(context.Background(), models.SummaryRequest{Text: "abc"})
	var respErr *ocr.ResponseError
	require.True(t, errors.As(err, &respErr))
	assert.True(t, respErr.FallbackAvailable)
	assert.Equal(t, http.StatusTooManyRequests, respErr.StatusCode)
}
