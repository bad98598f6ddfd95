// Package testutil provides a fake recognition backend for tests.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/gorilla/mux"

	"github.com/visionscript/capture-service/internal/models"
)

// Call records one request received by the fake backend
type Call struct {
	Endpoint string
	Fields   map[string]string
	Files    map[string][]byte
	JSON     map[string]interface{}
}

// Backend mimics the recognition service endpoints
type Backend struct {
	Server *httptest.Server

	mu         sync.Mutex
	calls      []Call
	detections []models.Detection
	text       string
	document   []byte
	failures   map[string]int
	summary    string

	// BeforeFeed runs inside /camera_feed before answering; it may block
	BeforeFeed func()
}

// NewBackend starts a fake backend; it is closed with the test
func NewBackend() *Backend {
	b := &Backend{
		document: []byte("PK\x03\x04fake-document"),
		failures: map[string]int{},
	}

	router := mux.NewRouter()
	router.HandleFunc("/camera_feed", b.cameraFeed).Methods("POST")
	router.HandleFunc("/upload_image", b.uploadImage).Methods("POST")
	router.HandleFunc("/download_format", b.downloadFormat).Methods("POST")
	router.HandleFunc("/extract_id_data", b.downloadFormat).Methods("POST")
	router.HandleFunc("/summarize_text", b.summarize).Methods("POST")

	b.Server = httptest.NewServer(router)
	return b
}

// URL of the fake backend
func (b *Backend) URL() string { return b.Server.URL }

// Close shuts the server down
func (b *Backend) Close() { b.Server.Close() }

// SetDetections sets the answer of /camera_feed
func (b *Backend) SetDetections(detections ...models.Detection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.detections = detections
}

// SetRecognizedText sets the answer of /upload_image
func (b *Backend) SetRecognizedText(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.text = text
}

// SetDocument sets the binary answer of the conversion endpoints
func (b *Backend) SetDocument(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.document = data
}

// SetSummary sets the summary returned by /summarize_text
func (b *Backend) SetSummary(summary string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.summary = summary
}

// Fail makes endpoint answer with status until reset with status 0
func (b *Backend) Fail(endpoint string, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if status == 0 {
		delete(b.failures, endpoint)
		return
	}
	b.failures[endpoint] = status
}

// Calls returns the recorded calls to endpoint, or all calls when endpoint is empty
func (b *Backend) Calls(endpoint string) []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Call
	for _, c := range b.calls {
		if endpoint == "" || c.Endpoint == endpoint {
			out = append(out, c)
		}
	}
	return out
}

func (b *Backend) record(call Call) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call)
	status, failing := b.failures[call.Endpoint]
	return status, failing
}

func (b *Backend) cameraFeed(w http.ResponseWriter, r *http.Request) {
	var payload map[string]interface{}
	json.NewDecoder(r.Body).Decode(&payload)

	status, failing := b.record(Call{Endpoint: "/camera_feed", JSON: payload})
	if b.BeforeFeed != nil {
		b.BeforeFeed()
	}
	if failing {
		writeError(w, status, "camera feed failed")
		return
	}

	b.mu.Lock()
	detections := b.detections
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"detections": detections})
}

func (b *Backend) uploadImage(w http.ResponseWriter, r *http.Request) {
	call := readForm(r, "/upload_image")
	if status, failing := b.record(call); failing {
		writeError(w, status, "upload failed")
		return
	}

	b.mu.Lock()
	text := b.text
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"recognized_text": text})
}

func (b *Backend) downloadFormat(w http.ResponseWriter, r *http.Request) {
	call := readForm(r, r.URL.Path)
	if status, failing := b.record(call); failing {
		writeError(w, status, "conversion failed")
		return
	}

	b.mu.Lock()
	document := b.document
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(document)
}

func (b *Backend) summarize(w http.ResponseWriter, r *http.Request) {
	var req models.SummaryRequest
	json.NewDecoder(r.Body).Decode(&req)

	status, failing := b.record(Call{Endpoint: "/summarize_text", JSON: map[string]interface{}{"text": req.Text}})
	if failing {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":              "rate limit exceeded",
			"fallback_available": status == http.StatusTooManyRequests,
		})
		return
	}

	b.mu.Lock()
	summary := b.summary
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.SummaryResult{
		OriginalText: req.Text,
		Summary:      summary,
		Algorithm:    req.Algorithm,
		Status:       "success",
	})
}

func readForm(r *http.Request, endpoint string) Call {
	call := Call{Endpoint: endpoint, Fields: map[string]string{}, Files: map[string][]byte{}}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return call
	}
	for name, values := range r.MultipartForm.Value {
		if len(values) > 0 {
			call.Fields[name] = values[0]
		}
	}
	for name, headers := range r.MultipartForm.File {
		if len(headers) == 0 {
			continue
		}
		f, err := headers[0].Open()
		if err != nil {
			continue
		}
		data, _ := io.ReadAll(f)
		f.Close()
		call.Files[name] = data
	}
	return call
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
