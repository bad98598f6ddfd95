package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/visionscript/capture-service/internal/auth"
	"github.com/visionscript/capture-service/internal/camera"
	"github.com/visionscript/capture-service/internal/capture"
	"github.com/visionscript/capture-service/internal/datauri"
	"github.com/visionscript/capture-service/internal/export"
	"github.com/visionscript/capture-service/internal/models"
	"github.com/visionscript/capture-service/internal/ocr"
	"github.com/visionscript/capture-service/internal/session"
	"github.com/visionscript/capture-service/internal/summarize"
)

const (
	MaxUploadSize = 10 * 1024 * 1024 // 10MB
	MaxFrameBody  = 16 * 1024 * 1024 // base64 frames are larger than the image
	Version       = "1.0.0"
)

var ErrSessionNotFound = errors.New("session not found")

// Handler serves the controller API
type Handler struct {
	config     *models.Config
	client     *ocr.Client
	exporter   *export.Exporter
	summarizer *summarize.Service
	sink       export.Sink
	logger     logrus.FieldLogger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*session.Session
}

// NewHandler creates a new API handler
func NewHandler(config *models.Config, client *ocr.Client, summarizer *summarize.Service, logger logrus.FieldLogger) *Handler {
	return &Handler{
		config:     config,
		client:     client,
		exporter:   export.New(client, logger),
		summarizer: summarizer,
		logger:     logger.WithField("component", "api"),
		sessions:   map[uuid.UUID]*session.Session{},
	}
}

// SetSink stores a copy of every exported artifact, e.g. in a bucket
func (h *Handler) SetSink(sink export.Sink) {
	h.sink = sink
}

// SetupRoutes configures the HTTP routes
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	// Health check
	router.HandleFunc("/health", h.Health).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.Use(auth.Middleware(h.config.Auth.JWTSecret))

	// Live capture sessions
	api.HandleFunc("/sessions", h.CreateSession).Methods("POST")
	api.HandleFunc("/sessions", h.ListSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}", h.GetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", h.DeleteSession).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/frames", h.PushFrame).Methods("POST")
	api.HandleFunc("/sessions/{id}/capture/start", h.StartCapture).Methods("POST")
	api.HandleFunc("/sessions/{id}/capture/stop", h.StopCapture).Methods("POST")
	api.HandleFunc("/sessions/{id}/capture/once", h.CaptureOnce).Methods("POST")
	api.HandleFunc("/sessions/{id}/lock", h.SetLock).Methods("PUT")
	api.HandleFunc("/sessions/{id}/boundaries", h.ToggleBoundaries).Methods("POST")
	api.HandleFunc("/sessions/{id}/options", h.SetOptions).Methods("PUT")
	api.HandleFunc("/sessions/{id}/export/{format}", h.ExportSession).Methods("POST")

	// Single image upload
	api.HandleFunc("/upload", h.UploadImage).Methods("POST")
	api.HandleFunc("/upload/export/{format}", h.ExportUpload).Methods("POST")

	// Summaries
	api.HandleFunc("/summarize", h.Summarize).Methods("POST")
	api.HandleFunc("/summary/export/{format}", h.ExportSummary).Methods("POST")

	return router
}

// Close tears down every session
func (h *Handler) Close() error {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = map[uuid.UUID]*session.Session{}
	h.mu.Unlock()

	var err error
	for id, s := range sessions {
		err = multierr.Append(err, errors.Wrapf(s.Close(), "close session %s", id))
	}
	return err
}

// HealthResponse represents the health check response structure
type HealthResponse struct {
	Status      string            `json:"status"`
	Version     string            `json:"version"`
	Timestamp   string            `json:"timestamp"`
	Uptime      string            `json:"uptime"`
	Memory      MemoryStats       `json:"memory"`
	Sessions    int               `json:"sessions"`
	Backend     ServiceStatus     `json:"backend"`
	Storage     ServiceStatus     `json:"storage"`
	Summarizers []string          `json:"summarizers"`
	Capture     map[string]string `json:"capture"`
}

// MemoryStats represents memory usage statistics
type MemoryStats struct {
	Allocated string `json:"allocated"`
	Total     string `json:"total"`
	System    string `json:"system"`
}

// ServiceStatus represents the status of a service dependency
type ServiceStatus struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

var startTime = time.Now()

// Health endpoint
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	h.mu.RLock()
	sessions := len(h.sessions)
	h.mu.RUnlock()

	response := HealthResponse{
		Status:    "healthy",
		Version:   Version,
		Timestamp: time.Now().Format(time.RFC3339),
		Uptime:    time.Since(startTime).String(),
		Memory: MemoryStats{
			Allocated: fmt.Sprintf("%.2f MB", float64(m.Alloc)/1024/1024),
			Total:     fmt.Sprintf("%.2f MB", float64(m.TotalAlloc)/1024/1024),
			System:    fmt.Sprintf("%.2f MB", float64(m.Sys)/1024/1024),
		},
		Sessions:    sessions,
		Backend:     ServiceStatus{Available: h.client != nil, Version: h.config.Backend.BaseURL},
		Storage:     h.checkStorage(),
		Summarizers: h.summarizer.Providers(),
		Capture: map[string]string{
			"interval":        h.config.Capture.Interval.String(),
			"defaultModel":    h.config.Capture.DefaultModel,
			"defaultLanguage": h.config.Capture.DefaultLanguage,
		},
	}

	h.sendJSON(w, http.StatusOK, response)
}

// checkStorage reports whether artifacts are copied to a bucket
func (h *Handler) checkStorage() ServiceStatus {
	if h.sink == nil {
		return ServiceStatus{
			Available: false,
			Error:     "artifact storage not configured",
		}
	}

	return ServiceStatus{
		Available: true,
		Version:   "MinIO S3",
	}
}

type createSessionRequest struct {
	Model      string `json:"model"`
	Language   string `json:"language"`
	IntervalMS int    `json:"interval_ms"`
	Source     string `json:"source"` // "push" (default) or "snapshot"
}

// CreateSession opens a new live capture session
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.sendError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	cfg := session.Config{
		Interval: h.config.Capture.Interval,
		Options: models.RecognitionOptions{
			Model:    firstNonEmpty(req.Model, h.config.Capture.DefaultModel),
			Language: firstNonEmpty(req.Language, h.config.Capture.DefaultLanguage),
		},
	}
	if req.IntervalMS > 0 {
		cfg.Interval = time.Duration(req.IntervalMS) * time.Millisecond
	}
	if claims, err := auth.GetClaimsFromContext(r.Context()); err == nil {
		cfg.Owner = claims.Subject
	}

	switch req.Source {
	case "", "push":
	case "snapshot":
		if h.config.Capture.SnapshotURL == "" {
			h.sendError(w, http.StatusBadRequest, "no snapshot_url configured")
			return
		}
		cfg.Source = camera.NewSnapshotSource(h.config.Capture.SnapshotURL, nil)
	default:
		h.sendError(w, http.StatusBadRequest, fmt.Sprintf("unknown source %q", req.Source))
		return
	}

	s := session.New(cfg, h.client, h.exporter, h.logger)

	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()

	h.logger.WithFields(logrus.Fields{
		"session":  s.ID,
		"owner":    s.Owner,
		"interval": cfg.Interval,
		"model":    cfg.Options.Model,
	}).Info("session created")

	h.sendJSON(w, http.StatusCreated, s.State())
}

// ListSessions returns the state of every open session
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	states := make([]session.State, 0, len(h.sessions))
	for _, s := range h.sessions {
		states = append(states, s.State())
	}
	h.mu.RUnlock()

	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": states,
		"count":    len(states),
	})
}

// GetSession returns the state of one session
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	h.sendJSON(w, http.StatusOK, s.State())
}

// DeleteSession stops capture and forgets the session
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	h.mu.Lock()
	delete(h.sessions, s.ID)
	h.mu.Unlock()

	if err := s.Close(); err != nil {
		h.logger.WithError(err).WithField("session", s.ID).Warn("session teardown failed")
	}
	w.WriteHeader(http.StatusNoContent)
}

type frameRequest struct {
	Image string `json:"image"`
}

// PushFrame stores the latest camera frame of a session
func (h *Handler) PushFrame(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req frameRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxFrameBody)).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.PushFrame(req.Image); err != nil {
		h.sendFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type startRequest struct {
	IntervalMS int `json:"interval_ms"`
}

// StartCapture begins periodic capture
func (h *Handler) StartCapture(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req startRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.sendError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if err := s.Start(time.Duration(req.IntervalMS) * time.Millisecond); err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, s.State())
}

// StopCapture ends periodic capture
func (h *Handler) StopCapture(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.Stop()
	h.sendJSON(w, http.StatusOK, s.State())
}

// CaptureOnce takes a still
func (h *Handler) CaptureOnce(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	still, err := s.CaptureOnce(r.Context())
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, still)
}

type lockRequest struct {
	Locked bool `json:"locked"`
}

// SetLock freezes or releases the displayed detections
func (h *Handler) SetLock(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req lockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.SetLocked(req.Locked)
	h.sendJSON(w, http.StatusOK, s.State())
}

// ToggleBoundaries flips bounding box drawing
func (h *Handler) ToggleBoundaries(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.ToggleBoundaries()
	h.sendJSON(w, http.StatusOK, s.State())
}

// SetOptions changes model and language
func (h *Handler) SetOptions(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req models.RecognitionOptions
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.SetOptions(req)
	h.sendJSON(w, http.StatusOK, s.State())
}

// ExportSession downloads the session content in the requested format
func (h *Handler) ExportSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	format, err := export.ParseFormat(mux.Vars(r)["format"])
	if err != nil {
		h.sendFailure(w, err)
		return
	}

	artifact, err := s.Export(r.Context(), format)
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendArtifact(w, r, artifact)
}

// session resolves {id} or answers 404
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid session id")
		return nil, false
	}

	h.mu.RLock()
	s, ok := h.sessions[id]
	h.mu.RUnlock()

	if !ok {
		h.sendError(w, http.StatusNotFound, ErrSessionNotFound.Error())
		return nil, false
	}
	return s, true
}

// sendArtifact writes the artifact as a download and copies it to the
// configured sink, if any
func (h *Handler) sendArtifact(w http.ResponseWriter, r *http.Request, artifact *export.Artifact) {
	if h.sink != nil {
		location, err := h.sink.Deliver(r.Context(), artifact)
		if err != nil {
			h.logger.WithError(err).WithField("job", artifact.JobID).Warn("artifact copy failed")
		} else {
			w.Header().Set("X-Artifact-Location", location)
		}
	}

	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(artifact.Data)))
	w.Header().Set("X-Export-Job", artifact.JobID.String())
	w.WriteHeader(http.StatusOK)
	w.Write(artifact.Data)
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, export.ErrNothingToExport),
		errors.Is(err, export.ErrUnknownFormat),
		errors.Is(err, datauri.ErrMalformed),
		errors.Is(err, summarize.ErrEmptyText),
		errors.Is(err, summarize.ErrUnknownProvider):
		return http.StatusBadRequest
	case errors.Is(err, export.ErrExportInProgress),
		errors.Is(err, capture.ErrSourceUnavailable),
		errors.Is(err, camera.ErrNoFrame),
		errors.Is(err, session.ErrNotPushSource):
		return http.StatusConflict
	case errors.Is(err, capture.ErrClosed):
		return http.StatusGone
	case errors.Is(err, summarize.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, ocr.ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// sendFailure logs err and answers with the mapped status
func (h *Handler) sendFailure(w http.ResponseWriter, err error) {
	status := statusFor(err)
	logger := h.logger.WithError(err).WithField("status", status)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed")
	} else {
		logger.Debug("request rejected")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.ErrorResponse{
		Error:             err.Error(),
		FallbackAvailable: status == http.StatusTooManyRequests,
	})
}

// sendJSON writes v with status
func (h *Handler) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (h *Handler) sendError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
