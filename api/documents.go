package api

import (
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"

	"github.com/visionscript/capture-service/internal/export"
	"github.com/visionscript/capture-service/internal/models"
	"github.com/visionscript/capture-service/internal/summarize"
)

// UploadResponse is the answer of a single image recognition
type UploadResponse struct {
	RecognizedText string `json:"recognized_text"`
	Model          string `json:"model"`
	Language       string `json:"language"`
}

// UploadImage recognizes the text of one uploaded image
func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		h.sendError(w, http.StatusBadRequest, "file too large or invalid form")
		return
	}

	image, filename, ok := h.readImage(w, r, true)
	if !ok {
		return
	}

	opts := models.RecognitionOptions{
		Model:    firstNonEmpty(r.FormValue("model"), h.config.Capture.DefaultModel),
		Language: firstNonEmpty(r.FormValue("language"), h.config.Capture.DefaultLanguage),
	}.Normalize()

	text, err := h.client.RecognizeUpload(r.Context(), image, filename, opts)
	if err != nil {
		h.sendFailure(w, err)
		return
	}

	h.logger.WithField("chars", len(text)).Info("upload recognized")
	h.sendJSON(w, http.StatusOK, UploadResponse{
		RecognizedText: text,
		Model:          opts.Model,
		Language:       opts.Language,
	})
}

// ExportUpload exports text recognized from an upload. The id-record format
// needs the original image instead of the text.
func (h *Handler) ExportUpload(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(mux.Vars(r)["format"])
	if err != nil {
		h.sendFailure(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		h.sendError(w, http.StatusBadRequest, "file too large or invalid form")
		return
	}

	job := export.NewJob(format, export.SourceUpload)
	job.Text = r.FormValue("text")
	job.Language = firstNonEmpty(r.FormValue("language"), h.config.Capture.DefaultLanguage)

	if format == export.IDRecord {
		image, filename, ok := h.readImage(w, r, false)
		if !ok {
			return
		}
		job.ImageData = image
		job.ImageName = filename
	}

	artifact, err := h.exporter.Run(r.Context(), job)
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendArtifact(w, r, artifact)
}

// Summarize summarizes text with the requested provider
func (h *Handler) Summarize(w http.ResponseWriter, r *http.Request) {
	var req models.SummaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.summarizer.Summarize(r.Context(), req)
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, result)
}

// ExportSummary exports a summary result together with its original text
// and statistics
func (h *Handler) ExportSummary(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(mux.Vars(r)["format"])
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	if format == export.IDRecord {
		h.sendError(w, http.StatusBadRequest, "summaries cannot be exported as id records")
		return
	}

	var result models.SummaryResult
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job := export.NewJob(format, export.SourceSummary)
	job.Text = result.Summary
	job.OriginalText = result.OriginalText
	job.Statistics = summarize.StatisticsText(&result)

	artifact, err := h.exporter.Run(r.Context(), job)
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendArtifact(w, r, artifact)
}

// readImage reads the "image" form file. When required is false a missing
// file is reported as nothing to export.
func (h *Handler) readImage(w http.ResponseWriter, r *http.Request, required bool) ([]byte, string, bool) {
	file, header, err := r.FormFile("image")
	if err != nil {
		if required {
			h.sendError(w, http.StatusBadRequest, "no image provided")
		} else {
			h.sendFailure(w, export.ErrNothingToExport)
		}
		return nil, "", false
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "failed to read image")
		return nil, "", false
	}

	filename := filepath.Base(header.Filename)
	if filename == "." || filename == "/" || strings.TrimSpace(filename) == "" {
		filename = "upload.jpg"
	}
	return image, filename, true
}
