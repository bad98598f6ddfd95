package models

import (
	"strings"
	"time"
)

// BoundingBox is a pixel-space rectangle in the source image's coordinate frame
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Clamp returns the box with every negative field raised to zero
func (b BoundingBox) Clamp() BoundingBox {
	return BoundingBox{
		X:      max(b.X, 0),
		Y:      max(b.Y, 0),
		Width:  max(b.Width, 0),
		Height: max(b.Height, 0),
	}
}

// Detection represents one recognized text span
type Detection struct {
	Text        string      `json:"text"`
	BoundingBox BoundingBox `json:"bbox"`
}

// JoinText concatenates detection texts with a newline, keeping recognizer order.
// No sorting and no de-duplication.
func JoinText(detections []Detection) string {
	texts := make([]string, len(detections))
	for i, d := range detections {
		texts[i] = d.Text
	}
	return strings.Join(texts, "\n")
}

// Still is the image and detections recorded by a single capture
type Still struct {
	Image      string      `json:"image"` // data URI
	Detections []Detection `json:"detections"`
	CapturedAt time.Time   `json:"capturedAt"`
}

// Text returns the joined detection text of the still
func (s *Still) Text() string {
	if s == nil {
		return ""
	}
	return JoinText(s.Detections)
}

// OCR engines understood by the recognition backend
const (
	ModelEasyOCR     = "easyocr"
	ModelPytesseract = "pytesseract"
)

// DefaultLanguage is used when no language was selected
const DefaultLanguage = "en"

// NormalizeModel lowercases the model name and falls back to EasyOCR for unknown values
func NormalizeModel(model string) string {
	switch m := strings.ToLower(strings.TrimSpace(model)); m {
	case ModelEasyOCR, ModelPytesseract:
		return m
	default:
		return ModelEasyOCR
	}
}

// RecognitionOptions carries the user-selected model and language
type RecognitionOptions struct {
	Model    string `json:"model"`
	Language string `json:"language"`
}

// Normalize fills in defaults
func (o RecognitionOptions) Normalize() RecognitionOptions {
	o.Model = NormalizeModel(o.Model)
	o.Language = strings.ToLower(strings.TrimSpace(o.Language))
	if o.Language == "" {
		o.Language = DefaultLanguage
	}
	return o
}

// ErrorResponse is the JSON body sent on failed API requests
type ErrorResponse struct {
	Error             string `json:"error"`
	FallbackAvailable bool   `json:"fallback_available,omitempty"`
}
