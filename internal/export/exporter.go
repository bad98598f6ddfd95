// Package export turns recognized text or a captured still into a
// downloadable document.
package export

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/visionscript/capture-service/internal/datauri"
	"github.com/visionscript/capture-service/internal/ocr"
)

var (
	// ErrNothingToExport is returned before any network call when the job has no content
	ErrNothingToExport = errors.New("nothing to export")
	// ErrExportInProgress is returned when a session is already exporting
	ErrExportInProgress = errors.New("export already in progress")
)

// Converter renders documents remotely
type Converter interface {
	ConvertText(ctx context.Context, req ocr.ConversionRequest) ([]byte, error)
	ExtractIDRecord(ctx context.Context, image []byte, filename, language string) ([]byte, error)
}

// Job is a one-shot export request. It carries copies of everything it
// needs and holds no reference to session state.
type Job struct {
	ID     uuid.UUID
	Format Format
	Source Source

	Text         string
	OriginalText string
	Statistics   string

	// Image is a data URI; ImageData takes precedence when set
	Image     string
	ImageData []byte
	ImageName string
	Language  string
}

// NewJob creates a job with a fresh ID
func NewJob(format Format, source Source) *Job {
	return &Job{ID: uuid.New(), Format: format, Source: source}
}

// Artifact is a finished export
type Artifact struct {
	JobID       uuid.UUID
	Filename    string
	ContentType string
	Data        []byte
	CreatedAt   time.Time
}

// Exporter runs export jobs
type Exporter struct {
	converter Converter
	logger    logrus.FieldLogger
}

// New creates an exporter; converter may be nil when only plain text is needed
func New(converter Converter, logger logrus.FieldLogger) *Exporter {
	return &Exporter{converter: converter, logger: logger.WithField("component", "export")}
}

// Run executes job. On failure no artifact is returned.
func (e *Exporter) Run(ctx context.Context, job *Job) (*Artifact, error) {
	if !job.Format.Valid() {
		return nil, errors.Wrapf(ErrUnknownFormat, "%q", job.Format)
	}

	logger := e.logger.WithFields(logrus.Fields{
		"job":    job.ID,
		"format": job.Format,
		"source": job.Source,
	})

	var (
		data []byte
		err  error
	)
	switch job.Format {
	case PlainText:
		data, err = e.plainText(job)
	case IDRecord:
		data, err = e.idRecord(ctx, job)
	default:
		data, err = e.document(ctx, job)
	}
	if err != nil {
		logger.WithError(err).Warn("export failed")
		return nil, err
	}

	logger.WithField("bytes", len(data)).Info("export finished")
	return &Artifact{
		JobID:       job.ID,
		Filename:    Filename(job.Format, job.Source),
		ContentType: job.Format.ContentType(),
		Data:        data,
		CreatedAt:   time.Now(),
	}, nil
}

func (e *Exporter) plainText(job *Job) ([]byte, error) {
	if strings.TrimSpace(job.Text) == "" {
		return nil, ErrNothingToExport
	}
	return []byte(job.Text), nil
}

func (e *Exporter) document(ctx context.Context, job *Job) ([]byte, error) {
	if strings.TrimSpace(job.Text) == "" {
		return nil, ErrNothingToExport
	}
	if e.converter == nil {
		return nil, errors.Wrap(ocr.ErrTransport, "no conversion backend configured")
	}

	data, err := e.converter.ConvertText(ctx, ocr.ConversionRequest{
		Format:       job.Format.Keyword(),
		Text:         job.Text,
		OriginalText: job.OriginalText,
		Statistics:   job.Statistics,
		IsSummary:    job.Source == SourceSummary,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "convert to %s", job.Format)
	}
	return data, nil
}

func (e *Exporter) idRecord(ctx context.Context, job *Job) ([]byte, error) {
	image, filename := job.ImageData, job.ImageName
	if len(image) == 0 {
		if job.Image == "" {
			return nil, ErrNothingToExport
		}
		var mimeType string
		var err error
		image, mimeType, err = datauri.Decode(job.Image)
		if err != nil {
			return nil, err
		}
		filename = "capture" + datauri.FileExtension(mimeType)
	}
	if len(image) == 0 {
		return nil, ErrNothingToExport
	}
	if filename == "" {
		filename = "capture.jpg"
	}
	if e.converter == nil {
		return nil, errors.Wrap(ocr.ErrTransport, "no conversion backend configured")
	}

	data, err := e.converter.ExtractIDRecord(ctx, image, filename, job.Language)
	if err != nil {
		return nil, errors.Wrap(err, "extract id record")
	}
	return data, nil
}
