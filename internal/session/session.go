// Package session holds the state of one live capture screen: the frame
// source, the periodic scheduler, the detection store, the last still and
// the export guard.
package session

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/visionscript/capture-service/internal/camera"
	"github.com/visionscript/capture-service/internal/capture"
	"github.com/visionscript/capture-service/internal/export"
	"github.com/visionscript/capture-service/internal/models"
)

// ErrNotPushSource is returned when frames are pushed to a session that
// reads from a camera snapshot URL
var ErrNotPushSource = errors.New("session does not accept pushed frames")

// Config for a new session
type Config struct {
	// Source defaults to a PushSource fed through PushFrame
	Source   camera.Source
	Interval time.Duration
	Options  models.RecognitionOptions
	Clock    clock.Clock

	// Owner is the token subject that opened the session, if auth is on
	Owner string
}

// State is what a client renders
type State struct {
	ID        uuid.UUID                 `json:"id"`
	Owner     string                    `json:"owner,omitempty"`
	CreatedAt time.Time                 `json:"createdAt"`
	View      View                      `json:"view"`
	Boxes     []models.BoundingBox      `json:"boxes,omitempty"`
	Text      string                    `json:"text"`
	Still     *models.Still             `json:"still,omitempty"`
	Options   models.RecognitionOptions `json:"options"`
	Capture   capture.Stats             `json:"capture"`
	Exporting bool                      `json:"exporting"`
}

// Session is one capture screen
type Session struct {
	ID        uuid.UUID
	Owner     string
	CreatedAt time.Time

	store     *Store
	source    camera.Source
	push      *camera.PushSource
	scheduler *capture.Scheduler
	exporter  *export.Exporter
	interval  time.Duration
	logger    logrus.FieldLogger

	mu      sync.Mutex
	options models.RecognitionOptions
	still   *models.Still

	exporting atomic.Bool
}

// New creates an idle session
func New(cfg Config, recognizer capture.Recognizer, exporter *export.Exporter, logger logrus.FieldLogger) *Session {
	id := uuid.New()
	s := &Session{
		ID:        id,
		Owner:     cfg.Owner,
		CreatedAt: time.Now(),
		store:     NewStore(),
		source:    cfg.Source,
		exporter:  exporter,
		interval:  cfg.Interval,
		options:   cfg.Options.Normalize(),
		logger:    logger.WithField("session", id),
	}
	if s.source == nil {
		s.push = camera.NewPushSource()
		s.source = s.push
	} else if push, ok := cfg.Source.(*camera.PushSource); ok {
		s.push = push
	}

	opts := []capture.Option{
		capture.WithLogger(s.logger),
		capture.WithOptions(s.Options),
	}
	if cfg.Clock != nil {
		opts = append(opts, capture.WithClock(cfg.Clock))
	}
	s.scheduler = capture.New(s.source, recognizer, s.store, opts...)

	return s
}

// Store exposes the detection store
func (s *Session) Store() *Store { return s.store }

// PushFrame replaces the latest frame of a push-fed session
func (s *Session) PushFrame(dataURI string) error {
	if s.push == nil {
		return ErrNotPushSource
	}
	return s.push.Push(dataURI)
}

// Start begins periodic capture; a zero interval uses the session default
func (s *Session) Start(interval time.Duration) error {
	if interval <= 0 {
		interval = s.interval
	}
	return s.scheduler.Start(interval)
}

// Stop ends periodic capture
func (s *Session) Stop() {
	s.scheduler.Stop()
}

// CaptureOnce takes a still and records it as the session's last capture
func (s *Session) CaptureOnce(ctx context.Context) (*models.Still, error) {
	still, err := s.scheduler.CaptureOnce(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.still = still
	s.mu.Unlock()

	s.logger.WithField("detections", len(still.Detections)).Info("still captured")
	return still, nil
}

// Still returns the last still capture, if any
func (s *Session) Still() *models.Still {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.still
}

// SetLocked freezes or releases the displayed detections
func (s *Session) SetLocked(locked bool) {
	s.store.SetLocked(locked)
}

// ToggleBoundaries flips overlay drawing
func (s *Session) ToggleBoundaries() bool {
	return s.store.ToggleBoundaries()
}

// SetOptions changes model and language for subsequent recognitions
func (s *Session) SetOptions(opts models.RecognitionOptions) models.RecognitionOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.options = opts.Normalize()
	return s.options
}

// Options returns the current model and language
func (s *Session) Options() models.RecognitionOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.options
}

// Text is what a text export of the session would contain: the still's
// detections when the still has any text, the displayed ones otherwise
func (s *Session) Text() string {
	if text := s.Still().Text(); strings.TrimSpace(text) != "" {
		return text
	}
	return models.JoinText(s.store.Active())
}

// State returns everything a client needs to render the screen
func (s *Session) State() State {
	view := s.store.View()
	return State{
		ID:        s.ID,
		Owner:     s.Owner,
		CreatedAt: s.CreatedAt,
		View:      view,
		Boxes:     view.Overlay(),
		Text:      s.Text(),
		Still:     s.Still(),
		Options:   s.Options(),
		Capture:   s.scheduler.Stats(),
		Exporting: s.exporting.Load(),
	}
}

// Export runs one export of the session's current content. Only one export
// per session runs at a time.
func (s *Session) Export(ctx context.Context, format export.Format) (*export.Artifact, error) {
	if !format.Valid() {
		return nil, errors.Wrapf(export.ErrUnknownFormat, "%q", format)
	}
	if !s.exporting.CompareAndSwap(false, true) {
		return nil, export.ErrExportInProgress
	}
	defer s.exporting.Store(false)

	job := export.NewJob(format, export.SourceLive)
	job.Language = s.Options().Language

	if format != export.IDRecord {
		job.Text = s.Text()
		return s.exporter.Run(ctx, job)
	}

	still := s.Still()
	if still == nil {
		s.logger.Info("no still yet, capturing one for id record")
		var err error
		still, err = s.CaptureOnce(ctx)
		if err != nil {
			if errors.Is(err, capture.ErrSourceUnavailable) && len(s.store.Active()) == 0 {
				return nil, export.ErrNothingToExport
			}
			return nil, errors.Wrap(err, "capture still for id record")
		}
	}
	if len(still.Detections) == 0 {
		return nil, export.ErrNothingToExport
	}
	job.Image = still.Image

	return s.exporter.Run(ctx, job)
}

// Close stops capture and cancels any outstanding recognition call
func (s *Session) Close() error {
	return s.scheduler.Close()
}
