// Package capture schedules camera snapshots and forwards them for
// recognition, never allowing two recognition calls to overlap.
package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/visionscript/capture-service/internal/camera"
	"github.com/visionscript/capture-service/internal/models"
)

// DefaultInterval between periodic captures
const DefaultInterval = time.Second

var (
	// ErrSourceUnavailable is returned when the frame source cannot produce a frame
	ErrSourceUnavailable = errors.New("frame source unavailable")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("scheduler closed")
)

// Recognizer turns a base64 image payload into detections
type Recognizer interface {
	Recognize(ctx context.Context, payload string, opts models.RecognitionOptions) ([]models.Detection, error)
}

// ResultSink receives successful recognition results in completion order
type ResultSink interface {
	ApplyResult(detections []models.Detection)
}

// Stats is a point-in-time view of the scheduler
type Stats struct {
	Capturing  bool          `json:"capturing"`
	InFlight   bool          `json:"inFlight"`
	Interval   time.Duration `json:"interval"`
	Dispatched int64         `json:"dispatched"`
	Skipped    int64         `json:"skipped"`
	Failed     int64         `json:"failed"`
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock replaces the wall clock, mostly for tests
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger sets the logger
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithOptions sets the function consulted for model and language on every dispatch
func WithOptions(options func() models.RecognitionOptions) Option {
	return func(s *Scheduler) { s.options = options }
}

// Scheduler drives periodic and on-demand capture for one session.
//
// A single-weight semaphore is the recognition slot: it is acquired before
// a request is dispatched and released only in the completion handler, so
// at most one recognition call is outstanding. Periodic ticks that find the
// slot taken are dropped, manual captures wait for it.
type Scheduler struct {
	source     camera.Source
	recognizer Recognizer
	sink       ResultSink
	options    func() models.RecognitionOptions
	clock      clock.Clock
	logger     logrus.FieldLogger

	slot     *semaphore.Weighted
	inFlight atomic.Bool
	calls    sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	ticker   *clock.Ticker
	interval time.Duration
	stopRun  context.CancelFunc
	done     chan struct{}
	closed   bool

	dispatched atomic.Int64
	skipped    atomic.Int64
	failed     atomic.Int64
}

// New creates an idle scheduler
func New(source camera.Source, recognizer Recognizer, sink ResultSink, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		source:     source,
		recognizer: recognizer,
		sink:       sink,
		options:    func() models.RecognitionOptions { return models.RecognitionOptions{} },
		clock:      clock.New(),
		logger:     logrus.StandardLogger(),
		slot:       semaphore.NewWeighted(1),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins a snapshot+recognize cycle every interval. It is a no-op when
// already capturing. If the source cannot produce a frame the scheduler stays
// idle and ErrSourceUnavailable is returned.
func (s *Scheduler) Start(interval time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.ticker != nil {
		return nil
	}
	if interval <= 0 {
		interval = DefaultInterval
	}

	if _, err := s.source.Snapshot(s.ctx); err != nil {
		s.logger.WithError(err).Debug("frame source not ready, staying idle")
		return errors.Wrap(ErrSourceUnavailable, err.Error())
	}

	// the run context only bounds snapshots; dispatched calls use s.ctx
	runCtx, stopRun := context.WithCancel(s.ctx)
	s.ticker = s.clock.Ticker(interval)
	s.interval = interval
	s.stopRun = stopRun
	s.done = make(chan struct{})
	go s.loop(runCtx, s.ticker, s.done)

	s.logger.WithField("interval", interval).Info("periodic capture started")
	return nil
}

// Stop cancels the periodic trigger and returns once no further tick can
// fire. An in-flight recognition call is left to complete and its result
// is still applied. No-op when idle.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	ticker, stopRun, done := s.ticker, s.stopRun, s.done
	s.ticker, s.stopRun, s.done = nil, nil, nil
	s.mu.Unlock()

	if ticker == nil {
		return
	}

	ticker.Stop()
	stopRun()
	<-done
	s.logger.Info("periodic capture stopped")
}

// Capturing reports whether periodic capture is active
func (s *Scheduler) Capturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticker != nil
}

// CaptureOnce takes a single snapshot outside the periodic cycle and
// recognizes it. If a periodic call is in flight it waits for the slot
// instead of racing a second exchange with the backend.
func (s *Scheduler) CaptureOnce(ctx context.Context) (*models.Still, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}

	if err := s.slot.Acquire(ctx, 1); err != nil {
		return nil, errors.Wrap(err, "wait for recognition slot")
	}
	s.inFlight.Store(true)
	defer s.release()

	frame, err := s.source.Snapshot(ctx)
	if err != nil {
		return nil, errors.Wrap(ErrSourceUnavailable, err.Error())
	}

	detections, err := s.recognize(ctx, frame)
	if err != nil {
		return nil, err
	}

	return &models.Still{
		Image:      frame.DataURI,
		Detections: detections,
		CapturedAt: frame.CapturedAt,
	}, nil
}

// Stats returns counters and flags
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	capturing, interval := s.ticker != nil, s.interval
	s.mu.Unlock()

	return Stats{
		Capturing:  capturing,
		InFlight:   s.inFlight.Load(),
		Interval:   interval,
		Dispatched: s.dispatched.Load(),
		Skipped:    s.skipped.Load(),
		Failed:     s.failed.Load(),
	}
}

// Close stops the timer deterministically and cancels any outstanding call.
// The scheduler cannot be restarted.
func (s *Scheduler) Close() error {
	s.Stop()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.calls.Wait()
	return nil
}

func (s *Scheduler) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Scheduler) loop(ctx context.Context, ticker *clock.Ticker, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick dispatches one periodic cycle unless a call is already in flight
func (s *Scheduler) tick(ctx context.Context) {
	if !s.slot.TryAcquire(1) {
		s.skipped.Add(1)
		s.logger.Debug("recognition in flight, tick skipped")
		return
	}
	s.inFlight.Store(true)

	frame, err := s.source.Snapshot(ctx)
	if err != nil {
		s.release()
		s.failed.Add(1)
		s.logger.WithError(err).Debug("snapshot failed, tick skipped")
		return
	}

	s.calls.Add(1)
	go func() {
		defer s.calls.Done()
		defer s.release()
		// failures of periodic ticks are silent; prior state stays on screen
		_, _ = s.recognize(s.ctx, frame)
	}()
}

func (s *Scheduler) recognize(ctx context.Context, frame camera.Frame) ([]models.Detection, error) {
	s.dispatched.Add(1)

	detections, err := s.recognizer.Recognize(ctx, frame.Payload(), s.options())
	if err != nil {
		s.failed.Add(1)
		s.logger.WithError(err).Debug("recognition failed")
		return nil, err
	}

	s.sink.ApplyResult(detections)
	return detections, nil
}

func (s *Scheduler) release() {
	s.inFlight.Store(false)
	s.slot.Release(1)
}
