// Package camera provides frame sources for live capture.
package camera

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/visionscript/capture-service/internal/datauri"
)

// ErrNoFrame is returned when a source has nothing to hand out yet
var ErrNoFrame = errors.New("no frame available")

// MaxFrameSize bounds a single snapshot
const MaxFrameSize = 10 * 1024 * 1024 // 10MB

// Frame is a still snapshot encoded as a data URI
type Frame struct {
	DataURI    string
	CapturedAt time.Time
}

// Payload returns the base64 part of the data URI, which is what the
// recognition backend expects.
func (f Frame) Payload() string {
	_, payload, ok := strings.Cut(f.DataURI, ",")
	if !ok {
		return ""
	}
	return payload
}

// Source produces a still snapshot on demand
type Source interface {
	Snapshot(ctx context.Context) (Frame, error)
}

// PushSource hands out the most recent frame pushed by a client,
// typically a browser forwarding webcam screenshots.
type PushSource struct {
	mu     sync.RWMutex
	frame  Frame
	hasAny bool
	now    func() time.Time
}

// NewPushSource creates an empty push source
func NewPushSource() *PushSource {
	return &PushSource{now: time.Now}
}

// Push validates and stores a data URI as the latest frame
func (s *PushSource) Push(uri string) error {
	if len(uri) > base64Len(MaxFrameSize) {
		return errors.Errorf("frame exceeds %d bytes", MaxFrameSize)
	}
	if _, err := datauri.Parse(uri); err != nil {
		return err
	}

	s.mu.Lock()
	s.frame = Frame{DataURI: uri, CapturedAt: s.now()}
	s.hasAny = true
	s.mu.Unlock()
	return nil
}

// Snapshot returns the latest pushed frame
func (s *PushSource) Snapshot(ctx context.Context) (Frame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasAny {
		return Frame{}, ErrNoFrame
	}
	return s.frame, nil
}

// SnapshotSource fetches a still image from an HTTP snapshot endpoint,
// as exposed by most IP cameras.
type SnapshotSource struct {
	url    string
	client *http.Client
}

// NewSnapshotSource creates a source polling url with client
func NewSnapshotSource(url string, client *http.Client) *SnapshotSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SnapshotSource{url: url, client: client}
}

// Snapshot downloads one image
func (s *SnapshotSource) Snapshot(ctx context.Context) (Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return Frame{}, errors.Wrap(err, "create snapshot request")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Frame{}, errors.Wrap(err, "fetch snapshot")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Frame{}, errors.Errorf("snapshot failed with status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxFrameSize+1))
	if err != nil {
		return Frame{}, errors.Wrap(err, "read snapshot")
	}
	if len(data) == 0 {
		return Frame{}, ErrNoFrame
	}
	if len(data) > MaxFrameSize {
		return Frame{}, errors.Errorf("snapshot exceeds %d bytes", MaxFrameSize)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}

	return Frame{DataURI: datauri.Encode(contentType, data), CapturedAt: time.Now()}, nil
}

// base64Len is the encoded length of n bytes plus room for the URI header
func base64Len(n int) int {
	return (n+2)/3*4 + 64
}
