package session

import (
	"sync"

	"github.com/visionscript/capture-service/internal/models"
)

// View is a consistent snapshot of the detection state
type View struct {
	Locked         bool               `json:"locked"`
	ShowBoundaries bool               `json:"showBoundaries"`
	Active         []models.Detection `json:"active"`
	Last           []models.Detection `json:"last"`
}

// Overlay returns the boxes to draw, or nil when boundaries are hidden
func (v View) Overlay() []models.BoundingBox {
	if !v.ShowBoundaries {
		return nil
	}
	boxes := make([]models.BoundingBox, len(v.Active))
	for i, d := range v.Active {
		boxes[i] = d.BoundingBox
	}
	return boxes
}

// Store holds the last recognition result and the displayed one. While
// locked the displayed detections are frozen; unlocking catches them up to
// the most recent result.
type Store struct {
	mu             sync.RWMutex
	locked         bool
	showBoundaries bool
	active         []models.Detection
	last           []models.Detection
}

// NewStore creates an empty, unlocked store
func NewStore() *Store {
	return &Store{}
}

// ApplyResult records a successful recognition. Slices are never mutated
// after they are stored.
func (s *Store) ApplyResult(detections []models.Detection) {
	detections = clone(detections)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.last = detections
	if !s.locked {
		s.active = detections
	}
}

// SetLocked freezes or releases the displayed detections
func (s *Store) SetLocked(locked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.locked && !locked {
		s.active = s.last
	}
	s.locked = locked
}

// Locked reports the lock flag
func (s *Store) Locked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.locked
}

// ToggleBoundaries flips box drawing and returns the new value
func (s *Store) ToggleBoundaries() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.showBoundaries = !s.showBoundaries
	return s.showBoundaries
}

// Active returns the displayed detections
func (s *Store) Active() []models.Detection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// View returns a snapshot of all fields
func (s *Store) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return View{
		Locked:         s.locked,
		ShowBoundaries: s.showBoundaries,
		Active:         s.active,
		Last:           s.last,
	}
}

func clone(detections []models.Detection) []models.Detection {
	if detections == nil {
		return nil
	}
	out := make([]models.Detection, len(detections))
	copy(out, detections)
	return out
}
