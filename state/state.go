// Package state holds the process-wide recognition result shared between the
// processing path and the polling endpoints.
package state

import (
	"sync"

	"github.com/Tutortoise/face-attendance-service/models"
)

// Shared is the most recent recognition result and the most recently seen
// unknown embedding. Every access happens under mu.
type Shared struct {
	mu          sync.Mutex
	result      models.RecognitionResult
	lastUnknown models.Embedding
}

func New() *Shared {
	return &Shared{result: models.RecognitionResult{}}
}

// Read returns a copy of the latest result.
func (s *Shared) Read() models.RecognitionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result.Clone()
}

// Write replaces the latest result.
func (s *Shared) Write(r models.RecognitionResult) {
	r = r.Clone()
	s.mu.Lock()
	s.result = r
	s.mu.Unlock()
}

// Publish replaces the result and, when unknown is non-nil, the last unknown
// embedding, in one critical section.
func (s *Shared) Publish(r models.RecognitionResult, unknown models.Embedding) {
	r = r.Clone()
	unknown = unknown.Clone()
	s.mu.Lock()
	s.result = r
	if unknown != nil {
		s.lastUnknown = unknown
	}
	s.mu.Unlock()
}

// UnknownEmbedding returns the last unknown embedding without clearing it, so
// the enrollment form can be re-rendered before submission.
func (s *Shared) UnknownEmbedding() (models.Embedding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastUnknown == nil {
		return nil, false
	}
	return s.lastUnknown.Clone(), true
}

// ClearUnknownIf drops the last unknown embedding if it is still e, the one
// that was enrolled. A newer unknown recorded meanwhile is kept.
func (s *Shared) ClearUnknownIf(e models.Embedding) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastUnknown == nil || !equal(s.lastUnknown, e) {
		return false
	}
	s.lastUnknown = nil
	return true
}

func equal(a, b models.Embedding) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
