// Package templates holds the in-memory face templates used for matching.
//
// Writers build a new Snapshot and publish it atomically, so a reader that
// took a Snapshot keeps a consistent view for the whole of its matching pass.
package templates

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// Store maps student IDs to face templates.
type Store struct {
	dim      int
	indexMin int
	mu       sync.Mutex // serializes writers
	current  atomic.Pointer[Snapshot]
}

type Option func(*Store)

// WithIndexThreshold sets the template count from which snapshots pre-select
// candidates with an HNSW graph. Zero or less keeps every match exhaustive.
func WithIndexThreshold(n int) Option {
	return func(s *Store) {
		s.indexMin = n
	}
}

// NewStore creates an empty store for vectors of width dim.
func NewStore(dim int, opts ...Option) *Store {
	s := &Store{dim: dim, indexMin: constants.HNSWMinTemplates}
	for _, opt := range opts {
		opt(s)
	}
	s.current.Store(s.newSnapshot(nil))
	return s
}

// Dim returns the expected vector width.
func (s *Store) Dim() int {
	return s.dim
}

// Snapshot returns the current immutable view.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Len returns the number of templates in the current view.
func (s *Store) Len() int {
	return s.Snapshot().Len()
}

func (s *Store) prepare(studentID int64, vector []float32) ([]float32, error) {
	if len(vector) != s.dim {
		return nil, fmt.Errorf("%w: student %d has %d values, expected %d", database.ErrDimensionMismatch, studentID, len(vector), s.dim)
	}
	unit, ok := database.Normalize(vector)
	if !ok {
		return nil, fmt.Errorf("template for student %d is not a usable vector", studentID)
	}
	return unit, nil
}

// Put creates or replaces the template of a student. A replaced template
// keeps its position in enrollment order.
func (s *Store) Put(studentID int64, vector []float32, enrolledAt time.Time) error {
	unit, err := s.prepare(studentID, vector)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.current.Load()
	entries := slices.Clone(old.entries)
	entry := Entry{StudentID: studentID, Vector: unit, EnrolledAt: enrolledAt}
	if i, ok := old.pos[studentID]; ok {
		entries[i] = entry
	} else {
		entries = append(entries, entry)
	}
	s.current.Store(s.newSnapshot(entries))
	return nil
}

// Remove deletes the template of a student. It reports whether one existed.
func (s *Store) Remove(studentID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.current.Load()
	i, ok := old.pos[studentID]
	if !ok {
		return false
	}
	entries := slices.Delete(slices.Clone(old.entries), i, i+1)
	s.current.Store(s.newSnapshot(entries))
	return true
}

// Load replaces all templates with enrollments. Enrollments with the wrong
// width are rejected as a whole so a partially loaded store is never published.
func (s *Store) Load(enrollments []database.Enrollment) error {
	entries := make([]Entry, 0, len(enrollments))
	seen := make(map[int64]int, len(enrollments))
	for _, e := range enrollments {
		unit, err := s.prepare(e.StudentID, e.Embedding)
		if err != nil {
			return err
		}
		entry := Entry{StudentID: e.StudentID, Vector: unit, EnrolledAt: e.EnrolledAt}
		if i, dup := seen[e.StudentID]; dup {
			entries[i] = entry
			continue
		}
		seen[e.StudentID] = len(entries)
		entries = append(entries, entry)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.Store(s.newSnapshot(entries))
	return nil
}
