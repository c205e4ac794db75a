// Package mock provides in-memory implementations of database interfaces for testing.
package mock

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// MockStore implements every repository interface over in-memory maps.
// All methods share one mutex, and a transaction holds it until it finishes.
type MockStore struct {
	mu sync.RWMutex

	students    map[int64]*database.Student
	courses     map[int64]*database.Course
	memberships map[int64]map[int64]bool // course -> students
	enrollments map[int64]database.Enrollment
	enrollOrder []int64
	records     []database.AttendanceRecord
	outbox      []database.OutboxEntry
	nextID      int64

	// Error injection
	GetStudentError  error
	ListStudentError error
	GetCourseError   error
	RosterError      error
	EnrollmentError  error
	ListPendingError error
	UpdateError      error
	ClaimError       error
	// InsertError is returned by the transactional insert number
	// InsertErrorAfter+1 (counted from zero across the store's lifetime).
	InsertError      error
	InsertErrorAfter int
	CommitError      error

	inserts int
}

// NewMockStore creates an empty store
func NewMockStore() *MockStore {
	return &MockStore{
		students:    make(map[int64]*database.Student),
		courses:     make(map[int64]*database.Course),
		memberships: make(map[int64]map[int64]bool),
		enrollments: make(map[int64]database.Enrollment),
	}
}

func (m *MockStore) id() int64 {
	m.nextID++
	return m.nextID
}

// AddStudent inserts a student and enrolls it in the given courses
func (m *MockStore) AddStudent(s database.Student, courseIDs ...int64) *database.Student {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		s.ID = m.id()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	m.students[s.ID] = &s
	for _, cid := range courseIDs {
		if m.memberships[cid] == nil {
			m.memberships[cid] = make(map[int64]bool)
		}
		m.memberships[cid][s.ID] = true
	}
	out := s
	return &out
}

// AddCourse inserts a course
func (m *MockStore) AddCourse(c database.Course) *database.Course {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == 0 {
		c.ID = m.id()
	}
	m.courses[c.ID] = &c
	out := c
	return &out
}

// Students

func (m *MockStore) GetStudent(_ context.Context, id int64) (*database.Student, error) {
	if m.GetStudentError != nil {
		return nil, m.GetStudentError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.students[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	out := *s
	return &out, nil
}

func (m *MockStore) GetStudentByExternalID(_ context.Context, externalID string) (*database.Student, error) {
	if m.GetStudentError != nil {
		return nil, m.GetStudentError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.students {
		if s.ExternalID == externalID {
			out := *s
			return &out, nil
		}
	}
	return nil, database.ErrNotFound
}

func (m *MockStore) ListStudents(_ context.Context) ([]database.Student, error) {
	if m.ListStudentError != nil {
		return nil, m.ListStudentError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedStudents(func(*database.Student) bool { return true }), nil
}

func (m *MockStore) FindStudentsByName(_ context.Context, name string) ([]database.Student, error) {
	if m.ListStudentError != nil {
		return nil, m.ListStudentError
	}
	needle := database.NormalizeName(name)
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedStudents(func(s *database.Student) bool {
		return strings.Contains(database.NormalizeName(s.Name), needle)
	}), nil
}

func (m *MockStore) sortedStudents(keep func(*database.Student) bool) []database.Student {
	var out []database.Student
	for _, s := range m.students {
		if keep(s) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *MockStore) CreateStudent(_ context.Context, s *database.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.students {
		if existing.ExternalID == s.ExternalID {
			return fmt.Errorf("student %s already exists", s.ExternalID)
		}
	}
	s.ID = m.id()
	s.CreatedAt = time.Now()
	stored := *s
	m.students[s.ID] = &stored
	return nil
}

func (m *MockStore) UpdateStudent(_ context.Context, s *database.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.students[s.ID]
	if !ok {
		return database.ErrNotFound
	}
	stored := *s
	stored.CreatedAt = existing.CreatedAt
	m.students[s.ID] = &stored
	return nil
}

func (m *MockStore) DeleteStudent(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.students[id]; !ok {
		return database.ErrNotFound
	}
	delete(m.students, id)
	m.removeEnrollment(id)
	for _, members := range m.memberships {
		delete(members, id)
	}
	for i := range m.records {
		if sid := m.records[i].StudentID; sid != nil && *sid == id {
			m.records[i].StudentID = nil
		}
	}
	return nil
}

// Courses

func (m *MockStore) GetCourse(_ context.Context, id int64) (*database.Course, error) {
	if m.GetCourseError != nil {
		return nil, m.GetCourseError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.courses[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	out := *c
	return &out, nil
}

func (m *MockStore) GetCourseByIdentifier(_ context.Context, identifier string) (*database.Course, error) {
	if m.GetCourseError != nil {
		return nil, m.GetCourseError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.courses {
		if c.Identifier == identifier {
			out := *c
			return &out, nil
		}
	}
	return nil, database.ErrNotFound
}

func (m *MockStore) ListCourses(_ context.Context) ([]database.Course, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.Course, 0, len(m.courses))
	for _, c := range m.courses {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out, nil
}

func (m *MockStore) Roster(_ context.Context, courseID int64) ([]database.Student, error) {
	if m.RosterError != nil {
		return nil, m.RosterError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	members := m.memberships[courseID]
	return m.sortedStudents(func(s *database.Student) bool { return members[s.ID] }), nil
}

func (m *MockStore) StudentCourses(_ context.Context, studentID int64) ([]database.Course, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.Course
	for cid, members := range m.memberships {
		if c, ok := m.courses[cid]; ok && members[studentID] {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out, nil
}

func (m *MockStore) CreateCourse(_ context.Context, c *database.Course) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.courses {
		if existing.Identifier == c.Identifier {
			return fmt.Errorf("course %s already exists", c.Identifier)
		}
	}
	c.ID = m.id()
	c.CreatedAt = time.Now()
	stored := *c
	m.courses[c.ID] = &stored
	return nil
}

func (m *MockStore) UpsertCourse(ctx context.Context, c *database.Course) error {
	m.mu.Lock()
	for _, existing := range m.courses {
		if existing.Identifier == c.Identifier {
			existing.Name = c.Name
			*c = *existing
			m.mu.Unlock()
			return nil
		}
	}
	m.mu.Unlock()
	return m.CreateCourse(ctx, c)
}

func (m *MockStore) SetStudentCourses(_ context.Context, studentID int64, courseIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.students[studentID]; !ok {
		return database.ErrNotFound
	}
	for _, members := range m.memberships {
		delete(members, studentID)
	}
	for _, cid := range courseIDs {
		if _, ok := m.courses[cid]; !ok {
			return fmt.Errorf("course %d: %w", cid, database.ErrNotFound)
		}
		if m.memberships[cid] == nil {
			m.memberships[cid] = make(map[int64]bool)
		}
		m.memberships[cid][studentID] = true
	}
	return nil
}

// Enrollments

func (m *MockStore) GetEnrollment(_ context.Context, studentID int64) (*database.Enrollment, error) {
	if m.EnrollmentError != nil {
		return nil, m.EnrollmentError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.enrollments[studentID]
	if !ok {
		return nil, database.ErrNotFound
	}
	e.Embedding = slices.Clone(e.Embedding)
	return &e, nil
}

func (m *MockStore) ListEnrollments(_ context.Context) ([]database.Enrollment, error) {
	if m.EnrollmentError != nil {
		return nil, m.EnrollmentError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.Enrollment, 0, len(m.enrollOrder))
	for _, id := range m.enrollOrder {
		e := m.enrollments[id]
		e.Embedding = slices.Clone(e.Embedding)
		out = append(out, e)
	}
	return out, nil
}

func (m *MockStore) SaveEnrollment(_ context.Context, e database.Enrollment) error {
	if m.EnrollmentError != nil {
		return m.EnrollmentError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.students[e.StudentID]; !ok {
		return database.ErrNotFound
	}
	if _, ok := m.enrollments[e.StudentID]; !ok {
		m.enrollOrder = append(m.enrollOrder, e.StudentID)
	}
	if e.EnrolledAt.IsZero() {
		e.EnrolledAt = time.Now()
	}
	e.Embedding = slices.Clone(e.Embedding)
	m.enrollments[e.StudentID] = e
	return nil
}

func (m *MockStore) DeleteEnrollment(_ context.Context, studentID int64) error {
	if m.EnrollmentError != nil {
		return m.EnrollmentError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeEnrollment(studentID)
	return nil
}

func (m *MockStore) removeEnrollment(studentID int64) {
	if _, ok := m.enrollments[studentID]; !ok {
		return
	}
	delete(m.enrollments, studentID)
	m.enrollOrder = slices.DeleteFunc(m.enrollOrder, func(id int64) bool { return id == studentID })
}

// ErrInjected is a ready-made error for the injection fields
var ErrInjected = errors.New("injected failure")
