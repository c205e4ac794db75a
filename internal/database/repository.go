package database

import (
	"context"
	"time"
)

// StudentReader provides read-only access to students
type StudentReader interface {
	// GetStudent returns ErrNotFound if the student does not exist
	GetStudent(ctx context.Context, id int64) (*Student, error)
	// GetStudentByExternalID looks a student up by institution number
	GetStudentByExternalID(ctx context.Context, externalID string) (*Student, error)
	ListStudents(ctx context.Context) ([]Student, error)
	// FindStudentsByName matches normalized names (lowercase, no diacritics, dashes to spaces)
	FindStudentsByName(ctx context.Context, name string) ([]Student, error)
}

// StudentWriter provides write access to students
type StudentWriter interface {
	StudentReader

	// CreateStudent inserts the student and sets its ID and CreatedAt
	CreateStudent(ctx context.Context, s *Student) error
	UpdateStudent(ctx context.Context, s *Student) error
	// DeleteStudent removes the student with its enrollment and course memberships.
	// Attendance records keep their rows with the student cleared.
	DeleteStudent(ctx context.Context, id int64) error
}

// CourseReader provides read-only access to courses and rosters
type CourseReader interface {
	GetCourse(ctx context.Context, id int64) (*Course, error)
	GetCourseByIdentifier(ctx context.Context, identifier string) (*Course, error)
	ListCourses(ctx context.Context) ([]Course, error)
	// Roster returns the students enrolled in the course ordered by name
	Roster(ctx context.Context, courseID int64) ([]Student, error)
	StudentCourses(ctx context.Context, studentID int64) ([]Course, error)
}

// CourseWriter provides write access to courses and rosters
type CourseWriter interface {
	CourseReader

	CreateCourse(ctx context.Context, c *Course) error
	// UpsertCourse creates the course or renames the existing one with the same identifier
	UpsertCourse(ctx context.Context, c *Course) error
	// SetStudentCourses replaces the course memberships of a student
	SetStudentCourses(ctx context.Context, studentID int64, courseIDs []int64) error
}

// EnrollmentReader provides read-only access to stored face templates
type EnrollmentReader interface {
	GetEnrollment(ctx context.Context, studentID int64) (*Enrollment, error)
	ListEnrollments(ctx context.Context) ([]Enrollment, error)
}

// EnrollmentWriter provides write access to stored face templates
type EnrollmentWriter interface {
	EnrollmentReader

	// SaveEnrollment creates or replaces the template of a student
	SaveEnrollment(ctx context.Context, e Enrollment) error
	DeleteEnrollment(ctx context.Context, studentID int64) error
}

// AttendanceReader provides read-only access to attendance records
type AttendanceReader interface {
	GetRecord(ctx context.Context, id int64) (*AttendanceRecord, error)
	// ListRecords returns records newest first
	ListRecords(ctx context.Context, filter RecordFilter) ([]AttendanceRecord, error)
	// ListPending returns the oldest pending records that have a stored
	// capture, first
	ListPending(ctx context.Context, limit int) ([]AttendanceRecord, error)
	CountByStatus(ctx context.Context, filter RecordFilter) (map[Status]int, error)
}

// AttendanceTx is the set of writes performed atomically by one reconciliation
type AttendanceTx interface {
	// InsertIfAbsent inserts a record keyed by (student, course, day). It
	// returns false without writing when such a record already exists.
	InsertIfAbsent(ctx context.Context, rec *AttendanceRecord) (bool, error)
	// Insert writes a record without a student
	Insert(ctx context.Context, rec *AttendanceRecord) error
	// Enqueue adds a notification to the outbox
	Enqueue(ctx context.Context, entry *OutboxEntry) error
}

// AttendanceWriter provides write access to attendance records
type AttendanceWriter interface {
	AttendanceReader

	// WithinTx runs fn in a transaction. All writes are rolled back if fn
	// returns an error or the commit fails.
	WithinTx(ctx context.Context, fn func(tx AttendanceTx) error) error
	// InsertPending stores an unresolved capture for later reprocessing
	InsertPending(ctx context.Context, courseID int64, at time.Time, captureRef string) (*AttendanceRecord, error)
	// UpdateRecord applies upd. It returns ErrAlreadyMarked when the new
	// student already has a record for that course and day.
	UpdateRecord(ctx context.Context, id int64, upd RecordUpdate) error
	// ResolvePending applies upd only while the record is still pending. It
	// returns ErrRecordChanged when the record was overridden or removed.
	ResolvePending(ctx context.Context, id int64, upd RecordUpdate) error
}

// OutboxStore provides the delivery side of the notification outbox
type OutboxStore interface {
	// ClaimQueued moves up to limit queued entries to sending and returns them
	ClaimQueued(ctx context.Context, limit int) ([]OutboxEntry, error)
	MarkSent(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, reason string) error
	OutboxStats(ctx context.Context) (map[OutboxState]int, error)
}
