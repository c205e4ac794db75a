package database

import (
	"fmt"
	"time"
)

// Status is the attendance state of a record.
type Status string

const (
	StatusPending Status = "pending"
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
	StatusLate    Status = "late"
	StatusUnknown Status = "unknown"
)

// Statuses lists every valid status in display order.
var Statuses = []Status{StatusPresent, StatusAbsent, StatusLate, StatusUnknown, StatusPending}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPresent, StatusAbsent, StatusLate, StatusUnknown:
		return true
	}
	return false
}

// ParseStatus converts a string into a Status, rejecting anything outside the enum.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

// Student is a person who can be enrolled for recognition.
type Student struct {
	ID         int64
	ExternalID string // institution student number, unique
	Name       string
	Email      string
	PhotoRef   string // relative path of the enrollment photo, empty if none
	CreatedAt  time.Time
}

// Course is a class whose roster is reconciled against captures.
type Course struct {
	ID         int64
	Identifier string // short unique code, e.g. CS101
	Name       string
	CreatedAt  time.Time
}

// Enrollment is the persisted face template of one student.
type Enrollment struct {
	StudentID  int64
	Embedding  []float32
	Model      string
	EnrolledAt time.Time
}

// AttendanceRecord is one row of the attendance log.
// StudentID is nil for captures that matched nobody.
type AttendanceRecord struct {
	ID         int64
	StudentID  *int64
	CourseID   int64
	Date       time.Time // calendar day, midnight UTC
	Time       time.Time // capture instant
	Status     Status
	Confidence *float64
	CaptureRef string // relative path of the capture image, empty if none
	CreatedAt  time.Time

	// Populated by list queries
	StudentName      string
	StudentExternal  string
	CourseIdentifier string
}

// Day returns the calendar day of t (in t's location) as midnight UTC.
// Records are keyed by this value.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// RecordFilter narrows record listings. Zero values mean no filter.
type RecordFilter struct {
	From     time.Time
	To       time.Time
	CourseID int64
	Status   Status
	Limit    int
	Offset   int
}

// RecordUpdate is a field-level change to an existing record.
type RecordUpdate struct {
	StudentID  *int64
	Status     Status
	Confidence *float64
}

// OutboxState is the delivery state of a queued notification.
type OutboxState string

const (
	OutboxQueued  OutboxState = "queued"
	OutboxSending OutboxState = "sending"
	OutboxSent    OutboxState = "sent"
	OutboxFailed  OutboxState = "failed"
)

// OutboxEntry is a notification written in the same transaction as its record.
// Entries sharing a BatchID were produced by one reconciliation and may be
// delivered together.
type OutboxEntry struct {
	ID          int64
	RecordID    int64
	BatchID     string
	Contact     string
	StudentName string
	CourseName  string
	Status      Status
	DateLabel   string
	TimeLabel   string
	State       OutboxState
	Error       string
	CreatedAt   time.Time
	AttemptedAt *time.Time
}
