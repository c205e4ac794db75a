// Package notify delivers attendance notifications queued in the outbox.
package notify

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// ErrNotificationFailed wraps delivery failures. They are logged and recorded
// on the outbox entry and never affect attendance records.
var ErrNotificationFailed = errors.New("notification failed")

// Notification is one message to one student.
type Notification struct {
	Contact    string
	Name       string
	CourseName string
	Status     database.Status
	Date       string
	Time       string
}

// FromEntry converts an outbox entry into a notification.
func FromEntry(e database.OutboxEntry) Notification {
	return Notification{
		Contact:    e.Contact,
		Name:       e.StudentName,
		CourseName: e.CourseName,
		Status:     e.Status,
		Date:       e.DateLabel,
		Time:       e.TimeLabel,
	}
}

// Validate checks that every field needed for the message is present.
func (n Notification) Validate() error {
	var missing []string
	for field, value := range map[string]string{
		"contact": n.Contact,
		"name":    n.Name,
		"course":  n.CourseName,
		"status":  string(n.Status),
		"date":    n.Date,
		"time":    n.Time,
	} {
		if value == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("%w: missing %s", ErrNotificationFailed, strings.Join(missing, ", "))
	}
	if !strings.Contains(n.Contact, "@") {
		return fmt.Errorf("%w: invalid address %q", ErrNotificationFailed, n.Contact)
	}
	return nil
}

// Compose returns the subject and plain-text body of n.
func Compose(n Notification) (subject, body string) {
	subject = "Attendance Marked - " + n.CourseName

	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\n", n.Name)
	if n.Status == database.StatusPresent {
		b.WriteString("Your attendance has been marked as PRESENT for the following class:\n\n")
	} else {
		fmt.Fprintf(&b, "This is to notify you that you were marked as %s for the following class:\n\n", strings.ToUpper(string(n.Status)))
	}
	fmt.Fprintf(&b, "Course: %s\nDate: %s\nTime: %s\n\n", n.CourseName, n.Date, n.Time)
	if n.Status != database.StatusPresent {
		b.WriteString("If you believe this is an error, please contact your instructor.\n\n")
	}
	b.WriteString("Best regards,\nSmart Attendance System")
	return subject, b.String()
}
