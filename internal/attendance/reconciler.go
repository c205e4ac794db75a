// Package attendance turns face matches into attendance records.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// OutcomeKind classifies what happened to one student during reconciliation.
type OutcomeKind string

const (
	OutcomePresent       OutcomeKind = "present"
	OutcomeAlreadyMarked OutcomeKind = "already_marked"
	OutcomeNotEnrolled   OutcomeKind = "not_enrolled"
	OutcomeAbsent        OutcomeKind = "absent"
)

// Outcome is the result for one student.
type Outcome struct {
	Kind       OutcomeKind `json:"kind"`
	StudentID  int64       `json:"student_id"`
	Name       string      `json:"name"`
	Confidence float64     `json:"confidence"`
	RecordID   int64       `json:"record_id,omitempty"`
}

// Capture is one frame's worth of matches for a course.
type Capture struct {
	CourseID   int64
	At         time.Time
	Ref        string
	Candidates []facematch.Candidate
}

// Result is what a reconciliation wrote.
type Result struct {
	Course     database.Course
	At         time.Time
	CaptureRef string
	Candidates []facematch.Candidate
	Outcomes   []Outcome
	// OrphanID is set when the capture matched nobody and was logged without a student
	OrphanID int64
}

// Kicker is notified after a commit that queued notifications.
type Kicker interface {
	Kick()
}

// Reconciler writes attendance records for captures.
type Reconciler struct {
	students database.StudentReader
	courses  database.CourseReader
	records  database.AttendanceWriter
	kicker   Kicker
}

func NewReconciler(students database.StudentReader, courses database.CourseReader, records database.AttendanceWriter, kicker Kicker) *Reconciler {
	return &Reconciler{
		students: students,
		courses:  courses,
		records:  records,
		kicker:   kicker,
	}
}

// Dedupe keeps the highest confidence candidate per student and orders the
// result by descending confidence. Equal confidences keep input order.
func Dedupe(candidates []facematch.Candidate) []facematch.Candidate {
	best := make(map[int64]int, len(candidates))
	var out []facematch.Candidate
	for _, c := range candidates {
		i, seen := best[c.StudentID]
		if !seen {
			best[c.StudentID] = len(out)
			out = append(out, c)
			continue
		}
		if c.Confidence > out[i].Confidence {
			out[i] = c
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

// Reconcile records the capture. All writes happen in one transaction; on
// failure nothing is written and the error wraps database.ErrPersistence.
func (r *Reconciler) Reconcile(ctx context.Context, c Capture) (*Result, error) {
	course, err := r.courses.GetCourse(ctx, c.CourseID)
	if err != nil {
		return nil, fmt.Errorf("load course %d: %w", c.CourseID, err)
	}
	roster, err := r.courses.Roster(ctx, c.CourseID)
	if err != nil {
		return nil, fmt.Errorf("%w: load roster: %v", database.ErrPersistence, err)
	}
	inRoster := make(map[int64]database.Student, len(roster))
	for _, s := range roster {
		inRoster[s.ID] = s
	}

	matches := Dedupe(c.Candidates)

	// Students outside the roster are looked up before the transaction.
	// Templates whose student row no longer exists produce no outcome.
	outsiders := make(map[int64]database.Student)
	for _, m := range matches {
		if _, ok := inRoster[m.StudentID]; ok {
			continue
		}
		s, err := r.students.GetStudent(ctx, m.StudentID)
		if errors.Is(err, database.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: load student %d: %v", database.ErrPersistence, m.StudentID, err)
		}
		outsiders[s.ID] = *s
	}

	at := c.At
	if at.IsZero() {
		at = time.Now()
	}
	day := database.Day(at)
	batch := uuid.NewString()
	res := &Result{Course: *course, At: at, CaptureRef: c.Ref, Candidates: c.Candidates}
	queued := 0

	err = r.records.WithinTx(ctx, func(tx database.AttendanceTx) error {
		res.Outcomes = nil
		res.OrphanID = 0
		queued = 0
		present := make(map[int64]bool)

		for _, m := range matches {
			s, ok := inRoster[m.StudentID]
			if !ok {
				if o, known := outsiders[m.StudentID]; known {
					res.Outcomes = append(res.Outcomes, Outcome{Kind: OutcomeNotEnrolled, StudentID: o.ID, Name: o.Name, Confidence: m.Confidence})
				}
				continue
			}

			conf := m.Confidence
			rec := &database.AttendanceRecord{
				StudentID:  &s.ID,
				CourseID:   course.ID,
				Date:       day,
				Time:       at,
				Status:     database.StatusPresent,
				Confidence: &conf,
				CaptureRef: c.Ref,
			}
			inserted, err := tx.InsertIfAbsent(ctx, rec)
			if err != nil {
				return fmt.Errorf("insert present record for student %d: %w", s.ID, err)
			}
			present[s.ID] = true
			if !inserted {
				res.Outcomes = append(res.Outcomes, Outcome{Kind: OutcomeAlreadyMarked, StudentID: s.ID, Name: s.Name, Confidence: conf})
				continue
			}
			res.Outcomes = append(res.Outcomes, Outcome{Kind: OutcomePresent, StudentID: s.ID, Name: s.Name, Confidence: conf, RecordID: rec.ID})
			if s.Email != "" {
				if err := tx.Enqueue(ctx, notification(rec, s, course, batch)); err != nil {
					return fmt.Errorf("queue notification: %w", err)
				}
				queued++
			}
		}

		if len(res.Outcomes) == 0 {
			zero := 0.0
			orphan := &database.AttendanceRecord{
				CourseID:   course.ID,
				Date:       day,
				Time:       at,
				Status:     database.StatusUnknown,
				Confidence: &zero,
				CaptureRef: c.Ref,
			}
			if err := tx.Insert(ctx, orphan); err != nil {
				return fmt.Errorf("insert unknown record: %w", err)
			}
			res.OrphanID = orphan.ID
			return nil
		}

		for _, s := range roster {
			if present[s.ID] {
				continue
			}
			zero := 0.0
			rec := &database.AttendanceRecord{
				StudentID:  &s.ID,
				CourseID:   course.ID,
				Date:       day,
				Time:       at,
				Status:     database.StatusAbsent,
				Confidence: &zero,
			}
			inserted, err := tx.InsertIfAbsent(ctx, rec)
			if err != nil {
				return fmt.Errorf("insert absent record for student %d: %w", s.ID, err)
			}
			if !inserted {
				continue
			}
			res.Outcomes = append(res.Outcomes, Outcome{Kind: OutcomeAbsent, StudentID: s.ID, Name: s.Name, RecordID: rec.ID})
			if s.Email != "" {
				if err := tx.Enqueue(ctx, notification(rec, s, course, batch)); err != nil {
					return fmt.Errorf("queue notification: %w", err)
				}
				queued++
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", database.ErrPersistence, err)
	}

	if queued > 0 && r.kicker != nil {
		r.kicker.Kick()
	}
	return res, nil
}

func notification(rec *database.AttendanceRecord, s database.Student, course *database.Course, batch string) *database.OutboxEntry {
	return &database.OutboxEntry{
		RecordID:    rec.ID,
		BatchID:     batch,
		Contact:     s.Email,
		StudentName: s.Name,
		CourseName:  course.Name,
		Status:      rec.Status,
		DateLabel:   rec.Time.Format(constants.DisplayDateLayout),
		TimeLabel:   rec.Time.Format(constants.DisplayTimeLayout),
	}
}

// RecordPending stores a capture whose matching has not run or has failed,
// so the reprocessor resolves it later.
func (r *Reconciler) RecordPending(ctx context.Context, courseID int64, at time.Time, captureRef string) (*database.AttendanceRecord, error) {
	if captureRef == "" {
		return nil, errors.New("pending record requires a capture image")
	}
	rec, err := r.records.InsertPending(ctx, courseID, at, captureRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", database.ErrPersistence, err)
	}
	log.Printf("Stored pending capture %s for course %d as record %d", captureRef, courseID, rec.ID)
	return rec, nil
}

// Override applies a manual correction to a record. Assigning a student as
// present sets confidence to 1.0, clearing the student sets it to 0.0, and
// any other change keeps the stored confidence.
func (r *Reconciler) Override(ctx context.Context, recordID int64, studentID *int64, status database.Status) (*database.AttendanceRecord, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", database.ErrInvalidStatus, status)
	}

	rec, err := r.records.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if studentID != nil {
		if _, err := r.students.GetStudent(ctx, *studentID); err != nil {
			return nil, fmt.Errorf("student %d: %w", *studentID, err)
		}
	}

	upd := database.RecordUpdate{StudentID: studentID, Status: status, Confidence: rec.Confidence}
	switch {
	case studentID != nil && status == database.StatusPresent:
		one := 1.0
		upd.Confidence = &one
	case studentID == nil:
		zero := 0.0
		upd.Confidence = &zero
	}

	if err := r.records.UpdateRecord(ctx, recordID, upd); err != nil {
		return nil, err
	}
	return r.records.GetRecord(ctx, recordID)
}
