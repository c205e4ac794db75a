// Package enroll turns student photos into face templates.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/templates"
)

// PhotoStore keeps the original enrollment photos.
type PhotoStore interface {
	SaveStudentPhoto(externalID string, data []byte) (string, error)
	Read(ref string) ([]byte, error)
	Remove(ref string) error
}

// ModelNamer reports the embedding model in use.
type ModelNamer interface {
	Model() string
}

// Result describes one enrollment.
type Result struct {
	StudentID    int64                  `json:"student_id"`
	Verification facematch.Verification `json:"verification"`
	PhotoRef     string                 `json:"photo_ref,omitempty"`
	// Warning is set when the photo was usable but not clean, e.g. more
	// than one face on a re-encoded photo.
	Warning error `json:"-"`
}

type Enroller struct {
	students    database.StudentWriter
	enrollments database.EnrollmentWriter
	matcher     *facematch.Matcher
	templates   *templates.Store
	photos      PhotoStore
	model       ModelNamer
	now         func() time.Time

	mu sync.Mutex // orders persist-and-publish against reloads
}

func New(students database.StudentWriter, enrollments database.EnrollmentWriter, matcher *facematch.Matcher, store *templates.Store, photos PhotoStore, model ModelNamer) *Enroller {
	return &Enroller{
		students:    students,
		enrollments: enrollments,
		matcher:     matcher,
		templates:   store,
		photos:      photos,
		model:       model,
		now:         time.Now,
	}
}

// Enroll verifies photo and makes it the template of the student. A photo
// that fails verification returns the verification result with an error
// wrapping its reason, and nothing is stored.
func (e *Enroller) Enroll(ctx context.Context, studentID int64, photo []byte) (*Result, error) {
	student, err := e.students.GetStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("load student %d: %w", studentID, err)
	}

	v, faces, err := e.matcher.Verify(ctx, photo)
	res := &Result{StudentID: studentID, Verification: v}
	if err != nil {
		return res, err
	}
	if !v.Valid {
		return res, fmt.Errorf("photo of %s rejected: %w", student.Name, v.Reason)
	}

	ref, err := e.photos.SaveStudentPhoto(student.ExternalID, photo)
	if err != nil {
		return res, fmt.Errorf("save photo: %w", err)
	}
	res.PhotoRef = ref

	if err := e.store(ctx, student.ID, faces[0].Embedding); err != nil {
		e.discardPhoto(res)
		return res, err
	}

	old := student.PhotoRef
	student.PhotoRef = ref
	if err := e.students.UpdateStudent(ctx, student); err != nil {
		e.discardPhoto(res)
		return res, fmt.Errorf("update student photo: %w", err)
	}
	if old != "" && old != ref {
		if err := e.photos.Remove(old); err != nil {
			log.Printf("Warning: remove old photo %s: %v", old, err)
		}
	}
	return res, nil
}

func (e *Enroller) discardPhoto(res *Result) {
	if err := e.photos.Remove(res.PhotoRef); err != nil {
		log.Printf("Warning: remove photo %s: %v", res.PhotoRef, err)
	}
	res.PhotoRef = ""
}

// Reencode recomputes the template from the stored photo of a student. When
// the photo has several faces the largest one is used and Result.Warning
// wraps facematch.ErrMultipleFaces.
func (e *Enroller) Reencode(ctx context.Context, studentID int64) (*Result, error) {
	student, err := e.students.GetStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("load student %d: %w", studentID, err)
	}
	if student.PhotoRef == "" {
		return nil, fmt.Errorf("student %s has no photo: %w", student.ExternalID, database.ErrNotFound)
	}

	photo, err := e.photos.Read(student.PhotoRef)
	if err != nil {
		return nil, fmt.Errorf("read photo: %w", err)
	}
	faces, err := e.matcher.Detect(ctx, photo)
	if err != nil {
		return nil, err
	}

	res := &Result{StudentID: studentID, PhotoRef: student.PhotoRef}
	res.Verification.FaceCount = len(faces)
	idx := facematch.LargestFace(faces)
	if idx < 0 {
		res.Verification.Reason = facematch.ErrNoFaceFound
		return res, fmt.Errorf("photo of %s: %w", student.Name, facematch.ErrNoFaceFound)
	}
	if len(faces) > 1 {
		res.Warning = fmt.Errorf("%w: %d faces on the photo of %s, kept the largest", facematch.ErrMultipleFaces, len(faces), student.Name)
	}

	if err := e.store(ctx, student.ID, faces[idx].Embedding); err != nil {
		return res, err
	}
	res.Verification.Valid = true
	return res, nil
}

// store persists the vector first and only then publishes it for matching.
func (e *Enroller) store(ctx context.Context, studentID int64, vector []float32) error {
	if len(vector) != e.templates.Dim() {
		return fmt.Errorf("%w: got %d values, expected %d", database.ErrDimensionMismatch, len(vector), e.templates.Dim())
	}
	unit, ok := database.Normalize(vector)
	if !ok {
		return fmt.Errorf("embedding of student %d is not usable", studentID)
	}

	enrolledAt := e.now()
	var model string
	if e.model != nil {
		model = e.model.Model()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enrollments.SaveEnrollment(ctx, database.Enrollment{
		StudentID:  studentID,
		Embedding:  unit,
		Model:      model,
		EnrolledAt: enrolledAt,
	}); err != nil {
		return fmt.Errorf("save enrollment: %w", err)
	}
	return e.templates.Put(studentID, unit, enrolledAt)
}

// Remove drops the template of a student.
func (e *Enroller) Remove(ctx context.Context, studentID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enrollments.DeleteEnrollment(ctx, studentID); err != nil && !errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	e.templates.Remove(studentID)
	return nil
}

// LoadAll replaces the in-memory templates with the persisted enrollments.
// It also picks up enrollments written by other processes.
func (e *Enroller) LoadAll(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	list, err := e.enrollments.ListEnrollments(ctx)
	if err != nil {
		return 0, fmt.Errorf("list enrollments: %w", err)
	}
	if err := e.templates.Load(list); err != nil {
		return 0, err
	}
	return len(list), nil
}

// RebuildResult summarizes a bulk re-encode.
type RebuildResult struct {
	Total    int `json:"total"`
	Encoded  int `json:"encoded"`
	Warnings int `json:"warnings"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Rebuild re-encodes every student with a stored photo using a pool of
// workers. Progress is drawn on stdout when showProgress is set.
func (e *Enroller) Rebuild(ctx context.Context, workers int, showProgress bool) (RebuildResult, error) {
	var res RebuildResult
	students, err := e.students.ListStudents(ctx)
	if err != nil {
		return res, fmt.Errorf("list students: %w", err)
	}

	var todo []database.Student
	for _, s := range students {
		if s.PhotoRef == "" {
			res.Skipped++
			continue
		}
		todo = append(todo, s)
	}
	res.Total = len(todo)
	if len(todo) == 0 {
		return res, nil
	}

	if workers <= 0 {
		workers = constants.WorkerPoolSize
	}

	var bar *progressbar.ProgressBar
	if showProgress {
		bar = progressbar.NewOptions(len(todo),
			progressbar.OptionSetDescription("Encoding photos"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("students"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	}

	var mu sync.Mutex
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for _, s := range todo {
		wg.Add(1)
		go func(s database.Student) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if bar != nil {
				defer bar.Add(1)
			}
			if ctx.Err() != nil {
				mu.Lock()
				res.Failed++
				mu.Unlock()
				return
			}

			r, err := e.Reencode(ctx, s.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				res.Failed++
				log.Printf("Warning: re-encode %s (%s): %v", s.Name, s.ExternalID, err)
			case r.Warning != nil:
				res.Warnings++
				res.Encoded++
				log.Printf("Warning: %v", r.Warning)
			default:
				res.Encoded++
			}
		}(s)
	}

	wg.Wait()
	if bar != nil {
		fmt.Println()
	}
	return res, ctx.Err()
}
