package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/kozaktomas/face-attendance/internal/capture"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/templates"
)

// FrameProvider returns the latest frame of an active capture session.
type FrameProvider interface {
	CurrentFrame() (capture.Frame, int64, error)
}

// CaptureStore persists capture images.
type CaptureStore interface {
	SaveCapture(courseIdentifier string, at time.Time, data []byte) (string, error)
}

// Service runs the capture flow: save the current frame, match it and
// reconcile the result.
type Service struct {
	frames     FrameProvider
	images     CaptureStore
	matcher    *facematch.Matcher
	templates  *templates.Store
	courses    database.CourseReader
	reconciler *Reconciler
	events     *capture.EventBroadcaster
	now        func() time.Time
}

func NewService(frames FrameProvider, images CaptureStore, matcher *facematch.Matcher, store *templates.Store, courses database.CourseReader, reconciler *Reconciler, events *capture.EventBroadcaster) *Service {
	return &Service{
		frames:     frames,
		images:     images,
		matcher:    matcher,
		templates:  store,
		courses:    courses,
		reconciler: reconciler,
		events:     events,
		now:        time.Now,
	}
}

func (s *Service) saveFrame(ctx context.Context) (string, []byte, *database.Course, time.Time, error) {
	frame, courseID, err := s.frames.CurrentFrame()
	if err != nil {
		return "", nil, nil, time.Time{}, err
	}
	course, err := s.courses.GetCourse(ctx, courseID)
	if err != nil {
		return "", nil, nil, time.Time{}, fmt.Errorf("load course %d: %w", courseID, err)
	}

	data, err := capture.ResizeImage(frame.Data, constants.MaxImageSize)
	if err != nil {
		log.Printf("Warning: storing capture without resizing: %v", err)
		data = frame.Data
	}

	at := s.now()
	ref, err := s.images.SaveCapture(course.Identifier, at, data)
	if err != nil {
		return "", nil, nil, time.Time{}, fmt.Errorf("save capture: %w", err)
	}
	return ref, data, course, at, nil
}

// CaptureAttendance matches the current frame and records attendance. An
// extractor failure leaves records untouched. A persistence failure stores
// the capture as pending when possible so the reprocessor picks it up.
func (s *Service) CaptureAttendance(ctx context.Context) (*Report, error) {
	ref, data, course, at, err := s.saveFrame(ctx)
	if err != nil {
		return nil, err
	}

	candidates, err := s.matcher.MatchAll(ctx, data, s.templates.Snapshot())
	if err != nil {
		return nil, err
	}

	res, err := s.reconciler.Reconcile(ctx, Capture{CourseID: course.ID, At: at, Ref: ref, Candidates: candidates})
	if err != nil {
		if errors.Is(err, database.ErrPersistence) {
			if _, perr := s.reconciler.RecordPending(ctx, course.ID, at, ref); perr != nil {
				log.Printf("Warning: capture %s could not be queued for reprocessing: %v", ref, perr)
			}
		}
		return nil, err
	}

	rep := BuildReport(res)
	log.Printf("Capture %s for %s: %s", ref, course.Identifier, rep.Status)
	if s.events != nil {
		s.events.SendEvent(capture.Event{Type: capture.EventCaptured, Message: rep.Message, Data: rep})
	}
	return rep, nil
}

// DeferAttendance saves the current frame as a pending record without
// matching it. The reprocessor resolves it on its next run.
func (s *Service) DeferAttendance(ctx context.Context) (*database.AttendanceRecord, error) {
	ref, _, course, at, err := s.saveFrame(ctx)
	if err != nil {
		return nil, err
	}
	return s.reconciler.RecordPending(ctx, course.ID, at, ref)
}
