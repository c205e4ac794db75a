package attendance

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"math"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/capture"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/templates"
)

type staticFrames struct {
	frame  capture.Frame
	course int64
	err    error
}

func (s *staticFrames) CurrentFrame() (capture.Frame, int64, error) {
	return s.frame, s.course, s.err
}

type stubExtractor struct {
	faces []facematch.Face
	err   error
}

func (e *stubExtractor) DetectFaces(_ context.Context, _ []byte) ([]facematch.Face, error) {
	return e.faces, e.err
}

func frameJPEG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 48)), nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type serviceFixture struct {
	*fixture
	svc    *Service
	ex     *stubExtractor
	frames *staticFrames
	files  *capture.FileStore
	events *capture.EventBroadcaster
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := newFixture()
	files, err := capture.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	store := templates.NewStore(3)
	if err := store.Put(f.s1.ID, []float32{1, 0, 0}, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(f.s2.ID, []float32{0, 1, 0}, time.Now()); err != nil {
		t.Fatal(err)
	}

	ex := &stubExtractor{}
	frames := &staticFrames{frame: capture.Frame{Data: frameJPEG(t), Width: 64, Height: 48}, course: f.course.ID}
	events := &capture.EventBroadcaster{}
	svc := NewService(frames, files, facematch.NewMatcher(ex), store, f.store, f.rec, events)
	svc.now = func() time.Time { return captureTime }

	return &serviceFixture{fixture: f, svc: svc, ex: ex, frames: frames, files: files, events: events}
}

func TestCaptureAttendance_Identity(t *testing.T) {
	sf := newServiceFixture(t)
	sf.ex.faces = []facematch.Face{{Box: facematch.BBox{0, 0, 10, 10}, Embedding: []float32{2, 0, 0}}}

	listener := sf.events.AddListener()
	defer sf.events.RemoveListener(listener)

	rep, err := sf.svc.CaptureAttendance(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Status != ReportSuccess || len(rep.Present) != 1 || rep.Present[0] != "Alice" {
		t.Errorf("unexpected report %+v", rep)
	}

	r := recordFor(sf.store.Records(), sf.s1.ID)
	if r == nil || math.Abs(*r.Confidence-1) > 1e-6 {
		t.Fatalf("expected confidence 1.0, got %+v", r)
	}
	if _, err := sf.files.Read(r.CaptureRef); err != nil {
		t.Errorf("capture image should be stored: %v", err)
	}

	select {
	case ev := <-listener:
		if ev.Type != capture.EventCaptured {
			t.Errorf("unexpected event %s", ev.Type)
		}
	default:
		t.Error("expected a captured event")
	}
}

func TestCaptureAttendance_NoFaces(t *testing.T) {
	sf := newServiceFixture(t)

	rep, err := sf.svc.CaptureAttendance(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Status != ReportWarning || rep.UnknownRecordID == 0 {
		t.Errorf("unexpected report %+v", rep)
	}
	if n := len(sf.store.Records()); n != 1 {
		t.Errorf("expected one unknown record, got %d", n)
	}
}

func TestCaptureAttendance_ExtractionFailure(t *testing.T) {
	sf := newServiceFixture(t)
	sf.ex.err = errors.New("embedding server down")

	_, err := sf.svc.CaptureAttendance(context.Background())
	if !errors.Is(err, facematch.ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}
	if n := len(sf.store.Records()); n != 0 {
		t.Errorf("extraction failure must not write records, found %d", n)
	}
}

func TestCaptureAttendance_IdleSession(t *testing.T) {
	sf := newServiceFixture(t)
	sf.frames.err = capture.ErrSessionIdle

	if _, err := sf.svc.CaptureAttendance(context.Background()); !errors.Is(err, capture.ErrSessionIdle) {
		t.Errorf("expected ErrSessionIdle, got %v", err)
	}
}

func TestCaptureAttendance_PersistenceFailureQueuesPending(t *testing.T) {
	sf := newServiceFixture(t)
	sf.ex.faces = []facematch.Face{{Box: facematch.BBox{0, 0, 10, 10}, Embedding: []float32{1, 0, 0}}}
	sf.store.CommitError = errors.New("connection reset")

	_, err := sf.svc.CaptureAttendance(context.Background())
	if !errors.Is(err, database.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}

	records := sf.store.Records()
	if len(records) != 1 || records[0].Status != database.StatusPending || records[0].CaptureRef == "" {
		t.Errorf("expected a single pending record, got %+v", records)
	}
}

func TestDeferAttendance(t *testing.T) {
	sf := newServiceFixture(t)

	rec, err := sf.svc.DeferAttendance(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Status != database.StatusPending || rec.CourseID != sf.course.ID {
		t.Errorf("unexpected record %+v", rec)
	}
}
