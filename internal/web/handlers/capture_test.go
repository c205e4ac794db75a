package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/capture"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

type fakeSession struct {
	snap     capture.Snapshot
	startErr error
	started  int64
	stopped  bool
	events   capture.EventBroadcaster
}

func (s *fakeSession) Start(_ context.Context, courseID int64) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.started = courseID
	s.snap.State = capture.Active
	s.snap.CourseID = courseID
	return nil
}

func (s *fakeSession) Stop() error {
	s.stopped = true
	s.snap = capture.Snapshot{}
	return nil
}

func (s *fakeSession) Snapshot() capture.Snapshot { return s.snap }
func (s *fakeSession) Events() *capture.EventBroadcaster { return &s.events }

type fakeTaker struct {
	report *attendance.Report
	record *database.AttendanceRecord
	err    error
	calls  []string
}

func (f *fakeTaker) CaptureAttendance(context.Context) (*attendance.Report, error) {
	f.calls = append(f.calls, "capture")
	return f.report, f.err
}

func (f *fakeTaker) DeferAttendance(context.Context) (*database.AttendanceRecord, error) {
	f.calls = append(f.calls, "defer")
	return f.record, f.err
}

type captureFixture struct {
	session *fakeSession
	taker   *fakeTaker
	course  *database.Course
	handler *CaptureHandler
}

func newCaptureFixture() *captureFixture {
	store := mock.NewMockStore()
	session := &fakeSession{}
	taker := &fakeTaker{}
	return &captureFixture{
		session: session,
		taker:   taker,
		course:  store.AddCourse(database.Course{Identifier: "CS101", Name: "Intro to CS"}),
		handler: NewCaptureHandler(session, taker, store),
	}
}

func (f *captureFixture) activate(t *testing.T) {
	t.Helper()
	f.session.snap = capture.Snapshot{
		State:    capture.Active,
		CourseID: f.course.ID,
		Frame:    &capture.Frame{Data: testJPEG(t, 200), Width: 200, Height: 200, At: time.Now()},
		Boxes:    []facematch.BBox{{20, 20, 120, 140}},
	}
}

func TestCaptureHandler_Start(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		startErr error
		want     int
	}{
		{"ok", `{"course_id":1}`, nil, http.StatusOK},
		{"invalid body", `{`, nil, http.StatusBadRequest},
		{"missing course", `{}`, nil, http.StatusBadRequest},
		{"unknown course", `{"course_id":42}`, nil, http.StatusNotFound},
		{"camera down", `{"course_id":1}`, capture.ErrCameraUnavailable, http.StatusServiceUnavailable},
		{"rebind rejected", `{"course_id":1}`, capture.ErrSessionActive, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCaptureFixture()
			f.session.startErr = tt.startErr
			rec := httptest.NewRecorder()
			f.handler.Start(rec, httptest.NewRequest(http.MethodPost, "/capture/start", strings.NewReader(tt.body)))

			if rec.Code != tt.want {
				t.Fatalf("expected status %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
			if tt.want != http.StatusOK {
				return
			}
			var st SessionStatus
			if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if st.State != "active" || st.CourseName != "Intro to CS" {
				t.Errorf("status = %+v", st)
			}
		})
	}
}

func TestCaptureHandler_StopAndStatus(t *testing.T) {
	f := newCaptureFixture()
	f.activate(t)

	rec := httptest.NewRecorder()
	f.handler.Status(rec, httptest.NewRequest(http.MethodGet, "/capture/status", nil))
	var st SessionStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if st.State != "active" || !st.HasFrame || st.Faces != 1 {
		t.Errorf("status = %+v", st)
	}

	rec = httptest.NewRecorder()
	f.handler.Stop(rec, httptest.NewRequest(http.MethodPost, "/capture/stop", nil))
	if rec.Code != http.StatusOK || !f.session.stopped {
		t.Fatalf("stop failed: status %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if st.State != "idle" {
		t.Errorf("state after stop = %q", st.State)
	}
}

func TestCaptureHandler_Frame(t *testing.T) {
	f := newCaptureFixture()

	rec := httptest.NewRecorder()
	f.handler.Frame(rec, httptest.NewRequest(http.MethodGet, "/capture/frame", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("expected status 409 when idle, got %d", rec.Code)
	}

	f.activate(t)
	rec = httptest.NewRecorder()
	f.handler.Frame(rec, httptest.NewRequest(http.MethodGet, "/capture/frame?width=100", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %q", ct)
	}
	if rec.Body.Len() == 0 {
		t.Error("empty preview")
	}
}

func TestCaptureHandler_Stream(t *testing.T) {
	f := newCaptureFixture()
	f.activate(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	f.handler.Stream(rec, httptest.NewRequest(http.MethodGet, "/capture/stream", nil).WithContext(ctx))

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "--frame\r\nContent-Type: image/jpeg") {
		t.Error("stream has no frame part")
	}
}

func TestCaptureHandler_Events(t *testing.T) {
	f := newCaptureFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	f.handler.Events(rec, httptest.NewRequest(http.MethodGet, "/capture/events", nil).WithContext(ctx))

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.HasPrefix(rec.Body.String(), "event: status\ndata: {") {
		t.Errorf("unexpected stream %q", rec.Body.String())
	}
	if f.session.events.Listeners() != 0 {
		t.Error("listener not removed")
	}
}

func TestCaptureHandler_Trigger(t *testing.T) {
	f := newCaptureFixture()
	f.taker.report = &attendance.Report{Status: attendance.ReportSuccess, Present: []string{"Alice"}}

	rec := httptest.NewRecorder()
	f.handler.Trigger(rec, httptest.NewRequest(http.MethodPost, "/capture/trigger", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var report attendance.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if report.Status != attendance.ReportSuccess || len(report.Present) != 1 {
		t.Errorf("report = %+v", report)
	}

	f.taker.record = &database.AttendanceRecord{ID: 9, CourseID: f.course.ID, Status: database.StatusPending, CaptureRef: "captures/x.jpg"}
	rec = httptest.NewRecorder()
	f.handler.Trigger(rec, httptest.NewRequest(http.MethodPost, "/capture/trigger?defer=true", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rec.Code)
	}
	var pending RecordResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &pending); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if pending.ID != 9 || pending.Status != "pending" || !pending.HasCapture {
		t.Errorf("record = %+v", pending)
	}

	f.taker.err = capture.ErrSessionIdle
	rec = httptest.NewRecorder()
	f.handler.Trigger(rec, httptest.NewRequest(http.MethodPost, "/capture/trigger", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("expected status 409 when idle, got %d", rec.Code)
	}

	if got := strings.Join(f.taker.calls, ","); got != "capture,defer,capture" {
		t.Errorf("calls = %s", got)
	}
}
