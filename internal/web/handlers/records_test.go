package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/capture"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
	"github.com/kozaktomas/face-attendance/internal/notify"
	"github.com/kozaktomas/face-attendance/internal/reprocess"
)

type fakeProcessor struct {
	res reprocess.Result
	err error
}

func (p *fakeProcessor) RunOnce(context.Context) (reprocess.Result, error) {
	return p.res, p.err
}

type fakeDelivery notify.Stats

func (d fakeDelivery) Stats() notify.Stats { return notify.Stats(d) }

func ptr[T any](v T) *T { return &v }

type recordsFixture struct {
	store     *mock.MockStore
	images    *capture.FileStore
	processor *fakeProcessor
	router    chi.Router
	course    *database.Course
	alice     *database.Student
	bob       *database.Student
	day       time.Time
}

func newRecordsFixture(t *testing.T) *recordsFixture {
	t.Helper()
	store := mock.NewMockStore()
	images, err := capture.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	processor := &fakeProcessor{}
	reconciler := attendance.NewReconciler(store, store, store, nil)
	h := NewRecordsHandler(store, store, reconciler, processor, fakeDelivery{Sent: 3, Failed: 1}, images)

	r := chi.NewRouter()
	r.Get("/records", h.List)
	r.Post("/records/process-pending", h.ProcessPending)
	r.Get("/records/{id}", h.Get)
	r.Put("/records/{id}", h.Override)
	r.Get("/records/{id}/capture", h.Capture)
	r.Get("/notifications/stats", h.OutboxStats)

	course := store.AddCourse(database.Course{Identifier: "CS101", Name: "Intro to CS"})
	return &recordsFixture{
		store:     store,
		images:    images,
		processor: processor,
		router:    r,
		course:    course,
		alice:     store.AddStudent(database.Student{ExternalID: "1", Name: "Alice"}, course.ID),
		bob:       store.AddStudent(database.Student{ExternalID: "2", Name: "Bob"}, course.ID),
		day:       time.Date(2026, 3, 9, 9, 15, 0, 0, time.UTC),
	}
}

func (f *recordsFixture) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *recordsFixture) add(student *database.Student, status database.Status, at time.Time) database.AttendanceRecord {
	rec := database.AttendanceRecord{CourseID: f.course.ID, Date: at, Time: at, Status: status}
	if student != nil {
		rec.StudentID = ptr(student.ID)
	}
	if status == database.StatusPresent {
		rec.Confidence = ptr(0.8)
	}
	return f.store.AddRecord(rec)
}

func TestRecordsHandler_List(t *testing.T) {
	f := newRecordsFixture(t)
	f.add(f.alice, database.StatusPresent, f.day)
	f.add(f.bob, database.StatusAbsent, f.day)
	f.add(nil, database.StatusUnknown, f.day)
	f.add(f.alice, database.StatusPresent, f.day.AddDate(0, 0, 1))

	tests := []struct {
		name        string
		query       string
		wantRecords int
		wantTotal   int
	}{
		{"all", "", 4, 4},
		{"single day", "?from=2026-03-09&to=2026-03-09", 3, 3},
		{"by status", "?status=present", 2, 4},
		{"paged", "?limit=1&offset=1", 1, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodGet, "/records"+tt.query, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
			}
			var resp RecordListResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if len(resp.Records) != tt.wantRecords {
				t.Errorf("records = %d, want %d", len(resp.Records), tt.wantRecords)
			}
			if resp.Total != tt.wantTotal {
				t.Errorf("total = %d, want %d", resp.Total, tt.wantTotal)
			}
		})
	}

	rec := f.do(http.MethodGet, "/records?from=2026-03-09&to=2026-03-09", "")
	var resp RecordListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	want := map[string]int{"present": 1, "absent": 1, "late": 0, "unknown": 1, "pending": 0}
	for k, v := range want {
		if resp.Stats[k] != v {
			t.Errorf("stats[%s] = %d, want %d", k, resp.Stats[k], v)
		}
	}
}

func TestRecordsHandler_ListInvalidFilter(t *testing.T) {
	f := newRecordsFixture(t)
	for _, q := range []string{
		"?status=excused",
		"?from=09.03.2026",
		"?from=2026-03-10&to=2026-03-09",
		"?course_id=abc",
		"?limit=0",
		"?offset=-1",
	} {
		if rec := f.do(http.MethodGet, "/records"+q, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("GET /records%s: expected status 400, got %d", q, rec.Code)
		}
	}
}

func TestRecordsHandler_Override(t *testing.T) {
	f := newRecordsFixture(t)
	unknown := f.add(nil, database.StatusUnknown, f.day)
	f.add(f.bob, database.StatusAbsent, f.day)

	rec := f.do(http.MethodPut, "/records/"+itoa(unknown.ID), `{"student_id":`+itoa(f.alice.ID)+`,"status":"present"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got RecordResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if got.StudentID == nil || *got.StudentID != f.alice.ID || got.Status != "present" {
		t.Errorf("record = %+v", got)
	}
	if got.Confidence == nil || *got.Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0", got.Confidence)
	}
	if got.StudentName != "Alice" {
		t.Errorf("student name = %q", got.StudentName)
	}

	tests := []struct {
		name string
		id   int64
		body string
		want int
	}{
		{"already marked", unknown.ID, `{"student_id":` + itoa(f.bob.ID) + `,"status":"present"}`, http.StatusConflict},
		{"invalid status", unknown.ID, `{"status":"excused"}`, http.StatusUnprocessableEntity},
		{"unknown record", 999, `{"status":"late"}`, http.StatusNotFound},
		{"unknown student", unknown.ID, `{"student_id":999,"status":"present"}`, http.StatusNotFound},
		{"bad body", unknown.ID, `nope`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := f.do(http.MethodPut, "/records/"+itoa(tt.id), tt.body); rec.Code != tt.want {
				t.Errorf("expected status %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestRecordsHandler_Capture(t *testing.T) {
	f := newRecordsFixture(t)
	data := testJPEG(t, 50)
	ref, err := f.images.SaveCapture("CS101", f.day, data)
	if err != nil {
		t.Fatal(err)
	}
	withImage := f.store.AddRecord(database.AttendanceRecord{CourseID: f.course.ID, Date: f.day, Time: f.day, Status: database.StatusUnknown, CaptureRef: ref})
	without := f.add(f.bob, database.StatusAbsent, f.day)

	rec := f.do(http.MethodGet, "/records/"+itoa(withImage.ID)+"/capture", "")
	if rec.Code != http.StatusOK || rec.Body.Len() != len(data) {
		t.Errorf("capture: status %d, %d bytes", rec.Code, rec.Body.Len())
	}
	if rec := f.do(http.MethodGet, "/records/"+itoa(without.ID)+"/capture", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404 without capture, got %d", rec.Code)
	}
}

func TestRecordsHandler_ProcessPending(t *testing.T) {
	f := newRecordsFixture(t)
	f.processor.res = reprocess.Result{Processed: 3, Resolved: 2, Unknown: 1}

	rec := f.do(http.MethodPost, "/records/process-pending", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var res reprocess.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if res != f.processor.res {
		t.Errorf("result = %+v", res)
	}

	f.processor.err = reprocess.ErrStopped
	if rec := f.do(http.MethodPost, "/records/process-pending", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503 after stop, got %d", rec.Code)
	}
}

func TestRecordsHandler_OutboxStats(t *testing.T) {
	f := newRecordsFixture(t)
	err := f.store.WithinTx(context.Background(), func(tx database.AttendanceTx) error {
		for range 2 {
			if err := tx.Enqueue(context.Background(), &database.OutboxEntry{Contact: "a@example.edu"}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := f.do(http.MethodGet, "/notifications/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var resp OutboxStatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.States["queued"] != 2 || resp.States["sent"] != 0 {
		t.Errorf("states = %v", resp.States)
	}
	if resp.Dispatcher.Sent != 3 || resp.Dispatcher.Failed != 1 {
		t.Errorf("dispatcher = %+v", resp.Dispatcher)
	}
}
