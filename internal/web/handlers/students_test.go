package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-attendance/internal/capture"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
	"github.com/kozaktomas/face-attendance/internal/enroll"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/templates"
)

// photoExtractor returns the faces registered for an image content, and one
// centered face for anything else.
type photoExtractor struct {
	byImage map[string][]facematch.Face
}

func (p *photoExtractor) DetectFaces(_ context.Context, img []byte) ([]facematch.Face, error) {
	if faces, ok := p.byImage[string(img)]; ok {
		return faces, nil
	}
	return []facematch.Face{{Box: facematch.BBox{10, 10, 90, 90}, Embedding: []float32{1, 0, 0}}}, nil
}

type modelName string

func (m modelName) Model() string { return string(m) }

func testJPEG(t *testing.T, size int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, size, size)), nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type studentsFixture struct {
	store   *mock.MockStore
	tpl     *templates.Store
	ex      *photoExtractor
	photos  *capture.FileStore
	handler *StudentsHandler
	course  *database.Course
	router  chi.Router
}

func newStudentsFixture(t *testing.T) *studentsFixture {
	t.Helper()
	store := mock.NewMockStore()
	photos, err := capture.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	tpl := templates.NewStore(3)
	ex := &photoExtractor{byImage: map[string][]facematch.Face{}}
	matcher := facematch.NewMatcher(ex)
	enroller := enroll.New(store, store, matcher, tpl, photos, modelName("buffalo_l"))
	h := NewStudentsHandler(store, store, enroller, matcher, tpl, photos)

	r := chi.NewRouter()
	r.Get("/students", h.List)
	r.Post("/students", h.Create)
	r.Post("/students/verify-photo", h.VerifyPhoto)
	r.Get("/students/{id}", h.Get)
	r.Put("/students/{id}", h.Update)
	r.Delete("/students/{id}", h.Delete)
	r.Get("/students/{id}/photo", h.Photo)
	r.Post("/students/{id}/photo", h.UpdatePhoto)

	return &studentsFixture{
		store:   store,
		tpl:     tpl,
		ex:      ex,
		photos:  photos,
		handler: h,
		course:  store.AddCourse(database.Course{Identifier: "CS101", Name: "Intro to CS"}),
		router:  r,
	}
}

func (f *studentsFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestStudentsHandler_Create(t *testing.T) {
	f := newStudentsFixture(t)
	photo := testJPEG(t, 100)

	rec := f.do(multipartRequest(t, http.MethodPost, "/students", map[string]string{
		"student_id": "2024001",
		"name":       "Alice Nováková",
		"email":      "alice@example.edu",
		"course_ids": itoa(f.course.ID),
	}, photo))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp enrollmentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if !resp.Student.Enrolled || !resp.Student.HasPhoto || !resp.Verification.Valid {
		t.Errorf("unexpected response %+v", resp)
	}
	if _, ok := f.tpl.Snapshot().Get(resp.Student.ID); !ok {
		t.Error("template not stored")
	}
	roster, _ := f.store.Roster(context.Background(), f.course.ID)
	if len(roster) != 1 || roster[0].ExternalID != "2024001" {
		t.Errorf("roster = %+v", roster)
	}
}

func TestStudentsHandler_CreateRejectedPhoto(t *testing.T) {
	f := newStudentsFixture(t)
	photo := testJPEG(t, 100)
	f.ex.byImage[string(photo)] = nil

	rec := f.do(multipartRequest(t, http.MethodPost, "/students", map[string]string{
		"student_id": "2024002",
		"name":       "Bob",
	}, photo))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Verification facematch.Verification `json:"verification"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if body.Verification.Valid || body.Verification.FaceCount != 0 {
		t.Errorf("verification = %+v", body.Verification)
	}
	if students, _ := f.store.ListStudents(context.Background()); len(students) != 0 {
		t.Errorf("rejected student was kept: %+v", students)
	}
	if f.tpl.Len() != 0 {
		t.Error("template stored for rejected photo")
	}
}

func TestStudentsHandler_CreateValidation(t *testing.T) {
	f := newStudentsFixture(t)

	tests := []struct {
		name   string
		fields map[string]string
		photo  []byte
	}{
		{"missing name", map[string]string{"student_id": "1"}, testJPEG(t, 100)},
		{"missing photo", map[string]string{"student_id": "1", "name": "A"}, nil},
		{"bad course", map[string]string{"student_id": "1", "name": "A", "course_ids": "x"}, testJPEG(t, 100)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(multipartRequest(t, http.MethodPost, "/students", tt.fields, tt.photo))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d", rec.Code)
			}
		})
	}
}

func TestStudentsHandler_ListAndSearch(t *testing.T) {
	f := newStudentsFixture(t)
	alice := f.store.AddStudent(database.Student{ExternalID: "1", Name: "Alice Nováková"})
	f.store.AddStudent(database.Student{ExternalID: "2", Name: "Bob Smith"})
	if err := f.tpl.Put(alice.ID, []float32{1, 0, 0}, alice.CreatedAt); err != nil {
		t.Fatal(err)
	}

	rec := f.do(httptest.NewRequest(http.MethodGet, "/students", nil))
	var all []StudentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &all); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 students, got %d", len(all))
	}
	for _, s := range all {
		if s.Enrolled != (s.ID == alice.ID) {
			t.Errorf("student %s enrolled = %v", s.Name, s.Enrolled)
		}
	}

	rec = f.do(httptest.NewRequest(http.MethodGet, "/students?q=novakova", nil))
	var found []StudentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &found); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if len(found) != 1 || found[0].ID != alice.ID {
		t.Errorf("search returned %+v", found)
	}
}

func TestStudentsHandler_Get(t *testing.T) {
	f := newStudentsFixture(t)
	s := f.store.AddStudent(database.Student{ExternalID: "1", Name: "Alice"}, f.course.ID)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/students/"+itoa(s.ID), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var resp StudentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if len(resp.Courses) != 1 || resp.Courses[0].Identifier != "CS101" {
		t.Errorf("courses = %+v", resp.Courses)
	}

	for target, want := range map[string]int{
		"/students/999": http.StatusNotFound,
		"/students/abc": http.StatusBadRequest,
	} {
		if rec := f.do(httptest.NewRequest(http.MethodGet, target, nil)); rec.Code != want {
			t.Errorf("GET %s: expected status %d, got %d", target, want, rec.Code)
		}
	}
}

func TestStudentsHandler_Update(t *testing.T) {
	f := newStudentsFixture(t)
	s := f.store.AddStudent(database.Student{ExternalID: "1", Name: "Alice"})

	body := strings.NewReader(`{"name":"Alice B","course_ids":[` + itoa(f.course.ID) + `]}`)
	rec := f.do(httptest.NewRequest(http.MethodPut, "/students/"+itoa(s.ID), body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got, _ := f.store.GetStudent(context.Background(), s.ID)
	if got.Name != "Alice B" {
		t.Errorf("name = %q", got.Name)
	}
	if roster, _ := f.store.Roster(context.Background(), f.course.ID); len(roster) != 1 {
		t.Errorf("roster = %+v", roster)
	}

	rec = f.do(httptest.NewRequest(http.MethodPut, "/students/"+itoa(s.ID), strings.NewReader(`{"name":"  "}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for empty name, got %d", rec.Code)
	}
}

func TestStudentsHandler_PhotoLifecycle(t *testing.T) {
	f := newStudentsFixture(t)
	s := f.store.AddStudent(database.Student{ExternalID: "1", Name: "Alice"})
	photo := testJPEG(t, 100)

	rec := f.do(multipartRequest(t, http.MethodPost, "/students/"+itoa(s.ID)+"/photo", nil, photo))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(httptest.NewRequest(http.MethodGet, "/students/"+itoa(s.ID)+"/photo", nil))
	if rec.Code != http.StatusOK || !bytes.Equal(rec.Body.Bytes(), photo) {
		t.Fatalf("photo not served: status %d", rec.Code)
	}
	stored, _ := f.store.GetStudent(context.Background(), s.ID)

	rec = f.do(httptest.NewRequest(http.MethodDelete, "/students/"+itoa(s.ID), nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	if _, ok := f.tpl.Snapshot().Get(s.ID); ok {
		t.Error("template still present after delete")
	}
	if _, err := f.photos.Read(stored.PhotoRef); err == nil {
		t.Error("photo file still present after delete")
	}
}

func TestStudentsHandler_VerifyPhoto(t *testing.T) {
	f := newStudentsFixture(t)
	photo := testJPEG(t, 100)
	f.ex.byImage[string(photo)] = []facematch.Face{
		{Box: facematch.BBox{0, 0, 40, 40}, Embedding: []float32{1, 0, 0}},
		{Box: facematch.BBox{50, 50, 90, 90}, Embedding: []float32{0, 1, 0}},
	}

	rec := f.do(multipartRequest(t, http.MethodPost, "/students/verify-photo", nil, photo))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var v facematch.Verification
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if v.Valid || v.FaceCount != 2 {
		t.Errorf("verification = %+v", v)
	}

	rec = f.do(multipartRequest(t, http.MethodPost, "/students/verify-photo", nil, []byte("not an image")))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 for undecodable photo, got %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil || v.Valid {
		t.Errorf("verification = %+v, err %v", v, err)
	}
}
