package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
)

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func newCoursesRouter(store *mock.MockStore) chi.Router {
	h := NewCoursesHandler(store)
	r := chi.NewRouter()
	r.Get("/courses", h.List)
	r.Post("/courses", h.Create)
	r.Get("/courses/{id}", h.Get)
	r.Get("/courses/{id}/students", h.Roster)
	return r
}

func TestCoursesHandler_CreateAndList(t *testing.T) {
	store := mock.NewMockStore()
	router := newCoursesRouter(store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/courses", strings.NewReader(`{"identifier":" cs101 ","name":"Intro to CS"}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created CourseResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if created.Identifier != "CS101" {
		t.Errorf("identifier = %q, want CS101", created.Identifier)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/courses", strings.NewReader(`{"identifier":"CS101","name":"Again"}`)))
	if rec.Code != http.StatusConflict {
		t.Errorf("expected status 409 for duplicate, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/courses", strings.NewReader(`{"identifier":"X"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for missing name, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/courses", nil))
	var list []CourseResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 course, got %d", len(list))
	}
}

func TestCoursesHandler_Roster(t *testing.T) {
	store := mock.NewMockStore()
	course := store.AddCourse(database.Course{Identifier: "MATH202", Name: "Linear Algebra"})
	store.AddStudent(database.Student{ExternalID: "2", Name: "Bob"}, course.ID)
	store.AddStudent(database.Student{ExternalID: "1", Name: "Alice"}, course.ID)
	store.AddStudent(database.Student{ExternalID: "3", Name: "Carol"})
	router := newCoursesRouter(store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/courses/"+itoa(course.ID)+"/students", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var roster []StudentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &roster); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if len(roster) != 2 || roster[0].Name != "Alice" {
		t.Errorf("roster = %+v", roster)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/courses/999/students", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rec.Code)
	}
}
