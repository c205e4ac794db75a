package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
	"github.com/kozaktomas/face-attendance/internal/web/handlers"
)

func newTestServer(store *mock.MockStore) *Server {
	return NewServer(config.WebConfig{Host: "127.0.0.1", Port: 0, AllowedOrigins: []string{"https://kiosk.example.edu"}}, Handlers{
		Courses:  handlers.NewCoursesHandler(store),
		Records:  handlers.NewRecordsHandler(store, store, nil, nil, nil, nil),
		Students: &handlers.StudentsHandler{},
		Capture:  &handlers.CaptureHandler{},
	})
}

func TestServer_Routes(t *testing.T) {
	store := mock.NewMockStore()
	store.AddCourse(database.Course{Identifier: "CS101", Name: "Intro to CS"})
	srv := newTestServer(store)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/v1/health", http.StatusOK},
		{http.MethodGet, "/api/v1/courses", http.StatusOK},
		{http.MethodGet, "/api/v1/courses/1", http.StatusOK},
		{http.MethodGet, "/api/v1/courses/2", http.StatusNotFound},
		{http.MethodGet, "/api/v1/records?status=bogus", http.StatusBadRequest},
		{http.MethodGet, "/api/v1/nope", http.StatusNotFound},
		{http.MethodDelete, "/api/v1/courses", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Router().ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("expected status %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestServer_Middleware(t *testing.T) {
	srv := newTestServer(mock.NewMockStore())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "https://kiosk.example.edu")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://kiosk.example.edu" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["status"] != "ok" {
		t.Errorf("health body = %q", rec.Body.String())
	}
}
