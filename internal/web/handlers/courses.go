package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// CourseResponse represents a course in API responses
type CourseResponse struct {
	ID         int64     `json:"id"`
	Identifier string    `json:"identifier"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
}

func courseResponse(c database.Course) CourseResponse {
	return CourseResponse{ID: c.ID, Identifier: c.Identifier, Name: c.Name, CreatedAt: c.CreatedAt}
}

// CoursesHandler handles course endpoints.
type CoursesHandler struct {
	courses database.CourseWriter
}

func NewCoursesHandler(courses database.CourseWriter) *CoursesHandler {
	return &CoursesHandler{courses: courses}
}

// List returns all courses.
func (h *CoursesHandler) List(w http.ResponseWriter, r *http.Request) {
	courses, err := h.courses.ListCourses(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	out := make([]CourseResponse, 0, len(courses))
	for _, c := range courses {
		out = append(out, courseResponse(c))
	}
	respondJSON(w, http.StatusOK, out)
}

// Get returns one course.
func (h *CoursesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid course id")
		return
	}
	c, err := h.courses.GetCourse(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, courseResponse(*c))
}

type createCourseRequest struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
}

// Create adds a course.
func (h *CoursesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createCourseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	req.Identifier = strings.ToUpper(strings.TrimSpace(req.Identifier))
	req.Name = strings.TrimSpace(req.Name)
	if req.Identifier == "" || req.Name == "" {
		respondError(w, http.StatusBadRequest, "identifier and name are required")
		return
	}

	c := &database.Course{Identifier: req.Identifier, Name: req.Name}
	if err := h.courses.CreateCourse(r.Context(), c); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, courseResponse(*c))
}

// Roster returns the students of a course.
func (h *CoursesHandler) Roster(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid course id")
		return
	}
	if _, err := h.courses.GetCourse(r.Context(), id); err != nil {
		respondErr(w, err)
		return
	}
	students, err := h.courses.Roster(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	out := make([]StudentResponse, 0, len(students))
	for _, s := range students {
		out = append(out, studentResponse(s))
	}
	respondJSON(w, http.StatusOK, out)
}
