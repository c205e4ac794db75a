package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/enroll"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/templates"
)

// StudentResponse represents a student in API responses
type StudentResponse struct {
	ID        int64            `json:"id"`
	StudentID string           `json:"student_id"`
	Name      string           `json:"name"`
	Email     string           `json:"email,omitempty"`
	HasPhoto  bool             `json:"has_photo"`
	Enrolled  bool             `json:"enrolled"`
	Courses   []CourseResponse `json:"courses,omitempty"`
}

func studentResponse(s database.Student) StudentResponse {
	return StudentResponse{
		ID:        s.ID,
		StudentID: s.ExternalID,
		Name:      s.Name,
		Email:     s.Email,
		HasPhoto:  s.PhotoRef != "",
	}
}

// PhotoReader reads stored images.
type PhotoReader interface {
	Read(ref string) ([]byte, error)
	Remove(ref string) error
}

// StudentsHandler handles student and enrollment endpoints.
type StudentsHandler struct {
	students  database.StudentWriter
	courses   database.CourseWriter
	enroller  *enroll.Enroller
	matcher   *facematch.Matcher
	templates *templates.Store
	photos    PhotoReader
}

func NewStudentsHandler(students database.StudentWriter, courses database.CourseWriter, enroller *enroll.Enroller, matcher *facematch.Matcher, store *templates.Store, photos PhotoReader) *StudentsHandler {
	return &StudentsHandler{
		students:  students,
		courses:   courses,
		enroller:  enroller,
		matcher:   matcher,
		templates: store,
		photos:    photos,
	}
}

func (h *StudentsHandler) enrolled(id int64) bool {
	_, ok := h.templates.Snapshot().Get(id)
	return ok
}

// List returns students, optionally filtered by ?q= name search.
func (h *StudentsHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		students []database.Student
		err      error
	)
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		students, err = h.students.FindStudentsByName(r.Context(), q)
	} else {
		students, err = h.students.ListStudents(r.Context())
	}
	if err != nil {
		respondErr(w, err)
		return
	}

	snap := h.templates.Snapshot()
	out := make([]StudentResponse, 0, len(students))
	for _, s := range students {
		resp := studentResponse(s)
		_, resp.Enrolled = snap.Get(s.ID)
		out = append(out, resp)
	}
	respondJSON(w, http.StatusOK, out)
}

// Get returns one student with their courses.
func (h *StudentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid student id")
		return
	}
	s, err := h.students.GetStudent(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	courses, err := h.courses.StudentCourses(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}

	resp := studentResponse(*s)
	resp.Enrolled = h.enrolled(id)
	for _, c := range courses {
		resp.Courses = append(resp.Courses, courseResponse(c))
	}
	respondJSON(w, http.StatusOK, resp)
}

// parseCourseIDs accepts repeated course_ids fields and comma separated lists.
func parseCourseIDs(values []string) ([]int64, error) {
	var ids []int64
	for _, v := range values {
		for part := range strings.SplitSeq(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil || id <= 0 {
				return nil, errors.New("invalid course id " + strconv.Quote(part))
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// enrollmentResponse is returned by endpoints that enroll a photo.
type enrollmentResponse struct {
	Student      StudentResponse        `json:"student"`
	Verification facematch.Verification `json:"verification"`
}

// Create adds a student from a multipart form with an enrollment photo.
// The student is not kept when the photo is rejected.
func (h *StudentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	s := &database.Student{
		ExternalID: strings.TrimSpace(r.FormValue("student_id")),
		Name:       strings.TrimSpace(r.FormValue("name")),
		Email:      strings.TrimSpace(r.FormValue("email")),
	}
	if s.ExternalID == "" || s.Name == "" {
		respondError(w, http.StatusBadRequest, "student_id and name are required")
		return
	}
	courseIDs, err := parseCourseIDs(r.MultipartForm.Value["course_ids"])
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	photo, err := readUpload(r, "photo")
	if err != nil {
		respondError(w, http.StatusBadRequest, "photo is required")
		return
	}

	ctx := r.Context()
	if err := h.students.CreateStudent(ctx, s); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}

	res, err := h.enroller.Enroll(ctx, s.ID, photo)
	if err == nil {
		err = h.courses.SetStudentCourses(ctx, s.ID, courseIDs)
	}
	if err != nil {
		if derr := h.enroller.Remove(ctx, s.ID); derr != nil {
			log.Printf("Warning: cleanup of template %d failed: %v", s.ID, derr)
		}
		if derr := h.students.DeleteStudent(ctx, s.ID); derr != nil {
			log.Printf("Warning: cleanup of student %d failed: %v", s.ID, derr)
		}
		if res != nil && res.PhotoRef != "" {
			_ = h.photos.Remove(res.PhotoRef)
		}
		h.respondEnrollError(w, err, res)
		return
	}

	s.PhotoRef = res.PhotoRef
	log.Printf("Enrolled student %s (%s)", sanitizeForLog(s.Name), sanitizeForLog(s.ExternalID))
	resp := studentResponse(*s)
	resp.Enrolled = true
	respondJSON(w, http.StatusCreated, enrollmentResponse{Student: resp, Verification: res.Verification})
}

func (h *StudentsHandler) respondEnrollError(w http.ResponseWriter, err error, res *enroll.Result) {
	if res != nil && !res.Verification.Valid && res.Verification.Message != "" {
		respondJSON(w, statusForError(err), map[string]any{
			"error":        err.Error(),
			"verification": res.Verification,
		})
		return
	}
	respondErr(w, err)
}

type updateStudentRequest struct {
	Name      *string  `json:"name"`
	Email     *string  `json:"email"`
	CourseIDs *[]int64 `json:"course_ids"`
}

// Update changes name, email or course memberships.
func (h *StudentsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid student id")
		return
	}
	var req updateStudentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	ctx := r.Context()
	s, err := h.students.GetStudent(ctx, id)
	if err != nil {
		respondErr(w, err)
		return
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			respondError(w, http.StatusBadRequest, "name cannot be empty")
			return
		}
		s.Name = name
	}
	if req.Email != nil {
		s.Email = strings.TrimSpace(*req.Email)
	}
	if err := h.students.UpdateStudent(ctx, s); err != nil {
		respondErr(w, err)
		return
	}
	if req.CourseIDs != nil {
		if err := h.courses.SetStudentCourses(ctx, id, *req.CourseIDs); err != nil {
			respondErr(w, err)
			return
		}
	}

	resp := studentResponse(*s)
	resp.Enrolled = h.enrolled(id)
	respondJSON(w, http.StatusOK, resp)
}

// UpdatePhoto replaces the enrollment photo and template of a student.
func (h *StudentsHandler) UpdatePhoto(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid student id")
		return
	}
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	photo, err := readUpload(r, "photo")
	if err != nil {
		respondError(w, http.StatusBadRequest, "photo is required")
		return
	}

	res, err := h.enroller.Enroll(r.Context(), id, photo)
	if err != nil {
		h.respondEnrollError(w, err, res)
		return
	}
	s, err := h.students.GetStudent(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	resp := studentResponse(*s)
	resp.Enrolled = true
	respondJSON(w, http.StatusOK, enrollmentResponse{Student: resp, Verification: res.Verification})
}

// Delete removes a student, their template and their photo. Attendance
// records are kept without the student.
func (h *StudentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid student id")
		return
	}
	ctx := r.Context()
	s, err := h.students.GetStudent(ctx, id)
	if err != nil {
		respondErr(w, err)
		return
	}
	if err := h.enroller.Remove(ctx, id); err != nil {
		respondErr(w, err)
		return
	}
	if err := h.students.DeleteStudent(ctx, id); err != nil {
		respondErr(w, err)
		return
	}
	if s.PhotoRef != "" {
		if err := h.photos.Remove(s.PhotoRef); err != nil {
			log.Printf("Warning: remove photo %s: %v", s.PhotoRef, err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// VerifyPhoto checks an enrollment photo without storing anything.
func (h *StudentsHandler) VerifyPhoto(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	photo, err := readUpload(r, "photo")
	if err != nil {
		respondError(w, http.StatusBadRequest, "photo is required")
		return
	}

	v, _, err := h.matcher.Verify(r.Context(), photo)
	if err != nil && !errors.Is(err, facematch.ErrUnreadableFile) {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

// Photo returns the stored enrollment photo.
func (h *StudentsHandler) Photo(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid student id")
		return
	}
	s, err := h.students.GetStudent(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	if s.PhotoRef == "" {
		respondError(w, http.StatusNotFound, "student has no photo")
		return
	}
	data, err := h.photos.Read(s.PhotoRef)
	if err != nil {
		respondErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(data)
}
