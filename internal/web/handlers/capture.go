package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/capture"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// CaptureController is the camera session driven by the capture endpoints.
type CaptureController interface {
	Start(ctx context.Context, courseID int64) error
	Stop() error
	Snapshot() capture.Snapshot
	Events() *capture.EventBroadcaster
}

// AttendanceTaker records attendance from the current frame.
type AttendanceTaker interface {
	CaptureAttendance(ctx context.Context) (*attendance.Report, error)
	DeferAttendance(ctx context.Context) (*database.AttendanceRecord, error)
}

// CaptureHandler handles the capture session endpoints.
type CaptureHandler struct {
	session  CaptureController
	service  AttendanceTaker
	courses  database.CourseReader
	interval time.Duration
}

func NewCaptureHandler(session CaptureController, service AttendanceTaker, courses database.CourseReader) *CaptureHandler {
	return &CaptureHandler{
		session:  session,
		service:  service,
		courses:  courses,
		interval: 200 * time.Millisecond,
	}
}

// SessionStatus is the capture session state in API responses.
type SessionStatus struct {
	State      string `json:"state"`
	CourseID   int64  `json:"course_id,omitempty"`
	CourseName string `json:"course_name,omitempty"`
	HasFrame   bool   `json:"has_frame"`
	Faces      int    `json:"faces"`
	Ended      bool   `json:"ended"`
}

func (h *CaptureHandler) status(ctx context.Context) SessionStatus {
	snap := h.session.Snapshot()
	st := SessionStatus{
		State:    snap.State.String(),
		CourseID: snap.CourseID,
		HasFrame: snap.Frame != nil,
		Faces:    len(snap.Boxes),
		Ended:    snap.Ended,
	}
	if snap.State == capture.Active {
		if c, err := h.courses.GetCourse(ctx, snap.CourseID); err == nil {
			st.CourseName = c.Name
		}
	}
	return st
}

type startCaptureRequest struct {
	CourseID int64 `json:"course_id"`
}

// Start opens the camera for a course, or rebinds the running session.
func (h *CaptureHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startCaptureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.CourseID <= 0 {
		respondError(w, http.StatusBadRequest, "course_id is required")
		return
	}
	if _, err := h.courses.GetCourse(r.Context(), req.CourseID); err != nil {
		respondErr(w, err)
		return
	}

	// The session outlives the request.
	if err := h.session.Start(context.WithoutCancel(r.Context()), req.CourseID); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.status(r.Context()))
}

// Stop releases the camera.
func (h *CaptureHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Stop(); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.status(r.Context()))
}

// Status returns the session state.
func (h *CaptureHandler) Status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.status(r.Context()))
}

// previewWidth reads ?width=, falling back to the default preview size.
func previewWidth(r *http.Request) int {
	if v := r.URL.Query().Get("width"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= constants.MaxImageSize {
			return n
		}
	}
	return constants.PreviewWidth
}

func (h *CaptureHandler) preview(width int) ([]byte, time.Time, error) {
	snap := h.session.Snapshot()
	if snap.State != capture.Active {
		return nil, time.Time{}, capture.ErrSessionIdle
	}
	if snap.Frame == nil {
		return nil, time.Time{}, capture.ErrNoFrame
	}
	data, err := capture.RenderPreview(*snap.Frame, snap.Boxes, width)
	if err != nil {
		return nil, time.Time{}, err
	}
	return data, snap.Frame.At, nil
}

// Frame returns the latest frame as JPEG with face boxes drawn.
func (h *CaptureHandler) Frame(w http.ResponseWriter, r *http.Request) {
	data, _, err := h.preview(previewWidth(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

const mjpegBoundary = "frame"

// Stream serves the preview as multipart MJPEG until the client leaves or
// the session stops.
func (h *CaptureHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	if h.session.Snapshot().State != capture.Active {
		respondErr(w, capture.ErrSessionIdle)
		return
	}

	width := previewWidth(r)
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var last time.Time
	for {
		data, at, err := h.preview(width)
		switch {
		case errors.Is(err, capture.ErrSessionIdle):
			return
		case err == nil && !at.Equal(last):
			last = at
			if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", mjpegBoundary, len(data)); err != nil {
				return
			}
			if _, err := w.Write(append(data, '\r', '\n')); err != nil {
				return
			}
			flusher.Flush()
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// Events streams session events over SSE.
func (h *CaptureHandler) Events(w http.ResponseWriter, r *http.Request) {
	streamSSEEvents(w, r, h.session.Events(), h.status(r.Context()))
}

// Trigger records attendance from the current frame. With ?defer=true the
// frame is stored as pending and matched later.
func (h *CaptureHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	if deferred, _ := strconv.ParseBool(r.URL.Query().Get("defer")); deferred {
		rec, err := h.service.DeferAttendance(r.Context())
		if err != nil {
			respondErr(w, err)
			return
		}
		respondJSON(w, http.StatusAccepted, recordResponse(*rec))
		return
	}

	report, err := h.service.CaptureAttendance(r.Context())
	if err != nil {
		log.Printf("Capture failed: %v", err)
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}
