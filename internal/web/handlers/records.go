package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/notify"
	"github.com/kozaktomas/face-attendance/internal/reprocess"
)

// RecordResponse represents an attendance record in API responses
type RecordResponse struct {
	ID               int64     `json:"id"`
	StudentID        *int64    `json:"student_id"`
	StudentName      string    `json:"student_name,omitempty"`
	StudentExternal  string    `json:"student_number,omitempty"`
	CourseID         int64     `json:"course_id"`
	CourseIdentifier string    `json:"course_identifier,omitempty"`
	Date             string    `json:"date"`
	Time             time.Time `json:"time"`
	Status           string    `json:"status"`
	Confidence       *float64  `json:"confidence"`
	HasCapture       bool      `json:"has_capture"`
}

func recordResponse(rec database.AttendanceRecord) RecordResponse {
	return RecordResponse{
		ID:               rec.ID,
		StudentID:        rec.StudentID,
		StudentName:      rec.StudentName,
		StudentExternal:  rec.StudentExternal,
		CourseID:         rec.CourseID,
		CourseIdentifier: rec.CourseIdentifier,
		Date:             rec.Date.Format(constants.DateLayout),
		Time:             rec.Time,
		Status:           string(rec.Status),
		Confidence:       rec.Confidence,
		HasCapture:       rec.CaptureRef != "",
	}
}

// RecordOverrider applies manual corrections to records.
type RecordOverrider interface {
	Override(ctx context.Context, recordID int64, studentID *int64, status database.Status) (*database.AttendanceRecord, error)
}

// PendingProcessor resolves pending records.
type PendingProcessor interface {
	RunOnce(ctx context.Context) (reprocess.Result, error)
}

// DeliveryStats reports dispatcher counters.
type DeliveryStats interface {
	Stats() notify.Stats
}

// ImageReader loads stored capture images.
type ImageReader interface {
	Read(ref string) ([]byte, error)
}

// RecordsHandler handles attendance record endpoints.
type RecordsHandler struct {
	records    database.AttendanceReader
	outbox     database.OutboxStore
	overrider  RecordOverrider
	processor  PendingProcessor
	dispatcher DeliveryStats
	images     ImageReader
}

func NewRecordsHandler(records database.AttendanceReader, outbox database.OutboxStore, overrider RecordOverrider, processor PendingProcessor, dispatcher DeliveryStats, images ImageReader) *RecordsHandler {
	return &RecordsHandler{
		records:    records,
		outbox:     outbox,
		overrider:  overrider,
		processor:  processor,
		dispatcher: dispatcher,
		images:     images,
	}
}

// parseRecordFilter reads from, to, course_id, status, limit and offset.
func parseRecordFilter(r *http.Request) (database.RecordFilter, error) {
	q := r.URL.Query()
	f := database.RecordFilter{Limit: constants.DefaultHandlerPageSize}

	if v := q.Get("from"); v != "" {
		t, err := time.Parse(constants.DateLayout, v)
		if err != nil {
			return f, errors.New("invalid from date, expected YYYY-MM-DD")
		}
		f.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(constants.DateLayout, v)
		if err != nil {
			return f, errors.New("invalid to date, expected YYYY-MM-DD")
		}
		f.To = t
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return f, errors.New("to date is before from date")
	}
	if v := q.Get("course_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return f, errors.New("invalid course_id")
		}
		f.CourseID = id
	}
	if v := q.Get("status"); v != "" {
		st, err := database.ParseStatus(v)
		if err != nil {
			return f, err
		}
		f.Status = st
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, errors.New("invalid limit")
		}
		f.Limit = min(n, constants.MaxHandlerPageSize)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errors.New("invalid offset")
		}
		f.Offset = n
	}
	return f, nil
}

// RecordListResponse is a page of records with per-status counts over the
// whole filter.
type RecordListResponse struct {
	Records []RecordResponse `json:"records"`
	Stats   map[string]int   `json:"stats"`
	Total   int              `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// List returns filtered records newest first.
func (h *RecordsHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseRecordFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.records.ListRecords(r.Context(), filter)
	if err != nil {
		respondErr(w, err)
		return
	}
	counts, err := h.records.CountByStatus(r.Context(), filter)
	if err != nil {
		respondErr(w, err)
		return
	}

	resp := RecordListResponse{
		Records: make([]RecordResponse, 0, len(records)),
		Stats:   make(map[string]int, len(database.Statuses)),
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}
	for _, rec := range records {
		resp.Records = append(resp.Records, recordResponse(rec))
	}
	for _, st := range database.Statuses {
		resp.Stats[string(st)] = counts[st]
		resp.Total += counts[st]
	}
	respondJSON(w, http.StatusOK, resp)
}

// Get returns one record.
func (h *RecordsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid record id")
		return
	}
	rec, err := h.records.GetRecord(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, recordResponse(*rec))
}

type overrideRequest struct {
	StudentID *int64 `json:"student_id"`
	Status    string `json:"status"`
}

// Override sets the student and status of a record by hand.
func (h *RecordsHandler) Override(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid record id")
		return
	}
	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	status, err := database.ParseStatus(req.Status)
	if err != nil {
		respondErr(w, err)
		return
	}

	rec, err := h.overrider.Override(r.Context(), id, req.StudentID, status)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, recordResponse(*rec))
}

// Capture returns the stored capture image of a record.
func (h *RecordsHandler) Capture(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid record id")
		return
	}
	rec, err := h.records.GetRecord(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	if rec.CaptureRef == "" {
		respondError(w, http.StatusNotFound, "record has no capture image")
		return
	}
	data, err := h.images.Read(rec.CaptureRef)
	if err != nil {
		respondErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "private, max-age=86400")
	w.Write(data)
}

// ProcessPending runs one reprocessing sweep now.
func (h *RecordsHandler) ProcessPending(w http.ResponseWriter, r *http.Request) {
	res, err := h.processor.RunOnce(r.Context())
	if errors.Is(err, reprocess.ErrStopped) {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// OutboxStatsResponse describes notification delivery.
type OutboxStatsResponse struct {
	States     map[string]int `json:"states"`
	Dispatcher notify.Stats   `json:"dispatcher"`
}

// OutboxStats returns outbox counts per delivery state.
func (h *RecordsHandler) OutboxStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.outbox.OutboxStats(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	resp := OutboxStatsResponse{
		States:     make(map[string]int, 4),
		Dispatcher: h.dispatcher.Stats(),
	}
	for _, st := range []database.OutboxState{database.OutboxQueued, database.OutboxSending, database.OutboxSent, database.OutboxFailed} {
		resp.States[string(st)] = stats[st]
	}
	respondJSON(w, http.StatusOK, resp)
}
