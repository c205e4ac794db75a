// Package handlers implements the HTTP API.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-attendance/internal/capture"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusForError maps domain errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, database.ErrAlreadyMarked),
		errors.Is(err, capture.ErrSessionActive):
		return http.StatusConflict
	case errors.Is(err, database.ErrInvalidStatus),
		errors.Is(err, database.ErrDimensionMismatch),
		errors.Is(err, facematch.ErrNoFaceFound),
		errors.Is(err, facematch.ErrMultipleFaces),
		errors.Is(err, facematch.ErrFaceTooSmall),
		errors.Is(err, facematch.ErrUnreadableFile):
		return http.StatusUnprocessableEntity
	case errors.Is(err, capture.ErrSessionIdle),
		errors.Is(err, capture.ErrNoFrame):
		return http.StatusConflict
	case errors.Is(err, capture.ErrCameraUnavailable),
		errors.Is(err, facematch.ErrExtraction):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondErr writes err with the status derived from its kind.
func respondErr(w http.ResponseWriter, err error) {
	respondError(w, statusForError(err), err.Error())
}

// parseID reads a positive integer URL parameter.
func parseID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

// readUpload returns the bytes of a multipart file field.
func readUpload(r *http.Request, field string) ([]byte, error) {
	file, _, err := r.FormFile(field)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, constants.MaxUploadSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > constants.MaxUploadSize {
		return nil, errors.New("file too large")
	}
	return data, nil
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
