// Package facematch verifies enrollment photos and matches captured faces
// against the template store.
package facematch

import (
	"context"
	"errors"
)

var (
	// ErrExtraction is returned when the face extractor fails.
	ErrExtraction = errors.New("face extraction failed")

	ErrNoFaceFound    = errors.New("no face detected in the photo")
	ErrMultipleFaces  = errors.New("multiple faces detected in the photo")
	ErrFaceTooSmall   = errors.New("face is too small in the photo")
	ErrUnreadableFile = errors.New("photo could not be decoded")
)

// Face is one detected face with its embedding.
type Face struct {
	Box       BBox      `json:"bbox"`
	Embedding []float32 `json:"-"`
	DetScore  float64   `json:"det_score"`
}

// Extractor detects faces in an encoded image and embeds each of them.
type Extractor interface {
	DetectFaces(ctx context.Context, image []byte) ([]Face, error)
}

// Candidate is the best template match for one detected face.
type Candidate struct {
	StudentID  int64   `json:"student_id"`
	Confidence float64 `json:"confidence"`
	Box        BBox    `json:"bbox"`
}

// Verification is the result of checking an enrollment photo.
type Verification struct {
	Valid     bool   `json:"is_valid"`
	FaceCount int    `json:"face_count"`
	Message   string `json:"message"`
	Reason    error  `json:"-"`
}
