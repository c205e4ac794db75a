package facematch

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/templates"
)

const (
	msgNoFace       = "No face detected in the photo"
	msgMultiple     = "Multiple faces detected in the photo"
	msgTooSmall     = "Face is too small in the photo"
	msgSuitable     = "Photo is suitable for face recognition"
	msgUnreadable   = "Photo could not be decoded"
	msgExtractorErr = "Error processing photo"
)

// Matcher scores detected faces against templates.
type Matcher struct {
	extractor    Extractor
	threshold    float64
	minFaceRatio float64
}

type Option func(*Matcher)

// WithThreshold sets the confidence a match must strictly exceed.
func WithThreshold(t float64) Option {
	return func(m *Matcher) {
		if t > 0 && t < 1 {
			m.threshold = t
		}
	}
}

// WithMinFaceHeightRatio sets the smallest face height, as a fraction of the
// photo height, accepted by Verify.
func WithMinFaceHeightRatio(r float64) Option {
	return func(m *Matcher) {
		if r > 0 && r < 1 {
			m.minFaceRatio = r
		}
	}
}

func NewMatcher(extractor Extractor, opts ...Option) *Matcher {
	m := &Matcher{
		extractor:    extractor,
		threshold:    constants.DefaultMatchThreshold,
		minFaceRatio: constants.DefaultMinFaceHeightRatio,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// Confidence converts the cosine distance of two vectors into a score in
// [0, 1] where 1 means identical direction. Orthogonal or opposing vectors
// score 0, so the default floor of 0.6 needs a cosine distance below 0.4.
func Confidence(a, b []float32) float64 {
	d := database.CosineDistance(a, b)
	return 1 - max(0, min(1, d))
}

// Detect runs the extractor. Failures are wrapped in ErrExtraction.
func (m *Matcher) Detect(ctx context.Context, img []byte) ([]Face, error) {
	faces, err := m.extractor.DetectFaces(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	return faces, nil
}

// Verify checks that an enrollment photo has exactly one face that is large
// enough. The detected faces are returned so callers can encode without a
// second extractor call. An error is returned only when the photo cannot be
// decoded or the extractor fails.
func (m *Matcher) Verify(ctx context.Context, img []byte) (Verification, []Face, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return Verification{Message: msgUnreadable, Reason: ErrUnreadableFile}, nil, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}

	faces, err := m.Detect(ctx, img)
	if err != nil {
		return Verification{Message: msgExtractorErr, Reason: err}, nil, err
	}

	v := Verification{FaceCount: len(faces)}
	switch {
	case len(faces) == 0:
		v.Message, v.Reason = msgNoFace, ErrNoFaceFound
	case len(faces) > 1:
		v.Message, v.Reason = msgMultiple, ErrMultipleFaces
	case cfg.Height <= 0 || faces[0].Box.Height()/float64(cfg.Height) < m.minFaceRatio:
		v.Message, v.Reason = msgTooSmall, ErrFaceTooSmall
	default:
		v.Valid = true
		v.Message = msgSuitable
	}
	return v, faces, nil
}

// MatchAll detects every face in img and returns the best template match of
// each face whose confidence exceeds the threshold. Faces without such a
// match are omitted.
func (m *Matcher) MatchAll(ctx context.Context, img []byte, snap *templates.Snapshot) ([]Candidate, error) {
	faces, err := m.Detect(ctx, img)
	if err != nil {
		return nil, err
	}
	return m.MatchFaces(faces, snap), nil
}

// MatchFaces is MatchAll for faces that were already extracted.
func (m *Matcher) MatchFaces(faces []Face, snap *templates.Snapshot) []Candidate {
	var out []Candidate
	for _, f := range faces {
		c, ok := m.MatchEmbedding(f.Embedding, snap)
		if !ok {
			continue
		}
		c.Box = f.Box
		out = append(out, c)
	}
	return out
}

// MatchEmbedding returns the template with the highest confidence for query.
// Ties keep the template enrolled first.
func (m *Matcher) MatchEmbedding(query []float32, snap *templates.Snapshot) (Candidate, bool) {
	unit, ok := database.Normalize(query)
	if !ok {
		return Candidate{}, false
	}

	var best Candidate
	found := false
	for _, e := range snap.Candidates(unit) {
		conf := Confidence(unit, e.Vector)
		if conf <= m.threshold {
			continue
		}
		if !found || conf > best.Confidence {
			best = Candidate{StudentID: e.StudentID, Confidence: conf}
			found = true
		}
	}
	return best, found
}

// MatchEmbeddings matches precomputed embeddings. Queries without a match
// above the threshold are dropped.
func (m *Matcher) MatchEmbeddings(queries [][]float32, snap *templates.Snapshot) []Candidate {
	out := make([]Candidate, 0, len(queries))
	for _, q := range queries {
		if c, ok := m.MatchEmbedding(q, snap); ok {
			out = append(out, c)
		}
	}
	return out
}
