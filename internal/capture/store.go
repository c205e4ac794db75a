package capture

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
)

const (
	capturesDir = "captures"
	studentsDir = "uploads/students"
)

// FileStore keeps capture images and enrollment photos under one root.
// References handed out are slash-separated paths relative to the root.
type FileStore struct {
	root string
}

// NewFileStore creates the directory layout under root.
func NewFileStore(root string) (*FileStore, error) {
	for _, dir := range []string{capturesDir, studentsDir} {
		if err := os.MkdirAll(filepath.Join(root, filepath.FromSlash(dir)), 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) Root() string {
	return s.root
}

// SaveCapture writes a capture image and returns its reference,
// captures/<date>/capture_<course>_<time>_<id>.jpg.
func (s *FileStore) SaveCapture(courseIdentifier string, at time.Time, data []byte) (string, error) {
	name := fmt.Sprintf("capture_%s_%s_%s.jpg", sanitize(courseIdentifier), at.Format("15-04-05"), uuid.NewString()[:8])
	ref := path.Join(capturesDir, at.Format(constants.DateLayout), name)
	if err := s.write(ref, data); err != nil {
		return "", err
	}
	return ref, nil
}

// SaveStudentPhoto writes an enrollment photo and returns its reference.
func (s *FileStore) SaveStudentPhoto(externalID string, data []byte) (string, error) {
	ref := path.Join(studentsDir, fmt.Sprintf("%s_%s.jpg", sanitize(externalID), uuid.NewString()[:8]))
	if err := s.write(ref, data); err != nil {
		return "", err
	}
	return ref, nil
}

func (s *FileStore) write(ref string, data []byte) error {
	p, err := s.Path(ref)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", ref, err)
	}
	return nil
}

// Path resolves a reference to a filesystem path inside the root.
func (s *FileStore) Path(ref string) (string, error) {
	clean := path.Clean("/" + ref)[1:]
	if ref == "" || clean == "" || clean != strings.TrimPrefix(ref, "./") {
		return "", fmt.Errorf("invalid image reference %q", ref)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Read returns the bytes of a stored image.
func (s *FileStore) Read(ref string) ([]byte, error) {
	p, err := s.Path(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("image %s: %w", ref, database.ErrNotFound)
	}
	return data, err
}

// Remove deletes a stored image. Missing files are ignored.
func (s *FileStore) Remove(ref string) error {
	p, err := s.Path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// CleanupCaptures removes capture directories of days before cutoff's day and
// returns the number of files deleted. Directories not named by date are kept.
func (s *FileStore) CleanupCaptures(cutoff time.Time) (int, error) {
	base := filepath.Join(s.root, capturesDir)
	entries, err := os.ReadDir(base)
	if err != nil {
		return 0, fmt.Errorf("list captures: %w", err)
	}

	limit := database.Day(cutoff)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		day, err := time.Parse(constants.DateLayout, e.Name())
		if err != nil || !day.Before(limit) {
			continue
		}
		dir := filepath.Join(base, e.Name())
		files, _ := os.ReadDir(dir)
		if err := os.RemoveAll(dir); err != nil {
			return removed, fmt.Errorf("remove %s: %w", dir, err)
		}
		removed += len(files)
		log.Printf("Removed %d capture files from %s", len(files), e.Name())
	}
	return removed, nil
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}
