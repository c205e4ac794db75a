package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrCameraUnavailable is returned when the frame source cannot be opened.
	ErrCameraUnavailable = errors.New("camera unavailable")
	// ErrSessionIdle is returned when an operation needs an active session.
	ErrSessionIdle = errors.New("capture session is not active")
	// ErrSessionActive is returned by Start when rebinding is disabled.
	ErrSessionActive = errors.New("capture session is already active")
	// ErrNoFrame is returned when the session has not read a frame yet.
	ErrNoFrame = errors.New("no frame captured yet")
)

// Frame is one encoded camera image.
type Frame struct {
	Data   []byte
	Width  int
	Height int
	At     time.Time
}

func (f Frame) clone() Frame {
	f.Data = bytes.Clone(f.Data)
	return f
}

// FrameSource opens cameras.
type FrameSource interface {
	Open(ctx context.Context) (Camera, error)
}

// Camera yields frames until closed. Read returns io.EOF when the stream has
// ended and must return promptly once ctx is cancelled.
type Camera interface {
	Read(ctx context.Context) (Frame, error)
	Close() error
}

func decodeFrame(data []byte, at time.Time) (Frame, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	return Frame{Data: data, Width: cfg.Width, Height: cfg.Height, At: at}, nil
}

// HTTPSource reads frames from a camera's JPEG snapshot endpoint.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

func NewHTTPSource(url string) *HTTPSource {
	return &HTTPSource{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

// Open fetches one frame to check that the camera answers.
func (s *HTTPSource) Open(ctx context.Context) (Camera, error) {
	cam := &httpCamera{url: s.URL, client: s.Client}
	if _, err := cam.Read(ctx); err != nil {
		return nil, err
	}
	return cam, nil
}

type httpCamera struct {
	url    string
	client *http.Client
}

func (c *httpCamera) Read(ctx context.Context) (Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Frame{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Frame{}, fmt.Errorf("camera error (status %d)", resp.StatusCode)
	}
	return decodeFrame(body, time.Now())
}

func (c *httpCamera) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// DirSource replays the images of a directory in name order. It stands in
// for a camera in tests and demos.
type DirSource struct {
	Dir  string
	Loop bool
}

func (s *DirSource) Open(_ context.Context) (Camera, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".jpg" || ext == ".jpeg" || ext == ".png") {
			files = append(files, filepath.Join(s.Dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no images in %s", s.Dir)
	}
	sort.Strings(files)
	return &dirCamera{files: files, loop: s.Loop}, nil
}

type dirCamera struct {
	mu     sync.Mutex
	files  []string
	next   int
	loop   bool
	closed bool
}

func (c *dirCamera) Read(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Frame{}, errors.New("camera closed")
	}
	if c.next >= len(c.files) {
		if !c.loop {
			return Frame{}, io.EOF
		}
		c.next = 0
	}
	path := c.files[c.next]
	c.next++

	data, err := os.ReadFile(path)
	if err != nil {
		return Frame{}, err
	}
	return decodeFrame(data, time.Now())
}

func (c *dirCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
