// Package capture owns the camera and the live capture session.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// State of a capture session
type State int

const (
	Idle State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

// Snapshot is a copy of the session state.
type Snapshot struct {
	State    State
	CourseID int64
	Frame    *Frame
	Boxes    []facematch.BBox
	Ended    bool
}

// Session is the single owner of the camera. Start and Stop are serialized;
// readers see a consistent view through Snapshot.
type Session struct {
	source       FrameSource
	detector     facematch.Extractor
	interval     time.Duration
	rejectRebind bool
	events       *EventBroadcaster

	lifecycle sync.Mutex

	mu       sync.RWMutex
	state    State
	courseID int64
	frame    *Frame
	boxes    []facematch.BBox
	ended    bool
	cam      Camera
	cancel   context.CancelFunc
	done     chan struct{}
}

type Option func(*Session)

// WithDetector enables the face box overlay using d.
func WithDetector(d facematch.Extractor) Option {
	return func(s *Session) { s.detector = d }
}

// WithInterval sets the pause between frame reads.
func WithInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithRejectRebind makes Start fail with ErrSessionActive when the session is
// already active for another course.
func WithRejectRebind(reject bool) Option {
	return func(s *Session) { s.rejectRebind = reject }
}

func NewSession(source FrameSource, opts ...Option) *Session {
	s := &Session{
		source:   source,
		interval: 200 * time.Millisecond,
		events:   &EventBroadcaster{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events returns the broadcaster of session events.
func (s *Session) Events() *EventBroadcaster {
	return s.events
}

// Start opens the camera and begins reading frames for courseID. Calling
// Start on an active session rebinds it to courseID without reopening the
// camera.
func (s *Session) Start(ctx context.Context, courseID int64) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.state == Active {
		prev := s.courseID
		if prev != courseID && s.rejectRebind {
			s.mu.Unlock()
			return fmt.Errorf("%w for course %d", ErrSessionActive, prev)
		}
		s.courseID = courseID
		s.mu.Unlock()
		if prev != courseID {
			log.Printf("Warning: capture session rebound from course %d to course %d", prev, courseID)
			s.events.SendEvent(Event{Type: EventRebound, Data: map[string]int64{"course_id": courseID, "previous_course_id": prev}})
		}
		return nil
	}
	s.mu.Unlock()

	cam, err := s.source.Open(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}

	// The loop outlives the request that started it.
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.state = Active
	s.courseID = courseID
	s.frame = nil
	s.boxes = nil
	s.ended = false
	s.cam = cam
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go s.loop(loopCtx, cam, done)

	log.Printf("Capture session started for course %d", courseID)
	s.events.SendEvent(Event{Type: EventStarted, Data: map[string]int64{"course_id": courseID}})
	return nil
}

// Stop ends the session. It waits for an in-flight frame read to return,
// then closes the camera. Stopping an idle session is a no-op.
func (s *Session) Stop() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.state == Idle {
		s.mu.Unlock()
		return nil
	}
	cancel, done, cam, courseID := s.cancel, s.done, s.cam, s.courseID
	s.state = Idle
	s.courseID = 0
	s.frame = nil
	s.boxes = nil
	s.ended = false
	s.cam = nil
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	cancel()
	<-done

	err := cam.Close()
	log.Printf("Capture session stopped for course %d", courseID)
	s.events.SendEvent(Event{Type: EventStopped, Data: map[string]int64{"course_id": courseID}})
	if err != nil {
		return fmt.Errorf("close camera: %w", err)
	}
	return nil
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		State:    s.state,
		CourseID: s.courseID,
		Boxes:    append([]facematch.BBox(nil), s.boxes...),
		Ended:    s.ended,
	}
	if s.frame != nil {
		f := s.frame.clone()
		snap.Frame = &f
	}
	return snap
}

// CurrentFrame returns the latest frame and the course it belongs to.
func (s *Session) CurrentFrame() (Frame, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != Active {
		return Frame{}, 0, ErrSessionIdle
	}
	if s.frame == nil {
		return Frame{}, 0, ErrNoFrame
	}
	return s.frame.clone(), s.courseID, nil
}

// current reports whether done still belongs to the running loop.
func (s *Session) current(done chan struct{}) bool {
	return s.state == Active && s.done == done
}

func (s *Session) publish(done chan struct{}, frame Frame, boxes []facematch.BBox, updateBoxes bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current(done) {
		return
	}
	s.frame = &frame
	if updateBoxes {
		s.boxes = boxes
	}
}

func (s *Session) markEnded(done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current(done) {
		s.ended = true
	}
}

func (s *Session) loop(ctx context.Context, cam Camera, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	n := 0
	for {
		if ctx.Err() != nil {
			return
		}

		frame, err := cam.Read(ctx)
		switch {
		case err == nil:
			boxes, ok := s.detect(ctx, frame, n)
			n++
			s.publish(done, frame, boxes, ok)
			if ok {
				s.events.SendEvent(Event{Type: EventFaces, Data: map[string]any{
					"count": len(boxes),
					"boxes": relativeBoxes(boxes, frame.Width, frame.Height),
				}})
			}
		case ctx.Err() != nil:
			return
		case errors.Is(err, io.EOF):
			log.Printf("Camera stream ended")
			s.markEnded(done)
			s.events.SendEvent(Event{Type: EventEnded, Message: "camera stream ended"})
			return
		default:
			log.Printf("Warning: failed to read frame: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Session) detect(ctx context.Context, frame Frame, n int) ([]facematch.BBox, bool) {
	if s.detector == nil || n%constants.OverlayEveryFrames != 0 {
		return nil, false
	}
	faces, err := s.detector.DetectFaces(ctx, frame.Data)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("Warning: overlay detection failed: %v", err)
		}
		return nil, false
	}
	boxes := make([]facematch.BBox, len(faces))
	for i, f := range faces {
		boxes[i] = f.Box
	}
	return boxes, true
}

func relativeBoxes(boxes []facematch.BBox, width, height int) []facematch.BBox {
	out := make([]facematch.BBox, len(boxes))
	for i, b := range boxes {
		out[i] = b.Relative(width, height)
	}
	return out
}
