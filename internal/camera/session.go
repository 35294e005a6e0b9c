// Package camera runs the live recognition loop: capture, recognise, queue
// attendance marks, annotate and stream.
package camera

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"hostelattend/internal/annotate"
	"hostelattend/internal/attendance"
	"hostelattend/internal/capture"
	"hostelattend/internal/embedding"
	"hostelattend/internal/face"
	"hostelattend/internal/metrics"
	"hostelattend/internal/queue"
)

// Defaults applied to zero-valued Options fields.
const (
	DefaultFrameSkip      = 3
	DefaultMarkConfidence = 0.6
	DefaultJPEGQuality    = 80
	maxMessages           = 20
)

// State of a session.
type State int

const (
	Idle State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return "idle"
	}
}

// Recognizer identifies faces in a frame. *face.Matcher implements it.
type Recognizer interface {
	Recognize(ctx context.Context, frame image.Image, gallery embedding.Gallery, tolerance float64) ([]face.Result, error)
}

// Options configure one session.
type Options struct {
	DeviceIndex    int
	DepartmentID   *int64
	Tolerance      float64
	FrameSkip      int
	MarkConfidence float64
	JPEGQuality    int
}

func (o Options) withDefaults() Options {
	if o.Tolerance <= 0 {
		o.Tolerance = face.DefaultTolerance
	}
	if o.FrameSkip < 1 {
		o.FrameSkip = DefaultFrameSkip
	}
	if o.MarkConfidence <= 0 {
		o.MarkConfidence = DefaultMarkConfidence
	}
	if o.JPEGQuality < 1 || o.JPEGQuality > 100 {
		o.JPEGQuality = DefaultJPEGQuality
	}
	return o
}

// Outcome is the ledger's answer to a queued mark request.
type Outcome struct {
	StudentKey    string
	StudentName   string
	AlreadyMarked bool
	Err           error
	At            time.Time
}

// Status is a consistent snapshot of a session.
type Status struct {
	Running           bool       `json:"running"`
	SessionID         string     `json:"session_id,omitempty"`
	MarkedCount       int        `json:"marked_count"`
	MarkedStudents    []string   `json:"marked_students"`
	Messages          []string   `json:"messages"`
	FramesCaptured    int64      `json:"frames_captured"`
	FramesEncoded     int64      `json:"frames_encoded"`
	RecognitionPasses int64      `json:"recognition_passes"`
	DepartmentID      *int64     `json:"department_id,omitempty"`
	Tolerance         float64    `json:"tolerance,omitempty"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	Viewers           int        `json:"viewers"`
}

// Session owns an open capture device and the loop reading from it.
type Session struct {
	id      string
	opts    Options
	dev     capture.Device
	rec     Recognizer
	gallery embedding.Gallery
	names   map[string]string
	marks   queue.Queue
	metrics *metrics.Metrics
	log     *slog.Logger
	frames  *broadcaster
	now     func() time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	state     State
	marked    map[string]struct{}
	messages  []string
	last      []face.Result
	captured  int64
	encoded   int64
	passes    int64
	startedAt time.Time
}

func newSession(dev capture.Device, rec Recognizer, gallery embedding.Gallery, names map[string]string,
	marks queue.Queue, m *metrics.Metrics, log *slog.Logger, opts Options) *Session {
	id := uuid.NewString()
	return &Session{
		id:      id,
		opts:    opts.withDefaults(),
		dev:     dev,
		rec:     rec,
		gallery: gallery,
		names:   names,
		marks:   marks,
		metrics: m,
		log:     log.With("session", id[:8]),
		frames:  newBroadcaster(),
		now:     time.Now,
		done:    make(chan struct{}),
		marked:  make(map[string]struct{}),
	}
}

// ID identifies the session in queued mark requests.
func (s *Session) ID() string { return s.id }

// Done is closed once the loop has exited and the device is released.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Running reports whether the loop is still producing frames.
func (s *Session) Running() bool { return s.State() == Running }

// start launches the loop. The loop context is independent of the caller's
// request.
func (s *Session) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.mu.Lock()
	s.state = Running
	s.startedAt = s.now()
	s.mu.Unlock()
	s.metrics.CameraRunning(true)
	s.log.Info("camera session started", "device", s.opts.DeviceIndex, "tolerance", s.opts.Tolerance,
		"frame_skip", s.opts.FrameSkip, "known_faces", len(s.gallery))
	go s.run(ctx)
}

// Stop ends the loop and waits for the device to be released. It is
// idempotent.
func (s *Session) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// Subscribe attaches a stream viewer. The channel closes when the session
// ends or the returned func is called.
func (s *Session) Subscribe() (<-chan []byte, func()) {
	ch, detach := s.frames.subscribe()
	s.metrics.Viewers(1)
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			detach()
			s.metrics.Viewers(-1)
		})
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.finish()

	for i := int64(1); ; i++ {
		img, err := s.dev.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn("capture read failed, stopping session", "frame", i, "error", err)
			}
			return
		}
		s.metrics.FrameCaptured()
		s.mu.Lock()
		s.captured++
		s.mu.Unlock()

		if i%int64(s.opts.FrameSkip) == 0 {
			s.recognize(ctx, img)
		}
		if ctx.Err() != nil {
			return
		}
		s.emit(img)
	}
}

func (s *Session) recognize(ctx context.Context, img image.Image) {
	began := time.Now()
	results, err := s.rec.Recognize(ctx, img, s.gallery, s.opts.Tolerance)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warn("recognition failed", "error", err)
		}
		return
	}
	matched := 0
	for _, r := range results {
		if r.Matched {
			matched++
		}
	}
	s.metrics.RecognitionPass(time.Since(began).Seconds(), matched, len(results)-matched)

	var toMark []face.Result
	s.mu.Lock()
	s.passes++
	s.last = results
	for _, r := range results {
		if !r.Matched || r.Confidence <= s.opts.MarkConfidence {
			continue
		}
		if _, ok := s.marked[r.Key]; ok {
			continue
		}
		s.marked[r.Key] = struct{}{}
		toMark = append(toMark, r)
	}
	s.mu.Unlock()

	for _, r := range toMark {
		s.enqueue(ctx, r)
	}
}

func (s *Session) enqueue(ctx context.Context, r face.Result) {
	msg, err := queue.NewMessage(queue.TypeMark, attendance.MarkRequest{
		SessionID:    s.id,
		StudentKey:   r.Key,
		DepartmentID: s.opts.DepartmentID,
		Confidence:   r.Confidence,
		Source:       attendance.SourceFace,
		At:           s.now(),
	})
	if err == nil {
		err = s.marks.Publish(ctx, msg)
	}
	if err != nil {
		s.log.Warn("mark request dropped", "student", r.Key, "error", err)
	}
}

func (s *Session) emit(img image.Image) {
	s.mu.Lock()
	results := s.last
	s.mu.Unlock()

	frame := annotate.Copy(img)
	annotate.Draw(frame, results, s.names)
	buf, err := annotate.EncodeJPEG(frame, s.opts.JPEGQuality)
	if err != nil {
		s.log.Warn("frame encode failed", "error", err)
		return
	}
	s.frames.publish(buf)
	s.metrics.FrameEncoded()
	s.mu.Lock()
	s.encoded++
	s.mu.Unlock()
}

func (s *Session) finish() {
	if err := s.dev.Close(); err != nil {
		s.log.Warn("release capture device", "error", err)
	}
	s.frames.close()
	s.mu.Lock()
	s.state = Stopped
	captured, marked := s.captured, len(s.marked)
	s.mu.Unlock()
	s.metrics.CameraRunning(false)
	s.log.Info("camera session stopped", "frames", captured, "marked", marked)
}

// RecordMark folds a ledger outcome into the status messages. Failures are
// logged and otherwise dropped.
func (s *Session) RecordMark(o Outcome) {
	if o.Err != nil {
		s.log.Warn("auto mark failed", "student", o.StudentKey, "error", o.Err)
		return
	}
	if o.AlreadyMarked {
		return
	}
	name := o.StudentName
	if name == "" {
		name = o.StudentKey
	}
	at := o.At
	if at.IsZero() {
		at = s.now()
	}
	msg := fmt.Sprintf("Marked: %s (%s)", name, at.Format("15:04:05"))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append([]string{msg}, s.messages...)
	if len(s.messages) > maxMessages {
		s.messages = s.messages[:maxMessages]
	}
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	viewers := s.frames.viewers()
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.marked))
	for k := range s.marked {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	msgs := append([]string{}, s.messages...)
	started := s.startedAt
	return Status{
		Running:           s.state == Running,
		SessionID:         s.id,
		MarkedCount:       len(keys),
		MarkedStudents:    keys,
		Messages:          msgs,
		FramesCaptured:    s.captured,
		FramesEncoded:     s.encoded,
		RecognitionPasses: s.passes,
		DepartmentID:      s.opts.DepartmentID,
		Tolerance:         s.opts.Tolerance,
		StartedAt:         &started,
		Viewers:           viewers,
	}
}
