package camera

import (
	"context"
	"log/slog"
	"sync"

	"hostelattend/internal/apperr"
	"hostelattend/internal/capture"
	"hostelattend/internal/embedding"
	"hostelattend/internal/metrics"
	"hostelattend/internal/queue"
)

// GalleryLoader supplies the known embeddings. *embedding.Store implements it.
type GalleryLoader interface {
	LoadAll() (embedding.Gallery, error)
}

// NameSource maps student keys to display names.
type NameSource interface {
	DisplayNames(ctx context.Context) (map[string]string, error)
}

// Deps are the collaborators a Manager needs.
type Deps struct {
	Opener     capture.Opener
	Recognizer Recognizer
	Gallery    GalleryLoader
	Names      NameSource
	Marks      queue.Queue
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	// Defaults fill Options fields left zero by Start callers.
	Defaults Options
}

// Manager owns at most one running session.
type Manager struct {
	deps Deps
	log  *slog.Logger
	base context.Context
	stop context.CancelFunc

	mu       sync.Mutex
	current  *Session
	stopping *Session
}

// NewManager builds a manager. Sessions it starts end when Close is called.
func NewManager(deps Deps) *Manager {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	base, stop := context.WithCancel(context.Background())
	return &Manager{
		deps: deps,
		log:  log.With("component", "camera"),
		base: base,
		stop: stop,
	}
}

// Start opens the device and launches a new session. It fails with a
// conflict while another session is running and leaves that session alone.
// A session that is still stopping is waited for until it has released the
// device or ctx ends.
func (m *Manager) Start(ctx context.Context, opts Options) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.awaitStopped(ctx); err != nil {
		return nil, err
	}
	if m.base.Err() != nil {
		return nil, apperr.New(apperr.KindDevice, "camera manager closed")
	}
	opts = m.merge(opts)

	gallery, err := m.deps.Gallery.LoadAll()
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindIO, "load known faces")
	}
	names := map[string]string{}
	if m.deps.Names != nil {
		if names, err = m.deps.Names.DisplayNames(ctx); err != nil {
			return nil, err
		}
	}

	dev, err := m.deps.Opener.Open(opts.DeviceIndex)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindUnknown {
			err = apperr.Wrap(err, apperr.KindDevice, "Cannot open camera")
		}
		return nil, err
	}

	s := newSession(dev, m.deps.Recognizer, gallery, names, m.deps.Marks, m.deps.Metrics, m.log, opts)
	s.start(m.base)
	m.current = s
	return s, nil
}

func (m *Manager) merge(o Options) Options {
	d := m.deps.Defaults
	if o.Tolerance <= 0 {
		o.Tolerance = d.Tolerance
	}
	if o.FrameSkip < 1 {
		o.FrameSkip = d.FrameSkip
	}
	if o.MarkConfidence <= 0 {
		o.MarkConfidence = d.MarkConfidence
	}
	if o.JPEGQuality == 0 {
		o.JPEGQuality = d.JPEGQuality
	}
	return o
}

// awaitStopped blocks until no session holds the device, failing with a
// conflict when a running session does. It is called with m.mu held and
// returns with it held.
func (m *Manager) awaitStopped(ctx context.Context) error {
	for {
		if m.current != nil && m.current.Running() {
			return apperr.New(apperr.KindConflict, "Camera already running")
		}
		s := m.stopping
		if s == nil && m.current != nil {
			s = m.current
		}
		if s == nil {
			return nil
		}
		select {
		case <-s.Done():
			if m.stopping == s {
				m.stopping = nil
			}
			if m.current == s {
				m.current = nil
			}
			continue
		default:
		}
		m.mu.Unlock()
		select {
		case <-s.Done():
			m.mu.Lock()
		case <-ctx.Done():
			m.mu.Lock()
			return apperr.Wrap(ctx.Err(), apperr.KindConflict, "Camera is still stopping")
		}
	}
}

// Stop ends the current session, if any, and waits for the device to be
// released. Until then Start waits for the stopping session. It reports
// whether a session was stopped.
func (m *Manager) Stop() bool {
	m.mu.Lock()
	s := m.current
	m.current = nil
	if s != nil {
		m.stopping = s
	}
	m.mu.Unlock()
	if s == nil {
		return false
	}
	s.Stop()

	m.mu.Lock()
	if m.stopping == s {
		m.stopping = nil
	}
	m.mu.Unlock()
	return true
}

// Current returns the running session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || !m.current.Running() {
		return nil
	}
	return m.current
}

// Status reports the running session, or an empty stopped status.
func (m *Manager) Status() Status {
	if s := m.Current(); s != nil {
		return s.Status()
	}
	return Status{MarkedStudents: []string{}, Messages: []string{}}
}

// RecordMark routes a ledger outcome to the session that queued it.
// Outcomes for sessions that have since ended are dropped.
func (m *Manager) RecordMark(sessionID string, o Outcome) {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()
	if s == nil || s.ID() != sessionID {
		if o.Err != nil {
			m.log.Warn("auto mark failed", "student", o.StudentKey, "error", o.Err)
		}
		return
	}
	s.RecordMark(o)
}

// Close stops the current session and refuses further starts.
func (m *Manager) Close() {
	m.Stop()
	m.stop()
}
