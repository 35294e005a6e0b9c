// Package metrics exposes Prometheus collectors for the camera loop, the
// attendance ledger and the HTTP surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Mark outcomes.
const (
	OutcomeMarked        = "marked"
	OutcomeAlreadyMarked = "already_marked"
	OutcomeError         = "error"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	framesCaptured     prometheus.Counter
	framesEncoded      prometheus.Counter
	recognitionPasses  prometheus.Counter
	recognitionSeconds prometheus.Histogram
	facesTotal         *prometheus.CounterVec
	marksTotal         *prometheus.CounterVec
	cameraRunning      prometheus.Gauge
	streamViewers      prometheus.Gauge
	httpRequests       *prometheus.CounterVec
	httpSeconds        *prometheus.HistogramVec

	collectors []prometheus.Collector
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{}
	m.init()
	if err := reg.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) init() {
	m.framesCaptured = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "camera_frames_captured_total",
		Help: "Frames read from the capture device",
	})
	m.framesEncoded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "camera_frames_encoded_total",
		Help: "Annotated frames encoded for the live stream",
	})
	m.recognitionPasses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "camera_recognition_passes_total",
		Help: "Frames sent through face recognition",
	})
	m.recognitionSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "camera_recognition_duration_seconds",
		Help:    "Time spent detecting and matching faces in one frame",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	})
	m.facesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "camera_faces_total",
		Help: "Faces seen by recognition passes",
	}, []string{"result"}) // matched, unknown
	m.marksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_marks_total",
		Help: "Attendance mark attempts",
	}, []string{"source", "outcome"})
	m.cameraRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "camera_session_running",
		Help: "1 while a camera session is running",
	})
	m.streamViewers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "camera_stream_viewers",
		Help: "Clients attached to the live stream",
	})
	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by route and status",
	}, []string{"method", "route", "status"})
	m.httpSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	m.collectors = []prometheus.Collector{
		m.framesCaptured, m.framesEncoded, m.recognitionPasses, m.recognitionSeconds,
		m.facesTotal, m.marksTotal, m.cameraRunning, m.streamViewers,
		m.httpRequests, m.httpSeconds,
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}

func (m *Metrics) FrameCaptured() {
	if m != nil {
		m.framesCaptured.Inc()
	}
}

func (m *Metrics) FrameEncoded() {
	if m != nil {
		m.framesEncoded.Inc()
	}
}

// RecognitionPass records one recognition pass and how many faces it matched.
func (m *Metrics) RecognitionPass(seconds float64, matched, unknown int) {
	if m == nil {
		return
	}
	m.recognitionPasses.Inc()
	m.recognitionSeconds.Observe(seconds)
	m.facesTotal.WithLabelValues("matched").Add(float64(matched))
	m.facesTotal.WithLabelValues("unknown").Add(float64(unknown))
}

// Mark records a mark attempt with one of the Outcome constants.
func (m *Metrics) Mark(source, outcome string) {
	if m != nil {
		m.marksTotal.WithLabelValues(source, outcome).Inc()
	}
}

// CameraRunning flips the session gauge.
func (m *Metrics) CameraRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.cameraRunning.Set(1)
	} else {
		m.cameraRunning.Set(0)
	}
}

// Viewers adjusts the stream viewer gauge by delta.
func (m *Metrics) Viewers(delta int) {
	if m != nil {
		m.streamViewers.Add(float64(delta))
	}
}

// HTTPRequest records a finished request.
func (m *Metrics) HTTPRequest(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpSeconds.WithLabelValues(method, route).Observe(seconds)
}
