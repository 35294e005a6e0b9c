package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.FrameCaptured()
	m.FrameCaptured()
	m.FrameEncoded()
	m.RecognitionPass(0.02, 2, 1)
	m.Mark("face_recognition", OutcomeMarked)
	m.Mark("face_recognition", OutcomeAlreadyMarked)
	m.CameraRunning(true)

	assert.InDelta(t, 2, testutil.ToFloat64(m.framesCaptured), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.framesEncoded), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.facesTotal.WithLabelValues("matched")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.marksTotal.WithLabelValues("face_recognition", OutcomeMarked)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.cameraRunning), 0)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMetricsDoubleRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.FrameCaptured()
		m.FrameEncoded()
		m.RecognitionPass(1, 1, 1)
		m.Mark("manual", OutcomeError)
		m.CameraRunning(false)
		m.Viewers(1)
		m.HTTPRequest("GET", "/", "200", 0.1)
	})
}
