package bus

import (
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.view(ViewConverted)
		m.published(MsgTypeRequest)
		m.consumed(MsgTypeResponse)
		m.handlerCall("Ping", time.Now())
	})
}

func TestMetrics_Counts(t *testing.T) {
	m := NewMetrics()
	m.view(ViewConverted)
	m.view(ViewConverted)
	m.published(MsgTypeResponse)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ViewTotal.WithLabelValues(ViewConverted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishedTotal.WithLabelValues(MsgTypeResponse)))

	n, err := testutil.GatherAndCount(m.Registry, "viewbus_view_total")
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSetLogger(t *testing.T) {
	orig := Slog
	t.Cleanup(func() { Slog = orig })

	custom := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	SetLogger(custom)
	assert.Same(t, custom, Slog)

	SetLogger(nil)
	assert.False(t, Slog.Enabled(t.Context(), slog.LevelError))
	assert.NotPanics(t, func() {
		Slog.With("k", "v").WithGroup("g").Error("dropped")
	})
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}
