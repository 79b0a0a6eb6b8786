package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.AddBytes(1024)
	m.AddBytes(512)
	m.AddBytes(-10)
	m.Retry("transient")
	m.Retry("transient")
	m.Transition("completed")

	assert.Equal(t, 1536.0, testutil.ToFloat64(m.bytesDownloaded))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.retries.WithLabelValues("transient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("completed")))
}

func TestGauges(t *testing.T) {
	m := New()

	m.ChunkStarted()
	m.ChunkStarted()
	m.ChunkFinished()
	m.SetActive(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.chunkWorkers))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.activeDownloads))
}

func TestObserveSnapshot(t *testing.T) {
	m := New()

	m.ObserveSnapshot(time.Now(), nil)
	m.ObserveSnapshot(time.Now(), errors.New("disk full"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.snapshotFailures))
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var samples uint64
	for _, family := range families {
		if family.GetName() == "keeper_snapshot_duration_seconds" {
			samples = family.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	assert.Equal(t, uint64(2), samples)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.AddBytes(10)
		m.Retry("transient")
		m.Transition("active")
		m.SetActive(1)
		m.ChunkStarted()
		m.ChunkFinished()
		m.ObserveSnapshot(time.Now(), nil)
	})
	assert.Nil(t, m.Registry())
}

func TestHandler(t *testing.T) {
	m := New()
	m.AddBytes(42)

	server := httptest.NewServer(m.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "keeper_bytes_downloaded_total 42"))
}
