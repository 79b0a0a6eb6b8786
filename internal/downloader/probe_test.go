package downloader

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanq16/keeper/internal/utils"
)

func TestProbeRangeSupport(t *testing.T) {
	data := testData(4096)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bytes=0-0", r.Header.Get("Range"))
		w.Header().Set("ETag", `"v1"`)
		http.ServeContent(w, r, "blob.bin", time.Time{}, bytes.NewReader(data))
	}))
	defer server.Close()

	info, err := Probe(context.Background(), utils.NewKeeperHTTPClient(utils.HTTPClientConfig{}), server.URL)

	require.NoError(t, err)
	assert.Equal(t, int64(4096), info.Size)
	assert.True(t, info.RangeSupported)
	assert.Equal(t, `"v1"`, info.ETag)
}

func TestProbeIgnoredRange(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(2048))
		w.WriteHeader(http.StatusOK)
		w.Write(testData(2048))
	}))
	defer server.Close()

	info, err := Probe(context.Background(), server.Client(), server.URL)

	require.NoError(t, err)
	assert.Equal(t, int64(2048), info.Size)
	assert.False(t, info.RangeSupported)
}

func TestProbeEmptyResource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "empty.bin", time.Time{}, bytes.NewReader(nil))
	}))
	defer server.Close()

	info, err := Probe(context.Background(), server.Client(), server.URL)

	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size)
	assert.True(t, info.RangeSupported)
}

func TestProbeErrors(t *testing.T) {
	testCases := map[string]struct {
		status   int
		expected error
	}{
		"not found":   {status: http.StatusNotFound, expected: utils.ErrServerRejected},
		"forbidden":   {status: http.StatusForbidden, expected: utils.ErrServerRejected},
		"unavailable": {status: http.StatusServiceUnavailable, expected: utils.ErrNetworkTransient},
	}

	for scenario, tc := range testCases {
		t.Run(scenario, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer server.Close()

			_, err := Probe(context.Background(), server.Client(), server.URL)
			assert.ErrorIs(t, err, tc.expected)
		})
	}
}

func TestParseContentRange(t *testing.T) {
	testCases := map[string]struct {
		header string
		start  int64
		end    int64
		total  int64
	}{
		"first byte":    {header: "bytes 0-0/1000", start: 0, end: 0, total: 1000},
		"middle":        {header: "bytes 100-199/1000", start: 100, end: 199, total: 1000},
		"unknown total": {header: "bytes 0-99/*", start: 0, end: 99, total: -1},
	}

	for scenario, tc := range testCases {
		t.Run(scenario, func(t *testing.T) {
			start, end, total, err := ParseContentRange(tc.header)
			require.NoError(t, err)
			assert.Equal(t, tc.start, start)
			assert.Equal(t, tc.end, end)
			assert.Equal(t, tc.total, total)
		})
	}

	for _, bad := range []string{"", "bytes 0-99", "bytes x-1/2", "bytes */0"} {
		_, _, _, err := ParseContentRange(bad)
		assert.Error(t, err, bad)
	}
}

func TestStrongETag(t *testing.T) {
	assert.Equal(t, `"abc"`, StrongETag(`"abc"`))
	assert.Empty(t, StrongETag(`W/"abc"`))
	assert.Empty(t, StrongETag(""))
}

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + i/251)
	}
	return data
}
