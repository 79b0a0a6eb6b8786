package utils

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenewOutputPath(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "archive.tar")
	require.NoError(t, os.WriteFile(original, nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "archive-(1).tar"), nil, 0644))

	assert.Equal(t, filepath.Join(dir, "archive-(2).tar"), RenewOutputPath(original))
}

func TestInferFileName(t *testing.T) {
	testCases := map[string]struct {
		url      string
		expected string
	}{
		"plain file":     {url: "https://example.com/files/ubuntu.iso", expected: "ubuntu.iso"},
		"escaped":        {url: "https://example.com/my%20report.pdf", expected: "my report.pdf"},
		"query ignored":  {url: "https://example.com/a.bin?token=x", expected: "a.bin"},
		"no path":        {url: "https://example.com", expected: "download"},
		"trailing slash": {url: "https://example.com/dir/", expected: "dir"},
		"odd characters": {url: "https://example.com/r%C3%A9sum%C3%A9.txt", expected: "r_sum_.txt"},
	}

	for scenario, tc := range testCases {
		t.Run(scenario, func(t *testing.T) {
			assert.Equal(t, tc.expected, InferFileName(tc.url))
		})
	}
}

func TestParseHeaderArgs(t *testing.T) {
	headers := ParseHeaderArgs([]string{"Authorization: Bearer x", "X-Empty:", "broken"})

	assert.Equal(t, map[string]string{"Authorization": "Bearer x", "X-Empty": ""}, headers)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.50 KB", FormatBytes(1536))
	assert.Equal(t, "10.00 MB", FormatBytes(10<<20))
	assert.Equal(t, "0 B/s", FormatSpeed(0))
	assert.Equal(t, "2.00 MB/s", FormatSpeed(2<<20))
}

func TestParseBytes(t *testing.T) {
	testCases := map[string]int64{
		"4096":   4096,
		"1MiB":   1 << 20,
		"1MB":    1 << 20,
		"512 KB": 512 << 10,
		"2.5GB":  5 << 29,
		"10B":    10,
	}
	for input, expected := range testCases {
		got, err := ParseBytes(input)
		require.NoError(t, err, input)
		assert.Equal(t, expected, got, input)
	}
	for _, bad := range []string{"", "lots", "-1MB"} {
		_, err := ParseBytes(bad)
		assert.Error(t, err, bad)
	}
}

func TestPartPathAndRemovePart(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "movie.mkv")
	part := PartPath(dest)
	assert.Equal(t, filepath.Join(dir, TempDirName, "movie.mkv.part"), part)

	require.NoError(t, os.MkdirAll(filepath.Dir(part), 0755))
	require.NoError(t, os.WriteFile(part, []byte("partial"), 0644))
	require.NoError(t, RemovePart(dest))

	_, err := os.Stat(filepath.Dir(part))
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, RemovePart(dest), "removing twice is fine")
}

func TestCheckWritableDir(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, CheckWritableDir(dir))

	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	assert.Error(t, CheckWritableDir(file))
	assert.Error(t, CheckWritableDir(filepath.Join(dir, "missing")))
}

func TestStatusErrorClassification(t *testing.T) {
	testCases := map[string]struct {
		code     int
		expected error
	}{
		"not found":         {code: http.StatusNotFound, expected: ErrServerRejected},
		"range unsatisfied": {code: http.StatusRequestedRangeNotSatisfiable, expected: ErrServerRejected},
		"rate limited":      {code: http.StatusTooManyRequests, expected: ErrNetworkTransient},
		"request timeout":   {code: http.StatusRequestTimeout, expected: ErrNetworkTransient},
		"bad gateway":       {code: http.StatusBadGateway, expected: ErrNetworkTransient},
	}

	for scenario, tc := range testCases {
		t.Run(scenario, func(t *testing.T) {
			err := fmt.Errorf("chunk 1: %w", &StatusError{Code: tc.code})
			assert.True(t, errors.Is(err, tc.expected))
			var statusErr *StatusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, tc.code, statusErr.Code)
		})
	}
}

func TestHTTPClientDecoratesRequests(t *testing.T) {
	var seen http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
	}))
	defer server.Close()

	client := NewKeeperHTTPClient(HTTPClientConfig{
		Headers:   map[string]string{"X-Trace": "abc"},
		AuthToken: "secret",
	})
	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, ToolUserAgent, seen.Get("User-Agent"))
	assert.Equal(t, "abc", seen.Get("X-Trace"))
	assert.Equal(t, "Bearer secret", seen.Get("Authorization"))
}

func TestHTTPClientHighThreadMode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := NewKeeperHTTPClient(HTTPClientConfig{HighThreadMode: true, SocketBuffer: 64 * 1024})
	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
