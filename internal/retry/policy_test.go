package retry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanq16/keeper/internal/utils"
)

func TestShouldRetry(t *testing.T) {
	policy := DefaultPolicy()
	testCases := map[string]struct {
		attempt  int
		kind     Kind
		expected Decision
	}{
		"first transient failure":  {attempt: 1, kind: KindTransient, expected: Decision{Retry: true, Delay: time.Second}},
		"second transient failure": {attempt: 2, kind: KindTransient, expected: Decision{Retry: true, Delay: 2 * time.Second}},
		"third transient failure":  {attempt: 3, kind: KindTransient, expected: Decision{Retry: true, Delay: 4 * time.Second}},
		"budget exhausted":         {attempt: 5, kind: KindTransient, expected: Decision{}},
		"client error":             {attempt: 1, kind: KindRejected, expected: Decision{}},
		"canceled":                 {attempt: 1, kind: KindCanceled, expected: Decision{}},
		"local failure":            {attempt: 1, kind: KindLocal, expected: Decision{}},
	}

	for scenario, tc := range testCases {
		t.Run(scenario, func(t *testing.T) {
			assert.Equal(t, tc.expected, policy.ShouldRetry(tc.attempt, tc.kind))
		})
	}
}

func TestShouldRetryCapsDelay(t *testing.T) {
	policy := Policy{MaxAttempts: 20, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
	var previous time.Duration
	for attempt := 1; attempt < 20; attempt++ {
		d := policy.ShouldRetry(attempt, KindTransient)
		require.True(t, d.Retry)
		assert.LessOrEqual(t, d.Delay, 30*time.Second)
		assert.GreaterOrEqual(t, d.Delay, previous)
		previous = d.Delay
	}
	assert.Equal(t, 30*time.Second, previous)
}

func TestClassify(t *testing.T) {
	testCases := map[string]struct {
		err      error
		expected Kind
	}{
		"service unavailable": {err: &utils.StatusError{Code: http.StatusServiceUnavailable}, expected: KindTransient},
		"too many requests":   {err: &utils.StatusError{Code: http.StatusTooManyRequests}, expected: KindTransient},
		"not found":           {err: &utils.StatusError{Code: http.StatusNotFound}, expected: KindRejected},
		"forbidden wrapped":   {err: fmt.Errorf("chunk 2: %w", &utils.StatusError{Code: http.StatusForbidden}), expected: KindRejected},
		"connection reset":    {err: fmt.Errorf("read: %w", syscall.ECONNRESET), expected: KindTransient},
		"short body":          {err: io.ErrUnexpectedEOF, expected: KindTransient},
		"dial failure":        {err: &net.OpError{Op: "dial", Err: errors.New("refused")}, expected: KindTransient},
		"canceled":            {err: fmt.Errorf("get: %w", context.Canceled), expected: KindCanceled},
		"invalid request":     {err: utils.ErrInvalidRequest, expected: KindRejected},
		"disk failure":        {err: errors.New("write /tmp/x: no space left on device"), expected: KindLocal},
		"stalled body":        {err: fmt.Errorf("chunk 0 stalled for 30s: %w", context.DeadlineExceeded), expected: KindTransient},
		"unknown authority": {
			err:      &url.Error{Op: "Get", URL: "https://example.com", Err: &tls.CertificateVerificationError{Err: x509.UnknownAuthorityError{}}},
			expected: KindRejected,
		},
		"hostname mismatch": {
			err:      &url.Error{Op: "Get", URL: "https://example.com", Err: x509.HostnameError{Host: "example.com"}},
			expected: KindRejected,
		},
		"timeout in url error": {
			err:      &url.Error{Op: "Get", URL: "https://example.com", Err: fmt.Errorf("read: %w", syscall.ETIMEDOUT)},
			expected: KindTransient,
		},
	}

	for scenario, tc := range testCases {
		t.Run(scenario, func(t *testing.T) {
			assert.Equal(t, tc.expected, Classify(tc.err))
		})
	}
}

func TestDoRetriesTransientFailures(t *testing.T) {
	policy := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 50 * time.Millisecond}
	var delays []time.Duration
	calls := 0

	err := policy.Do(context.Background(), func(attempt int) error {
		calls++
		require.Equal(t, calls, attempt)
		if attempt <= 3 {
			return &utils.StatusError{Code: http.StatusServiceUnavailable}
		}
		return nil
	}, func(attempt int, err error, d Decision) {
		delays = append(delays, d.Delay)
	})

	require.NoError(t, err)
	assert.Equal(t, 4, calls)
	require.Len(t, delays, 3)
	assert.Less(t, delays[0], delays[1])
	assert.Less(t, delays[1], delays[2])
}

func TestDoStopsOnRejection(t *testing.T) {
	policy := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	calls := 0
	err := policy.Do(context.Background(), func(int) error {
		calls++
		return &utils.StatusError{Code: http.StatusNotFound}
	}, nil)

	assert.ErrorIs(t, err, utils.ErrServerRejected)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	policy := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	calls := 0
	err := policy.Do(context.Background(), func(int) error {
		calls++
		return io.ErrUnexpectedEOF
	}, nil)

	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, 3, calls)
}

func TestDoHonoursCancellation(t *testing.T) {
	policy := Policy{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- policy.Do(ctx, func(int) error {
			return io.ErrUnexpectedEOF
		}, nil)
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("retry loop did not observe cancellation")
	}
}
