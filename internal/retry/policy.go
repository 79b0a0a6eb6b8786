// Package retry decides whether a failed transfer attempt is worth repeating
// and how long to wait before doing so.
package retry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/url"
	"syscall"
	"time"

	"github.com/tanq16/keeper/internal/utils"
)

// Kind groups failures by how the engine reacts to them.
type Kind int

const (
	// KindTransient covers connection resets, timeouts and 5xx answers.
	KindTransient Kind = iota
	// KindRejected covers 4xx answers and malformed requests.
	KindRejected
	// KindCanceled is a cooperative stop (pause or cancel).
	KindCanceled
	// KindLocal covers failures on this machine, such as disk writes.
	KindLocal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRejected:
		return "rejected"
	case KindCanceled:
		return "canceled"
	default:
		return "local"
	}
}

type Decision struct {
	Retry bool
	Delay time.Duration
}

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// ShouldRetry is called after attempt (1-based) failed with an error of kind.
// Only transient failures are retried, with the delay doubling per attempt and
// capped at MaxDelay.
func (p Policy) ShouldRetry(attempt int, kind Kind) Decision {
	if kind != KindTransient || attempt >= p.MaxAttempts {
		return Decision{}
	}
	delay := p.BaseDelay
	for i := 1; i < attempt && delay < p.MaxDelay; i++ {
		delay *= 2
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return Decision{Retry: true, Delay: delay}
}

// Do runs op until it succeeds, fails with a non-retryable error, the attempt
// budget runs out or ctx is done. notify, if set, sees every scheduled retry.
func (p Policy) Do(ctx context.Context, op func(attempt int) error, notify func(attempt int, err error, d Decision)) error {
	for attempt := 1; ; attempt++ {
		err := op(attempt)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		decision := p.ShouldRetry(attempt, Classify(err))
		if !decision.Retry {
			return err
		}
		if notify != nil {
			notify(attempt, err, decision)
		}
		if err := Sleep(ctx, decision.Delay); err != nil {
			return err
		}
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func Classify(err error) Kind {
	switch {
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, utils.ErrServerRejected), errors.Is(err, utils.ErrInvalidRequest):
		return KindRejected
	case errors.Is(err, utils.ErrNetworkTransient):
		return KindTransient
	case errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	}
	if isCertificateError(err) {
		return KindRejected
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return KindTransient
	}
	return KindLocal
}

// isCertificateError reports TLS verification failures, which no retry can
// fix. They arrive wrapped in *url.Error, so they must be caught before the
// generic network fallback.
func isCertificateError(err error) bool {
	var verifyErr *tls.CertificateVerificationError
	var unknownAuthority x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	var invalidErr x509.CertificateInvalidError
	var recordErr tls.RecordHeaderError
	return errors.As(err, &verifyErr) ||
		errors.As(err, &unknownAuthority) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &invalidErr) ||
		errors.As(err, &recordErr)
}
