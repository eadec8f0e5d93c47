package vision

import (
	"context"
	"errors"
	"net"
	"time"

	apperrors "github.com/anime-shed/image-describer-go/internal/errors"
	"github.com/anime-shed/image-describer-go/internal/storage"
)

// RetryPolicy bounds the exponential backoff between attempts
type RetryPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultRetryPolicy returns 5 attempts with 1s doubling up to 16s
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:   1 * time.Second,
		MaxDelay:    16 * time.Second,
		MaxAttempts: 5,
	}
}

// Delay is the backoff after the given failed attempt (1-based).
// A server hint raises the delay, the cap still applies.
func (p RetryPolicy) Delay(attempt int, hint time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}
	if hint > d {
		d = hint
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// outcome is where one attempt leaves the retry state machine
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeTransient
	outcomeTerminal
	outcomeCanceled
)

func (o outcome) String() string {
	switch o {
	case outcomeSuccess:
		return "success"
	case outcomeTransient:
		return "transient"
	case outcomeTerminal:
		return "terminal"
	default:
		return "canceled"
	}
}

// retryState is the explicit state carried across attempts of one source
type retryState struct {
	attempt    int
	totalDelay time.Duration
	lastStatus int
	lastErr    error
}

// classify decides the outcome of an attempt error
func classify(ctx context.Context, err error) outcome {
	if err == nil {
		return outcomeSuccess
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return outcomeCanceled
	}
	if errors.Is(err, storage.ErrTooManyRedirects) {
		return outcomeTerminal
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		if appErr.Type == apperrors.ErrorTypeClassified && apperrors.IsTransientStatus(appErr.StatusCode) {
			return outcomeTransient
		}
		return outcomeTerminal
	}
	var nerr net.Error
	if errors.As(err, &nerr) || errors.Is(err, context.DeadlineExceeded) {
		return outcomeTransient
	}
	return outcomeTerminal
}

// exhausted builds the error returned once transient failures use up every attempt
func (s *retryState) exhausted() error {
	var appErr *apperrors.AppError
	if errors.As(s.lastErr, &appErr) && appErr.StatusCode != 0 {
		kind := apperrors.KindUnknown
		if appErr.StatusCode == 429 {
			kind = apperrors.KindRateLimited
		}
		e := apperrors.NewClassifiedError(kind, appErr.StatusCode, "retries exhausted: "+appErr.Message, nil)
		e.Attempts = s.attempt
		return e
	}
	e := apperrors.NewClassifiedError(apperrors.KindTimeoutExhausted, 0, "retries exhausted", s.lastErr)
	e.Attempts = s.attempt
	return e
}

// terminal builds the error returned for a non-retryable failure
func (s *retryState) terminal() error {
	var appErr *apperrors.AppError
	if errors.As(s.lastErr, &appErr) {
		if appErr.Attempts == 0 {
			appErr.Attempts = s.attempt
		}
		return appErr
	}
	e := apperrors.NewClassifiedError(apperrors.KindUnknown, s.lastStatus, "request failed", s.lastErr)
	e.Attempts = s.attempt
	return e
}
