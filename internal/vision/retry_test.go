package vision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	apperrors "github.com/anime-shed/image-describer-go/internal/errors"
	"github.com/anime-shed/image-describer-go/internal/storage"
)

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: 16 * time.Second, MaxAttempts: 5}

	tests := []struct {
		attempt int
		hint    time.Duration
		want    time.Duration
	}{
		{1, 0, 1 * time.Second},
		{2, 0, 2 * time.Second},
		{3, 0, 4 * time.Second},
		{5, 0, 16 * time.Second},
		{9, 0, 16 * time.Second},
		{1, 10 * time.Second, 10 * time.Second},
		{1, time.Minute, 16 * time.Second},
		{4, time.Second, 8 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt %d hint %v", tt.attempt, tt.hint), func(t *testing.T) {
			if got := p.Delay(tt.attempt, tt.hint); got != tt.want {
				t.Errorf("Delay() = %v, want %v", got, tt.want)
			}
		})
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want outcome
	}{
		{"nil", context.Background(), nil, outcomeSuccess},
		{"canceled ctx", canceled, io.EOF, outcomeCanceled},
		{"503", context.Background(), apperrors.NewClassifiedError(apperrors.KindUnknown, 503, "unavailable", nil), outcomeTransient},
		{"429", context.Background(), apperrors.NewClassifiedError(apperrors.KindRateLimited, 429, "slow down", nil), outcomeTransient},
		{"401", context.Background(), apperrors.NewClassifiedError(apperrors.KindUnauthorized, 401, "denied", nil), outcomeTerminal},
		{"malformed", context.Background(), apperrors.NewMalformedResponseError("bad", nil), outcomeTerminal},
		{"network timeout", context.Background(), fmt.Errorf("analyze request: %w", timeoutErr{}), outcomeTransient},
		{"redirect loop", context.Background(), fmt.Errorf("probe: %w", storage.ErrTooManyRedirects), outcomeTerminal},
		{"other", context.Background(), errors.New("boom"), outcomeTerminal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.ctx, tt.err); got != tt.want {
				t.Errorf("classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRetryState_Exhausted(t *testing.T) {
	st := &retryState{attempt: 5, lastErr: fmt.Errorf("x: %w", timeoutErr{})}
	err := st.exhausted()
	if apperrors.KindOf(err) != apperrors.KindTimeoutExhausted {
		t.Errorf("kind = %s, want TimeoutExhausted", apperrors.KindOf(err))
	}

	st = &retryState{attempt: 5, lastErr: apperrors.NewClassifiedError(apperrors.KindRateLimited, 429, "slow down", nil)}
	err = st.exhausted()
	if apperrors.KindOf(err) != apperrors.KindRateLimited {
		t.Errorf("kind = %s, want RateLimited", apperrors.KindOf(err))
	}
}
