package vision

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/anime-shed/image-describer-go/internal/errors"
	"github.com/anime-shed/image-describer-go/internal/storage"
	"github.com/anime-shed/image-describer-go/pkg/models"
)

const okBody = `{"captionResult":{"text":"a cat on a sofa","confidence":0.87},"tagsResult":{"values":[{"name":"cat","confidence":0.99}]}}`

// recordingSleep returns immediately and remembers every requested delay
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

// fakeProber accepts every URL and records the user agents it was given
type fakeProber struct {
	agents []string
	err    error
}

func (f *fakeProber) ResolveImageURL(ctx context.Context, imageURL, userAgent string) (string, error) {
	f.agents = append(f.agents, userAgent)
	if f.err != nil {
		return "", f.err
	}
	return imageURL, nil
}

func writeImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cat.jpg")
	if err := os.WriteFile(path, []byte("fake-jpeg-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestClient(t *testing.T, endpoint string, sl *recordingSleep, prober storage.ImageURLResolver) *Client {
	t.Helper()
	c, err := NewClient(Options{
		Endpoint: endpoint,
		Key:      "test-key",
		Language: "en",
		Retry: RetryPolicy{
			BaseDelay:   time.Millisecond,
			MaxDelay:    8 * time.Millisecond,
			MaxAttempts: 3,
		},
		Prober:     prober,
		UserAgents: storage.NewUserAgentRotator([]string{"ua-1", "ua-2"}),
		Sleep:      sl.sleep,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClient_RequiresEndpointAndKey(t *testing.T) {
	if _, err := NewClient(Options{Key: "k"}); err == nil {
		t.Error("expected error without endpoint")
	}
	if _, err := NewClient(Options{Endpoint: "https://example.cognitiveservices.azure.com"}); err == nil {
		t.Error("expected error without key")
	}
}

func TestAnalyze_LocalFileSuccess(t *testing.T) {
	var gotKey, gotType, gotBody string
	var gotQuery map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Ocp-Apim-Subscription-Key")
		gotType = r.Header.Get("Content-Type")
		gotQuery = r.URL.Query()
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		if r.URL.Path != analyzePath {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(okBody))
	}))
	defer server.Close()

	sl := &recordingSleep{}
	c := newTestClient(t, server.URL+"/", sl, &fakeProber{})
	resp, err := c.Analyze(context.Background(), models.SourceDescriptor{Origin: models.OriginLocalPath, Raw: writeImage(t)})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if resp.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", resp.Attempts)
	}
	if gotKey != "test-key" {
		t.Errorf("subscription key header = %q", gotKey)
	}
	if gotType != "application/octet-stream" {
		t.Errorf("Content-Type = %q", gotType)
	}
	if gotBody != "fake-jpeg-bytes" {
		t.Errorf("body = %q", gotBody)
	}
	if gotQuery["features"][0] != "caption,tags" || gotQuery["language"][0] != "en" {
		t.Errorf("query = %v", gotQuery)
	}
	if _, ok := resp.Document["captionResult"]; !ok {
		t.Error("expected captionResult in decoded document")
	}
	if len(sl.delays) != 0 {
		t.Errorf("first request should not be paced or delayed, got %v", sl.delays)
	}
}

func TestAnalyze_TransientThenSuccess(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(okBody))
	}))
	defer server.Close()

	sl := &recordingSleep{}
	c := newTestClient(t, server.URL, sl, &fakeProber{})
	resp, err := c.Analyze(context.Background(), models.SourceDescriptor{Origin: models.OriginLocalPath, Raw: writeImage(t)})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if resp.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", resp.Attempts)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("server calls = %d, want 2", calls)
	}
	if len(sl.delays) == 0 || sl.delays[0] != time.Millisecond {
		t.Errorf("expected a 1ms backoff first, got %v", sl.delays)
	}
}

func TestAnalyze_TerminalStatuses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   apperrors.Kind
	}{
		{"unauthorized", http.StatusUnauthorized, apperrors.KindUnauthorized},
		{"forbidden", http.StatusForbidden, apperrors.KindUnauthorized},
		{"unsupported media", http.StatusUnsupportedMediaType, apperrors.KindUnsupportedMedia},
		{"not found", http.StatusNotFound, apperrors.KindNotFound},
		{"bad request", http.StatusBadRequest, apperrors.KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":{"code":"InvalidRequest","message":"nope"}}`))
			}))
			defer server.Close()

			c := newTestClient(t, server.URL, &recordingSleep{}, &fakeProber{})
			_, err := c.Analyze(context.Background(), models.SourceDescriptor{Origin: models.OriginLocalPath, Raw: writeImage(t)})
			if err == nil {
				t.Fatal("expected error")
			}
			if apperrors.KindOf(err) != tt.want {
				t.Errorf("kind = %s, want %s", apperrors.KindOf(err), tt.want)
			}
			if atomic.LoadInt32(&calls) != 1 {
				t.Errorf("terminal status must not be retried, got %d calls", calls)
			}
			var appErr *apperrors.AppError
			if !errors.As(err, &appErr) || appErr.Message != "InvalidRequest: nope" {
				t.Errorf("expected service message to be kept, got %v", err)
			}
		})
	}
}

func TestAnalyze_RateLimitExhausted(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	sl := &recordingSleep{}
	c := newTestClient(t, server.URL, sl, &fakeProber{})
	_, err := c.Analyze(context.Background(), models.SourceDescriptor{Origin: models.OriginLocalPath, Raw: writeImage(t)})
	if apperrors.KindOf(err) != apperrors.KindRateLimited {
		t.Fatalf("kind = %s, want RateLimited (err %v)", apperrors.KindOf(err), err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	// Retry-After is honoured but the cap still applies
	for _, d := range sl.delays {
		if d > 8*time.Millisecond {
			t.Errorf("delay %v exceeds cap", d)
		}
	}
}

func TestAnalyze_ServerErrorExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, &recordingSleep{}, &fakeProber{})
	_, err := c.Analyze(context.Background(), models.SourceDescriptor{Origin: models.OriginLocalPath, Raw: writeImage(t)})
	if apperrors.KindOf(err) != apperrors.KindUnknown {
		t.Errorf("kind = %s, want Unknown", apperrors.KindOf(err))
	}
	if apperrors.GetStatusCode(err) != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", apperrors.GetStatusCode(err))
	}
}

func TestAnalyze_NetworkErrorExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := server.URL
	server.Close()

	c := newTestClient(t, endpoint, &recordingSleep{}, &fakeProber{})
	_, err := c.Analyze(context.Background(), models.SourceDescriptor{Origin: models.OriginLocalPath, Raw: writeImage(t)})
	if apperrors.KindOf(err) != apperrors.KindTimeoutExhausted {
		t.Errorf("kind = %s, want TimeoutExhausted (err %v)", apperrors.KindOf(err), err)
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", appErr.Attempts)
	}
}

func TestAnalyze_MalformedBodyIsTerminal(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`[1,2,3]`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, &recordingSleep{}, &fakeProber{})
	_, err := c.Analyze(context.Background(), models.SourceDescriptor{Origin: models.OriginLocalPath, Raw: writeImage(t)})
	if !apperrors.IsType(err, apperrors.ErrorTypeMalformedResponse) {
		t.Errorf("expected malformed response error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestAnalyze_RemoteURLRotatesUserAgents(t *testing.T) {
	var calls int32
	var gotURL string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		gotURL = body["url"]
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(okBody))
	}))
	defer server.Close()

	prober := &fakeProber{}
	c := newTestClient(t, server.URL, &recordingSleep{}, prober)
	_, err := c.Analyze(context.Background(), models.SourceDescriptor{Origin: models.OriginRemoteURL, Raw: "https://img.example.com/cat.png"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if gotURL != "https://img.example.com/cat.png" {
		t.Errorf("url body = %q", gotURL)
	}
	if len(prober.agents) != 2 || prober.agents[0] == prober.agents[1] {
		t.Errorf("expected a different user agent per attempt, got %v", prober.agents)
	}
}

func TestAnalyze_ProbeFailureIsClassified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("analyze endpoint should not be called when the probe fails")
	}))
	defer server.Close()

	prober := &fakeProber{err: apperrors.NewClassifiedError(apperrors.KindUnsupportedMedia, 200, "not an image", nil)}
	c := newTestClient(t, server.URL, &recordingSleep{}, prober)
	_, err := c.Analyze(context.Background(), models.SourceDescriptor{Origin: models.OriginRemoteURL, Raw: "https://example.com/page"})
	if apperrors.KindOf(err) != apperrors.KindUnsupportedMedia {
		t.Errorf("kind = %s, want UnsupportedMedia", apperrors.KindOf(err))
	}
}

func TestAnalyze_LocalFileProblems(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1", &recordingSleep{}, &fakeProber{})

	_, err := c.Analyze(context.Background(), models.SourceDescriptor{Origin: models.OriginLocalPath, Raw: filepath.Join(t.TempDir(), "missing.jpg")})
	if apperrors.KindOf(err) != apperrors.KindNotFound {
		t.Errorf("missing file kind = %s, want NotFound", apperrors.KindOf(err))
	}

	c.maxImageBytes = 4
	_, err = c.Analyze(context.Background(), models.SourceDescriptor{Origin: models.OriginLocalPath, Raw: writeImage(t)})
	if apperrors.KindOf(err) != apperrors.KindUnsupportedMedia {
		t.Errorf("oversized file kind = %s, want UnsupportedMedia", apperrors.KindOf(err))
	}
}

func TestAnalyze_InvalidDescriptor(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1", &recordingSleep{}, &fakeProber{})
	_, err := c.Analyze(context.Background(), models.SourceDescriptor{Origin: models.OriginLocalPath})
	if !errors.Is(err, ErrInvalidDescriptor) {
		t.Errorf("expected ErrInvalidDescriptor, got %v", err)
	}
}

func TestAnalyze_CanceledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sl := &recordingSleep{}
	c := newTestClient(t, server.URL, sl, &fakeProber{})
	c.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return sl.sleep(ctx, d)
	}

	_, err := c.Analyze(ctx, models.SourceDescriptor{Origin: models.OriginLocalPath, Raw: writeImage(t)})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestAnalyze_PacesBetweenSources(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(okBody))
	}))
	defer server.Close()

	var paced []time.Duration
	c := newTestClient(t, server.URL, &recordingSleep{}, &fakeProber{})
	c.pacer = NewPacer(2*time.Second, 6*time.Second, func(ctx context.Context, d time.Duration) error {
		paced = append(paced, d)
		return nil
	})

	img := writeImage(t)
	for i := 0; i < 3; i++ {
		if _, err := c.Analyze(context.Background(), models.SourceDescriptor{Origin: models.OriginLocalPath, Raw: img}); err != nil {
			t.Fatalf("Analyze #%d: %v", i, err)
		}
	}
	if len(paced) != 2 {
		t.Fatalf("expected 2 pacing waits for 3 requests, got %d", len(paced))
	}
	for _, d := range paced {
		if d < 2*time.Second || d > 6*time.Second {
			t.Errorf("pacing delay %v outside [2s, 6s]", d)
		}
	}
}

func TestRetryAfter(t *testing.T) {
	h := http.Header{}
	if retryAfter(h) != 0 {
		t.Error("missing header should give zero")
	}
	h.Set("Retry-After", "3")
	if retryAfter(h) != 3*time.Second {
		t.Errorf("retryAfter = %v, want 3s", retryAfter(h))
	}
	h.Set("Retry-After", "Wed, 21 Oct 2015 07:28:00 GMT")
	if retryAfter(h) != 0 {
		t.Error("HTTP-date form is ignored")
	}
}
