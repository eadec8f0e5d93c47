package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	apperrors "github.com/anime-shed/image-describer-go/internal/errors"
)

// ErrTooManyRedirects is returned when an image URL redirects more than maxRedirects times
var ErrTooManyRedirects = errors.New("too many redirects")

const maxRedirects = 3

// DefaultUserAgents is the fixed pool rotated across URL probes
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:120.0) Gecko/20100101 Firefox/120.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
}

// UserAgentRotator hands out user agents round-robin
type UserAgentRotator struct {
	mu     sync.Mutex
	agents []string
	next   int
}

// NewUserAgentRotator creates a rotator over agents, or DefaultUserAgents when empty
func NewUserAgentRotator(agents []string) *UserAgentRotator {
	if len(agents) == 0 {
		agents = DefaultUserAgents
	}
	pool := make([]string, len(agents))
	copy(pool, agents)
	return &UserAgentRotator{agents: pool}
}

// Next returns the next user agent in the pool
func (r *UserAgentRotator) Next() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ua := r.agents[r.next%len(r.agents)]
	r.next++
	return ua
}

// ImageURLResolver checks that a URL serves an image and returns the final URL after redirects
type ImageURLResolver interface {
	ResolveImageURL(ctx context.Context, imageURL, userAgent string) (string, error)
}

// HTTPImageProber implements ImageURLResolver with a plain GET
type HTTPImageProber struct {
	client *http.Client
}

// NewHTTPImageProber creates a prober whose requests time out after timeout
func NewHTTPImageProber(timeout time.Duration) *HTTPImageProber {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,

		// One probe at a time, a handful of hosts
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		MaxResponseHeaderBytes: 64 * 1024,
	}

	return &HTTPImageProber{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("%w (limit: %d)", ErrTooManyRedirects, maxRedirects)
				}
				return nil
			},
		},
	}
}

// ResolveImageURL issues one GET with the given user agent. It makes no retries;
// transient failures come back as classified errors with a retryable status or as
// network errors, and the caller decides.
func (p *HTTPImageProber) ResolveImageURL(ctx context.Context, imageURL, userAgent string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating probe request: %w", err)
	}

	req.Header.Set("Accept", "image/avif,image/webp,image/png,image/jpeg,image/*;q=0.8,*/*;q=0.5")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", imageURL)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("probing image URL: %w", err)
	}
	defer resp.Body.Close()
	// Drain a little so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", apperrors.NewClassifiedError(
			apperrors.KindForStatus(resp.StatusCode),
			resp.StatusCode,
			"image URL returned "+http.StatusText(resp.StatusCode),
			nil,
		)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(contentType), "image") {
		return "", apperrors.NewClassifiedError(
			apperrors.KindUnsupportedMedia,
			resp.StatusCode,
			fmt.Sprintf("URL did not resolve to an image (content type %q)", contentType),
			nil,
		)
	}

	return resp.Request.URL.String(), nil
}
