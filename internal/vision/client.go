package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/anime-shed/image-describer-go/internal/errors"
	"github.com/anime-shed/image-describer-go/internal/logger"
	"github.com/anime-shed/image-describer-go/internal/storage"
	"github.com/anime-shed/image-describer-go/pkg/models"
)

// ErrInvalidDescriptor marks a programming error in the caller, not a per-item failure
var ErrInvalidDescriptor = errors.New("invalid source descriptor")

const (
	analyzePath      = "/computervision/imageanalysis:analyze"
	maxResponseBytes = 8 * 1024 * 1024
	userAgent        = "image-describer/1.0"
)

// Analyzer submits one source to the vision endpoint
type Analyzer interface {
	Analyze(ctx context.Context, src models.SourceDescriptor) (*models.AnalysisResponse, error)
}

// Options configures a Client
type Options struct {
	Endpoint             string
	Key                  string
	APIVersion           string
	Language             string
	GenderNeutralCaption bool
	RequestTimeout       time.Duration
	MaxImageBytes        int64

	PaceMin time.Duration
	PaceMax time.Duration
	Retry   RetryPolicy

	// Optional collaborators; zero values get production defaults
	Prober     storage.ImageURLResolver
	UserAgents *storage.UserAgentRotator
	HTTPClient *http.Client
	Sleep      SleepFunc
	Log        *logrus.Entry
}

func (o *Options) defaults() {
	if o.APIVersion == "" {
		o.APIVersion = "2023-10-01"
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	if o.MaxImageBytes <= 0 {
		o.MaxImageBytes = 20 * 1024 * 1024
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry = DefaultRetryPolicy()
	}
	if o.Sleep == nil {
		o.Sleep = sleepCtx
	}
	if o.Prober == nil {
		o.Prober = storage.NewHTTPImageProber(o.RequestTimeout)
	}
	if o.UserAgents == nil {
		o.UserAgents = storage.NewUserAgentRotator(nil)
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.RequestTimeout}
	}
	if o.Log == nil {
		o.Log = logrus.NewEntry(logger.Logger)
	}
}

// Client is the rate-limited transport to the image analysis endpoint.
// It is used from a single goroutine; pacing state is shared across calls.
type Client struct {
	analyzeURL    string
	key           string
	maxImageBytes int64
	retry         RetryPolicy
	pacer         *Pacer
	sleep         SleepFunc
	prober        storage.ImageURLResolver
	agents        *storage.UserAgentRotator
	hc            *http.Client
	log           *logrus.Entry
}

// NewClient validates opts and builds a Client
func NewClient(opts Options) (*Client, error) {
	opts.defaults()
	endpoint := strings.TrimRight(strings.TrimSpace(opts.Endpoint), "/")
	if endpoint == "" || strings.TrimSpace(opts.Key) == "" {
		return nil, fmt.Errorf("vision: endpoint and key are required")
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("vision: invalid endpoint: %w", err)
	}

	q := url.Values{}
	q.Set("api-version", opts.APIVersion)
	q.Set("features", "caption,tags")
	if opts.Language != "" {
		q.Set("language", opts.Language)
	}
	if opts.GenderNeutralCaption {
		q.Set("gender-neutral-caption", "true")
	}

	return &Client{
		analyzeURL:    endpoint + analyzePath + "?" + q.Encode(),
		key:           opts.Key,
		maxImageBytes: opts.MaxImageBytes,
		retry:         opts.Retry,
		pacer:         NewPacer(opts.PaceMin, opts.PaceMax, opts.Sleep),
		sleep:         opts.Sleep,
		prober:        opts.Prober,
		agents:        opts.UserAgents,
		hc:            opts.HTTPClient,
		log:           opts.Log,
	}, nil
}

// Analyze runs the attempt/backoff state machine for one source.
// It returns a classified AppError for expected failures, the context error
// when ctx ends, and ErrInvalidDescriptor for a malformed descriptor.
func (c *Client) Analyze(ctx context.Context, src models.SourceDescriptor) (*models.AnalysisResponse, error) {
	if strings.TrimSpace(src.Raw) == "" ||
		(src.Origin != models.OriginLocalPath && src.Origin != models.OriginRemoteURL) {
		return nil, fmt.Errorf("vision: %w: %+v", ErrInvalidDescriptor, src)
	}

	var image []byte
	if !src.IsRemote() {
		data, err := c.readImage(src.Raw)
		if err != nil {
			return nil, err
		}
		image = data
	}

	st := &retryState{}
	for {
		st.attempt++
		if err := c.pacer.Wait(ctx); err != nil {
			return nil, err
		}

		req := models.AnalysisRequest{Source: src, Image: image, ContentType: "application/octet-stream"}
		resp, hint, err := c.attempt(ctx, req)
		st.lastErr = err
		st.lastStatus = apperrors.GetStatusCode(err)

		switch classify(ctx, err) {
		case outcomeSuccess:
			resp.Attempts = st.attempt
			return resp, nil
		case outcomeCanceled:
			return nil, ctx.Err()
		case outcomeTerminal:
			return nil, st.terminal()
		}

		if st.attempt >= c.retry.MaxAttempts {
			c.log.WithError(err).WithFields(logrus.Fields{
				"source":      src.Raw,
				"attempts":    st.attempt,
				"total_delay": st.totalDelay.String(),
			}).Warn("Retries exhausted")
			return nil, st.exhausted()
		}

		delay := c.retry.Delay(st.attempt, hint)
		st.totalDelay += delay
		c.log.WithError(err).WithFields(logrus.Fields{
			"source":  src.Raw,
			"attempt": st.attempt,
			"status":  st.lastStatus,
			"backoff": delay.String(),
		}).Warn("Transient failure, retrying")

		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// attempt performs one probe (URL sources) plus one analyze call
func (c *Client) attempt(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResponse, time.Duration, error) {
	var body io.Reader
	contentType := req.ContentType

	if req.Source.IsRemote() {
		req.UserAgent = c.agents.Next()
		finalURL, err := c.prober.ResolveImageURL(ctx, req.Source.Raw, req.UserAgent)
		if err != nil {
			return nil, 0, err
		}
		req.ImageURL = finalURL
		payload, err := json.Marshal(map[string]string{"url": finalURL})
		if err != nil {
			return nil, 0, err
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	} else {
		body = bytes.NewReader(req.Image)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.analyzeURL, body)
	if err != nil {
		return nil, 0, fmt.Errorf("creating analyze request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", c.key)
	httpReq.Header.Set("User-Agent", userAgent)

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("analyze request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("reading analyze response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, retryAfter(resp.Header), apperrors.NewClassifiedError(
			apperrors.KindForStatus(resp.StatusCode),
			resp.StatusCode,
			serviceMessage(resp.StatusCode, raw),
			nil,
		)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
		return nil, 0, apperrors.NewMalformedResponseError("response is not a JSON object", err)
	}

	return &models.AnalysisResponse{
		Raw:        json.RawMessage(raw),
		Document:   doc,
		StatusCode: resp.StatusCode,
	}, 0, nil
}

func (c *Client) readImage(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.NewClassifiedError(apperrors.KindNotFound, 0, "image file not found", err)
		}
		return nil, apperrors.NewClassifiedError(apperrors.KindUnknown, 0, "image file not readable", err)
	}
	if info.Size() > c.maxImageBytes {
		return nil, apperrors.NewClassifiedError(apperrors.KindUnsupportedMedia, 0,
			fmt.Sprintf("image is %d bytes, limit is %d", info.Size(), c.maxImageBytes), nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewClassifiedError(apperrors.KindUnknown, 0, "image file not readable", err)
	}
	return data, nil
}

// serviceMessage extracts error.code/error.message from the service's error body
func serviceMessage(status int, raw []byte) string {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	msg := http.StatusText(status)
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error.Message != "" {
		msg = envelope.Error.Message
		if envelope.Error.Code != "" {
			msg = envelope.Error.Code + ": " + msg
		}
	}
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// retryAfter reads a Retry-After header given in seconds
func retryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
