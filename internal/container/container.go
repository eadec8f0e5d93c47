package container

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/anime-shed/image-describer-go/internal/analyzer"
	"github.com/anime-shed/image-describer-go/internal/config"
	"github.com/anime-shed/image-describer-go/internal/export"
	"github.com/anime-shed/image-describer-go/internal/factory"
	"github.com/anime-shed/image-describer-go/internal/logger"
	"github.com/anime-shed/image-describer-go/internal/observer"
	"github.com/anime-shed/image-describer-go/internal/service"
	"github.com/anime-shed/image-describer-go/internal/source"
	"github.com/anime-shed/image-describer-go/internal/storage"
	"github.com/anime-shed/image-describer-go/internal/transport"
	"github.com/anime-shed/image-describer-go/internal/vision"
	"github.com/anime-shed/image-describer-go/pkg/validation"
)

// Container holds all dependencies of one batch run
type Container struct {
	config       *config.Config
	runID        string
	log          *logrus.Entry
	resolver     *source.Resolver
	client       *vision.Client
	sink         *export.Sink
	closers      []io.Closer
	status       *observer.StatusObserver
	batchService service.BatchService
	statusServer *transport.StatusServer
}

// NewContainer builds the dependency graph for a validated configuration.
// out receives the human-readable report.
func NewContainer(ctx context.Context, cfg *config.Config, out io.Writer) (*Container, error) {
	opts := cfg.AnalysisOptions()
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid analysis options: %w", err)
	}

	runID := uuid.NewString()
	log := logger.WithRun(runID)

	client, err := vision.NewClient(vision.Options{
		Endpoint:             cfg.VisionEndpoint,
		Key:                  cfg.VisionKey,
		APIVersion:           cfg.APIVersion,
		Language:             cfg.Language,
		GenderNeutralCaption: cfg.GenderNeutralCaption,
		RequestTimeout:       cfg.RequestTimeout,
		MaxImageBytes:        cfg.MaxImageBytes,
		PaceMin:              cfg.PaceMin,
		PaceMax:              cfg.PaceMax,
		Retry: vision.RetryPolicy{
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
			MaxAttempts: cfg.RetryMaxAttempts,
		},
		Prober:     storage.NewHTTPImageProber(cfg.ImageFetchTimeout),
		UserAgents: storage.NewUserAgentRotator(nil),
		Log:        log,
	})
	if err != nil {
		return nil, err
	}

	c := &Container{
		config:   cfg,
		runID:    runID,
		log:      log,
		resolver: source.NewResolver(urlValidator(cfg)),
		client:   client,
		status:   observer.NewStatusObserver(runID),
	}

	var mirrors []export.Mirror
	mf := factory.NewMirrorFactory(cfg, runID)
	for _, mt := range factory.EnabledMirrors(cfg) {
		m, closer, err := mf.CreateMirror(ctx, mt)
		if err != nil {
			c.Close()
			return nil, err
		}
		mirrors = append(mirrors, m)
		c.closers = append(c.closers, closer)
	}

	c.sink = export.NewSink(export.Options{
		State: export.StateConfig{
			JSONLPath:  cfg.OutputPath,
			CSVEnabled: cfg.CSVEnabled,
			CSVPath:    cfg.CSVPath,
			TopK:       cfg.TopK,
		},
		RawEnabled: cfg.RawEnabled,
		RawDir:     cfg.RawDir,
		Mirrors:    mirrors,
		Log:        log,
	})

	events := observer.NewEventPublisher()
	events.Subscribe(observer.NewLoggingObserver(log))
	events.Subscribe(c.status)

	c.batchService = service.NewBatchService(service.Dependencies{
		RunID:      runID,
		Analyzer:   client,
		Normalizer: analyzer.NewNormalizer(opts, log),
		Filter:     analyzer.NewThresholdFilter(opts),
		Sink:       c.sink,
		Events:     events,
		Out:        out,
		Log:        log,
	})

	if cfg.StatusAddress != "" {
		c.statusServer = transport.NewStatusServer(cfg.StatusAddress, c.status)
	}

	return c, nil
}

// Close releases the export state and every mirror. It is safe to call more than once.
func (c *Container) Close() error {
	var errs []error
	if c.sink != nil {
		if err := c.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing export state: %w", err))
		}
	}
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// RunID returns the id tagging every log line and mirror row of this run
func (c *Container) RunID() string {
	return c.runID
}

// Resolver returns the source resolver
func (c *Container) Resolver() *source.Resolver {
	return c.resolver
}

// BatchService returns the batch driver
func (c *Container) BatchService() service.BatchService {
	return c.batchService
}

// StatusServer returns the status server, or nil when disabled
func (c *Container) StatusServer() *transport.StatusServer {
	return c.statusServer
}

// Status returns the live status observer
func (c *Container) Status() *observer.StatusObserver {
	return c.status
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// Log returns the run-scoped logger
func (c *Container) Log() *logrus.Entry {
	return c.log
}

func urlValidator(cfg *config.Config) *validation.URLValidator {
	if len(cfg.AllowedHosts) == 0 {
		return validation.NewURLValidator()
	}
	return validation.NewURLValidatorWithOptions([]string{"http", "https"}, cfg.AllowedHosts)
}
