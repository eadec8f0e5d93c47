package export

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"

	apperrors "github.com/anime-shed/image-describer-go/internal/errors"
	"github.com/anime-shed/image-describer-go/internal/logger"
	"github.com/anime-shed/image-describer-go/pkg/models"
)

// Sink names reported in SinkWriteErrors
const (
	SinkRaw   = "raw"
	SinkJSONL = "jsonl"
	SinkCSV   = "csv"
)

// Entry is one finished item on its way to the outputs
type Entry struct {
	Sequence int
	Record   models.ResultRecord
	// Raw is the unmodified response body, nil for failed items
	Raw json.RawMessage
}

// Mirror receives a copy of every entry after the file outputs
type Mirror interface {
	Name() string
	Mirror(ctx context.Context, e Entry, slug string) error
}

// Options configures a Sink
type Options struct {
	State      StateConfig
	RawEnabled bool
	RawDir     string
	Mirrors    []Mirror
	Log        *logrus.Entry
}

// Sink fans a record out to every configured output. Each output is tried
// independently; a failure in one never stops the others.
type Sink struct {
	state   *ExportState
	raw     *RawWriter
	slugs   *SlugRegistry
	mirrors []Mirror
	log     *logrus.Entry
}

// NewSink creates a sink over the configured outputs. Files are opened on first write.
func NewSink(opts Options) *Sink {
	s := &Sink{
		state:   NewExportState(opts.State),
		slugs:   NewSlugRegistry(),
		mirrors: opts.Mirrors,
		log:     opts.Log,
	}
	if opts.RawEnabled {
		s.raw = NewRawWriter(opts.RawDir)
	}
	if s.log == nil {
		s.log = logrus.NewEntry(logger.Logger)
	}
	return s
}

// Write persists one entry and returns one SinkWriteError per failed output
func (s *Sink) Write(ctx context.Context, e Entry) []error {
	var errs []error
	fail := func(sink string, err error) {
		s.log.WithError(err).WithFields(logrus.Fields{
			"sink":     sink,
			"source":   e.Record.Source,
			"sequence": e.Sequence,
		}).Error("Sink write failed")
		errs = append(errs, apperrors.NewSinkWriteError(sink, err))
	}

	slug := ""
	if e.Record.Succeeded() && len(e.Raw) > 0 {
		slug = s.slugs.Unique(e.Record.Source)
		if s.raw != nil {
			if _, err := s.raw.Write(slug, e.Raw); err != nil {
				fail(SinkRaw, err)
			}
		}
	}

	if err := s.state.AppendJSONL(e.Record); err != nil {
		fail(SinkJSONL, err)
	}
	if err := s.state.AppendCSV(e.Record); err != nil {
		fail(SinkCSV, err)
	}

	for _, m := range s.mirrors {
		if err := m.Mirror(ctx, e, slug); err != nil {
			fail(m.Name(), err)
		}
	}
	return errs
}

// Close closes the export state; it is safe to call more than once
func (s *Sink) Close() error {
	return s.state.Close()
}
