package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/anime-shed/image-describer-go/pkg/models"
)

// ErrClosed is returned by appends after Close
var ErrClosed = errors.New("export state closed")

// StateConfig selects the append-only outputs
type StateConfig struct {
	JSONLPath  string
	CSVEnabled bool
	CSVPath    string
	TopK       int
}

// ExportState owns the append handles of one run. Files are opened on
// first write, every record is flushed and fsynced before the append
// returns, and Close releases everything exactly once.
type ExportState struct {
	cfg StateConfig

	mu        sync.Mutex
	jsonl     *os.File
	csvFile   *os.File
	csvWriter *csv.Writer
	closed    bool
}

// NewExportState creates export state for cfg without touching the filesystem
func NewExportState(cfg StateConfig) *ExportState {
	if cfg.TopK < 1 {
		cfg.TopK = 5
	}
	return &ExportState{cfg: cfg}
}

// AppendJSONL writes rec as one compact JSON line
func (s *ExportState) AppendJSONL(rec models.ResultRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if s.jsonl == nil {
		f, err := openAppend(s.cfg.JSONLPath)
		if err != nil {
			return err
		}
		s.jsonl = f
	}

	if rec.Tags == nil {
		rec.Tags = []models.Tag{}
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	line = append(line, '\n')
	if _, err := s.jsonl.Write(line); err != nil {
		return fmt.Errorf("writing %s: %w", s.cfg.JSONLPath, err)
	}
	return s.jsonl.Sync()
}

// AppendCSV writes rec as one row; the header goes in first when the file is empty
func (s *ExportState) AppendCSV(rec models.ResultRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.cfg.CSVEnabled {
		return nil
	}

	if s.csvFile == nil {
		f, err := openAppend(s.cfg.CSVPath)
		if err != nil {
			return err
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return fmt.Errorf("stat %s: %w", s.cfg.CSVPath, err)
		}
		s.csvFile = f
		s.csvWriter = csv.NewWriter(f)
		if info.Size() == 0 {
			if err := s.writeRow(CSVHeader(s.cfg.TopK)); err != nil {
				return err
			}
		}
	}

	return s.writeRow(CSVRow(rec, s.cfg.TopK))
}

func (s *ExportState) writeRow(row []string) error {
	if err := s.csvWriter.Write(row); err != nil {
		return fmt.Errorf("writing %s: %w", s.cfg.CSVPath, err)
	}
	s.csvWriter.Flush()
	if err := s.csvWriter.Error(); err != nil {
		return fmt.Errorf("flushing %s: %w", s.cfg.CSVPath, err)
	}
	return s.csvFile.Sync()
}

// Close releases the handles. Later calls return nil.
func (s *ExportState) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.csvWriter != nil {
		s.csvWriter.Flush()
		errs = append(errs, s.csvWriter.Error())
	}
	if s.csvFile != nil {
		errs = append(errs, s.csvFile.Close())
	}
	if s.jsonl != nil {
		errs = append(errs, s.jsonl.Close())
	}
	return errors.Join(errs...)
}

// CSVHeader is source,caption,caption_confidence,tag_1..tag_k
func CSVHeader(topK int) []string {
	header := []string{"source", "caption", "caption_confidence"}
	for i := 1; i <= topK; i++ {
		header = append(header, "tag_"+strconv.Itoa(i))
	}
	return header
}

// CSVRow always has 3+topK cells; failures and missing tags are empty cells
func CSVRow(rec models.ResultRecord, topK int) []string {
	row := make([]string, 3+topK)
	row[0] = rec.Source
	if !rec.Succeeded() {
		return row
	}
	row[1] = rec.Caption
	row[2] = strconv.FormatFloat(rec.CaptionConfidence, 'f', -1, 64)
	for i := 0; i < topK && i < len(rec.Tags); i++ {
		row[3+i] = rec.Tags[i].Name
	}
	return row
}

func openAppend(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory for %s: %w", path, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return f, nil
}
