package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// RawWriter stores each unmodified response payload as <dir>/<slug>.json
type RawWriter struct {
	dir string
}

// NewRawWriter creates a writer storing payloads under dir
func NewRawWriter(dir string) *RawWriter {
	return &RawWriter{dir: dir}
}

// Write pretty-prints raw and replaces the target atomically. It returns the written path.
func (w *RawWriter) Write(slug string, raw []byte) (string, error) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return "", fmt.Errorf("formatting raw response: %w", err)
	}
	pretty.WriteByte('\n')

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating raw directory: %w", err)
	}
	dest := filepath.Join(w.dir, slug+".json")
	if err := writeAtomic(dest, pretty.Bytes()); err != nil {
		return "", fmt.Errorf("writing %s: %w", dest, err)
	}
	return dest, nil
}

// writeAtomic writes to a temp file in the same directory, fsyncs and renames it over dest
func writeAtomic(dest string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	_ = os.Chmod(tmpPath, 0o644)
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
