package container

import (
	"bytes"
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/anime-shed/image-describer-go/internal/config"
	"github.com/anime-shed/image-describer-go/internal/source"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.VisionEndpoint = "https://example.cognitiveservices.azure.com"
	cfg.VisionKey = "key"
	cfg.OutputPath = filepath.Join(dir, "results.jsonl")
	cfg.RawDir = dir
	return cfg
}

func TestNewContainer(t *testing.T) {
	cfg := testConfig(t)
	c, err := NewContainer(context.Background(), cfg, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	defer c.Close()

	if _, err := uuid.Parse(c.RunID()); err != nil {
		t.Errorf("run id %q is not a UUID", c.RunID())
	}
	if c.Resolver() == nil || c.BatchService() == nil || c.Status() == nil {
		t.Error("expected resolver, batch service and status observer to be wired")
	}
	if c.StatusServer() != nil {
		t.Error("status server should be disabled without an address")
	}
	if c.Status().Snapshot().RunID != c.RunID() {
		t.Error("status observer should carry the run id")
	}
}

func TestNewContainer_WithMirrorsAndStatus(t *testing.T) {
	cfg := testConfig(t)
	cfg.SQLitePath = filepath.Join(t.TempDir(), "results.db")
	cfg.StatusAddress = "127.0.0.1:0"

	c, err := NewContainer(context.Background(), cfg, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	if c.StatusServer() == nil {
		t.Error("expected status server")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestNewContainer_RequiresCredentials(t *testing.T) {
	cfg := testConfig(t)
	cfg.VisionKey = ""
	if _, err := NewContainer(context.Background(), cfg, &bytes.Buffer{}); err == nil {
		t.Error("expected error without a key")
	}
}

func TestNewContainer_RejectsInvalidAnalysisOptions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{"NaN threshold", func(c *config.Config) { nan := math.NaN(); c.Threshold = &nan }},
		{"threshold above one", func(c *config.Config) { th := 1.5; c.Threshold = &th }},
		{"zero top-k", func(c *config.Config) { c.TopK = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			if c, err := NewContainer(context.Background(), cfg, &bytes.Buffer{}); err == nil {
				c.Close()
				t.Error("expected invalid analysis options to be rejected")
			}
		})
	}
}

func TestNewContainer_AllowedHosts(t *testing.T) {
	cfg := testConfig(t)
	cfg.AllowedHosts = []string{"cdn.example.com"}

	c, err := NewContainer(context.Background(), cfg, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	defer c.Close()

	if _, err := c.Resolver().Resolve(source.Input{Image: "https://cdn.example.com/cat.jpg"}); err != nil {
		t.Errorf("allowed host rejected: %v", err)
	}
	if _, err := c.Resolver().Resolve(source.Input{Image: "https://other.example.com/cat.jpg"}); err == nil {
		t.Error("expected host outside the allow list to be rejected")
	}
}
