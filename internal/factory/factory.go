package factory

import (
	"context"
	"fmt"
	"io"

	"github.com/anime-shed/image-describer-go/internal/config"
	"github.com/anime-shed/image-describer-go/internal/export"
	"github.com/anime-shed/image-describer-go/internal/repository"
	"github.com/anime-shed/image-describer-go/internal/storage"
)

// MirrorType represents the optional secondary outputs
type MirrorType string

const (
	// SQLiteMirror stores every record in a local SQLite database
	SQLiteMirror MirrorType = "sqlite"
	// BlobMirror uploads raw payloads to an Azure blob container
	BlobMirror MirrorType = "blob"
)

// nopCloser is returned for mirrors holding no resources
type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// MirrorFactory creates export mirrors for one run
type MirrorFactory interface {
	CreateMirror(ctx context.Context, mirrorType MirrorType) (export.Mirror, io.Closer, error)
}

// mirrorFactory implements MirrorFactory from configuration
type mirrorFactory struct {
	cfg   *config.Config
	runID string

	// Overridable in tests
	openRepository func(path string) (repository.ResultRepository, error)
	openBlob       func(account, key, container, prefix string) (storage.BlobStorage, error)
}

// NewMirrorFactory creates a new mirror factory
func NewMirrorFactory(cfg *config.Config, runID string) MirrorFactory {
	return &mirrorFactory{
		cfg:   cfg,
		runID: runID,
		openRepository: func(path string) (repository.ResultRepository, error) {
			return repository.OpenSQLite(path)
		},
		openBlob: storage.NewAzureStorage,
	}
}

// CreateMirror creates a mirror based on the specified type
func (f *mirrorFactory) CreateMirror(ctx context.Context, mirrorType MirrorType) (export.Mirror, io.Closer, error) {
	switch mirrorType {
	case SQLiteMirror:
		repo, err := f.openRepository(f.cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite mirror: %w", err)
		}
		return export.NewRepositoryMirror(repo, f.runID), repo, nil
	case BlobMirror:
		store, err := f.openBlob(f.cfg.BlobAccount, f.cfg.BlobKey, f.cfg.BlobContainer, f.runID)
		if err != nil {
			return nil, nil, fmt.Errorf("creating blob mirror: %w", err)
		}
		if err := store.EnsureContainer(ctx); err != nil {
			return nil, nil, err
		}
		return export.NewBlobMirror(store), nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported mirror type: %s", mirrorType)
	}
}

// EnabledMirrors lists the mirror types the configuration asks for
func EnabledMirrors(cfg *config.Config) []MirrorType {
	var types []MirrorType
	if cfg.SQLitePath != "" {
		types = append(types, SQLiteMirror)
	}
	if cfg.BlobContainer != "" {
		types = append(types, BlobMirror)
	}
	return types
}
