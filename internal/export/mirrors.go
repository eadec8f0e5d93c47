package export

import (
	"context"
	"time"

	"github.com/anime-shed/image-describer-go/internal/repository"
	"github.com/anime-shed/image-describer-go/internal/storage"
)

// RepositoryMirror stores every record in a ResultRepository
type RepositoryMirror struct {
	repo  repository.ResultRepository
	runID string
}

// NewRepositoryMirror creates a mirror saving records for runID into repo
func NewRepositoryMirror(repo repository.ResultRepository, runID string) *RepositoryMirror {
	return &RepositoryMirror{repo: repo, runID: runID}
}

// Name implements Mirror
func (m *RepositoryMirror) Name() string { return "sqlite" }

// Mirror saves the record of e; the slug is unused
func (m *RepositoryMirror) Mirror(ctx context.Context, e Entry, _ string) error {
	return m.repo.SaveResult(ctx, &repository.StoredResult{
		RunID:     m.runID,
		Sequence:  e.Sequence,
		Record:    e.Record,
		CreatedAt: time.Now().UTC(),
	})
}

// BlobMirror uploads raw payloads of successful items as <slug>.json
type BlobMirror struct {
	store storage.BlobStorage
}

// NewBlobMirror creates a mirror uploading raw payloads to store
func NewBlobMirror(store storage.BlobStorage) *BlobMirror {
	return &BlobMirror{store: store}
}

// Name implements Mirror
func (m *BlobMirror) Name() string { return "blob" }

// Mirror uploads the raw payload as <slug>.json when both are present
func (m *BlobMirror) Mirror(ctx context.Context, e Entry, slug string) error {
	if slug == "" || len(e.Raw) == 0 {
		return nil
	}
	return m.store.Upload(ctx, slug+".json", e.Raw, "application/json")
}
