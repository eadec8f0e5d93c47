package repository

import (
	"context"
	"time"

	"github.com/anime-shed/image-describer-go/pkg/models"
)

// ResultRepository mirrors result records into queryable storage
type ResultRepository interface {
	// SaveResult stores one record; (RunID, Sequence) must be unique
	SaveResult(ctx context.Context, result *StoredResult) error

	// ListRun returns the records of one run in sequence order
	ListRun(ctx context.Context, runID string) ([]*StoredResult, error)

	// History returns every stored record for a source, newest first
	History(ctx context.Context, source string) ([]*StoredResult, error)

	Close() error
}

// StoredResult is a ResultRecord with its position in a run
type StoredResult struct {
	RunID     string              `json:"run_id"`
	Sequence  int                 `json:"sequence"`
	Record    models.ResultRecord `json:"record"`
	CreatedAt time.Time           `json:"created_at"`
}
