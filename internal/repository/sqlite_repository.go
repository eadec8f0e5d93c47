package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/anime-shed/image-describer-go/pkg/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteRepository implements ResultRepository on a local SQLite file
type SQLiteRepository struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies migrations.
// Pass ":memory:" for an in-memory database.
func OpenSQLite(path string) (*SQLiteRepository, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// A single connection keeps :memory: databases alive and avoids "database is locked"
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	r := &SQLiteRepository{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return r, nil
}

// Close closes the database
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepository) migrate() error {
	if _, err := r.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		prefix, _, _ := strings.Cut(entry.Name(), "_")
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return fmt.Errorf("migration %s has no numeric prefix", entry.Name())
		}

		var exists int
		if err := r.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := r.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

// SaveResult inserts one row; tags are stored as a JSON array
func (r *SQLiteRepository) SaveResult(ctx context.Context, result *StoredResult) error {
	tags := result.Record.Tags
	if tags == nil {
		tags = []models.Tag{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("encoding tags: %w", err)
	}
	created := result.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	var exists int
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM results WHERE run_id = ? AND sequence = ?",
		result.RunID, result.Sequence,
	).Scan(&exists); err != nil {
		return fmt.Errorf("checking result: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: run %s sequence %d", ErrDuplicateResult, result.RunID, result.Sequence)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO results (run_id, sequence, source, caption, caption_confidence, tags, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		result.RunID, result.Sequence, result.Record.Source, result.Record.Caption,
		result.Record.CaptionConfidence, string(tagsJSON), result.Record.Error,
		created.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting result: %w", err)
	}
	return nil
}

// ListRun returns ErrRunNotFound when the run has no rows
func (r *SQLiteRepository) ListRun(ctx context.Context, runID string) ([]*StoredResult, error) {
	results, err := r.query(ctx,
		`SELECT run_id, sequence, source, caption, caption_confidence, tags, error, created_at
		 FROM results WHERE run_id = ? ORDER BY sequence`, runID)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return results, nil
}

func (r *SQLiteRepository) History(ctx context.Context, source string) ([]*StoredResult, error) {
	return r.query(ctx,
		`SELECT run_id, sequence, source, caption, caption_confidence, tags, error, created_at
		 FROM results WHERE source = ? ORDER BY created_at DESC, sequence DESC`, source)
}

func (r *SQLiteRepository) query(ctx context.Context, q string, args ...interface{}) ([]*StoredResult, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		if errors.Is(err, sql.ErrConnDone) {
			return nil, ErrRepositoryUnavailable
		}
		return nil, fmt.Errorf("querying results: %w", err)
	}
	defer rows.Close()

	var out []*StoredResult
	for rows.Next() {
		var (
			res      StoredResult
			tagsJSON string
			created  string
		)
		if err := rows.Scan(&res.RunID, &res.Sequence, &res.Record.Source, &res.Record.Caption,
			&res.Record.CaptionConfidence, &tagsJSON, &res.Record.Error, &created); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		if err := json.Unmarshal([]byte(tagsJSON), &res.Record.Tags); err != nil {
			return nil, fmt.Errorf("decoding tags: %w", err)
		}
		res.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, &res)
	}
	return out, rows.Err()
}
