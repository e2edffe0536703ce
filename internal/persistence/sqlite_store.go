// Package persistence stores the processing cache and job history in an
// embedded SQLite database.
package persistence

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

	"github.com/MimeLyc/sidecar-translator/internal/cache"
	"github.com/MimeLyc/sidecar-translator/internal/inventory"
	"github.com/MimeLyc/sidecar-translator/internal/jobs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore implements cache.Store and jobs.Store.
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ cache.Store = (*SQLiteStore)(nil)
	_ jobs.Store  = (*SQLiteStore)(nil)
)

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers; merges run in transactions on it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) GetEntry(ctx context.Context, fingerprint string) (*cache.Entry, error) {
	return getEntry(ctx, s.db, fingerprint)
}

func getEntry(ctx context.Context, q queryer, fingerprint string) (*cache.Entry, error) {
	row := q.QueryRowContext(
		ctx,
		`SELECT fingerprint, path, completed_json, failed_json, policy, probed, streams_json, supersedes, updated_at
		 FROM cache_entries
		 WHERE fingerprint = ?`,
		fingerprint,
	)

	var (
		e                                    cache.Entry
		completedJSON, failedJSON, streamsJS string
		probed, supersedes                   int
	)
	if err := row.Scan(&e.Fingerprint, &e.Path, &completedJSON, &failedJSON, &e.Policy, &probed, &streamsJS, &supersedes, &e.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(completedJSON), &e.Completed); err != nil {
		return nil, fmt.Errorf("decode completed: %w", err)
	}
	if err := json.Unmarshal([]byte(failedJSON), &e.Failed); err != nil {
		return nil, fmt.Errorf("decode failed: %w", err)
	}
	if err := json.Unmarshal([]byte(streamsJS), &e.Streams); err != nil {
		return nil, fmt.Errorf("decode streams: %w", err)
	}
	e.Probed = probed == 1
	e.Supersedes = supersedes == 1
	return &e, nil
}

// MergeEntry folds update into the stored row inside one transaction. The
// first write of a new fingerprint removes older fingerprints of the same
// path and marks the new row as superseding them.
func (s *SQLiteStore) MergeEntry(ctx context.Context, update cache.Entry) (_ *cache.Entry, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	existing, err := getEntry(ctx, tx, update.Fingerprint)
	if err != nil {
		return nil, err
	}
	if existing == nil && update.Path != "" {
		res, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE path = ? AND fingerprint <> ?`, update.Path, update.Fingerprint)
		if err != nil {
			return nil, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			update.Supersedes = true
		}
	}

	merged := cache.Merge(existing, update)
	if err = upsertEntry(ctx, tx, merged); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return &merged, nil
}

func upsertEntry(ctx context.Context, tx *sql.Tx, e cache.Entry) error {
	completedJSON, err := marshalList(e.Completed)
	if err != nil {
		return err
	}
	failedJSON, err := marshalList(e.Failed)
	if err != nil {
		return err
	}
	streams := e.Streams
	if streams == nil {
		streams = []inventory.Stream{}
	}
	streamsJSON, err := json.Marshal(streams)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO cache_entries (
			fingerprint, path, completed_json, failed_json, policy, probed, streams_json, supersedes, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			path=excluded.path,
			completed_json=excluded.completed_json,
			failed_json=excluded.failed_json,
			policy=excluded.policy,
			probed=excluded.probed,
			streams_json=excluded.streams_json,
			supersedes=excluded.supersedes,
			updated_at=excluded.updated_at`,
		e.Fingerprint,
		e.Path,
		completedJSON,
		failedJSON,
		e.Policy,
		boolToInt(e.Probed),
		string(streamsJSON),
		boolToInt(e.Supersedes),
		e.UpdatedAt.UTC(),
	)
	return err
}

func (s *SQLiteStore) DeletePath(ctx context.Context, path string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE path = ?`, path)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) EntryPaths(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT path FROM cache_entries ORDER BY path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ret []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		ret = append(ret, p)
	}
	return ret, rows.Err()
}

func (s *SQLiteStore) LoadJobs(ctx context.Context) ([]*jobs.Job, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, origin, path, fingerprint, target, source, stream_index, subtitle_index, codec, state, attempts, error, created_at, updated_at
		 FROM jobs
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*jobs.Job, 0)
	for rows.Next() {
		var item jobs.Job
		var state string
		if err := rows.Scan(
			&item.ID,
			&item.Origin,
			&item.Path,
			&item.Fingerprint,
			&item.Target,
			&item.Source,
			&item.StreamIndex,
			&item.SubtitleIndex,
			&item.Codec,
			&state,
			&item.Attempts,
			&item.Error,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, err
		}
		item.State = jobs.State(state)
		ret = append(ret, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) UpsertJob(ctx context.Context, job *jobs.Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
			id, origin, path, fingerprint, target, source, stream_index, subtitle_index, codec, state, attempts, error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state=excluded.state,
			attempts=excluded.attempts,
			error=excluded.error,
			updated_at=excluded.updated_at`,
		job.ID,
		job.Origin,
		job.Path,
		job.Fingerprint,
		job.Target,
		job.Source,
		job.StreamIndex,
		job.SubtitleIndex,
		job.Codec,
		string(job.State),
		job.Attempts,
		job.Error,
		job.CreatedAt.UTC(),
		job.UpdatedAt.UTC(),
	)
	return err
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID)
	return err
}

func marshalList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	data, err := json.Marshal(list)
	return string(data), err
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
