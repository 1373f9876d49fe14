package session

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"tafkit/internal/config"
	"tafkit/internal/registry"
	"tafkit/internal/urlimport"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes.
const schemaVersion = 1

const (
	metaOutputName = "output_name"
	metaQuality    = "quality"

	lockRetryDelay = 100 * time.Millisecond

	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

var (
	// ErrLocked is returned when another process holds the session lock.
	ErrLocked = errors.New("session is locked by another tafkit process")
	// ErrSchemaMismatch indicates a database written by an incompatible version.
	ErrSchemaMismatch = errors.New("schema version mismatch")
)

// State is everything persisted between invocations.
type State struct {
	Registry registry.Snapshot
	URLItems []urlimport.Item
	Quality  string
}

// Store is the SQLite-backed session.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
	path string
}

// Open acquires the session lock and opens the database.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	lock := flock.New(cfg.SessionLockPath())
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrLocked, ctx.Err())
		}
		return nil, fmt.Errorf("acquire session lock: %w", err)
	}
	if !locked {
		return nil, ErrLocked
	}

	dbPath := cfg.SessionDBPath()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			_ = lock.Unlock()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, lock: lock, path: dbPath}
	if err := store.initSchema(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database and releases the lock.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	if s.lock != nil {
		errs = append(errs, s.lock.Unlock())
	}
	return errors.Join(errs...)
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to reset the session)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Load reads the persisted state. A fresh database yields an empty State.
func (s *Store) Load(ctx context.Context) (State, error) {
	var state State

	rows, err := s.db.QueryContext(ctx, `SELECT id, origin, name, size_bytes, duration_seconds,
		uploader, origin_info, local_path, server_path FROM sources ORDER BY position`)
	if err != nil {
		return State{}, fmt.Errorf("query sources: %w", err)
	}
	for rows.Next() {
		var src registry.Source
		var origin string
		if err := rows.Scan(&src.ID, &origin, &src.Name, &src.SizeBytes, &src.DurationSeconds,
			&src.Uploader, &src.OriginInfo, &src.LocalPath, &src.ServerPath); err != nil {
			_ = rows.Close()
			return State{}, fmt.Errorf("scan source: %w", err)
		}
		src.Origin = registry.Origin(origin)
		state.Registry.Sources = append(state.Registry.Sources, src)
	}
	if err := closeRows(rows); err != nil {
		return State{}, fmt.Errorf("iterate sources: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `SELECT id, url, title, duration, thumbnail, uploader,
		source_label, status, progress, error, file_path FROM url_items ORDER BY position`)
	if err != nil {
		return State{}, fmt.Errorf("query url items: %w", err)
	}
	for rows.Next() {
		var it urlimport.Item
		var status string
		if err := rows.Scan(&it.ID, &it.URL, &it.Title, &it.Duration, &it.Thumbnail, &it.Uploader,
			&it.SourceLabel, &status, &it.Progress, &it.Error, &it.FilePath); err != nil {
			_ = rows.Close()
			return State{}, fmt.Errorf("scan url item: %w", err)
		}
		it.Status = urlimport.Status(status)
		state.URLItems = append(state.URLItems, it)
	}
	if err := closeRows(rows); err != nil {
		return State{}, fmt.Errorf("iterate url items: %w", err)
	}

	meta, err := s.loadMeta(ctx)
	if err != nil {
		return State{}, err
	}
	state.Registry.OutputName = meta[metaOutputName]
	state.Quality = meta[metaQuality]
	return state, nil
}

func (s *Store) loadMeta(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM meta")
	if err != nil {
		return nil, fmt.Errorf("query meta: %w", err)
	}
	meta := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan meta: %w", err)
		}
		meta[key] = value
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("iterate meta: %w", err)
	}
	return meta, nil
}

// Save replaces the persisted state in one transaction.
func (s *Store) Save(ctx context.Context, state State) error {
	return retryOnBusy(ctx, func() error {
		return s.save(ctx, state)
	})
}

func (s *Store) save(ctx context.Context, state State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{"DELETE FROM sources", "DELETE FROM url_items", "DELETE FROM meta"} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("reset session: %w", err)
		}
	}

	for i, src := range state.Registry.Sources {
		if _, err := tx.ExecContext(ctx, `INSERT INTO sources (position, id, origin, name, size_bytes,
			duration_seconds, uploader, origin_info, local_path, server_path)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			i, src.ID, string(src.Origin), src.Name, src.SizeBytes, src.DurationSeconds,
			src.Uploader, src.OriginInfo, src.LocalPath, src.ServerPath); err != nil {
			return fmt.Errorf("insert source %s: %w", src.ID, err)
		}
	}

	for i, it := range state.URLItems {
		if _, err := tx.ExecContext(ctx, `INSERT INTO url_items (position, id, url, title, duration,
			thumbnail, uploader, source_label, status, progress, error, file_path)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			i, it.ID, it.URL, it.Title, it.Duration, it.Thumbnail, it.Uploader,
			it.SourceLabel, string(it.Status), it.Progress, it.Error, it.FilePath); err != nil {
			return fmt.Errorf("insert url item %s: %w", it.ID, err)
		}
	}

	meta := map[string]string{
		metaOutputName: state.Registry.OutputName,
		metaQuality:    state.Quality,
	}
	for key, value := range meta {
		if _, err := tx.ExecContext(ctx, "INSERT INTO meta (key, value) VALUES (?, ?)", key, value); err != nil {
			return fmt.Errorf("insert meta %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	return nil
}

func closeRows(rows *sql.Rows) error {
	iterErr := rows.Err()
	closeErr := rows.Close()
	return errors.Join(iterErr, closeErr)
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
