// Package store implements the durable persistence layer (§4.A): users, sessions, rooms, memberships,
// messages, and push subscriptions, backed by a single SQLite file. Writes are funneled through one
// goroutine acting as an mpsc inbox (§5 "Store writer"); reads are served from a separate connection
// pool so no reader ever blocks behind a write lock.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/campfire-chat/campfire-server/internal/store/migrations"
)

// Store is the durable persistence layer. The zero value is not usable; construct with Connect.
type Store struct {
	write *sql.DB
	read  *sql.DB
	log   zerolog.Logger

	jobs chan writeJob
	done chan struct{}
}

// writeJob is a single unit of work submitted to the writer goroutine's inbox.
type writeJob struct {
	fn   func(*sql.Tx) error
	resp chan error
}

// Connect opens the SQLite file at path (creating its parent directory if needed), configures WAL mode
// for reader/writer concurrency, and returns a Store with its writer goroutine not yet started — call
// Run to start draining the write inbox.
func Connect(ctx context.Context, path string, readMaxConns int, logger zerolog.Logger) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"

	write, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open write connection: %w", err)
	}
	// A single open connection turns the writer pool itself into the single-writer discipline §5
	// describes; the writer goroutine below is the other half (no writes happen outside its loop).
	write.SetMaxOpenConns(1)
	write.SetConnMaxLifetime(0)

	read, err := sql.Open("sqlite", dsn)
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("open read connection: %w", err)
	}
	if readMaxConns < 1 {
		readMaxConns = 4
	}
	read.SetMaxOpenConns(readMaxConns)

	if err := write.PingContext(ctx); err != nil {
		write.Close()
		read.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{
		write: write,
		read:  read,
		log:   logger.With().Str("component", "store").Logger(),
		jobs:  make(chan writeJob, 64),
		done:  make(chan struct{}),
	}, nil
}

// Migrate applies all pending forward-only migrations using the embedded SQL files.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// WriteDB exposes the writer connection so Migrate can run against it before Run starts draining jobs.
func (s *Store) WriteDB() *sql.DB { return s.write }

// Run drains the write inbox until ctx is cancelled. It must run in its own goroutine; Write blocks
// until Run is draining jobs.
func (s *Store) Run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.jobs:
			job.resp <- s.runWriteJob(ctx, job.fn)
		}
	}
}

func (s *Store) runWriteJob(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit write tx: %w", err)
	}
	return nil
}

// Write submits fn to the writer goroutine's inbox and blocks until it has run inside a transaction
// and committed (or rolled back on error). Safe to call from any goroutine; fn itself must not spawn
// other Write calls (the inbox has no reentrancy).
func (s *Store) Write(ctx context.Context, fn func(*sql.Tx) error) error {
	resp := make(chan error, 1)
	select {
	case s.jobs <- writeJob{fn: fn, resp: resp}:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return fmt.Errorf("store writer stopped")
	}

	select {
	case err := <-resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Read returns the pooled read-only connection for SELECT-only repository methods.
func (s *Store) Read() *sql.DB { return s.read }

// Close closes both connections. Callers should stop submitting writes (cancel the Run context) before
// calling Close.
func (s *Store) Close() error {
	writeErr := s.write.Close()
	readErr := s.read.Close()
	if writeErr != nil {
		return writeErr
	}
	return readErr
}

// Now returns the current time truncated to millisecond resolution, matching the monotonic-UTC,
// millisecond-precision timestamps required by §3.
func Now() time.Time { return time.Now().UTC().Truncate(time.Millisecond) }
