// Package postgres owns the process-wide PostgreSQL connection pool and the
// schema migrations for the subscriptions and projects tables.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// ErrNotConfigured is returned when no database URL is configured
var ErrNotConfigured = errors.New("persistence is not configured")

// ConnectionConfig holds database connection configuration
type ConnectionConfig struct {
	URL         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// Source opens the pool on first use and hands the same *sql.DB to every
// caller. Concurrent first calls wait on a single open attempt. A failed
// attempt is not cached, so the next caller tries again.
type Source struct {
	config ConnectionConfig
	open   func(driverName, dsn string) (*sql.DB, error)

	mu     sync.Mutex
	db     *sql.DB
	opened atomic.Pointer[sql.DB]
}

// NewSource creates a lazy source for config
func NewSource(config ConnectionConfig) *Source {
	return &Source{config: config, open: sql.Open}
}

// FromDB wraps an already open pool, used by tests and tools
func FromDB(db *sql.DB) *Source {
	s := &Source{db: db}
	s.opened.Store(db)
	return s
}

// DB returns the shared pool, opening and pinging it until a call succeeds
func (s *Source) DB() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db, nil
	}
	db, err := s.connect()
	if err != nil {
		return nil, err
	}
	s.db = db
	s.opened.Store(db)
	return db, nil
}

func (s *Source) connect() (*sql.DB, error) {
	if s.config.URL == "" {
		return nil, ErrNotConfigured
	}

	db, err := s.open("postgres", s.config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if s.config.MaxConns > 0 {
		db.SetMaxOpenConns(s.config.MaxConns)
	}
	if s.config.MinConns > 0 {
		db.SetMaxIdleConns(s.config.MinConns)
	}
	db.SetConnMaxLifetime(s.config.MaxLifetime)
	db.SetConnMaxIdleTime(s.config.MaxIdleTime)

	timeout := s.config.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// Stats returns pool statistics, or zero values before the pool is open
func (s *Source) Stats() sql.DBStats {
	db := s.opened.Load()
	if db == nil {
		return sql.DBStats{}
	}
	return db.Stats()
}

// Close closes the pool if it was opened
func (s *Source) Close() error {
	db := s.opened.Load()
	if db == nil {
		return nil
	}
	return db.Close()
}
