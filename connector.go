package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/orian/configdesk/logger"
)

// StoreConfig describes where the document store lives.
type StoreConfig struct {
	Driver string `yaml:"driver"`

	// Path is the DuckDB database file; empty means in-memory.
	Path string `yaml:"path"`

	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`

	// ConflictRetries bounds how often a conflicting write is retried.
	ConflictRetries int `yaml:"conflict_retries"`
}

// DSN returns the data source name for the configured driver.
func (c StoreConfig) DSN() string {
	if !isPostgres(c.Driver) {
		return c.Path
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.Username, c.Password),
		Host:   c.Host + ":" + strconv.Itoa(c.Port),
		Path:   "/" + c.Database,
	}
	if c.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {c.SSLMode}}.Encode()
	}
	return u.String()
}

func isPostgres(driver string) bool {
	d := strings.ToLower(driver)
	return d == DriverPostgres || d == "pgx"
}

// StoreConnector owns the process-wide database handle. It opens the store
// lazily, runs migrations on every (re)connect and reopens the handle when
// it has been closed underneath its users.
//
// Connect must not be called while other goroutines have operations in
// flight on the previous handle.
type StoreConnector struct {
	cfg     StoreConfig
	dialect dialect
	log     *logger.Logger

	mu sync.Mutex
	db *sql.DB

	// writes serializes in-process writers per collection.
	writes *keyedMutex
}

func NewStoreConnector(cfg StoreConfig, log *logger.Logger) (*StoreConnector, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &StoreConnector{
		cfg:     cfg,
		dialect: d,
		log:     log.With("component", "StoreConnector", "driver", d.Name()),
		writes:  newKeyedMutex(),
	}, nil
}

// Connect closes any previous handle and opens a fresh one.
func (c *StoreConnector) Connect(ctx context.Context) (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *StoreConnector) connectLocked(ctx context.Context) (*sql.DB, error) {
	if c.db != nil {
		_ = c.db.Close()
		c.db = nil
	}

	db, err := sql.Open(c.dialect.DriverName(), c.cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", c.dialect.Name(), err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach %s: %w", c.dialect.Name(), err)
	}
	if err := RunMigrations(ctx, db, c.dialect, c.log); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	c.db = db
	c.log.Info("Document store connected", "target", c.describe())
	return db, nil
}

// DB returns the current handle, connecting first when there is none.
func (c *StoreConnector) DB(ctx context.Context) (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		return c.db, nil
	}
	return c.connectLocked(ctx)
}

// Do runs fn against the current handle. When fn fails because the handle
// was closed underneath it, the store is reopened and fn runs once more.
func (c *StoreConnector) Do(ctx context.Context, fn func(db *sql.DB) error) error {
	db, err := c.DB(ctx)
	if err != nil {
		return err
	}
	err = fn(db)
	if err == nil || !isClosedHandle(err) {
		return err
	}

	c.log.Warn("Document store handle closed, reconnecting", "error", err)
	db, err = c.reconnect(ctx, db)
	if err != nil {
		return err
	}
	return fn(db)
}

// reconnect replaces stale unless another caller already did.
func (c *StoreConnector) reconnect(ctx context.Context, stale *sql.DB) (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil && c.db != stale {
		return c.db, nil
	}
	return c.connectLocked(ctx)
}

// lockCollection blocks other in-process writers of collection until the
// returned func is called.
func (c *StoreConnector) lockCollection(collection string) func() {
	return c.writes.Lock(collection)
}

// Dialect is the SQL dialect of the configured store.
func (c *StoreConnector) Dialect() dialect {
	return c.dialect
}

// Close releases the handle. A later DB call reconnects.
func (c *StoreConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

func (c *StoreConnector) describe() string {
	if isPostgres(c.cfg.Driver) {
		return fmt.Sprintf("%s@%s:%d/%s", c.cfg.Username, c.cfg.Host, c.cfg.Port, c.cfg.Database)
	}
	if c.cfg.Path == "" {
		return "duckdb (in-memory)"
	}
	return c.cfg.Path
}

func isClosedHandle(err error) bool {
	return errors.Is(err, sql.ErrConnDone) || strings.Contains(err.Error(), "database is closed")
}
