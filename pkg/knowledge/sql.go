package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	// DriverSQLite selects the embedded modernc.org/sqlite driver.
	DriverSQLite = "sqlite"
	// DriverPostgres selects the lib/pq driver.
	DriverPostgres = "postgres"

	defaultOpTimeout = 2 * time.Second
)

var schemas = map[string]string{
	DriverSQLite: `
		CREATE TABLE IF NOT EXISTS memes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			question_key TEXT NOT NULL UNIQUE,
			question TEXT NOT NULL,
			answer TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
	DriverPostgres: `
		CREATE TABLE IF NOT EXISTS memes (
			id BIGSERIAL PRIMARY KEY,
			question_key TEXT NOT NULL UNIQUE,
			question TEXT NOT NULL,
			answer TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
}

type sqlConfig struct {
	opTimeout time.Duration
	logger    *slog.Logger
}

// SQLOption mutates SQL store configuration.
type SQLOption func(*sqlConfig)

// WithOpTimeout bounds every store call.
func WithOpTimeout(timeout time.Duration) SQLOption {
	return func(cfg *sqlConfig) {
		if timeout > 0 {
			cfg.opTimeout = timeout
		}
	}
}

// WithLogger configures structured logging.
func WithLogger(logger *slog.Logger) SQLOption {
	return func(cfg *sqlConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// SQL is a Store backed by sqlite or postgres through sqlx.
//
// Every database failure, including an exceeded op timeout, is reported as
// ErrTransient.
type SQL struct {
	cfg sqlConfig
	db  *sqlx.DB
}

// OpenSQL connects to dsn with driverName and creates the schema.
// For sqlite, dsn is a file path whose parent directory is created.
func OpenSQL(ctx context.Context, driverName, dsn string, options ...SQLOption) (*SQL, error) {
	schema, ok := schemas[driverName]
	if !ok {
		return nil, fmt.Errorf("open knowledge store: unsupported driver %q", driverName)
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("open knowledge store: empty dsn")
	}

	cfg := sqlConfig{opTimeout: defaultOpTimeout, logger: slog.Default()}
	for _, option := range options {
		option(&cfg)
	}

	if driverName == DriverSQLite && dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("open knowledge store: create directory: %w", err)
		}
	}

	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open knowledge store: %w", err)
	}
	if driverName == DriverSQLite {
		// One writer at a time; sqlite serializes writes anyway.
		db.SetMaxOpenConns(1)
	}

	store := &SQL{cfg: cfg, db: db}
	if err := store.init(ctx, driverName, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open knowledge store: %w", err)
	}
	cfg.logger.InfoContext(ctx, "knowledge store ready", "driver", driverName)

	return store, nil
}

func (s *SQL) init(ctx context.Context, driverName, schema string) error {
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.opTimeout)
	defer cancel()

	if err := s.db.PingContext(opCtx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if driverName == DriverSQLite {
		if _, err := s.db.ExecContext(opCtx, "PRAGMA busy_timeout = 5000"); err != nil {
			return fmt.Errorf("set busy timeout: %w", err)
		}
	}
	if _, err := s.db.ExecContext(opCtx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	return nil
}

// Close releases the connection pool.
func (s *SQL) Close() error {
	return s.db.Close()
}

// Exists reports whether question is stored.
func (s *SQL) Exists(ctx context.Context, question string) (bool, error) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	var count int
	query := s.db.Rebind(`SELECT COUNT(1) FROM memes WHERE question_key = ?`)
	if err := s.db.GetContext(opCtx, &count, query, Key(question)); err != nil {
		return false, transient("exists", err)
	}

	return count > 0, nil
}

// Read returns the answer for question.
func (s *SQL) Read(ctx context.Context, question string) (string, bool, error) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	var answer string
	query := s.db.Rebind(`SELECT answer FROM memes WHERE question_key = ?`)
	err := s.db.GetContext(opCtx, &answer, query, Key(question))
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, transient("read", err)
	}

	return answer, true, nil
}

// Create stores a new pair.
func (s *SQL) Create(ctx context.Context, question, answer string) error {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	query := s.db.Rebind(`
		INSERT INTO memes (question_key, question, answer, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (question_key) DO NOTHING`)
	result, err := s.db.ExecContext(opCtx, query, Key(question), question, answer, time.Now().UTC())
	if err != nil {
		return transient("create", err)
	}

	return requireAffected("create", question, result, ErrExists)
}

// Update replaces the answer of a stored question.
func (s *SQL) Update(ctx context.Context, question, answer string) error {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	query := s.db.Rebind(`UPDATE memes SET answer = ? WHERE question_key = ?`)
	result, err := s.db.ExecContext(opCtx, query, answer, Key(question))
	if err != nil {
		return transient("update", err)
	}

	return requireAffected("update", question, result, ErrNotFound)
}

// Destroy removes a stored question.
func (s *SQL) Destroy(ctx context.Context, question string) error {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	query := s.db.Rebind(`DELETE FROM memes WHERE question_key = ?`)
	result, err := s.db.ExecContext(opCtx, query, Key(question))
	if err != nil {
		return transient("destroy", err)
	}

	return requireAffected("destroy", question, result, ErrNotFound)
}

// All lists stored questions in insertion order.
func (s *SQL) All(ctx context.Context) ([]string, error) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	questions := []string{}
	if err := s.db.SelectContext(opCtx, &questions, `SELECT question FROM memes ORDER BY id`); err != nil {
		return nil, transient("all", err)
	}

	return questions, nil
}

// Entries lists stored pairs in insertion order.
func (s *SQL) Entries(ctx context.Context) ([]Entry, error) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	entries := []Entry{}
	if err := s.db.SelectContext(opCtx, &entries, `SELECT question, answer FROM memes ORDER BY id`); err != nil {
		return nil, transient("entries", err)
	}

	return entries, nil
}

func (s *SQL) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.opTimeout)
}

func transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
}

func requireAffected(op, question string, result sql.Result, missing error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return transient(op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s %q: %w", op, question, missing)
	}

	return nil
}

var _ Store = (*SQL)(nil)
