package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// sqliteSchemaVersion is the current expected SQLite schema version.
const sqliteSchemaVersion = 2

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

// migration represents a single SQLite schema step.
type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered list of SQLite schema migrations.
// Each migration is applied exactly once, tracked in the schema_version table.
var migrations = []migration{
	{
		Version:     1,
		Description: "base schema: customers, sessions, conversation_history, customer_memories",
		SQL: `
		CREATE TABLE IF NOT EXISTS customers (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			phone       TEXT NOT NULL UNIQUE,
			name        TEXT NOT NULL DEFAULT '',
			created_at  DATETIME NOT NULL,
			last_seen   DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS sessions (
			session_id  TEXT PRIMARY KEY,
			customer_id INTEGER NOT NULL REFERENCES customers(id) ON DELETE CASCADE,
			status      TEXT NOT NULL DEFAULT 'active',
			started_at  DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_customer ON sessions(customer_id);

		CREATE TABLE IF NOT EXISTS conversation_history (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id     TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
			customer_id    INTEGER NOT NULL REFERENCES customers(id) ON DELETE CASCADE,
			user_message   TEXT NOT NULL,
			agent_response TEXT NOT NULL,
			message_type   TEXT NOT NULL DEFAULT 'chat',
			created_at     DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_history_customer ON conversation_history(customer_id, created_at);

		CREATE TABLE IF NOT EXISTS customer_memories (
			customer_id INTEGER NOT NULL REFERENCES customers(id) ON DELETE CASCADE,
			memory_key  TEXT NOT NULL,
			value       TEXT NOT NULL,
			updated_at  DATETIME NOT NULL,
			PRIMARY KEY (customer_id, memory_key)
		);
		`,
	},
	{
		Version:     2,
		Description: "v2: trial_users",
		SQL: `
		CREATE TABLE IF NOT EXISTS trial_users (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			customer_id       INTEGER NOT NULL REFERENCES customers(id) ON DELETE CASCADE,
			full_name         TEXT NOT NULL,
			cpf               TEXT NOT NULL,
			phone             TEXT NOT NULL,
			email             TEXT NOT NULL,
			status            TEXT NOT NULL DEFAULT 'active',
			notes             TEXT NOT NULL DEFAULT '',
			converted_to_plan TEXT NOT NULL DEFAULT '',
			trial_start_date  DATETIME NOT NULL,
			trial_end_date    DATETIME NOT NULL,
			converted_at      DATETIME,
			updated_at        DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_trials_customer ON trial_users(customer_id);
		CREATE INDEX IF NOT EXISTS idx_trials_status ON trial_users(status, trial_end_date);
		`,
	},
}

// Migrate applies pending migrations for the active backend and returns the
// resulting schema version.
func (s *Store) Migrate(ctx context.Context) (int, error) {
	if s.driver == DriverPostgres {
		return migratePostgres(s.dsn, s.logger)
	}
	if err := runSQLiteMigrations(ctx, s.db, s.logger); err != nil {
		return 0, err
	}
	return sqliteVersion(ctx, s.db)
}

// SchemaVersion returns the applied schema version without migrating.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	if s.driver == DriverPostgres {
		var version int
		err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return version, err
	}
	return sqliteVersion(ctx, s.db)
}

func runSQLiteMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := sqliteVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying migration", "version", m.Version, "description", m.Description)
		if err := applySQLiteMigration(ctx, db, m, logger); err != nil {
			return err
		}
		logger.Info("migration applied", "version", m.Version)
	}
	return nil
}

// applySQLiteMigration runs every statement of m in one transaction. Statements
// that fail because the object already exists are skipped so a database created
// by hand can be adopted.
func applySQLiteMigration(ctx context.Context, db *sql.DB, m migration, logger *slog.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration v%d: %w", m.Version, err)
	}
	defer tx.Rollback()

	for _, stmt := range splitSQL(m.SQL) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			msg := strings.ToLower(err.Error())
			if strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists") {
				logger.Debug("migration statement skipped (already applied)", "stmt_prefix", truncate(stmt, 60))
				continue
			}
			return fmt.Errorf("migration v%d statement failed: %w\nSQL: %s", m.Version, err, truncate(stmt, 200))
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
		m.Version, m.Description,
	); err != nil {
		return fmt.Errorf("record migration v%d: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration v%d: %w", m.Version, err)
	}
	return nil
}

func sqliteVersion(ctx context.Context, db *sql.DB) (int, error) {
	var name string
	err := db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var version int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return version, nil
}

// migratePostgres runs the embedded golang-migrate files against dsn.
func migratePostgres(dsn string, logger *slog.Logger) (int, error) {
	src, err := iofs.New(postgresMigrations, "migrations/postgres")
	if err != nil {
		return 0, fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return 0, fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("migrate up: %w", err)
	}

	v, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("read migration version: %w", err)
	}
	if dirty {
		return int(v), fmt.Errorf("schema version %d is dirty", v)
	}
	logger.Info("postgres schema ready", "version", v)
	return int(v), nil
}

// splitSQL splits a multi-statement SQL string on semicolons.
func splitSQL(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
