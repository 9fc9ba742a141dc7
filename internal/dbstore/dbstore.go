// Package dbstore implements the relational persistence layer backing
// every store interface declared by internal/processors, internal/reorg,
// internal/sender/manager, internal/sender/aggregator,
// internal/coordinator, and internal/verifierbridge. Grounded on the
// teacher's lightweight-wallet/db/{factory.go,stores.go} wiring (a
// Config-driven Open that picks a driver and runs migrations, followed by
// a set of narrow store structs sharing one *sql.DB), generalized to this
// rollup's own schema since the teacher's actual tapdb package — the
// thing lightweight-wallet/db wraps — isn't itself part of this
// repository's history.
//
// Two backends are supported, selected by Config.Driver: modernc.org/sqlite
// for single-node/dev deployments and lib/pq for production Postgres,
// mirroring the dual-backend split the teacher's own sqlc.BackendType
// plumbing implies. Migrations live under migrations/sqlite and
// migrations/postgres as separate embedded trees rather than one portable
// schema, since the two engines disagree on autoincrement and binary
// column syntax.
package dbstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/via-rollup/via-node/internal/logging"
)

var log = logging.NewSubsystemLogger("DBST")

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

// Backend identifies which SQL engine a DB talks to.
type Backend int

const (
	BackendSqlite Backend = iota
	BackendPostgres
)

// Config mirrors the teacher's db.Config: a backend selector, a DSN (file
// path for sqlite, connection string for Postgres), and a migration
// skip flag for callers (tests, a pre-provisioned database) that manage
// schema themselves.
type Config struct {
	Driver         string
	DSN            string
	SkipMigrations bool
}

// DB wraps a *sql.DB with the backend tag every query helper needs to
// rebind its placeholders.
type DB struct {
	*sql.DB
	backend Backend
}

// Open parses cfg.Driver, opens the corresponding database/sql driver
// against cfg.DSN, and runs pending migrations unless SkipMigrations is
// set.
func Open(cfg Config) (*DB, error) {
	var backend Backend
	var driverName string
	switch strings.ToLower(cfg.Driver) {
	case "sqlite", "sqlite3", "":
		backend = BackendSqlite
		driverName = "sqlite"
	case "postgres", "postgresql", "pq":
		backend = BackendPostgres
		driverName = "postgres"
	default:
		return nil, fmt.Errorf("dbstore: unknown driver %q", cfg.Driver)
	}

	sqlDB, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("dbstore: opening %s database: %w", cfg.Driver, err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("dbstore: pinging %s database: %w", cfg.Driver, err)
	}

	db := &DB{DB: sqlDB, backend: backend}

	if !cfg.SkipMigrations {
		if err := db.migrate(); err != nil {
			sqlDB.Close()
			return nil, err
		}
	}

	return db, nil
}

// migrate applies schema migrations for the selected backend. Postgres
// goes through golang-migrate's standard WithInstance/iofs pipeline.
// modernc.org/sqlite isn't the cgo-backed mattn/go-sqlite3 driver
// golang-migrate's own sqlite3 database driver expects, so sqlite
// migrations are instead applied directly: each embedded .sql file, in
// filename order, tracked in a schema_migrations table the same way
// golang-migrate tracks its own version — a deliberate simplification
// over forcing a second, cgo sqlite driver into the module purely to
// satisfy golang-migrate's sqlite3 driver.
func (db *DB) migrate() error {
	switch db.backend {
	case BackendPostgres:
		return db.migratePostgres()
	default:
		return db.migrateSqliteManual()
	}
}

func (db *DB) migratePostgres() error {
	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("dbstore: building postgres migration driver: %w", err)
	}

	src, err := iofs.New(postgresMigrations, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("dbstore: opening embedded postgres migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("dbstore: constructing migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("dbstore: applying postgres migrations: %w", err)
	}
	return nil
}

func (db *DB) migrateSqliteManual() error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL DEFAULT (unixepoch())
	)`); err != nil {
		return fmt.Errorf("dbstore: creating schema_migrations table: %w", err)
	}

	entries, err := sqliteMigrations.ReadDir("migrations/sqlite")
	if err != nil {
		return fmt.Errorf("dbstore: listing embedded sqlite migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".up.sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		var already int
		err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE filename = ?`, name).Scan(&already)
		if err != nil {
			return fmt.Errorf("dbstore: checking migration state for %s: %w", name, err)
		}
		if already > 0 {
			continue
		}

		contents, err := sqliteMigrations.ReadFile("migrations/sqlite/" + name)
		if err != nil {
			return fmt.Errorf("dbstore: reading embedded migration %s: %w", name, err)
		}
		if _, err := db.Exec(string(contents)); err != nil {
			return fmt.Errorf("dbstore: applying migration %s: %w", name, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_migrations(filename) VALUES (?)`, name); err != nil {
			return fmt.Errorf("dbstore: recording migration %s: %w", name, err)
		}
		log.Infof("applied migration %s", name)
	}
	return nil
}

// rebind rewrites a query written with sqlite-style "?" placeholders into
// Postgres's "$1", "$2", ... form when the DB is talking to Postgres,
// matching the pattern (though not the library — jmoiron/sqlx isn't part
// of this module's dependency set) of a single call-site query string
// rebound per backend rather than maintained twice.
func (db *DB) rebind(query string) string {
	if db.backend != BackendPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (db *DB) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return db.ExecContext(ctx, db.rebind(query), args...)
}

func (db *DB) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.QueryContext(ctx, db.rebind(query), args...)
}

func (db *DB) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return db.QueryRowContext(ctx, db.rebind(query), args...)
}

// chainhashFromString parses a txid stored in its display (byte-reversed)
// hex form back into a chainhash.Hash.
func chainhashFromString(s string) (chainhash.Hash, error) {
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("dbstore: parsing txid %q: %w", s, err)
	}
	return *h, nil
}

// isUniqueViolation reports whether err indicates a unique-constraint
// conflict, the one error shape every adapter translates into
// processors.ErrDuplicate. Matched on message substring since lib/pq and
// modernc.org/sqlite expose the condition through different concrete
// error types rather than a shared sentinel.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
