// Package store is the durable SQLite state behind DATABASE_URL: markets,
// orders, trades, positions, news items and dead letters. Monetary values
// are stored as canonical decimal strings; timestamps as RFC 3339.
package store

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"sync"
	"time"

	"cosmossdk.io/log"
	"modernc.org/sqlite"

	"github.com/openpredict/predex/pkg/num"
)

// Store wraps the SQLite handle. Writes run through short transactions; the
// settlement worker owns the write path and stats queries own the read path.
type Store struct {
	db     *sql.DB
	logger log.Logger
}

var (
	registerOnce sync.Once
	registerErr  error
)

// registerDecAdd installs an exact decimal addition function so volume
// increments stay a single SQL statement instead of an application-side
// read-modify-write. TEXT-stored decimals cannot use + without dropping to
// binary floats.
func registerDecAdd() {
	registerOnce.Do(func() {
		registerErr = sqlite.RegisterDeterministicScalarFunction(
			"dec_add", 2,
			func(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
				a, ok := args[0].(string)
				if !ok {
					return nil, fmt.Errorf("dec_add: arg 0 is %T, want string", args[0])
				}
				b, ok := args[1].(string)
				if !ok {
					return nil, fmt.Errorf("dec_add: arg 1 is %T, want string", args[1])
				}
				da, err := num.NewDecFromStr(a)
				if err != nil {
					return nil, fmt.Errorf("dec_add: %w", err)
				}
				db, err := num.NewDecFromStr(b)
				if err != nil {
					return nil, fmt.Errorf("dec_add: %w", err)
				}
				return da.Add(db).String(), nil
			},
		)
	})
}

// Open opens (or creates) the database at the given DSN and runs migrations.
// A bare file path gets the standard WAL/busy-timeout pragmas appended.
func Open(dsn string, logger log.Logger) (*Store, error) {
	registerDecAdd()
	if registerErr != nil {
		return nil, fmt.Errorf("register dec_add: %w", registerErr)
	}

	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if strings.Contains(dsn, ":memory:") {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Store{db: db, logger: logger.With("module", "store")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	s.logger.Info("store opened", "dsn", dsn)
	return s, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for tests.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) migrate() error {
	version := 0
	s.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := s.db.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS markets (
				id              TEXT PRIMARY KEY,
				name            TEXT NOT NULL,
				creator         TEXT NOT NULL DEFAULT '',
				collateral_id   TEXT NOT NULL DEFAULT '',
				outcomes        TEXT NOT NULL,
				resolution_time TEXT NOT NULL DEFAULT '',
				status          TEXT NOT NULL,
				volume          TEXT NOT NULL,
				liquidity_b     TEXT NOT NULL,
				condition_id    TEXT NOT NULL DEFAULT '',
				position_ids    TEXT NOT NULL DEFAULT '[]',
				created_at      TEXT NOT NULL,
				updated_at      TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS orders (
				id            TEXT PRIMARY KEY,
				market_id     TEXT NOT NULL,
				outcome_index INTEGER NOT NULL,
				side          TEXT NOT NULL,
				type          TEXT NOT NULL,
				price         TEXT NOT NULL,
				quantity      TEXT NOT NULL,
				remaining     TEXT NOT NULL,
				status        TEXT NOT NULL,
				user_id       TEXT NOT NULL DEFAULT '',
				agent_id      TEXT NOT NULL DEFAULT '',
				envelope      TEXT NOT NULL DEFAULT '',
				created_at    TEXT NOT NULL,
				updated_at    TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_orders_market ON orders(market_id, outcome_index);
			CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id);
			CREATE INDEX IF NOT EXISTS idx_orders_agent ON orders(agent_id);

			CREATE TABLE IF NOT EXISTS trades (
				id             TEXT PRIMARY KEY,
				market_id      TEXT NOT NULL,
				outcome_index  INTEGER NOT NULL,
				price          TEXT NOT NULL,
				quantity       TEXT NOT NULL,
				side           TEXT NOT NULL,
				maker_order_id TEXT NOT NULL,
				taker_order_id TEXT NOT NULL,
				taker_user_id  TEXT NOT NULL DEFAULT '',
				taker_agent_id TEXT NOT NULL DEFAULT '',
				maker_user_id  TEXT NOT NULL DEFAULT '',
				maker_agent_id TEXT NOT NULL DEFAULT '',
				executed_at    TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_trades_market ON trades(market_id, executed_at);

			CREATE TABLE IF NOT EXISTS positions (
				id            TEXT PRIMARY KEY,
				market_id     TEXT NOT NULL,
				outcome_index INTEGER NOT NULL,
				owner         TEXT NOT NULL,
				side          TEXT NOT NULL,
				collateral    TEXT NOT NULL,
				status        TEXT NOT NULL,
				created_at    TEXT NOT NULL,
				updated_at    TEXT NOT NULL,
				UNIQUE(market_id, outcome_index, owner)
			);
			CREATE INDEX IF NOT EXISTS idx_positions_market ON positions(market_id, status);

			CREATE TABLE IF NOT EXISTS news_items (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				market_id    TEXT NOT NULL,
				title        TEXT NOT NULL,
				url          TEXT NOT NULL DEFAULT '',
				published_at TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_news_market ON news_items(market_id);

			CREATE TABLE IF NOT EXISTS dead_letters (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				queue      TEXT NOT NULL,
				payload    TEXT NOT NULL,
				reason     TEXT NOT NULL,
				created_at TEXT NOT NULL
			);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
		s.logger.Info("applied migration", "version", 1)
	}

	return nil
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// timeLayout keeps a fixed-width fraction so TEXT comparison (MAX, ORDER BY)
// matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func encodeTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func decodeTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func decodeDec(s string) num.Dec {
	d, err := num.NewDecFromStr(s)
	if err != nil {
		return num.ZeroDec()
	}
	return d
}
