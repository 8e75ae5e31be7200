// Package sqlstore persists the local cache in SQLite or Postgres.
//
// Each entity table keeps the columns needed for lookups and ordering plus a
// JSON document with the full entity.
package sqlstore

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/m-mizutani/goerr/v2"

	// database/sql drivers
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Overland-East-Bay/club-sync/internal/ports/out/localstore"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "pgx"
)

// Store is a database/sql implementation of localstore.Store.
type Store struct {
	db      *sql.DB
	dialect Dialect
	closed  atomic.Bool
}

// OpenSQLite opens (creating if needed) the on-device database at path.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000"
	}
	db, err := sql.Open(string(DialectSQLite), dsn)
	if err != nil {
		return nil, goerr.Wrap(err, "open sqlite", goerr.V("path", path))
	}
	// SQLite allows one writer; a single connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	return newStore(ctx, db, DialectSQLite)
}

// OpenPostgres connects through the pgx database/sql driver.
func OpenPostgres(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open(string(DialectPostgres), databaseURL)
	if err != nil {
		return nil, goerr.Wrap(err, "open postgres")
	}
	return newStore(ctx, db, DialectPostgres)
}

func newStore(ctx context.Context, db *sql.DB, d Dialect) (*Store, error) {
	s := &Store{db: db, dialect: d}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(err, "ping database", goerr.V("dialect", d))
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for i, stmt := range schema(s.dialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return goerr.Wrap(err, "apply schema", goerr.V("statement", i))
		}
	}
	return nil
}

func (s *Store) View(ctx context.Context, fn func(tx localstore.Tx) error) error {
	return s.run(ctx, true, fn)
}

func (s *Store) Update(ctx context.Context, fn func(tx localstore.Tx) error) error {
	return s.run(ctx, false, fn)
}

func (s *Store) run(ctx context.Context, readOnly bool, fn func(tx localstore.Tx) error) error {
	if s.closed.Load() {
		return localstore.ErrClosed
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "begin transaction")
	}
	t := &tx{ctx: ctx, tx: sqlTx, dialect: s.dialect, readOnly: readOnly}
	if err := fn(t); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if readOnly {
		_ = sqlTx.Rollback()
		return nil
	}
	if err := sqlTx.Commit(); err != nil {
		return wrapWrite(err, "commit transaction")
	}
	return nil
}

func (s *Store) Flush(ctx context.Context) error {
	return s.Update(ctx, func(ltx localstore.Tx) error {
		t := ltx.(*tx)
		for _, table := range entityTables {
			if _, err := t.exec("DELETE FROM " + table); err != nil {
				return goerr.Wrap(err, "flush table", goerr.V("table", table))
			}
		}
		return nil
	})
}

func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// Idempotency returns the viewer API idempotency store sharing this database.
func (s *Store) Idempotency() *IdempotencyStore {
	return &IdempotencyStore{db: s.db, dialect: s.dialect}
}

type tx struct {
	ctx      context.Context
	tx       *sql.Tx
	dialect  Dialect
	readOnly bool
}

func (t *tx) Users() localstore.UserRepository { return users{t} }

func (t *tx) Divisions() localstore.DivisionRepository { return divisions{t} }

func (t *tx) Events() localstore.EventRepository { return events{t} }

func (t *tx) Messages() localstore.MessageRepository { return messages{t} }

func (t *tx) Attendance() localstore.AttendanceRepository { return attendance{t} }

func (t *tx) writable() error {
	if t.readOnly {
		return localstore.ErrReadOnly
	}
	return nil
}

func (t *tx) exec(query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(t.ctx, rebind(t.dialect, query), args...)
}

func (t *tx) query(query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(t.ctx, rebind(t.dialect, query), args...)
}

func (t *tx) queryRow(query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(t.ctx, rebind(t.dialect, query), args...)
}

// rebind rewrites ? placeholders to $n for Postgres.
func rebind(d Dialect, query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, goerr.Wrap(err, "rows affected")
	}
	return n > 0, nil
}
