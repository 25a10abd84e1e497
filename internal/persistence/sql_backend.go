package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

// dialect holds the statements that differ between SQL engines.
type dialect struct {
	name        string
	schema      string
	placeholder func(n int) string
	duplicate   func(err error) bool
}

var (
	sqliteDialect = dialect{
		name: "sqlite",
		schema: `CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			revision INTEGER NOT NULL,
			body BLOB NOT NULL
		)`,
		placeholder: func(int) string { return "?" },
		duplicate: func(err error) bool {
			return strings.Contains(err.Error(), "UNIQUE constraint failed")
		},
	}

	postgresDialect = dialect{
		name: "postgres",
		schema: `CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			revision BIGINT NOT NULL,
			body BYTEA NOT NULL
		)`,
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
		duplicate: func(err error) bool {
			var pgErr *pgconn.PgError
			return errors.As(err, &pgErr) && pgErr.Code == "23505"
		},
	}

	mysqlDialect = dialect{
		name: "mysql",
		schema: `CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(255) NOT NULL PRIMARY KEY,
			revision BIGINT UNSIGNED NOT NULL,
			body LONGBLOB NOT NULL
		)`,
		placeholder: func(int) string { return "?" },
		duplicate: func(err error) bool {
			var myErr *mysql.MySQLError
			return errors.As(err, &myErr) && myErr.Number == 1062
		},
	}
)

// SQLBackend is a Backend storing one row per document in a single table.
//
// It expects an *sql.DB opened with the matching driver; the caller is
// responsible for importing it, e.g.:
//
//	import _ "modernc.org/sqlite"
//	import _ "github.com/jackc/pgx/v5/stdlib"
//	import _ "github.com/go-sql-driver/mysql"
type SQLBackend struct {
	db      *sql.DB
	table   string
	dialect dialect

	loadSQL    string
	insertSQL  string
	replaceSQL string
	removeSQL  string
}

var _ Backend = (*SQLBackend)(nil)

// NewSQLiteBackend initializes table in a SQLite database.
func NewSQLiteBackend(ctx context.Context, db *sql.DB, table string) (*SQLBackend, error) {
	return newSQLBackend(ctx, db, table, sqliteDialect)
}

// NewPostgresBackend initializes table in a PostgreSQL database.
func NewPostgresBackend(ctx context.Context, db *sql.DB, table string) (*SQLBackend, error) {
	return newSQLBackend(ctx, db, table, postgresDialect)
}

// NewMySQLBackend initializes table in a MySQL database.
func NewMySQLBackend(ctx context.Context, db *sql.DB, table string) (*SQLBackend, error) {
	return newSQLBackend(ctx, db, table, mysqlDialect)
}

func newSQLBackend(ctx context.Context, db *sql.DB, table string, d dialect) (*SQLBackend, error) {
	if table == "" {
		table = DefaultIndex
	}
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	p := d.placeholder
	b := &SQLBackend{
		db:         db,
		table:      table,
		dialect:    d,
		loadSQL:    fmt.Sprintf("SELECT revision, body FROM %s WHERE id = %s", table, p(1)),
		insertSQL:  fmt.Sprintf("INSERT INTO %s (id, revision, body) VALUES (%s, 1, %s)", table, p(1), p(2)),
		replaceSQL: fmt.Sprintf("UPDATE %s SET revision = %s, body = %s WHERE id = %s AND revision = %s", table, p(1), p(2), p(3), p(4)),
		removeSQL:  fmt.Sprintf("DELETE FROM %s WHERE id = %s", table, p(1)),
	}
	if err := b.initSchema(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *SQLBackend) initSchema(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, fmt.Sprintf(b.dialect.schema, b.table))
	if err != nil {
		return fmt.Errorf("%s: init schema: %w", b.dialect.name, err)
	}
	return nil
}

func (b *SQLBackend) Load(ctx context.Context, id string) (Document, error) {
	doc := Document{ID: id}
	err := b.db.QueryRowContext(ctx, b.loadSQL, id).Scan(&doc.Revision, &doc.Body)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (b *SQLBackend) Insert(ctx context.Context, id string, body []byte) (uint64, error) {
	_, err := b.db.ExecContext(ctx, b.insertSQL, id, body)
	if err != nil {
		if b.dialect.duplicate(err) {
			return 0, ErrExists
		}
		return 0, err
	}
	return 1, nil
}

func (b *SQLBackend) Replace(ctx context.Context, id string, rev uint64, body []byte) (uint64, error) {
	res, err := b.db.ExecContext(ctx, b.replaceSQL, rev+1, body, id, rev)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		if _, lerr := b.Load(ctx, id); errors.Is(lerr, ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, ErrConflict
	}
	return rev + 1, nil
}

func (b *SQLBackend) Remove(ctx context.Context, id string) error {
	res, err := b.db.ExecContext(ctx, b.removeSQL, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *SQLBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *SQLBackend) Close() error {
	return b.db.Close()
}
