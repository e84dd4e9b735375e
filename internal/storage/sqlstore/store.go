package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"priceetl/internal/storage"
)

var errEmptyTableName = errors.New("sqlstore: table name is empty")

// queryer is the subset of *sql.DB and *sql.Tx the statements need.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a storage.Repository over one database handle.
type Store struct {
	db      *sql.DB
	d       Dialect
	now     func() time.Time
	onClose []func()
}

type Option func(*Store)

// OnClose registers fn to run after the handle is closed, for resources the
// handle was opened from (a pgx pool).
func OnClose(fn func()) Option {
	return func(s *Store) { s.onClose = append(s.onClose, fn) }
}

// WithClock overrides the clock used for created_at/updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New wraps an open handle. The Store owns db from here on.
func New(db *sql.DB, d Dialect, opts ...Option) *Store {
	s := &Store{db: db, d: d, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

var _ storage.Repository = (*Store)(nil)

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Dialect() Dialect { return s.d }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	for _, fn := range s.onClose {
		fn()
	}
	return err
}

// EnsureSchema creates every table of storage.Schema, then its indexes.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, t := range storage.Schema {
		ddl, err := CreateTableSQL(s.d, t)
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("%s: create table %s: %w", s.d.Name(), t.Name, err)
		}
	}
	for _, t := range storage.Schema {
		for _, idx := range t.Indexes {
			if _, err := s.db.ExecContext(ctx, s.d.CreateIndex(t.Name, idx)); err != nil {
				return fmt.Errorf("%s: create index %s: %w", s.d.Name(), idx.Name, err)
			}
		}
	}
	return nil
}

func (s *Store) exec(ctx context.Context, q queryer, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, Rebind(s.d, query), args...)
}

func (s *Store) query(ctx context.Context, q queryer, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, Rebind(s.d, query), args...)
}

func (s *Store) queryRow(ctx context.Context, q queryer, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, Rebind(s.d, query), args...)
}

func (s *Store) ts() any { return s.d.BindTime(s.now()) }

func (s *Store) optTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return s.d.BindTime(*t)
}

func (s *Store) tbl(name string) string { return s.d.Ident(name) }

// affected returns RowsAffected, treating drivers that cannot report it as 0.
func affected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
