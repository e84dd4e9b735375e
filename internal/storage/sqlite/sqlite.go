// Package sqlite registers the "sqlite" storage backend (modernc.org/sqlite,
// no cgo).
//
// SQLite has no native timestamp type, and modernc.org/sqlite parses columns
// declared DATE/DATETIME/TIMESTAMP on its own. Time columns are therefore
// declared TEXT and written as fixed-width UTC strings, which keeps range
// comparisons and ORDER BY correct as plain string comparisons.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"priceetl/internal/storage"
	"priceetl/internal/storage/sqlstore"
)

const (
	timeLayout = "2006-01-02 15:04:05"
	dateLayout = "2006-01-02"

	// SQLITE_MAX_VARIABLE_NUMBER of the bundled library.
	maxParams = 32766
)

func init() {
	storage.Register("sqlite", Open)
}

// Open opens (and creates if needed) the database at cfg.DSN.
func Open(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	dsn := withPragmas(cfg.DSN)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if strings.Contains(cfg.DSN, ":memory:") {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: open %s: %w", cfg.DSN, err)
	}
	return sqlstore.New(db, Dialect{}), nil
}

// withPragmas adds a busy timeout, WAL and immediate write transactions unless
// the DSN already sets pragmas itself.
func withPragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	p := "_pragma=busy_timeout(5000)&_txlock=immediate"
	if !strings.Contains(dsn, ":memory:") {
		p += "&_pragma=journal_mode(WAL)"
	}
	return dsn + sep + p
}

type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

func (Dialect) Name() string { return "sqlite" }

// Ident quotes an identifier, doubling embedded quotes.
func (Dialect) Ident(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func (Dialect) Placeholder(int) string { return "?" }

func (Dialect) ColumnType(t storage.ColumnType) string {
	switch t {
	case storage.TypeID, storage.TypeBigInt, storage.TypeInt, storage.TypeBool:
		return "INTEGER"
	case storage.TypeString:
		return "VARCHAR(255)"
	case storage.TypeSKU:
		return "VARCHAR(100)"
	case storage.TypeMoney:
		return "DECIMAL(10,2)"
	case storage.TypePercent:
		return "DECIMAL(5,2)"
	case storage.TypeChangePct:
		return "DECIMAL(8,4)"
	default:
		// TypeText, TypeTimestamp, TypeDate
		return "TEXT"
	}
}

// AutoID uses INTEGER PRIMARY KEY, which aliases the rowid.
func (d Dialect) AutoID(col string) string {
	return d.Ident(col) + " INTEGER PRIMARY KEY AUTOINCREMENT"
}

func (d Dialect) CreateTable(table, defs string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", d.Ident(table), defs)
}

func (d Dialect) CreateIndex(table string, idx storage.IndexSpec) string {
	kind := "INDEX"
	if idx.Unique {
		kind = "UNIQUE INDEX"
	}
	return fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s (%s);",
		kind, d.Ident(idx.Name), d.Ident(table), sqlstore.IdentList(d, "", idx.Columns))
}

func (d Dialect) InsertIgnore(table string, cols, _ []string, rows int) string {
	return "INSERT OR IGNORE INTO " + d.Ident(table) + " (" + sqlstore.IdentList(d, "", cols) + ") VALUES " +
		sqlstore.ValuesList(len(cols), rows)
}

func (d Dialect) Upsert(table string, cols, conflict, update []string, rows int) string {
	return "INSERT INTO " + d.Ident(table) + " (" + sqlstore.IdentList(d, "", cols) + ") VALUES " +
		sqlstore.ValuesList(len(cols), rows) + sqlstore.OnConflict(d, conflict, update)
}

func (d Dialect) LockedFrom(table, alias string) string { return d.Ident(table) + " " + alias }

func (Dialect) SelectTop(n int, cols, rest string) string {
	return fmt.Sprintf("SELECT %s %s LIMIT %d", cols, rest, n)
}

// Cast is a no-op: SQLite applies column affinity on insert.
func (Dialect) Cast(ph string, _ storage.ColumnType) string { return ph }

func (Dialect) MaxParams() int { return maxParams }

func (Dialect) BindTime(t time.Time) any { return t.UTC().Format(timeLayout) }

func (Dialect) BindDate(t time.Time) any { return t.UTC().Format(dateLayout) }
