// Package postgres registers the "postgres" storage backend: a pgx pool
// exposed to the shared SQL store through pgx's database/sql adapter.
package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"priceetl/internal/model"
	"priceetl/internal/storage"
	"priceetl/internal/storage/sqlstore"
)

// Postgres caps bind parameters per statement at 65535.
const maxParams = 65535

func init() {
	storage.Register("postgres", Open)
}

func Open(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	return sqlstore.New(db, Dialect{}, sqlstore.OnClose(pool.Close)), nil
}

type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

func (Dialect) Name() string { return "postgres" }

// Ident quotes each part of a possibly schema-qualified name.
func (Dialect) Ident(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(strings.TrimSpace(p), `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}

func (Dialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (Dialect) ColumnType(t storage.ColumnType) string {
	switch t {
	case storage.TypeID, storage.TypeBigInt:
		return "BIGINT"
	case storage.TypeInt:
		return "INTEGER"
	case storage.TypeString:
		return "VARCHAR(255)"
	case storage.TypeSKU:
		return "VARCHAR(100)"
	case storage.TypeText:
		return "TEXT"
	case storage.TypeMoney:
		return "NUMERIC(10,2)"
	case storage.TypePercent:
		return "NUMERIC(5,2)"
	case storage.TypeChangePct:
		return "NUMERIC(8,4)"
	case storage.TypeBool:
		return "BOOLEAN"
	case storage.TypeTimestamp:
		return "TIMESTAMPTZ"
	case storage.TypeDate:
		return "DATE"
	default:
		return "TEXT"
	}
}

func (d Dialect) AutoID(col string) string {
	return d.Ident(col) + " BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY"
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

func (d Dialect) InsertIgnore(table string, cols, conflict []string, rows int) string {
	return d.Upsert(table, cols, conflict, nil, rows)
}

func (d Dialect) Upsert(table string, cols, conflict, update []string, rows int) string {
	return "INSERT INTO " + d.Ident(table) + " (" + sqlstore.IdentList(d, "", cols) + ") VALUES " +
		sqlstore.ValuesList(len(cols), rows) + sqlstore.OnConflict(d, conflict, update)
}

func (d Dialect) LockedFrom(table, alias string) string { return d.Ident(table) + " " + alias }

func (Dialect) SelectTop(n int, cols, rest string) string {
	return fmt.Sprintf("SELECT %s %s LIMIT %d", cols, rest, n)
}

// Cast types a parameter Postgres cannot infer from an INSERT ... SELECT list.
func (d Dialect) Cast(ph string, t storage.ColumnType) string {
	return "CAST(" + ph + " AS " + d.ColumnType(t) + ")"
}

func (Dialect) MaxParams() int { return maxParams }

func (Dialect) BindTime(t time.Time) any { return t.UTC() }

func (Dialect) BindDate(t time.Time) any { return model.Day(t) }
